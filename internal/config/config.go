package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API server and adapters.
// It is assembled once at startup and passed by value into constructors;
// adapters never read from the process environment themselves.
type Config struct {
	ListenAddr     string
	Debug          bool
	RequestTimeout time.Duration

	// Cashfree (card/UPI gateway). Both AppID and SecretKey must be set for
	// live mode; otherwise the adapter runs in mock mode.
	CashfreeAppID      string
	CashfreeSecretKey  string
	CashfreeAPIVersion string
	CashfreeBaseURL    string

	// Oxapay (crypto gateway). Missing merchant key means mock mode.
	OxapayMerchantKey string
	OxapayBaseURL     string

	// Image generation provider. No mock path: a missing key is a hard
	// failure on every /generate request.
	GenAPIKey  string
	GenBaseURL string
	GenModelID string
	MaxImages  int

	// Optional S3 offload for binary generation outputs. All fields must be
	// set for the uploader to be constructed; otherwise binary outputs are
	// inlined as data URIs.
	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string

	OTLPEndpoint string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultGenBaseURL = "https://api.bytez.com"

	cfg := Config{
		ListenAddr:         getEnv("LISTEN_ADDR", ":8080"),
		Debug:              getBool("DEBUG", false),
		RequestTimeout:     time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 60)),
		CashfreeAppID:      os.Getenv("CASHFREE_APP_ID"),
		CashfreeSecretKey:  os.Getenv("CASHFREE_SECRET_KEY"),
		CashfreeAPIVersion: getEnv("CASHFREE_API_VERSION", "2023-08-01"),
		CashfreeBaseURL:    getEnv("CASHFREE_BASE_URL", "https://api.cashfree.com"),
		OxapayMerchantKey:  os.Getenv("OXAPAY_MERCHANT_KEY"),
		OxapayBaseURL:      getEnv("OXAPAY_BASE_URL", "https://api.oxapay.com"),
		GenAPIKey:          os.Getenv("GEN_API_KEY"),
		GenBaseURL:         normalizeBaseURL(getEnv("GEN_BASE_URL", defaultGenBaseURL), defaultGenBaseURL),
		GenModelID:         getEnv("GEN_MODEL_ID", "provider-4/imagen-3.5"),
		MaxImages:          getInt("GEN_MAX_IMAGES", 6),
		S3Endpoint:         getEnv("S3_ENDPOINT", ""),
		S3Region:           os.Getenv("S3_REGION"),
		S3AccessKey:        os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:        os.Getenv("S3_SECRET_KEY"),
		S3Bucket:           os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:    os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:     getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:           getEnv("S3_PREFIX", "generated"),
		OTLPEndpoint:       getEnv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", ""),
	}

	if cfg.MaxImages < 1 {
		cfg.MaxImages = 1
	}

	return cfg, nil
}

// CashfreeMockMode reports whether the card/UPI adapter should run without
// live credentials.
func (c Config) CashfreeMockMode() bool {
	return c.CashfreeAppID == "" || c.CashfreeSecretKey == ""
}

// OxapayMockMode reports whether the crypto adapter should run without a
// live merchant key.
func (c Config) OxapayMockMode() bool {
	return c.OxapayMerchantKey == ""
}

// S3Configured reports whether every field needed for the uploader is set.
func (c Config) S3Configured() bool {
	return c.S3Region != "" && c.S3AccessKey != "" && c.S3SecretKey != "" &&
		c.S3Bucket != "" && c.S3PublicBaseURL != ""
}

// normalizeBaseURL ensures the configured provider host parses as an absolute
// URL; bare hosts get an https scheme, garbage falls back to the default.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}
	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// No env file is fine; everything can come from the real environment.
	return nil
}
