package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/veronikaextra/backend/internal/config"
)

// Client talks to the external model-run API. A single call produces one
// image whose payload is either a remote URL or raw bytes; providers are
// inconsistent about which, so Output carries both cases.
type Client struct {
	apiKey     string
	baseURL    string
	modelIDs   []string
	httpClient *http.Client
	log        *slog.Logger
}

// Output is one generation result before normalization.
type Output struct {
	URL   string
	Bytes []byte
}

// fallbackModelIDs are tried after the configured model when the provider
// reports it unavailable.
var fallbackModelIDs = []string{"provider-4/imagen-3.5", "a4f/imagen-3.5"}

func NewClient(cfg config.Config, httpClient *http.Client, log *slog.Logger) *Client {
	return &Client{
		apiKey:     cfg.GenAPIKey,
		baseURL:    strings.TrimRight(cfg.GenBaseURL, "/"),
		modelIDs:   modelCandidates(cfg.GenModelID),
		httpClient: httpClient,
		log:        log,
	}
}

func modelCandidates(preferred string) []string {
	seen := map[string]bool{}
	var ids []string
	for _, id := range append([]string{preferred}, fallbackModelIDs...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// Run issues one model invocation. Seed varies per call so parallel requests
// for the same prompt do not collapse into identical images. Model candidates
// are tried in order; a missing model falls through to the next candidate,
// any other failure is final.
func (c *Client) Run(ctx context.Context, prompt string, seed int64) (*Output, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("generation api key is not configured")
	}

	var lastErr error
	for _, modelID := range c.modelIDs {
		out, err := c.runModel(ctx, modelID, prompt, seed)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, errModelUnavailable) {
			return nil, err
		}
		if c.log != nil {
			c.log.Warn("model unavailable, trying next candidate", "model", modelID, "err", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no usable generation model: %w", lastErr)
}

// errModelUnavailable marks a 404 from the provider's model endpoint so Run
// can move on to the next candidate.
var errModelUnavailable = errors.New("model unavailable")

func (c *Client) runModel(ctx context.Context, modelID, prompt string, seed int64) (*Output, error) {
	payload := map[string]any{
		"input": prompt,
		"params": map[string]any{
			"seed": seed,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal run payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/v2/%s", c.baseURL, modelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post model run: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrUnauthorized, resp.StatusCode, truncateBody(rawBody))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: body=%s", ErrRateLimited, truncateBody(rawBody))
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", errModelUnavailable, modelID)
	case resp.StatusCode >= 300:
		if c.log != nil {
			c.log.Error("model run failed", "status", resp.StatusCode, "model", modelID, "body", truncateBody(rawBody))
		}
		return nil, fmt.Errorf("model run error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var parsed struct {
		Error  string          `json:"error"`
		Output json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode run response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if parsed.Error != "" {
		if containsAuthHint(parsed.Error) {
			return nil, fmt.Errorf("%w: %s", ErrUnauthorized, parsed.Error)
		}
		return nil, fmt.Errorf("model error: %s", parsed.Error)
	}
	if len(parsed.Output) == 0 || string(parsed.Output) == "null" {
		return nil, fmt.Errorf("model returned empty response")
	}

	return decodeOutput(parsed.Output)
}

// decodeOutput maps the provider's output field onto the two payload cases:
// an http(s) URL string passes through, anything else is taken as base64
// image bytes.
func decodeOutput(raw json.RawMessage) (*Output, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if strings.HasPrefix(asString, "http://") || strings.HasPrefix(asString, "https://") {
			return &Output{URL: asString}, nil
		}
		data, err := base64.StdEncoding.DecodeString(asString)
		if err != nil {
			return nil, fmt.Errorf("decode image payload: %w", err)
		}
		return &Output{Bytes: data}, nil
	}

	// Some providers wrap the payload in an object.
	var asObject struct {
		URL    string `json:"url"`
		Base64 string `json:"b64_json"`
	}
	if err := json.Unmarshal(raw, &asObject); err == nil {
		if asObject.URL != "" {
			return &Output{URL: asObject.URL}, nil
		}
		if asObject.Base64 != "" {
			data, err := base64.StdEncoding.DecodeString(asObject.Base64)
			if err != nil {
				return nil, fmt.Errorf("decode image payload: %w", err)
			}
			return &Output{Bytes: data}, nil
		}
	}

	return nil, fmt.Errorf("unrecognized model output shape")
}

func containsAuthHint(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "unauthorized")
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
