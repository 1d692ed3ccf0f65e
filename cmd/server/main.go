package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/veronikaextra/backend/internal/config"
	"github.com/veronikaextra/backend/internal/gateway/cashfree"
	"github.com/veronikaextra/backend/internal/gateway/oxapay"
	"github.com/veronikaextra/backend/internal/generation"
	"github.com/veronikaextra/backend/internal/server"
	"github.com/veronikaextra/backend/internal/storage"
	"github.com/veronikaextra/backend/internal/telemetry"
	"github.com/veronikaextra/backend/internal/verification"
	"github.com/veronikaextra/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, "veronikaextra-backend", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logr.Error("tracer shutdown error", "err", err)
		}
	}()

	httpClient := telemetry.NewHTTPClient(cfg.RequestTimeout)

	upiGateway := cashfree.NewClient(cfg, httpClient, logr)
	cryptoGateway := oxapay.NewClient(cfg, httpClient, logr)
	verifier := verification.NewService(upiGateway, cryptoGateway, logr)

	var uploader generation.Uploader
	if cfg.S3Configured() {
		up, err := storage.NewUploader(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
		})
		if err != nil {
			log.Fatalf("storage uploader: %v", err)
		}
		uploader = up
	}

	genClient := generation.NewClient(cfg, httpClient, logr)
	generator := generation.NewService(genClient, uploader, cfg.MaxImages, logr)

	if cfg.CashfreeMockMode() {
		logr.Warn("cashfree running in mock mode, no live credentials")
	}
	if cfg.OxapayMockMode() {
		logr.Warn("oxapay running in mock mode, no merchant key")
	}
	if cfg.GenAPIKey == "" {
		logr.Warn("generation api key missing, /generate will fail")
	}

	srv := server.NewServer(cfg.ListenAddr, logr, upiGateway, cryptoGateway, verifier, generator)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("server stopped", "err", err)
	}
}
