// Package server exposes the public HTTP API: the two payment-gateway
// proxies, payment verification, and image generation.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/veronikaextra/backend/internal/gateway/cashfree"
	"github.com/veronikaextra/backend/internal/gateway/oxapay"
	"github.com/veronikaextra/backend/internal/models"
)

// UPIGateway creates card/UPI orders. Satisfied by *cashfree.Client.
type UPIGateway interface {
	CreateOrder(ctx context.Context, in cashfree.CreateOrderInput) (*cashfree.Order, error)
}

// CryptoGateway creates crypto invoices. Satisfied by *oxapay.Client.
type CryptoGateway interface {
	CreateInvoice(ctx context.Context, in oxapay.CreateInvoiceInput) (*oxapay.Invoice, error)
}

// Verifier reports the normalized status of an order.
type Verifier interface {
	Verify(ctx context.Context, orderID string, provider models.ProviderTag) (models.VerificationResult, error)
}

// Generator produces images for a prompt.
type Generator interface {
	Generate(ctx context.Context, req models.GenerationRequest) ([]models.ImageResult, error)
}

type Server struct {
	addr      string
	log       *slog.Logger
	upi       UPIGateway
	crypto    CryptoGateway
	verifier  Verifier
	generator Generator
	router    *chi.Mux
}

func NewServer(addr string, log *slog.Logger, upi UPIGateway, crypto CryptoGateway, verifier Verifier, generator Generator) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	s := &Server{
		addr:      addr,
		log:       log,
		upi:       upi,
		crypto:    crypto,
		verifier:  verifier,
		generator: generator,
		router:    r,
	}

	r.Use(corsMiddleware)
	r.Use(s.jsonRecoverer)

	r.Post("/payment/upi", s.handleUPIPayment)
	r.Post("/payment/crypto", s.handleCryptoPayment)
	r.Post("/payment/verify", s.handleVerifyPayment)
	r.Post("/generate", s.handleGenerate)

	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("server shutdown error", "err", err)
		}
	}()

	s.log.Info("api server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

// corsMiddleware answers browser preflight and reflects the caller's origin,
// which the SPA frontend depends on for the generate endpoint.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET,OPTIONS,PATCH,DELETE,POST,PUT")
		h.Set("Access-Control-Allow-Headers", "X-CSRF-Token, X-Requested-With, Accept, Accept-Version, Content-Length, Content-MD5, Content-Type, Date, X-Api-Version")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// jsonRecoverer guarantees that even a panicking handler answers with a JSON
// error body instead of an empty 500.
func (s *Server) jsonRecoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("handler panic", "path", r.URL.Path, "panic", rec)
				s.writeJSON(w, http.StatusInternalServerError, map[string]any{
					"message": "Internal Server Error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) badRequest(w http.ResponseWriter, message string) {
	s.writeJSON(w, http.StatusBadRequest, map[string]any{
		"success": false,
		"message": message,
	})
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("handler error", "err", err)
	s.writeJSON(w, http.StatusInternalServerError, map[string]any{
		"message": "Internal Server Error",
	})
}
