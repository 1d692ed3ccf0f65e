package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/veronikaextra/backend/internal/gateway/cashfree"
	"github.com/veronikaextra/backend/internal/gateway/oxapay"
	"github.com/veronikaextra/backend/internal/generation"
	"github.com/veronikaextra/backend/internal/models"
)

type upiPaymentRequest struct {
	OrderID       string  `json:"orderId"`
	Amount        float64 `json:"amount"`
	CustomerPhone string  `json:"customerPhone"`
	CustomerName  string  `json:"customerName"`
	CustomerEmail string  `json:"customerEmail"`
	ReturnURL     string  `json:"returnUrl"`
}

func (s *Server) handleUPIPayment(w http.ResponseWriter, r *http.Request) {
	var req upiPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json body")
		return
	}

	order, err := s.upi.CreateOrder(r.Context(), cashfree.CreateOrderInput{
		OrderID:       req.OrderID,
		Amount:        req.Amount,
		CustomerPhone: req.CustomerPhone,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		ReturnURL:     req.ReturnURL,
	})
	if err != nil {
		var rejection *cashfree.RejectionError
		switch {
		case errors.Is(err, cashfree.ErrMissingField):
			s.badRequest(w, "Missing required fields for Cashfree payment.")
		case errors.As(err, &rejection):
			s.writeJSON(w, http.StatusBadRequest, map[string]any{
				"success": false,
				"message": rejection.Message,
				"payload": rejection.Payload,
			})
		default:
			s.internalError(w, err)
		}
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"paymentLink":      order.PaymentLink,
		"paymentSessionId": order.PaymentSessionID,
	})
}

type cryptoPaymentRequest struct {
	Amount      float64 `json:"amount"`
	OrderID     string  `json:"orderId"`
	Email       string  `json:"email"`
	Description string  `json:"description"`
	ReturnURL   string  `json:"returnUrl"`
}

func (s *Server) handleCryptoPayment(w http.ResponseWriter, r *http.Request) {
	var req cryptoPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json body")
		return
	}

	invoice, err := s.crypto.CreateInvoice(r.Context(), oxapay.CreateInvoiceInput{
		Amount:      req.Amount,
		OrderID:     req.OrderID,
		Email:       req.Email,
		Description: req.Description,
		ReturnURL:   req.ReturnURL,
	})
	if err != nil {
		var rejection *oxapay.RejectionError
		switch {
		case errors.Is(err, oxapay.ErrMissingField):
			s.badRequest(w, "Missing required fields for Oxapay.")
		case errors.As(err, &rejection):
			s.badRequest(w, rejection.Message)
		default:
			s.internalError(w, err)
		}
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"paymentUrl": invoice.PaymentURL,
	})
}

type verifyPaymentRequest struct {
	OrderID  string `json:"orderId"`
	TrackID  string `json:"trackId"`
	Provider string `json:"provider"`
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json body")
		return
	}

	// The card/UPI path sends only an order id; crypto returns may carry a
	// trackId instead.
	provider := models.ProviderTag(strings.ToUpper(req.Provider))
	orderID := req.OrderID
	if provider == "" {
		if req.TrackID != "" && orderID == "" {
			provider = models.ProviderCrypto
		} else {
			provider = models.ProviderCardUPI
		}
	}
	if orderID == "" {
		orderID = req.TrackID
	}
	if orderID == "" {
		s.badRequest(w, "Order ID required")
		return
	}

	result, err := s.verifier.Verify(r.Context(), orderID, provider)
	if err != nil {
		var cardRejection *cashfree.RejectionError
		var cryptoRejection *oxapay.RejectionError
		switch {
		case errors.As(err, &cardRejection):
			s.badRequest(w, cardRejection.Message)
		case errors.As(err, &cryptoRejection):
			s.badRequest(w, cryptoRejection.Message)
		default:
			s.internalError(w, err)
		}
		return
	}

	resp := map[string]any{
		"success": result.Success,
		"status":  result.Status,
	}
	if result.Success {
		resp["amount"] = result.SettledAmount
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type generateRequest struct {
	Prompt         string `json:"prompt"`
	NumberOfImages int    `json:"numberOfImages"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json body")
		return
	}
	if req.Prompt == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Prompt is required"})
		return
	}
	if req.NumberOfImages == 0 {
		req.NumberOfImages = 1
	}

	images, err := s.generator.Generate(r.Context(), models.GenerationRequest{
		Prompt: req.Prompt,
		Count:  req.NumberOfImages,
	})
	if err != nil {
		switch {
		case errors.Is(err, generation.ErrMissingPrompt):
			s.writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Prompt is required"})
		case errors.Is(err, generation.ErrUnauthorized):
			s.writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthorized: check generation API key and model access"})
		case errors.Is(err, generation.ErrRateLimited):
			s.writeJSON(w, http.StatusTooManyRequests, map[string]any{"message": "Rate limited by generation provider"})
		default:
			s.log.Error("generation failed", "err", err)
			s.writeJSON(w, http.StatusInternalServerError, map[string]any{"message": err.Error()})
		}
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"images": images})
}
