// Package verification maps a provider's live order status onto the
// normalized outcome the rest of the system consumes. It is side-effect free:
// crediting the user's balance belongs to the backend that owns the ledger.
package verification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/veronikaextra/backend/internal/gateway/cashfree"
	"github.com/veronikaextra/backend/internal/gateway/oxapay"
	"github.com/veronikaextra/backend/internal/models"
)

// CardGateway is the card/UPI order lookup. Satisfied by *cashfree.Client.
type CardGateway interface {
	FetchOrder(ctx context.Context, orderID string) (*cashfree.OrderStatus, error)
}

// CryptoGateway is the crypto invoice lookup. Satisfied by *oxapay.Client.
type CryptoGateway interface {
	FetchPayment(ctx context.Context, trackID string) (*oxapay.PaymentStatus, error)
}

type Service struct {
	card   CardGateway
	crypto CryptoGateway
	log    *slog.Logger
}

func NewService(card CardGateway, crypto CryptoGateway, log *slog.Logger) *Service {
	return &Service{card: card, crypto: crypto, log: log}
}

// cardStatuses and cryptoStatuses map each provider's vocabulary onto the
// three-state outcome. Unlisted statuses are Unknown.
var cardStatuses = map[string]models.NormalizedStatus{
	"PAID":       models.StatusPaid,
	"ACTIVE":     models.StatusPending,
	"EXPIRED":    models.StatusFailed,
	"TERMINATED": models.StatusFailed,
}

var cryptoStatuses = map[string]models.NormalizedStatus{
	"paid":       models.StatusPaid,
	"confirmed":  models.StatusPaid,
	"waiting":    models.StatusPending,
	"confirming": models.StatusPending,
	"pending":    models.StatusPending,
	"expired":    models.StatusFailed,
	"failed":     models.StatusFailed,
}

// Verify queries the authoritative provider for the order's final status.
// Pending is a soft outcome: no credit, no error, try again later.
func (s *Service) Verify(ctx context.Context, orderID string, provider models.ProviderTag) (models.VerificationResult, error) {
	switch provider {
	case models.ProviderCardUPI:
		order, err := s.card.FetchOrder(ctx, orderID)
		if err != nil {
			return models.VerificationResult{}, fmt.Errorf("fetch cashfree order: %w", err)
		}
		return s.normalize(order.Status, order.Amount, cardStatuses, provider), nil

	case models.ProviderCrypto:
		payment, err := s.crypto.FetchPayment(ctx, orderID)
		if err != nil {
			return models.VerificationResult{}, fmt.Errorf("fetch oxapay payment: %w", err)
		}
		return s.normalize(strings.ToLower(payment.Status), payment.Amount, cryptoStatuses, provider), nil

	default:
		return models.VerificationResult{}, fmt.Errorf("unsupported payment provider: %s", provider)
	}
}

func (s *Service) normalize(raw string, amount float64, table map[string]models.NormalizedStatus, provider models.ProviderTag) models.VerificationResult {
	status, ok := table[raw]
	if !ok {
		status = models.StatusUnknown
	}
	if s.log != nil {
		s.log.Info("payment verified", "provider", provider, "raw_status", raw, "status", status)
	}
	result := models.VerificationResult{
		Success: status == models.StatusPaid,
		Status:  status,
	}
	if result.Success {
		result.SettledAmount = amount
	}
	return result
}
