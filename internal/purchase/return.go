package purchase

import (
	"context"
	"fmt"
	"net/url"

	"github.com/veronikaextra/backend/internal/models"
)

// ReturnOutcome is the result of processing a provider redirect back into
// the app.
type ReturnOutcome struct {
	Handled bool
	State   State
	Status  models.NormalizedStatus
	Message string
	// StripParams tells the caller to remove the provider's query
	// parameters from the URL so a refresh cannot re-trigger verification.
	StripParams bool
}

// providerRule matches one parameter-presence pattern to a provider. The
// rules are evaluated in order; earlier rules win when parameter shapes
// could co-occur.
type providerRule struct {
	name     string
	matches  func(q url.Values) bool
	provider models.ProviderTag
	orderID  func(q url.Values) string
}

// returnRules is the provider-disambiguation decision table. A crypto status
// parameter always wins over the shared order_id parameter, because the
// card/UPI redirect never carries one.
var returnRules = []providerRule{
	{
		name:     "crypto status parameter",
		matches:  func(q url.Values) bool { return cryptoStatusParam(q) != "" },
		provider: models.ProviderCrypto,
		orderID:  cryptoOrderID,
	},
	{
		name:     "card order id only",
		matches:  func(q url.Values) bool { return q.Get("order_id") != "" },
		provider: models.ProviderCardUPI,
		orderID:  func(q url.Values) string { return q.Get("order_id") },
	},
	{
		name:     "crypto track id",
		matches:  func(q url.Values) bool { return q.Get("trackId") != "" },
		provider: models.ProviderCrypto,
		orderID:  cryptoOrderID,
	},
}

func cryptoStatusParam(q url.Values) string {
	if v := q.Get("status"); v != "" {
		return v
	}
	return q.Get("pay_status")
}

func cryptoOrderID(q url.Values) string {
	if v := q.Get("order_id"); v != "" {
		return v
	}
	return q.Get("trackId")
}

// ResolveProvider applies the decision table to the redirect parameters.
func ResolveProvider(q url.Values) (models.ProviderTag, string, bool) {
	for _, rule := range returnRules {
		if rule.matches(q) {
			return rule.provider, rule.orderID(q), true
		}
	}
	return "", "", false
}

// HandleReturn disambiguates which provider redirected the user back, runs
// verification, and on success overwrites the local balance with the
// backend's authoritative value.
func (f *Flow) HandleReturn(ctx context.Context, q url.Values) (ReturnOutcome, error) {
	provider, orderID, ok := ResolveProvider(q)
	if !ok || orderID == "" {
		return ReturnOutcome{Handled: false, State: f.state}, nil
	}

	f.state = StateReturned

	// A waiting crypto payment is still settling on chain; short-circuit
	// without a verification call and keep the params so a later visit can
	// retry.
	if provider == models.ProviderCrypto && cryptoStatusParam(q) == "waiting" {
		f.state = StateVerificationPending
		return ReturnOutcome{
			Handled: true,
			State:   f.state,
			Status:  models.StatusPending,
			Message: "Payment is still processing in the blockchain. Please check your history in a few minutes.",
		}, nil
	}

	result, err := f.verifier.Verify(ctx, orderID, provider)
	if err != nil {
		f.state = StateVerificationFailed
		return ReturnOutcome{Handled: true, State: f.state, Status: models.StatusUnknown}, fmt.Errorf("verify payment: %w", err)
	}

	switch result.Status {
	case models.StatusPaid:
		balance, err := f.balances.Balance(ctx)
		if err != nil {
			f.state = StateVerificationFailed
			return ReturnOutcome{Handled: true, State: f.state, Status: result.Status}, fmt.Errorf("fetch balance: %w", err)
		}
		credited := balance - f.Balance
		f.Balance = balance
		f.state = StateVerified
		return ReturnOutcome{
			Handled:     true,
			State:       f.state,
			Status:      result.Status,
			Message:     fmt.Sprintf("Success! %d credits added to your balance.", credited),
			StripParams: true,
		}, nil

	case models.StatusPending:
		f.state = StateVerificationPending
		return ReturnOutcome{
			Handled: true,
			State:   f.state,
			Status:  result.Status,
			Message: "Payment not detected yet. Please check again in a few minutes.",
		}, nil

	default:
		f.state = StateVerificationFailed
		return ReturnOutcome{
			Handled: true,
			State:   f.state,
			Status:  result.Status,
			Message: "Payment verification failed.",
		}, nil
	}
}
