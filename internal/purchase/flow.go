// Package purchase models the client-side purchase and return flow as an
// explicit state machine: plan selection, method choice, the UPI phone
// capture, the redirect to a hosted payment page, and the post-redirect
// verification step.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/veronikaextra/backend/internal/gateway/cashfree"
	"github.com/veronikaextra/backend/internal/gateway/oxapay"
	"github.com/veronikaextra/backend/internal/models"
)

type State string

const (
	StatePlanSelection       State = "PLAN_SELECTION"
	StateMethodChoice        State = "METHOD_CHOICE"
	StatePhoneCapture        State = "PHONE_CAPTURE"
	StateRedirecting         State = "REDIRECTING"
	StateReturned            State = "RETURNED_AWAITING_VERIFICATION"
	StateVerified            State = "VERIFIED"
	StateVerificationPending State = "VERIFICATION_PENDING"
	StateVerificationFailed  State = "VERIFICATION_FAILED"
)

type Method string

const (
	MethodUPI    Method = "UPI"
	MethodCrypto Method = "CRYPTO"
)

var (
	ErrNoPlanSelected  = errors.New("no credit plan selected")
	ErrNoMethodChosen  = errors.New("no payment method chosen")
	ErrInvalidPhone    = errors.New("please enter a valid 10-digit phone number")
	ErrPhoneRequired   = errors.New("phone number required before UPI checkout")
	ErrNoRedirectGiven = errors.New("payment initialized but no link received")
)

// UPIGateway creates a card/UPI order. Satisfied by *cashfree.Client.
type UPIGateway interface {
	CreateOrder(ctx context.Context, in cashfree.CreateOrderInput) (*cashfree.Order, error)
}

// CryptoGateway creates a crypto invoice. Satisfied by *oxapay.Client.
type CryptoGateway interface {
	CreateInvoice(ctx context.Context, in oxapay.CreateInvoiceInput) (*oxapay.Invoice, error)
}

// Verifier reports the authoritative provider status of an order.
type Verifier interface {
	Verify(ctx context.Context, orderID string, provider models.ProviderTag) (models.VerificationResult, error)
}

// BalanceSource is the external backend that owns the credit ledger. The
// flow only ever overwrites its local balance with a value read from here.
type BalanceSource interface {
	Balance(ctx context.Context) (int, error)
}

// PlanSource serves the purchasable credit plans. A nil source or a lookup
// failure falls back to the built-in catalog.
type PlanSource interface {
	Plans(ctx context.Context) ([]models.CreditPlan, error)
}

// User is the minimal identity the flow needs from the session.
type User struct {
	ID      string
	Name    string
	Email   string
	Country string
	Credits int
}

type Flow struct {
	user      User
	returnURL string
	upi       UPIGateway
	crypto    CryptoGateway
	verifier  Verifier
	balances  BalanceSource
	plans     PlanSource
	log       *slog.Logger
	now       func() time.Time

	state    State
	plan     *models.CreditPlan
	price    float64
	currency string
	method   Method
	phone    string

	// Balance is the locally cached credit balance. It is only ever set to
	// a backend-reported value, never incremented locally.
	Balance int
}

func NewFlow(user User, returnURL string, upi UPIGateway, crypto CryptoGateway, verifier Verifier, balances BalanceSource, plans PlanSource, log *slog.Logger) *Flow {
	return &Flow{
		user:      user,
		returnURL: returnURL,
		upi:       upi,
		crypto:    crypto,
		verifier:  verifier,
		balances:  balances,
		plans:     plans,
		log:       log,
		now:       time.Now,
		state:     StatePlanSelection,
		Balance:   user.Credits,
	}
}

func (f *Flow) State() State { return f.state }

// AvailablePlans lists the purchasable plans. When the external source is
// missing or failing the built-in catalog keeps the purchase page usable.
func (f *Flow) AvailablePlans(ctx context.Context) []models.CreditPlan {
	if f.plans == nil {
		return models.DefaultCreditPlans
	}
	plans, err := f.plans.Plans(ctx)
	if err != nil || len(plans) == 0 {
		if f.log != nil && err != nil {
			f.log.Warn("plan source unavailable, using built-in catalog", "err", err)
		}
		return models.DefaultCreditPlans
	}
	return plans
}

// SelectPlan computes the plan's price in the user's currency and moves to
// method choice. Indian users pay in INR, everyone else in USD.
func (f *Flow) SelectPlan(plan models.CreditPlan) {
	p := plan
	f.plan = &p
	if f.user.Country == "India" {
		f.price = plan.INRPrice
		f.currency = "INR"
	} else {
		f.price = plan.USDPrice
		f.currency = "USD"
	}
	f.method = ""
	f.phone = ""
	f.state = StateMethodChoice
}

// Price reports the selected plan's price in the user's display currency.
func (f *Flow) Price() (float64, string) { return f.price, f.currency }

// ChooseMethod records the payment method. UPI needs a phone number first;
// crypto can check out immediately.
func (f *Flow) ChooseMethod(method Method) error {
	if f.plan == nil {
		return ErrNoPlanSelected
	}
	switch method {
	case MethodUPI:
		f.method = method
		f.state = StatePhoneCapture
	case MethodCrypto:
		f.method = method
		f.state = StateMethodChoice
	default:
		return fmt.Errorf("unsupported payment method: %s", method)
	}
	return nil
}

var phonePattern = regexp.MustCompile(`^[0-9]{10}$`)

// SubmitPhone validates and captures the UPI contact number. An invalid
// number is rejected without any network activity and the state is unchanged.
func (f *Flow) SubmitPhone(phone string) error {
	if !phonePattern.MatchString(phone) {
		return ErrInvalidPhone
	}
	f.phone = phone
	return nil
}

// Checkout builds the purchase intent and calls the gateway matching the
// chosen method. On success the returned order's redirect URL is a terminal
// action: the browser leaves the app for the provider's hosted page.
func (f *Flow) Checkout(ctx context.Context) (*models.GatewayOrder, error) {
	if f.plan == nil {
		return nil, ErrNoPlanSelected
	}
	if f.method == "" {
		return nil, ErrNoMethodChosen
	}

	orderID := fmt.Sprintf("%s-%d-%d", f.user.ID, f.plan.Credits, f.now().UnixMilli())

	switch f.method {
	case MethodUPI:
		if f.phone == "" {
			return nil, ErrPhoneRequired
		}
		// UPI settles in INR regardless of the display currency.
		intent := models.PurchaseIntent{
			UserID:       f.user.ID,
			CreditAmount: f.plan.Credits,
			PriceValue:   f.plan.INRPrice,
			Currency:     "INR",
			ContactPhone: f.phone,
			ReturnURL:    f.returnURL,
		}
		order, err := f.upi.CreateOrder(ctx, cashfree.CreateOrderInput{
			OrderID:       orderID,
			Amount:        intent.PriceValue,
			CustomerPhone: intent.ContactPhone,
			CustomerName:  f.user.Name,
			CustomerEmail: f.user.Email,
			ReturnURL:     intent.ReturnURL,
		})
		if err != nil {
			return nil, err
		}
		if order.PaymentLink == "" && order.PaymentSessionID == "" {
			return nil, ErrNoRedirectGiven
		}
		f.state = StateRedirecting
		return &models.GatewayOrder{
			OrderID:     orderID,
			AmountValue: intent.PriceValue,
			RedirectURL: order.PaymentLink,
			SessionID:   order.PaymentSessionID,
			Provider:    models.ProviderCardUPI,
		}, nil

	case MethodCrypto:
		// Crypto invoices are priced in USD regardless of the display currency.
		intent := models.PurchaseIntent{
			UserID:       f.user.ID,
			CreditAmount: f.plan.Credits,
			PriceValue:   f.plan.USDPrice,
			Currency:     "USD",
			ReturnURL:    f.returnURL,
		}
		invoice, err := f.crypto.CreateInvoice(ctx, oxapay.CreateInvoiceInput{
			Amount:    intent.PriceValue,
			OrderID:   orderID,
			Email:     f.user.Email,
			ReturnURL: intent.ReturnURL,
		})
		if err != nil {
			return nil, err
		}
		f.state = StateRedirecting
		return &models.GatewayOrder{
			OrderID:     orderID,
			AmountValue: intent.PriceValue,
			RedirectURL: invoice.PaymentURL,
			Provider:    models.ProviderCrypto,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported payment method: %s", f.method)
	}
}
