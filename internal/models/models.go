package models

// ProviderTag identifies which payment provider an order belongs to.
type ProviderTag string

const (
	ProviderCardUPI ProviderTag = "CASHFREE"
	ProviderCrypto  ProviderTag = "OXPAY"
)

// NormalizedStatus is the provider-agnostic outcome of a verification call.
type NormalizedStatus string

const (
	StatusPaid    NormalizedStatus = "PAID"
	StatusPending NormalizedStatus = "PENDING"
	StatusFailed  NormalizedStatus = "FAILED"
	StatusUnknown NormalizedStatus = "UNKNOWN"
)

// PurchaseIntent is built by the purchase flow when a plan is selected and
// consumed once by exactly one gateway call. It is never persisted.
type PurchaseIntent struct {
	UserID       string
	CreditAmount int
	PriceValue   float64
	Currency     string
	ContactPhone string
	ReturnURL    string
}

// GatewayOrder is the result of a successful order/invoice creation. Its
// OrderID is the sole correlation key for later verification; there is no
// local record of pending orders.
type GatewayOrder struct {
	OrderID     string
	AmountValue float64
	RedirectURL string
	SessionID   string
	Provider    ProviderTag
}

// VerificationResult is produced fresh on every verification call.
type VerificationResult struct {
	Success       bool
	Status        NormalizedStatus
	SettledAmount float64
}

// GenerationRequest asks for Count images of Prompt. Count is clamped by the
// generation service, not by the caller.
type GenerationRequest struct {
	Prompt string
	Count  int
}

// ImageResult is a single generated image. URL is either a remote HTTPS URL
// or a self-contained data URI.
type ImageResult struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Prompt string `json:"prompt"`
}

// CreditPlan is one purchasable credit package with a price per currency.
type CreditPlan struct {
	ID       int     `json:"id"`
	Credits  int     `json:"credits"`
	USDPrice float64 `json:"usdPrice"`
	INRPrice float64 `json:"inrPrice"`
}

// DefaultCreditPlans is the built-in catalog used when the external plan
// source is unreachable.
var DefaultCreditPlans = []CreditPlan{
	{ID: 1, Credits: 100, USDPrice: 5.00, INRPrice: 449.00},
	{ID: 2, Credits: 250, USDPrice: 10.00, INRPrice: 899.00},
	{ID: 3, Credits: 600, USDPrice: 20.00, INRPrice: 1799.00},
}
