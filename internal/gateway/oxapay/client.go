// Package oxapay is the crypto gateway adapter. Invoice creation success is
// decided by an ordered rule table because the provider's success signal has
// changed shape across integrations.
package oxapay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/veronikaextra/backend/internal/config"
)

// ErrMissingField is returned before any network call when amount or orderId
// is absent.
var ErrMissingField = errors.New("missing required fields for oxapay invoice")

// RejectionError marks a well-formed call the provider refused, as opposed
// to a transport failure.
type RejectionError struct {
	Message string
}

func (e *RejectionError) Error() string { return e.Message }

// Fixed invoice policy. These are deliberate product constants, not config.
const (
	invoiceLifetimeMinutes = 30
	feePaidByPayer         = 1
	underPaidCoverage      = 2.5
	settlementCurrency     = "USDT"
)

type Client struct {
	merchantKey string
	baseURL     string
	mock        bool
	httpClient  *http.Client
	log         *slog.Logger
}

// CreateInvoiceInput is the adapter's request shape. Amount and OrderID are
// required; the rest is optional.
type CreateInvoiceInput struct {
	Amount      float64
	OrderID     string
	Email       string
	Description string
	ReturnURL   string
}

// Invoice is a successfully created crypto invoice.
type Invoice struct {
	OrderID    string
	PaymentURL string
	TrackID    string
}

// PaymentStatus is the raw provider status of an existing invoice.
type PaymentStatus struct {
	TrackID string
	Status  string
	Amount  float64
}

func NewClient(cfg config.Config, httpClient *http.Client, log *slog.Logger) *Client {
	return &Client{
		merchantKey: cfg.OxapayMerchantKey,
		baseURL:     strings.TrimRight(cfg.OxapayBaseURL, "/"),
		mock:        cfg.OxapayMockMode(),
		httpClient:  httpClient,
		log:         log,
	}
}

// invoiceResponse covers every response shape observed from the provider:
// a numeric result code, a free-text message, and a payLink that may sit at
// the top level or under data.
type invoiceResponse struct {
	Result  int    `json:"result"`
	Message string `json:"message"`
	PayLink string `json:"payLink"`
	TrackID string `json:"trackId"`
	Data    struct {
		PayLink string `json:"payLink"`
		TrackID string `json:"trackId"`
	} `json:"data"`
}

func (r invoiceResponse) payLink() string {
	if r.PayLink != "" {
		return r.PayLink
	}
	return r.Data.PayLink
}

func (r invoiceResponse) trackID() string {
	if r.TrackID != "" {
		return r.TrackID
	}
	return r.Data.TrackID
}

// successRules is the prioritized success test, evaluated top-down. A later
// provider-contract change should only touch this table.
var successRules = []struct {
	name  string
	match func(r invoiceResponse) bool
}{
	{"numeric result code", func(r invoiceResponse) bool {
		return r.Result == 100
	}},
	{"success keyword in message", func(r invoiceResponse) bool {
		msg := strings.ToLower(r.Message)
		return strings.Contains(msg, "success") || strings.Contains(msg, "completed")
	}},
	// Presence of a payable link is treated as authoritative over ambiguous
	// status text.
	{"payment link present", func(r invoiceResponse) bool {
		return r.payLink() != ""
	}},
}

// CreateInvoice validates the input and creates an Oxapay invoice. Without a
// merchant key it returns a synthetic success instead of failing.
func (c *Client) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*Invoice, error) {
	if in.Amount <= 0 || in.OrderID == "" {
		return nil, ErrMissingField
	}

	if c.mock {
		if c.log != nil {
			c.log.Warn("oxapay merchant key missing, using mock mode", "order_id", in.OrderID)
		}
		return &Invoice{
			OrderID:    in.OrderID,
			PaymentURL: "https://oxapay.com/mock-invoice",
			TrackID:    "mock-track-id",
		}, nil
	}

	description := in.Description
	if description == "" {
		description = fmt.Sprintf("Order #%s", in.OrderID)
	}
	returnURL := in.ReturnURL
	if returnURL == "" {
		returnURL = "https://example.com/success"
	}

	payload := map[string]any{
		"amount":              in.Amount,
		"currency":            "USD",
		"lifetime":            invoiceLifetimeMinutes,
		"fee_paid_by_payer":   feePaidByPayer,
		"under_paid_coverage": underPaidCoverage,
		"to_currency":         settlementCurrency,
		"auto_withdrawal":     false,
		"mixed_payment":       true,
		"return_url":          returnURL,
		"order_id":            in.OrderID,
		"thanks_message":      "Thank you for your purchase!",
		"description":         description,
		"email":               in.Email,
		"sandbox":             false,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal invoice payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payment/invoice", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("merchant_api_key", c.merchantKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post oxapay invoice: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var parsed invoiceResponse
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode invoice response: %w (body=%s)", err, truncateBody(rawBody))
	}

	// A missing link is always a failure, whatever the status text claims:
	// there is nothing to redirect the payer to.
	link := parsed.payLink()
	if link == "" {
		message := parsed.Message
		if message == "" {
			message = "failed to create crypto invoice"
		}
		if c.log != nil {
			c.log.Error("oxapay invoice rejected", "order_id", in.OrderID, "result", parsed.Result, "message", message)
		}
		return nil, &RejectionError{Message: message}
	}

	for _, rule := range successRules {
		if rule.match(parsed) {
			if c.log != nil {
				c.log.Info("oxapay invoice created", "order_id", in.OrderID, "rule", rule.name, "track_id", parsed.trackID())
			}
			return &Invoice{
				OrderID:    in.OrderID,
				PaymentURL: link,
				TrackID:    parsed.trackID(),
			}, nil
		}
	}

	// Unreachable while the link-presence rule exists, kept so removing a
	// rule cannot silently turn failures into successes.
	return nil, &RejectionError{Message: "oxapay response matched no success rule"}
}

// FetchPayment queries the invoice status for verification. Mock mode
// reports a paid invoice.
func (c *Client) FetchPayment(ctx context.Context, trackID string) (*PaymentStatus, error) {
	if trackID == "" {
		return nil, ErrMissingField
	}

	if c.mock {
		if c.log != nil {
			c.log.Warn("oxapay merchant key missing, mocking verification", "track_id", trackID)
		}
		return &PaymentStatus{TrackID: trackID, Status: "paid", Amount: 100}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payment/"+url.PathEscape(trackID), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("merchant_api_key", c.merchantKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get oxapay payment: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("oxapay payment lookup failed", "track_id", trackID, "status", resp.StatusCode, "body", truncateBody(rawBody))
		}
		return nil, &RejectionError{Message: "failed to verify payment with oxapay"}
	}

	var parsed struct {
		Status string  `json:"status"`
		Amount float64 `json:"amount"`
		Data   struct {
			Status string  `json:"status"`
			Amount float64 `json:"amount"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode payment status: %w (body=%s)", err, truncateBody(rawBody))
	}

	status := parsed.Status
	amount := parsed.Amount
	if status == "" {
		status = parsed.Data.Status
		amount = parsed.Data.Amount
	}

	return &PaymentStatus{TrackID: trackID, Status: status, Amount: amount}, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
