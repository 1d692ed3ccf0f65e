// Package cashfree is the card/UPI gateway adapter. It translates an internal
// purchase intent into a Cashfree order-creation call and exposes the order
// status lookup used by payment verification.
package cashfree

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
	"regexp"
	"strings"

	"github.com/veronikaextra/backend/internal/config"
)

// ErrMissingField is returned before any network call when a required
// request field is absent.
var ErrMissingField = errors.New("missing required fields for cashfree payment")

// RejectionError carries the provider's message and the outbound payload for
// diagnosis when Cashfree refuses an order.
type RejectionError struct {
	Message string
	Payload map[string]any
}

func (e *RejectionError) Error() string { return e.Message }

type Client struct {
	appID      string
	secretKey  string
	apiVersion string
	baseURL    string
	mock       bool
	httpClient *http.Client
	log        *slog.Logger
}

// CreateOrderInput is the adapter's request shape. OrderID, Amount,
// CustomerPhone and CustomerName are required.
type CreateOrderInput struct {
	OrderID       string
	Amount        float64
	CustomerPhone string
	CustomerName  string
	CustomerEmail string
	ReturnURL     string
}

// Order is a successfully created Cashfree order. At least one of PaymentLink
// and PaymentSessionID is set.
type Order struct {
	OrderID          string
	PaymentLink      string
	PaymentSessionID string
}

// OrderStatus is the raw provider status of an existing order.
type OrderStatus struct {
	OrderID string
	Status  string
	Amount  float64
}

func NewClient(cfg config.Config, httpClient *http.Client, log *slog.Logger) *Client {
	return &Client{
		appID:      cfg.CashfreeAppID,
		secretKey:  cfg.CashfreeSecretKey,
		apiVersion: cfg.CashfreeAPIVersion,
		baseURL:    strings.TrimRight(cfg.CashfreeBaseURL, "/"),
		mock:       cfg.CashfreeMockMode(),
		httpClient: httpClient,
		log:        log,
	}
}

var nameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9 ]`)

// CreateOrder validates the input, then creates a Cashfree order. In mock
// mode it returns a synthetic success without contacting the provider.
func (c *Client) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	if in.OrderID == "" || in.Amount <= 0 || in.CustomerPhone == "" || in.CustomerName == "" {
		return nil, ErrMissingField
	}

	if c.mock {
		if c.log != nil {
			c.log.Warn("cashfree credentials missing, using mock mode", "order_id", in.OrderID)
		}
		return &Order{
			OrderID:          in.OrderID,
			PaymentLink:      "https://cashfree.com/",
			PaymentSessionID: "mock-session-id",
		}, nil
	}

	// customer_id is the orderId prefix before the first dash, which the
	// purchase flow fills with the user id.
	customerID := in.OrderID
	if idx := strings.Index(in.OrderID, "-"); idx > 0 {
		customerID = in.OrderID[:idx]
	}

	payload := map[string]any{
		"order_id":       in.OrderID,
		"order_amount":   in.Amount,
		"order_currency": "INR",
		"customer_details": map[string]any{
			"customer_id":    customerID,
			"customer_name":  nameSanitizer.ReplaceAllString(in.CustomerName, ""),
			"customer_email": in.CustomerEmail,
			"customer_phone": in.CustomerPhone,
		},
		"order_meta": map[string]any{
			"return_url": in.ReturnURL,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/pg/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	c.setAuthHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post cashfree order: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var parsed struct {
		Message          string `json:"message"`
		PaymentLink      string `json:"payment_link"`
		PaymentSessionID string `json:"payment_session_id"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		// Non-JSON responses are a distinct failure mode; surface the raw
		// text truncated instead of crashing on it.
		if c.log != nil {
			c.log.Error("non-JSON response from cashfree", "order_id", in.OrderID, "body", truncateBody(rawBody))
		}
		return nil, &RejectionError{
			Message: fmt.Sprintf("cashfree returned invalid JSON: %s", truncateBody(rawBody)),
			Payload: payload,
		}
	}

	if resp.StatusCode < 300 && (parsed.PaymentLink != "" || parsed.PaymentSessionID != "") {
		return &Order{
			OrderID:          in.OrderID,
			PaymentLink:      parsed.PaymentLink,
			PaymentSessionID: parsed.PaymentSessionID,
		}, nil
	}

	message := parsed.Message
	if message == "" {
		message = string(rawBody)
	}
	if message == "" {
		message = "failed to initiate cashfree payment"
	}
	if c.log != nil {
		c.log.Error("cashfree order rejected", "order_id", in.OrderID, "status", resp.StatusCode, "message", message)
	}
	return nil, &RejectionError{Message: message, Payload: payload}
}

// FetchOrder queries the authoritative order status for verification. Mock
// mode reports a fixed PAID order so the flow stays exercisable.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (*OrderStatus, error) {
	if orderID == "" {
		return nil, ErrMissingField
	}

	if c.mock {
		if c.log != nil {
			c.log.Warn("cashfree credentials missing, mocking verification", "order_id", orderID)
		}
		return &OrderStatus{OrderID: orderID, Status: "PAID", Amount: 100}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/pg/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get cashfree order: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("cashfree order lookup failed", "order_id", orderID, "status", resp.StatusCode, "body", truncateBody(rawBody))
		}
		return nil, &RejectionError{Message: "failed to verify payment with cashfree"}
	}

	var parsed struct {
		OrderStatus string  `json:"order_status"`
		OrderAmount float64 `json:"order_amount"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode order status: %w (body=%s)", err, truncateBody(rawBody))
	}

	return &OrderStatus{OrderID: orderID, Status: parsed.OrderStatus, Amount: parsed.OrderAmount}, nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	req.Header.Set("x-client-id", c.appID)
	req.Header.Set("x-client-secret", c.secretKey)
	req.Header.Set("x-api-version", c.apiVersion)
	req.Header.Set("Accept", "application/json")
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
