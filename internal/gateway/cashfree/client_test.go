package cashfree_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veronikaextra/backend/internal/config"
	"github.com/veronikaextra/backend/internal/gateway/cashfree"
)

func liveConfig(baseURL string) config.Config {
	return config.Config{
		CashfreeAppID:      "app-id",
		CashfreeSecretKey:  "secret-key",
		CashfreeAPIVersion: "2023-08-01",
		CashfreeBaseURL:    baseURL,
	}
}

func validInput() cashfree.CreateOrderInput {
	return cashfree.CreateOrderInput{
		OrderID:       "user42-100-1700000000000",
		Amount:        449,
		CustomerPhone: "9876543210",
		CustomerName:  "Asha Rao",
		CustomerEmail: "asha@example.com",
		ReturnURL:     "https://app.example.com/#/profile",
	}
}

func TestCreateOrderMissingFields(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	client := cashfree.NewClient(liveConfig(srv.URL), srv.Client(), nil)

	tests := map[string]func(in *cashfree.CreateOrderInput){
		"no order id": func(in *cashfree.CreateOrderInput) { in.OrderID = "" },
		"no amount":   func(in *cashfree.CreateOrderInput) { in.Amount = 0 },
		"no phone":    func(in *cashfree.CreateOrderInput) { in.CustomerPhone = "" },
		"no name":     func(in *cashfree.CreateOrderInput) { in.CustomerName = "" },
	}
	for name, breakInput := range tests {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			breakInput(&in)
			_, err := client.CreateOrder(context.Background(), in)
			require.ErrorIs(t, err, cashfree.ErrMissingField)
		})
	}
	require.Equal(t, int64(0), calls.Load(), "validation failures must not reach the provider")
}

func TestCreateOrderMockMode(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	cfg := liveConfig(srv.URL)
	cfg.CashfreeAppID = ""
	client := cashfree.NewClient(cfg, srv.Client(), nil)

	order, err := client.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)
	require.NotEmpty(t, order.PaymentLink)
	require.NotEmpty(t, order.PaymentSessionID)
	require.Equal(t, int64(0), calls.Load(), "mock mode must not contact the provider")
}

func TestCreateOrderSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pg/orders", r.URL.Path)
		require.Equal(t, "app-id", r.Header.Get("x-client-id"))
		require.Equal(t, "secret-key", r.Header.Get("x-client-secret"))
		require.Equal(t, "2023-08-01", r.Header.Get("x-api-version"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "INR", payload["order_currency"])
		details := payload["customer_details"].(map[string]any)
		require.Equal(t, "user42", details["customer_id"], "customer id is the order id prefix")
		require.Equal(t, "Asha Rao", details["customer_name"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"payment_link":"https://payments.cashfree.com/order/xyz","payment_session_id":"session-1"}`))
	}))
	defer srv.Close()

	client := cashfree.NewClient(liveConfig(srv.URL), srv.Client(), nil)
	order, err := client.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)
	require.Equal(t, "https://payments.cashfree.com/order/xyz", order.PaymentLink)
	require.Equal(t, "session-1", order.PaymentSessionID)
}

func TestCreateOrderSanitizesName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		details := payload["customer_details"].(map[string]any)
		require.Equal(t, "OBrien Jr", details["customer_name"])
		_, _ = w.Write([]byte(`{"payment_link":"https://pay"}`))
	}))
	defer srv.Close()

	client := cashfree.NewClient(liveConfig(srv.URL), srv.Client(), nil)
	in := validInput()
	in.CustomerName = "O'Brien, Jr."
	_, err := client.CreateOrder(context.Background(), in)
	require.NoError(t, err)
}

func TestCreateOrderProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"order_id : invalid characters"}`))
	}))
	defer srv.Close()

	client := cashfree.NewClient(liveConfig(srv.URL), srv.Client(), nil)
	_, err := client.CreateOrder(context.Background(), validInput())

	var rejection *cashfree.RejectionError
	require.ErrorAs(t, err, &rejection)
	require.Equal(t, "order_id : invalid characters", rejection.Message)
	require.NotNil(t, rejection.Payload, "rejection carries the outbound payload for diagnosis")
}

func TestCreateOrderNoLinkNoSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"order_status":"ACTIVE"}`))
	}))
	defer srv.Close()

	client := cashfree.NewClient(liveConfig(srv.URL), srv.Client(), nil)
	_, err := client.CreateOrder(context.Background(), validInput())

	var rejection *cashfree.RejectionError
	require.ErrorAs(t, err, &rejection, "a 2xx body without link or session id is a provider-side failure")
}

func TestCreateOrderNonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>gateway timeout</html>"))
	}))
	defer srv.Close()

	client := cashfree.NewClient(liveConfig(srv.URL), srv.Client(), nil)
	_, err := client.CreateOrder(context.Background(), validInput())

	var rejection *cashfree.RejectionError
	require.ErrorAs(t, err, &rejection)
	require.Contains(t, rejection.Message, "invalid JSON")
	require.Contains(t, rejection.Message, "gateway timeout")
}

func TestFetchOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pg/orders/user42-100-1700000000000", r.URL.Path)
		_, _ = w.Write([]byte(`{"order_status":"PAID","order_amount":449}`))
	}))
	defer srv.Close()

	client := cashfree.NewClient(liveConfig(srv.URL), srv.Client(), nil)
	status, err := client.FetchOrder(context.Background(), "user42-100-1700000000000")
	require.NoError(t, err)
	require.Equal(t, "PAID", status.Status)
	require.Equal(t, float64(449), status.Amount)
}

func TestFetchOrderLookupFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"order not found"}`))
	}))
	defer srv.Close()

	client := cashfree.NewClient(liveConfig(srv.URL), srv.Client(), nil)
	_, err := client.FetchOrder(context.Background(), "missing-order")

	var rejection *cashfree.RejectionError
	require.ErrorAs(t, err, &rejection)
}
