package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestRazorpayProvider(t *testing.T, baseURL string) *RazorpayProvider {
	t.Helper()
	provider, err := NewRazorpayProvider(RazorpayProviderConfig{
		KeyID:     "rzp_test_key",
		KeySecret: "rzp_test_secret",
		BaseURL:   baseURL,
		Clock:     func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewRazorpayProvider: %v", err)
	}
	return provider
}

func TestRazorpayCreateOrder(t *testing.T) {
	var gotPath, gotAuthUser string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuthUser, _, _ = r.BasicAuth()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":         "order_test_1",
			"amount":     259900,
			"currency":   "INR",
			"receipt":    "ORD-20250601-1",
			"status":     "created",
			"created_at": 1748779200,
		})
	}))
	defer server.Close()

	provider := newTestRazorpayProvider(t, server.URL)
	order, err := provider.CreateOrder(context.Background(), CreateOrderRequest{
		Amount:   259900,
		Currency: "INR",
		Receipt:  "ORD-20250601-1",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if gotPath != "/orders" {
		t.Fatalf("expected /orders, got %s", gotPath)
	}
	if gotAuthUser != "rzp_test_key" {
		t.Fatalf("expected basic auth key id, got %q", gotAuthUser)
	}
	if gotBody["amount"] != float64(259900) || gotBody["currency"] != "INR" {
		t.Fatalf("unexpected request body %+v", gotBody)
	}
	if order.ID != "order_test_1" || order.Status != StatusCreated {
		t.Fatalf("unexpected order %+v", order)
	}
}

func TestRazorpayCreateOrderGatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": "BAD_REQUEST_ERROR", "description": "amount exceeds maximum"},
		})
	}))
	defer server.Close()

	provider := newTestRazorpayProvider(t, server.URL)
	_, err := provider.CreateOrder(context.Background(), CreateOrderRequest{Amount: 1, Currency: "INR"})
	if err == nil || !strings.Contains(err.Error(), "amount exceeds maximum") {
		t.Fatalf("expected gateway error description, got %v", err)
	}
}

func TestRazorpayVerifyCallbackSignature(t *testing.T) {
	provider := newTestRazorpayProvider(t, "http://unused")

	mac := hmac.New(sha256.New, []byte("rzp_test_secret"))
	mac.Write([]byte("order_test_1|pay_test_1"))
	valid := hex.EncodeToString(mac.Sum(nil))

	if err := provider.VerifyCallbackSignature(CallbackSignature{
		GatewayOrderID:   "order_test_1",
		GatewayPaymentID: "pay_test_1",
		Signature:        valid,
	}); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	err := provider.VerifyCallbackSignature(CallbackSignature{
		GatewayOrderID:   "order_test_1",
		GatewayPaymentID: "pay_test_1",
		Signature:        valid[:len(valid)-2] + "00",
	})
	if !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected signature mismatch, got %v", err)
	}

	err = provider.VerifyCallbackSignature(CallbackSignature{GatewayOrderID: "order_test_1"})
	if !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected mismatch on missing fields, got %v", err)
	}
}

func TestRazorpayRefund(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments/pay_test_1/refund" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":         "rfnd_test_1",
			"amount":     259900,
			"currency":   "INR",
			"created_at": 1748779200,
		})
	}))
	defer server.Close()

	provider := newTestRazorpayProvider(t, server.URL)
	details, err := provider.Refund(context.Background(), RefundRequest{PaymentID: "pay_test_1"})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if details.Status != StatusRefunded || details.PaymentID != "pay_test_1" {
		t.Fatalf("unexpected details %+v", details)
	}
	if details.RefundedAt == nil {
		t.Fatalf("expected refundedAt set")
	}
}
