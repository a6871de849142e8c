package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultRazorpayBaseURL = "https://api.razorpay.com/v1"

// RazorpayLogger defines the logging contract for Razorpay provider operations.
type RazorpayLogger func(ctx context.Context, event string, fields map[string]any)

// RazorpayProviderConfig configures the RazorpayProvider.
type RazorpayProviderConfig struct {
	KeyID      string
	KeySecret  string
	BaseURL    string
	HTTPClient *http.Client
	Logger     RazorpayLogger
	Clock      func() time.Time
}

// RazorpayProvider implements the Provider interface against the Razorpay
// Orders API. Callback signatures are HMAC-SHA256 over
// "{orderId}|{paymentId}" keyed with the key secret, hex encoded.
type RazorpayProvider struct {
	keyID     string
	keySecret string
	baseURL   string
	client    *http.Client
	clock     func() time.Time
	logger    RazorpayLogger
}

// NewRazorpayProvider constructs a Razorpay Provider using the given configuration.
func NewRazorpayProvider(cfg RazorpayProviderConfig) (*RazorpayProvider, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if keyID == "" || keySecret == "" {
		return nil, errors.New("razorpay: key id and key secret are required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultRazorpayBaseURL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &RazorpayProvider{
		keyID:     keyID,
		keySecret: keySecret,
		baseURL:   baseURL,
		client:    client,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

type razorpayOrderPayload struct {
	ID        string            `json:"id"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Receipt   string            `json:"receipt"`
	Status    string            `json:"status"`
	CreatedAt int64             `json:"created_at"`
	Notes     map[string]string `json:"notes"`
}

type razorpayErrorPayload struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder opens a gateway order for the given amount in minor units.
func (p *RazorpayProvider) CreateOrder(ctx context.Context, req CreateOrderRequest) (GatewayOrder, error) {
	if p == nil {
		return GatewayOrder{}, errors.New("razorpay: provider is nil")
	}
	if req.Amount <= 0 {
		return GatewayOrder{}, errors.New("razorpay: amount must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "INR"
	}

	body := map[string]any{
		"amount":   req.Amount,
		"currency": currency,
		"receipt":  strings.TrimSpace(req.Receipt),
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}

	payload, err := p.post(ctx, "/orders", body, req.IdempotencyKey)
	if err != nil {
		return GatewayOrder{}, err
	}

	var order razorpayOrderPayload
	if err := json.Unmarshal(payload, &order); err != nil {
		return GatewayOrder{}, fmt.Errorf("razorpay: decode order response: %w", err)
	}

	raw := map[string]any{}
	_ = json.Unmarshal(payload, &raw)

	createdAt := p.clock()
	if order.CreatedAt != 0 {
		createdAt = time.Unix(order.CreatedAt, 0).UTC()
	}

	p.logger(ctx, "payments.razorpay.order.created", map[string]any{
		"gatewayOrderId": order.ID,
		"amount":         order.Amount,
		"currency":       order.Currency,
	})

	return GatewayOrder{
		ID:        order.ID,
		Provider:  "razorpay",
		Amount:    order.Amount,
		Currency:  order.Currency,
		Receipt:   order.Receipt,
		Status:    StatusCreated,
		CreatedAt: createdAt,
		Raw:       raw,
	}, nil
}

// VerifyCallbackSignature recomputes the callback HMAC and compares it in
// constant time against the supplied signature.
func (p *RazorpayProvider) VerifyCallbackSignature(sig CallbackSignature) error {
	if p == nil {
		return errors.New("razorpay: provider is nil")
	}
	orderID := strings.TrimSpace(sig.GatewayOrderID)
	paymentID := strings.TrimSpace(sig.GatewayPaymentID)
	supplied := strings.TrimSpace(sig.Signature)
	if orderID == "" || paymentID == "" || supplied == "" {
		return ErrSignatureMismatch
	}

	mac := hmac.New(sha256.New, []byte(p.keySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(supplied)) {
		return ErrSignatureMismatch
	}
	return nil
}

// Refund creates a refund for the captured payment.
func (p *RazorpayProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("razorpay: provider is nil")
	}
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return PaymentDetails{}, errors.New("razorpay: payment id is required")
	}

	body := map[string]any{}
	if req.Amount != nil {
		body["amount"] = *req.Amount
	}
	if len(req.Metadata) > 0 {
		body["notes"] = req.Metadata
	}

	payload, err := p.post(ctx, "/payments/"+paymentID+"/refund", body, req.IdempotencyKey)
	if err != nil {
		return PaymentDetails{}, err
	}

	var refund struct {
		ID        string `json:"id"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		CreatedAt int64  `json:"created_at"`
	}
	if err := json.Unmarshal(payload, &refund); err != nil {
		return PaymentDetails{}, fmt.Errorf("razorpay: decode refund response: %w", err)
	}

	raw := map[string]any{}
	_ = json.Unmarshal(payload, &raw)

	refundedAt := p.clock()
	if refund.CreatedAt != 0 {
		refundedAt = time.Unix(refund.CreatedAt, 0).UTC()
	}

	p.logger(ctx, "payments.razorpay.payment.refunded", map[string]any{
		"gatewayPaymentId": paymentID,
		"refundId":         refund.ID,
	})

	return PaymentDetails{
		Provider:   "razorpay",
		PaymentID:  paymentID,
		Status:     StatusRefunded,
		Amount:     refund.Amount,
		Currency:   refund.Currency,
		RefundedAt: &refundedAt,
		Raw:        raw,
	}, nil
}

func (p *RazorpayProvider) post(ctx context.Context, path string, body map[string]any, idempotencyKey string) ([]byte, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("razorpay: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("razorpay: build request: %w", err)
	}
	req.SetBasicAuth(p.keyID, p.keySecret)
	req.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		req.Header.Set("X-Razorpay-Idempotency", key)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("razorpay: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("razorpay: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var gatewayErr razorpayErrorPayload
		if err := json.Unmarshal(payload, &gatewayErr); err == nil && gatewayErr.Error.Description != "" {
			return nil, fmt.Errorf("razorpay: %s (%s)", gatewayErr.Error.Description, gatewayErr.Error.Code)
		}
		return nil, fmt.Errorf("razorpay: unexpected status %d for %s", resp.StatusCode, path)
	}

	return payload, nil
}
