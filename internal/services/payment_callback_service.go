package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/auric-commerce/api/internal/domain"
	"github.com/auric-commerce/api/internal/payments"
	"github.com/auric-commerce/api/internal/repositories"
)

var (
	// ErrPaymentInvalidInput signals the caller provided invalid arguments.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentOrderNotFound indicates no order holds the gateway order id.
	ErrPaymentOrderNotFound = errors.New("payment: order not found")
	// ErrPaymentSignatureInvalid indicates the callback signature failed verification.
	ErrPaymentSignatureInvalid = errors.New("payment: invalid signature")
	// ErrPaymentInvalidState indicates the payment cannot transition from its state.
	ErrPaymentInvalidState = errors.New("payment: invalid state")
)

// callbackGatewayManager abstracts payments.Manager for easier testing.
type callbackGatewayManager interface {
	VerifyCallbackSignature(paymentCtx payments.PaymentContext, sig payments.CallbackSignature) error
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
}

// PaymentCallbackServiceDeps bundles the collaborators required to construct
// a payment callback service.
type PaymentCallbackServiceDeps struct {
	Orders   repositories.OrderRepository
	Stock    StockService
	Payments callbackGatewayManager
	Events   EventPublisher
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type paymentCallbackService struct {
	orders   repositories.OrderRepository
	stock    StockService
	payments callbackGatewayManager
	events   EventPublisher
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewPaymentCallbackService wires dependencies into a concrete
// PaymentCallbackService implementation.
func NewPaymentCallbackService(deps PaymentCallbackServiceDeps) (PaymentCallbackService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment callback service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment callback service: payment manager is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentCallbackService{
		orders:   deps.Orders,
		stock:    deps.Stock,
		payments: deps.Payments,
		events:   deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// HandleCallback settles the order's payment from a gateway notification.
// The signature is verified before any state changes; a mismatch leaves the
// payment untouched and never echoes the expected value.
func (s *paymentCallbackService) HandleCallback(ctx context.Context, cmd PaymentCallbackCommand) (Order, error) {
	gatewayOrderID := strings.TrimSpace(cmd.GatewayOrderID)
	if gatewayOrderID == "" {
		return Order{}, fmt.Errorf("%w: gateway order id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}

	if cmd.Failed {
		return s.markFailed(ctx, order, cmd.FailureReason)
	}

	gatewayPaymentID := strings.TrimSpace(cmd.GatewayPaymentID)
	if gatewayPaymentID == "" {
		return Order{}, fmt.Errorf("%w: gateway payment id is required", ErrPaymentInvalidInput)
	}

	if err := s.payments.VerifyCallbackSignature(payments.PaymentContext{
		PreferredProvider: order.Payment.Provider,
		Currency:          order.Currency,
	}, payments.CallbackSignature{
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: gatewayPaymentID,
		Signature:        cmd.Signature,
	}); err != nil {
		if errors.Is(err, payments.ErrSignatureMismatch) {
			s.logger(ctx, "payment_signature_invalid", map[string]any{
				"orderId":        order.ID,
				"gatewayOrderId": gatewayOrderID,
			})
			return Order{}, ErrPaymentSignatureInvalid
		}
		return Order{}, err
	}

	// Re-delivered callbacks for an already settled payment are a no-op.
	if order.Payment.Status == domain.PaymentStatusPaid {
		if order.Payment.GatewayPaymentID == gatewayPaymentID {
			return order, nil
		}
		return Order{}, fmt.Errorf("%w: payment already captured by %s", ErrPaymentInvalidState, order.Payment.GatewayPaymentID)
	}
	if order.Payment.Status != domain.PaymentStatusCreated {
		return Order{}, fmt.Errorf("%w: payment is %s", ErrPaymentInvalidState, order.Payment.Status)
	}

	now := s.clock()
	order.Payment.Status = domain.PaymentStatusPaid
	order.Payment.GatewayPaymentID = gatewayPaymentID
	order.Payment.GatewaySignature = strings.TrimSpace(cmd.Signature)
	order.Payment.PaidAt = &now
	if order.Status == domain.OrderStatusPending {
		order.Status = domain.OrderStatusProcessing
	}
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.translateRepoError(err)
	}

	s.publishEvent(ctx, Event{
		Type:       EventPaymentCaptured,
		EntityID:   order.ID,
		UserID:     order.UserID,
		OccurredAt: now,
		Payload: map[string]any{
			"gatewayOrderId":   gatewayOrderID,
			"gatewayPaymentId": gatewayPaymentID,
			"amount":           order.Payment.Amount,
		},
	})

	return order, nil
}

// Refund reverses a captured payment through the gateway.
func (s *paymentCallbackService) Refund(ctx context.Context, cmd RefundCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}

	if order.Payment.Status != domain.PaymentStatusPaid {
		return Order{}, fmt.Errorf("%w: payment is %s", ErrPaymentInvalidState, order.Payment.Status)
	}

	details, err := s.payments.Refund(ctx, payments.PaymentContext{
		PreferredProvider: order.Payment.Provider,
		Currency:          order.Currency,
	}, payments.RefundRequest{
		PaymentID:      order.Payment.GatewayPaymentID,
		Reason:         strings.TrimSpace(cmd.Reason),
		IdempotencyKey: order.ID + ":refund",
		Metadata: map[string]string{
			"orderId": order.ID,
		},
	})
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	order.Payment.Status = domain.PaymentStatusRefunded
	order.Payment.RefundedAt = details.RefundedAt
	if order.Payment.RefundedAt == nil {
		order.Payment.RefundedAt = &now
	}
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.translateRepoError(err)
	}

	s.logger(ctx, "payment_refunded", map[string]any{
		"orderId": order.ID,
		"actor":   strings.TrimSpace(cmd.Actor),
	})

	return order, nil
}

func (s *paymentCallbackService) markFailed(ctx context.Context, order Order, reason string) (Order, error) {
	if order.Payment.Status == domain.PaymentStatusPaid {
		return Order{}, fmt.Errorf("%w: payment already captured", ErrPaymentInvalidState)
	}

	now := s.clock()
	order.Payment.Status = domain.PaymentStatusFailed
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.translateRepoError(err)
	}

	if s.stock != nil && order.ReservationID != "" {
		if _, err := s.stock.Release(ctx, ReleaseStockCommand{
			ReservationID: order.ReservationID,
			Reason:        "payment failed",
		}); err != nil {
			s.logger(ctx, "payment_stock_release_failed", map[string]any{
				"orderId":       order.ID,
				"reservationId": order.ReservationID,
				"error":         err.Error(),
			})
		}
	}

	s.publishEvent(ctx, Event{
		Type:       EventPaymentFailed,
		EntityID:   order.ID,
		UserID:     order.UserID,
		OccurredAt: now,
		Payload: map[string]any{
			"reason": strings.TrimSpace(reason),
		},
	})

	return order, nil
}

func (s *paymentCallbackService) publishEvent(ctx context.Context, event Event) {
	if s.events == nil {
		return
	}
	if _, err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx, "payment_event_publish_failed", map[string]any{
			"type":  event.Type,
			"error": err.Error(),
		})
	}
}

func (s *paymentCallbackService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %s", ErrPaymentOrderNotFound, err.Error())
	}
	return err
}
