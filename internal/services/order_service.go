package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/auric-commerce/api/internal/domain"
	"github.com/auric-commerce/api/internal/payments"
	"github.com/auric-commerce/api/internal/repositories"
)

const defaultReturnWindowDays = 7

var (
	// ErrOrderInvalidInput signals the caller provided invalid arguments.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist or belongs to another user.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderEmptyCart indicates checkout was attempted with no cart lines.
	ErrOrderEmptyCart = errors.New("order: cart is empty")
	// ErrOrderInsufficientStock indicates at least one line exceeded availability.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
	// ErrOrderInvalidState indicates the requested status transition is illegal.
	ErrOrderInvalidState = errors.New("order: invalid state transition")
	// ErrOrderPaymentFailed indicates the gateway refused to open a remote order.
	ErrOrderPaymentFailed = errors.New("order: payment gateway failure")
	// ErrOrderUnavailable indicates the datastore could not serve the request.
	ErrOrderUnavailable = errors.New("order: temporarily unavailable")
)

// orderStatusTransitions is the legal fulfilment graph. Any transition not
// listed here is refused.
var orderStatusTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled, domain.OrderStatusReturned},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:  {domain.OrderStatusReturned},
}

// orderGatewayManager abstracts payments.Manager for easier testing.
type orderGatewayManager interface {
	CreateOrder(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CreateOrderRequest) (payments.GatewayOrder, error)
}

// OrderServiceDeps bundles the collaborators required to construct an order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Cart        CartService
	Catalog     CatalogService
	Stock       StockService
	Counter     CounterService
	Payments    orderGatewayManager
	Events      EventPublisher
	// DefaultCurrency is applied when a place-order command does not name a
	// currency. Empty means INR.
	DefaultCurrency string
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders          repositories.OrderRepository
	cart            CartService
	catalog         CatalogService
	stock           StockService
	counter         CounterService
	payments        orderGatewayManager
	events          EventPublisher
	defaultCurrency string
	clock           func() time.Time
	newID           func() string
	logger          func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Cart == nil {
		return nil, errors.New("order service: cart service is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog service is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("order service: stock service is required")
	}
	if deps.Counter == nil {
		return nil, errors.New("order service: counter service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	defaultCurrency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if defaultCurrency == "" {
		defaultCurrency = "INR"
	}

	return &orderService{
		orders:          deps.Orders,
		cart:            deps.Cart,
		catalog:         deps.Catalog,
		stock:           deps.Stock,
		counter:         deps.Counter,
		payments:        deps.Payments,
		events:          deps.Events,
		defaultCurrency: defaultCurrency,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return PlaceOrderResult{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if err := validateShippingAddress(cmd.ShippingAddress); err != nil {
		return PlaceOrderResult{}, err
	}
	method, err := validatePaymentMethod(cmd.PaymentMethod)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}

	fromCart := cmd.BuyNow == nil
	var items []OrderItem
	if fromCart {
		items, err = s.itemsFromCart(ctx, userID)
	} else {
		items, err = s.itemsFromBuyNow(ctx, *cmd.BuyNow)
	}
	if err != nil {
		return PlaceOrderResult{}, err
	}

	now := s.clock()
	totals := domain.ComputeOrderTotals(items)
	orderID := s.newID()

	reservation, err := s.stock.Reserve(ctx, ReserveStockCommand{
		OrderRef: orderID,
		UserID:   userID,
		Lines:    stockLinesFromItems(items),
	})
	if err != nil {
		if errors.Is(err, ErrStockInsufficient) {
			return PlaceOrderResult{}, fmt.Errorf("%w: %s", ErrOrderInsufficientStock, trimErrorPrefix(err))
		}
		if errors.Is(err, ErrStockNotFound) || errors.Is(err, ErrStockInvalidInput) {
			return PlaceOrderResult{}, fmt.Errorf("%w: %s", ErrOrderInvalidInput, trimErrorPrefix(err))
		}
		return PlaceOrderResult{}, err
	}

	invoice, err := s.counter.NextInvoiceNumber(ctx)
	if err != nil {
		s.releaseReservation(ctx, reservation.ID, "invoice allocation failed")
		return PlaceOrderResult{}, err
	}

	address := cmd.ShippingAddress
	if strings.TrimSpace(address.Country) == "" {
		address.Country = "India"
	}

	order := Order{
		ID:            orderID,
		InvoiceNumber: invoice,
		UserID:        userID,
		Items:         items,
		TotalItems:    totals.TotalItems,
		TotalMRP:      totals.TotalMRP,
		TotalDiscount: totals.TotalDiscount,
		TotalAmount:   totals.TotalAmount,
		ShippingFee:   totals.ShippingFee,
		GrandTotal:    totals.GrandTotal,
		Currency:      currency,
		ShippingAddress: address,
		Payment: Payment{
			Method:   method,
			Status:   initialPaymentStatus(method),
			Amount:   totals.GrandTotal,
			Currency: currency,
		},
		Status: domain.OrderStatusPending,
		ReturnPolicy: ReturnPolicy{
			IsReturnable:     true,
			ReturnWindowDays: defaultReturnWindowDays,
		},
		ReservationID: reservation.ID,
		PlacedAt:      now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		s.releaseReservation(ctx, reservation.ID, "order persist failed")
		return PlaceOrderResult{}, s.translateRepoError(ctx, "place_order", err)
	}

	result := PlaceOrderResult{Order: order}
	if routesThroughGateway(method) {
		gatewayOrder, err := s.createGatewayOrder(ctx, &order)
		if err != nil {
			s.releaseReservation(ctx, reservation.ID, "gateway order failed")
			return PlaceOrderResult{}, err
		}
		result.Order = order
		result.GatewayOrder = gatewayOrder
	}

	if fromCart {
		// The order is durable at this point; a failed cart clear leaves a
		// stale cart, never a lost order.
		if err := s.cart.ClearCart(ctx, userID); err != nil {
			s.logger(ctx, "order_cart_clear_failed", map[string]any{
				"orderId": order.ID,
				"userId":  userID,
				"error":   err.Error(),
			})
		}
	}

	s.publishEvent(ctx, Event{
		Type:       EventOrderPlaced,
		EntityID:   order.ID,
		UserID:     userID,
		OccurredAt: now,
		Payload: map[string]any{
			"invoiceNumber": order.InvoiceNumber,
			"grandTotal":    order.GrandTotal,
			"paymentMethod": string(method),
		},
	})

	return result, nil
}

func (s *orderService) GetOrder(ctx context.Context, cmd GetOrderQuery) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateRepoError(ctx, "get_order", err)
	}

	if userID := strings.TrimSpace(cmd.UserID); userID != "" && order.UserID != userID {
		return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	repoFilter := repositories.OrderListFilter{
		UserID:     strings.TrimSpace(filter.UserID),
		Pagination: filter.Pagination,
	}
	for _, status := range filter.Status {
		repoFilter.Status = append(repoFilter.Status, string(status))
	}
	if filter.From != nil {
		repoFilter.DateRange.From = filter.From
	}
	if filter.To != nil {
		repoFilter.DateRange.To = filter.To
	}

	page, err := s.orders.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.translateRepoError(ctx, "list_orders", err)
	}
	return page, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.Target))))
	if target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateRepoError(ctx, "update_status", err)
	}

	if !canTransition(order.Status, target) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, target)
	}

	now := s.clock()
	previous := order.Status
	order.Status = target
	order.UpdatedAt = now

	switch target {
	case domain.OrderStatusShipped:
		if courier := strings.TrimSpace(cmd.CourierName); courier != "" {
			order.Tracking.CourierName = courier
		}
		if number := strings.TrimSpace(cmd.TrackingNumber); number != "" {
			order.Tracking.TrackingNumber = number
		}
		if url := strings.TrimSpace(cmd.TrackingURL); url != "" {
			order.Tracking.TrackingURL = url
		}
		order.Tracking.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.Tracking.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
		if reason := strings.TrimSpace(cmd.CancelReason); reason != "" {
			order.CancelReason = &reason
		}
	case domain.OrderStatusReturned:
		order.ReturnedAt = &now
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.translateRepoError(ctx, "update_status", err)
	}

	if target == domain.OrderStatusCancelled || target == domain.OrderStatusReturned {
		s.releaseReservation(ctx, order.ReservationID, string(target))
	}

	s.publishEvent(ctx, Event{
		Type:       EventOrderStatusChanged,
		EntityID:   order.ID,
		UserID:     order.UserID,
		OccurredAt: now,
		Payload: map[string]any{
			"from":  string(previous),
			"to":    string(target),
			"actor": strings.TrimSpace(cmd.Actor),
		},
	})

	return order, nil
}

// itemsFromCart freezes the caller's cart lines into order items. Prices stay
// as snapshotted at add-to-cart time; stock is re-validated by the reserve
// step against current counters.
func (s *orderService) itemsFromCart(ctx context.Context, userID string) ([]OrderItem, error) {
	cart, err := s.cart.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(cart.Items) == 0 {
		return nil, fmt.Errorf("%w: no items to place", ErrOrderEmptyCart)
	}

	items := make([]OrderItem, 0, len(cart.Items))
	for _, line := range cart.Items {
		items = append(items, OrderItem{
			ProductID: line.ProductID,
			SKU:       line.SKU,
			Title:     line.Title,
			Size:      line.Size,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			MRP:       line.MRP,
			Subtotal:  line.UnitPrice * int64(line.Quantity),
		})
	}
	return items, nil
}

// itemsFromBuyNow snapshots the product at order time, bypassing the cart.
func (s *orderService) itemsFromBuyNow(ctx context.Context, buyNow BuyNowItem) ([]OrderItem, error) {
	if buyNow.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrOrderInvalidInput)
	}
	productID := strings.TrimSpace(buyNow.ProductID)
	if productID == "" {
		return nil, fmt.Errorf("%w: product id is required", ErrOrderInvalidInput)
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrCatalogNotFound) {
			return nil, fmt.Errorf("%w: product %s", ErrOrderNotFound, productID)
		}
		return nil, err
	}
	variant, err := s.catalog.ResolveVariant(product, buyNow.SKU, buyNow.Attributes)
	if err != nil {
		if errors.Is(err, ErrCatalogVariantNotFound) || errors.Is(err, ErrCatalogInvalidInput) {
			return nil, fmt.Errorf("%w: %s", ErrOrderInvalidInput, trimErrorPrefix(err))
		}
		return nil, err
	}

	price := product.CurrentPrice()
	return []OrderItem{{
		ProductID: product.ID,
		SKU:       variant.SKU,
		Title:     product.Title,
		Size:      variant.Size,
		Quantity:  buyNow.Quantity,
		UnitPrice: price,
		MRP:       product.MRP,
		Subtotal:  price * int64(buyNow.Quantity),
	}}, nil
}

// createGatewayOrder opens the remote order after the local order is durable
// and stores the gateway identifier on the payment sub-record.
func (s *orderService) createGatewayOrder(ctx context.Context, order *Order) (*payments.GatewayOrder, error) {
	if s.payments == nil {
		return nil, fmt.Errorf("%w: no gateway configured", ErrOrderPaymentFailed)
	}

	gatewayOrder, err := s.payments.CreateOrder(ctx, payments.PaymentContext{
		PreferredProvider: providerForMethod(order.Payment.Method),
		Currency:          order.Currency,
	}, payments.CreateOrderRequest{
		Amount:         order.GrandTotal,
		Currency:       order.Currency,
		Receipt:        order.InvoiceNumber,
		IdempotencyKey: order.ID,
		Notes: map[string]string{
			"orderId": order.ID,
			"userId":  order.UserID,
		},
	})
	if err != nil {
		order.Payment.Status = domain.PaymentStatusFailed
		order.UpdatedAt = s.clock()
		if updateErr := s.orders.Update(ctx, *order); updateErr != nil {
			s.logger(ctx, "order_payment_mark_failed", map[string]any{
				"orderId": order.ID,
				"error":   updateErr.Error(),
			})
		}
		s.logger(ctx, "order_gateway_create_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return nil, fmt.Errorf("%w: %s", ErrOrderPaymentFailed, err.Error())
	}

	order.Payment.Provider = gatewayOrder.Provider
	order.Payment.GatewayOrderID = gatewayOrder.ID
	order.UpdatedAt = s.clock()
	if err := s.orders.Update(ctx, *order); err != nil {
		return nil, s.translateRepoError(ctx, "store_gateway_order", err)
	}
	return &gatewayOrder, nil
}

func (s *orderService) releaseReservation(ctx context.Context, reservationID, reason string) {
	if strings.TrimSpace(reservationID) == "" {
		return
	}
	if _, err := s.stock.Release(ctx, ReleaseStockCommand{
		ReservationID: reservationID,
		Reason:        reason,
	}); err != nil {
		s.logger(ctx, "order_stock_release_failed", map[string]any{
			"reservationId": reservationID,
			"reason":        reason,
			"error":         err.Error(),
		})
	}
}

func (s *orderService) publishEvent(ctx context.Context, event Event) {
	if s.events == nil {
		return
	}
	if _, err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx, "order_event_publish_failed", map[string]any{
			"type":  event.Type,
			"error": err.Error(),
		})
	}
}

func (s *orderService) translateRepoError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrOrderNotFound, err.Error())
		case repoErr.IsUnavailable():
			s.logger(ctx, "order_repository_unavailable", map[string]any{
				"op":    op,
				"error": err.Error(),
			})
			return fmt.Errorf("%w: %s", ErrOrderUnavailable, err.Error())
		}
	}
	return err
}

func canTransition(current, target domain.OrderStatus) bool {
	for _, allowed := range orderStatusTransitions[current] {
		if allowed == target {
			return true
		}
	}
	return false
}

func validateShippingAddress(addr ShippingAddress) error {
	if strings.TrimSpace(addr.AddressLine1) == "" {
		return fmt.Errorf("%w: shipping address line is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.City) == "" {
		return fmt.Errorf("%w: shipping city is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.PostalCode) == "" {
		return fmt.Errorf("%w: shipping postal code is required", ErrOrderInvalidInput)
	}
	return nil
}

func validatePaymentMethod(method PaymentMethod) (PaymentMethod, error) {
	normalized := PaymentMethod(strings.ToUpper(strings.TrimSpace(string(method))))
	switch normalized {
	case domain.PaymentMethodCOD, domain.PaymentMethodCard, domain.PaymentMethodUPI,
		domain.PaymentMethodNetBanking, domain.PaymentMethodRazorpay:
		return normalized, nil
	default:
		return "", fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, method)
	}
}

func initialPaymentStatus(method PaymentMethod) PaymentStatus {
	if method == domain.PaymentMethodCOD {
		return domain.PaymentStatusPending
	}
	return domain.PaymentStatusCreated
}

func routesThroughGateway(method PaymentMethod) bool {
	return method != domain.PaymentMethodCOD
}

func providerForMethod(method PaymentMethod) string {
	if method == domain.PaymentMethodCard {
		return "stripe"
	}
	return "razorpay"
}

func stockLinesFromItems(items []OrderItem) []StockLine {
	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, StockLine{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Quantity:  item.Quantity,
		})
	}
	return lines
}

// trimErrorPrefix drops the wrapping sentinel's own prefix so callers do not
// see it twice in the final message.
func trimErrorPrefix(err error) string {
	msg := err.Error()
	if idx := strings.Index(msg, ": "); idx >= 0 {
		return msg[idx+2:]
	}
	return msg
}
