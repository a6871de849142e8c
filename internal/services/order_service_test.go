package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	domain "github.com/auric-commerce/api/internal/domain"
	"github.com/auric-commerce/api/internal/payments"
	"github.com/auric-commerce/api/internal/repositories"
)

type stubOrderRepository struct {
	inserted          []domain.Order
	updated           []domain.Order
	insertFunc        func(ctx context.Context, order domain.Order) error
	findFunc          func(ctx context.Context, orderID string) (domain.Order, error)
	findByGatewayFunc func(ctx context.Context, gatewayOrderID string) (domain.Order, error)
	listFunc          func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	s.inserted = append(s.inserted, order)
	if s.insertFunc != nil {
		return s.insertFunc(ctx, order)
	}
	return nil
}

func (s *stubOrderRepository) Update(ctx context.Context, order domain.Order) error {
	s.updated = append(s.updated, order)
	return nil
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFunc != nil {
		return s.findFunc(ctx, orderID)
	}
	return domain.Order{}, &fakeRepoError{notFound: true}
}

func (s *stubOrderRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	if s.findByGatewayFunc != nil {
		return s.findByGatewayFunc(ctx, gatewayOrderID)
	}
	return domain.Order{}, &fakeRepoError{notFound: true}
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

type stubCartService struct {
	cart     domain.Cart
	getErr   error
	cleared  []string
	clearErr error
}

func (s *stubCartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	if s.getErr != nil {
		return Cart{}, s.getErr
	}
	return s.cart, nil
}

func (s *stubCartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	return Cart{}, errors.New("not implemented")
}

func (s *stubCartService) IncreaseQuantity(ctx context.Context, cmd CartLineCommand) (Cart, error) {
	return Cart{}, errors.New("not implemented")
}

func (s *stubCartService) DecreaseQuantity(ctx context.Context, cmd CartLineCommand) (Cart, error) {
	return Cart{}, errors.New("not implemented")
}

func (s *stubCartService) RemoveItem(ctx context.Context, cmd CartLineCommand) (Cart, error) {
	return Cart{}, errors.New("not implemented")
}

func (s *stubCartService) ClearCart(ctx context.Context, userID string) error {
	s.cleared = append(s.cleared, userID)
	return s.clearErr
}

type stubStockService struct {
	reserveErr error
	reserved   []ReserveStockCommand
	released   []ReleaseStockCommand
}

func (s *stubStockService) Reserve(ctx context.Context, cmd ReserveStockCommand) (StockReservation, error) {
	s.reserved = append(s.reserved, cmd)
	if s.reserveErr != nil {
		return StockReservation{}, s.reserveErr
	}
	return StockReservation{
		ID:     "resv_test",
		Status: domain.ReservationStatusActive,
		Lines:  cmd.Lines,
	}, nil
}

func (s *stubStockService) Release(ctx context.Context, cmd ReleaseStockCommand) (StockReservation, error) {
	s.released = append(s.released, cmd)
	return StockReservation{ID: cmd.ReservationID, Status: domain.ReservationStatusReleased}, nil
}

func (s *stubStockService) Available(ctx context.Context, productID string, sku string) (int, error) {
	return 0, errors.New("not implemented")
}

type stubCounterService struct {
	invoice string
	err     error
}

func (s *stubCounterService) Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error) {
	return CounterValue{}, errors.New("not implemented")
}

func (s *stubCounterService) NextInvoiceNumber(ctx context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.invoice, nil
}

type stubGatewayManager struct {
	order    payments.GatewayOrder
	err      error
	requests []payments.CreateOrderRequest
}

func (s *stubGatewayManager) CreateOrder(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CreateOrderRequest) (payments.GatewayOrder, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return payments.GatewayOrder{}, s.err
	}
	order := s.order
	if order.Provider == "" {
		order.Provider = "razorpay"
	}
	return order, nil
}

type orderFixture struct {
	orders  *stubOrderRepository
	cart    *stubCartService
	stock   *stubStockService
	counter *stubCounterService
	gateway *stubGatewayManager
	events  *recordingPublisher
}

func newTestOrderService(t *testing.T, fx *orderFixture) OrderService {
	t.Helper()
	if fx.orders == nil {
		fx.orders = &stubOrderRepository{}
	}
	if fx.cart == nil {
		fx.cart = &stubCartService{}
	}
	if fx.stock == nil {
		fx.stock = &stubStockService{}
	}
	if fx.counter == nil {
		fx.counter = &stubCounterService{invoice: "ORD-20250601-1"}
	}
	if fx.gateway == nil {
		fx.gateway = &stubGatewayManager{order: payments.GatewayOrder{ID: "order_rzp_1"}}
	}
	if fx.events == nil {
		fx.events = &recordingPublisher{}
	}

	product := saleProduct()
	products := &stubProductRepository{
		findFunc: func(ctx context.Context, productID string) (domain.Product, error) {
			if productID != product.ID {
				return domain.Product{}, &fakeRepoError{notFound: true}
			}
			return product, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:      fx.orders,
		Cart:        fx.cart,
		Catalog:     newTestCatalogService(t, products),
		Stock:       fx.stock,
		Counter:     fx.counter,
		Payments:    fx.gateway,
		Events:      fx.events,
		Clock:       func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { return "ord_01TEST" },
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return svc
}

func testAddress() domain.ShippingAddress {
	return domain.ShippingAddress{
		Name:         "Asha Rao",
		Phone:        "9999999999",
		AddressLine1: "12 MG Road",
		City:         "Bengaluru",
		State:        "Karnataka",
		PostalCode:   "560001",
	}
}

func cartWithLines(lines ...domain.CartItem) domain.Cart {
	recomputed, totals := domain.ComputeCartTotals(lines)
	return domain.Cart{
		ID:         "u1",
		UserID:     "u1",
		Items:      recomputed,
		TotalItems: totals.TotalItems,
		TotalPrice: totals.TotalPrice,
	}
}

func TestPlaceOrderFromCartCOD(t *testing.T) {
	fx := &orderFixture{
		cart: &stubCartService{cart: cartWithLines(
			domain.CartItem{ID: "l1", ProductID: "prod_1", SKU: "KUR-M-001", Title: "Linen Kurta", Quantity: 2, UnitPrice: 40000, MRP: 50000},
		)},
	}
	svc := newTestOrderService(t, fx)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		UserID:          "u1",
		ShippingAddress: testAddress(),
		PaymentMethod:   domain.PaymentMethodCOD,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	order := result.Order
	if order.InvoiceNumber != "ORD-20250601-1" {
		t.Fatalf("unexpected invoice %q", order.InvoiceNumber)
	}
	if order.TotalAmount != 80000 {
		t.Fatalf("expected totalAmount 80000, got %d", order.TotalAmount)
	}
	if order.ShippingFee != domain.FlatShippingFee {
		t.Fatalf("expected flat shipping fee, got %d", order.ShippingFee)
	}
	if order.GrandTotal != 80000+domain.FlatShippingFee {
		t.Fatalf("unexpected grand total %d", order.GrandTotal)
	}
	if order.Payment.Status != domain.PaymentStatusPending {
		t.Fatalf("expected COD payment pending, got %q", order.Payment.Status)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected order pending, got %q", order.Status)
	}
	if order.ShippingAddress.Country != "India" {
		t.Fatalf("expected default country, got %q", order.ShippingAddress.Country)
	}
	if result.GatewayOrder != nil {
		t.Fatalf("COD must not open a gateway order")
	}
	if len(fx.stock.reserved) != 1 || fx.stock.reserved[0].Lines[0].Quantity != 2 {
		t.Fatalf("expected one reserve call, got %+v", fx.stock.reserved)
	}
	if len(fx.cart.cleared) != 1 || fx.cart.cleared[0] != "u1" {
		t.Fatalf("expected cart cleared once, got %+v", fx.cart.cleared)
	}
	if len(fx.orders.inserted) != 1 {
		t.Fatalf("expected one insert, got %d", len(fx.orders.inserted))
	}
	if len(fx.events.events) != 1 || fx.events.events[0].Type != EventOrderPlaced {
		t.Fatalf("expected order placed event, got %+v", fx.events.events)
	}
}

func TestPlaceOrderFreeShippingBoundary(t *testing.T) {
	fx := &orderFixture{
		cart: &stubCartService{cart: cartWithLines(
			domain.CartItem{ID: "l1", ProductID: "prod_1", SKU: "KUR-M-001", Quantity: 1, UnitPrice: domain.FreeShippingThreshold, MRP: domain.FreeShippingThreshold},
		)},
	}
	svc := newTestOrderService(t, fx)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		UserID:          "u1",
		ShippingAddress: testAddress(),
		PaymentMethod:   domain.PaymentMethodCOD,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if result.Order.ShippingFee != 0 {
		t.Fatalf("expected free shipping at threshold, got %d", result.Order.ShippingFee)
	}
	if result.Order.GrandTotal != domain.FreeShippingThreshold {
		t.Fatalf("unexpected grand total %d", result.Order.GrandTotal)
	}
}

func TestPlaceOrderEmptyCart(t *testing.T) {
	fx := &orderFixture{cart: &stubCartService{cart: domain.Cart{ID: "u1", UserID: "u1"}}}
	svc := newTestOrderService(t, fx)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		UserID:          "u1",
		ShippingAddress: testAddress(),
		PaymentMethod:   domain.PaymentMethodCOD,
	})
	if !errors.Is(err, ErrOrderEmptyCart) {
		t.Fatalf("expected empty cart error, got %v", err)
	}
	if len(fx.stock.reserved) != 0 {
		t.Fatalf("empty cart must not reserve stock")
	}
}

func TestPlaceOrderInsufficientStockAborts(t *testing.T) {
	fx := &orderFixture{
		cart: &stubCartService{cart: cartWithLines(
			domain.CartItem{ID: "l1", ProductID: "prod_1", SKU: "KUR-M-001", Quantity: 9, UnitPrice: 40000, MRP: 50000},
		)},
		stock: &stubStockService{reserveErr: fmt.Errorf("%w: only 5 left for KUR-M-001", ErrStockInsufficient)},
	}
	svc := newTestOrderService(t, fx)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		UserID:          "u1",
		ShippingAddress: testAddress(),
		PaymentMethod:   domain.PaymentMethodCOD,
	})
	if !errors.Is(err, ErrOrderInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if !strings.Contains(err.Error(), "only 5 left for KUR-M-001") {
		t.Fatalf("expected remaining count in message, got %q", err.Error())
	}
	if len(fx.orders.inserted) != 0 {
		t.Fatalf("no order may be created on stock failure")
	}
	if len(fx.cart.cleared) != 0 {
		t.Fatalf("cart must stay intact on stock failure")
	}
}

func TestPlaceOrderGatewayStoresGatewayOrderID(t *testing.T) {
	fx := &orderFixture{
		cart: &stubCartService{cart: cartWithLines(
			domain.CartItem{ID: "l1", ProductID: "prod_1", SKU: "KUR-M-001", Quantity: 1, UnitPrice: 129900, MRP: 159900},
		)},
	}
	svc := newTestOrderService(t, fx)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		UserID:          "u1",
		ShippingAddress: testAddress(),
		PaymentMethod:   domain.PaymentMethodUPI,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if result.GatewayOrder == nil || result.GatewayOrder.ID != "order_rzp_1" {
		t.Fatalf("expected gateway order, got %+v", result.GatewayOrder)
	}
	if result.Order.Payment.Status != domain.PaymentStatusCreated {
		t.Fatalf("expected payment created, got %q", result.Order.Payment.Status)
	}
	if result.Order.Payment.GatewayOrderID != "order_rzp_1" {
		t.Fatalf("expected gateway order id stored, got %q", result.Order.Payment.GatewayOrderID)
	}
	if len(fx.gateway.requests) != 1 {
		t.Fatalf("expected one gateway request, got %d", len(fx.gateway.requests))
	}
	if fx.gateway.requests[0].Amount != result.Order.GrandTotal {
		t.Fatalf("gateway amount %d must equal grand total %d", fx.gateway.requests[0].Amount, result.Order.GrandTotal)
	}
	// Insert happens before the gateway call, update after.
	if len(fx.orders.inserted) != 1 || len(fx.orders.updated) != 1 {
		t.Fatalf("expected insert then update, got %d/%d", len(fx.orders.inserted), len(fx.orders.updated))
	}
}

func TestPlaceOrderGatewayFailureReleasesStock(t *testing.T) {
	fx := &orderFixture{
		cart: &stubCartService{cart: cartWithLines(
			domain.CartItem{ID: "l1", ProductID: "prod_1", SKU: "KUR-M-001", Quantity: 1, UnitPrice: 129900, MRP: 159900},
		)},
		gateway: &stubGatewayManager{err: errors.New("gateway timeout")},
	}
	svc := newTestOrderService(t, fx)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		UserID:          "u1",
		ShippingAddress: testAddress(),
		PaymentMethod:   domain.PaymentMethodUPI,
	})
	if !errors.Is(err, ErrOrderPaymentFailed) {
		t.Fatalf("expected payment failure, got %v", err)
	}
	if len(fx.stock.released) != 1 {
		t.Fatalf("expected stock released on gateway failure, got %d", len(fx.stock.released))
	}
	if len(fx.cart.cleared) != 0 {
		t.Fatalf("cart must stay intact on gateway failure")
	}
}

func TestPlaceOrderBuyNowSnapshotsCurrentPrice(t *testing.T) {
	fx := &orderFixture{}
	svc := newTestOrderService(t, fx)

	result, err := svc.PlaceOrder(context.Background(), PlaceOrderCommand{
		UserID: "u1",
		BuyNow: &BuyNowItem{
			ProductID: "prod_1",
			SKU:       "KUR-M-001",
			Quantity:  2,
		},
		ShippingAddress: testAddress(),
		PaymentMethod:   domain.PaymentMethodCOD,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	order := result.Order
	if len(order.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(order.Items))
	}
	if order.Items[0].UnitPrice != 129900 || order.Items[0].Subtotal != 259800 {
		t.Fatalf("expected sale price snapshot, got %+v", order.Items[0])
	}
	if len(fx.cart.cleared) != 0 {
		t.Fatalf("buy-now must never touch the cart")
	}
}

func TestGetOrderScopedToOwner(t *testing.T) {
	fx := &orderFixture{
		orders: &stubOrderRepository{
			findFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
				return domain.Order{ID: orderID, UserID: "owner"}, nil
			},
		},
	}
	svc := newTestOrderService(t, fx)

	if _, err := svc.GetOrder(context.Background(), GetOrderQuery{UserID: "owner", OrderID: "ord_1"}); err != nil {
		t.Fatalf("GetOrder as owner: %v", err)
	}
	if _, err := svc.GetOrder(context.Background(), GetOrderQuery{UserID: "intruder", OrderID: "ord_1"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found for foreign order, got %v", err)
	}
}

func TestUpdateStatusLegalAndIllegalTransitions(t *testing.T) {
	current := domain.OrderStatusPending
	fx := &orderFixture{
		orders: &stubOrderRepository{
			findFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
				return domain.Order{ID: orderID, UserID: "u1", Status: current, ReservationID: "resv_test"}, nil
			},
		},
	}
	svc := newTestOrderService(t, fx)

	order, err := svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID: "ord_1",
		Target:  domain.OrderStatusProcessing,
		Actor:   "admin_1",
	})
	if err != nil {
		t.Fatalf("pending -> processing: %v", err)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Fatalf("unexpected status %q", order.Status)
	}

	_, err = svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID: "ord_1",
		Target:  domain.OrderStatusDelivered,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid transition pending -> delivered, got %v", err)
	}

	current = domain.OrderStatusShipped
	_, err = svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID: "ord_1",
		Target:  domain.OrderStatusCancelled,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected shipped -> cancelled refused, got %v", err)
	}
}

func TestUpdateStatusStampsTracking(t *testing.T) {
	current := domain.OrderStatusProcessing
	fx := &orderFixture{
		orders: &stubOrderRepository{
			findFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
				return domain.Order{ID: orderID, UserID: "u1", Status: current}, nil
			},
		},
	}
	svc := newTestOrderService(t, fx)

	order, err := svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID:        "ord_1",
		Target:         domain.OrderStatusShipped,
		CourierName:    "Delhivery",
		TrackingNumber: "DL123",
	})
	if err != nil {
		t.Fatalf("processing -> shipped: %v", err)
	}
	if order.Tracking.ShippedAt == nil {
		t.Fatalf("expected shippedAt stamped")
	}
	if order.Tracking.CourierName != "Delhivery" || order.Tracking.TrackingNumber != "DL123" {
		t.Fatalf("unexpected tracking %+v", order.Tracking)
	}

	current = domain.OrderStatusShipped
	order, err = svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID: "ord_1",
		Target:  domain.OrderStatusDelivered,
	})
	if err != nil {
		t.Fatalf("shipped -> delivered: %v", err)
	}
	if order.Tracking.DeliveredAt == nil {
		t.Fatalf("expected deliveredAt stamped")
	}
}

func TestUpdateStatusCancelReleasesStock(t *testing.T) {
	fx := &orderFixture{
		orders: &stubOrderRepository{
			findFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
				return domain.Order{ID: orderID, UserID: "u1", Status: domain.OrderStatusPending, ReservationID: "resv_test"}, nil
			},
		},
	}
	svc := newTestOrderService(t, fx)

	order, err := svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID:      "ord_1",
		Target:       domain.OrderStatusCancelled,
		CancelReason: "customer request",
	})
	if err != nil {
		t.Fatalf("pending -> cancelled: %v", err)
	}
	if order.CancelledAt == nil || order.CancelReason == nil || *order.CancelReason != "customer request" {
		t.Fatalf("expected cancellation stamps, got %+v", order)
	}
	if len(fx.stock.released) != 1 || fx.stock.released[0].ReservationID != "resv_test" {
		t.Fatalf("expected reservation released, got %+v", fx.stock.released)
	}
}

func TestListOrdersForwardsFilter(t *testing.T) {
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 30, 23, 59, 59, 0, time.UTC)

	var captured repositories.OrderListFilter
	fx := &orderFixture{
		orders: &stubOrderRepository{
			listFunc: func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
				captured = filter
				return domain.CursorPage[domain.Order]{Items: []domain.Order{{ID: "ord_1"}}}, nil
			},
		},
	}
	svc := newTestOrderService(t, fx)

	page, err := svc.ListOrders(context.Background(), OrderListFilter{
		UserID:     " u1 ",
		Status:     []OrderStatus{domain.OrderStatusPending, domain.OrderStatusShipped},
		From:       &from,
		To:         &to,
		Pagination: Pagination{PageSize: 10},
	})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "ord_1" {
		t.Fatalf("unexpected page %+v", page)
	}

	if captured.UserID != "u1" {
		t.Fatalf("expected trimmed user id, got %q", captured.UserID)
	}
	if len(captured.Status) != 2 || captured.Status[0] != "pending" || captured.Status[1] != "shipped" {
		t.Fatalf("unexpected status filter %v", captured.Status)
	}
	if captured.DateRange.From == nil || !captured.DateRange.From.Equal(from) {
		t.Fatalf("expected from bound %v, got %v", from, captured.DateRange.From)
	}
	if captured.DateRange.To == nil || !captured.DateRange.To.Equal(to) {
		t.Fatalf("expected to bound %v, got %v", to, captured.DateRange.To)
	}
	if captured.Pagination.PageSize != 10 {
		t.Fatalf("unexpected pagination %+v", captured.Pagination)
	}
}
