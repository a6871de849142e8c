package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/auric-commerce/api/internal/domain"
	"github.com/auric-commerce/api/internal/payments"
	"github.com/auric-commerce/api/internal/services"
)

type stubOrderService struct {
	placeFunc  func(ctx context.Context, cmd services.PlaceOrderCommand) (services.PlaceOrderResult, error)
	getFunc    func(ctx context.Context, cmd services.GetOrderQuery) (services.Order, error)
	listFunc   func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	updateFunc func(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error)
}

func (s *stubOrderService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.PlaceOrderResult, error) {
	if s.placeFunc == nil {
		return services.PlaceOrderResult{}, nil
	}
	return s.placeFunc(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, cmd services.GetOrderQuery) (services.Order, error) {
	if s.getFunc == nil {
		return services.Order{}, nil
	}
	return s.getFunc(ctx, cmd)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFunc == nil {
		return domain.CursorPage[services.Order]{}, nil
	}
	return s.listFunc(ctx, filter)
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.updateFunc == nil {
		return services.Order{}, nil
	}
	return s.updateFunc(ctx, cmd)
}

func newOrderTestRouter(service services.OrderService) chi.Router {
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func sampleOrder() services.Order {
	placedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return services.Order{
		ID:            "ord_01TEST",
		InvoiceNumber: "ORD-20250601-1",
		UserID:        "user-7",
		Status:        domain.OrderStatusPending,
		Currency:      "INR",
		Items: []services.OrderItem{
			{ProductID: "prod_1", SKU: "KUR-M-001", Title: "Linen Kurta", Quantity: 2, UnitPrice: 40000, MRP: 50000, Subtotal: 80000},
		},
		TotalItems:    2,
		TotalMRP:      100000,
		TotalDiscount: 20000,
		TotalAmount:   80000,
		ShippingFee:   domain.FlatShippingFee,
		GrandTotal:    80000 + domain.FlatShippingFee,
		ShippingAddress: domain.ShippingAddress{
			Name:         "Asha Sharma",
			AddressLine1: "12 MG Road",
			City:         "Bengaluru",
			PostalCode:   "560001",
			Country:      "India",
		},
		Payment: domain.Payment{
			Method:   domain.PaymentMethodCOD,
			Status:   domain.PaymentStatusPending,
			Amount:   80000 + domain.FlatShippingFee,
			Currency: "INR",
		},
		ReturnPolicy: domain.ReturnPolicy{IsReturnable: true, ReturnWindowDays: 7},
		PlacedAt:     placedAt,
	}
}

func TestOrderHandlersPlaceOrderCOD(t *testing.T) {
	var captured services.PlaceOrderCommand
	service := &stubOrderService{
		placeFunc: func(ctx context.Context, cmd services.PlaceOrderCommand) (services.PlaceOrderResult, error) {
			captured = cmd
			return services.PlaceOrderResult{Order: sampleOrder()}, nil
		},
	}

	body := `{
		"shipping_address": {"name":"Asha Sharma","address_line1":"12 MG Road","city":"Bengaluru","postal_code":"560001"},
		"payment_method": "cod"
	}`
	router := newOrderTestRouter(service)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders", body, "user-7"))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-7" {
		t.Fatalf("expected user-7, got %q", captured.UserID)
	}
	if captured.PaymentMethod != domain.PaymentMethodCOD {
		t.Fatalf("expected payment method COD, got %q", captured.PaymentMethod)
	}
	if captured.ShippingAddress.City != "Bengaluru" {
		t.Fatalf("unexpected address: %+v", captured.ShippingAddress)
	}

	var resp placeOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Order.InvoiceNumber != "ORD-20250601-1" {
		t.Fatalf("expected invoice number, got %q", resp.Order.InvoiceNumber)
	}
	if resp.GatewayOrder != nil {
		t.Fatalf("expected no gateway order for COD, got %+v", resp.GatewayOrder)
	}
}

func TestOrderHandlersPlaceOrderGateway(t *testing.T) {
	order := sampleOrder()
	order.Payment.Method = domain.PaymentMethodUPI
	order.Payment.Status = domain.PaymentStatusCreated
	order.Payment.Provider = "razorpay"
	order.Payment.GatewayOrderID = "order_rzp_1"

	service := &stubOrderService{
		placeFunc: func(ctx context.Context, cmd services.PlaceOrderCommand) (services.PlaceOrderResult, error) {
			return services.PlaceOrderResult{
				Order: order,
				GatewayOrder: &payments.GatewayOrder{
					ID:       "order_rzp_1",
					Provider: "razorpay",
					Amount:   order.GrandTotal,
					Currency: "INR",
					Status:   payments.StatusCreated,
				},
			}, nil
		},
	}

	body := `{
		"buy_now": {"product_id":"prod_1","sku":"KUR-M-001","quantity":2},
		"shipping_address": {"name":"Asha Sharma","address_line1":"12 MG Road","city":"Bengaluru","postal_code":"560001"},
		"payment_method": "UPI"
	}`
	router := newOrderTestRouter(service)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders", body, "user-7"))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}

	var resp placeOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.GatewayOrder == nil || resp.GatewayOrder.ID != "order_rzp_1" {
		t.Fatalf("expected gateway order in response, got %+v", resp.GatewayOrder)
	}
	if resp.GatewayOrder.Amount != order.GrandTotal {
		t.Fatalf("expected gateway amount %d, got %d", order.GrandTotal, resp.GatewayOrder.Amount)
	}
}

func TestOrderHandlersPlaceOrderEmptyCart(t *testing.T) {
	service := &stubOrderService{
		placeFunc: func(ctx context.Context, cmd services.PlaceOrderCommand) (services.PlaceOrderResult, error) {
			return services.PlaceOrderResult{}, services.ErrOrderEmptyCart
		},
	}

	body := `{"shipping_address":{"name":"A","address_line1":"1","city":"B","postal_code":"5"},"payment_method":"COD"}`
	router := newOrderTestRouter(service)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders", body, "user-7"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "cart_empty" {
		t.Fatalf("expected cart_empty, got %v", resp["error"])
	}
}

func TestOrderHandlersPlaceOrderInsufficientStock(t *testing.T) {
	service := &stubOrderService{
		placeFunc: func(ctx context.Context, cmd services.PlaceOrderCommand) (services.PlaceOrderResult, error) {
			return services.PlaceOrderResult{}, fmt.Errorf("%w: only 5 left for KUR-M-001", services.ErrOrderInsufficientStock)
		},
	}

	body := `{"shipping_address":{"name":"A","address_line1":"1","city":"B","postal_code":"5"},"payment_method":"COD"}`
	router := newOrderTestRouter(service)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders", body, "user-7"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	message, _ := resp["message"].(string)
	if !strings.Contains(message, "only 5 left for KUR-M-001") {
		t.Fatalf("expected stock message, got %q", message)
	}
}

func TestOrderHandlersListOrdersFilters(t *testing.T) {
	var captured services.OrderListFilter
	service := &stubOrderService{
		listFunc: func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder()},
				NextPageToken: "tok-2",
			}, nil
		},
	}

	router := newOrderTestRouter(service)
	rr := httptest.NewRecorder()
	target := "/orders?status=pending,processing&placed_after=2025-06-01T00:00:00Z&page_size=5&page_token=tok-1"
	router.ServeHTTP(rr, authedRequest(http.MethodGet, target, "", "user-7"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.UserID != "user-7" {
		t.Fatalf("expected user filter, got %q", captured.UserID)
	}
	if len(captured.Status) != 2 || captured.Status[0] != domain.OrderStatusPending {
		t.Fatalf("unexpected status filter: %+v", captured.Status)
	}
	if captured.From == nil || !captured.From.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected placed_after filter, got %+v", captured.From)
	}
	if captured.Pagination.PageSize != 5 || captured.Pagination.PageToken != "tok-1" {
		t.Fatalf("unexpected pagination: %+v", captured.Pagination)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].InvoiceNumber != "ORD-20250601-1" {
		t.Fatalf("unexpected items: %+v", resp.Items)
	}
	if resp.NextPageToken != "tok-2" {
		t.Fatalf("expected next page token, got %q", resp.NextPageToken)
	}
}

func TestOrderHandlersListOrdersRejectsUnknownStatus(t *testing.T) {
	router := newOrderTestRouter(&stubOrderService{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/orders?status=bogus", "", "user-7"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	service := &stubOrderService{
		getFunc: func(ctx context.Context, cmd services.GetOrderQuery) (services.Order, error) {
			return services.Order{}, services.ErrOrderNotFound
		},
	}

	router := newOrderTestRouter(service)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodGet, "/orders/ord_missing", "", "user-7"))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestOrderHandlersCancelOrder(t *testing.T) {
	var captured services.UpdateOrderStatusCommand
	service := &stubOrderService{
		getFunc: func(ctx context.Context, cmd services.GetOrderQuery) (services.Order, error) {
			if cmd.UserID != "user-7" || cmd.OrderID != "ord_01TEST" {
				t.Fatalf("unexpected get query: %+v", cmd)
			}
			return sampleOrder(), nil
		},
		updateFunc: func(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
	}

	router := newOrderTestRouter(service)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPost, "/orders/ord_01TEST:cancel", `{"reason":"changed my mind"}`, "user-7"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.Target != domain.OrderStatusCancelled {
		t.Fatalf("expected cancel target, got %q", captured.Target)
	}
	if captured.Actor != "user-7" || captured.CancelReason != "changed my mind" {
		t.Fatalf("unexpected command: %+v", captured)
	}
}

func TestOrderHandlersUpdateStatusStampsTracking(t *testing.T) {
	var captured services.UpdateOrderStatusCommand
	service := &stubOrderService{
		updateFunc: func(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusShipped
			return order, nil
		},
	}

	body := `{"status":"shipped","courier_name":"Bluedart","tracking_number":"BD123","tracking_url":"https://track.example/BD123"}`
	router := newOrderTestRouter(service)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPatch, "/orders/ord_01TEST/status", body, "admin-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.Target != domain.OrderStatusShipped {
		t.Fatalf("expected shipped target, got %q", captured.Target)
	}
	if captured.CourierName != "Bluedart" || captured.TrackingNumber != "BD123" {
		t.Fatalf("unexpected tracking: %+v", captured)
	}
}

func TestOrderHandlersUpdateStatusRejectsUnknownStatus(t *testing.T) {
	router := newOrderTestRouter(&stubOrderService{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPatch, "/orders/ord_01TEST/status", `{"status":"teleported"}`, "admin-1"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersUpdateStatusIllegalTransition(t *testing.T) {
	service := &stubOrderService{
		updateFunc: func(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderInvalidState
		},
	}

	router := newOrderTestRouter(service)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, authedRequest(http.MethodPatch, "/orders/ord_01TEST/status", `{"status":"delivered"}`, "admin-1"))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

var _ services.OrderService = (*stubOrderService)(nil)
