package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/auric-commerce/api/internal/domain"
	"github.com/auric-commerce/api/internal/platform/auth"
	"github.com/auric-commerce/api/internal/platform/httpx"
	"github.com/auric-commerce/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 32 * 1024
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending:    {},
	domain.OrderStatusProcessing: {},
	domain.OrderStatusShipped:    {},
	domain.OrderStatusDelivered:  {},
	domain.OrderStatusCancelled:  {},
	domain.OrderStatusReturned:   {},
}

// OrderHandlers exposes checkout and order lifecycle endpoints.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints. Status updates require the admin
// role; everything else is scoped to the authenticated user.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.placeOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)

	admin := r
	if h.authn != nil {
		admin = r.With(h.authn.RequireFirebaseAuth("admin"))
	}
	admin.Patch("/{orderID}/status", h.updateStatus)
}

type placeOrderRequest struct {
	BuyNow          *buyNowRequest         `json:"buy_now"`
	ShippingAddress shippingAddressPayload `json:"shipping_address"`
	PaymentMethod   string                 `json:"payment_method"`
	Currency        string                 `json:"currency"`
}

type buyNowRequest struct {
	ProductID  string            `json:"product_id"`
	SKU        string            `json:"sku"`
	Attributes map[string]string `json:"attributes"`
	Quantity   int               `json:"quantity"`
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}

	var req placeOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.PlaceOrderCommand{
		UserID:          identity.UID,
		ShippingAddress: shippingAddressFromPayload(req.ShippingAddress),
		PaymentMethod:   domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		Currency:        strings.TrimSpace(req.Currency),
	}
	if req.BuyNow != nil {
		cmd.BuyNow = &services.BuyNowItem{
			ProductID:  strings.TrimSpace(req.BuyNow.ProductID),
			SKU:        strings.TrimSpace(req.BuyNow.SKU),
			Attributes: cloneStringMap(req.BuyNow.Attributes),
			Quantity:   req.BuyNow.Quantity,
		}
	}

	result, err := h.orders.PlaceOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	response := placeOrderResponse{Order: buildOrderPayload(result.Order)}
	if result.GatewayOrder != nil {
		response.GatewayOrder = &gatewayOrderPayload{
			ID:       result.GatewayOrder.ID,
			Provider: result.GatewayOrder.Provider,
			Amount:   result.GatewayOrder.Amount,
			Currency: result.GatewayOrder.Currency,
			Status:   string(result.GatewayOrder.Status),
		}
	}
	writeJSONResponse(w, http.StatusCreated, response)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()

	statuses, err := parseOrderStatusFilters(query["status"])
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		UserID: identity.UID,
		Status: statuses,
	}

	if raw := strings.TrimSpace(query.Get("placed_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "placed_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("placed_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "placed_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.To = &ts
	}

	pageSize := defaultOrderPageSize
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultOrderPageSize
		case size > maxOrderPageSize:
			pageSize = maxOrderPageSize
		default:
			pageSize = size
		}
	}
	filter.Pagination = services.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{UserID: identity.UID, OrderID: orderID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	if body, err := readLimitedBody(r, maxOrderBodySize); err == nil {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	} else if !errors.Is(err, errEmptyBody) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	// Ownership check; a foreign order surfaces as not found.
	if _, err := h.orders.GetOrder(ctx, services.GetOrderQuery{UserID: identity.UID, OrderID: orderID}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID:      orderID,
		Target:       domain.OrderStatusCancelled,
		Actor:        identity.UID,
		CancelReason: strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type updateOrderStatusRequest struct {
	Status         string `json:"status"`
	CourierName    string `json:"courier_name"`
	TrackingNumber string `json:"tracking_number"`
	TrackingURL    string `json:"tracking_url"`
	CancelReason   string `json:"cancel_reason"`
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var req updateOrderStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if _, ok := validOrderStatuses[target]; !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID:        orderID,
		Target:         target,
		Actor:          identity.UID,
		CourierName:    strings.TrimSpace(req.CourierName),
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		TrackingURL:    strings.TrimSpace(req.TrackingURL),
		CancelReason:   strings.TrimSpace(req.CancelReason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func parseOrderStatusFilters(values []string) ([]services.OrderStatus, error) {
	if len(values) == 0 {
		return nil, nil
	}
	seen := make(map[domain.OrderStatus]struct{}, len(values))
	statuses := make([]services.OrderStatus, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(part)))
			if status == "" {
				continue
			}
			if _, ok := validOrderStatuses[status]; !ok {
				return nil, errors.New("status filter contains an unknown order status")
			}
			if _, dup := seen[status]; dup {
				continue
			}
			seen[status] = struct{}{}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", trimServicePrefix(err.Error()), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", trimServicePrefix(err.Error()), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", "order status transition is not allowed", http.StatusConflict))
	case errors.Is(err, services.ErrOrderPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "payment gateway rejected the order", http.StatusBadGateway))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "order operation failed", http.StatusInternalServerError))
	}
}

type placeOrderResponse struct {
	Order        orderPayload         `json:"order"`
	GatewayOrder *gatewayOrderPayload `json:"gateway_order,omitempty"`
}

type gatewayOrderPayload struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	InvoiceNumber string `json:"invoice_number"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	Currency      string `json:"currency"`
	TotalItems    int    `json:"total_items"`
	GrandTotal    int64  `json:"grand_total"`
	PlacedAt      string `json:"placed_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID              string                 `json:"id"`
	InvoiceNumber   string                 `json:"invoice_number"`
	UserID          string                 `json:"user_id"`
	Status          string                 `json:"status"`
	Currency        string                 `json:"currency"`
	Items           []orderItemPayload     `json:"items"`
	TotalItems      int                    `json:"total_items"`
	TotalMRP        int64                  `json:"total_mrp"`
	TotalDiscount   int64                  `json:"total_discount"`
	TotalAmount     int64                  `json:"total_amount"`
	ShippingFee     int64                  `json:"shipping_fee"`
	GrandTotal      int64                  `json:"grand_total"`
	ShippingAddress shippingAddressPayload `json:"shipping_address"`
	Payment         orderPaymentPayload    `json:"payment"`
	Tracking        *orderTrackingPayload  `json:"tracking,omitempty"`
	ReturnPolicy    returnPolicyPayload    `json:"return_policy"`
	CancelReason    *string                `json:"cancel_reason,omitempty"`
	PlacedAt        string                 `json:"placed_at"`
	CancelledAt     string                 `json:"cancelled_at,omitempty"`
	ReturnedAt      string                 `json:"returned_at,omitempty"`
	UpdatedAt       string                 `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku,omitempty"`
	Title     string `json:"title,omitempty"`
	Size      string `json:"size,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	MRP       int64  `json:"mrp"`
	Subtotal  int64  `json:"subtotal"`
}

type shippingAddressPayload struct {
	Name         string `json:"name"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country,omitempty"`
}

type orderPaymentPayload struct {
	Method           string `json:"method"`
	Status           string `json:"status"`
	Provider         string `json:"provider,omitempty"`
	GatewayOrderID   string `json:"gateway_order_id,omitempty"`
	GatewayPaymentID string `json:"gateway_payment_id,omitempty"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	PaidAt           string `json:"paid_at,omitempty"`
	RefundedAt       string `json:"refunded_at,omitempty"`
}

type orderTrackingPayload struct {
	CourierName    string `json:"courier_name,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	TrackingURL    string `json:"tracking_url,omitempty"`
	ShippedAt      string `json:"shipped_at,omitempty"`
	DeliveredAt    string `json:"delivered_at,omitempty"`
}

type returnPolicyPayload struct {
	IsReturnable     bool `json:"is_returnable"`
	ReturnWindowDays int  `json:"return_window_days"`
}

func shippingAddressFromPayload(payload shippingAddressPayload) domain.ShippingAddress {
	return domain.ShippingAddress{
		Name:         strings.TrimSpace(payload.Name),
		Phone:        strings.TrimSpace(payload.Phone),
		Email:        strings.TrimSpace(payload.Email),
		AddressLine1: strings.TrimSpace(payload.AddressLine1),
		AddressLine2: strings.TrimSpace(payload.AddressLine2),
		City:         strings.TrimSpace(payload.City),
		State:        strings.TrimSpace(payload.State),
		PostalCode:   strings.TrimSpace(payload.PostalCode),
		Country:      strings.TrimSpace(payload.Country),
	}
}

func buildShippingAddressPayload(addr domain.ShippingAddress) shippingAddressPayload {
	return shippingAddressPayload{
		Name:         addr.Name,
		Phone:        addr.Phone,
		Email:        addr.Email,
		AddressLine1: addr.AddressLine1,
		AddressLine2: addr.AddressLine2,
		City:         addr.City,
		State:        addr.State,
		PostalCode:   addr.PostalCode,
		Country:      addr.Country,
	}
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	summary := orderSummaryPayload{
		ID:            order.ID,
		InvoiceNumber: order.InvoiceNumber,
		Status:        string(order.Status),
		PaymentStatus: string(order.Payment.Status),
		Currency:      order.Currency,
		TotalItems:    order.TotalItems,
		GrandTotal:    order.GrandTotal,
	}
	if !order.PlacedAt.IsZero() {
		summary.PlacedAt = formatTime(order.PlacedAt)
	}
	return summary
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		InvoiceNumber:   order.InvoiceNumber,
		UserID:          order.UserID,
		Status:          string(order.Status),
		Currency:        order.Currency,
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		TotalItems:      order.TotalItems,
		TotalMRP:        order.TotalMRP,
		TotalDiscount:   order.TotalDiscount,
		TotalAmount:     order.TotalAmount,
		ShippingFee:     order.ShippingFee,
		GrandTotal:      order.GrandTotal,
		ShippingAddress: buildShippingAddressPayload(order.ShippingAddress),
		Payment: orderPaymentPayload{
			Method:           string(order.Payment.Method),
			Status:           string(order.Payment.Status),
			Provider:         order.Payment.Provider,
			GatewayOrderID:   order.Payment.GatewayOrderID,
			GatewayPaymentID: order.Payment.GatewayPaymentID,
			Amount:           order.Payment.Amount,
			Currency:         order.Payment.Currency,
			PaidAt:           formatTimePointer(order.Payment.PaidAt),
			RefundedAt:       formatTimePointer(order.Payment.RefundedAt),
		},
		ReturnPolicy: returnPolicyPayload{
			IsReturnable:     order.ReturnPolicy.IsReturnable,
			ReturnWindowDays: order.ReturnPolicy.ReturnWindowDays,
		},
		CancelReason: order.CancelReason,
		CancelledAt:  formatTimePointer(order.CancelledAt),
		ReturnedAt:   formatTimePointer(order.ReturnedAt),
	}
	if !order.PlacedAt.IsZero() {
		payload.PlacedAt = formatTime(order.PlacedAt)
	}
	if !order.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(order.UpdatedAt)
	}

	tracking := order.Tracking
	if tracking.CourierName != "" || tracking.TrackingNumber != "" || tracking.ShippedAt != nil || tracking.DeliveredAt != nil {
		payload.Tracking = &orderTrackingPayload{
			CourierName:    tracking.CourierName,
			TrackingNumber: tracking.TrackingNumber,
			TrackingURL:    tracking.TrackingURL,
			ShippedAt:      formatTimePointer(tracking.ShippedAt),
			DeliveredAt:    formatTimePointer(tracking.DeliveredAt),
		}
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Title:     item.Title,
			Size:      item.Size,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			MRP:       item.MRP,
			Subtotal:  item.Subtotal,
		})
	}
	return payload
}
