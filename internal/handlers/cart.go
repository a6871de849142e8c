package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/auric-commerce/api/internal/platform/auth"
	"github.com/auric-commerce/api/internal/platform/httpx"
	"github.com/auric-commerce/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes authenticated cart endpoints for the current user.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Post("/items:increase", h.increaseQuantity)
	r.Post("/items:decrease", h.decreaseQuantity)
	r.Post("/items:remove", h.removeItem)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(ctx, identity.UID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req addCartItemRequest
	if !decodeCartBody(ctx, w, r, &req) {
		return
	}

	cart, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		UserID:        identity.UID,
		ProductID:     strings.TrimSpace(req.ProductID),
		SKU:           strings.TrimSpace(req.SKU),
		Attributes:    cloneStringMap(req.Attributes),
		Customization: cloneMap(req.Customization),
		Quantity:      req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) increaseQuantity(w http.ResponseWriter, r *http.Request) {
	h.lineOperation(w, r, h.carts.IncreaseQuantity)
}

func (h *CartHandlers) decreaseQuantity(w http.ResponseWriter, r *http.Request) {
	h.lineOperation(w, r, h.carts.DecreaseQuantity)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	h.lineOperation(w, r, h.carts.RemoveItem)
}

func (h *CartHandlers) lineOperation(w http.ResponseWriter, r *http.Request, op func(context.Context, services.CartLineCommand) (services.Cart, error)) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req cartLineRequest
	if !decodeCartBody(ctx, w, r, &req) {
		return
	}

	cart, err := op(ctx, services.CartLineCommand{
		UserID:    identity.UID,
		ProductID: strings.TrimSpace(req.ProductID),
		SKU:       strings.TrimSpace(req.SKU),
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireIdentity(ctx, w)
	if !ok {
		return
	}

	if err := h.carts.ClearCart(ctx, identity.UID); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func decodeCartBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", trimServicePrefix(err.Error()), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", trimServicePrefix(err.Error()), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogNotFound), errors.Is(err, services.ErrCatalogVariantNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart was modified concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable), errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "cart operation failed", http.StatusInternalServerError))
	}
}

// trimServicePrefix strips the package sentinel prefix so clients see only the
// human readable detail.
func trimServicePrefix(message string) string {
	if idx := strings.LastIndex(message, ": "); idx >= 0 {
		detail := strings.TrimSpace(message[idx+2:])
		if detail != "" {
			return detail
		}
	}
	return message
}

type addCartItemRequest struct {
	ProductID     string            `json:"product_id"`
	SKU           string            `json:"sku"`
	Attributes    map[string]string `json:"attributes"`
	Customization map[string]any    `json:"customization"`
	Quantity      int               `json:"quantity"`
}

type cartLineRequest struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Items         []cartItemPayload `json:"items"`
	TotalItems    int               `json:"total_items"`
	TotalPrice    int64             `json:"total_price"`
	TotalMRP      int64             `json:"total_mrp"`
	TotalDiscount int64             `json:"total_discount"`
	UpdatedAt     string            `json:"updated_at,omitempty"`
}

type cartItemPayload struct {
	ID            string            `json:"id"`
	ProductID     string            `json:"product_id"`
	SKU           string            `json:"sku,omitempty"`
	Title         string            `json:"title,omitempty"`
	Size          string            `json:"size,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	Customization map[string]any    `json:"customization,omitempty"`
	Quantity      int               `json:"quantity"`
	UnitPrice     int64             `json:"unit_price"`
	MRP           int64             `json:"mrp"`
	Subtotal      int64             `json:"subtotal"`
	AddedAt       string            `json:"added_at,omitempty"`
	UpdatedAt     string            `json:"updated_at,omitempty"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:            strings.TrimSpace(cart.ID),
		UserID:        strings.TrimSpace(cart.UserID),
		Items:         make([]cartItemPayload, 0, len(cart.Items)),
		TotalItems:    cart.TotalItems,
		TotalPrice:    cart.TotalPrice,
		TotalMRP:      cart.TotalMRP,
		TotalDiscount: cart.TotalDiscount,
	}
	if !cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(cart.UpdatedAt)
	}

	for _, item := range cart.Items {
		entry := cartItemPayload{
			ID:            strings.TrimSpace(item.ID),
			ProductID:     strings.TrimSpace(item.ProductID),
			SKU:           strings.TrimSpace(item.SKU),
			Title:         item.Title,
			Size:          item.Size,
			Attributes:    cloneStringMap(item.Attributes),
			Customization: cloneMap(item.Customization),
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			MRP:           item.MRP,
			Subtotal:      item.Subtotal,
		}
		if !item.AddedAt.IsZero() {
			entry.AddedAt = formatTime(item.AddedAt)
		}
		entry.UpdatedAt = formatTimePointer(item.UpdatedAt)
		payload.Items = append(payload.Items, entry)
	}
	return payload
}
