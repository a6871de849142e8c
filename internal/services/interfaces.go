package services

import (
	"context"
	"time"

	domain "github.com/auric-commerce/api/internal/domain"
	"github.com/auric-commerce/api/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination       = domain.Pagination
	SortOrder        = domain.SortOrder
	Product          = domain.Product
	Variant          = domain.Variant
	Cart             = domain.Cart
	CartItem         = domain.CartItem
	Order            = domain.Order
	OrderItem        = domain.OrderItem
	OrderStatus      = domain.OrderStatus
	Payment          = domain.Payment
	PaymentMethod    = domain.PaymentMethod
	PaymentStatus    = domain.PaymentStatus
	ShippingAddress  = domain.ShippingAddress
	Tracking         = domain.Tracking
	ReturnPolicy     = domain.ReturnPolicy
	StockLine        = domain.StockLine
	StockReservation = domain.StockReservation

	SystemHealthReport = domain.SystemHealthReport
)

// CartService manages mutable cart state, snapshotting catalog prices at add
// time and recomputing totals after every mutation.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	IncreaseQuantity(ctx context.Context, cmd CartLineCommand) (Cart, error)
	DecreaseQuantity(ctx context.Context, cmd CartLineCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd CartLineCommand) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// AddCartItemCommand carries the inputs of an add-to-cart request.
type AddCartItemCommand struct {
	UserID        string
	ProductID     string
	SKU           string
	Attributes    map[string]string
	Customization map[string]any
	Quantity      int
}

// CartLineCommand identifies one cart line for quantity or removal operations.
type CartLineCommand struct {
	UserID    string
	ProductID string
	SKU       string
}

// CatalogService reads products and resolves the variant a selector addresses.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
	ResolveVariant(product Product, sku string, attributes map[string]string) (Variant, error)
}

// StockService wraps transactional stock reservation and restoration.
type StockService interface {
	Reserve(ctx context.Context, cmd ReserveStockCommand) (StockReservation, error)
	Release(ctx context.Context, cmd ReleaseStockCommand) (StockReservation, error)
	Available(ctx context.Context, productID string, sku string) (int, error)
}

// ReserveStockCommand requests an atomic decrement across all lines.
type ReserveStockCommand struct {
	ReservationID string
	OrderRef      string
	UserID        string
	Lines         []StockLine
}

// ReleaseStockCommand restores a previously reserved quantity set.
type ReleaseStockCommand struct {
	ReservationID string
	Reason        string
}

// OrderService runs the cart-to-order pipeline and the fulfilment state machine.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error)
	GetOrder(ctx context.Context, cmd GetOrderQuery) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
}

// PlaceOrderResult carries the persisted order plus the gateway order payload
// the client drives the payment UI with. GatewayOrder is nil for COD.
type PlaceOrderResult struct {
	Order        Order
	GatewayOrder *payments.GatewayOrder
}

// BuyNowItem names the single product/SKU/quantity of a buy-now order.
type BuyNowItem struct {
	ProductID  string
	SKU        string
	Attributes map[string]string
	Quantity   int
}

// PlaceOrderCommand assembles an order from the user's cart, or from the
// BuyNow item when one is present (buy-now never touches the cart).
type PlaceOrderCommand struct {
	UserID          string
	BuyNow          *BuyNowItem
	ShippingAddress ShippingAddress
	PaymentMethod   PaymentMethod
	Currency        string
}

// GetOrderQuery fetches one order scoped to its owner.
type GetOrderQuery struct {
	UserID  string
	OrderID string
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID     string
	Status     []OrderStatus
	From       *time.Time
	To         *time.Time
	Pagination Pagination
}

// UpdateOrderStatusCommand drives a fulfilment transition. Tracking fields,
// when set, are stamped onto the order alongside the transition.
type UpdateOrderStatusCommand struct {
	OrderID        string
	Target         OrderStatus
	Actor          string
	CourierName    string
	TrackingNumber string
	TrackingURL    string
	CancelReason   string
}

// CounterService issues monotonically increasing sequence numbers and
// formatted invoice identifiers.
type CounterService interface {
	Next(ctx context.Context, scope string, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextInvoiceNumber(ctx context.Context) (string, error)
}

// CounterGenerationOptions controls how counter values are incremented and formatted.
type CounterGenerationOptions struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
	Prefix       string
	Suffix       string
	PadLength    int
	Formatter    func(now time.Time, value int64) string
}

// CounterValue is one issued sequence value with its formatted representation.
type CounterValue struct {
	Value     int64
	Formatted string
}

// PaymentCallbackService verifies gateway callbacks and settles payments.
type PaymentCallbackService interface {
	HandleCallback(ctx context.Context, cmd PaymentCallbackCommand) (Order, error)
	Refund(ctx context.Context, cmd RefundCommand) (Order, error)
}

// PaymentCallbackCommand carries the gateway's capture notification.
type PaymentCallbackCommand struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	Failed           bool
	FailureReason    string
}

// RefundCommand requests a refund of a captured payment.
type RefundCommand struct {
	OrderID string
	Actor   string
	Reason  string
}

// SystemService exposes operational health facts for the health endpoints.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
}

// Event is the message shape published for commerce lifecycle changes.
type Event struct {
	Type       string         `json:"type"`
	EntityID   string         `json:"entityId"`
	UserID     string         `json:"userId,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// EventPublisher emits lifecycle events. Publishing is best effort; failures
// are logged and never fail the triggering operation.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) (string, error)
}

// Event types emitted by the order and stock flows.
const (
	EventOrderPlaced        = "order.placed"
	EventOrderStatusChanged = "order.status_changed"
	EventPaymentCaptured    = "payment.captured"
	EventPaymentFailed      = "payment.failed"
	EventStockLow           = "stock.low"
)
