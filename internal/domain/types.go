package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// ProductType distinguishes the two merchandising categories the store sells.
type ProductType string

const (
	// ProductTypeCloths covers size-variant apparel tracked per variant SKU.
	ProductTypeCloths ProductType = "cloths"
	// ProductTypeJewellery covers single-SKU goods tracked at the product level.
	ProductTypeJewellery ProductType = "jewellery"
)

// VariantStatus enumerates sellable states for a product variant.
type VariantStatus string

const (
	// VariantStatusActive marks a variant available for purchase.
	VariantStatusActive VariantStatus = "active"
	// VariantStatusInactive marks a variant hidden from purchase.
	VariantStatusInactive VariantStatus = "inactive"
)

// Media stores a single product image or video reference.
type Media struct {
	URL  string
	Kind string
	Alt  string
}

// Variant represents one sellable variation of a product.
type Variant struct {
	SKU              string
	Size             string
	Attributes       map[string]string
	Status           VariantStatus
	Stock            int
	LowStockAlertQty int
}

// Product is the catalog aggregate read by the cart and order flows.
//
// Money fields are stored in the smallest currency unit (paise). SalePrice,
// when present, must not exceed MRP; CurrentPrice applies that rule.
type Product struct {
	ID          string
	Title       string
	Slug        string
	ProductType ProductType
	MRP         int64
	SalePrice   *int64
	Quantity    int
	Variants    []Variant
	Media       []Media
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CurrentPrice returns the price a new cart line snapshots: the sale price
// when one is set, otherwise the MRP.
func (p Product) CurrentPrice() int64 {
	if p.SalePrice != nil {
		return *p.SalePrice
	}
	return p.MRP
}

// HasVariants reports whether the product tracks stock per variant SKU.
func (p Product) HasVariants() bool {
	return len(p.Variants) > 0
}

// CartItem stores a single line within a cart. UnitPrice and MRP are
// snapshots taken when the line was added; later catalog changes do not
// reprice existing lines.
type CartItem struct {
	ID            string
	ProductID     string
	SKU           string
	Title         string
	Size          string
	Attributes    map[string]string
	Customization map[string]any
	Quantity      int
	UnitPrice     int64
	MRP           int64
	Subtotal      int64
	Media         []Media
	AddedAt       time.Time
	UpdatedAt     *time.Time
}

// Cart aggregates the mutable shopping cart state for a user. Totals are
// derived fields, recomputed in full after every mutation.
type Cart struct {
	ID            string
	UserID        string
	Items         []CartItem
	TotalItems    int
	TotalPrice    int64
	TotalMRP      int64
	TotalDiscount int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ShippingAddress captures the delivery destination for an order.
type ShippingAddress struct {
	Name         string
	Phone        string
	Email        string
	AddressLine1 string
	AddressLine2 string
	City         string
	State        string
	PostalCode   string
	Country      string
}

// PaymentMethod enumerates accepted tender types.
type PaymentMethod string

const (
	// PaymentMethodCOD is cash on delivery.
	PaymentMethodCOD PaymentMethod = "COD"
	// PaymentMethodCard routes to the card payment provider.
	PaymentMethodCard PaymentMethod = "CARD"
	// PaymentMethodUPI routes UPI payments through the gateway.
	PaymentMethodUPI PaymentMethod = "UPI"
	// PaymentMethodNetBanking routes net-banking payments through the gateway.
	PaymentMethodNetBanking PaymentMethod = "NETBANKING"
	// PaymentMethodRazorpay is the hosted gateway checkout.
	PaymentMethodRazorpay PaymentMethod = "RAZORPAY"
)

// PaymentStatus enumerates lifecycle states for an order's payment.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no gateway interaction yet (COD starts here).
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusCreated indicates a gateway order exists and awaits capture.
	PaymentStatusCreated PaymentStatus = "created"
	// PaymentStatusPaid indicates the payment was captured and verified.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed indicates the gateway reported a failure.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates a captured payment was refunded.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Payment records the tender details attached to an order. Amount is the
// order grand total in the smallest currency subunit.
type Payment struct {
	Method           PaymentMethod
	Status           PaymentStatus
	Provider         string
	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string
	Amount           int64
	Currency         string
	PaidAt           *time.Time
	RefundedAt       *time.Time
}

// Tracking carries shipment metadata stamped during fulfilment.
type Tracking struct {
	CourierName    string
	TrackingNumber string
	TrackingURL    string
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
}

// ReturnPolicy records the per-order return terms frozen at placement.
type ReturnPolicy struct {
	IsReturnable     bool
	ReturnWindowDays int
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order is placed and awaits confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates payment cleared and fulfilment started.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before shipment.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusReturned indicates the customer returned the order.
	OrderStatusReturned OrderStatus = "returned"
)

// ReservationStatus enumerates lifecycle states for a stock reservation.
type ReservationStatus string

const (
	// ReservationStatusActive indicates stock is held for a pending order.
	ReservationStatusActive ReservationStatus = "active"
	// ReservationStatusReleased indicates the held stock was restored.
	ReservationStatusReleased ReservationStatus = "released"
)

// StockLine identifies one product/SKU quantity within a reservation.
type StockLine struct {
	ProductID string
	SKU       string
	Quantity  int
}

// StockReservation records stock held for an order so a failed checkout can
// restore it.
type StockReservation struct {
	ID         string
	OrderRef   string
	UserID     string
	Status     ReservationStatus
	Lines      []StockLine
	Reason     string
	CreatedAt  time.Time
	ReleasedAt *time.Time
}

const (
	// HealthStatusOK indicates the dependency responded normally.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates the dependency responded with errors.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the dependency is unreachable or timed out.
	HealthStatusError = "error"
)

// SystemHealthCheck reports the outcome of a single dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// OrderItem mirrors a cart line at the moment the order was placed.
type OrderItem struct {
	ProductID string
	SKU       string
	Title     string
	Size      string
	Quantity  int
	UnitPrice int64
	MRP       int64
	Subtotal  int64
}

// Order is the record produced by checkout plus its mutable fulfilment state.
type Order struct {
	ID              string
	InvoiceNumber   string
	UserID          string
	Items           []OrderItem
	TotalItems      int
	TotalMRP        int64
	TotalDiscount   int64
	TotalAmount     int64
	ShippingFee     int64
	GrandTotal      int64
	Currency        string
	ShippingAddress ShippingAddress
	Payment         Payment
	Status          OrderStatus
	Tracking        Tracking
	ReturnPolicy    ReturnPolicy
	ReservationID   string
	CancelReason    *string
	PlacedAt        time.Time
	CancelledAt     *time.Time
	ReturnedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
