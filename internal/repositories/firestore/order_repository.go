package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/auric-commerce/api/internal/domain"
	pfirestore "github.com/auric-commerce/api/internal/platform/firestore"
	"github.com/auric-commerce/api/internal/platform/pagination"
	"github.com/auric-commerce/api/internal/repositories"
)

const (
	orderCollection = "orders"
)

// OrderRepository persists order documents within Firestore.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates the order document. A duplicate id surfaces as a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	ref, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update rewrites the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	if _, err := r.base.Set(ctx, orderID, newOrderDocument(order)); err != nil {
		return err
	}
	return nil
}

// FindByID loads an order document by id.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByGatewayOrderID resolves the order holding the given gateway order
// reference. Payment callbacks identify orders this way.
func (r *OrderRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	gatewayID := strings.TrimSpace(gatewayOrderID)
	if gatewayID == "" {
		return domain.Order{}, errors.New("order repository: gateway order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("payment.gatewayOrderId", "==", gatewayID).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapNotFound("orders.findByGatewayOrderId", fmt.Sprintf("order for gateway order %s not found", gatewayID))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns the user's orders newest first with cursor pagination.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		placedAt, orderID, err := orderCursorValues(cursor)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		startAfter = []any{placedAt, orderID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			q = q.Where("userId", "==", userID)
		}
		if len(filter.Status) > 0 {
			q = q.Where("status", "in", filter.Status)
		}
		if filter.DateRange.From != nil {
			q = q.Where("placedAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("placedAt", "<=", filter.DateRange.To.UTC())
		}
		q = q.OrderBy("placedAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if startAfter != nil {
			q = q.StartAfter(startAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}

	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{last.PlacedAt.UTC().Format(time.RFC3339Nano), last.ID},
		})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{
		Items:         orders,
		NextPageToken: nextToken,
	}, nil
}

// Document structures -------------------------------------------------------

type orderDocument struct {
	InvoiceNumber   string              `firestore:"invoiceNumber"`
	UserID          string              `firestore:"userId"`
	Items           []orderItemDocument `firestore:"items"`
	TotalItems      int                 `firestore:"totalItems"`
	TotalMRP        int64               `firestore:"totalMrp"`
	TotalDiscount   int64               `firestore:"totalDiscount"`
	TotalAmount     int64               `firestore:"totalAmount"`
	ShippingFee     int64               `firestore:"shippingFee"`
	GrandTotal      int64               `firestore:"grandTotal"`
	Currency        string              `firestore:"currency"`
	ShippingAddress addressDocument     `firestore:"shippingAddress"`
	Payment         paymentDocument     `firestore:"payment"`
	Status          string              `firestore:"status"`
	Tracking        trackingDocument    `firestore:"tracking"`
	ReturnPolicy    returnPolicyDoc     `firestore:"returnPolicy"`
	ReservationID   string              `firestore:"reservationId,omitempty"`
	CancelReason    *string             `firestore:"cancelReason,omitempty"`
	PlacedAt        time.Time           `firestore:"placedAt"`
	CancelledAt     *time.Time          `firestore:"cancelledAt,omitempty"`
	ReturnedAt      *time.Time          `firestore:"returnedAt,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	SKU       string `firestore:"sku"`
	Title     string `firestore:"title,omitempty"`
	Size      string `firestore:"size,omitempty"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
	MRP       int64  `firestore:"mrp"`
	Subtotal  int64  `firestore:"subtotal"`
}

type addressDocument struct {
	Name         string `firestore:"name"`
	Phone        string `firestore:"phone"`
	Email        string `firestore:"email,omitempty"`
	AddressLine1 string `firestore:"addressLine1"`
	AddressLine2 string `firestore:"addressLine2,omitempty"`
	City         string `firestore:"city"`
	State        string `firestore:"state"`
	PostalCode   string `firestore:"postalCode"`
	Country      string `firestore:"country"`
}

type paymentDocument struct {
	Method           string     `firestore:"method"`
	Status           string     `firestore:"status"`
	Provider         string     `firestore:"provider,omitempty"`
	GatewayOrderID   string     `firestore:"gatewayOrderId,omitempty"`
	GatewayPaymentID string     `firestore:"gatewayPaymentId,omitempty"`
	GatewaySignature string     `firestore:"gatewaySignature,omitempty"`
	Amount           int64      `firestore:"amount"`
	Currency         string     `firestore:"currency"`
	PaidAt           *time.Time `firestore:"paidAt,omitempty"`
	RefundedAt       *time.Time `firestore:"refundedAt,omitempty"`
}

type trackingDocument struct {
	CourierName    string     `firestore:"courierName,omitempty"`
	TrackingNumber string     `firestore:"trackingNumber,omitempty"`
	TrackingURL    string     `firestore:"trackingUrl,omitempty"`
	ShippedAt      *time.Time `firestore:"shippedAt,omitempty"`
	DeliveredAt    *time.Time `firestore:"deliveredAt,omitempty"`
}

type returnPolicyDoc struct {
	IsReturnable     bool `firestore:"isReturnable"`
	ReturnWindowDays int  `firestore:"returnWindowDays"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Title:     item.Title,
			Size:      item.Size,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			MRP:       item.MRP,
			Subtotal:  item.Subtotal,
		}
	}
	return orderDocument{
		InvoiceNumber: strings.TrimSpace(order.InvoiceNumber),
		UserID:        strings.TrimSpace(order.UserID),
		Items:         items,
		TotalItems:    order.TotalItems,
		TotalMRP:      order.TotalMRP,
		TotalDiscount: order.TotalDiscount,
		TotalAmount:   order.TotalAmount,
		ShippingFee:   order.ShippingFee,
		GrandTotal:    order.GrandTotal,
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		ShippingAddress: addressDocument{
			Name:         order.ShippingAddress.Name,
			Phone:        order.ShippingAddress.Phone,
			Email:        order.ShippingAddress.Email,
			AddressLine1: order.ShippingAddress.AddressLine1,
			AddressLine2: order.ShippingAddress.AddressLine2,
			City:         order.ShippingAddress.City,
			State:        order.ShippingAddress.State,
			PostalCode:   order.ShippingAddress.PostalCode,
			Country:      order.ShippingAddress.Country,
		},
		Payment: paymentDocument{
			Method:           string(order.Payment.Method),
			Status:           string(order.Payment.Status),
			Provider:         order.Payment.Provider,
			GatewayOrderID:   order.Payment.GatewayOrderID,
			GatewayPaymentID: order.Payment.GatewayPaymentID,
			GatewaySignature: order.Payment.GatewaySignature,
			Amount:           order.Payment.Amount,
			Currency:         order.Payment.Currency,
			PaidAt:           order.Payment.PaidAt,
			RefundedAt:       order.Payment.RefundedAt,
		},
		Status: string(order.Status),
		Tracking: trackingDocument{
			CourierName:    order.Tracking.CourierName,
			TrackingNumber: order.Tracking.TrackingNumber,
			TrackingURL:    order.Tracking.TrackingURL,
			ShippedAt:      order.Tracking.ShippedAt,
			DeliveredAt:    order.Tracking.DeliveredAt,
		},
		ReturnPolicy: returnPolicyDoc{
			IsReturnable:     order.ReturnPolicy.IsReturnable,
			ReturnWindowDays: order.ReturnPolicy.ReturnWindowDays,
		},
		ReservationID: order.ReservationID,
		CancelReason:  order.CancelReason,
		PlacedAt:      order.PlacedAt.UTC(),
		CancelledAt:   order.CancelledAt,
		ReturnedAt:    order.ReturnedAt,
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Title:     item.Title,
			Size:      item.Size,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			MRP:       item.MRP,
			Subtotal:  item.Subtotal,
		}
	}
	return domain.Order{
		ID:            id,
		InvoiceNumber: d.InvoiceNumber,
		UserID:        d.UserID,
		Items:         items,
		TotalItems:    d.TotalItems,
		TotalMRP:      d.TotalMRP,
		TotalDiscount: d.TotalDiscount,
		TotalAmount:   d.TotalAmount,
		ShippingFee:   d.ShippingFee,
		GrandTotal:    d.GrandTotal,
		Currency:      d.Currency,
		ShippingAddress: domain.ShippingAddress{
			Name:         d.ShippingAddress.Name,
			Phone:        d.ShippingAddress.Phone,
			Email:        d.ShippingAddress.Email,
			AddressLine1: d.ShippingAddress.AddressLine1,
			AddressLine2: d.ShippingAddress.AddressLine2,
			City:         d.ShippingAddress.City,
			State:        d.ShippingAddress.State,
			PostalCode:   d.ShippingAddress.PostalCode,
			Country:      d.ShippingAddress.Country,
		},
		Payment: domain.Payment{
			Method:           domain.PaymentMethod(d.Payment.Method),
			Status:           domain.PaymentStatus(d.Payment.Status),
			Provider:         d.Payment.Provider,
			GatewayOrderID:   d.Payment.GatewayOrderID,
			GatewayPaymentID: d.Payment.GatewayPaymentID,
			GatewaySignature: d.Payment.GatewaySignature,
			Amount:           d.Payment.Amount,
			Currency:         d.Payment.Currency,
			PaidAt:           d.Payment.PaidAt,
			RefundedAt:       d.Payment.RefundedAt,
		},
		Status: domain.OrderStatus(d.Status),
		Tracking: domain.Tracking{
			CourierName:    d.Tracking.CourierName,
			TrackingNumber: d.Tracking.TrackingNumber,
			TrackingURL:    d.Tracking.TrackingURL,
			ShippedAt:      d.Tracking.ShippedAt,
			DeliveredAt:    d.Tracking.DeliveredAt,
		},
		ReturnPolicy: domain.ReturnPolicy{
			IsReturnable:     d.ReturnPolicy.IsReturnable,
			ReturnWindowDays: d.ReturnPolicy.ReturnWindowDays,
		},
		ReservationID: d.ReservationID,
		CancelReason:  d.CancelReason,
		PlacedAt:      d.PlacedAt,
		CancelledAt:   d.CancelledAt,
		ReturnedAt:    d.ReturnedAt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

// orderCursorValues unpacks the [placedAt, orderID] pair carried by the page
// token and revives placedAt as a time value for the Firestore cursor.
func orderCursorValues(cursor pagination.Cursor) (time.Time, string, error) {
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", pagination.ErrInvalidPageToken
	}
	placedRaw, ok := cursor.StartAfter[0].(string)
	if !ok {
		return time.Time{}, "", pagination.ErrInvalidPageToken
	}
	orderID, ok := cursor.StartAfter[1].(string)
	if !ok || strings.TrimSpace(orderID) == "" {
		return time.Time{}, "", pagination.ErrInvalidPageToken
	}
	placedAt, err := time.Parse(time.RFC3339Nano, placedRaw)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
	}
	return placedAt.UTC(), orderID, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
