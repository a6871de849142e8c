package repositories

import (
	"context"
	"time"

	domain "github.com/auric-commerce/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartRepository owns cart persistence with optimistic locking guarantees.
// Each user has at most one cart document, keyed by user id.
type CartRepository interface {
	// UpsertCart writes the whole cart document. When expectedUpdatedAt is
	// non-nil the write carries a last-update-time precondition and returns a
	// conflict error when another writer got there first.
	UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdatedAt *time.Time) (domain.Cart, error)
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
}

// ProductRepository reads catalog documents. The cart and order flows never
// write products; stock mutations go through StockRepository.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// StockRepository manages stock levels and reservation lifecycle with
// transactional guarantees. Reserve decrements every line inside a single
// transaction and fails the whole batch when any line is short.
type StockRepository interface {
	Reserve(ctx context.Context, req StockReserveRequest) (StockReserveResult, error)
	Release(ctx context.Context, req StockReleaseRequest) (StockReleaseResult, error)
	GetReservation(ctx context.Context, reservationID string) (domain.StockReservation, error)
}

// StockReserveRequest encapsulates reservation creation metadata for the repository.
type StockReserveRequest struct {
	Reservation domain.StockReservation
	Now         time.Time
}

// StockReserveResult returns the saved reservation and any low-stock lines
// the decrement uncovered.
type StockReserveResult struct {
	Reservation domain.StockReservation
	LowStock    []LowStockAlert
}

// StockReleaseRequest restores reserved stock back to availability.
type StockReleaseRequest struct {
	ReservationID string
	Reason        string
	Now           time.Time
}

// StockReleaseResult reports the reservation state after release.
type StockReleaseResult struct {
	Reservation domain.StockReservation
}

// LowStockAlert flags a variant whose stock fell to or below its alert threshold.
type LowStockAlert struct {
	ProductID string
	SKU       string
	Remaining int
	Threshold int
}

// OrderRepository persists order documents and provides query helpers.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter narrows order listings per user, status and date range.
type OrderListFilter struct {
	UserID     string
	Status     []string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
