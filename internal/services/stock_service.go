package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/auric-commerce/api/internal/domain"
	"github.com/auric-commerce/api/internal/repositories"
)

var (
	// ErrStockInvalidInput signals the caller provided invalid arguments.
	ErrStockInvalidInput = errors.New("stock: invalid input")
	// ErrStockInsufficient indicates at least one line exceeded availability.
	ErrStockInsufficient = errors.New("stock: insufficient stock")
	// ErrStockNotFound indicates the product or variant does not exist.
	ErrStockNotFound = errors.New("stock: not found")
	// ErrStockReservationNotFound indicates the reservation could not be located.
	ErrStockReservationNotFound = errors.New("stock: reservation not found")
	// ErrStockInvalidState indicates the reservation cannot transition from its state.
	ErrStockInvalidState = errors.New("stock: reservation state invalid")
)

// StockServiceDeps bundles the collaborators required to construct a stock service.
type StockServiceDeps struct {
	Stock       repositories.StockRepository
	Products    repositories.ProductRepository
	Catalog     CatalogService
	Events      EventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type stockService struct {
	repo     repositories.StockRepository
	products repositories.ProductRepository
	catalog  CatalogService
	events   EventPublisher
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewStockService wires dependencies into a concrete StockService implementation.
func NewStockService(deps StockServiceDeps) (StockService, error) {
	if deps.Stock == nil {
		return nil, errors.New("stock service: stock repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("stock service: product repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("stock service: catalog service is required")
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

	return &stockService{
		repo:     deps.Stock,
		products: deps.Products,
		catalog:  deps.Catalog,
		events:   deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *stockService) Reserve(ctx context.Context, cmd ReserveStockCommand) (StockReservation, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return StockReservation{}, fmt.Errorf("%w: user id is required", ErrStockInvalidInput)
	}
	lines, err := normaliseStockLines(cmd.Lines)
	if err != nil {
		return StockReservation{}, err
	}

	now := s.clock()
	reservation := StockReservation{
		ID:        ensureReservationID(cmd.ReservationID, s.newID),
		OrderRef:  strings.TrimSpace(cmd.OrderRef),
		UserID:    strings.TrimSpace(cmd.UserID),
		Status:    domain.ReservationStatusActive,
		Lines:     lines,
		CreatedAt: now,
	}

	result, err := s.repo.Reserve(ctx, repositories.StockReserveRequest{
		Reservation: reservation,
		Now:         now,
	})
	if err != nil {
		return StockReservation{}, s.mapStockError(err)
	}

	saved := result.Reservation
	if saved.ID == "" {
		saved = reservation
	}

	s.emitLowStock(ctx, saved, result.LowStock)

	return saved, nil
}

func (s *stockService) Release(ctx context.Context, cmd ReleaseStockCommand) (StockReservation, error) {
	reservationID := strings.TrimSpace(cmd.ReservationID)
	if reservationID == "" {
		return StockReservation{}, fmt.Errorf("%w: reservation id is required", ErrStockInvalidInput)
	}

	result, err := s.repo.Release(ctx, repositories.StockReleaseRequest{
		ReservationID: reservationID,
		Reason:        strings.TrimSpace(cmd.Reason),
		Now:           s.clock(),
	})
	if err != nil {
		return StockReservation{}, s.mapStockError(err)
	}

	s.logger(ctx, "stock.released", map[string]any{
		"reservationId": reservationID,
		"reason":        strings.TrimSpace(cmd.Reason),
	})

	return result.Reservation, nil
}

func (s *stockService) Available(ctx context.Context, productID string, sku string) (int, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return 0, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return 0, fmt.Errorf("%w: product %s", ErrStockNotFound, productID)
		}
		return 0, err
	}

	variant, err := s.catalog.ResolveVariant(product, sku, nil)
	if err != nil {
		if errors.Is(err, ErrCatalogVariantNotFound) {
			return 0, fmt.Errorf("%w: sku %s", ErrStockNotFound, sku)
		}
		return 0, err
	}
	return variant.Stock, nil
}

func (s *stockService) emitLowStock(ctx context.Context, reservation StockReservation, alerts []repositories.LowStockAlert) {
	if s.events == nil || len(alerts) == 0 {
		return
	}
	for _, alert := range alerts {
		event := Event{
			Type:       EventStockLow,
			EntityID:   alert.ProductID,
			UserID:     reservation.UserID,
			OccurredAt: s.clock(),
			Payload: map[string]any{
				"sku":       alert.SKU,
				"remaining": alert.Remaining,
				"threshold": alert.Threshold,
			},
		}
		if _, err := s.events.Publish(ctx, event); err != nil {
			s.logger(ctx, "stock_event_publish_failed", map[string]any{
				"sku":   alert.SKU,
				"error": err.Error(),
			})
		}
	}
}

func (s *stockService) mapStockError(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %s", ErrStockInsufficient, stockErr.Message)
		case repositories.StockErrorNotFound:
			return fmt.Errorf("%w: %s", ErrStockNotFound, stockErr.Message)
		case repositories.StockErrorReservationNotFound:
			return fmt.Errorf("%w: %s", ErrStockReservationNotFound, stockErr.Message)
		case repositories.StockErrorInvalidReservationState:
			return fmt.Errorf("%w: %s", ErrStockInvalidState, stockErr.Message)
		}
	}

	return err
}

func normaliseStockLines(lines []StockLine) ([]StockLine, error) {
	type key struct {
		productID string
		sku       string
	}
	aggregated := make(map[key]int)
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: line product id is required", ErrStockInvalidInput)
		}
		sku := strings.TrimSpace(line.SKU)
		if sku == "" {
			return nil, fmt.Errorf("%w: line sku is required", ErrStockInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrStockInvalidInput, sku)
		}
		aggregated[key{productID, sku}] += line.Quantity
	}
	if len(aggregated) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrStockInvalidInput)
	}

	result := make([]StockLine, 0, len(aggregated))
	for k, qty := range aggregated {
		result = append(result, StockLine{ProductID: k.productID, SKU: k.sku, Quantity: qty})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ProductID != result[j].ProductID {
			return result[i].ProductID < result[j].ProductID
		}
		return result[i].SKU < result[j].SKU
	})
	return result, nil
}

func ensureReservationID(candidate string, newID func() string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		trimmed = newID()
	}
	if strings.HasPrefix(trimmed, "resv_") {
		return trimmed
	}
	return "resv_" + trimmed
}
