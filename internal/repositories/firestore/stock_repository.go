package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/auric-commerce/api/internal/domain"
	pfirestore "github.com/auric-commerce/api/internal/platform/firestore"
	"github.com/auric-commerce/api/internal/repositories"
)

const (
	stockReservationsCollection = "stockReservations"

	reservationStatusActive   = "active"
	reservationStatusReleased = "released"
)

// StockRepository mutates stock counters that live inside product documents
// and records reservations so a failed checkout can restore them. Every
// Reserve call reads and rewrites all affected products within one Firestore
// transaction; a single short line fails the whole batch and nothing is
// decremented.
type StockRepository struct {
	provider     *pfirestore.Provider
	products     *pfirestore.BaseRepository[productDocument]
	reservations *pfirestore.BaseRepository[reservationDocument]
}

// NewStockRepository constructs a Firestore-backed stock repository.
func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	products := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	reservations := pfirestore.NewBaseRepository[reservationDocument](provider, stockReservationsCollection, nil, nil)
	return &StockRepository{provider: provider, products: products, reservations: reservations}, nil
}

// Reserve atomically decrements stock for every line and persists the
// reservation document. Quantities are refused, never clamped: any line whose
// availability is below the requested quantity aborts the transaction.
func (r *StockRepository) Reserve(ctx context.Context, req repositories.StockReserveRequest) (repositories.StockReserveResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockReserveResult{}, errors.New("stock repository not initialised")
	}
	reservation := req.Reservation
	if strings.TrimSpace(reservation.ID) == "" {
		return repositories.StockReserveResult{}, errors.New("stock reserve: reservation id is required")
	}
	if len(reservation.Lines) == 0 {
		return repositories.StockReserveResult{}, errors.New("stock reserve: at least one line is required")
	}

	now := req.Now.UTC()
	reservation.Status = domain.ReservationStatusActive
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = now
	}

	// Lines grouped per product so each document is read and written once.
	productOrder, grouped, err := groupStockLines(reservation.Lines)
	if err != nil {
		return repositories.StockReserveResult{}, err
	}

	var result repositories.StockReserveResult
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		resRef, err := r.reservations.DocumentRef(ctx, reservation.ID)
		if err != nil {
			return err
		}
		if _, err := tx.Get(resRef); err == nil {
			return repositories.NewStockError(repositories.StockErrorInvalidReservationState, fmt.Sprintf("reservation %s already exists", reservation.ID), nil)
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		// Firestore transactions require all reads before the first write.
		docs := make(map[string]productDocument, len(productOrder))
		refs := make(map[string]*firestore.DocumentRef, len(productOrder))
		for _, productID := range productOrder {
			ref, err := r.products.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("product %s not found", productID), err)
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", productID, err)
			}
			docs[productID] = doc
			refs[productID] = ref
		}

		var lowStock []repositories.LowStockAlert
		for _, productID := range productOrder {
			doc := docs[productID]
			for _, line := range grouped[productID] {
				alert, err := applyStockDecrement(&doc, productID, line)
				if err != nil {
					return err
				}
				if alert != nil {
					lowStock = append(lowStock, *alert)
				}
			}
			doc.UpdatedAt = now
			docs[productID] = doc
		}

		for _, productID := range productOrder {
			if err := tx.Set(refs[productID], docs[productID]); err != nil {
				return err
			}
		}

		resDoc := newReservationDocument(reservation, now)
		if err := tx.Create(resRef, resDoc); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewStockError(repositories.StockErrorInvalidReservationState, fmt.Sprintf("reservation %s already exists", reservation.ID), err)
			}
			return err
		}

		result = repositories.StockReserveResult{
			Reservation: resDoc.toDomain(reservation.ID),
			LowStock:    lowStock,
		}
		return nil
	})
	if err != nil {
		return repositories.StockReserveResult{}, wrapStockError("stock.reserve", err)
	}
	return result, nil
}

// Release restores reserved quantities and marks the reservation released.
// Only active reservations can be released.
func (r *StockRepository) Release(ctx context.Context, req repositories.StockReleaseRequest) (repositories.StockReleaseResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockReleaseResult{}, errors.New("stock repository not initialised")
	}
	if strings.TrimSpace(req.ReservationID) == "" {
		return repositories.StockReleaseResult{}, errors.New("stock release: reservation id is required")
	}

	now := req.Now.UTC()
	var result repositories.StockReleaseResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		resRef, err := r.reservations.DocumentRef(ctx, req.ReservationID)
		if err != nil {
			return err
		}
		resSnap, err := tx.Get(resRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorReservationNotFound, fmt.Sprintf("reservation %s not found", req.ReservationID), err)
			}
			return err
		}
		var resDoc reservationDocument
		if err := resSnap.DataTo(&resDoc); err != nil {
			return fmt.Errorf("decode reservation %s: %w", req.ReservationID, err)
		}
		if resDoc.Status != reservationStatusActive {
			return repositories.NewStockError(repositories.StockErrorInvalidReservationState, fmt.Sprintf("reservation %s is not active", req.ReservationID), nil)
		}

		lines := make([]domain.StockLine, len(resDoc.Lines))
		for i, line := range resDoc.Lines {
			lines[i] = domain.StockLine{ProductID: line.ProductID, SKU: line.SKU, Quantity: line.Quantity}
		}
		productOrder, grouped, err := groupStockLines(lines)
		if err != nil {
			return err
		}

		docs := make(map[string]productDocument, len(productOrder))
		refs := make(map[string]*firestore.DocumentRef, len(productOrder))
		for _, productID := range productOrder {
			ref, err := r.products.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("product %s not found", productID), err)
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", productID, err)
			}
			docs[productID] = doc
			refs[productID] = ref
		}

		for _, productID := range productOrder {
			doc := docs[productID]
			for _, line := range grouped[productID] {
				if err := applyStockIncrement(&doc, productID, line); err != nil {
					return err
				}
			}
			doc.UpdatedAt = now
			docs[productID] = doc
		}

		for _, productID := range productOrder {
			if err := tx.Set(refs[productID], docs[productID]); err != nil {
				return err
			}
		}

		resDoc.Status = reservationStatusReleased
		resDoc.ReleasedAt = &now
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			resDoc.Reason = reason
		}
		if err := tx.Set(resRef, resDoc); err != nil {
			return err
		}

		result = repositories.StockReleaseResult{Reservation: resDoc.toDomain(req.ReservationID)}
		return nil
	})
	if err != nil {
		return repositories.StockReleaseResult{}, wrapStockError("stock.release", err)
	}
	return result, nil
}

// GetReservation loads a reservation document by id.
func (r *StockRepository) GetReservation(ctx context.Context, reservationID string) (domain.StockReservation, error) {
	if r == nil || r.reservations == nil {
		return domain.StockReservation{}, errors.New("stock repository not initialised")
	}
	reservationID = strings.TrimSpace(reservationID)
	if reservationID == "" {
		return domain.StockReservation{}, errors.New("stock get reservation: id is required")
	}

	doc, err := r.reservations.Get(ctx, reservationID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.StockReservation{}, repositories.NewStockError(repositories.StockErrorReservationNotFound, fmt.Sprintf("reservation %s not found", reservationID), err)
		}
		return domain.StockReservation{}, wrapStockError("stock.getReservation", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Helper structures ---------------------------------------------------------

// applyStockDecrement takes line.Quantity off the matching variant, or off
// the product-level quantity when the SKU addresses the whole product.
func applyStockDecrement(doc *productDocument, productID string, line domain.StockLine) (*repositories.LowStockAlert, error) {
	sku := strings.TrimSpace(line.SKU)
	if sku == "" {
		return nil, repositories.NewStockError(repositories.StockErrorNotFound, "stock reserve: sku is required", nil)
	}
	if line.Quantity <= 0 {
		return nil, repositories.NewStockError(repositories.StockErrorUnknown, fmt.Sprintf("stock reserve: quantity for %s must be > 0", sku), nil)
	}

	if len(doc.Variants) == 0 || sku == productID {
		if doc.Quantity < line.Quantity {
			return nil, repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("only %d left for %s", doc.Quantity, productID), nil)
		}
		doc.Quantity -= line.Quantity
		return nil, nil
	}

	for i := range doc.Variants {
		if doc.Variants[i].SKU != sku {
			continue
		}
		if doc.Variants[i].Stock < line.Quantity {
			return nil, repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("only %d left for %s", doc.Variants[i].Stock, sku), nil)
		}
		doc.Variants[i].Stock -= line.Quantity
		if threshold := doc.Variants[i].LowStockAlertQty; threshold > 0 && doc.Variants[i].Stock <= threshold {
			return &repositories.LowStockAlert{
				ProductID: productID,
				SKU:       sku,
				Remaining: doc.Variants[i].Stock,
				Threshold: threshold,
			}, nil
		}
		return nil, nil
	}
	return nil, repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("sku %s not found on product %s", sku, productID), nil)
}

func applyStockIncrement(doc *productDocument, productID string, line domain.StockLine) error {
	sku := strings.TrimSpace(line.SKU)
	if len(doc.Variants) == 0 || sku == productID {
		doc.Quantity += line.Quantity
		return nil
	}
	for i := range doc.Variants {
		if doc.Variants[i].SKU == sku {
			doc.Variants[i].Stock += line.Quantity
			return nil
		}
	}
	return repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("sku %s not found on product %s", sku, productID), nil)
}

func groupStockLines(lines []domain.StockLine) ([]string, map[string][]domain.StockLine, error) {
	order := make([]string, 0, len(lines))
	grouped := make(map[string][]domain.StockLine, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, nil, repositories.NewStockError(repositories.StockErrorNotFound, "stock: product id is required on every line", nil)
		}
		if _, seen := grouped[productID]; !seen {
			order = append(order, productID)
		}
		grouped[productID] = append(grouped[productID], line)
	}
	return order, grouped, nil
}

type reservationDocument struct {
	OrderRef   string                    `firestore:"orderRef,omitempty"`
	UserID     string                    `firestore:"userId,omitempty"`
	Status     string                    `firestore:"status"`
	Lines      []reservationLineDocument `firestore:"lines"`
	Reason     string                    `firestore:"reason,omitempty"`
	ReleasedAt *time.Time                `firestore:"releasedAt,omitempty"`
	CreatedAt  time.Time                 `firestore:"createdAt"`
}

type reservationLineDocument struct {
	ProductID string `firestore:"productId"`
	SKU       string `firestore:"sku"`
	Quantity  int    `firestore:"qty"`
}

func newReservationDocument(res domain.StockReservation, now time.Time) reservationDocument {
	lines := make([]reservationLineDocument, len(res.Lines))
	for i, line := range res.Lines {
		lines[i] = reservationLineDocument{
			ProductID: strings.TrimSpace(line.ProductID),
			SKU:       strings.TrimSpace(line.SKU),
			Quantity:  line.Quantity,
		}
	}
	createdAt := res.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	return reservationDocument{
		OrderRef:   strings.TrimSpace(res.OrderRef),
		UserID:     strings.TrimSpace(res.UserID),
		Status:     reservationStatusActive,
		Lines:      lines,
		Reason:     strings.TrimSpace(res.Reason),
		ReleasedAt: res.ReleasedAt,
		CreatedAt:  createdAt,
	}
}

func (d reservationDocument) toDomain(id string) domain.StockReservation {
	lines := make([]domain.StockLine, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = domain.StockLine{
			ProductID: strings.TrimSpace(line.ProductID),
			SKU:       strings.TrimSpace(line.SKU),
			Quantity:  line.Quantity,
		}
	}
	return domain.StockReservation{
		ID:         id,
		OrderRef:   strings.TrimSpace(d.OrderRef),
		UserID:     strings.TrimSpace(d.UserID),
		Status:     domain.ReservationStatus(d.Status),
		Lines:      lines,
		Reason:     strings.TrimSpace(d.Reason),
		CreatedAt:  d.CreatedAt,
		ReleasedAt: d.ReleasedAt,
	}
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.StockRepository = (*StockRepository)(nil)
