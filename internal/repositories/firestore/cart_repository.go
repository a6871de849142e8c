package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/auric-commerce/api/internal/domain"
	pfirestore "github.com/auric-commerce/api/internal/platform/firestore"
	"github.com/auric-commerce/api/internal/repositories"
)

const (
	cartCollection = "carts"
)

// CartRepository persists cart documents within Firestore. One document per
// user, keyed by the user id, with the line items embedded.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{
		base:     base,
		provider: provider,
	}, nil
}

// UpsertCart writes the full cart document keyed by user id. A non-nil
// expectedUpdatedAt turns the write into a compare-and-set on the document's
// last update time.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdatedAt *time.Time) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}

	cartID := strings.TrimSpace(cart.UserID)
	if cartID == "" {
		cartID = strings.TrimSpace(cart.ID)
	}
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	now := time.Now().UTC()
	if !cart.UpdatedAt.IsZero() {
		now = cart.UpdatedAt.UTC()
	}
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	doc := cartDocumentFromDomain(cart, createdAt, now)

	if expectedUpdatedAt == nil || expectedUpdatedAt.IsZero() {
		result, err := r.base.Set(ctx, cartID, doc)
		if err != nil {
			return domain.Cart{}, err
		}
		return doc.toDomain(cartID, result.UpdateTime), nil
	}

	updates := []firestore.Update{
		{Path: "items", Value: doc.Items},
		{Path: "totalItems", Value: doc.TotalItems},
		{Path: "totalPrice", Value: doc.TotalPrice},
		{Path: "totalMrp", Value: doc.TotalMRP},
		{Path: "totalDiscount", Value: doc.TotalDiscount},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	}

	result, err := r.base.Update(ctx, cartID, updates, firestore.LastUpdateTime(expectedUpdatedAt.UTC()))
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.toDomain(cartID, result.UpdateTime), nil
}

// GetCart loads the cart document for the given user id.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}

	updatedAt := doc.Data.UpdatedAt
	if !doc.UpdateTime.IsZero() {
		updatedAt = doc.UpdateTime
	}
	return doc.Data.toDomain(doc.ID, updatedAt), nil
}

type cartDocument struct {
	UserID        string             `firestore:"userId"`
	Items         []cartItemDocument `firestore:"items"`
	TotalItems    int                `firestore:"totalItems"`
	TotalPrice    int64              `firestore:"totalPrice"`
	TotalMRP      int64              `firestore:"totalMrp"`
	TotalDiscount int64              `firestore:"totalDiscount"`
	CreatedAt     time.Time          `firestore:"createdAt"`
	UpdatedAt     time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ID            string            `firestore:"id"`
	ProductID     string            `firestore:"productId"`
	SKU           string            `firestore:"sku"`
	Title         string            `firestore:"title,omitempty"`
	Size          string            `firestore:"size,omitempty"`
	Attributes    map[string]string `firestore:"attributes,omitempty"`
	Customization map[string]any    `firestore:"customization,omitempty"`
	Quantity      int               `firestore:"quantity"`
	UnitPrice     int64             `firestore:"unitPrice"`
	MRP           int64             `firestore:"mrp"`
	Subtotal      int64             `firestore:"subtotal"`
	Media         []mediaDocument   `firestore:"media,omitempty"`
	AddedAt       time.Time         `firestore:"addedAt"`
	UpdatedAt     *time.Time        `firestore:"updatedAt,omitempty"`
}

type mediaDocument struct {
	URL  string `firestore:"url"`
	Kind string `firestore:"kind,omitempty"`
	Alt  string `firestore:"alt,omitempty"`
}

func cartDocumentFromDomain(cart domain.Cart, createdAt, updatedAt time.Time) cartDocument {
	doc := cartDocument{
		UserID:        strings.TrimSpace(cart.UserID),
		Items:         make([]cartItemDocument, 0, len(cart.Items)),
		TotalItems:    cart.TotalItems,
		TotalPrice:    cart.TotalPrice,
		TotalMRP:      cart.TotalMRP,
		TotalDiscount: cart.TotalDiscount,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}
	for _, item := range cart.Items {
		doc.Items = append(doc.Items, cartItemDocument{
			ID:            item.ID,
			ProductID:     item.ProductID,
			SKU:           item.SKU,
			Title:         item.Title,
			Size:          item.Size,
			Attributes:    cloneStringMap(item.Attributes),
			Customization: cloneAnyMap(item.Customization),
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			MRP:           item.MRP,
			Subtotal:      item.Subtotal,
			Media:         mediaDocumentsFromDomain(item.Media),
			AddedAt:       item.AddedAt,
			UpdatedAt:     item.UpdatedAt,
		})
	}
	return doc
}

func (d cartDocument) toDomain(id string, updatedAt time.Time) domain.Cart {
	cart := domain.Cart{
		ID:            id,
		UserID:        id,
		Items:         make([]domain.CartItem, 0, len(d.Items)),
		TotalItems:    d.TotalItems,
		TotalPrice:    d.TotalPrice,
		TotalMRP:      d.TotalMRP,
		TotalDiscount: d.TotalDiscount,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     updatedAt,
	}
	for _, item := range d.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ID:            item.ID,
			ProductID:     item.ProductID,
			SKU:           item.SKU,
			Title:         item.Title,
			Size:          item.Size,
			Attributes:    cloneStringMap(item.Attributes),
			Customization: cloneAnyMap(item.Customization),
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			MRP:           item.MRP,
			Subtotal:      item.Subtotal,
			Media:         mediaFromDocuments(item.Media),
			AddedAt:       item.AddedAt,
			UpdatedAt:     item.UpdatedAt,
		})
	}
	return cart
}

func mediaDocumentsFromDomain(media []domain.Media) []mediaDocument {
	if len(media) == 0 {
		return nil
	}
	out := make([]mediaDocument, 0, len(media))
	for _, m := range media {
		out = append(out, mediaDocument{URL: m.URL, Kind: m.Kind, Alt: m.Alt})
	}
	return out
}

func mediaFromDocuments(media []mediaDocument) []domain.Media {
	if len(media) == 0 {
		return nil
	}
	out := make([]domain.Media, 0, len(media))
	for _, m := range media {
		out = append(out, domain.Media{URL: m.URL, Kind: m.Kind, Alt: m.Alt})
	}
	return out
}

func cloneAnyMap(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

var _ repositories.CartRepository = (*CartRepository)(nil)
