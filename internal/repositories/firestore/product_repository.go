package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/auric-commerce/api/internal/domain"
	pfirestore "github.com/auric-commerce/api/internal/platform/firestore"
	"github.com/auric-commerce/api/internal/repositories"
)

const (
	productCollection = "products"
)

// ProductRepository reads catalog documents from Firestore. Writes happen
// elsewhere; the only mutation this service performs on products is the
// stock decrement owned by StockRepository.
type ProductRepository struct {
	base     *pfirestore.BaseRepository[productDocument]
	provider *pfirestore.Provider
}

// NewProductRepository constructs a Firestore-backed product reader.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	return &ProductRepository{
		base:     base,
		provider: provider,
	}, nil
}

// FindByID loads a product document by id.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

type productDocument struct {
	Title       string            `firestore:"title"`
	Slug        string            `firestore:"slug,omitempty"`
	ProductType string            `firestore:"productType"`
	MRP         int64             `firestore:"mrp"`
	SalePrice   *int64            `firestore:"salePrice,omitempty"`
	Quantity    int               `firestore:"quantity"`
	Variants    []variantDocument `firestore:"variants,omitempty"`
	Media       []mediaDocument   `firestore:"media,omitempty"`
	Status      string            `firestore:"status,omitempty"`
	CreatedAt   time.Time         `firestore:"createdAt"`
	UpdatedAt   time.Time         `firestore:"updatedAt"`
}

type variantDocument struct {
	SKU              string            `firestore:"sku"`
	Size             string            `firestore:"size,omitempty"`
	Attributes       map[string]string `firestore:"attributes,omitempty"`
	Status           string            `firestore:"status"`
	Stock            int               `firestore:"stock"`
	LowStockAlertQty int               `firestore:"lowStockAlertQty,omitempty"`
}

func (d productDocument) toDomain(id string) domain.Product {
	product := domain.Product{
		ID:          id,
		Title:       d.Title,
		Slug:        d.Slug,
		ProductType: domain.ProductType(d.ProductType),
		MRP:         d.MRP,
		SalePrice:   d.SalePrice,
		Quantity:    d.Quantity,
		Media:       mediaFromDocuments(d.Media),
		Status:      d.Status,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	for _, v := range d.Variants {
		product.Variants = append(product.Variants, domain.Variant{
			SKU:              v.SKU,
			Size:             v.Size,
			Attributes:       cloneStringMap(v.Attributes),
			Status:           domain.VariantStatus(v.Status),
			Stock:            v.Stock,
			LowStockAlertQty: v.LowStockAlertQty,
		})
	}
	return product
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
