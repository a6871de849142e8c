package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/auric-commerce/api/internal/domain"
	"github.com/auric-commerce/api/internal/repositories"
)

type stubProductRepository struct {
	findFunc func(ctx context.Context, productID string) (domain.Product, error)
}

func (s *stubProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFunc != nil {
		return s.findFunc(ctx, productID)
	}
	return domain.Product{}, errors.New("unexpected FindByID call")
}

func newTestCatalogService(t *testing.T, products repositories.ProductRepository) CatalogService {
	t.Helper()
	svc, err := NewCatalogService(CatalogServiceDeps{Products: products})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	return svc
}

func clothsProduct() domain.Product {
	return domain.Product{
		ID:          "prod_1",
		Title:       "Linen Kurta",
		ProductType: domain.ProductTypeCloths,
		MRP:         159900,
		Variants: []domain.Variant{
			{SKU: "KUR-M-001", Size: "M", Status: domain.VariantStatusActive, Stock: 5},
			{SKU: "KUR-L-001", Size: "L", Status: domain.VariantStatusActive, Stock: 2},
			{SKU: "KUR-XL-001", Size: "XL", Status: domain.VariantStatusInactive, Stock: 9},
		},
	}
}

func TestResolveVariantExactSKU(t *testing.T) {
	svc := newTestCatalogService(t, &stubProductRepository{})

	variant, err := svc.ResolveVariant(clothsProduct(), "KUR-L-001", nil)
	if err != nil {
		t.Fatalf("ResolveVariant: %v", err)
	}
	if variant.SKU != "KUR-L-001" || variant.Size != "L" {
		t.Fatalf("unexpected variant %+v", variant)
	}
}

func TestResolveVariantInactiveSKURejected(t *testing.T) {
	svc := newTestCatalogService(t, &stubProductRepository{})

	if _, err := svc.ResolveVariant(clothsProduct(), "KUR-XL-001", nil); !errors.Is(err, ErrCatalogVariantNotFound) {
		t.Fatalf("expected variant not found, got %v", err)
	}
}

func TestResolveVariantByAttributes(t *testing.T) {
	svc := newTestCatalogService(t, &stubProductRepository{})

	variant, err := svc.ResolveVariant(clothsProduct(), "", map[string]string{"size": "m"})
	if err != nil {
		t.Fatalf("ResolveVariant: %v", err)
	}
	if variant.SKU != "KUR-M-001" {
		t.Fatalf("expected KUR-M-001, got %s", variant.SKU)
	}
}

func TestResolveVariantNoFallbackToFirst(t *testing.T) {
	svc := newTestCatalogService(t, &stubProductRepository{})

	if _, err := svc.ResolveVariant(clothsProduct(), "", map[string]string{"size": "XXL"}); !errors.Is(err, ErrCatalogVariantNotFound) {
		t.Fatalf("expected variant not found, got %v", err)
	}
	if _, err := svc.ResolveVariant(clothsProduct(), "", nil); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input without selector, got %v", err)
	}
}

func TestResolveVariantPseudoVariant(t *testing.T) {
	svc := newTestCatalogService(t, &stubProductRepository{})

	product := domain.Product{
		ID:          "ring_9",
		ProductType: domain.ProductTypeJewellery,
		MRP:         499900,
		Quantity:    3,
	}

	variant, err := svc.ResolveVariant(product, "", nil)
	if err != nil {
		t.Fatalf("ResolveVariant: %v", err)
	}
	if variant.SKU != "ring_9" || variant.Stock != 3 {
		t.Fatalf("unexpected pseudo-variant %+v", variant)
	}

	variant, err = svc.ResolveVariant(product, "ring_9", nil)
	if err != nil {
		t.Fatalf("ResolveVariant with product id sku: %v", err)
	}
	if variant.SKU != "ring_9" {
		t.Fatalf("unexpected variant %+v", variant)
	}

	if _, err := svc.ResolveVariant(product, "other-sku", nil); !errors.Is(err, ErrCatalogVariantNotFound) {
		t.Fatalf("expected variant not found for foreign sku, got %v", err)
	}
}

func TestGetProductTranslatesNotFound(t *testing.T) {
	repoErr := &fakeRepoError{notFound: true}
	svc := newTestCatalogService(t, &stubProductRepository{
		findFunc: func(ctx context.Context, productID string) (domain.Product, error) {
			return domain.Product{}, repoErr
		},
	})

	if _, err := svc.GetProduct(context.Background(), "missing"); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected catalog not found, got %v", err)
	}
}

type fakeRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *fakeRepoError) Error() string       { return "repository error" }
func (e *fakeRepoError) IsNotFound() bool    { return e.notFound }
func (e *fakeRepoError) IsConflict() bool    { return e.conflict }
func (e *fakeRepoError) IsUnavailable() bool { return e.unavailable }

var _ repositories.RepositoryError = (*fakeRepoError)(nil)
