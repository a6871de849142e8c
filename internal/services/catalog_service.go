package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/auric-commerce/api/internal/domain"
	"github.com/auric-commerce/api/internal/repositories"
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied malformed arguments.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogNotFound indicates the product does not exist.
	ErrCatalogNotFound = errors.New("catalog service: product not found")
	// ErrCatalogVariantNotFound indicates no variant matches the selector.
	ErrCatalogVariantNotFound = errors.New("catalog service: variant not found")
	// ErrCatalogUnavailable indicates persistence problems while reading the catalog.
	ErrCatalogUnavailable = errors.New("catalog service: catalog unavailable")
)

// CatalogServiceDeps wires the catalog reader dependencies.
type CatalogServiceDeps struct {
	Products repositories.ProductRepository
	Logger   func(ctx context.Context, msg string, fields map[string]any)
}

type catalogService struct {
	products repositories.ProductRepository
	logger   func(ctx context.Context, msg string, fields map[string]any)
}

// NewCatalogService validates dependencies and returns the catalog reader.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		products: deps.Products,
		logger:   logger,
	}, nil
}

// GetProduct loads one product by id.
func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, id)
	if err != nil {
		return Product{}, s.translateRepoError(ctx, "catalog.get_product", err)
	}
	return product, nil
}

// ResolveVariant picks the single variant a selector addresses. Resolution
// order: exact SKU match, then attribute match, never a silent fallback.
// Products without variants resolve to a pseudo-variant whose SKU is the
// product id and whose stock is the product-level quantity.
func (s *catalogService) ResolveVariant(product Product, sku string, attributes map[string]string) (Variant, error) {
	sku = strings.TrimSpace(sku)

	if !product.HasVariants() {
		if sku != "" && sku != product.ID {
			return Variant{}, fmt.Errorf("%w: product %s has no variant %s", ErrCatalogVariantNotFound, product.ID, sku)
		}
		return Variant{
			SKU:    product.ID,
			Status: domain.VariantStatusActive,
			Stock:  product.Quantity,
		}, nil
	}

	if sku != "" {
		for _, variant := range product.Variants {
			if variant.SKU != sku {
				continue
			}
			if variant.Status != domain.VariantStatusActive {
				return Variant{}, fmt.Errorf("%w: variant %s is not available", ErrCatalogVariantNotFound, sku)
			}
			return variant, nil
		}
		return Variant{}, fmt.Errorf("%w: product %s has no variant %s", ErrCatalogVariantNotFound, product.ID, sku)
	}

	if len(attributes) > 0 {
		var matched *Variant
		for i := range product.Variants {
			variant := product.Variants[i]
			if variant.Status != domain.VariantStatusActive {
				continue
			}
			if !variantMatchesAttributes(variant, attributes) {
				continue
			}
			if matched != nil {
				return Variant{}, fmt.Errorf("%w: attributes match more than one variant of product %s", ErrCatalogInvalidInput, product.ID)
			}
			matched = &variant
		}
		if matched != nil {
			return *matched, nil
		}
		return Variant{}, fmt.Errorf("%w: no variant of product %s matches the requested attributes", ErrCatalogVariantNotFound, product.ID)
	}

	return Variant{}, fmt.Errorf("%w: a sku or attribute selector is required for product %s", ErrCatalogInvalidInput, product.ID)
}

// variantMatchesAttributes reports whether every requested attribute is
// present and equal on the variant. "size" compares against the dedicated
// size field.
func variantMatchesAttributes(variant Variant, attributes map[string]string) bool {
	for key, want := range attributes {
		key = strings.TrimSpace(key)
		want = strings.TrimSpace(want)
		if key == "" || want == "" {
			return false
		}
		if strings.EqualFold(key, "size") {
			if !strings.EqualFold(variant.Size, want) {
				return false
			}
			continue
		}
		got, ok := variant.Attributes[key]
		if !ok || !strings.EqualFold(strings.TrimSpace(got), want) {
			return false
		}
	}
	return true
}

func (s *catalogService) translateRepoError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
		case repoErr.IsUnavailable():
			s.logger(ctx, "catalog repository unavailable", map[string]any{"op": op, "error": err.Error()})
			return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
