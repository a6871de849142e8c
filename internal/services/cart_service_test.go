package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	domain "github.com/auric-commerce/api/internal/domain"
)

type stubCartRepository struct {
	getFunc    func(ctx context.Context, userID string) (domain.Cart, error)
	upsertFunc func(ctx context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error)
}

func (s *stubCartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, userID)
	}
	return domain.Cart{}, &fakeRepoError{notFound: true}
}

func (s *stubCartRepository) UpsertCart(ctx context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error) {
	if s.upsertFunc != nil {
		return s.upsertFunc(ctx, cart, expected)
	}
	return cart, nil
}

func saleProduct() domain.Product {
	sale := int64(129900)
	product := clothsProduct()
	product.SalePrice = &sale
	return product
}

func newTestCartService(t *testing.T, carts *stubCartRepository, product domain.Product) CartService {
	t.Helper()
	catalog := newTestCatalogService(t, &stubProductRepository{
		findFunc: func(ctx context.Context, productID string) (domain.Product, error) {
			if productID != product.ID {
				return domain.Product{}, &fakeRepoError{notFound: true}
			}
			return product, nil
		},
	})

	seq := 0
	svc, err := NewCartService(CartServiceDeps{
		Carts:   carts,
		Catalog: catalog,
		Clock:   func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) },
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("line_%03d", seq)
		},
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc
}

func TestAddItemSnapshotsSalePrice(t *testing.T) {
	carts := &stubCartRepository{}
	svc := newTestCartService(t, carts, saleProduct())

	cart, err := svc.AddItem(context.Background(), AddCartItemCommand{
		UserID:    "u1",
		ProductID: "prod_1",
		SKU:       "KUR-M-001",
		Quantity:  2,
	})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected 1 line, got %d", len(cart.Items))
	}
	item := cart.Items[0]
	if item.UnitPrice != 129900 || item.MRP != 159900 {
		t.Fatalf("unexpected price snapshot %+v", item)
	}
	if item.Subtotal != 259800 {
		t.Fatalf("expected subtotal 259800, got %d", item.Subtotal)
	}
	if cart.TotalPrice != 259800 || cart.TotalMRP != 319800 || cart.TotalDiscount != 60000 {
		t.Fatalf("unexpected totals %+v", cart)
	}
	if cart.TotalItems != 2 {
		t.Fatalf("expected totalItems 2, got %d", cart.TotalItems)
	}
}

func TestAddItemMergesIdenticalLines(t *testing.T) {
	var stored *domain.Cart
	carts := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			if stored == nil {
				return domain.Cart{}, &fakeRepoError{notFound: true}
			}
			return *stored, nil
		},
		upsertFunc: func(ctx context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error) {
			stored = &cart
			return cart, nil
		},
	}
	svc := newTestCartService(t, carts, saleProduct())

	cmd := AddCartItemCommand{
		UserID:        "u1",
		ProductID:     "prod_1",
		SKU:           "KUR-M-001",
		Customization: map[string]any{"engraving": "AB"},
		Quantity:      1,
	}
	if _, err := svc.AddItem(context.Background(), cmd); err != nil {
		t.Fatalf("first AddItem: %v", err)
	}
	cart, err := svc.AddItem(context.Background(), cmd)
	if err != nil {
		t.Fatalf("second AddItem: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 2 {
		t.Fatalf("expected merged line with quantity 2, got %+v", cart.Items)
	}

	// Different customization must not merge.
	cmd.Customization = map[string]any{"engraving": "CD"}
	cart, err = svc.AddItem(context.Background(), cmd)
	if err != nil {
		t.Fatalf("third AddItem: %v", err)
	}
	if len(cart.Items) != 2 {
		t.Fatalf("expected separate line for different customization, got %d lines", len(cart.Items))
	}
}

func TestAddItemDoesNotCheckStock(t *testing.T) {
	product := saleProduct()
	product.Variants[0].Stock = 0
	carts := &stubCartRepository{}
	svc := newTestCartService(t, carts, product)

	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{
		UserID:    "u1",
		ProductID: "prod_1",
		SKU:       "KUR-M-001",
		Quantity:  1,
	}); err != nil {
		t.Fatalf("AddItem with zero stock: %v", err)
	}
}

func existingCart(items ...domain.CartItem) domain.Cart {
	recomputed, totals := domain.ComputeCartTotals(items)
	return domain.Cart{
		ID:            "u1",
		UserID:        "u1",
		Items:         recomputed,
		TotalItems:    totals.TotalItems,
		TotalPrice:    totals.TotalPrice,
		TotalMRP:      totals.TotalMRP,
		TotalDiscount: totals.TotalDiscount,
		UpdatedAt:     time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestIncreaseQuantityRefusedBeyondStock(t *testing.T) {
	product := saleProduct()
	product.Variants[0].Stock = 2
	carts := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return existingCart(domain.CartItem{
				ID: "line_1", ProductID: "prod_1", SKU: "KUR-M-001", Quantity: 2, UnitPrice: 129900, MRP: 159900,
			}), nil
		},
	}
	svc := newTestCartService(t, carts, product)

	_, err := svc.IncreaseQuantity(context.Background(), CartLineCommand{UserID: "u1", ProductID: "prod_1", SKU: "KUR-M-001"})
	if !errors.Is(err, ErrCartInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if !strings.Contains(err.Error(), "only 2 left") {
		t.Fatalf("expected remaining quantity in message, got %q", err.Error())
	}
}

func TestDecreaseQuantityRemovesLineAtOne(t *testing.T) {
	var saved *domain.Cart
	carts := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return existingCart(domain.CartItem{
				ID: "line_1", ProductID: "prod_1", SKU: "KUR-M-001", Quantity: 1, UnitPrice: 129900, MRP: 159900,
			}), nil
		},
		upsertFunc: func(ctx context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error) {
			saved = &cart
			return cart, nil
		},
	}
	svc := newTestCartService(t, carts, saleProduct())

	cart, err := svc.DecreaseQuantity(context.Background(), CartLineCommand{UserID: "u1", ProductID: "prod_1", SKU: "KUR-M-001"})
	if err != nil {
		t.Fatalf("DecreaseQuantity: %v", err)
	}
	if len(cart.Items) != 0 || cart.TotalItems != 0 || cart.TotalPrice != 0 {
		t.Fatalf("expected empty cart, got %+v", cart)
	}
	if saved == nil || saved.TotalDiscount != 0 {
		t.Fatalf("expected recomputed totals persisted, got %+v", saved)
	}
}

func TestRemoveItemMissingLine(t *testing.T) {
	carts := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return existingCart(), nil
		},
	}
	svc := newTestCartService(t, carts, saleProduct())

	_, err := svc.RemoveItem(context.Background(), CartLineCommand{UserID: "u1", ProductID: "prod_1", SKU: "KUR-M-001"})
	if !errors.Is(err, ErrCartItemNotFound) {
		t.Fatalf("expected cart item not found, got %v", err)
	}
}

func TestMutateCartRetriesOnConflict(t *testing.T) {
	attempts := 0
	carts := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return existingCart(domain.CartItem{
				ID: "line_1", ProductID: "prod_1", SKU: "KUR-M-001", Quantity: 2, UnitPrice: 129900, MRP: 159900,
			}), nil
		},
		upsertFunc: func(ctx context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error) {
			attempts++
			if attempts == 1 {
				return domain.Cart{}, &fakeRepoError{conflict: true}
			}
			return cart, nil
		},
	}
	svc := newTestCartService(t, carts, saleProduct())

	if _, err := svc.DecreaseQuantity(context.Background(), CartLineCommand{UserID: "u1", ProductID: "prod_1", SKU: "KUR-M-001"}); err != nil {
		t.Fatalf("DecreaseQuantity after conflict retry: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 write attempts, got %d", attempts)
	}
}

func TestGetCartReturnsEmptyForNewUser(t *testing.T) {
	svc := newTestCartService(t, &stubCartRepository{}, saleProduct())

	cart, err := svc.GetCart(context.Background(), "fresh-user")
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if cart.UserID != "fresh-user" || len(cart.Items) != 0 {
		t.Fatalf("expected empty cart, got %+v", cart)
	}
}

func TestClearCartPersistsEmptiedDocument(t *testing.T) {
	lastWrite := time.Date(2025, 5, 30, 9, 0, 0, 0, time.UTC)
	var saved *domain.Cart
	var expectedAt *time.Time
	carts := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				ID:     userID,
				UserID: userID,
				Items: []domain.CartItem{{
					ID:        "line_001",
					ProductID: "prod_cloths_1",
					SKU:       "KUR-L-001",
					Quantity:  2,
					UnitPrice: 129900,
					MRP:       149900,
				}},
				TotalItems: 2,
				TotalPrice: 259800,
				UpdatedAt:  lastWrite,
			}, nil
		},
		upsertFunc: func(ctx context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error) {
			saved = &cart
			expectedAt = expected
			return cart, nil
		},
	}
	svc := newTestCartService(t, carts, saleProduct())

	if err := svc.ClearCart(context.Background(), "u1"); err != nil {
		t.Fatalf("ClearCart: %v", err)
	}
	if saved == nil {
		t.Fatal("expected emptied cart to be written back")
	}
	if len(saved.Items) != 0 {
		t.Fatalf("expected no items, got %d", len(saved.Items))
	}
	if saved.TotalItems != 0 || saved.TotalPrice != 0 || saved.TotalMRP != 0 || saved.TotalDiscount != 0 {
		t.Fatalf("expected zeroed totals, got %+v", saved)
	}
	if expectedAt == nil || !expectedAt.Equal(lastWrite) {
		t.Fatalf("expected write precondition %v, got %v", lastWrite, expectedAt)
	}
}

func TestClearCartMissingCartIsNoOp(t *testing.T) {
	upserts := 0
	carts := &stubCartRepository{
		upsertFunc: func(ctx context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error) {
			upserts++
			return cart, nil
		},
	}
	svc := newTestCartService(t, carts, saleProduct())

	if err := svc.ClearCart(context.Background(), "u1"); err != nil {
		t.Fatalf("ClearCart: %v", err)
	}
	if upserts != 0 {
		t.Fatalf("expected no write for a missing cart, got %d", upserts)
	}
}
