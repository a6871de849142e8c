package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/auric-commerce/api/internal/domain"
	"github.com/auric-commerce/api/internal/platform/textutil"
	"github.com/auric-commerce/api/internal/repositories"
)

var (
	// ErrCartInvalidInput indicates the caller supplied malformed arguments.
	ErrCartInvalidInput = errors.New("cart service: invalid input")
	// ErrCartNotFound indicates the cart does not exist.
	ErrCartNotFound = errors.New("cart service: cart not found")
	// ErrCartItemNotFound indicates the addressed cart line does not exist.
	ErrCartItemNotFound = errors.New("cart service: cart item not found")
	// ErrCartInsufficientStock indicates the requested quantity exceeds availability.
	ErrCartInsufficientStock = errors.New("cart service: insufficient stock")
	// ErrCartConflict indicates concurrent modification of the cart.
	ErrCartConflict = errors.New("cart service: cart was modified concurrently")
	// ErrCartUnavailable indicates persistence problems while accessing carts.
	ErrCartUnavailable = errors.New("cart service: cart unavailable")
)

const cartWriteAttempts = 3

// CartServiceDeps wires required dependencies for the cart service.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Catalog     CatalogService
	Clock       func() time.Time
	Logger      func(ctx context.Context, msg string, fields map[string]any)
	IDGenerator func() string
}

type cartService struct {
	carts   repositories.CartRepository
	catalog CatalogService
	clock   func() time.Time
	logger  func(ctx context.Context, msg string, fields map[string]any)
	newID   func() string
}

// NewCartService validates dependencies and returns the cart workflow implementation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("cart service: catalog service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}

	return &cartService{
		carts:   deps.Carts,
		catalog: deps.Catalog,
		clock:   func() time.Time { return clock().UTC() },
		logger:  logger,
		newID:   newID,
	}, nil
}

// GetCart returns the user's cart. A user without a cart gets an empty one;
// nothing is persisted until the first mutation.
func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return emptyCart(uid), nil
		}
		return Cart{}, s.translateRepoError(ctx, "cart.get", err)
	}

	s.hydrateItems(ctx, &cart)
	return cart, nil
}

// AddItem snapshots the product's current price into a cart line. Lines merge
// only when product, SKU, attributes and customization are all equal. Stock
// is not checked here; it is enforced at quantity increase and at order time.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	uid := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	if uid == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if productID == "" {
		return Cart{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return Cart{}, err
	}
	variant, err := s.catalog.ResolveVariant(product, cmd.SKU, cmd.Attributes)
	if err != nil {
		return Cart{}, err
	}

	attributes := textutil.NormalizeStringMap(cmd.Attributes)

	return s.mutateCart(ctx, uid, true, func(cart *Cart, now time.Time) error {
		for i := range cart.Items {
			if !sameCartLine(cart.Items[i], productID, variant.SKU) {
				continue
			}
			if !textutil.EqualStringMaps(cart.Items[i].Attributes, attributes) {
				continue
			}
			if !customizationEqual(cart.Items[i].Customization, cmd.Customization) {
				continue
			}
			cart.Items[i].Quantity += cmd.Quantity
			cart.Items[i].UpdatedAt = &now
			return nil
		}

		cart.Items = append(cart.Items, CartItem{
			ID:            s.newID(),
			ProductID:     productID,
			SKU:           variant.SKU,
			Title:         product.Title,
			Size:          variant.Size,
			Attributes:    attributes,
			Customization: cloneAnyMap(cmd.Customization),
			Quantity:      cmd.Quantity,
			UnitPrice:     product.CurrentPrice(),
			MRP:           product.MRP,
			Media:         product.Media,
			AddedAt:       now,
		})
		return nil
	})
}

// IncreaseQuantity bumps a line by one after confirming availability. The
// check reads live catalog stock so a line added while in stock cannot grow
// past what is left.
func (s *cartService) IncreaseQuantity(ctx context.Context, cmd CartLineCommand) (Cart, error) {
	uid, productID, sku, err := validatedLine(cmd)
	if err != nil {
		return Cart{}, err
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return Cart{}, err
	}
	variant, err := s.catalog.ResolveVariant(product, sku, nil)
	if err != nil {
		return Cart{}, err
	}

	return s.mutateCart(ctx, uid, false, func(cart *Cart, now time.Time) error {
		for i := range cart.Items {
			if !sameCartLine(cart.Items[i], productID, sku) {
				continue
			}
			if cart.Items[i].Quantity+1 > variant.Stock {
				return fmt.Errorf("%w: only %d left for %s", ErrCartInsufficientStock, variant.Stock, lineLabel(variant))
			}
			cart.Items[i].Quantity++
			cart.Items[i].UpdatedAt = &now
			return nil
		}
		return fmt.Errorf("%w: %s (%s)", ErrCartItemNotFound, productID, sku)
	})
}

// DecreaseQuantity drops a line by one; a line at quantity one is removed.
func (s *cartService) DecreaseQuantity(ctx context.Context, cmd CartLineCommand) (Cart, error) {
	uid, productID, sku, err := validatedLine(cmd)
	if err != nil {
		return Cart{}, err
	}

	return s.mutateCart(ctx, uid, false, func(cart *Cart, now time.Time) error {
		for i := range cart.Items {
			if !sameCartLine(cart.Items[i], productID, sku) {
				continue
			}
			if cart.Items[i].Quantity > 1 {
				cart.Items[i].Quantity--
				cart.Items[i].UpdatedAt = &now
			} else {
				cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
			}
			return nil
		}
		return fmt.Errorf("%w: %s (%s)", ErrCartItemNotFound, productID, sku)
	})
}

// RemoveItem deletes the addressed line regardless of quantity.
func (s *cartService) RemoveItem(ctx context.Context, cmd CartLineCommand) (Cart, error) {
	uid, productID, sku, err := validatedLine(cmd)
	if err != nil {
		return Cart{}, err
	}

	return s.mutateCart(ctx, uid, false, func(cart *Cart, now time.Time) error {
		for i := range cart.Items {
			if sameCartLine(cart.Items[i], productID, sku) {
				cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: %s (%s)", ErrCartItemNotFound, productID, sku)
	})
}

// ClearCart empties the cart document in place. The document survives so the
// next read sees a cart with zeroed totals; clearing a missing cart is a no-op.
func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	_, err := s.mutateCart(ctx, uid, false, func(cart *Cart, now time.Time) error {
		cart.Items = []CartItem{}
		return nil
	})
	if errors.Is(err, ErrCartNotFound) {
		return nil
	}
	return err
}

// mutateCart loads the cart, applies the mutation, recomputes totals and
// writes the document back under an optimistic lock, retrying on conflicts.
func (s *cartService) mutateCart(ctx context.Context, userID string, createIfMissing bool, mutate func(cart *Cart, now time.Time) error) (Cart, error) {
	var lastErr error
	for attempt := 0; attempt < cartWriteAttempts; attempt++ {
		now := s.clock()

		cart, err := s.carts.GetCart(ctx, userID)
		var expected *time.Time
		switch {
		case err == nil:
			updatedAt := cart.UpdatedAt
			expected = &updatedAt
		case isRepoNotFound(err):
			if !createIfMissing {
				return Cart{}, fmt.Errorf("%w: user %s", ErrCartNotFound, userID)
			}
			cart = emptyCart(userID)
			cart.CreatedAt = now
		default:
			return Cart{}, s.translateRepoError(ctx, "cart.load", err)
		}

		if err := mutate(&cart, now); err != nil {
			return Cart{}, err
		}

		cart.Items, cart.TotalItems, cart.TotalPrice, cart.TotalMRP, cart.TotalDiscount = recomputeTotals(cart.Items)
		cart.UpdatedAt = now

		saved, err := s.carts.UpsertCart(ctx, cart, expected)
		if err == nil {
			return saved, nil
		}
		if isRepoConflict(err) {
			lastErr = err
			continue
		}
		return Cart{}, s.translateRepoError(ctx, "cart.save", err)
	}
	return Cart{}, fmt.Errorf("%w: %v", ErrCartConflict, lastErr)
}

// hydrateItems backfills title and media snapshots on lines that predate
// those fields. Failures are ignored; the stored snapshot stays authoritative.
func (s *cartService) hydrateItems(ctx context.Context, cart *Cart) {
	for i := range cart.Items {
		if cart.Items[i].Title != "" {
			continue
		}
		product, err := s.catalog.GetProduct(ctx, cart.Items[i].ProductID)
		if err != nil {
			s.logger(ctx, "cart hydrate skipped", map[string]any{
				"productId": cart.Items[i].ProductID,
				"error":     err.Error(),
			})
			continue
		}
		cart.Items[i].Title = product.Title
		if len(cart.Items[i].Media) == 0 {
			cart.Items[i].Media = product.Media
		}
	}
}

func recomputeTotals(items []CartItem) ([]CartItem, int, int64, int64, int64) {
	recomputed, totals := domain.ComputeCartTotals(items)
	return recomputed, totals.TotalItems, totals.TotalPrice, totals.TotalMRP, totals.TotalDiscount
}

func emptyCart(userID string) Cart {
	return Cart{
		ID:     userID,
		UserID: userID,
		Items:  []CartItem{},
	}
}

func validatedLine(cmd CartLineCommand) (string, string, string, error) {
	uid := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	sku := strings.TrimSpace(cmd.SKU)
	if uid == "" {
		return "", "", "", fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if productID == "" {
		return "", "", "", fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if sku == "" {
		return "", "", "", fmt.Errorf("%w: sku is required", ErrCartInvalidInput)
	}
	return uid, productID, sku, nil
}

func sameCartLine(item CartItem, productID string, sku string) bool {
	return item.ProductID == productID && item.SKU == sku
}

func lineLabel(variant Variant) string {
	if variant.Size != "" {
		return "size " + variant.Size
	}
	return variant.SKU
}

func customizationEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
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

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func (s *cartService) translateRepoError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCartNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCartConflict, err)
		case repoErr.IsUnavailable():
			s.logger(ctx, "cart repository unavailable", map[string]any{"op": op, "error": err.Error()})
			return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
