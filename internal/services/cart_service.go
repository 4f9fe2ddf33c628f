package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartPricingRequired    = errors.New("cart service: pricing resolver is required")
	errCartCatalogRequired    = errors.New("cart service: catalog repository is required")
)

const maxCartLines = 50

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart line does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// CartServiceDeps wires the repository and pricing dependencies for cart operations.
type CartServiceDeps struct {
	Repository  repositories.CartRepository
	Pricing     PricingResolver
	Catalog     repositories.CatalogRepository
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
	IDGenerator func() string
}

type cartService struct {
	repo    repositories.CartRepository
	pricing PricingResolver
	catalog repositories.CatalogRepository
	newID   func() string
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Pricing == nil {
		return nil, errCartPricingRequired
	}
	if deps.Catalog == nil {
		return nil, errCartCatalogRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &cartService{
		repo:    deps.Repository,
		pricing: deps.Pricing,
		catalog: deps.Catalog,
		newID:   idGen,
		now:     func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// GetCart returns the owner's cart, or an empty cart when none was saved yet.
func (s *cartService) GetCart(ctx context.Context, owner Owner) (CartView, error) {
	cart, err := s.load(ctx, owner)
	if err != nil {
		return CartView{}, err
	}
	return viewOf(cart), nil
}

// AddLine prices the product with its selections and merges it into an identical existing line.
func (s *cartService) AddLine(ctx context.Context, cmd AddCartLineCommand) (CartMutation, error) {
	if cmd.Quantity < 1 {
		return CartMutation{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}
	cart, err := s.load(ctx, cmd.Owner)
	if err != nil {
		return CartMutation{}, err
	}

	quote, err := s.pricing.ResolvePrice(ctx, ResolvePriceCommand{
		ProductID:  cmd.ProductID,
		Selections: cmd.Selections,
	})
	if err != nil {
		return CartMutation{}, err
	}
	product := quote.Product

	now := s.now()
	index := slices.IndexFunc(cart.Lines, func(line domain.CartLine) bool {
		return line.ProductID == product.ID && sameSelections(line.Selections, cmd.Selections)
	})

	requested := cmd.Quantity
	if index >= 0 {
		requested += cart.Lines[index].Quantity
	} else if len(cart.Lines) >= maxCartLines {
		return CartMutation{}, fmt.Errorf("%w: cart cannot hold more than %d lines", ErrCartInvalidInput, maxCartLines)
	}

	applied, warning, err := clampQuantity(product, requested)
	if err != nil {
		return CartMutation{}, err
	}

	var line domain.CartLine
	if index >= 0 {
		line = cart.Lines[index]
	} else {
		line = domain.CartLine{
			ID:         s.newID(),
			ProductID:  product.ID,
			Selections: normalizeSelections(cmd.Selections),
			AddedAt:    now,
		}
	}
	line.ProductName = product.Name
	line.Thumbnail = product.Thumbnail
	line.IsPreOrder = product.IsPreOrder
	line.UnitPrice = quote.UnitPrice
	line.Quantity = applied
	line.UpdatedAt = now

	if index >= 0 {
		cart.Lines[index] = line
	} else {
		cart.Lines = append(cart.Lines, line)
	}

	saved, err := s.save(ctx, cart, now)
	if err != nil {
		return CartMutation{}, err
	}
	if warning != nil {
		warning.LineID = line.ID
		s.logger(ctx, "cart.quantity.clamped", map[string]any{
			"ownerKey":  cart.OwnerKey,
			"productId": product.ID,
			"requested": warning.Requested,
			"applied":   warning.Applied,
		})
	}
	return CartMutation{CartView: viewOf(saved), Line: line, Warning: warning}, nil
}

// UpdateQuantity sets a line's quantity, clamping to [1, stock] and reporting any clamp.
func (s *cartService) UpdateQuantity(ctx context.Context, cmd UpdateCartLineCommand) (CartMutation, error) {
	cart, err := s.load(ctx, cmd.Owner)
	if err != nil {
		return CartMutation{}, err
	}
	index := findLine(cart, cmd.LineID)
	if index < 0 {
		return CartMutation{}, ErrCartNotFound
	}
	line := cart.Lines[index]

	product, err := s.catalog.GetProduct(ctx, line.ProductID)
	if err != nil {
		if isRepoNotFound(err) {
			return CartMutation{}, &ProductUnavailableError{ProductIDs: []string{line.ProductID}}
		}
		return CartMutation{}, s.translateRepoError(err)
	}
	if !product.Active {
		return CartMutation{}, &ProductUnavailableError{ProductIDs: []string{line.ProductID}}
	}

	applied, warning, err := clampQuantity(product, cmd.Quantity)
	if err != nil {
		return CartMutation{}, err
	}

	now := s.now()
	line.Quantity = applied
	line.IsPreOrder = product.IsPreOrder
	line.UpdatedAt = now
	cart.Lines[index] = line

	saved, err := s.save(ctx, cart, now)
	if err != nil {
		return CartMutation{}, err
	}
	if warning != nil {
		warning.LineID = line.ID
	}
	return CartMutation{CartView: viewOf(saved), Line: line, Warning: warning}, nil
}

// RemoveLine drops a line from the cart.
func (s *cartService) RemoveLine(ctx context.Context, cmd RemoveCartLineCommand) (CartView, error) {
	cart, err := s.load(ctx, cmd.Owner)
	if err != nil {
		return CartView{}, err
	}
	index := findLine(cart, cmd.LineID)
	if index < 0 {
		return CartView{}, ErrCartNotFound
	}
	cart.Lines = slices.Delete(cart.Lines, index, index+1)

	saved, err := s.save(ctx, cart, s.now())
	if err != nil {
		return CartView{}, err
	}
	return viewOf(saved), nil
}

// Clear deletes the owner's cart. Clearing an absent cart succeeds.
func (s *cartService) Clear(ctx context.Context, owner Owner) error {
	key, err := owner.Key()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
	}
	if err := s.repo.DeleteCart(ctx, key); err != nil && !isRepoNotFound(err) {
		return s.translateRepoError(err)
	}
	return nil
}

func (s *cartService) load(ctx context.Context, owner Owner) (domain.Cart, error) {
	if s == nil || s.repo == nil {
		return domain.Cart{}, ErrCartUnavailable
	}
	key, err := owner.Key()
	if err != nil {
		return domain.Cart{}, fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
	}
	cart, err := s.repo.GetCart(ctx, key)
	if err != nil {
		if !isRepoNotFound(err) {
			return domain.Cart{}, s.translateRepoError(err)
		}
		cart = domain.Cart{}
	}
	cart.OwnerKey = key
	cart.UserID = strings.TrimSpace(owner.UserID)
	return cart, nil
}

func (s *cartService) save(ctx context.Context, cart domain.Cart, now time.Time) (domain.Cart, error) {
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now
	saved, err := s.repo.SaveCart(ctx, cart)
	if err != nil {
		return domain.Cart{}, s.translateRepoError(err)
	}
	return saved, nil
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		}
	}
	return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
}

// SummarizeCart partitions lines into regular and pre-order subsets and totals each.
func SummarizeCart(lines []domain.CartLine) domain.CartTotals {
	totals := domain.CartTotals{
		RegularSubtotal:  decimal.Zero,
		PreOrderSubtotal: decimal.Zero,
	}
	for _, line := range lines {
		if line.IsPreOrder {
			totals.PreOrderLines = append(totals.PreOrderLines, line)
			totals.PreOrderSubtotal = totals.PreOrderSubtotal.Add(line.Subtotal())
			continue
		}
		totals.RegularLines = append(totals.RegularLines, line)
		totals.RegularSubtotal = totals.RegularSubtotal.Add(line.Subtotal())
	}
	totals.GrandSubtotal = totals.RegularSubtotal.Add(totals.PreOrderSubtotal)
	totals.HasMixedCart = len(totals.RegularLines) > 0 && len(totals.PreOrderLines) > 0
	return totals
}

func viewOf(cart domain.Cart) CartView {
	return CartView{Cart: cart, Totals: SummarizeCart(cart.Lines)}
}

// clampQuantity keeps a requested quantity within [1, stock]. Pre-order products are not bound by
// stock, so only the lower bound applies to them.
func clampQuantity(product domain.Product, requested int) (int, *StockWarning, error) {
	applied := requested
	if applied < 1 {
		applied = 1
	}
	if !product.IsPreOrder {
		if product.StockQuantity < 1 {
			return 0, nil, &StockError{ProductIDs: []string{product.ID}, Requested: requested, Available: 0}
		}
		if applied > product.StockQuantity {
			applied = product.StockQuantity
		}
	}
	if applied == requested {
		return applied, nil, nil
	}
	return applied, &StockWarning{
		ProductID: product.ID,
		Requested: requested,
		Applied:   applied,
		Available: product.StockQuantity,
	}, nil
}

func findLine(cart domain.Cart, lineID string) int {
	id := strings.TrimSpace(lineID)
	if id == "" {
		return -1
	}
	return slices.IndexFunc(cart.Lines, func(line domain.CartLine) bool { return line.ID == id })
}

func normalizeSelections(selections []domain.VariantSelection) []domain.VariantSelection {
	if len(selections) == 0 {
		return nil
	}
	out := make([]domain.VariantSelection, 0, len(selections))
	for _, sel := range selections {
		out = append(out, domain.VariantSelection{
			AttributeID: strings.TrimSpace(sel.AttributeID),
			OptionID:    strings.TrimSpace(sel.OptionID),
		})
	}
	slices.SortFunc(out, func(a, b domain.VariantSelection) int {
		return strings.Compare(a.AttributeID, b.AttributeID)
	})
	return out
}

// sameSelections compares selection sets ignoring order.
func sameSelections(a, b []domain.VariantSelection) bool {
	left := normalizeSelections(a)
	right := normalizeSelections(b)
	if len(left) != len(right) {
		return false
	}
	for i := range left {
		if left[i] != right[i] {
			return false
		}
	}
	return true
}
