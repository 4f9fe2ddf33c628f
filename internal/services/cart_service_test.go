package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
)

type stubCartRepository struct {
	carts     map[string]domain.Cart
	getErr    error
	saveErr   error
	saveCalls int
	deleted   []string
}

func newStubCartRepository() *stubCartRepository {
	return &stubCartRepository{carts: map[string]domain.Cart{}}
}

func (s *stubCartRepository) GetCart(_ context.Context, ownerKey string) (domain.Cart, error) {
	if s.getErr != nil {
		return domain.Cart{}, s.getErr
	}
	cart, ok := s.carts[ownerKey]
	if !ok {
		return domain.Cart{}, repositories.NewNotFoundError("carts.get", "cart not found")
	}
	cart.Lines = append([]domain.CartLine(nil), cart.Lines...)
	return cart, nil
}

func (s *stubCartRepository) SaveCart(_ context.Context, cart domain.Cart) (domain.Cart, error) {
	s.saveCalls++
	if s.saveErr != nil {
		return domain.Cart{}, s.saveErr
	}
	s.carts[cart.OwnerKey] = cart
	return cart, nil
}

func (s *stubCartRepository) DeleteCart(_ context.Context, ownerKey string) error {
	s.deleted = append(s.deleted, ownerKey)
	delete(s.carts, ownerKey)
	return nil
}

var testCartTime = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

func newTestCartService(t *testing.T, repo *stubCartRepository, catalog *stubCatalogRepository) CartService {
	t.Helper()
	resolver, err := NewPricingResolver(PricingResolverDeps{Catalog: catalog})
	require.NoError(t, err)
	seq := 0
	svc, err := NewCartService(CartServiceDeps{
		Repository: repo,
		Pricing:    resolver,
		Catalog:    catalog,
		Clock:      func() time.Time { return testCartTime },
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("line-%d", seq)
		},
	})
	require.NoError(t, err)
	return svc
}

func cartCatalog() *stubCatalogRepository {
	laptop, attributes := laptopFixture()
	return &stubCatalogRepository{
		products: map[string]domain.Product{
			"laptop": laptop,
			"drone":  {ID: "drone", Name: "Drone", BasePrice: dec("2000"), StockQuantity: 0, IsPreOrder: true, Active: true},
			"mouse":  {ID: "mouse", Name: "Mouse", BasePrice: dec("25"), StockQuantity: 0, Active: true},
		},
		attributes: map[string][]domain.ProductAttribute{"laptop": attributes},
	}
}

var userOwner = Owner{UserID: "user-1"}

func TestCartServiceAddLineMergesIdenticalSelections(t *testing.T) {
	repo := newStubCartRepository()
	svc := newTestCartService(t, repo, cartCatalog())
	ctx := context.Background()

	first, err := svc.AddLine(ctx, AddCartLineCommand{
		Owner:     userOwner,
		ProductID: "laptop",
		Quantity:  1,
		Selections: []domain.VariantSelection{
			{AttributeID: "ram", OptionID: "16gb"},
			{AttributeID: "finish", OptionID: "gloss"},
		},
	})
	require.NoError(t, err)
	require.Nil(t, first.Warning)
	require.True(t, first.Line.UnitPrice.Equal(dec("1200")))

	// same selections in a different order merge into the existing line
	merged, err := svc.AddLine(ctx, AddCartLineCommand{
		Owner:     userOwner,
		ProductID: "laptop",
		Quantity:  2,
		Selections: []domain.VariantSelection{
			{AttributeID: "finish", OptionID: "gloss"},
			{AttributeID: "ram", OptionID: "16gb"},
		},
	})
	require.NoError(t, err)
	require.Len(t, merged.Cart.Lines, 1)
	require.Equal(t, 3, merged.Line.Quantity)
	require.Equal(t, first.Line.ID, merged.Line.ID)

	distinct, err := svc.AddLine(ctx, AddCartLineCommand{
		Owner:      userOwner,
		ProductID:  "laptop",
		Quantity:   1,
		Selections: []domain.VariantSelection{{AttributeID: "ram", OptionID: "32gb"}},
	})
	require.NoError(t, err)
	require.Len(t, distinct.Cart.Lines, 2)
	require.True(t, distinct.Totals.RegularSubtotal.Equal(dec("5050")), distinct.Totals.RegularSubtotal.String())
	require.Equal(t, "user:user-1", repo.carts["user:user-1"].OwnerKey)
}

func TestCartServiceAddLineClampsToStock(t *testing.T) {
	repo := newStubCartRepository()
	svc := newTestCartService(t, repo, cartCatalog())

	result, err := svc.AddLine(context.Background(), AddCartLineCommand{Owner: userOwner, ProductID: "laptop", Quantity: 8})
	require.NoError(t, err)
	require.Equal(t, 5, result.Line.Quantity)
	require.NotNil(t, result.Warning)
	require.Equal(t, StockWarning{LineID: result.Line.ID, ProductID: "laptop", Requested: 8, Applied: 5, Available: 5}, *result.Warning)

	_, err = svc.AddLine(context.Background(), AddCartLineCommand{Owner: userOwner, ProductID: "mouse", Quantity: 1})
	var stockErr *StockError
	require.ErrorAs(t, err, &stockErr)
	require.ErrorIs(t, err, ErrStockUnavailable)
}

func TestCartServicePreOrderIgnoresStock(t *testing.T) {
	repo := newStubCartRepository()
	svc := newTestCartService(t, repo, cartCatalog())

	result, err := svc.AddLine(context.Background(), AddCartLineCommand{Owner: userOwner, ProductID: "drone", Quantity: 3})
	require.NoError(t, err)
	require.Nil(t, result.Warning)
	require.True(t, result.Line.IsPreOrder)
	require.True(t, result.Totals.PreOrderSubtotal.Equal(dec("6000")))
	require.False(t, result.Totals.HasMixedCart)
}

func TestCartServiceUpdateQuantityWarnsWhenClamped(t *testing.T) {
	repo := newStubCartRepository()
	svc := newTestCartService(t, repo, cartCatalog())
	ctx := context.Background()

	added, err := svc.AddLine(ctx, AddCartLineCommand{Owner: userOwner, ProductID: "laptop", Quantity: 1})
	require.NoError(t, err)

	updated, err := svc.UpdateQuantity(ctx, UpdateCartLineCommand{Owner: userOwner, LineID: added.Line.ID, Quantity: 9})
	require.NoError(t, err)
	require.Equal(t, 5, updated.Line.Quantity)
	require.NotNil(t, updated.Warning)
	require.Equal(t, 9, updated.Warning.Requested)

	updated, err = svc.UpdateQuantity(ctx, UpdateCartLineCommand{Owner: userOwner, LineID: added.Line.ID, Quantity: 0})
	require.NoError(t, err)
	require.Equal(t, 1, updated.Line.Quantity)
	require.NotNil(t, updated.Warning)

	updated, err = svc.UpdateQuantity(ctx, UpdateCartLineCommand{Owner: userOwner, LineID: added.Line.ID, Quantity: 4})
	require.NoError(t, err)
	require.Equal(t, 4, updated.Line.Quantity)
	require.Nil(t, updated.Warning)

	_, err = svc.UpdateQuantity(ctx, UpdateCartLineCommand{Owner: userOwner, LineID: "nope", Quantity: 1})
	require.ErrorIs(t, err, ErrCartNotFound)
}

func TestCartServiceRemoveAndClear(t *testing.T) {
	repo := newStubCartRepository()
	svc := newTestCartService(t, repo, cartCatalog())
	ctx := context.Background()
	guest := Owner{GuestToken: "guest-token-0123456789"}

	added, err := svc.AddLine(ctx, AddCartLineCommand{Owner: guest, ProductID: "laptop", Quantity: 1})
	require.NoError(t, err)
	_, err = svc.AddLine(ctx, AddCartLineCommand{Owner: guest, ProductID: "drone", Quantity: 1})
	require.NoError(t, err)

	view, err := svc.RemoveLine(ctx, RemoveCartLineCommand{Owner: guest, LineID: added.Line.ID})
	require.NoError(t, err)
	require.Len(t, view.Cart.Lines, 1)

	require.NoError(t, svc.Clear(ctx, guest))
	require.Equal(t, []string{"guest:guest-token-0123456789"}, repo.deleted)

	view, err = svc.GetCart(ctx, guest)
	require.NoError(t, err)
	require.Empty(t, view.Cart.Lines)
	require.True(t, view.Totals.GrandSubtotal.IsZero())
}

func TestCartServiceRejectsBadOwnersAndInput(t *testing.T) {
	svc := newTestCartService(t, newStubCartRepository(), cartCatalog())
	ctx := context.Background()

	_, err := svc.GetCart(ctx, Owner{})
	require.ErrorIs(t, err, ErrCartInvalidInput)
	_, err = svc.GetCart(ctx, Owner{GuestToken: "short"})
	require.ErrorIs(t, err, ErrCartInvalidInput)
	_, err = svc.AddLine(ctx, AddCartLineCommand{Owner: userOwner, ProductID: "laptop", Quantity: 0})
	require.ErrorIs(t, err, ErrCartInvalidInput)
	_, err = svc.AddLine(ctx, AddCartLineCommand{Owner: userOwner, ProductID: "ghost", Quantity: 1})
	require.ErrorIs(t, err, ErrProductUnavailable)
}

func TestCartServiceTranslatesRepositoryFailures(t *testing.T) {
	repo := newStubCartRepository()
	repo.getErr = errors.New("firestore down")
	svc := newTestCartService(t, repo, cartCatalog())

	_, err := svc.GetCart(context.Background(), userOwner)
	require.ErrorIs(t, err, ErrCartUnavailable)
}

func TestSummarizeCartPartitions(t *testing.T) {
	lines := []domain.CartLine{
		{ID: "a", Quantity: 2, UnitPrice: dec("150")},
		{ID: "b", Quantity: 1, UnitPrice: dec("200")},
		{ID: "c", Quantity: 1, UnitPrice: dec("2000"), IsPreOrder: true},
	}
	totals := SummarizeCart(lines)
	require.True(t, totals.RegularSubtotal.Equal(dec("500")))
	require.True(t, totals.PreOrderSubtotal.Equal(dec("2000")))
	require.True(t, totals.GrandSubtotal.Equal(dec("2500")))
	require.Len(t, totals.RegularLines, 2)
	require.Len(t, totals.PreOrderLines, 1)
	require.True(t, totals.HasMixedCart)

	require.False(t, SummarizeCart(lines[:2]).HasMixedCart)
	require.False(t, SummarizeCart(nil).HasMixedCart)
}
