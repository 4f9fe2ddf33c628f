package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories/staging"
)

type checkoutHarness struct {
	carts      *stubCartRepository
	catalog    *stubCatalogRepository
	coupons    *stubCouponRepository
	deliveries *stubDeliveryRepository
	staging    *staging.MemoryRepository
	gateway    *stubPaymentGateway
	orders     *orderHarness
	checkout   CheckoutService
	settlement SettlementService
}

func newCheckoutHarness(t *testing.T) *checkoutHarness {
	t.Helper()
	catalog := storefrontCatalog()
	h := &checkoutHarness{
		carts:      newStubCartRepository(),
		catalog:    catalog,
		coupons:    &stubCouponRepository{coupons: map[string]domain.Coupon{"SAVE10": baseCoupon("SAVE10")}},
		deliveries: deliveryFixture(),
		staging:    staging.NewMemoryRepository(),
		gateway:    &stubPaymentGateway{},
		orders:     newOrderHarness(t, catalog),
	}

	pricing, err := NewPricingResolver(PricingResolverDeps{Catalog: catalog})
	require.NoError(t, err)
	coupons, err := NewCouponService(CouponServiceDeps{Coupons: h.coupons, Clock: func() time.Time { return checkoutNow }})
	require.NoError(t, err)

	var refs atomic.Int64
	h.checkout, err = NewCheckoutService(CheckoutServiceDeps{
		Carts:       h.carts,
		Pricing:     pricing,
		Deliveries:  h.deliveries,
		Coupons:     coupons,
		Orders:      h.orders.svc,
		Staging:     h.staging,
		Payments:    h.gateway,
		Policy:      testPolicy(),
		Clock:       func() time.Time { return checkoutNow },
		IDGenerator: func() string { return fmt.Sprintf("REF%03d", refs.Add(1)) },
	})
	require.NoError(t, err)

	h.settlement, err = NewSettlementService(SettlementServiceDeps{
		Staging:    h.staging,
		Carts:      h.carts,
		Deliveries: h.deliveries,
		Orders:     h.orders.svc,
		Pricing:    pricing,
		Coupons:    coupons,
		Payments:   h.gateway,
		Events:     h.orders.events,
		Metrics:    h.orders.metrics,
		Policy:     testPolicy(),
		Clock:      func() time.Time { return checkoutNow },
	})
	require.NoError(t, err)
	return h
}

var guestOwner = Owner{GuestToken: "guest-token-0123456789"}

func (h *checkoutHarness) seedCart(owner Owner, lines ...domain.CartLine) {
	key, err := owner.Key()
	if err != nil {
		panic(err)
	}
	for i := range lines {
		lines[i].ID = fmt.Sprintf("line-%d", i+1)
	}
	h.carts.carts[key] = domain.Cart{OwnerKey: key, UserID: owner.UserID, Lines: lines}
}

func (h *checkoutHarness) seedMixedCart(owner Owner) {
	h.seedCart(owner,
		domain.CartLine{ProductID: "mouse", Quantity: 1, UnitPrice: dec("500")},
		domain.CartLine{ProductID: "drone", Quantity: 1, UnitPrice: dec("2000"), IsPreOrder: true},
	)
}

func mixedCheckoutCommand(owner Owner) PrepareCheckoutCommand {
	return PrepareCheckoutCommand{
		Owner:            owner,
		Address:          testAddress(),
		DeliveryOptionID: "std",
		ShippingOptionID: "air",
		CouponCode:       "save10",
		IdempotencyKey:   "idem-1",
	}
}

func cartLine(productID string, qty int, price string, preOrder bool) domain.CartLine {
	return domain.CartLine{ProductID: productID, Quantity: qty, UnitPrice: dec(price), IsPreOrder: preOrder}
}

func TestBuildDraftsRegularOnlyWaivesDeliveryAboveThreshold(t *testing.T) {
	std := deliveryFixture().options["std"]
	set, err := BuildDrafts(BuildDraftsInput{
		Lines:    []domain.CartLine{cartLine("laptop", 1, "1200", false)},
		Delivery: &std,
		Today:    checkoutNow,
	}, testPolicy())
	require.NoError(t, err)
	require.False(t, set.HasMixedCart)
	require.Len(t, set.Drafts, 1)

	draft := set.Drafts[0]
	require.Equal(t, domain.DraftRegular, draft.Kind)
	require.True(t, draft.DeliveryFee.IsZero())
	require.True(t, draft.Total.Equal(dec("1200")))
	require.Nil(t, draft.EstimatedArrival)
}

func TestBuildDraftsMixedCartAttributesCouponOnce(t *testing.T) {
	std := deliveryFixture().options["std"]
	air := deliveryFixture().options["air"]
	coupon := &CouponResult{Coupon: baseCoupon("SAVE10"), CouponID: "c-SAVE10", Code: "SAVE10", DiscountType: domain.DiscountPercentage}

	set, err := BuildDrafts(BuildDraftsInput{
		Lines: []domain.CartLine{
			cartLine("drone", 1, "2000", true),
			cartLine("mouse", 1, "500", false),
		},
		Delivery: &std,
		Shipping: &air,
		Coupon:   coupon,
		Today:    checkoutNow,
	}, testPolicy())
	require.NoError(t, err)
	require.True(t, set.HasMixedCart)
	require.Len(t, set.Drafts, 2)

	regular, preOrder := set.Drafts[0], set.Drafts[1]
	require.Equal(t, domain.DraftRegular, regular.Kind)
	require.True(t, regular.Subtotal.Equal(dec("500")))
	require.True(t, regular.DeliveryFee.Equal(dec("20")))
	require.True(t, regular.Discount.Equal(dec("50")))
	require.True(t, regular.Total.Equal(dec("470")), regular.Total.String())
	require.Equal(t, "c-SAVE10", regular.CouponID)

	require.Equal(t, domain.DraftPreOrder, preOrder.Kind)
	require.True(t, preOrder.Total.Equal(dec("2400")))
	require.True(t, preOrder.Discount.IsZero())
	require.Empty(t, preOrder.CouponID)
	require.NotNil(t, preOrder.EstimatedArrival)
	require.Equal(t, time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC), *preOrder.EstimatedArrival)

	require.Equal(t, int64(287000), toMinorUnits(sumTotals(set.Drafts)))
}

func TestBuildDraftsPreOrderOnlyOwnsCoupon(t *testing.T) {
	air := deliveryFixture().options["air"]
	shipping := baseCoupon("SHIP")
	shipping.DiscountType = domain.DiscountFreeShipping

	set, err := BuildDrafts(BuildDraftsInput{
		Lines:    []domain.CartLine{cartLine("drone", 2, "2000", true)},
		Shipping: &air,
		Coupon:   &CouponResult{Coupon: shipping, CouponID: "c-SHIP", Code: "SHIP", DiscountType: domain.DiscountFreeShipping},
		Today:    checkoutNow,
	}, testPolicy())
	require.NoError(t, err)
	require.Len(t, set.Drafts, 1)
	require.Equal(t, "c-SHIP", set.Drafts[0].CouponID)
	require.True(t, set.Drafts[0].Discount.Equal(dec("400")))
	require.True(t, set.Drafts[0].Total.Equal(dec("4000")))
}

func TestBuildDraftsRequiresMatchingOptions(t *testing.T) {
	air := deliveryFixture().options["air"]
	std := deliveryFixture().options["std"]

	_, err := BuildDrafts(BuildDraftsInput{Lines: []domain.CartLine{cartLine("mouse", 1, "500", false)}, Delivery: &air}, testPolicy())
	require.ErrorIs(t, err, ErrCheckoutValidation)

	_, err = BuildDrafts(BuildDraftsInput{Lines: []domain.CartLine{cartLine("drone", 1, "2000", true)}, Shipping: &std}, testPolicy())
	require.ErrorIs(t, err, ErrCheckoutValidation)

	_, err = BuildDrafts(BuildDraftsInput{}, testPolicy())
	require.ErrorIs(t, err, ErrCheckoutValidation)
}

func TestBuildDraftsConservesTotals(t *testing.T) {
	std := deliveryFixture().options["std"]
	air := deliveryFixture().options["air"]
	policy := testPolicy()
	policy.TaxRate = dec("0.125")

	fixed := baseCoupon("FIXED")
	fixed.DiscountType = domain.DiscountFixedAmount
	fixed.DiscountValue = dec("75")

	carts := [][]domain.CartLine{
		{cartLine("mouse", 1, "19.99", false)},
		{cartLine("mouse", 3, "333.33", false), cartLine("drone", 1, "1999.95", true)},
		{cartLine("laptop", 1, "1200", false), cartLine("mouse", 2, "0.01", false)},
		{cartLine("drone", 4, "250.10", true)},
		{cartLine("mouse", 1, "40", false), cartLine("drone", 1, "10", true)},
	}
	for i, lines := range carts {
		for _, coupon := range []*CouponResult{nil, {Coupon: fixed, CouponID: "c-FIXED", DiscountType: domain.DiscountFixedAmount}} {
			t.Run(fmt.Sprintf("cart%d/coupon=%t", i, coupon != nil), func(t *testing.T) {
				set, err := BuildDrafts(BuildDraftsInput{Lines: lines, Delivery: &std, Shipping: &air, Coupon: coupon, Today: checkoutNow}, policy)
				require.NoError(t, err)

				lineSum := decimal.Zero
				for _, line := range lines {
					lineSum = lineSum.Add(line.Subtotal())
				}
				var subtotals, fees, taxes, discounts decimal.Decimal
				owners := 0
				for _, draft := range set.Drafts {
					subtotals = subtotals.Add(draft.Subtotal)
					fees = fees.Add(draft.DeliveryFee)
					taxes = taxes.Add(draft.Tax)
					discounts = discounts.Add(draft.Discount)
					if draft.OwnsCoupon() {
						owners++
					}
					require.False(t, draft.Total.IsNegative())
				}
				require.True(t, subtotals.Equal(lineSum), "subtotals %s vs lines %s", subtotals, lineSum)
				if coupon == nil {
					require.Zero(t, owners)
				} else {
					require.Equal(t, 1, owners)
				}
				expected := subtotals.Add(fees).Add(taxes).Sub(discounts)
				require.True(t, sumTotals(set.Drafts).Equal(expected), "totals %s vs %s", sumTotals(set.Drafts), expected)
			})
		}
	}
}

func TestPrepareCheckoutRepricesFromCatalog(t *testing.T) {
	h := newCheckoutHarness(t)
	h.seedCart(guestOwner, cartLine("mouse", 1, "450", false))

	cmd := mixedCheckoutCommand(guestOwner)
	cmd.CouponCode = ""
	preview, err := h.checkout.PrepareCheckout(context.Background(), cmd)
	require.NoError(t, err)
	require.Len(t, preview.Drafts, 1)
	require.True(t, preview.Drafts[0].Items[0].UnitPrice.Equal(dec("500")))
	require.Equal(t, "Mouse", preview.Drafts[0].Items[0].ProductName)
	require.True(t, preview.GrandTotal.Equal(dec("520")))
	require.Equal(t, "GHS", preview.Currency)
	require.Equal(t, domain.PaymentCard, preview.Drafts[0].PaymentMethod)
}

func TestPrepareCheckoutSurfacesCouponErrorWithoutBlocking(t *testing.T) {
	h := newCheckoutHarness(t)
	h.seedMixedCart(guestOwner)

	cmd := mixedCheckoutCommand(guestOwner)
	cmd.CouponCode = "NOPE"
	preview, err := h.checkout.PrepareCheckout(context.Background(), cmd)
	require.NoError(t, err)
	require.NotNil(t, preview.CouponError)
	require.Equal(t, CouponNotFound, preview.CouponError.Reason)
	require.True(t, preview.GrandTotal.Equal(dec("2920")))

	_, err = h.checkout.SubmitCashOrder(context.Background(), cmd)
	requireCouponReason(t, err, CouponNotFound)
	require.Zero(t, h.orders.repo.count())
}

func TestPrepareCheckoutValidatesAndSanitizesContact(t *testing.T) {
	h := newCheckoutHarness(t)
	h.seedMixedCart(guestOwner)

	cmd := mixedCheckoutCommand(guestOwner)
	cmd.Address.Street = ""
	cmd.Address.City = "  "
	_, err := h.checkout.PrepareCheckout(context.Background(), cmd)
	require.ErrorIs(t, err, ErrCheckoutValidation)
	require.Contains(t, err.Error(), "street is required")
	require.Contains(t, err.Error(), "city is required")

	cmd = mixedCheckoutCommand(guestOwner)
	cmd.Customer.Email = "not-an-email"
	_, err = h.checkout.PrepareCheckout(context.Background(), cmd)
	require.ErrorIs(t, err, ErrCheckoutValidation)

	cmd = mixedCheckoutCommand(guestOwner)
	cmd.Notes = `<script>alert(1)</script><b>Leave at the gate</b> & call`
	cmd.Address.Recipient = `<img src=x onerror=alert(1)>Ama Mensah`
	preview, err := h.checkout.PrepareCheckout(context.Background(), cmd)
	require.NoError(t, err)
	require.Equal(t, "Leave at the gate & call", preview.Drafts[0].Notes)
	require.Equal(t, "Ama Mensah", preview.Drafts[0].Address.Recipient)
	require.Equal(t, "Ama Mensah", preview.Drafts[0].Customer.Name)
	require.Equal(t, "ama@example.com", preview.Drafts[0].Customer.Email)
}

func TestPrepareCheckoutRejectsUnusableOptions(t *testing.T) {
	h := newCheckoutHarness(t)
	h.seedMixedCart(guestOwner)

	cmd := mixedCheckoutCommand(guestOwner)
	cmd.ShippingOptionID = "sea"
	_, err := h.checkout.PrepareCheckout(context.Background(), cmd)
	require.ErrorIs(t, err, ErrCheckoutValidation)

	cmd = mixedCheckoutCommand(guestOwner)
	cmd.DeliveryOptionID = "air"
	_, err = h.checkout.PrepareCheckout(context.Background(), cmd)
	require.ErrorIs(t, err, ErrCheckoutValidation)

	cmd = mixedCheckoutCommand(guestOwner)
	cmd.ShippingOptionID = ""
	_, err = h.checkout.PrepareCheckout(context.Background(), cmd)
	require.ErrorIs(t, err, ErrCheckoutValidation)
}

func TestPrepareCheckoutRejectsEmptyCartAndUnavailableProducts(t *testing.T) {
	h := newCheckoutHarness(t)
	_, err := h.checkout.PrepareCheckout(context.Background(), mixedCheckoutCommand(guestOwner))
	require.ErrorIs(t, err, ErrCheckoutValidation)

	h.seedCart(guestOwner, cartLine("ghost", 1, "10", false), cartLine("laptop", 4, "1200", false))
	_, err = h.checkout.PrepareCheckout(context.Background(), mixedCheckoutCommand(guestOwner))
	var unavailable *ProductUnavailableError
	require.ErrorAs(t, err, &unavailable)
	require.Equal(t, []string{"ghost"}, unavailable.ProductIDs)

	h.seedCart(guestOwner, cartLine("laptop", 4, "1200", false))
	_, err = h.checkout.PrepareCheckout(context.Background(), mixedCheckoutCommand(guestOwner))
	var stockErr *StockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, 3, stockErr.Available)
}

func TestSubmitCashOrderCreatesOneOrderPerDraft(t *testing.T) {
	h := newCheckoutHarness(t)
	h.seedMixedCart(guestOwner)

	result, err := h.checkout.SubmitCashOrder(context.Background(), mixedCheckoutCommand(guestOwner))
	require.NoError(t, err)
	require.False(t, result.PartialFailure)
	require.Empty(t, result.Failures)
	require.Len(t, result.Orders, 2)
	require.Equal(t, domain.DraftRegular, result.Orders[0].Kind)
	require.True(t, result.Orders[0].Total.Equal(dec("470")))
	require.Equal(t, domain.PaymentCashOnDelivery, result.Orders[0].PaymentMethod)
	require.Equal(t, domain.DraftPreOrder, result.Orders[1].Kind)
	require.True(t, result.Orders[1].Total.Equal(dec("2400")))

	require.Contains(t, h.orders.repo.index, "cod:guest:guest-token-0123456789:idem-1:regular")
	require.Contains(t, h.orders.repo.index, "cod:guest:guest-token-0123456789:idem-1:pre_order")
	require.Equal(t, []string{"guest:guest-token-0123456789"}, h.carts.deleted)
	require.Len(t, h.orders.repo.redemptions, 1)
}

func TestSubmitCashOrderPartialFailureKeepsSibling(t *testing.T) {
	h := newCheckoutHarness(t)
	h.seedMixedCart(guestOwner)
	h.orders.repo.createErr = func(req repositories.OrderCreate) error {
		if req.Order.Kind == domain.DraftRegular {
			return repositories.RejectMissingProducts("mouse")
		}
		return nil
	}

	result, err := h.checkout.SubmitCashOrder(context.Background(), mixedCheckoutCommand(guestOwner))
	require.NoError(t, err)
	require.True(t, result.PartialFailure)
	require.Len(t, result.Orders, 1)
	require.Equal(t, domain.DraftPreOrder, result.Orders[0].Kind)
	require.Len(t, result.Failures, 1)
	require.Equal(t, domain.DraftRegular, result.Failures[0].Kind)
	require.Equal(t, "product_unavailable", result.Failures[0].Reason)
	require.Equal(t, []string{"mouse"}, result.Failures[0].ProductIDs)
	require.NotEmpty(t, h.carts.deleted)
}

func TestSubmitCashOrderAllFailuresKeepCart(t *testing.T) {
	h := newCheckoutHarness(t)
	h.seedMixedCart(guestOwner)
	h.orders.repo.createErr = func(repositories.OrderCreate) error { return errors.New("unavailable") }

	result, err := h.checkout.SubmitCashOrder(context.Background(), mixedCheckoutCommand(guestOwner))
	require.ErrorIs(t, err, ErrOrderCreationFailed)
	require.Len(t, result.Failures, 2)
	require.Empty(t, h.carts.deleted)
}

func TestSubmitCardPaymentStagesAndConvertsOnce(t *testing.T) {
	h := newCheckoutHarness(t)
	h.seedMixedCart(guestOwner)

	redirect, err := h.checkout.SubmitCardPayment(context.Background(), mixedCheckoutCommand(guestOwner))
	require.NoError(t, err)
	require.Equal(t, "VT-REF001", redirect.Reference)
	require.Equal(t, int64(287000), redirect.AmountMinor)
	require.True(t, redirect.Total.Equal(dec("2870")))
	require.Equal(t, "https://checkout.example/VT-REF001", redirect.CheckoutURL)
	require.Zero(t, h.orders.repo.count())

	require.Len(t, h.gateway.initialized, 1)
	init := h.gateway.initialized[0]
	require.Equal(t, int64(287000), init.AmountMinor)
	require.Equal(t, "GHS", init.Currency)
	for key, value := range init.Metadata {
		require.NotContains(t, key, "total", "metadata %s=%s", key, value)
		require.NotContains(t, key, "amount")
	}
	require.Equal(t, "r|mouse|1|,p|drone|1|", init.Metadata["items_0"])

	staged, err := h.staging.FindByReference(context.Background(), redirect.Reference)
	require.NoError(t, err)
	require.Equal(t, "guest:guest-token-0123456789", staged.OwnerKey)
	require.Equal(t, "cs_VT-REF001", staged.GatewaySessionID)
	require.Len(t, staged.Drafts, 2)
	for _, draft := range staged.Drafts {
		require.Equal(t, redirect.Reference, draft.PaymentReference)
		require.Equal(t, domain.PaymentCard, draft.PaymentMethod)
	}
	require.Empty(t, h.carts.deleted)
}

func TestSubmitCardPaymentGatewayFailure(t *testing.T) {
	h := newCheckoutHarness(t)
	h.seedMixedCart(guestOwner)
	h.gateway.initErr = errors.New("stripe: rate limited")

	_, err := h.checkout.SubmitCardPayment(context.Background(), mixedCheckoutCommand(guestOwner))
	require.ErrorIs(t, err, ErrCheckoutUnavailable)
}

func TestSubmitRejectsBadOwner(t *testing.T) {
	h := newCheckoutHarness(t)
	_, err := h.checkout.SubmitCashOrder(context.Background(), mixedCheckoutCommand(Owner{GuestToken: "short"}))
	require.ErrorIs(t, err, ErrCheckoutValidation)
	_, err = h.checkout.SubmitCardPayment(context.Background(), mixedCheckoutCommand(Owner{}))
	require.ErrorIs(t, err, ErrCheckoutValidation)
}

func TestSettlementMetadataRoundTrip(t *testing.T) {
	drafts := []domain.CheckoutDraft{
		{
			Kind:     domain.DraftRegular,
			Delivery: domain.DeliveryOption{ID: "std"},
			Customer: domain.CustomerIdentity{UserID: "u1", Email: "ama@example.com"},
			Address:  testAddress(),
			Items: []domain.DraftItem{{
				ProductID:  "laptop|pro",
				Quantity:   2,
				Selections: []domain.VariantSelection{{AttributeID: "ram", OptionID: "32gb"}, {AttributeID: "finish", OptionID: "matte black"}},
			}},
			CouponCode: "SAVE10",
		},
		{Kind: domain.DraftPreOrder, Delivery: domain.DeliveryOption{ID: "air"}, Items: []domain.DraftItem{{ProductID: "drone", Quantity: 1}}},
	}
	meta := encodeSettlementMetadata("VT-1", "user:u1", drafts)
	for _, value := range meta {
		require.LessOrEqual(t, len(value), metadataValueLimit)
	}

	recovered, err := decodeSettlementMetadata(meta)
	require.NoError(t, err)
	require.Equal(t, "VT-1", recovered.Reference)
	require.Equal(t, "user:u1", recovered.OwnerKey)
	require.Equal(t, "std", recovered.DeliveryOptionID)
	require.Equal(t, "air", recovered.ShippingOptionID)
	require.Equal(t, "SAVE10", recovered.CouponCode)
	require.Equal(t, []recoveredLine{
		{ProductID: "laptop|pro", Quantity: 2, Selections: drafts[0].Items[0].Selections},
		{PreOrder: true, ProductID: "drone", Quantity: 1},
	}, recovered.Lines)
}

func TestSettlementMetadataChunksLargeCarts(t *testing.T) {
	items := make([]domain.DraftItem, 0, 60)
	for i := 0; i < 60; i++ {
		items = append(items, domain.DraftItem{ProductID: fmt.Sprintf("product-%02d-%s", i, strings.Repeat("x", 20)), Quantity: 1})
	}
	meta := encodeSettlementMetadata("VT-2", "user:u1", []domain.CheckoutDraft{{Kind: domain.DraftRegular, Items: items}})
	require.Contains(t, meta, "items_1")

	recovered, err := decodeSettlementMetadata(meta)
	require.NoError(t, err)
	require.Len(t, recovered.Lines, 60)
	require.Equal(t, items[59].ProductID, recovered.Lines[59].ProductID)
}
