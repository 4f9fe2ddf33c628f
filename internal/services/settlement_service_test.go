package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	"github.com/cimonstech/ventechfront-sub000/internal/payments"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
)

var memberOwner = Owner{UserID: "u1"}

func (h *checkoutHarness) startCardPayment(t *testing.T, owner Owner) PaymentRedirect {
	t.Helper()
	h.seedMixedCart(owner)
	redirect, err := h.checkout.SubmitCardPayment(context.Background(), mixedCheckoutCommand(owner))
	require.NoError(t, err)
	return redirect
}

func TestSettlePaymentCreatesPaidOrdersAndClearsState(t *testing.T) {
	h := newCheckoutHarness(t)
	redirect := h.startCardPayment(t, memberOwner)

	result, err := h.settlement.SettlePayment(context.Background(), SettleCommand{Reference: redirect.Reference, Source: "callback"})
	require.NoError(t, err)
	require.False(t, result.Replayed)
	require.False(t, result.PartialFailure)
	require.Len(t, result.Orders, 2)

	total := decimal.Zero
	for _, order := range result.Orders {
		require.Equal(t, "u1", order.UserID)
		require.Equal(t, redirect.Reference, order.PaymentReference)
		require.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
		require.NotNil(t, order.PaidAt)
		total = total.Add(order.Total)
	}
	// the amount charged and the order totals agree without any further conversion
	require.True(t, total.Equal(dec("2870")), total.String())
	require.Equal(t, redirect.AmountMinor, toMinorUnits(total))

	require.Contains(t, h.orders.repo.index, redirect.Reference+":regular")
	require.Contains(t, h.orders.repo.index, redirect.Reference+":pre_order")
	require.Equal(t, []string{"user:u1"}, h.carts.deleted)
	_, err = h.staging.FindByReference(context.Background(), redirect.Reference)
	require.True(t, isRepoNotFound(err))
	require.Len(t, h.orders.events.ofType(OrderEventCreated), 2)
}

func TestSettlePaymentTwiceCreatesOneOrderSet(t *testing.T) {
	h := newCheckoutHarness(t)
	redirect := h.startCardPayment(t, memberOwner)

	first, err := h.settlement.SettlePayment(context.Background(), SettleCommand{Reference: redirect.Reference})
	require.NoError(t, err)
	second, err := h.settlement.SettlePayment(context.Background(), SettleCommand{Reference: redirect.Reference, SessionID: redirect.SessionID})
	require.NoError(t, err)

	require.True(t, second.Replayed)
	require.Len(t, second.Orders, 2)
	require.ElementsMatch(t, orderIDs(first.Orders), orderIDs(second.Orders))
	require.Equal(t, 2, h.orders.repo.count())
	require.Equal(t, 2, h.orders.repo.creates)
	require.Len(t, h.orders.repo.redemptions, 1)
}

func TestSettlePaymentDeletedProductFailsOnlyItsDraft(t *testing.T) {
	h := newCheckoutHarness(t)
	redirect := h.startCardPayment(t, memberOwner)
	delete(h.catalog.products, "mouse")

	result, err := h.settlement.SettlePayment(context.Background(), SettleCommand{Reference: redirect.Reference})
	require.NoError(t, err)
	require.True(t, result.PartialFailure)
	require.Len(t, result.Orders, 1)
	require.Equal(t, domain.DraftPreOrder, result.Orders[0].Kind)
	require.Len(t, result.Failures, 1)
	require.Equal(t, domain.DraftRegular, result.Failures[0].Kind)
	require.ErrorIs(t, result.Failures[0].Err, ErrProductUnavailable)
	require.Equal(t, []string{"mouse"}, result.Failures[0].ProductIDs)

	events := h.orders.events.ofType(OrderEventReconciliationRequired)
	require.Len(t, events, 1)
	require.Equal(t, "partial_order_failure", events[0].Reason)
	require.Equal(t, []string{"regular"}, events[0].FailedKinds)
	require.Contains(t, h.orders.metrics.failures, "partial_order_failure")

	// the staged record survives so the failed draft can be retried
	_, err = h.staging.FindByReference(context.Background(), redirect.Reference)
	require.NoError(t, err)
}

func TestSettlePaymentRetryCompletesPartialSettlement(t *testing.T) {
	h := newCheckoutHarness(t)
	redirect := h.startCardPayment(t, memberOwner)
	mouse := h.catalog.products["mouse"]
	delete(h.catalog.products, "mouse")

	_, err := h.settlement.SettlePayment(context.Background(), SettleCommand{Reference: redirect.Reference})
	require.NoError(t, err)

	h.catalog.products["mouse"] = mouse
	result, err := h.settlement.SettlePayment(context.Background(), SettleCommand{Reference: redirect.Reference, Source: "retry"})
	require.NoError(t, err)
	require.False(t, result.PartialFailure)
	require.False(t, result.Replayed)
	require.Len(t, result.Orders, 2)
	require.Equal(t, 2, h.orders.repo.count())
}

func TestSettlePaymentRetryReplaysCreatedDraftAfterItsProductIsRemoved(t *testing.T) {
	h := newCheckoutHarness(t)
	redirect := h.startCardPayment(t, memberOwner)
	mouse := h.catalog.products["mouse"]
	delete(h.catalog.products, "mouse")

	first, err := h.settlement.SettlePayment(context.Background(), SettleCommand{Reference: redirect.Reference})
	require.NoError(t, err)
	require.True(t, first.PartialFailure)
	require.Len(t, first.Orders, 1)
	preOrder := first.Orders[0]
	require.Equal(t, domain.DraftPreOrder, preOrder.Kind)
	numbersUsed := h.orders.sequences.calls()

	h.catalog.products["mouse"] = mouse
	delete(h.catalog.products, "drone")
	result, err := h.settlement.SettlePayment(context.Background(), SettleCommand{Reference: redirect.Reference, Source: "retry"})
	require.NoError(t, err)
	require.Empty(t, result.Failures)
	require.False(t, result.PartialFailure)
	require.Len(t, result.Orders, 2)
	require.Contains(t, orderIDs(result.Orders), preOrder.ID)
	require.Equal(t, 2, h.orders.repo.count())
	require.Equal(t, numbersUsed+1, h.orders.sequences.calls())

	_, err = h.staging.FindByReference(context.Background(), redirect.Reference)
	require.True(t, isRepoNotFound(err))
}

func TestSettlePaymentCapturedButNoDraftCreatedIsNotAProductError(t *testing.T) {
	h := newCheckoutHarness(t)
	redirect := h.startCardPayment(t, memberOwner)
	delete(h.catalog.products, "mouse")
	delete(h.catalog.products, "drone")

	result, err := h.settlement.SettlePayment(context.Background(), SettleCommand{Reference: redirect.Reference})
	var unsettled *UnsettledPaymentError
	require.ErrorAs(t, err, &unsettled)
	require.Equal(t, redirect.Reference, unsettled.Reference)
	require.Len(t, unsettled.Failures, 2)
	require.ErrorIs(t, err, ErrOrderCreationFailed)

	var unavailable *ProductUnavailableError
	require.False(t, errors.As(err, &unavailable), "captured payment must not surface as a retryable cart error")
	require.False(t, errors.Is(err, ErrProductUnavailable))
	require.Empty(t, result.Orders)
	require.Len(t, h.orders.events.ofType(OrderEventReconciliationRequired), 1)
}

func TestSettlePaymentVerificationFailureLeavesStaging(t *testing.T) {
	h := newCheckoutHarness(t)
	redirect := h.startCardPayment(t, memberOwner)
	h.gateway.verifyFn = func(req payments.VerifyRequest) (payments.Verification, error) {
		return payments.Verification{Reference: req.Reference, Status: payments.StatusPending}, nil
	}

	_, err := h.settlement.SettlePayment(context.Background(), SettleCommand{Reference: redirect.Reference})
	require.ErrorIs(t, err, ErrPaymentVerificationFailed)
	require.Zero(t, h.orders.repo.count())
	_, err = h.staging.FindByReference(context.Background(), redirect.Reference)
	require.NoError(t, err)

	h.gateway.verifyFn = func(payments.VerifyRequest) (payments.Verification, error) {
		return payments.Verification{}, errors.New("stripe unreachable")
	}
	_, err = h.settlement.SettlePayment(context.Background(), SettleCommand{Reference: redirect.Reference})
	require.ErrorIs(t, err, ErrPaymentVerificationFailed)
	require.Zero(t, h.orders.repo.count())
}

func TestSettlePaymentAllDraftsFailRaisesReconciliation(t *testing.T) {
	h := newCheckoutHarness(t)
	redirect := h.startCardPayment(t, memberOwner)
	h.orders.repo.createErr = func(repositories.OrderCreate) error { return errors.New("firestore unavailable") }

	result, err := h.settlement.SettlePayment(context.Background(), SettleCommand{Reference: redirect.Reference})
	require.ErrorIs(t, err, ErrOrderCreationFailed)
	require.Len(t, result.Failures, 2)
	require.Empty(t, h.carts.deleted)

	events := h.orders.events.ofType(OrderEventReconciliationRequired)
	require.Len(t, events, 1)
	require.Equal(t, "order_creation_failed", events[0].Reason)
	require.Equal(t, redirect.Reference, events[0].PaymentReference)
	require.Contains(t, h.orders.metrics.failures, "order_creation_failed")
}

func TestSettlePaymentRecomputesTamperedStagedTotals(t *testing.T) {
	h := newCheckoutHarness(t)
	redirect := h.startCardPayment(t, memberOwner)

	staged, err := h.staging.FindByReference(context.Background(), redirect.Reference)
	require.NoError(t, err)
	for i := range staged.Drafts {
		staged.Drafts[i].Total = dec("1")
		staged.Drafts[i].Subtotal = dec("1")
	}
	require.NoError(t, h.staging.Stage(context.Background(), staged))

	result, err := h.settlement.SettlePayment(context.Background(), SettleCommand{Reference: redirect.Reference})
	require.NoError(t, err)
	require.True(t, result.Orders[0].Total.Equal(dec("470")))
	require.True(t, result.Orders[1].Total.Equal(dec("2400")))
}

func TestSettlePaymentRebuildsFromMetadataWhenStagingIsLost(t *testing.T) {
	h := newCheckoutHarness(t)
	redirect := h.startCardPayment(t, memberOwner)
	require.NoError(t, h.staging.Clear(context.Background(), redirect.Reference))

	result, err := h.settlement.SettlePayment(context.Background(), SettleCommand{Reference: redirect.Reference, SessionID: redirect.SessionID})
	require.NoError(t, err)
	require.Len(t, result.Orders, 2)
	require.True(t, result.Orders[0].Total.Equal(dec("470")), result.Orders[0].Total.String())
	require.True(t, result.Orders[1].Total.Equal(dec("2400")))
	require.Equal(t, "u1", result.Orders[0].UserID)
	require.Equal(t, "SAVE10", result.Orders[0].CouponCode)
	require.Equal(t, []string{"user:u1"}, h.carts.deleted)
}

func TestSettlePaymentRebuildTakesPreOrderFlagFromCatalog(t *testing.T) {
	h := newCheckoutHarness(t)
	redirect := h.startCardPayment(t, memberOwner)
	require.NoError(t, h.staging.Clear(context.Background(), redirect.Reference))

	// the catalog moved the drone out of pre-order after payment started
	drone := h.catalog.products["drone"]
	drone.IsPreOrder = false
	h.catalog.products["drone"] = drone

	result, err := h.settlement.SettlePayment(context.Background(), SettleCommand{Reference: redirect.Reference, SessionID: redirect.SessionID})
	require.NoError(t, err)
	require.Len(t, result.Orders, 1)
	require.Equal(t, domain.DraftRegular, result.Orders[0].Kind)
	require.False(t, result.Orders[0].IsPreOrder)
	require.Len(t, result.Orders[0].Items, 2)
}

func TestSettlePaymentIgnoresMonetaryMetadata(t *testing.T) {
	h := newCheckoutHarness(t)
	redirect := h.startCardPayment(t, memberOwner)
	require.NoError(t, h.staging.Clear(context.Background(), redirect.Reference))

	meta := h.gateway.initialized[0].Metadata
	meta["total"] = "287000"
	meta["amount"] = "2870000"
	h.gateway.verifyFn = func(req payments.VerifyRequest) (payments.Verification, error) {
		return payments.Verification{Reference: req.Reference, Status: payments.StatusSucceeded, AmountMinor: 287000, Metadata: meta}, nil
	}

	result, err := h.settlement.SettlePayment(context.Background(), SettleCommand{Reference: redirect.Reference, SessionID: redirect.SessionID})
	require.NoError(t, err)
	total := decimal.Zero
	for _, order := range result.Orders {
		total = total.Add(order.Total)
	}
	require.True(t, total.Equal(dec("2870")))
	require.Empty(t, h.orders.events.ofType(OrderEventReconciliationRequired))
}

func TestSettlePaymentNothingToSettle(t *testing.T) {
	h := newCheckoutHarness(t)
	h.gateway.verifyFn = func(req payments.VerifyRequest) (payments.Verification, error) {
		return payments.Verification{Reference: req.Reference, Status: payments.StatusSucceeded, AmountMinor: 1000}, nil
	}

	_, err := h.settlement.SettlePayment(context.Background(), SettleCommand{Reference: "VT-LOST", SessionID: "cs_lost"})
	require.ErrorIs(t, err, ErrNothingToSettle)
	require.Len(t, h.orders.events.ofType(OrderEventReconciliationRequired), 1)

	_, err = h.settlement.SettlePayment(context.Background(), SettleCommand{})
	require.ErrorIs(t, err, ErrCheckoutValidation)
}

func orderIDs(orders []domain.Order) []string {
	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.ID)
	}
	return ids
}
