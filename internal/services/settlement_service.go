package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	"github.com/cimonstech/ventechfront-sub000/internal/payments"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
)

// SettlementServiceDeps wires the collaborators that turn a captured payment into orders.
type SettlementServiceDeps struct {
	Staging    repositories.StagingRepository
	Carts      repositories.CartRepository
	Deliveries repositories.DeliveryRepository
	Orders     OrderService
	Pricing    PricingResolver
	Coupons    CouponService
	Payments   paymentGateway
	Events     OrderEventPublisher
	Metrics    CheckoutMetrics
	Policy     CheckoutPolicy
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type settlementService struct {
	staging    repositories.StagingRepository
	carts      repositories.CartRepository
	deliveries repositories.DeliveryRepository
	orders     OrderService
	pricing    PricingResolver
	coupons    CouponService
	payments   paymentGateway
	events     OrderEventPublisher
	metrics    CheckoutMetrics
	policy     CheckoutPolicy
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewSettlementService constructs a SettlementService.
func NewSettlementService(deps SettlementServiceDeps) (SettlementService, error) {
	switch {
	case deps.Staging == nil:
		return nil, errors.New("settlement service: staging repository is required")
	case deps.Carts == nil:
		return nil, errors.New("settlement service: cart repository is required")
	case deps.Deliveries == nil:
		return nil, errors.New("settlement service: delivery repository is required")
	case deps.Orders == nil:
		return nil, errors.New("settlement service: order service is required")
	case deps.Pricing == nil:
		return nil, errors.New("settlement service: pricing resolver is required")
	case deps.Payments == nil:
		return nil, errors.New("settlement service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopCheckoutMetrics{}
	}
	policy := deps.Policy
	policy.Currency = strings.ToUpper(strings.TrimSpace(policy.Currency))

	return &settlementService{
		staging:    deps.Staging,
		carts:      deps.Carts,
		deliveries: deps.Deliveries,
		orders:     deps.Orders,
		pricing:    deps.Pricing,
		coupons:    deps.Coupons,
		payments:   deps.Payments,
		events:     deps.Events,
		metrics:    metrics,
		policy:     policy,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// SettlePayment verifies the payment for a reference and materializes its drafts. Repeated calls
// for the same reference return the orders created by the first successful call.
func (s *settlementService) SettlePayment(ctx context.Context, cmd SettleCommand) (SubmissionResult, error) {
	reference := strings.TrimSpace(cmd.Reference)
	if reference == "" {
		return SubmissionResult{}, fmt.Errorf("%w: payment reference is required", ErrCheckoutValidation)
	}
	fields := map[string]any{"reference": reference, "source": cmd.Source}

	existing, err := s.orders.ListByPaymentReference(ctx, reference)
	if err != nil {
		return SubmissionResult{}, fmt.Errorf("%w: list orders by reference: %v", ErrCheckoutUnavailable, err)
	}

	staged, stagedFound, err := s.loadStaged(ctx, reference)
	if err != nil {
		return SubmissionResult{}, err
	}
	if len(existing) > 0 && !stagedFound {
		s.logger(ctx, "settlement.replayed", fields)
		return SubmissionResult{Reference: reference, Orders: existing, Replayed: true}, nil
	}

	sessionID := strings.TrimSpace(cmd.SessionID)
	if sessionID == "" {
		sessionID = staged.GatewaySessionID
	}
	verification, err := s.payments.VerifyPayment(ctx, payments.PaymentContext{Currency: s.policy.Currency}, payments.VerifyRequest{
		Reference: reference,
		SessionID: sessionID,
	})
	if err != nil {
		s.metrics.SettlementFailed(ctx, "verification_error")
		s.logger(ctx, "settlement.verification_failed", withField(fields, "error", err.Error()))
		return SubmissionResult{}, fmt.Errorf("%w: %v", ErrPaymentVerificationFailed, err)
	}
	if !verification.Succeeded() {
		s.metrics.SettlementFailed(ctx, "payment_"+string(verification.Status))
		s.logger(ctx, "settlement.payment_not_captured", withField(fields, "status", string(verification.Status)))
		return SubmissionResult{}, fmt.Errorf("%w: payment status %s", ErrPaymentVerificationFailed, verification.Status)
	}
	if verification.Reference != "" && verification.Reference != reference {
		s.metrics.SettlementFailed(ctx, "reference_mismatch")
		return SubmissionResult{}, fmt.Errorf("%w: gateway reference %s does not match", ErrPaymentVerificationFailed, verification.Reference)
	}

	var (
		drafts   []domain.CheckoutDraft
		failures []DraftFailure
		ownerKey string
		userID   string
	)
	if stagedFound {
		ownerKey = staged.OwnerKey
		userID = staged.UserID
		drafts = make([]domain.CheckoutDraft, 0, len(staged.Drafts))
		for _, draft := range staged.Drafts {
			priceDraft(&draft, s.policy, nil)
			drafts = append(drafts, draft)
		}
	} else {
		recovered, rebuilt, rebuildFailures, err := s.rebuildFromMetadata(ctx, reference, verification.Metadata)
		if err != nil {
			s.metrics.SettlementFailed(ctx, "nothing_to_settle")
			s.reportReconciliation(ctx, reference, "", "nothing_to_settle", nil)
			return SubmissionResult{}, err
		}
		ownerKey = recovered.OwnerKey
		userID = recovered.Customer.UserID
		drafts = rebuilt
		failures = rebuildFailures
		s.logger(ctx, "settlement.rebuilt_from_metadata", withField(fields, "drafts", len(drafts)))
	}
	if len(drafts) == 0 && len(failures) == 0 {
		s.metrics.SettlementFailed(ctx, "nothing_to_settle")
		s.reportReconciliation(ctx, reference, userID, "nothing_to_settle", nil)
		return SubmissionResult{}, fmt.Errorf("%w: no drafts for reference %s", ErrNothingToSettle, reference)
	}

	expected := toMinorUnits(sumTotals(drafts))
	if len(failures) == 0 && verification.AmountMinor > 0 && verification.AmountMinor != expected {
		s.logger(ctx, "settlement.amount_mismatch", withField(withField(fields, "expectedMinor", expected), "capturedMinor", verification.AmountMinor))
		s.reportReconciliation(ctx, reference, userID, "amount_mismatch", nil)
	}

	paidAt := s.now()
	if verification.PaidAt != nil {
		paidAt = verification.PaidAt.UTC()
	}
	// the payment is captured; a dropped client connection must not abandon materialization
	createCtx := context.WithoutCancel(ctx)
	outcomes := materializeDrafts(createCtx, s.orders, drafts, CreateOrderCommand{
		UserID:           userID,
		PaymentReference: reference,
		PaidAt:           &paidAt,
	}, reference)
	result := collectOutcomes(drafts, outcomes)
	result.Reference = reference
	result.Failures = append(failures, result.Failures...)
	result.PartialFailure = len(result.Orders) > 0 && len(result.Failures) > 0

	replayed := len(result.Failures) == 0
	for _, outcome := range outcomes {
		if outcome.err == nil && outcome.created {
			replayed = false
		}
	}
	result.Replayed = replayed

	if len(result.Orders) == 0 {
		s.metrics.SettlementFailed(ctx, "order_creation_failed")
		s.reportReconciliation(createCtx, reference, userID, "order_creation_failed", result.Failures)
		return result, &UnsettledPaymentError{Reference: reference, Failures: result.Failures}
	}

	if _, err := s.orders.LinkPayment(createCtx, result.Orders[0].ID, reference); err != nil {
		s.logger(ctx, "settlement.link_failed", withField(fields, "error", err.Error()))
	}
	if ownerKey != "" {
		if err := s.carts.DeleteCart(createCtx, ownerKey); err != nil && !isRepoNotFound(err) {
			s.logger(ctx, "settlement.cart.clear_failed", withField(fields, "error", err.Error()))
		}
	}

	if result.PartialFailure {
		s.metrics.SettlementFailed(ctx, "partial_order_failure")
		s.reportReconciliation(createCtx, reference, userID, "partial_order_failure", result.Failures)
		return result, nil
	}

	if stagedFound {
		if err := s.staging.Clear(createCtx, reference); err != nil && !isRepoNotFound(err) {
			s.logger(ctx, "settlement.staging.clear_failed", withField(fields, "error", err.Error()))
		}
	}
	s.logger(ctx, "settlement.completed", withField(withField(fields, "orders", len(result.Orders)), "replayed", result.Replayed))
	return result, nil
}

func (s *settlementService) loadStaged(ctx context.Context, reference string) (domain.StagedCheckout, bool, error) {
	staged, err := s.staging.FindByReference(ctx, reference)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.StagedCheckout{}, false, nil
		}
		return domain.StagedCheckout{}, false, fmt.Errorf("%w: load staged checkout: %v", ErrCheckoutUnavailable, err)
	}
	return staged, len(staged.Drafts) > 0, nil
}

// rebuildFromMetadata reconstructs drafts from the gateway's echoed metadata. Only identifiers and
// quantities are read; every price and the pre-order flag come from the catalog and delivery
// options as they are now.
// A partition referencing a vanished product is reported as a failure instead of a draft.
func (s *settlementService) rebuildFromMetadata(ctx context.Context, reference string, meta map[string]string) (recoveredCheckout, []domain.CheckoutDraft, []DraftFailure, error) {
	recovered, err := decodeSettlementMetadata(meta)
	if err != nil {
		return recoveredCheckout{}, nil, nil, err
	}
	if recovered.Reference != "" && recovered.Reference != reference {
		return recoveredCheckout{}, nil, nil, fmt.Errorf("%w: metadata belongs to %s", ErrNothingToSettle, recovered.Reference)
	}

	partitions := map[domain.DraftKind][]domain.CartLine{}
	missing := map[domain.DraftKind][]string{}
	for _, line := range recovered.Lines {
		quote, err := s.pricing.ResolvePrice(ctx, ResolvePriceCommand{ProductID: line.ProductID, Selections: line.Selections})
		if err != nil {
			var unavailable *ProductUnavailableError
			if errors.As(err, &unavailable) {
				// no catalog entry to consult; the echoed flag only decides which draft fails
				kind := domain.DraftRegular
				if line.PreOrder {
					kind = domain.DraftPreOrder
				}
				missing[kind] = append(missing[kind], line.ProductID)
				continue
			}
			return recoveredCheckout{}, nil, nil, err
		}
		kind := domain.DraftRegular
		if quote.Product.IsPreOrder {
			kind = domain.DraftPreOrder
		}
		partitions[kind] = append(partitions[kind], domain.CartLine{
			ProductID:   line.ProductID,
			ProductName: quote.Product.Name,
			Thumbnail:   quote.Product.Thumbnail,
			Quantity:    line.Quantity,
			UnitPrice:   quote.UnitPrice,
			Selections:  line.Selections,
			IsPreOrder:  quote.Product.IsPreOrder,
		})
	}

	var failures []DraftFailure
	var lines []domain.CartLine
	for _, kind := range []domain.DraftKind{domain.DraftRegular, domain.DraftPreOrder} {
		if ids := missing[kind]; len(ids) > 0 {
			err := &ProductUnavailableError{ProductIDs: ids}
			failures = append(failures, DraftFailure{Kind: kind, Reason: failureReason(err), ProductIDs: ids, Err: err})
			continue
		}
		lines = append(lines, partitions[kind]...)
	}
	if len(lines) == 0 {
		return recovered, nil, failures, nil
	}

	totals := SummarizeCart(lines)
	var delivery, shipping *domain.DeliveryOption
	if len(totals.RegularLines) > 0 {
		if delivery, err = s.option(ctx, recovered.DeliveryOptionID); err != nil {
			return recoveredCheckout{}, nil, nil, err
		}
	}
	if len(totals.PreOrderLines) > 0 {
		if shipping, err = s.option(ctx, recovered.ShippingOptionID); err != nil {
			return recoveredCheckout{}, nil, nil, err
		}
	}

	var coupon *CouponResult
	if recovered.CouponCode != "" && s.coupons != nil {
		subtotal, fee := couponBasis(totals, delivery, shipping, s.policy)
		result, err := s.coupons.Validate(ctx, ValidateCouponCommand{
			Code:        recovered.CouponCode,
			Subtotal:    subtotal,
			DeliveryFee: fee,
			RedeemerKey: RedeemerKey(recovered.Customer),
		})
		if err != nil {
			s.logger(ctx, "settlement.coupon_dropped", map[string]any{"reference": reference, "error": err.Error()})
		} else {
			coupon = &result
		}
	}

	set, err := BuildDrafts(BuildDraftsInput{
		Lines:         lines,
		Delivery:      delivery,
		Shipping:      shipping,
		Coupon:        coupon,
		Customer:      recovered.Customer,
		Address:       recovered.Address,
		PaymentMethod: domain.PaymentCard,
		Today:         s.now(),
	}, s.policy)
	if err != nil {
		return recoveredCheckout{}, nil, nil, fmt.Errorf("%w: %v", ErrNothingToSettle, err)
	}
	for i := range set.Drafts {
		set.Drafts[i].PaymentReference = reference
	}
	return recovered, set.Drafts, failures, nil
}

func (s *settlementService) option(ctx context.Context, optionID string) (*domain.DeliveryOption, error) {
	if optionID == "" {
		return nil, fmt.Errorf("%w: delivery option missing from gateway metadata", ErrNothingToSettle)
	}
	option, err := s.deliveries.GetOption(ctx, optionID)
	if err != nil {
		if isRepoNotFound(err) {
			return nil, fmt.Errorf("%w: delivery option %s no longer exists", ErrNothingToSettle, optionID)
		}
		return nil, fmt.Errorf("%w: load delivery option: %v", ErrCheckoutUnavailable, err)
	}
	return &option, nil
}

// reportReconciliation raises the manual-reconciliation signal for a captured payment.
func (s *settlementService) reportReconciliation(ctx context.Context, reference, userID, reason string, failures []DraftFailure) {
	kinds := make([]string, 0, len(failures))
	for _, failure := range failures {
		kinds = append(kinds, string(failure.Kind))
	}
	s.logger(ctx, "settlement.reconciliation_required", map[string]any{
		"reference":   reference,
		"userId":      userID,
		"reason":      reason,
		"failedKinds": kinds,
		"severity":    "error",
	})
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, OrderEvent{
		Type:             OrderEventReconciliationRequired,
		UserID:           userID,
		PaymentReference: reference,
		Currency:         s.policy.Currency,
		Reason:           reason,
		FailedKinds:      kinds,
		OccurredAt:       s.now(),
	}); err != nil {
		s.logger(ctx, "settlement.reconciliation.publish_failed", map[string]any{
			"reference": reference,
			"error":     err.Error(),
		})
	}
}

func withField(fields map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[key] = value
	return out
}
