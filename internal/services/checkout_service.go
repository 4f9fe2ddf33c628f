package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	"github.com/cimonstech/ventechfront-sub000/internal/payments"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
)

const (
	paymentReferencePrefix = "VT-"
	maxCheckoutNotesLength = 500
	maxAddressFieldLength  = 200
)

// minorUnitFactor converts major currency units into the gateway's minor units. It is applied in
// exactly one place: toMinorUnits, when a payment session is initialised.
var minorUnitFactor = decimal.NewFromInt(100)

// CheckoutPolicy holds the pricing rules and redirect targets applied to every checkout.
type CheckoutPolicy struct {
	Currency              string
	FreeShippingThreshold decimal.Decimal
	TaxRate               decimal.Decimal
	OrderTotalCeiling     decimal.Decimal
	CallbackURL           string
	CancelURL             string
}

// BuildDraftsInput is everything BuildDrafts needs; it performs no lookups of its own.
type BuildDraftsInput struct {
	Lines         []domain.CartLine
	Delivery      *domain.DeliveryOption
	Shipping      *domain.DeliveryOption
	Coupon        *CouponResult
	Customer      domain.CustomerIdentity
	Address       domain.Address
	Notes         string
	PaymentMethod domain.PaymentMethod
	Today         time.Time
}

// DraftSet is the result of splitting a cart into drafts.
type DraftSet struct {
	Drafts       []domain.CheckoutDraft
	HasMixedCart bool
}

// BuildDrafts splits the cart into a regular draft and a pre-order draft and prices each. The
// coupon is attributed once, to the first draft built.
func BuildDrafts(in BuildDraftsInput, policy CheckoutPolicy) (DraftSet, error) {
	if len(in.Lines) == 0 {
		return DraftSet{}, fmt.Errorf("%w: cart is empty", ErrCheckoutValidation)
	}
	totals := SummarizeCart(in.Lines)
	set := DraftSet{HasMixedCart: totals.HasMixedCart}

	coupon := in.Coupon
	if len(totals.RegularLines) > 0 {
		if in.Delivery == nil || in.Delivery.Kind != domain.DeliveryStandard {
			return DraftSet{}, fmt.Errorf("%w: a standard delivery option is required", ErrCheckoutValidation)
		}
		draft := newDraft(domain.DraftRegular, totals.RegularLines, *in.Delivery, in)
		priceDraft(&draft, policy, attachCoupon(&draft, coupon))
		coupon = nil
		set.Drafts = append(set.Drafts, draft)
	}
	if len(totals.PreOrderLines) > 0 {
		if in.Shipping == nil || !in.Shipping.Kind.IsCargo() {
			return DraftSet{}, fmt.Errorf("%w: a pre-order shipping option is required", ErrCheckoutValidation)
		}
		draft := newDraft(domain.DraftPreOrder, totals.PreOrderLines, *in.Shipping, in)
		arrival := estimatedArrival(in.Today, *in.Shipping)
		draft.EstimatedArrival = &arrival
		priceDraft(&draft, policy, attachCoupon(&draft, coupon))
		set.Drafts = append(set.Drafts, draft)
	}
	return set, nil
}

func newDraft(kind domain.DraftKind, lines []domain.CartLine, option domain.DeliveryOption, in BuildDraftsInput) domain.CheckoutDraft {
	items := make([]domain.DraftItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.DraftItem{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Thumbnail:   line.Thumbnail,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Selections:  append([]domain.VariantSelection(nil), line.Selections...),
		})
	}
	return domain.CheckoutDraft{
		Kind:          kind,
		Items:         items,
		Delivery:      option,
		Address:       in.Address,
		Customer:      in.Customer,
		Notes:         in.Notes,
		PaymentMethod: in.PaymentMethod,
	}
}

func attachCoupon(draft *domain.CheckoutDraft, coupon *CouponResult) *domain.Coupon {
	if coupon == nil {
		return nil
	}
	draft.CouponID = coupon.CouponID
	draft.CouponCode = coupon.Code
	draft.CouponType = coupon.DiscountType
	c := coupon.Coupon
	return &c
}

// priceDraft derives every monetary field of a draft from its captured item prices and its
// delivery option snapshot. Cached totals on the draft are ignored. Without a coupon record the
// stored discount is kept, except free shipping which always follows the recomputed fee.
func priceDraft(draft *domain.CheckoutDraft, policy CheckoutPolicy, coupon *domain.Coupon) {
	subtotal := decimal.Zero
	for _, item := range draft.Items {
		subtotal = subtotal.Add(item.LineTotal())
	}

	fee := draft.Delivery.Price
	if draft.Kind == domain.DraftRegular && policy.FreeShippingThreshold.IsPositive() && subtotal.GreaterThanOrEqual(policy.FreeShippingThreshold) {
		fee = decimal.Zero
	}

	tax := subtotal.Mul(policy.TaxRate).Round(2)

	discount := decimal.Zero
	if draft.OwnsCoupon() {
		switch {
		case draft.CouponType == domain.DiscountFreeShipping:
			discount = fee
		case coupon != nil:
			discount = ComputeDiscount(*coupon, subtotal, fee)
		default:
			discount = decimal.Max(draft.Discount, decimal.Zero)
		}
	}

	total := subtotal.Add(fee).Add(tax).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	draft.Subtotal = subtotal.Round(2)
	draft.DeliveryFee = fee.Round(2)
	draft.Tax = tax
	draft.Discount = discount.Round(2)
	draft.Total = total.Round(2)
}

func estimatedArrival(today time.Time, option domain.DeliveryOption) time.Time {
	days := option.MaxDays
	if days <= 0 {
		days = option.MinDays
	}
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, days)
}

func sumTotals(drafts []domain.CheckoutDraft) decimal.Decimal {
	total := decimal.Zero
	for _, d := range drafts {
		total = total.Add(d.Total)
	}
	return total
}

// toMinorUnits is the only conversion from major to minor currency units in the pipeline.
func toMinorUnits(total decimal.Decimal) int64 {
	return total.Mul(minorUnitFactor).Round(0).IntPart()
}

// CheckoutServiceDeps wires the collaborators used to build and dispatch drafts.
type CheckoutServiceDeps struct {
	Carts       repositories.CartRepository
	Pricing     PricingResolver
	Deliveries  repositories.DeliveryRepository
	Coupons     CouponService
	Orders      OrderService
	Staging     repositories.StagingRepository
	Payments    paymentGateway
	Policy      CheckoutPolicy
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
	IDGenerator func() string
}

type checkoutService struct {
	carts      repositories.CartRepository
	pricing    PricingResolver
	deliveries repositories.DeliveryRepository
	coupons    CouponService
	orders     OrderService
	staging    repositories.StagingRepository
	payments   paymentGateway
	policy     CheckoutPolicy
	sanitizer  *bluemonday.Policy
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
	newID      func() string
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Carts == nil:
		return nil, errors.New("checkout service: cart repository is required")
	case deps.Pricing == nil:
		return nil, errors.New("checkout service: pricing resolver is required")
	case deps.Deliveries == nil:
		return nil, errors.New("checkout service: delivery repository is required")
	case deps.Coupons == nil:
		return nil, errors.New("checkout service: coupon service is required")
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order service is required")
	case deps.Staging == nil:
		return nil, errors.New("checkout service: staging repository is required")
	case deps.Payments == nil:
		return nil, errors.New("checkout service: payment gateway is required")
	}

	policy := deps.Policy
	policy.Currency = strings.ToUpper(strings.TrimSpace(policy.Currency))
	if policy.Currency == "" {
		return nil, errors.New("checkout service: currency is required")
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

	return &checkoutService{
		carts:      deps.Carts,
		pricing:    deps.Pricing,
		deliveries: deps.Deliveries,
		coupons:    deps.Coupons,
		orders:     deps.Orders,
		staging:    deps.Staging,
		payments:   deps.Payments,
		policy:     policy,
		sanitizer:  bluemonday.StrictPolicy(),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		newID:  idGen,
	}, nil
}

// PrepareCheckout prices the owner's cart into drafts without persisting anything.
func (s *checkoutService) PrepareCheckout(ctx context.Context, cmd PrepareCheckoutCommand) (CheckoutPreview, error) {
	if cmd.PaymentMethod == "" {
		cmd.PaymentMethod = domain.PaymentCard
	}
	preview, _, err := s.prepare(ctx, cmd)
	return preview, err
}

// SubmitCashOrder materializes every draft immediately. Drafts succeed or fail independently.
func (s *checkoutService) SubmitCashOrder(ctx context.Context, cmd PrepareCheckoutCommand) (SubmissionResult, error) {
	cmd.PaymentMethod = domain.PaymentCashOnDelivery
	preview, ownerKey, err := s.prepare(ctx, cmd)
	if err != nil {
		return SubmissionResult{}, err
	}
	if preview.CouponError != nil {
		return SubmissionResult{}, preview.CouponError
	}

	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		key = s.newID()
	}
	outcomes := materializeDrafts(ctx, s.orders, preview.Drafts, CreateOrderCommand{
		UserID: strings.TrimSpace(cmd.Owner.UserID),
	}, "cod:"+ownerKey+":"+key)
	result := collectOutcomes(preview.Drafts, outcomes)

	if len(result.Orders) == 0 {
		s.logger(ctx, "checkout.cod.failed", map[string]any{
			"ownerKey": ownerKey,
			"failures": len(result.Failures),
		})
		return result, fmt.Errorf("%w: %w", ErrOrderCreationFailed, result.Failures[0].Err)
	}

	if err := s.carts.DeleteCart(ctx, ownerKey); err != nil && !isRepoNotFound(err) {
		s.logger(ctx, "checkout.cart.clear_failed", map[string]any{"ownerKey": ownerKey, "error": err.Error()})
	}
	if result.PartialFailure {
		s.logger(ctx, "checkout.cod.partial", map[string]any{
			"ownerKey": ownerKey,
			"orders":   len(result.Orders),
			"failures": len(result.Failures),
		})
	}
	return result, nil
}

// SubmitCardPayment stages the drafts under a fresh payment reference and opens a gateway session
// for their combined total. No order is created until settlement.
func (s *checkoutService) SubmitCardPayment(ctx context.Context, cmd PrepareCheckoutCommand) (PaymentRedirect, error) {
	cmd.PaymentMethod = domain.PaymentCard
	preview, ownerKey, err := s.prepare(ctx, cmd)
	if err != nil {
		return PaymentRedirect{}, err
	}
	if preview.CouponError != nil {
		return PaymentRedirect{}, preview.CouponError
	}
	if !preview.GrandTotal.IsPositive() {
		return PaymentRedirect{}, fmt.Errorf("%w: nothing to charge", ErrCheckoutValidation)
	}

	reference := paymentReferencePrefix + s.newID()
	drafts := preview.Drafts
	for i := range drafts {
		drafts[i].PaymentReference = reference
	}

	now := s.now()
	record := domain.StagedCheckout{
		Reference: reference,
		OwnerKey:  ownerKey,
		UserID:    strings.TrimSpace(cmd.Owner.UserID),
		Drafts:    drafts,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.staging.Stage(ctx, record); err != nil {
		return PaymentRedirect{}, fmt.Errorf("%w: stage checkout: %v", ErrCheckoutUnavailable, err)
	}

	amountMinor := toMinorUnits(preview.GrandTotal)
	session, err := s.payments.InitializePayment(ctx, payments.PaymentContext{Currency: s.policy.Currency}, payments.InitializeRequest{
		Reference:      reference,
		AmountMinor:    amountMinor,
		Currency:       s.policy.Currency,
		CustomerEmail:  drafts[0].Customer.Email,
		Description:    "Order " + reference,
		CallbackURL:    s.policy.CallbackURL,
		CancelURL:      s.policy.CancelURL,
		Metadata:       encodeSettlementMetadata(reference, ownerKey, drafts),
		IdempotencyKey: reference,
	})
	if err != nil {
		s.logger(ctx, "checkout.payment.initialize_failed", map[string]any{
			"reference": reference,
			"error":     err.Error(),
		})
		return PaymentRedirect{}, fmt.Errorf("%w: initialize payment: %v", ErrCheckoutUnavailable, err)
	}

	if err := s.staging.AttachSession(ctx, reference, session.SessionID); err != nil {
		s.logger(ctx, "checkout.staging.attach_failed", map[string]any{
			"reference": reference,
			"sessionId": session.SessionID,
			"error":     err.Error(),
		})
	}

	s.logger(ctx, "checkout.payment.initialized", map[string]any{
		"reference":   reference,
		"provider":    session.Provider,
		"drafts":      len(drafts),
		"amountMinor": amountMinor,
	})

	return PaymentRedirect{
		Reference:   reference,
		Provider:    session.Provider,
		SessionID:   session.SessionID,
		CheckoutURL: session.CheckoutURL,
		Currency:    s.policy.Currency,
		Total:       preview.GrandTotal,
		AmountMinor: amountMinor,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

func (s *checkoutService) prepare(ctx context.Context, cmd PrepareCheckoutCommand) (CheckoutPreview, string, error) {
	ownerKey, err := cmd.Owner.Key()
	if err != nil {
		return CheckoutPreview{}, "", err
	}
	switch cmd.PaymentMethod {
	case domain.PaymentCashOnDelivery, domain.PaymentCard:
	default:
		return CheckoutPreview{}, "", fmt.Errorf("%w: unsupported payment method %q", ErrCheckoutValidation, cmd.PaymentMethod)
	}

	address, customer, notes, err := s.normalizeContact(cmd)
	if err != nil {
		return CheckoutPreview{}, "", err
	}

	cart, err := s.carts.GetCart(ctx, ownerKey)
	if err != nil && !isRepoNotFound(err) {
		return CheckoutPreview{}, "", fmt.Errorf("%w: load cart: %v", ErrCheckoutUnavailable, err)
	}
	if len(cart.Lines) == 0 {
		return CheckoutPreview{}, "", fmt.Errorf("%w: cart is empty", ErrCheckoutValidation)
	}

	lines, err := s.repriceLines(ctx, cart.Lines)
	if err != nil {
		return CheckoutPreview{}, "", err
	}
	totals := SummarizeCart(lines)

	var delivery, shipping *domain.DeliveryOption
	if len(totals.RegularLines) > 0 {
		delivery, err = s.loadOption(ctx, cmd.DeliveryOptionID, false)
		if err != nil {
			return CheckoutPreview{}, "", err
		}
	}
	if len(totals.PreOrderLines) > 0 {
		shipping, err = s.loadOption(ctx, cmd.ShippingOptionID, true)
		if err != nil {
			return CheckoutPreview{}, "", err
		}
	}

	preview := CheckoutPreview{Currency: s.policy.Currency}
	var coupon *CouponResult
	if strings.TrimSpace(cmd.CouponCode) != "" {
		subtotal, fee := couponBasis(totals, delivery, shipping, s.policy)
		result, err := s.coupons.Validate(ctx, ValidateCouponCommand{
			Code:        cmd.CouponCode,
			Subtotal:    subtotal,
			DeliveryFee: fee,
			RedeemerKey: RedeemerKey(customer),
		})
		var couponErr *CouponError
		switch {
		case errors.As(err, &couponErr):
			preview.CouponError = couponErr
		case err != nil:
			return CheckoutPreview{}, "", err
		default:
			coupon = &result
		}
	}

	set, err := BuildDrafts(BuildDraftsInput{
		Lines:         lines,
		Delivery:      delivery,
		Shipping:      shipping,
		Coupon:        coupon,
		Customer:      customer,
		Address:       address,
		Notes:         notes,
		PaymentMethod: cmd.PaymentMethod,
		Today:         s.now(),
	}, s.policy)
	if err != nil {
		return CheckoutPreview{}, "", err
	}

	preview.Drafts = set.Drafts
	preview.HasMixedCart = set.HasMixedCart
	preview.GrandTotal = sumTotals(set.Drafts)
	return preview, ownerKey, nil
}

// repriceLines captures current catalog prices for every line and rejects vanished products or
// regular lines whose quantity no longer fits in stock.
func (s *checkoutService) repriceLines(ctx context.Context, lines []domain.CartLine) ([]domain.CartLine, error) {
	out := make([]domain.CartLine, 0, len(lines))
	var missing []string
	var stockErr *StockError
	for _, line := range lines {
		quote, err := s.pricing.ResolvePrice(ctx, ResolvePriceCommand{ProductID: line.ProductID, Selections: line.Selections})
		if err != nil {
			var unavailable *ProductUnavailableError
			if errors.As(err, &unavailable) {
				missing = append(missing, unavailable.ProductIDs...)
				continue
			}
			return nil, err
		}
		product := quote.Product
		if !product.IsPreOrder && line.Quantity > product.StockQuantity && stockErr == nil {
			stockErr = &StockError{ProductIDs: []string{product.ID}, Requested: line.Quantity, Available: product.StockQuantity}
		}
		line.UnitPrice = quote.UnitPrice
		line.ProductName = product.Name
		line.Thumbnail = product.Thumbnail
		line.IsPreOrder = product.IsPreOrder
		out = append(out, line)
	}
	if len(missing) > 0 {
		return nil, &ProductUnavailableError{ProductIDs: missing}
	}
	if stockErr != nil {
		return nil, stockErr
	}
	return out, nil
}

func (s *checkoutService) loadOption(ctx context.Context, optionID string, cargo bool) (*domain.DeliveryOption, error) {
	id := strings.TrimSpace(optionID)
	label := "delivery"
	if cargo {
		label = "pre-order shipping"
	}
	if id == "" {
		return nil, fmt.Errorf("%w: %s option is required", ErrCheckoutValidation, label)
	}
	option, err := s.deliveries.GetOption(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return nil, fmt.Errorf("%w: unknown %s option %s", ErrCheckoutValidation, label, id)
		}
		return nil, fmt.Errorf("%w: load %s option: %v", ErrCheckoutUnavailable, label, err)
	}
	if !option.Active || option.Kind.IsCargo() != cargo {
		return nil, fmt.Errorf("%w: %s option %s is not available", ErrCheckoutValidation, label, id)
	}
	return &option, nil
}

// couponBasis returns the subtotal and fee of the draft that will own the coupon.
func couponBasis(totals domain.CartTotals, delivery, shipping *domain.DeliveryOption, policy CheckoutPolicy) (decimal.Decimal, decimal.Decimal) {
	if len(totals.RegularLines) > 0 && delivery != nil {
		fee := delivery.Price
		if policy.FreeShippingThreshold.IsPositive() && totals.RegularSubtotal.GreaterThanOrEqual(policy.FreeShippingThreshold) {
			fee = decimal.Zero
		}
		return totals.RegularSubtotal, fee
	}
	if shipping != nil {
		return totals.PreOrderSubtotal, shipping.Price
	}
	return totals.GrandSubtotal, decimal.Zero
}

func (s *checkoutService) normalizeContact(cmd PrepareCheckoutCommand) (domain.Address, domain.CustomerIdentity, string, error) {
	clean := func(value string) string {
		return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(value)))
	}

	address := domain.Address{
		Recipient: clean(cmd.Address.Recipient),
		Phone:     strings.TrimSpace(cmd.Address.Phone),
		Email:     strings.ToLower(strings.TrimSpace(cmd.Address.Email)),
		Street:    clean(cmd.Address.Street),
		City:      clean(cmd.Address.City),
		Region:    clean(cmd.Address.Region),
		Country:   clean(cmd.Address.Country),
		Notes:     clean(cmd.Address.Notes),
	}

	var problems []string
	required := map[string]string{
		"recipient": address.Recipient,
		"phone":     address.Phone,
		"street":    address.Street,
		"city":      address.City,
	}
	for _, field := range []string{"recipient", "phone", "street", "city"} {
		if required[field] == "" {
			problems = append(problems, field+" is required")
		}
	}
	for name, value := range map[string]string{
		"recipient": address.Recipient, "street": address.Street, "city": address.City,
		"region": address.Region, "country": address.Country, "address notes": address.Notes,
	} {
		if len(value) > maxAddressFieldLength {
			problems = append(problems, name+" is too long")
		}
	}
	if address.Phone != "" && len(normalizePhone(address.Phone)) < 7 {
		problems = append(problems, "phone is invalid")
	}

	customer := domain.CustomerIdentity{
		UserID: strings.TrimSpace(cmd.Owner.UserID),
		Name:   clean(cmd.Customer.Name),
		Email:  strings.ToLower(strings.TrimSpace(cmd.Customer.Email)),
		Phone:  strings.TrimSpace(cmd.Customer.Phone),
	}
	if customer.Name == "" {
		customer.Name = address.Recipient
	}
	if customer.Email == "" {
		customer.Email = address.Email
	}
	if customer.Phone == "" {
		customer.Phone = address.Phone
	}
	if customer.Email != "" {
		if _, err := mail.ParseAddress(customer.Email); err != nil {
			problems = append(problems, "email is invalid")
		}
	}

	notes := clean(cmd.Notes)
	if len(notes) > maxCheckoutNotesLength {
		problems = append(problems, "notes are too long")
	}

	if len(problems) > 0 {
		return domain.Address{}, domain.CustomerIdentity{}, "", fmt.Errorf("%w: %s", ErrCheckoutValidation, strings.Join(problems, "; "))
	}
	return address, customer, notes, nil
}

type draftOutcome struct {
	order   domain.Order
	created bool
	err     error
}

// materializeDrafts creates one order per draft concurrently. A failing draft never cancels or
// rolls back its siblings; outcomes keep the draft order.
func materializeDrafts(ctx context.Context, orders OrderService, drafts []domain.CheckoutDraft, base CreateOrderCommand, keyPrefix string) []draftOutcome {
	outcomes := make([]draftOutcome, len(drafts))
	var wg sync.WaitGroup
	for i := range drafts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := base
			cmd.Draft = drafts[i]
			if keyPrefix != "" {
				cmd.IdempotencyKey = keyPrefix + ":" + string(drafts[i].Kind)
			}
			creation, err := orders.CreateOrder(ctx, cmd)
			outcomes[i] = draftOutcome{order: creation.Order, created: creation.Created, err: err}
		}(i)
	}
	wg.Wait()
	return outcomes
}

func collectOutcomes(drafts []domain.CheckoutDraft, outcomes []draftOutcome) SubmissionResult {
	var result SubmissionResult
	for i, outcome := range outcomes {
		if outcome.err != nil {
			result.Failures = append(result.Failures, DraftFailure{
				Kind:       drafts[i].Kind,
				Reason:     failureReason(outcome.err),
				ProductIDs: failureProducts(outcome.err),
				Err:        outcome.err,
			})
			continue
		}
		result.Orders = append(result.Orders, outcome.order)
	}
	result.PartialFailure = len(result.Orders) > 0 && len(result.Failures) > 0
	return result
}
