package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
)

const (
	orderIDPrefix     = "ord_"
	defaultOrderLimit = 20
	maxOrderLimit     = 100
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates the order is already linked to another payment.
	ErrOrderConflict = errors.New("order: conflict")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Catalog     repositories.CatalogRepository
	Numbers     OrderNumberService
	Events      OrderEventPublisher
	Metrics     CheckoutMetrics
	Policy      CheckoutPolicy
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders  repositories.OrderRepository
	catalog repositories.CatalogRepository
	numbers OrderNumberService
	events  OrderEventPublisher
	metrics CheckoutMetrics
	policy  CheckoutPolicy
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog repository is required")
	}
	if deps.Numbers == nil {
		return nil, errors.New("order service: order number service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
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

	return &orderService{
		orders:  deps.Orders,
		catalog: deps.Catalog,
		numbers: deps.Numbers,
		events:  deps.Events,
		metrics: metrics,
		policy:  policy,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateOrder persists one draft as an order. A draft already stored under its idempotency key is
// returned as is, before the catalog is consulted or an order number is drawn. Stock, coupon usage,
// the order and its idempotency index are written in a single repository transaction, which checks
// the key again for concurrent creates.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (OrderCreation, error) {
	draft := cmd.Draft
	if len(draft.Items) == 0 {
		return OrderCreation{}, fmt.Errorf("%w: draft has no items", ErrCheckoutValidation)
	}
	if draft.Total.IsNegative() {
		return OrderCreation{}, fmt.Errorf("%w: order total must not be negative", ErrCheckoutValidation)
	}
	if s.policy.OrderTotalCeiling.IsPositive() && draft.Total.GreaterThan(s.policy.OrderTotalCeiling) {
		return OrderCreation{}, fmt.Errorf("%w: order total %s exceeds the allowed maximum", ErrCheckoutValidation, draft.Total.StringFixed(2))
	}

	quantities := make(map[string]int, len(draft.Items))
	productIDs := make([]string, 0, len(draft.Items))
	for _, item := range draft.Items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" || item.Quantity <= 0 {
			return OrderCreation{}, fmt.Errorf("%w: invalid item %q", ErrCheckoutValidation, item.ProductID)
		}
		if _, ok := quantities[id]; !ok {
			productIDs = append(productIDs, id)
		}
		quantities[id] += item.Quantity
	}
	sort.Strings(productIDs)

	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key != "" {
		existing, err := s.orders.FindByIdempotencyKey(ctx, key)
		switch {
		case err == nil:
			return OrderCreation{Order: existing, Created: false}, nil
		case !isRepoNotFound(err):
			return OrderCreation{}, fmt.Errorf("%w: look up idempotency key: %v", ErrOrderCreationFailed, err)
		}
	}

	products, err := s.catalog.GetProducts(ctx, productIDs)
	if err != nil {
		return OrderCreation{}, fmt.Errorf("%w: load products: %v", ErrOrderCreationFailed, err)
	}
	var missing []string
	for _, id := range productIDs {
		if product, ok := products[id]; !ok || !product.Active {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return OrderCreation{}, &ProductUnavailableError{ProductIDs: missing}
	}

	number, err := s.numbers.NextOrderNumber(ctx)
	if err != nil {
		return OrderCreation{}, fmt.Errorf("%w: allocate order number: %v", ErrOrderCreationFailed, err)
	}

	order := s.buildOrder(cmd, number)

	req := repositories.OrderCreate{
		Order:          order,
		IdempotencyKey: key,
		GuestKeys:      guestKeys(order.UserID, draft.Customer),
	}
	if draft.Kind == domain.DraftRegular {
		for _, id := range productIDs {
			req.StockDecrements = append(req.StockDecrements, repositories.StockDecrement{ProductID: id, Quantity: quantities[id]})
		}
	}
	if draft.OwnsCoupon() {
		req.Redemption = &repositories.CouponRedemption{
			CouponID:    draft.CouponID,
			RedeemerKey: RedeemerKey(draft.Customer),
		}
	}

	result, err := s.orders.Create(ctx, req)
	if err != nil {
		mapped := s.mapCreateError(draft, quantities, err)
		s.logger(ctx, "order.create.failed", map[string]any{
			"kind":      string(draft.Kind),
			"reference": order.PaymentReference,
			"reason":    failureReason(mapped),
			"error":     err.Error(),
		})
		return OrderCreation{}, mapped
	}

	if result.Created {
		s.metrics.OrderCreated(ctx, result.Order.Kind, result.Order.PaymentMethod)
		s.publishCreated(ctx, result.Order)
		s.logger(ctx, "order.created", map[string]any{
			"orderId":     result.Order.ID,
			"orderNumber": result.Order.OrderNumber,
			"kind":        string(result.Order.Kind),
			"total":       result.Order.Total.StringFixed(2),
		})
	}
	return OrderCreation{Order: result.Order, Created: result.Created}, nil
}

func (s *orderService) buildOrder(cmd CreateOrderCommand, number string) domain.Order {
	draft := cmd.Draft
	now := s.clock()

	items := make([]domain.OrderItem, 0, len(draft.Items))
	for _, item := range draft.Items {
		items = append(items, domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Thumbnail:   item.Thumbnail,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.LineTotal().Round(2),
			Selections:  append([]domain.VariantSelection(nil), item.Selections...),
		})
	}

	reference := strings.TrimSpace(cmd.PaymentReference)
	if reference == "" {
		reference = draft.PaymentReference
	}
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		userID = strings.TrimSpace(draft.Customer.UserID)
	}

	order := domain.Order{
		ID:               orderIDPrefix + s.newID(),
		OrderNumber:      number,
		UserID:           userID,
		Kind:             draft.Kind,
		Status:           domain.OrderStatusPending,
		PaymentStatus:    domain.PaymentStatusPending,
		PaymentMethod:    draft.PaymentMethod,
		PaymentReference: reference,
		Items:            items,
		Subtotal:         draft.Subtotal,
		DeliveryFee:      draft.DeliveryFee,
		Tax:              draft.Tax,
		Discount:         draft.Discount,
		Total:            draft.Total,
		Currency:         s.policy.Currency,
		Delivery:         draft.Delivery,
		Address:          draft.Address,
		Contact:          draft.Customer,
		Notes:            draft.Notes,
		CouponID:         draft.CouponID,
		CouponCode:       draft.CouponCode,
		IsPreOrder:       draft.Kind == domain.DraftPreOrder,
		EstimatedArrival: draft.EstimatedArrival,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if cmd.PaidAt != nil {
		paidAt := cmd.PaidAt.UTC()
		order.PaymentStatus = domain.PaymentStatusPaid
		order.Status = domain.OrderStatusProcessing
		order.PaidAt = &paidAt
	}
	return order
}

func (s *orderService) mapCreateError(draft domain.CheckoutDraft, quantities map[string]int, err error) error {
	var rejection *repositories.CommitRejection
	if !errors.As(err, &rejection) {
		return fmt.Errorf("%w: %v", ErrOrderCreationFailed, err)
	}
	switch rejection.Reason {
	case repositories.RejectInsufficientStock:
		stockErr := &StockError{ProductIDs: rejection.ProductIDs}
		if len(rejection.Shortfalls) > 0 {
			first := rejection.Shortfalls[0]
			stockErr.Requested = quantities[first.ProductID]
			stockErr.Available = first.Available
		}
		return stockErr
	case repositories.RejectProductMissing:
		return &ProductUnavailableError{ProductIDs: rejection.ProductIDs}
	case repositories.RejectCouponExhausted:
		return &CouponError{Code: draft.CouponCode, Reason: CouponGlobalUsageLimitReached}
	case repositories.RejectCouponPerRedeemer:
		return &CouponError{Code: draft.CouponCode, Reason: CouponPerUserLimitReached}
	default:
		return fmt.Errorf("%w: %v", ErrOrderCreationFailed, err)
	}
}

func (s *orderService) publishCreated(ctx context.Context, order domain.Order) {
	if s.events == nil {
		return
	}
	messageID, err := s.events.PublishOrderEvent(ctx, OrderEvent{
		Type:             OrderEventCreated,
		OrderID:          order.ID,
		OrderNumber:      order.OrderNumber,
		UserID:           order.UserID,
		Kind:             string(order.Kind),
		PaymentMethod:    string(order.PaymentMethod),
		PaymentReference: order.PaymentReference,
		Total:            order.Total.StringFixed(2),
		Currency:         order.Currency,
		OccurredAt:       s.clock(),
	})
	if err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return
	}
	s.logger(ctx, "order.event.published", map[string]any{
		"orderId":   order.ID,
		"messageId": messageID,
	})
}

func (s *orderService) ListOrders(ctx context.Context, userID string, limit int) ([]Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	switch {
	case limit <= 0:
		limit = defaultOrderLimit
	case limit > maxOrderLimit:
		limit = maxOrderLimit
	}
	orders, err := s.orders.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, s.translateRepoError(err)
	}
	return orders, nil
}

// GetOrder returns an order owned by userID. Orders of other users are reported as not found.
func (s *orderService) GetOrder(ctx context.Context, userID string, orderID string) (Order, error) {
	userID = strings.TrimSpace(userID)
	orderID = strings.TrimSpace(orderID)
	if userID == "" || orderID == "" {
		return Order{}, fmt.Errorf("%w: user id and order id are required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	if order.UserID != userID {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (s *orderService) LookupGuestOrder(ctx context.Context, cmd GuestOrderLookup) (Order, error) {
	number := strings.TrimSpace(cmd.OrderNumber)
	if number == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	var key string
	switch {
	case strings.TrimSpace(cmd.Email) != "":
		key = "email:" + strings.ToLower(strings.TrimSpace(cmd.Email))
	case normalizePhone(cmd.Phone) != "":
		key = "phone:" + normalizePhone(cmd.Phone)
	default:
		return Order{}, fmt.Errorf("%w: email or phone is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindGuestOrder(ctx, number, key)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	return order, nil
}

func (s *orderService) ListByPaymentReference(ctx context.Context, reference string) ([]Order, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, fmt.Errorf("%w: payment reference is required", ErrOrderInvalidInput)
	}
	orders, err := s.orders.ListByPaymentReference(ctx, reference)
	if err != nil {
		if isRepoNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return orders, nil
}

// LinkPayment marks the order paid under reference. Linking twice with the same reference is a no-op.
func (s *orderService) LinkPayment(ctx context.Context, orderID string, reference string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	reference = strings.TrimSpace(reference)
	if orderID == "" || reference == "" {
		return Order{}, fmt.Errorf("%w: order id and payment reference are required", ErrOrderInvalidInput)
	}
	order, err := s.orders.LinkPayment(ctx, orderID, reference, s.clock())
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	return order, nil
}

func (s *orderService) translateRepoError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
	}
	return err
}

// guestKeys indexes guest orders by lower-cased email and digits-only phone.
func guestKeys(userID string, customer domain.CustomerIdentity) []string {
	if strings.TrimSpace(userID) != "" {
		return nil
	}
	var keys []string
	if email := strings.ToLower(strings.TrimSpace(customer.Email)); email != "" {
		keys = append(keys, "email:"+email)
	}
	if phone := normalizePhone(customer.Phone); phone != "" {
		keys = append(keys, "phone:"+phone)
	}
	return keys
}
