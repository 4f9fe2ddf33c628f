package services

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	"github.com/cimonstech/ventechfront-sub000/internal/payments"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
)

var checkoutNow = time.Date(2025, 5, 10, 9, 30, 0, 0, time.UTC)

type stubOrderRepository struct {
	mu          sync.Mutex
	orders      map[string]domain.Order
	index       map[string]string
	guestKeys   map[string][]string
	stock       map[string]int
	couponUsed  map[string]int
	couponLimit map[string]int
	perCustomer map[string]int
	lookupErr   error
	redemptions []repositories.CouponRedemption
	createErr   func(req repositories.OrderCreate) error
	creates     int
}

func newStubOrderRepository() *stubOrderRepository {
	return &stubOrderRepository{
		orders:      map[string]domain.Order{},
		index:       map[string]string{},
		guestKeys:   map[string][]string{},
		stock:       map[string]int{},
		couponUsed:  map[string]int{},
		couponLimit: map[string]int{},
		perCustomer: map[string]int{},
	}
}

func (s *stubOrderRepository) Create(_ context.Context, req repositories.OrderCreate) (repositories.OrderCreateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.IdempotencyKey != "" {
		if id, ok := s.index[req.IdempotencyKey]; ok {
			return repositories.OrderCreateResult{Order: s.orders[id], Created: false}, nil
		}
	}
	if s.createErr != nil {
		if err := s.createErr(req); err != nil {
			return repositories.OrderCreateResult{}, err
		}
	}
	for _, dec := range req.StockDecrements {
		available, tracked := s.stock[dec.ProductID]
		if tracked && available < dec.Quantity {
			return repositories.OrderCreateResult{}, repositories.RejectShortfalls(repositories.StockShortfall{ProductID: dec.ProductID, Available: available})
		}
	}
	if req.Redemption != nil {
		if limit, ok := s.couponLimit[req.Redemption.CouponID]; ok && s.couponUsed[req.Redemption.CouponID] >= limit {
			return repositories.OrderCreateResult{}, repositories.RejectCoupon(req.Redemption.CouponID)
		}
		if limit, ok := s.perCustomer[req.Redemption.CouponID]; ok && s.redeemedBy(*req.Redemption) >= limit {
			return repositories.OrderCreateResult{}, repositories.RejectCouponRedeemer(req.Redemption.CouponID)
		}
	}
	for _, dec := range req.StockDecrements {
		if _, tracked := s.stock[dec.ProductID]; tracked {
			s.stock[dec.ProductID] -= dec.Quantity
		}
	}
	if req.Redemption != nil {
		s.couponUsed[req.Redemption.CouponID]++
		s.redemptions = append(s.redemptions, *req.Redemption)
	}
	s.creates++
	s.orders[req.Order.ID] = req.Order
	if req.IdempotencyKey != "" {
		s.index[req.IdempotencyKey] = req.Order.ID
	}
	if len(req.GuestKeys) > 0 {
		s.guestKeys[req.Order.ID] = req.GuestKeys
	}
	return repositories.OrderCreateResult{Order: req.Order, Created: true}, nil
}

// redeemedBy expects s.mu to be held.
func (s *stubOrderRepository) redeemedBy(r repositories.CouponRedemption) int {
	n := 0
	for _, prior := range s.redemptions {
		if prior.CouponID == r.CouponID && prior.RedeemerKey == r.RedeemerKey {
			n++
		}
	}
	return n
}

func (s *stubOrderRepository) FindByIdempotencyKey(_ context.Context, key string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return domain.Order{}, s.lookupErr
	}
	id, ok := s.index[key]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.find_by_key", "order not found")
	}
	return s.orders[id], nil
}

func (s *stubOrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.find", "order not found")
	}
	return order, nil
}

func (s *stubOrderRepository) ListByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, order := range s.orders {
		if order.UserID == userID {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNumber > out[j].OrderNumber })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubOrderRepository) ListByPaymentReference(_ context.Context, reference string) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, order := range s.orders {
		if order.PaymentReference == reference {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

func (s *stubOrderRepository) FindGuestOrder(_ context.Context, orderNumber string, guestKey string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, keys := range s.guestKeys {
		order := s.orders[id]
		if order.OrderNumber != orderNumber {
			continue
		}
		for _, key := range keys {
			if key == guestKey {
				return order, nil
			}
		}
	}
	return domain.Order{}, repositories.NewNotFoundError("orders.find_guest", "guest order not found")
}

func (s *stubOrderRepository) LinkPayment(_ context.Context, orderID string, reference string, paidAt time.Time) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.link_payment", "order not found")
	}
	if order.PaymentReference == reference && order.PaymentStatus == domain.PaymentStatusPaid {
		return order, nil
	}
	order.PaymentReference = reference
	order.PaymentStatus = domain.PaymentStatusPaid
	order.PaidAt = &paidAt
	s.orders[orderID] = order
	return order, nil
}

func (s *stubOrderRepository) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

type stubDeliveryRepository struct {
	options map[string]domain.DeliveryOption
}

func (s *stubDeliveryRepository) GetOption(_ context.Context, optionID string) (domain.DeliveryOption, error) {
	option, ok := s.options[optionID]
	if !ok {
		return domain.DeliveryOption{}, repositories.NewNotFoundError("deliveries.get", "option not found")
	}
	return option, nil
}

func (s *stubDeliveryRepository) ListOptions(_ context.Context, kinds ...domain.DeliveryKind) ([]domain.DeliveryOption, error) {
	var out []domain.DeliveryOption
	for _, option := range s.options {
		for _, kind := range kinds {
			if option.Kind == kind {
				out = append(out, option)
			}
		}
	}
	return out, nil
}

func deliveryFixture() *stubDeliveryRepository {
	return &stubDeliveryRepository{options: map[string]domain.DeliveryOption{
		"std": {ID: "std", Name: "Standard", Kind: domain.DeliveryStandard, Price: dec("20"), MinDays: 1, MaxDays: 3, Active: true},
		"air": {ID: "air", Name: "Air cargo", Kind: domain.DeliveryAirCargo, Price: dec("400"), MinDays: 14, MaxDays: 21, Active: true},
		"sea": {ID: "sea", Name: "Sea cargo", Kind: domain.DeliverySeaCargo, Price: dec("150"), MinDays: 45, MaxDays: 60, Active: false},
	}}
}

type stubEventPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (s *stubEventPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.events = append(s.events, event)
	return "msg-" + event.OrderID, nil
}

func (s *stubEventPublisher) ofType(eventType OrderEventType) []OrderEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []OrderEvent
	for _, event := range s.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

type stubCheckoutMetrics struct {
	mu       sync.Mutex
	created  int
	failures []string
}

func (s *stubCheckoutMetrics) OrderCreated(context.Context, domain.DraftKind, domain.PaymentMethod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
}

func (s *stubCheckoutMetrics) SettlementFailed(_ context.Context, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, reason)
}

type stubPaymentGateway struct {
	mu          sync.Mutex
	initialized []payments.InitializeRequest
	initErr     error
	verifyFn    func(req payments.VerifyRequest) (payments.Verification, error)
	verifyCalls int
}

func (s *stubPaymentGateway) InitializePayment(_ context.Context, _ payments.PaymentContext, req payments.InitializeRequest) (payments.InitializeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initErr != nil {
		return payments.InitializeResult{}, s.initErr
	}
	s.initialized = append(s.initialized, req)
	return payments.InitializeResult{
		Provider:    "stripe",
		SessionID:   "cs_" + req.Reference,
		CheckoutURL: "https://checkout.example/" + req.Reference,
		ExpiresAt:   checkoutNow.Add(time.Hour),
	}, nil
}

func (s *stubPaymentGateway) VerifyPayment(_ context.Context, _ payments.PaymentContext, req payments.VerifyRequest) (payments.Verification, error) {
	s.mu.Lock()
	s.verifyCalls++
	fn := s.verifyFn
	s.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, init := range s.initialized {
		if init.Reference == req.Reference {
			paidAt := checkoutNow.Add(5 * time.Minute)
			return payments.Verification{
				Reference:   init.Reference,
				SessionID:   "cs_" + init.Reference,
				Status:      payments.StatusSucceeded,
				AmountMinor: init.AmountMinor,
				Currency:    init.Currency,
				Metadata:    init.Metadata,
				PaidAt:      &paidAt,
			}, nil
		}
	}
	return payments.Verification{Reference: req.Reference, Status: payments.StatusFailed}, nil
}

func sequentialOrderNumbers() *stubOrderSequenceRepository {
	var seq atomic.Int64
	return &stubOrderSequenceRepository{nextFn: func(context.Context, string) (int64, error) {
		return seq.Add(1), nil
	}}
}

func testPolicy() CheckoutPolicy {
	return CheckoutPolicy{
		Currency:              "GHS",
		FreeShippingThreshold: dec("1000"),
		TaxRate:               dec("0"),
		OrderTotalCeiling:     dec("100000"),
		CallbackURL:           "https://shop.example/checkout/callback",
		CancelURL:             "https://shop.example/cart",
	}
}

// storefrontCatalog has a regular mouse at 500, a regular laptop at 1200 and a pre-order drone
// at 2000.
func storefrontCatalog() *stubCatalogRepository {
	return &stubCatalogRepository{
		products: map[string]domain.Product{
			"mouse":  {ID: "mouse", Name: "Mouse", BasePrice: dec("500"), StockQuantity: 10, Active: true},
			"laptop": {ID: "laptop", Name: "Laptop", BasePrice: dec("1200"), StockQuantity: 3, Active: true},
			"drone":  {ID: "drone", Name: "Drone", BasePrice: dec("2000"), IsPreOrder: true, Active: true},
		},
		attributes: map[string][]domain.ProductAttribute{},
	}
}

type orderHarness struct {
	repo      *stubOrderRepository
	sequences *stubOrderSequenceRepository
	catalog   *stubCatalogRepository
	events    *stubEventPublisher
	metrics   *stubCheckoutMetrics
	svc       OrderService
}

func newOrderHarness(t *testing.T, catalog *stubCatalogRepository) *orderHarness {
	t.Helper()
	sequences := sequentialOrderNumbers()
	numbers, err := NewOrderNumberService(OrderNumberServiceDeps{Sequences: sequences, Clock: func() time.Time { return checkoutNow }})
	require.NoError(t, err)

	h := &orderHarness{
		repo:      newStubOrderRepository(),
		sequences: sequences,
		catalog:   catalog,
		events:    &stubEventPublisher{},
		metrics:   &stubCheckoutMetrics{},
	}
	var ids atomic.Int64
	h.svc, err = NewOrderService(OrderServiceDeps{
		Orders:  h.repo,
		Catalog: catalog,
		Numbers: numbers,
		Events:  h.events,
		Metrics: h.metrics,
		Policy:  testPolicy(),
		Clock:   func() time.Time { return checkoutNow },
		IDGenerator: func() string {
			return "01TEST" + strconv.FormatInt(ids.Add(1), 10)
		},
	})
	require.NoError(t, err)
	return h
}

func testAddress() domain.Address {
	return domain.Address{
		Recipient: "Ama Mensah",
		Phone:     "+233 20 123 4567",
		Email:     "ama@example.com",
		Street:    "12 Ring Road",
		City:      "Accra",
		Country:   "GH",
	}
}
