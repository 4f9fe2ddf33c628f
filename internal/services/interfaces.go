package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	"github.com/cimonstech/ventechfront-sub000/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Product          = domain.Product
	ProductAttribute = domain.ProductAttribute
	VariantSelection = domain.VariantSelection
	PriceRange       = domain.PriceRange
	Cart             = domain.Cart
	CartLine         = domain.CartLine
	CartTotals       = domain.CartTotals
	Coupon           = domain.Coupon
	DeliveryOption   = domain.DeliveryOption
	CheckoutDraft    = domain.CheckoutDraft
	Order            = domain.Order
	HealthReport     = domain.HealthReport
)

// PricingResolver prices a product for a set of variant selections.
type PricingResolver interface {
	ResolvePrice(ctx context.Context, cmd ResolvePriceCommand) (PriceQuote, error)
}

// CartService manages the cart of a signed-in user or guest.
type CartService interface {
	GetCart(ctx context.Context, owner Owner) (CartView, error)
	AddLine(ctx context.Context, cmd AddCartLineCommand) (CartMutation, error)
	UpdateQuantity(ctx context.Context, cmd UpdateCartLineCommand) (CartMutation, error)
	RemoveLine(ctx context.Context, cmd RemoveCartLineCommand) (CartView, error)
	Clear(ctx context.Context, owner Owner) error
}

// CouponService validates coupon codes. Usage is recorded when an order is created.
type CouponService interface {
	Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponResult, error)
}

// CheckoutService builds drafts and dispatches them to the cash or card path.
type CheckoutService interface {
	PrepareCheckout(ctx context.Context, cmd PrepareCheckoutCommand) (CheckoutPreview, error)
	SubmitCashOrder(ctx context.Context, cmd PrepareCheckoutCommand) (SubmissionResult, error)
	SubmitCardPayment(ctx context.Context, cmd PrepareCheckoutCommand) (PaymentRedirect, error)
}

// SettlementService turns a verified gateway payment into persisted orders.
type SettlementService interface {
	SettlePayment(ctx context.Context, cmd SettleCommand) (SubmissionResult, error)
}

// OrderService materializes drafts and serves order reads.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (OrderCreation, error)
	ListOrders(ctx context.Context, userID string, limit int) ([]Order, error)
	GetOrder(ctx context.Context, userID string, orderID string) (Order, error)
	LookupGuestOrder(ctx context.Context, cmd GuestOrderLookup) (Order, error)
	ListByPaymentReference(ctx context.Context, reference string) ([]Order, error)
	LinkPayment(ctx context.Context, orderID string, reference string) (Order, error)
}

// OrderNumberService allocates customer facing order numbers.
type OrderNumberService interface {
	NextOrderNumber(ctx context.Context) (string, error)
}

// HealthService reports dependency health for the health endpoint.
type HealthService interface {
	Health(ctx context.Context) (HealthReport, error)
}

// OrderEventPublisher fans order lifecycle events out to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// CheckoutMetrics records checkout counters.
type CheckoutMetrics interface {
	OrderCreated(ctx context.Context, kind domain.DraftKind, method domain.PaymentMethod)
	SettlementFailed(ctx context.Context, reason string)
}

// paymentGateway abstracts payments.Manager for easier testing.
type paymentGateway interface {
	InitializePayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.InitializeRequest) (payments.InitializeResult, error)
	VerifyPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.VerifyRequest) (payments.Verification, error)
}

// ResolvePriceCommand asks for the unit price of a product with the given selections.
type ResolvePriceCommand struct {
	ProductID  string
	Selections []VariantSelection
}

// PriceQuote is the resolved unit price plus the display range of a product.
type PriceQuote struct {
	Product   Product
	UnitPrice decimal.Decimal
	Range     PriceRange
	// Degraded is set when attribute lookups failed and the quote fell back to the base price.
	Degraded bool
}

// AddCartLineCommand adds a product with variant selections to a cart.
type AddCartLineCommand struct {
	Owner      Owner
	ProductID  string
	Quantity   int
	Selections []VariantSelection
}

// UpdateCartLineCommand changes the quantity of a cart line.
type UpdateCartLineCommand struct {
	Owner    Owner
	LineID   string
	Quantity int
}

// RemoveCartLineCommand removes a line from a cart.
type RemoveCartLineCommand struct {
	Owner  Owner
	LineID string
}

// CartView is a cart with its derived totals.
type CartView struct {
	Cart   Cart
	Totals CartTotals
}

// CartMutation is returned by quantity-changing cart operations.
type CartMutation struct {
	CartView
	Line    CartLine
	Warning *StockWarning
}

// StockWarning reports that a requested quantity was clamped.
type StockWarning struct {
	LineID    string
	ProductID string
	Requested int
	Applied   int
	Available int
}

// ValidateCouponCommand validates a code against the subtotal it would discount.
type ValidateCouponCommand struct {
	Code        string
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	// RedeemerKey scopes the per-user limit; empty skips the per-user check.
	RedeemerKey string
}

// CouponResult is a validated coupon and the discount it grants.
type CouponResult struct {
	Coupon         Coupon
	CouponID       string
	Code           string
	DiscountType   domain.DiscountType
	DiscountAmount decimal.Decimal
}

// PrepareCheckoutCommand carries everything the customer submitted at review.
type PrepareCheckoutCommand struct {
	Owner            Owner
	Customer         domain.CustomerIdentity
	Address          domain.Address
	Notes            string
	DeliveryOptionID string
	ShippingOptionID string
	CouponCode       string
	PaymentMethod    domain.PaymentMethod
	// IdempotencyKey scopes cash order creation so a retried submission returns the same orders.
	IdempotencyKey string
}

// CheckoutPreview is the priced result of building drafts.
type CheckoutPreview struct {
	Drafts       []CheckoutDraft
	HasMixedCart bool
	Currency     string
	GrandTotal   decimal.Decimal
	// CouponError is set when a supplied code was rejected; drafts are built without it.
	CouponError *CouponError
}

// SubmissionResult reports the orders created for a checkout or settlement.
type SubmissionResult struct {
	Reference      string
	Orders         []Order
	Failures       []DraftFailure
	PartialFailure bool
	Replayed       bool
}

// DraftFailure explains why one draft could not be materialized.
type DraftFailure struct {
	Kind       domain.DraftKind
	Reason     string
	ProductIDs []string
	Err        error
}

// PaymentRedirect is where the customer goes to pay.
type PaymentRedirect struct {
	Reference   string
	Provider    string
	SessionID   string
	CheckoutURL string
	Currency    string
	Total       decimal.Decimal
	AmountMinor int64
	ExpiresAt   time.Time
}

// SettleCommand identifies a payment to settle.
type SettleCommand struct {
	Reference string
	SessionID string
	// Source records which entry point triggered settlement (callback, webhook, retry).
	Source string
}

// CreateOrderCommand materializes a single draft.
type CreateOrderCommand struct {
	Draft            CheckoutDraft
	UserID           string
	PaymentReference string
	IdempotencyKey   string
	PaidAt           *time.Time
}

// OrderCreation is the stored order and whether this call created it.
type OrderCreation struct {
	Order   Order
	Created bool
}

// GuestOrderLookup finds a guest order by number and contact.
type GuestOrderLookup struct {
	OrderNumber string
	Email       string
	Phone       string
}

// OrderEventType names events published on the order topic.
type OrderEventType string

const (
	// OrderEventCreated is published after an order is committed.
	OrderEventCreated OrderEventType = "order.created"
	// OrderEventReconciliationRequired flags captured payments without a matching order.
	OrderEventReconciliationRequired OrderEventType = "settlement.reconciliation_required"
)

// OrderEvent is the payload published to Pub/Sub.
type OrderEvent struct {
	Type             OrderEventType `json:"type"`
	OrderID          string         `json:"orderId,omitempty"`
	OrderNumber      string         `json:"orderNumber,omitempty"`
	UserID           string         `json:"userId,omitempty"`
	Kind             string         `json:"kind,omitempty"`
	PaymentMethod    string         `json:"paymentMethod,omitempty"`
	PaymentReference string         `json:"paymentReference,omitempty"`
	Total            string         `json:"total,omitempty"`
	Currency         string         `json:"currency,omitempty"`
	Reason           string         `json:"reason,omitempty"`
	FailedKinds      []string       `json:"failedKinds,omitempty"`
	OccurredAt       time.Time      `json:"occurredAt"`
}
