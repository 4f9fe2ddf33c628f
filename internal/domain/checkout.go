package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DraftKind identifies which cart partition a draft was built from.
type DraftKind string

const (
	// DraftRegular holds immediately fulfillable items.
	DraftRegular DraftKind = "regular"
	// DraftPreOrder holds pre-order items shipped by cargo.
	DraftPreOrder DraftKind = "pre_order"
)

// PaymentMethod enumerates the supported checkout payment paths.
type PaymentMethod string

const (
	// PaymentCashOnDelivery creates orders immediately and collects on delivery.
	PaymentCashOnDelivery PaymentMethod = "cod"
	// PaymentCard redirects to the payment gateway before orders are created.
	PaymentCard PaymentMethod = "card"
)

// DraftItem is a line captured into a draft with its price at staging time.
type DraftItem struct {
	ProductID   string
	ProductName string
	Thumbnail   string
	Quantity    int
	UnitPrice   decimal.Decimal
	Selections  []VariantSelection
}

// LineTotal returns unit price times quantity.
func (i DraftItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CheckoutDraft is a fully priced, not yet persisted intent to create one order.
type CheckoutDraft struct {
	Kind             DraftKind
	Items            []DraftItem
	Delivery         DeliveryOption
	Address          Address
	Customer         CustomerIdentity
	Notes            string
	CouponID         string
	CouponCode       string
	CouponType       DiscountType
	Discount         decimal.Decimal
	Subtotal         decimal.Decimal
	DeliveryFee      decimal.Decimal
	Tax              decimal.Decimal
	Total            decimal.Decimal
	PaymentMethod    PaymentMethod
	PaymentReference string
	EstimatedArrival *time.Time
}

// OwnsCoupon reports whether the draft carries the coupon attribution.
func (d CheckoutDraft) OwnsCoupon() bool {
	return d.CouponID != ""
}

// StagedCheckout is the durable record written before redirecting to the payment gateway.
type StagedCheckout struct {
	Reference        string
	OwnerKey         string
	UserID           string
	Drafts           []CheckoutDraft
	GatewaySessionID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OrderStatus captures the fulfillment lifecycle of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// PaymentStatus captures the payment lifecycle of an order.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// OrderItem is an immutable snapshot of a purchased line.
type OrderItem struct {
	ProductID   string
	ProductName string
	Thumbnail   string
	Quantity    int
	UnitPrice   decimal.Decimal
	Subtotal    decimal.Decimal
	Selections  []VariantSelection
}

// Order is the persisted result of materializing a draft.
type Order struct {
	ID               string
	OrderNumber      string
	UserID           string
	Kind             DraftKind
	Status           OrderStatus
	PaymentStatus    PaymentStatus
	PaymentMethod    PaymentMethod
	PaymentReference string
	Items            []OrderItem
	Subtotal         decimal.Decimal
	DeliveryFee      decimal.Decimal
	Tax              decimal.Decimal
	Discount         decimal.Decimal
	Total            decimal.Decimal
	Currency         string
	Delivery         DeliveryOption
	Address          Address
	Contact          CustomerIdentity
	Notes            string
	CouponID         string
	CouponCode       string
	IsPreOrder       bool
	EstimatedArrival *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PaidAt           *time.Time
}
