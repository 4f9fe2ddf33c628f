package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product is the read-only catalog record consumed by pricing and checkout.
type Product struct {
	ID            string
	Name          string
	Slug          string
	Thumbnail     string
	BasePrice     decimal.Decimal
	DiscountPrice *decimal.Decimal
	StockQuantity int
	IsPreOrder    bool
	Active        bool
	UpdatedAt     time.Time
}

// EffectivePrice returns the discounted price when it is set and not above the base price.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.DiscountPrice != nil && !p.DiscountPrice.IsNegative() && p.DiscountPrice.LessThanOrEqual(p.BasePrice) {
		return *p.DiscountPrice
	}
	return p.BasePrice
}

// AttributeType enumerates the supported customisation widgets.
type AttributeType string

const (
	// AttributeTypeSelect renders a drop-down selector.
	AttributeTypeSelect AttributeType = "select"
	// AttributeTypeRadio renders a radio group.
	AttributeTypeRadio AttributeType = "radio"
	// AttributeTypeColor renders colour swatches.
	AttributeTypeColor AttributeType = "color"
	// AttributeTypeSize renders size chips.
	AttributeTypeSize AttributeType = "size"
)

// ParseAttributeType validates the raw attribute type stored by the catalog.
func ParseAttributeType(raw string) (AttributeType, error) {
	switch t := AttributeType(strings.ToLower(strings.TrimSpace(raw))); t {
	case AttributeTypeSelect, AttributeTypeRadio, AttributeTypeColor, AttributeTypeSize:
		return t, nil
	case "":
		return AttributeTypeSelect, nil
	default:
		return "", fmt.Errorf("domain: unknown attribute type %q", raw)
	}
}

// Attribute is a named axis of customisation such as "RAM".
type Attribute struct {
	ID   string
	Name string
	Type AttributeType
}

// DefaultOptionID identifies the synthetic zero-modifier option.
const DefaultOptionID = "default"

// AttributeOption is one value of an attribute with its signed price delta.
type AttributeOption struct {
	ID            string
	AttributeID   string
	Label         string
	PriceModifier decimal.Decimal
	StockQuantity int
	Available     bool
	Synthetic     bool
}

// ProductAttribute is the product-scoped mapping of an attribute and its selectable options.
type ProductAttribute struct {
	Attribute Attribute
	Required  bool
	Options   []AttributeOption
}

// AvailableOptions returns the options currently marked available.
func (a ProductAttribute) AvailableOptions() []AttributeOption {
	out := make([]AttributeOption, 0, len(a.Options))
	for _, opt := range a.Options {
		if opt.Available {
			out = append(out, opt)
		}
	}
	return out
}

// WithDefaultOption returns the available options, adding a synthetic zero-modifier default
// when none of them is free so a customer can always decline customisation.
func (a ProductAttribute) WithDefaultOption() []AttributeOption {
	options := a.AvailableOptions()
	if len(options) == 0 {
		return options
	}
	for _, opt := range options {
		if opt.PriceModifier.IsZero() {
			return options
		}
	}
	return append(options, AttributeOption{
		ID:            DefaultOptionID,
		AttributeID:   a.Attribute.ID,
		Label:         "Default",
		PriceModifier: decimal.Zero,
		Available:     true,
		Synthetic:     true,
	})
}

// FindOption looks up a selectable option by id.
func (a ProductAttribute) FindOption(optionID string) (AttributeOption, bool) {
	for _, opt := range a.Options {
		if opt.ID == optionID {
			return opt, true
		}
	}
	return AttributeOption{}, false
}

// VariantSelection records that a customer enabled an attribute and picked one option.
type VariantSelection struct {
	AttributeID string
	OptionID    string
}

// PriceRange is the min/max unit price across all selection combinations.
type PriceRange struct {
	Min      decimal.Decimal
	Max      decimal.Decimal
	HasRange bool
}

// PointRange collapses a range to a single price.
func PointRange(price decimal.Decimal) PriceRange {
	return PriceRange{Min: price, Max: price}
}

// CartLine is a single product + variant combination in the cart.
type CartLine struct {
	ID          string
	ProductID   string
	ProductName string
	Thumbnail   string
	Quantity    int
	UnitPrice   decimal.Decimal
	Selections  []VariantSelection
	IsPreOrder  bool
	AddedAt     time.Time
	UpdatedAt   time.Time
}

// Subtotal returns unit price times quantity.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart groups the line items owned by a signed-in user or a guest token.
type Cart struct {
	OwnerKey  string
	UserID    string
	Lines     []CartLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartTotals are the derived partition subtotals of a cart.
type CartTotals struct {
	RegularSubtotal  decimal.Decimal
	PreOrderSubtotal decimal.Decimal
	GrandSubtotal    decimal.Decimal
	RegularLines     []CartLine
	PreOrderLines    []CartLine
	HasMixedCart     bool
}

// DiscountType enumerates coupon discount rules.
type DiscountType string

const (
	// DiscountPercentage discounts a percentage of the subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixedAmount discounts a fixed amount.
	DiscountFixedAmount DiscountType = "fixed_amount"
	// DiscountFreeShipping waives the delivery fee.
	DiscountFreeShipping DiscountType = "free_shipping"
)

// Coupon is an order-level discount code.
type Coupon struct {
	ID              string
	Code            string
	DiscountType    DiscountType
	DiscountValue   decimal.Decimal
	MinimumAmount   decimal.Decimal
	MaximumDiscount *decimal.Decimal
	UsageLimit      *int
	PerUserLimit    *int
	UsedCount       int
	ValidFrom       time.Time
	ValidUntil      *time.Time
	Active          bool
}

// DeliveryKind distinguishes standard delivery from pre-order cargo shipping.
type DeliveryKind string

const (
	// DeliveryStandard is a local delivery option for in-stock items.
	DeliveryStandard DeliveryKind = "standard"
	// DeliveryAirCargo ships pre-orders by air.
	DeliveryAirCargo DeliveryKind = "air_cargo"
	// DeliverySeaCargo ships pre-orders by sea.
	DeliverySeaCargo DeliveryKind = "sea_cargo"
)

// IsCargo reports whether the option is a pre-order shipping option.
func (k DeliveryKind) IsCargo() bool {
	return k == DeliveryAirCargo || k == DeliverySeaCargo
}

// DeliveryOption is a delivery or pre-order shipping choice.
type DeliveryOption struct {
	ID      string
	Name    string
	Kind    DeliveryKind
	Price   decimal.Decimal
	MinDays int
	MaxDays int
	Active  bool
}

// Address is the delivery address captured at checkout.
type Address struct {
	Recipient string
	Phone     string
	Email     string
	Street    string
	City      string
	Region    string
	Country   string
	Notes     string
}

// CustomerIdentity identifies the purchaser. UserID is empty for guests.
type CustomerIdentity struct {
	UserID string
	Name   string
	Email  string
	Phone  string
}

// IsGuest reports whether the customer checked out without an account.
func (c CustomerIdentity) IsGuest() bool {
	return strings.TrimSpace(c.UserID) == ""
}
