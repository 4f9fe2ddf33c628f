package firestore

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
)

// Firestore has no decimal type; money is stored as int64 minor units (pesewas) so no stored
// amount ever passes through a binary float.
func moneyFromMinor(value int64) decimal.Decimal {
	return decimal.New(value, -2)
}

func moneyToMinor(value decimal.Decimal) int64 {
	return value.Round(2).Shift(2).IntPart()
}

func optionalMoneyFromMinor(value *int64) *decimal.Decimal {
	if value == nil {
		return nil
	}
	money := moneyFromMinor(*value)
	return &money
}

func optionalMoneyToMinor(value *decimal.Decimal) *int64 {
	if value == nil {
		return nil
	}
	minor := moneyToMinor(*value)
	return &minor
}

func optionalTime(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	t := value.UTC()
	return &t
}

type selectionDocument struct {
	AttributeID string `firestore:"attributeId"`
	OptionID    string `firestore:"optionId"`
}

func newSelectionDocuments(selections []domain.VariantSelection) []selectionDocument {
	if len(selections) == 0 {
		return nil
	}
	out := make([]selectionDocument, 0, len(selections))
	for _, sel := range selections {
		out = append(out, selectionDocument{
			AttributeID: strings.TrimSpace(sel.AttributeID),
			OptionID:    strings.TrimSpace(sel.OptionID),
		})
	}
	return out
}

func selectionsToDomain(docs []selectionDocument) []domain.VariantSelection {
	if len(docs) == 0 {
		return nil
	}
	out := make([]domain.VariantSelection, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.VariantSelection{AttributeID: doc.AttributeID, OptionID: doc.OptionID})
	}
	return out
}

type addressDocument struct {
	Recipient string `firestore:"recipient"`
	Phone     string `firestore:"phone"`
	Email     string `firestore:"email,omitempty"`
	Street    string `firestore:"street"`
	City      string `firestore:"city"`
	Region    string `firestore:"region,omitempty"`
	Country   string `firestore:"country"`
	Notes     string `firestore:"notes,omitempty"`
}

func newAddressDocument(addr domain.Address) addressDocument {
	return addressDocument{
		Recipient: addr.Recipient,
		Phone:     addr.Phone,
		Email:     addr.Email,
		Street:    addr.Street,
		City:      addr.City,
		Region:    addr.Region,
		Country:   addr.Country,
		Notes:     addr.Notes,
	}
}

func (d addressDocument) toDomain() domain.Address {
	return domain.Address{
		Recipient: d.Recipient,
		Phone:     d.Phone,
		Email:     d.Email,
		Street:    d.Street,
		City:      d.City,
		Region:    d.Region,
		Country:   d.Country,
		Notes:     d.Notes,
	}
}

type contactDocument struct {
	UserID string `firestore:"userId,omitempty"`
	Name   string `firestore:"name"`
	Email  string `firestore:"email,omitempty"`
	Phone  string `firestore:"phone,omitempty"`
}

func newContactDocument(c domain.CustomerIdentity) contactDocument {
	return contactDocument{UserID: c.UserID, Name: c.Name, Email: c.Email, Phone: c.Phone}
}

func (d contactDocument) toDomain() domain.CustomerIdentity {
	return domain.CustomerIdentity{UserID: d.UserID, Name: d.Name, Email: d.Email, Phone: d.Phone}
}

// deliveryDocument is the option snapshot embedded in drafts and orders.
type deliveryDocument struct {
	ID      string `firestore:"id"`
	Name    string `firestore:"name"`
	Kind    string `firestore:"kind"`
	Price   int64  `firestore:"priceMinor"`
	MinDays int    `firestore:"minDays"`
	MaxDays int    `firestore:"maxDays"`
}

func newDeliveryDocument(opt domain.DeliveryOption) deliveryDocument {
	return deliveryDocument{
		ID:      opt.ID,
		Name:    opt.Name,
		Kind:    string(opt.Kind),
		Price:   moneyToMinor(opt.Price),
		MinDays: opt.MinDays,
		MaxDays: opt.MaxDays,
	}
}

func (d deliveryDocument) toDomain() domain.DeliveryOption {
	return domain.DeliveryOption{
		ID:      d.ID,
		Name:    d.Name,
		Kind:    domain.DeliveryKind(d.Kind),
		Price:   moneyFromMinor(d.Price),
		MinDays: d.MinDays,
		MaxDays: d.MaxDays,
		Active:  true,
	}
}

type draftItemDocument struct {
	ProductID   string              `firestore:"productId"`
	ProductName string              `firestore:"productName"`
	Thumbnail   string              `firestore:"thumbnail,omitempty"`
	Quantity    int                 `firestore:"quantity"`
	UnitPrice   int64               `firestore:"unitPriceMinor"`
	Selections  []selectionDocument `firestore:"selections,omitempty"`
}

type draftDocument struct {
	Kind             string              `firestore:"kind"`
	Items            []draftItemDocument `firestore:"items"`
	Delivery         deliveryDocument    `firestore:"delivery"`
	Address          addressDocument     `firestore:"address"`
	Customer         contactDocument     `firestore:"customer"`
	Notes            string              `firestore:"notes,omitempty"`
	CouponID         string              `firestore:"couponId,omitempty"`
	CouponCode       string              `firestore:"couponCode,omitempty"`
	CouponType       string              `firestore:"couponType,omitempty"`
	Discount         int64               `firestore:"discountMinor"`
	Subtotal         int64               `firestore:"subtotalMinor"`
	DeliveryFee      int64               `firestore:"deliveryFeeMinor"`
	Tax              int64               `firestore:"taxMinor"`
	Total            int64               `firestore:"totalMinor"`
	PaymentMethod    string              `firestore:"paymentMethod"`
	PaymentReference string              `firestore:"paymentReference,omitempty"`
	EstimatedArrival *time.Time          `firestore:"estimatedArrival,omitempty"`
}

func newDraftDocument(d domain.CheckoutDraft) draftDocument {
	items := make([]draftItemDocument, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, draftItemDocument{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Thumbnail:   item.Thumbnail,
			Quantity:    item.Quantity,
			UnitPrice:   moneyToMinor(item.UnitPrice),
			Selections:  newSelectionDocuments(item.Selections),
		})
	}
	return draftDocument{
		Kind:             string(d.Kind),
		Items:            items,
		Delivery:         newDeliveryDocument(d.Delivery),
		Address:          newAddressDocument(d.Address),
		Customer:         newContactDocument(d.Customer),
		Notes:            d.Notes,
		CouponID:         d.CouponID,
		CouponCode:       d.CouponCode,
		CouponType:       string(d.CouponType),
		Discount:         moneyToMinor(d.Discount),
		Subtotal:         moneyToMinor(d.Subtotal),
		DeliveryFee:      moneyToMinor(d.DeliveryFee),
		Tax:              moneyToMinor(d.Tax),
		Total:            moneyToMinor(d.Total),
		PaymentMethod:    string(d.PaymentMethod),
		PaymentReference: d.PaymentReference,
		EstimatedArrival: optionalTime(d.EstimatedArrival),
	}
}

func (d draftDocument) toDomain() domain.CheckoutDraft {
	items := make([]domain.DraftItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.DraftItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Thumbnail:   item.Thumbnail,
			Quantity:    item.Quantity,
			UnitPrice:   moneyFromMinor(item.UnitPrice),
			Selections:  selectionsToDomain(item.Selections),
		})
	}
	return domain.CheckoutDraft{
		Kind:             domain.DraftKind(d.Kind),
		Items:            items,
		Delivery:         d.Delivery.toDomain(),
		Address:          d.Address.toDomain(),
		Customer:         d.Customer.toDomain(),
		Notes:            d.Notes,
		CouponID:         d.CouponID,
		CouponCode:       d.CouponCode,
		CouponType:       domain.DiscountType(d.CouponType),
		Discount:         moneyFromMinor(d.Discount),
		Subtotal:         moneyFromMinor(d.Subtotal),
		DeliveryFee:      moneyFromMinor(d.DeliveryFee),
		Tax:              moneyFromMinor(d.Tax),
		Total:            moneyFromMinor(d.Total),
		PaymentMethod:    domain.PaymentMethod(d.PaymentMethod),
		PaymentReference: d.PaymentReference,
		EstimatedArrival: optionalTime(d.EstimatedArrival),
	}
}
