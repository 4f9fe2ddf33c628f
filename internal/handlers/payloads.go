package handlers

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	"github.com/cimonstech/ventechfront-sub000/internal/services"
)

// Money is rendered as a fixed two decimal string in major units so clients never see floats.
func formatMoney(value decimal.Decimal) string {
	return value.StringFixed(2)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func formatDatePtr(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.DateOnly)
}

type selectionPayload struct {
	AttributeID string `json:"attribute_id"`
	OptionID    string `json:"option_id"`
}

func buildSelections(selections []domain.VariantSelection) []selectionPayload {
	if len(selections) == 0 {
		return nil
	}
	out := make([]selectionPayload, 0, len(selections))
	for _, sel := range selections {
		out = append(out, selectionPayload{AttributeID: sel.AttributeID, OptionID: sel.OptionID})
	}
	return out
}

func (p selectionPayload) toSelection() domain.VariantSelection {
	return domain.VariantSelection{
		AttributeID: strings.TrimSpace(p.AttributeID),
		OptionID:    strings.TrimSpace(p.OptionID),
	}
}

func toSelections(payloads []selectionPayload) []domain.VariantSelection {
	if len(payloads) == 0 {
		return nil
	}
	out := make([]domain.VariantSelection, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, p.toSelection())
	}
	return out
}

type deliveryPayload struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Price   string `json:"price"`
	MinDays int    `json:"min_days,omitempty"`
	MaxDays int    `json:"max_days,omitempty"`
}

func buildDeliveryPayload(option domain.DeliveryOption) deliveryPayload {
	return deliveryPayload{
		ID:      option.ID,
		Name:    option.Name,
		Kind:    string(option.Kind),
		Price:   formatMoney(option.Price),
		MinDays: option.MinDays,
		MaxDays: option.MaxDays,
	}
}

type addressPayload struct {
	Recipient string `json:"recipient"`
	Phone     string `json:"phone"`
	Email     string `json:"email,omitempty"`
	Street    string `json:"street"`
	City      string `json:"city"`
	Region    string `json:"region,omitempty"`
	Country   string `json:"country,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload(addr)
}

func (p addressPayload) toAddress() domain.Address {
	return domain.Address(p)
}

type draftItemPayload struct {
	ProductID   string             `json:"product_id"`
	ProductName string             `json:"product_name"`
	Thumbnail   string             `json:"thumbnail,omitempty"`
	Quantity    int                `json:"quantity"`
	UnitPrice   string             `json:"unit_price"`
	LineTotal   string             `json:"line_total"`
	Selections  []selectionPayload `json:"selections,omitempty"`
}

type draftPayload struct {
	Kind             string             `json:"kind"`
	Items            []draftItemPayload `json:"items"`
	Delivery         deliveryPayload    `json:"delivery"`
	CouponCode       string             `json:"coupon_code,omitempty"`
	Subtotal         string             `json:"subtotal"`
	DeliveryFee      string             `json:"delivery_fee"`
	Discount         string             `json:"discount"`
	Tax              string             `json:"tax"`
	Total            string             `json:"total"`
	EstimatedArrival string             `json:"estimated_arrival,omitempty"`
}

func buildDraftPayload(draft domain.CheckoutDraft) draftPayload {
	items := make([]draftItemPayload, 0, len(draft.Items))
	for _, item := range draft.Items {
		items = append(items, draftItemPayload{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Thumbnail:   item.Thumbnail,
			Quantity:    item.Quantity,
			UnitPrice:   formatMoney(item.UnitPrice),
			LineTotal:   formatMoney(item.LineTotal()),
			Selections:  buildSelections(item.Selections),
		})
	}
	return draftPayload{
		Kind:             string(draft.Kind),
		Items:            items,
		Delivery:         buildDeliveryPayload(draft.Delivery),
		CouponCode:       draft.CouponCode,
		Subtotal:         formatMoney(draft.Subtotal),
		DeliveryFee:      formatMoney(draft.DeliveryFee),
		Discount:         formatMoney(draft.Discount),
		Tax:              formatMoney(draft.Tax),
		Total:            formatMoney(draft.Total),
		EstimatedArrival: formatDatePtr(draft.EstimatedArrival),
	}
}

type orderItemPayload struct {
	ProductID   string             `json:"product_id"`
	ProductName string             `json:"product_name"`
	Thumbnail   string             `json:"thumbnail,omitempty"`
	Quantity    int                `json:"quantity"`
	UnitPrice   string             `json:"unit_price"`
	Subtotal    string             `json:"subtotal"`
	Selections  []selectionPayload `json:"selections,omitempty"`
}

type orderPayload struct {
	ID               string             `json:"id"`
	OrderNumber      string             `json:"order_number"`
	Kind             string             `json:"kind"`
	Status           string             `json:"status"`
	PaymentStatus    string             `json:"payment_status"`
	PaymentMethod    string             `json:"payment_method"`
	PaymentReference string             `json:"payment_reference,omitempty"`
	IsPreOrder       bool               `json:"is_pre_order"`
	Items            []orderItemPayload `json:"items"`
	Currency         string             `json:"currency"`
	Subtotal         string             `json:"subtotal"`
	DeliveryFee      string             `json:"delivery_fee"`
	Discount         string             `json:"discount"`
	Tax              string             `json:"tax"`
	Total            string             `json:"total"`
	CouponCode       string             `json:"coupon_code,omitempty"`
	Delivery         deliveryPayload    `json:"delivery"`
	Address          addressPayload     `json:"address"`
	Notes            string             `json:"notes,omitempty"`
	EstimatedArrival string             `json:"estimated_arrival,omitempty"`
	CreatedAt        string             `json:"created_at,omitempty"`
	PaidAt           string             `json:"paid_at,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Thumbnail:   item.Thumbnail,
			Quantity:    item.Quantity,
			UnitPrice:   formatMoney(item.UnitPrice),
			Subtotal:    formatMoney(item.Subtotal),
			Selections:  buildSelections(item.Selections),
		})
	}
	return orderPayload{
		ID:               order.ID,
		OrderNumber:      order.OrderNumber,
		Kind:             string(order.Kind),
		Status:           string(order.Status),
		PaymentStatus:    string(order.PaymentStatus),
		PaymentMethod:    string(order.PaymentMethod),
		PaymentReference: order.PaymentReference,
		IsPreOrder:       order.IsPreOrder,
		Items:            items,
		Currency:         order.Currency,
		Subtotal:         formatMoney(order.Subtotal),
		DeliveryFee:      formatMoney(order.DeliveryFee),
		Discount:         formatMoney(order.Discount),
		Tax:              formatMoney(order.Tax),
		Total:            formatMoney(order.Total),
		CouponCode:       order.CouponCode,
		Delivery:         buildDeliveryPayload(order.Delivery),
		Address:          buildAddressPayload(order.Address),
		Notes:            order.Notes,
		EstimatedArrival: formatDatePtr(order.EstimatedArrival),
		CreatedAt:        formatTime(order.CreatedAt),
		PaidAt:           formatTimePtr(order.PaidAt),
	}
}

func buildOrderPayloads(orders []services.Order) []orderPayload {
	out := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		out = append(out, buildOrderPayload(order))
	}
	return out
}

type draftFailurePayload struct {
	Kind       string   `json:"kind"`
	Reason     string   `json:"reason"`
	ProductIDs []string `json:"product_ids,omitempty"`
}

// submissionPayload is shared by cash checkout, the payment callback and settlement retries.
type submissionPayload struct {
	Reference      string                `json:"reference,omitempty"`
	Orders         []orderPayload        `json:"orders"`
	Failures       []draftFailurePayload `json:"failures,omitempty"`
	PartialFailure bool                  `json:"partial_failure"`
	Replayed       bool                  `json:"replayed,omitempty"`
}

func buildSubmissionPayload(result services.SubmissionResult) submissionPayload {
	payload := submissionPayload{
		Reference:      result.Reference,
		Orders:         buildOrderPayloads(result.Orders),
		PartialFailure: result.PartialFailure,
		Replayed:       result.Replayed,
	}
	for _, failure := range result.Failures {
		payload.Failures = append(payload.Failures, draftFailurePayload{
			Kind:       string(failure.Kind),
			Reason:     failure.Reason,
			ProductIDs: failure.ProductIDs,
		})
	}
	return payload
}
