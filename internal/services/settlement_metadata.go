package services

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
)

// Gateway metadata keys carrying enough to rebuild drafts when the staged record is gone. Amounts
// are deliberately absent: a rebuild always re-prices from the catalog.
const (
	metaReference      = "reference"
	metaOwner          = "owner"
	metaUserID         = "user_id"
	metaName           = "name"
	metaEmail          = "email"
	metaPhone          = "phone"
	metaRecipient      = "recipient"
	metaStreet         = "street"
	metaCity           = "city"
	metaRegion         = "region"
	metaCountry        = "country"
	metaDeliveryOption = "delivery_option"
	metaShippingOption = "shipping_option"
	metaCoupon         = "coupon"
	metaItemsPrefix    = "items_"

	// metadataValueLimit is the gateway's per-value cap.
	metadataValueLimit = 500
	maxItemChunks      = 20
)

func encodeSettlementMetadata(reference, ownerKey string, drafts []domain.CheckoutDraft) map[string]string {
	meta := map[string]string{
		metaReference: reference,
		metaOwner:     ownerKey,
	}
	if len(drafts) == 0 {
		return meta
	}
	first := drafts[0]
	put := func(key, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if len(value) > metadataValueLimit {
			value = value[:metadataValueLimit]
		}
		meta[key] = value
	}
	put(metaUserID, first.Customer.UserID)
	put(metaName, first.Customer.Name)
	put(metaEmail, first.Customer.Email)
	put(metaPhone, first.Customer.Phone)
	put(metaRecipient, first.Address.Recipient)
	put(metaStreet, first.Address.Street)
	put(metaCity, first.Address.City)
	put(metaRegion, first.Address.Region)
	put(metaCountry, first.Address.Country)

	var entries []string
	for _, draft := range drafts {
		switch draft.Kind {
		case domain.DraftRegular:
			put(metaDeliveryOption, draft.Delivery.ID)
		case domain.DraftPreOrder:
			put(metaShippingOption, draft.Delivery.ID)
		}
		if draft.CouponCode != "" {
			put(metaCoupon, draft.CouponCode)
		}
		for _, item := range draft.Items {
			entries = append(entries, encodeItem(draft.Kind, item))
		}
	}

	chunks, ok := chunkEntries(entries)
	if !ok {
		// too many items to carry; settlement then depends on the staged record alone
		return meta
	}
	for i, chunk := range chunks {
		meta[metaItemsPrefix+strconv.Itoa(i)] = chunk
	}
	return meta
}

func encodeItem(kind domain.DraftKind, item domain.DraftItem) string {
	marker := "r"
	if kind == domain.DraftPreOrder {
		marker = "p"
	}
	selections := make([]string, 0, len(item.Selections))
	for _, sel := range item.Selections {
		selections = append(selections, url.QueryEscape(sel.AttributeID)+"="+url.QueryEscape(sel.OptionID))
	}
	return strings.Join([]string{
		marker,
		url.QueryEscape(item.ProductID),
		strconv.Itoa(item.Quantity),
		strings.Join(selections, ";"),
	}, "|")
}

func chunkEntries(entries []string) ([]string, bool) {
	var chunks []string
	var current strings.Builder
	for _, entry := range entries {
		if len(entry) > metadataValueLimit {
			return nil, false
		}
		if current.Len() > 0 && current.Len()+1+len(entry) > metadataValueLimit {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(',')
		}
		current.WriteString(entry)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	if len(chunks) > maxItemChunks {
		return nil, false
	}
	return chunks, true
}

// recoveredCheckout is what a gateway metadata map yields. Prices are not part of it.
type recoveredCheckout struct {
	Reference        string
	OwnerKey         string
	Customer         domain.CustomerIdentity
	Address          domain.Address
	DeliveryOptionID string
	ShippingOptionID string
	CouponCode       string
	Lines            []recoveredLine
}

type recoveredLine struct {
	PreOrder   bool
	ProductID  string
	Quantity   int
	Selections []domain.VariantSelection
}

func decodeSettlementMetadata(meta map[string]string) (recoveredCheckout, error) {
	out := recoveredCheckout{
		Reference: strings.TrimSpace(meta[metaReference]),
		OwnerKey:  strings.TrimSpace(meta[metaOwner]),
		Customer: domain.CustomerIdentity{
			UserID: strings.TrimSpace(meta[metaUserID]),
			Name:   strings.TrimSpace(meta[metaName]),
			Email:  strings.TrimSpace(meta[metaEmail]),
			Phone:  strings.TrimSpace(meta[metaPhone]),
		},
		Address: domain.Address{
			Recipient: strings.TrimSpace(meta[metaRecipient]),
			Phone:     strings.TrimSpace(meta[metaPhone]),
			Email:     strings.TrimSpace(meta[metaEmail]),
			Street:    strings.TrimSpace(meta[metaStreet]),
			City:      strings.TrimSpace(meta[metaCity]),
			Region:    strings.TrimSpace(meta[metaRegion]),
			Country:   strings.TrimSpace(meta[metaCountry]),
		},
		DeliveryOptionID: strings.TrimSpace(meta[metaDeliveryOption]),
		ShippingOptionID: strings.TrimSpace(meta[metaShippingOption]),
		CouponCode:       strings.TrimSpace(meta[metaCoupon]),
	}

	var keys []string
	for key := range meta {
		if strings.HasPrefix(key, metaItemsPrefix) {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.Atoi(strings.TrimPrefix(keys[i], metaItemsPrefix))
		b, _ := strconv.Atoi(strings.TrimPrefix(keys[j], metaItemsPrefix))
		return a < b
	})
	for _, key := range keys {
		for _, entry := range strings.Split(meta[key], ",") {
			if strings.TrimSpace(entry) == "" {
				continue
			}
			line, err := decodeItem(entry)
			if err != nil {
				return recoveredCheckout{}, err
			}
			out.Lines = append(out.Lines, line)
		}
	}
	if len(out.Lines) == 0 {
		return recoveredCheckout{}, fmt.Errorf("%w: gateway metadata carries no items", ErrNothingToSettle)
	}
	return out, nil
}

func decodeItem(entry string) (recoveredLine, error) {
	parts := strings.Split(entry, "|")
	if len(parts) != 4 {
		return recoveredLine{}, fmt.Errorf("%w: malformed item %q", ErrNothingToSettle, entry)
	}
	productID, err := url.QueryUnescape(parts[1])
	if err != nil || productID == "" {
		return recoveredLine{}, fmt.Errorf("%w: malformed product in %q", ErrNothingToSettle, entry)
	}
	qty, err := strconv.Atoi(parts[2])
	if err != nil || qty <= 0 {
		return recoveredLine{}, fmt.Errorf("%w: malformed quantity in %q", ErrNothingToSettle, entry)
	}
	line := recoveredLine{PreOrder: parts[0] == "p", ProductID: productID, Quantity: qty}
	if parts[3] != "" {
		for _, pair := range strings.Split(parts[3], ";") {
			attr, opt, ok := strings.Cut(pair, "=")
			if !ok {
				return recoveredLine{}, fmt.Errorf("%w: malformed selection in %q", ErrNothingToSettle, entry)
			}
			attrID, err1 := url.QueryUnescape(attr)
			optID, err2 := url.QueryUnescape(opt)
			if err1 != nil || err2 != nil {
				return recoveredLine{}, fmt.Errorf("%w: malformed selection in %q", ErrNothingToSettle, entry)
			}
			line.Selections = append(line.Selections, domain.VariantSelection{AttributeID: attrID, OptionID: optID})
		}
	}
	return line, nil
}
