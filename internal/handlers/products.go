package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	"github.com/cimonstech/ventechfront-sub000/internal/services"
)

// ProductHandlers exposes public product pricing used by the product page.
type ProductHandlers struct {
	pricing services.PricingResolver
}

// NewProductHandlers constructs product handlers.
func NewProductHandlers(pricing services.PricingResolver) *ProductHandlers {
	return &ProductHandlers{pricing: pricing}
}

// Routes registers product endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{productID}/price", h.getPrice)
}

type priceResponse struct {
	ProductID  string `json:"product_id"`
	UnitPrice  string `json:"unit_price"`
	MinPrice   string `json:"min_price"`
	MaxPrice   string `json:"max_price"`
	HasRange   bool   `json:"has_range"`
	IsPreOrder bool   `json:"is_pre_order"`
	InStock    bool   `json:"in_stock"`
}

// getPrice prices the product for the selections given as repeated option=attributeId:optionId
// query parameters.
func (h *ProductHandlers) getPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricing == nil {
		writeUnavailable(ctx, w, "pricing")
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	selections, ok := parseOptionQuery(r.URL.Query()["option"])
	if !ok {
		writeBadRequest(ctx, w, "option must be formatted as attributeId:optionId")
		return
	}

	quote, err := h.pricing.ResolvePrice(ctx, services.ResolvePriceCommand{ProductID: productID, Selections: selections})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, priceResponse{
		ProductID:  quote.Product.ID,
		UnitPrice:  formatMoney(quote.UnitPrice),
		MinPrice:   formatMoney(quote.Range.Min),
		MaxPrice:   formatMoney(quote.Range.Max),
		HasRange:   quote.Range.HasRange,
		IsPreOrder: quote.Product.IsPreOrder,
		InStock:    quote.Product.IsPreOrder || quote.Product.StockQuantity > 0,
	})
}

func parseOptionQuery(values []string) ([]domain.VariantSelection, bool) {
	if len(values) == 0 {
		return nil, true
	}
	out := make([]domain.VariantSelection, 0, len(values))
	for _, raw := range values {
		attr, opt, found := strings.Cut(raw, ":")
		attr, opt = strings.TrimSpace(attr), strings.TrimSpace(opt)
		if !found || attr == "" || opt == "" {
			return nil, false
		}
		out = append(out, domain.VariantSelection{AttributeID: attr, OptionID: opt})
	}
	return out, true
}
