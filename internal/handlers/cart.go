package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cimonstech/ventechfront-sub000/internal/platform/auth"
	"github.com/cimonstech/ventechfront-sub000/internal/platform/httpx"
	"github.com/cimonstech/ventechfront-sub000/internal/services"
)

// CartHandlers exposes cart endpoints for signed-in users and guests.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs handlers that resolve the cart owner before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.Use(auth.RequireOwner)
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{lineID}", h.updateItem)
	r.Delete("/items/{lineID}", h.removeItem)
}

type cartResponse struct {
	Cart    cartPayload     `json:"cart"`
	Warning *warningPayload `json:"warning,omitempty"`
}

type cartPayload struct {
	Lines            []cartLinePayload `json:"lines"`
	ItemsCount       int               `json:"items_count"`
	RegularSubtotal  string            `json:"regular_subtotal"`
	PreOrderSubtotal string            `json:"pre_order_subtotal"`
	GrandSubtotal    string            `json:"grand_subtotal"`
	HasMixedCart     bool              `json:"has_mixed_cart"`
	UpdatedAt        string            `json:"updated_at,omitempty"`
}

type cartLinePayload struct {
	ID          string             `json:"id"`
	ProductID   string             `json:"product_id"`
	ProductName string             `json:"product_name"`
	Thumbnail   string             `json:"thumbnail,omitempty"`
	Quantity    int                `json:"quantity"`
	UnitPrice   string             `json:"unit_price"`
	Subtotal    string             `json:"subtotal"`
	IsPreOrder  bool               `json:"is_pre_order"`
	Selections  []selectionPayload `json:"selections,omitempty"`
}

type warningPayload struct {
	Code      string `json:"code"`
	LineID    string `json:"line_id"`
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Applied   int    `json:"applied"`
	Available int    `json:"available"`
}

type addCartItemRequest struct {
	ProductID  string             `json:"product_id"`
	Quantity   int                `json:"quantity"`
	Selections []selectionPayload `json:"selections"`
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart")
		return
	}
	view, err := h.carts.GetCart(ctx, requestOwner(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(view)})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart")
		return
	}

	var req addCartItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		writeBadRequest(ctx, w, "product_id is required")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	mutation, err := h.carts.AddLine(ctx, services.AddCartLineCommand{
		Owner:      requestOwner(ctx),
		ProductID:  strings.TrimSpace(req.ProductID),
		Quantity:   req.Quantity,
		Selections: toSelections(req.Selections),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildMutationResponse(mutation))
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart")
		return
	}

	var req updateCartItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	if req.Quantity == nil {
		writeBadRequest(ctx, w, "quantity is required")
		return
	}

	mutation, err := h.carts.UpdateQuantity(ctx, services.UpdateCartLineCommand{
		Owner:    requestOwner(ctx),
		LineID:   strings.TrimSpace(chi.URLParam(r, "lineID")),
		Quantity: *req.Quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildMutationResponse(mutation))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart")
		return
	}
	view, err := h.carts.RemoveLine(ctx, services.RemoveCartLineCommand{
		Owner:  requestOwner(ctx),
		LineID: strings.TrimSpace(chi.URLParam(r, "lineID")),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(view)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeUnavailable(ctx, w, "cart")
		return
	}
	if err := h.carts.Clear(ctx, requestOwner(ctx)); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func buildMutationResponse(mutation services.CartMutation) cartResponse {
	resp := cartResponse{Cart: buildCartPayload(mutation.CartView)}
	if warn := mutation.Warning; warn != nil {
		resp.Warning = &warningPayload{
			Code:      "quantity_clamped",
			LineID:    warn.LineID,
			ProductID: warn.ProductID,
			Requested: warn.Requested,
			Applied:   warn.Applied,
			Available: warn.Available,
		}
	}
	return resp
}

func buildCartPayload(view services.CartView) cartPayload {
	payload := cartPayload{
		Lines:            make([]cartLinePayload, 0, len(view.Cart.Lines)),
		RegularSubtotal:  formatMoney(view.Totals.RegularSubtotal),
		PreOrderSubtotal: formatMoney(view.Totals.PreOrderSubtotal),
		GrandSubtotal:    formatMoney(view.Totals.GrandSubtotal),
		HasMixedCart:     view.Totals.HasMixedCart,
		UpdatedAt:        formatTime(view.Cart.UpdatedAt),
	}
	for _, line := range view.Cart.Lines {
		payload.ItemsCount += line.Quantity
		payload.Lines = append(payload.Lines, cartLinePayload{
			ID:          line.ID,
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Thumbnail:   line.Thumbnail,
			Quantity:    line.Quantity,
			UnitPrice:   formatMoney(line.UnitPrice),
			Subtotal:    formatMoney(line.Subtotal()),
			IsPreOrder:  line.IsPreOrder,
			Selections:  buildSelections(line.Selections),
		})
	}
	return payload
}

// requestOwner converts the owner resolved by the auth middleware into the service owner.
func requestOwner(ctx context.Context) services.Owner {
	owner, _ := auth.OwnerFromContext(ctx)
	return services.Owner{UserID: owner.UserID, GuestToken: owner.GuestToken}
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
