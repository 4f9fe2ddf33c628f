package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	"github.com/cimonstech/ventechfront-sub000/internal/platform/auth"
	"github.com/cimonstech/ventechfront-sub000/internal/platform/httpx"
	"github.com/cimonstech/ventechfront-sub000/internal/services"
)

// CouponHandlers lets shoppers check a code against their current cart before checkout.
type CouponHandlers struct {
	authn   *auth.Authenticator
	carts   services.CartService
	coupons services.CouponService
}

// NewCouponHandlers constructs coupon handlers.
func NewCouponHandlers(authn *auth.Authenticator, carts services.CartService, coupons services.CouponService) *CouponHandlers {
	return &CouponHandlers{authn: authn, carts: carts, coupons: coupons}
}

// Routes registers coupon endpoints.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalFirebaseAuth())
	}
	r.Use(auth.RequireOwner)
	r.Post("/validate", h.validate)
}

type validateCouponRequest struct {
	Code  string `json:"code"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type validateCouponResponse struct {
	Code           string `json:"code"`
	DiscountType   string `json:"discount_type"`
	DiscountAmount string `json:"discount_amount"`
	Subtotal       string `json:"subtotal"`
}

// validate prices the code against the subtotal of the draft that would own it: the regular
// partition when present, otherwise the pre-order partition. Delivery is unknown at this point so
// free shipping coupons report a zero discount until checkout.
func (h *CouponHandlers) validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil || h.coupons == nil {
		writeUnavailable(ctx, w, "coupon")
		return
	}

	var req validateCouponRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeBadRequest(ctx, w, "code is required")
		return
	}

	owner := requestOwner(ctx)
	view, err := h.carts.GetCart(ctx, owner)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	subtotal := view.Totals.RegularSubtotal
	if len(view.Totals.RegularLines) == 0 {
		subtotal = view.Totals.PreOrderSubtotal
	}

	result, err := h.coupons.Validate(ctx, services.ValidateCouponCommand{
		Code:        req.Code,
		Subtotal:    subtotal,
		DeliveryFee: decimal.Zero,
		RedeemerKey: services.RedeemerKey(domain.CustomerIdentity{UserID: owner.UserID, Email: req.Email, Phone: req.Phone}),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, validateCouponResponse{
		Code:           result.Code,
		DiscountType:   string(result.DiscountType),
		DiscountAmount: formatMoney(result.DiscountAmount),
		Subtotal:       formatMoney(subtotal),
	})
}
