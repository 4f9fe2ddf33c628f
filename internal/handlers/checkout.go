package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	"github.com/cimonstech/ventechfront-sub000/internal/platform/auth"
	"github.com/cimonstech/ventechfront-sub000/internal/platform/httpx"
	"github.com/cimonstech/ventechfront-sub000/internal/services"
)

const idempotencyKeyHeader = "Idempotency-Key"

// CheckoutHandlers exposes draft previews, cash on delivery submission, card payment initiation and
// the gateway return callback.
type CheckoutHandlers struct {
	authn       *auth.Authenticator
	checkout    services.CheckoutService
	settlement  services.SettlementService
	idempotency func(http.Handler) http.Handler
	keyHeader   string
}

// CheckoutOption customises checkout handlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCashIdempotency guards cash submissions with the given idempotency middleware. header names
// the request header whose value scopes order creation.
func WithCashIdempotency(mw func(http.Handler) http.Handler, header string) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.idempotency = mw
		if header = strings.TrimSpace(header); header != "" {
			h.keyHeader = header
		}
	}
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, settlement services.SettlementService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:      authn,
		checkout:   checkout,
		settlement: settlement,
		keyHeader:  idempotencyKeyHeader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	// The gateway redirects the browser here without our credentials; the reference is enough
	// because settlement re-verifies the payment with the gateway.
	r.Get("/callback", h.callback)

	r.Group(func(owned chi.Router) {
		if h.authn != nil {
			owned.Use(h.authn.OptionalFirebaseAuth())
		}
		owned.Use(auth.RequireOwner)
		owned.Post("/drafts", h.previewDrafts)
		owned.Post("/card", h.submitCard)
		if h.idempotency != nil {
			owned.With(h.idempotency).Post("/cod", h.submitCash)
		} else {
			owned.Post("/cod", h.submitCash)
		}
	})
}

type checkoutRequest struct {
	Customer         customerPayload `json:"customer"`
	Address          addressPayload  `json:"address"`
	Notes            string          `json:"notes"`
	DeliveryOptionID string          `json:"delivery_option_id"`
	ShippingOptionID string          `json:"shipping_option_id"`
	CouponCode       string          `json:"coupon_code"`
	PaymentMethod    string          `json:"payment_method"`
}

type customerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type previewResponse struct {
	Drafts       []draftPayload `json:"drafts"`
	HasMixedCart bool           `json:"has_mixed_cart"`
	Currency     string         `json:"currency"`
	GrandTotal   string         `json:"grand_total"`
	CouponError  *couponPayload `json:"coupon_error,omitempty"`
}

type couponPayload struct {
	Code    string `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type cardResponse struct {
	Reference   string `json:"reference"`
	Provider    string `json:"provider"`
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
	Currency    string `json:"currency"`
	Total       string `json:"total"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

func (h *CheckoutHandlers) previewDrafts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeUnavailable(ctx, w, "checkout")
		return
	}
	cmd, ok := h.decodeCommand(w, r)
	if !ok {
		return
	}

	preview, err := h.checkout.PrepareCheckout(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := previewResponse{
		Drafts:       make([]draftPayload, 0, len(preview.Drafts)),
		HasMixedCart: preview.HasMixedCart,
		Currency:     preview.Currency,
		GrandTotal:   formatMoney(preview.GrandTotal),
	}
	for _, draft := range preview.Drafts {
		resp.Drafts = append(resp.Drafts, buildDraftPayload(draft))
	}
	if preview.CouponError != nil {
		resp.CouponError = &couponPayload{
			Code:    preview.CouponError.Code,
			Reason:  string(preview.CouponError.Reason),
			Message: couponMessage(preview.CouponError.Reason),
		}
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *CheckoutHandlers) submitCash(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeUnavailable(ctx, w, "checkout")
		return
	}
	cmd, ok := h.decodeCommand(w, r)
	if !ok {
		return
	}
	cmd.PaymentMethod = domain.PaymentCashOnDelivery
	cmd.IdempotencyKey = strings.TrimSpace(r.Header.Get(h.keyHeader))

	result, err := h.checkout.SubmitCashOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if result.PartialFailure {
		status = http.StatusMultiStatus
	}
	writeJSONResponse(w, status, buildSubmissionPayload(result))
}

func (h *CheckoutHandlers) submitCard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeUnavailable(ctx, w, "checkout")
		return
	}
	cmd, ok := h.decodeCommand(w, r)
	if !ok {
		return
	}
	cmd.PaymentMethod = domain.PaymentCard

	redirect, err := h.checkout.SubmitCardPayment(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := cardResponse{
		Reference:   redirect.Reference,
		Provider:    redirect.Provider,
		SessionID:   redirect.SessionID,
		CheckoutURL: redirect.CheckoutURL,
		Currency:    redirect.Currency,
		Total:       formatMoney(redirect.Total),
	}
	if !redirect.ExpiresAt.IsZero() {
		resp.ExpiresAt = redirect.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *CheckoutHandlers) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settlement == nil {
		writeUnavailable(ctx, w, "settlement")
		return
	}
	query := r.URL.Query()
	reference := strings.TrimSpace(query.Get("reference"))
	if reference == "" {
		writeBadRequest(ctx, w, "reference is required")
		return
	}

	result, err := h.settlement.SettlePayment(ctx, services.SettleCommand{
		Reference: reference,
		SessionID: strings.TrimSpace(query.Get("session_id")),
		Source:    "callback",
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if result.PartialFailure {
		status = http.StatusMultiStatus
	}
	writeJSONResponse(w, status, buildSubmissionPayload(result))
}

func (h *CheckoutHandlers) decodeCommand(w http.ResponseWriter, r *http.Request) (services.PrepareCheckoutCommand, bool) {
	ctx := r.Context()
	var req checkoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return services.PrepareCheckoutCommand{}, false
	}

	owner := requestOwner(ctx)
	customer := domain.CustomerIdentity{
		UserID: owner.UserID,
		Name:   req.Customer.Name,
		Email:  req.Customer.Email,
		Phone:  req.Customer.Phone,
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		if strings.TrimSpace(customer.Email) == "" {
			customer.Email = identity.Email
		}
		if strings.TrimSpace(customer.Name) == "" {
			customer.Name = identity.Name
		}
		if strings.TrimSpace(customer.Phone) == "" {
			customer.Phone = identity.Phone
		}
	}

	return services.PrepareCheckoutCommand{
		Owner:            owner,
		Customer:         customer,
		Address:          req.Address.toAddress(),
		Notes:            req.Notes,
		DeliveryOptionID: strings.TrimSpace(req.DeliveryOptionID),
		ShippingOptionID: strings.TrimSpace(req.ShippingOptionID),
		CouponCode:       req.CouponCode,
		PaymentMethod:    domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
	}, true
}
