package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cimonstech/ventechfront-sub000/internal/platform/auth"
	"github.com/cimonstech/ventechfront-sub000/internal/platform/httpx"
	"github.com/cimonstech/ventechfront-sub000/internal/services"
)

// SettlementAdminHandlers lets staff re-run settlement for references flagged for reconciliation.
type SettlementAdminHandlers struct {
	authn      *auth.Authenticator
	settlement services.SettlementService
	staffRole  string
}

// NewSettlementAdminHandlers constructs staff settlement handlers.
func NewSettlementAdminHandlers(authn *auth.Authenticator, settlement services.SettlementService, staffRole string) *SettlementAdminHandlers {
	role := strings.TrimSpace(staffRole)
	if role == "" {
		role = auth.RoleStaff
	}
	return &SettlementAdminHandlers{authn: authn, settlement: settlement, staffRole: role}
}

// Routes registers internal settlement endpoints.
func (h *SettlementAdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	group := r
	if h.authn != nil {
		group = group.With(h.authn.RequireFirebaseAuth(h.staffRole, auth.RoleAdmin))
	}
	group.Post("/settlements/{reference}:retry", h.retry)
}

type retrySettlementRequest struct {
	SessionID string `json:"session_id"`
}

func (h *SettlementAdminHandlers) retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settlement == nil {
		writeUnavailable(ctx, w, "settlement")
		return
	}

	reference := strings.TrimSpace(chi.URLParam(r, "reference"))
	if reference == "" {
		writeBadRequest(ctx, w, "reference is required")
		return
	}

	var req retrySettlementRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			writeDecodeError(ctx, w, err)
			return
		}
	}

	result, err := h.settlement.SettlePayment(ctx, services.SettleCommand{
		Reference: reference,
		SessionID: strings.TrimSpace(req.SessionID),
		Source:    "retry",
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
