package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cimonstech/ventechfront-sub000/internal/payments"
	"github.com/cimonstech/ventechfront-sub000/internal/platform/httpx"
	"github.com/cimonstech/ventechfront-sub000/internal/services"
)

const (
	maxWebhookBodySize    = 256 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// WebhookParser verifies gateway notifications.
type WebhookParser interface {
	ParseWebhook(provider string, payload []byte, signature string) (payments.WebhookEvent, error)
}

// PaymentWebhookHandlers settles payments confirmed by gateway webhooks. It is the fallback for
// customers who never return through the callback URL.
type PaymentWebhookHandlers struct {
	parser     WebhookParser
	settlement services.SettlementService
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentWebhookHandlers constructs webhook handlers.
func NewPaymentWebhookHandlers(parser WebhookParser, settlement services.SettlementService, logger func(ctx context.Context, event string, fields map[string]any)) *PaymentWebhookHandlers {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PaymentWebhookHandlers{parser: parser, settlement: settlement, logger: logger}
}

// Routes registers webhook endpoints.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/stripe", h.stripeWebhook)
}

type webhookAck struct {
	Received bool   `json:"received"`
	Settled  bool   `json:"settled"`
	Orders   int    `json:"orders,omitempty"`
	Event    string `json:"event,omitempty"`
}

func (h *PaymentWebhookHandlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.parser == nil || h.settlement == nil {
		writeUnavailable(ctx, w, "payments")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		writeBadRequest(ctx, w, "failed to read webhook body")
		return
	}
	if len(body) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	event, err := h.parser.ParseWebhook("stripe", body, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		if errors.Is(err, payments.ErrInvalidWebhook) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
			return
		}
		writeServiceError(ctx, w, err)
		return
	}

	if !event.Settle || event.Reference == "" {
		writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, Event: event.Type})
		return
	}

	result, err := h.settlement.SettlePayment(ctx, services.SettleCommand{
		Reference: event.Reference,
		SessionID: event.SessionID,
		Source:    "webhook",
	})
	if err != nil {
		h.logger(ctx, "webhook.settlement_failed", map[string]any{
			"eventId":   event.ID,
			"reference": event.Reference,
			"error":     err.Error(),
		})
		// A non-2xx response makes the gateway redeliver, which is what we want while the failure
		// may still be transient. Staged records are kept so the redelivery can complete.
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, webhookAck{
		Received: true,
		Settled:  true,
		Orders:   len(result.Orders),
		Event:    event.Type,
	})
}
