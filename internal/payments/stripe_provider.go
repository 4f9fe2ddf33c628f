package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

const (
	stripeProviderName = "stripe"

	stripeEventSessionCompleted    = "checkout.session.completed"
	stripeEventAsyncPaymentSuccess = "checkout.session.async_payment_succeeded"

	stripeSessionPlaceholder = "{CHECKOUT_SESSION_ID}"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Sessions      stripeSessionAPI
}

// StripeProvider implements Provider with Stripe Checkout sessions. The payment reference travels as
// the session's client_reference_id.
type StripeProvider struct {
	sessions      stripeSessionAPI
	webhookSecret string
	account       string
	clock         func() time.Time
	logger        StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}

	sessions := cfg.Sessions
	if sessions == nil {
		sc := client.New(apiKey, cfg.Backends)
		sessions = sc.CheckoutSessions
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		sessions:      sessions,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		account:       strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// InitializePayment creates a Stripe Checkout session charging AmountMinor as a single line.
func (p *StripeProvider) InitializePayment(ctx context.Context, req InitializeRequest) (InitializeResult, error) {
	if p == nil {
		return InitializeResult{}, errors.New("stripe: provider is nil")
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return InitializeResult{}, errors.New("stripe: payment reference is required")
	}
	if req.AmountMinor <= 0 {
		return InitializeResult{}, fmt.Errorf("stripe: amount must be positive, got %d", req.AmountMinor)
	}
	successURL, err := callbackURL(req.CallbackURL, reference)
	if err != nil {
		return InitializeResult{}, err
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Order " + reference
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(successURL),
		ClientReferenceID: stripe.String(reference),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.AmountMinor),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(description),
				},
			},
		}},
	}
	params.Context = ctx
	if cancel := strings.TrimSpace(req.CancelURL); cancel != "" {
		params.CancelURL = stripe.String(cancel)
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = reference
	}
	params.SetIdempotencyKey(key)
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
		Metadata: map[string]string{"reference": reference},
	}

	session, err := p.sessions.New(params)
	if err != nil {
		return InitializeResult{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId":   session.ID,
		"reference":   reference,
		"amountMinor": req.AmountMinor,
	})

	expiresAt := p.clock().Add(24 * time.Hour)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	return InitializeResult{
		Provider:    stripeProviderName,
		SessionID:   session.ID,
		CheckoutURL: session.URL,
		ExpiresAt:   expiresAt,
	}, nil
}

// VerifyPayment loads the Checkout session and checks it belongs to the reference.
func (p *StripeProvider) VerifyPayment(ctx context.Context, req VerifyRequest) (Verification, error) {
	if p == nil {
		return Verification{}, errors.New("stripe: provider is nil")
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return Verification{}, errors.New("stripe: checkout session id is required")
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	session, err := p.sessions.Get(sessionID, params)
	if err != nil {
		return Verification{}, fmt.Errorf("stripe: lookup checkout session: %w", err)
	}
	reference := strings.TrimSpace(req.Reference)
	if reference != "" && session.ClientReferenceID != reference {
		return Verification{}, fmt.Errorf("%w: session %s", ErrReferenceMismatch, session.ID)
	}

	verification := stripeVerification(session)
	if verification.Succeeded() {
		paidAt := p.clock()
		verification.PaidAt = &paidAt
	}
	p.logger(ctx, "payments.stripe.session.verified", map[string]any{
		"sessionId": session.ID,
		"reference": verification.Reference,
		"status":    string(verification.Status),
	})
	return verification, nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts the session of checkout events.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	if p == nil || p.webhookSecret == "" {
		return WebhookEvent{}, fmt.Errorf("%w: webhook secret not configured", ErrInvalidWebhook)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	result := WebhookEvent{ID: event.ID, Type: string(event.Type)}
	switch result.Type {
	case stripeEventSessionCompleted, stripeEventAsyncPaymentSuccess:
	default:
		return result, nil
	}
	if event.Data == nil {
		return WebhookEvent{}, fmt.Errorf("%w: event %s has no data", ErrInvalidWebhook, event.ID)
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: decode checkout session: %v", ErrInvalidWebhook, err)
	}
	result.Reference = session.ClientReferenceID
	result.SessionID = session.ID
	// async methods complete the session before the money arrives
	result.Settle = session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid
	return result, nil
}

func stripeVerification(session *stripe.CheckoutSession) Verification {
	status := StatusPending
	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		status = StatusSucceeded
	case session.Status == stripe.CheckoutSessionStatusExpired:
		status = StatusFailed
	}
	metadata := make(map[string]string, len(session.Metadata))
	for k, v := range session.Metadata {
		metadata[k] = v
	}
	return Verification{
		Provider:    stripeProviderName,
		Reference:   session.ClientReferenceID,
		SessionID:   session.ID,
		Status:      status,
		AmountMinor: session.AmountTotal,
		Currency:    strings.ToUpper(string(session.Currency)),
		Metadata:    metadata,
	}
}

// callbackURL appends the reference and Stripe's session placeholder to the success URL. The
// placeholder must stay unescaped for Stripe to substitute it.
func callbackURL(base string, reference string) (string, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		return "", errors.New("stripe: callback url is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("stripe: invalid callback url: %w", err)
	}
	query := parsed.Query()
	query.Set("reference", reference)
	parsed.RawQuery = query.Encode()
	return parsed.String() + "&session_id=" + stripeSessionPlaceholder, nil
}
