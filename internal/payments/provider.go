package payments

import (
	"context"
	"errors"
	"time"
)

// Status is a payment state as reported by the PSP, normalised across providers. Expired and
// cancelled sessions report StatusFailed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

var (
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrReferenceMismatch means the PSP session was opened for a different payment reference.
	ErrReferenceMismatch = errors.New("payments: session does not match payment reference")
	ErrInvalidWebhook    = errors.New("payments: invalid webhook")
)

// InitializeRequest opens a hosted payment session. AmountMinor is already in the currency's minor
// units; providers never convert it.
type InitializeRequest struct {
	Reference      string
	AmountMinor    int64
	Currency       string
	CustomerEmail  string
	Description    string
	CallbackURL    string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
}

// InitializeResult is the hosted session the customer is redirected to.
type InitializeResult struct {
	Provider    string
	SessionID   string
	CheckoutURL string
	ExpiresAt   time.Time
}

// VerifyRequest identifies the payment to verify.
type VerifyRequest struct {
	Reference string
	SessionID string
}

// Verification is the PSP's view of a payment. Metadata is echoed back untouched and must not be
// trusted for amounts.
type Verification struct {
	Provider    string
	Reference   string
	SessionID   string
	Status      Status
	AmountMinor int64
	Currency    string
	Metadata    map[string]string
	PaidAt      *time.Time
}

// Succeeded reports whether the PSP captured the payment.
func (v Verification) Succeeded() bool {
	return v.Status == StatusSucceeded
}

// WebhookEvent is a verified PSP notification. Settle is set for events that confirm a payment.
type WebhookEvent struct {
	ID        string
	Type      string
	Reference string
	SessionID string
	Settle    bool
}

// Provider is a PSP adapter. Implementations must be safe for concurrent use.
type Provider interface {
	InitializePayment(ctx context.Context, req InitializeRequest) (InitializeResult, error)
	VerifyPayment(ctx context.Context, req VerifyRequest) (Verification, error)
	ParseWebhook(payload []byte, signature string) (WebhookEvent, error)
}
