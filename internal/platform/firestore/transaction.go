package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TxFunc runs inside a Firestore transaction and is replayed when the transaction aborts.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxPolicy bounds how long and how often a transaction is attempted.
type TxPolicy struct {
	Attempts int
	Timeout  time.Duration
}

var (
	// DefaultTxPolicy covers single document read-modify-write updates.
	DefaultTxPolicy = TxPolicy{Attempts: 5, Timeout: 15 * time.Second}
	// ContendedTxPolicy is for transactions touching shared stock or coupon documents that
	// concurrent checkouts race on.
	ContendedTxPolicy = TxPolicy{Attempts: 10, Timeout: 30 * time.Second}
)

func (p TxPolicy) normalised() TxPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultTxPolicy.Attempts
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTxPolicy.Timeout
	}
	return p
}

// RunTransaction runs fn with DefaultTxPolicy.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc) error {
	return p.RunTransactionWith(ctx, DefaultTxPolicy, fn)
}

// RunTransactionWith runs fn under the given policy. Errors returned by fn are surfaced as-is so
// callers can match their own sentinel and typed errors; backend failures are wrapped.
func (p *Provider) RunTransactionWith(ctx context.Context, policy TxPolicy, fn TxFunc) error {
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: nil transaction func"))
	}
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}

	policy = policy.normalised()
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > policy.Timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}

	err = client.RunTransaction(ctx, fn, firestore.MaxAttempts(policy.Attempts))
	if err == nil || status.Code(err) == codes.Unknown {
		return err
	}
	return WrapError("transaction", err)
}
