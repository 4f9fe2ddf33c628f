package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/cimonstech/ventechfront-sub000/internal/platform/firestore"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
)

const orderSequencesCollection = "order_sequences"

type orderSequenceDocument struct {
	Day       string    `firestore:"day"`
	Last      int64     `firestore:"last"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// OrderSequenceRepository keeps one document per day holding the last issued order sequence.
type OrderSequenceRepository struct {
	provider  *pfirestore.Provider
	sequences *pfirestore.Collection[orderSequenceDocument]
	clock     func() time.Time
}

// NewOrderSequenceRepository constructs the Firestore order sequence allocator.
func NewOrderSequenceRepository(provider *pfirestore.Provider) (*OrderSequenceRepository, error) {
	if provider == nil {
		return nil, errors.New("order sequence repository requires firestore provider")
	}
	return &OrderSequenceRepository{
		provider:  provider,
		sequences: pfirestore.NewCollection[orderSequenceDocument](provider, orderSequencesCollection),
		clock:     time.Now,
	}, nil
}

// NextOrderSequence advances the day's sequence inside a transaction. Numbers burnt by orders that
// later fail to commit are not reused.
func (r *OrderSequenceRepository) NextOrderSequence(ctx context.Context, day string) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("order sequence repository not initialised")
	}
	day = strings.TrimSpace(day)
	if _, err := time.Parse("20060102", day); err != nil {
		return 0, &repositories.SequenceError{Day: day, Code: repositories.SequenceErrorInvalidDay, Err: err}
	}

	var next int64
	err := r.provider.RunTransactionWith(ctx, pfirestore.ContendedTxPolicy, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.sequences.DocumentRef(ctx, day)
		if err != nil {
			return err
		}
		doc := orderSequenceDocument{Day: day}
		snap, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.OK:
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode order sequence %s: %w", day, err)
			}
		case codes.NotFound:
		default:
			return err
		}

		if doc.Last >= repositories.MaxDailyOrderSequence {
			return &repositories.SequenceError{Day: day, Code: repositories.SequenceErrorExhausted}
		}
		doc.Last++
		doc.UpdatedAt = r.clock().UTC()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		next = doc.Last
		return nil
	})
	if err != nil {
		var seqErr *repositories.SequenceError
		if errors.As(err, &seqErr) {
			return 0, seqErr
		}
		return 0, pfirestore.WrapError("order_sequences.next", err)
	}
	return next, nil
}

var _ repositories.OrderSequenceRepository = (*OrderSequenceRepository)(nil)
