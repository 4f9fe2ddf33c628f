package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
)

// ErrOrderNumberExhausted indicates the day's six digit order sequence ran out.
var ErrOrderNumberExhausted = errors.New("order number: daily sequence exhausted")

const orderNumberPrefix = "VT"

// OrderNumberServiceDeps bundles the collaborators of the order number allocator.
type OrderNumberServiceDeps struct {
	Sequences repositories.OrderSequenceRepository
	Clock     func() time.Time
}

type orderNumberService struct {
	sequences repositories.OrderSequenceRepository
	clock     func() time.Time
}

// NewOrderNumberService builds the allocator for customer facing order numbers.
func NewOrderNumberService(deps OrderNumberServiceDeps) (OrderNumberService, error) {
	if deps.Sequences == nil {
		return nil, errors.New("order number service: sequence repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &orderNumberService{
		sequences: deps.Sequences,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// NextOrderNumber returns numbers like VT-20250102-000007. The sequence restarts every UTC day.
func (s *orderNumberService) NextOrderNumber(ctx context.Context) (string, error) {
	day := s.clock().Format("20060102")
	seq, err := s.sequences.NextOrderSequence(ctx, day)
	if err != nil {
		var seqErr *repositories.SequenceError
		if errors.As(err, &seqErr) && seqErr.Code == repositories.SequenceErrorExhausted {
			return "", fmt.Errorf("%w: %s", ErrOrderNumberExhausted, day)
		}
		return "", err
	}
	return formatOrderNumber(day, seq), nil
}

func formatOrderNumber(day string, seq int64) string {
	return fmt.Sprintf("%s-%s-%06d", orderNumberPrefix, day, seq)
}
