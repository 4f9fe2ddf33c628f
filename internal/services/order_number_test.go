package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
)

type stubOrderSequenceRepository struct {
	mu     sync.Mutex
	nextFn func(ctx context.Context, day string) (int64, error)
	days   []string
}

func (s *stubOrderSequenceRepository) NextOrderSequence(ctx context.Context, day string) (int64, error) {
	s.mu.Lock()
	s.days = append(s.days, day)
	s.mu.Unlock()
	if s.nextFn != nil {
		return s.nextFn(ctx, day)
	}
	return 1, nil
}

func (s *stubOrderSequenceRepository) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.days)
}

func TestOrderNumberUsesUTCDay(t *testing.T) {
	repo := &stubOrderSequenceRepository{nextFn: func(context.Context, string) (int64, error) {
		return 123, nil
	}}
	svc, err := NewOrderNumberService(OrderNumberServiceDeps{Sequences: repo, Clock: func() time.Time {
		return time.Date(2025, 1, 3, 0, 30, 0, 0, time.FixedZone("GMT+1", 3600))
	}})
	if err != nil {
		t.Fatalf("new order number service: %v", err)
	}

	number, err := svc.NextOrderNumber(context.Background())
	if err != nil {
		t.Fatalf("next order number: %v", err)
	}
	if number != "VT-20250102-000123" {
		t.Fatalf("unexpected order number %s", number)
	}
	if repo.days[0] != "20250102" {
		t.Fatalf("expected UTC day, got %s", repo.days[0])
	}
}

func TestOrderNumberExhaustedDay(t *testing.T) {
	repo := &stubOrderSequenceRepository{nextFn: func(_ context.Context, day string) (int64, error) {
		return 0, &repositories.SequenceError{Day: day, Code: repositories.SequenceErrorExhausted}
	}}
	svc, err := NewOrderNumberService(OrderNumberServiceDeps{Sequences: repo})
	if err != nil {
		t.Fatalf("new order number service: %v", err)
	}
	if _, err := svc.NextOrderNumber(context.Background()); !errors.Is(err, ErrOrderNumberExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}

	boom := errors.New("unavailable")
	repo.nextFn = func(context.Context, string) (int64, error) { return 0, boom }
	if _, err := svc.NextOrderNumber(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected repository error to pass through, got %v", err)
	}
}

func TestNewOrderNumberServiceRequiresRepository(t *testing.T) {
	if _, err := NewOrderNumberService(OrderNumberServiceDeps{}); err == nil {
		t.Fatal("expected error without sequence repository")
	}
}
