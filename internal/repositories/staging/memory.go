// Package staging holds the non-Firestore backends for checkouts staged across the payment redirect.
package staging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
)

const defaultTTL = 48 * time.Hour

// MemoryRepository keeps staged checkouts in process. Used for local development and tests.
type MemoryRepository struct {
	mu          sync.Mutex
	byReference map[string]domain.StagedCheckout
	byOwner     map[string]string
	now         func() time.Time
}

// NewMemoryRepository constructs an empty in-memory staging repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byReference: make(map[string]domain.StagedCheckout),
		byOwner:     make(map[string]string),
		now:         time.Now,
	}
}

// Stage implements repositories.StagingRepository.
func (r *MemoryRepository) Stage(_ context.Context, record domain.StagedCheckout) error {
	record, err := normalizeRecord(record, r.now())
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if previous, ok := r.byOwner[record.OwnerKey]; ok {
		delete(r.byReference, previous)
	}
	r.byReference[record.Reference] = record
	r.byOwner[record.OwnerKey] = record.Reference
	return nil
}

// AttachSession implements repositories.StagingRepository.
func (r *MemoryRepository) AttachSession(_ context.Context, reference string, sessionID string) error {
	ref := strings.TrimSpace(reference)
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byReference[ref]
	if !ok {
		return repositories.NewNotFoundError("staging.attach_session", fmt.Sprintf("staged checkout %s not found", ref))
	}
	record.GatewaySessionID = strings.TrimSpace(sessionID)
	record.UpdatedAt = r.now().UTC()
	r.byReference[ref] = record
	return nil
}

// FindByReference implements repositories.StagingRepository.
func (r *MemoryRepository) FindByReference(_ context.Context, reference string) (domain.StagedCheckout, error) {
	ref := strings.TrimSpace(reference)
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byReference[ref]
	if !ok {
		return domain.StagedCheckout{}, repositories.NewNotFoundError("staging.find", fmt.Sprintf("staged checkout %s not found", ref))
	}
	return cloneRecord(record), nil
}

// Clear implements repositories.StagingRepository.
func (r *MemoryRepository) Clear(_ context.Context, reference string) error {
	ref := strings.TrimSpace(reference)
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byReference[ref]
	if !ok {
		return nil
	}
	delete(r.byReference, ref)
	if r.byOwner[record.OwnerKey] == ref {
		delete(r.byOwner, record.OwnerKey)
	}
	return nil
}

func normalizeRecord(record domain.StagedCheckout, now time.Time) (domain.StagedCheckout, error) {
	record.OwnerKey = strings.TrimSpace(record.OwnerKey)
	record.Reference = strings.TrimSpace(record.Reference)
	if record.OwnerKey == "" || record.Reference == "" {
		return domain.StagedCheckout{}, errors.New("staging: owner key and reference are required")
	}
	now = now.UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	return cloneRecord(record), nil
}

func cloneRecord(record domain.StagedCheckout) domain.StagedCheckout {
	dup := record
	if record.Drafts != nil {
		dup.Drafts = make([]domain.CheckoutDraft, len(record.Drafts))
		copy(dup.Drafts, record.Drafts)
	}
	return dup
}

var _ repositories.StagingRepository = (*MemoryRepository)(nil)
