package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	pfirestore "github.com/cimonstech/ventechfront-sub000/internal/platform/firestore"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
)

const stagingCollection = "checkout_staging"

type stagingDocument struct {
	Reference        string          `firestore:"reference"`
	UserID           string          `firestore:"userId,omitempty"`
	Drafts           []draftDocument `firestore:"drafts"`
	GatewaySessionID string          `firestore:"gatewaySessionId,omitempty"`
	CreatedAt        time.Time       `firestore:"createdAt"`
	UpdatedAt        time.Time       `firestore:"updatedAt"`
	// ExpiresAt is consumed by a Firestore TTL policy.
	ExpiresAt time.Time `firestore:"expiresAt"`
}

// StagingRepository keeps staged checkouts in Firestore, one document per owner so that a new
// checkout replaces the previous one.
type StagingRepository struct {
	staged *pfirestore.Collection[stagingDocument]
	ttl    time.Duration
	now    func() time.Time
}

// NewStagingRepository constructs a Firestore-backed staging repository.
func NewStagingRepository(provider *pfirestore.Provider, ttl time.Duration) (*StagingRepository, error) {
	if provider == nil {
		return nil, errors.New("staging repository requires firestore provider")
	}
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &StagingRepository{
		staged: pfirestore.NewCollection[stagingDocument](provider, stagingCollection),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Stage writes the record under its owner key, replacing any previous staged checkout.
func (r *StagingRepository) Stage(ctx context.Context, record domain.StagedCheckout) error {
	if r == nil || r.staged == nil {
		return errors.New("staging repository not initialised")
	}
	owner := strings.TrimSpace(record.OwnerKey)
	reference := strings.TrimSpace(record.Reference)
	if owner == "" || reference == "" {
		return errors.New("staging repository: owner key and reference are required")
	}
	now := r.now().UTC()
	createdAt := record.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	drafts := make([]draftDocument, 0, len(record.Drafts))
	for _, draft := range record.Drafts {
		drafts = append(drafts, newDraftDocument(draft))
	}
	return r.staged.Set(ctx, owner, stagingDocument{
		Reference:        reference,
		UserID:           strings.TrimSpace(record.UserID),
		Drafts:           drafts,
		GatewaySessionID: strings.TrimSpace(record.GatewaySessionID),
		CreatedAt:        createdAt,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(r.ttl),
	})
}

// AttachSession stores the gateway session id on the staged record.
func (r *StagingRepository) AttachSession(ctx context.Context, reference string, sessionID string) error {
	doc, err := r.findDocument(ctx, reference)
	if err != nil {
		return err
	}
	return r.staged.Update(ctx, doc.ID, []firestore.Update{
		{Path: "gatewaySessionId", Value: strings.TrimSpace(sessionID)},
		{Path: "updatedAt", Value: r.now().UTC()},
	}, firestore.Exists)
}

// FindByReference loads the staged checkout for a payment reference.
func (r *StagingRepository) FindByReference(ctx context.Context, reference string) (domain.StagedCheckout, error) {
	doc, err := r.findDocument(ctx, reference)
	if err != nil {
		return domain.StagedCheckout{}, err
	}
	drafts := make([]domain.CheckoutDraft, 0, len(doc.Data.Drafts))
	for _, draft := range doc.Data.Drafts {
		drafts = append(drafts, draft.toDomain())
	}
	return domain.StagedCheckout{
		Reference:        doc.Data.Reference,
		OwnerKey:         doc.ID,
		UserID:           doc.Data.UserID,
		Drafts:           drafts,
		GatewaySessionID: doc.Data.GatewaySessionID,
		CreatedAt:        doc.Data.CreatedAt,
		UpdatedAt:        doc.Data.UpdatedAt,
	}, nil
}

// Clear removes the staged checkout for a reference. Clearing a missing record succeeds.
func (r *StagingRepository) Clear(ctx context.Context, reference string) error {
	doc, err := r.findDocument(ctx, reference)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil
		}
		return err
	}
	return r.staged.Delete(ctx, doc.ID)
}

func (r *StagingRepository) findDocument(ctx context.Context, reference string) (pfirestore.Document[stagingDocument], error) {
	if r == nil || r.staged == nil {
		return pfirestore.Document[stagingDocument]{}, errors.New("staging repository not initialised")
	}
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return pfirestore.Document[stagingDocument]{}, errors.New("staging repository: reference is required")
	}
	docs, err := r.staged.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("reference", "==", ref).Limit(1)
	})
	if err != nil {
		return pfirestore.Document[stagingDocument]{}, err
	}
	if len(docs) == 0 {
		return pfirestore.Document[stagingDocument]{}, pfirestore.NewNotFound("checkout_staging.find", fmt.Sprintf("staged checkout %s not found", ref))
	}
	return docs[0], nil
}

var _ repositories.StagingRepository = (*StagingRepository)(nil)
