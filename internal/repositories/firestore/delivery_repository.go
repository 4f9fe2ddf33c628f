package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
	pfirestore "github.com/cimonstech/ventechfront-sub000/internal/platform/firestore"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
)

const deliveryOptionsCollection = "delivery_options"

type deliveryOptionDocument struct {
	Name     string `firestore:"name"`
	Kind     string `firestore:"kind"`
	Price    int64  `firestore:"priceMinor"`
	MinDays  int    `firestore:"minDays"`
	MaxDays  int    `firestore:"maxDays"`
	Active   bool   `firestore:"active"`
	Position int    `firestore:"position"`
}

func (d deliveryOptionDocument) toDomain(id string) domain.DeliveryOption {
	return domain.DeliveryOption{
		ID:      id,
		Name:    d.Name,
		Kind:    domain.DeliveryKind(strings.ToLower(strings.TrimSpace(d.Kind))),
		Price:   moneyFromMinor(d.Price),
		MinDays: d.MinDays,
		MaxDays: d.MaxDays,
		Active:  d.Active,
	}
}

// DeliveryRepository reads delivery and pre-order shipping options.
type DeliveryRepository struct {
	options *pfirestore.Collection[deliveryOptionDocument]
}

// NewDeliveryRepository constructs a Firestore-backed delivery option reader.
func NewDeliveryRepository(provider *pfirestore.Provider) (*DeliveryRepository, error) {
	if provider == nil {
		return nil, errors.New("delivery repository requires firestore provider")
	}
	return &DeliveryRepository{
		options: pfirestore.NewCollection[deliveryOptionDocument](provider, deliveryOptionsCollection),
	}, nil
}

// GetOption loads a single option, active or not.
func (r *DeliveryRepository) GetOption(ctx context.Context, optionID string) (domain.DeliveryOption, error) {
	if r == nil || r.options == nil {
		return domain.DeliveryOption{}, errors.New("delivery repository not initialised")
	}
	doc, err := r.options.Get(ctx, strings.TrimSpace(optionID))
	if err != nil {
		return domain.DeliveryOption{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListOptions returns active options, optionally restricted to the given kinds.
func (r *DeliveryRepository) ListOptions(ctx context.Context, kinds ...domain.DeliveryKind) ([]domain.DeliveryOption, error) {
	if r == nil || r.options == nil {
		return nil, errors.New("delivery repository not initialised")
	}
	docs, err := r.options.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("active", "==", true)
		if len(kinds) > 0 {
			values := make([]string, 0, len(kinds))
			for _, kind := range kinds {
				values = append(values, string(kind))
			}
			q = q.Where("kind", "in", values)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Data.Position != docs[j].Data.Position {
			return docs[i].Data.Position < docs[j].Data.Position
		}
		return docs[i].Data.Price < docs[j].Data.Price
	})
	out := make([]domain.DeliveryOption, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	return out, nil
}

var _ repositories.DeliveryRepository = (*DeliveryRepository)(nil)
