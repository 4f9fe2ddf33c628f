package firestore

import (
	"context"
	"errors"
	"time"

	pfirestore "github.com/cimonstech/ventechfront-sub000/internal/platform/firestore"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
)

// RegistryOption customises the Firestore registry.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	staging    repositories.StagingRepository
	stagingTTL time.Duration
	closers    []func(context.Context) error
}

// WithStaging overrides the staging backend (Redis or in-memory).
func WithStaging(staging repositories.StagingRepository) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.staging = staging
	}
}

// WithStagingTTL sets the expiry written on Firestore staging documents.
func WithStagingTTL(ttl time.Duration) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.stagingTTL = ttl
	}
}

// WithCloser registers an extra resource released by Close, such as a Redis client.
func WithCloser(closer func(context.Context) error) RegistryOption {
	return func(cfg *registryConfig) {
		if closer != nil {
			cfg.closers = append(cfg.closers, closer)
		}
	}
}

// Registry wires the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider *pfirestore.Provider
	catalog  *CatalogRepository
	carts    *CartRepository
	coupons  *CouponRepository
	delivery *DeliveryRepository
	orders   *OrderRepository
	sequence *OrderSequenceRepository
	staging  repositories.StagingRepository
	closers  []func(context.Context) error
}

// NewRegistry constructs every Firestore repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	var cfg registryConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	coupons, err := NewCouponRepository(provider)
	if err != nil {
		return nil, err
	}
	delivery, err := NewDeliveryRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	sequence, err := NewOrderSequenceRepository(provider)
	if err != nil {
		return nil, err
	}
	staging := cfg.staging
	if staging == nil {
		staging, err = NewStagingRepository(provider, cfg.stagingTTL)
		if err != nil {
			return nil, err
		}
	}

	return &Registry{
		provider: provider,
		catalog:  catalog,
		carts:    carts,
		coupons:  coupons,
		delivery: delivery,
		orders:   orders,
		sequence: sequence,
		staging:  staging,
		closers:  cfg.closers,
	}, nil
}

// Close releases the extra closers and then the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, closer := range r.closers {
		if err := closer(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.provider.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (r *Registry) Catalog() repositories.CatalogRepository              { return r.catalog }
func (r *Registry) Carts() repositories.CartRepository                   { return r.carts }
func (r *Registry) Coupons() repositories.CouponRepository               { return r.coupons }
func (r *Registry) Deliveries() repositories.DeliveryRepository          { return r.delivery }
func (r *Registry) Orders() repositories.OrderRepository                 { return r.orders }
func (r *Registry) Staging() repositories.StagingRepository              { return r.staging }
func (r *Registry) OrderSequences() repositories.OrderSequenceRepository { return r.sequence }

var _ repositories.Registry = (*Registry)(nil)
