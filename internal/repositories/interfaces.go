package repositories

import (
	"context"
	"time"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Catalog() CatalogRepository
	Carts() CartRepository
	Coupons() CouponRepository
	Deliveries() DeliveryRepository
	Orders() OrderRepository
	Staging() StagingRepository
	OrderSequences() OrderSequenceRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CatalogRepository reads products and their product-scoped attribute mappings.
type CatalogRepository interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	// GetProducts returns the products that exist; missing ids are absent from the map.
	GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	ListProductAttributes(ctx context.Context, productID string) ([]domain.ProductAttribute, error)
}

// CartRepository persists carts keyed by owner (user or guest token).
type CartRepository interface {
	GetCart(ctx context.Context, ownerKey string) (domain.Cart, error)
	SaveCart(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	DeleteCart(ctx context.Context, ownerKey string) error
}

// CouponRepository resolves coupons and redemption history. Usage is recorded by OrderRepository.Create.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	CountRedemptions(ctx context.Context, couponID string, redeemerKey string) (int, error)
}

// DeliveryRepository reads delivery and pre-order shipping options.
type DeliveryRepository interface {
	GetOption(ctx context.Context, optionID string) (domain.DeliveryOption, error)
	ListOptions(ctx context.Context, kinds ...domain.DeliveryKind) ([]domain.DeliveryOption, error)
}

// StockDecrement requests an atomic conditional decrement of a product's stock.
type StockDecrement struct {
	ProductID string
	Quantity  int
}

// CouponRedemption marks a coupon as consumed by the order being created.
type CouponRedemption struct {
	CouponID    string
	RedeemerKey string
}

// OrderCreate bundles everything persisted atomically when an order is materialized.
type OrderCreate struct {
	Order domain.Order
	// IdempotencyKey short-circuits duplicate creates; empty disables the check.
	IdempotencyKey  string
	StockDecrements []StockDecrement
	Redemption      *CouponRedemption
	GuestKeys       []string
}

// OrderCreateResult reports the stored order and whether this call created it.
type OrderCreateResult struct {
	Order   domain.Order
	Created bool
}

// OrderRepository persists orders. Create is transactional and idempotent on IdempotencyKey.
type OrderRepository interface {
	Create(ctx context.Context, req OrderCreate) (OrderCreateResult, error)
	// FindByIdempotencyKey returns the order a previous Create stored under key, or a not-found error.
	FindByIdempotencyKey(ctx context.Context, key string) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	ListByPaymentReference(ctx context.Context, reference string) ([]domain.Order, error)
	FindGuestOrder(ctx context.Context, orderNumber string, guestKey string) (domain.Order, error)
	LinkPayment(ctx context.Context, orderID string, reference string, paidAt time.Time) (domain.Order, error)
}

// StagingRepository keeps checkout drafts across the payment redirect. A new Stage call for the same
// owner replaces the previous record.
type StagingRepository interface {
	Stage(ctx context.Context, record domain.StagedCheckout) error
	AttachSession(ctx context.Context, reference string, sessionID string) error
	FindByReference(ctx context.Context, reference string) (domain.StagedCheckout, error)
	Clear(ctx context.Context, reference string) error
}

// OrderSequenceRepository allocates the running number of a day's orders. Day is formatted
// YYYYMMDD; the first call for a day returns 1.
type OrderSequenceRepository interface {
	NextOrderSequence(ctx context.Context, day string) (int64, error)
}
