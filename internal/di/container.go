package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/cimonstech/ventechfront-sub000/internal/payments"
	"github.com/cimonstech/ventechfront-sub000/internal/platform/config"
	"github.com/cimonstech/ventechfront-sub000/internal/platform/observability"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
	"github.com/cimonstech/ventechfront-sub000/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Pricing    services.PricingResolver
	Cart       services.CartService
	Coupons    services.CouponService
	Numbers    services.OrderNumberService
	Orders     services.OrderService
	Checkout   services.CheckoutService
	Settlement services.SettlementService
	System     services.HealthService
}

// Externals carries the clients built outside the repository registry.
type Externals struct {
	Payments *payments.Manager
	Events   services.OrderEventPublisher
	Meter    metric.Meter
	Health   repositories.HealthRepository
	Build    services.BuildInfo
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring will provide real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, ext Externals) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if ext.Payments == nil {
		return nil, errors.New("payment manager is required")
	}

	svc, err := buildServices(ctx, reg, cfg, ext)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

// CheckoutPolicy derives the pricing policy shared by checkout, settlement and order creation.
func CheckoutPolicy(cfg config.Config) services.CheckoutPolicy {
	return services.CheckoutPolicy{
		Currency:              cfg.Checkout.Currency,
		FreeShippingThreshold: cfg.Checkout.FreeShippingThreshold,
		TaxRate:               cfg.Checkout.TaxRate,
		OrderTotalCeiling:     cfg.Checkout.OrderTotalCeiling,
		CallbackURL:           cfg.Payments.CallbackURL,
		CancelURL:             cfg.Payments.CancelURL,
	}
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, ext Externals) (Services, error) {
	var svc Services

	base := ext.Logger
	if base == nil {
		base = zap.NewNop()
	}
	clock := ext.Clock
	if clock == nil {
		clock = time.Now
	}
	policy := CheckoutPolicy(cfg)

	metrics, err := services.NewCheckoutMetrics(ext.Meter)
	if err != nil {
		return Services{}, fmt.Errorf("build checkout metrics: %w", err)
	}

	pricing, err := services.NewPricingResolver(services.PricingResolverDeps{
		Catalog: reg.Catalog(),
		Logger:  observability.ServiceLogger(base.Named("pricing")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing resolver: %w", err)
	}
	svc.Pricing = pricing

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Repository: reg.Carts(),
		Pricing:    pricing,
		Catalog:    reg.Catalog(),
		Clock:      clock,
		Logger:     observability.ServiceLogger(base.Named("cart")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: reg.Coupons(),
		Clock:   clock,
		Logger:  observability.ServiceLogger(base.Named("coupon")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}
	svc.Coupons = couponSvc

	numberSvc, err := services.NewOrderNumberService(services.OrderNumberServiceDeps{
		Sequences: reg.OrderSequences(),
		Clock:     clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order number service: %w", err)
	}
	svc.Numbers = numberSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:  reg.Orders(),
		Catalog: reg.Catalog(),
		Numbers: numberSvc,
		Events:  ext.Events,
		Metrics: metrics,
		Policy:  policy,
		Clock:   clock,
		Logger:  observability.ServiceLogger(base.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:      reg.Carts(),
		Pricing:    pricing,
		Deliveries: reg.Deliveries(),
		Coupons:    couponSvc,
		Orders:     orderSvc,
		Staging:    reg.Staging(),
		Payments:   ext.Payments,
		Policy:     policy,
		Clock:      clock,
		Logger:     observability.ServiceLogger(base.Named("checkout")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	settlementSvc, err := services.NewSettlementService(services.SettlementServiceDeps{
		Staging:    reg.Staging(),
		Carts:      reg.Carts(),
		Deliveries: reg.Deliveries(),
		Orders:     orderSvc,
		Pricing:    pricing,
		Coupons:    couponSvc,
		Payments:   ext.Payments,
		Events:     ext.Events,
		Metrics:    metrics,
		Policy:     policy,
		Clock:      clock,
		Logger:     observability.ServiceLogger(base.Named("settlement")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build settlement service: %w", err)
	}
	svc.Settlement = settlementSvc

	if ext.Health != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: ext.Health,
			Clock:            clock,
			Build:            ext.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
