package services

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/cimonstech/ventechfront-sub000/internal/domain"
)

const checkoutMeterName = "github.com/cimonstech/ventechfront-sub000/internal/services"

type otelCheckoutMetrics struct {
	ordersCreated      metric.Int64Counter
	settlementFailures metric.Int64Counter
}

// NewCheckoutMetrics registers the checkout counters on the given meter, or on the global meter
// provider when meter is nil.
func NewCheckoutMetrics(meter metric.Meter) (CheckoutMetrics, error) {
	if meter == nil {
		meter = otel.Meter(checkoutMeterName)
	}
	created, err := meter.Int64Counter("checkout.orders.created",
		metric.WithDescription("Orders materialized from checkout drafts"))
	if err != nil {
		return nil, fmt.Errorf("checkout metrics: orders counter: %w", err)
	}
	failures, err := meter.Int64Counter("checkout.settlement.failures",
		metric.WithDescription("Captured payments that could not be fully materialized"))
	if err != nil {
		return nil, fmt.Errorf("checkout metrics: settlement counter: %w", err)
	}
	return &otelCheckoutMetrics{ordersCreated: created, settlementFailures: failures}, nil
}

func (m *otelCheckoutMetrics) OrderCreated(ctx context.Context, kind domain.DraftKind, method domain.PaymentMethod) {
	m.ordersCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("payment_method", string(method)),
	))
}

func (m *otelCheckoutMetrics) SettlementFailed(ctx context.Context, reason string) {
	m.settlementFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

type noopCheckoutMetrics struct{}

func (noopCheckoutMetrics) OrderCreated(context.Context, domain.DraftKind, domain.PaymentMethod) {}

func (noopCheckoutMetrics) SettlementFailed(context.Context, string) {}
