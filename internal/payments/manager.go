package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// PaymentContext carries the hints used to pick a provider for one call.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

// Manager routes payment calls to a registered Provider. Selection order: explicit preference,
// currency route, default provider, then the sole registered provider.
type Manager struct {
	providers  map[string]Provider
	fallback   string
	byCurrency map[string]string
}

// ManagerOption adjusts provider selection.
type ManagerOption func(*Manager)

// WithDefaultProvider sets the provider used when neither preference nor currency decides. An empty
// name disables the default.
func WithDefaultProvider(name string) ManagerOption {
	return func(m *Manager) { m.fallback = providerKey(name) }
}

// WithCurrencyRoutes maps ISO currency codes to provider names.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for currency, name := range routes {
			m.byCurrency[currencyKey(currency)] = providerKey(name)
		}
	}
}

// NewManager registers providers by case-insensitive name. Stripe is the default when registered.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	m := &Manager{
		providers:  make(map[string]Provider, len(providers)),
		byCurrency: map[string]string{},
	}
	for name, p := range providers {
		key := providerKey(name)
		if key == "" || p == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", name)
		}
		m.providers[key] = p
	}
	if _, ok := m.providers[stripeProviderName]; ok {
		m.fallback = stripeProviderName
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func providerKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

func currencyKey(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

func (m *Manager) pick(hints PaymentContext) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if name := providerKey(hints.PreferredProvider); name != "" {
		p, ok := m.providers[name]
		if !ok {
			return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, name)
		}
		return name, p, nil
	}
	for _, name := range []string{m.byCurrency[currencyKey(hints.Currency)], m.fallback} {
		if p, ok := m.providers[name]; ok && name != "" {
			return name, p, nil
		}
	}
	if len(m.providers) == 1 {
		for name, p := range m.providers {
			return name, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// InitializePayment opens a hosted session with the selected provider.
func (m *Manager) InitializePayment(ctx context.Context, hints PaymentContext, req InitializeRequest) (InitializeResult, error) {
	name, p, err := m.pick(hints)
	if err != nil {
		return InitializeResult{}, err
	}
	res, err := p.InitializePayment(ctx, req)
	if err != nil {
		return InitializeResult{}, err
	}
	res.Provider = name
	return res, nil
}

// VerifyPayment asks the selected provider for the authoritative payment state.
func (m *Manager) VerifyPayment(ctx context.Context, hints PaymentContext, req VerifyRequest) (Verification, error) {
	name, p, err := m.pick(hints)
	if err != nil {
		return Verification{}, err
	}
	v, err := p.VerifyPayment(ctx, req)
	if err != nil {
		return Verification{}, err
	}
	v.Provider = name
	return v, nil
}

// ParseWebhook verifies a webhook addressed to the named provider.
func (m *Manager) ParseWebhook(provider string, payload []byte, signature string) (WebhookEvent, error) {
	_, p, err := m.pick(PaymentContext{PreferredProvider: provider})
	if err != nil {
		return WebhookEvent{}, err
	}
	return p.ParseWebhook(payload, signature)
}
