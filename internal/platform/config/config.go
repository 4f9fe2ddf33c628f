package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EnvPrefix namespaces every variable read by Load.
const EnvPrefix = "VENTECH_"

// Staging backends supported for checkout drafts.
const (
	StagingBackendFirestore = "firestore"
	StagingBackendRedis     = "redis"
	StagingBackendMemory    = "memory"
)

// Idempotency backends for the cash checkout key store.
const (
	IdempotencyBackendMemory = "memory"
	IdempotencyBackendRedis  = "redis"
)

// Config is the storefront API configuration, one struct per concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Payments    PaymentsConfig
	Checkout    CheckoutConfig
	Redis       RedisConfig
	PubSub      PubSubConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig defaults its project to the Firebase project.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PaymentsConfig holds gateway credentials, usually as secret:// references, and the URLs the
// hosted payment page returns to.
type PaymentsConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	CallbackURL         string
	CancelURL           string
}

// CheckoutConfig is the pricing policy applied to every draft. TaxRate is a fraction in [0, 1).
type CheckoutConfig struct {
	Currency              string
	FreeShippingThreshold decimal.Decimal
	TaxRate               decimal.Decimal
	OrderTotalCeiling     decimal.Decimal
	StagingBackend        string
	StagingTTL            time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

type SecurityConfig struct {
	Environment string
	StaffRole   string
}

type IdempotencyConfig struct {
	Header  string
	Backend string
	TTL     time.Duration
}

// ValidationError lists every field that is missing or could not be parsed.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: invalid or missing [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Load reads defaults, the dotenv file, the process environment and explicit overrides in that
// order of precedence, then resolves secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	values, err := EnvironmentValues(opts...)
	if err != nil {
		return Config{}, err
	}
	env := newEnvReader(values)

	cfg := Config{
		Server: ServerConfig{
			Port:         env.str("SERVER_PORT", "8080"),
			ReadTimeout:  env.duration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: env.duration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  env.duration("SERVER_IDLE_TIMEOUT", 2*time.Minute),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("FIRESTORE_EMULATOR_HOST", ""),
		},
		Payments: PaymentsConfig{
			StripeAPIKey:        env.str("PAYMENTS_STRIPE_API_KEY", ""),
			StripeWebhookSecret: env.str("PAYMENTS_STRIPE_WEBHOOK_SECRET", ""),
			CallbackURL:         env.str("PAYMENTS_CALLBACK_URL", ""),
			CancelURL:           env.str("PAYMENTS_CANCEL_URL", ""),
		},
		Checkout: CheckoutConfig{
			Currency:              strings.ToUpper(env.str("CHECKOUT_CURRENCY", "GHS")),
			FreeShippingThreshold: env.decimal("CHECKOUT_FREE_SHIPPING_THRESHOLD", "1000"),
			TaxRate:               env.decimal("CHECKOUT_TAX_RATE", "0"),
			OrderTotalCeiling:     env.decimal("CHECKOUT_ORDER_TOTAL_CEILING", "1000000"),
			StagingBackend:        strings.ToLower(env.str("CHECKOUT_STAGING_BACKEND", StagingBackendFirestore)),
			StagingTTL:            env.duration("CHECKOUT_STAGING_TTL", 48*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     env.str("REDIS_ADDR", ""),
			Password: env.str("REDIS_PASSWORD", ""),
			DB:       env.integer("REDIS_DB", 0),
		},
		PubSub: PubSubConfig{
			ProjectID:        env.str("PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: env.str("PUBSUB_ORDER_EVENTS_TOPIC", "order-events"),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(env.str("SECURITY_ENVIRONMENT", "local")),
			StaffRole:   env.str("SECURITY_STAFF_ROLE", "staff"),
		},
		Idempotency: IdempotencyConfig{
			Header:  env.str("IDEMPOTENCY_HEADER", "Idempotency-Key"),
			Backend: strings.ToLower(env.str("IDEMPOTENCY_BACKEND", IdempotencyBackendMemory)),
			TTL:     env.duration("IDEMPOTENCY_TTL", 24*time.Hour),
		},
	}
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	resolved, err := resolveSecretFields(ctx, options.secret, map[string]*string{
		"Payments.StripeAPIKey":        &cfg.Payments.StripeAPIKey,
		"Payments.StripeWebhookSecret": &cfg.Payments.StripeWebhookSecret,
		"Redis.Password":               &cfg.Redis.Password,
	})
	if err != nil {
		return Config{}, err
	}

	if invalid := validate(cfg, env.malformed); len(invalid) > 0 {
		return Config{}, &ValidationError{fields: invalid}
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func validate(cfg Config, malformed []string) []string {
	invalid := append([]string(nil), malformed...)
	check := func(ok bool, field string) {
		if !ok {
			invalid = append(invalid, field)
		}
	}

	check(cfg.Server.Port != "", "Server.Port")
	check(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	check(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	check(len(cfg.Checkout.Currency) == 3, "Checkout.Currency")
	check(!cfg.Checkout.FreeShippingThreshold.IsNegative(), "Checkout.FreeShippingThreshold")
	check(!cfg.Checkout.TaxRate.IsNegative() && cfg.Checkout.TaxRate.LessThan(decimal.NewFromInt(1)), "Checkout.TaxRate")
	check(cfg.Checkout.OrderTotalCeiling.IsPositive(), "Checkout.OrderTotalCeiling")
	check(cfg.Checkout.StagingTTL > 0, "Checkout.StagingTTL")
	check(cfg.Idempotency.Header != "", "Idempotency.Header")
	check(cfg.Idempotency.TTL > 0, "Idempotency.TTL")

	needsRedis := false
	switch cfg.Checkout.StagingBackend {
	case StagingBackendFirestore, StagingBackendMemory:
	case StagingBackendRedis:
		needsRedis = true
	default:
		invalid = append(invalid, "Checkout.StagingBackend")
	}
	switch cfg.Idempotency.Backend {
	case IdempotencyBackendMemory:
	case IdempotencyBackendRedis:
		needsRedis = true
	default:
		invalid = append(invalid, "Idempotency.Backend")
	}
	if needsRedis {
		check(cfg.Redis.Addr != "", "Redis.Addr")
	}
	return invalid
}
