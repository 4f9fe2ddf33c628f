package main

import (
	"context"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cimonstech/ventechfront-sub000/internal/platform/config"
	pfirestore "github.com/cimonstech/ventechfront-sub000/internal/platform/firestore"
	"github.com/cimonstech/ventechfront-sub000/internal/platform/idempotency"
	"github.com/cimonstech/ventechfront-sub000/internal/platform/jobs"
	"github.com/cimonstech/ventechfront-sub000/internal/platform/secrets"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
	"github.com/cimonstech/ventechfront-sub000/internal/services"
)

// secretProbeRef is resolved by the readiness probe. A missing secret still proves Secret Manager
// answered.
const secretProbeRef = "secret://system/healthz?version=latest"

// orderEvents owns the Pub/Sub client behind the order event publisher.
type orderEvents struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	pub    *jobs.PubSubOrderEventPublisher
}

// newOrderEvents returns nil when no topic is configured.
func newOrderEvents(ctx context.Context, cfg config.PubSubConfig) (*orderEvents, error) {
	topicID := strings.TrimSpace(cfg.OrderEventsTopic)
	if topicID == "" {
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	topic := client.Topic(topicID)
	pub, err := jobs.NewPubSubOrderEventPublisher(topic)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &orderEvents{client: client, topic: topic, pub: pub}, nil
}

func (e *orderEvents) publisher() services.OrderEventPublisher {
	if e == nil {
		return nil
	}
	return e.pub
}

// Close flushes pending publishes before closing the client.
func (e *orderEvents) Close() error {
	if e == nil {
		return nil
	}
	e.topic.Stop()
	return e.client.Close()
}

func needsRedis(cfg config.Config) bool {
	if strings.TrimSpace(cfg.Redis.Addr) == "" {
		return false
	}
	return cfg.Checkout.StagingBackend == config.StagingBackendRedis ||
		cfg.Idempotency.Backend == config.IdempotencyBackendRedis
}

func newIdempotencyStore(cfg config.Config, rdb *redis.Client) idempotency.Store {
	if rdb == nil || cfg.Idempotency.Backend != config.IdempotencyBackendRedis {
		return idempotency.NewMemoryStore()
	}
	return idempotency.NewRedisStore(rdb)
}

func envOr(env map[string]string, key, fallback string) string {
	if v := strings.TrimSpace(env[config.EnvPrefix+key]); v != "" {
		return v
	}
	return fallback
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     envOr(env, "BUILD_VERSION", "dev"),
		CommitSHA:   envOr(env, "BUILD_COMMIT_SHA", "unknown"),
		Environment: environment,
		StartedAt:   started,
	}
}

// dependencyChecks lists the readiness probes. Firestore and Redis are required; Secret Manager is
// only needed at startup so its failure degrades readiness without failing it.
func dependencyChecks(store *pfirestore.Provider, fetcher *secrets.Fetcher, rdb *redis.Client) []repositories.DependencyCheck {
	checks := []repositories.DependencyCheck{{
		Name:     "firestore",
		Required: true,
		Timeout:  1500 * time.Millisecond,
		Check:    store.Ping,
	}}
	if fetcher != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretProbeRef)
				if status.Code(err) == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if rdb != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:     "redis",
			Required: true,
			Timeout:  500 * time.Millisecond,
			Check:    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}
	return checks
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(envOr(env, "SECRET_FALLBACK_FILE", ".secrets.local")),
	}
	project := envOr(env, "SECRET_DEFAULT_PROJECT_ID", envOr(env, "FIREBASE_PROJECT_ID", ""))
	if project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if creds := envOr(env, "FIREBASE_CREDENTIALS_FILE", ""); creds != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(creds)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames names the config fields that must resolve from Secret Manager. Redis.Password
// is only required when the environment references one.
func requiredSecretNames(env map[string]string) []string {
	names := []string{"Payments.StripeAPIKey", "Payments.StripeWebhookSecret"}
	if envOr(env, "REDIS_PASSWORD", "") != "" {
		names = append(names, "Redis.Password")
	}
	slices.Sort(names)
	return slices.Compact(names)
}
