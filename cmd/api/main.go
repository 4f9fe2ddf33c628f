package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cimonstech/ventechfront-sub000/internal/di"
	"github.com/cimonstech/ventechfront-sub000/internal/handlers"
	"github.com/cimonstech/ventechfront-sub000/internal/payments"
	"github.com/cimonstech/ventechfront-sub000/internal/platform/auth"
	"github.com/cimonstech/ventechfront-sub000/internal/platform/config"
	pfirestore "github.com/cimonstech/ventechfront-sub000/internal/platform/firestore"
	"github.com/cimonstech/ventechfront-sub000/internal/platform/idempotency"
	"github.com/cimonstech/ventechfront-sub000/internal/platform/observability"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories"
	firestoreRepo "github.com/cimonstech/ventechfront-sub000/internal/repositories/firestore"
	"github.com/cimonstech/ventechfront-sub000/internal/repositories/staging"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(os.Getenv(config.EnvPrefix + "LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	var rdb *redis.Client
	if needsRedis(cfg) {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	registryOpts := []firestoreRepo.RegistryOption{
		firestoreRepo.WithStagingTTL(cfg.Checkout.StagingTTL),
	}
	switch cfg.Checkout.StagingBackend {
	case config.StagingBackendRedis:
		redisStaging, err := staging.NewRedisRepository(rdb, cfg.Checkout.StagingTTL)
		if err != nil {
			logger.Fatal("failed to initialise redis staging", zap.Error(err))
		}
		registryOpts = append(registryOpts, firestoreRepo.WithStaging(redisStaging))
	case config.StagingBackendMemory:
		logger.Warn("checkout staging kept in memory; drafts are lost on restart")
		registryOpts = append(registryOpts, firestoreRepo.WithStaging(staging.NewMemoryRepository()))
	}
	if rdb != nil {
		registryOpts = append(registryOpts, firestoreRepo.WithCloser(func(context.Context) error {
			return rdb.Close()
		}))
	}
	registry, err := firestoreRepo.NewRegistry(firestoreProvider, registryOpts...)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	healthRepo, err := repositories.NewDependencyHealthRepository(dependencyChecks(firestoreProvider, fetcher, rdb), nil)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.Payments.StripeAPIKey,
		WebhookSecret: cfg.Payments.StripeWebhookSecret,
		Logger:        observability.ServiceLogger(logger.Named("payments")),
		Clock:         time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
	}
	paymentManager, err := payments.NewManager(map[string]payments.Provider{
		"stripe": stripeProvider,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	events, err := newOrderEvents(ctx, cfg.PubSub)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}
	if events == nil {
		logger.Warn("order events topic not configured; events will not be published")
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Externals{
		Payments: paymentManager,
		Events:   events.publisher(),
		Health:   healthRepo,
		Build:    buildInfo,
		Logger:   logger,
		Clock:    time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()
	svc := container.Services

	idempotencyStore := newIdempotencyStore(cfg, rdb)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	productHandlers := handlers.NewProductHandlers(svc.Pricing)
	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Cart)
	couponHandlers := handlers.NewCouponHandlers(authenticator, svc.Cart, svc.Coupons)
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, svc.Checkout, svc.Settlement,
		handlers.WithCashIdempotency(idempotencyMiddleware, cfg.Idempotency.Header),
	)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders)
	webhookHandlers := handlers.NewPaymentWebhookHandlers(paymentManager, svc.Settlement,
		observability.ServiceLogger(logger.Named("webhooks")))
	settlementAdmin := handlers.NewSettlementAdminHandlers(authenticator, svc.Settlement, cfg.Security.StaffRole)

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if svc.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthService(svc.System))
	}
	healthHandlers := handlers.NewHealthHandlers(healthOpts...)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithCouponRoutes(couponHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(settlementAdmin.Routes),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("ventech storefront api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	if err := events.Close(); err != nil {
		logger.Warn("pubsub close error", zap.Error(err))
	}
}
