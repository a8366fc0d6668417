package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	rd "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/hanko-field/ordercore/internal/di"
	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/handlers"
	"github.com/hanko-field/ordercore/internal/platform/auth"
	"github.com/hanko-field/ordercore/internal/platform/config"
	pfirestore "github.com/hanko-field/ordercore/internal/platform/firestore"
	"github.com/hanko-field/ordercore/internal/platform/idempotency"
	"github.com/hanko-field/ordercore/internal/platform/jobs"
	"github.com/hanko-field/ordercore/internal/platform/observability"
	"github.com/hanko-field/ordercore/internal/repositories"
	firestoreRepo "github.com/hanko-field/ordercore/internal/repositories/firestore"
	"github.com/hanko-field/ordercore/internal/repositories/memory"
	redisRepo "github.com/hanko-field/ordercore/internal/repositories/redis"
	"github.com/hanko-field/ordercore/internal/services"
)

const meterName = "github.com/hanko-field/ordercore"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

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
	meter := otel.GetMeterProvider().Meter(meterName)

	var redisClient rd.UniversalClient
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisClient = rd.NewClient(&rd.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			if cfg.Inventory.Backend == config.InventoryBackendRedis {
				logger.Fatal("failed to reach redis", zap.Error(err))
			}
			logger.Warn("redis unreachable; rate limits fall back to in-process buckets", zap.Error(err))
			_ = redisClient.Close()
			redisClient = nil
		}
	}

	sender, pubsubClient, senderChecks, err := buildNotificationSender(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("failed to initialise notification sender", zap.Error(err))
	}

	registry, firestoreProvider, err := buildRegistry(ctx, logger, cfg, redisClient, senderChecks...)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, registry,
		di.WithLogger(logger),
		di.WithNotificationSender(sender),
		di.WithMeter(meter),
		di.WithBuildInfo(buildInfo),
	)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
		if pubsubClient != nil {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}
	}()

	var firebaseOpts []auth.FirebaseOption
	if cfg.Firebase.CheckRevoked {
		firebaseOpts = append(firebaseOpts, auth.WithRevocationCheck())
	}
	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, firebaseOpts...)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	idempotencyStore, err := buildIdempotencyStore(firestoreProvider, redisClient, cfg)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyLogger := observability.NewPrintfAdapter(logger.Named("idempotency"))
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithOptionalKey(),
		idempotency.WithLogger(idempotencyLogger),
	)

	rateLogger := observability.ServiceLogger(logger.Named("ratelimit"))
	defaultLimiter := newRateLimiter(redisClient, cfg.Redis.KeyPrefix+":all", cfg.RateLimits.DefaultPerMinute)
	createLimiter := newRateLimiter(redisClient, cfg.Redis.KeyPrefix+":create", cfg.RateLimits.CreateOrdersPerMinute)

	verbose := cfg.Security.IsLocal()
	svc := container.Services
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, svc.Payments,
		handlers.WithCreateIdempotency(idempotencyMiddleware),
		handlers.WithCreateRateLimit(handlers.RateLimitMiddleware(createLimiter, rateLogger)),
		handlers.WithVerboseErrors(verbose),
	)
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, svc.Orders, svc.Status, svc.Payments, verbose)
	notificationHandlers := handlers.NewNotificationHandlers(svc.Dispatcher, cfg.Notifications.BatchSize)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware(projectID),
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		observability.RecoveryMiddleware(logger.Named("http")),
		handlers.RateLimitMiddleware(defaultLimiter, rateLogger),
	}

	opts := []handlers.Option{
		handlers.WithRequestTimeout(cfg.Server.WriteTimeout),
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithMeRoutes(orderHandlers.MeRoutes),
		handlers.WithTrackRoutes(orderHandlers.TrackRoutes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithInternalRoutes(notificationHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	workerCtx, workerCancel := context.WithCancel(observability.WithLogger(context.Background(), logger))
	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		idempotency.RunCleanup(workerCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, idempotencyLogger)
	}()
	if cfg.Notifications.DispatchEnabled {
		workers.Add(1)
		go func() {
			defer workers.Done()
			svc.Dispatcher.Run(workerCtx, cfg.Notifications.DispatchInterval, cfg.Notifications.BatchSize)
		}()
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("order api listening",
			zap.String("storage", cfg.Storage.Backend),
			zap.String("inventory", cfg.Inventory.Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	workerCancel()
	workers.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// buildRegistry selects the storage backend and, when configured, moves stock counters into Redis.
// buildRegistry selects the order store and, when configured, moves stock counters to Redis.
// extra probes join the readiness report next to the store's own checks.
func buildRegistry(ctx context.Context, logger *zap.Logger, cfg config.Config, redisClient rd.UniversalClient, extra ...repositories.DependencyCheck) (repositories.Registry, *pfirestore.Provider, error) {
	useRedisStock := cfg.Inventory.Backend == config.InventoryBackendRedis && redisClient != nil

	if cfg.Storage.Backend == config.StorageBackendMemory {
		catalog := demoCatalog(time.Now().UTC())
		reg := memory.NewRegistry(catalog...)
		logger.Warn("using in-memory storage; orders are lost on restart", zap.Int("products", len(catalog)))
		if !useRedisStock && len(extra) == 0 {
			return reg, nil, nil
		}

		override := &overrideRegistry{Registry: reg, stock: reg.Stock()}
		checks := []repositories.DependencyCheck{{Name: "memory", Critical: true, Check: func(context.Context) error { return nil }}}
		if useRedisStock {
			ledger, err := newStockLedger(ctx, logger, redisClient, cfg, reg.ProductStore, catalog)
			if err != nil {
				return nil, nil, err
			}
			override.stock = ledger
			checks = append(checks, redisStockCheck(ledger))
		}
		health, err := repositories.NewDependencyHealthRepository(append(checks, extra...))
		if err != nil {
			return nil, nil, err
		}
		override.health = health
		return override, nil, nil
	}

	provider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := provider.Client(ctx); err != nil {
		return nil, nil, fmt.Errorf("firestore client: %w", err)
	}
	var opts []firestoreRepo.RegistryOption
	if useRedisStock {
		products, err := firestoreRepo.NewProductRepository(provider)
		if err != nil {
			return nil, nil, err
		}
		catalog, err := products.All(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("load catalog for redis stock: %w", err)
		}
		ledger, err := newStockLedger(ctx, logger, redisClient, cfg, products, catalog)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts,
			firestoreRepo.WithStockRepository(ledger),
			firestoreRepo.WithDependencyCheck(redisStockCheck(ledger)),
		)
		logger.Info("stock counters served from redis", zap.Int("products", len(catalog)))
	}
	for _, check := range extra {
		opts = append(opts, firestoreRepo.WithDependencyCheck(check))
	}
	reg, err := firestoreRepo.NewRegistry(provider, opts...)
	if err != nil {
		return nil, nil, err
	}
	return reg, provider, nil
}

func redisStockCheck(ledger *redisRepo.StockLedger) repositories.DependencyCheck {
	return repositories.DependencyCheck{Name: "redis", Timeout: time.Second, Critical: true, Check: ledger.Ping}
}

// catalogStore is a product catalog that also accepts mirrored stock changes.
type catalogStore interface {
	repositories.ProductRepository
	repositories.StockMirror
}

// newStockLedger makes Redis the stock source of record. Counters are preloaded from the catalog,
// seeded on demand for products added later, and mirrored back onto the product entries.
func newStockLedger(ctx context.Context, logger *zap.Logger, client rd.UniversalClient, cfg config.Config, products catalogStore, catalog []domain.Product) (*redisRepo.StockLedger, error) {
	onMirrorError := func(_ context.Context, productID string, err error) {
		logger.Warn("stock mirror to catalog failed", zap.String("productID", productID), zap.Error(err))
	}
	ledger, err := redisRepo.NewStockLedger(client,
		redisRepo.WithKeyPrefix(cfg.Redis.KeyPrefix),
		redisRepo.WithCatalog(products),
		redisRepo.WithMirror(products, onMirrorError),
	)
	if err != nil {
		return nil, err
	}
	if err := ledger.Preload(ctx, catalog...); err != nil {
		return nil, err
	}
	return ledger, nil
}

// overrideRegistry swaps the stock counters and readiness probes of an otherwise unchanged registry.
type overrideRegistry struct {
	repositories.Registry
	stock  repositories.StockRepository
	health repositories.HealthRepository
}

func (r *overrideRegistry) Stock() repositories.StockRepository   { return r.stock }
func (r *overrideRegistry) Health() repositories.HealthRepository { return r.health }

// buildNotificationSender publishes to Pub/Sub when a project and topic are configured, returning a
// non-critical topic probe. Otherwise the container falls back to logging notifications.
func buildNotificationSender(ctx context.Context, logger *zap.Logger, cfg config.Config) (services.NotificationSender, *pubsub.Client, []repositories.DependencyCheck, error) {
	topicID := strings.TrimSpace(cfg.Notifications.Topic)
	if topicID == "" || strings.TrimSpace(cfg.PubSub.ProjectID) == "" {
		logger.Warn("pubsub not configured; notifications are only logged")
		return nil, nil, nil, nil
	}
	var opts []option.ClientOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		opts = append(opts, option.WithCredentialsFile(file))
	}
	client, err := jobs.NewPubSubClient(ctx, cfg.PubSub, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	topic, err := jobs.NotificationTopic(client, topicID)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, err
	}
	sender, err := jobs.NewPubSubNotificationSender(topic)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, err
	}
	probe := repositories.DependencyCheck{Name: "pubsub", Timeout: 2 * time.Second, Check: jobs.TopicProbe(topic)}
	return sender, client, []repositories.DependencyCheck{probe}, nil
}

// buildIdempotencyStore prefers Firestore, then Redis so keys are shared between instances,
// then process memory.
func buildIdempotencyStore(provider *pfirestore.Provider, redisClient rd.UniversalClient, cfg config.Config) (idempotency.Store, error) {
	switch {
	case provider != nil:
		return idempotency.NewFirestoreStore(provider), nil
	case redisClient != nil:
		return idempotency.NewRedisStore(redisClient, cfg.Redis.KeyPrefix)
	default:
		return idempotency.NewMemoryStore(), nil
	}
}

func newRateLimiter(client rd.UniversalClient, prefix string, perMinute int) handlers.RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if client != nil {
		return handlers.NewRedisRateLimiter(client, prefix, perMinute, time.Minute)
	}
	return handlers.NewMemoryRateLimiter(perMinute, time.Minute, time.Now)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		if cfg.Security.IsLocal() {
			logger.Warn("auth: OIDC disabled; internal routes are open")
			return nil
		}
		logger.Fatal("auth: OIDC JWKS url is required outside local environments")
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	validator := auth.NewOIDCValidator(cache,
		auth.WithOIDCLogger(adapter),
		auth.WithOIDCMeter(otel.GetMeterProvider().Meter(meterName)),
	)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
