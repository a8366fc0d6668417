package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile               = ".env"
	defaultPort                  = "8080"
	defaultReadTimeout           = 15 * time.Second
	defaultWriteTimeout          = 30 * time.Second
	defaultIdleTimeout           = 120 * time.Second
	defaultShutdownTimeout       = 20 * time.Second
	defaultStorageBackend        = StorageBackendFirestore
	defaultInventoryBackend      = InventoryBackendFirestore
	defaultRedisKeyPrefix        = "ordercore"
	defaultOrderNumberPrefix     = "ORD"
	defaultMaxSequenceAttempts   = 10
	defaultNotificationTopic     = "order-notifications"
	defaultNotificationCurrency  = "JPY"
	defaultNotificationLocale    = "en"
	defaultDispatchInterval      = 30 * time.Second
	defaultDispatchBatchSize     = 20
	defaultDispatchMaxAttempts   = 5
	defaultDispatchBackoffMin    = 30 * time.Second
	defaultDispatchBackoffMax    = 30 * time.Minute
	defaultRateLimitDefault      = 120
	defaultRateLimitCreateOrders = 10
	defaultSecurityEnvironment   = "local"
	defaultOIDCJWKSURL           = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer        = "https://accounts.google.com"
	defaultIdempotencyHeader     = "Idempotency-Key"
	defaultIdempotencyTTL        = 24 * time.Hour
	defaultIdempotencyInterval   = time.Hour
	defaultIdempotencyBatchSize  = 200
)

// Storage backends selectable through API_STORAGE_BACKEND.
const (
	StorageBackendFirestore = "firestore"
	StorageBackendMemory    = "memory"
)

// Inventory backends selectable through API_INVENTORY_BACKEND.
const (
	InventoryBackendFirestore = "firestore"
	InventoryBackendRedis     = "redis"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	PubSub        PubSubConfig
	Redis         RedisConfig
	Storage       StorageConfig
	Inventory     InventoryConfig
	Orders        OrdersConfig
	Notifications NotificationsConfig
	RateLimits    RateLimitConfig
	Security      SecurityConfig
	Idempotency   IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	CheckRevoked    bool
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	DatabaseID   string
	EmulatorHost string
}

// PubSubConfig points the notification publisher at a project.
type PubSubConfig struct {
	ProjectID    string
	EmulatorHost string
}

// RedisConfig configures the optional Redis stock ledger.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// StorageConfig selects the order store backend.
type StorageConfig struct {
	Backend string
}

// InventoryConfig selects where stock counters live.
type InventoryConfig struct {
	Backend string
}

// OrdersConfig tunes order creation and fulfillment.
type OrdersConfig struct {
	NumberPrefix        string
	MaxSequenceAttempts int
	OperatorEmail       string
	StrictTransitions   bool
}

// NotificationsConfig controls the outbox dispatcher.
type NotificationsConfig struct {
	Topic            string
	Currency         string
	Locale           string
	DispatchEnabled  bool
	DispatchInterval time.Duration
	BatchSize        int
	MaxAttempts      int
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute      int
	CreateOrdersPerMinute int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// IsLocal reports whether the service runs in a developer environment, where error details are exposed.
func (c SecurityConfig) IsLocal() bool {
	switch c.Environment {
	case "local", "dev", "development":
		return true
	default:
		return false
	}
}

// ValidationError lists config fields that are missing or out of range.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
	panicOnMissing  bool
}

func applyOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// WithEnvFile overrides the dotenv path. An empty path disables dotenv loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects values that win over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks secret-bearing fields (e.g. "Redis.Password") that must not resolve empty.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets makes Load panic with *MissingSecretsError instead of returning it.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissing = true }
}

// Load reads configuration with precedence env map > process env > dotenv > defaults,
// resolves secret references and validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := applyOptions(opts)
	env, err := newEnvSource(options)
	if err != nil {
		return Config{}, err
	}

	cfg := fromEnv(env)
	cfg.applyDerivedDefaults()

	resolved, err := resolveSecrets(ctx, &cfg, options.secret)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if missing := missingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissing {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func fromEnv(env *envSource) Config {
	return Config{
		Server: ServerConfig{
			Port:            env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:     env.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    env.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     env.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: env.duration("API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.str("API_FIREBASE_CREDENTIALS_FILE", ""),
			CheckRevoked:    env.flag("API_FIREBASE_CHECK_REVOKED", false),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			DatabaseID:   env.str("API_FIRESTORE_DATABASE_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:    env.str("API_PUBSUB_PROJECT_ID", ""),
			EmulatorHost: env.str("API_PUBSUB_EMULATOR_HOST", ""),
		},
		Redis: RedisConfig{
			Addr:      env.str("API_REDIS_ADDR", ""),
			Password:  env.str("API_REDIS_PASSWORD", ""),
			DB:        env.integer("API_REDIS_DB", 0),
			KeyPrefix: env.str("API_REDIS_KEY_PREFIX", defaultRedisKeyPrefix),
		},
		Storage:   StorageConfig{Backend: env.lower("API_STORAGE_BACKEND", defaultStorageBackend)},
		Inventory: InventoryConfig{Backend: env.lower("API_INVENTORY_BACKEND", defaultInventoryBackend)},
		Orders: OrdersConfig{
			NumberPrefix:        env.upper("API_ORDERS_NUMBER_PREFIX", defaultOrderNumberPrefix),
			MaxSequenceAttempts: env.integer("API_ORDERS_MAX_SEQUENCE_ATTEMPTS", defaultMaxSequenceAttempts),
			OperatorEmail:       env.str("API_ORDERS_OPERATOR_EMAIL", ""),
			StrictTransitions:   env.flag("API_ORDERS_STRICT_TRANSITIONS", false),
		},
		Notifications: NotificationsConfig{
			Topic:            env.str("API_NOTIFICATIONS_TOPIC", defaultNotificationTopic),
			Currency:         env.upper("API_NOTIFICATIONS_CURRENCY", defaultNotificationCurrency),
			Locale:           env.str("API_NOTIFICATIONS_LOCALE", defaultNotificationLocale),
			DispatchEnabled:  env.flag("API_NOTIFICATIONS_DISPATCH_ENABLED", true),
			DispatchInterval: env.duration("API_NOTIFICATIONS_DISPATCH_INTERVAL", defaultDispatchInterval),
			BatchSize:        env.integer("API_NOTIFICATIONS_BATCH_SIZE", defaultDispatchBatchSize),
			MaxAttempts:      env.integer("API_NOTIFICATIONS_MAX_ATTEMPTS", defaultDispatchMaxAttempts),
			BackoffInitial:   env.duration("API_NOTIFICATIONS_BACKOFF_INITIAL", defaultDispatchBackoffMin),
			BackoffMax:       env.duration("API_NOTIFICATIONS_BACKOFF_MAX", defaultDispatchBackoffMax),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:      env.integer("API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			CreateOrdersPerMinute: env.integer("API_RATELIMIT_CREATE_ORDERS_PER_MIN", defaultRateLimitCreateOrders),
		},
		Security: SecurityConfig{
			Environment: env.lower("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment),
			OIDC: OIDCConfig{
				JWKSURL:   env.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  env.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: env.pairs("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   env.list("API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}
}

// applyDerivedDefaults fills project ids down the Firebase > Firestore > Pub/Sub chain
// and picks the OIDC audience for the current environment.
func (c *Config) applyDerivedDefaults() {
	if c.Firestore.ProjectID == "" {
		c.Firestore.ProjectID = c.Firebase.ProjectID
	}
	if c.PubSub.ProjectID == "" {
		c.PubSub.ProjectID = c.Firestore.ProjectID
	}
	if len(c.Security.OIDC.Issuers) == 0 {
		c.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}
	if c.Security.OIDC.Audience == "" {
		c.Security.OIDC.Audience = c.Security.OIDC.Audiences[c.Security.Environment]
	}
}

func (c Config) validate() error {
	var invalid []string
	check := func(ok bool, field string) {
		if !ok {
			invalid = append(invalid, field)
		}
	}

	check(c.Server.Port != "", "Server.Port")
	switch c.Storage.Backend {
	case StorageBackendFirestore:
		check(c.Firestore.ProjectID != "", "Firestore.ProjectID")
	case StorageBackendMemory:
	default:
		invalid = append(invalid, "Storage.Backend")
	}
	switch c.Inventory.Backend {
	case InventoryBackendFirestore:
	case InventoryBackendRedis:
		check(strings.TrimSpace(c.Redis.Addr) != "", "Redis.Addr")
	default:
		invalid = append(invalid, "Inventory.Backend")
	}
	check(orderPrefixPattern(c.Orders.NumberPrefix), "Orders.NumberPrefix")
	check(c.Orders.MaxSequenceAttempts > 0, "Orders.MaxSequenceAttempts")

	n := c.Notifications
	check(n.BatchSize > 0, "Notifications.BatchSize")
	check(n.MaxAttempts > 0, "Notifications.MaxAttempts")
	check(n.DispatchInterval > 0, "Notifications.DispatchInterval")
	check(n.BackoffInitial > 0 && n.BackoffMax >= n.BackoffInitial, "Notifications.Backoff")

	check(c.RateLimits.CreateOrdersPerMinute >= 0, "RateLimits.CreateOrdersPerMinute")

	idem := c.Idempotency
	check(strings.TrimSpace(idem.Header) != "", "Idempotency.Header")
	check(idem.TTL > 0, "Idempotency.TTL")
	check(idem.CleanupInterval > 0, "Idempotency.CleanupInterval")
	check(idem.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

// orderPrefixPattern accepts 2 to 8 ASCII capitals.
func orderPrefixPattern(prefix string) bool {
	if len(prefix) < 2 || len(prefix) > 8 {
		return false
	}
	for _, r := range prefix {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

