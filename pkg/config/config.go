package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	HTTP         HTTPConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Paystack     PaystackConfig
	Webhook      WebhookConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Paystack.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SERVICEHUB_APP_ENV" required:"true"`
	Port         string `envconfig:"SERVICEHUB_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SERVICEHUB_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SERVICEHUB_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"SERVICEHUB_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SERVICEHUB_DB_DSN"`
	Driver string `envconfig:"SERVICEHUB_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SERVICEHUB_DB_HOST"`
	LegacyPort     int    `envconfig:"SERVICEHUB_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SERVICEHUB_DB_USER"`
	LegacyPassword string `envconfig:"SERVICEHUB_DB_PASSWORD"`
	LegacyName     string `envconfig:"SERVICEHUB_DB_NAME"`
	LegacySSLMode  string `envconfig:"SERVICEHUB_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SERVICEHUB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SERVICEHUB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SERVICEHUB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SERVICEHUB_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// TxMaxRetries bounds retries of a transaction aborted by a serialization failure or deadlock.
	TxMaxRetries int `envconfig:"SERVICEHUB_DB_TX_MAX_RETRIES" default:"3"`
	// SlowQuery logs statements slower than this at warn level; zero disables it.
	SlowQuery time.Duration `envconfig:"SERVICEHUB_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SERVICEHUB_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SERVICEHUB_REDIS_ADDR"`
	Password     string        `envconfig:"SERVICEHUB_REDIS_PASSWORD"`
	DB           int           `envconfig:"SERVICEHUB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SERVICEHUB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SERVICEHUB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SERVICEHUB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SERVICEHUB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SERVICEHUB_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SERVICEHUB_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SERVICEHUB_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SERVICEHUB_JWT_EXPIRATION_MINUTES" required:"true"`
}

// TTL returns the access token lifetime.
func (j JWTConfig) TTL() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

// HTTPConfig carries API edge settings. Rate limits count requests per window; zero disables a limit.
type HTTPConfig struct {
	CORSOrigins      []string      `envconfig:"SERVICEHUB_CORS_ORIGINS" default:"http://localhost:3000"`
	RateLimitWindow  time.Duration `envconfig:"SERVICEHUB_RATE_LIMIT_WINDOW" default:"1m"`
	PaymentRateLimit int           `envconfig:"SERVICEHUB_PAYMENT_RATE_LIMIT" default:"30"`
	WebhookRateLimit int           `envconfig:"SERVICEHUB_WEBHOOK_RATE_LIMIT" default:"600"`
	ShutdownTimeout  time.Duration `envconfig:"SERVICEHUB_HTTP_SHUTDOWN_TIMEOUT" default:"15s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SERVICEHUB_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxEnabled        bool          `envconfig:"SERVICEHUB_EVENTING_OUTBOX_ENABLED" default:"true"`
	OutboxIdempotencyTTL time.Duration `envconfig:"SERVICEHUB_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	NotifyMaxRetries     uint64        `envconfig:"SERVICEHUB_EVENTING_NOTIFY_MAX_RETRIES" default:"3"`
	NotifyBackoff        time.Duration `envconfig:"SERVICEHUB_EVENTING_NOTIFY_BACKOFF" default:"200ms"`
}

type PaystackConfig struct {
	SecretKey        string        `envconfig:"SERVICEHUB_PAYSTACK_SECRET_KEY" required:"true"`
	BaseURL          string        `envconfig:"SERVICEHUB_PAYSTACK_BASE_URL" default:"https://api.paystack.co"`
	Env              string        `envconfig:"SERVICEHUB_PAYSTACK_ENV" default:"test"`
	SimulateTransfer bool          `envconfig:"SERVICEHUB_PAYSTACK_SIMULATE_TRANSFERS" default:"false"`
	Timeout          time.Duration `envconfig:"SERVICEHUB_PAYSTACK_TIMEOUT" default:"15s"`
	TransferSource   string        `envconfig:"SERVICEHUB_PAYSTACK_TRANSFER_SOURCE" default:"balance"`
	Currency         string        `envconfig:"SERVICEHUB_PAYSTACK_CURRENCY" default:"NGN"`
}

// Environment returns the normalized gateway environment (test/live).
func (p PaystackConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(p.Env))
	if env == "" {
		return PaystackEnvTest
	}
	return env
}

func (p PaystackConfig) validate() error {
	switch p.Environment() {
	case PaystackEnvTest, PaystackEnvLive:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvPaystackEnv, PaystackEnvTest, PaystackEnvLive)
	}
	if p.SimulateTransfer && p.Environment() == PaystackEnvLive {
		return fmt.Errorf("%s cannot be enabled in live mode", EnvPaystackSimulate)
	}
	return nil
}

type WebhookConfig struct {
	GuardTTL time.Duration `envconfig:"SERVICEHUB_WEBHOOK_GUARD_TTL" default:"24h"`
	MaxBody  int64         `envconfig:"SERVICEHUB_WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SERVICEHUB_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SERVICEHUB_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SERVICEHUB_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"SERVICEHUB_PUBSUB_NOTIFICATION_TOPIC" default:"sh-payment-notifications"`
	NotificationSubscription string `envconfig:"SERVICEHUB_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
	MaxOutstandingMessages   int    `envconfig:"SERVICEHUB_PUBSUB_MAX_OUTSTANDING" default:"100"`
	NumGoroutines            int    `envconfig:"SERVICEHUB_PUBSUB_RECEIVE_GOROUTINES" default:"2"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SERVICEHUB_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SERVICEHUB_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SERVICEHUB_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"SERVICEHUB_OUTBOX_RETENTION_DAYS" default:"30"`
}

type CronConfig struct {
	Interval           time.Duration `envconfig:"SERVICEHUB_CRON_INTERVAL" default:"5m"`
	PendingGracePeriod time.Duration `envconfig:"SERVICEHUB_CRON_PENDING_GRACE" default:"15m"`
	PendingMaxAge      time.Duration `envconfig:"SERVICEHUB_CRON_PENDING_MAX_AGE" default:"168h"`
	PendingBatchSize   int           `envconfig:"SERVICEHUB_CRON_PENDING_BATCH_SIZE" default:"100"`
	StuckReleaseAge    time.Duration `envconfig:"SERVICEHUB_CRON_STUCK_RELEASE_AGE" default:"1h"`
	DisabledJobs       []string      `envconfig:"SERVICEHUB_CRON_DISABLED_JOBS"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
