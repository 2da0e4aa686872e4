package config

const EnvPrefix = "SERVICEHUB"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	PaystackEnvTest = "test"
	PaystackEnvLive = "live"
)

const (
	EnvAppEnv   = "SERVICEHUB_APP_ENV"
	EnvPort     = "SERVICEHUB_APP_PORT"
	EnvLogLevel = "SERVICEHUB_LOG_LEVEL"

	EnvDBDSN  = "SERVICEHUB_DB_DSN"
	EnvDBHost = "SERVICEHUB_DB_HOST"
	EnvDBUser = "SERVICEHUB_DB_USER"
	EnvDBName = "SERVICEHUB_DB_NAME"

	EnvRedisURL = "SERVICEHUB_REDIS_URL"

	EnvJWTSecret  = "SERVICEHUB_JWT_SECRET"
	EnvJWTIssuer  = "SERVICEHUB_JWT_ISSUER"
	EnvJWTExpMins = "SERVICEHUB_JWT_EXPIRATION_MINUTES"

	EnvPaystackSecret   = "SERVICEHUB_PAYSTACK_SECRET_KEY"
	EnvPaystackEnv      = "SERVICEHUB_PAYSTACK_ENV"
	EnvPaystackSimulate = "SERVICEHUB_PAYSTACK_SIMULATE_TRANSFERS"
	EnvPaystackTimeout  = "SERVICEHUB_PAYSTACK_TIMEOUT"

	EnvPubSubNotificationTopic = "SERVICEHUB_PUBSUB_NOTIFICATION_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
