package config

const EnvPrefix = "TODOLIMPIO"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "TODOLIMPIO_APP_ENV"
	EnvPort     = "TODOLIMPIO_APP_PORT"
	EnvLogLevel = "TODOLIMPIO_LOG_LEVEL"

	EnvDBDriver = "TODOLIMPIO_DB_DRIVER"
	EnvDBDSN    = "TODOLIMPIO_DB_DSN"
	EnvDBHost   = "TODOLIMPIO_DB_HOST"
	EnvDBUser   = "TODOLIMPIO_DB_USER"
	EnvDBName   = "TODOLIMPIO_DB_NAME"

	EnvRedisURL  = "TODOLIMPIO_REDIS_URL"
	EnvRedisAddr = "TODOLIMPIO_REDIS_ADDR"

	EnvJWTSecret              = "TODOLIMPIO_JWT_SECRET"
	EnvJWTIssuer              = "TODOLIMPIO_JWT_ISSUER"
	EnvJWTExpMins             = "TODOLIMPIO_JWT_EXPIRATION_MINUTES"
	EnvRefreshTokenTTLMinutes = "TODOLIMPIO_REFRESH_TOKEN_TTL_MINUTES"

	EnvCartStorage = "TODOLIMPIO_CART_STORAGE"

	EnvChangeFeedMode = "TODOLIMPIO_CHANGEFEED_MODE"

	EnvGCPProjectID          = "TODOLIMPIO_GCP_PROJECT_ID"
	EnvPubSubChangeFeedTopic = "TODOLIMPIO_PUBSUB_CHANGEFEED_TOPIC"
	EnvPubSubChangeFeedSub   = "TODOLIMPIO_PUBSUB_CHANGEFEED_SUBSCRIPTION"
)

const (
	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	CartStorageRedis  = "redis"
	CartStorageMemory = "memory"
)

const (
	ChangeFeedModeLocal  = "local"
	ChangeFeedModePubSub = "pubsub"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
