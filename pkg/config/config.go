package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Cart          CartConfig
	ChangeFeed    ChangeFeedConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	Cron          CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Redis.URL) == "" && strings.TrimSpace(c.Redis.Address) == "" {
		return fmt.Errorf("either %s or %s is required", EnvRedisURL, EnvRedisAddr)
	}

	switch c.Cart.StorageKind() {
	case CartStorageRedis, CartStorageMemory:
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", EnvCartStorage, CartStorageRedis, CartStorageMemory, c.Cart.Storage)
	}

	switch c.ChangeFeed.ModeKind() {
	case ChangeFeedModeLocal:
	case ChangeFeedModePubSub:
		missing := []string{}
		if strings.TrimSpace(c.GCP.ProjectID) == "" {
			missing = append(missing, EnvGCPProjectID)
		}
		if strings.TrimSpace(c.PubSub.ChangeFeedTopic) == "" {
			missing = append(missing, EnvPubSubChangeFeedTopic)
		}
		if len(missing) > 0 {
			return fmt.Errorf("%s=%s requires %s", EnvChangeFeedMode, ChangeFeedModePubSub, strings.Join(missing, ", "))
		}
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", EnvChangeFeedMode, ChangeFeedModeLocal, ChangeFeedModePubSub, c.ChangeFeed.Mode)
	}
	return nil
}

type AppConfig struct {
	Env          string   `envconfig:"TODOLIMPIO_APP_ENV" required:"true"`
	Port         string   `envconfig:"TODOLIMPIO_APP_PORT" default:"8080"`
	LogLevel     string   `envconfig:"TODOLIMPIO_LOG_LEVEL" default:"info"`
	LogFormat    string   `envconfig:"TODOLIMPIO_LOG_FORMAT" default:"json"`
	LogWarnStack bool     `envconfig:"TODOLIMPIO_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"TODOLIMPIO_CORS_ORIGINS" default:"http://localhost:3000"`

	ShutdownTimeout time.Duration `envconfig:"TODOLIMPIO_SHUTDOWN_TIMEOUT" default:"15s"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"TODOLIMPIO_DB_DSN"`
	Driver string `envconfig:"TODOLIMPIO_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TODOLIMPIO_DB_HOST"`
	LegacyPort     int    `envconfig:"TODOLIMPIO_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TODOLIMPIO_DB_USER"`
	LegacyPassword string `envconfig:"TODOLIMPIO_DB_PASSWORD"`
	LegacyName     string `envconfig:"TODOLIMPIO_DB_NAME"`
	LegacySSLMode  string `envconfig:"TODOLIMPIO_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TODOLIMPIO_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TODOLIMPIO_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TODOLIMPIO_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TODOLIMPIO_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// DriverName returns the normalized driver (postgres or sqlite).
func (db DBConfig) DriverName() string {
	driver := strings.ToLower(strings.TrimSpace(db.Driver))
	if driver == "" || driver == "postgresql" {
		return DBDriverPostgres
	}
	if driver == "sqlite3" {
		return DBDriverSQLite
	}
	return driver
}

type RedisConfig struct {
	URL          string        `envconfig:"TODOLIMPIO_REDIS_URL"`
	Address      string        `envconfig:"TODOLIMPIO_REDIS_ADDR"`
	Password     string        `envconfig:"TODOLIMPIO_REDIS_PASSWORD"`
	DB           int           `envconfig:"TODOLIMPIO_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TODOLIMPIO_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TODOLIMPIO_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TODOLIMPIO_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TODOLIMPIO_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TODOLIMPIO_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"TODOLIMPIO_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"TODOLIMPIO_JWT_ISSUER" default:"todolimpio"`
	ExpirationMinutes      int    `envconfig:"TODOLIMPIO_JWT_EXPIRATION_MINUTES" default:"60"`
	RefreshTokenTTLMinutes int    `envconfig:"TODOLIMPIO_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

// AccessTokenTTL returns the access token lifetime.
func (j JWTConfig) AccessTokenTTL() time.Duration {
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"TODOLIMPIO_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"TODOLIMPIO_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"TODOLIMPIO_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"TODOLIMPIO_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"TODOLIMPIO_ARGON_KEY_LEN" default:"32"`
}

type AuthRateLimitConfig struct {
	LoginWindow     time.Duration `envconfig:"TODOLIMPIO_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit int           `envconfig:"TODOLIMPIO_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit    int           `envconfig:"TODOLIMPIO_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"TODOLIMPIO_AUTO_MIGRATE" default:"false"`
}

type CartConfig struct {
	Storage string        `envconfig:"TODOLIMPIO_CART_STORAGE" default:"redis"`
	TTL     time.Duration `envconfig:"TODOLIMPIO_CART_TTL" default:"0s"`
}

// StorageKind returns the normalized cart storage backend.
func (c CartConfig) StorageKind() string {
	kind := strings.ToLower(strings.TrimSpace(c.Storage))
	if kind == "" {
		return CartStorageRedis
	}
	return kind
}

type ChangeFeedConfig struct {
	Mode           string        `envconfig:"TODOLIMPIO_CHANGEFEED_MODE" default:"local"`
	BufferSize     int           `envconfig:"TODOLIMPIO_CHANGEFEED_BUFFER_SIZE" default:"64"`
	IdempotencyTTL time.Duration `envconfig:"TODOLIMPIO_CHANGEFEED_IDEMPOTENCY_TTL" default:"24h"`
}

// ModeKind returns the normalized change feed delivery mode.
func (c ChangeFeedConfig) ModeKind() string {
	mode := strings.ToLower(strings.TrimSpace(c.Mode))
	if mode == "" {
		return ChangeFeedModeLocal
	}
	return mode
}

type GCPConfig struct {
	ProjectID              string `envconfig:"TODOLIMPIO_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"TODOLIMPIO_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"TODOLIMPIO_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	ChangeFeedTopic string `envconfig:"TODOLIMPIO_PUBSUB_CHANGEFEED_TOPIC" default:"tl-changefeed"`
	// Each API instance needs its own subscription so every instance sees every change.
	ChangeFeedSubscription string `envconfig:"TODOLIMPIO_PUBSUB_CHANGEFEED_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"TODOLIMPIO_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"TODOLIMPIO_OUTBOX_PUBLISH_POLL_MS" default:"250"`
	MaxAttempts    int `envconfig:"TODOLIMPIO_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"TODOLIMPIO_CRON_INTERVAL" default:"1h"`
	// Published and terminal outbox rows older than this are pruned.
	OutboxRetention time.Duration `envconfig:"TODOLIMPIO_CRON_OUTBOX_RETENTION" default:"168h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	if db.DriverName() == DBDriverSQLite {
		db.DSN = "file:todolimpio.db?cache=shared&_fk=1"
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
