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
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	GCS          GCSConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	AppStore     AppStoreConfig
	Receipts     ReceiptsConfig
	Sweep        SweepConfig
	Analytics    AnalyticsConfig
	Report       ReportConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Sweep.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FRIENDED_APP_ENV" required:"true"`
	Port         string `envconfig:"FRIENDED_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"FRIENDED_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FRIENDED_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FRIENDED_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"FRIENDED_DB_DSN"`
	Driver string `envconfig:"FRIENDED_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FRIENDED_DB_HOST"`
	LegacyPort     int    `envconfig:"FRIENDED_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FRIENDED_DB_USER"`
	LegacyPassword string `envconfig:"FRIENDED_DB_PASSWORD"`
	LegacyName     string `envconfig:"FRIENDED_DB_NAME"`
	LegacySSLMode  string `envconfig:"FRIENDED_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FRIENDED_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FRIENDED_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FRIENDED_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FRIENDED_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FRIENDED_REDIS_URL" required:"true"`
	PoolSize     int           `envconfig:"FRIENDED_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FRIENDED_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FRIENDED_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FRIENDED_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FRIENDED_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"FRIENDED_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"FRIENDED_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"FRIENDED_JWT_EXPIRATION_MINUTES" default:"10080"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"FRIENDED_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"FRIENDED_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"FRIENDED_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"FRIENDED_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"FRIENDED_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName string `envconfig:"FRIENDED_GCS_BUCKET_NAME"`
}

type PubSubConfig struct {
	AnalyticsTopic        string `envconfig:"FRIENDED_PUBSUB_ANALYTICS_TOPIC" default:"friended-analytics-events"`
	AnalyticsSubscription string `envconfig:"FRIENDED_PUBSUB_ANALYTICS_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"FRIENDED_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"FRIENDED_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"FRIENDED_OUTBOX_MAX_ATTEMPTS" default:"10"`
	IdempotencyTTL time.Duration `envconfig:"FRIENDED_OUTBOX_IDEMPOTENCY_TTL" default:"72h"`
}

// AppStoreConfig points receipt verification at Apple's verifyReceipt
// endpoints.
type AppStoreConfig struct {
	VerifyURL        string        `envconfig:"FRIENDED_APPSTORE_VERIFY_URL" default:"https://buy.itunes.apple.com/verifyReceipt"`
	SandboxVerifyURL string        `envconfig:"FRIENDED_APPSTORE_SANDBOX_VERIFY_URL" default:"https://sandbox.itunes.apple.com/verifyReceipt"`
	SharedSecret     string        `envconfig:"FRIENDED_APPSTORE_SHARED_SECRET"`
	RequestTimeout   time.Duration `envconfig:"FRIENDED_APPSTORE_REQUEST_TIMEOUT" default:"10s"`
	MaxRetries       int           `envconfig:"FRIENDED_APPSTORE_MAX_RETRIES" default:"3"`
}

type ReceiptsConfig struct {
	// Raw payloads above this size are externalized to blob storage.
	InlineMaxBytes        int           `envconfig:"FRIENDED_RECEIPT_INLINE_MAX_BYTES" default:"16384"`
	WebhookIdempotencyTTL time.Duration `envconfig:"FRIENDED_RECEIPT_WEBHOOK_IDEMPOTENCY_TTL" default:"24h"`
}

type SweepConfig struct {
	Cohort            string        `envconfig:"FRIENDED_SWEEP_COHORT" default:"all"`
	Interval          time.Duration `envconfig:"FRIENDED_SWEEP_INTERVAL" default:"1h"`
	RecentOffsetHours int           `envconfig:"FRIENDED_SWEEP_RECENT_OFFSET_HOURS" default:"2"`
	AgedOffsetDays    int           `envconfig:"FRIENDED_SWEEP_AGED_OFFSET_DAYS" default:"30"`
	BatchSize         int           `envconfig:"FRIENDED_SWEEP_BATCH_SIZE" default:"250"`
	ProProductID      string        `envconfig:"FRIENDED_PRO_PRODUCT_ID" default:"com.foundermark.Friended.prosub"`
}

// RecentOffset is how far past expiration a subscription can be and still
// land in the recent cohort.
func (s SweepConfig) RecentOffset() time.Duration {
	return time.Duration(s.RecentOffsetHours) * time.Hour
}

// AgedOffset is how far past expiration a subscription must be to land in
// the aged cohort.
func (s SweepConfig) AgedOffset() time.Duration {
	return time.Duration(s.AgedOffsetDays) * 24 * time.Hour
}

func (s SweepConfig) validate() error {
	switch s.Cohort {
	case SweepCohortRecent, SweepCohortAged, SweepCohortAll:
		return nil
	}
	return fmt.Errorf("invalid sweep cohort %q", s.Cohort)
}

type AnalyticsConfig struct {
	AdjustURL           string `envconfig:"FRIENDED_ADJUST_URL" default:"https://s2s.adjust.com/event"`
	AdjustAppToken      string `envconfig:"FRIENDED_ADJUST_APP_TOKEN"`
	AdjustTokenNewTrial string `envconfig:"FRIENDED_ADJUST_TOKEN_NEW_TRIAL"`
	AdjustTokenRenewal  string `envconfig:"FRIENDED_ADJUST_TOKEN_RENEWAL"`
	AdjustTokenCancel   string `envconfig:"FRIENDED_ADJUST_TOKEN_CANCEL"`

	CustomerIOURL    string `envconfig:"FRIENDED_CUSTOMERIO_URL" default:"https://track.customer.io/api/v1"`
	CustomerIOSiteID string `envconfig:"FRIENDED_CUSTOMERIO_SITE_ID"`
	CustomerIOAPIKey string `envconfig:"FRIENDED_CUSTOMERIO_API_KEY"`

	LocalyticsURL    string `envconfig:"FRIENDED_LOCALYTICS_URL" default:"https://profile.localytics.com/v1"`
	LocalyticsAppID  string `envconfig:"FRIENDED_LOCALYTICS_APP_ID"`
	LocalyticsAPIKey string `envconfig:"FRIENDED_LOCALYTICS_API_KEY"`

	BranchURL string `envconfig:"FRIENDED_BRANCH_URL" default:"https://api2.branch.io/v2/event/standard"`
	BranchKey string `envconfig:"FRIENDED_BRANCH_KEY"`
}

type ReportConfig struct {
	SentryDSN string `envconfig:"FRIENDED_SENTRY_DSN"`
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
