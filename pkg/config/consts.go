package config

const (
	// EnvPrefix is intentionally empty; every field carries its full
	// FRIENDED_* name in its envconfig tag.
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv    = "FRIENDED_APP_ENV"
	EnvPort      = "FRIENDED_APP_PORT"
	EnvRedisURL  = "FRIENDED_REDIS_URL"
	EnvJWTSecret = "FRIENDED_JWT_SECRET"
	EnvJWTIssuer = "FRIENDED_JWT_ISSUER"

	EnvDBDSN  = "FRIENDED_DB_DSN"
	EnvDBHost = "FRIENDED_DB_HOST"
	EnvDBUser = "FRIENDED_DB_USER"
	EnvDBName = "FRIENDED_DB_NAME"
)

// legacyDBEnvVars are the discrete connection vars accepted when
// FRIENDED_DB_DSN is unset.
var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

// Cohort names accepted by the subscription sweep.
const (
	SweepCohortRecent = "recent"
	SweepCohortAged   = "aged"
	SweepCohortAll    = "all"
)
