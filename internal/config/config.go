package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

// Dialect identifies the relational backend the state store runs on.
// The dialect is resolved once from DATABASE_URL at startup and injected
// into the store - backend capabilities are never probed at call time.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// Timeouts that are not worth making configurable
const (
	ServerShutdownTimeout = 10 * time.Second
	RegistryFetchTimeout  = 10 * time.Second
)

// Environment variables with defaults
type ServerEnvironment struct {

	// http server settings
	Environment  string        `env:"ENVIRONMENT,default=dev"`
	Host         string        `env:"HOST,default=0.0.0.0"`
	Port         int           `env:"PORT,default=8080"`
	LogLevel     string        `env:"LOG_LEVEL,default=debug"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=15s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=15s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT,default=60s"`

	// request limits
	RateLimitRPS    int32 `env:"RATE_LIMIT_RPS,default=100"`
	RateLimitBurst  int32 `env:"RATE_LIMIT_BURST,default=200"`
	MaxRequestBytes int64 `env:"MAX_REQUEST_BYTES,default=1048576"`

	// database settings
	DBMaxConnections    int32         `env:"DB_MAX_CONNECTIONS,default=4"`
	DBMinConnections    int32         `env:"DB_MIN_CONNECTIONS,default=0"`
	DBMaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME,default=60m"`
	DBMaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME,default=30m"`
	DBConnectTimeout    time.Duration `env:"DB_CONNECT_TIMEOUT,default=5s"`
	DatabasePingTimeout time.Duration `env:"DATABASE_PING_TIMEOUT,default=10s"`

	// envelope verification settings
	ClockSkewTolerance time.Duration `env:"CLOCK_SKEW_TOLERANCE,default=30s"`

	// JWK cache settings (used for tenants that publish a JWKS endpoint)
	SkipJWKCache        bool          `env:"SKIP_JWK_CACHE,default=false"`
	JWKCacheMinRefresh  time.Duration `env:"JWK_CACHE_MIN_REFRESH,default=10m"`
	JWKCacheMaxRefresh  time.Duration `env:"JWK_CACHE_MAX_REFRESH,default=12h"`
	JWKCacheHTTPTimeout time.Duration `env:"JWK_CACHE_HTTP_TIMEOUT,default=30s"`

	// Required configuration - must be set by environment variables
	TenantRegistryPath string `env:"TENANT_REGISTRY_PATH,required=true"`
	PlatformKeysDir    string `env:"PLATFORM_KEYS_DIR,required=true"`
	ReceiverKeysDir    string `env:"RECEIVER_KEYS_DIR,required=true"`
	DatabaseURL        string `env:"DATABASE_URL,required=true"`

	// DatabaseDialect is derived from DATABASE_URL during validation,
	// not read from the environment.
	DatabaseDialect Dialect `env:"-"`
}

var validEnvs = map[string]bool{
	"dev":     true,
	"test":    true,
	"prod":    true,
	"staging": true,
}

// NewServerConfig loads environment variables and returns a ServerEnvironment struct that contains the values
func NewServerConfig() (*ServerEnvironment, error) {
	var cfg ServerEnvironment

	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal environment variables: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateConfig checks for required env variables and derives the database dialect
func validateConfig(cfg *ServerEnvironment) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if !validEnvs[cfg.Environment] {
		return fmt.Errorf("invalid ENVIRONMENT: %s", cfg.Environment)
	}

	if cfg.DBMaxConnections < 1 {
		return fmt.Errorf("DB_MAX_CONNECTIONS must be at least 1")
	}
	if cfg.DBMinConnections < 0 {
		return fmt.Errorf("DB_MIN_CONNECTIONS must be 0 or greater")
	}
	if cfg.DBMinConnections > cfg.DBMaxConnections {
		return fmt.Errorf("DB_MIN_CONNECTIONS (%d) cannot be greater than DB_MAX_CONNECTIONS (%d)",
			cfg.DBMinConnections, cfg.DBMaxConnections)
	}

	if cfg.ClockSkewTolerance < 0 {
		return fmt.Errorf("CLOCK_SKEW_TOLERANCE must be 0 or greater")
	}

	dialect, err := DialectFromURL(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	cfg.DatabaseDialect = dialect

	return nil
}

// DialectFromURL resolves the database dialect from the DATABASE_URL scheme.
// Supported schemes: postgres, postgresql, mysql.
func DialectFromURL(databaseURL string) (Dialect, error) {
	u, err := url.Parse(strings.TrimSpace(databaseURL))
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}

	switch u.Scheme {
	case "postgres", "postgresql":
		return DialectPostgres, nil
	case "mysql":
		return DialectMySQL, nil
	default:
		return "", fmt.Errorf("unsupported DATABASE_URL scheme: %q (expected postgres or mysql)", u.Scheme)
	}
}
