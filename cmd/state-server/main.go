package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flow-state-networks/state-exchange/app/internal/config"
	"github.com/flow-state-networks/state-exchange/app/internal/database"
	"github.com/flow-state-networks/state-exchange/app/internal/logger"
	"github.com/flow-state-networks/state-exchange/app/internal/server"
	"github.com/flow-state-networks/state-exchange/app/internal/state"
	"github.com/flow-state-networks/state-exchange/app/internal/storage/mysql"
	"github.com/flow-state-networks/state-exchange/app/internal/storage/postgres"
	"github.com/flow-state-networks/state-exchange/app/internal/version"
)

//	@title			state-server
//	@description	state-server receives signed-then-encrypted workflow state envelopes from
//	@description	sending platforms and stores them per tenant.
//	@description
//	@description	## Common Error Responses
//	@description	All endpoints may return:
//	@description	- `413` Request body exceeds size limit
//	@description	- `429` Rate limit exceeded
//	@description	- `500` Internal server error
//	@description
//	@description	Individual endpoints document their specific business logic errors.
//	@description
//	@description	## Request Limits
//	@description	All endpoints are protected by:
//	@description	- **Rate limiting**: Configurable requests per second (see env vars) - default 100 rps (set to 0 to disable)
//	@description	- **Request size limits**: Configurable (see env vars) - default 1MB
//	@description
//	@description	Check the X-Max-Request-Size response header for the configured limit.
//	@description
//	@description	## Authentication & Authorization
//	@description
//	@description	The state endpoints do not require credentials to be sent with the request.
//	@description	Sending platforms are authenticated via the JWS signature inside each envelope -
//	@description	envelopes must be signed with a key registered for the tenant in the tenant registry.
//	@description	Unrecognized keys are rejected before any state is stored.
//	@description
//	@license.name	MIT

//	@servers.url			https://states.example.com
//	@servers.description	Production server
//	@servers.url			http://localhost:8080
//	@servers.description	Development server

//	@accept		json
//	@produce	json

//	@tag.name			States
//	@tag.description	State exchange endpoints

//	@tag.name			Common
//	@tag.description	Server API endpoints (jwks, health, readiness, version, etc.)

func main() {
	cmd := &cobra.Command{
		Use:   "state-server",
		Short: "Multi-tenant state exchange server",
		Long:  `state-server receives signed-then-encrypted workflow state envelopes and stores them per tenant`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	v := version.Get()
	cmd.Version = fmt.Sprintf("%s (built %s, commit %s)", v.Version, v.BuildDate, v.GitCommit)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.NewServerConfig()
	if err != nil {
		log.Printf("failed to load configuration: %v", err.Error())
		os.Exit(1)
	}

	appLogger := logger.InitLogger(logger.ParseLogLevel(cfg.LogLevel), cfg.Environment)

	appLogger.Info("Configuration loaded",
		slog.String("ENVIRONMENT", cfg.Environment),
		slog.String("HOST", cfg.Host),
		slog.Int("PORT", cfg.Port),
		slog.String("LOG_LEVEL", cfg.LogLevel),
		slog.String("DATABASE_DIALECT", string(cfg.DatabaseDialect)),
		slog.String("TENANT_REGISTRY_PATH", cfg.TenantRegistryPath),
		slog.String("PLATFORM_KEYS_DIR", cfg.PlatformKeysDir),
		slog.String("RECEIVER_KEYS_DIR", cfg.ReceiverKeysDir),
	)

	dbCtx, dbCancel := context.WithTimeout(context.Background(), cfg.DatabasePingTimeout)

	store, readyCheck, closeStore, err := initStore(dbCtx, cfg, appLogger)
	dbCancel()
	if err != nil {
		appLogger.Error("Failed to initialize storage", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeStore()

	appLogger.Info("Starting server", slog.String("version", version.Get().Version))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, store, cfg, appLogger, readyCheck)
	if err != nil {
		appLogger.Error("Failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := srv.Start(ctx); err != nil {
		appLogger.Error("Server error", slog.String("error", err.Error()))
		return err
	}

	appLogger.Info("server shutdown complete")
	return nil
}

// initStore connects to the configured backend, runs pending migrations and
// returns the store plus a readiness probe and a close function.
func initStore(ctx context.Context, cfg *config.ServerEnvironment, appLogger *slog.Logger) (state.StateStore, func(context.Context) error, func(), error) {
	switch cfg.DatabaseDialect {
	case config.DialectPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg)
		if err != nil {
			return nil, nil, nil, err
		}

		migrationDB := database.SQLFromPool(pool)
		if err := database.RunMigrations(ctx, migrationDB, config.DialectPostgres); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		_ = migrationDB.Close()

		appLogger.Info("connected to PostgreSQL")
		return postgres.New(pool), pool.Ping, func() {
			pool.Close()
			appLogger.Info("database connection closed")
		}, nil

	case config.DialectMySQL:
		dsn, err := database.MySQLDSN(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}

		store, err := mysql.New(mysql.WithDSN(dsn))
		if err != nil {
			return nil, nil, nil, err
		}

		if err := database.RunMigrations(ctx, store.DB(), config.DialectMySQL); err != nil {
			_ = store.Close()
			return nil, nil, nil, err
		}

		appLogger.Info("connected to MySQL")
		return store, store.Ping, func() {
			_ = store.Close()
			appLogger.Info("database connection closed")
		}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported database dialect: %q", cfg.DatabaseDialect)
	}
}
