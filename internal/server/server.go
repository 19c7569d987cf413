package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/flow-state-networks/state-exchange/app/internal/config"
	"github.com/flow-state-networks/state-exchange/app/internal/logger"
	"github.com/flow-state-networks/state-exchange/app/internal/server/handlers"
	"github.com/flow-state-networks/state-exchange/app/internal/server/middleware"
	"github.com/flow-state-networks/state-exchange/app/internal/state"
	"github.com/flow-state-networks/state-exchange/app/internal/version"
)

// Server wires the middleware stack, the key manager and the state-exchange
// handlers onto a chi router.
type Server struct {
	store      state.StateStore
	config     *config.ServerEnvironment
	logger     *slog.Logger
	router     *chi.Mux
	keyManager *state.KeyManager
	exchanger  *state.Exchanger

	// readyCheck reports backend connectivity for the /ready endpoint.
	readyCheck func(context.Context) error
}

func NewServer(
	ctx context.Context,
	store state.StateStore,
	cfg *config.ServerEnvironment,
	logger *slog.Logger,
	readyCheck func(context.Context) error,
) (*Server, error) {
	server := &Server{
		store:      store,
		config:     cfg,
		logger:     logger,
		router:     chi.NewRouter(),
		readyCheck: readyCheck,
	}

	if err := server.initKeyManager(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize KeyManager: %w", err)
	}

	server.exchanger = state.NewExchanger(server.keyManager, store, cfg.ClockSkewTolerance, logger)

	server.setupMiddleware()
	if err := server.registerRoutes(); err != nil {
		return nil, err
	}

	return server, nil
}

// initKeyManager creates and initializes the KeyManager.
func (s *Server) initKeyManager(ctx context.Context) error {
	keyManagerConfig := &state.KeyManagerConfig{
		TenantRegistryPath:         s.config.TenantRegistryPath,
		PlatformKeysDir:            s.config.PlatformKeysDir,
		ReceiverKeysDir:            s.config.ReceiverKeysDir,
		HTTPTimeout:                s.config.JWKCacheHTTPTimeout,
		SkipJWKCache:               s.config.SkipJWKCache,
		JWKCacheMinRefreshInterval: s.config.JWKCacheMinRefresh,
		JWKCacheMaxRefreshInterval: s.config.JWKCacheMaxRefresh,
	}

	kmCtx, cancel := context.WithTimeout(ctx, config.RegistryFetchTimeout)
	defer cancel()

	keyManager, err := state.NewKeyManager(kmCtx, keyManagerConfig, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create KeyManager: %w", err)
	}

	s.keyManager = keyManager
	s.logger.Info("KeyManager initialized successfully")

	return nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(logger.RequestLogging(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(chimiddleware.Timeout(s.config.WriteTimeout))
	s.router.Use(middleware.SecurityHeaders(s.config.Environment))
	s.router.Use(middleware.RequestSizeLimit(s.config.MaxRequestBytes))
	s.router.Use(middleware.RateLimit(s.config.RateLimitRPS, s.config.RateLimitBurst))
}

func (s *Server) registerRoutes() error {
	statesHandler := handlers.NewStatesHandler(s.exchanger)

	s.router.Route("/states", func(r chi.Router) {
		r.Post("/{tenantId}", statesHandler.HandleSubmit)
		r.Get("/{tenantId}/{stateId}", statesHandler.HandleGet)
		r.Delete("/{tenantId}/{stateId}", statesHandler.HandleDelete)
	})

	s.router.Get("/health", handlers.HandleHealth)
	s.router.Get("/ready", handlers.HandleReadiness(s.readyCheck))

	v := version.Get()
	s.router.Get("/version", handlers.HandleVersion(v.Version, v.BuildDate))

	receiverKeys, err := s.keyManager.ReceiverPublicKeys()
	if err != nil {
		return fmt.Errorf("failed to build receiver JWK set: %w", err)
	}
	s.router.Get("/.well-known/jwks.json", handlers.HandleJWKS(receiverKeys))

	return nil
}

// Router exposes the configured router (used by httptest in integration tests).
func (s *Server) Router() http.Handler { return s.router }

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	serverAddr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	httpServer := &http.Server{
		Addr:         serverAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("service listening",
			slog.String("environment", s.config.Environment),
			slog.String("address", serverAddr))

		err := httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	s.logger.Info("shutting down HTTP server")

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		s.logger.Warn("HTTP server shutdown error",
			slog.String("error", err.Error()))
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}
