package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/wisbric/orchestra/internal/admission"
	"github.com/wisbric/orchestra/internal/audit"
	"github.com/wisbric/orchestra/internal/auth"
	"github.com/wisbric/orchestra/internal/config"
	"github.com/wisbric/orchestra/internal/crypto"
	"github.com/wisbric/orchestra/internal/db"
	"github.com/wisbric/orchestra/internal/httpserver"
	"github.com/wisbric/orchestra/internal/platform"
	"github.com/wisbric/orchestra/internal/seed"
	"github.com/wisbric/orchestra/internal/supervisor"
	"github.com/wisbric/orchestra/internal/telemetry"
	"github.com/wisbric/orchestra/internal/version"
	"github.com/wisbric/orchestra/pkg/apikey"
	"github.com/wisbric/orchestra/pkg/connection"
	"github.com/wisbric/orchestra/pkg/connector"
	"github.com/wisbric/orchestra/pkg/execution"
	"github.com/wisbric/orchestra/pkg/executor"
	"github.com/wisbric/orchestra/pkg/member"
	"github.com/wisbric/orchestra/pkg/orgconfig"
	"github.com/wisbric/orchestra/pkg/pat"
	"github.com/wisbric/orchestra/pkg/queue"
	"github.com/wisbric/orchestra/pkg/resume"
	"github.com/wisbric/orchestra/pkg/trigger/polling"
	"github.com/wisbric/orchestra/pkg/trigger/webhook"
	"github.com/wisbric/orchestra/pkg/workflow"
)

// Run is the main application entry point. It reads infrastructure
// dependencies from cfg and starts the mode selected by cfg.Mode: "api"
// serves the HTTP surface, "worker" runs the execution fleet and trigger
// dispatchers, and "seed" provisions a development organization and exits.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger.Info("starting orchestra", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "orchestra", version.Version)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer", "error", err)
		}
	}()

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer rdb.Close()

	if err := platform.RunGlobalMigrations(cfg.DatabaseURL, cfg.MigrationsGlobalDir); err != nil {
		return fmt.Errorf("running global migrations: %w", err)
	}

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	cryptoSvc, err := newCryptoService(ctx, cfg, pool, logger)
	if err != nil {
		return fmt.Errorf("constructing crypto service: %w", err)
	}

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, pool, rdb, metricsReg, cryptoSvc)
	case "worker":
		return runWorker(ctx, cfg, logger, pool, rdb, cryptoSvc)
	case "seed":
		return seed.Run(ctx, pool, cryptoSvc, cfg.DatabaseURL, cfg.MigrationsOrgDir, logger)
	default:
		return fmt.Errorf("unknown ORCHESTRA_MODE %q", cfg.Mode)
	}
}

// newCryptoService wires the KMS-backed (or local, dev-mode) key manager and
// the database-backed key record store into the envelope encryption
// service shared by connections, resume tokens, and Apps Script callbacks.
func newCryptoService(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) (*crypto.Service, error) {
	km, err := crypto.NewKeyManager(ctx, cfg.KMSProvider, cfg.EncryptionMasterKey, cfg.KMSKeyARN, cfg.KMSKeyResourceName)
	if err != nil {
		return nil, fmt.Errorf("constructing key manager: %w", err)
	}

	var legacyKey []byte
	if cfg.EncryptionMasterKey != "" {
		legacyKey, err = crypto.DeriveLegacyKey(cfg.EncryptionMasterKey)
		if err != nil {
			return nil, fmt.Errorf("deriving legacy key: %w", err)
		}
	}

	return crypto.NewService(km, db.New(pool), legacyKey, cfg.JWTSecret, legacyKey, !cfg.IsProduction(), logger), nil
}

// buildQueue constructs the execution queue driver selected by
// cfg.QueueDriver.
func buildQueue(cfg *config.Config, rdb *redis.Client, consumer string, logger *slog.Logger) (queue.Queue, error) {
	ackDeadline, err := time.ParseDuration(cfg.QueueAckDeadline)
	if err != nil {
		return nil, fmt.Errorf("parsing QUEUE_ACK_DEADLINE: %w", err)
	}
	q, err := queue.New(cfg.QueueDriver, rdb, consumer, ackDeadline, logger)
	if err != nil {
		return nil, fmt.Errorf("constructing queue driver: %w", err)
	}
	return q, nil
}

// runAPI starts the HTTP API surface: session/OIDC/PAT/API-key
// authentication, the organization-scoped domain routes, and the
// unauthenticated-by-signature webhook and resume ingress routes.
func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, cryptoSvc *crypto.Service) error {
	sessionSecret := cfg.JWTSecret
	if sessionSecret == "" {
		if cfg.IsProduction() {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		sessionSecret = auth.GenerateDevSecret()
		logger.Warn("JWT_SECRET not set, generated an ephemeral dev secret; sessions will not survive a restart")
	}

	sessionMaxAge, err := time.ParseDuration(cfg.SessionMaxAge)
	if err != nil {
		return fmt.Errorf("parsing ORCHESTRA_SESSION_MAX_AGE: %w", err)
	}
	sessionMgr, err := auth.NewSessionManager(sessionSecret, sessionMaxAge)
	if err != nil {
		return fmt.Errorf("constructing session manager: %w", err)
	}

	var oidcAuth *auth.OIDCAuthenticator
	var oauth2Cfg *oauth2.Config
	if cfg.OIDCIssuerURL != "" {
		provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
		if err != nil {
			return fmt.Errorf("discovering OIDC provider: %w", err)
		}
		oidcAuth = &auth.OIDCAuthenticator{Verifier: provider.Verifier(&oidc.Config{ClientID: cfg.OIDCClientID})}
		oauth2Cfg = &oauth2.Config{
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		}
	}

	authenticator := auth.NewAuthenticator(pool, sessionMgr, oidcAuth, !cfg.IsProduction())
	srv := httpserver.NewServer(cfg, logger, pool, rdb, metricsReg, authenticator)
	srv.Router.Get("/status", srv.HandleStatus)

	auditWriter := audit.NewWriter(pool, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	q, err := buildQueue(cfg, rdb, "api", logger)
	if err != nil {
		return err
	}

	invoker := connector.NewMock()
	admissionSvc := admission.NewService(pool, logger)

	rateLimiter := auth.NewRateLimiter(rdb, 5, 15*time.Minute)
	loginHandler := auth.NewLoginHandler(sessionMgr, pool, logger, oidcAuth != nil, rateLimiter)
	srv.Router.Post("/auth/login", loginHandler.HandleLogin)
	srv.Router.Get("/auth/config", loginHandler.HandleAuthConfig)
	srv.Router.Get("/auth/me", loginHandler.HandleMe)
	srv.Router.Post("/auth/logout", loginHandler.HandleLogout)

	if oauth2Cfg != nil {
		oidcFlow := auth.NewOIDCFlowHandler(oauth2Cfg, oidcAuth, sessionMgr, pool, rdb, logger)
		srv.Router.Get("/auth/oidc/login", oidcFlow.HandleLogin)
		srv.Router.Get("/auth/oidc/callback", oidcFlow.HandleCallback)
	}

	// Webhook delivery receipt and resume-token consumption authenticate by
	// provider signature / signed token rather than session or API key, so
	// they are mounted on the base router ahead of the /api auth chain.
	webhookHandler := webhook.NewHandler(pool, q, logger)
	srv.Router.Mount("/", webhookHandler.PublicRoutes())
	resumeHandler := resume.NewHandler(pool, cryptoSvc, cfg.ServerPublicURL, q, logger)
	srv.Router.Mount("/", resumeHandler.PublicRoutes())

	// Organization-scoped domain routes, gated by the organization's
	// IP/domain allowlist once the caller's identity and organization are
	// resolved.
	srv.APIRouter.Group(func(r chi.Router) {
		r.Use(orgconfig.EnforceIPAllowlist(orgconfig.FromRequestContext))
		r.Use(orgconfig.EnforceDomainAllowlist(orgconfig.FromRequestContext))

		r.Mount("/members", member.NewHandler(logger, auditWriter).Routes())
		r.With(auth.RequireMinRole(auth.RoleAdmin)).Mount("/organization/security", orgconfig.NewHandler(logger, auditWriter).Routes())
		r.Mount("/workflows", workflow.NewHandler(logger).Routes())
		r.Mount("/connections", connection.NewHandler(cryptoSvc, invoker, auditWriter, logger, cfg.AllowFileConnectionStore, cfg.ConnectionStorePath).Routes())
		r.Mount("/executions", execution.NewHandler(pool, q, admissionSvc, logger).Routes())
		r.Mount("/", webhookHandler.Routes())
		r.Mount("/", polling.NewHandler(logger).Routes())

		oidcAdmin := auth.NewOIDCAdminHandler(pool, logger, cfg.JWTSecret)
		r.Route("/admin/oidc", func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleOwner))
			r.Get("/config", oidcAdmin.HandleGetOIDCConfig)
			r.Put("/config", oidcAdmin.HandleUpdateOIDCConfig)
			r.Post("/test", oidcAdmin.HandleTestOIDCConnection)
		})
		r.With(auth.RequireRole(auth.RoleOwner)).Post("/admin/local-admin/reset", oidcAdmin.HandleResetLocalAdmin)
	})

	// API keys (global schema) and personal access tokens (organization
	// schema) sit outside the allowlist group, but still require the
	// identity and organization resolved by the same /api auth chain.
	srv.APIRouter.Mount("/apikeys", apikey.NewHandler(logger, auditWriter, pool).Routes())
	srv.APIRouter.Mount("/tokens", pat.NewHandler(logger).Routes())

	supervisorSvc := supervisor.New(pool, q, cfg.QueueDriver, false, 10*time.Second)
	srv.Router.Get("/readyz/queue", supervisorSvc.HandleQueueHealth)
	srv.Router.Get("/health/queue", supervisorSvc.HandleQueueHealth)
	srv.Router.Get("/api/production/queue/heartbeat", supervisorSvc.HandleQueueHealth)
	srv.Router.Get("/api/production/ready", supervisorSvc.HandleReady)

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: srv,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runWorker starts the execution fleet and the polling trigger dispatcher.
// Webhook and resume triggers are enqueued directly by the API process;
// this mode only drains the queue and polls registered sources.
func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client, cryptoSvc *crypto.Service) error {
	q, err := buildQueue(cfg, rdb, "worker", logger)
	if err != nil {
		return err
	}

	invoker := connector.NewMock()
	admissionSvc := admission.NewService(pool, logger)

	exec := executor.NewExecutor(pool, q, invoker, admissionSvc, cryptoSvc, cfg.ServerPublicURL, logger)
	supervisorSvc := supervisor.New(pool, q, cfg.QueueDriver, false, 10*time.Second)

	fleet := executor.NewFleet("worker", 8, q, exec, supervisorSvc, logger)

	tickInterval, err := time.ParseDuration(cfg.TimerTickInterval)
	if err != nil {
		return fmt.Errorf("parsing TIMER_TICK_INTERVAL: %w", err)
	}
	dispatcher := polling.NewDispatcher(pool, cryptoSvc, invoker, q, logger, 50)
	go dispatcher.RunLoop(ctx, tickInterval)

	logger.Info("worker fleet starting")
	fleet.Run(ctx)
	return nil
}
