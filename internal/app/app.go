// Package app wires the configured stores, the revocation ledger, the rate
// limiter, the token manager and the account service into one router.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"gatekeeper/internal/account"
	"gatekeeper/internal/api"
	"gatekeeper/internal/database"
	"gatekeeper/internal/gate"
	"gatekeeper/internal/janitor"
	"gatekeeper/internal/models"
	"gatekeeper/internal/observability"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/revocation"
	"gatekeeper/internal/security"
	"gatekeeper/internal/storage"
	"gatekeeper/internal/token"
)

// App is a fully wired gatekeeper instance.
type App struct {
	Router   http.Handler
	Tokens   *token.Manager
	Ledger   *revocation.Ledger
	Limiter  *ratelimit.Limiter // nil when rate limiting is disabled
	Accounts *account.Service
	// Checks ping every store this instance depends on.
	Checks []api.HealthCheck

	conns    *database.Connections
	janitors []*janitor.Janitor
	logger   *slog.Logger
}

// New opens the connections cfg selects and builds every component on them.
// Shared connections are opened once; stores that select the same backend
// share a client.
func New(ctx context.Context, cfg *models.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.UsesDatabase() && cfg.Database.AutoMigrate {
		if err := database.MigrateUp(cfg.Database.Driver, cfg.Database.DSN); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("Database migrations applied", "driver", cfg.Database.Driver)
	}

	a.conns, err = database.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open connections: %w", err)
	}

	users, err := a.userStore(cfg)
	if err != nil {
		return nil, err
	}

	revStore, err := a.revocationStore(cfg)
	if err != nil {
		return nil, err
	}
	a.Ledger = revocation.NewLedger(revStore,
		revocation.WithTracking(cfg.Security.Revocation.TrackIssued),
		revocation.WithFailOpen(cfg.Security.Revocation.FailOpen),
		revocation.WithStoreTimeout(cfg.Security.Revocation.StoreTimeout),
		revocation.WithLogger(logger),
	)
	if cfg.Security.Revocation.TrackIssued && !a.Ledger.TracksIssued() {
		logger.Warn("Revocation store cannot index tokens per principal; revoke-all is disabled",
			"backend", cfg.Security.Revocation.Backend)
	}

	if cfg.Security.RateLimit.Enabled {
		a.Limiter, err = a.limiter(cfg)
		if err != nil {
			return nil, err
		}
	}

	a.Tokens, err = token.NewManager(token.ConfigFromModel(cfg.Security.JWT), a.Ledger, token.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create token manager: %w", err)
	}

	a.Accounts = account.NewService(users, security.NewHasher(cfg.Security.PasswordCost), a.Tokens, a.Ledger, logger)
	if admin := cfg.Security.BootstrapAdmin; admin.Email != "" {
		if err := a.Accounts.EnsureAdmin(ctx, admin.Email, admin.Password); err != nil {
			return nil, fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	a.Router = a.router(cfg, users)
	return a, nil
}

func (a *App) userStore(cfg *models.Config) (storage.UserStore, error) {
	users, err := storage.NewUserStore(cfg.Storage.Type, a.conns)
	if err != nil {
		return nil, fmt.Errorf("create user store: %w", err)
	}
	if !cfg.Metrics.Enabled {
		return users, nil
	}
	instrumented, err := observability.NewInstrumentedUserStore(users)
	if err != nil {
		return nil, fmt.Errorf("instrument user store: %w", err)
	}
	return instrumented, nil
}

func (a *App) revocationStore(cfg *models.Config) (revocation.Store, error) {
	rc := cfg.Security.Revocation
	store, err := revocation.NewStore(rc.Backend, a.conns)
	if err != nil {
		return nil, fmt.Errorf("create revocation store: %w", err)
	}
	a.startJanitor("revocation", store, rc.CleanupInterval)

	if !cfg.Metrics.Enabled {
		return store, nil
	}
	instrumented, err := observability.NewInstrumentedRevocationStore(store)
	if err != nil {
		return nil, fmt.Errorf("instrument revocation store: %w", err)
	}
	return instrumented, nil
}

func (a *App) limiter(cfg *models.Config) (*ratelimit.Limiter, error) {
	rc := cfg.Security.RateLimit
	store, err := ratelimit.NewStore(rc.Backend, a.conns)
	if err != nil {
		return nil, fmt.Errorf("create rate limit store: %w", err)
	}
	a.startJanitor("ratelimit", store, rc.CleanupInterval)

	opts := []ratelimit.Option{
		ratelimit.WithFailOpen(rc.FailOpen),
		ratelimit.WithStoreTimeout(rc.StoreTimeout),
		ratelimit.WithLogger(a.logger),
	}
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedBucketStore(store)
		if err != nil {
			return nil, fmt.Errorf("instrument rate limit store: %w", err)
		}
		store = instrumented

		decisions, err := observability.NewDecisionMetrics()
		if err != nil {
			return nil, fmt.Errorf("create decision metrics: %w", err)
		}
		opts = append(opts, ratelimit.WithRecorder(decisions))
	}

	limiter, err := ratelimit.NewLimiter(store, ratelimit.PoliciesFromConfig(rc.Policies), opts...)
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}
	return limiter, nil
}

// startJanitor sweeps stores that keep expired rows until purged. Redis
// expires keys itself and is skipped.
func (a *App) startJanitor(name string, store any, interval time.Duration) {
	purger, ok := store.(janitor.Purger)
	if !ok {
		return
	}
	if j := janitor.Start(name, purger, interval, a.logger); j != nil {
		a.janitors = append(a.janitors, j)
	}
}

func (a *App) router(cfg *models.Config, users storage.UserStore) http.Handler {
	// a nil *Limiter must not reach the gate as a non-nil interface
	var limiter gate.Limiter
	a.Checks = []api.HealthCheck{
		{Name: "users", Ping: users.Ping},
		{Name: "revocation", Ping: a.Ledger.Ping},
	}
	handlerOpts := []api.HandlerOption{
		api.WithTokenAdmin(a.Tokens, a.Ledger),
		api.WithUploads(cfg.Uploads),
	}
	if a.Limiter != nil {
		limiter = a.Limiter
		a.Checks = append(a.Checks, api.HealthCheck{Name: "rate_limit", Ping: a.Limiter.Ping})
		handlerOpts = append(handlerOpts, api.WithRateLimitAdmin(a.Limiter))
	}
	handlerOpts = append(handlerOpts, api.WithHealthChecks(a.Checks...))

	g := gate.New(a.Tokens, limiter,
		gate.WithTrustProxyHeaders(cfg.Server.TrustProxyHeaders),
		gate.WithLogger(a.logger),
	)

	var routeOpts []api.RouteOption
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	return api.SetupRoutes(api.NewHandlers(a.Accounts, handlerOpts...), g, cfg, routeOpts...)
}

// Close stops the janitors and releases the shared connections. It is safe
// to call on a partially built App.
func (a *App) Close() error {
	for _, j := range a.janitors {
		j.Close()
	}
	a.janitors = nil

	var errs []error
	if a.conns != nil {
		errs = append(errs, a.conns.Close())
		a.conns = nil
	}
	return errors.Join(errs...)
}
