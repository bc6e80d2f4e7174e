// Package server wires the codex-api components together and runs them:
// storage, the token engine and auth service, the HTTP API, tracing and the
// optional ledger janitor.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ajuno-labs/codex-api/internal/cryptox"
	"github.com/ajuno-labs/codex-api/internal/logging"
	"github.com/ajuno-labs/codex-api/internal/server/auth"
	"github.com/ajuno-labs/codex-api/internal/server/config"
	"github.com/ajuno-labs/codex-api/internal/server/health"
	"github.com/ajuno-labs/codex-api/internal/server/httpapi"
	"github.com/ajuno-labs/codex-api/internal/server/kv"
	"github.com/ajuno-labs/codex-api/internal/server/metrics"
	"github.com/ajuno-labs/codex-api/internal/server/oauth"
	"github.com/ajuno-labs/codex-api/internal/server/repositories/repomanager"
	"github.com/ajuno-labs/codex-api/internal/server/services"
	"github.com/ajuno-labs/codex-api/internal/server/telemetry"
)

const serviceName = "codex-api"

// Version is stamped at build time with -ldflags "-X ...server.Version=...".
var Version = "dev"

type App struct {
	config  *config.Config
	logger  logging.Logger
	repos   repomanager.RepositoryManager
	cache   kv.Store
	engine  *services.TokenEngine
	auth    *services.AuthService
	checker *health.Checker
	metrics http.Handler
	tracing telemetry.Shutdown
}

// OpenRepositories connects the configured storage backend and brings its
// schema up to date.
func OpenRepositories(ctx context.Context, c *config.Config) (repomanager.RepositoryManager, error) {
	switch c.Storage {
	case config.StorageMemory:
		return repomanager.NewMemoryRepositoryManager(), nil
	case config.StoragePostgres:
		db, err := repomanager.Open(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		m := repomanager.NewPostgresRepositoryManager(db)
		if err := m.RunMigrations(ctx); err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("db migration error: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown storage %q", c.Storage)
	}
}

func openCache(ctx context.Context, c *config.Config) (kv.Store, error) {
	if c.RedisAddr == "" {
		return kv.NewMemory(), nil
	}
	r, err := kv.NewRedis(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB, serviceName+":")
	if err != nil {
		return nil, fmt.Errorf("redis init error: %w", err)
	}
	return r, nil
}

func providers(c *config.Config) *oauth.Registry {
	var ps []oauth.Provider
	if c.Google.ClientID != "" {
		ps = append(ps, oauth.NewGoogle(c.Google.ClientID, c.Google.ClientSecret, c.Google.RedirectURL))
	}
	if c.GitHub.ClientID != "" {
		ps = append(ps, oauth.NewGitHub(c.GitHub.ClientID, c.GitHub.ClientSecret, c.GitHub.RedirectURL))
	}
	return oauth.NewRegistry(ps...)
}

// NewTokenEngine builds the engine from config; the maintenance CLI uses it
// without the rest of the app.
func NewTokenEngine(c *config.Config, repos repomanager.RepositoryManager, logger logging.Logger, m *metrics.Metrics) (*services.TokenEngine, error) {
	signer, err := auth.NewSigner([]byte(c.SecretKey), auth.WithIssuer(serviceName))
	if err != nil {
		return nil, fmt.Errorf("signer init error: %w", err)
	}
	return services.NewTokenEngine(repos, signer, services.EngineConfig{
		AccessTTL:     c.AccessTokenValidityDuration,
		RefreshTTL:    c.RefreshTokenValidityDuration,
		LedgerTimeout: c.LedgerTimeout,
	}, logger, m), nil
}

func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.NewJSON(os.Stdout, c.LogLevel)
	}

	app := &App{config: c, logger: logger}
	if err := app.init(ctx); err != nil {
		app.close(ctx)
		return nil, err
	}
	return app, nil
}

func (app *App) init(ctx context.Context) error {
	c := app.config
	var err error

	if app.tracing, err = telemetry.Init(ctx, serviceName, c.OTLPEndpoint); err != nil {
		return err
	}
	if app.repos, err = OpenRepositories(ctx, c); err != nil {
		return err
	}
	if app.cache, err = openCache(ctx, c); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	app.metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})

	if app.engine, err = NewTokenEngine(c, app.repos, app.logger, m); err != nil {
		return err
	}

	hasher, err := cryptox.NewHasher(cryptox.DefaultParams())
	if err != nil {
		return fmt.Errorf("hasher init error: %w", err)
	}

	verifier := services.NewCredentialVerifier(app.repos, hasher, nil, app.logger)
	registry := providers(c)
	app.auth = services.NewAuthService(app.engine, verifier, hasher, registry, app.cache, app.logger, m)

	required := map[string]string{"JWT_SECRET": c.SecretKey}
	if c.Storage == config.StoragePostgres {
		required["DB_DSN"] = c.DatabaseDSN
	}
	app.checker = health.NewChecker(app.repos, app.cache, health.Options{
		Version:   Version,
		Required:  required,
		Providers: registry.Names(),
		DiskPath:  c.HealthDiskPath,
		Logger:    app.logger,
	})

	return nil
}

func (app *App) httpServer() *httpapi.HTTPServer {
	c := app.config
	transport := httpapi.CookieTransport{
		Name:   c.CookieName,
		Path:   c.CookiePath,
		Domain: c.CookieDomain,
		Secure: c.CookieSecure,
		MaxAge: c.RefreshTokenValidityDuration,
	}
	return httpapi.NewHTTPServer(httpapi.Options{
		Address:        c.HTTPAddr,
		ServiceName:    serviceName,
		AccessTTL:      c.AccessTokenValidityDuration,
		AllowedOrigins: c.AllowedOrigins,
		Metrics:        app.metrics,
	}, app.auth, app.checker, transport, app.logger)
}

// initSignalHandler cancels on SIGINT/SIGTERM/SIGQUIT. The returned channel
// is closed once the handler goroutine has stopped listening.
func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) <-chan struct{} {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer signal.Stop(sigs)

		select {
		case <-sigs:
			cancelFunc()
		case <-ctx.Done():
		}
	}()
	return done
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.httpServer().Run(ctx); err != nil {
		app.logger.Error(ctx, "http server failed", "error", err)
		cancelFunc()
	}
}

// startJanitor purges long-expired ledger records every PurgeInterval.
func (app *App) startJanitor(ctx context.Context) {
	t := time.NewTicker(app.config.PurgeInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := app.engine.Purge(ctx, app.config.PurgeRetention)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					app.logger.Error(ctx, "refresh token purge failed", "error", err)
				}
				continue
			}
			if n > 0 {
				app.logger.Info(ctx, "purged expired refresh tokens", "count", n)
			}
		}
	}
}

// Run blocks until ctx is cancelled or a termination signal arrives.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "version", Version, "storage", app.config.Storage)

	signalsDone := app.initSignalHandler(ctx, cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	if app.config.PurgeInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startJanitor(ctx)
		}()
	}

	wg.Wait()
	cancelFunc()
	<-signalsDone

	app.close(context.WithoutCancel(ctx))
	app.logger.Info(ctx, "App stopped")
}

func (app *App) close(ctx context.Context) {
	if app.tracing != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := app.tracing(shutdownCtx); err != nil {
			app.logger.Error(ctx, "tracing shutdown failed", "error", err)
		}
		cancel()
	}
	if app.cache != nil {
		_ = app.cache.Close()
	}
	if app.repos != nil {
		if err := app.repos.Close(); err != nil {
			app.logger.Error(ctx, "storage close failed", "error", err)
		}
	}
}
