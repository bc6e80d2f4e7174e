// Package httpapi exposes the auth service over HTTP/JSON.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ajuno-labs/codex-api/internal/logging"
	"github.com/ajuno-labs/codex-api/internal/server/health"
	"github.com/ajuno-labs/codex-api/internal/server/models"
	"github.com/ajuno-labs/codex-api/internal/server/services"
	"github.com/ajuno-labs/codex-api/internal/timex"
)

// AuthService is the part of services.AuthService the handlers use.
type AuthService interface {
	Register(ctx context.Context, email, password string, client services.ClientInfo) (*services.TokenPair, error)
	Login(ctx context.Context, email, password string, client services.ClientInfo) (*services.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string, client services.ClientInfo) (*services.TokenPair, error)
	Logout(ctx context.Context, refreshToken string)
	OAuthURL(ctx context.Context, provider string) (string, error)
	FederatedLogin(ctx context.Context, provider, code, state string, client services.ClientInfo) (*services.TokenPair, error)
	CurrentAccount(ctx context.Context, accessToken string) (*models.Account, error)
	DeleteAccount(ctx context.Context, accountID string) error
}

type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

type Options struct {
	Address        string
	ServiceName    string
	AccessTTL      time.Duration
	RequestTimeout time.Duration
	AllowedOrigins []string
	// Metrics, when set, is served at /metrics.
	Metrics http.Handler
	Clock   timex.Clock
}

const shutdownTimeout = 10 * time.Second

type HTTPServer struct {
	opts      Options
	auth      AuthService
	health    HealthChecker
	transport CredentialTransport
	logger    logging.Logger
}

func NewHTTPServer(opts Options, as AuthService, hc HealthChecker, t CredentialTransport, l logging.Logger) *HTTPServer {
	if opts.ServiceName == "" {
		opts.ServiceName = "codex-api"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = timex.Now
	}
	if l == nil {
		l = logging.Nop{}
	}
	return &HTTPServer{
		opts:      opts,
		auth:      as,
		health:    hc,
		transport: t,
		logger:    l.With("module", "http_server"),
	}
}

// Handler builds the full route tree.
func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.opts.RequestTimeout))

	if len(s.opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           int((10 * time.Minute).Seconds()),
		}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ping", s.handlePing)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/logout", s.handleLogout)
			r.Get("/oauth/{provider}/url", s.handleOAuthURL)
		})

		r.Get("/oauth/{provider}/callback", s.handleOAuthCallback)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAccessToken)
			r.Get("/user", s.handleGetUser)
			r.Delete("/user", s.handleDeleteUser)
		})
	})

	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	return otelhttp.NewHandler(r, s.opts.ServiceName)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *HTTPServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	stopped := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		stopped <- srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return <-stopped
}
