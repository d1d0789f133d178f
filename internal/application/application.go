package application

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eugenenazirov/secure-webapp/internal/api"
	"github.com/eugenenazirov/secure-webapp/internal/config"
	"github.com/eugenenazirov/secure-webapp/internal/environment"
	"github.com/eugenenazirov/secure-webapp/internal/metrics"
	"github.com/eugenenazirov/secure-webapp/internal/pages"
	"github.com/eugenenazirov/secure-webapp/internal/secretstore"
	"github.com/eugenenazirov/secure-webapp/internal/settings"
)

// App encapsulates the application dependencies and HTTP servers.
type App struct {
	cfg      config.Config
	mode     environment.Mode
	settings *settings.Store
	metrics  *metrics.Metrics
	handler  http.Handler
	stages   []string
	logger   *zap.Logger

	server        *http.Server
	tlsServer     *http.Server
	metricsServer *http.Server
	addr          net.Addr
}

// Option customises New.
type Option func(*options)

type options struct {
	loader     secretstore.Loader
	authorizer api.Authorizer
	clock      func() time.Time
}

// WithSecretLoader replaces the Azure Key Vault loader.
func WithSecretLoader(l secretstore.Loader) Option {
	return func(o *options) {
		o.loader = l
	}
}

// WithAuthorizer sets the request authorization policy.
func WithAuthorizer(a api.Authorizer) Option {
	return func(o *options) {
		o.authorizer = a
	}
}

// WithClock overrides the time source used by the health endpoint.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// New runs the startup sequence: settings, optional secret store, pages and
// the middleware pipeline. A secret store failure aborts startup before any
// listener is bound.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	o := options{
		authorizer: api.AllowAnonymous{},
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.loader == nil {
		o.loader = secretstore.NewKeyVaultLoader(logger)
	}

	mode := cfg.Mode()
	logger.Info("starting", zap.String("environment", mode.String()))

	store := settings.New(cfg.Settings)
	loaded, err := LoadConfiguration(ctx, mode, store, o.loader, cfg.SecretStoreTimeout, logger)
	if err != nil {
		return nil, err
	}
	store.Freeze()

	m := metrics.New()
	m.SecretKeysLoaded.Set(float64(loaded))

	pagesDir, err := resolveProjectPath(cfg.PagesDir)
	if err != nil {
		return nil, fmt.Errorf("locate pages: %w", err)
	}
	webRoot, err := resolveProjectPath(cfg.WebRoot)
	if err != nil {
		return nil, fmt.Errorf("locate web root: %w", err)
	}

	renderer, err := pages.Load(pagesDir, logger, pages.WithDevelopment(mode.IsDevelopment()))
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}

	router := api.NewRouter(api.NewHandler(api.WithClock(o.clock)), renderer, logger,
		api.WithAuthorizer(o.authorizer),
	)
	pipe := BuildPipeline(mode, cfg, webRoot, m, logger)
	handler := pipe.Then(router)

	app := &App{
		cfg:      cfg,
		mode:     mode,
		settings: store,
		metrics:  m,
		handler:  handler,
		stages:   pipe.Stages(),
		logger:   logger,
		server:   NewServer(cfg, handler),
	}
	if cfg.TLS.Enabled() {
		app.tlsServer = NewServer(cfg, handler)
		app.tlsServer.Addr = normalizeAddr(cfg.TLS.Port)
	}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", m.Handler())
		app.metricsServer = &http.Server{
			Addr:              normalizeAddr(cfg.MetricsAddr),
			Handler:           mux,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		}
	}

	logger.Info("pipeline configured",
		zap.Strings("stages", app.stages),
		zap.Strings("pages", renderer.Names()),
		zap.Int("settings", store.Len()),
	)
	logger.Debug("settings keys", zap.Strings("keys", store.Keys()))
	return app, nil
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              normalizeAddr(cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start binds every listener, then serves each in its own goroutine. Bind
// failures are returned; nothing is left listening in that case.
func (a *App) Start() error {
	var cert tls.Certificate
	if a.tlsServer != nil {
		var err error
		cert, err = tls.LoadX509KeyPair(a.cfg.TLS.CertFile, a.cfg.TLS.KeyFile)
		if err != nil {
			return fmt.Errorf("load TLS key pair: %w", err)
		}
	}

	type binding struct {
		server *http.Server
		ln     net.Listener
		tls    bool
	}
	var bound []binding
	bind := func(srv *http.Server, useTLS bool) error {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			for _, b := range bound {
				_ = b.ln.Close()
			}
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		bound = append(bound, binding{server: srv, ln: ln, tls: useTLS})
		return nil
	}

	if err := bind(a.server, false); err != nil {
		return err
	}
	a.addr = bound[0].ln.Addr()
	if a.tlsServer != nil {
		a.tlsServer.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		if err := bind(a.tlsServer, true); err != nil {
			return err
		}
	}
	if a.metricsServer != nil {
		if err := bind(a.metricsServer, false); err != nil {
			return err
		}
	}

	for _, b := range bound {
		go a.serve(b.server, b.ln, b.tls)
	}
	return nil
}

func (a *App) serve(srv *http.Server, ln net.Listener, useTLS bool) {
	a.logger.Info("server listening", zap.String("addr", ln.Addr().String()), zap.Bool("tls", useTLS))

	var err error
	if useTLS {
		err = srv.ServeTLS(ln, "", "")
	} else {
		err = srv.Serve(ln)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Fatal("server error", zap.String("addr", ln.Addr().String()), zap.Error(err))
	}
}

// Shutdown gracefully stops every server, forcing a close on those that do
// not finish before ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	for _, srv := range []*http.Server{a.server, a.tlsServer, a.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn("graceful shutdown failed", zap.String("addr", srv.Addr), zap.Error(err))
			if closeErr := srv.Close(); closeErr != nil {
				errs = append(errs, closeErr)
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Addr returns the bound address of the HTTP listener once Start has succeeded.
func (a *App) Addr() net.Addr {
	return a.addr
}

// Handler returns the full request pipeline.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Stages returns the middleware stage names in execution order.
func (a *App) Stages() []string {
	return append([]string(nil), a.stages...)
}

// Settings returns the read-only settings store.
func (a *App) Settings() *settings.Store {
	return a.settings
}

// Mode returns the environment the app was built for.
func (a *App) Mode() environment.Mode {
	return a.mode
}

// Metrics returns the application's collectors.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

func normalizeAddr(addr string) string {
	if !strings.Contains(addr, ":") {
		return ":" + addr
	}
	return addr
}

// resolveProjectPath locates a file or directory relative to the project root by walking up the directory tree.
func resolveProjectPath(relative string) (string, error) {
	if filepath.IsAbs(relative) {
		if _, err := os.Stat(relative); err != nil {
			return "", err
		}
		return relative, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(dir, relative)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("unable to locate %s", relative)
}
