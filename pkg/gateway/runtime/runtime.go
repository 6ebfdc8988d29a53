// Package runtime composes configuration, the trust registry, the route table,
// the token issuer, the forwarder and the HTTP server into a controllable
// lifecycle suitable for CLIs, services, or embedding. It exposes helpers to
// start, wait and shut down the gateway.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/theroutercompany/quiz_gateway/internal/platform/health"
	gatewayauth "github.com/theroutercompany/quiz_gateway/pkg/gateway/auth"
	gatewayconfig "github.com/theroutercompany/quiz_gateway/pkg/gateway/config"
	gatewaymetrics "github.com/theroutercompany/quiz_gateway/pkg/gateway/metrics"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/openapi"
	gatewayproxy "github.com/theroutercompany/quiz_gateway/pkg/gateway/proxy"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/routes"
	gatewayserver "github.com/theroutercompany/quiz_gateway/pkg/gateway/server"
	gatewaymiddleware "github.com/theroutercompany/quiz_gateway/pkg/gateway/server/middleware"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/trust"
	pkglog "github.com/theroutercompany/quiz_gateway/pkg/log"
)

var (
	// ErrAlreadyRunning indicates the runtime is already serving requests.
	ErrAlreadyRunning = errors.New("runtime already running")
	// ErrNotRunning indicates the runtime has not been started yet.
	ErrNotRunning = errors.New("runtime not running")
)

// Runtime orchestrates the HTTP server lifecycle based on gateway configuration.
type Runtime struct {
	mu sync.Mutex

	cfg      gatewayconfig.Config
	table    *routes.Table
	server   *gatewayserver.Server
	checker  *health.Checker
	registry *gatewaymetrics.Registry
	clients  *gatewayproxy.Clients
	logger   pkglog.Logger

	cancel context.CancelFunc
	errCh  chan error
}

// Option customises runtime behaviour.
type Option func(*Runtime)

// WithLogger overrides the logger used by the runtime and underlying server.
func WithLogger(logger pkglog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New builds every component from cfg, which is expected to come from
// config.Load. Startup configuration errors (missing secret, unknown service,
// bad TLS material) surface here.
func New(cfg gatewayconfig.Config, opts ...Option) (*Runtime, error) {
	rt := &Runtime{
		cfg:    cfg,
		logger: pkglog.Shared(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(rt)
		}
	}

	comps, err := buildComponents(cfg, rt.logger)
	if err != nil {
		return nil, err
	}

	rt.table = comps.table
	rt.server = comps.server
	rt.checker = comps.checker
	rt.registry = comps.registry
	rt.clients = comps.clients

	return rt, nil
}

// Start begins serving in the background until the supplied context is cancelled or Shutdown is called.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.errCh != nil {
		return ErrAlreadyRunning
	}

	if ctx == nil {
		ctx = context.Background()
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.errCh = make(chan error, 1)

	r.logger.Infow("gateway starting",
		"port", r.cfg.HTTP.Port,
		"routes", r.table.Len(),
		"services", r.table.Services(),
		"ops", r.cfg.Ops.Enabled,
	)

	errCh := r.errCh
	go func() {
		errCh <- r.server.Start(runCtx)
		close(errCh)
	}()

	return nil
}

// Wait blocks until the runtime stops and returns the terminal error, normalising context cancellation to nil.
func (r *Runtime) Wait() error {
	r.mu.Lock()
	errCh := r.errCh
	r.mu.Unlock()

	if errCh == nil {
		return ErrNotRunning
	}

	err := <-errCh
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	r.mu.Lock()
	r.errCh = nil
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()

	r.clients.CloseIdleConnections()
	return err
}

// Run starts the runtime and waits for completion.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	return r.Wait()
}

// Shutdown gracefully stops the runtime if it is running.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.server == nil || r.errCh == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if r.cancel != nil {
		r.cancel()
	}

	return r.server.Shutdown(ctx)
}

// Config returns the runtime's configuration.
func (r *Runtime) Config() gatewayconfig.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Table returns the resolved route table.
func (r *Runtime) Table() *routes.Table {
	return r.table
}

// Handler returns the public handler with the full middleware chain.
func (r *Runtime) Handler() http.Handler {
	return r.server.Handler()
}

// OpsHandler returns the operations handler, or nil when disabled.
func (r *Runtime) OpsHandler() http.Handler {
	return r.server.OpsHandler()
}

// Readiness probes every backend once.
func (r *Runtime) Readiness(ctx context.Context) health.Report {
	return r.checker.Readiness(ctx)
}

type components struct {
	table    *routes.Table
	server   *gatewayserver.Server
	checker  *health.Checker
	registry *gatewaymetrics.Registry
	clients  *gatewayproxy.Clients
}

func buildComponents(cfg gatewayconfig.Config, logger pkglog.Logger) (components, error) {
	if logger == nil {
		logger = pkglog.Shared()
	}

	secrets, err := trust.NewRegistry(cfg.Secrets())
	if err != nil {
		return components{}, fmt.Errorf("service secrets: %w", err)
	}

	table, err := routes.Build(cfg, secrets)
	if err != nil {
		return components{}, fmt.Errorf("route table: %w", err)
	}

	clients, err := gatewayproxy.NewClients(cfg.Services, cfg.Forward.Timeout.AsDuration())
	if err != nil {
		return components{}, fmt.Errorf("backend clients: %w", err)
	}

	issuer, err := gatewayauth.NewIssuer(cfg.Auth)
	if err != nil {
		return components{}, fmt.Errorf("token issuer: %w", err)
	}

	userService, ok := cfg.Service(routes.ServiceUser)
	if !ok {
		return components{}, fmt.Errorf("service %s must be configured for login", routes.ServiceUser)
	}
	checker := gatewayauth.NewUserServiceClient(clients.For(userService.Name), userService.BaseURL, userService.Name, userService.Secret)
	tokens := gatewayauth.NewService(issuer, checker)

	var registry *gatewaymetrics.Registry
	if cfg.Metrics.Enabled {
		registry = gatewaymetrics.NewRegistry(gatewaymetrics.WithVersion(cfg.Version))
	}
	collectors := gatewaymetrics.NewGateway(registry)

	forwarder := gatewayproxy.New(clients, secrets,
		gatewayproxy.WithLogger(logger),
		gatewayproxy.WithMetrics(collectors),
		gatewayproxy.WithTraceID(gatewaymiddleware.TraceID),
		gatewayproxy.WithRetryIdempotent(cfg.Forward.RetryIdempotent),
		gatewayproxy.WithMaxFormBytes(cfg.Forward.MaxBodyBytes),
	)

	upstreams := make([]health.Upstream, 0, len(cfg.Services))
	for _, svc := range cfg.Services {
		upstreams = append(upstreams, health.Upstream{
			Name:       svc.Name,
			BaseURL:    svc.BaseURL,
			HealthPath: "/" + svc.Name + svc.HealthPath,
			Secret:     svc.Secret,
		})
	}
	healthChecker := health.NewChecker(clients, upstreams, cfg.Readiness.Timeout.AsDuration(), cfg.Readiness.UserAgent)

	docs := openapi.NewService(table,
		openapi.WithVersion(cfg.Version),
		openapi.WithFragments(cfg.OpenAPI.Fragments...),
	)

	srv, err := gatewayserver.New(cfg, table, secrets, tokens, forwarder,
		gatewayserver.WithLogger(logger),
		gatewayserver.WithReadiness(healthChecker),
		gatewayserver.WithMetrics(registry, collectors),
		gatewayserver.WithOpenAPIProvider(docs),
	)
	if err != nil {
		return components{}, fmt.Errorf("server: %w", err)
	}

	return components{
		table:    table,
		server:   srv,
		checker:  healthChecker,
		registry: registry,
		clients:  clients,
	}, nil
}
