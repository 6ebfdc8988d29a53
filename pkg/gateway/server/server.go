// Package server exposes the HTTP server wiring for the gateway runtime: the
// dispatch table built from the route table, the token endpoints, the
// middleware chain and the operations listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/theroutercompany/quiz_gateway/internal/platform/health"
	gatewayauth "github.com/theroutercompany/quiz_gateway/pkg/gateway/auth"
	gatewayconfig "github.com/theroutercompany/quiz_gateway/pkg/gateway/config"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/gate"
	gatewaymetrics "github.com/theroutercompany/quiz_gateway/pkg/gateway/metrics"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/openapi"
	gatewayproblem "github.com/theroutercompany/quiz_gateway/pkg/gateway/problem"
	gatewayproxy "github.com/theroutercompany/quiz_gateway/pkg/gateway/proxy"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/routes"
	gatewaymiddleware "github.com/theroutercompany/quiz_gateway/pkg/gateway/server/middleware"
	pkglog "github.com/theroutercompany/quiz_gateway/pkg/log"
)

const (
	loginPath   = "get_token"
	refreshPath = "refresh_token"
)

type readinessReporter interface {
	Readiness(ctx context.Context) health.Report
}

// Forwarder relays a request to its backend and writes the reply.
type Forwarder interface {
	Forward(w http.ResponseWriter, r *http.Request, call gatewayproxy.Call)
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithOpenAPIProvider overrides the default OpenAPI document provider.
func WithOpenAPIProvider(provider openapi.DocumentProvider) Option {
	return func(s *Server) {
		s.openapiProvider = provider
	}
}

// WithReadiness sets the backend readiness prober.
func WithReadiness(checker readinessReporter) Option {
	return func(s *Server) {
		s.healthChecker = checker
	}
}

// WithMetrics exposes registry on the ops listener and records traffic on collectors.
func WithMetrics(registry *gatewaymetrics.Registry, collectors *gatewaymetrics.Gateway) Option {
	return func(s *Server) {
		s.registry = registry
		s.metrics = collectors
	}
}

// WithLogger overrides the logger used by the server. Defaults to the global logger.
func WithLogger(logger pkglog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Server coordinates HTTP routes and lifecycle hooks.
type Server struct {
	cfg             gatewayconfig.Config
	table           *routes.Table
	secrets         gate.SecretVerifier
	gate            *gate.Gate
	tokens          *gatewayauth.Service
	forwarder       Forwarder
	healthChecker   readinessReporter
	openapiProvider openapi.DocumentProvider
	registry        *gatewaymetrics.Registry
	metrics         *gatewaymetrics.Gateway
	rateLimiter     *rateLimiter
	cors            *cors.Cors
	logger          pkglog.Logger
	bootTime        time.Time

	handler    http.Handler
	opsHandler http.Handler
	httpServer *http.Server
	opsServer  *http.Server
}

// New builds the dispatch table (one handler per route and method) and the
// middleware chain around it.
func New(
	cfg gatewayconfig.Config,
	table *routes.Table,
	secrets gate.SecretVerifier,
	tokens *gatewayauth.Service,
	forwarder Forwarder,
	opts ...Option,
) (*Server, error) {
	if table == nil {
		return nil, errors.New("route table is required")
	}
	if tokens == nil {
		return nil, errors.New("token service is required")
	}
	if forwarder == nil {
		return nil, errors.New("forwarder is required")
	}

	s := &Server{
		cfg:         cfg,
		table:       table,
		secrets:     secrets,
		tokens:      tokens,
		forwarder:   forwarder,
		rateLimiter: newRateLimiter(cfg.RateLimit.Window.AsDuration(), cfg.RateLimit.Max),
		cors:        buildCORS(cfg.CORS.AllowedOrigins),
		logger:      pkglog.Shared(),
		bootTime:    time.Now().UTC(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.openapiProvider == nil {
		s.openapiProvider = openapi.NewService(table, openapi.WithVersion(cfg.Version))
	}

	s.gate = gate.New(table.Namespaces(), secrets,
		gate.WithLogger(s.logger),
		gate.WithMetrics(s.metrics),
		gate.WithStatusMapper(gatewayproblem.StatusMapper{Legacy: cfg.Errors.LegacyStatus}),
		gate.WithTraceID(gatewaymiddleware.TraceID),
	)

	router, err := s.mountRoutes()
	if err != nil {
		return nil, err
	}

	rejecter := gatewaymiddleware.Rejecter{Trace: gatewaymiddleware.TraceID, Write: gatewayproblem.Write}

	handler := http.Handler(router)
	handler = gatewaymiddleware.BodyLimit(cfg.Forward.MaxBodyBytes, rejecter)(handler)
	if s.rateLimiter != nil {
		handler = gatewaymiddleware.RateLimit(s.rateLimiter.allow, clientKeyFunc(cfg.RateLimit.TrustForwardedFor), time.Now, rejecter)(handler)
	}
	if s.cors != nil {
		handler = gatewaymiddleware.CORS(s.cors, rejecter)(handler)
	}
	handler = gatewaymiddleware.Recover(s.logger, rejecter)(handler)
	handler = gatewaymiddleware.Logging(gatewaymiddleware.AccessLog{
		Logger:    s.logger,
		Track:     s.trackRequest,
		RequestID: gatewaymiddleware.RequestID,
		TraceID:   gatewaymiddleware.TraceID,
		Client:    gatewaymiddleware.ClientAddr,
	})(handler)
	handler = gatewaymiddleware.SecurityHeaders()(handler)
	handler = gatewaymiddleware.RequestMetadata(gatewaymiddleware.EnsureRequestIDs)(handler)
	http2Server := &http2.Server{}
	handler = h2c.NewHandler(handler, http2Server)

	s.handler = handler
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := http2.ConfigureServer(s.httpServer, http2Server); err != nil {
		s.logger.Errorw("failed to configure http2 server", "error", err)
	}

	if cfg.Ops.Enabled {
		s.opsHandler = gatewaymiddleware.RequestMetadata(gatewaymiddleware.EnsureRequestIDs)(s.mountOps())
		s.opsServer = &http.Server{
			Addr:              cfg.Ops.Listen,
			Handler:           s.opsHandler,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return s, nil
}

// Handler returns the public handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// OpsHandler returns the operations handler, or nil when disabled.
func (s *Server) OpsHandler() http.Handler {
	return s.opsHandler
}

// Start serves the public and operations listeners until the context is
// cancelled or a listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s.httpServer == nil {
		return errors.New("http server not initialised")
	}

	servers := []*http.Server{s.httpServer}
	if s.opsServer != nil {
		servers = append(servers, s.opsServer)
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			s.logger.Infow("http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout.AsDuration())
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			s.logger.Errorw("http server shutdown failed", "error", err)
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		s.logger.Errorw("http server stopped with error", "error", err)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout.AsDuration())
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return err
	}
}

// Shutdown gracefully stops both listeners using the provided context.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.opsServer != nil {
		if err := s.opsServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) mountRoutes() (chi.Router, error) {
	ns := s.table.Namespaces()
	login := "/" + ns.Public + "/" + loginPath
	refresh := "/" + ns.Public + "/" + refreshPath
	for _, reserved := range []string{login, refresh} {
		for _, method := range []string{http.MethodGet, http.MethodPost} {
			if _, taken := s.table.Lookup(reserved, method); taken {
				return nil, fmt.Errorf("route %s %s is reserved for token issuance", method, reserved)
			}
		}
	}

	r := chi.NewRouter()
	r.Use(s.gate.Namespace)
	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleMethodNotAllowed)

	r.Post(login, s.handleGetToken)
	r.Get(login, s.handleGetToken)
	r.Get(refresh, s.handleRefreshToken)

	for _, entry := range s.table.Entries() {
		handler := s.routeHandler(entry)
		for _, method := range entry.Methods {
			r.Method(method, entry.Pattern, handler)
		}
	}
	return r, nil
}

func (s *Server) trackRequest(r *http.Request) func(status int, elapsed time.Duration) {
	return func(status int, _ time.Duration) {
		s.metrics.ObserveRequest(r.Method, status)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	gatewayproblem.WriteError(w, s.gate.Mapper(), err, gatewaymiddleware.TraceID(r.Context()))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	gatewayproblem.Write(w, http.StatusNotFound, "Not found",
		fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path), gatewaymiddleware.TraceID(r.Context()), r.URL.Path)
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	gatewayproblem.Write(w, http.StatusMethodNotAllowed, "Method not allowed",
		fmt.Sprintf("%s is not supported on %s", r.Method, r.URL.Path), gatewaymiddleware.TraceID(r.Context()), r.URL.Path)
}

// clientKeyFunc keys throttling on the connection address, or on
// X-Forwarded-For when a trusted proxy sets it.
func clientKeyFunc(trustForwardedFor bool) func(*http.Request) string {
	resolve := gatewaymiddleware.RemoteHost
	if trustForwardedFor {
		resolve = gatewaymiddleware.ClientAddr
	}
	return func(r *http.Request) string {
		if addr := resolve(r); addr != "" {
			return addr
		}
		return "global"
	}
}

func buildCORS(origins []string) *cors.Cors {
	allowAll := len(origins) == 0

	allowed := make(map[string]struct{})
	for _, origin := range origins {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		if o == "*" {
			allowAll = true
			break
		}
		allowed[o] = struct{}{}
	}

	return cors.New(cors.Options{
		AllowedMethods:       []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:       []string{"*"},
		ExposedHeaders:       []string{"X-Request-Id", "X-Trace-Id"},
		OptionsSuccessStatus: http.StatusNoContent,
		AllowOriginRequestFunc: func(_ *http.Request, origin string) bool {
			if origin == "" || allowAll {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	})
}
