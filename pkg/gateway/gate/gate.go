// Package gate enforces the gateway's access rules before any backend is
// contacted: the path namespace, the inter-service secret for internal
// calls and, on secured routes, the caller's role.
package gate

import (
	"context"
	"net/http"

	pkglog "github.com/theroutercompany/quiz_gateway/pkg/log"

	"github.com/theroutercompany/quiz_gateway/pkg/gateway/identity"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/metrics"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/problem"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/routes"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/trust"
)

const accessDenied = "Cannot access GatewayAPI"

var (
	errUnknownRoot = problem.New(problem.KindNamespace, accessDenied, "unknown request root")
	errForbidden   = problem.New(problem.KindForbidden, "Access forbidden", "the user does not have rights for this operation")
)

// SecretVerifier checks a presented secret for a service identifier.
type SecretVerifier interface {
	Verify(service, presented string) bool
}

// Gate applies namespace, secret and role checks.
type Gate struct {
	namespaces routes.Namespaces
	secrets    SecretVerifier
	mapper     problem.StatusMapper
	logger     pkglog.Logger
	metrics    *metrics.Gateway
	traceID    func(context.Context) string
}

// Option customises a Gate.
type Option func(*Gate)

// WithLogger sets the logger used for rejections.
func WithLogger(logger pkglog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics counts rejections on m.
func WithMetrics(m *metrics.Gateway) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

// WithStatusMapper selects the status codes used for rejections.
func WithStatusMapper(mapper problem.StatusMapper) Option {
	return func(g *Gate) {
		g.mapper = mapper
	}
}

// WithTraceID sets the function reading the trace ID from a request context.
func WithTraceID(fn func(context.Context) string) Option {
	return func(g *Gate) {
		g.traceID = fn
	}
}

// New constructs a gate for the given namespaces. secrets must hold an entry
// for the internal namespace identifier.
func New(namespaces routes.Namespaces, secrets SecretVerifier, opts ...Option) *Gate {
	g := &Gate{
		namespaces: namespaces,
		secrets:    secrets,
		logger:     pkglog.Shared(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// CheckNamespace classifies the request's first path segment. Internal
// namespace calls must present the internal namespace secret.
func (g *Gate) CheckNamespace(r *http.Request) error {
	switch routes.FirstSegment(r.URL.Path) {
	case g.namespaces.Public:
		return nil
	case g.namespaces.Internal:
		if g.secrets == nil || !g.secrets.Verify(g.namespaces.Internal, r.Header.Get(trust.HeaderName)) {
			return problem.New(problem.KindServiceSecret, accessDenied,
				"only services may access GatewayAPI with root /"+g.namespaces.Internal)
		}
		return nil
	default:
		return errUnknownRoot
	}
}

// Namespace is the pre-dispatch filter. It runs before any route handler.
func (g *Gate) Namespace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.CheckNamespace(r); err != nil {
			g.Reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CheckRole admits id when the route allows its role. Open routes admit
// every caller.
func (g *Gate) CheckRole(id identity.Identity, entry routes.Entry) error {
	if entry.Allows(id.Role) {
		return nil
	}
	return errForbidden
}

// Reject logs, counts and writes a gate failure.
func (g *Gate) Reject(w http.ResponseWriter, r *http.Request, err error) {
	pe, ok := problem.As(err)
	if !ok {
		pe = problem.Wrap(problem.KindBadRequest, "Bad request", err)
	}

	traceID := ""
	if g.traceID != nil {
		traceID = g.traceID(r.Context())
	}

	g.logger.Warnw("request rejected",
		"kind", pe.Kind.String(),
		"method", r.Method,
		"path", r.URL.Path,
		"detail", pe.Detail,
		"traceId", traceID,
	)
	g.metrics.Reject(pe.Kind.String())
	problem.WriteError(w, g.mapper, pe, traceID)
}

// Mapper returns the status mapper in use.
func (g *Gate) Mapper() problem.StatusMapper {
	return g.mapper
}
