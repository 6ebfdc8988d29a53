// Package metrics owns the Prometheus registry served on the ops listener and
// the collectors describing gateway traffic.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every gateway metric name.
const DefaultNamespace = "quiz_gateway"

// Option adjusts a Registry before its collectors are registered.
type Option func(*Registry)

// WithNamespace replaces DefaultNamespace. Blank values are ignored.
func WithNamespace(namespace string) Option {
	return func(r *Registry) {
		if ns := strings.TrimSpace(namespace); ns != "" {
			r.namespace = ns
		}
	}
}

// WithoutRuntimeCollectors skips the Go runtime and process collectors.
func WithoutRuntimeCollectors() Option {
	return func(r *Registry) {
		r.runtime = false
	}
}

// WithVersion publishes <namespace>_build_info{version="..."} set to 1.
func WithVersion(version string) Option {
	return func(r *Registry) {
		r.version = strings.TrimSpace(version)
	}
}

// Registry is a private Prometheus registry; nothing is registered on the
// global default registry.
type Registry struct {
	namespace string
	version   string
	runtime   bool
	prom      *prometheus.Registry
}

// NewRegistry builds a registry with the runtime collectors and, when a
// version is given, the build info gauge.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		namespace: DefaultNamespace,
		runtime:   true,
		prom:      prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	if r.runtime {
		r.prom.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: r.namespace}),
		)
	}
	if r.version != "" {
		info := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   r.namespace,
			Name:        "build_info",
			Help:        "Build of the running gateway; always 1.",
			ConstLabels: prometheus.Labels{"version": r.version},
		})
		info.Set(1)
		r.prom.MustRegister(info)
	}
	return r
}

// Namespace is the prefix gateway collectors register under.
func (r *Registry) Namespace() string {
	if r == nil {
		return ""
	}
	return r.namespace
}

// Handler serves the registry in the Prometheus exposition format. A nil
// registry answers 404, which is what the ops listener shows when metrics
// are disabled.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{})
}

// Register adds collectors, panicking on conflicts. Nil collectors are skipped.
func (r *Registry) Register(cs ...prometheus.Collector) {
	if r == nil {
		return
	}
	for _, c := range cs {
		if c != nil {
			r.prom.MustRegister(c)
		}
	}
}

// Gatherer exposes the registry for assertions and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.Gatherers{}
	}
	return r.prom
}
