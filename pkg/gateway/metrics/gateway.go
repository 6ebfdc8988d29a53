package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Gateway holds the collectors describing edge traffic: gate rejections,
// forwarded calls per backend and token issuance.
type Gateway struct {
	rejections *prometheus.CounterVec
	forwarded  *prometheus.CounterVec
	inflight   *prometheus.GaugeVec
	upstream   *prometheus.HistogramVec
	tokens     *prometheus.CounterVec
	requests   *prometheus.CounterVec
}

// NewGateway registers the gateway collectors on reg. A nil registry yields
// a nil *Gateway whose methods are no-ops.
func NewGateway(reg *Registry) *Gateway {
	if reg == nil {
		return nil
	}
	ns := reg.Namespace()

	g := &Gateway{
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "gate_rejections_total",
			Help:      "Requests refused before reaching a backend, by rejection kind.",
		}, []string{"kind"}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "forwarded_requests_total",
			Help:      "Requests relayed to backends, by service, method and outcome.",
		}, []string{"service", "method", "outcome"}),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "forwarded_inflight",
			Help:      "Backend calls currently in flight, by service.",
		}, []string{"service"}),
		upstream: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "upstream_duration_seconds",
			Help:      "Backend call duration, by service.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "tokens_issued_total",
			Help:      "Access tokens issued, by grant (login or refresh).",
		}, []string{"grant"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_requests_total",
			Help:      "Inbound requests answered by the gateway, by method and status code.",
		}, []string{"method", "code"}),
	}

	reg.Register(g.rejections, g.forwarded, g.inflight, g.upstream, g.tokens, g.requests)
	return g
}

// Reject counts a gate rejection of the given kind.
func (g *Gateway) Reject(kind string) {
	if g == nil {
		return
	}
	g.rejections.WithLabelValues(kind).Inc()
}

// TokenIssued counts a token issued through grant.
func (g *Gateway) TokenIssued(grant string) {
	if g == nil {
		return
	}
	g.tokens.WithLabelValues(grant).Inc()
}

// ObserveRequest counts an answered inbound request.
func (g *Gateway) ObserveRequest(method string, status int) {
	if g == nil {
		return
	}
	g.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// TrackForward marks the start of a backend call and returns the function
// that records its completion. status is 0 when the call failed outright.
func (g *Gateway) TrackForward(service, method string) func(status int) {
	if g == nil {
		return func(int) {}
	}

	start := time.Now()
	g.inflight.WithLabelValues(service).Inc()
	return func(status int) {
		g.inflight.WithLabelValues(service).Dec()
		g.upstream.WithLabelValues(service).Observe(time.Since(start).Seconds())
		g.forwarded.WithLabelValues(service, method, outcome(status)).Inc()
	}
}

func outcome(status int) string {
	switch {
	case status <= 0:
		return "error"
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	default:
		return "success"
	}
}
