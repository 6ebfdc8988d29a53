package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandlerExposesMetrics(t *testing.T) {
	reg := NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: reg.Namespace(),
		Name:      "test_counter_total",
		Help:      "test counter",
	})
	reg.Register(counter)
	counter.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "quiz_gateway_test_counter_total 1") {
		t.Fatalf("expected counter in metrics output, got %s", rr.Body.String())
	}
}

func TestNamespaceOption(t *testing.T) {
	if reg := NewRegistry(); reg.Namespace() != DefaultNamespace {
		t.Fatalf("expected default namespace, got %s", reg.Namespace())
	}
	if reg := NewRegistry(WithNamespace("  ")); reg.Namespace() != DefaultNamespace {
		t.Fatalf("expected blank namespace ignored, got %s", reg.Namespace())
	}
	reg := NewRegistry(WithNamespace("edge"))
	if reg.Namespace() != "edge" {
		t.Fatalf("expected namespace edge, got %s", reg.Namespace())
	}
}

func TestWithoutRuntimeCollectors(t *testing.T) {
	reg := NewRegistry(WithoutRuntimeCollectors())
	mfs, err := reg.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) != 0 {
		t.Fatalf("expected an empty registry, got %d families", len(mfs))
	}
}

func TestVersionPublishesBuildInfo(t *testing.T) {
	reg := NewRegistry(WithoutRuntimeCollectors(), WithVersion("abc123"))

	expected := `
# HELP quiz_gateway_build_info Build of the running gateway; always 1.
# TYPE quiz_gateway_build_info gauge
quiz_gateway_build_info{version="abc123"} 1
`
	if err := testutil.GatherAndCompare(reg.Gatherer(), strings.NewReader(expected), "quiz_gateway_build_info"); err != nil {
		t.Fatalf("unexpected build info: %v", err)
	}
}

func TestNilRegistry(t *testing.T) {
	var reg *Registry
	reg.Register(prometheus.NewCounter(prometheus.CounterOpts{Name: "ignored_total", Help: "ignored"}))

	rr := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 404 {
		t.Fatalf("expected 404 from nil registry, got %d", rr.Code)
	}
	if mfs, err := reg.Gatherer().Gather(); err != nil || len(mfs) != 0 {
		t.Fatalf("expected nothing gathered, got %d families (%v)", len(mfs), err)
	}
}

func TestGatewayCollectors(t *testing.T) {
	g := NewGateway(NewRegistry(WithoutRuntimeCollectors()))

	g.Reject("namespace")
	g.Reject("namespace")
	g.Reject("forbidden")
	g.TokenIssued("login")
	g.ObserveRequest("GET", 200)

	done := g.TrackForward("test_service", "GET")
	if got := testutil.ToFloat64(g.inflight.WithLabelValues("test_service")); got != 1 {
		t.Fatalf("expected 1 in flight, got %v", got)
	}
	done(404)
	g.TrackForward("test_service", "POST")(0)

	if got := testutil.ToFloat64(g.rejections.WithLabelValues("namespace")); got != 2 {
		t.Fatalf("expected 2 namespace rejections, got %v", got)
	}
	if got := testutil.ToFloat64(g.forwarded.WithLabelValues("test_service", "GET", "client_error")); got != 1 {
		t.Fatalf("expected 1 client_error forward, got %v", got)
	}
	if got := testutil.ToFloat64(g.forwarded.WithLabelValues("test_service", "POST", "error")); got != 1 {
		t.Fatalf("expected 1 failed forward, got %v", got)
	}
	if got := testutil.ToFloat64(g.inflight.WithLabelValues("test_service")); got != 0 {
		t.Fatalf("expected nothing in flight, got %v", got)
	}
	if got := testutil.ToFloat64(g.tokens.WithLabelValues("login")); got != 1 {
		t.Fatalf("expected 1 login token, got %v", got)
	}
}

func TestNilGatewayIsNoop(t *testing.T) {
	var g *Gateway
	g.Reject("auth")
	g.TokenIssued("refresh")
	g.ObserveRequest("GET", 500)
	g.TrackForward("user_service", "GET")(200)
	if NewGateway(nil) != nil {
		t.Fatal("expected nil gateway for nil registry")
	}
}
