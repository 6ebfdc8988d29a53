package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/theroutercompany/quiz_gateway/pkg/gateway/trust"
)

func TestReadinessReportsReadyWhenAllHealthy(t *testing.T) {
	var gotSecret string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user_service/health" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotSecret = r.Header.Get(trust.HeaderName)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	checker := NewChecker(StaticClient(ts.Client()), []Upstream{{
		Name:       "user_service",
		BaseURL:    ts.URL,
		HealthPath: "/user_service/health",
		Secret:     "user-secret",
	}}, 250*time.Millisecond, "tester")

	report := checker.Readiness(context.Background())
	if report.Status != "ready" {
		t.Fatalf("expected ready status, got %s", report.Status)
	}
	if len(report.Upstreams) != 1 || !report.Upstreams[0].Healthy {
		t.Fatalf("expected one healthy upstream, got %+v", report.Upstreams)
	}
	if gotSecret != "user-secret" {
		t.Fatalf("expected service secret on probe, got %q", gotSecret)
	}
}

func TestReadinessTreatsClientErrorsAsReachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	checker := NewChecker(StaticClient(ts.Client()), []Upstream{{Name: "test_service", BaseURL: ts.URL, HealthPath: "/health"}}, 250*time.Millisecond, "")
	report := checker.Readiness(context.Background())
	if report.Status != "ready" || report.Upstreams[0].StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 backend to count as ready, got %+v", report)
	}
}

func TestReadinessReportsDegradedOnFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	checker := NewChecker(StaticClient(ts.Client()), []Upstream{{
		Name:       "subject_service",
		BaseURL:    ts.URL,
		HealthPath: "/health",
	}}, 250*time.Millisecond, "tester")

	report := checker.Readiness(context.Background())
	if report.Status != "degraded" {
		t.Fatalf("expected degraded status, got %s", report.Status)
	}
	if report.Upstreams[0].Error == "" {
		t.Fatalf("expected upstream error message")
	}
}

func TestReadinessHonorsContextCancellation(t *testing.T) {
	checker := NewChecker(StaticClient(&http.Client{Timeout: 50 * time.Millisecond}), []Upstream{{
		Name:       "test_service",
		BaseURL:    "http://127.0.0.1:1",
		HealthPath: "/health",
	}}, 100*time.Millisecond, "tester")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := checker.Readiness(ctx)
	if report.Status != "degraded" {
		t.Fatalf("expected degraded status when context cancelled, got %s", report.Status)
	}
}

func TestReadinessWithoutUpstreams(t *testing.T) {
	if report := NewChecker(nil, nil, 0, "").Readiness(context.Background()); report.Status != "ready" {
		t.Fatalf("expected ready, got %s", report.Status)
	}
}
