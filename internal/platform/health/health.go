// Package health probes backend services for the readiness endpoint.
package health

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/theroutercompany/quiz_gateway/pkg/gateway/trust"
)

// Upstream identifies a backend service to probe.
type Upstream struct {
	Name       string
	BaseURL    string
	HealthPath string
	Secret     string
}

// UpstreamReport captures the outcome of probing a single upstream.
type UpstreamReport struct {
	Name       string    `json:"name"`
	Healthy    bool      `json:"healthy"`
	StatusCode int       `json:"statusCode,omitempty"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checkedAt"`
}

// Report aggregates readiness across upstreams.
type Report struct {
	Status    string           `json:"status"`
	CheckedAt time.Time        `json:"checkedAt"`
	Upstreams []UpstreamReport `json:"upstreams"`
}

// ClientSource resolves the HTTP client used to reach a service.
type ClientSource interface {
	For(service string) *http.Client
}

// Checker evaluates health of backend services.
type Checker struct {
	clients   ClientSource
	upstreams []Upstream
	timeout   time.Duration
	userAgent string
}

type defaultClients struct {
	client *http.Client
}

func (d defaultClients) For(string) *http.Client {
	return d.client
}

// StaticClient serves every service with client.
func StaticClient(client *http.Client) ClientSource {
	if client == nil {
		client = http.DefaultClient
	}
	return defaultClients{client: client}
}

// NewChecker returns a checker configured with the given dependencies.
func NewChecker(clients ClientSource, upstreams []Upstream, timeout time.Duration, userAgent string) *Checker {
	if clients == nil {
		clients = StaticClient(nil)
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if userAgent == "" {
		userAgent = "quiz-gateway/readyz"
	}

	return &Checker{
		clients:   clients,
		upstreams: upstreams,
		timeout:   timeout,
		userAgent: userAgent,
	}
}

// Readiness probes every backend concurrently and returns an aggregated report.
func (c *Checker) Readiness(ctx context.Context) Report {
	if len(c.upstreams) == 0 {
		return Report{Status: "ready", CheckedAt: time.Now().UTC()}
	}

	results := make([]UpstreamReport, len(c.upstreams))
	var wg sync.WaitGroup

	for idx, upstream := range c.upstreams {
		wg.Add(1)
		go func(i int, u Upstream) {
			defer wg.Done()
			results[i] = c.probe(ctx, u)
		}(idx, upstream)
	}

	wg.Wait()

	report := Report{
		Status:    "ready",
		CheckedAt: time.Now().UTC(),
		Upstreams: results,
	}
	for _, r := range results {
		if !r.Healthy {
			report.Status = "degraded"
			break
		}
	}

	return report
}

// probe treats any answer below 500 as healthy: the backends have no
// dedicated health operation, so a 404 still proves the service is up.
func (c *Checker) probe(ctx context.Context, upstream Upstream) UpstreamReport {
	report := UpstreamReport{
		Name:      upstream.Name,
		CheckedAt: time.Now().UTC(),
	}

	targetURL, err := url.JoinPath(upstream.BaseURL, upstream.HealthPath)
	if err != nil {
		report.Error = fmt.Sprintf("failed to build upstream url: %v", err)
		return report
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, targetURL, nil)
	if err != nil {
		report.Error = fmt.Sprintf("failed to create request: %v", err)
		return report
	}

	req.Header.Set("User-Agent", c.userAgent)
	if upstream.Secret != "" {
		req.Header.Set(trust.HeaderName, upstream.Secret)
	}

	resp, err := c.clients.For(upstream.Name).Do(req)
	if err != nil {
		select {
		case <-reqCtx.Done():
			report.Error = reqCtx.Err().Error()
		default:
			report.Error = err.Error()
		}
		return report
	}
	defer resp.Body.Close()

	report.StatusCode = resp.StatusCode
	report.Healthy = resp.StatusCode < http.StatusInternalServerError
	if !report.Healthy {
		report.Error = fmt.Sprintf("health check failed with status %d", resp.StatusCode)
	}

	return report
}
