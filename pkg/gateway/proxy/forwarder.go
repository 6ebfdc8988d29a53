package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/theroutercompany/quiz_gateway/pkg/gateway/metrics"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/problem"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/trust"
	pkglog "github.com/theroutercompany/quiz_gateway/pkg/log"
)

const (
	forwardSummary = "Backend redirecting error"
	usernameParam  = "username"

	defaultMaxFormBytes = 1 << 20
	retryBaseDelay      = 50 * time.Millisecond
)

// Call describes one forwarded request.
type Call struct {
	Service  string
	BaseURL  string
	Username string
	// InjectUsername appends Username as the username query parameter.
	InjectUsername bool
}

// SecretSource resolves the secret presented to a service.
type SecretSource interface {
	Secret(service string) (string, bool)
}

// ClientSource resolves the HTTP client used for a service.
type ClientSource interface {
	For(service string) *http.Client
}

// Forwarder relays requests to backend services.
type Forwarder struct {
	clients      ClientSource
	secrets      SecretSource
	logger       pkglog.Logger
	metrics      *metrics.Gateway
	traceID      func(context.Context) string
	retry        bool
	maxFormBytes int64
	jitter       func() time.Duration
}

// Option customises a Forwarder.
type Option func(*Forwarder)

// WithLogger sets the logger used for forwarding failures.
func WithLogger(logger pkglog.Logger) Option {
	return func(f *Forwarder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMetrics records backend calls on m.
func WithMetrics(m *metrics.Gateway) Option {
	return func(f *Forwarder) {
		f.metrics = m
	}
}

// WithTraceID sets the function reading the trace ID from a request context.
func WithTraceID(fn func(context.Context) string) Option {
	return func(f *Forwarder) {
		f.traceID = fn
	}
}

// WithRetryIdempotent enables a single jittered retry for GET and HEAD
// forwards whose first attempt failed without a response.
func WithRetryIdempotent(enabled bool) Option {
	return func(f *Forwarder) {
		f.retry = enabled
	}
}

// WithMaxFormBytes bounds the form payload read from the caller.
func WithMaxFormBytes(n int64) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.maxFormBytes = n
		}
	}
}

// New constructs a forwarder.
func New(clients ClientSource, secrets SecretSource, opts ...Option) *Forwarder {
	f := &Forwarder{
		clients:      clients,
		secrets:      secrets,
		logger:       pkglog.Shared(),
		maxFormBytes: defaultMaxFormBytes,
		jitter: func() time.Duration {
			return retryBaseDelay + rand.N(2*retryBaseDelay)
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// ComposeURL builds the backend URL for an inbound request URI. The caller's
// namespace segment is replaced by "/<service>" under base, and the username
// is appended as a query parameter when inject is set.
func ComposeURL(base, service, requestURI, username string, inject bool) (string, error) {
	if !strings.HasPrefix(requestURI, "/") {
		return "", fmt.Errorf("request URI %q is not a path", requestURI)
	}

	rest := requestURI[1:]
	if idx := strings.IndexAny(rest, "/?"); idx >= 0 {
		rest = rest[idx:]
	} else {
		rest = ""
	}

	target := strings.TrimRight(base, "/") + "/" + service + rest
	if inject {
		if strings.Contains(target, "?") {
			target += "&"
		} else {
			target += "?"
		}
		target += usernameParam + "=" + url.QueryEscape(username)
	}

	if _, err := url.ParseRequestURI(target); err != nil {
		return "", err
	}
	return target, nil
}

// Forward relays r according to call and writes the backend's status and
// body to w. Failures are logged and answered with a 500.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, call Call) {
	resp, err := f.Do(r, call)
	if err != nil {
		f.fail(w, r, call, err)
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		f.logger.Warnw("relay backend body", "service", call.Service, "error", err)
	}
}

// Do issues the backend call for r and returns the backend's response. The
// caller closes the response body.
func (f *Forwarder) Do(r *http.Request, call Call) (*http.Response, error) {
	target, err := ComposeURL(call.BaseURL, call.Service, r.URL.RequestURI(), call.Username, call.InjectUsername)
	if err != nil {
		return nil, fmt.Errorf("compose backend url: %w", err)
	}

	secret, ok := f.secrets.Secret(call.Service)
	if !ok {
		return nil, fmt.Errorf("no secret configured for service %s", call.Service)
	}

	payload, err := f.readForm(r)
	if err != nil {
		return nil, fmt.Errorf("read form: %w", err)
	}

	done := f.metrics.TrackForward(call.Service, r.Method)
	resp, err := f.send(r, call.Service, target, secret, payload)
	if err != nil && f.retry && idempotent(r.Method) && r.Context().Err() == nil {
		f.logger.Warnw("retrying backend call", "service", call.Service, "method", r.Method, "error", err)
		if waitErr := sleep(r.Context(), f.jitter()); waitErr == nil {
			resp, err = f.send(r, call.Service, target, secret, payload)
		}
	}
	if err != nil {
		done(0)
		return nil, err
	}
	done(resp.StatusCode)
	return resp, nil
}

func (f *Forwarder) send(r *http.Request, service, target, secret string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, target, body)
	if err != nil {
		return nil, err
	}
	out.Header.Set(trust.HeaderName, secret)
	if payload != nil {
		out.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for _, key := range []string{"X-Request-Id", "X-Trace-Id"} {
		if v := r.Header.Get(key); v != "" {
			out.Header.Set(key, v)
		}
	}

	var client *http.Client
	if f.clients != nil {
		client = f.clients.For(service)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return client.Do(out)
}

// readForm returns the caller's form fields re-encoded for the backend, or
// nil when the request carries no form data.
func (f *Forwarder) readForm(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, nil
	}

	var form url.Values
	switch mediaType {
	case "application/x-www-form-urlencoded":
		data, err := io.ReadAll(io.LimitReader(r.Body, f.maxFormBytes+1))
		if err != nil {
			return nil, err
		}
		if int64(len(data)) > f.maxFormBytes {
			return nil, errors.New("form payload too large")
		}
		form, err = url.ParseQuery(string(data))
		if err != nil {
			return nil, err
		}
	case "multipart/form-data":
		if err := r.ParseMultipartForm(f.maxFormBytes); err != nil {
			return nil, err
		}
		form = url.Values(r.MultipartForm.Value)
	default:
		return nil, nil
	}

	if len(form) == 0 {
		return nil, nil
	}
	return []byte(form.Encode()), nil
}

func (f *Forwarder) fail(w http.ResponseWriter, r *http.Request, call Call, err error) {
	traceID := ""
	if f.traceID != nil {
		traceID = f.traceID(r.Context())
	}
	f.logger.Errorw("backend redirecting error",
		"service", call.Service,
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
		"traceId", traceID,
	)
	problem.Write(w, http.StatusInternalServerError, forwardSummary, err.Error(), traceID, r.URL.Path)
}

func idempotent(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
