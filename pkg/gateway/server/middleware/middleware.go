// Package middleware holds the net/http middleware placed in front of the
// gateway's dispatch table. Everything here runs before the namespace gate,
// so rejections use the same [summary, detail] body the gate writes.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/cors"
)

// Logger is the slice of pkg/log.Logger the edge needs.
type Logger interface {
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
}

// ProblemWriter emits ["summary", "detail"] error responses.
type ProblemWriter func(w http.ResponseWriter, status int, summary, detail, traceID, instance string)

// EnsureIDs enriches the request with request and trace IDs.
type EnsureIDs func(*http.Request) (*http.Request, string, string)

// TraceIDFromContext extracts the trace ID from the request context.
type TraceIDFromContext func(context.Context) string

// RequestIDFromContext extracts the request ID from the request context.
type RequestIDFromContext func(context.Context) string

// ClientAddress resolves the caller's address.
type ClientAddress func(*http.Request) string

// TrackFunc starts tracking a request and returns the completion callback.
type TrackFunc func(*http.Request) func(status int, elapsed time.Duration)

// AllowFunc reports whether the client identified by key may proceed at now.
type AllowFunc func(key string, now time.Time) bool

// ClientKey derives the throttling key for a request.
type ClientKey func(*http.Request) string

// Rejecter answers requests the edge refuses. A zero Rejecter falls back to
// plain-text status responses.
type Rejecter struct {
	Trace TraceIDFromContext
	Write ProblemWriter
}

func (rj Rejecter) reject(w http.ResponseWriter, r *http.Request, status int, summary, detail string) {
	if rj.Write == nil {
		http.Error(w, http.StatusText(status), status)
		return
	}
	traceID := ""
	if rj.Trace != nil {
		traceID = rj.Trace(r.Context())
	}
	rj.Write(w, status, summary, detail, traceID, r.URL.Path)
}

func passthrough(next http.Handler) http.Handler {
	if next == nil {
		return http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	}
	return next
}

// RequestMetadata tags every request with IDs and echoes them on the response
// so callers can quote them when reporting gateway errors.
func RequestMetadata(ensure EnsureIDs) func(http.Handler) http.Handler {
	if ensure == nil {
		ensure = EnsureRequestIDs
	}

	return func(next http.Handler) http.Handler {
		next = passthrough(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req, requestID, traceID := ensure(r)
			w.Header().Set("X-Request-Id", requestID)
			if traceID != "" {
				w.Header().Set("X-Trace-Id", traceID)
			}
			next.ServeHTTP(w, req)
		})
	}
}

// SecurityHeaders sets hardening headers. Responses may carry access tokens,
// so nothing is cacheable.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		next = passthrough(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}

// Recover turns a panicking handler into a 500 "Internal gateway error".
func Recover(logger Logger, rj Rejecter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		next = passthrough(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				if logger != nil {
					logger.Errorw("gateway handler panicked",
						"panic", rec,
						"path", r.URL.Path,
						"traceId", traceOf(rj.Trace, r),
						"stack", string(debug.Stack()),
					)
				}
				rj.reject(w, r, http.StatusInternalServerError, "Internal gateway error", fmt.Sprint(rec))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// BodyLimit refuses declared bodies over limit and caps what handlers can
// read from the rest. A non-positive limit disables the check.
func BodyLimit(limit int64, rj Rejecter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		next = passthrough(next)
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				rj.reject(w, r, http.StatusRequestEntityTooLarge, "Payload too large", fmt.Sprintf("Request body exceeds %d bytes", limit))
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit throttles clients by key. CORS preflights are never counted.
func RateLimit(allow AllowFunc, key ClientKey, now func() time.Time, rj Rejecter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		next = passthrough(next)
		if allow == nil || key == nil {
			return next
		}
		if now == nil {
			now = time.Now
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || allow(key(r), now()) {
				next.ServeHTTP(w, r)
				return
			}
			rj.reject(w, r, http.StatusTooManyRequests, "Too many requests", "Rate limit exceeded")
		})
	}
}

// CORS runs handler in front of next and refuses requests from origins it
// does not allow instead of silently omitting the CORS headers.
func CORS(handler *cors.Cors, rj Rejecter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		next = passthrough(next)
		if handler == nil {
			return next
		}
		wrapped := handler.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := strings.TrimSpace(r.Header.Get("Origin")); origin != "" && !handler.OriginAllowed(r) {
				rj.reject(w, r, http.StatusForbidden, "Not allowed by CORS", fmt.Sprintf("Origin %s is not allowed", origin))
				return
			}
			wrapped.ServeHTTP(w, r)
		})
	}
}

// AccessLog configures Logging.
type AccessLog struct {
	Logger    Logger
	Track     TrackFunc
	RequestID RequestIDFromContext
	TraceID   TraceIDFromContext
	Client    ClientAddress
}

// Logging writes one access line per request, at warn for 4xx and error for
// 5xx, and hands the outcome to Track.
func Logging(cfg AccessLog) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		next = passthrough(next)
		if cfg.Logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			var done func(int, time.Duration)
			if cfg.Track != nil {
				done = cfg.Track(r)
			}

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			status := rec.statusCode()
			if done != nil {
				done(status, elapsed)
			}

			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"namespace", firstSegment(r.URL.Path),
				"status", status,
				"elapsedMs", float64(elapsed.Microseconds()) / 1000.0,
				"responseBytes", rec.bytes,
			}
			fields = appendNonEmpty(fields, "requestId", fromContext(cfg.RequestID, r))
			fields = appendNonEmpty(fields, "traceId", traceOf(cfg.TraceID, r))
			if cfg.Client != nil {
				fields = appendNonEmpty(fields, "client", cfg.Client(r))
			}

			switch {
			case status >= http.StatusInternalServerError:
				cfg.Logger.Errorw("gateway request", fields...)
			case status >= http.StatusBadRequest:
				cfg.Logger.Warnw("gateway request", fields...)
			default:
				cfg.Logger.Infow("gateway request", fields...)
			}
		})
	}
}

func traceOf(fn TraceIDFromContext, r *http.Request) string {
	if fn == nil {
		return ""
	}
	return fn(r.Context())
}

func fromContext(fn RequestIDFromContext, r *http.Request) string {
	if fn == nil {
		return ""
	}
	return fn(r.Context())
}

func appendNonEmpty(fields []any, key, value string) []any {
	if value == "" {
		return fields
	}
	return append(fields, key, value)
}

// firstSegment returns the namespace segment of path, without slashes.
func firstSegment(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return trimmed[:i]
	}
	return trimmed
}

// statusRecorder captures the status and size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) statusCode() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *statusRecorder) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *statusRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
