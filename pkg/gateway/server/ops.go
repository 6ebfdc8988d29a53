package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/theroutercompany/quiz_gateway/internal/platform/health"
	gatewayproblem "github.com/theroutercompany/quiz_gateway/pkg/gateway/problem"
	gatewaymiddleware "github.com/theroutercompany/quiz_gateway/pkg/gateway/server/middleware"
)

type routeView struct {
	Pattern  string   `json:"pattern"`
	Methods  []string `json:"methods"`
	Service  string   `json:"service"`
	BaseURL  string   `json:"baseURL"`
	Secure   bool     `json:"secure"`
	Roles    []string `json:"roles,omitempty"`
	Username string   `json:"username"`
}

func (s *Server) mountOps() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/readyz", s.handleReadiness)
	r.Get("/readiness", s.handleReadiness)
	r.Get("/routes", s.handleRoutes)
	if s.openapiProvider != nil {
		r.Get("/openapi.json", s.handleOpenAPI)
	}
	if s.registry != nil && s.cfg.Metrics.Enabled {
		r.Handle("/metrics", s.registry.Handler())
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	response := struct {
		Status    string  `json:"status"`
		Uptime    float64 `json:"uptime"`
		Timestamp string  `json:"timestamp"`
		Version   string  `json:"version,omitempty"`
	}{
		Status:    "ok",
		Uptime:    time.Since(s.bootTime).Seconds(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   s.cfg.Version,
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	report := health.Report{Status: "ready", CheckedAt: time.Now().UTC()}
	if s.healthChecker != nil {
		report = s.healthChecker.Readiness(r.Context())
	}

	statusCode := http.StatusOK
	if report.Status != "ready" {
		statusCode = http.StatusServiceUnavailable
	}

	response := struct {
		Status    string                  `json:"status"`
		CheckedAt time.Time               `json:"checkedAt"`
		Upstreams []health.UpstreamReport `json:"upstreams"`
		RequestID string                  `json:"requestId,omitempty"`
		TraceID   string                  `json:"traceId,omitempty"`
	}{
		Status:    report.Status,
		CheckedAt: report.CheckedAt,
		Upstreams: report.Upstreams,
		RequestID: gatewaymiddleware.RequestID(r.Context()),
		TraceID:   gatewaymiddleware.TraceID(r.Context()),
	}
	s.writeJSON(w, statusCode, response)
}

func (s *Server) handleRoutes(w http.ResponseWriter, _ *http.Request) {
	entries := s.table.Entries()
	views := make([]routeView, 0, len(entries))
	for _, e := range entries {
		views = append(views, routeView{
			Pattern:  e.Pattern,
			Methods:  e.Methods,
			Service:  e.Service,
			BaseURL:  e.BaseURL,
			Secure:   e.Secure,
			Roles:    e.Roles.Strings(),
			Username: e.Injection.String(),
		})
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	data, err := s.openapiProvider.Document(r.Context())
	if err != nil {
		gatewayproblem.Write(w, http.StatusServiceUnavailable, "OpenAPI unavailable", err.Error(), gatewaymiddleware.TraceID(r.Context()), r.URL.Path)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warnw("failed to write openapi response", "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warnw("failed to encode response", "error", err)
	}
}
