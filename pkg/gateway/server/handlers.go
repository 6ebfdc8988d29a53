package server

import (
	"errors"
	"net/http"
	"net/url"

	json "github.com/goccy/go-json"

	gatewayproblem "github.com/theroutercompany/quiz_gateway/pkg/gateway/problem"
	gatewayproxy "github.com/theroutercompany/quiz_gateway/pkg/gateway/proxy"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/routes"
	gatewaymiddleware "github.com/theroutercompany/quiz_gateway/pkg/gateway/server/middleware"
)

const usernameHeader = "username"

var errMissingUsername = gatewayproblem.New(gatewayproblem.KindBadRequest, "Bad request", "missing username header")

// routeHandler captures entry's policy. The returned handler never consults
// the route table again.
func (s *Server) routeHandler(entry routes.Entry) http.HandlerFunc {
	base := gatewayproxy.Call{Service: entry.Service, BaseURL: entry.BaseURL}

	return func(w http.ResponseWriter, r *http.Request) {
		call := base

		switch {
		case entry.Secure:
			principal, err := s.tokens.Issuer().Authenticate(r)
			if err != nil {
				s.gate.Reject(w, r, err)
				return
			}
			if err := s.gate.CheckRole(principal.Identity, entry); err != nil {
				s.gate.Reject(w, r, err)
				return
			}
			if entry.Injection == routes.InjectFromToken {
				call.Username = principal.Username
				call.InjectUsername = true
			}
		case entry.Injection == routes.InjectFromHeader:
			values := r.Header.Values(usernameHeader)
			if len(values) == 0 {
				s.gate.Reject(w, r, errMissingUsername)
				return
			}
			call.Username = values[0]
			call.InjectUsername = true
		}

		s.forwarder.Forward(w, r, call)
	}
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	form, err := loginForm(r, s.cfg.Forward.MaxBodyBytes)
	if err != nil {
		s.logger.Errorw("login form unreadable", "error", err, "traceId", gatewaymiddleware.TraceID(r.Context()))
		s.writeError(w, r, gatewayproblem.Wrap(gatewayproblem.KindCredential, "Login error", err))
		return
	}

	info, err := s.tokens.Login(r.Context(), form)
	if err != nil {
		s.logger.Errorw("login failed", "error", err, "traceId", gatewaymiddleware.TraceID(r.Context()))
		s.metrics.Reject(gatewayproblem.KindCredential.String())
		s.writeError(w, r, err)
		return
	}

	body, err := json.Marshal(info)
	if err != nil {
		s.writeError(w, r, gatewayproblem.Wrap(gatewayproblem.KindCredential, "Login error", err))
		return
	}

	s.metrics.TokenIssued("login")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	issuer := s.tokens.Issuer()
	principal, err := issuer.Authenticate(r)
	if err != nil {
		s.gate.Reject(w, r, err)
		return
	}

	token, err := issuer.Refresh(principal.Identity)
	if err != nil {
		s.logger.Errorw("token refresh failed", "error", err, "username", principal.Username)
		gatewayproblem.Write(w, http.StatusInternalServerError, "Token refresh error", err.Error(), gatewaymiddleware.TraceID(r.Context()), r.URL.Path)
		return
	}

	body, err := json.Marshal(token.Value)
	if err != nil {
		gatewayproblem.Write(w, http.StatusInternalServerError, "Token refresh error", err.Error(), gatewaymiddleware.TraceID(r.Context()), r.URL.Path)
		return
	}

	s.metrics.TokenIssued("refresh")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// loginForm returns the form fields of the body, url-encoded or multipart.
func loginForm(r *http.Request, maxBytes int64) (url.Values, error) {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	if err := r.ParseMultipartForm(maxBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, err
	}
	if r.PostForm == nil {
		return url.Values{}, nil
	}
	return r.PostForm, nil
}
