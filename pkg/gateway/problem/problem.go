// Package problem defines the gateway's error taxonomy and writes error
// responses in the platform's two-element JSON form: ["summary", "detail"].
package problem

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"
)

// Kind classifies a gateway failure.
type Kind int

const (
	// KindNamespace is an unknown first path segment.
	KindNamespace Kind = iota + 1
	// KindServiceSecret is a missing or incorrect ServiceSecret header.
	KindServiceSecret
	// KindAuth is a missing, malformed, expired or tampered access token.
	KindAuth
	// KindForbidden is an authenticated caller whose role is not allowed.
	KindForbidden
	// KindBadRequest is a request the gateway cannot route as sent.
	KindBadRequest
	// KindForwarding is a failure composing or issuing a backend call.
	KindForwarding
	// KindCredential is a rejected credential check during token issuance.
	KindCredential
)

func (k Kind) String() string {
	switch k {
	case KindNamespace:
		return "namespace"
	case KindServiceSecret:
		return "service_secret"
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindBadRequest:
		return "bad_request"
	case KindForwarding:
		return "forwarding"
	case KindCredential:
		return "credential"
	}
	return "unknown"
}

// Error is a classified gateway failure with its client-facing summary.
type Error struct {
	Kind    Kind
	Summary string
	Detail  string
	Err     error
	// Raw, when set, is written as the response body instead of the
	// [summary, detail] pair. Used to relay a backend's own error payload.
	Raw []byte
}

// New constructs an Error.
func New(kind Kind, summary, detail string) *Error {
	return &Error{Kind: kind, Summary: summary, Detail: detail}
}

// Wrap constructs an Error whose detail is err's message.
func Wrap(kind Kind, summary string, err error) *Error {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return &Error{Kind: kind, Summary: summary, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Summary + ": " + e.Detail
	}
	return e.Summary
}

func (e *Error) Unwrap() error {
	return e.Err
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// StatusMapper maps error kinds to HTTP status codes. With Legacy set,
// namespace and service-secret failures answer 500 as older callers expect.
type StatusMapper struct {
	Legacy bool
}

// Status returns the HTTP status for kind.
func (m StatusMapper) Status(kind Kind) int {
	switch kind {
	case KindNamespace:
		if m.Legacy {
			return http.StatusInternalServerError
		}
		return http.StatusBadRequest
	case KindServiceSecret:
		if m.Legacy {
			return http.StatusInternalServerError
		}
		return http.StatusForbidden
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindBadRequest:
		return http.StatusBadRequest
	case KindForwarding, KindCredential:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// Body encodes the two-element error payload.
func Body(summary, detail string) []byte {
	data, err := json.Marshal([2]string{summary, detail})
	if err != nil {
		return []byte(`["Internal error",""]`)
	}
	return data
}

// Write emits an error response. instance is unused in the body but kept so
// the signature matches middleware.ProblemWriter.
func Write(w http.ResponseWriter, status int, summary, detail, traceID, _ string) {
	if traceID != "" {
		w.Header().Set("X-Trace-Id", traceID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(Body(summary, detail))
}

// WriteError emits err using mapper, falling back to a forwarding failure
// for unclassified errors.
func WriteError(w http.ResponseWriter, mapper StatusMapper, err error, traceID string) {
	pe, ok := As(err)
	if !ok {
		pe = Wrap(KindForwarding, "Internal gateway error", err)
	}
	status := mapper.Status(pe.Kind)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	if len(pe.Raw) > 0 {
		if traceID != "" {
			w.Header().Set("X-Trace-Id", traceID)
		}
		w.WriteHeader(status)
		_, _ = w.Write(pe.Raw)
		return
	}
	Write(w, status, pe.Summary, pe.Detail, traceID, "")
}
