// Package routes holds the gateway's declarative route table: for every
// (path pattern, method) the backend service it forwards to, whether a token
// is required, which roles are admitted, and where the forwarded username
// comes from.
//
// A Table is built once at startup and is read-only afterwards.
package routes

import (
	"fmt"
	"strings"

	"github.com/theroutercompany/quiz_gateway/pkg/gateway/identity"
)

// InjectionMode selects the source of the username appended to the backend URL.
type InjectionMode int

const (
	// InjectNone forwards without a username parameter.
	InjectNone InjectionMode = iota
	// InjectFromToken uses the username of the validated access token.
	InjectFromToken
	// InjectFromHeader trusts the "username" header set by a calling backend.
	InjectFromHeader
)

func (m InjectionMode) String() string {
	switch m {
	case InjectNone:
		return "none"
	case InjectFromToken:
		return "token"
	case InjectFromHeader:
		return "header"
	}
	return fmt.Sprintf("InjectionMode(%d)", int(m))
}

// ParseInjectionMode converts a configuration value into an InjectionMode.
func ParseInjectionMode(value string) (InjectionMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "none":
		return InjectNone, nil
	case "token":
		return InjectFromToken, nil
	case "header":
		return InjectFromHeader, nil
	}
	return InjectNone, fmt.Errorf("unknown username injection mode %q", value)
}

// Entry is one forwarding policy. Pattern uses chi syntax for path
// parameters, e.g. /frontend_api/get_test/{test_id}.
type Entry struct {
	Pattern   string           `validate:"required,startswith=/"`
	Methods   []string         `validate:"required,min=1,dive,oneof=GET HEAD POST PUT PATCH DELETE OPTIONS"`
	Service   string           `validate:"required"`
	BaseURL   string           `validate:"omitempty,url"`
	Secure    bool
	Roles     identity.RoleSet
	Injection InjectionMode
}

// Namespace returns the first path segment of the pattern.
func (e Entry) Namespace() string {
	return firstSegment(e.Pattern)
}

// Allows reports whether role may call this route. Routes that are not
// secure admit every caller.
func (e Entry) Allows(role identity.Role) bool {
	if !e.Secure {
		return true
	}
	return e.Roles.Contains(role)
}

func (e Entry) clone() Entry {
	out := e
	out.Methods = append([]string(nil), e.Methods...)
	out.Roles = append(identity.RoleSet(nil), e.Roles...)
	return out
}

func firstSegment(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}

// FirstSegment exposes the namespace extraction used for request paths.
func FirstSegment(path string) string {
	return firstSegment(path)
}
