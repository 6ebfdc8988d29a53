// Package trust holds the pre-shared secrets that authenticate calls between
// the gateway and backend services.
package trust

import (
	"crypto/subtle"
	"fmt"
	"sort"
	"strings"
)

// HeaderName carries a service secret on inter-service calls.
const HeaderName = "ServiceSecret"

// Registry maps a service identifier to its shared secret. It is built once
// and never mutated, so concurrent readers need no locking.
type Registry struct {
	secrets map[string]string
}

// NewRegistry copies secrets into an immutable registry. Empty identifiers
// or secrets are rejected.
func NewRegistry(secrets map[string]string) (*Registry, error) {
	copied := make(map[string]string, len(secrets))
	for id, secret := range secrets {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("service secret registered without an identifier")
		}
		if secret == "" {
			return nil, fmt.Errorf("service %s has an empty secret", id)
		}
		copied[id] = secret
	}
	return &Registry{secrets: copied}, nil
}

// Secret returns the secret for service.
func (r *Registry) Secret(service string) (string, bool) {
	if r == nil {
		return "", false
	}
	secret, ok := r.secrets[service]
	return secret, ok
}

// Has reports whether service has a registered secret.
func (r *Registry) Has(service string) bool {
	_, ok := r.Secret(service)
	return ok
}

// Verify compares presented against the secret registered for service in
// constant time. Unknown services never verify.
func (r *Registry) Verify(service, presented string) bool {
	secret, ok := r.Secret(service)
	if !ok || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(presented)) == 1
}

// Services lists registered identifiers in sorted order.
func (r *Registry) Services() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.secrets))
	for id := range r.secrets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
