package routes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/theroutercompany/quiz_gateway/pkg/gateway/identity"
)

// SecretChecker reports whether a service identifier has a shared secret.
type SecretChecker interface {
	Has(service string) bool
}

// Namespaces names the public and internal path roots.
type Namespaces struct {
	Public   string
	Internal string
}

// Table is the immutable route table.
type Table struct {
	entries    []Entry
	namespaces Namespaces
}

// NewTable validates entries, resolves each target base URL and returns an
// immutable table. Every target service must have both a base URL and a
// registered secret.
func NewTable(entries []Entry, namespaces Namespaces, baseURLs map[string]string, secrets SecretChecker) (*Table, error) {
	if namespaces.Public == "" || namespaces.Internal == "" {
		return nil, errors.New("public and internal namespaces are required")
	}
	if namespaces.Public == namespaces.Internal {
		return nil, fmt.Errorf("public and internal namespaces must differ, both are %q", namespaces.Public)
	}

	var errs []error
	seen := make(map[string]struct{})
	resolved := make([]Entry, 0, len(entries))

	for _, raw := range entries {
		entry := raw.clone()
		for i, m := range entry.Methods {
			entry.Methods[i] = strings.ToUpper(strings.TrimSpace(m))
		}
		if !entry.Secure {
			entry.Roles = nil
		}
		if base, ok := baseURLs[entry.Service]; ok {
			entry.BaseURL = strings.TrimRight(base, "/")
		}

		if err := validateEntry(entry, namespaces, secrets); err != nil {
			errs = append(errs, err)
			continue
		}

		for _, m := range entry.Methods {
			key := m + " " + entry.Pattern
			if _, dup := seen[key]; dup {
				errs = append(errs, fmt.Errorf("duplicate route %s", key))
				continue
			}
			seen[key] = struct{}{}
		}
		resolved = append(resolved, entry)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return &Table{entries: resolved, namespaces: namespaces}, nil
}

func validateEntry(entry Entry, ns Namespaces, secrets SecretChecker) error {
	if err := identity.Validator().Struct(entry); err != nil {
		return fmt.Errorf("route %s: %w", entry.Pattern, err)
	}
	switch entry.Namespace() {
	case ns.Public, ns.Internal:
	default:
		return fmt.Errorf("route %s: namespace %q is neither %q nor %q", entry.Pattern, entry.Namespace(), ns.Public, ns.Internal)
	}
	if entry.BaseURL == "" {
		return fmt.Errorf("route %s: service %s has no base URL", entry.Pattern, entry.Service)
	}
	if secrets == nil || !secrets.Has(entry.Service) {
		return fmt.Errorf("route %s: service %s has no shared secret", entry.Pattern, entry.Service)
	}
	if entry.Secure && len(entry.Roles) == 0 {
		return fmt.Errorf("route %s: secure route admits no roles", entry.Pattern)
	}
	switch entry.Injection {
	case InjectNone:
	case InjectFromToken:
		if !entry.Secure {
			return fmt.Errorf("route %s: token username injection requires a secure route", entry.Pattern)
		}
	case InjectFromHeader:
		if entry.Secure {
			return fmt.Errorf("route %s: header username injection is only for routes without a token", entry.Pattern)
		}
		if entry.Namespace() != ns.Internal {
			return fmt.Errorf("route %s: header username injection is only allowed under %q", entry.Pattern, ns.Internal)
		}
	default:
		return fmt.Errorf("route %s: unknown injection mode %d", entry.Pattern, int(entry.Injection))
	}
	return nil
}

// Entries returns a copy of every entry.
func (t *Table) Entries() []Entry {
	if t == nil {
		return nil
	}
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.clone()
	}
	return out
}

// Len returns the number of entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Namespaces returns the table's namespaces.
func (t *Table) Namespaces() Namespaces {
	return t.namespaces
}

// Lookup finds the entry registered for pattern and method.
func (t *Table) Lookup(pattern, method string) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	method = strings.ToUpper(method)
	for _, e := range t.entries {
		if e.Pattern != pattern {
			continue
		}
		for _, m := range e.Methods {
			if m == method {
				return e.clone(), true
			}
		}
	}
	return Entry{}, false
}

// Services lists the distinct target services in table order.
func (t *Table) Services() []string {
	if t == nil {
		return nil
	}
	var out []string
	seen := make(map[string]struct{})
	for _, e := range t.entries {
		if _, ok := seen[e.Service]; ok {
			continue
		}
		seen[e.Service] = struct{}{}
		out = append(out, e.Service)
	}
	return out
}
