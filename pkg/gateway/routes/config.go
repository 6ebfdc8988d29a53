package routes

import (
	"fmt"

	gatewayconfig "github.com/theroutercompany/quiz_gateway/pkg/gateway/config"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/identity"
)

// FromConfig converts configured routes into entries. An empty list yields
// the built-in table.
func FromConfig(cfgRoutes []gatewayconfig.RouteConfig) ([]Entry, error) {
	if len(cfgRoutes) == 0 {
		return Default(), nil
	}

	entries := make([]Entry, 0, len(cfgRoutes))
	for _, rc := range cfgRoutes {
		roles, err := identity.NewRoleSet(rc.Roles...)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", rc.Pattern, err)
		}
		mode, err := ParseInjectionMode(rc.Username)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", rc.Pattern, err)
		}
		entries = append(entries, Entry{
			Pattern:   rc.Pattern,
			Methods:   append([]string(nil), rc.Methods...),
			Service:   rc.Service,
			Secure:    rc.Secure,
			Roles:     roles,
			Injection: mode,
		})
	}
	return entries, nil
}

// Build resolves cfg into a validated Table.
func Build(cfg gatewayconfig.Config, secrets SecretChecker) (*Table, error) {
	entries, err := FromConfig(cfg.Routes)
	if err != nil {
		return nil, err
	}

	baseURLs := make(map[string]string, len(cfg.Services))
	for _, svc := range cfg.Services {
		baseURLs[svc.Name] = svc.BaseURL
	}

	return NewTable(entries, Namespaces{
		Public:   cfg.Namespaces.Public,
		Internal: cfg.Namespaces.Internal,
	}, baseURLs, secrets)
}
