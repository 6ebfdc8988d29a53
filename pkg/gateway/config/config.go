// Package config loads, validates, and normalises gateway configuration.
//
// Values are layered: built-in defaults, then YAML files, then environment
// variables. Configuration is read once at process start; there is no hot
// reload.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort               = 8080
	defaultShutdownTimeout    = 15 * time.Second
	defaultReadinessTimeout   = 2 * time.Second
	defaultReadinessUserAgent = "quiz-gateway/readyz"
	defaultHealthPath         = "/health"
	defaultRateLimitWindow    = 60 * time.Second
	defaultRateLimitMax       = 120
	defaultMetricsEnabled     = true
	defaultLoginTTL           = 15 * time.Minute
	defaultRefreshTTL         = 25 * time.Minute
	defaultMaxBodyBytes       = 1 << 20
	defaultOpsListen          = ":9090"
	defaultPublicNamespace    = "frontend_api"
	defaultInternalNamespace  = "service_api"
	defaultConfigEnvVar       = "APIGW_CONFIG"

	envUserPrefix         = "USER_SERVICE"
	envTestPrefix         = "TEST_SERVICE"
	envSubjectPrefix      = "SUBJECT_SERVICE"
	envPort               = "PORT"
	envShutdownTimeout    = "SHUTDOWN_TIMEOUT_MS"
	envReadinessTimeout   = "READINESS_TIMEOUT_MS"
	envReadinessUserAgent = "READINESS_USER_AGENT"
	envGitSHA             = "GIT_SHA"
	envJWTSecretKey       = "JWT_SECRET_KEY"
	envJWTSecret          = "JWT_SECRET"
	envJWTIssuer          = "JWT_ISSUER"
	envServiceAPISecret   = "SERVICE_API_SECRET"
	envCorsAllowedOrigins = "CORS_ALLOWED_ORIGINS"
	envRateLimitWindow    = "RATE_LIMIT_WINDOW_MS"
	envRateLimitMax       = "RATE_LIMIT_MAX"
	envRateLimitTrustXFF  = "RATE_LIMIT_TRUST_FORWARDED_FOR"
	envMetricsEnabled     = "METRICS_ENABLED"
	envForwardTimeout     = "FORWARD_TIMEOUT_MS"
	envForwardRetry       = "FORWARD_RETRY_IDEMPOTENT"
	envLegacyStatus       = "LEGACY_ERROR_STATUS"
	envOpsEnabled         = "OPS_ENABLED"
	envOpsListen          = "OPS_LISTEN"
	envOpenAPIFragments   = "OPENAPI_FRAGMENTS"

	envURL                   = "_URL"
	envHost                  = "_HOST"
	envServicePort           = "_PORT"
	envSecret                = "_SECRET"
	envHealthPath            = "_HEALTH_PATH"
	envTLSInsecureSkipVerify = "_TLS_INSECURE_SKIP_VERIFY"
	envTLSEnabled            = "_TLS_ENABLED"
	envTLSCAFile             = "_TLS_CA_FILE"
	envTLSCertFile           = "_TLS_CERT_FILE"
	envTLSKeyFile            = "_TLS_KEY_FILE"
)

var servicePrefixes = []string{envUserPrefix, envTestPrefix, envSubjectPrefix}

// Config captures runtime configuration for the gateway.
type Config struct {
	Version    string          `yaml:"version"`
	HTTP       HTTPConfig      `yaml:"http"`
	Auth       AuthConfig      `yaml:"auth"`
	Namespaces NamespaceConfig `yaml:"namespaces"`
	Services   []ServiceConfig `yaml:"services"`
	Forward    ForwardConfig   `yaml:"forward"`
	Errors     ErrorsConfig    `yaml:"errors"`
	CORS       CORSConfig      `yaml:"cors"`
	RateLimit  RateLimitConfig `yaml:"rateLimit"`
	Metrics    MetricsConfig   `yaml:"metrics"`
	Ops        OpsConfig       `yaml:"ops"`
	Readiness  ReadinessConfig `yaml:"readiness"`
	OpenAPI    OpenAPIConfig   `yaml:"openapi"`
	Routes     []RouteConfig   `yaml:"routes,omitempty"`
}

// HTTPConfig configures the public listener.
type HTTPConfig struct {
	Port            int      `yaml:"port"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// AuthConfig configures access token signing.
type AuthConfig struct {
	SigningKey string   `yaml:"signingKey"`
	Issuer     string   `yaml:"issuer"`
	LoginTTL   Duration `yaml:"loginTTL"`
	RefreshTTL Duration `yaml:"refreshTTL"`
}

// NamespaceConfig names the public and internal path roots. InternalSecret
// must accompany every call into the internal namespace.
type NamespaceConfig struct {
	Public         string `yaml:"public"`
	Internal       string `yaml:"internal"`
	InternalSecret string `yaml:"internalSecret"`
}

// ServiceConfig describes one backend service behind the gateway.
type ServiceConfig struct {
	Name       string    `yaml:"name"`
	BaseURL    string    `yaml:"baseURL"`
	Secret     string    `yaml:"secret"`
	HealthPath string    `yaml:"healthPath"`
	TLS        TLSConfig `yaml:"tls"`
}

// TLSConfig captures TLS/mTLS options for backend calls.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
	CAFile             string `yaml:"caFile"`
	ClientCertFile     string `yaml:"clientCertFile"`
	ClientKeyFile      string `yaml:"clientKeyFile"`
}

// ForwardConfig tunes outbound calls. A zero Timeout means no timeout.
type ForwardConfig struct {
	Timeout         Duration `yaml:"timeout"`
	RetryIdempotent bool     `yaml:"retryIdempotent"`
	MaxBodyBytes    int64    `yaml:"maxBodyBytes"`
}

// ErrorsConfig selects the status codes used for gate rejections.
type ErrorsConfig struct {
	LegacyStatus bool `yaml:"legacyStatus"`
}

// CORSConfig captures allowed origins.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// RateLimitConfig captures throttling settings applied at the gateway edge.
// A Max of zero disables throttling. Clients are keyed by the connection's
// remote address unless TrustForwardedFor is set, which is only safe behind a
// proxy that overwrites X-Forwarded-For.
type RateLimitConfig struct {
	Window            Duration `yaml:"window"`
	Max               int      `yaml:"max"`
	TrustForwardedFor bool     `yaml:"trustForwardedFor"`
}

// MetricsConfig toggles metrics exposure.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// OpsConfig configures the operations listener serving health, readiness,
// metrics and the OpenAPI document.
type OpsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// ReadinessConfig controls backend health probing.
type ReadinessConfig struct {
	Timeout   Duration `yaml:"timeout"`
	UserAgent string   `yaml:"userAgent"`
}

// OpenAPIConfig lists extra OpenAPI files merged into the generated document.
type OpenAPIConfig struct {
	Fragments []string `yaml:"fragments,omitempty"`
}

// RouteConfig declares one route. Username is one of none, token or header.
type RouteConfig struct {
	Pattern  string   `yaml:"pattern"`
	Methods  []string `yaml:"methods"`
	Service  string   `yaml:"service"`
	Secure   bool     `yaml:"secure"`
	Roles    []string `yaml:"roles,omitempty"`
	Username string   `yaml:"username,omitempty"`
}

// Duration is a YAML-friendly wrapper over time.Duration supporting numeric millisecond inputs.
type Duration time.Duration

// AsDuration returns the underlying time.Duration.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// MarshalYAML encodes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.AsDuration().String(), nil
}

// UnmarshalYAML decodes scalar duration values from either Go duration strings or millisecond integers.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}

	txt := strings.TrimSpace(value.Value)
	if txt == "" {
		*d = Duration(0)
		return nil
	}
	if ms, err := strconv.Atoi(txt); err == nil {
		if ms < 0 {
			return fmt.Errorf("duration must be non-negative, got %d", ms)
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	parsed, err := time.ParseDuration(txt)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", txt, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration must be non-negative, got %s", parsed)
	}
	*d = Duration(parsed)
	return nil
}

// DurationFrom constructs a Duration from a time.Duration.
func DurationFrom(d time.Duration) Duration {
	return Duration(d)
}

// Default returns baseline configuration values.
func Default() Config {
	services := make([]ServiceConfig, 0, len(servicePrefixes))
	for _, prefix := range servicePrefixes {
		services = append(services, ServiceConfig{
			Name:       strings.ToLower(prefix),
			HealthPath: defaultHealthPath,
		})
	}

	return Config{
		Version: os.Getenv(envGitSHA),
		HTTP: HTTPConfig{
			Port:            defaultPort,
			ShutdownTimeout: DurationFrom(defaultShutdownTimeout),
		},
		Auth: AuthConfig{
			LoginTTL:   DurationFrom(defaultLoginTTL),
			RefreshTTL: DurationFrom(defaultRefreshTTL),
		},
		Namespaces: NamespaceConfig{
			Public:   defaultPublicNamespace,
			Internal: defaultInternalNamespace,
		},
		Services: services,
		Forward: ForwardConfig{
			MaxBodyBytes: defaultMaxBodyBytes,
		},
		RateLimit: RateLimitConfig{
			Window: DurationFrom(defaultRateLimitWindow),
			Max:    defaultRateLimitMax,
		},
		Metrics: MetricsConfig{
			Enabled: defaultMetricsEnabled,
		},
		Ops: OpsConfig{
			Enabled: true,
			Listen:  defaultOpsListen,
		},
		Readiness: ReadinessConfig{
			Timeout:   DurationFrom(defaultReadinessTimeout),
			UserAgent: defaultReadinessUserAgent,
		},
	}
}

// Option customises the load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	paths     []string
	lookupEnv func(string) (string, bool)
}

// WithPath adds a YAML config path to attempt loading.
func WithPath(path string) Option {
	return func(o *loaderOptions) {
		if strings.TrimSpace(path) != "" {
			o.paths = append(o.paths, path)
		}
	}
}

// WithLookupEnv overrides the environment lookup function (useful for tests).
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(o *loaderOptions) {
		o.lookupEnv = fn
	}
}

// Load builds a Config from defaults, YAML files, and environment overrides (in that order).
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		lookupEnv: os.LookupEnv,
	}
	if envPath := strings.TrimSpace(os.Getenv(defaultConfigEnvVar)); envPath != "" {
		options.paths = append(options.paths, envPath)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	cfg := Default()

	for _, path := range options.paths {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			continue
		case err != nil:
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config %q: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg, options.lookupEnv); err != nil {
		return cfg, err
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) (string, bool) {
		val, ok := lookup(key)
		val = strings.TrimSpace(val)
		return val, ok && val != ""
	}

	if val, ok := get(envPort); ok {
		port, err := strconv.Atoi(val)
		if err != nil || port <= 0 {
			return fmt.Errorf("invalid %s value: %s", envPort, val)
		}
		cfg.HTTP.Port = port
	}

	if val, ok := get(envShutdownTimeout); ok {
		timeout, err := parsePositiveDurationMillis(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envShutdownTimeout, err)
		}
		cfg.HTTP.ShutdownTimeout = DurationFrom(timeout)
	}

	if val, ok := get(envReadinessTimeout); ok {
		timeout, err := parsePositiveDurationMillis(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envReadinessTimeout, err)
		}
		cfg.Readiness.Timeout = DurationFrom(timeout)
	}

	if val, ok := get(envReadinessUserAgent); ok {
		cfg.Readiness.UserAgent = val
	}

	if val, ok := get(envGitSHA); ok {
		cfg.Version = val
	}

	if val, ok := get(envJWTSecret); ok {
		cfg.Auth.SigningKey = val
	}
	if val, ok := get(envJWTSecretKey); ok {
		cfg.Auth.SigningKey = val
	}
	if val, ok := get(envJWTIssuer); ok {
		cfg.Auth.Issuer = val
	}

	if val, ok := get(envServiceAPISecret); ok {
		cfg.Namespaces.InternalSecret = val
	}

	if val, ok := get(envCorsAllowedOrigins); ok {
		cfg.CORS.AllowedOrigins = splitAndTrim(val)
	}

	if val, ok := get(envRateLimitWindow); ok {
		window, err := parsePositiveDurationMillis(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envRateLimitWindow, err)
		}
		cfg.RateLimit.Window = DurationFrom(window)
	}

	if val, ok := get(envRateLimitMax); ok {
		max, err := strconv.Atoi(val)
		if err != nil || max < 0 {
			return fmt.Errorf("invalid %s: %s", envRateLimitMax, val)
		}
		cfg.RateLimit.Max = max
	}

	if val, ok := get(envForwardTimeout); ok {
		ms, err := strconv.Atoi(val)
		if err != nil || ms < 0 {
			return fmt.Errorf("invalid %s: %s", envForwardTimeout, val)
		}
		cfg.Forward.Timeout = DurationFrom(time.Duration(ms) * time.Millisecond)
	}

	boolOverrides := []struct {
		key    string
		target *bool
	}{
		{envMetricsEnabled, &cfg.Metrics.Enabled},
		{envForwardRetry, &cfg.Forward.RetryIdempotent},
		{envLegacyStatus, &cfg.Errors.LegacyStatus},
		{envOpsEnabled, &cfg.Ops.Enabled},
		{envRateLimitTrustXFF, &cfg.RateLimit.TrustForwardedFor},
	}
	for _, o := range boolOverrides {
		if val, ok := get(o.key); ok {
			enabled, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", o.key, err)
			}
			*o.target = enabled
		}
	}

	if val, ok := get(envOpsListen); ok {
		cfg.Ops.Listen = val
	}

	if val, ok := get(envOpenAPIFragments); ok {
		cfg.OpenAPI.Fragments = splitAndTrim(val)
	}

	for _, prefix := range servicePrefixes {
		if err := applyServiceOverrides(cfg, get, prefix); err != nil {
			return fmt.Errorf("%s config: %w", strings.ToLower(prefix), err)
		}
	}

	return nil
}

func applyServiceOverrides(cfg *Config, get func(string) (string, bool), prefix string) error {
	if !hasServiceOverrides(get, prefix) {
		return nil
	}
	svc := cfg.ensureService(strings.ToLower(prefix))

	host, hasHost := get(prefix + envHost)
	port, hasPort := get(prefix + envServicePort)
	if hasHost || hasPort {
		if !hasHost {
			host = svc.Name
		}
		svc.BaseURL = "https://" + host
		if hasPort {
			svc.BaseURL += ":" + port
		}
	}
	if val, ok := get(prefix + envURL); ok {
		svc.BaseURL = val
	}
	if val, ok := get(prefix + envSecret); ok {
		svc.Secret = val
	}
	if val, ok := get(prefix + envHealthPath); ok {
		svc.HealthPath = ensureLeadingSlash(val)
	}

	if val, ok := get(prefix + envTLSEnabled); ok {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", prefix, envTLSEnabled, err)
		}
		svc.TLS.Enabled = enabled
	}
	if val, ok := get(prefix + envTLSInsecureSkipVerify); ok {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", prefix, envTLSInsecureSkipVerify, err)
		}
		svc.TLS.InsecureSkipVerify = enabled
		if enabled {
			svc.TLS.Enabled = true
		}
	}
	if val, ok := get(prefix + envTLSCAFile); ok {
		svc.TLS.CAFile = val
		svc.TLS.Enabled = true
	}
	if val, ok := get(prefix + envTLSCertFile); ok {
		svc.TLS.ClientCertFile = val
		svc.TLS.Enabled = true
	}
	if val, ok := get(prefix + envTLSKeyFile); ok {
		svc.TLS.ClientKeyFile = val
		svc.TLS.Enabled = true
	}

	return nil
}

func hasServiceOverrides(get func(string) (string, bool), prefix string) bool {
	for _, suffix := range []string{
		envURL, envHost, envServicePort, envSecret, envHealthPath,
		envTLSEnabled, envTLSInsecureSkipVerify, envTLSCAFile, envTLSCertFile, envTLSKeyFile,
	} {
		if _, ok := get(prefix + suffix); ok {
			return true
		}
	}
	return false
}

// normalize fills in defaults that may be missing after YAML/env overrides.
func (cfg *Config) normalize() {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = defaultPort
	}
	if cfg.HTTP.ShutdownTimeout.AsDuration() <= 0 {
		cfg.HTTP.ShutdownTimeout = DurationFrom(defaultShutdownTimeout)
	}
	if cfg.Auth.LoginTTL.AsDuration() <= 0 {
		cfg.Auth.LoginTTL = DurationFrom(defaultLoginTTL)
	}
	if cfg.Auth.RefreshTTL.AsDuration() <= 0 {
		cfg.Auth.RefreshTTL = DurationFrom(defaultRefreshTTL)
	}
	if strings.TrimSpace(cfg.Namespaces.Public) == "" {
		cfg.Namespaces.Public = defaultPublicNamespace
	}
	if strings.TrimSpace(cfg.Namespaces.Internal) == "" {
		cfg.Namespaces.Internal = defaultInternalNamespace
	}
	cfg.Namespaces.Public = strings.Trim(cfg.Namespaces.Public, "/ ")
	cfg.Namespaces.Internal = strings.Trim(cfg.Namespaces.Internal, "/ ")
	if cfg.Forward.MaxBodyBytes <= 0 {
		cfg.Forward.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Readiness.Timeout.AsDuration() <= 0 {
		cfg.Readiness.Timeout = DurationFrom(defaultReadinessTimeout)
	}
	if strings.TrimSpace(cfg.Readiness.UserAgent) == "" {
		cfg.Readiness.UserAgent = defaultReadinessUserAgent
	}
	if cfg.RateLimit.Window.AsDuration() <= 0 {
		cfg.RateLimit.Window = DurationFrom(defaultRateLimitWindow)
	}
	if cfg.Ops.Enabled && strings.TrimSpace(cfg.Ops.Listen) == "" {
		cfg.Ops.Listen = defaultOpsListen
	}

	for i := range cfg.Services {
		svc := &cfg.Services[i]
		svc.Name = strings.TrimSpace(strings.ToLower(svc.Name))
		svc.BaseURL = strings.TrimRight(strings.TrimSpace(svc.BaseURL), "/")
		if strings.TrimSpace(svc.HealthPath) == "" {
			svc.HealthPath = defaultHealthPath
		} else {
			svc.HealthPath = ensureLeadingSlash(svc.HealthPath)
		}
		if svc.TLS.InsecureSkipVerify || svc.TLS.CAFile != "" || svc.TLS.ClientCertFile != "" {
			svc.TLS.Enabled = true
		}
	}
}

// Validate performs semantic validation on the configuration.
func (cfg Config) Validate() error {
	var errs []error

	if cfg.HTTP.Port <= 0 {
		errs = append(errs, fmt.Errorf("http.port must be positive"))
	}
	if cfg.HTTP.ShutdownTimeout.AsDuration() <= 0 {
		errs = append(errs, fmt.Errorf("http.shutdownTimeout must be positive"))
	}
	if cfg.Auth.SigningKey == "" {
		errs = append(errs, fmt.Errorf("auth.signingKey is required"))
	}
	if cfg.Auth.LoginTTL.AsDuration() <= 0 || cfg.Auth.RefreshTTL.AsDuration() <= 0 {
		errs = append(errs, fmt.Errorf("auth token lifetimes must be positive"))
	}
	if cfg.Namespaces.Public == cfg.Namespaces.Internal {
		errs = append(errs, fmt.Errorf("namespaces.public and namespaces.internal must differ"))
	}
	if strings.Contains(cfg.Namespaces.Public, "/") || strings.Contains(cfg.Namespaces.Internal, "/") {
		errs = append(errs, fmt.Errorf("namespaces must be a single path segment"))
	}
	if cfg.Namespaces.InternalSecret == "" {
		errs = append(errs, fmt.Errorf("namespaces.internalSecret is required"))
	}
	if len(cfg.Services) == 0 {
		errs = append(errs, fmt.Errorf("at least one service required"))
	}

	seen := make(map[string]struct{})
	for _, svc := range cfg.Services {
		if svc.Name == "" {
			errs = append(errs, fmt.Errorf("service name must not be empty"))
			continue
		}
		if _, exists := seen[svc.Name]; exists {
			errs = append(errs, fmt.Errorf("duplicate service name: %s", svc.Name))
			continue
		}
		seen[svc.Name] = struct{}{}
		if svc.Name == cfg.Namespaces.Internal {
			errs = append(errs, fmt.Errorf("service name %s collides with the internal namespace", svc.Name))
		}
		if svc.BaseURL == "" {
			errs = append(errs, fmt.Errorf("service %s requires baseURL", svc.Name))
		} else if parsed, err := url.ParseRequestURI(svc.BaseURL); err != nil || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("service %s baseURL invalid: %q", svc.Name, svc.BaseURL))
		}
		if svc.Secret == "" {
			errs = append(errs, fmt.Errorf("service %s requires a secret", svc.Name))
		}
		if svc.TLS.ClientCertFile != "" && svc.TLS.ClientKeyFile == "" {
			errs = append(errs, fmt.Errorf("service %s tls client key required when cert provided", svc.Name))
		}
		if svc.TLS.ClientKeyFile != "" && svc.TLS.ClientCertFile == "" {
			errs = append(errs, fmt.Errorf("service %s tls client cert required when key provided", svc.Name))
		}
	}

	for _, route := range cfg.Routes {
		if _, ok := seen[strings.ToLower(route.Service)]; !ok {
			errs = append(errs, fmt.Errorf("route %s targets unknown service %q", route.Pattern, route.Service))
		}
	}

	if cfg.Forward.Timeout.AsDuration() < 0 {
		errs = append(errs, fmt.Errorf("forward.timeout must not be negative"))
	}
	if cfg.RateLimit.Max < 0 {
		errs = append(errs, fmt.Errorf("rateLimit.max must not be negative"))
	}
	if cfg.RateLimit.Window.AsDuration() <= 0 {
		errs = append(errs, fmt.Errorf("rateLimit.window must be positive"))
	}
	if cfg.Readiness.Timeout.AsDuration() <= 0 {
		errs = append(errs, fmt.Errorf("readiness.timeout must be positive"))
	}
	if cfg.Ops.Enabled && strings.TrimSpace(cfg.Ops.Listen) == "" {
		errs = append(errs, fmt.Errorf("ops.listen is required when ops is enabled"))
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Secrets returns every shared secret keyed by service identifier, with the
// internal namespace secret keyed by the internal namespace name.
func (cfg Config) Secrets() map[string]string {
	out := make(map[string]string, len(cfg.Services)+1)
	for _, svc := range cfg.Services {
		out[svc.Name] = svc.Secret
	}
	out[cfg.Namespaces.Internal] = cfg.Namespaces.InternalSecret
	return out
}

// Service returns the configuration for name.
func (cfg Config) Service(name string) (ServiceConfig, bool) {
	for _, svc := range cfg.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return ServiceConfig{}, false
}

// Redacted returns a copy with every secret blanked, safe to print or serve.
func (cfg Config) Redacted() Config {
	out := cfg
	out.Auth.SigningKey = redact(cfg.Auth.SigningKey)
	out.Namespaces.InternalSecret = redact(cfg.Namespaces.InternalSecret)
	out.Services = make([]ServiceConfig, len(cfg.Services))
	for i, svc := range cfg.Services {
		svc.Secret = redact(svc.Secret)
		out.Services[i] = svc
	}
	return out
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

func (cfg *Config) ensureService(name string) *ServiceConfig {
	for i := range cfg.Services {
		if strings.EqualFold(cfg.Services[i].Name, name) {
			cfg.Services[i].Name = name
			return &cfg.Services[i]
		}
	}

	cfg.Services = append(cfg.Services, ServiceConfig{
		Name:       name,
		HealthPath: defaultHealthPath,
	})
	return &cfg.Services[len(cfg.Services)-1]
}

func parsePositiveDurationMillis(value string) (time.Duration, error) {
	ms, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if ms <= 0 {
		return 0, fmt.Errorf("value must be positive: %d", ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func splitAndTrim(value string) []string {
	parts := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == ';'
	})
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func ensureLeadingSlash(path string) string {
	if path == "" {
		return "/"
	}
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}
