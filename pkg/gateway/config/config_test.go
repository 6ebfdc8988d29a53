package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(values map[string]string) Option {
	return WithLookupEnv(func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	})
}

func baseEnv() map[string]string {
	return map[string]string{
		"JWT_SECRET_KEY":         "signing-key",
		"SERVICE_API_SECRET":     "internal-secret",
		"USER_SERVICE_HOST":      "users.internal",
		"USER_SERVICE_PORT":      "8001",
		"USER_SERVICE_SECRET":    "u-secret",
		"TEST_SERVICE_URL":       "http://tests.internal:8002/",
		"TEST_SERVICE_SECRET":    "t-secret",
		"SUBJECT_SERVICE_PORT":   "8003",
		"SUBJECT_SERVICE_SECRET": "s-secret",
	}
}

func TestLoadFromEnvSuccess(t *testing.T) {
	t.Setenv("APIGW_CONFIG", "")
	env := baseEnv()
	env["PORT"] = "9090"
	env["SHUTDOWN_TIMEOUT_MS"] = "7000"
	env["GIT_SHA"] = "def456"
	env["CORS_ALLOWED_ORIGINS"] = "https://quiz.example.com, https://admin.example.com"
	env["RATE_LIMIT_WINDOW_MS"] = "90000"
	env["RATE_LIMIT_MAX"] = "300"
	env["METRICS_ENABLED"] = "false"
	env["FORWARD_TIMEOUT_MS"] = "2500"
	env["FORWARD_RETRY_IDEMPOTENT"] = "true"
	env["LEGACY_ERROR_STATUS"] = "true"
	env["OPS_LISTEN"] = "127.0.0.1:9191"
	env["USER_SERVICE_TLS_CA_FILE"] = "/etc/quiz/ca.pem"

	cfg, err := Load(envMap(env))
	if err != nil {
		t.Fatalf("expected successful load, got error: %v", err)
	}

	if cfg.HTTP.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.HTTP.ShutdownTimeout.AsDuration() != 7*time.Second {
		t.Fatalf("unexpected shutdown timeout: %v", cfg.HTTP.ShutdownTimeout.AsDuration())
	}
	if cfg.Version != "def456" {
		t.Fatalf("unexpected version: %s", cfg.Version)
	}
	if cfg.Auth.SigningKey != "signing-key" {
		t.Fatalf("unexpected signing key: %s", cfg.Auth.SigningKey)
	}
	if cfg.Auth.LoginTTL.AsDuration() != 15*time.Minute || cfg.Auth.RefreshTTL.AsDuration() != 25*time.Minute {
		t.Fatalf("unexpected token lifetimes: %v / %v", cfg.Auth.LoginTTL.AsDuration(), cfg.Auth.RefreshTTL.AsDuration())
	}
	if cfg.Namespaces.InternalSecret != "internal-secret" {
		t.Fatalf("unexpected internal secret: %s", cfg.Namespaces.InternalSecret)
	}
	if cfg.Metrics.Enabled {
		t.Fatalf("expected metrics disabled")
	}
	if cfg.Forward.Timeout.AsDuration() != 2500*time.Millisecond || !cfg.Forward.RetryIdempotent {
		t.Fatalf("unexpected forward config: %+v", cfg.Forward)
	}
	if !cfg.Errors.LegacyStatus {
		t.Fatalf("expected legacy status enabled")
	}
	if cfg.Ops.Listen != "127.0.0.1:9191" {
		t.Fatalf("unexpected ops listen: %s", cfg.Ops.Listen)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 {
		t.Fatalf("unexpected origins: %#v", cfg.CORS.AllowedOrigins)
	}

	user := serviceByName(t, cfg, "user_service")
	if user.BaseURL != "https://users.internal:8001" {
		t.Fatalf("unexpected user base url: %s", user.BaseURL)
	}
	if !user.TLS.Enabled || user.TLS.CAFile != "/etc/quiz/ca.pem" {
		t.Fatalf("expected tls enabled with CA file, got %+v", user.TLS)
	}
	if got := serviceByName(t, cfg, "test_service").BaseURL; got != "http://tests.internal:8002" {
		t.Fatalf("expected trailing slash trimmed, got %s", got)
	}
	if got := serviceByName(t, cfg, "subject_service").BaseURL; got != "https://subject_service:8003" {
		t.Fatalf("expected host defaulted to service name, got %s", got)
	}
}

func TestLoadFailsWithoutSecrets(t *testing.T) {
	t.Setenv("APIGW_CONFIG", "")
	env := baseEnv()
	delete(env, "SERVICE_API_SECRET")
	delete(env, "TEST_SERVICE_SECRET")

	_, err := Load(envMap(env))
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "namespaces.internalSecret is required") {
		t.Fatalf("expected internal secret error, got %v", err)
	}
	if !strings.Contains(msg, "service test_service requires a secret") {
		t.Fatalf("expected service secret error, got %v", err)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	t.Setenv("APIGW_CONFIG", "")
	env := baseEnv()
	env["PORT"] = "abc"
	if _, err := Load(envMap(env)); err == nil {
		t.Fatalf("expected invalid port error")
	}
}

func TestRateLimitCanBeDisabled(t *testing.T) {
	t.Setenv("APIGW_CONFIG", "")
	env := baseEnv()
	env["RATE_LIMIT_MAX"] = "0"
	env["RATE_LIMIT_TRUST_FORWARDED_FOR"] = "true"

	cfg, err := Load(envMap(env))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RateLimit.Max != 0 || !cfg.RateLimit.TrustForwardedFor {
		t.Fatalf("expected throttling disabled with forwarded-for trusted, got %+v", cfg.RateLimit)
	}

	env["RATE_LIMIT_MAX"] = "-1"
	if _, err := Load(envMap(env)); err == nil {
		t.Fatalf("expected negative RATE_LIMIT_MAX to be rejected")
	}

	cfg.RateLimit.Max = -1
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "rateLimit.max must not be negative") {
		t.Fatalf("expected negative max rejected, got %v", err)
	}
}

func TestLoadFromYAMLWithEnvOverride(t *testing.T) {
	t.Setenv("APIGW_CONFIG", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "apigw.yaml")
	yaml := `
http:
  port: 7070
auth:
  signingKey: from-file
  loginTTL: 10m
namespaces:
  internalSecret: file-internal
services:
  - name: user_service
    baseURL: https://users:8001
    secret: u
  - name: test_service
    baseURL: https://tests:8002
    secret: t
routes:
  - pattern: /frontend_api/get_test/{test_id}
    methods: [GET]
    service: test_service
    secure: true
    roles: [teacher]
    username: token
forward:
  timeout: 1500
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(WithPath(path), envMap(map[string]string{"JWT_SECRET_KEY": "from-env"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != 7070 {
		t.Fatalf("expected port from file, got %d", cfg.HTTP.Port)
	}
	if cfg.Auth.SigningKey != "from-env" {
		t.Fatalf("expected env to override file, got %s", cfg.Auth.SigningKey)
	}
	if cfg.Auth.LoginTTL.AsDuration() != 10*time.Minute {
		t.Fatalf("unexpected login ttl %v", cfg.Auth.LoginTTL.AsDuration())
	}
	if cfg.Forward.Timeout.AsDuration() != 1500*time.Millisecond {
		t.Fatalf("unexpected forward timeout %v", cfg.Forward.Timeout.AsDuration())
	}
	if len(cfg.Services) != 2 {
		t.Fatalf("expected services from file only, got %d", len(cfg.Services))
	}
	if len(cfg.Routes) != 1 || cfg.Routes[0].Username != "token" {
		t.Fatalf("unexpected routes %+v", cfg.Routes)
	}
}

func TestValidateRejectsRouteToUnknownService(t *testing.T) {
	cfg := validConfig()
	cfg.Routes = []RouteConfig{{Pattern: "/frontend_api/x", Methods: []string{"GET"}, Service: "grading_service"}}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "unknown service") {
		t.Fatalf("expected unknown service error, got %v", err)
	}
}

func TestValidateRejectsDuplicateServices(t *testing.T) {
	cfg := validConfig()
	cfg.Services = append(cfg.Services, cfg.Services[0])
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate service") {
		t.Fatalf("expected duplicate service error, got %v", err)
	}
}

func TestSecretsIncludesInternalNamespace(t *testing.T) {
	cfg := validConfig()
	secrets := cfg.Secrets()
	if secrets["service_api"] != "internal" {
		t.Fatalf("expected internal namespace secret, got %q", secrets["service_api"])
	}
	if secrets["user_service"] != "u" {
		t.Fatalf("expected user service secret")
	}
}

func TestRedactedHidesSecrets(t *testing.T) {
	cfg := validConfig()
	red := cfg.Redacted()
	if red.Auth.SigningKey == cfg.Auth.SigningKey || red.Namespaces.InternalSecret == cfg.Namespaces.InternalSecret {
		t.Fatalf("expected secrets redacted")
	}
	for _, svc := range red.Services {
		if svc.Secret != "********" {
			t.Fatalf("service %s secret not redacted", svc.Name)
		}
	}
	if cfg.Services[0].Secret != "u" {
		t.Fatalf("redaction must not mutate the original")
	}
}

func validConfig() Config {
	cfg := Default()
	cfg.Auth.SigningKey = "key"
	cfg.Namespaces.InternalSecret = "internal"
	secrets := map[string]string{"user_service": "u", "test_service": "t", "subject_service": "s"}
	for i := range cfg.Services {
		cfg.Services[i].BaseURL = "https://" + cfg.Services[i].Name + ":8000"
		cfg.Services[i].Secret = secrets[cfg.Services[i].Name]
	}
	return cfg
}

func serviceByName(t *testing.T, cfg Config, name string) ServiceConfig {
	t.Helper()
	svc, ok := cfg.Service(name)
	if !ok {
		t.Fatalf("service %s not found", name)
	}
	return svc
}
