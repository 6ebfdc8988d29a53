package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	gatewayconfig "github.com/theroutercompany/quiz_gateway/pkg/gateway/config"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/openapi"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/routes"
	gatewayruntime "github.com/theroutercompany/quiz_gateway/pkg/gateway/runtime"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/trust"
	pkglog "github.com/theroutercompany/quiz_gateway/pkg/log"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "routes":
		err = routesCommand(os.Args[2:])
	case "openapi":
		err = openapiCommand(os.Args[2:])
	case "init":
		err = initCommand(os.Args[2:])
	case "convert-env":
		err = convertEnvCommand(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatalf("apigw %s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: apigw <command> [options]\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run          Start the gateway using the provided config\n")
	fmt.Fprintf(os.Stderr, "  validate     Validate configuration and the route table without starting the gateway\n")
	fmt.Fprintf(os.Stderr, "  routes       Print the resolved route table\n")
	fmt.Fprintf(os.Stderr, "  openapi      Print the generated OpenAPI document\n")
	fmt.Fprintf(os.Stderr, "  init         Generate a config skeleton\n")
	fmt.Fprintf(os.Stderr, "  convert-env  Snapshot environment variables into a YAML config\n")
}

func loadOptions(configPath string) []gatewayconfig.Option {
	opts := []gatewayconfig.Option{}
	if strings.TrimSpace(configPath) != "" {
		opts = append(opts, gatewayconfig.WithPath(configPath))
	}
	return opts
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to gateway configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := gatewayconfig.Load(loadOptions(*configPath)...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rt, err := gatewayruntime.New(cfg)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	defer func() {
		if syncErr := pkglog.Sync(); syncErr != nil {
			log.Printf("logger sync failed: %v", syncErr)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadTable loads configuration and resolves the route table the way the
// runtime does at startup.
func loadTable(configPath string) (gatewayconfig.Config, *routes.Table, error) {
	cfg, err := gatewayconfig.Load(loadOptions(configPath)...)
	if err != nil {
		return cfg, nil, fmt.Errorf("load config: %w", err)
	}
	secrets, err := trust.NewRegistry(cfg.Secrets())
	if err != nil {
		return cfg, nil, fmt.Errorf("service secrets: %w", err)
	}
	table, err := routes.Build(cfg, secrets)
	if err != nil {
		return cfg, nil, fmt.Errorf("route table: %w", err)
	}
	return cfg, table, nil
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to gateway configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	_, table, err := loadTable(*configPath)
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	fmt.Printf("configuration valid (%d routes, services: %s)\n", table.Len(), strings.Join(table.Services(), ", "))
	return nil
}

func routesCommand(args []string) error {
	fs := flag.NewFlagSet("routes", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to gateway configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	_, table, err := loadTable(*configPath)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHODS\tPATTERN\tSERVICE\tROLES\tUSERNAME")
	for _, e := range table.Entries() {
		roles := "-"
		if e.Secure {
			roles = strings.Join(e.Roles.Strings(), ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", strings.Join(e.Methods, ","), e.Pattern, e.Service, roles, e.Injection)
	}
	return tw.Flush()
}

func openapiCommand(args []string) error {
	fs := flag.NewFlagSet("openapi", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to gateway configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, table, err := loadTable(*configPath)
	if err != nil {
		return err
	}

	docs := openapi.NewService(table, openapi.WithVersion(cfg.Version), openapi.WithFragments(cfg.OpenAPI.Fragments...))
	data, err := docs.Document(context.Background())
	if err != nil {
		return fmt.Errorf("build openapi document: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func initCommand(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	outputPath := fs.String("path", "apigw.yaml", "Destination path for generated config")
	force := fs.Bool("force", false, "Overwrite existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*force {
		if _, err := os.Stat(*outputPath); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", *outputPath)
		}
	}

	if err := os.WriteFile(*outputPath, []byte(sampleConfigYAML), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("configuration written to %s\n", *outputPath)
	return nil
}

func convertEnvCommand(args []string) error {
	fs := flag.NewFlagSet("convert-env", flag.ExitOnError)
	configPath := fs.String("config", "", "Optional config file to merge before env overrides")
	outputPath := fs.String("output", "", "Destination path for generated YAML (stdout when empty)")
	force := fs.Bool("force", false, "Overwrite existing output file")
	redact := fs.Bool("redact", false, "Blank every secret in the output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := gatewayconfig.Load(loadOptions(*configPath)...)
	if err != nil {
		return fmt.Errorf("load config from environment: %w", err)
	}
	if *redact {
		cfg = cfg.Redacted()
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	path := strings.TrimSpace(*outputPath)
	if path == "" {
		fmt.Print(string(data))
		return nil
	}

	if !*force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("output file %s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat output file: %w", err)
		}
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure output directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}

	fmt.Printf("configuration written to %s\n", path)
	return nil
}

const sampleConfigYAML = `# Gateway configuration for the quiz platform.
version: ""

http:
  port: 8080
  shutdownTimeout: 15s

auth:
  signingKey: replace-me
  issuer: ""
  loginTTL: 15m
  refreshTTL: 25m

namespaces:
  public: frontend_api
  internal: service_api
  internalSecret: replace-me

services:
  - name: user_service
    baseURL: https://user_service:8000
    secret: replace-me
    healthPath: /health
    tls:
      enabled: false
      insecureSkipVerify: false
      caFile: ""
      clientCertFile: ""
      clientKeyFile: ""
  - name: test_service
    baseURL: https://test_service:8000
    secret: replace-me
    healthPath: /health
  - name: subject_service
    baseURL: https://subject_service:8000
    secret: replace-me
    healthPath: /health

forward:
  timeout: 10s
  retryIdempotent: false
  maxBodyBytes: 1048576

errors:
  legacyStatus: false

cors:
  allowedOrigins:
    - https://app.example.com

rateLimit:
  window: 60s
  max: 120 # 0 disables throttling
  trustForwardedFor: false

metrics:
  enabled: true

ops:
  enabled: true
  listen: ":9090"

readiness:
  timeout: 2s
  userAgent: quiz-gateway/readyz
`
