// Package openapi renders the gateway's route table as an OpenAPI 3 document.
package openapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	json "github.com/goccy/go-json"

	"github.com/theroutercompany/quiz_gateway/pkg/gateway/routes"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/trust"
)

const (
	bearerScheme = "bearerAuth"
	secretScheme = "serviceSecret"
	errorSchema  = "Error"
)

var pathParam = regexp.MustCompile(`\{([^}/]+)\}`)

// DocumentProvider exposes the OpenAPI document.
type DocumentProvider interface {
	Document(ctx context.Context) ([]byte, error)
}

// Service builds the document once from an immutable route table and caches it.
type Service struct {
	table     *routes.Table
	version   string
	fragments []string

	once sync.Once
	raw  []byte
	err  error
}

// Option customises a Service.
type Option func(*Service)

// WithVersion sets info.version.
func WithVersion(version string) Option {
	return func(s *Service) {
		if version != "" {
			s.version = version
		}
	}
}

// WithFragments merges additional OpenAPI files (for example backend-owned
// schemas) into the generated document.
func WithFragments(paths ...string) Option {
	return func(s *Service) {
		s.fragments = append(s.fragments, paths...)
	}
}

// NewService constructs a provider for table.
func NewService(table *routes.Table, opts ...Option) *Service {
	s := &Service{table: table, version: "dev"}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Document returns the document in JSON form.
func (s *Service) Document(ctx context.Context) ([]byte, error) {
	s.once.Do(func() {
		doc, err := s.Build(ctx)
		if err != nil {
			s.err = err
			return
		}
		raw, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			s.err = fmt.Errorf("encode document: %w", err)
			return
		}
		s.raw = raw
	})
	if s.err != nil {
		return nil, s.err
	}
	return clone(s.raw), nil
}

// Build generates the document without caching.
func (s *Service) Build(ctx context.Context) (*openapi3.T, error) {
	if s.table == nil {
		return nil, errors.New("route table not configured")
	}

	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "Quiz Gateway",
			Version:     s.version,
			Description: "Edge gateway for the user, test and subject services. Every response of a forwarded route is the backend's reply relayed unchanged.",
		},
		Paths: openapi3.NewPaths(),
	}
	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{
		errorSchema: openapi3.NewSchemaRef("", openapi3.NewArraySchema().
			WithItems(openapi3.NewStringSchema()).
			WithMinItems(2).
			WithMaxItems(2)),
		"UserInfo": openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
			WithProperty("username", openapi3.NewStringSchema()).
			WithProperty("name", openapi3.NewStringSchema()).
			WithProperty("role", openapi3.NewStringSchema().WithEnum("admin", "teacher", "student")).
			WithProperty("token", openapi3.NewStringSchema())),
	}
	components.SecuritySchemes = openapi3.SecuritySchemes{
		bearerScheme: &openapi3.SecuritySchemeRef{Value: openapi3.NewJWTSecurityScheme()},
		secretScheme: &openapi3.SecuritySchemeRef{Value: openapi3.NewSecurityScheme().
			WithType("apiKey").
			WithIn("header").
			WithName(trust.HeaderName)},
	}
	doc.Components = &components

	ns := s.table.Namespaces()
	s.addTokenOperations(doc, ns)

	for _, entry := range s.table.Entries() {
		for _, method := range entry.Methods {
			doc.AddOperation(entry.Pattern, method, s.operation(entry, method, ns))
		}
	}

	if len(s.fragments) == 0 {
		return doc, nil
	}

	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true
	for _, path := range s.fragments {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		fragment, err := loader.LoadFromFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("load openapi fragment %s: %w", path, err)
		}
		if err := mergePaths(doc.Paths, fragment.Paths); err != nil {
			return nil, err
		}
		if fragment.Components != nil {
			if err := mergeComponentMap(&doc.Components.Schemas, fragment.Components.Schemas, "schema"); err != nil {
				return nil, err
			}
		}
	}
	return doc, nil
}

func (s *Service) operation(entry routes.Entry, method string, ns routes.Namespaces) *openapi3.Operation {
	op := openapi3.NewOperation()
	op.OperationID = operationID(method, entry.Pattern)
	op.Tags = []string{entry.Service}
	op.Summary = fmt.Sprintf("Forwarded to %s", entry.Service)

	for _, match := range pathParam.FindAllStringSubmatch(entry.Pattern, -1) {
		op.AddParameter(openapi3.NewPathParameter(match[1]).WithSchema(openapi3.NewStringSchema()))
	}
	if entry.Injection == routes.InjectFromHeader {
		op.AddParameter(openapi3.NewHeaderParameter("username").
			WithRequired(true).
			WithDescription("Username of the already authenticated end user").
			WithSchema(openapi3.NewStringSchema()))
	}

	requirements := openapi3.NewSecurityRequirements()
	if entry.Namespace() == ns.Internal {
		requirements.With(openapi3.NewSecurityRequirement().Authenticate(secretScheme))
	}
	if entry.Secure {
		requirements.With(openapi3.NewSecurityRequirement().Authenticate(bearerScheme))
	}
	if len(*requirements) > 0 {
		op.Security = requirements
	}

	op.Extensions = map[string]any{
		"x-service":            entry.Service,
		"x-username-injection": entry.Injection.String(),
	}
	if entry.Secure {
		op.Extensions["x-roles"] = entry.Roles.Strings()
	}

	op.Responses = openapi3.NewResponsesWithCapacity(5)
	op.AddResponse(http.StatusOK, openapi3.NewResponse().WithDescription("Backend response, relayed unchanged"))
	addErrorResponses(op, entry.Secure)
	return op
}

func (s *Service) addTokenOperations(doc *openapi3.T, ns routes.Namespaces) {
	login := "/" + ns.Public + "/get_token"
	for _, method := range []string{http.MethodPost, http.MethodGet} {
		op := openapi3.NewOperation()
		op.OperationID = operationID(method, login)
		op.Tags = []string{"auth"}
		op.Summary = "Exchange credentials for an access token"
		op.Responses = openapi3.NewResponsesWithCapacity(2)
		op.AddResponse(http.StatusOK, openapi3.NewResponse().
			WithDescription("User record with a 15 minute access token").
			WithJSONSchemaRef(openapi3.NewSchemaRef("#/components/schemas/UserInfo", nil)))
		addErrorResponses(op, false)
		doc.AddOperation(login, method, op)
	}

	refresh := "/" + ns.Public + "/refresh_token"
	op := openapi3.NewOperation()
	op.OperationID = operationID(http.MethodGet, refresh)
	op.Tags = []string{"auth"}
	op.Summary = "Re-sign the caller's identity with a 25 minute lifetime"
	op.Security = openapi3.NewSecurityRequirements().With(openapi3.NewSecurityRequirement().Authenticate(bearerScheme))
	op.Responses = openapi3.NewResponsesWithCapacity(2)
	op.AddResponse(http.StatusOK, openapi3.NewResponse().
		WithDescription("The new token as a JSON string").
		WithJSONSchema(openapi3.NewStringSchema()))
	addErrorResponses(op, true)
	doc.AddOperation(refresh, http.MethodGet, op)
}

func addErrorResponses(op *openapi3.Operation, secure bool) {
	ref := openapi3.NewSchemaRef("#/components/schemas/"+errorSchema, nil)
	op.AddResponse(http.StatusBadRequest, openapi3.NewResponse().WithDescription("Unknown namespace or malformed request").WithJSONSchemaRef(ref))
	op.AddResponse(http.StatusForbidden, openapi3.NewResponse().WithDescription("Missing service secret or role not allowed").WithJSONSchemaRef(ref))
	if secure {
		op.AddResponse(http.StatusUnauthorized, openapi3.NewResponse().WithDescription("Missing, invalid or expired token").WithJSONSchemaRef(ref))
	}
	op.AddResponse(http.StatusInternalServerError, openapi3.NewResponse().WithDescription("Backend unreachable or credential check failed").WithJSONSchemaRef(ref))
}

func operationID(method, pattern string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, r := range pattern {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '{' || r == '}':
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func mergePaths(dst, src *openapi3.Paths) error {
	if src == nil {
		return nil
	}
	if dst == nil {
		return errors.New("destination paths not initialised")
	}

	dstMap := dst.Map()
	for path, item := range src.Map() {
		if _, exists := dstMap[path]; exists {
			return fmt.Errorf("duplicate path detected: %s", path)
		}
		dst.Set(path, item)
	}
	return nil
}

func mergeComponentMap[M ~map[string]V, V any](dst *M, src M, label string) error {
	if len(src) == 0 {
		return nil
	}
	if *dst == nil {
		*dst = make(M, len(src))
	}
	for key, value := range src {
		if _, exists := (*dst)[key]; exists {
			return fmt.Errorf("duplicate %s detected: %s", label, key)
		}
		(*dst)[key] = value
	}
	return nil
}

func clone(src []byte) []byte {
	if src == nil {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}
