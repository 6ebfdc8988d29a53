package openapi

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/theroutercompany/quiz_gateway/pkg/gateway/routes"
)

type allSecrets struct{}

func (allSecrets) Has(string) bool { return true }

func defaultTable(t *testing.T) *routes.Table {
	t.Helper()
	baseURLs := map[string]string{
		routes.ServiceUser:    "https://users:8001",
		routes.ServiceTest:    "https://tests:8002",
		routes.ServiceSubject: "https://subjects:8003",
	}
	ns := routes.Namespaces{Public: routes.NamespacePublic, Internal: routes.NamespaceInternal}
	table, err := routes.NewTable(routes.Default(), ns, baseURLs, allSecrets{})
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	return table
}

func TestBuildDocumentFromRouteTable(t *testing.T) {
	svc := NewService(defaultTable(t), WithVersion("1.2.3"))
	doc, err := svc.Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		t.Fatalf("generated document is invalid: %v", err)
	}
	if doc.Info.Version != "1.2.3" {
		t.Fatalf("expected version 1.2.3, got %s", doc.Info.Version)
	}

	item := doc.Paths.Value("/frontend_api/get_all_users_info")
	if item == nil || item.Get == nil {
		t.Fatal("expected get_all_users_info GET operation")
	}
	roles, ok := item.Get.Extensions["x-roles"].([]string)
	if !ok || len(roles) != 1 || roles[0] != "admin" {
		t.Fatalf("expected admin-only x-roles, got %#v", item.Get.Extensions["x-roles"])
	}
	if item.Get.Security == nil || len(*item.Get.Security) != 1 {
		t.Fatal("expected bearer security on secured route")
	}

	userInfo := doc.Paths.Value("/frontend_api/get_user_info/{username}")
	if userInfo == nil || userInfo.Get == nil || len(userInfo.Get.Parameters) != 1 {
		t.Fatal("expected username path parameter")
	}

	if doc.Paths.Value("/frontend_api/get_token") == nil || doc.Paths.Value("/frontend_api/refresh_token") == nil {
		t.Fatal("expected token endpoints documented")
	}
}

func TestDocumentIsCachedJSON(t *testing.T) {
	svc := NewService(defaultTable(t))
	first, err := svc.Document(context.Background())
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(first, &decoded); err != nil {
		t.Fatalf("document is not JSON: %v", err)
	}
	if decoded["openapi"] != "3.0.3" {
		t.Fatalf("unexpected openapi version %v", decoded["openapi"])
	}

	first[0] = 'X'
	second, err := svc.Document(context.Background())
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if second[0] != '{' {
		t.Fatal("expected callers to receive independent copies")
	}
}

func TestFragmentsAreMerged(t *testing.T) {
	dir := t.TempDir()
	fragment := filepath.Join(dir, "tests.yaml")
	content := `openapi: 3.0.3
info:
  title: test service
  version: "1"
paths:
  /test_service/health:
    get:
      responses:
        "200":
          description: ok
components:
  schemas:
    Test:
      type: object
`
	if err := os.WriteFile(fragment, []byte(content), 0o600); err != nil {
		t.Fatalf("write fragment: %v", err)
	}

	doc, err := NewService(defaultTable(t), WithFragments(fragment)).Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if doc.Paths.Value("/test_service/health") == nil {
		t.Fatal("expected fragment path merged")
	}
	if _, ok := doc.Components.Schemas["Test"]; !ok {
		t.Fatal("expected fragment schema merged")
	}

	dup := filepath.Join(dir, "dup.yaml")
	dupContent := strings.Replace(content, "/test_service/health", "/frontend_api/register_user", 1)
	dupContent = strings.Replace(dupContent, "Test:", "Other:", 1)
	if err := os.WriteFile(dup, []byte(dupContent), 0o600); err != nil {
		t.Fatalf("write fragment: %v", err)
	}
	if _, err := NewService(defaultTable(t), WithFragments(dup)).Build(context.Background()); err == nil {
		t.Fatal("expected duplicate path error")
	}
}

func TestOperationID(t *testing.T) {
	if got := operationID("GET", "/frontend_api/get_user_info/{username}"); got != "get_frontend_api_get_user_info_username" {
		t.Fatalf("unexpected operation id %s", got)
	}
}
