package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	gatewayconfig "github.com/theroutercompany/quiz_gateway/pkg/gateway/config"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/identity"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/problem"
	"github.com/theroutercompany/quiz_gateway/pkg/gateway/trust"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func newTestIssuer(t *testing.T, clock *fakeClock) *Issuer {
	t.Helper()
	cfg := gatewayconfig.AuthConfig{
		SigningKey: "signing-secret",
		Issuer:     "quiz-gateway",
		LoginTTL:   gatewayconfig.Duration(15 * time.Minute),
		RefreshTTL: gatewayconfig.Duration(25 * time.Minute),
	}
	issuer, err := NewIssuer(cfg, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return issuer
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	issuer := newTestIssuer(t, clock)

	token, err := issuer.IssueLogin(identity.Identity{Role: identity.RoleTeacher, Username: "mmm"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if want := clock.now.Add(15 * time.Minute); !token.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, token.ExpiresAt)
	}

	id, expires, err := issuer.Verify(token.Value)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.Role != identity.RoleTeacher || id.Username != "mmm" {
		t.Fatalf("unexpected identity %+v", id)
	}
	if !expires.Equal(token.ExpiresAt) {
		t.Fatalf("expected expiry %v, got %v", token.ExpiresAt, expires)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	issuer := newTestIssuer(t, clock)

	token, err := issuer.IssueLogin(identity.Identity{Role: identity.RoleStudent, Username: "sam"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	parts := strings.Split(token.Value, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape %q", token.Value)
	}
	// Swap the payload for one that claims admin.
	forged, err := issuer.IssueLogin(identity.Identity{Role: identity.RoleAdmin, Username: "sam"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	forgedParts := strings.Split(forged.Value, ".")
	tampered := parts[0] + "." + forgedParts[1] + "." + parts[2]

	_, _, err = issuer.Verify(tampered)
	assertAuthError(t, err)

	other, err := NewIssuer(gatewayconfig.AuthConfig{
		SigningKey: "another-secret",
		Issuer:     "quiz-gateway",
		LoginTTL:   gatewayconfig.Duration(time.Minute),
		RefreshTTL: gatewayconfig.Duration(time.Minute),
	})
	if err != nil {
		t.Fatalf("other issuer: %v", err)
	}
	_, _, err = other.Verify(token.Value)
	assertAuthError(t, err)
}

func TestVerifyRejectsEveryChangedCharacter(t *testing.T) {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

	clock := &fakeClock{now: time.Now()}
	issuer := newTestIssuer(t, clock)

	token, err := issuer.IssueLogin(identity.Identity{Role: identity.RoleTeacher, Username: "mmm"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	for pos := 0; pos < len(token.Value); pos++ {
		idx := strings.IndexByte(alphabet, token.Value[pos])
		if idx < 0 {
			continue
		}
		// Neighbours differing in the lowest bit share every significant bit
		// of a trailing character, so they only fail under strict decoding.
		tampered := token.Value[:pos] + string(alphabet[idx^1]) + token.Value[pos+1:]
		if id, _, err := issuer.Verify(tampered); err == nil {
			t.Fatalf("position %d: tampered token accepted as %+v", pos, id)
		} else if pe, ok := problem.As(err); !ok || pe.Kind != problem.KindAuth {
			t.Fatalf("position %d: expected auth error, got %v", pos, err)
		}
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	issuer := newTestIssuer(t, clock)

	token, err := issuer.IssueLogin(identity.Identity{Role: identity.RoleAdmin, Username: "root"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	clock.now = clock.now.Add(16 * time.Minute)
	_, _, err = issuer.Verify(token.Value)
	pe := assertAuthError(t, err)
	if pe.Detail != "Token has expired" {
		t.Fatalf("expected expiry detail, got %q", pe.Detail)
	}
}

func TestRefreshExtendsLifetime(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	issuer := newTestIssuer(t, clock)

	login, err := issuer.IssueLogin(identity.Identity{Role: identity.RoleStudent, Username: "sam"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	clock.now = clock.now.Add(10 * time.Minute)
	id, _, err := issuer.Verify(login.Value)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	refreshed, err := issuer.Refresh(id)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if want := clock.now.Add(25 * time.Minute); !refreshed.ExpiresAt.Equal(want) {
		t.Fatalf("expected refreshed expiry %v, got %v", want, refreshed.ExpiresAt)
	}

	clock.now = clock.now.Add(20 * time.Minute)
	if _, _, err := issuer.Verify(login.Value); err == nil {
		t.Fatal("expected login token to have expired")
	}
	again, _, err := issuer.Verify(refreshed.Value)
	if err != nil {
		t.Fatalf("verify refreshed: %v", err)
	}
	if again != id {
		t.Fatalf("refresh changed identity: %+v vs %+v", again, id)
	}
}

func TestSignRejectsUnknownRole(t *testing.T) {
	issuer := newTestIssuer(t, &fakeClock{now: time.Now()})
	if _, err := issuer.IssueLogin(identity.Identity{Role: identity.Role("janitor"), Username: "x"}); err == nil {
		t.Fatal("expected unknown role to be rejected")
	}
	if _, err := issuer.IssueLogin(identity.Identity{Role: identity.RoleStudent}); err == nil {
		t.Fatal("expected empty username to be rejected")
	}
}

func TestAuthenticateBearerHeader(t *testing.T) {
	issuer := newTestIssuer(t, &fakeClock{now: time.Now()})
	token, err := issuer.IssueLogin(identity.Identity{Role: identity.RoleTeacher, Username: "mmm"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	cases := []struct {
		name   string
		header string
		ok     bool
	}{
		{name: "missing", header: ""},
		{name: "wrong scheme", header: "Basic " + token.Value},
		{name: "empty token", header: "Bearer   "},
		{name: "garbage", header: "Bearer abc.def.ghi"},
		{name: "valid", header: "Bearer " + token.Value, ok: true},
		{name: "lowercase scheme", header: "bearer " + token.Value, ok: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/frontend_api/get_users_by_role/student", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			principal, err := issuer.Authenticate(req)
			if tc.ok {
				if err != nil {
					t.Fatalf("authenticate: %v", err)
				}
				if principal.Username != "mmm" || principal.Role != identity.RoleTeacher {
					t.Fatalf("unexpected principal %+v", principal)
				}
				return
			}
			assertAuthError(t, err)
		})
	}
}

func TestLoginDelegatesToUserService(t *testing.T) {
	var gotSecret, gotPath, gotUser string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get(trust.HeaderName)
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotUser = r.PostForm.Get("username")
		if r.PostForm.Get("password") != "right" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `["Cannot log in", "wrong username or password"]`)
			return
		}
		_, _ = io.WriteString(w, `{"username":"mmm","name":"Ms M","role":"teacher"}`)
	}))
	defer backend.Close()

	issuer := newTestIssuer(t, &fakeClock{now: time.Now()})
	svc := NewService(issuer, NewUserServiceClient(backend.Client(), backend.URL+"/", "user_service", "user-secret"))

	info, err := svc.Login(context.Background(), url.Values{"username": {"mmm"}, "password": {"right"}})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if gotSecret != "user-secret" || gotPath != "/user_service/validate_credentials" || gotUser != "mmm" {
		t.Fatalf("unexpected backend call secret=%q path=%q user=%q", gotSecret, gotPath, gotUser)
	}
	if info.Name != "Ms M" || info.Token == "" {
		t.Fatalf("unexpected user info %+v", info)
	}
	id, _, err := issuer.Verify(info.Token)
	if err != nil || id.Username != "mmm" || id.Role != identity.RoleTeacher {
		t.Fatalf("issued token does not carry identity: %+v %v", id, err)
	}

	_, err = svc.Login(context.Background(), url.Values{"username": {"mmm"}, "password": {"wrong"}})
	pe, ok := problem.As(err)
	if !ok || pe.Kind != problem.KindCredential {
		t.Fatalf("expected credential error, got %v", err)
	}
	if string(pe.Raw) != `["Cannot log in", "wrong username or password"]` {
		t.Fatalf("expected backend text relayed, got %q", pe.Raw)
	}
}

func TestLoginRejectsMalformedUserRecord(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"username":"mmm","role":"janitor"}`)
	}))
	defer backend.Close()

	svc := NewService(newTestIssuer(t, &fakeClock{now: time.Now()}), NewUserServiceClient(backend.Client(), backend.URL, "user_service", "s"))
	_, err := svc.Login(context.Background(), url.Values{})
	pe, ok := problem.As(err)
	if !ok || pe.Kind != problem.KindCredential || pe.Summary != "Login error" {
		t.Fatalf("expected login error, got %v", err)
	}
}

func assertAuthError(t *testing.T, err error) *problem.Error {
	t.Helper()
	if err == nil {
		t.Fatal("expected authentication error")
	}
	pe, ok := problem.As(err)
	if !ok || pe.Kind != problem.KindAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
	return pe
}
