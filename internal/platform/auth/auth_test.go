package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type testAuthenticator struct {
	identity Identity
	err      error
	calls    int
}

func (a *testAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	a.calls++
	return a.identity, a.err
}

func serveAction(t *testing.T, m Middleware, action string, next http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("POST /api/v3/{entity}/{action}", m.Wrap(next))
	req := httptest.NewRequest(http.MethodPost, "http://example.test/api/v3/contribution/"+action, nil)
	req.Header.Set("X-Request-Id", "rid-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return body
}

func TestMiddleware_Unauthenticated(t *testing.T) {
	var audited []DenyEvent
	m := Middleware{
		Authenticator: &testAuthenticator{err: ErrUnauthenticated},
		Audit: func(ctx context.Context, event DenyEvent) error {
			audited = append(audited, event)
			return nil
		},
	}
	called := false
	rec := serveAction(t, m, "get", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	if called {
		t.Fatalf("handler should not be called")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["is_error"] != float64(1) || body["error_code"] != "unauthenticated" {
		t.Fatalf("body=%v", body)
	}
	if len(audited) != 1 || audited[0].RequestID != "rid-1" || audited[0].Status != http.StatusUnauthorized {
		t.Fatalf("audited=%+v", audited)
	}
}

func TestMiddleware_InvalidToken(t *testing.T) {
	m := Middleware{Authenticator: &testAuthenticator{err: errors.New("bad token")}}
	rec := serveAction(t, m, "get", http.NotFoundHandler())
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
	if body := decodeBody(t, rec); body["error_code"] != "invalid_token" {
		t.Fatalf("body=%v", body)
	}
}

func TestMiddleware_ActionRoles(t *testing.T) {
	cases := []struct {
		roles  []string
		action string
		want   int
	}{
		{[]string{"viewer"}, "get", http.StatusOK},
		{[]string{"viewer"}, "create", http.StatusForbidden},
		{[]string{"editor"}, "transact", http.StatusOK},
		{[]string{"editor"}, "delete", http.StatusForbidden},
		{[]string{"admin"}, "delete", http.StatusOK},
	}
	for _, tc := range cases {
		m := Middleware{
			Authenticator: &testAuthenticator{identity: Identity{Subject: "alice", Roles: tc.roles}},
			Authorize:     ActionRoleAuthorizer(),
		}
		var seen Identity
		rec := serveAction(t, m, tc.action, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = IdentityFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		}))
		if rec.Code != tc.want {
			t.Fatalf("roles=%v action=%s status=%d, want %d", tc.roles, tc.action, rec.Code, tc.want)
		}
		if tc.want == http.StatusOK && seen.Subject != "alice" {
			t.Fatalf("identity not propagated: %+v", seen)
		}
	}
}

func TestHasAtLeast(t *testing.T) {
	if !HasAtLeast([]string{"viewer"}, RoleViewer) {
		t.Fatalf("viewer should satisfy viewer")
	}
	if HasAtLeast([]string{"viewer"}, RoleEditor) {
		t.Fatalf("viewer should not satisfy editor")
	}
	if !HasAtLeast([]string{" Admin "}, RoleEditor) {
		t.Fatalf("admin should satisfy editor")
	}
	if HasAtLeast(nil, "owner") {
		t.Fatalf("unknown role should never be satisfied")
	}
}

func TestRequiredRoleForAction(t *testing.T) {
	want := map[string]string{
		"get":                 RoleViewer,
		"getfields":           RoleViewer,
		"create":              RoleEditor,
		"completetransaction": RoleEditor,
		"sendconfirmation":    RoleEditor,
		"Delete":              RoleAdmin,
	}
	for action, role := range want {
		if got := RequiredRoleForAction(action); got != role {
			t.Fatalf("RequiredRoleForAction(%q)=%q, want %q", action, got, role)
		}
	}
}

func TestIdentityActorAndCanRun(t *testing.T) {
	id := Identity{Email: "ops@example.org", Roles: []string{RoleEditor}}
	if id.Actor() != "ops@example.org" {
		t.Fatalf("Actor()=%q", id.Actor())
	}
	id.Subject = "sub-1"
	if id.Actor() != "sub-1" {
		t.Fatalf("Actor()=%q", id.Actor())
	}
	if !id.CanRun("transact") || id.CanRun("delete") {
		t.Fatalf("editor roles resolved wrong")
	}
}

func TestDevAuthenticatorNarrowsRoles(t *testing.T) {
	a := NewDevAuthenticator(Config{DevSubject: "dev", DevEmail: "dev@example.local", DevRoles: []string{RoleEditor}})

	req := httptest.NewRequest(http.MethodPost, "http://example.test/api/v3/contribution/get", nil)
	id, err := a.Authenticate(context.Background(), req)
	if err != nil {
		t.Fatalf("Authenticate() err=%v", err)
	}
	if id.Subject != "dev" || len(id.Roles) != 1 || id.Roles[0] != RoleEditor {
		t.Fatalf("identity=%+v", id)
	}

	req.Header.Set(DevRolesHeader, "viewer, admin")
	id, err = a.Authenticate(context.Background(), req)
	if err != nil {
		t.Fatalf("Authenticate() err=%v", err)
	}
	if len(id.Roles) != 1 || id.Roles[0] != RoleViewer {
		t.Fatalf("roles=%v, want only viewer", id.Roles)
	}
	if id.CanRun("create") || !id.CanRun("get") {
		t.Fatalf("narrowed identity resolved wrong: %+v", id)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{Mode: ModeOIDC}).Validate(); err == nil {
		t.Fatalf("expected oidc config without issuer to fail")
	}
	if err := (Config{Mode: ModeDev, DevSubject: "dev"}).Validate(); err == nil {
		t.Fatalf("expected dev config without roles to fail")
	}
	if err := (Config{Mode: "saml"}).Validate(); err == nil {
		t.Fatalf("expected unknown mode to fail")
	}
	if err := (Config{Mode: ModeDisabled}).Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestExtractRolesClaim(t *testing.T) {
	claims := map[string]any{
		"roles":  []any{"Editor", "viewer", 7, "editor"},
		"groups": "admin, viewer",
	}
	if got := extractRolesClaim(claims, "roles"); len(got) != 2 || got[0] != "editor" || got[1] != "viewer" {
		t.Fatalf("roles=%v", got)
	}
	if got := extractRolesClaim(claims, "groups"); len(got) != 2 || got[0] != "admin" {
		t.Fatalf("groups=%v", got)
	}
	if got := extractRolesClaim(claims, "missing"); got != nil {
		t.Fatalf("missing=%v", got)
	}
}
