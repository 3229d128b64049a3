package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/palaverhq/palaver/internal/auth/ceremony"
	"github.com/palaverhq/palaver/internal/auth/passkey"
	"github.com/palaverhq/palaver/internal/auth/session"
	"github.com/palaverhq/palaver/internal/auth/storage"
	"github.com/palaverhq/palaver/internal/auth/storage/kvmem"
	"github.com/palaverhq/palaver/internal/auth/storage/sqlite"
	"github.com/palaverhq/palaver/internal/auth/user"
)

type testServer struct {
	handler  http.Handler
	store    *sqlite.Store
	kv       *kvmem.Store
	sessions *session.Manager
}

func newTestServer(t *testing.T, config passkey.Config) *testServer {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	kv := kvmem.New()
	sessions := session.NewManager(store, kv)
	ceremonies := ceremony.NewService(store, store, kv, sessions, config)
	server := NewServer(config, ceremonies, sessions, store, store, nil)
	return &testServer{handler: server.Handler(), store: store, kv: kv, sessions: sessions}
}

func defaultTestConfig() passkey.Config {
	return passkey.Config{
		RPDisplayName:       "Palaver",
		ChallengeTTL:        5 * time.Minute,
		SessionTTL:          time.Hour,
		AdminSessionTTL:     30 * time.Minute,
		RegistrationEnabled: true,
	}
}

func postJSON(t *testing.T, handler http.Handler, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestRegisterStartIssuesChallenge(t *testing.T) {
	ts := newTestServer(t, defaultTestConfig())

	rec := postJSON(t, ts.handler, "/api/auth/register/start", `{"username":"alice","email":"alice@example.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["user_id"] == "" || body["user_id"] == nil {
		t.Fatalf("body = %v", body)
	}
	if body["public_key"] == nil {
		t.Fatal("missing public_key options")
	}

	created, err := ts.store.GetUserByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("user should be persisted: %v", err)
	}
	if created.Role != user.RoleUser || created.Level != 1 {
		t.Fatalf("user = %+v", created)
	}
}

func TestRegisterStartReusesAbandonedRegistration(t *testing.T) {
	ts := newTestServer(t, defaultTestConfig())

	first := postJSON(t, ts.handler, "/api/auth/register/start", `{"username":"alice","email":"alice@example.com"}`)
	second := postJSON(t, ts.handler, "/api/auth/register/start", `{"username":"alice","email":"alice@example.com"}`)
	if second.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", second.Code, second.Body.String())
	}
	if decodeBody(t, first)["user_id"] != decodeBody(t, second)["user_id"] {
		t.Fatal("abandoned registration should reuse the same user")
	}
}

func TestRegisterStartUsernameTaken(t *testing.T) {
	ts := newTestServer(t, defaultTestConfig())
	ctx := context.Background()
	now := time.Now().UTC()
	if err := ts.store.PutUser(ctx, user.User{ID: "user-1", Username: "alice", Email: "alice@example.com", Role: user.RoleUser, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := ts.store.PutCredential(ctx, storage.Credential{CredentialID: "cred-1", UserID: "user-1", PublicKey: []byte{1}, CredentialJSON: "{}", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("seed credential: %v", err)
	}

	rec := postJSON(t, ts.handler, "/api/auth/register/start", `{"username":"alice","email":"other@example.com"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestRegisterStartDisabled(t *testing.T) {
	config := defaultTestConfig()
	config.RegistrationEnabled = false
	ts := newTestServer(t, config)

	rec := postJSON(t, ts.handler, "/api/auth/register/start", `{"username":"alice","email":"alice@example.com"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	if decodeBody(t, rec)["code"] != "REGISTRATION_DISABLED" {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestRegisterStartInvalidInput(t *testing.T) {
	ts := newTestServer(t, defaultTestConfig())

	for name, body := range map[string]string{
		"bad json":     `{`,
		"bad username": `{"username":"A!","email":"alice@example.com"}`,
		"bad email":    `{"username":"alice","email":"not-an-email"}`,
	} {
		rec := postJSON(t, ts.handler, "/api/auth/register/start", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", name, rec.Code)
		}
	}
}

func TestRegisterFinishMalformedCredential(t *testing.T) {
	ts := newTestServer(t, defaultTestConfig())

	rec := postJSON(t, ts.handler, "/api/auth/register/finish", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing credential: status = %d", rec.Code)
	}
	rec = postJSON(t, ts.handler, "/api/auth/register/finish", `{"credential":{"nonsense":true}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("garbage credential: status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestLoginStartUnknownUsernameDoesNotLeak(t *testing.T) {
	ts := newTestServer(t, defaultTestConfig())

	rec := postJSON(t, ts.handler, "/api/auth/login/start", `{"username":"nobody"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["public_key"] == nil {
		t.Fatal("missing public_key options")
	}
}

func TestSessionEndpoint(t *testing.T) {
	ts := newTestServer(t, defaultTestConfig())
	ctx := context.Background()
	now := time.Now().UTC()
	if err := ts.store.PutUser(ctx, user.User{ID: "user-1", Username: "alice", Email: "alice@example.com", Role: user.RoleUser, Level: 3, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	minted, err := ts.sessions.Create(ctx, "user-1", time.Hour)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+minted.Token)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["username"] != "alice" {
		t.Fatalf("body = %v", body)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", rec.Code)
	}
}

func TestLogoutRequiresSameOrigin(t *testing.T) {
	ts := newTestServer(t, defaultTestConfig())
	ctx := context.Background()
	now := time.Now().UTC()
	if err := ts.store.PutUser(ctx, user.User{ID: "user-1", Username: "alice", Email: "alice@example.com", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	minted, err := ts.sessions.Create(ctx, "user-1", time.Hour)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: minted.Token})
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cross-origin logout status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: minted.Token})
	req.Header.Set("Origin", "http://"+req.Host)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("same-origin logout status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if _, err := ts.sessions.Resolve(ctx, minted.Token); err == nil {
		t.Fatal("session should be destroyed")
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, defaultTestConfig())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
