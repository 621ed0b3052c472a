package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"roomhub/internal/app"
	"roomhub/internal/chat"
	"roomhub/internal/usertoken"
	"roomhub/pkg/store"
	"roomhub/pkg/stream"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()

	st := store.NewMemoryStore()
	if err := store.EnsurePermissions(ctx, st); err != nil {
		t.Fatalf("seed permissions: %v", err)
	}
	a, err := app.New(app.Config{Store: st, Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	broker, err := chat.NewBroker(chat.Config{
		App:     a,
		Streams: stream.NewRedisStream(client),
		Logger:  slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}

	tokenCfg := usertoken.Config{Secret: "test-secret"}
	verifier, err := usertoken.NewVerifier(tokenCfg)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	issuer, err := usertoken.NewIssuer(tokenCfg, 0)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return New(Config{App: a, Broker: broker, TokenVerifier: verifier, TokenIssuer: issuer})
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func register(t *testing.T, h http.Handler, username string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    username + "@example.com",
		"username": username,
		"password": "correct horse",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d: %s", rec.Code, rec.Body)
	}
	rec = doJSON(t, h, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    username + "@example.com",
		"password": "correct horse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d: %s", rec.Code, rec.Body)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil || out.Token == "" {
		t.Fatalf("login token: %v (%s)", err, rec.Body)
	}
	return out.Token
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)
	h := s.Router()

	token := register(t, h, "alice")

	rec := doJSON(t, h, http.MethodGet, "/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: status %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/auth/me", "garbage", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status %d, want 401", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/auth/me", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d, want 401", rec.Code)
	}
}

func TestRoomLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	h := s.Router()

	token := register(t, h, "alice")

	rec := doJSON(t, h, http.MethodPost, "/rooms", token, map[string]any{
		"name":   "Go Talk",
		"topics": []string{"golang"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create room: status %d: %s", rec.Code, rec.Body)
	}
	var room struct {
		ID   string `json:"ID"`
		Slug string `json:"Slug"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &room); err != nil {
		t.Fatalf("decode room: %v", err)
	}
	if room.Slug != "go-talk" {
		t.Fatalf("slug = %q", room.Slug)
	}

	// Public room is visible without a token.
	rec = doJSON(t, h, http.MethodGet, "/rooms/"+room.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("anonymous get: status %d", rec.Code)
	}

	// Duplicate name maps CONFLICT to 409.
	rec = doJSON(t, h, http.MethodPost, "/rooms", token, map[string]any{"name": "Go Talk"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: status %d, want 409", rec.Code)
	}

	// Validation failures map to 400 with a field map.
	rec = doJSON(t, h, http.MethodPost, "/rooms", token, map[string]any{"name": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty name: status %d, want 400", rec.Code)
	}
	var body struct {
		Fields map[string][]string `json:"fields"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || len(body.Fields["name"]) == 0 {
		t.Fatalf("expected field map, got %s", rec.Body)
	}
}

func TestPermissionDeniedMapsTo403(t *testing.T) {
	s := newTestServer(t)
	h := s.Router()

	host := register(t, h, "alice")
	stranger := register(t, h, "bob")

	rec := doJSON(t, h, http.MethodPost, "/rooms", host, map[string]any{"name": "Go Talk"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create room: status %d", rec.Code)
	}
	var room struct {
		ID string `json:"ID"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &room)

	rec = doJSON(t, h, http.MethodPost, "/rooms/"+room.ID+"/roles", stranger, map[string]any{
		"name": "Mod", "priority": 50,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("stranger create role: status %d, want 403", rec.Code)
	}
}
