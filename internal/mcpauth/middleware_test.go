package mcpauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/erauner12/toolbridge-mcp/internal/mcpstorage"
	"github.com/erauner12/toolbridge-mcp/internal/mcpstorage/memstore"
	"github.com/go-chi/chi/v5"
)

func newTestServer(t *testing.T, cfg Config) (*memstore.Store, http.Handler) {
	t.Helper()
	store := memstore.New()
	store.SeedContext(&mcpstorage.TenantContext{ID: 1, UUID: "agency-1", Active: true, Type: mcpstorage.ContextAgency})

	mw := New(store, nil, cfg)
	r := chi.NewRouter()
	r.With(mw.Handler).Get("/mcp/{uuid}", func(w http.ResponseWriter, r *http.Request) {
		info, ok := FromContext(r.Context())
		if !ok {
			http.Error(w, "no auth info", http.StatusInternalServerError)
			return
		}
		w.Header().Set("X-Scopes", strings.Join(info.Scopes, ","))
		w.WriteHeader(http.StatusOK)
	})
	return store, r
}

func TestMiddlewareRejectsMissingAuthHeader(t *testing.T) {
	_, handler := newTestServer(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/mcp/agency-1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareAcceptsValidOpaqueToken(t *testing.T) {
	store, handler := newTestServer(t, Config{})
	ctx := context.Background()
	if err := store.StoreAccessToken(ctx, &mcpstorage.AccessToken{
		Token:     "tok-1",
		TenantID:  1,
		Scope:     "mcp:read mcp:tools:call",
		Resource:  "https://mcp.example.com/agency-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("StoreAccessToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/mcp/agency-1", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Scopes") != "mcp:read,mcp:tools:call" {
		t.Fatalf("X-Scopes = %q", rec.Header().Get("X-Scopes"))
	}
}

func TestMiddlewareRejectsTokenForWrongTenant(t *testing.T) {
	store, handler := newTestServer(t, Config{})
	ctx := context.Background()
	store.SeedContext(&mcpstorage.TenantContext{ID: 2, UUID: "agency-2", Active: true, Type: mcpstorage.ContextAgency})
	if err := store.StoreAccessToken(ctx, &mcpstorage.AccessToken{
		Token: "tok-2", TenantID: 2, ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("StoreAccessToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/mcp/agency-1", nil)
	req.Header.Set("Authorization", "Bearer tok-2")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for cross-tenant token", rec.Code)
	}
}

func TestMiddlewareEnforcesResourceBinding(t *testing.T) {
	store, handler := newTestServer(t, Config{
		RequireResourceBinding: true,
		ResourceURLFor:         func(uuid string) string { return "https://mcp.example.com/" + uuid },
	})
	ctx := context.Background()
	if err := store.StoreAccessToken(ctx, &mcpstorage.AccessToken{
		Token: "tok-3", TenantID: 1, Resource: "https://some-other-resource.example.com",
		ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("StoreAccessToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/mcp/agency-1", nil)
	req.Header.Set("Authorization", "Bearer tok-3")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for mismatched resource binding", rec.Code)
	}
}

func TestCheckScope(t *testing.T) {
	if !CheckScope("ping", nil) {
		t.Fatalf("ping should require no scope")
	}
	if CheckScope("tools/call", []string{"mcp:read"}) {
		t.Fatalf("tools/call should require mcp:tools:call, not just mcp:read")
	}
	if !CheckScope("tools/call", []string{"mcp:tools:call"}) {
		t.Fatalf("tools/call with mcp:tools:call scope should be allowed")
	}
}
