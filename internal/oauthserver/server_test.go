package oauthserver

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/erauner12/toolbridge-mcp/internal/mcpstorage"
	"github.com/erauner12/toolbridge-mcp/internal/mcpstorage/memstore"
)

const testBaseURL = "https://mcp.example.com"

func newTestServer(t *testing.T) (*Server, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	store.SeedContext(&mcpstorage.TenantContext{ID: 1, UUID: "agency-1", Active: true, Type: mcpstorage.ContextAgency})
	store.SeedClient(&mcpstorage.Client{
		ClientID:     "client-1",
		RedirectURIs: []string{"https://client.example.com/callback"},
		AuthMethod:   "none",
	})
	hash, err := memstore.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	store.CreateUser("alice@example.com", hash)

	return New(store, testBaseURL), store
}

func pkcePair() (verifier, challenge string) {
	verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return
}

// runFullAuthorizationFlow drives /authorize -> /verify -> /authorize ->
// /consent -> /token, returning the issued token response.
func runFullAuthorizationFlow(t *testing.T, s *Server) (*tokenResponse, string) {
	t.Helper()
	verifier, challenge := pkcePair()

	authQuery := url.Values{
		"response_type":         {"code"},
		"client_id":             {"client-1"},
		"redirect_uri":          {"https://client.example.com/callback"},
		"scope":                 {"mcp:read mcp:tools:call"},
		"state":                 {"xyz"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
		"resource":              {testBaseURL + "/mcp/agency-1"},
	}.Encode()

	// 1. GET /authorize with no cookie -> login page.
	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+authQuery, nil)
	rec := httptest.NewRecorder()
	s.Authorize(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Sign in") {
		t.Fatalf("expected login page, got %d: %s", rec.Code, rec.Body.String())
	}

	// 2. POST /verify with credentials -> redirect to /authorize, sets cookie.
	verifyForm := url.Values{
		"authorize_query": {authQuery},
		"email":           {"alice@example.com"},
		"password":        {"hunter2"},
	}
	req = httptest.NewRequest(http.MethodPost, "/oauth/verify", strings.NewReader(verifyForm.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	s.Verify(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("verify: status = %d, want 302, body=%s", rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("verify: expected a ui session cookie to be set")
	}

	// 3. GET /authorize again, now with cookie -> consent page.
	req = httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+authQuery, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	s.Authorize(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Allow") {
		t.Fatalf("expected consent page, got %d: %s", rec.Code, rec.Body.String())
	}

	// 4. POST /consent approving -> redirect to redirect_uri with code+state.
	consentForm := url.Values{"authorize_query": {authQuery}, "decision": {"allow"}}
	req = httptest.NewRequest(http.MethodPost, "/oauth/consent", strings.NewReader(consentForm.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	s.Consent(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("consent: status = %d, want 302, body=%s", rec.Code, rec.Body.String())
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect location: %v", err)
	}
	code := loc.Query().Get("code")
	if code == "" {
		t.Fatalf("expected an authorization code in redirect, got %s", loc.String())
	}
	if loc.Query().Get("state") != "xyz" {
		t.Fatalf("state not round-tripped: %s", loc.String())
	}

	// 5. POST /token exchanging the code.
	tokenForm := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {"client-1"},
		"redirect_uri":  {"https://client.example.com/callback"},
		"code_verifier": {verifier},
		"resource":      {testBaseURL + "/mcp/agency-1"},
	}
	req = httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(tokenForm.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	s.Token(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("token: status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var resp tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" || resp.TokenType != "Bearer" {
		t.Fatalf("incomplete token response: %+v", resp)
	}
	return &resp, code
}

func TestFullAuthorizationCodeFlow(t *testing.T) {
	s, _ := newTestServer(t)
	runFullAuthorizationFlow(t, s)
}

func TestAuthorizationCodeIsOneTimeUse(t *testing.T) {
	s, _ := newTestServer(t)
	_, code := runFullAuthorizationFlow(t, s)
	verifier, _ := pkcePair()

	tokenForm := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {"client-1"},
		"redirect_uri":  {"https://client.example.com/callback"},
		"code_verifier": {verifier},
		"resource":      {testBaseURL + "/mcp/agency-1"},
	}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(tokenForm.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Token(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("replaying a consumed code should fail, got %d", rec.Code)
	}
}

func TestRefreshTokenRotation(t *testing.T) {
	s, _ := newTestServer(t)
	first, _ := runFullAuthorizationFlow(t, s)

	refreshForm := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {first.RefreshToken},
		"client_id":     {"client-1"},
		"resource":      {testBaseURL + "/mcp/agency-1"},
	}
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(refreshForm.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Token(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var second tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode refreshed token: %v", err)
	}
	if second.AccessToken == first.AccessToken {
		t.Fatalf("expected a rotated access token")
	}

	// Reusing the old refresh token must now fail.
	req = httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(refreshForm.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	s.Token(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("reusing a revoked refresh token should fail, got %d", rec.Code)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	s, _ := newTestServer(t)
	resp, _ := runFullAuthorizationFlow(t, s)

	for i := 0; i < 2; i++ {
		form := url.Values{"token": {resp.AccessToken}}
		req := httptest.NewRequest(http.MethodPost, "/oauth/revoke", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		s.Revoke(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("revoke call %d: status = %d", i, rec.Code)
		}
	}
}

func TestRegisterDynamicClient(t *testing.T) {
	s, _ := newTestServer(t)
	body := `{"client_name":"My Agent","redirect_uris":["https://agent.example.com/cb"]}`
	req := httptest.NewRequest(http.MethodPost, "/oauth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Register(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("register: status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var resp registerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if resp.ClientID == "" || resp.ClientSecret == "" {
		t.Fatalf("expected client_id and client_secret to be issued: %+v", resp)
	}
}

func TestRegisterRejectsMissingRedirectURIs(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/oauth/register", strings.NewReader(`{"client_name":"bad"}`))
	rec := httptest.NewRecorder()
	s.Register(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAuthorizeRejectsUnknownClient(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize?client_id=ghost&redirect_uri=https://x", nil)
	rec := httptest.NewRecorder()
	s.Authorize(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown client", rec.Code)
	}
}

func TestVerifyRejectsBadPassword(t *testing.T) {
	s, _ := newTestServer(t)
	form := url.Values{"email": {"alice@example.com"}, "password": {"wrong"}, "authorize_query": {"state=1"}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/verify", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Verify(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestConsentDenyRedirectsWithAccessDenied(t *testing.T) {
	s, _ := newTestServer(t)
	_, challenge := pkcePair()
	authQuery := url.Values{
		"response_type": {"code"}, "client_id": {"client-1"},
		"redirect_uri": {"https://client.example.com/callback"}, "state": {"abc"},
		"code_challenge": {challenge}, "code_challenge_method": {"S256"},
		"resource": {testBaseURL + "/mcp/agency-1"},
	}.Encode()

	verifyForm := url.Values{"authorize_query": {authQuery}, "email": {"alice@example.com"}, "password": {"hunter2"}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/verify", strings.NewReader(verifyForm.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Verify(rec, req)
	cookies := rec.Result().Cookies()

	denyForm := url.Values{"authorize_query": {authQuery}, "decision": {"deny"}}
	req = httptest.NewRequest(http.MethodPost, "/oauth/consent", strings.NewReader(denyForm.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	s.Consent(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	loc, _ := url.Parse(rec.Header().Get("Location"))
	if loc.Query().Get("error") != "access_denied" {
		t.Fatalf("expected access_denied, got %s", loc.String())
	}
}

func TestResourceForTenantRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	resource := s.ResourceForTenant("agency-1")
	if resource != testBaseURL+"/mcp/agency-1" {
		t.Fatalf("ResourceForTenant = %q", resource)
	}
	if got := s.tenantUUIDFromResource(resource); got != "agency-1" {
		t.Fatalf("tenantUUIDFromResource = %q", got)
	}
}
