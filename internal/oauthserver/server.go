// Package oauthserver implements the OAuth 2.1 authorization server (§4.G):
// authorize/verify/consent/token/revoke/register, directly against
// mcpstorage.Store rather than a third-party OAuth framework's own storage
// abstraction (see DESIGN.md "stacklok-toolhive/pkg/authserver" entry for why
// fosite's session/storage interfaces were not adopted).
package oauthserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/erauner12/toolbridge-mcp/internal/mcpstorage"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultAuthCodeTTL honors §8's "authorization codes expire ≤10 min".
	DefaultAuthCodeTTL = 5 * time.Minute
	// DefaultAccessTokenTTL honors §8's "access tokens ≤1 h".
	DefaultAccessTokenTTL = time.Hour
)

// Server implements the OAuth 2.1 authorization server's HTTP handlers.
type Server struct {
	store     mcpstorage.Store
	baseURL   string
	ui        *uiSessionStore
	authTTL   time.Duration
	accTTL    time.Duration
	providers []string
}

// Option configures a Server.
type Option func(*Server)

// WithAuthCodeTTL overrides DefaultAuthCodeTTL.
func WithAuthCodeTTL(d time.Duration) Option { return func(s *Server) { s.authTTL = d } }

// WithAccessTokenTTL overrides DefaultAccessTokenTTL.
func WithAccessTokenTTL(d time.Duration) Option { return func(s *Server) { s.accTTL = d } }

// WithProviders sets the external-identity provider buttons shown on the
// login page (§4.G: "a set of configured external-identity buttons").
func WithProviders(names ...string) Option { return func(s *Server) { s.providers = names } }

// New creates an OAuth authorization Server. baseURL is this deployment's
// externally reachable origin, e.g. "https://mcp.example.com"; it is both
// the OAuth issuer and the prefix of every tenant's resource URL
// ("<baseURL>/mcp/<uuid>").
func New(store mcpstorage.Store, baseURL string, opts ...Option) *Server {
	s := &Server{
		store:   store,
		baseURL: strings.TrimRight(baseURL, "/"),
		ui:      newUISessionStore(),
		authTTL: DefaultAuthCodeTTL,
		accTTL:  DefaultAccessTokenTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartUISessionGC runs a ticker that evicts expired login hand-off state,
// mirroring mcpsession.Manager.StartCleanup's ticker-goroutine shape.
func (s *Server) StartUISessionGC(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.ui.gc(); n > 0 {
					log.Debug().Int("count", n).Msg("oauth ui sessions expired")
				}
			}
		}
	}()
}

// Routes mounts the OAuth endpoints (§4.G) under r, matching the path shape
// spec.md §6 assumes ("/oauth/...").
func (s *Server) Routes(r chi.Router) {
	r.Get("/oauth/authorize", s.Authorize)
	r.Post("/oauth/verify", s.Verify)
	r.Post("/oauth/consent", s.Consent)
	r.Post("/oauth/token", s.Token)
	r.Post("/oauth/revoke", s.Revoke)
	r.Post("/oauth/register", s.Register)
}

// ResourceForTenant builds the canonical RFC 8707 resource URL for uuid,
// matching internal/mcpauth.Config.ResourceURLFor's expectation.
func (s *Server) ResourceForTenant(uuid string) string {
	return s.baseURL + "/mcp/" + uuid
}

// AuthorizeURL, TokenURL, and RegisterURL expose this server's own endpoint
// URLs so internal/httpapi can populate the discovery block (data.oauth) on
// 401 responses without duplicating path knowledge.
func (s *Server) AuthorizeURL() string { return s.baseURL + "/oauth/authorize" }
func (s *Server) TokenURL() string     { return s.baseURL + "/oauth/token" }
func (s *Server) RegisterURL() string  { return s.baseURL + "/oauth/register" }

// tenantUUIDFromResource inverts ResourceForTenant, or returns "" if
// resource does not look like one of this server's tenant resource URLs.
func (s *Server) tenantUUIDFromResource(resource string) string {
	prefix := s.baseURL + "/mcp/"
	if !strings.HasPrefix(resource, prefix) {
		return ""
	}
	return strings.TrimPrefix(resource, prefix)
}

// authorizeParams is the validated query of a GET /authorize request,
// round-tripped through the login/consent hand-off as a raw query string.
type authorizeParams struct {
	responseType        string
	clientID            string
	redirectURI         string
	scope               string
	state               string
	codeChallenge       string
	codeChallengeMethod string
	resource            string
}

func parseAuthorizeParams(q url.Values) authorizeParams {
	return authorizeParams{
		responseType:        q.Get("response_type"),
		clientID:            q.Get("client_id"),
		redirectURI:         q.Get("redirect_uri"),
		scope:               q.Get("scope"),
		state:               q.Get("state"),
		codeChallenge:       q.Get("code_challenge"),
		codeChallengeMethod: q.Get("code_challenge_method"),
		resource:            q.Get("resource"),
	}
}

func writeOAuthError(w http.ResponseWriter, status int, errCode, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             errCode,
		"error_description": description,
	})
}

// redirectWithError 302s to redirectURI with the standard OAuth error query
// parameters appended, used once client_id/redirect_uri have already been
// validated (so it is safe to send the browser there).
func redirectWithError(w http.ResponseWriter, r *http.Request, redirectURI, errCode, state string) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed redirect_uri")
		return
	}
	q := u.Query()
	q.Set("error", errCode)
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// Authorize implements GET /oauth/authorize (§4.G).
func (s *Server) Authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := parseAuthorizeParams(q)

	client, err := s.store.GetClient(r.Context(), p.clientID)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client", "unknown client_id")
		return
	}
	if !matchesRedirectURI(p.redirectURI, client.RedirectURIs) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "redirect_uri not registered for client")
		return
	}

	switch {
	case p.responseType != "code":
		redirectWithError(w, r, p.redirectURI, "unsupported_response_type", p.state)
		return
	case p.codeChallenge == "" || p.codeChallengeMethod != "S256":
		redirectWithError(w, r, p.redirectURI, "invalid_request", p.state)
		return
	case p.resource == "":
		redirectWithError(w, r, p.redirectURI, "invalid_target", p.state)
		return
	case s.tenantUUIDFromResource(p.resource) == "":
		redirectWithError(w, r, p.redirectURI, "invalid_target", p.state)
		return
	}

	sess, ok := s.ui.fromRequest(r)
	if !ok {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = loginTemplate.Execute(w, loginPageData{AuthorizeQuery: q.Encode(), Providers: s.providers})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = consentTemplate.Execute(w, consentPageData{
		ClientName:     client.Name,
		Email:          sess.email,
		Scopes:         strings.Fields(p.scope),
		Resource:       p.resource,
		AuthorizeQuery: q.Encode(),
	})
}

// Verify implements POST /oauth/verify (§4.G): email+password, or an
// external-identity provider hand-off (the provider's own authorization-code
// exchange happens upstream of this server; here the "provider_id" form
// field is the already-resolved upstream subject identifier passed through
// by that integration — full upstream OIDC code exchange is out of scope,
// see SPEC_FULL.md Non-goals).
func (s *Server) Verify(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	authorizeQuery := r.PostForm.Get("authorize_query")

	var user *mcpstorage.User
	var err error
	if provider := r.PostForm.Get("provider"); provider != "" {
		user, err = s.store.FindByProviderID(r.Context(), provider, r.PostForm.Get("provider_id"))
	} else {
		user, err = s.store.VerifyPassword(r.Context(), r.PostForm.Get("email"), r.PostForm.Get("password"))
	}
	if err != nil {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		_ = loginTemplate.Execute(w, loginPageData{
			Error:          "invalid email or password",
			AuthorizeQuery: authorizeQuery,
			Providers:      s.providers,
		})
		return
	}

	sessionID, err := s.ui.create(user.ID, user.Email)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "could not establish session")
		return
	}
	setUISessionCookie(w, sessionID)

	http.Redirect(w, r, "/oauth/authorize?"+authorizeQuery, http.StatusFound)
}

// Consent implements POST /oauth/consent (§4.G).
func (s *Server) Consent(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ui.fromRequest(r)
	if !ok {
		writeOAuthError(w, http.StatusUnauthorized, "access_denied", "no active login session")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	q, err := url.ParseQuery(r.PostForm.Get("authorize_query"))
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed authorize_query")
		return
	}
	p := parseAuthorizeParams(q)

	client, err := s.store.GetClient(r.Context(), p.clientID)
	if err != nil || !matchesRedirectURI(p.redirectURI, client.RedirectURIs) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "client/redirect no longer valid")
		return
	}

	if r.PostForm.Get("decision") != "allow" {
		redirectWithError(w, r, p.redirectURI, "access_denied", p.state)
		return
	}

	tenantUUID := s.tenantUUIDFromResource(p.resource)
	tenant, err := s.store.GetContext(r.Context(), tenantUUID, mcpstorage.ContextAgency)
	if err != nil || !tenant.Active {
		redirectWithError(w, r, p.redirectURI, "invalid_target", p.state)
		return
	}

	code, err := generateToken(16)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "could not generate code")
		return
	}
	authCode := &mcpstorage.AuthCode{
		Code:                code,
		ClientID:            p.clientID,
		TenantID:            tenant.ID,
		UserID:              sess.userID,
		Scope:               p.scope,
		CodeChallenge:       p.codeChallenge,
		CodeChallengeMethod: p.codeChallengeMethod,
		Resource:            p.resource,
		RedirectURI:         p.redirectURI,
		ExpiresAt:           time.Now().Add(s.authTTL),
	}
	if err := s.store.StoreAuthCode(r.Context(), authCode); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "could not persist authorization code")
		return
	}

	u, _ := url.Parse(p.redirectURI)
	rq := u.Query()
	rq.Set("code", code)
	if p.state != "" {
		rq.Set("state", p.state)
	}
	u.RawQuery = rq.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Token implements POST /oauth/token (§4.G): authorization_code and
// refresh_token grants.
func (s *Server) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.tokenFromCode(w, r)
	case "refresh_token":
		s.tokenFromRefresh(w, r)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be authorization_code or refresh_token")
	}
}

func (s *Server) tokenFromCode(w http.ResponseWriter, r *http.Request) {
	clientID := r.PostForm.Get("client_id")
	code := r.PostForm.Get("code")
	redirectURI := r.PostForm.Get("redirect_uri")
	verifier := r.PostForm.Get("code_verifier")
	resource := r.PostForm.Get("resource")

	authCode, err := s.store.GetAuthCode(r.Context(), code, clientID)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "unknown, expired, or revoked code")
		return
	}
	if authCode.RedirectURI != redirectURI {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
		return
	}
	if resource != "" && resource != authCode.Resource {
		writeOAuthError(w, http.StatusBadRequest, "invalid_target", "resource mismatch")
		return
	}
	if !verifyPKCE(verifier, authCode.CodeChallenge) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "code_verifier does not match code_challenge")
		return
	}

	if err := s.store.RevokeAuthCode(r.Context(), code); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "could not revoke code")
		return
	}

	resp, err := s.issueTokenPair(r.Context(), clientID, authCode.TenantID, authCode.UserID, authCode.Scope, authCode.Resource)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "could not issue tokens")
		return
	}
	writeJSONResponse(w, resp)
}

func (s *Server) tokenFromRefresh(w http.ResponseWriter, r *http.Request) {
	clientID := r.PostForm.Get("client_id")
	refreshToken := r.PostForm.Get("refresh_token")
	resource := r.PostForm.Get("resource")

	old, err := s.store.GetByRefreshToken(r.Context(), refreshToken, clientID)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "unknown or revoked refresh token")
		return
	}
	if resource != "" && resource != old.Resource {
		writeOAuthError(w, http.StatusBadRequest, "invalid_target", "resource mismatch")
		return
	}

	if err := s.store.RevokeToken(r.Context(), old.Token); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "could not revoke previous token")
		return
	}

	resp, err := s.issueTokenPair(r.Context(), clientID, old.TenantID, old.UserID, old.Scope, old.Resource)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "could not issue tokens")
		return
	}
	writeJSONResponse(w, resp)
}

func (s *Server) issueTokenPair(ctx context.Context, clientID string, tenantID, userID int64, scope, resource string) (*tokenResponse, error) {
	accessToken, err := generateToken(32)
	if err != nil {
		return nil, err
	}
	refreshToken, err := generateToken(32)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	t := &mcpstorage.AccessToken{
		Token:        accessToken,
		RefreshToken: refreshToken,
		ClientID:     clientID,
		TenantID:     tenantID,
		UserID:       userID,
		Scope:        scope,
		Resource:     resource,
		Aud:          []string{resource},
		IssuedAt:     now,
		ExpiresAt:    now.Add(s.accTTL),
	}
	if err := s.store.StoreAccessToken(ctx, t); err != nil {
		return nil, err
	}
	return &tokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accTTL.Seconds()),
		RefreshToken: refreshToken,
		Scope:        scope,
	}, nil
}

// Revoke implements POST /oauth/revoke: always 200, per §4.G "idempotent".
func (s *Server) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	token := r.PostForm.Get("token")
	if token != "" {
		if err := s.store.RevokeToken(r.Context(), token); err != nil {
			log.Warn().Err(err).Msg("revoke token failed, responding 200 regardless per RFC 7009")
		}
	}
	w.WriteHeader(http.StatusOK)
}

type registerRequest struct {
	ClientName            string   `json:"client_name"`
	RedirectURIs          []string `json:"redirect_uris"`
	GrantTypes            []string `json:"grant_types"`
	ResponseTypes         []string `json:"response_types"`
	TokenEndpointAuthMeth string   `json:"token_endpoint_auth_method"`
}

type registerResponse struct {
	ClientID              string   `json:"client_id"`
	ClientSecret          string   `json:"client_secret,omitempty"`
	ClientName            string   `json:"client_name"`
	RedirectURIs          []string `json:"redirect_uris"`
	GrantTypes            []string `json:"grant_types"`
	ResponseTypes         []string `json:"response_types"`
	TokenEndpointAuthMeth string   `json:"token_endpoint_auth_method"`
}

// Register implements POST /oauth/register, an RFC 7591-shaped Dynamic
// Client Registration endpoint.
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client_metadata", "malformed JSON body")
		return
	}
	if len(req.RedirectURIs) == 0 {
		writeOAuthError(w, http.StatusBadRequest, "invalid_redirect_uri", "redirect_uris is required")
		return
	}
	if req.GrantTypes == nil {
		req.GrantTypes = []string{"authorization_code", "refresh_token"}
	}
	if req.ResponseTypes == nil {
		req.ResponseTypes = []string{"code"}
	}
	if req.TokenEndpointAuthMeth == "" {
		req.TokenEndpointAuthMeth = "client_secret_basic"
	}

	clientID, err := generateToken(16)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "could not generate client_id")
		return
	}
	client := &mcpstorage.Client{
		ClientID:      clientID,
		Name:          req.ClientName,
		RedirectURIs:  req.RedirectURIs,
		GrantTypes:    req.GrantTypes,
		ResponseTypes: req.ResponseTypes,
		AuthMethod:    req.TokenEndpointAuthMeth,
	}
	if req.TokenEndpointAuthMeth != "none" {
		secret, err := generateToken(32)
		if err != nil {
			writeOAuthError(w, http.StatusInternalServerError, "server_error", "could not generate client_secret")
			return
		}
		client.ClientSecret = secret
	}

	if err := s.store.StoreClient(r.Context(), client); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error", "could not persist client")
		return
	}

	writeJSONResponse(w, &registerResponse{
		ClientID:              client.ClientID,
		ClientSecret:          client.ClientSecret,
		ClientName:            client.Name,
		RedirectURIs:          client.RedirectURIs,
		GrantTypes:            client.GrantTypes,
		ResponseTypes:         client.ResponseTypes,
		TokenEndpointAuthMeth: client.AuthMethod,
	})
}

func writeJSONResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(v)
}
