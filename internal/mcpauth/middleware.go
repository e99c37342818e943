package mcpauth

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/erauner12/toolbridge-mcp/internal/mcpstorage"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type contextKey int

const authInfoKey contextKey = iota

// AuthInfo is the tenant/token context the middleware attaches to each
// authenticated request, consumed by internal/mcpengine via
// mcpregistry.CallContext and by scope enforcement in internal/httpapi.
type AuthInfo struct {
	Tenant   *mcpstorage.TenantContext
	UserID   int64
	Scopes   []string
	Resource string // aud/resource the presented token was bound to
}

// FromContext retrieves the AuthInfo the middleware attached, if any.
func FromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authInfoKey).(*AuthInfo)
	return info, ok
}

// NewContext attaches info the same way Handler does, for callers that
// bypass Handler entirely (httpapi's authless mode).
func NewContext(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authInfoKey, info)
}

// Config configures Middleware.
type Config struct {
	// RequireResourceBinding enforces RFC 8707: the token's audience must
	// contain this request's canonical resource URL, not merely be valid
	// for *some* tenant.
	RequireResourceBinding bool

	// ResourceURLFor builds the canonical resource URL for a tenant UUID,
	// e.g. "https://mcp.example.com/mcp/<uuid>" — must match how
	// internal/oauthserver mints access tokens.
	ResourceURLFor func(tenantUUID string) string

	// MetadataURL is advertised in this middleware's 401 responses as
	// oauth.resource_metadata per RFC 9728 so clients can discover how to
	// obtain a token.
	MetadataURL string

	// TenantURLParam is the chi route parameter carrying the tenant UUID
	// (e.g. "uuid" for /mcp/{uuid}).
	TenantURLParam string
}

// Middleware is the resource-server auth middleware (§4.H): it resolves the
// tenant from the route, extracts and validates the bearer token (via JWKS
// first, then as an opaque AS-issued token through store), enforces resource
// binding, and attaches AuthInfo to the request context for downstream
// scope checks and engine dispatch.
type Middleware struct {
	store mcpstorage.Store
	jwks  *JWKSValidator
	cfg   Config
}

// New creates a Middleware. jwks may be nil to disable the JWT-bearer path
// and accept only opaque tokens validated through store.
func New(store mcpstorage.Store, jwks *JWKSValidator, cfg Config) *Middleware {
	if cfg.TenantURLParam == "" {
		cfg.TenantURLParam = "uuid"
	}
	return &Middleware{store: store, jwks: jwks, cfg: cfg}
}

// Handler wraps next with tenant/token resolution.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantUUID := chi.URLParam(r, m.cfg.TenantURLParam)
		if tenantUUID == "" {
			m.unauthorized(w, "invalid_request", "missing tenant in request path")
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			m.unauthorized(w, "invalid_token", "missing or malformed Authorization header")
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		info, err := m.authenticate(r.Context(), token, tenantUUID)
		if err != nil {
			log.Warn().Err(err).Str("tenant_uuid", tenantUUID).Msg("bearer token rejected")
			m.unauthorized(w, "invalid_token", "token validation failed")
			return
		}

		if m.cfg.RequireResourceBinding && m.cfg.ResourceURLFor != nil {
			want := m.cfg.ResourceURLFor(tenantUUID)
			if info.Resource != want {
				m.unauthorized(w, "invalid_target", "token not bound to this resource")
				return
			}
		}

		ctx := context.WithValue(r.Context(), authInfoKey, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) authenticate(ctx context.Context, token, tenantUUID string) (*AuthInfo, error) {
	tenantCtx, err := m.store.GetContext(ctx, tenantUUID, mcpstorage.ContextAgency)
	if err != nil || !tenantCtx.Active {
		return nil, mcpstorage.ErrNotFound
	}

	if m.jwks != nil {
		if claims, jwtErr := m.jwks.ValidateToken(token); jwtErr == nil {
			return &AuthInfo{Tenant: tenantCtx, Scopes: claims.Scopes(), Resource: firstAudience(claims)}, nil
		}
	}

	accessToken, err := m.store.ValidateToken(ctx, token, &mcpstorage.TokenLookup{
		ContextType: mcpstorage.ContextAgency,
		UUID:        tenantUUID,
	})
	if err != nil {
		return nil, err
	}
	if m.cfg.RequireResourceBinding && m.cfg.ResourceURLFor != nil &&
		!slices.Contains(accessToken.Aud, m.cfg.ResourceURLFor(tenantUUID)) {
		return nil, mcpstorage.ErrNotFound
	}

	return &AuthInfo{
		Tenant:   tenantCtx,
		UserID:   accessToken.UserID,
		Scopes:   strings.Fields(accessToken.Scope),
		Resource: accessToken.Resource,
	}, nil
}

func firstAudience(c *Claims) string {
	aud, _ := c.GetAudience()
	if len(aud) == 0 {
		return ""
	}
	return aud[0]
}

// unauthorizedBody is the 401 response shape this middleware writes: an
// OAuth-style {error, error_description} object, not a JSON-RPC envelope
// (it carries no -32000 code), whose top-level oauth block holds only
// resource_metadata; it does not list the authorization, token, or
// registration endpoints.
type unauthorizedBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	OAuth            struct {
		ResourceMetadata string `json:"resource_metadata,omitempty"`
	} `json:"oauth"`
}

func (m *Middleware) unauthorized(w http.ResponseWriter, errCode, description string) {
	body := unauthorizedBody{Error: errCode, ErrorDescription: description}
	body.OAuth.ResourceMetadata = m.cfg.MetadataURL

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer error="`+errCode+`"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(body)
}
