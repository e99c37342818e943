// Package wellknown serves the OAuth discovery endpoints (§4.I): RFC 8414
// authorization-server metadata and RFC 9728 protected-resource metadata.
//
// It generalizes the teacher's Auth0-specific handlers
// (internal/mcpserver/server/oauth_metadata.go) from a fixed external
// issuer domain to this server's own /oauth/* endpoints, since here this
// server *is* the authorization server (internal/oauthserver) rather than a
// resource server trusting an external one.
package wellknown

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler serves discovery documents rooted at baseURL, e.g.
// "https://mcp.example.com".
type Handler struct {
	BaseURL string

	// TenantURLParam is the chi route parameter carrying the tenant UUID for
	// the per-tenant protected-resource metadata route, e.g. "uuid" for
	// /.well-known/oauth-protected-resource/mcp/{uuid}.
	TenantURLParam string
}

// New creates a discovery Handler.
func New(baseURL string) *Handler {
	return &Handler{BaseURL: baseURL, TenantURLParam: "uuid"}
}

// AuthorizationServerMetadata implements RFC 8414 for this server's own
// OAuth 2.1 AS (internal/oauthserver).
func (h *Handler) AuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	metadata := map[string]any{
		"issuer":                                h.BaseURL,
		"authorization_endpoint":                h.BaseURL + "/oauth/authorize",
		"token_endpoint":                        h.BaseURL + "/oauth/token",
		"registration_endpoint":                 h.BaseURL + "/oauth/register",
		"revocation_endpoint":                   h.BaseURL + "/oauth/revoke",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"none", "client_secret_post", "client_secret_basic"},
		"scopes_supported":                      []string{"mcp:read", "mcp:tools:call"},
	}
	writeJSON(w, metadata)
}

// ProtectedResourceMetadata implements RFC 9728 for the tenant named by the
// TenantURLParam route parameter (falling back to BaseURL itself if none is
// present, for a single-tenant deployment). The resource URL shape
// ("<baseURL>/mcp/<uuid>") must match internal/oauthserver.ResourceForTenant,
// since that's the audience value tokens are minted and validated against.
func (h *Handler) ProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	resource := h.BaseURL
	if uuid := chi.URLParam(r, h.TenantURLParam); uuid != "" {
		resource = h.BaseURL + "/mcp/" + uuid
	}

	metadata := map[string]any{
		"resource":                 resource,
		"authorization_servers":    []string{h.BaseURL},
		"bearer_methods_supported": []string{"header"},
		"resource_documentation":   resource,
	}
	writeJSON(w, metadata)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
