// Package httpapi wires the MCP JSON-RPC/SSE HTTP surface (§6), the OAuth
// authorization server, and the well-known discovery endpoints onto one
// chi.Mux, following the teacher's internal/httpapi/router.go middleware
// chain (RequestID, RealIP, correlation ID, request logging, Recoverer,
// nested route groups for progressively stricter protection) even though
// the teacher's own handlers belong to an unrelated REST/sync domain.
package httpapi

import (
	"github.com/erauner12/toolbridge-mcp/internal/mcpauth"
	"github.com/erauner12/toolbridge-mcp/internal/mcpengine"
	"github.com/erauner12/toolbridge-mcp/internal/mcpsession"
	"github.com/erauner12/toolbridge-mcp/internal/mcpstorage"
	"github.com/erauner12/toolbridge-mcp/internal/mcptransport"
	"github.com/erauner12/toolbridge-mcp/internal/mcpversion"
	"github.com/erauner12/toolbridge-mcp/internal/oauthserver"
	"github.com/erauner12/toolbridge-mcp/internal/wellknown"
)

// Server holds the dependencies Routes wires into HTTP handlers.
type Server struct {
	Engine     *mcpengine.Engine
	Sessions   *mcpsession.Manager
	Queue      mcpstorage.MessageStore
	Negotiator *mcpversion.Negotiator
	Auth       *mcpauth.Middleware
	OAuth      *oauthserver.Server
	WellKnown  *wellknown.Handler

	// ValidateScope gates whether handlePost enforces
	// mcpauth.DefaultScopesMethodMap against the bearer token's granted
	// scopes (config "auth.validate_scope").
	ValidateScope bool

	// SSEConfig and StreamableConfig configure the two drain-loop variants
	// (config "sse.*" / "streamable_http.*"); they may be identical.
	SSEConfig        mcptransport.DrainConfig
	StreamableConfig mcptransport.DrainConfig

	// CORSOrigins lists allowed origins for the /mcp/* surface (§6: "standard
	// CORS"); ["*"] is the spec's default.
	CORSOrigins []string

	// OAuthRateLimit configures the unauthenticated OAuth endpoints' rate
	// limiter; the zero value uses DefaultOAuthRateLimitConfig.
	OAuthRateLimit OAuthRateLimitConfig

	// Authless, when true, skips mcpauth.Middleware entirely and attaches a
	// fixed public tenant context instead (config "auth.authless", §6). Store
	// is consulted only in this mode, to resolve the tenant context by UUID.
	Authless bool
	Store    mcpstorage.Store
}
