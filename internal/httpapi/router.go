package httpapi

import (
	"net/http"

	"github.com/erauner12/toolbridge-mcp/internal/mcpauth"
	"github.com/erauner12/toolbridge-mcp/internal/mcpstorage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes builds the complete HTTP router (§6): the MCP JSON-RPC/SSE surface
// under /mcp/{uuid}, the OAuth authorization server under /oauth/*, and the
// two well-known discovery documents — one chi.Mux, following the teacher's
// middleware chain (RequestID, RealIP, correlation, request logging,
// Recoverer) with the auth/rate-limit layers applied per nested r.Group,
// exactly as the teacher's internal/httpapi/router.go structures its own
// progressively stricter route groups.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	origins := s.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Mcp-Session-Id", "MCP-Protocol-Version"},
		ExposedHeaders:   []string{"Mcp-Session-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/.well-known/oauth-authorization-server", s.WellKnown.AuthorizationServerMetadata)
	r.Get("/.well-known/oauth-protected-resource", s.WellKnown.ProtectedResourceMetadata)
	r.Get("/.well-known/oauth-protected-resource/mcp/{uuid}", s.WellKnown.ProtectedResourceMetadata)

	r.Group(func(r chi.Router) {
		rl := s.OAuthRateLimit
		if rl.MaxRequests == 0 {
			rl = DefaultOAuthRateLimitConfig
		}
		r.Use(OAuthRateLimitMiddleware(rl))
		s.OAuth.Routes(r)
	})

	r.Route("/mcp/{uuid}", func(r chi.Router) {
		r.Use(s.tenantAuthMiddleware)

		r.MethodFunc(http.MethodPost, "/", s.handlePost)
		r.MethodFunc(http.MethodPost, "/{sessId}", s.handlePost)
		r.MethodFunc(http.MethodGet, "/sse", s.handleSSE)
		r.MethodFunc(http.MethodGet, "/", s.handleStreamableGet)

		r.NotFound(s.methodNotAllowed)
		r.MethodNotAllowed(s.methodNotAllowed)
	})

	return r
}

// tenantAuthMiddleware dispatches to mcpauth.Middleware, unless the server is
// configured authless (§6 "auth.authless"), in which case it attaches a
// fixed public tenant context instead of validating a bearer token.
func (s *Server) tenantAuthMiddleware(next http.Handler) http.Handler {
	if !s.Authless {
		return s.Auth.Handler(next)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uuid := chi.URLParam(r, "uuid")
		tenantCtx, err := s.Store.GetContext(r.Context(), uuid, mcpstorage.ContextAgency)
		if err != nil || !tenantCtx.Active {
			writeAuthError(w, "unknown or inactive tenant", s.discovery())
			return
		}
		info := &mcpauth.AuthInfo{Tenant: tenantCtx, Scopes: []string{"mcp:read", "mcp:tools:call"}}
		ctx := mcpauth.NewContext(r.Context(), info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
