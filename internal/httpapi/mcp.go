package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/erauner12/toolbridge-mcp/internal/mcpauth"
	"github.com/erauner12/toolbridge-mcp/internal/mcpjson"
	"github.com/erauner12/toolbridge-mcp/internal/mcpregistry"
	"github.com/erauner12/toolbridge-mcp/internal/mcptransport"
	"github.com/erauner12/toolbridge-mcp/internal/mcpversion"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// discovery builds the data.oauth block §4.G/§4.H attach to auth failures.
func (s *Server) discovery() oauthDiscovery {
	if s.OAuth == nil {
		return oauthDiscovery{}
	}
	return oauthDiscovery{
		AuthorizationEndpoint: s.OAuth.AuthorizeURL(),
		TokenEndpoint:         s.OAuth.TokenURL(),
		RegistrationEndpoint:  s.OAuth.RegisterURL(),
	}
}

// sessionIDFromRequest implements §4.F step 1: header Mcp-Session-Id, else
// the {sessId} route segment (POST), else the session_id query param (SSE).
func sessionIDFromRequest(r *http.Request) string {
	if id := r.Header.Get("Mcp-Session-Id"); id != "" {
		return id
	}
	if id := chi.URLParam(r, "sessId"); id != "" {
		return id
	}
	return r.URL.Query().Get("session_id")
}

// protocolVersionPrefix extracts the version prefix of a session ID
// ("<version>_<hex>") for the §4.F cross-check.
func protocolVersionPrefix(sessionID string) string {
	if idx := strings.IndexByte(sessionID, '_'); idx >= 0 {
		return sessionID[:idx]
	}
	return sessionID
}

func (s *Server) authInfo(r *http.Request) *mcpauth.AuthInfo {
	if info, ok := mcpauth.FromContext(r.Context()); ok {
		return info
	}
	return nil
}

// handlePost implements POST /mcp/{uuid}[/{sessId}] (§4.D): initialize is
// answered directly; every other method is queued, so the HTTP response is
// 202 regardless of the queued method's eventual success or failure.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	var req mcpjson.JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, http.StatusBadRequest, nil, mcpjson.ParseError, "malformed JSON request body")
		return
	}

	info := s.authInfo(r)
	if info == nil || info.Tenant == nil {
		writeAuthError(w, "missing tenant context", s.discovery())
		return
	}
	tenantUUID := chi.URLParam(r, "uuid")

	if req.Method == "initialize" {
		s.handleInitialize(w, r, &req, info, tenantUUID)
		return
	}

	if req.JSONRPC != "2.0" && req.IsNotification() {
		// No session can exist yet to queue a malformed notification's
		// (nonexistent) response against; just 202 and drop it.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	sessionID := sessionIDFromRequest(r)
	if sessionID == "" {
		writeRPCError(w, http.StatusBadRequest, req.ID, mcpjson.SessionRequired, "missing session (Mcp-Session-Id header or trailing path segment)")
		return
	}

	sess, err := s.Sessions.Get(r.Context(), sessionID)
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, req.ID, mcpjson.SessionRequired, "session not found or expired")
		return
	}
	if protocolVersionPrefix(sessionID) != sess.ProtocolVersion {
		writeRPCError(w, http.StatusBadRequest, req.ID, mcpjson.SessionRequired, "session id protocol-version prefix mismatch")
		return
	}
	if sess.TenantID != info.Tenant.ID {
		writeAuthError(w, "session does not belong to this tenant", s.discovery())
		return
	}

	if s.ValidateScope && !mcpauth.CheckScope(req.Method, info.Scopes) {
		writeAuthError(w, "insufficient scope for method "+req.Method, s.discovery())
		return
	}

	logger := log.With().Str("session_id", sess.ID).Str("method", req.Method).Logger()
	cc := &mcpregistry.CallContext{
		Logger:          &logger,
		TenantUUID:      tenantUUID,
		UserID:          info.UserID,
		SessionID:       sess.ID,
		ProtocolVersion: sess.ProtocolVersion,
	}

	if err := s.Engine.HandleMessage(r.Context(), sess, cc, &req); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("failed to enqueue mcp response")
		writeRPCError(w, http.StatusInternalServerError, req.ID, mcpjson.InternalError, "failed to process request")
		return
	}

	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request, req *mcpjson.JSONRPCRequest, info *mcpauth.AuthInfo, tenantUUID string) {
	if req.JSONRPC != "2.0" {
		writeRPCError(w, http.StatusBadRequest, req.ID, mcpjson.InvalidRequest, "invalid jsonrpc version")
		return
	}
	if req.IsNotification() {
		writeRPCError(w, http.StatusBadRequest, req.ID, mcpjson.InvalidRequest, "initialize requires a request id")
		return
	}

	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeRPCError(w, http.StatusBadRequest, req.ID, mcpjson.InvalidParams, "malformed initialize params")
			return
		}
	}
	if params.ProtocolVersion == "" {
		writeRPCError(w, http.StatusBadRequest, req.ID, mcpjson.InvalidParams, "missing required field: protocolVersion")
		return
	}

	sess, resp, err := s.Engine.HandleInitialize(r.Context(), req.ID, params.ProtocolVersion, info.Tenant.ID, info.UserID)
	if err != nil {
		writeRPCError(w, http.StatusInternalServerError, req.ID, mcpjson.InternalError, "failed to create session")
		return
	}

	w.Header().Set("Mcp-Session-Id", sess.ID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleSSE implements GET /mcp/{uuid}/sse (§4.E).
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	s.drain(w, r, s.SSEConfig, true)
}

// handleStreamableGet implements GET /mcp/{uuid} with
// Accept: text/event-stream (§4.E, ≥2025-03-26).
func (s *Server) handleStreamableGet(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		writeRPCError(w, http.StatusBadRequest, nil, mcpjson.InvalidRequest, "GET /mcp/{uuid} requires Accept: text/event-stream")
		return
	}
	s.drain(w, r, s.StreamableConfig, false)
}

func (s *Server) drain(w http.ResponseWriter, r *http.Request, cfg mcptransport.DrainConfig, sendEndpoint bool) {
	info := s.authInfo(r)
	if info == nil || info.Tenant == nil {
		writeAuthError(w, "missing tenant context", s.discovery())
		return
	}
	tenantUUID := chi.URLParam(r, "uuid")

	sessionID := sessionIDFromRequest(r)
	if sessionID == "" {
		writeRPCError(w, http.StatusBadRequest, nil, mcpjson.SessionRequired, "missing session (Mcp-Session-Id header or session_id query param)")
		return
	}

	sess, err := s.Sessions.Get(r.Context(), sessionID)
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, nil, mcpjson.SessionRequired, "session not found or expired")
		return
	}
	if protocolVersionPrefix(sessionID) != sess.ProtocolVersion || sess.TenantID != info.Tenant.ID {
		writeRPCError(w, http.StatusBadRequest, nil, mcpjson.SessionRequired, "session id/tenant mismatch")
		return
	}
	if !sendEndpoint && !mcpversion.AtLeast(sess.ProtocolVersion, mcpversion.V20250326) {
		writeRPCError(w, http.StatusBadRequest, nil, mcpjson.MethodNotFound, "streamable-http transport requires protocol version >= 2025-03-26")
		return
	}

	stream, err := mcptransport.NewStream(r.Context(), w, sess.ID)
	if err != nil {
		writeRPCError(w, http.StatusInternalServerError, nil, mcpjson.InternalError, "streaming not supported")
		return
	}
	defer stream.Close()

	if sendEndpoint {
		if err := stream.SendEndpoint("/mcp/" + tenantUUID + "/" + sess.ID); err != nil {
			return
		}
	}

	if err := mcptransport.DrainLoop(r.Context(), s.Queue, stream, sess.ID, cfg); err != nil {
		log.Debug().Err(err).Str("session_id", sess.ID).Msg("drain loop ended")
	}
}

// methodNotAllowed implements §7's -32002: any verb other than
// GET/POST/OPTIONS against /mcp/* (most notably PUT/DELETE).
func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeRPCError(w, http.StatusBadRequest, nil, mcpjson.UnsupportedHTTP, "HTTP method "+r.Method+" is not supported on this endpoint")
}
