package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/erauner12/toolbridge-mcp/internal/mcpjson"
)

// writeRPCError writes a direct (non-queued) JSON-RPC error response with
// the given HTTP status, per §7's propagation policy: initialize errors,
// session/envelope failures discovered before a session exists, and
// unsupported-HTTP-method rejections are all answered synchronously rather
// than queued.
func writeRPCError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string) {
	resp := mcpjson.NewError(id, code, message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// oauthDiscovery is the data.oauth block §4.H/§4.G require on 401 bodies so
// clients can discover how to obtain a token.
type oauthDiscovery struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	RegistrationEndpoint  string `json:"registration_endpoint"`
}

// writeAuthError writes the 401 JSON-RPC envelope §4.H specifies:
// {jsonrpc, error:{code:-32000,...,data:{oauth:{...}}}, id:null}.
func writeAuthError(w http.ResponseWriter, message string, disc oauthDiscovery) {
	data, _ := json.Marshal(map[string]any{"oauth": disc})
	resp := mcpjson.NewError(nil, mcpjson.AuthRequired, message, json.RawMessage(data))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(resp)
}
