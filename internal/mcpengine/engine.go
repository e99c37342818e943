// Package mcpengine implements the JSON-RPC message handler (§4.D): the
// initialize handshake, per-session duplicate-ID rejection, method dispatch
// over the tool/prompt/resource registry, and handing every non-initialize
// response to the async pipeline's queue rather than writing it directly to
// the HTTP response — the POST handler (internal/httpapi) only ever returns
// 202 Accepted for those, with the actual JSON-RPC response delivered over
// SSE/streamable-HTTP (internal/mcptransport).
//
// Dispatch is grounded on the teacher's handleJSONRPC switch
// (internal/mcpserver/server/server.go); the envelope/duplicate-id/async
// rules are the full spec's generalization of it.
package mcpengine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/erauner12/toolbridge-mcp/internal/mcpjson"
	"github.com/erauner12/toolbridge-mcp/internal/mcpregistry"
	"github.com/erauner12/toolbridge-mcp/internal/mcpsession"
	"github.com/erauner12/toolbridge-mcp/internal/mcpstorage"
	"github.com/erauner12/toolbridge-mcp/internal/mcpversion"
	"github.com/rs/zerolog/log"
)

// queueStore is the slice of mcpstorage.Store the engine depends on: the
// per-session FIFO queue (§4.A "Messages") and the out-of-band response
// tables (§4.A "OOB responses") used to correlate server-originated
// sampling/roots/elicitation requests with their client replies (§4.E
// "Correlation").
type queueStore interface {
	mcpstorage.MessageStore
	mcpstorage.OOBStore
}

// Engine dispatches JSON-RPC requests against a tool/prompt/resource
// registry, enforcing the MCP envelope and session invariants.
type Engine struct {
	registry   *mcpregistry.Registry
	sessions   *mcpsession.Manager
	queue      queueStore
	negotiator *mcpversion.Negotiator
	serverInfo ServerInfo

	logLevelsMu sync.Mutex
	logLevels   map[string]string // sessionID -> level set via logging/setLevel
}

// New creates an Engine.
func New(registry *mcpregistry.Registry, sessions *mcpsession.Manager, queue queueStore, neg *mcpversion.Negotiator, info ServerInfo) *Engine {
	return &Engine{registry: registry, sessions: sessions, queue: queue, negotiator: neg, serverInfo: info, logLevels: make(map[string]string)}
}

// HandleInitialize negotiates the protocol version, creates a session, and
// returns the synchronous initialize response (§4.D: initialize is the one
// method answered directly rather than queued, since the client has no
// session ID to poll against yet).
func (e *Engine) HandleInitialize(ctx context.Context, id json.RawMessage, clientVersion string, tenantID, userID int64) (*mcpstorage.Session, *mcpjson.JSONRPCResponse, error) {
	sess, err := e.sessions.Create(ctx, clientVersion, tenantID, userID)
	if err != nil {
		return nil, nil, err
	}

	result := InitializeResult{
		ProtocolVersion: sess.ProtocolVersion,
		Capabilities:    buildCapabilities(sess.ProtocolVersion),
		ServerInfo:      e.serverInfo,
	}
	return sess, mcpjson.NewResult(id, result), nil
}

// HandleMessage processes a non-initialize JSON-RPC request or notification
// against an established session. For requests, the computed JSON-RPC
// response (success or error) is enqueued to the message store for async
// delivery; HandleMessage itself returns nil on successful enqueue so the
// HTTP layer can reply 202 Accepted. Envelope violations (bad jsonrpc
// version, duplicate request id) are handled the same way: the -32600 error
// response is enqueued and nil is returned. A non-nil error means the
// response could not be enqueued or the request-ID check itself failed.
func (e *Engine) HandleMessage(ctx context.Context, sess *mcpstorage.Session, cc *mcpregistry.CallContext, req *mcpjson.JSONRPCRequest) error {
	if req.JSONRPC != "2.0" {
		return e.enqueueOrReturn(ctx, sess, req, mcpjson.NewError(req.ID, mcpjson.InvalidRequest, "invalid jsonrpc version"))
	}

	if !req.IsNotification() {
		if err := e.sessions.ObserveRequestID(sess.ID, string(req.ID)); err != nil {
			if err == mcpsession.ErrDuplicateID {
				return e.enqueueOrReturn(ctx, sess, req, mcpjson.NewError(req.ID, mcpjson.InvalidRequest, "duplicate request id"))
			}
			return err
		}
	}

	result, rpcErr := e.dispatch(ctx, cc, req.Method, req.Params)

	if req.IsNotification() {
		// Notifications never get a response, successful or not; any dispatch
		// error is only logged.
		if rpcErr != nil {
			log.Warn().Str("method", req.Method).Int("code", rpcErr.Code).Str("message", rpcErr.Message).
				Msg("notification handler returned an error, dropping (notifications get no response)")
		}
		return nil
	}

	var resp *mcpjson.JSONRPCResponse
	if rpcErr != nil {
		resp = &mcpjson.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	} else {
		resp = mcpjson.NewResult(req.ID, result)
	}
	return e.enqueueOrReturn(ctx, sess, req, resp)
}

func (e *Engine) enqueueOrReturn(ctx context.Context, sess *mcpstorage.Session, req *mcpjson.JSONRPCRequest, resp *mcpjson.JSONRPCResponse) error {
	if req.IsNotification() {
		return nil
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	_, err = e.queue.Enqueue(ctx, sess.ID, payload)
	return err
}

// dispatch routes method to the registry, translating registry errors into
// the JSON-RPC error taxonomy (§7).
func (e *Engine) dispatch(ctx context.Context, cc *mcpregistry.CallContext, method string, params json.RawMessage) (any, *mcpjson.JSONRPCError) {
	switch method {
	case "ping":
		return map[string]any{}, nil

	case "tools/list":
		return map[string]any{"tools": e.registry.ListTools(cc.ProtocolVersion)}, nil

	case "tools/call":
		var p struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &mcpjson.JSONRPCError{Code: mcpjson.InvalidParams, Message: "invalid tools/call params: " + err.Error()}
		}
		result, err := e.registry.CallTool(ctx, cc, cc.ProtocolVersion, p.Name, p.Arguments)
		if err != nil {
			return nil, toRPCError(err)
		}
		return result, nil

	case "prompts/list":
		return map[string]any{"prompts": e.registry.ListPrompts()}, nil

	case "prompts/get":
		var p struct {
			Name      string            `json:"name"`
			Arguments map[string]string `json:"arguments"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &mcpjson.JSONRPCError{Code: mcpjson.InvalidParams, Message: "invalid prompts/get params: " + err.Error()}
		}
		messages, err := e.registry.RenderPrompt(ctx, cc, p.Name, p.Arguments)
		if err != nil {
			return nil, toRPCError(err)
		}
		return map[string]any{"messages": messages}, nil

	case "resources/list":
		return map[string]any{"resources": e.registry.ListResources()}, nil

	case "resources/templates/list":
		return map[string]any{"resourceTemplates": e.registry.ListResourceTemplates()}, nil

	case "resources/read":
		var p struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &mcpjson.JSONRPCError{Code: mcpjson.InvalidParams, Message: "invalid resources/read params: " + err.Error()}
		}
		content, err := e.registry.ReadResource(ctx, cc, p.URI)
		if err != nil {
			return nil, toRPCError(err)
		}
		return map[string]any{"contents": []any{content}}, nil

	case "completions/complete":
		if !mcpversion.AtLeast(cc.ProtocolVersion, mcpversion.V20250326) {
			return nil, versionGateError(method, mcpversion.V20250326)
		}
		return e.completeArgument(cc, params)

	case "elicitation/create":
		if !mcpversion.AtLeast(cc.ProtocolVersion, mcpversion.V20250618) {
			return nil, versionGateError(method, mcpversion.V20250618)
		}
		return e.forwardServerRequest(ctx, cc, "elicitation/create", params)

	case "elicitation/response", "sampling/response", "roots/response":
		if method == "elicitation/response" && !mcpversion.AtLeast(cc.ProtocolVersion, mcpversion.V20250618) {
			return nil, versionGateError(method, mcpversion.V20250618)
		}
		return e.acceptOOBResponse(ctx, cc, method, params)

	case "logging/setLevel":
		var p struct {
			Level string `json:"level"`
		}
		if err := json.Unmarshal(params, &p); err != nil || p.Level == "" {
			return nil, &mcpjson.JSONRPCError{Code: mcpjson.InvalidParams, Message: "invalid logging/setLevel params: missing level"}
		}
		e.setLogLevel(cc.SessionID, p.Level)
		return map[string]any{}, nil

	default:
		return nil, &mcpjson.JSONRPCError{Code: mcpjson.MethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
	}
}

// versionGateError reports §7's -32601 for a method recognized by the
// engine but not yet unlocked for the session's negotiated protocol
// version (§4.D method table's version-gated rows).
func versionGateError(method, minVersion string) *mcpjson.JSONRPCError {
	return &mcpjson.JSONRPCError{
		Code:    mcpjson.MethodNotFound,
		Message: fmt.Sprintf("method %s requires protocol version >= %s", method, minVersion),
	}
}

// setLogLevel records the per-session level set by logging/setLevel (§4.D).
// The level is only stored and read back through LogLevel; nothing in the
// engine or transport filters its output by it.
func (e *Engine) setLogLevel(sessionID, level string) {
	e.logLevelsMu.Lock()
	defer e.logLevelsMu.Unlock()
	e.logLevels[sessionID] = level
}

// LogLevel returns the level last set by logging/setLevel for sessionID, or
// "" if none has been set.
func (e *Engine) LogLevel(sessionID string) string {
	e.logLevelsMu.Lock()
	defer e.logLevelsMu.Unlock()
	return e.logLevels[sessionID]
}

// forwardServerRequest implements the server->client half of §4.E
// "Correlation": it mints a fresh request id, enqueues a server-originated
// JSON-RPC request under the session's own message queue (so the transport
// drains it to the client exactly like any other queued response), and
// hands the id back to the original caller so it can be matched against
// the client's eventual "*/response" POST.
func (e *Engine) forwardServerRequest(ctx context.Context, cc *mcpregistry.CallContext, method string, params json.RawMessage) (any, *mcpjson.JSONRPCError) {
	requestID, err := newOOBRequestID()
	if err != nil {
		return nil, &mcpjson.JSONRPCError{Code: mcpjson.InternalError, Message: "generate request id: " + err.Error()}
	}

	outbound := &mcpjson.JSONRPCRequest{JSONRPC: "2.0", ID: json.RawMessage(`"` + requestID + `"`), Method: method, Params: params}
	payload, err := json.Marshal(outbound)
	if err != nil {
		return nil, &mcpjson.JSONRPCError{Code: mcpjson.InternalError, Message: "marshal server-originated request: " + err.Error()}
	}
	if _, err := e.queue.Enqueue(ctx, cc.SessionID, payload); err != nil {
		return nil, &mcpjson.JSONRPCError{Code: mcpjson.InternalError, Message: "enqueue server-originated request: " + err.Error()}
	}

	return map[string]any{"requestId": requestID}, nil
}

// acceptOOBResponse stores a client's reply to a server-originated request
// into the OOB table matching method's kind (§3 "Out-of-Band Response
// Tables", §4.A OOB APIs), keyed by the requestId the client echoes back.
func (e *Engine) acceptOOBResponse(ctx context.Context, cc *mcpregistry.CallContext, method string, params json.RawMessage) (any, *mcpjson.JSONRPCError) {
	kind, ok := oobKindForResponseMethod(method)
	if !ok {
		return nil, &mcpjson.JSONRPCError{Code: mcpjson.MethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
	}

	var p struct {
		RequestID string          `json:"requestId"`
		Result    json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.RequestID == "" {
		return nil, &mcpjson.JSONRPCError{Code: mcpjson.InvalidParams, Message: fmt.Sprintf("invalid %s params: missing requestId", method)}
	}
	data := p.Result
	if data == nil {
		data = params
	}

	if err := e.queue.StoreOOB(ctx, kind, cc.SessionID, p.RequestID, data); err != nil {
		return nil, &mcpjson.JSONRPCError{Code: mcpjson.InternalError, Message: "store oob response: " + err.Error()}
	}
	return map[string]any{"status": "accepted"}, nil
}

// oobKindForResponseMethod maps a "*/response" method name to the OOB table
// it correlates against (§3: sampling, roots, elicitation).
func oobKindForResponseMethod(method string) (mcpstorage.OOBKind, bool) {
	prefix, ok := strings.CutSuffix(method, "/response")
	if !ok {
		return "", false
	}
	switch mcpstorage.OOBKind(prefix) {
	case mcpstorage.OOBSampling, mcpstorage.OOBRoots, mcpstorage.OOBElicitation:
		return mcpstorage.OOBKind(prefix), true
	default:
		return "", false
	}
}

func newOOBRequestID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// completeArgument implements completions/complete (>=2025-03-26) as a
// minimal completion source: for ref/prompt it offers the named prompt's
// argument names that start with argument.value; for ref/resource it offers
// the registered resource-template URIs that start with ref.uri. Deeper, tool-specific completion sources are a
// Non-goal (§1: "Implementing specific tools/prompts/resources").
func (e *Engine) completeArgument(cc *mcpregistry.CallContext, params json.RawMessage) (any, *mcpjson.JSONRPCError) {
	var p struct {
		Ref struct {
			Type string `json:"type"`
			Name string `json:"name"`
			URI  string `json:"uri"`
		} `json:"ref"`
		Argument struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"argument"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &mcpjson.JSONRPCError{Code: mcpjson.InvalidParams, Message: "invalid completions/complete params: " + err.Error()}
	}

	var candidates []string
	switch p.Ref.Type {
	case "ref/prompt":
		for _, prompt := range e.registry.ListPrompts() {
			if prompt.Name != p.Ref.Name {
				continue
			}
			for _, arg := range prompt.Arguments {
				if strings.HasPrefix(arg.Name, p.Argument.Value) {
					candidates = append(candidates, arg.Name)
				}
			}
		}
	case "ref/resource":
		for _, tmpl := range e.registry.ListResourceTemplates() {
			if strings.HasPrefix(tmpl.URITemplate, p.Ref.URI) {
				candidates = append(candidates, tmpl.URITemplate)
			}
		}
	}

	return map[string]any{
		"completion": map[string]any{
			"values":  candidates,
			"total":   len(candidates),
			"hasMore": false,
		},
	}, nil
}

func toRPCError(err error) *mcpjson.JSONRPCError {
	if regErr, ok := err.(*mcpregistry.Error); ok {
		code, message, data := regErr.ToJSONRPCError()
		return &mcpjson.JSONRPCError{Code: code, Message: message, Data: data}
	}
	return &mcpjson.JSONRPCError{Code: mcpjson.InternalError, Message: err.Error()}
}
