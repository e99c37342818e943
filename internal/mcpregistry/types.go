package mcpregistry

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
)

// ToolDefinition describes a registered MCP tool (§4.B, §3 "Tool").
type ToolDefinition struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	InputSchema  map[string]any `json:"inputSchema"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
	Annotations  map[string]any `json:"annotations,omitempty"`
}

// ToolHandler executes a tools/call invocation. It returns an arbitrary data
// value V; the registry projects V into the MCP wire shape (content blocks,
// optional structuredContent/resourceLinks) per §4.B/§4.D — handlers are not
// responsible for building that envelope themselves.
type ToolHandler func(context.Context, *CallContext, json.RawMessage) (any, error)

// PromptArgument describes one named argument a prompt template accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptDefinition describes a registered MCP prompt template (§3 "Prompt").
type PromptDefinition struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptMessage is one message produced by rendering a prompt.
type PromptMessage struct {
	Role    string       `json:"role"`
	Content ContentBlock `json:"content"`
}

// PromptHandler renders a prompt template given its arguments.
type PromptHandler func(context.Context, *CallContext, map[string]string) ([]PromptMessage, error)

// ResourceDefinition describes a registered MCP resource (§3 "Resource"):
// either a static URI or a URI template with `{placeholder}` segments.
// Exactly one of URI/URITemplate is set.
type ResourceDefinition struct {
	URI         string `json:"uri,omitempty"`
	URITemplate string `json:"uriTemplate,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// ResourceContent is the body returned by resources/read.
type ResourceContent struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"` // base64, for binary resources
}

// ResourceHandler produces the content for a resources/read call.
type ResourceHandler func(context.Context, *CallContext, string) (*ResourceContent, error)

// ContentBlock is a single piece of MCP content (text, image, or a resource
// link for protocol versions that support it, §4.B version gates).
type ContentBlock struct {
	Type     string          `json:"type"` // "text" | "resource_link"
	Text     string          `json:"text,omitempty"`
	URI      string          `json:"uri,omitempty"`
	Name     string          `json:"name,omitempty"`
	MIMEType string          `json:"mimeType,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// CallResult is a convenience shape a ToolHandler may return when it wants
// explicit control over multi-part content (images, audio, resource links)
// instead of letting the registry wrap a plain value as text (§4.D
// "tool-call result wrapping"). Because it already has a top-level "content"
// array, the registry's projection passes it through largely as-is.
type CallResult struct {
	Content           []ContentBlock `json:"content"`
	StructuredContent any            `json:"structuredContent,omitempty"`
	ResourceLinks     []ContentBlock `json:"resourceLinks,omitempty"`
	IsError           bool           `json:"isError,omitempty"`
}

// CallContext carries per-call ambient state into tool/prompt/resource
// handlers, generalizing the teacher's ToolContext
// (internal/mcpserver/tools/context.go) beyond a single REST-client map.
type CallContext struct {
	Logger          *zerolog.Logger
	TenantUUID      string
	UserID          int64
	SessionID       string
	ProtocolVersion string
}
