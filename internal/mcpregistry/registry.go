// Package mcpregistry implements the unified tool/prompt/resource registry
// (§4.B): registration, version-gated projection of descriptors and call
// results, and JSON Schema validation of tool arguments.
//
// It generalizes the teacher's tools-only registry
// (internal/mcpserver/tools/registry.go) to the three MCP primitive kinds
// the full spec covers, keeping its mutex+map+ordering-slice shape.
package mcpregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/erauner12/toolbridge-mcp/internal/mcpversion"
)

type toolEntry struct {
	def     ToolDefinition
	handler ToolHandler
	schema  *compiledSchema
}

type promptEntry struct {
	def     PromptDefinition
	handler PromptHandler
}

type resourceEntry struct {
	def     ResourceDefinition
	handler ResourceHandler
}

// Registry holds the server's tool, prompt, and resource catalogs.
type Registry struct {
	mu sync.RWMutex

	tools         map[string]*toolEntry
	toolOrder     []string
	prompts       map[string]*promptEntry
	promptOrder   []string
	resources     map[string]*resourceEntry
	resourceOrder []string
	templates     map[string]*resourceEntry
	templateOrder []string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		tools:     make(map[string]*toolEntry),
		prompts:   make(map[string]*promptEntry),
		resources: make(map[string]*resourceEntry),
		templates: make(map[string]*resourceEntry),
	}
}

// RegisterTool adds a tool definition and handler, compiling its
// inputSchema (if any) up front so Call never pays compilation cost.
func (r *Registry) RegisterTool(def ToolDefinition, handler ToolHandler) error {
	if def.Name == "" {
		return fmt.Errorf("mcpregistry: tool name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("mcpregistry: tool handler cannot be nil")
	}
	schema, err := compileSchema(def.Name, def.InputSchema)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("mcpregistry: tool %s already registered", def.Name)
	}
	r.tools[def.Name] = &toolEntry{def: def, handler: handler, schema: schema}
	r.toolOrder = append(r.toolOrder, def.Name)
	return nil
}

// MustRegisterTool registers a tool or panics, for init-time registration.
func (r *Registry) MustRegisterTool(def ToolDefinition, handler ToolHandler) {
	if err := r.RegisterTool(def, handler); err != nil {
		panic(err)
	}
}

// RegisterPrompt adds a prompt template and its renderer.
func (r *Registry) RegisterPrompt(def PromptDefinition, handler PromptHandler) error {
	if def.Name == "" {
		return fmt.Errorf("mcpregistry: prompt name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("mcpregistry: prompt handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.prompts[def.Name]; exists {
		return fmt.Errorf("mcpregistry: prompt %s already registered", def.Name)
	}
	r.prompts[def.Name] = &promptEntry{def: def, handler: handler}
	r.promptOrder = append(r.promptOrder, def.Name)
	return nil
}

// RegisterResource adds a static-URI resource and its reader.
func (r *Registry) RegisterResource(def ResourceDefinition, handler ResourceHandler) error {
	if def.URI == "" {
		return fmt.Errorf("mcpregistry: resource uri cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("mcpregistry: resource handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resources[def.URI]; exists {
		return fmt.Errorf("mcpregistry: resource %s already registered", def.URI)
	}
	r.resources[def.URI] = &resourceEntry{def: def, handler: handler}
	r.resourceOrder = append(r.resourceOrder, def.URI)
	return nil
}

// RegisterResourceTemplate adds a URI-template resource (§3 "Resource",
// §4.B dispatch) whose concrete URI is only known at resources/read time.
// The handler still receives the resolved concrete URI, not the extracted
// placeholder values.
func (r *Registry) RegisterResourceTemplate(def ResourceDefinition, handler ResourceHandler) error {
	if def.URITemplate == "" {
		return fmt.Errorf("mcpregistry: resource uriTemplate cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("mcpregistry: resource handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templates[def.URITemplate]; exists {
		return fmt.Errorf("mcpregistry: resource template %s already registered", def.URITemplate)
	}
	r.templates[def.URITemplate] = &resourceEntry{def: def, handler: handler}
	r.templateOrder = append(r.templateOrder, def.URITemplate)
	return nil
}

// ListTools returns tool descriptors projected for protocolVersion: fields
// introduced in later protocol revisions (outputSchema, annotations) are
// stripped for clients negotiated onto an older version (§4.B).
func (r *Registry) ListTools(protocolVersion string) []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ToolDefinition, 0, len(r.toolOrder))
	for _, name := range r.toolOrder {
		e := r.tools[name]
		d := ToolDefinition{Name: e.def.Name, Description: e.def.Description, InputSchema: e.def.InputSchema}
		if mcpversion.AtLeast(protocolVersion, mcpversion.V20250326) {
			d.Annotations = e.def.Annotations
		}
		if mcpversion.AtLeast(protocolVersion, mcpversion.V20250618) {
			d.OutputSchema = e.def.OutputSchema
		}
		out = append(out, d)
	}
	return out
}

// ListPrompts returns prompt descriptors in registration order.
func (r *Registry) ListPrompts() []PromptDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PromptDefinition, 0, len(r.promptOrder))
	for _, name := range r.promptOrder {
		out = append(out, r.prompts[name].def)
	}
	return out
}

// ListResources returns static resource descriptors in registration order
// (§4.B "Resources list: separates static entries from templates").
func (r *Registry) ListResources() []ResourceDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ResourceDefinition, 0, len(r.resourceOrder))
	for _, uri := range r.resourceOrder {
		out = append(out, r.resources[uri].def)
	}
	return out
}

// ListResourceTemplates returns URI-template resource descriptors, projected
// separately from ListResources under the wire's "resourceTemplates" key.
func (r *Registry) ListResourceTemplates() []ResourceDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ResourceDefinition, 0, len(r.templateOrder))
	for _, tmpl := range r.templateOrder {
		out = append(out, r.templates[tmpl].def)
	}
	return out
}

// matchTemplate tests whether uri matches template, a URI containing
// "{name}" placeholder segments (§4.B: "each placeholder matches a non-/
// segment unless last"). A placeholder in the final position may capture
// the remainder of the path, including further "/" separators.
func matchTemplate(template, uri string) bool {
	tParts := strings.Split(template, "/")
	uParts := strings.Split(uri, "/")

	for i, tp := range tParts {
		isPlaceholder := strings.HasPrefix(tp, "{") && strings.HasSuffix(tp, "}")
		last := i == len(tParts)-1

		if i >= len(uParts) {
			return false
		}
		if isPlaceholder {
			if last {
				return true // remainder, including any further "/", is consumed
			}
			continue // matches exactly one non-"/" segment by construction
		}
		if uParts[i] != tp {
			return false
		}
	}
	return len(tParts) == len(uParts)
}

// CallTool validates arguments, invokes the named tool's handler, and wraps
// its arbitrary return value into the MCP tools/call wire shape (§4.D
// "tool-call result wrapping"): text-wrapped JSON by default, passthrough
// when the handler already returns a "content" array, and — for clients
// negotiated onto 2025-06-18 or later — an added structuredContent/
// resourceLinks when the tool declares an outputSchema or the value's
// _meta says so.
func (r *Registry) CallTool(ctx context.Context, cc *CallContext, protocolVersion, name string, arguments json.RawMessage) (map[string]any, error) {
	r.mu.RLock()
	entry, exists := r.tools[name]
	r.mu.RUnlock()
	if !exists {
		return nil, NewError(ErrCodeMethodNotFound, fmt.Sprintf("tool not found: %s", name), nil)
	}

	if err := entry.schema.validate(arguments); err != nil {
		return nil, NewError(ErrCodeInvalidParams, "invalid arguments: "+err.Error(), nil)
	}

	value, err := entry.handler(ctx, cc, arguments)
	if err != nil {
		return nil, err
	}

	hasOutputSchema := entry.def.OutputSchema != nil
	projected, err := projectToolResult(value, protocolVersion, hasOutputSchema)
	if err != nil {
		return nil, NewError(ErrCodeInternal, "marshal tool result: "+err.Error(), nil)
	}
	return projected, nil
}

// projectToolResult implements §4.D's tool-call result wrapping for an
// arbitrary handler return value V.
func projectToolResult(value any, protocolVersion string, hasOutputSchema bool) (map[string]any, error) {
	if value == nil {
		value = map[string]any{}
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	var generic map[string]any
	isObject := json.Unmarshal(raw, &generic) == nil

	result := map[string]any{}
	if isObject {
		if content, ok := generic["content"].([]any); ok {
			for k, v := range generic {
				result[k] = v
			}
			result["content"] = content
		}
	}
	if _, wrapped := result["content"]; !wrapped {
		result["content"] = []map[string]any{{"type": "text", "text": string(raw)}}
	}

	if mcpversion.AtLeast(protocolVersion, mcpversion.V20250618) {
		structured := hasOutputSchema
		var resourceLinks any
		if isObject {
			if meta, ok := generic["_meta"].(map[string]any); ok {
				if s, ok := meta["structured"].(bool); ok && s {
					structured = true
				}
				if rl, ok := meta["resourceLinks"]; ok {
					resourceLinks = rl
				}
			}
		}
		if structured {
			result["structuredContent"] = value
		}
		if resourceLinks != nil {
			result["resourceLinks"] = resourceLinks
		}
	}

	return result, nil
}

// RenderPrompt invokes the named prompt's handler.
func (r *Registry) RenderPrompt(ctx context.Context, cc *CallContext, name string, args map[string]string) ([]PromptMessage, error) {
	r.mu.RLock()
	entry, exists := r.prompts[name]
	r.mu.RUnlock()
	if !exists {
		return nil, NewError(ErrCodeMethodNotFound, fmt.Sprintf("prompt not found: %s", name), nil)
	}
	for _, a := range entry.def.Arguments {
		if a.Required {
			if _, ok := args[a.Name]; !ok {
				return nil, NewError(ErrCodeInvalidParams, fmt.Sprintf("missing required argument: %s", a.Name), nil)
			}
		}
	}
	return entry.handler(ctx, cc, args)
}

// ReadResource invokes the resource handler bound to uri (§4.B dispatch):
// exact-URI lookup first, then first-match iteration over registered
// templates.
func (r *Registry) ReadResource(ctx context.Context, cc *CallContext, uri string) (*ResourceContent, error) {
	r.mu.RLock()
	entry, exists := r.resources[uri]
	if !exists {
		for _, tmpl := range r.templateOrder {
			if matchTemplate(tmpl, uri) {
				entry = r.templates[tmpl]
				exists = true
				break
			}
		}
	}
	r.mu.RUnlock()
	if !exists {
		return nil, NewError(ErrCodeNotFound, fmt.Sprintf("resource not found: %s", uri), nil)
	}
	return entry.handler(ctx, cc, uri)
}

// Tool returns a copy of a registered tool's definition, for tests and
// introspection.
func (r *Registry) Tool(name string) (ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return ToolDefinition{}, false
	}
	return e.def, true
}
