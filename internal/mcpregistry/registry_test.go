package mcpregistry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/erauner12/toolbridge-mcp/internal/mcpversion"
)

func echoTool() ToolDefinition {
	return ToolDefinition{
		Name:        "echo",
		Description: "echoes its input",
		InputSchema: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"message": map[string]any{"type": "string"}},
			"required":             []any{"message"},
			"additionalProperties": false,
		},
		OutputSchema: map[string]any{"type": "object"},
		Annotations:  map[string]any{"readOnlyHint": true},
	}
}

func echoHandler(_ context.Context, _ *CallContext, args json.RawMessage) (any, error) {
	var in struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	return map[string]any{"echoed": in.Message}, nil
}

func TestRegisterToolRejectsDuplicate(t *testing.T) {
	r := New()
	if err := r.RegisterTool(echoTool(), echoHandler); err != nil {
		t.Fatalf("first RegisterTool: %v", err)
	}
	if err := r.RegisterTool(echoTool(), echoHandler); err == nil {
		t.Fatalf("second RegisterTool with same name should fail")
	}
}

func TestListToolsGatesNewerFields(t *testing.T) {
	r := New()
	if err := r.RegisterTool(echoTool(), echoHandler); err != nil {
		t.Fatalf("RegisterTool: %v", err)
	}

	old := r.ListTools(mcpversion.V20241105)
	if len(old) != 1 {
		t.Fatalf("ListTools(old) len = %d, want 1", len(old))
	}
	if old[0].OutputSchema != nil || old[0].Annotations != nil {
		t.Fatalf("ListTools(%s) should strip outputSchema/annotations, got %+v", mcpversion.V20241105, old[0])
	}

	newer := r.ListTools(mcpversion.V20250618)
	if newer[0].OutputSchema == nil || newer[0].Annotations == nil {
		t.Fatalf("ListTools(%s) should include outputSchema/annotations, got %+v", mcpversion.V20250618, newer[0])
	}
}

func TestCallToolValidatesArguments(t *testing.T) {
	r := New()
	if err := r.RegisterTool(echoTool(), echoHandler); err != nil {
		t.Fatalf("RegisterTool: %v", err)
	}

	ctx := context.Background()
	if _, err := r.CallTool(ctx, &CallContext{}, mcpversion.V20250618, "echo", []byte(`{}`)); err == nil {
		t.Fatalf("CallTool with missing required argument should fail validation")
	}

	result, err := r.CallTool(ctx, &CallContext{}, mcpversion.V20250618, "echo", []byte(`{"message":"hi"}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	content, ok := result["content"].([]map[string]any)
	if !ok || len(content) != 1 {
		t.Fatalf("CallTool content = %+v, want one text block", result["content"])
	}
	if content[0]["text"] != `{"echoed":"hi"}` {
		t.Fatalf("CallTool content text = %v, want JSON.stringify(V)", content[0]["text"])
	}
}

func TestCallToolStripsStructuredContentForOldVersion(t *testing.T) {
	r := New()
	if err := r.RegisterTool(echoTool(), echoHandler); err != nil {
		t.Fatalf("RegisterTool: %v", err)
	}
	result, err := r.CallTool(context.Background(), &CallContext{}, mcpversion.V20241105, "echo", []byte(`{"message":"hi"}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if _, ok := result["structuredContent"]; ok {
		t.Fatalf("CallTool(%s) should omit structuredContent, got %+v", mcpversion.V20241105, result)
	}

	withSchema, err := r.CallTool(context.Background(), &CallContext{}, mcpversion.V20250618, "echo", []byte(`{"message":"hi"}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if withSchema["structuredContent"] == nil {
		t.Fatalf("CallTool(%s) with an outputSchema should include structuredContent, got %+v", mcpversion.V20250618, withSchema)
	}
}

func TestCallToolUnknownName(t *testing.T) {
	r := New()
	if _, err := r.CallTool(context.Background(), &CallContext{}, mcpversion.V20250618, "missing", nil); err == nil {
		t.Fatalf("CallTool on unregistered tool should fail")
	}
}

func TestRenderPromptRequiresArguments(t *testing.T) {
	r := New()
	def := PromptDefinition{Name: "greet", Arguments: []PromptArgument{{Name: "name", Required: true}}}
	handler := func(_ context.Context, _ *CallContext, args map[string]string) ([]PromptMessage, error) {
		return []PromptMessage{{Role: "user", Content: ContentBlock{Type: "text", Text: "hi " + args["name"]}}}, nil
	}
	if err := r.RegisterPrompt(def, handler); err != nil {
		t.Fatalf("RegisterPrompt: %v", err)
	}

	if _, err := r.RenderPrompt(context.Background(), &CallContext{}, "greet", map[string]string{}); err == nil {
		t.Fatalf("RenderPrompt without required argument should fail")
	}
	msgs, err := r.RenderPrompt(context.Background(), &CallContext{}, "greet", map[string]string{"name": "Ada"})
	if err != nil {
		t.Fatalf("RenderPrompt: %v", err)
	}
	if msgs[0].Content.Text != "hi Ada" {
		t.Fatalf("RenderPrompt text = %q, want 'hi Ada'", msgs[0].Content.Text)
	}
}

func TestReadResource(t *testing.T) {
	r := New()
	def := ResourceDefinition{URI: "mcp://docs/readme", Name: "readme"}
	handler := func(_ context.Context, _ *CallContext, uri string) (*ResourceContent, error) {
		return &ResourceContent{URI: uri, MIMEType: "text/plain", Text: "hello"}, nil
	}
	if err := r.RegisterResource(def, handler); err != nil {
		t.Fatalf("RegisterResource: %v", err)
	}
	content, err := r.ReadResource(context.Background(), &CallContext{}, "mcp://docs/readme")
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if content.Text != "hello" {
		t.Fatalf("ReadResource.Text = %q, want hello", content.Text)
	}
	if _, err := r.ReadResource(context.Background(), &CallContext{}, "mcp://docs/missing"); err == nil {
		t.Fatalf("ReadResource on unknown uri should fail")
	}
}

func TestReadResourceFallsBackToTemplate(t *testing.T) {
	r := New()
	def := ResourceDefinition{URITemplate: "mcp://docs/{category}/{name}", Name: "doc"}
	handler := func(_ context.Context, _ *CallContext, uri string) (*ResourceContent, error) {
		return &ResourceContent{URI: uri, Text: "resolved:" + uri}, nil
	}
	if err := r.RegisterResourceTemplate(def, handler); err != nil {
		t.Fatalf("RegisterResourceTemplate: %v", err)
	}

	templates := r.ListResourceTemplates()
	if len(templates) != 1 || templates[0].URITemplate != def.URITemplate {
		t.Fatalf("ListResourceTemplates = %+v, want one entry for %q", templates, def.URITemplate)
	}
	if len(r.ListResources()) != 0 {
		t.Fatalf("ListResources should not include template entries")
	}

	content, err := r.ReadResource(context.Background(), &CallContext{}, "mcp://docs/api/readme")
	if err != nil {
		t.Fatalf("ReadResource via template: %v", err)
	}
	if content.Text != "resolved:mcp://docs/api/readme" {
		t.Fatalf("ReadResource.Text = %q", content.Text)
	}

	if _, err := r.ReadResource(context.Background(), &CallContext{}, "mcp://other/api/readme"); err == nil {
		t.Fatalf("ReadResource should not match a template with a different static prefix")
	}
}
