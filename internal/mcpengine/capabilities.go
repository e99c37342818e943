package mcpengine

import "github.com/erauner12/toolbridge-mcp/internal/mcpversion"

// ServerInfo identifies this server in the initialize response.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the result payload of a successful initialize call,
// shaped and gated per protocol version (§4.C, §4.D).
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

// buildCapabilities projects the server's capability set for the negotiated
// protocol version per §4.D's three-tier list:
//   - always: tools{listChanged:true}, prompts{listChanged:true},
//     resources{subscribe:false, listChanged:true}, logging, roots,
//     sampling, ping;
//   - >=2025-03-26 adds: completions, toolAnnotations, audio content hints;
//   - >=2025-06-18 adds: elicitation, structuredOutputs, resourceLinks.
func buildCapabilities(protocolVersion string) map[string]any {
	caps := map[string]any{
		"tools":     map[string]any{"listChanged": true},
		"prompts":   map[string]any{"listChanged": true},
		"resources": map[string]any{"subscribe": false, "listChanged": true},
		"logging":   map[string]any{},
		"roots":     map[string]any{},
		"sampling":  map[string]any{},
		"ping":      map[string]any{},
	}

	if mcpversion.AtLeast(protocolVersion, mcpversion.V20250326) {
		caps["completions"] = map[string]any{}
		caps["toolAnnotations"] = true
		caps["audio"] = map[string]any{"content": true}
	}

	if mcpversion.AtLeast(protocolVersion, mcpversion.V20250618) {
		caps["elicitation"] = map[string]any{}
		caps["structuredOutputs"] = true
		caps["resourceLinks"] = true
	}

	return caps
}
