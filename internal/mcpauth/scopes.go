package mcpauth

// DefaultScopesMethodMap is the static JSON-RPC method→required-scope table
// used to enforce OAuth scopes uniformly at the resource-server boundary
// (§9 Open Question, decided in DESIGN.md: uniform enforcement over partial
// per-tool enforcement). A method absent from the map, or mapped to "",
// requires only a valid bound token — no additional scope.
var DefaultScopesMethodMap = map[string]string{
	"initialize":     "",
	"ping":           "",
	"tools/list":     "mcp:read",
	"tools/call":     "mcp:tools:call",
	"prompts/list":   "mcp:read",
	"prompts/get":    "mcp:read",
	"resources/list": "mcp:read",
	"resources/read": "mcp:read",
}

// RequiredScope returns the scope DefaultScopesMethodMap requires for
// method, or "" if the method requires no specific scope.
func RequiredScope(method string) string {
	return DefaultScopesMethodMap[method]
}

// HasScope reports whether scope is present in granted.
func HasScope(granted []string, scope string) bool {
	if scope == "" {
		return true
	}
	for _, s := range granted {
		if s == scope {
			return true
		}
	}
	return false
}

// CheckScope enforces that granted carries whatever scope method requires.
func CheckScope(method string, granted []string) bool {
	return HasScope(granted, RequiredScope(method))
}
