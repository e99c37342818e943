package mcpregistry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// compiledSchema holds a tool's inputSchema compiled into a reusable
// jsonschema.Schema; compileSchema runs once, when the tool is registered.
type compiledSchema struct {
	schema *jsonschema.Schema
}

func compileSchema(name string, raw map[string]any) (*compiledSchema, error) {
	if len(raw) == 0 {
		return &compiledSchema{}, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("mcpregistry: marshal inputSchema for %s: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	resourceName := "mcp://tools/" + name + "/inputSchema.json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("mcpregistry: add schema resource for %s: %w", name, err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("mcpregistry: compile inputSchema for %s: %w", name, err)
	}
	return &compiledSchema{schema: schema}, nil
}

// validate checks arguments against the compiled schema. An empty/absent
// schema accepts anything, matching the MCP spec's optional inputSchema.
func (c *compiledSchema) validate(arguments json.RawMessage) error {
	if c == nil || c.schema == nil {
		return nil
	}
	if len(arguments) == 0 {
		arguments = json.RawMessage("{}")
	}

	var v any
	if err := json.Unmarshal(arguments, &v); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := c.schema.Validate(v); err != nil {
		return err
	}
	return nil
}
