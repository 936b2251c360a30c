package tools

import (
	"fmt"

	"github.com/samsaffron/cmd2ai/internal/mcp"
)

// NewMCPSpec wraps a tool listed by an MCP server. Arguments are checked
// against the advertised schema, but undeclared properties pass through
// because the server owns their meaning.
func NewMCPSpec(t mcp.ToolSpec) (*ToolSpec, error) {
	server, _ := mcp.ParseToolName(t.Name)
	if server == "" {
		return nil, fmt.Errorf("MCP tool %q is not prefixed with a server name", t.Name)
	}

	schema := t.Schema
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	spec := &ToolSpec{
		Name:           t.Name,
		Description:    t.Description,
		Schema:         schema,
		Kind:           KindMCP,
		Source:         "mcp:" + server,
		AllowExtraArgs: true,
		MaxOutputBytes: defaultMaxOutputBytes,
	}
	if err := spec.compileSchema(); err != nil {
		return nil, err
	}
	return spec, nil
}
