package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/samsaffron/cmd2ai/internal/config"
	"github.com/samsaffron/cmd2ai/internal/llm"
	"github.com/samsaffron/cmd2ai/internal/mcp"
)

type fakeMCP struct {
	calls  []string
	args   []json.RawMessage
	output string
}

func (f *fakeMCP) CallTool(_ context.Context, fullName string, args json.RawMessage) (string, error) {
	f.calls = append(f.calls, fullName)
	f.args = append(f.args, args)
	return f.output, nil
}

func localConfig(t *testing.T, tools ...config.LocalToolConfig) config.LocalToolsConfig {
	t.Helper()
	cfg := config.DefaultLocalToolsConfig()
	cfg.BaseDir = t.TempDir()
	cfg.Tools = tools
	return cfg
}

func registryNames(r *Registry) []string {
	var names []string
	for _, spec := range r.List() {
		names = append(names, spec.Name)
	}
	return names
}

func TestNewRegistry_LocalTools(t *testing.T) {
	cfg := localConfig(t,
		config.LocalToolConfig{
			Name: "read_file", Type: "command", Description: "shadow", Command: "cat",
			InputSchema: map[string]any{"type": "object"},
		},
		config.LocalToolConfig{
			Name: "list_directory", Type: "command", Description: "ls", Command: "ls",
			Args: []string{"{{path}}"}, InputSchema: pathSchema,
		},
		config.LocalToolConfig{
			Name: "off", Enabled: boolPtr(false), Type: "command", Description: "off", Command: "true",
			InputSchema: map[string]any{"type": "object"},
		},
		config.LocalToolConfig{
			Name: "broken", Type: "command", Description: "no command",
			InputSchema: map[string]any{"type": "object"},
		},
	)

	r, err := NewRegistry(RegistryOptions{Local: cfg})
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(registryNames(r), ","); got != "list_directory,read_file" {
		t.Fatalf("tools = %s", got)
	}
	spec, _ := r.Get("read_file")
	if spec.Kind != KindBuiltin || spec.Source != "builtin" {
		t.Errorf("read_file should stay builtin, got %s from %s", spec.Kind, spec.Source)
	}

	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Name != "list_directory" || defs[1].Name != "read_file" {
		t.Fatalf("definitions = %+v", defs)
	}
	if defs[0].Description != "ls" || defs[0].Schema == nil {
		t.Errorf("definition = %+v", defs[0])
	}
}

func TestNewRegistry_ReadFileToggle(t *testing.T) {
	cfg := localConfig(t, config.LocalToolConfig{Name: "read_file", Enabled: boolPtr(false)})
	r, err := NewRegistry(RegistryOptions{Local: cfg})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.List()) != 0 {
		t.Errorf("tools = %v, want none", registryNames(r))
	}
}

func TestNewRegistry_LocalDisabled(t *testing.T) {
	cfg := localConfig(t)
	cfg.Enabled = false
	cfg.BaseDir = "/does/not/exist"

	r, err := NewRegistry(RegistryOptions{
		Local:    cfg,
		MCPTools: []mcp.ToolSpec{{Name: "web__fetch", Description: "[web] fetch"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Policy() != nil {
		t.Error("policy built while local tools are disabled")
	}
	if got := strings.Join(registryNames(r), ","); got != "web__fetch" {
		t.Fatalf("tools = %s", got)
	}
}

func TestRegistry_RunUnknownTool(t *testing.T) {
	r, err := NewRegistry(RegistryOptions{Local: localConfig(t)})
	if err != nil {
		t.Fatal(err)
	}
	result := r.Run(context.Background(), llm.ToolCall{ID: "c1", Name: "nope"})
	if result.ID != "c1" || result.Name != "nope" {
		t.Errorf("result = %+v", result)
	}
	requireKind(t, result, llm.KindValidation)
}

func TestRegistry_RoutesMCPCalls(t *testing.T) {
	fake := &fakeMCP{output: "fetched page body"}
	r, err := NewRegistry(RegistryOptions{
		Local: localConfig(t),
		MCPTools: []mcp.ToolSpec{
			{
				Name:        "web__fetch",
				Description: "[web] fetch a url",
				Schema: map[string]any{
					"type":       "object",
					"properties": map[string]any{"url": map[string]any{"type": "string"}},
					"required":   []any{"url"},
				},
			},
			{Name: "read_file", Description: "unprefixed"},
		},
		MCP: fake,
	})
	if err != nil {
		t.Fatal(err)
	}

	spec, ok := r.Get("web__fetch")
	if !ok || spec.Kind != KindMCP || spec.Source != "mcp:web" {
		t.Fatalf("spec = %+v", spec)
	}
	if builtin, _ := r.Get("read_file"); builtin.Kind != KindBuiltin {
		t.Error("unprefixed MCP tool replaced the builtin")
	}

	// Undeclared properties are passed through for MCP tools.
	result := r.Run(context.Background(), llm.ToolCall{
		ID:        "c1",
		Name:      "web__fetch",
		Arguments: json.RawMessage(`{"url":"https://example.com","path":"../x"}`),
	})
	if result.Err != nil || result.Output != "fetched page body" {
		t.Fatalf("result = %q, %v", result.Output, result.Err)
	}
	if len(fake.calls) != 1 || fake.calls[0] != "web__fetch" {
		t.Fatalf("calls = %v", fake.calls)
	}
	var sent map[string]any
	if err := json.Unmarshal(fake.args[0], &sent); err != nil || sent["path"] != "../x" {
		t.Errorf("args = %s", fake.args[0])
	}

	requireKind(t, r.Run(context.Background(), llm.ToolCall{ID: "c2", Name: "web__fetch", Arguments: json.RawMessage(`{}`)}), llm.KindValidation)
	if len(fake.calls) != 1 {
		t.Error("invalid call reached the server")
	}

	spec.MaxOutputBytes = 7
	result = r.Run(context.Background(), llm.ToolCall{ID: "c3", Name: "web__fetch", Arguments: json.RawMessage(`{"url":"u"}`)})
	if result.Output != "fetched" || !result.Truncated {
		t.Errorf("capped result = %q truncated=%v", result.Output, result.Truncated)
	}
}

func TestValidate(t *testing.T) {
	cfg := config.LocalToolsConfig{
		Policy: config.PolicyConfig{DenyPatterns: []string{"[abc"}},
		Tools: []config.LocalToolConfig{
			{Name: "read_file"},
			{Name: "dup", Type: "command", Description: "d", Command: "true", InputSchema: map[string]any{}},
			{Name: "dup", Type: "command", Description: "d", Command: "true", InputSchema: map[string]any{}},
			{Name: "nodesc", Type: "command", Command: "true", InputSchema: map[string]any{}},
		},
	}
	errs := Validate(cfg)
	if len(errs) != 3 {
		t.Fatalf("errors = %v, want 3", errs)
	}
	for i, want := range []string{"invalid deny pattern", "defined more than once", "description is required"} {
		if !strings.Contains(errs[i].Error(), want) {
			t.Errorf("errs[%d] = %v, want %q", i, errs[i], want)
		}
	}
}
