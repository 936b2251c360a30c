package tools

import (
	"context"
	"log/slog"
	"sort"

	"github.com/samsaffron/cmd2ai/internal/config"
	"github.com/samsaffron/cmd2ai/internal/llm"
	"github.com/samsaffron/cmd2ai/internal/mcp"
)

// Registry holds every tool available for one invocation and runs calls
// through the executor. It implements llm.ToolRunner.
type Registry struct {
	executor *Executor
	specs    map[string]*ToolSpec
	policy   *SecurityPolicy
}

// RegistryOptions lists where tools come from.
type RegistryOptions struct {
	Local    config.LocalToolsConfig
	MCPTools []mcp.ToolSpec
	MCP      MCPCaller
}

// NewRegistry registers the builtin tools, the enabled dynamic tools from
// config and any tools listed by MCP servers. Builtins win name clashes.
// Dynamic or MCP tools that fail validation are logged and skipped; only
// an unusable security policy is fatal.
func NewRegistry(opts RegistryOptions) (*Registry, error) {
	r := &Registry{
		executor: NewExecutor(opts.MCP),
		specs:    make(map[string]*ToolSpec),
	}

	if opts.Local.Enabled {
		policy, err := NewSecurityPolicy(opts.Local)
		if err != nil {
			return nil, err
		}
		r.policy = policy
		if err := r.registerLocal(opts.Local); err != nil {
			return nil, err
		}
	}

	for _, t := range opts.MCPTools {
		spec, err := NewMCPSpec(t)
		if err != nil {
			slog.Warn("skipping MCP tool", "tool", t.Name, "error", err)
			continue
		}
		r.add(spec)
	}
	return r, nil
}

func (r *Registry) registerLocal(cfg config.LocalToolsConfig) error {
	builtinEnabled := true
	for _, tc := range cfg.Tools {
		if tc.Name == ReadFileToolName && tc.Type == "" {
			builtinEnabled = tc.IsEnabled()
		}
	}
	if builtinEnabled {
		spec, err := NewReadFileSpec(r.policy, cfg.MaxFileSizeMB)
		if err != nil {
			return err
		}
		r.specs[spec.Name] = spec
	}

	for _, tc := range cfg.Tools {
		if tc.Name == ReadFileToolName && tc.Type == "" {
			continue
		}
		if !tc.IsEnabled() {
			slog.Debug("tool disabled", "tool", tc.Name)
			continue
		}
		spec, err := NewDynamicSpec(tc, r.policy)
		if err != nil {
			slog.Warn("skipping invalid tool", "tool", tc.Name, "error", err)
			continue
		}
		r.add(spec)
	}
	return nil
}

// add registers spec unless a builtin already owns the name.
func (r *Registry) add(spec *ToolSpec) {
	if existing, ok := r.specs[spec.Name]; ok && existing.Kind == KindBuiltin {
		slog.Warn("tool name clashes with a builtin, keeping the builtin", "tool", spec.Name, "source", spec.Source)
		return
	}
	r.specs[spec.Name] = spec
}

// Policy returns the local security policy, nil when local tools are off.
func (r *Registry) Policy() *SecurityPolicy {
	return r.policy
}

// Get returns the spec registered under name.
func (r *Registry) Get(name string) (*ToolSpec, bool) {
	spec, ok := r.specs[name]
	return spec, ok
}

// List returns all registered specs sorted by name.
func (r *Registry) List() []*ToolSpec {
	specs := make([]*ToolSpec, 0, len(r.specs))
	for _, spec := range r.specs {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Definitions advertises name, description and schema of every tool.
func (r *Registry) Definitions() []llm.ToolDefinition {
	specs := r.List()
	defs := make([]llm.ToolDefinition, 0, len(specs))
	for _, spec := range specs {
		defs = append(defs, spec.Definition())
	}
	return defs
}

// Run executes one call. An unknown tool name becomes a validation error
// in the result.
func (r *Registry) Run(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	spec, ok := r.specs[call.Name]
	if !ok {
		return llm.ToolResult{
			ID:   call.ID,
			Name: call.Name,
			Err:  toLLMError(NewToolErrorf(ErrUnknownTool, "unknown tool: %s", call.Name)),
		}
	}
	return r.executor.Execute(ctx, spec, call)
}
