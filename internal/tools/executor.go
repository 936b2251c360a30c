package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/samsaffron/cmd2ai/internal/config"
	"github.com/samsaffron/cmd2ai/internal/llm"
)

// scriptDir holds inline scripts, relative to the base directory.
const scriptDir = ".cmd2ai-tools/tmp"

// MCPCaller forwards a call to the remote server owning a prefixed tool name.
type MCPCaller interface {
	CallTool(ctx context.Context, fullName string, args json.RawMessage) (string, error)
}

// Executor validates tool calls and runs each one exactly once.
type Executor struct {
	mcp MCPCaller
}

// NewExecutor creates an Executor. caller may be nil when no MCP servers
// are configured.
func NewExecutor(caller MCPCaller) *Executor {
	return &Executor{mcp: caller}
}

// Execute runs one tool call. Every failure, including a panic inside a
// builtin, is reported in the result and never returned or propagated.
func (e *Executor) Execute(ctx context.Context, spec *ToolSpec, call llm.ToolCall) (result llm.ToolResult) {
	result = llm.ToolResult{ID: call.ID, Name: call.Name}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool panicked", "tool", call.Name, "panic", r)
			result.Err = llm.NewErrorf(llm.KindExecution, "tool %s failed unexpectedly: %v", call.Name, r)
		}
		if result.Err != nil {
			slog.Debug("tool failed", "tool", call.Name, "kind", result.Err.Kind, "error", result.Err.Message)
		} else {
			slog.Debug("tool finished", "tool", call.Name, "bytes", len(result.Output),
				"truncated", result.Truncated, "elapsed", time.Since(start))
		}
	}()

	if spec == nil {
		result.Err = toLLMError(NewToolErrorf(ErrUnknownTool, "unknown tool: %s", call.Name))
		return result
	}

	inv, err := e.prepare(spec, call.Arguments)
	if err != nil {
		result.Err = toLLMError(err)
		return result
	}

	out, truncated, err := e.dispatch(ctx, inv)
	result.Output = out
	result.Truncated = truncated
	result.Err = toLLMError(err)
	return result
}

// prepare performs every check that happens before anything runs: schema,
// path resolution, the option guard and template validations.
func (e *Executor) prepare(spec *ToolSpec, raw json.RawMessage) (*Invocation, error) {
	args, err := decodeArguments(raw)
	if err != nil {
		return nil, err
	}
	if err := spec.checkSchema(args); err != nil {
		return nil, err
	}

	inv := &Invocation{Spec: spec, Args: args, ResolvedPaths: map[string]string{}}
	if spec.Kind == KindMCP {
		return inv, nil
	}
	if spec.Policy == nil {
		return nil, NewToolErrorf(ErrExecutionFailed, "tool %s has no security policy", spec.Name)
	}

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := args[name]
		if spec.isPathArgument(name) {
			s, ok := value.(string)
			if !ok {
				return nil, NewToolErrorf(ErrInvalidParams, "path argument '%s' must be a string", name)
			}
			resolved, err := spec.Policy.Resolve(s, spec.allowAbsolute(name))
			if err != nil {
				return nil, err
			}
			if strings.HasPrefix(s, "-") {
				return nil, NewToolErrorf(ErrInvalidParams, "path argument '%s' must not start with '-'", name)
			}
			inv.ResolvedPaths[name] = resolved
		}
		if v, ok := spec.Validations[name]; ok {
			if err := checkValue(name, stringify(value), v); err != nil {
				return nil, err
			}
		}
	}
	return inv, nil
}

func (e *Executor) dispatch(ctx context.Context, inv *Invocation) (string, bool, error) {
	spec := inv.Spec
	switch spec.Kind {
	case KindBuiltin:
		if spec.builtin == nil {
			return "", false, NewToolErrorf(ErrExecutionFailed, "builtin %s has no implementation", spec.Name)
		}
		return spec.builtin(inv)
	case KindMCP:
		return e.callMCP(ctx, inv)
	case KindScript, KindCommand:
		p, err := e.buildProcess(inv)
		if err != nil {
			return "", false, err
		}
		res, err := runProcess(ctx, p)
		return res.Stdout, res.Truncated, err
	default:
		return "", false, NewToolErrorf(ErrExecutionFailed, "tool %s has unsupported kind %q", spec.Name, spec.Kind)
	}
}

func (e *Executor) callMCP(ctx context.Context, inv *Invocation) (string, bool, error) {
	if e.mcp == nil {
		return "", false, NewToolErrorf(ErrExecutionFailed, "no MCP server available for %s", inv.Spec.Name)
	}
	args, err := json.Marshal(inv.Args)
	if err != nil {
		return "", false, NewToolErrorf(ErrInvalidParams, "encode arguments: %v", err)
	}
	out, err := e.mcp.CallTool(ctx, inv.Spec.Name, args)
	if err != nil {
		return "", false, NewToolError(ErrExecutionFailed, err.Error())
	}
	c := newCollector(inv.Spec.MaxOutputBytes)
	_, _ = c.Write([]byte(out))
	return c.String(), c.truncated, nil
}

// buildProcess turns a script or command invocation into a process.
func (e *Executor) buildProcess(inv *Invocation) (process, error) {
	spec := inv.Spec
	p := process{
		name:      spec.Name,
		env:       processEnv(spec, config.ExpandEnv),
		timeout:   spec.Timeout,
		maxOutput: spec.MaxOutputBytes,
	}

	dir, err := workingDir(spec)
	if err != nil {
		return p, err
	}
	p.dir = dir

	var stdinNeeded bool
	switch spec.Kind {
	case KindScript:
		script, err := scriptFile(spec)
		if err != nil {
			return p, err
		}
		fields := strings.Fields(spec.Interpreter)
		p.path = fields[0]
		p.args = append(fields[1:], script)
		stdinNeeded = true
	case KindCommand:
		argv, err := buildArgv(inv)
		if err != nil {
			return p, err
		}
		p.path = spec.Command
		p.args = argv
		stdinNeeded = spec.StdinJSON
	}

	if stdinNeeded {
		payload, err := stdinPayload(inv)
		if err != nil {
			return p, NewToolErrorf(ErrInvalidParams, "encode arguments: %v", err)
		}
		p.stdin = payload
	}
	return p, nil
}

// workingDir resolves the configured working directory inside the base
// directory, or returns the base directory itself.
func workingDir(spec *ToolSpec) (string, error) {
	if spec.WorkingDir == "" {
		return spec.Policy.BaseDir, nil
	}
	dir, err := spec.Policy.Resolve(config.ExpandHome(spec.WorkingDir), !spec.RestrictToBaseDir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", NewToolErrorf(ErrExecutionFailed, "working directory %s does not exist", spec.WorkingDir)
	}
	return dir, nil
}

// scriptFile returns the script to hand to the interpreter. Inline scripts
// are written below the base directory on every call.
func scriptFile(spec *ToolSpec) (string, error) {
	if spec.Script == "" {
		path, err := spec.Policy.Resolve(config.ExpandHome(spec.ScriptPath), !spec.RestrictToBaseDir)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(path); err != nil {
			return "", NewToolErrorf(ErrExecutionFailed, "script not found: %s", spec.ScriptPath)
		}
		return path, nil
	}

	dir := filepath.Join(spec.Policy.BaseDir, filepath.FromSlash(scriptDir))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "create script directory: %v", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s.%s", spec.Name, scriptExtension(spec.Interpreter)))
	if err := os.WriteFile(path, []byte(spec.Script), 0755); err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "write script: %v", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0755); err != nil {
		return "", NewToolErrorf(ErrExecutionFailed, "write script: %v", err)
	}
	return path, nil
}
