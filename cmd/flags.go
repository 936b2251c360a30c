package cmd

import (
	"fmt"
	"strings"

	"github.com/samsaffron/cmd2ai/internal/config"
	"github.com/samsaffron/cmd2ai/internal/mcp"
	"github.com/spf13/cobra"
)

// askFlags holds the root command's per-invocation flags.
type askFlags struct {
	New      bool
	Continue bool
	Clear    bool

	NoTools    bool
	Search     bool
	MCPServers []string
	Stats      bool

	Model    string
	Endpoint string
	System   string

	ReasoningEffort    string
	ReasoningMaxTokens int
	ReasoningExclude   bool
	ReasoningEnabled   bool
}

var askOpts askFlags

// Output flags shared by every command.
var (
	noColor bool
	debug   bool
)

// AddSessionFlags adds --new, --continue and --clear
func AddSessionFlags(cmd *cobra.Command, f *askFlags) {
	cmd.Flags().BoolVarP(&f.New, "new", "n", false, "Start a new conversation")
	cmd.Flags().BoolVarP(&f.Continue, "continue", "c", false, "Continue the previous conversation even if it expired")
	cmd.Flags().BoolVar(&f.Clear, "clear", false, "Clear all conversation history")
	cmd.MarkFlagsMutuallyExclusive("new", "continue")
}

// AddRequestFlags adds the flags that shape the chat request
func AddRequestFlags(cmd *cobra.Command, f *askFlags) {
	cmd.Flags().BoolVar(&f.NoTools, "no-tools", false, "Disable all tools for this query")
	cmd.Flags().BoolVarP(&f.Search, "search", "s", false, "Enable web search for current information")
	cmd.Flags().StringArrayVar(&f.MCPServers, "mcp-server", nil, "Connect to an extra MCP server (name:command:arg1,arg2, repeatable)")
	cmd.Flags().StringVarP(&f.Model, "model", "m", "", "Override the model (e.g. openai/gpt-5)")
	cmd.Flags().StringVar(&f.Endpoint, "api-endpoint", "", "Custom API base URL (e.g. http://localhost:11434/v1)")
	cmd.Flags().StringVar(&f.System, "system", "", "System prompt (overrides config)")
	cmd.Flags().BoolVar(&f.Stats, "stats", false, "Print timing and token usage to stderr after the answer")
}

// AddReasoningFlags adds the --reasoning-* flags
func AddReasoningFlags(cmd *cobra.Command, f *askFlags) {
	cmd.Flags().StringVar(&f.ReasoningEffort, "reasoning-effort", "", "Set reasoning effort level (high, medium, low)")
	cmd.Flags().IntVar(&f.ReasoningMaxTokens, "reasoning-max-tokens", 0, "Set maximum tokens for reasoning")
	cmd.Flags().BoolVar(&f.ReasoningExclude, "reasoning-exclude", false, "Use reasoning but exclude it from the response")
	cmd.Flags().BoolVar(&f.ReasoningEnabled, "reasoning-enabled", false, "Enable reasoning with default parameters")
	if err := cmd.RegisterFlagCompletionFunc("reasoning-effort", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"high", "medium", "low"}, cobra.ShellCompDirectiveNoFileComp
	}); err != nil {
		panic("failed to register reasoning-effort completion: " + err.Error())
	}
}

// AddOutputFlags adds the persistent --no-color and --debug flags
func AddOutputFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Show debug logs on stderr")
}

// applyFlagOverrides copies explicitly set flags over cfg.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config, f *askFlags) error {
	flags := cmd.Flags()
	if flags.Changed("model") && f.Model != "" {
		cfg.Model = f.Model
	}
	if flags.Changed("api-endpoint") && f.Endpoint != "" {
		cfg.Endpoint = config.NormalizeEndpoint(f.Endpoint)
	}
	if flags.Changed("system") {
		cfg.SystemPrompt = f.System
	}

	if flags.Changed("reasoning-effort") {
		effort := strings.ToLower(f.ReasoningEffort)
		if !config.ValidEffort(effort) {
			return fmt.Errorf("invalid reasoning effort %q: must be high, medium or low", f.ReasoningEffort)
		}
		cfg.Reasoning.Effort = effort
	}
	if flags.Changed("reasoning-max-tokens") {
		if f.ReasoningMaxTokens <= 0 {
			return fmt.Errorf("--reasoning-max-tokens must be positive")
		}
		cfg.Reasoning.MaxTokens = f.ReasoningMaxTokens
	}
	if f.ReasoningExclude {
		cfg.Reasoning.Exclude = true
	}
	if f.ReasoningEnabled {
		cfg.Reasoning.Enabled = true
	}

	for _, spec := range f.MCPServers {
		name, server, err := parseMCPServerFlag(spec)
		if err != nil {
			return err
		}
		if cfg.MCP.Servers == nil {
			cfg.MCP.Servers = make(map[string]mcp.ServerConfig)
		}
		cfg.MCP.Servers[name] = server
	}
	return nil
}

// parseMCPServerFlag parses name:command[:arg1,arg2,...].
func parseMCPServerFlag(spec string) (string, mcp.ServerConfig, error) {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", mcp.ServerConfig{}, fmt.Errorf("invalid --mcp-server %q: expected name:command[:arg1,arg2]", spec)
	}
	if strings.Contains(parts[0], mcp.ToolNameSeparator) {
		return "", mcp.ServerConfig{}, fmt.Errorf("invalid --mcp-server %q: name must not contain %q", spec, mcp.ToolNameSeparator)
	}
	server := mcp.ServerConfig{Command: parts[1]}
	if len(parts) == 3 && parts[2] != "" {
		server.Args = strings.Split(parts[2], ",")
	}
	return parts[0], server, nil
}
