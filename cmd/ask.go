package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/samsaffron/cmd2ai/internal/config"
	"github.com/samsaffron/cmd2ai/internal/llm"
	"github.com/samsaffron/cmd2ai/internal/mcp"
	"github.com/samsaffron/cmd2ai/internal/session"
	"github.com/samsaffron/cmd2ai/internal/signal"
	"github.com/samsaffron/cmd2ai/internal/tools"
	"github.com/samsaffron/cmd2ai/internal/ui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// maxFrameWidth caps the code block frame on wide terminals.
const maxFrameWidth = 100

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := openSessionStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if askOpts.Clear {
		n, err := store.Clear(ctx)
		if err != nil {
			return fmt.Errorf("failed to clear history: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "All conversation history cleared (%d sessions).\n", n)
		return nil
	}

	prompt, err := readPrompt(args, cmd.InOrStdin())
	if err != nil {
		return err
	}
	if prompt == "" {
		return errors.New("prompt required: pass it as arguments or pipe it on stdin")
	}

	now := time.Now()
	sessCfg := session.ConfigFrom(cfg.Session)
	sess, resumed, err := session.Resume(ctx, store, session.ResumeOptions{
		New:      askOpts.New,
		Continue: askOpts.Continue,
		Expiry:   sessCfg.Expiry,
		Model:    cfg.Model,
		Now:      now,
	})
	if err != nil {
		return err
	}

	messages := session.ReplaceSystem(sess.Messages, systemPrompt(cfg.SystemPrompt, now))
	messages = append(messages, llm.UserText(prompt))
	messages = session.Trim(messages, sessCfg.MaxPairs)

	runner, cleanup, err := toolRunner(ctx, cfg, !askOpts.NoTools)
	if err != nil {
		return err
	}
	defer cleanup()

	client := llm.NewClient(clientConfig(cfg))

	stdout := cmd.OutOrStdout()
	color, width := false, 0
	if f, ok := stdout.(*os.File); ok {
		color = ui.ColorEnabled(f, noColor)
		width = min(ui.TerminalWidth(f), maxFrameWidth)
	}
	renderer := ui.NewRenderer(stdout, cmd.ErrOrStderr(), ui.RendererOptions{
		Color: color,
		Theme: ui.ThemeFromConfig(themeConfig(cfg.Theme)),
		Width: width,
	})

	toolCount := 0
	if runner != nil {
		toolCount = len(runner.Definitions())
	}
	slog.Info("request",
		"model", cfg.Model,
		"endpoint", cfg.Endpoint,
		"messages", len(messages),
		"tools", toolCount,
		"resumed", resumed,
		"search", askOpts.Search)
	logReasoning(cfg.Reasoning)

	engine := llm.NewEngine(client, runner, renderer)
	var stats *ui.RunStats
	if askOpts.Stats {
		stats = ui.NewRunStats()
		engine.OnTransition = stats.Observe
	}
	result, err := engine.Run(ctx, messages, llm.RunOptions{
		ToolsEnabled:  runner != nil,
		WebSearch:     askOpts.Search,
		MaxToolRounds: cfg.MaxToolRounds,
	})
	if stats != nil {
		stats.Finish(result)
		fmt.Fprintln(cmd.ErrOrStderr(), stats.Render())
	}
	if err != nil {
		// The renderer has already printed the diagnostic.
		cmd.SilenceErrors = true
		return err
	}
	slog.Debug("turn finished",
		"tool_rounds", result.ToolRounds,
		"input_tokens", result.Usage.InputTokens,
		"output_tokens", result.Usage.OutputTokens)

	sess.Model = cfg.Model
	sess.Messages = result.Messages
	sess.UpdatedAt = time.Now()
	return store.Save(context.WithoutCancel(ctx), sess)
}

// readPrompt joins args, falling back to stdin when args are empty and
// stdin is not a terminal.
func readPrompt(args []string, in io.Reader) (string, error) {
	if prompt := strings.TrimSpace(strings.Join(args, " ")); prompt != "" {
		return prompt, nil
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// systemPrompt builds the single system message sent with every request.
func systemPrompt(custom string, now time.Time) string {
	text := fmt.Sprintf("Today's date is %s.", now.Format("Monday, January 2, 2006"))
	if custom = strings.TrimSpace(custom); custom != "" {
		text += "\n\n" + custom
	}
	return text
}

func openSessionStore(cfg *config.Config) (*session.LoggingStore, error) {
	store, err := session.NewStore(session.ConfigFrom(cfg.Session))
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return session.NewLoggingStore(store), nil
}

// toolRunner starts the MCP servers and builds the registry. It returns a
// nil runner when tools are off or none are available; cleanup is always
// safe to call.
func toolRunner(ctx context.Context, cfg *config.Config, wanted bool) (llm.ToolRunner, func(), error) {
	if !wanted || !cfg.Tools.Enabled {
		return nil, func() {}, nil
	}
	registry, manager, err := buildRegistry(ctx, cfg)
	if err != nil {
		return nil, func() {}, err
	}
	cleanup := manager.StopAll
	if len(registry.List()) == 0 {
		return nil, cleanup, nil
	}
	return registry, cleanup, nil
}

// buildRegistry starts every configured MCP server and registers its tools
// after the local ones.
func buildRegistry(ctx context.Context, cfg *config.Config) (*tools.Registry, *mcp.Manager, error) {
	manager := mcp.NewManager(cfg.MCP.Servers)
	manager.StartAll(ctx)
	registry, err := tools.NewRegistry(tools.RegistryOptions{
		Local:    cfg.LocalTools,
		MCPTools: manager.AllTools(),
		MCP:      manager,
	})
	if err != nil {
		manager.StopAll()
		return nil, nil, err
	}
	return registry, manager, nil
}

func clientConfig(cfg *config.Config) llm.ClientConfig {
	headers := make(map[string]string)
	if cfg.AppURL != "" {
		headers["HTTP-Referer"] = cfg.AppURL
	}
	if cfg.AppTitle != "" {
		headers["X-Title"] = cfg.AppTitle
	}

	reasoning := llm.ReasoningOptions{
		Effort:    cfg.Reasoning.Effort,
		MaxTokens: cfg.Reasoning.MaxTokens,
		Exclude:   cfg.Reasoning.Exclude,
	}
	if cfg.Reasoning.Enabled {
		enabled := true
		reasoning.Enabled = &enabled
	}

	return llm.ClientConfig{
		Endpoint:          cfg.Endpoint,
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		Headers:           headers,
		StreamIdleTimeout: time.Duration(cfg.StreamTimeout) * time.Second,
		Reasoning:         reasoning,
	}
}

func themeConfig(t config.ThemeConfig) ui.ThemeConfig {
	return ui.ThemeConfig{
		Preset:    t.Preset,
		Primary:   t.Primary,
		Secondary: t.Secondary,
		Error:     t.Error,
		Muted:     t.Muted,
		CodeStyle: t.CodeStyle,
	}
}

func logReasoning(r config.ReasoningConfig) {
	if !r.Enabled && r.Effort == "" && r.MaxTokens == 0 && !r.Exclude {
		return
	}
	slog.Info("reasoning", "effort", r.Effort, "max_tokens", r.MaxTokens, "exclude", r.Exclude)
}
