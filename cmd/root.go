package cmd

import (
	"io"
	"log/slog"
	"os"

	"github.com/samsaffron/cmd2ai/internal/config"
	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

func init() {
	AddSessionFlags(rootCmd, &askOpts)
	AddRequestFlags(rootCmd, &askOpts)
	AddReasoningFlags(rootCmd, &askOpts)
	AddOutputFlags(rootCmd)
}

var rootCmd = &cobra.Command{
	Use:   "cmd2ai [prompt...]",
	Short: "Ask an AI model from the terminal",
	Long: `cmd2ai sends a prompt to an OpenAI-compatible chat endpoint (OpenRouter by
default) and streams the answer with highlighted code blocks. The model can
call local tools and MCP servers declared in the config file.

Follow-up prompts continue the previous conversation for 30 minutes.

Examples:
  cmd2ai "how do I find files larger than 100MB"
  cmd2ai -n "start a new conversation"
  cmd2ai -c "continue even though the session expired"
  cmd2ai -s "what changed in the latest Go release"
  cmd2ai --reasoning-effort high "prove that sqrt(2) is irrational"
  echo "summarize the README in this folder" | cmd2ai

  cmd2ai config init                    # write a commented config file
  cmd2ai tools                          # list the tools the model can call`,
	Args:              cobra.ArbitraryArgs,
	Version:           Version,
	SilenceUsage:      true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(cmd.ErrOrStderr(), debug)
	},
	RunE: runAsk,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging routes slog to w at Debug level when verbose, else Warn.
func setupLogging(w io.Writer, verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// loadConfig loads the layered config and applies the root flags that were
// set on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cmd, cfg, &askOpts); err != nil {
		return nil, err
	}
	if cfg.Verbose && !debug {
		setupLogging(cmd.ErrOrStderr(), true)
	}
	return cfg, nil
}
