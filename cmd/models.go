package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/samsaffron/cmd2ai/internal/llm"
	"github.com/spf13/cobra"
)

var (
	modelsJSON   bool
	modelsFilter string
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available at the configured endpoint",
	Long: `List models available at the configured endpoint.

This command queries {endpoint}/models, which OpenRouter and most
OpenAI-compatible servers (Ollama, LM Studio, vLLM) provide.

Examples:
  cmd2ai models                                   # list models
  cmd2ai models --filter claude                   # only ids containing "claude"
  cmd2ai models --api-endpoint http://localhost:11434/v1
  cmd2ai models --json                            # output as JSON`,
	Args: cobra.NoArgs,
	RunE: runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "Output as JSON")
	modelsCmd.Flags().StringVar(&modelsFilter, "filter", "", "Only show model ids containing this text")
	modelsCmd.Flags().StringVar(&askOpts.Endpoint, "api-endpoint", "", "Custom API base URL (e.g. http://localhost:11434/v1)")
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	models, err := llm.ListModels(ctx, cfg.Endpoint, cfg.APIKey)
	if err != nil {
		if strings.Contains(err.Error(), "connection refused") {
			return fmt.Errorf("cannot connect to %s.\n"+
				"Make sure the server is running and accessible", llm.BaseURL(cfg.Endpoint))
		}
		return err
	}
	return printModels(cmd.OutOrStdout(), llm.BaseURL(cfg.Endpoint), filterModels(models, modelsFilter), modelsJSON)
}

// filterModels keeps the models whose id contains substr, ignoring case.
func filterModels(models []llm.ModelInfo, substr string) []llm.ModelInfo {
	if substr == "" {
		return models
	}
	substr = strings.ToLower(substr)
	var out []llm.ModelInfo
	for _, m := range models {
		if strings.Contains(strings.ToLower(m.ID), substr) {
			out = append(out, m)
		}
	}
	return out
}

func printModels(w io.Writer, source string, models []llm.ModelInfo, asJSON bool) error {
	if asJSON {
		if models == nil {
			models = []llm.ModelInfo{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	}

	if len(models) == 0 {
		fmt.Fprintln(w, "No models found.")
		return nil
	}

	fmt.Fprintf(w, "Available models from %s:\n\n", source)
	for _, m := range models {
		line := "  " + m.ID
		if m.OwnedBy != "" {
			line += " (" + m.OwnedBy + ")"
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintf(w, "\nTo use a model, run:\n")
	fmt.Fprintf(w, "  cmd2ai config set model <model-id>\n")
	return nil
}
