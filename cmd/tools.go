package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/samsaffron/cmd2ai/internal/mcp"
	"github.com/samsaffron/cmd2ai/internal/signal"
	"github.com/samsaffron/cmd2ai/internal/tools"
	"github.com/samsaffron/cmd2ai/internal/ui"
	"github.com/spf13/cobra"
)

var toolsJSON bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the model can call",
	Long: `List the enabled local tools and the tools offered by the configured MCP
servers, then report configuration problems.

Examples:
  cmd2ai tools
  cmd2ai tools --json`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "Output as JSON")
}

// toolInfo is one row of the tools listing.
type toolInfo struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Source      string `json:"source"`
	Description string `json:"description,omitempty"`
}

// serverInfo reports an MCP server's startup outcome.
type serverInfo struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type toolsListing struct {
	Tools    []toolInfo   `json:"tools"`
	Servers  []serverInfo `json:"mcp_servers,omitempty"`
	Problems []string     `json:"problems,omitempty"`
}

func runTools(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var listing toolsListing
	for _, err := range tools.Validate(cfg.LocalTools) {
		listing.Problems = append(listing.Problems, err.Error())
	}

	registry, manager, err := buildRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer manager.StopAll()

	for _, spec := range registry.List() {
		listing.Tools = append(listing.Tools, toolInfo{
			Name:        spec.Name,
			Kind:        string(spec.Kind),
			Source:      spec.Source,
			Description: spec.Description,
		})
	}
	for _, st := range manager.States() {
		info := serverInfo{Name: st.Name, Status: string(st.Status)}
		if st.Error != nil {
			info.Error = st.Error.Error()
		}
		listing.Servers = append(listing.Servers, info)
	}

	if toolsJSON {
		if listing.Tools == nil {
			listing.Tools = []toolInfo{}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	}
	printTools(cmd.OutOrStdout(), listing, cfg.Tools.Enabled)
	return nil
}

func printTools(w io.Writer, listing toolsListing, enabled bool) {
	if !enabled {
		fmt.Fprintln(w, "Tool calling is disabled (tools.enabled: false).")
		fmt.Fprintln(w)
	}

	if len(listing.Tools) == 0 {
		fmt.Fprintln(w, "No tools available.")
	} else {
		fmt.Fprintf(w, "%-28s %-8s %-16s %s\n", "NAME", "KIND", "SOURCE", "DESCRIPTION")
		for _, t := range listing.Tools {
			fmt.Fprintf(w, "%-28s %-8s %-16s %s\n", t.Name, t.Kind, t.Source, ui.Truncate(t.Description, 60))
		}
	}

	if len(listing.Servers) > 0 {
		fmt.Fprintln(w, "\nMCP servers:")
		for _, s := range listing.Servers {
			line := fmt.Sprintf("  %-20s %s", s.Name, s.Status)
			if s.Status == string(mcp.StatusFailed) && s.Error != "" {
				line += ": " + s.Error
			}
			fmt.Fprintln(w, line)
		}
	}

	if len(listing.Problems) > 0 {
		fmt.Fprintln(w, "\nConfiguration problems:")
		for _, p := range listing.Problems {
			fmt.Fprintf(w, "  - %s\n", p)
		}
	}
}
