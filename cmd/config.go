package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/samsaffron/cmd2ai/internal/config"
	"github.com/samsaffron/cmd2ai/internal/mcp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configInitForce   bool
	configInitProject bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage cmd2ai configuration",
	Long: `View or edit your cmd2ai configuration.

Settings are read from ~/.config/cmd2ai/config.yaml and then from
.cmd2ai.yaml in the current directory. Environment variables
(OPENROUTER_API_KEY, AI_MODEL, AI_API_ENDPOINT, ...) override both.

Examples:
  cmd2ai config                       # show the effective config
  cmd2ai config init                  # write a commented default config
  cmd2ai config init --project        # write ./.cmd2ai.yaml instead
  cmd2ai config set model anthropic/claude-sonnet-4
  cmd2ai config get session.max_pairs
  cmd2ai config edit                  # edit in $EDITOR`,
	RunE: configShow, // Default to show
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  configShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default config file",
	Long: `Write a commented default config file with example local tools and MCP
servers. An existing file is only replaced with --force.`,
	Args: cobra.NoArgs,
	RunE: configInit,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file in $EDITOR",
	RunE:  configEdit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print configuration file path",
	RunE:  configPath,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value while preserving comments.

Examples:
  cmd2ai config set model openai/gpt-5
  cmd2ai config set reasoning.effort high
  cmd2ai config set session.expiry_minutes 60
  cmd2ai config set local_tools.base_dir ~/src`,
	Args:              cobra.ExactArgs(2),
	RunE:              configSet,
	ValidArgsFunction: configKeyCompletion,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Long: `Get a configuration value from the config file.

Examples:
  cmd2ai config get model
  cmd2ai config get reasoning.effort`,
	Args:              cobra.ExactArgs(1),
	RunE:              configGet,
	ValidArgsFunction: configKeyCompletion,
}

func init() {
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "Overwrite an existing config file")
	configInitCmd.Flags().BoolVar(&configInitProject, "project", false, "Write "+config.ProjectFile+" in the current directory")

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
}

// configView is the effective configuration as printed by `config show`.
type configView struct {
	Endpoint      string                      `yaml:"endpoint"`
	APIKey        string                      `yaml:"api_key"`
	Model         string                      `yaml:"model"`
	SystemPrompt  string                      `yaml:"system_prompt,omitempty"`
	StreamTimeout int                         `yaml:"stream_timeout"`
	Verbose       bool                        `yaml:"verbose"`
	MaxToolRounds int                         `yaml:"max_tool_rounds"`
	Reasoning     map[string]any              `yaml:"reasoning"`
	Session       map[string]any              `yaml:"session"`
	Tools         map[string]any              `yaml:"tools"`
	LocalTools    config.LocalToolsConfig     `yaml:"local_tools"`
	MCPServers    map[string]mcp.ServerConfig `yaml:"mcp_servers,omitempty"`
}

func configShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return writeConfigView(cmd.OutOrStdout(), cfg)
}

func writeConfigView(w io.Writer, cfg *config.Config) error {
	if len(cfg.Files) == 0 {
		path, _ := config.GetConfigPath()
		fmt.Fprintf(w, "# No config file (using defaults)\n")
		fmt.Fprintf(w, "# Create one with: cmd2ai config init  (%s)\n\n", path)
	} else {
		for _, f := range cfg.Files {
			fmt.Fprintf(w, "# %s\n", f)
		}
		fmt.Fprintln(w)
	}

	view := configView{
		Endpoint:      cfg.Endpoint,
		APIKey:        maskKey(cfg.APIKey),
		Model:         cfg.Model,
		SystemPrompt:  cfg.SystemPrompt,
		StreamTimeout: cfg.StreamTimeout,
		Verbose:       cfg.Verbose,
		MaxToolRounds: cfg.MaxToolRounds,
		Reasoning: map[string]any{
			"enabled":    cfg.Reasoning.Enabled,
			"effort":     cfg.Reasoning.Effort,
			"max_tokens": cfg.Reasoning.MaxTokens,
			"exclude":    cfg.Reasoning.Exclude,
		},
		Session: map[string]any{
			"enabled":        cfg.Session.Enabled,
			"expiry_minutes": cfg.Session.ExpiryMinutes,
			"max_pairs":      cfg.Session.MaxPairs,
			"path":           cfg.Session.Path,
		},
		Tools:      map[string]any{"enabled": cfg.Tools.Enabled},
		LocalTools: cfg.LocalTools,
		MCPServers: cfg.MCP.Servers,
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

// maskKey hides all but the last four characters of an API key.
func maskKey(key string) string {
	switch {
	case key == "":
		return "[NOT SET - export OPENROUTER_API_KEY or AI_API_KEY]"
	case len(key) <= 8:
		return "[set]"
	default:
		return "[set] ..." + key[len(key)-4:]
	}
}

func configInit(cmd *cobra.Command, args []string) error {
	path, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	if configInitProject {
		path = config.ProjectFile
	}
	if err := config.WriteDefault(path, configInitForce); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Config file created at %s\n", path)
	fmt.Fprintln(cmd.OutOrStdout(), "Edit it to configure local tools and MCP servers.")
	return nil
}

func configEdit(cmd *cobra.Command, args []string) error {
	configPath, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}

	// Create default config if it doesn't exist
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.WriteDefault(configPath, false); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		editor = "vi"
	}

	editorCmd := exec.Command(editor, configPath)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr
	return editorCmd.Run()
}

func configPath(cmd *cobra.Command, args []string) error {
	path, err := config.GetConfigPath()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func configSet(cmd *cobra.Command, args []string) error {
	configPath, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	if err := setConfigValue(configPath, args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
	return nil
}

// setConfigValue edits one dotted key in the YAML file at path, keeping
// comments and key order. The file is created when missing.
func setConfigValue(path, key, value string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Read existing file or create empty document
	var root yaml.Node
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		root = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode}},
		}
	case err != nil:
		return fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &root); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
		if root.Kind == 0 {
			// Empty file.
			root = yaml.Node{
				Kind:    yaml.DocumentNode,
				Content: []*yaml.Node{{Kind: yaml.MappingNode}},
			}
		}
	}

	if err := setYAMLValue(&root, strings.Split(key, "."), value); err != nil {
		return fmt.Errorf("failed to set value: %w", err)
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&root); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	encoder.Close()

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func setYAMLValue(root *yaml.Node, path []string, value string) error {
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return fmt.Errorf("invalid document structure")
	}

	current := root.Content[0]
	if current.Kind != yaml.MappingNode {
		return fmt.Errorf("root is not a mapping")
	}

	for i, part := range path {
		isLast := i == len(path)-1

		found := false
		for j := 0; j < len(current.Content); j += 2 {
			if current.Content[j].Value != part {
				continue
			}
			if isLast {
				valueNode := current.Content[j+1]
				valueNode.Kind = yaml.ScalarNode
				valueNode.Value = value
				valueNode.Tag = ""
				valueNode.Style = 0
				valueNode.Content = nil
			} else {
				current = current.Content[j+1]
				if current.Kind != yaml.MappingNode {
					// Replace a scalar with a mapping
					current.Kind = yaml.MappingNode
					current.Content = nil
					current.Value = ""
					current.Tag = ""
				}
			}
			found = true
			break
		}

		if !found {
			keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: part}
			if isLast {
				current.Content = append(current.Content, keyNode, &yaml.Node{Kind: yaml.ScalarNode, Value: value})
			} else {
				mapping := &yaml.Node{Kind: yaml.MappingNode}
				current.Content = append(current.Content, keyNode, mapping)
				current = mapping
			}
		}
	}

	return nil
}

func configGet(cmd *cobra.Command, args []string) error {
	configPath, err := config.GetConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	value, err := getConfigValue(configPath, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

// getConfigValue reads one dotted key from the YAML file at path. Mappings
// and sequences are printed as YAML.
func getConfigValue(path, key string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("config file does not exist (run 'cmd2ai config init')")
		}
		return "", fmt.Errorf("failed to read config: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return "", fmt.Errorf("failed to parse config: %w", err)
	}
	return getYAMLValue(&root, strings.Split(key, "."))
}

func getYAMLValue(root *yaml.Node, path []string) (string, error) {
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return "", fmt.Errorf("invalid document structure")
	}

	current := root.Content[0]
	for _, part := range path {
		if current.Kind != yaml.MappingNode {
			return "", fmt.Errorf("path not found: expected mapping")
		}

		found := false
		for j := 0; j < len(current.Content); j += 2 {
			if current.Content[j].Value == part {
				current = current.Content[j+1]
				found = true
				break
			}
		}
		if !found {
			return "", fmt.Errorf("key not found: %s", part)
		}
	}

	if current.Kind == yaml.ScalarNode {
		return current.Value, nil
	}
	out, err := yaml.Marshal(current)
	if err != nil {
		return "", fmt.Errorf("failed to encode value: %w", err)
	}
	return strings.TrimRight(string(out), "\n"), nil
}

// configKeys are the scalar settings offered for completion.
var configKeys = []string{
	"endpoint", "api_key", "model", "system_prompt", "stream_timeout", "verbose",
	"max_tool_rounds", "app_url", "app_title",
	"reasoning.enabled", "reasoning.effort", "reasoning.max_tokens", "reasoning.exclude",
	"theme.preset", "theme.primary", "theme.secondary", "theme.error", "theme.muted", "theme.code_style",
	"session.enabled", "session.expiry_minutes", "session.max_pairs", "session.path",
	"tools.enabled",
	"local_tools.enabled", "local_tools.base_dir", "local_tools.max_file_size_mb",
	"local_tools.policy.path_argument_names", "local_tools.policy.allow_absolute_paths",
}

func configKeyCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		if args[0] == "reasoning.effort" && len(args) == 1 && cmd.Name() == "set" {
			return []string{"high", "medium", "low"}, cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var out []string
	for _, k := range configKeys {
		if strings.HasPrefix(k, toComplete) {
			out = append(out, k)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}
