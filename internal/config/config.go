package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/samsaffron/cmd2ai/internal/mcp"
)

const (
	appName = "cmd2ai"

	DefaultEndpoint      = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel         = "openai/gpt-5"
	DefaultStreamTimeout = 30
	DefaultMaxToolRounds = 10

	// ProjectFile is merged over the user config when present in the
	// working directory.
	ProjectFile = ".cmd2ai.yaml"
)

type Config struct {
	Endpoint      string          `mapstructure:"endpoint"`
	APIKey        string          `mapstructure:"api_key"`
	Model         string          `mapstructure:"model"`
	SystemPrompt  string          `mapstructure:"system_prompt"`
	StreamTimeout int             `mapstructure:"stream_timeout"` // seconds without bytes before a stream is dropped
	Verbose       bool            `mapstructure:"verbose"`
	MaxToolRounds int             `mapstructure:"max_tool_rounds"`
	AppURL        string          `mapstructure:"app_url"`   // sent as HTTP-Referer
	AppTitle      string          `mapstructure:"app_title"` // sent as X-Title
	Reasoning     ReasoningConfig `mapstructure:"reasoning"`
	Theme         ThemeConfig     `mapstructure:"theme"`
	Session       SessionConfig   `mapstructure:"session"`
	Tools         ToolsConfig     `mapstructure:"tools"`

	// Decoded with yaml.v3 rather than viper so map keys keep their case.
	LocalTools LocalToolsConfig `mapstructure:"-"`
	MCP        MCPConfig        `mapstructure:"-"`

	// Files that were read, in merge order.
	Files []string `mapstructure:"-"`
}

// ReasoningConfig mirrors the OpenRouter reasoning request options.
type ReasoningConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Effort    string `mapstructure:"effort"` // high, medium or low
	MaxTokens int    `mapstructure:"max_tokens"`
	Exclude   bool   `mapstructure:"exclude"`
}

// ThemeConfig allows customization of UI colors
// Colors can be ANSI color numbers (0-255) or hex codes (#RRGGBB)
type ThemeConfig struct {
	Preset    string `mapstructure:"preset"` // gruvbox, dracula, nord, solarized, monokai or classic
	Primary   string `mapstructure:"primary"`
	Secondary string `mapstructure:"secondary"`
	Error     string `mapstructure:"error"`
	Muted     string `mapstructure:"muted"`
	CodeStyle string `mapstructure:"code_style"` // chroma style name
}

type SessionConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ExpiryMinutes int    `mapstructure:"expiry_minutes"`
	MaxPairs      int    `mapstructure:"max_pairs"` // user/assistant pairs kept besides system messages
	Path          string `mapstructure:"path"`      // sqlite file; empty = data dir
}

type ToolsConfig struct {
	Enabled bool `mapstructure:"enabled"` // master switch for tool calling
}

// LocalToolsConfig configures tools executed on this machine.
type LocalToolsConfig struct {
	Enabled       bool              `yaml:"enabled"`
	BaseDir       string            `yaml:"base_dir"`
	MaxFileSizeMB int64             `yaml:"max_file_size_mb"`
	Policy        PolicyConfig      `yaml:"policy"`
	Tools         []LocalToolConfig `yaml:"tools"`
}

// PolicyConfig holds the sandbox rules shared by every local tool.
type PolicyConfig struct {
	// PathArgumentNames is a glob matched against argument names; matching
	// string arguments are treated as paths.
	PathArgumentNames  string   `yaml:"path_argument_names"`
	AllowAbsolutePaths bool     `yaml:"allow_absolute_paths"`
	DenyPatterns       []string `yaml:"deny_patterns"` // doublestar patterns relative to base_dir
}

// LocalToolConfig is one entry of local_tools.tools. Entries naming a
// builtin only toggle it; entries with a type define a dynamic tool.
type LocalToolConfig struct {
	Name        string         `yaml:"name"`
	Enabled     *bool          `yaml:"enabled,omitempty"`
	Type        string         `yaml:"type,omitempty"` // script or command
	Description string         `yaml:"description,omitempty"`
	InputSchema map[string]any `yaml:"input_schema,omitempty"`

	Interpreter string `yaml:"interpreter,omitempty"`
	Script      string `yaml:"script,omitempty"`
	ScriptPath  string `yaml:"script_path,omitempty"`

	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`

	TimeoutSecs    int               `yaml:"timeout_secs,omitempty"`
	MaxOutputBytes int64             `yaml:"max_output_bytes,omitempty"`
	WorkingDir     string            `yaml:"working_dir,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`

	StdinJSON           *bool                         `yaml:"stdin_json,omitempty"`
	RestrictToBaseDir   *bool                         `yaml:"restrict_to_base_dir,omitempty"`
	InsertDoubleDash    *bool                         `yaml:"insert_double_dash,omitempty"`
	AllowExtraArgs      bool                          `yaml:"allow_extra_args,omitempty"`
	TemplateValidations map[string]TemplateValidation `yaml:"template_validations,omitempty"`
}

// IsEnabled reports whether the tool is enabled; tools are on unless
// explicitly disabled.
func (t LocalToolConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// TemplateValidation constrains one templated argument.
type TemplateValidation struct {
	Kind          string   `yaml:"kind,omitempty"` // path, string or number
	AllowPatterns []string `yaml:"allow_patterns,omitempty"`
	DenyPatterns  []string `yaml:"deny_patterns,omitempty"`
	AllowAbsolute bool     `yaml:"allow_absolute,omitempty"`
}

// MCPConfig lists remote tool servers by name.
type MCPConfig struct {
	Servers map[string]mcp.ServerConfig `yaml:"servers"`
}

// Load reads the user config, merges the project file from the working
// directory over it and applies environment overrides.
func Load() (*Config, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working dir: %w", err)
	}
	return LoadFrom(configDir, wd)
}

// LoadFrom is Load with explicit config and project directories.
func LoadFrom(configDir, projectDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	var files []string
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		files = append(files, v.ConfigFileUsed())
	}

	if projectDir != "" {
		project := filepath.Join(projectDir, ProjectFile)
		if _, err := os.Stat(project); err == nil && !sameFile(project, files) {
			v.SetConfigFile(project)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("failed to merge %s: %w", project, err)
			}
			files = append(files, project)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Files = files

	cfg.LocalTools = DefaultLocalToolsConfig()
	cfg.MCP = MCPConfig{Servers: make(map[string]mcp.ServerConfig)}
	for _, path := range files {
		if err := mergeSections(&cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(&cfg)
	cfg.APIKey = ExpandEnv(cfg.APIKey)
	cfg.Endpoint = NormalizeEndpoint(ExpandEnv(cfg.Endpoint))
	cfg.LocalTools.BaseDir = ExpandHome(ExpandEnv(cfg.LocalTools.BaseDir))
	cfg.Session.Path = ExpandHome(ExpandEnv(cfg.Session.Path))
	if cfg.Reasoning.Effort != "" && !ValidEffort(cfg.Reasoning.Effort) {
		slog.Warn("ignoring unknown reasoning effort", "effort", cfg.Reasoning.Effort)
		cfg.Reasoning.Effort = ""
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("endpoint", DefaultEndpoint)
	v.SetDefault("model", DefaultModel)
	v.SetDefault("stream_timeout", DefaultStreamTimeout)
	v.SetDefault("max_tool_rounds", DefaultMaxToolRounds)
	v.SetDefault("app_url", "https://github.com/samsaffron/cmd2ai")
	v.SetDefault("app_title", appName)
	v.SetDefault("session.enabled", true)
	v.SetDefault("session.expiry_minutes", 30)
	v.SetDefault("session.max_pairs", 3)
	v.SetDefault("tools.enabled", true)
}

// DefaultLocalToolsConfig returns local tool settings before any file is
// applied. An empty BaseDir means the home directory.
func DefaultLocalToolsConfig() LocalToolsConfig {
	return LocalToolsConfig{
		Enabled:       true,
		MaxFileSizeMB: 10,
	}
}

// mergeSections decodes local_tools and mcp from path. Later files replace
// scalar settings, replace tools with the same name and add new servers.
func mergeSections(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	var sections struct {
		LocalTools yaml.Node `yaml:"local_tools"`
		MCP        MCPConfig `yaml:"mcp"`
	}
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if sections.LocalTools.Kind == yaml.MappingNode {
		// Decode over the current values so absent keys keep them.
		prev := cfg.LocalTools.Tools
		merged := cfg.LocalTools
		merged.Tools = nil
		if err := sections.LocalTools.Decode(&merged); err != nil {
			return fmt.Errorf("failed to parse local_tools in %s: %w", path, err)
		}
		merged.Tools = mergeTools(prev, merged.Tools)
		cfg.LocalTools = merged
	}

	for name, server := range sections.MCP.Servers {
		cfg.MCP.Servers[name] = server
	}
	return nil
}

func mergeTools(base, over []LocalToolConfig) []LocalToolConfig {
	out := append([]LocalToolConfig(nil), base...)
	for _, t := range over {
		replaced := false
		for i := range out {
			if out[i].Name == t.Name {
				out[i] = t
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, t)
		}
	}
	return out
}

func sameFile(path string, files []string) bool {
	for _, f := range files {
		a, err1 := filepath.Abs(f)
		b, err2 := filepath.Abs(path)
		if err1 == nil && err2 == nil && a == b {
			return true
		}
	}
	return false
}

// applyEnv applies the AI_* and OPENROUTER_API_KEY overrides.
func applyEnv(cfg *Config) {
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		cfg.APIKey = key
	} else if key := os.Getenv("AI_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if v := os.Getenv("AI_API_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("AI_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("AI_SYSTEM_PROMPT"); v != "" {
		cfg.SystemPrompt = v
	}
	if v := os.Getenv("AI_STREAM_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.StreamTimeout = n
		} else {
			slog.Warn("ignoring invalid AI_STREAM_TIMEOUT", "value", v)
		}
	}
	if v, ok := os.LookupEnv("AI_VERBOSE"); ok {
		cfg.Verbose = v == "true"
	}
	if v, ok := os.LookupEnv("AI_TOOLS_ENABLED"); ok {
		cfg.Tools.Enabled = truthy(v)
	}

	if truthy(os.Getenv("AI_REASONING_ENABLED")) {
		cfg.Reasoning.Enabled = true
	}
	if v := strings.ToLower(os.Getenv("AI_REASONING_EFFORT")); ValidEffort(v) {
		cfg.Reasoning.Effort = v
	}
	if v := os.Getenv("AI_REASONING_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Reasoning.MaxTokens = n
		}
	}
	if truthy(os.Getenv("AI_REASONING_EXCLUDE")) {
		cfg.Reasoning.Exclude = true
	}
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// ValidEffort reports whether s is a reasoning effort the API accepts.
func ValidEffort(s string) bool {
	switch s {
	case "high", "medium", "low":
		return true
	}
	return false
}

// NormalizeEndpoint turns a base URL into a chat/completions URL.
func NormalizeEndpoint(endpoint string) string {
	switch {
	case endpoint == "":
		return DefaultEndpoint
	case strings.HasSuffix(endpoint, "/chat/completions"):
		return endpoint
	case strings.HasSuffix(endpoint, "/v1"):
		return endpoint + "/chat/completions"
	case strings.HasSuffix(endpoint, "/v1/"):
		return endpoint + "chat/completions"
	default:
		return strings.TrimRight(endpoint, "/") + "/v1/chat/completions"
	}
}

// ExpandEnv expands ${VAR} or $VAR references. Unset variables are left
// as written.
func ExpandEnv(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return os.Expand(s, func(name string) string {
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return "${" + name + "}"
	})
}

// ExpandHome replaces a leading ~ with the home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// GetConfigDir returns the XDG config directory for cmd2ai.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, appName), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", appName), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// GetDataDir returns the XDG data directory for cmd2ai.
// Uses $XDG_DATA_HOME if set, otherwise ~/.local/share
func GetDataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, appName), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", appName), nil
}

// Exists returns true if a config file exists
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}
