package ui

import (
	"io"
	"log/slog"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme defines the color palette for the terminal output
type Theme struct {
	Primary   lipgloss.Color // tool labels
	Secondary lipgloss.Color // box frames
	Success   lipgloss.Color
	Error     lipgloss.Color
	Warning   lipgloss.Color
	Muted     lipgloss.Color // reasoning, sources, hints
	Text      lipgloss.Color

	// CodeStyle names the chroma style used for fenced code
	CodeStyle string
}

// DefaultTheme returns the default color theme (gruvbox)
func DefaultTheme() *Theme {
	return &Theme{
		Primary:   lipgloss.Color("#b8bb26"), // gruvbox green
		Secondary: lipgloss.Color("#83a598"), // gruvbox aqua
		Success:   lipgloss.Color("#b8bb26"),
		Error:     lipgloss.Color("#fb4934"), // gruvbox red
		Warning:   lipgloss.Color("#fabd2f"), // gruvbox yellow
		Muted:     lipgloss.Color("#928374"), // gruvbox gray
		Text:      lipgloss.Color("#ebdbb2"),
		CodeStyle: "monokai",
	}
}

// ThemeConfig mirrors config.ThemeConfig for applying overrides
type ThemeConfig struct {
	Preset    string // name in PresetThemes; explicit colors win
	Primary   string
	Secondary string
	Error     string
	Muted     string
	CodeStyle string
}

// ThemeFromConfig creates a theme with config overrides applied
func ThemeFromConfig(cfg ThemeConfig) *Theme {
	theme := DefaultTheme()
	if cfg.Preset != "" {
		var ok bool
		if cfg, ok = withPreset(cfg); !ok {
			slog.Warn("unknown theme preset", "preset", cfg.Preset, "available", PresetThemeNames())
		}
	}
	if cfg.Primary != "" {
		theme.Primary = lipgloss.Color(cfg.Primary)
	}
	if cfg.Secondary != "" {
		theme.Secondary = lipgloss.Color(cfg.Secondary)
	}
	if cfg.Error != "" {
		theme.Error = lipgloss.Color(cfg.Error)
	}
	if cfg.Muted != "" {
		theme.Muted = lipgloss.Color(cfg.Muted)
	}
	if cfg.CodeStyle != "" {
		theme.CodeStyle = cfg.CodeStyle
	}
	return theme
}

// Styles holds the lipgloss styles bound to one output.
type Styles struct {
	renderer *lipgloss.Renderer
	theme    *Theme
	color    bool

	Frame     lipgloss.Style
	Reasoning lipgloss.Style
	ToolLabel lipgloss.Style
	ToolError lipgloss.Style
	Muted     lipgloss.Style
	Error     lipgloss.Style
	Bold      lipgloss.Style
}

// NewStyles creates styles for w. With color false every style renders
// plain text.
func NewStyles(w io.Writer, theme *Theme, color bool) *Styles {
	if theme == nil {
		theme = DefaultTheme()
	}
	r := lipgloss.NewRenderer(w)
	if !color {
		r.SetColorProfile(termenv.Ascii)
	}

	// Tabs must survive rendering untouched.
	base := func() lipgloss.Style {
		return r.NewStyle().TabWidth(lipgloss.NoTabConversion)
	}

	return &Styles{
		renderer: r,
		theme:    theme,
		color:    color,

		Frame: base().
			Foreground(theme.Secondary),

		Reasoning: base().
			Faint(true).
			Foreground(theme.Muted),

		ToolLabel: base().
			Bold(true).
			Foreground(theme.Primary),

		ToolError: base().
			Bold(true).
			Foreground(theme.Error),

		Muted: base().
			Foreground(theme.Muted),

		Error: base().
			Foreground(theme.Error),

		Bold: base().
			Bold(true),
	}
}

// Theme returns the theme used by these styles
func (s *Styles) Theme() *Theme {
	return s.theme
}

// Color reports whether ANSI styling is enabled.
func (s *Styles) Color() bool {
	return s.color
}

// Truncate shortens a string to maxLen with ellipsis
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
