package ui

import "sort"

// ThemePreset is a named palette selectable with theme.preset.
type ThemePreset struct {
	Description string
	Config      ThemeConfig
}

// PresetThemes are the built-in palettes. Each pairs box colors with a
// chroma style that suits them.
var PresetThemes = map[string]ThemePreset{
	"classic": {
		Description: "Classic green terminal style",
		Config: ThemeConfig{
			Primary:   "10",  // bright green
			Secondary: "4",   // blue
			Error:     "9",   // bright red
			Muted:     "245", // light grey
			CodeStyle: "native",
		},
	},
	"dracula": {
		Description: "Popular dark theme with purple accents",
		Config: ThemeConfig{
			Primary:   "#bd93f9",
			Secondary: "#8be9fd",
			Error:     "#ff5555",
			Muted:     "#6272a4",
			CodeStyle: "dracula",
		},
	},
	"nord": {
		Description: "Arctic, north-bluish color palette",
		Config: ThemeConfig{
			Primary:   "#88c0d0",
			Secondary: "#81a1c1",
			Error:     "#bf616a",
			Muted:     "#4c566a",
			CodeStyle: "nord",
		},
	},
	"solarized": {
		Description: "Precision colors for machines and people",
		Config: ThemeConfig{
			Primary:   "#268bd2",
			Secondary: "#2aa198",
			Error:     "#dc322f",
			Muted:     "#586e75",
			CodeStyle: "solarized-dark",
		},
	},
	"monokai": {
		Description: "Vibrant colors inspired by Sublime Text",
		Config: ThemeConfig{
			Primary:   "#a6e22e",
			Secondary: "#66d9ef",
			Error:     "#f92672",
			Muted:     "#75715e",
			CodeStyle: "monokai",
		},
	},
	"gruvbox": {
		Description: "Retro groove color scheme (default)",
		Config: ThemeConfig{
			Primary:   "#b8bb26",
			Secondary: "#83a598",
			Error:     "#fb4934",
			Muted:     "#928374",
			CodeStyle: "gruvbox",
		},
	},
}

// PresetThemeNames returns the preset names in sorted order.
func PresetThemeNames() []string {
	names := make([]string, 0, len(PresetThemes))
	for name := range PresetThemes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// withPreset fills the empty fields of cfg from its named preset.
func withPreset(cfg ThemeConfig) (ThemeConfig, bool) {
	preset, ok := PresetThemes[cfg.Preset]
	if !ok {
		return cfg, false
	}
	base := preset.Config
	if cfg.Primary != "" {
		base.Primary = cfg.Primary
	}
	if cfg.Secondary != "" {
		base.Secondary = cfg.Secondary
	}
	if cfg.Error != "" {
		base.Error = cfg.Error
	}
	if cfg.Muted != "" {
		base.Muted = cfg.Muted
	}
	if cfg.CodeStyle != "" {
		base.CodeStyle = cfg.CodeStyle
	}
	base.Preset = cfg.Preset
	return base, true
}
