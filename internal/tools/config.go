package tools

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gobwas/glob"

	"github.com/samsaffron/cmd2ai/internal/config"
)

// Validate checks the local tool configuration for errors without
// building a registry. Every problem is reported, not just the first.
func Validate(cfg config.LocalToolsConfig) []error {
	var errs []error

	if cfg.Policy.PathArgumentNames != "" {
		if _, err := glob.Compile(cfg.Policy.PathArgumentNames); err != nil {
			errs = append(errs, fmt.Errorf("invalid path_argument_names %q: %w", cfg.Policy.PathArgumentNames, err))
		}
	}
	for _, pattern := range cfg.Policy.DenyPatterns {
		if !doublestar.ValidatePathPattern(pattern) {
			errs = append(errs, fmt.Errorf("invalid deny pattern %q", pattern))
		}
	}

	// Missing base dirs may be mounted later
	if cfg.BaseDir != "" {
		if _, err := os.Stat(cfg.BaseDir); os.IsNotExist(err) {
			slog.Warn("base_dir does not exist", "dir", cfg.BaseDir)
		}
	}

	seen := make(map[string]bool)
	for _, tc := range cfg.Tools {
		if seen[tc.Name] {
			errs = append(errs, fmt.Errorf("tool %q is defined more than once", tc.Name))
		}
		seen[tc.Name] = true

		if tc.Name == ReadFileToolName && tc.Type == "" {
			continue
		}
		if _, err := NewDynamicSpec(tc, nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
