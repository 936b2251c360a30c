package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gobwas/glob"

	"github.com/samsaffron/cmd2ai/internal/config"
)

// DefaultPathArgumentNames marks the usual path-like argument names.
const DefaultPathArgumentNames = "{path,*_path,file,*_file,dir,*_dir,directory}"

const maxPathLen = 4096

// SecurityPolicy confines path arguments to a canonical base directory.
type SecurityPolicy struct {
	BaseDir            string // canonical, symlinks resolved
	AllowAbsolutePaths bool
	DenyPatterns       []string

	pathNames glob.Glob
}

// NewSecurityPolicy canonicalizes the base directory and compiles the
// policy patterns. An empty base directory means the home directory.
func NewSecurityPolicy(cfg config.LocalToolsConfig) (*SecurityPolicy, error) {
	base := cfg.BaseDir
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		base = home
	}
	root, err := canonicalRoot(base)
	if err != nil {
		return nil, err
	}

	pattern := cfg.Policy.PathArgumentNames
	if pattern == "" {
		pattern = DefaultPathArgumentNames
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid path_argument_names pattern %q: %w", pattern, err)
	}

	for _, p := range cfg.Policy.DenyPatterns {
		if !doublestar.ValidatePathPattern(p) {
			return nil, fmt.Errorf("invalid deny pattern %q", p)
		}
	}

	return &SecurityPolicy{
		BaseDir:            root,
		AllowAbsolutePaths: cfg.Policy.AllowAbsolutePaths,
		DenyPatterns:       cfg.Policy.DenyPatterns,
		pathNames:          g,
	}, nil
}

// canonicalRoot returns the absolute, symlink-free form of an existing
// directory.
func canonicalRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve base dir: %w", err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve base dir %s: %w", dir, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("stat base dir %s: %w", dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("base dir %s is not a directory", dir)
	}
	return root, nil
}

// MatchesPathName reports whether an argument name is path-like.
func (p *SecurityPolicy) MatchesPathName(name string) bool {
	return p.pathNames != nil && p.pathNames.Match(name)
}

// Resolve turns a path argument into a canonical path. Relative values
// are joined to the base directory. Any result outside the base directory
// is rejected unless allowAbsolute is set and the value was absolute.
func (p *SecurityPolicy) Resolve(value string, allowAbsolute bool) (string, error) {
	if value == "" || len(value) >= maxPathLen {
		return "", NewToolErrorf(ErrInvalidParams, "invalid path: path must be non-empty and under %d characters", maxPathLen)
	}
	if strings.ContainsRune(value, 0) {
		return "", NewToolError(ErrInvalidParams, "invalid path: contains a NUL byte")
	}
	if hasDotDot(value) {
		return "", NewToolErrorf(ErrPathNotInWorkspace, "path traversal detected: '%s' escapes base directory", value)
	}

	absolute := filepath.IsAbs(value)
	candidate := filepath.Clean(value)
	if !absolute {
		candidate = filepath.Join(p.BaseDir, value)
	}

	resolved, err := resolveExisting(candidate)
	if err != nil {
		return "", NewToolErrorf(ErrInvalidParams, "failed to resolve path '%s': %v", value, err)
	}

	if !p.contains(resolved) {
		if absolute && allowAbsolute {
			return resolved, nil
		}
		return "", NewToolErrorf(ErrPathNotInWorkspace, "path traversal detected: '%s' escapes base directory", value)
	}

	if err := p.checkDenied(value, resolved); err != nil {
		return "", err
	}
	return resolved, nil
}

func (p *SecurityPolicy) contains(path string) bool {
	if p.BaseDir == string(filepath.Separator) {
		return filepath.IsAbs(path)
	}
	return path == p.BaseDir || strings.HasPrefix(path, p.BaseDir+string(filepath.Separator))
}

// checkDenied matches the base-relative form of a resolved path against
// the deny patterns.
func (p *SecurityPolicy) checkDenied(value, resolved string) error {
	if len(p.DenyPatterns) == 0 {
		return nil
	}
	rel, err := filepath.Rel(p.BaseDir, resolved)
	if err != nil {
		return NewToolErrorf(ErrInvalidParams, "failed to resolve path '%s': %v", value, err)
	}
	for _, pattern := range p.DenyPatterns {
		if ok, _ := doublestar.PathMatch(pattern, rel); ok {
			return NewToolErrorf(ErrPathDenied, "access to '%s' is denied by policy", value)
		}
	}
	return nil
}

// hasDotDot reports whether any element of the path is "..".
func hasDotDot(value string) bool {
	parts := strings.FieldsFunc(value, func(r rune) bool { return r == '/' || r == '\\' })
	for _, part := range parts {
		if part == ".." {
			return true
		}
	}
	return false
}

// resolveExisting evaluates symlinks on the deepest existing ancestor of
// path and appends the components that do not exist yet.
func resolveExisting(path string) (string, error) {
	var missing []string
	cur := path
	for {
		target, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				target = filepath.Join(target, missing[i])
			}
			return target, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		missing = append(missing, filepath.Base(cur))
		cur = parent
	}
}
