package provider

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// DetectOption is a detection strategy. Returns (found, matchedPath, err).
type DetectOption func(ctx context.Context) (bool, string, error)

// WithFileExists checks the given paths in order and returns the first that
// exists. Paths support ~ expansion and shell-style globs, so version-manager
// directories (nvm, fnm) can be probed without knowing the installed version;
// glob matches are tried newest-first by lexical order.
func WithFileExists(paths ...string) DetectOption {
	return func(ctx context.Context) (bool, string, error) {
		for _, p := range paths {
			expanded := ExpandHome(p)
			if expanded == "" {
				continue
			}
			if strings.ContainsAny(expanded, "*?[") {
				matches, err := filepath.Glob(expanded)
				if err != nil || len(matches) == 0 {
					continue
				}
				sort.Sort(sort.Reverse(sort.StringSlice(matches)))
				for _, m := range matches {
					if _, err := os.Stat(m); err == nil {
						return true, m, nil
					}
				}
				continue
			}
			if _, err := os.Stat(expanded); err == nil {
				return true, expanded, nil
			}
		}
		return false, "", nil
	}
}

// WithEnvPath checks an environment variable whose value names an executable
// path. Set but pointing at a missing file counts as not found.
func WithEnvPath(name string) DetectOption {
	return func(ctx context.Context) (bool, string, error) {
		val := os.Getenv(name)
		if val == "" {
			return false, "", nil
		}
		expanded := ExpandHome(val)
		if _, err := os.Stat(expanded); err != nil {
			return false, "", nil
		}
		return true, expanded, nil
	}
}

// WithCommand checks if a command is reachable on PATH (exec.LookPath).
func WithCommand(name string) DetectOption {
	return func(ctx context.Context) (bool, string, error) {
		path, err := exec.LookPath(name)
		if err != nil {
			return false, "", nil
		}
		return true, path, nil
	}
}

// Detect runs strategies in order and returns the first match.
func Detect(ctx context.Context, opts ...DetectOption) (bool, string, error) {
	for _, opt := range opts {
		found, matched, err := opt(ctx)
		if err != nil {
			return false, "", err
		}
		if found {
			return true, matched, nil
		}
	}
	return false, "", nil
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Clean(filepath.FromSlash(path))
}

// OSPaths holds per-OS path lists. Use Resolve() to get the paths for the
// current OS.
type OSPaths struct {
	Linux   []string `yaml:"linux"`
	MacOS   []string `yaml:"macos"`
	Windows []string `yaml:"windows"`
}

// Resolve returns the raw paths for the current operating system.
func (p OSPaths) Resolve() []string {
	switch runtime.GOOS {
	case "darwin":
		return p.MacOS
	case "windows":
		return p.Windows
	default:
		return p.Linux
	}
}

// Expanded returns the paths for the current OS with ~ expanded.
func (p OSPaths) Expanded() []string {
	paths := p.Resolve()
	result := make([]string, 0, len(paths))
	for _, path := range paths {
		if expanded := ExpandHome(path); expanded != "" {
			result = append(result, expanded)
		}
	}
	return result
}
