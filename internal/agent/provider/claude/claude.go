// Package claude implements the provider abstraction for the Claude Code
// CLI, driving it in stream-json mode, plus a browser-integration variant
// layered on the base provider.
package claude

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/featflow/featflow/internal/agent/driver"
	"github.com/featflow/featflow/internal/agent/provider"
	"github.com/featflow/featflow/internal/common/logger"
)

// Name is the registry key of the base provider.
const Name = "claude"

var _ provider.Provider = (*CLI)(nil)

// CLI is the base Claude Code provider. It is stateless across invocations;
// catalog metadata is resolved once at construction.
type CLI struct {
	log   *logger.Logger
	entry provider.CatalogEntry
}

// New builds the base provider from the embedded catalog.
func New(log *logger.Logger) (*CLI, error) {
	if log == nil {
		log = logger.Default()
	}
	cat, err := provider.LoadCatalog()
	if err != nil {
		return nil, err
	}
	entry, err := cat.Entry(Name)
	if err != nil {
		return nil, err
	}
	return &CLI{log: log, entry: entry}, nil
}

func (c *CLI) Name() string { return Name }

// DetectInstallation probes for the claude binary in priority order: the
// local override environment variable, then the managed install paths from
// the catalog, then the general executable search path. Managed installs are
// preferred over PATH so a known-good binary beats a stale one that happens
// to be findable earlier on PATH.
func (c *CLI) DetectInstallation(ctx context.Context) (provider.InstallationStatus, error) {
	found, path, err := provider.Detect(ctx, provider.WithEnvPath(c.entry.EnvOverride))
	if err != nil {
		return provider.InstallationStatus{}, err
	}
	if found {
		return c.installedAt(path, provider.InstallMethodEnvOverride), nil
	}

	found, path, err = provider.Detect(ctx, provider.WithFileExists(c.entry.InstallPaths.Resolve()...))
	if err != nil {
		return provider.InstallationStatus{}, err
	}
	if found {
		return c.installedAt(path, provider.InstallMethodManagedPath), nil
	}

	found, path, err = provider.Detect(ctx, provider.WithCommand(c.entry.Binary))
	if err != nil {
		return provider.InstallationStatus{}, err
	}
	if found {
		return c.installedAt(path, provider.InstallMethodSystemPath), nil
	}

	return provider.InstallationStatus{Installed: false}, nil
}

func (c *CLI) installedAt(path string, method provider.InstallMethod) provider.InstallationStatus {
	return provider.InstallationStatus{
		Installed:     true,
		Path:          path,
		Method:        method,
		Authenticated: c.authenticated(),
	}
}

// claudeSettings is the subset of ~/.claude.json needed for the
// authentication probe.
type claudeSettings struct {
	OAuthAccount  map[string]any `json:"oauthAccount"`
	PrimaryAPIKey string         `json:"primaryApiKey"`
}

func (c *CLI) authenticated() bool {
	data, err := os.ReadFile(provider.ExpandHome(c.entry.SettingsFile))
	if err != nil {
		return false
	}
	var settings claudeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return false
	}
	return len(settings.OAuthAccount) > 0 || settings.PrimaryAPIKey != ""
}

// BuildArgs derives the CLI argument list from options. The prompt is not
// here: --input-format=stream-json routes it over stdin instead of argv.
func (c *CLI) BuildArgs(opts provider.ExecutionOptions) []string {
	args := []string{
		"-p",
		"--output-format=stream-json",
		"--input-format=stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	}
	args = append(args, "--model", c.entry.ResolveModel(opts.Model))
	if opts.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", opts.SystemPrompt)
	}
	if opts.SessionID != "" {
		args = append(args, "--resume", opts.SessionID)
	}
	switch {
	case opts.AllowedTools == nil:
		// Unrestricted: no tool flag at all.
	case len(opts.AllowedTools) == 0:
		args = append(args, "--disallowedTools", "*")
	default:
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	if opts.MCPConfig != "" {
		args = append(args, "--mcp-config", opts.MCPConfig)
	}
	return args
}

// SpawnSpec runs detection and assembles the full spawn specification.
func (c *CLI) SpawnSpec(ctx context.Context, opts provider.ExecutionOptions) (driver.Spec, error) {
	install, err := c.DetectInstallation(ctx)
	if err != nil {
		return driver.Spec{}, err
	}
	if !install.Installed {
		return driver.Spec{}, provider.NotInstalled(Name,
			"Install the Claude CLI: npm install -g @anthropic-ai/claude-code")
	}
	return c.spawnSpec(install.Path, opts, c.BuildArgs(opts))
}

// spawnSpec finishes spec assembly once the binary path and args are known.
// Shared with the chrome variant so its overridden args flow through.
func (c *CLI) spawnSpec(binPath string, opts provider.ExecutionOptions, args []string) (driver.Spec, error) {
	stdin, err := promptPayload(opts)
	if err != nil {
		return driver.Spec{}, err
	}
	env := os.Environ()
	env = append(env, opts.Env...)
	return driver.Spec{
		Path:  binPath,
		Args:  args,
		Dir:   opts.WorkDir,
		Env:   env,
		Stdin: stdin,
	}, nil
}

func (c *CLI) Normalize(raw json.RawMessage) (*provider.Message, string) {
	return normalizeRecord(raw)
}

func (c *CLI) MapError(stderr string, exitCode int) *provider.Error {
	return classify(stderr, exitCode, baseRules)
}

func (c *CLI) ExecuteQuery(ctx context.Context, opts provider.ExecutionOptions) (*provider.MessageStream, error) {
	return provider.Run(ctx, c, opts, c.log)
}
