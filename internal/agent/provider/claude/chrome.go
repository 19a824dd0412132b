package claude

import (
	"context"
	"slices"

	"github.com/featflow/featflow/internal/agent/driver"
	"github.com/featflow/featflow/internal/agent/provider"
	"github.com/featflow/featflow/internal/common/logger"
)

// ChromeName is the registry key of the browser-integration variant.
const ChromeName = "claude-chrome"

var _ provider.Provider = (*Chrome)(nil)

// Chrome drives the claude CLI in browser-integration mode. It layers on the
// base provider: same binary and wire protocol, plus the --chrome flag, a
// native-messaging manifest probe, and extension-connectivity error rules.
type Chrome struct {
	*CLI
	manifests provider.OSPaths
}

// NewChrome builds the chrome variant from the embedded catalog.
func NewChrome(log *logger.Logger) (*Chrome, error) {
	base, err := New(log)
	if err != nil {
		return nil, err
	}
	cat, err := provider.LoadCatalog()
	if err != nil {
		return nil, err
	}
	entry, err := cat.Entry(ChromeName)
	if err != nil {
		return nil, err
	}
	return &Chrome{CLI: base, manifests: entry.ManifestPaths}, nil
}

func (c *Chrome) Name() string { return ChromeName }

// BuildArgs extends the base argument list with the chrome mode flag.
func (c *Chrome) BuildArgs(opts provider.ExecutionOptions) []string {
	return append(c.CLI.BuildArgs(opts), "--chrome")
}

// DetectInstallation requires both the CLI and the browser extension's
// native-messaging manifest; a missing manifest means the variant is not
// usable even though the binary exists.
func (c *Chrome) DetectInstallation(ctx context.Context) (provider.InstallationStatus, error) {
	status, err := c.CLI.DetectInstallation(ctx)
	if err != nil || !status.Installed {
		return status, err
	}
	connected, _, err := provider.Detect(ctx, provider.WithFileExists(c.manifests.Resolve()...))
	if err != nil {
		return provider.InstallationStatus{}, err
	}
	if !connected {
		status.Installed = false
		status.Path = ""
		status.Method = ""
	}
	return status, nil
}

// SpawnSpec distinguishes a missing CLI from a missing extension so the
// caller sees the right error code before anything is spawned.
func (c *Chrome) SpawnSpec(ctx context.Context, opts provider.ExecutionOptions) (driver.Spec, error) {
	install, err := c.CLI.DetectInstallation(ctx)
	if err != nil {
		return driver.Spec{}, err
	}
	if !install.Installed {
		return driver.Spec{}, provider.NotInstalled(Name,
			"Install the Claude CLI: npm install -g @anthropic-ai/claude-code")
	}

	connected, _, err := provider.Detect(ctx, provider.WithFileExists(c.manifests.Resolve()...))
	if err != nil {
		return driver.Spec{}, err
	}
	if !connected {
		return driver.Spec{}, &provider.Error{
			Code:        provider.ErrIntegrationNotConnected,
			Message:     "Claude browser extension is not connected",
			Recoverable: false,
			Suggestion:  "Install the Claude extension in Chrome and pair it with `claude --chrome`",
		}
	}

	return c.spawnSpec(install.Path, opts, c.BuildArgs(opts))
}

// chromeRules are checked before the base rules so extension connectivity
// failures are not misread as generic network errors.
var chromeRules = []errorRule{
	{
		code:        provider.ErrIntegrationNotConnected,
		substrings:  []string{"chrome extension", "native messaging", "native host", "browser is not connected", "no active tab"},
		recoverable: false,
		suggestion:  "Open Chrome with the Claude extension enabled, then retry",
	},
}

func (c *Chrome) MapError(stderr string, exitCode int) *provider.Error {
	return classify(stderr, exitCode, slices.Concat(chromeRules, baseRules))
}

func (c *Chrome) ExecuteQuery(ctx context.Context, opts provider.ExecutionOptions) (*provider.MessageStream, error) {
	return provider.Run(ctx, c, opts, c.log)
}
