package claude

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featflow/featflow/internal/agent/provider"
)

// chromeFixture wires a chrome variant against a temp binary and a
// controllable manifest location.
func chromeFixture(t *testing.T, withManifest bool) *Chrome {
	t.Helper()
	tmp := t.TempDir()
	bin := writeScript(t, "exit 0\n")
	manifest := filepath.Join(tmp, "com.anthropic.claude.chrome.json")
	if withManifest {
		require.NoError(t, os.WriteFile(manifest,
			[]byte(`{"name":"com.anthropic.claude.chrome"}`), 0o644))
	}
	base := &CLI{
		log: testLogger(t),
		entry: provider.CatalogEntry{
			Binary:       "featflow-test-no-such-binary",
			EnvOverride:  "FEATFLOW_TEST_UNSET_BIN",
			SettingsFile: filepath.Join(tmp, "claude.json"),
			InstallPaths: provider.OSPaths{
				Linux:   []string{bin},
				MacOS:   []string{bin},
				Windows: []string{bin},
			},
		},
	}
	return &Chrome{
		CLI: base,
		manifests: provider.OSPaths{
			Linux:   []string{manifest},
			MacOS:   []string{manifest},
			Windows: []string{manifest},
		},
	}
}

func TestChromeBuildArgsAppendsChromeFlag(t *testing.T) {
	c := chromeFixture(t, true)
	args := c.BuildArgs(provider.ExecutionOptions{})
	assert.Equal(t, "--chrome", args[len(args)-1])
	// Base flags still present underneath.
	assert.Contains(t, args, "--output-format=stream-json")
}

func TestChromeDetectRequiresManifest(t *testing.T) {
	c := chromeFixture(t, false)
	status, err := c.DetectInstallation(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Installed)

	c = chromeFixture(t, true)
	status, err = c.DetectInstallation(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Installed)
	assert.NotEmpty(t, status.Path)
}

func TestChromeSpawnSpecDistinguishesMissingExtension(t *testing.T) {
	c := chromeFixture(t, false)
	_, err := c.SpawnSpec(context.Background(), provider.ExecutionOptions{Prompt: "go"})
	var provErr *provider.Error
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, provider.ErrIntegrationNotConnected, provErr.Code)

	c = chromeFixture(t, true)
	spec, err := c.SpawnSpec(context.Background(), provider.ExecutionOptions{Prompt: "go"})
	require.NoError(t, err)
	assert.Contains(t, spec.Args, "--chrome")
}

func TestChromeMapErrorPrefersIntegrationRules(t *testing.T) {
	c := chromeFixture(t, true)

	// Matches both the chrome integration rule and the base network rule;
	// the prepended chrome rule wins.
	text := "network error: native host disconnected"
	e := c.MapError(text, 1)
	assert.Equal(t, provider.ErrIntegrationNotConnected, e.Code)

	// The base provider classifies the same text as a network failure.
	e = c.CLI.MapError(text, 1)
	assert.Equal(t, provider.ErrNetwork, e.Code)

	e = c.MapError("native messaging host not found", 1)
	assert.Equal(t, provider.ErrIntegrationNotConnected, e.Code)
}

func TestChromeMapErrorStillHandlesCrashFirst(t *testing.T) {
	c := chromeFixture(t, true)
	e := c.MapError("chrome extension gone; process killed", 1)
	assert.Equal(t, provider.ErrProcessCrashed, e.Code)
}
