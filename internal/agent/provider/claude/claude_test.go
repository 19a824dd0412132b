package claude

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featflow/featflow/internal/agent/provider"
	"github.com/featflow/featflow/internal/common/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	return log
}

func newCLI(t *testing.T) *CLI {
	t.Helper()
	c, err := New(testLogger(t))
	require.NoError(t, err)
	return c
}

// writeScript creates a fake claude binary that runs the given shell body.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claude")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestBuildArgsBaseFlags(t *testing.T) {
	c := newCLI(t)
	args := c.BuildArgs(provider.ExecutionOptions{})

	assert.Contains(t, args, "-p")
	assert.Contains(t, args, "--output-format=stream-json")
	assert.Contains(t, args, "--input-format=stream-json")
	assert.Contains(t, args, "--dangerously-skip-permissions")
	// Empty model selects the catalog default.
	assert.Contains(t, args, "--model")
	assert.Contains(t, args, "claude-sonnet-4-5")
	// Nil tool list means unrestricted: no tool flags at all.
	assert.NotContains(t, args, "--allowedTools")
	assert.NotContains(t, args, "--disallowedTools")
	assert.NotContains(t, args, "--resume")
}

func TestBuildArgsResolvesModelAliases(t *testing.T) {
	c := newCLI(t)
	cases := map[string]string{
		"sonnet":                 "claude-sonnet-4-5",
		"opus":                   "claude-opus-4-6",
		"haiku":                  "claude-haiku-4-5",
		"Opus":                   "claude-opus-4-6",
		"claude-opus-4-5":        "claude-opus-4-5",
		"claude-sonnet-4-5[1m]":  "claude-sonnet-4-5",
		"claude-opus-4-6@vertex": "claude-opus-4-6",
		"some-future-model":      "some-future-model",
	}
	for input, want := range cases {
		args := c.BuildArgs(provider.ExecutionOptions{Model: input})
		idx := indexOf(args, "--model")
		require.GreaterOrEqual(t, idx, 0, "missing --model for input %q", input)
		require.Less(t, idx+1, len(args))
		assert.Equal(t, want, args[idx+1], "input %q", input)
	}
}

func TestBuildArgsToolRestrictions(t *testing.T) {
	c := newCLI(t)

	// Empty non-nil list disables all tools, distinct from nil.
	args := c.BuildArgs(provider.ExecutionOptions{AllowedTools: []string{}})
	idx := indexOf(args, "--disallowedTools")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "*", args[idx+1])
	assert.NotContains(t, args, "--allowedTools")

	args = c.BuildArgs(provider.ExecutionOptions{AllowedTools: []string{"Read", "Edit"}})
	idx = indexOf(args, "--allowedTools")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "Read,Edit", args[idx+1])
	assert.NotContains(t, args, "--disallowedTools")
}

func TestBuildArgsResumeAndSystemPrompt(t *testing.T) {
	c := newCLI(t)
	args := c.BuildArgs(provider.ExecutionOptions{
		SessionID:    "sess-42",
		SystemPrompt: "follow the house rules",
	})

	idx := indexOf(args, "--resume")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "sess-42", args[idx+1])

	idx = indexOf(args, "--append-system-prompt")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "follow the house rules", args[idx+1])
}

func TestBuildArgsMCPConfig(t *testing.T) {
	c := newCLI(t)
	cfg := `{"mcpServers":{"featflow":{"type":"sse","url":"http://localhost:9090/sse"}}}`
	args := c.BuildArgs(provider.ExecutionOptions{MCPConfig: cfg})

	idx := indexOf(args, "--mcp-config")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, cfg, args[idx+1])

	assert.NotContains(t, c.BuildArgs(provider.ExecutionOptions{}), "--mcp-config")
}

func TestBuildArgsKeepsPromptOffArgv(t *testing.T) {
	c := newCLI(t)
	args := c.BuildArgs(provider.ExecutionOptions{Prompt: "implement the login feature"})
	for _, a := range args {
		assert.NotContains(t, a, "implement the login feature")
	}
}

func TestNormalizeSystemInitYieldsOnlySessionID(t *testing.T) {
	c := newCLI(t)
	msg, sid := c.Normalize(json.RawMessage(
		`{"type":"system","subtype":"init","session_id":"sess-1","model":"claude-sonnet-4-5"}`))
	assert.Nil(t, msg)
	assert.Equal(t, "sess-1", sid)
}

func TestNormalizeAssistantText(t *testing.T) {
	c := newCLI(t)
	msg, sid := c.Normalize(json.RawMessage(
		`{"type":"assistant","session_id":"sess-1","message":{"role":"assistant","content":[{"type":"text","text":"hello"}]}}`))
	require.NotNil(t, msg)
	assert.Equal(t, provider.MessageAssistant, msg.Type)
	assert.Equal(t, "sess-1", sid)
	require.Len(t, msg.Blocks, 1)
	assert.Equal(t, provider.BlockText, msg.Blocks[0].Type)
	assert.Equal(t, "hello", msg.Blocks[0].Text)
}

func TestNormalizeToolUseAndResult(t *testing.T) {
	c := newCLI(t)

	msg, _ := c.Normalize(json.RawMessage(
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"tool_use","id":"tu-1","name":"Bash","input":{"command":"ls"}}]}}`))
	require.NotNil(t, msg)
	require.Len(t, msg.Blocks, 1)
	assert.Equal(t, provider.BlockToolUse, msg.Blocks[0].Type)
	assert.Equal(t, "tu-1", msg.Blocks[0].ID)
	assert.Equal(t, "Bash", msg.Blocks[0].Name)
	assert.Equal(t, "ls", msg.Blocks[0].Input["command"])

	// Wire user records carry tool results; canonically still assistant.
	msg, _ = c.Normalize(json.RawMessage(
		`{"type":"user","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu-1","content":"file.txt"}]}}`))
	require.NotNil(t, msg)
	assert.Equal(t, provider.MessageAssistant, msg.Type)
	require.Len(t, msg.Blocks, 1)
	assert.Equal(t, provider.BlockToolResult, msg.Blocks[0].Type)
	assert.Equal(t, "tu-1", msg.Blocks[0].ToolUseID)
}

func TestNormalizeResult(t *testing.T) {
	c := newCLI(t)

	msg, _ := c.Normalize(json.RawMessage(
		`{"type":"result","subtype":"success","session_id":"sess-1","result":"all done"}`))
	require.NotNil(t, msg)
	assert.Equal(t, provider.MessageResult, msg.Type)
	assert.Equal(t, provider.ResultSuccess, msg.Subtype)
	assert.Equal(t, "all done", msg.Result)

	msg, _ = c.Normalize(json.RawMessage(
		`{"type":"result","subtype":"error_during_execution","is_error":true}`))
	require.NotNil(t, msg)
	assert.Equal(t, provider.ResultError, msg.Subtype)
}

func TestNormalizeIgnoresUnknownRecordTypes(t *testing.T) {
	c := newCLI(t)
	msg, sid := c.Normalize(json.RawMessage(`{"type":"stream_event","session_id":"sess-9"}`))
	assert.Nil(t, msg)
	assert.Equal(t, "sess-9", sid)
}

func TestMapErrorAuthentication(t *testing.T) {
	c := newCLI(t)
	e := c.MapError("Error: Not authenticated. Please run /login", 1)
	assert.Equal(t, provider.ErrNotAuthenticated, e.Code)
	assert.False(t, e.Recoverable)
	assert.NotEmpty(t, e.Suggestion)
}

func TestMapErrorRateLimitIsRecoverable(t *testing.T) {
	c := newCLI(t)
	e := c.MapError("API Error: rate limit exceeded, try again later", 1)
	assert.Equal(t, provider.ErrRateLimited, e.Code)
	assert.True(t, e.Recoverable)
}

func TestMapErrorRateLimitBeatsNetwork(t *testing.T) {
	c := newCLI(t)
	// Both substrings present in one message: the rate limit rule is
	// checked first and wins.
	e := c.MapError("network request failed: rate limit exceeded (429)", 1)
	assert.Equal(t, provider.ErrRateLimited, e.Code)
}

func TestMapErrorNetwork(t *testing.T) {
	c := newCLI(t)
	e := c.MapError("fetch failed: ECONNREFUSED 127.0.0.1:443", 1)
	assert.Equal(t, provider.ErrNetwork, e.Code)
	assert.True(t, e.Recoverable)
}

func TestMapErrorKilledWinsRegardlessOfOtherText(t *testing.T) {
	c := newCLI(t)

	e := c.MapError("rate limit exceeded; process killed", 1)
	assert.Equal(t, provider.ErrProcessCrashed, e.Code)

	e = c.MapError("", 137)
	assert.Equal(t, provider.ErrProcessCrashed, e.Code)

	e = c.MapError("terminated by SIGTERM", 143)
	assert.Equal(t, provider.ErrProcessCrashed, e.Code)
}

func TestMapErrorUnknownCarriesRawText(t *testing.T) {
	c := newCLI(t)
	e := c.MapError("some completely novel failure mode", 2)
	assert.Equal(t, provider.ErrUnknown, e.Code)
	assert.Contains(t, e.Message, "some completely novel failure mode")
	assert.False(t, e.Recoverable)
}

func TestMapErrorEmptyStderrReportsExitCode(t *testing.T) {
	c := newCLI(t)
	e := c.MapError("", 2)
	assert.Equal(t, provider.ErrUnknown, e.Code)
	assert.Contains(t, e.Message, "2")
}

func TestDetectInstallationEnvOverride(t *testing.T) {
	script := writeScript(t, "exit 0\n")
	t.Setenv("FEATFLOW_CLAUDE_BIN", script)

	c := newCLI(t)
	status, err := c.DetectInstallation(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Installed)
	assert.Equal(t, script, status.Path)
	assert.Equal(t, provider.InstallMethodEnvOverride, status.Method)
}

func TestDetectInstallationNotFound(t *testing.T) {
	tmp := t.TempDir()
	c := &CLI{
		log: testLogger(t),
		entry: provider.CatalogEntry{
			Binary:       "featflow-test-no-such-binary",
			EnvOverride:  "FEATFLOW_TEST_UNSET_BIN",
			SettingsFile: filepath.Join(tmp, "absent.json"),
			InstallPaths: provider.OSPaths{
				Linux:   []string{filepath.Join(tmp, "missing")},
				MacOS:   []string{filepath.Join(tmp, "missing")},
				Windows: []string{filepath.Join(tmp, "missing")},
			},
		},
	}
	status, err := c.DetectInstallation(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Installed)
	assert.Empty(t, status.Path)
}

func TestAuthenticatedProbe(t *testing.T) {
	tmp := t.TempDir()
	settings := filepath.Join(tmp, "claude.json")
	bin := writeScript(t, "exit 0\n")

	c := &CLI{
		log: testLogger(t),
		entry: provider.CatalogEntry{
			SettingsFile: settings,
			InstallPaths: provider.OSPaths{Linux: []string{bin}, MacOS: []string{bin}, Windows: []string{bin}},
		},
	}

	status, err := c.DetectInstallation(context.Background())
	require.NoError(t, err)
	require.True(t, status.Installed)
	assert.False(t, status.Authenticated)

	require.NoError(t, os.WriteFile(settings,
		[]byte(`{"oauthAccount":{"emailAddress":"dev@example.com"}}`), 0o600))
	status, err = c.DetectInstallation(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Authenticated)
}

func TestSpawnSpecDeliversPromptOnStdin(t *testing.T) {
	script := writeScript(t, "exit 0\n")
	t.Setenv("FEATFLOW_CLAUDE_BIN", script)

	c := newCLI(t)
	spec, err := c.SpawnSpec(context.Background(), provider.ExecutionOptions{
		Prompt:  "add dark mode",
		WorkDir: "/tmp",
	})
	require.NoError(t, err)
	assert.Equal(t, script, spec.Path)
	assert.Equal(t, "/tmp", spec.Dir)

	var payload struct {
		Type    string `json:"type"`
		Message struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	}
	require.NoError(t, json.Unmarshal(spec.Stdin, &payload))
	assert.Equal(t, "user", payload.Type)
	assert.Equal(t, "user", payload.Message.Role)
	require.NotEmpty(t, payload.Message.Content)
	assert.Equal(t, "add dark mode", payload.Message.Content[0].Text)
}

func TestSpawnSpecInlinesImageAttachments(t *testing.T) {
	script := writeScript(t, "exit 0\n")
	t.Setenv("FEATFLOW_CLAUDE_BIN", script)
	img := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(img, []byte("fake-png-bytes"), 0o644))

	c := newCLI(t)
	spec, err := c.SpawnSpec(context.Background(), provider.ExecutionOptions{
		Prompt:     "match this mockup",
		ImagePaths: []string{img},
	})
	require.NoError(t, err)
	assert.Contains(t, string(spec.Stdin), `"image"`)
	assert.Contains(t, string(spec.Stdin), `"image/png"`)

	_, err = c.SpawnSpec(context.Background(), provider.ExecutionOptions{
		Prompt:     "missing attachment",
		ImagePaths: []string{filepath.Join(t.TempDir(), "absent.png")},
	})
	assert.Error(t, err)
}

const roundTripScript = `cat > /dev/null
printf '{"type":"system","subtype":"init","session_id":"sess-123","model":"claude-sonnet-4-5"}\n'
printf '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"first"}]}}\n'
printf '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"second"}]}}\n'
printf '{"type":"result","subtype":"success","result":"done"}\n'
`

func TestExecuteQueryRoundTripWithSessionBackfill(t *testing.T) {
	t.Setenv("FEATFLOW_CLAUDE_BIN", writeScript(t, roundTripScript))

	c := newCLI(t)
	stream, err := c.ExecuteQuery(context.Background(), provider.ExecutionOptions{Prompt: "go"})
	require.NoError(t, err)

	var msgs []provider.Message
	for m := range stream.Messages() {
		msgs = append(msgs, m)
	}
	require.NoError(t, stream.Err())

	// Init record emits nothing; two assistant messages then one result,
	// in stream order, all carrying the init record's session id.
	require.Len(t, msgs, 3)
	assert.Equal(t, provider.MessageAssistant, msgs[0].Type)
	assert.Equal(t, "first", msgs[0].Text())
	assert.Equal(t, provider.MessageAssistant, msgs[1].Type)
	assert.Equal(t, "second", msgs[1].Text())
	assert.Equal(t, provider.MessageResult, msgs[2].Type)
	assert.Equal(t, provider.ResultSuccess, msgs[2].Subtype)
	for i, m := range msgs {
		assert.Equal(t, "sess-123", m.SessionID, "message %d", i)
	}
	assert.Equal(t, "sess-123", stream.SessionID())
}

func TestExecuteQueryClassifiesProcessFailure(t *testing.T) {
	t.Setenv("FEATFLOW_CLAUDE_BIN", writeScript(t,
		"cat > /dev/null\necho 'rate limit exceeded' >&2\nexit 1\n"))

	c := newCLI(t)
	stream, err := c.ExecuteQuery(context.Background(), provider.ExecutionOptions{Prompt: "go"})
	require.NoError(t, err)

	for range stream.Messages() {
	}
	var provErr *provider.Error
	require.ErrorAs(t, stream.Err(), &provErr)
	assert.Equal(t, provider.ErrRateLimited, provErr.Code)
	assert.True(t, provErr.Recoverable)
}

func TestExecuteQueryCancellationEndsStreamSilently(t *testing.T) {
	t.Setenv("FEATFLOW_CLAUDE_BIN", writeScript(t,
		`printf '{"type":"system","subtype":"init","session_id":"sess-9"}\n'
printf '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"working"}]}}\n'
sleep 60
`))

	ctx, cancel := context.WithCancel(context.Background())
	c := newCLI(t)
	stream, err := c.ExecuteQuery(ctx, provider.ExecutionOptions{Prompt: "go"})
	require.NoError(t, err)

	select {
	case m := <-stream.Messages():
		assert.Equal(t, provider.MessageAssistant, m.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("no message before cancellation")
	}

	start := time.Now()
	cancel()
	for range stream.Messages() {
	}
	assert.NoError(t, stream.Err(), "cancellation must not surface as a failure")
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, "sess-9", stream.SessionID())
}

func TestExecuteQueryNotInstalled(t *testing.T) {
	tmp := t.TempDir()
	c := &CLI{
		log: testLogger(t),
		entry: provider.CatalogEntry{
			Binary:       "featflow-test-no-such-binary",
			EnvOverride:  "FEATFLOW_TEST_UNSET_BIN",
			SettingsFile: filepath.Join(tmp, "absent.json"),
			InstallPaths: provider.OSPaths{
				Linux:   []string{filepath.Join(tmp, "missing")},
				MacOS:   []string{filepath.Join(tmp, "missing")},
				Windows: []string{filepath.Join(tmp, "missing")},
			},
		},
	}
	_, err := c.ExecuteQuery(context.Background(), provider.ExecutionOptions{Prompt: "go"})
	var provErr *provider.Error
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, provider.ErrNotInstalled, provErr.Code)
}

func indexOf(args []string, flag string) int {
	for i, a := range args {
		if a == flag {
			return i
		}
	}
	return -1
}

func TestPromptPayloadIsSingleLine(t *testing.T) {
	payload, err := promptPayload(provider.ExecutionOptions{Prompt: "multi\nline\nprompt"})
	require.NoError(t, err)
	body := strings.TrimSuffix(string(payload), "\n")
	assert.NotContains(t, body, "\n", "payload must be one stream-json line")
	assert.True(t, strings.HasSuffix(string(payload), "\n"))
}
