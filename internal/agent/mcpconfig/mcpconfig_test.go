package mcpconfig

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForDaemonJSON(t *testing.T) {
	out, err := ForDaemon(9090).JSON()
	require.NoError(t, err)

	var decoded Config
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))

	def, ok := decoded.McpServers[ServerName]
	require.True(t, ok, "config must register the %q server", ServerName)
	assert.Equal(t, ServerTypeSSE, def.Type)
	assert.Equal(t, "http://localhost:9090/sse", def.URL)
}

func TestJSONOmitsEmptyFields(t *testing.T) {
	out, err := ForDaemon(8080).JSON()
	require.NoError(t, err)
	assert.NotContains(t, out, "command")
	assert.NotContains(t, out, "headers")
	assert.Contains(t, out, `"mcpServers"`)
}
