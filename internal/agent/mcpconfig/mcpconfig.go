// Package mcpconfig composes the MCP server configuration handed to agent
// CLIs, so feature sessions can reach the featflow board tools.
package mcpconfig

import (
	"encoding/json"
	"fmt"
)

// ServerType selects the transport of one configured MCP server.
type ServerType string

const (
	ServerTypeStdio ServerType = "stdio"
	ServerTypeHTTP  ServerType = "http"
	ServerTypeSSE   ServerType = "sse"
)

// ServerDef describes one MCP server in the shape agent CLIs expect.
type ServerDef struct {
	Type    ServerType        `json:"type,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Config is the top-level payload of the claude CLI's --mcp-config flag.
type Config struct {
	McpServers map[string]ServerDef `json:"mcpServers"`
}

// ServerName is the key agents see the board tools under.
const ServerName = "featflow"

// ForDaemon selects the daemon's embedded MCP server over SSE.
func ForDaemon(port int) Config {
	return Config{McpServers: map[string]ServerDef{
		ServerName: {
			Type: ServerTypeSSE,
			URL:  fmt.Sprintf("http://localhost:%d/sse", port),
		},
	}}
}

// JSON renders the config inline for CLIs that accept --mcp-config as a
// JSON string.
func (c Config) JSON() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
