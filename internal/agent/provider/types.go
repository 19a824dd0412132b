// Package provider defines the polymorphic driver abstraction over agent CLI
// backends: installation detection, argument building, wire-record
// normalization into the canonical message protocol, error classification,
// and query execution. One implementation exists per backend variant.
package provider

// ExecutionOptions is the immutable per-invocation input to a query.
// Cancellation travels on the context passed to ExecuteQuery, not here.
type ExecutionOptions struct {
	// Prompt is the user message delivered over the child's stdin.
	Prompt string

	// ImagePaths are optional local image files attached to the prompt.
	ImagePaths []string

	// Model is an alias, canonical id, or id with a routing suffix. Empty
	// selects the backend default.
	Model string

	SystemPrompt string

	// AllowedTools restricts the backend's tool surface. Nil means
	// unrestricted; an empty non-nil slice disables all tools.
	AllowedTools []string

	// SessionID resumes a prior backend session when non-empty.
	SessionID string

	// MCPConfig is an inline JSON MCP server configuration passed to the
	// backend, typically pointing at the daemon's embedded server.
	MCPConfig string

	// WorkDir is the directory the agent process runs in, normally the
	// feature's isolated worktree.
	WorkDir string

	// Env entries are appended to the inherited environment.
	Env []string
}

// MessageType tags the canonical message variants.
type MessageType string

const (
	MessageAssistant MessageType = "assistant"
	MessageResult    MessageType = "result"
	MessageError     MessageType = "error"
)

// BlockType tags assistant content blocks.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one ordered element of an assistant message.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// BlockText
	Text string `json:"text,omitempty"`

	// BlockToolUse
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// BlockToolResult
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"`
}

// ResultSubtype distinguishes terminal result messages.
type ResultSubtype string

const (
	ResultSuccess ResultSubtype = "success"
	ResultError   ResultSubtype = "error"
)

// Message is the canonical protocol record every backend normalizes into.
// SessionID is filled on every message once any record has revealed it.
type Message struct {
	Type      MessageType   `json:"type"`
	SessionID string        `json:"session_id,omitempty"`
	Blocks    []ContentBlock `json:"blocks,omitempty"`

	// MessageResult
	Subtype ResultSubtype `json:"subtype,omitempty"`
	Result  string        `json:"result,omitempty"`

	// MessageError
	ErrorText string `json:"error,omitempty"`
}

// Text concatenates the text blocks of an assistant message. Result messages
// return their result payload.
func (m Message) Text() string {
	if m.Type == MessageResult {
		return m.Result
	}
	var out string
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// InstallMethod records how an installation was located.
type InstallMethod string

const (
	InstallMethodEnvOverride InstallMethod = "env_override"
	InstallMethodManagedPath InstallMethod = "managed_path"
	InstallMethodSystemPath  InstallMethod = "system_path"
)

// InstallationStatus is the result of probing for a backend CLI. Derived
// fresh on each detection, never persisted.
type InstallationStatus struct {
	Installed     bool          `json:"installed"`
	Path          string        `json:"path,omitempty"`
	Method        InstallMethod `json:"method,omitempty"`
	Authenticated bool          `json:"authenticated"`
}
