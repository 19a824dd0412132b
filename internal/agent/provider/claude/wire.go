package claude

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/featflow/featflow/internal/agent/provider"
)

// wireRecord is the shape of one stream-json line from the claude CLI.
// Unknown fields are ignored so protocol additions do not break parsing.
type wireRecord struct {
	Type      string       `json:"type"`
	Subtype   string       `json:"subtype"`
	SessionID string       `json:"session_id"`
	Message   *wireMessage `json:"message"`
	Result    string       `json:"result"`
	IsError   bool         `json:"is_error"`
	Error     string       `json:"error"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content []wireBlock `json:"content"`
}

type wireBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text"`
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
	ToolUseID string         `json:"tool_use_id"`
	Content   any            `json:"content"`
}

// normalizeRecord maps one wire record onto the canonical protocol. System
// records (session init and other handshakes) return a nil message; their
// session id is still reported so the runner can capture it.
func normalizeRecord(raw json.RawMessage) (*provider.Message, string) {
	var rec wireRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, ""
	}

	switch rec.Type {
	case "system":
		return nil, rec.SessionID

	case "assistant", "user":
		// User records in the wire stream carry tool results fed back
		// to the model; both map onto the canonical assistant variant.
		if rec.Message == nil {
			return nil, rec.SessionID
		}
		blocks := make([]provider.ContentBlock, 0, len(rec.Message.Content))
		for _, b := range rec.Message.Content {
			switch b.Type {
			case "text":
				if b.Text == "" {
					continue
				}
				blocks = append(blocks, provider.ContentBlock{Type: provider.BlockText, Text: b.Text})
			case "tool_use":
				blocks = append(blocks, provider.ContentBlock{
					Type:  provider.BlockToolUse,
					ID:    b.ID,
					Name:  b.Name,
					Input: b.Input,
				})
			case "tool_result":
				blocks = append(blocks, provider.ContentBlock{
					Type:      provider.BlockToolResult,
					ToolUseID: b.ToolUseID,
					Content:   b.Content,
				})
			}
		}
		if len(blocks) == 0 {
			return nil, rec.SessionID
		}
		return &provider.Message{
			Type:      provider.MessageAssistant,
			SessionID: rec.SessionID,
			Blocks:    blocks,
		}, rec.SessionID

	case "result":
		subtype := provider.ResultSuccess
		if rec.IsError || strings.HasPrefix(rec.Subtype, "error") {
			subtype = provider.ResultError
		}
		return &provider.Message{
			Type:      provider.MessageResult,
			SessionID: rec.SessionID,
			Subtype:   subtype,
			Result:    rec.Result,
		}, rec.SessionID

	case "error":
		text := rec.Error
		if text == "" {
			text = rec.Result
		}
		return &provider.Message{
			Type:      provider.MessageError,
			SessionID: rec.SessionID,
			ErrorText: text,
		}, rec.SessionID

	default:
		return nil, rec.SessionID
	}
}

// promptPayload builds the stdin line that delivers the prompt: a single
// stream-json user message, with image attachments inlined as base64 blocks.
// Keeping the prompt off argv avoids argument length limits and keeps its
// content out of process listings.
func promptPayload(opts provider.ExecutionOptions) ([]byte, error) {
	content := []map[string]any{
		{"type": "text", "text": opts.Prompt},
	}
	for _, path := range opts.ImagePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read image attachment %s: %w", path, err)
		}
		content = append(content, map[string]any{
			"type": "image",
			"source": map[string]any{
				"type":       "base64",
				"media_type": mediaTypeFor(path),
				"data":       base64.StdEncoding.EncodeToString(data),
			},
		})
	}

	line, err := json.Marshal(map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": content,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode prompt payload: %w", err)
	}
	return append(line, '\n'), nil
}

func mediaTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
