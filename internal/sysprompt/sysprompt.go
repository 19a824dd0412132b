// Package sysprompt provides the system-injected prompt segments prepended
// to agent conversations.
//
// System content is wrapped in <featflow-system> tags so transcript
// endpoints can strip it when showing conversation history to users.
package sysprompt

import (
	"fmt"
	"regexp"
)

// Tags marking system-injected content.
const (
	TagStart = "<featflow-system>"
	TagEnd   = "</featflow-system>"
)

// systemTagRegex matches <featflow-system>...</featflow-system> content including the tags.
var systemTagRegex = regexp.MustCompile(`<featflow-system>[\s\S]*?</featflow-system>\s*`)

// StripSystemContent removes all <featflow-system> blocks from text. Used
// when serving transcript entries to the UI.
func StripSystemContent(text string) string {
	return systemTagRegex.ReplaceAllString(text, "")
}

// Wrap marks content as system-injected.
func Wrap(content string) string {
	return TagStart + content + TagEnd
}

// BoardContext tells the agent which card it is working and how to reach
// the board through the featflow MCP tools. Use FormatBoardContext to
// inject the identifiers.
const BoardContext = `FEATFLOW BOARD CONTEXT:
- You are implementing feature '%s' in project '%s'.
- The featflow MCP tools (list_features, get_feature, create_feature, update_feature_status) operate on this project's kanban board.
- Use get_feature to re-read this card if you need the full description again.
- When you discover follow-up work outside this card's scope, file it with create_feature instead of doing it now.
- Do not move this card with update_feature_status while your session runs; the daemon tracks your progress itself.`

// FormatBoardContext returns the board context with identifiers injected.
func FormatBoardContext(featureID, projectPath string) string {
	return fmt.Sprintf(BoardContext, featureID, projectPath)
}

// InjectBoardContext prepends the wrapped board context to a prompt.
func InjectBoardContext(featureID, projectPath, prompt string) string {
	return Wrap(FormatBoardContext(featureID, projectPath)) + "\n\n" + prompt
}
