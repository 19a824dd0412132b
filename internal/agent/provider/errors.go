package provider

import "fmt"

// ErrorCode identifies the class of a provider failure. Codes are stable
// strings so they can travel over the API and the event bus.
type ErrorCode string

const (
	ErrNotInstalled            ErrorCode = "not_installed"
	ErrNotAuthenticated        ErrorCode = "not_authenticated"
	ErrIntegrationNotConnected ErrorCode = "integration_not_connected"
	ErrRateLimited             ErrorCode = "rate_limited"
	ErrNetwork                 ErrorCode = "network_error"
	ErrProcessCrashed          ErrorCode = "process_crashed"
	ErrUnknown                 ErrorCode = "unknown"
)

// Error is the classification of a provider failure built at the provider
// boundary from raw subprocess output. Raw internals stay out of the
// orchestrator; it sees only the code, a human-readable message, whether a
// retry can help, and an optional remediation hint.
type Error struct {
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
	Suggestion  string    `json:"suggestion,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NotInstalled builds the error for a backend whose CLI could not be found.
func NotInstalled(name, suggestion string) *Error {
	return &Error{
		Code:        ErrNotInstalled,
		Message:     fmt.Sprintf("%s CLI is not installed", name),
		Recoverable: false,
		Suggestion:  suggestion,
	}
}
