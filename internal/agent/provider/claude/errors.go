package claude

import (
	"fmt"
	"strings"

	"github.com/featflow/featflow/internal/agent/provider"
)

// errorMessageLimit caps the stderr text carried on a classified error.
const errorMessageLimit = 2000

type errorRule struct {
	code        provider.ErrorCode
	substrings  []string
	recoverable bool
	suggestion  string
}

// baseRules is the ordered classification table for claude CLI stderr. The
// order is the contract: specific causes (auth, integration, rate limits)
// are matched before generic network text that can co-occur in the same
// message. Signal-killed is handled ahead of the scan in classify.
var baseRules = []errorRule{
	{
		code:        provider.ErrNotAuthenticated,
		substrings:  []string{"not authenticated", "authentication failed", "invalid api key", "api key not found", "please run /login", "oauth token has expired"},
		recoverable: false,
		suggestion:  "Run `claude /login` to authenticate the Claude CLI",
	},
	{
		code:        provider.ErrIntegrationNotConnected,
		substrings:  []string{"integration not connected", "extension not connected"},
		recoverable: false,
		suggestion:  "Connect the integration, then retry",
	},
	{
		code:        provider.ErrRateLimited,
		substrings:  []string{"rate limit", "too many requests", "429", "overloaded", "usage limit reached"},
		recoverable: true,
		suggestion:  "Wait for the limit to reset, then retry",
	},
	{
		code:        provider.ErrNetwork,
		substrings:  []string{"network", "connection refused", "econnrefused", "etimedout", "timed out", "dns", "socket hang up", "fetch failed"},
		recoverable: true,
		suggestion:  "Check your network connection and retry",
	},
}

// classify maps stderr text and an exit code onto a provider error using a
// first-match scan over rules. Exit code 137 or a killed/sigterm mention
// means the process was torn down externally and wins over any other text in
// the same message.
func classify(stderr string, exitCode int, rules []errorRule) *provider.Error {
	lower := strings.ToLower(stderr)

	if exitCode == 137 || strings.Contains(lower, "killed") || strings.Contains(lower, "sigterm") || strings.Contains(lower, "sigkill") {
		return &provider.Error{
			Code:        provider.ErrProcessCrashed,
			Message:     errMessage(stderr, exitCode),
			Recoverable: true,
			Suggestion:  "The agent process was terminated externally; start the feature again",
		}
	}

	for _, rule := range rules {
		for _, sub := range rule.substrings {
			if strings.Contains(lower, sub) {
				return &provider.Error{
					Code:        rule.code,
					Message:     errMessage(stderr, exitCode),
					Recoverable: rule.recoverable,
					Suggestion:  rule.suggestion,
				}
			}
		}
	}

	return &provider.Error{
		Code:        provider.ErrUnknown,
		Message:     errMessage(stderr, exitCode),
		Recoverable: false,
	}
}

func errMessage(stderr string, exitCode int) string {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		return fmt.Sprintf("agent process exited with code %d", exitCode)
	}
	if len(msg) > errorMessageLimit {
		msg = msg[len(msg)-errorMessageLimit:]
	}
	return msg
}
