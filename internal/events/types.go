// Package events defines the event vocabulary published by the orchestrator
// and consumed by the WebSocket gateway.
package events

// Feature lifecycle events.
const (
	FeatureCreated       = "feature.created"
	FeatureUpdated       = "feature.updated"
	FeatureStatusChanged = "feature.status_changed"
	FeatureCommitted     = "feature.committed" // Worktree commit finished after a verified transition
)

// Session lifecycle events.
const (
	SessionQueued    = "session.queued"
	SessionStarted   = "session.started"
	SessionPaused    = "session.paused" // Interrupt completed, session is resumable
	SessionCompleted = "session.completed"
	SessionFailed    = "session.failed"
)

// SessionStream is the base subject for normalized agent output. Messages are
// published per feature as session.stream.<featureID>.
const SessionStream = "session.stream"

// BuildSessionStreamSubject creates the stream subject for one feature's session.
func BuildSessionStreamSubject(featureID string) string {
	return SessionStream + "." + featureID
}

// BuildSessionStreamWildcardSubject creates a wildcard subscription for all session streams.
func BuildSessionStreamWildcardSubject() string {
	return SessionStream + ".*"
}

// FeatureWildcardSubject matches every feature lifecycle event.
func FeatureWildcardSubject() string {
	return "feature.>"
}

// SessionWildcardSubject matches every session lifecycle and stream event.
func SessionWildcardSubject() string {
	return "session.>"
}
