package websocket

// Client request actions
const (
	// ActionSubscribe attaches the client to one feature's session stream.
	// Payload: {"feature_id": "..."}
	ActionSubscribe = "feature.subscribe"

	// ActionUnsubscribe detaches the client from a feature's session stream.
	ActionUnsubscribe = "feature.unsubscribe"
)

// Notification actions (server -> client). Board and session lifecycle
// notifications go to every connected client; session stream output goes
// only to clients subscribed to the feature.
const (
	ActionFeatureCreated       = "feature.created"
	ActionFeatureUpdated       = "feature.updated"
	ActionFeatureStatusChanged = "feature.status_changed"
	ActionFeatureCommitted     = "feature.committed"

	ActionSessionQueued    = "session.queued"
	ActionSessionStarted   = "session.started"
	ActionSessionPaused    = "session.paused"
	ActionSessionCompleted = "session.completed"
	ActionSessionFailed    = "session.failed"

	ActionSessionStream = "session.stream"
)

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
)
