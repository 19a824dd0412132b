package v1

import "time"

// FeatureStatus represents the kanban column a feature sits in
type FeatureStatus string

const (
	FeatureStatusBacklog    FeatureStatus = "backlog"
	FeatureStatusInProgress FeatureStatus = "in_progress"
	FeatureStatusPaused     FeatureStatus = "paused"
	FeatureStatusCompleted  FeatureStatus = "completed"
	FeatureStatusFailed     FeatureStatus = "failed"
	FeatureStatusVerified   FeatureStatus = "verified"
	FeatureStatusDone       FeatureStatus = "done"
)

// Feature represents one card on the board
type Feature struct {
	ID           string        `json:"id"`
	ProjectPath  string        `json:"project_path"`
	Title        string        `json:"title"`
	Description  string        `json:"description,omitempty"`
	Status       FeatureStatus `json:"status"`
	Model        string        `json:"model,omitempty"`
	SDKSessionID string        `json:"sdk_session_id,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	WorktreePath string        `json:"worktree_path,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// CreateFeatureRequest for creating a new feature
type CreateFeatureRequest struct {
	ProjectPath string `json:"project_path" binding:"required"`
	Title       string `json:"title" binding:"required,max=500"`
	Description string `json:"description,omitempty"`
	Model       string `json:"model,omitempty"`
}

// UpdateFeatureRequest for updating an existing feature. Nil fields are
// left untouched; a status change goes through the orchestrator's guarded
// transition path.
type UpdateFeatureRequest struct {
	Title       *string        `json:"title,omitempty" binding:"omitempty,max=500"`
	Description *string        `json:"description,omitempty"`
	Model       *string        `json:"model,omitempty"`
	Status      *FeatureStatus `json:"status,omitempty"`
}

// FeatureListResponse for feature listing
type FeatureListResponse struct {
	Features []Feature `json:"features"`
	Total    int       `json:"total"`
}

// ContextEntry is one line of a feature's execution transcript
type ContextEntry struct {
	Seq       int64     `json:"seq"`
	FeatureID string    `json:"feature_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ContextResponse for transcript retrieval
type ContextResponse struct {
	Entries []ContextEntry `json:"entries"`
	Total   int            `json:"total"`
}
