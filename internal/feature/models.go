// Package feature defines the kanban feature model and the persistence
// interface the orchestrator and gateway read and update through.
package feature

import (
	"strings"
	"time"

	apperrors "github.com/featflow/featflow/internal/common/errors"
)

// Status is the kanban column a feature currently sits in.
type Status string

const (
	// StatusBacklog is the initial column for newly created features.
	StatusBacklog Status = "backlog"
	// StatusInProgress means an agent session is working the feature.
	StatusInProgress Status = "in_progress"
	// StatusPaused means the session was interrupted and can be resumed.
	StatusPaused Status = "paused"
	// StatusCompleted means the agent finished without error.
	StatusCompleted Status = "completed"
	// StatusFailed means the last session ended with an error.
	StatusFailed Status = "failed"
	// StatusVerified means a human accepted the result; triggers the
	// worktree commit when reached from any other status.
	StatusVerified Status = "verified"
	// StatusDone is the final column after the verified commit landed.
	StatusDone Status = "done"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusBacklog, StatusInProgress, StatusPaused, StatusCompleted,
		StatusFailed, StatusVerified, StatusDone:
		return true
	}
	return false
}

// Feature is one card on the board, keyed by (ProjectPath, ID).
type Feature struct {
	ID           string    `json:"id"`
	ProjectPath  string    `json:"project_path"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Status       Status    `json:"status"`
	Model        string    `json:"model,omitempty"`
	SDKSessionID string    `json:"sdk_session_id,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	WorktreePath string    `json:"worktree_path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Update is a partial update; nil fields are left untouched.
type Update struct {
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	Status       *Status `json:"status,omitempty"`
	Model        *string `json:"model,omitempty"`
	SDKSessionID *string `json:"sdk_session_id,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
	WorktreePath *string `json:"worktree_path,omitempty"`
}

// Empty reports whether the update carries no changes.
func (u Update) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Status == nil &&
		u.Model == nil && u.SDKSessionID == nil && u.ErrorMessage == nil &&
		u.WorktreePath == nil
}

// ContextEntry is one appended line of a feature's execution transcript.
// Entries are ordered by Seq within a feature.
type ContextEntry struct {
	Seq       int64     `json:"seq"`
	FeatureID string    `json:"feature_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the fields required to persist a new feature.
func (f *Feature) Validate() error {
	if strings.TrimSpace(f.ProjectPath) == "" {
		return apperrors.ValidationError("project_path", "is required")
	}
	if strings.TrimSpace(f.Title) == "" {
		return apperrors.ValidationError("title", "is required")
	}
	if f.Status != "" && !f.Status.Valid() {
		return apperrors.ValidationError("status", "unknown status "+string(f.Status))
	}
	return nil
}

// Validate checks that a partial update only carries known status values.
func (u Update) Validate() error {
	if u.Status != nil && !u.Status.Valid() {
		return apperrors.ValidationError("status", "unknown status "+string(*u.Status))
	}
	return nil
}
