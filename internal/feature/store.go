package feature

import "context"

// ListFilter narrows a List call. Zero values mean no filtering.
type ListFilter struct {
	// Status keeps only features in the given column.
	Status Status
	// Query keeps features whose title or description contains the text
	// (case-insensitive).
	Query string
}

// Store is the system of record for features. The orchestrator never caches
// what it reads here beyond a single in-flight operation.
type Store interface {
	// Create persists a new feature. An empty ID is assigned, an empty
	// status defaults to backlog.
	Create(ctx context.Context, f *Feature) error

	// Get returns the feature or a not-found AppError.
	Get(ctx context.Context, projectPath, featureID string) (*Feature, error)

	// List returns the project's features matching the filter, newest first.
	List(ctx context.Context, projectPath string, filter ListFilter) ([]*Feature, error)

	// Update applies the non-nil fields of upd and returns the updated
	// feature, or a not-found AppError.
	Update(ctx context.Context, projectPath, featureID string, upd Update) (*Feature, error)

	// AppendContext appends one transcript entry to the feature's execution
	// context and returns its assigned sequence number.
	AppendContext(ctx context.Context, projectPath, featureID, content string) (int64, error)

	// Context returns up to limit transcript entries in append order,
	// oldest first. limit <= 0 returns all entries.
	Context(ctx context.Context, projectPath, featureID string, limit int) ([]*ContextEntry, error)
}
