// Package repository persists features in SQLite or PostgreSQL behind the
// feature.Store interface.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/featflow/featflow/internal/common/errors"
	"github.com/featflow/featflow/internal/db/dialect"
	"github.com/featflow/featflow/internal/feature"
)

// Repository is the SQL-backed feature store. It runs unchanged on SQLite
// and PostgreSQL: placeholders go through Rebind and the few divergent
// fragments come from the dialect package.
type Repository struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

var _ feature.Store = (*Repository)(nil)

// New creates the repository on the given writer and reader pools and
// ensures the schema exists.
func New(writer, reader *sqlx.DB) (*Repository, error) {
	r := &Repository{db: writer, ro: reader}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize feature schema: %w", err)
	}
	return r, nil
}

// initSchema creates the feature tables if they don't exist. Statements run
// one at a time: the pgx driver does not accept multi-statement strings.
func (r *Repository) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS features (
			project_path TEXT NOT NULL,
			id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT DEFAULT '',
			status TEXT NOT NULL DEFAULT 'backlog',
			model TEXT DEFAULT '',
			sdk_session_id TEXT DEFAULT '',
			error_message TEXT DEFAULT '',
			worktree_path TEXT DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (project_path, id)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS feature_context (
			id %s,
			project_path TEXT NOT NULL,
			feature_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (project_path, feature_id) REFERENCES features(project_path, id) ON DELETE CASCADE
		)`, dialect.AutoIncrementPK(r.db.DriverName())),
		`CREATE INDEX IF NOT EXISTS idx_features_project_status ON features(project_path, status)`,
		`CREATE INDEX IF NOT EXISTS idx_features_project_updated ON features(project_path, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_feature_context_feature ON feature_context(project_path, feature_id, id)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Create persists a new feature.
func (r *Repository) Create(ctx context.Context, f *feature.Feature) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.Status == "" {
		f.Status = feature.StatusBacklog
	}
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO features (project_path, id, title, description, status, model,
			sdk_session_id, error_message, worktree_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), f.ProjectPath, f.ID, f.Title, f.Description, f.Status, f.Model,
		f.SDKSessionID, f.ErrorMessage, f.WorktreePath, f.CreatedAt, f.UpdatedAt)
	return err
}

// Get retrieves a feature by (projectPath, featureID).
func (r *Repository) Get(ctx context.Context, projectPath, featureID string) (*feature.Feature, error) {
	f := &feature.Feature{}
	err := r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT project_path, id, title, description, status, model,
			sdk_session_id, error_message, worktree_path, created_at, updated_at
		FROM features WHERE project_path = ? AND id = ?
	`), projectPath, featureID).Scan(
		&f.ProjectPath, &f.ID, &f.Title, &f.Description, &f.Status, &f.Model,
		&f.SDKSessionID, &f.ErrorMessage, &f.WorktreePath, &f.CreatedAt, &f.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("feature", featureID)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// List returns the project's features matching the filter, newest first.
func (r *Repository) List(ctx context.Context, projectPath string, filter feature.ListFilter) ([]*feature.Feature, error) {
	query := `
		SELECT project_path, id, title, description, status, model,
			sdk_session_id, error_message, worktree_path, created_at, updated_at
		FROM features WHERE project_path = ?`
	args := []any{projectPath}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.Query != "" {
		like := dialect.Like(r.ro.DriverName())
		query += fmt.Sprintf(` AND (title %s ? OR description %s ?)`, like, like)
		pattern := "%" + filter.Query + "%"
		args = append(args, pattern, pattern)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanFeatures(rows)
}

// Update applies the non-nil fields of upd and returns the updated feature.
func (r *Repository) Update(ctx context.Context, projectPath, featureID string, upd feature.Update) (*feature.Feature, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}

	set := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	if upd.Title != nil {
		set = append(set, "title = ?")
		args = append(args, *upd.Title)
	}
	if upd.Description != nil {
		set = append(set, "description = ?")
		args = append(args, *upd.Description)
	}
	if upd.Status != nil {
		set = append(set, "status = ?")
		args = append(args, *upd.Status)
	}
	if upd.Model != nil {
		set = append(set, "model = ?")
		args = append(args, *upd.Model)
	}
	if upd.SDKSessionID != nil {
		set = append(set, "sdk_session_id = ?")
		args = append(args, *upd.SDKSessionID)
	}
	if upd.ErrorMessage != nil {
		set = append(set, "error_message = ?")
		args = append(args, *upd.ErrorMessage)
	}
	if upd.WorktreePath != nil {
		set = append(set, "worktree_path = ?")
		args = append(args, *upd.WorktreePath)
	}
	args = append(args, projectPath, featureID)

	result, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE features SET `+strings.Join(set, ", ")+` WHERE project_path = ? AND id = ?`,
	), args...)
	if err != nil {
		return nil, err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, apperrors.NotFound("feature", featureID)
	}

	return r.Get(ctx, projectPath, featureID)
}

// AppendContext appends one transcript entry and returns its sequence number.
func (r *Repository) AppendContext(ctx context.Context, projectPath, featureID, content string) (int64, error) {
	if exists, err := r.featureExists(ctx, projectPath, featureID); err != nil {
		return 0, err
	} else if !exists {
		return 0, apperrors.NotFound("feature", featureID)
	}

	return dialect.InsertReturningID(ctx, r.db, `
		INSERT INTO feature_context (project_path, feature_id, content, created_at)
		VALUES (?, ?, ?, ?)
	`, projectPath, featureID, content, time.Now().UTC())
}

// Context returns up to limit of the most recent transcript entries,
// oldest first. limit <= 0 returns all entries.
func (r *Repository) Context(ctx context.Context, projectPath, featureID string, limit int) ([]*feature.ContextEntry, error) {
	query := `
		SELECT id, feature_id, content, created_at
		FROM feature_context
		WHERE project_path = ? AND feature_id = ?
		ORDER BY id DESC`
	args := []any{projectPath, featureID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*feature.ContextEntry
	for rows.Next() {
		e := &feature.ContextEntry{}
		if err := rows.Scan(&e.Seq, &e.FeatureID, &e.Content, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query walks newest to oldest so LIMIT keeps the tail; flip back to
	// append order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (r *Repository) featureExists(ctx context.Context, projectPath, featureID string) (bool, error) {
	var one int
	err := r.ro.QueryRowContext(ctx, r.ro.Rebind(
		`SELECT 1 FROM features WHERE project_path = ? AND id = ?`,
	), projectPath, featureID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// scanFeatures is a helper to scan feature rows.
func scanFeatures(rows *sql.Rows) ([]*feature.Feature, error) {
	var result []*feature.Feature
	for rows.Next() {
		f := &feature.Feature{}
		err := rows.Scan(
			&f.ProjectPath, &f.ID, &f.Title, &f.Description, &f.Status, &f.Model,
			&f.SDKSessionID, &f.ErrorMessage, &f.WorktreePath, &f.CreatedAt, &f.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	return result, rows.Err()
}
