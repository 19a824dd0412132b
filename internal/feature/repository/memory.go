package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/featflow/featflow/internal/common/errors"
	"github.com/featflow/featflow/internal/feature"
)

// Memory is an in-memory feature store used by tests and by deployments
// that don't want a database file.
type Memory struct {
	mu       sync.RWMutex
	features map[memoryKey]feature.Feature
	context  map[memoryKey][]feature.ContextEntry
	nextSeq  map[memoryKey]int64
}

type memoryKey struct {
	project string
	id      string
}

var _ feature.Store = (*Memory)(nil)

// NewMemory creates an empty in-memory feature store.
func NewMemory() *Memory {
	return &Memory{
		features: make(map[memoryKey]feature.Feature),
		context:  make(map[memoryKey][]feature.ContextEntry),
		nextSeq:  make(map[memoryKey]int64),
	}
}

// Create persists a new feature.
func (m *Memory) Create(ctx context.Context, f *feature.Feature) error {
	if err := f.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.Status == "" {
		f.Status = feature.StatusBacklog
	}
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	m.features[memoryKey{f.ProjectPath, f.ID}] = *f
	return nil
}

// Get retrieves a feature by (projectPath, featureID).
func (m *Memory) Get(ctx context.Context, projectPath, featureID string) (*feature.Feature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.features[memoryKey{projectPath, featureID}]
	if !ok {
		return nil, apperrors.NotFound("feature", featureID)
	}
	out := f
	return &out, nil
}

// List returns the project's features matching the filter, newest first.
func (m *Memory) List(ctx context.Context, projectPath string, filter feature.ListFilter) ([]*feature.Feature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := strings.ToLower(filter.Query)
	var result []*feature.Feature
	for k, f := range m.features {
		if k.project != projectPath {
			continue
		}
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(f.Title), query) &&
			!strings.Contains(strings.ToLower(f.Description), query) {
			continue
		}
		out := f
		result = append(result, &out)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Update applies the non-nil fields of upd and returns the updated feature.
func (m *Memory) Update(ctx context.Context, projectPath, featureID string, upd feature.Update) (*feature.Feature, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := memoryKey{projectPath, featureID}
	f, ok := m.features[k]
	if !ok {
		return nil, apperrors.NotFound("feature", featureID)
	}

	if upd.Title != nil {
		f.Title = *upd.Title
	}
	if upd.Description != nil {
		f.Description = *upd.Description
	}
	if upd.Status != nil {
		f.Status = *upd.Status
	}
	if upd.Model != nil {
		f.Model = *upd.Model
	}
	if upd.SDKSessionID != nil {
		f.SDKSessionID = *upd.SDKSessionID
	}
	if upd.ErrorMessage != nil {
		f.ErrorMessage = *upd.ErrorMessage
	}
	if upd.WorktreePath != nil {
		f.WorktreePath = *upd.WorktreePath
	}
	f.UpdatedAt = time.Now().UTC()

	m.features[k] = f
	out := f
	return &out, nil
}

// AppendContext appends one transcript entry and returns its sequence number.
func (m *Memory) AppendContext(ctx context.Context, projectPath, featureID, content string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := memoryKey{projectPath, featureID}
	if _, ok := m.features[k]; !ok {
		return 0, apperrors.NotFound("feature", featureID)
	}

	m.nextSeq[k]++
	seq := m.nextSeq[k]
	m.context[k] = append(m.context[k], feature.ContextEntry{
		Seq:       seq,
		FeatureID: featureID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	return seq, nil
}

// Context returns up to limit of the most recent transcript entries,
// oldest first. limit <= 0 returns all entries.
func (m *Memory) Context(ctx context.Context, projectPath, featureID string, limit int) ([]*feature.ContextEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.context[memoryKey{projectPath, featureID}]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	result := make([]*feature.ContextEntry, len(entries))
	for i := range entries {
		out := entries[i]
		result[i] = &out
	}
	return result, nil
}
