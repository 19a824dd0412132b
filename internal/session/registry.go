package session

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrSessionExists is returned when a feature already has a live session.
var ErrSessionExists = errors.New("session already exists for feature")

// Registry holds the live sessions keyed by feature id. Creation is an
// atomic check-and-insert, which is what enforces the at-most-one-session
// invariant for the whole process.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	outputLines int
}

// NewRegistry builds a registry whose sessions buffer up to outputLines
// recent lines each (0 uses the default).
func NewRegistry(outputLines int) *Registry {
	return &Registry{
		sessions:    make(map[string]*Session),
		outputLines: outputLines,
	}
}

// Create inserts a new running session for featureID. Fails with
// ErrSessionExists if one is already present, whatever its status.
func (r *Registry) Create(featureID, projectPath, providerName string, cancel context.CancelFunc) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[featureID]; exists {
		return nil, ErrSessionExists
	}
	s := newSession(featureID, projectPath, providerName, cancel, r.outputLines)
	r.sessions[featureID] = s
	return s, nil
}

// Get returns the live session for featureID.
func (r *Registry) Get(featureID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[featureID]
	return s, ok
}

// Remove drops the session for featureID. Called exactly once per session,
// on its terminal transition.
func (r *Registry) Remove(featureID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, featureID)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// FeatureIDs lists the features with live sessions, sorted.
func (r *Registry) FeatureIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
