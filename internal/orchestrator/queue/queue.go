// Package queue implements the bounded FIFO admission queue for feature
// starts requested while the running set is at the concurrency bound.
package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/featflow/featflow/internal/agent/provider"
)

var (
	// ErrQueueFull is returned when the queue is at max capacity.
	ErrQueueFull = errors.New("start queue is full")
	// ErrExists is returned when the feature is already queued.
	ErrExists = errors.New("feature already queued")
)

// PendingStart is one admission request waiting for capacity. It carries
// everything the launch path needs so no store read happens at dequeue time.
type PendingStart struct {
	FeatureID   string
	ProjectPath string
	Provider    string
	Options     provider.ExecutionOptions
	// Resume marks a continuation: the launch path re-arms the paused
	// session instead of creating a new one.
	Resume   bool
	QueuedAt time.Time
}

// StartQueue is a bounded FIFO of pending starts. Admission order is strictly
// arrival order; there are no priorities.
type StartQueue struct {
	mu      sync.RWMutex
	items   []*PendingStart
	byID    map[string]*PendingStart
	maxSize int
}

// NewStartQueue creates a queue holding at most maxSize pending starts.
// maxSize <= 0 means unbounded.
func NewStartQueue(maxSize int) *StartQueue {
	return &StartQueue{
		byID:    make(map[string]*PendingStart),
		maxSize: maxSize,
	}
}

// Enqueue appends a pending start. Fails with ErrExists if the feature is
// already queued and ErrQueueFull at capacity.
func (q *StartQueue) Enqueue(ps *PendingStart) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.byID[ps.FeatureID]; exists {
		return ErrExists
	}
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		return ErrQueueFull
	}

	if ps.QueuedAt.IsZero() {
		ps.QueuedAt = time.Now()
	}
	q.items = append(q.items, ps)
	q.byID[ps.FeatureID] = ps
	return nil
}

// Dequeue removes and returns the oldest pending start, or nil when empty.
func (q *StartQueue) Dequeue() *PendingStart {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	ps := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	delete(q.byID, ps.FeatureID)
	return ps
}

// Remove drops a specific feature from the queue. Returns false if it was
// not queued.
func (q *StartQueue) Remove(featureID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.byID[featureID]; !exists {
		return false
	}
	for i, ps := range q.items {
		if ps.FeatureID == featureID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	delete(q.byID, featureID)
	return true
}

// Contains reports whether the feature has a pending start.
func (q *StartQueue) Contains(featureID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, exists := q.byID[featureID]
	return exists
}

// Len returns the number of pending starts.
func (q *StartQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// IsFull reports whether the queue is at capacity.
func (q *StartQueue) IsFull() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.maxSize > 0 && len(q.items) >= q.maxSize
}

// List returns the pending starts in admission order.
func (q *StartQueue) List() []*PendingStart {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]*PendingStart, len(q.items))
	copy(out, q.items)
	return out
}
