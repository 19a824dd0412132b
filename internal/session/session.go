// Package session tracks the live execution state of agent runs, one per
// feature. The registry enforces the single-session-per-feature invariant;
// status changes go through compare-and-set so interrupt and natural
// completion can race safely.
package session

import (
	"context"
	"sync"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusRunning - the agent process is streaming output
	StatusRunning Status = "running"
	// StatusInterrupting - cancellation signalled, waiting for the process to stop
	StatusInterrupting Status = "interrupting"
	// StatusPaused - interrupted with the backend session id preserved for resume
	StatusPaused Status = "paused"
	// StatusCompleted - the agent finished and reported a result
	StatusCompleted Status = "completed"
	// StatusFailed - the agent run ended in a classified error
	StatusFailed Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusPaused || s == StatusCompleted || s == StatusFailed
}

// DefaultOutputLines bounds the recent-output buffer when no override is
// given.
const DefaultOutputLines = 200

// Session is the live state of one agent run against one feature. The
// process handle is owned exclusively: Cancel is the only way other call
// paths touch the underlying process. Completed and failed sessions leave
// the registry; paused sessions stay registered so a continuation resumes
// the same object instead of allocating a second one.
type Session struct {
	FeatureID   string
	ProjectPath string
	Provider    string
	StartedAt   time.Time

	mu           sync.Mutex
	cancel       context.CancelFunc
	status       Status
	sdkSessionID string
	output       outputRing
	done         chan struct{}
	finished     bool
}

func newSession(featureID, projectPath, providerName string, cancel context.CancelFunc, outputLines int) *Session {
	if outputLines <= 0 {
		outputLines = DefaultOutputLines
	}
	return &Session{
		FeatureID:   featureID,
		ProjectPath: projectPath,
		Provider:    providerName,
		StartedAt:   time.Now(),
		cancel:      cancel,
		status:      StatusRunning,
		output:      outputRing{lines: make([]string, outputLines)},
		done:        make(chan struct{}),
	}
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// CompareAndSwap transitions from -> to atomically. Returns false if the
// current status is not from; the caller then knows another path won the
// race and can read the actual state.
func (s *Session) CompareAndSwap(from, to Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != from {
		return false
	}
	s.status = to
	return true
}

// Cancel signals cancellation on the session's process. Safe to call more
// than once.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Resume re-arms a paused session for another run: a fresh cancel function
// replaces the spent one, the run-done signal resets, and the status returns
// to running. Fails when the session is not paused.
func (s *Session) Resume(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPaused {
		return false
	}
	s.cancel = cancel
	s.status = StatusRunning
	s.done = make(chan struct{})
	s.finished = false
	return true
}

// Done returns a channel closed when the current run finishes its terminal
// transition. Interrupt waiters block on it, then read Status and
// SDKSessionID for the settled outcome.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// FinishRun marks the current run finished and wakes Done waiters. Called by
// the runner once per run, after the terminal status and store updates have
// settled.
func (s *Session) FinishRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	close(s.done)
}

// SetSDKSessionID records the backend-assigned session identifier. The first
// observed id wins; later records echo the same id.
func (s *Session) SetSDKSessionID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sdkSessionID == "" {
		s.sdkSessionID = id
	}
}

// SDKSessionID returns the backend session identifier, or "" if none was
// observed yet.
func (s *Session) SDKSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sdkSessionID
}

// AppendOutput adds one line to the bounded recent-output buffer.
func (s *Session) AppendOutput(line string) {
	if line == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output.append(line)
}

// RecentOutput returns the buffered output lines, oldest first.
func (s *Session) RecentOutput() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output.snapshot()
}

// outputRing is a fixed-capacity line buffer keeping the most recent writes.
type outputRing struct {
	lines []string
	next  int
	count int
}

func (r *outputRing) append(line string) {
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.count < len(r.lines) {
		r.count++
	}
}

func (r *outputRing) snapshot() []string {
	out := make([]string, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.lines)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.lines[(start+i)%len(r.lines)])
	}
	return out
}
