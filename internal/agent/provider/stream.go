package provider

import (
	"context"
	"sync"
)

// MessageStream is the lazy sequence of canonical messages produced by one
// query invocation. Messages() closes when the invocation reaches a terminal
// state; Err() is then valid and returns nil for clean completion or
// cancellation, or the classified *Error for a failure. SessionID() exposes
// the backend session identifier as soon as any record reveals it, so an
// interrupt can capture it mid-stream.
//
// CLI-backed providers get their stream from Run. Other implementations
// construct one with NewMessageStream and feed it themselves.
type MessageStream struct {
	ch chan Message

	mu        sync.Mutex
	err       error
	sessionID string
}

func newMessageStream(buffer int) *MessageStream {
	return &MessageStream{ch: make(chan Message, buffer)}
}

// NewMessageStream creates a stream for a provider implementation to publish
// into. Implementations outside this package drive it with Emit, RecordSessionID
// and End; Run-based providers never need it.
func NewMessageStream(buffer int) *MessageStream {
	return newMessageStream(buffer)
}

// Emit publishes one message, blocking while the consumer's buffer is full.
// Returns the context error if cancellation wins the wait.
func (s *MessageStream) Emit(ctx context.Context, msg Message) error {
	select {
	case s.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordSessionID stores the backend session identifier; the first non-empty
// id wins.
func (s *MessageStream) RecordSessionID(id string) {
	s.setSessionID(id)
}

// End records the terminal error and closes the stream. Call exactly once,
// after the last Emit.
func (s *MessageStream) End(err error) {
	s.finish(err)
}

// Messages returns the receive side of the stream.
func (s *MessageStream) Messages() <-chan Message {
	return s.ch
}

// Err reports how the stream ended. Valid once Messages() is closed.
func (s *MessageStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// SessionID returns the last-known backend session identifier, or "" if none
// has been observed yet.
func (s *MessageStream) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *MessageStream) setSessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID == "" && id != "" {
		s.sessionID = id
	}
}

// finish records the terminal error and closes the stream. Called exactly
// once by the runner.
func (s *MessageStream) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.ch)
}
