package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/featflow/featflow/internal/agent/driver"
	"github.com/featflow/featflow/internal/common/logger"
)

// Provider drives one agent backend variant. Implementations are stateless
// with respect to invocations: all per-run state lives in the returned
// MessageStream.
type Provider interface {
	// Name is the registry key ("claude", "claude-chrome", ...).
	Name() string

	// DetectInstallation probes for the backend CLI: env override first,
	// then managed install paths, then the general search path.
	DetectInstallation(ctx context.Context) (InstallationStatus, error)

	// BuildArgs derives the CLI argument list from options. Pure and
	// deterministic; the prompt itself never appears in argv.
	BuildArgs(opts ExecutionOptions) []string

	// SpawnSpec assembles the full spawn specification: detection,
	// arguments, environment, and the stdin prompt payload.
	SpawnSpec(ctx context.Context, opts ExecutionOptions) (driver.Spec, error)

	// Normalize maps one wire record onto the canonical protocol. A nil
	// message means the record carries no user-visible content; the
	// returned session id is captured either way.
	Normalize(raw json.RawMessage) (*Message, string)

	// MapError classifies raw stderr text and an exit code.
	MapError(stderr string, exitCode int) *Error

	// ExecuteQuery runs one full invocation and returns its lazy message
	// stream. Context cancellation terminates the stream silently.
	ExecuteQuery(ctx context.Context, opts ExecutionOptions) (*MessageStream, error)
}

// Run executes the invocation state machine on behalf of a Provider: spawn
// spec, subprocess start, per-record normalization with session id backfill,
// and terminal classification. Concrete providers implement ExecuteQuery by
// delegating here so that variant overrides of BuildArgs/MapError/Normalize
// dispatch through the interface value.
func Run(ctx context.Context, p Provider, opts ExecutionOptions, log *logger.Logger) (*MessageStream, error) {
	if log == nil {
		log = logger.Default()
	}

	spec, err := p.SpawnSpec(ctx, opts)
	if err != nil {
		return nil, err
	}

	proc, err := driver.Start(ctx, spec, log)
	if err != nil {
		return nil, &Error{
			Code:        ErrUnknown,
			Message:     fmt.Sprintf("failed to start %s process: %v", p.Name(), err),
			Recoverable: false,
		}
	}

	stream := newMessageStream(32)
	go pump(ctx, p, proc, stream)
	return stream, nil
}

// pump consumes driver records until exit, emitting normalized messages with
// the first-seen session id backfilled. After cancellation is observed no
// further messages are emitted, but the driver is still drained so the child
// can terminate.
func pump(ctx context.Context, p Provider, proc *driver.Process, stream *MessageStream) {
	var sessionID string
	emitting := true

	for raw := range proc.Lines() {
		msg, sid := p.Normalize(raw)
		if sessionID == "" && sid != "" {
			sessionID = sid
			stream.setSessionID(sid)
		}
		if msg == nil || !emitting {
			continue
		}
		if msg.SessionID == "" {
			msg.SessionID = sessionID
		}
		if err := stream.Emit(ctx, *msg); err != nil {
			emitting = false
		}
	}

	err := proc.Wait()
	switch {
	case err == nil:
		stream.finish(nil)
	case errors.Is(err, driver.ErrAborted):
		// User-initiated interrupt ends the sequence cleanly, never as
		// a failure.
		stream.finish(nil)
	default:
		var procErr *driver.ProcessError
		if errors.As(err, &procErr) {
			stream.finish(p.MapError(procErr.Stderr, procErr.ExitCode))
			return
		}
		stream.finish(p.MapError(err.Error(), 0))
	}
}
