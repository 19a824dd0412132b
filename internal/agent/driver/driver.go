// Package driver spawns agent CLI subprocesses and exposes their output as a
// stream of parsed JSON records, one per line. It owns the process lifecycle:
// stdin delivery, line assembly, stderr capture, termination on cancel, and
// reaping on every exit path.
package driver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/featflow/featflow/internal/common/logger"
	"go.uber.org/zap"
)

const (
	// Scanner sizing for stream-json output. Agent CLIs emit single lines
	// well over the bufio default when tool results carry file contents.
	initialScanBuffer = 64 * 1024
	maxScanBuffer     = 10 * 1024 * 1024

	// stderrTailLimit bounds the captured stderr text carried on ProcessError.
	stderrTailLimit = 64 * 1024

	// DefaultTermGrace is how long a cancelled process gets between SIGTERM
	// and SIGKILL.
	DefaultTermGrace = 5 * time.Second
)

// ErrAborted is returned by Wait when the process was terminated because the
// caller's context was cancelled. Callers use errors.Is to distinguish a
// user-initiated stop from a genuine process failure.
var ErrAborted = errors.New("process aborted")

// ErrNoValidOutput is returned when the process exited cleanly but every
// output line failed to parse as JSON.
var ErrNoValidOutput = errors.New("process produced no valid output")

// ProcessError reports a non-zero process exit together with the captured
// standard error text.
type ProcessError struct {
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("process exited with code %d: %s", e.ExitCode, e.Stderr)
}

// Spec describes a subprocess to spawn.
type Spec struct {
	Path string
	Args []string
	Dir  string
	Env  []string

	// Stdin is written to the child's input stream before it is closed.
	// Nil leaves stdin connected but empty.
	Stdin []byte

	// TermGrace overrides the SIGTERM-to-SIGKILL grace period.
	TermGrace time.Duration
}

// Process is a running subprocess whose stdout is consumed line by line.
// Lines() yields each parsed JSON record in strict output order; the channel
// closes when the stream ends. Wait() must be called afterwards to reap the
// child and learn how it ended.
type Process struct {
	cmd   *exec.Cmd
	lines chan json.RawMessage

	log       *logger.Logger
	termGrace time.Duration

	stderrMu sync.Mutex
	stderr   bytes.Buffer

	// line bookkeeping for the no-valid-output check, written only by the
	// stdout reader and read after readDone closes
	parsedLines    int
	malformedLines int
	firstBadLine   string

	waitOnce sync.Once
	waitErr  error

	// abortCh closes before the termination signal is sent. It unblocks
	// pending line deliveries and marks the exit as caller-initiated.
	abortCh chan struct{}

	readDone   chan struct{}
	stderrDone chan struct{}
	killDone   chan struct{}
}

// Start spawns the subprocess described by spec and begins streaming its
// stdout. The returned Process emits records on Lines() until exit; ctx
// cancellation terminates the child (SIGTERM, grace period, SIGKILL) and
// surfaces ErrAborted from Wait.
func Start(ctx context.Context, spec Spec, log *logger.Logger) (*Process, error) {
	if spec.Path == "" {
		return nil, fmt.Errorf("spawn spec has no executable path")
	}
	if log == nil {
		log = logger.Default()
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = spec.Env
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Path, err)
	}

	grace := spec.TermGrace
	if grace <= 0 {
		grace = DefaultTermGrace
	}

	p := &Process{
		cmd:        cmd,
		lines:      make(chan json.RawMessage, 64),
		log:        log.WithFields(zap.String("component", "driver"), zap.Int("pid", cmd.Process.Pid)),
		termGrace:  grace,
		abortCh:    make(chan struct{}),
		readDone:   make(chan struct{}),
		stderrDone: make(chan struct{}),
		killDone:   make(chan struct{}),
	}

	go p.feedStdin(stdin, spec.Stdin)
	go p.readStderr(stderr)
	go p.readStdout(stdout)
	go p.watchCancel(ctx)

	return p, nil
}

// Lines returns the channel of parsed JSON records. Closed when the process
// stops producing output.
func (p *Process) Lines() <-chan json.RawMessage {
	return p.lines
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Wait blocks until the process has exited and all output has been drained,
// then reaps it. It returns nil on a clean exit with parseable output,
// ErrAborted (wrapped) when cancellation terminated the child, a
// *ProcessError on non-zero exit, or ErrNoValidOutput when nothing on stdout
// parsed.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		// cmd.Wait closes the pipes, so both readers must finish first.
		<-p.readDone
		<-p.stderrDone
		err := p.cmd.Wait()
		// Let the killer goroutine observe the exit before returning so
		// no late signal races the reaped process.
		<-p.killDone
		p.waitErr = p.classifyExit(err)
	})
	return p.waitErr
}

// StderrTail returns the captured standard error text, bounded to the most
// recent 64KB.
func (p *Process) StderrTail() string {
	p.stderrMu.Lock()
	defer p.stderrMu.Unlock()
	return p.stderr.String()
}

func (p *Process) classifyExit(err error) error {
	select {
	case <-p.abortCh:
		return fmt.Errorf("agent process terminated: %w", ErrAborted)
	default:
	}

	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &ProcessError{ExitCode: exitCode, Stderr: p.StderrTail()}
	}

	if p.parsedLines == 0 && p.malformedLines > 0 {
		return fmt.Errorf("%w: first unparseable line: %.200s", ErrNoValidOutput, p.firstBadLine)
	}
	return nil
}

func (p *Process) feedStdin(stdin io.WriteCloser, payload []byte) {
	defer func() {
		if err := stdin.Close(); err != nil {
			p.log.Debug("stdin close failed", zap.Error(err))
		}
	}()
	if len(payload) == 0 {
		return
	}
	if _, err := stdin.Write(payload); err != nil {
		// A child that exits before reading its prompt closes the pipe;
		// the exit path reports the real failure.
		p.log.Debug("stdin write failed", zap.Error(err))
	}
}

func (p *Process) readStderr(r io.Reader) {
	defer close(p.stderrDone)
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, initialScanBuffer)
	scanner.Buffer(buf, maxScanBuffer)
	for scanner.Scan() {
		p.appendStderr(scanner.Bytes())
	}
}

func (p *Process) appendStderr(line []byte) {
	p.stderrMu.Lock()
	defer p.stderrMu.Unlock()
	if p.stderr.Len()+len(line)+1 > stderrTailLimit {
		// Keep the tail: later lines usually carry the actual error.
		overflow := p.stderr.Len() + len(line) + 1 - stderrTailLimit
		if overflow >= p.stderr.Len() {
			p.stderr.Reset()
		} else {
			rest := append([]byte(nil), p.stderr.Bytes()[overflow:]...)
			p.stderr.Reset()
			p.stderr.Write(rest)
		}
	}
	p.stderr.Write(line)
	p.stderr.WriteByte('\n')
}

// readStdout assembles complete lines and parses each as JSON. Malformed
// lines are skipped, not fatal. bufio.Scanner flushes a final line without a
// trailing newline when the stream ends, so partial output at exit is kept.
func (p *Process) readStdout(r io.Reader) {
	defer close(p.readDone)
	defer close(p.lines)

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, initialScanBuffer)
	scanner.Buffer(buf, maxScanBuffer)

	delivering := true
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			p.malformedLines++
			if p.firstBadLine == "" {
				p.firstBadLine = string(line)
			}
			p.log.Debug("skipping unparseable output line", zap.Int("length", len(line)))
			continue
		}
		p.parsedLines++
		if !delivering {
			continue
		}
		record := make(json.RawMessage, len(line))
		copy(record, line)
		select {
		case p.lines <- record:
		case <-p.abortCh:
			// Consumer is gone. Keep draining so the child is not
			// blocked on a full pipe while it handles SIGTERM.
			delivering = false
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		p.log.Debug("stdout read ended", zap.Error(err))
	}
}

// watchCancel terminates the child when ctx is cancelled: SIGTERM first,
// SIGKILL after the grace period. The process exiting on its own ends the
// watch without signalling.
func (p *Process) watchCancel(ctx context.Context) {
	defer close(p.killDone)

	select {
	case <-p.readDone:
		return
	case <-ctx.Done():
	}
	// Deferred cancels fire after a normal exit; only treat the
	// cancellation as an abort when the process is still running.
	select {
	case <-p.readDone:
		return
	default:
	}

	close(p.abortCh)

	p.log.Debug("terminating agent process", zap.Duration("grace", p.termGrace))
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already exited; Wait reaps it.
		return
	}

	select {
	case <-p.readDone:
	case <-time.After(p.termGrace):
		p.log.Warn("agent process ignored SIGTERM, killing")
		_ = p.cmd.Process.Kill()
		<-p.readDone
	}
}
