package driver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/featflow/featflow/internal/common/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log
}

func shSpec(script string) Spec {
	return Spec{Path: "/bin/sh", Args: []string{"-c", script}}
}

func collectLines(t *testing.T, p *Process) []string {
	t.Helper()
	var out []string
	for raw := range p.Lines() {
		out = append(out, string(raw))
	}
	return out
}

func TestStreamsLinesInOrder(t *testing.T) {
	p, err := Start(context.Background(), shSpec(
		`printf '{"seq":1}\n{"seq":2}\n{"seq":3}\n'`), testLogger(t))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	lines := collectLines(t, p)
	if err := p.Wait(); err != nil {
		t.Fatalf("wait returned %v, want nil", err)
	}

	want := []string{`{"seq":1}`, `{"seq":2}`, `{"seq":3}`}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d: %v", len(lines), len(want), lines)
	}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("line %d = %q, want %q", i, lines[i], w)
		}
	}
}

func TestSkipsMalformedLines(t *testing.T) {
	p, err := Start(context.Background(), shSpec(
		`printf 'not json\n{"ok":true}\n{{{\n{"done":true}\n'`), testLogger(t))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	lines := collectLines(t, p)
	if err := p.Wait(); err != nil {
		t.Fatalf("wait returned %v, want nil", err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %v", len(lines), lines)
	}
	if lines[0] != `{"ok":true}` || lines[1] != `{"done":true}` {
		t.Errorf("unexpected lines: %v", lines)
	}
}

func TestOnlyMalformedOutputFailsWait(t *testing.T) {
	p, err := Start(context.Background(), shSpec(
		`printf 'warning: something\nanother plain line\n'`), testLogger(t))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	lines := collectLines(t, p)
	if len(lines) != 0 {
		t.Fatalf("got %d lines, want 0: %v", len(lines), lines)
	}
	err = p.Wait()
	if !errors.Is(err, ErrNoValidOutput) {
		t.Fatalf("wait returned %v, want ErrNoValidOutput", err)
	}
	if !strings.Contains(err.Error(), "warning: something") {
		t.Errorf("error should carry the first bad line, got %q", err.Error())
	}
}

func TestEmptyOutputCleanExit(t *testing.T) {
	p, err := Start(context.Background(), shSpec(`exit 0`), testLogger(t))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if lines := collectLines(t, p); len(lines) != 0 {
		t.Fatalf("got %d lines, want 0", len(lines))
	}
	if err := p.Wait(); err != nil {
		t.Fatalf("wait returned %v, want nil", err)
	}
}

func TestPartialFinalLineIsFlushed(t *testing.T) {
	// No trailing newline on the last record.
	p, err := Start(context.Background(), shSpec(
		`printf '{"first":1}\n{"last":2}'`), testLogger(t))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	lines := collectLines(t, p)
	if err := p.Wait(); err != nil {
		t.Fatalf("wait returned %v, want nil", err)
	}
	if len(lines) != 2 || lines[1] != `{"last":2}` {
		t.Fatalf("partial final line not delivered: %v", lines)
	}
}

func TestNonZeroExitReturnsProcessError(t *testing.T) {
	p, err := Start(context.Background(), shSpec(
		`echo '{"partial":true}'; echo 'boom: out of credits' >&2; exit 3`), testLogger(t))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	lines := collectLines(t, p)
	if len(lines) != 1 {
		t.Fatalf("got %d lines before failure, want 1", len(lines))
	}

	err = p.Wait()
	var procErr *ProcessError
	if !errors.As(err, &procErr) {
		t.Fatalf("wait returned %T (%v), want *ProcessError", err, err)
	}
	if procErr.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", procErr.ExitCode)
	}
	if !strings.Contains(procErr.Stderr, "boom: out of credits") {
		t.Errorf("stderr tail %q missing expected text", procErr.Stderr)
	}
}

func TestStdinIsDeliveredBeforeClose(t *testing.T) {
	spec := shSpec(`cat`)
	spec.Stdin = []byte(`{"type":"user","message":"hello"}` + "\n")
	p, err := Start(context.Background(), spec, testLogger(t))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	lines := collectLines(t, p)
	if err := p.Wait(); err != nil {
		t.Fatalf("wait returned %v, want nil", err)
	}
	if len(lines) != 1 || lines[0] != `{"type":"user","message":"hello"}` {
		t.Fatalf("stdin payload not echoed back: %v", lines)
	}
}

func TestAbortTerminatesWithinGrace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p, err := Start(ctx, shSpec(`echo '{"started":true}'; sleep 60`), testLogger(t))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Wait for the first record so the child is known to be running.
	select {
	case <-p.Lines():
	case <-time.After(5 * time.Second):
		t.Fatal("child produced no output")
	}

	start := time.Now()
	cancel()
	for range p.Lines() {
	}
	err = p.Wait()
	elapsed := time.Since(start)

	if !errors.Is(err, ErrAborted) {
		t.Fatalf("wait returned %v, want ErrAborted", err)
	}
	if elapsed > DefaultTermGrace+2*time.Second {
		t.Errorf("termination took %v, want bounded by grace period", elapsed)
	}
}

func TestAbortWhenConsumerStoppedReading(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	// Child floods stdout; consumer reads one record and walks away.
	p, err := Start(ctx, shSpec(
		`while true; do echo '{"tick":1}'; done`), testLogger(t))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	select {
	case <-p.Lines():
	case <-time.After(5 * time.Second):
		t.Fatal("child produced no output")
	}

	cancel()

	done := make(chan error, 1)
	go func() { done <- p.Wait() }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrAborted) {
			t.Fatalf("wait returned %v, want ErrAborted", err)
		}
	case <-time.After(DefaultTermGrace + 5*time.Second):
		t.Fatal("wait did not return after cancellation with idle consumer")
	}
}

func TestSigkillAfterIgnoredTerm(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	spec := shSpec(`trap '' TERM; echo '{"ready":true}'; sleep 60`)
	spec.TermGrace = 200 * time.Millisecond
	p, err := Start(ctx, spec, testLogger(t))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	select {
	case <-p.Lines():
	case <-time.After(5 * time.Second):
		t.Fatal("child produced no output")
	}

	start := time.Now()
	cancel()
	for range p.Lines() {
	}
	err = p.Wait()

	if !errors.Is(err, ErrAborted) {
		t.Fatalf("wait returned %v, want ErrAborted", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("kill escalation took %v, want well under sleep duration", elapsed)
	}
}

func TestWaitIsIdempotent(t *testing.T) {
	p, err := Start(context.Background(), shSpec(`exit 7`), testLogger(t))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	for range p.Lines() {
	}

	first := p.Wait()
	second := p.Wait()
	if !errors.Is(first, second) && first.Error() != second.Error() {
		t.Errorf("wait results differ: %v vs %v", first, second)
	}
	var procErr *ProcessError
	if !errors.As(first, &procErr) || procErr.ExitCode != 7 {
		t.Errorf("wait = %v, want ProcessError with code 7", first)
	}
}

func TestLargeLineWithinScannerLimit(t *testing.T) {
	// A single record larger than the initial scanner buffer but under the
	// max, routed through the child's stdout via cat.
	payload := strings.Repeat("x", 200*1024)
	spec := shSpec(`cat`)
	spec.Stdin = []byte(`{"blob":"` + payload + `"}` + "\n")
	p, err := Start(context.Background(), spec, testLogger(t))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	lines := collectLines(t, p)
	if err := p.Wait(); err != nil {
		t.Fatalf("wait returned %v, want nil", err)
	}
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	var decoded struct {
		Blob string `json:"blob"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("record did not round-trip: %v", err)
	}
	if len(decoded.Blob) != len(payload) {
		t.Errorf("blob length = %d, want %d", len(decoded.Blob), len(payload))
	}
}
