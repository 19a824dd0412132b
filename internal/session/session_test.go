package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryEnforcesSingleSessionPerFeature(t *testing.T) {
	r := NewRegistry(0)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := r.Create("feat-1", "/proj", "claude", cancel)
	require.NoError(t, err)
	require.NotNil(t, first)

	_, err = r.Create("feat-1", "/proj", "claude", cancel)
	assert.ErrorIs(t, err, ErrSessionExists)

	// A different feature is unaffected.
	_, err = r.Create("feat-2", "/proj", "claude", cancel)
	assert.NoError(t, err)
	assert.Equal(t, 2, r.Len())
}

func TestRegistryRemoveAllowsRestart(t *testing.T) {
	r := NewRegistry(0)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := r.Create("feat-1", "/proj", "claude", cancel)
	require.NoError(t, err)

	r.Remove("feat-1")
	_, ok := r.Get("feat-1")
	assert.False(t, ok)

	_, err = r.Create("feat-1", "/proj", "claude", cancel)
	assert.NoError(t, err)
}

func TestConcurrentCreateAdmitsExactlyOne(t *testing.T) {
	r := NewRegistry(0)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	const attempts = 32
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Create("feat-1", "/proj", "claude", cancel)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	rejected := 0
	for err := range errs {
		if err == nil {
			created++
		} else {
			rejected++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, attempts-1, rejected)
}

func TestCompareAndSwapSingleWinner(t *testing.T) {
	r := NewRegistry(0)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := r.Create("feat-1", "/proj", "claude", cancel)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, s.Status())

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- s.CompareAndSwap(StatusRunning, StatusInterrupting)
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, StatusInterrupting, s.Status())
}

func TestCompareAndSwapRejectsWrongSource(t *testing.T) {
	r := NewRegistry(0)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := r.Create("feat-1", "/proj", "claude", cancel)
	require.NoError(t, err)

	require.True(t, s.CompareAndSwap(StatusRunning, StatusCompleted))
	// Natural completion already won; an interrupt's CAS must fail.
	assert.False(t, s.CompareAndSwap(StatusRunning, StatusInterrupting))
	assert.Equal(t, StatusCompleted, s.Status())
}

func TestTerminalStatuses(t *testing.T) {
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusInterrupting.Terminal())
	assert.True(t, StatusPaused.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestSDKSessionIDFirstWriteWins(t *testing.T) {
	r := NewRegistry(0)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := r.Create("feat-1", "/proj", "claude", cancel)
	require.NoError(t, err)

	assert.Empty(t, s.SDKSessionID())
	s.SetSDKSessionID("")
	assert.Empty(t, s.SDKSessionID())

	s.SetSDKSessionID("sess-a")
	s.SetSDKSessionID("sess-b")
	assert.Equal(t, "sess-a", s.SDKSessionID())
}

func TestRecentOutputIsBoundedAndOrdered(t *testing.T) {
	r := NewRegistry(5)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := r.Create("feat-1", "/proj", "claude", cancel)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		s.AppendOutput(fmt.Sprintf("line-%d", i))
	}

	got := s.RecentOutput()
	require.Len(t, got, 5)
	assert.Equal(t, []string{"line-3", "line-4", "line-5", "line-6", "line-7"}, got)
}

func TestCancelPropagatesToContext(t *testing.T) {
	r := NewRegistry(0)
	ctx, cancel := context.WithCancel(context.Background())
	s, err := r.Create("feat-1", "/proj", "claude", cancel)
	require.NoError(t, err)

	s.Cancel()
	select {
	case <-ctx.Done():
	default:
		t.Fatal("cancel did not propagate to the session context")
	}
	// Idempotent.
	s.Cancel()
}

func TestFeatureIDsSorted(t *testing.T) {
	r := NewRegistry(0)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, id := range []string{"b", "c", "a"} {
		_, err := r.Create(id, "/proj", "claude", cancel)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, r.FeatureIDs())
}

func TestFinishRunWakesDoneWaiters(t *testing.T) {
	r := NewRegistry(0)
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := r.Create("feat-1", "/proj", "claude", cancel)
	require.NoError(t, err)

	select {
	case <-s.Done():
		t.Fatal("done channel closed before the run finished")
	default:
	}

	require.True(t, s.CompareAndSwap(StatusRunning, StatusCompleted))
	s.FinishRun()

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed after FinishRun")
	}
	// Idempotent.
	s.FinishRun()
}

func TestResumeReArmsPausedSession(t *testing.T) {
	r := NewRegistry(0)
	_, firstCancel := context.WithCancel(context.Background())
	s, err := r.Create("feat-1", "/proj", "claude", firstCancel)
	require.NoError(t, err)

	// Only a paused session may resume.
	secondCtx, secondCancel := context.WithCancel(context.Background())
	defer secondCancel()
	assert.False(t, s.Resume(secondCancel))

	require.True(t, s.CompareAndSwap(StatusRunning, StatusInterrupting))
	require.True(t, s.CompareAndSwap(StatusInterrupting, StatusPaused))
	s.FinishRun()
	firstDone := s.Done()

	require.True(t, s.Resume(secondCancel))
	assert.Equal(t, StatusRunning, s.Status())

	// The resumed run has a fresh done signal and a fresh cancel.
	select {
	case <-s.Done():
		t.Fatal("resumed run reported done immediately")
	default:
	}
	select {
	case <-firstDone:
	default:
		t.Fatal("previous run's done channel should stay closed")
	}

	s.Cancel()
	select {
	case <-secondCtx.Done():
	default:
		t.Fatal("cancel did not reach the resumed run's context")
	}
}
