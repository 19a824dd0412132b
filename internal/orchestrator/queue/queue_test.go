package queue

import (
	"fmt"
	"testing"
)

func pending(id string) *PendingStart {
	return &PendingStart{
		FeatureID:   id,
		ProjectPath: "/proj",
		Provider:    "claude",
	}
}

func TestNewStartQueue(t *testing.T) {
	q := NewStartQueue(16)
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got Len() = %d", q.Len())
	}
	if q.IsFull() {
		t.Error("empty queue reported full")
	}
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := NewStartQueue(16)
	for i := 0; i < 5; i++ {
		if err := q.Enqueue(pending(fmt.Sprintf("feat-%d", i))); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	for i := 0; i < 5; i++ {
		ps := q.Dequeue()
		if ps == nil {
			t.Fatalf("Dequeue %d returned nil", i)
		}
		if want := fmt.Sprintf("feat-%d", i); ps.FeatureID != want {
			t.Errorf("dequeued %q, want %q (arrival order)", ps.FeatureID, want)
		}
		if ps.QueuedAt.IsZero() {
			t.Error("QueuedAt not stamped on enqueue")
		}
	}
	if q.Dequeue() != nil {
		t.Error("Dequeue on empty queue should return nil")
	}
}

func TestEnqueueDuplicate(t *testing.T) {
	q := NewStartQueue(16)
	_ = q.Enqueue(pending("feat-1"))
	if err := q.Enqueue(pending("feat-1")); err != ErrExists {
		t.Errorf("expected ErrExists, got %v", err)
	}
}

func TestEnqueueFull(t *testing.T) {
	q := NewStartQueue(2)
	_ = q.Enqueue(pending("feat-1"))
	_ = q.Enqueue(pending("feat-2"))
	if !q.IsFull() {
		t.Error("queue at capacity should report full")
	}
	if err := q.Enqueue(pending("feat-3")); err != ErrQueueFull {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestUnboundedQueue(t *testing.T) {
	q := NewStartQueue(0)
	for i := 0; i < 100; i++ {
		if err := q.Enqueue(pending(fmt.Sprintf("feat-%d", i))); err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
	}
	if q.IsFull() {
		t.Error("unbounded queue reported full")
	}
}

func TestRemove(t *testing.T) {
	q := NewStartQueue(16)
	_ = q.Enqueue(pending("feat-1"))
	_ = q.Enqueue(pending("feat-2"))
	_ = q.Enqueue(pending("feat-3"))

	if !q.Remove("feat-2") {
		t.Fatal("Remove returned false for a queued feature")
	}
	if q.Remove("feat-2") {
		t.Error("Remove returned true for an already removed feature")
	}
	if q.Contains("feat-2") {
		t.Error("removed feature still reported queued")
	}

	// FIFO order of the remaining entries is preserved.
	if got := q.Dequeue().FeatureID; got != "feat-1" {
		t.Errorf("first dequeue = %q, want feat-1", got)
	}
	if got := q.Dequeue().FeatureID; got != "feat-3" {
		t.Errorf("second dequeue = %q, want feat-3", got)
	}
}

func TestListCopiesInOrder(t *testing.T) {
	q := NewStartQueue(16)
	_ = q.Enqueue(pending("feat-a"))
	_ = q.Enqueue(pending("feat-b"))

	list := q.List()
	if len(list) != 2 || list[0].FeatureID != "feat-a" || list[1].FeatureID != "feat-b" {
		t.Fatalf("unexpected list: %+v", list)
	}

	// Mutating the returned slice must not affect the queue.
	list[0] = nil
	if got := q.Dequeue(); got == nil || got.FeatureID != "feat-a" {
		t.Errorf("queue affected by caller mutation: %+v", got)
	}
}
