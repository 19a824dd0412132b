package bus

import (
	"context"
	"fmt"
	"testing"

	"github.com/featflow/featflow/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log
}

func TestMemoryEventBusPublishSubscribe(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()

	var received []*Event
	sub, err := b.Subscribe("session.started", func(ctx context.Context, event *Event) error {
		received = append(received, event)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if !sub.IsValid() {
		t.Error("expected subscription to be valid")
	}

	event := NewEvent("session.started", "orchestrator", map[string]any{"feature_id": "feat-1"})
	if err := b.Publish(context.Background(), "session.started", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(received) != 1 {
		t.Fatalf("received %d events, want 1", len(received))
	}
	if received[0].ID == "" || received[0].Type != "session.started" {
		t.Errorf("unexpected event: %+v", received[0])
	}
	if got := received[0].Data["feature_id"]; got != "feat-1" {
		t.Errorf("feature_id = %v, want feat-1", got)
	}
}

func TestMemoryEventBusWildcards(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()

	counts := make(map[string]int)
	subscribe := func(pattern string) {
		t.Helper()
		_, err := b.Subscribe(pattern, func(ctx context.Context, event *Event) error {
			counts[pattern]++
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe(%q) failed: %v", pattern, err)
		}
	}

	subscribe("session.stream.*")
	subscribe("session.>")
	subscribe("feature.*")

	ctx := context.Background()
	publish := func(subject string) {
		t.Helper()
		if err := b.Publish(ctx, subject, NewEvent(subject, "test", nil)); err != nil {
			t.Fatalf("Publish(%q) failed: %v", subject, err)
		}
	}

	publish("session.stream.feat-1")
	publish("session.started")
	publish("feature.status_changed")

	if counts["session.stream.*"] != 1 {
		t.Errorf("session.stream.* matched %d events, want 1", counts["session.stream.*"])
	}
	// > spans both the stream subject and the bare lifecycle subject.
	if counts["session.>"] != 2 {
		t.Errorf("session.> matched %d events, want 2", counts["session.>"])
	}
	if counts["feature.*"] != 1 {
		t.Errorf("feature.* matched %d events, want 1", counts["feature.*"])
	}
}

func TestMemoryEventBusSingleTokenWildcard(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()

	var matched int
	_, err := b.Subscribe("session.*", func(ctx context.Context, event *Event) error {
		matched++
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ctx := context.Background()
	_ = b.Publish(ctx, "session.started", NewEvent("session.started", "test", nil))
	// Two trailing tokens: * must not match across a dot.
	_ = b.Publish(ctx, "session.stream.feat-1", NewEvent("session.stream.feat-1", "test", nil))

	if matched != 1 {
		t.Errorf("session.* matched %d events, want 1", matched)
	}
}

func TestMemoryEventBusDeliveryOrder(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()

	var order []string
	_, err := b.Subscribe("session.stream.feat-1", func(ctx context.Context, event *Event) error {
		order = append(order, event.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		eventType := fmt.Sprintf("msg-%03d", i)
		if err := b.Publish(ctx, "session.stream.feat-1", NewEvent(eventType, "test", nil)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	if len(order) != 50 {
		t.Fatalf("received %d events, want 50", len(order))
	}
	for i, eventType := range order {
		if want := fmt.Sprintf("msg-%03d", i); eventType != want {
			t.Fatalf("event %d = %q, want %q", i, eventType, want)
		}
	}
}

func TestMemoryEventBusUnsubscribe(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()

	var received int
	sub, err := b.Subscribe("feature.updated", func(ctx context.Context, event *Event) error {
		received++
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ctx := context.Background()
	_ = b.Publish(ctx, "feature.updated", NewEvent("feature.updated", "test", nil))

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if sub.IsValid() {
		t.Error("expected subscription to be invalid after unsubscribe")
	}

	_ = b.Publish(ctx, "feature.updated", NewEvent("feature.updated", "test", nil))

	if received != 1 {
		t.Errorf("received %d events, want 1", received)
	}
}

func TestMemoryEventBusClose(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))

	sub, err := b.Subscribe("session.started", func(ctx context.Context, event *Event) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	b.Close()

	if b.IsConnected() {
		t.Error("expected bus to report disconnected after close")
	}
	if sub.IsValid() {
		t.Error("expected subscription to be invalidated by close")
	}
	if err := b.Publish(context.Background(), "session.started", NewEvent("session.started", "test", nil)); err == nil {
		t.Error("expected publish on closed bus to fail")
	}
	if _, err := b.Subscribe("session.started", func(ctx context.Context, event *Event) error { return nil }); err == nil {
		t.Error("expected subscribe on closed bus to fail")
	}
}

func TestMemoryEventBusHandlerErrorDoesNotStopDelivery(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()

	var delivered int
	_, err := b.Subscribe("session.failed", func(ctx context.Context, event *Event) error {
		return fmt.Errorf("handler exploded")
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	_, err = b.Subscribe("session.failed", func(ctx context.Context, event *Event) error {
		delivered++
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := b.Publish(context.Background(), "session.failed", NewEvent("session.failed", "test", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if delivered != 1 {
		t.Errorf("second subscriber received %d events, want 1", delivered)
	}
}

func TestNewEvent(t *testing.T) {
	event := NewEvent("feature.created", "gateway", map[string]any{"id": "feat-9"})

	if event.ID == "" {
		t.Error("expected generated event id")
	}
	if event.Type != "feature.created" || event.Source != "gateway" {
		t.Errorf("unexpected event fields: %+v", event)
	}
	if event.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
	if event.Data["id"] != "feat-9" {
		t.Errorf("data = %v", event.Data)
	}
}
