package notify

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []EarningEvent
}

func (r *recordingNotifier) Notify(event EarningEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) snapshot() []EarningEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EarningEvent(nil), r.events...)
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	sink := &recordingNotifier{}
	d := NewDispatcher(16, sink)

	for i := 0; i < 5; i++ {
		d.Notify(EarningEvent{
			EarningID: string(rune('A' + i)),
			Amount:    float64(i + 1),
			Timestamp: time.Now(),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}

	events := sink.snapshot()
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	for i, event := range events {
		if event.Amount != float64(i+1) {
			t.Errorf("event %d out of order: amount %v", i, event.Amount)
		}
	}
}

func TestDispatcher_NotifyAfterCloseIsDropped(t *testing.T) {
	sink := &recordingNotifier{}
	d := NewDispatcher(4, sink)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}

	d.Notify(EarningEvent{EarningID: "late"})
	if events := sink.snapshot(); len(events) != 0 {
		t.Fatalf("expected no events after close, got %d", len(events))
	}
}

func TestDispatcher_CloseTwice(t *testing.T) {
	d := NewDispatcher(1)

	ctx := context.Background()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := d.Close(ctx); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
}
