package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EarningEvent announces a commission credited to a member. Events are
// emitted only after the owning purchase has durably committed.
type EarningEvent struct {
	EarningID       string
	BeneficiaryID   string
	BeneficiaryName string
	SourceMemberID  string
	SourceName      string
	PurchaseID      string
	Amount          float64
	Level           int
	Timestamp       time.Time
}

// Notifier delivers earning events to interested parties.
type Notifier interface {
	Notify(event EarningEvent)
}

// LogNotifier writes each event to the structured log.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(event EarningEvent) {
	n.log.Info("commission earned",
		slog.String("earningId", event.EarningID),
		slog.String("beneficiaryId", event.BeneficiaryID),
		slog.String("beneficiary", event.BeneficiaryName),
		slog.String("sourceMemberId", event.SourceMemberID),
		slog.Float64("amount", event.Amount),
		slog.Int("level", event.Level),
	)
}

// Dispatcher fans events out to its notifiers on a background goroutine, so
// commission processing never blocks on a slow consumer. Events offered after
// the queue fills or after Close are dropped.
type Dispatcher struct {
	queue     chan EarningEvent
	notifiers []Notifier

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewDispatcher constructs a running Dispatcher with the given queue depth.
func NewDispatcher(queueSize int, notifiers ...Notifier) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	d := &Dispatcher{
		queue:     make(chan EarningEvent, queueSize),
		notifiers: notifiers,
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		for _, n := range d.notifiers {
			n.Notify(event)
		}
	}
}

// Notify enqueues the event without blocking.
func (d *Dispatcher) Notify(event EarningEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- event:
	default:
	}
}

// Close stops the dispatcher after draining queued events, or when the
// context expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
