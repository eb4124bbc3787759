package broadcast

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	tomb "gopkg.in/tomb.v2"

	"github.com/iremturen/stofina-sub001/internal/domain"
)

// Notifier turns engine notifications into events and publishes them from
// a background goroutine. Enqueueing never blocks: when the queue is full
// the event is dropped and counted.
type Notifier struct {
	pub     Publisher
	queue   chan Event
	timeout time.Duration
	logger  *slog.Logger
	dropped atomic.Int64

	t *tomb.Tomb
}

// NewNotifier creates a notifier with a queue of the given capacity.
// timeout bounds each Publish call.
func NewNotifier(pub Publisher, queue int, timeout time.Duration, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		pub:     pub,
		queue:   make(chan Event, queue),
		timeout: timeout,
		logger:  logger,
	}
}

// Start launches the delivery loop.
func (n *Notifier) Start(ctx context.Context) {
	var tctx context.Context
	n.t, tctx = tomb.WithContext(ctx)
	n.t.Go(func() error {
		return n.loop(tctx)
	})
}

// Stop delivers whatever is still queued, then stops the loop.
func (n *Notifier) Stop() error {
	if n.t == nil {
		return nil
	}
	n.t.Kill(nil)
	return n.t.Wait()
}

// Dropped reports how many events were discarded on a full queue.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}

func (n *Notifier) loop(ctx context.Context) error {
	for {
		select {
		case ev := <-n.queue:
			n.publish(ctx, ev)
		case <-n.t.Dying():
			n.drain()
			return nil
		}
	}
}

func (n *Notifier) drain() {
	for {
		select {
		case ev := <-n.queue:
			n.publish(context.Background(), ev)
		default:
			return
		}
	}
}

func (n *Notifier) publish(ctx context.Context, ev Event) {
	pctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.pub.Publish(pctx, ev); err != nil {
		n.logger.Warn("event delivery failed",
			slog.String("type", ev.Type),
			slog.String("key", ev.Key),
			slog.String("error", err.Error()),
		)
	}
}

func (n *Notifier) enqueue(ev Event) {
	select {
	case n.queue <- ev:
	default:
		n.dropped.Add(1)
		n.logger.Warn("event queue full, event dropped",
			slog.String("type", ev.Type),
			slog.String("key", ev.Key),
		)
	}
}

func (n *Notifier) OrderUpdated(o *domain.Order) {
	n.enqueue(OrderEvent(o))
}

func (n *Notifier) BookUpdated(snap domain.BookSnapshot) {
	n.enqueue(BookEvent(snap))
}

func (n *Notifier) PhaseChanged(prev, next domain.MarketPhase, at time.Time) {
	n.enqueue(PhaseEvent(prev, next, at))
}
