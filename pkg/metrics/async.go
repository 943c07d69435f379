package metrics

import (
	"context"
	"sync"
)

type batch struct {
	ctx    context.Context
	events []Event
}

// AsyncSink hands events to another sink from a background goroutine. Emit
// never blocks: when the buffer is full the events are dropped and a warning
// logged.
type AsyncSink struct {
	next   Sink
	queue  chan batch
	done   chan struct{}
	mutex  sync.RWMutex
	closed bool
}

var _ Sink = (*AsyncSink)(nil)

// NewAsyncSink starts a sink buffering up to size batches of events for next.
func NewAsyncSink(next Sink, size int) *AsyncSink {
	a := &AsyncSink{
		next:  next,
		queue: make(chan batch, size),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncSink) run() {
	defer close(a.done)
	for b := range a.queue {
		if err := a.next.Emit(b.ctx, b.events...); err != nil {
			log.Errorw("emitting metrics", "events", len(b.events), "error", err)
		}
	}
}

// Emit queues events. The context is detached from cancellation since the
// events outlive the call.
func (a *AsyncSink) Emit(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	if a.closed {
		log.Warnw("metrics sink closed, dropping events", "events", len(events))
		return nil
	}
	select {
	case a.queue <- batch{ctx: context.WithoutCancel(ctx), events: events}:
	default:
		log.Warnw("metrics buffer full, dropping events", "events", len(events))
	}
	return nil
}

// Close stops accepting events and waits until the queued ones have been
// emitted or ctx is done.
func (a *AsyncSink) Close(ctx context.Context) error {
	a.mutex.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mutex.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
