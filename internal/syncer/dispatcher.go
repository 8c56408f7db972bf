package syncer

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrDispatcherClosed is returned by Submit after Close or Stop.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Handler applies one event.
type Handler interface {
	Apply(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

// Apply calls f.
func (f HandlerFunc) Apply(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// DispatcherStats counts processed events.
type DispatcherStats struct {
	Applied int64 `json:"applied"`
	Failed  int64 `json:"failed"`
	Pending int   `json:"pending"`
}

// Dispatcher routes events to per-shard single-writer queues keyed by
// document, so events for one document are applied one at a time and in
// submission order.
//
// Thread-safety: Submit may be called from any goroutine. Run must be
// called once.
type Dispatcher struct {
	handler Handler
	shards  []*eventQueue
	logger  *slog.Logger

	// stopCtx is cancelled by Stop; in-flight Apply calls observe it.
	stopCtx context.Context
	stop    context.CancelFunc

	applied atomic.Int64
	failed  atomic.Int64

	runOnce sync.Once
	started atomic.Bool
	done    chan struct{}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger used for failed events.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher creates a dispatcher with the given number of shards.
// Fewer than one shard is treated as one.
func NewDispatcher(h Handler, shards int, opts ...DispatcherOption) *Dispatcher {
	shards = max(shards, 1)
	d := &Dispatcher{
		handler: h,
		shards:  make([]*eventQueue, shards),
		logger:  slog.Default(),
		done:    make(chan struct{}),
	}
	for i := range d.shards {
		d.shards[i] = newEventQueue()
	}
	d.stopCtx, d.stop = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) shardFor(key string) *eventQueue {
	h := fnv.New32a()
	h.Write([]byte(key))
	return d.shards[h.Sum32()%uint32(len(d.shards))]
}

// Submit queues ev behind earlier events for the same document.
func (d *Dispatcher) Submit(ev Event) error {
	if !d.shardFor(ev.Key()).Enqueue(ev) {
		return ErrDispatcherClosed
	}
	return nil
}

// Run processes events until the dispatcher is closed and drained, Stop is
// called, or ctx is cancelled. A failed event is logged and does not
// affect any other event.
func (d *Dispatcher) Run(ctx context.Context) error {
	err := errors.New("dispatcher already running")
	d.runOnce.Do(func() {
		d.started.Store(true)
		defer close(d.done)
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		unhook := context.AfterFunc(d.stopCtx, cancel)
		defer unhook()

		var wg sync.WaitGroup
		for _, q := range d.shards {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d.work(ctx, q)
			}()
		}
		wg.Wait()
		err = nil
		if d.stopCtx.Err() == nil {
			err = ctx.Err()
		}
	})
	return err
}

// work is the single writer for one shard.
func (d *Dispatcher) work(ctx context.Context, q *eventQueue) {
	for {
		if ctx.Err() != nil {
			return
		}
		if ev, ok := q.TryDequeue(); ok {
			d.apply(ctx, ev)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-q.Wait():
			// The signal channel closes with the queue; an empty closed
			// queue ends the worker.
			if q.Len() == 0 && q.Closed() {
				return
			}
		}
	}
}

func (d *Dispatcher) apply(ctx context.Context, ev Event) {
	if err := d.handler.Apply(ctx, ev); err != nil {
		d.failed.Add(1)
		d.logger.Error("event processing failed",
			"error", err,
			"type", string(ev.Type),
			"id", ev.ID(),
			"user_id", ev.UserID())
		return
	}
	d.applied.Add(1)
}

// Close stops accepting events and waits until every queued event has been
// applied. If ctx ends first the remaining events are abandoned and
// ctx.Err() is returned. Without a running Run, Close only closes the
// queues.
func (d *Dispatcher) Close(ctx context.Context) error {
	for _, q := range d.shards {
		q.Close()
	}
	if !d.started.Load() {
		return nil
	}
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.Stop()
		<-d.done
		return ctx.Err()
	}
}

// Stop stops accepting events and abandons queued ones. Events being
// applied see a cancelled context.
func (d *Dispatcher) Stop() {
	for _, q := range d.shards {
		q.Close()
	}
	d.stop()
}

// Done is closed once Run has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Stats returns event counters.
func (d *Dispatcher) Stats() DispatcherStats {
	pending := 0
	for _, q := range d.shards {
		pending += q.Len()
	}
	return DispatcherStats{
		Applied: d.applied.Load(),
		Failed:  d.failed.Load(),
		Pending: pending,
	}
}
