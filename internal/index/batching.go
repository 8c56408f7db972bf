package index

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/searchsync/internal/doc"
)

// BatchingConfig holds the flush thresholds of a Batching connector.
// Whichever threshold is reached first triggers a flush.
type BatchingConfig struct {
	// MaxActions is the number of queued actions that triggers a flush.
	MaxActions int

	// MaxBytes is the queued payload size that triggers a flush.
	MaxBytes int

	// FlushInterval is the maximum time queued actions wait.
	// Zero disables the timer.
	FlushInterval time.Duration
}

// DefaultBatchingConfig returns the thresholds used when none are configured.
func DefaultBatchingConfig() BatchingConfig {
	return BatchingConfig{
		MaxActions:    1000,
		MaxBytes:      5 << 20,
		FlushInterval: 5 * time.Second,
	}
}

// Stats counts the work executed by a Batching connector.
type Stats struct {
	Batches int64
	Actions int64
	Failed  int64
}

type queued struct {
	index  string
	action Action
	size   int
}

type batch struct {
	id    string
	items []queued
	done  chan struct{}
}

// Batching is a connector that queues mutations and executes them in bulk.
//
// Enqueueing is safe for concurrent producers. Cut batches are executed by
// a single worker goroutine, so at most one batch is in flight and
// mutations reach the backend in enqueue order.
//
// Reads flush first when queued or in-flight work touches what they read,
// so a reader always observes its own earlier writes.
type Batching struct {
	base
	cfg BatchingConfig

	// sendMu orders cut batches on their way to the worker.
	// Lock order: sendMu before mu.
	sendMu sync.Mutex

	mu           sync.Mutex
	pending      []queued
	pendingBytes int
	touched      map[string]int
	closed       bool
	stats        Stats

	batches   chan *batch
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

var _ Connector = (*Batching)(nil)

// NewBatching wraps a backend in a batching connector and starts its worker.
// Zero thresholds fall back to DefaultBatchingConfig.
func NewBatching(backend Backend, cfg BatchingConfig, opts ...Option) *Batching {
	o := buildOptions(opts)
	def := DefaultBatchingConfig()
	if cfg.MaxActions <= 0 {
		cfg.MaxActions = def.MaxActions
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}

	b := &Batching{
		base:    base{backend: backend, logger: o.logger},
		cfg:     cfg,
		touched: make(map[string]int),
		batches: make(chan *batch),
		stop:    make(chan struct{}),
	}

	b.wg.Add(1)
	go b.work()

	if cfg.FlushInterval > 0 {
		b.wg.Add(1)
		go b.tick(cfg.FlushInterval)
	}
	return b
}

func indexKey(index string) string { return index }

func typeKey(index, typ string) string { return index + "\x00" + typ }

func docKey(index, typ, id string) string { return index + "\x00" + typ + "\x00" + id }

// keysOf returns the read keys a queued action affects.
func keysOf(q queued) [3]string {
	return [3]string{
		indexKey(q.index),
		typeKey(q.index, q.action.Type),
		docKey(q.index, q.action.Type, q.action.ID),
	}
}

// enqueue appends items to the pending queue, cutting and sending a batch
// each time a threshold is reached.
func (b *Batching) enqueue(index string, actions []Action) error {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	for _, a := range actions {
		size := len(a.ID) + len(a.Type) + len(a.Op)
		if a.Doc != nil {
			size += a.Doc.Size()
		}
		q := queued{index: index, action: a, size: size}

		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return &Error{Code: ErrCodeClosed, Op: string(a.Op), Index: index, Type: a.Type, ID: a.ID}
		}
		b.pending = append(b.pending, q)
		b.pendingBytes += size
		for _, k := range keysOf(q) {
			b.touched[k]++
		}
		var cut *batch
		if len(b.pending) >= b.cfg.MaxActions || b.pendingBytes >= b.cfg.MaxBytes {
			cut = b.cutLocked()
		}
		b.mu.Unlock()

		if cut != nil {
			b.batches <- cut
		}
	}
	return nil
}

// cutLocked moves the pending queue into a new batch. Caller holds mu.
func (b *Batching) cutLocked() *batch {
	bt := &batch{
		id:    uuid.Must(uuid.NewV7()).String(),
		items: b.pending,
		done:  make(chan struct{}),
	}
	b.pending = nil
	b.pendingBytes = 0
	return bt
}

// Flush sends all pending actions to the backend and waits until they, and
// every batch cut before them, have been executed.
func (b *Batching) Flush(ctx context.Context) error {
	b.sendMu.Lock()
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.sendMu.Unlock()
		return nil
	}
	cut := b.cutLocked()
	b.mu.Unlock()
	b.batches <- cut
	b.sendMu.Unlock()

	select {
	case <-cut.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flushIfTouched flushes when queued or in-flight work touches key.
func (b *Batching) flushIfTouched(ctx context.Context, key string) error {
	b.mu.Lock()
	n := b.touched[key]
	b.mu.Unlock()
	if n == 0 {
		return nil
	}
	return b.Flush(ctx)
}

func (b *Batching) tick(interval time.Duration) {
	defer b.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-t.C:
			b.sendMu.Lock()
			b.mu.Lock()
			var cut *batch
			if !b.closed && len(b.pending) > 0 {
				cut = b.cutLocked()
			}
			b.mu.Unlock()
			if cut != nil {
				b.batches <- cut
			}
			b.sendMu.Unlock()
		}
	}
}

func (b *Batching) work() {
	defer b.wg.Done()
	for bt := range b.batches {
		b.execute(bt)
		close(bt.done)
	}
}

// execute runs a batch against the backend, one bulk request per run of
// consecutive actions on the same index. Failures are logged; the batch is
// never retried inline.
func (b *Batching) execute(bt *batch) {
	if len(bt.items) == 0 {
		return
	}
	ctx := context.Background()
	start := time.Now()
	var failed int

	for i := 0; i < len(bt.items); {
		index := bt.items[i].index
		j := i
		actions := make([]Action, 0, len(bt.items)-i)
		for j < len(bt.items) && bt.items[j].index == index {
			actions = append(actions, bt.items[j].action)
			j++
		}
		i = j

		failures, err := b.backend.Bulk(ctx, index, actions)
		if err != nil {
			failed += len(actions)
			b.logger.Error("bulk request failed",
				"batch_id", bt.id,
				"index", index,
				"count", len(actions),
				"error", err)
			continue
		}
		failed += len(failures)
		_ = logFailures(b.logger.With("batch_id", bt.id), index, len(actions), failures)
	}

	b.logger.Debug("bulk batch executed",
		"batch_id", bt.id,
		"count", len(bt.items),
		"failed", failed,
		"duration", time.Since(start))

	b.mu.Lock()
	b.stats.Batches++
	b.stats.Actions += int64(len(bt.items))
	b.stats.Failed += int64(failed)
	for _, q := range bt.items {
		for _, k := range keysOf(q) {
			if b.touched[k] <= 1 {
				delete(b.touched, k)
			} else {
				b.touched[k]--
			}
		}
	}
	b.mu.Unlock()
}

// Stats returns counters for executed batches.
func (b *Batching) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Pending returns the number of queued actions not yet cut into a batch.
func (b *Batching) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// IndexExists reports whether the index exists, after flushing queued work
// on it.
func (b *Batching) IndexExists(ctx context.Context, index string) (bool, error) {
	if err := b.flushIfTouched(ctx, indexKey(index)); err != nil {
		return false, err
	}
	return b.backend.IndexExists(ctx, index)
}

// Get returns the stored document, or nil when absent.
func (b *Batching) Get(ctx context.Context, index, typ, id string) (doc.Document, error) {
	if err := b.flushIfTouched(ctx, docKey(index, typ, id)); err != nil {
		return nil, err
	}
	return b.get(ctx, index, typ, id)
}

// EntryExists reports whether Get would return a document.
func (b *Batching) EntryExists(ctx context.Context, index, typ, id string) (bool, error) {
	d, err := b.Get(ctx, index, typ, id)
	return d != nil, err
}

// Add creates the index when absent, then queues the document.
func (b *Batching) Add(ctx context.Context, index, typ, id string, d doc.Document) error {
	if err := b.ensureQueuedIndex(ctx, index); err != nil {
		return err
	}
	return b.enqueue(index, []Action{{Op: OpIndex, Type: typ, ID: id, Doc: d}})
}

// Update queues a partial update. A missing document is reported by the
// worker's log when the batch executes.
func (b *Batching) Update(ctx context.Context, index, typ, id string, d doc.Document) error {
	return b.enqueue(index, []Action{{Op: OpUpdate, Type: typ, ID: id, Doc: d}})
}

// Delete queues a delete. A missing index is a no-op.
func (b *Batching) Delete(ctx context.Context, index, typ, id string) error {
	exists, err := b.IndexExists(ctx, index)
	if err != nil || !exists {
		return err
	}
	return b.enqueue(index, []Action{{Op: OpDelete, Type: typ, ID: id}})
}

// BulkAdd queues all documents.
func (b *Batching) BulkAdd(ctx context.Context, index, typ string, docs []doc.Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := b.ensureQueuedIndex(ctx, index); err != nil {
		return err
	}
	return b.enqueue(index, b.actions(OpIndex, index, typ, docs))
}

// BulkUpdate queues all partial updates.
func (b *Batching) BulkUpdate(ctx context.Context, index, typ string, docs []doc.Document) error {
	if len(docs) == 0 {
		return nil
	}
	return b.enqueue(index, b.actions(OpUpdate, index, typ, docs))
}

// BulkDelete queues all deletes. A missing index is a no-op.
func (b *Batching) BulkDelete(ctx context.Context, index, typ string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	exists, err := b.IndexExists(ctx, index)
	if err != nil || !exists {
		return err
	}
	return b.enqueue(index, deleteActions(typ, ids))
}

// ensureQueuedIndex creates the index unless queued work already targets it.
func (b *Batching) ensureQueuedIndex(ctx context.Context, index string) error {
	b.mu.Lock()
	n := b.touched[indexKey(index)]
	b.mu.Unlock()
	if n > 0 {
		return nil
	}
	return b.ensureIndex(ctx, index)
}

// GetAll flushes queued work on the type, then returns every document.
func (b *Batching) GetAll(ctx context.Context, index, typ string) ([]doc.Document, error) {
	if err := b.flushIfTouched(ctx, typeKey(index, typ)); err != nil {
		return nil, err
	}
	return b.getAll(ctx, index, typ)
}

// ClearIndex flushes queued work, then deletes and recreates the index.
func (b *Batching) ClearIndex(ctx context.Context, index string) error {
	if err := b.Flush(ctx); err != nil {
		return err
	}
	return b.clearIndex(ctx, index)
}

// SetMapping flushes queued work, then applies the mapping.
func (b *Batching) SetMapping(ctx context.Context, index, typ string, mapping doc.Document) error {
	if err := b.Flush(ctx); err != nil {
		return err
	}
	return b.base.SetMapping(ctx, index, typ, mapping)
}

// Close flushes all pending work, waits for the worker to finish, then
// closes the backend. Safe to call more than once.
func (b *Batching) Close() error {
	b.closeOnce.Do(func() {
		b.sendMu.Lock()
		b.mu.Lock()
		b.closed = true
		var cut *batch
		if len(b.pending) > 0 {
			cut = b.cutLocked()
		}
		b.mu.Unlock()
		if cut != nil {
			b.batches <- cut
		}
		close(b.batches)
		b.sendMu.Unlock()

		close(b.stop)
		b.wg.Wait()
		b.closeErr = b.backend.Close()
	})
	return b.closeErr
}
