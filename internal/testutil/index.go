package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/searchsync/internal/doc"
	"github.com/roach88/searchsync/internal/index"
)

// BulkCall records one bulk operation.
type BulkCall struct {
	Op  index.Op
	IDs []string
}

// RecordingIndex wraps a connector and records every bulk operation.
//
// Thread-safety: safe for concurrent use via internal mutex.
type RecordingIndex struct {
	index.Connector

	mu    sync.Mutex
	calls []BulkCall
}

// NewRecordingIndex wraps c.
func NewRecordingIndex(c index.Connector) *RecordingIndex {
	return &RecordingIndex{Connector: c}
}

// Calls returns the recorded bulk operations in order.
func (r *RecordingIndex) Calls() []BulkCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Reset forgets recorded operations.
func (r *RecordingIndex) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *RecordingIndex) record(op index.Op, ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	r.calls = append(r.calls, BulkCall{Op: op, IDs: sorted})
}

func docIDs(docs []doc.Document) []string {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID())
	}
	return ids
}

func (r *RecordingIndex) BulkAdd(ctx context.Context, idx, typ string, docs []doc.Document) error {
	r.record(index.OpIndex, docIDs(docs))
	return r.Connector.BulkAdd(ctx, idx, typ, docs)
}

func (r *RecordingIndex) BulkUpdate(ctx context.Context, idx, typ string, docs []doc.Document) error {
	r.record(index.OpUpdate, docIDs(docs))
	return r.Connector.BulkUpdate(ctx, idx, typ, docs)
}

func (r *RecordingIndex) BulkDelete(ctx context.Context, idx, typ string, ids []string) error {
	r.record(index.OpDelete, ids)
	return r.Connector.BulkDelete(ctx, idx, typ, ids)
}
