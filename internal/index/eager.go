package index

import (
	"context"

	"github.com/roach88/searchsync/internal/doc"
)

// Eager is a connector that issues one backend round-trip per operation.
// Bulk operations are a single backend request.
type Eager struct {
	base
}

var _ Connector = (*Eager)(nil)

// NewEager wraps a backend in an eager connector.
func NewEager(backend Backend, opts ...Option) *Eager {
	o := buildOptions(opts)
	return &Eager{base: base{backend: backend, logger: o.logger}}
}

// Get returns the stored document, or nil when the index or document is
// absent.
func (e *Eager) Get(ctx context.Context, index, typ, id string) (doc.Document, error) {
	return e.get(ctx, index, typ, id)
}

// EntryExists reports whether Get would return a document.
func (e *Eager) EntryExists(ctx context.Context, index, typ, id string) (bool, error) {
	d, err := e.get(ctx, index, typ, id)
	return d != nil, err
}

// Add stores the document under id, creating the index when absent.
func (e *Eager) Add(ctx context.Context, index, typ, id string, d doc.Document) error {
	if err := e.ensureIndex(ctx, index); err != nil {
		return err
	}
	return e.single(ctx, index, Action{Op: OpIndex, Type: typ, ID: id, Doc: d})
}

// Update merges d into the existing document. Fails with NOT_FOUND when the
// index or the document is absent.
func (e *Eager) Update(ctx context.Context, index, typ, id string, d doc.Document) error {
	exists, err := e.backend.IndexExists(ctx, index)
	if err != nil {
		return err
	}
	if !exists {
		return NotFound("update", index, typ, id)
	}
	return e.single(ctx, index, Action{Op: OpUpdate, Type: typ, ID: id, Doc: d})
}

// Delete removes the document. A missing index is a no-op.
func (e *Eager) Delete(ctx context.Context, index, typ, id string) error {
	exists, err := e.backend.IndexExists(ctx, index)
	if err != nil || !exists {
		return err
	}
	return e.single(ctx, index, Action{Op: OpDelete, Type: typ, ID: id})
}

func (e *Eager) single(ctx context.Context, index string, a Action) error {
	failures, err := e.backend.Bulk(ctx, index, []Action{a})
	if err != nil {
		return err
	}
	if len(failures) > 0 {
		return failures[0].Err
	}
	return nil
}

// BulkAdd stores all documents in one request. Rejected documents are logged
// and reported in a PartialBatchError; the rest are kept.
func (e *Eager) BulkAdd(ctx context.Context, index, typ string, docs []doc.Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := e.ensureIndex(ctx, index); err != nil {
		return err
	}
	return e.bulk(ctx, index, e.actions(OpIndex, index, typ, docs))
}

// BulkUpdate merges all documents in one request.
func (e *Eager) BulkUpdate(ctx context.Context, index, typ string, docs []doc.Document) error {
	if len(docs) == 0 {
		return nil
	}
	actions := e.actions(OpUpdate, index, typ, docs)
	exists, err := e.backend.IndexExists(ctx, index)
	if err != nil {
		return err
	}
	if !exists {
		failures := make([]ItemFailure, 0, len(actions))
		for _, a := range actions {
			failures = append(failures, ItemFailure{Action: a, Err: NotFound("update", index, typ, a.ID)})
		}
		return logFailures(e.logger, index, len(actions), failures)
	}
	return e.bulk(ctx, index, actions)
}

// BulkDelete removes all ids in one request. A missing index is a no-op.
func (e *Eager) BulkDelete(ctx context.Context, index, typ string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	exists, err := e.backend.IndexExists(ctx, index)
	if err != nil || !exists {
		return err
	}
	return e.bulk(ctx, index, deleteActions(typ, ids))
}

func (e *Eager) bulk(ctx context.Context, index string, actions []Action) error {
	if len(actions) == 0 {
		return nil
	}
	failures, err := e.backend.Bulk(ctx, index, actions)
	if err != nil {
		return err
	}
	return logFailures(e.logger, index, len(actions), failures)
}

// GetAll returns every document of the type, or an empty list when the
// index is absent.
func (e *Eager) GetAll(ctx context.Context, index, typ string) ([]doc.Document, error) {
	return e.getAll(ctx, index, typ)
}

// ClearIndex deletes and recreates the index. Destructive.
func (e *Eager) ClearIndex(ctx context.Context, index string) error {
	return e.clearIndex(ctx, index)
}

// Close releases the backend.
func (e *Eager) Close() error {
	return e.backend.Close()
}
