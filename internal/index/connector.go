package index

import (
	"context"
	"log/slog"

	"github.com/roach88/searchsync/internal/doc"
)

// Connector is the index contract shared by the Eager and Batching
// strategies.
type Connector interface {
	IndexExists(ctx context.Context, index string) (bool, error)
	CreateIndex(ctx context.Context, index string) error
	Get(ctx context.Context, index, typ, id string) (doc.Document, error)
	EntryExists(ctx context.Context, index, typ, id string) (bool, error)
	Add(ctx context.Context, index, typ, id string, d doc.Document) error
	Update(ctx context.Context, index, typ, id string, d doc.Document) error
	Delete(ctx context.Context, index, typ, id string) error
	BulkAdd(ctx context.Context, index, typ string, docs []doc.Document) error
	BulkUpdate(ctx context.Context, index, typ string, docs []doc.Document) error
	BulkDelete(ctx context.Context, index, typ string, ids []string) error
	GetAll(ctx context.Context, index, typ string) ([]doc.Document, error)
	ClearIndex(ctx context.Context, index string) error
	SetMapping(ctx context.Context, index, typ string, mapping doc.Document) error
	Close() error
}

// Option configures a connector.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for partial failures and batch traces.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// base implements the operations whose behavior does not depend on the
// strategy.
type base struct {
	backend Backend
	logger  *slog.Logger
}

func (b *base) IndexExists(ctx context.Context, index string) (bool, error) {
	return b.backend.IndexExists(ctx, index)
}

// CreateIndex creates the index, treating "already exists" as success.
func (b *base) CreateIndex(ctx context.Context, index string) error {
	err := b.backend.CreateIndex(ctx, index, nil)
	if err != nil && !IsAlreadyExists(err) {
		return err
	}
	return nil
}

// ensureIndex creates the index if absent.
func (b *base) ensureIndex(ctx context.Context, index string) error {
	exists, err := b.backend.IndexExists(ctx, index)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return b.CreateIndex(ctx, index)
}

func (b *base) get(ctx context.Context, index, typ, id string) (doc.Document, error) {
	exists, err := b.backend.IndexExists(ctx, index)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	d, err := b.backend.Get(ctx, index, typ, id)
	if IsNotFound(err) {
		return nil, nil
	}
	return d, err
}

func (b *base) getAll(ctx context.Context, index, typ string) ([]doc.Document, error) {
	exists, err := b.backend.IndexExists(ctx, index)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []doc.Document{}, nil
	}
	return b.backend.All(ctx, index, typ)
}

// clearIndex deletes and recreates the index.
func (b *base) clearIndex(ctx context.Context, index string) error {
	if err := b.backend.DeleteIndex(ctx, index); err != nil {
		return err
	}
	return b.CreateIndex(ctx, index)
}

// SetMapping creates the index with the mapping when absent, otherwise
// merges the mapping into the existing index.
func (b *base) SetMapping(ctx context.Context, index, typ string, mapping doc.Document) error {
	exists, err := b.backend.IndexExists(ctx, index)
	if err != nil {
		return err
	}
	if !exists {
		err := b.backend.CreateIndex(ctx, index, map[string]doc.Document{typ: mapping})
		if err == nil || !IsAlreadyExists(err) {
			return err
		}
	}
	return b.backend.PutMapping(ctx, index, typ, mapping)
}

// actions converts documents to index actions, dropping and logging
// documents without an ID.
func (b *base) actions(op Op, index, typ string, docs []doc.Document) []Action {
	out := make([]Action, 0, len(docs))
	for _, d := range docs {
		id := d.ID()
		if id == "" {
			b.logger.Warn("skipping document without id",
				"op", string(op), "index", index, "type", typ)
			continue
		}
		out = append(out, Action{Op: op, Type: typ, ID: id, Doc: d})
	}
	return out
}

func deleteActions(typ string, ids []string) []Action {
	out := make([]Action, 0, len(ids))
	for _, id := range ids {
		out = append(out, Action{Op: OpDelete, Type: typ, ID: id})
	}
	return out
}

// logFailures logs each rejected action and returns a PartialBatchError, or
// nil when nothing failed.
func logFailures(logger *slog.Logger, index string, total int, failures []ItemFailure) error {
	if len(failures) == 0 {
		return nil
	}
	for _, f := range failures {
		logger.Warn("bulk action rejected",
			"index", index,
			"type", f.Action.Type,
			"id", f.Action.ID,
			"op", string(f.Action.Op),
			"error", f.Err)
	}
	return &PartialBatchError{Index: index, Total: total, Failures: failures}
}
