// Package badgerindex is an index backend on an embedded Badger key-value
// store.
//
// Key layout (separator is a NUL byte):
//
//	i/<index>                  catalog entry
//	m/<index>\x00<type>        mapping JSON
//	d/<index>\x00<type>\x00<id> document JSON
package badgerindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/roach88/searchsync/internal/doc"
	"github.com/roach88/searchsync/internal/index"
)

const sep = "\x00"

func catalogKey(name string) []byte { return []byte("i/" + name) }

func mappingKey(name, typ string) []byte { return []byte("m/" + name + sep + typ) }

func docPrefix(name, typ string) []byte { return []byte("d/" + name + sep + typ + sep) }

func docKey(name, typ, id string) []byte { return append(docPrefix(name, typ), id...) }

// Backend is a Badger-backed index.Backend.
type Backend struct {
	db *badger.DB
}

var _ index.Backend = (*Backend)(nil)

// Open opens or creates the store in dir. An empty dir opens an in-memory
// store.
func Open(dir string, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger.With("component", "badger")})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &Backend{db: db}, nil
}

// IndexExists reports whether the index has a catalog entry.
func (b *Backend) IndexExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(catalogKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		exists = err == nil
		return err
	})
	if err != nil {
		return false, index.Connectivity("index_exists", name, err)
	}
	return exists, nil
}

// CreateIndex writes the catalog entry and type mappings in one
// transaction.
func (b *Backend) CreateIndex(ctx context.Context, name string, mappings map[string]doc.Document) error {
	errExists := &index.Error{Code: index.ErrCodeAlreadyExists, Op: "create_index", Index: name}
	err := b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(catalogKey(name))
		if err == nil {
			return errExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(catalogKey(name), created()); err != nil {
			return err
		}
		for typ, m := range mappings {
			raw, err := json.Marshal(m)
			if err != nil {
				return index.Malformed("create_index", name, typ, "", err)
			}
			if err := txn.Set(mappingKey(name, typ), raw); err != nil {
				return err
			}
		}
		return nil
	})
	return wrap("create_index", name, err)
}

func created() []byte {
	return []byte(strconv.FormatInt(time.Now().UnixMilli(), 10))
}

// DeleteIndex drops the index's documents, mappings and catalog entry.
func (b *Backend) DeleteIndex(ctx context.Context, name string) error {
	if err := b.db.DropPrefix([]byte("d/"+name+sep), []byte("m/"+name+sep)); err != nil {
		return index.Connectivity("delete_index", name, err)
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(catalogKey(name))
	})
	return wrap("delete_index", name, err)
}

// PutMapping merges mapping into the type's stored mapping.
func (b *Backend) PutMapping(ctx context.Context, name, typ string, mapping doc.Document) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(catalogKey(name)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return index.NotFound("put_mapping", name, typ, "")
			}
			return err
		}
		merged := doc.Document{}
		item, err := txn.Get(mappingKey(name, typ))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(raw, &merged); err != nil {
				return fmt.Errorf("decode stored mapping %s/%s: %w", name, typ, err)
			}
		}
		merged.Merge(mapping)
		raw, err := json.Marshal(merged)
		if err != nil {
			return index.Malformed("put_mapping", name, typ, "", err)
		}
		return txn.Set(mappingKey(name, typ), raw)
	})
	return wrap("put_mapping", name, err)
}

// Get returns a stored document.
func (b *Backend) Get(ctx context.Context, name, typ, id string) (doc.Document, error) {
	var d doc.Document
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey(name, typ, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return index.NotFound("get", name, typ, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &d)
		})
	})
	if err != nil {
		return nil, wrap("get", name, err)
	}
	return d, nil
}

// All iterates the type's key prefix. Iteration is not paged, so the result
// is complete.
func (b *Backend) All(ctx context.Context, name, typ string) ([]doc.Document, error) {
	out := []doc.Document{}
	prefix := docPrefix(name, typ)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var d doc.Document
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &d)
			}); err != nil {
				return err
			}
			out = append(out, d)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("all", name, err)
	}
	return out, nil
}

// Bulk applies each action in its own transaction so a rejected action
// leaves the others in place.
func (b *Backend) Bulk(ctx context.Context, name string, actions []index.Action) ([]index.ItemFailure, error) {
	var failures []index.ItemFailure
	for _, a := range actions {
		if err := ctx.Err(); err != nil {
			return failures, index.Connectivity("bulk", name, err)
		}
		err := b.db.Update(func(txn *badger.Txn) error {
			return apply(txn, name, a)
		})
		if err == nil {
			continue
		}
		var ie *index.Error
		if !errors.As(err, &ie) {
			return failures, index.Connectivity("bulk", name, err)
		}
		failures = append(failures, index.ItemFailure{Action: a, Err: err})
	}
	return failures, nil
}

func apply(txn *badger.Txn, name string, a index.Action) error {
	key := docKey(name, a.Type, a.ID)
	switch a.Op {
	case index.OpIndex:
		raw, err := json.Marshal(a.Doc)
		if err != nil {
			return index.Malformed("index", name, a.Type, a.ID, err)
		}
		if _, err := txn.Get(catalogKey(name)); errors.Is(err, badger.ErrKeyNotFound) {
			if err := txn.Set(catalogKey(name), created()); err != nil {
				return err
			}
		}
		return txn.Set(key, raw)

	case index.OpUpdate:
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return index.NotFound("update", name, a.Type, a.ID)
		}
		if err != nil {
			return err
		}
		var cur doc.Document
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &cur) }); err != nil {
			return err
		}
		cur.Merge(a.Doc)
		raw, err := json.Marshal(cur)
		if err != nil {
			return index.Malformed("update", name, a.Type, a.ID, err)
		}
		return txn.Set(key, raw)

	case index.OpDelete:
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return index.NotFound("delete", name, a.Type, a.ID)
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	}
	return index.Malformed(string(a.Op), name, a.Type, a.ID, fmt.Errorf("unknown bulk op %q", a.Op))
}

// Close closes the store.
func (b *Backend) Close() error {
	return b.db.Close()
}

// wrap passes index errors through and marks everything else as a
// connectivity failure.
func wrap(op, name string, err error) error {
	if err == nil {
		return nil
	}
	var ie *index.Error
	if errors.As(err, &ie) {
		return err
	}
	return index.Connectivity(op, name, err)
}

// badgerLogger routes badger's logging into slog. Badger is chatty at info
// level, so info and debug both go to Debug.
type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(f string, args ...any)   { b.l.Error(fmt.Sprintf(f, args...)) }
func (b badgerLogger) Warningf(f string, args ...any) { b.l.Warn(fmt.Sprintf(f, args...)) }
func (b badgerLogger) Infof(f string, args ...any)    { b.l.Debug(fmt.Sprintf(f, args...)) }
func (b badgerLogger) Debugf(f string, args ...any)   { b.l.Debug(fmt.Sprintf(f, args...)) }
