// Package memindex is an in-memory index backend.
//
// Documents are stored as encoded JSON so that callers never share maps
// with the store and values that cannot be encoded are rejected the same
// way a remote index would reject them.
package memindex

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/roach88/searchsync/internal/doc"
	"github.com/roach88/searchsync/internal/index"
)

type store struct {
	mappings map[string]doc.Document
	docs     map[string]map[string][]byte // type -> id -> JSON
}

// Backend is an in-memory index.Backend.
type Backend struct {
	mu      sync.RWMutex
	indexes map[string]*store
	closed  bool
}

var _ index.Backend = (*Backend)(nil)

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{indexes: make(map[string]*store)}
}

// IndexExists reports whether the index has been created.
func (b *Backend) IndexExists(ctx context.Context, name string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.indexes[name]
	return ok, nil
}

// CreateIndex creates an empty index with the given type mappings.
func (b *Backend) CreateIndex(ctx context.Context, name string, mappings map[string]doc.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.indexes[name]; ok {
		return &index.Error{Code: index.ErrCodeAlreadyExists, Op: "create_index", Index: name}
	}
	s := newStore()
	for typ, m := range mappings {
		s.mappings[typ] = m.Clone()
	}
	b.indexes[name] = s
	return nil
}

func newStore() *store {
	return &store{
		mappings: make(map[string]doc.Document),
		docs:     make(map[string]map[string][]byte),
	}
}

// DeleteIndex drops the index and its documents. Deleting a missing index
// is a no-op.
func (b *Backend) DeleteIndex(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.indexes, name)
	return nil
}

// PutMapping merges mapping into the type's stored mapping.
func (b *Backend) PutMapping(ctx context.Context, name, typ string, mapping doc.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.indexes[name]
	if !ok {
		return index.NotFound("put_mapping", name, typ, "")
	}
	merged := s.mappings[typ].Clone()
	if merged == nil {
		merged = doc.Document{}
	}
	merged.Merge(mapping)
	s.mappings[typ] = merged
	return nil
}

// Mapping returns the stored mapping of a type.
func (b *Backend) Mapping(name, typ string) (doc.Document, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.indexes[name]
	if !ok {
		return nil, false
	}
	m, ok := s.mappings[typ]
	return m.Clone(), ok
}

// Get returns a stored document.
func (b *Backend) Get(ctx context.Context, name, typ, id string) (doc.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.indexes[name]
	if !ok {
		return nil, index.NotFound("get", name, typ, id)
	}
	raw, ok := s.docs[typ][id]
	if !ok {
		return nil, index.NotFound("get", name, typ, id)
	}
	return decode(raw)
}

// All returns every document of the type, sorted by id.
func (b *Backend) All(ctx context.Context, name, typ string) ([]doc.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := []doc.Document{}
	s, ok := b.indexes[name]
	if !ok {
		return out, nil
	}
	ids := make([]string, 0, len(s.docs[typ]))
	for id := range s.docs[typ] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		d, err := decode(s.docs[typ][id])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Bulk applies the actions in order. Each failing action is reported
// without affecting the others.
func (b *Backend) Bulk(ctx context.Context, name string, actions []index.Action) ([]index.ItemFailure, error) {
	if err := ctx.Err(); err != nil {
		return nil, index.Connectivity("bulk", name, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, index.Connectivity("bulk", name, errClosed)
	}

	var failures []index.ItemFailure
	for _, a := range actions {
		if err := b.apply(name, a); err != nil {
			failures = append(failures, index.ItemFailure{Action: a, Err: err})
		}
	}
	return failures, nil
}

func (b *Backend) apply(name string, a index.Action) error {
	s, ok := b.indexes[name]
	if !ok {
		if a.Op != index.OpIndex {
			return index.NotFound(string(a.Op), name, a.Type, a.ID)
		}
		s = newStore()
		b.indexes[name] = s
	}
	docs := s.docs[a.Type]
	if docs == nil {
		docs = make(map[string][]byte)
		s.docs[a.Type] = docs
	}

	switch a.Op {
	case index.OpIndex:
		raw, err := json.Marshal(a.Doc)
		if err != nil {
			return index.Malformed("index", name, a.Type, a.ID, err)
		}
		docs[a.ID] = raw
	case index.OpUpdate:
		raw, ok := docs[a.ID]
		if !ok {
			return index.NotFound("update", name, a.Type, a.ID)
		}
		cur, err := decode(raw)
		if err != nil {
			return err
		}
		cur.Merge(a.Doc)
		merged, err := json.Marshal(cur)
		if err != nil {
			return index.Malformed("update", name, a.Type, a.ID, err)
		}
		docs[a.ID] = merged
	case index.OpDelete:
		if _, ok := docs[a.ID]; !ok {
			return index.NotFound("delete", name, a.Type, a.ID)
		}
		delete(docs, a.ID)
	}
	return nil
}

// Close marks the backend closed. Later bulk requests fail.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func decode(raw []byte) (doc.Document, error) {
	var d doc.Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return d, nil
}
