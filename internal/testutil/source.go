package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/roach88/searchsync/internal/doc"
)

// Entity is one record held by a MemorySource.
type Entity struct {
	Owners  []string
	Updated int64 // epoch ms; zero means unknown
	Fields  doc.Document
}

// FetchCall records one FetchFull invocation.
type FetchCall struct {
	Owner string
	IDs   []string
}

// MemorySource is an in-memory source-of-record for one entity kind.
//
// Full documents are the entity's Fields plus "id" and, when known,
// "updated". Every owner of a multi-owner entity is listed as a separate
// snapshot, the way a per-user collection listing reports it.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type MemorySource struct {
	mu       sync.Mutex
	entities map[string]Entity
	fetches  []FetchCall
	fields   [][]string

	// ListErr fails ListAll when set.
	ListErr error
	// FetchErr fails FetchFull for the given owner.
	FetchErr map[string]error
}

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{entities: make(map[string]Entity), FetchErr: make(map[string]error)}
}

// Put stores or replaces an entity.
func (s *MemorySource) Put(id string, e Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[id] = e
}

// Remove deletes an entity.
func (s *MemorySource) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, id)
}

// Fetches returns the recorded FetchFull calls.
func (s *MemorySource) Fetches() []FetchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.fetches)
}

// ListedFields returns the field lists passed to ListAll.
func (s *MemorySource) ListedFields() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.fields)
}

// ListAll implements crawl.Source.
func (s *MemorySource) ListAll(ctx context.Context, fields []string) ([]doc.LocalEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields = append(s.fields, slices.Clone(fields))
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	ids := make([]string, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var out []doc.LocalEntity
	for _, id := range ids {
		e := s.entities[id]
		var updated time.Time
		if e.Updated != 0 {
			updated = time.UnixMilli(e.Updated)
		}
		for _, o := range e.Owners {
			out = append(out, doc.LocalEntity{ID: id, Owners: []string{o}, Updated: updated})
		}
	}
	return out, nil
}

// FetchFull implements crawl.Source.
func (s *MemorySource) FetchFull(ctx context.Context, owner string, ids []string) ([]doc.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches = append(s.fetches, FetchCall{Owner: owner, IDs: slices.Clone(ids)})
	if err := s.FetchErr[owner]; err != nil {
		return nil, err
	}
	out := make([]doc.Document, 0, len(ids))
	for _, id := range ids {
		e, ok := s.entities[id]
		if !ok {
			return nil, fmt.Errorf("entity %s not found", id)
		}
		d := e.Fields.Clone()
		if d == nil {
			d = doc.Document{}
		}
		d[doc.FieldID] = id
		if e.Updated != 0 {
			d[doc.FieldUpdated] = e.Updated
		}
		out = append(out, d)
	}
	return out, nil
}
