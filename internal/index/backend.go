package index

import (
	"context"

	"github.com/roach88/searchsync/internal/doc"
)

// Op is a bulk action kind.
type Op string

const (
	// OpIndex creates or overwrites a document.
	OpIndex Op = "index"
	// OpUpdate merges fields into an existing document.
	OpUpdate Op = "update"
	// OpDelete removes a document.
	OpDelete Op = "delete"
)

// Action is one mutation of a bulk request.
type Action struct {
	Op   Op
	Type string
	ID   string
	Doc  doc.Document
}

// Backend is the transport to a concrete index store.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// IndexExists reports whether the named index exists.
	IndexExists(ctx context.Context, index string) (bool, error)

	// CreateIndex creates an index with optional per-type mappings.
	// Returns an ALREADY_EXISTS error when the index exists.
	CreateIndex(ctx context.Context, index string, mappings map[string]doc.Document) error

	// DeleteIndex drops an index and every document in it.
	// Deleting a missing index is not an error.
	DeleteIndex(ctx context.Context, index string) error

	// PutMapping merges a type mapping into an existing index.
	PutMapping(ctx context.Context, index, typ string, mapping doc.Document) error

	// Get returns a stored document or a NOT_FOUND error.
	Get(ctx context.Context, index, typ, id string) (doc.Document, error)

	// All returns every document of a type. It must not truncate.
	All(ctx context.Context, index, typ string) ([]doc.Document, error)

	// Bulk executes actions in order. Item rejections are returned as
	// failures; the error is reserved for whole-request failures.
	// OpIndex creates the index when absent.
	Bulk(ctx context.Context, index string, actions []Action) ([]ItemFailure, error)

	// Close releases the underlying connection.
	Close() error
}
