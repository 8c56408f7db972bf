// Package sqliteindex is an index backend stored in a single SQLite file.
//
// It suits single-node deployments that want a durable index without
// running a search cluster. Documents are kept as JSON text keyed by
// (index, type, id).
package sqliteindex

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/searchsync/internal/doc"
	"github.com/roach88/searchsync/internal/index"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
const currentSchemaVersion = 1

// Backend is a SQLite-backed index.Backend.
type Backend struct {
	db *sql.DB
}

var _ index.Backend = (*Backend)(nil)

// Open creates or opens the index database at path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func Open(path string) (*Backend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to index database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set user_version: %w", err)
	}
	return &Backend{db: db}, nil
}

// IndexExists reports whether the index row exists.
func (b *Backend) IndexExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM indexes WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, index.Connectivity("index_exists", name, err)
	}
	return n > 0, nil
}

// CreateIndex records the index and its type mappings.
func (b *Backend) CreateIndex(ctx context.Context, name string, mappings map[string]doc.Document) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return index.Connectivity("create_index", name, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO indexes (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, time.Now().UnixMilli())
	if err != nil {
		return index.Connectivity("create_index", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &index.Error{Code: index.ErrCodeAlreadyExists, Op: "create_index", Index: name}
	}
	for typ, m := range mappings {
		if err := putMapping(ctx, tx, name, typ, m); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return index.Connectivity("create_index", name, err)
	}
	return nil
}

// DeleteIndex removes the index with its mappings and documents.
func (b *Backend) DeleteIndex(ctx context.Context, name string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return index.Connectivity("delete_index", name, err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM documents WHERE index_name = ?`,
		`DELETE FROM mappings WHERE index_name = ?`,
		`DELETE FROM indexes WHERE name = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, name); err != nil {
			return index.Connectivity("delete_index", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return index.Connectivity("delete_index", name, err)
	}
	return nil
}

// PutMapping merges mapping into the type's stored mapping.
func (b *Backend) PutMapping(ctx context.Context, name, typ string, mapping doc.Document) error {
	exists, err := b.IndexExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return index.NotFound("put_mapping", name, typ, "")
	}
	return putMapping(ctx, b.db, name, typ, mapping)
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// putMapping merges mapping into the stored mapping of the type.
func putMapping(ctx context.Context, q execQuerier, name, typ string, mapping doc.Document) error {
	merged := doc.Document{}
	var body string
	err := q.QueryRowContext(ctx,
		`SELECT body FROM mappings WHERE index_name = ? AND doc_type = ?`, name, typ).Scan(&body)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return index.Connectivity("put_mapping", name, err)
	default:
		if err := json.Unmarshal([]byte(body), &merged); err != nil {
			return fmt.Errorf("decode stored mapping %s/%s: %w", name, typ, err)
		}
	}
	merged.Merge(mapping)

	raw, err := json.Marshal(merged)
	if err != nil {
		return index.Malformed("put_mapping", name, typ, "", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO mappings (index_name, doc_type, body) VALUES (?, ?, ?)
		ON CONFLICT(index_name, doc_type) DO UPDATE SET body = excluded.body`,
		name, typ, string(raw))
	if err != nil {
		return index.Connectivity("put_mapping", name, err)
	}
	return nil
}

// Get returns a stored document.
func (b *Backend) Get(ctx context.Context, name, typ, id string) (doc.Document, error) {
	var body string
	err := b.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE index_name = ? AND doc_type = ? AND id = ?`,
		name, typ, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, index.NotFound("get", name, typ, id)
	}
	if err != nil {
		return nil, index.Connectivity("get", name, err)
	}
	return decode(body)
}

// All returns every document of the type, sorted by id.
func (b *Backend) All(ctx context.Context, name, typ string) ([]doc.Document, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT body FROM documents WHERE index_name = ? AND doc_type = ? ORDER BY id ASC`,
		name, typ)
	if err != nil {
		return nil, index.Connectivity("all", name, err)
	}
	defer rows.Close()

	out := []doc.Document{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, index.Connectivity("all", name, err)
		}
		d, err := decode(body)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, index.Connectivity("all", name, err)
	}
	return out, nil
}

// Bulk applies the actions in one transaction. A rejected action does not
// roll back the others.
func (b *Backend) Bulk(ctx context.Context, name string, actions []index.Action) ([]index.ItemFailure, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, index.Connectivity("bulk", name, err)
	}
	defer tx.Rollback()

	for _, a := range actions {
		if a.Op == index.OpIndex {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO indexes (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
				name, time.Now().UnixMilli())
			if err != nil {
				return nil, index.Connectivity("bulk", name, err)
			}
			break
		}
	}

	var failures []index.ItemFailure
	for _, a := range actions {
		if err := apply(ctx, tx, name, a); err != nil {
			failures = append(failures, index.ItemFailure{Action: a, Err: err})
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, index.Connectivity("bulk", name, err)
	}
	return failures, nil
}

func apply(ctx context.Context, tx *sql.Tx, name string, a index.Action) error {
	switch a.Op {
	case index.OpIndex:
		raw, err := json.Marshal(a.Doc)
		if err != nil {
			return index.Malformed("index", name, a.Type, a.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (index_name, doc_type, id, body) VALUES (?, ?, ?, ?)
			ON CONFLICT(index_name, doc_type, id) DO UPDATE SET body = excluded.body`,
			name, a.Type, a.ID, string(raw))
		if err != nil {
			return index.Connectivity("index", name, err)
		}

	case index.OpUpdate:
		var body string
		err := tx.QueryRowContext(ctx,
			`SELECT body FROM documents WHERE index_name = ? AND doc_type = ? AND id = ?`,
			name, a.Type, a.ID).Scan(&body)
		if errors.Is(err, sql.ErrNoRows) {
			return index.NotFound("update", name, a.Type, a.ID)
		}
		if err != nil {
			return index.Connectivity("update", name, err)
		}
		cur, err := decode(body)
		if err != nil {
			return err
		}
		cur.Merge(a.Doc)
		raw, err := json.Marshal(cur)
		if err != nil {
			return index.Malformed("update", name, a.Type, a.ID, err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET body = ? WHERE index_name = ? AND doc_type = ? AND id = ?`,
			string(raw), name, a.Type, a.ID)
		if err != nil {
			return index.Connectivity("update", name, err)
		}

	case index.OpDelete:
		res, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE index_name = ? AND doc_type = ? AND id = ?`,
			name, a.Type, a.ID)
		if err != nil {
			return index.Connectivity("delete", name, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return index.NotFound("delete", name, a.Type, a.ID)
		}

	default:
		return fmt.Errorf("unknown bulk op %q", a.Op)
	}
	return nil
}

// Close closes the database.
func (b *Backend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func decode(body string) (doc.Document, error) {
	var d doc.Document
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return nil, fmt.Errorf("decode stored document: %w", err)
	}
	return d, nil
}
