// Package backends opens an index.Backend from a DSN.
//
// Recognized schemes:
//
//	memory://                 in-memory index (lost on exit)
//	sqlite://<path>           SQLite file
//	badger://<dir>            Badger directory; empty dir is in-memory
//	http://host:port          Elasticsearch 7
//	https://host:port         Elasticsearch 7 over TLS
package backends

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/roach88/searchsync/internal/index"
	"github.com/roach88/searchsync/internal/index/badgerindex"
	"github.com/roach88/searchsync/internal/index/elastic"
	"github.com/roach88/searchsync/internal/index/memindex"
	"github.com/roach88/searchsync/internal/index/sqliteindex"
)

// ErrInvalidDSN is returned for DSNs that cannot name a backend.
var ErrInvalidDSN = errors.New("invalid index backend dsn")

// Open opens the backend named by dsn.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (index.Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidDSN)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDSN, err)
	}
	switch scheme := strings.ToLower(parsed.Scheme); scheme {
	case "memory", "mem":
		return memindex.New(), nil
	case "sqlite", "sqlite3":
		path := dsnPath(parsed)
		if path == "" {
			return nil, fmt.Errorf("%w: sqlite dsn needs a path", ErrInvalidDSN)
		}
		return sqliteindex.Open(path)
	case "badger":
		return badgerindex.Open(dsnPath(parsed), logger)
	case "http", "https":
		return elastic.Open(ctx, dsn, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidDSN, scheme)
	}
}

// dsnPath joins host and path so that both sqlite://data/x.db and
// sqlite:///abs/x.db work.
func dsnPath(u *url.URL) string {
	if u.Opaque != "" {
		return u.Opaque
	}
	return strings.TrimSpace(u.Host + u.Path)
}
