package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/roach88/searchsync/internal/backends"
	"github.com/roach88/searchsync/internal/config"
	"github.com/roach88/searchsync/internal/crawl"
	"github.com/roach88/searchsync/internal/doc"
	"github.com/roach88/searchsync/internal/index"
	"github.com/roach88/searchsync/internal/mapping"
	"github.com/roach88/searchsync/internal/schedule"
	"github.com/roach88/searchsync/internal/store"
)

// environment holds what commands share: configuration, the logger and
// the resources opened so far. Close releases them in reverse order.
type environment struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func() error
}

func newEnvironment(opts *RootOptions, cmd *cobra.Command) (*environment, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, wrapCoded(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	logger, closeLog := newLogger(opts, cfg.Log, cmd.ErrOrStderr())
	env := &environment{cfg: cfg, logger: logger}
	if closeLog != nil {
		env.closers = append(env.closers, closeLog)
	}
	return env, nil
}

// newLogger builds the process logger. Output goes to stderr, or to a
// rotating file when log.file is set.
func newLogger(opts *RootOptions, lc config.LogConfig, stderr io.Writer) (*slog.Logger, func() error) {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	w := stderr
	var closer func() error
	if lc.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAge:     lc.MaxAgeDays,
		}
		w = rotating
		closer = rotating.Close
	}
	hopts := &slog.HandlerOptions{Level: level}
	if opts.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts)), closer
	}
	return slog.New(slog.NewTextHandler(w, hopts)), closer
}

// Close releases resources in reverse order of opening. The connector is
// closed before the store, which flushes queued index writes.
func (e *environment) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Error("error closing resource", "error", err)
		}
	}
	e.closers = nil
}

func (e *environment) openStore() (*store.Store, error) {
	st, err := store.Open(e.cfg.Source.DSN)
	if err != nil {
		return nil, wrapCoded(ExitFailure, ErrCodeStore, "failed to open source store", err)
	}
	e.closers = append(e.closers, st.Close)
	return st, nil
}

func (e *environment) openConnector(ctx context.Context) (index.Connector, error) {
	backend, err := backends.Open(ctx, e.cfg.Index.Backend, e.logger)
	if err != nil {
		code := ExitFailure
		if errors.Is(err, backends.ErrInvalidDSN) {
			code = ExitCommandError
		}
		return nil, wrapCoded(code, ErrCodeIndex, "failed to open index backend", err)
	}

	var conn index.Connector
	switch e.cfg.Index.Connector {
	case "eager":
		conn = index.NewEager(backend, index.WithLogger(e.logger))
	default:
		conn = index.NewBatching(backend, index.BatchingConfig{
			MaxActions:    e.cfg.Index.Batch.Actions,
			MaxBytes:      e.cfg.Index.Batch.Bytes,
			FlushInterval: e.cfg.Index.Batch.Interval,
		}, index.WithLogger(e.logger))
	}
	e.closers = append(e.closers, conn.Close)
	return conn, nil
}

// flush pushes queued batches to the backend when the connector batches.
func flush(ctx context.Context, conn index.Connector) error {
	if f, ok := conn.(interface{ Flush(context.Context) error }); ok {
		return f.Flush(ctx)
	}
	return nil
}

// originFor selects how each kind's origin field is assembled: messages
// carry every owner, activities their author, profiles nothing.
func originFor(k doc.Kind) crawl.OriginMode {
	switch k {
	case doc.KindMessage:
		return crawl.OriginAllOwners
	case doc.KindActivity:
		return crawl.OriginOwner
	}
	return crawl.OriginNone
}

// crawlers builds one crawler per enabled kind in reconciliation order.
// A non-empty only selects that kind even when it is disabled.
func (e *environment) crawlers(st *store.Store, conn crawl.Index, only doc.Kind) ([]*crawl.Crawler, error) {
	types := e.cfg.KindTypes()
	var out []*crawl.Crawler
	for _, k := range doc.Kinds {
		if only != "" && k != only {
			continue
		}
		if only == "" && !e.cfg.KindEnabled(k) {
			continue
		}
		src, err := st.Source(k)
		if err != nil {
			return nil, err
		}
		opts := []crawl.Option{crawl.WithLogger(e.logger)}
		if k == doc.KindActivity && e.cfg.ACL.AddFriends {
			opts = append(opts, crawl.WithEnricher(st.FriendWhitelist()))
		}
		c, err := crawl.New(crawl.Target{
			Kind:   k,
			Index:  e.cfg.Index.Name,
			Type:   types[k],
			Origin: originFor(k),
		}, src, conn, opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (e *environment) mappingLoader(target mapping.Setter) *mapping.Loader {
	return mapping.NewLoader(target, e.cfg.Index.Name, e.cfg.Mapping.File,
		mapping.WithTypes(e.cfg.Mapping.Types...),
		mapping.WithLogger(e.logger))
}

// reset clears the index and, when mapping.load is set, reapplies the
// mapping file. It backs the scheduler's index resets and the clear
// command.
func (e *environment) reset(conn index.Connector) schedule.ResetFunc {
	return func(ctx context.Context) error {
		if err := conn.ClearIndex(ctx, e.cfg.Index.Name); err != nil {
			return fmt.Errorf("clear index %s: %w", e.cfg.Index.Name, err)
		}
		if !e.cfg.Mapping.Load {
			return nil
		}
		if _, err := e.mappingLoader(conn).Load(ctx); err != nil {
			return fmt.Errorf("reload mappings: %w", err)
		}
		return nil
	}
}
