package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/searchsync/internal/doc"
	"github.com/roach88/searchsync/internal/index"
	"github.com/roach88/searchsync/internal/owners"
)

// MinimalFields are the fields requested during the load phase.
var MinimalFields = []string{doc.FieldID, doc.FieldUpdated}

// Source lists and fetches one entity kind from the source-of-record.
type Source interface {
	// ListAll returns a snapshot of every entity, restricted to fields
	// where the source supports it. Owners are always reported.
	ListAll(ctx context.Context, fields []string) ([]doc.LocalEntity, error)

	// FetchFull returns the full documents of the given entities owned by
	// owner.
	FetchFull(ctx context.Context, owner string, ids []string) ([]doc.Document, error)
}

// Enricher adds derived fields to fetched documents before indexing, such
// as an access-control whitelist built from the owner's social graph.
type Enricher interface {
	Enrich(ctx context.Context, owner string, docs []doc.Document) error
}

// Index is the part of the index connector a crawl writes through.
type Index interface {
	GetAll(ctx context.Context, index, typ string) ([]doc.Document, error)
	BulkAdd(ctx context.Context, index, typ string, docs []doc.Document) error
	BulkUpdate(ctx context.Context, index, typ string, docs []doc.Document) error
	BulkDelete(ctx context.Context, index, typ string, ids []string) error
}

// OriginMode selects how the "origin" field is assembled.
type OriginMode int

const (
	// OriginNone leaves documents untouched.
	OriginNone OriginMode = iota
	// OriginOwner sets origin to the fetching owner.
	OriginOwner
	// OriginAllOwners sets origin to the union of every owner seen in the
	// load phase.
	OriginAllOwners
)

// Target names the entity kind and where its documents live.
type Target struct {
	Kind   doc.Kind
	Index  string
	Type   string
	Origin OriginMode
}

// Crawler reconciles one entity kind.
type Crawler struct {
	target   Target
	source   Source
	idx      Index
	enricher Enricher
	ids      IDGenerator
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithEnricher sets the enrichment applied to fetched documents.
func WithEnricher(e Enricher) Option {
	return func(c *Crawler) { c.enricher = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Crawler) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithIDGenerator sets the pass ID generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Crawler) { c.ids = g }
}

// WithNow sets the time source used for report durations.
func WithNow(now func() time.Time) Option {
	return func(c *Crawler) { c.now = now }
}

// New creates a crawler for target.
func New(target Target, source Source, idx Index, opts ...Option) (*Crawler, error) {
	if source == nil {
		return nil, fmt.Errorf("crawl %s: source is required", target.Kind)
	}
	if idx == nil {
		return nil, fmt.Errorf("crawl %s: index is required", target.Kind)
	}
	if target.Index == "" || target.Type == "" {
		return nil, fmt.Errorf("crawl %s: index and type are required", target.Kind)
	}
	c := &Crawler{
		target: target,
		source: source,
		idx:    idx,
		ids:    UUIDv7Generator{},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Target returns what the crawler reconciles.
func (c *Crawler) Target() Target {
	return c.target
}

// Report summarizes one pass. Unowned counts local entities listed without
// any owner; they cannot be fetched and stay out of the index. Missing
// counts entities requested from the source that it did not return.
type Report struct {
	PassID   string        `json:"pass_id"`
	Kind     doc.Kind      `json:"kind"`
	Deleted  int           `json:"deleted"`
	Added    int           `json:"added"`
	Updated  int           `json:"updated"`
	Unowned  int           `json:"unowned,omitempty"`
	Missing  int           `json:"missing,omitempty"`
	Duration time.Duration `json:"duration"`
	Errors   []error       `json:"-"`
}

// Err joins the errors recorded during the pass.
func (r Report) Err() error {
	return errors.Join(r.Errors...)
}

// Plan loads both sides and returns the diff without writing anything.
func (c *Crawler) Plan(ctx context.Context) (Plan, error) {
	locals, remotes, err := c.load(ctx)
	if err != nil {
		return Plan{}, err
	}
	return Diff(locals, remotes), nil
}

func (c *Crawler) load(ctx context.Context) ([]doc.LocalEntity, []doc.Document, error) {
	locals, err := c.source.ListAll(ctx, MinimalFields)
	if err != nil {
		return nil, nil, fmt.Errorf("list %s entities: %w", c.target.Kind, err)
	}
	remotes, err := c.idx.GetAll(ctx, c.target.Index, c.target.Type)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s/%s documents: %w", c.target.Index, c.target.Type, err)
	}
	return locals, remotes, nil
}

// Crawl runs one reconciliation pass. It never returns early on a phase
// failure; failures are logged and collected in the report.
func (c *Crawler) Crawl(ctx context.Context) (rep Report) {
	start := c.now()
	rep = Report{PassID: c.ids.Generate(), Kind: c.target.Kind}
	log := c.logger.With(
		"pass_id", rep.PassID,
		"kind", string(c.target.Kind),
		"index", c.target.Index,
		"type", c.target.Type)
	fail := func(phase string, err error) {
		log.Error("crawl phase failed", "phase", phase, "error", err)
		rep.Errors = append(rep.Errors, fmt.Errorf("%s phase: %w", phase, err))
	}
	defer func() { rep.Duration = c.now().Sub(start) }()

	locals, remotes, err := c.load(ctx)
	if err != nil {
		fail("load", err)
		return rep
	}

	local := mergeLocals(locals)
	remote := remoteByID(remotes)
	owned := owners.New(c.target.Origin == OriginAllOwners)
	for _, id := range sortedKeys(local) {
		owned.AddEntity(local[id])
		if !owned.Contains(id) {
			rep.Unowned++
			log.Warn("entity has no owner", "id", id)
		}
	}
	log.Debug("crawl loaded", "local", len(local), "remote", len(remote))

	// Delete phase.
	var toDelete []string
	for id := range remote {
		if _, ok := local[id]; !ok {
			toDelete = append(toDelete, id)
		}
	}
	slices.Sort(toDelete)
	if len(toDelete) > 0 {
		err := c.idx.BulkDelete(ctx, c.target.Index, c.target.Type, toDelete)
		rep.Deleted = succeeded(len(toDelete), err)
		if err != nil {
			fail("delete", err)
		}
	}
	for _, id := range toDelete {
		delete(remote, id)
		owned.Remove(id)
	}

	// Add phase.
	var toAdd []string
	for id := range local {
		if _, ok := remote[id]; !ok {
			toAdd = append(toAdd, id)
		}
	}
	slices.Sort(toAdd)
	if len(toAdd) > 0 {
		docs, missing, err := c.fetch(ctx, owned, toAdd, log)
		rep.Missing += missing
		if err != nil {
			fail("add", err)
		}
		if len(docs) > 0 {
			err := c.idx.BulkAdd(ctx, c.target.Index, c.target.Type, docs)
			rep.Added = succeeded(len(docs), err)
			if err != nil {
				fail("add", err)
			}
		}
	}
	for _, id := range toAdd {
		delete(local, id)
		owned.Remove(id)
	}

	// Update phase. Unchanged entities leave the owner index so they are
	// not fetched.
	for _, id := range owned.EntityIDs() {
		if !local[id].Newer(remote[id]) {
			owned.Remove(id)
		}
	}
	if changed := owned.EntityIDs(); len(changed) > 0 {
		docs, missing, err := c.fetch(ctx, owned, changed, log)
		rep.Missing += missing
		if err != nil {
			fail("update", err)
		}
		if len(docs) > 0 {
			err := c.idx.BulkUpdate(ctx, c.target.Index, c.target.Type, docs)
			rep.Updated = succeeded(len(docs), err)
			if err != nil {
				fail("update", err)
			}
		}
	}

	log.Info("crawl finished",
		"deleted", rep.Deleted,
		"added", rep.Added,
		"updated", rep.Updated,
		"unowned", rep.Unowned,
		"missing", rep.Missing,
		"errors", len(rep.Errors))
	return rep
}

// fetch retrieves full documents grouped by primary owner and decorates
// them. A failing owner group is skipped; the others are still returned.
// IDs the source did not return are logged and counted in missing.
func (c *Crawler) fetch(ctx context.Context, owned *owners.Index, ids []string, log *slog.Logger) ([]doc.Document, int, error) {
	groups := owned.GroupByOwner(ids)
	ownerIDs := make([]string, 0, len(groups))
	for o := range groups {
		ownerIDs = append(ownerIDs, o)
	}
	slices.Sort(ownerIDs)

	var out []doc.Document
	var errs []error
	missing := 0
	for _, owner := range ownerIDs {
		docs, err := c.source.FetchFull(ctx, owner, groups[owner])
		if err != nil {
			errs = append(errs, fmt.Errorf("fetch %s entities of %s: %w", c.target.Kind, owner, err))
			continue
		}
		if lost := notReturned(groups[owner], docs); len(lost) > 0 {
			missing += len(lost)
			log.Warn("source did not return requested entities", "owner", owner, "ids", lost)
		}
		for _, d := range docs {
			c.decorate(owned, owner, d)
		}
		if c.enricher != nil {
			if err := c.enricher.Enrich(ctx, owner, docs); err != nil {
				errs = append(errs, fmt.Errorf("enrich %s entities of %s: %w", c.target.Kind, owner, err))
				continue
			}
		}
		out = append(out, docs...)
	}
	return out, missing, errors.Join(errs...)
}

func notReturned(requested []string, docs []doc.Document) []string {
	got := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		got[d.ID()] = struct{}{}
	}
	var lost []string
	for _, id := range requested {
		if _, ok := got[id]; !ok {
			lost = append(lost, id)
		}
	}
	return lost
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (c *Crawler) decorate(owned *owners.Index, owner string, d doc.Document) {
	switch c.target.Origin {
	case OriginOwner:
		d.SetOrigin(doc.UnionUserIDs([]string{owner}))
	case OriginAllOwners:
		if all := doc.UnionUserIDs(owned.Owners(d.ID())); len(all) > 0 {
			d.SetOrigin(all)
		} else {
			d.SetOrigin(doc.UnionUserIDs([]string{owner}))
		}
	}
}

// succeeded returns how many of n actions went through given the bulk
// call's error.
func succeeded(n int, err error) int {
	if err == nil {
		return n
	}
	var pe *index.PartialBatchError
	if errors.As(err, &pe) {
		return n - len(pe.Failures)
	}
	return 0
}
