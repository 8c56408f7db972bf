package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/searchsync/internal/crawl"
	"github.com/roach88/searchsync/internal/doc"
)

// CrawlOptions holds flags for the crawl command.
type CrawlOptions struct {
	*RootOptions
	Kind   string
	DryRun bool
}

// KindResult summarizes one kind's pass or plan.
type KindResult struct {
	Kind       doc.Kind    `json:"kind"`
	PassID     string      `json:"pass_id,omitempty"`
	Deleted    int         `json:"deleted"`
	Added      int         `json:"added"`
	Updated    int         `json:"updated"`
	Unowned    int         `json:"unowned,omitempty"`
	Missing    int         `json:"missing,omitempty"`
	DurationMS int64       `json:"duration_ms"`
	Plan       *crawl.Plan `json:"plan,omitempty"`
	Errors     []string    `json:"errors,omitempty"`
}

// CrawlResult is the output of the crawl command.
type CrawlResult struct {
	DryRun bool         `json:"dry_run"`
	Kinds  []KindResult `json:"kinds"`
}

func (r CrawlResult) String() string {
	var b strings.Builder
	verb := "crawled"
	if r.DryRun {
		verb = "planned"
	}
	for i, k := range r.Kinds {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%-8s %s: %d added, %d updated, %d deleted", k.Kind, verb, k.Added, k.Updated, k.Deleted)
		if k.Unowned > 0 || k.Missing > 0 {
			fmt.Fprintf(&b, " (%d unowned, %d missing)", k.Unowned, k.Missing)
		}
		for _, e := range k.Errors {
			fmt.Fprintf(&b, "\n  error: %s", e)
		}
	}
	if len(r.Kinds) == 0 {
		b.WriteString("no kinds enabled")
	}
	return b.String()
}

// NewCrawlCommand creates the crawl command.
func NewCrawlCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CrawlOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one reconciliation pass",
		Long: `Run one reconciliation pass for every enabled entity kind, or only
the kind named with --kind.

With --dry-run the store and the index are diffed and the planned
operations are printed without writing to the index.

Example:
  searchsync crawl --config searchsync.yaml
  searchsync crawl --kind message --dry-run --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return f.report(runCrawl(opts, cmd, f))
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only crawl this kind (profile|activity|message)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the plan without writing")

	return cmd
}

func runCrawl(opts *CrawlOptions, cmd *cobra.Command, f *OutputFormatter) error {
	var only doc.Kind
	if opts.Kind != "" {
		k, err := doc.ParseKind(opts.Kind)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --kind", err)
		}
		only = k
	}

	env, err := newEnvironment(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	st, err := env.openStore()
	if err != nil {
		return err
	}
	conn, err := env.openConnector(cmd.Context())
	if err != nil {
		return err
	}
	crawlers, err := env.crawlers(st, conn, only)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build crawlers", err)
	}

	ctx := cmd.Context()
	result := CrawlResult{DryRun: opts.DryRun, Kinds: []KindResult{}}
	var errs []error
	for _, c := range crawlers {
		kind := c.Target().Kind
		if opts.DryRun {
			plan, err := c.Plan(ctx)
			if err != nil {
				errs = append(errs, err)
				result.Kinds = append(result.Kinds, KindResult{Kind: kind, Errors: []string{err.Error()}})
				continue
			}
			result.Kinds = append(result.Kinds, KindResult{
				Kind:    kind,
				Added:   len(plan.ToAdd),
				Updated: len(plan.ToUpdate),
				Deleted: len(plan.ToDelete),
				Plan:    &plan,
			})
			continue
		}

		rep := c.Crawl(ctx)
		kr := KindResult{
			Kind:       kind,
			PassID:     rep.PassID,
			Deleted:    rep.Deleted,
			Added:      rep.Added,
			Updated:    rep.Updated,
			Unowned:    rep.Unowned,
			Missing:    rep.Missing,
			DurationMS: rep.Duration.Milliseconds(),
		}
		for _, e := range rep.Errors {
			kr.Errors = append(kr.Errors, e.Error())
		}
		errs = append(errs, rep.Errors...)
		result.Kinds = append(result.Kinds, kr)
	}

	if err := flush(ctx, conn); err != nil {
		errs = append(errs, fmt.Errorf("flush index writes: %w", err))
	}
	if err := f.Success(result); err != nil {
		return err
	}
	if len(errs) > 0 {
		return wrapCoded(ExitFailure, ErrCodeCrawl, "crawl finished with errors", errors.Join(errs...))
	}
	return nil
}
