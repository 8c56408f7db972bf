package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/searchsync/internal/schedule"
)

// ScheduleOptions holds flags for the schedule command.
type ScheduleOptions struct {
	*RootOptions
	Count int
	From  string
}

// ScheduleResult is the output of the schedule command.
type ScheduleResult struct {
	Mode     schedule.Mode `json:"mode"`
	Enabled  bool          `json:"enabled"`
	OnStart  bool          `json:"crawl_on_start"`
	Triggers []time.Time   `json:"triggers"`
}

func (r ScheduleResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "mode %s", r.Mode)
	if !r.Enabled {
		b.WriteString(" (disabled)")
	}
	if r.OnStart {
		b.WriteString(", crawl on start")
	}
	for _, t := range r.Triggers {
		fmt.Fprintf(&b, "\n%s", t.Format(time.RFC3339))
	}
	return b.String()
}

// NewScheduleCommand creates the schedule command.
func NewScheduleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScheduleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print upcoming crawl triggers",
		Long: `Print the next crawl triggers of the configured schedule, as the
scheduler would compute them when each pass completes on time.

Example:
  searchsync schedule --count 3
  searchsync schedule --from 2025-01-01T00:00:00Z --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return f.report(runSchedule(opts, cmd, f))
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 5, "number of triggers to print")
	cmd.Flags().StringVar(&opts.From, "from", "", "start time in RFC 3339 (defaults to now)")

	return cmd
}

func runSchedule(opts *ScheduleOptions, cmd *cobra.Command, f *OutputFormatter) error {
	if opts.Count < 0 {
		return NewExitError(ExitCommandError, "--count must not be negative")
	}
	from := time.Now()
	if opts.From != "" {
		t, err := time.Parse(time.RFC3339, opts.From)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --from", err)
		}
		from = t
	}

	env, err := newEnvironment(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	spec, err := env.cfg.Schedule()
	if err != nil {
		return wrapCoded(ExitCommandError, ErrCodeConfig, "invalid schedule", err)
	}
	result := ScheduleResult{
		Mode:     spec.Mode,
		Enabled:  spec.Enabled,
		OnStart:  spec.CrawlOnStart,
		Triggers: upcoming(spec, from, opts.Count),
	}
	return f.Success(result)
}

// upcoming returns up to n triggers after from, each computed from the
// previous one.
func upcoming(spec schedule.Spec, from time.Time, n int) []time.Time {
	out := []time.Time{}
	if !spec.Enabled {
		return out
	}
	for range n {
		next, ok := schedule.Next(spec, from)
		if !ok {
			break
		}
		out = append(out, next)
		from = next
	}
	return out
}
