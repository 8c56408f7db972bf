package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	DrainTimeout time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler and event intake",
		Long: `Run searchsync as a service.

The crawl scheduler reconciles the index on the configured cadence. When
events are enabled, lifecycle events are accepted on events.listen
(POST /events) and read from events.stream_url, and applied to the index
in per-document order.

On SIGINT or SIGTERM intake stops, the running pass completes, and queued
events are drained for up to --drain-timeout. A pass still running when
the timeout expires is cancelled.

Example:
  searchsync run --config searchsync.yaml
  searchsync run --config searchsync.yaml --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return f.report(runService(opts, cmd))
		},
	}

	cmd.Flags().DurationVar(&opts.DrainTimeout, "drain-timeout", 30*time.Second, "how long shutdown waits for queued events")

	return cmd
}

func runService(opts *RunOptions, cmd *cobra.Command) error {
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
	svc, err := newService(env, st, conn, opts.DrainTimeout)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return svc.Run(ctx)
}
