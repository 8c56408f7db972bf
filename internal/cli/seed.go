package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/searchsync/internal/store"
)

// SeedResult is the output of the seed command.
type SeedResult struct {
	Fixture string `json:"fixture"`
	store.ImportStats
}

func (r SeedResult) String() string {
	return fmt.Sprintf("imported %s: %d people, %d friendships, %d activities, %d messages",
		r.Fixture, r.People, r.Friendships, r.Activities, r.Messages)
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Import a YAML fixture into the source store",
		Long: `Import people, friendships, activities and messages from a YAML
fixture into the source-of-record store named by source.dsn.

Example:
  searchsync seed testdata/social.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return f.report(runSeed(rootOpts, args[0], cmd, f))
		},
	}
}

func runSeed(opts *RootOptions, path string, cmd *cobra.Command, f *OutputFormatter) error {
	fixture, err := store.LoadFixture(path)
	if err != nil {
		return wrapCoded(ExitCommandError, ErrCodeFixture, "failed to read fixture", err)
	}

	env, err := newEnvironment(opts, cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	st, err := env.openStore()
	if err != nil {
		return err
	}
	stats, err := st.Import(cmd.Context(), fixture)
	if err != nil {
		return wrapCoded(ExitFailure, ErrCodeFixture, "failed to import fixture", err)
	}
	env.logger.Info("fixture imported", "fixture", path, "people", stats.People, "messages", stats.Messages)
	return f.Success(SeedResult{Fixture: path, ImportStats: stats})
}
