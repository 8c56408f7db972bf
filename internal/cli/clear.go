package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ClearResult is the output of the clear command.
type ClearResult struct {
	Index          string `json:"index"`
	MappingsLoaded bool   `json:"mappings_loaded"`
}

func (r ClearResult) String() string {
	if r.MappingsLoaded {
		return fmt.Sprintf("cleared index %s and reloaded mappings", r.Index)
	}
	return fmt.Sprintf("cleared index %s", r.Index)
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete and recreate the index",
		Long: `Delete every document in the configured index by recreating it.
When mapping.load is set the mapping file is applied to the new index.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return f.report(runClear(rootOpts, cmd, f))
		},
	}
}

func runClear(opts *RootOptions, cmd *cobra.Command, f *OutputFormatter) error {
	env, err := newEnvironment(opts, cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	conn, err := env.openConnector(cmd.Context())
	if err != nil {
		return err
	}
	if err := env.reset(conn)(cmd.Context()); err != nil {
		return wrapCoded(ExitFailure, ErrCodeIndex, "failed to clear index", err)
	}
	return f.Success(ClearResult{Index: env.cfg.Index.Name, MappingsLoaded: env.cfg.Mapping.Load})
}
