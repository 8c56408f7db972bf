package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// MappingsOptions holds flags for the mappings command.
type MappingsOptions struct {
	*RootOptions
	File string
}

// MappingsResult is the output of the mappings command.
type MappingsResult struct {
	Index   string `json:"index"`
	File    string `json:"file"`
	Applied int    `json:"applied"`
}

func (r MappingsResult) String() string {
	return fmt.Sprintf("applied %d mappings from %s to %s", r.Applied, r.File, r.Index)
}

// NewMappingsCommand creates the mappings command.
func NewMappingsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MappingsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Apply the mapping file to the index",
		Long: `Apply the mapping of each configured document type (mapping.types,
or every type in the file) from the mapping file to the index.

Example:
  searchsync mappings --file mappings.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return f.report(runMappings(opts, cmd, f))
		},
	}

	cmd.Flags().StringVar(&opts.File, "file", "", "mapping file (defaults to mapping.file)")

	return cmd
}

func runMappings(opts *MappingsOptions, cmd *cobra.Command, f *OutputFormatter) error {
	env, err := newEnvironment(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	if opts.File != "" {
		env.cfg.Mapping.File = opts.File
	}
	if env.cfg.Mapping.File == "" {
		return NewExitError(ExitCommandError, "no mapping file: set mapping.file or --file")
	}

	conn, err := env.openConnector(cmd.Context())
	if err != nil {
		return err
	}
	loader := env.mappingLoader(conn)
	applied, err := loader.Load(cmd.Context())
	if err != nil {
		return wrapCoded(ExitFailure, ErrCodeMapping, "failed to apply mappings", err)
	}
	return f.Success(MappingsResult{Index: env.cfg.Index.Name, File: loader.Path(), Applied: applied})
}
