package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskforge/internal/version"
)

func newVersionCommand() *cobra.Command {
	var verbose bool
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print version information including version number, git commit,
build date, Go version, and platform. --format json or yaml prints all fields.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return fmt.Errorf("failed to create command context: %w", err)
			}
			info := version.GetInfo()

			if cmdCtx.Format != "text" && cmdCtx.Format != "" {
				return cmdCtx.Render(info)
			}
			if verbose {
				fmt.Fprintln(cmdCtx.Stdout, info.String())
				return nil
			}
			fmt.Fprintf(cmdCtx.Stdout, "taskforge %s\n", info.Short())
			return nil
		},
	}
	versionCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show detailed version information")
	return versionCmd
}
