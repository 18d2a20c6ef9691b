package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskforge/internal/exitcode"
)

// NewRootCommand builds the taskforge command tree. Each call returns an
// independent tree so tests can run commands side by side.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskforge",
		Short: "Plan, execute and verify multi-step code changes",
		Long: `taskforge breaks a goal into a dependency graph of tasks, executes it in
parallel waves with retries, verifies every edit with a configurable rule set,
and tracks how the touched files relate to each other.

Plans are YAML or JSON files with a goal and a list of tasks. Settings are read
from .taskforge.yaml, looked up from the working directory to the repository root.` +
			exitCodeHelp(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default is .taskforge.yaml, searched upwards)")
	flags.String("root", "", "project root for file tracking and task commands (default is the working directory)")
	flags.StringP("format", "f", "text", "output format: text, json or yaml")
	flags.Bool("no-color", false, "disable colored output")
	flags.String("log-level", "", "log level: debug, info, warn or error (overrides the config)")
	flags.BoolP("quiet", "q", false, "suppress progress output")

	root.AddCommand(
		newPlanCommand(),
		newVerifyCommand(),
		newFilesCommand(),
		newConfigCommand(),
		newVersionCommand(),
	)
	return root
}

var rootCmd = NewRootCommand()

// ExecuteContext runs the root command with ctx, which commands use for
// cancellation
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func exitCodeHelp() string {
	var b strings.Builder
	b.WriteString("\n\nExit codes:\n")
	for _, code := range []int{
		exitcode.Success,
		exitcode.GeneralError,
		exitcode.UsageError,
		exitcode.PlanFailed,
		exitcode.VerificationFailed,
		exitcode.ConsistencyFailed,
		exitcode.ValidationError,
		exitcode.Interrupted,
	} {
		fmt.Fprintf(&b, "  %3d  %s\n", code, exitcode.GetExitCodeDescription(code))
	}
	return b.String()
}
