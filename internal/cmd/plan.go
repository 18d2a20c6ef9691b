package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskforge/internal/errors"
	"github.com/felixgeelhaar/taskforge/internal/plan"
	"github.com/felixgeelhaar/taskforge/internal/progress"
	"github.com/felixgeelhaar/taskforge/internal/telemetry"
	"github.com/felixgeelhaar/taskforge/internal/ux"
)

func newPlanCommand() *cobra.Command {
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Validate and execute task plans",
		Long: `A plan file declares a goal and the tasks that reach it:

  goal: Add input validation
  tasks:
    - id: read
      description: Read the handler
      type: research
    - id: edit
      description: Validate the request body
      type: implement
      depends_on: [read]
      context:
        command: ./scripts/apply-validation.sh
        files: [internal/api/handler.go]

Tasks run in waves. A task starts once all of its dependencies completed.`,
	}
	planCmd.AddCommand(newPlanValidateCommand(), newPlanRunCommand())
	return planCmd
}

func newPlanValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a plan file and print its execution waves",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlanValidate,
	}
}

func runPlanValidate(cmd *cobra.Command, args []string) error {
	_, span := telemetry.StartCommandSpan(cmd.Context(), "plan.validate")
	defer span.End()

	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}
	cfg, err := cmdCtx.LoadConfig()
	if err != nil {
		return err
	}

	f, err := plan.LoadFile(args[0])
	if err != nil {
		return ux.FormatError(err, "loading plan")
	}

	// Validation never executes, so the planner runs without an executor
	planner := plan.NewPlanner(cfg.Planner, plan.Deps{Logger: cmdCtx.Logger(cfg)})
	p, err := planner.CreatePlan(f.Goal, f.Tasks)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.RecordSuccess(span)
	return cmdCtx.Render(ux.PlanView{Plan: p})
}

type planRunOptions struct {
	dryRun         bool
	maxFixAttempts int
	sequential     bool
	savePath       string
}

func newPlanRunCommand() *cobra.Command {
	opts := &planRunOptions{}
	runCmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a plan file",
		Long: `Execute the tasks of a plan file wave by wave. A task with a "command" in its
context runs that command in the project root; the files it names are then
verified with the configured rules. A failed verification appends a debug task.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, args[0], opts)
		},
	}
	flags := runCmd.Flags()
	flags.BoolVar(&opts.dryRun, "dry-run", false, "walk the plan without running task commands")
	flags.IntVar(&opts.maxFixAttempts, "max-fix-attempts", 0, "debug tasks per failed edit (0 uses the default, negative disables)")
	flags.BoolVar(&opts.sequential, "sequential", false, "run the tasks of a wave one at a time")
	flags.StringVar(&opts.savePath, "save", "", "write the final plan as JSON to this path")
	return runCmd
}

func runPlan(cmd *cobra.Command, path string, opts *planRunOptions) error {
	ctx, span := telemetry.StartCommandSpan(cmd.Context(), "plan.run")
	defer span.End()

	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}
	cfg, err := cmdCtx.LoadConfig()
	if err != nil {
		return err
	}
	if opts.dryRun {
		cfg.Executor.DryRun = true
	}
	if opts.sequential {
		cfg.Planner.Parallel = false
	}
	logger := cmdCtx.Logger(cfg)

	f, err := plan.LoadFile(path)
	if err != nil {
		return ux.FormatError(err, "loading plan")
	}

	s, reg, err := cmdCtx.NewSession(cfg, logger, opts.maxFixAttempts)
	if err != nil {
		return err
	}
	defer cmdCtx.CloseSession(s, logger)

	serveCtx, stopServer := context.WithCancel(ctx)
	waitServer := cmdCtx.StartServer(serveCtx, cfg, s, reg, logger)
	defer func() {
		stopServer()
		waitServer()
	}()

	if !cmdCtx.Quiet {
		ind := progress.NewIndicator(progress.Config{
			Writer:      cmdCtx.Stderr,
			ShowSpinner: isTerminal(cmdCtx.Stderr),
		})
		id := s.Bus.SubscribeAll(ind.Handle)
		ind.Start()
		defer func() {
			ind.Stop()
			s.Bus.Unsubscribe(id)
			ind.PrintSummary()
		}()
	}

	p, ok, err := s.Run(ctx, f.Goal, f.Tasks)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	if opts.savePath != "" {
		if err := plan.SavePlan(p, opts.savePath); err != nil {
			return err
		}
	}
	if err := cmdCtx.Render(ux.PlanView{Plan: p}); err != nil {
		return err
	}

	if !ok {
		stats := plan.ComputeStats(p)
		err := errors.New(errors.ErrCodeTaskFailed,
			fmt.Sprintf("plan %s did not complete: %d failed, %d blocked", p.ID, stats.ByStatus[plan.TaskFailed], stats.ByStatus[plan.TaskBlocked])).
			WithSuggestion("Fix the failing task and run the plan again")
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.RecordSuccess(span)
	return nil
}

// isTerminal reports whether w is a character device such as a TTY
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
