package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskforge/internal/errors"
	"github.com/felixgeelhaar/taskforge/internal/files"
	"github.com/felixgeelhaar/taskforge/internal/telemetry"
	"github.com/felixgeelhaar/taskforge/internal/ux"
)

func newFilesCommand() *cobra.Command {
	filesCmd := &cobra.Command{
		Use:   "files",
		Short: "Inspect relationships and consistency of project files",
	}
	filesCmd.AddCommand(newFilesCheckCommand(), newFilesRelatedCommand(), newFilesWatchCommand())
	return filesCmd
}

func newFilesCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check [path or glob...]",
		Short: "Report unresolved imports, cycles and unused files",
		Long: `Track the given files (or every matching file under the root) and check each
for imports that do not resolve, circular imports and files nothing uses.`,
		RunE: runFilesCheck,
	}
}

func runFilesCheck(cmd *cobra.Command, args []string) error {
	_, span := telemetry.StartCommandSpan(cmd.Context(), "files.check")
	defer span.End()

	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}
	cfg, err := cmdCtx.LoadConfig()
	if err != nil {
		return err
	}
	tracker := files.NewTracker(cfg.Tracker, files.Deps{Logger: cmdCtx.Logger(cfg)})

	// Every file under the root is tracked so that imports into files
	// outside the selection still resolve
	all, err := files.Scan(tracker.Root(), cfg.Watcher)
	if err != nil {
		return err
	}
	if err := trackAll(tracker, all); err != nil {
		return err
	}
	selected := all
	if len(args) > 0 {
		if selected, err = collectFiles(tracker.Root(), cfg, args); err != nil {
			return err
		}
		if err := trackAll(tracker, selected); err != nil {
			return err
		}
	}

	view := ux.ConsistencyView{}
	for _, p := range selected {
		report, err := tracker.CheckConsistency(p)
		if err != nil {
			return err
		}
		view.Reports = append(view.Reports, report)
	}
	if err := cmdCtx.Render(view); err != nil {
		return err
	}

	if !view.Passed() {
		err := errors.New(errors.ErrCodeFileInconsistent, "some files are inconsistent").
			WithSuggestion("Fix the unresolved imports listed above")
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.RecordSuccess(span)
	return nil
}

func newFilesRelatedCommand() *cobra.Command {
	var depth int
	relatedCmd := &cobra.Command{
		Use:   "related <path>",
		Short: "List files related to a file through imports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFilesRelated(cmd, args[0], depth)
		},
	}
	relatedCmd.Flags().IntVar(&depth, "depth", 0, "relationship hops to follow (0 uses tracker.max_related_depth)")
	return relatedCmd
}

func runFilesRelated(cmd *cobra.Command, path string, depth int) error {
	_, span := telemetry.StartCommandSpan(cmd.Context(), "files.related")
	defer span.End()

	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}
	cfg, err := cmdCtx.LoadConfig()
	if err != nil {
		return err
	}
	tracker := files.NewTracker(cfg.Tracker, files.Deps{Logger: cmdCtx.Logger(cfg)})

	all, err := files.Scan(tracker.Root(), cfg.Watcher)
	if err != nil {
		return err
	}
	if err := trackAll(tracker, all); err != nil {
		return err
	}
	if _, err := tracker.AccessFile(path, nil); err != nil {
		return ux.FormatError(err, "reading "+path)
	}

	related, err := tracker.GetRelatedFiles(path, depth)
	if err != nil {
		return err
	}
	telemetry.RecordSuccess(span)
	return cmdCtx.Render(ux.RelatedView{
		Path:          tracker.Normalize(path),
		Related:       related,
		Relationships: tracker.Relationships(path),
	})
}

func newFilesWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Track files under the root and report changes until interrupted",
		Long: `Track every matching file under the root, then follow changes on disk. Each
changed file is re-analyzed and its consistency report is printed. With
metrics enabled, health probes and /metrics are served while watching.`,
		Args: cobra.NoArgs,
		RunE: runFilesWatch,
	}
}

func runFilesWatch(cmd *cobra.Command, _ []string) error {
	ctx, span := telemetry.StartCommandSpan(cmd.Context(), "files.watch")
	defer span.End()

	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}
	cfg, err := cmdCtx.LoadConfig()
	if err != nil {
		return err
	}
	logger := cmdCtx.Logger(cfg)

	s, reg, err := cmdCtx.NewSession(cfg, logger, 0)
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

	err = s.Watch(ctx, func(e files.WatchEvent) {
		if e.Err != nil {
			logger.Warn("failed to apply change", "path", e.Path, "error", e.Err)
			return
		}
		if !cmdCtx.Quiet {
			fmt.Fprintf(cmdCtx.Stderr, "%s %s\n", e.Operation, e.Path)
		}
		if e.Operation != files.OpModify {
			return
		}
		report, err := s.Tracker.CheckConsistency(e.Path)
		if err != nil {
			return
		}
		if err := cmdCtx.Render(ux.ConsistencyView{Reports: []*files.ConsistencyReport{report}}); err != nil {
			logger.Warn("failed to render report", "error", err)
		}
	})
	if err != nil && ctx.Err() == nil {
		telemetry.RecordError(span, err)
		return err
	}
	return nil
}
