package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskforge/internal/config"
	"github.com/felixgeelhaar/taskforge/internal/errors"
	"github.com/felixgeelhaar/taskforge/internal/files"
	"github.com/felixgeelhaar/taskforge/internal/telemetry"
	"github.com/felixgeelhaar/taskforge/internal/ux"
	"github.com/felixgeelhaar/taskforge/internal/verify"
)

type verifyOptions struct {
	strategy string
	editID   string
}

func newVerifyCommand() *cobra.Command {
	opts := &verifyOptions{}
	verifyCmd := &cobra.Command{
		Use:   "verify [path or glob...]",
		Short: "Run the verification rules against files",
		Long: `Run the configured verification rules against the given files. Arguments are
paths or doublestar globs relative to the project root, e.g. 'internal/**/*.go'.
Without arguments every file the watcher would track is verified.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, args, opts)
		},
	}
	verifyCmd.Flags().StringVar(&opts.strategy, "strategy", "", "override the verification strategy (parallel, sequential, critical-first, fail-fast)")
	verifyCmd.Flags().StringVar(&opts.editID, "edit-id", "", "edit id recorded on the result")
	return verifyCmd
}

func runVerify(cmd *cobra.Command, args []string, opts *verifyOptions) error {
	ctx, span := telemetry.StartCommandSpan(cmd.Context(), "verify")
	defer span.End()

	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}
	cfg, err := cmdCtx.LoadConfig()
	if err != nil {
		return err
	}
	if opts.strategy != "" {
		cfg.Verification.Strategy = verify.Strategy(opts.strategy)
	}

	logger := cmdCtx.Logger(cfg)
	s, _, err := cmdCtx.NewSession(cfg, logger, 0)
	if err != nil {
		return err
	}
	defer cmdCtx.CloseSession(s, logger)

	paths, err := collectFiles(s.Tracker.Root(), cfg, args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New(errors.ErrCodeFileNotTracked, "no files matched").
			WithSuggestion("Pass paths or globs relative to --root")
	}

	// The consistency rule reads relationships from the tracker
	if err := trackAll(s.Tracker, paths); err != nil {
		return err
	}

	result, err := s.Engine.Verify(ctx, paths, opts.editID)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	if err := cmdCtx.Render(ux.VerificationView{Result: result}); err != nil {
		return err
	}

	if result.Status == verify.StatusFailed {
		err := errors.New(errors.ErrCodeRuleFailed, result.Summary())
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.RecordSuccess(span)
	return nil
}

// collectFiles expands args into sorted, root-relative slash paths.
// Existing paths are taken literally, anything else is a doublestar glob.
// No args selects every file the watcher configuration matches.
func collectFiles(root string, cfg *config.Config, args []string) ([]string, error) {
	if len(args) == 0 {
		return files.Scan(root, cfg.Watcher)
	}

	fsys := os.DirFS(root)
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, arg := range args {
		rel := arg
		if filepath.IsAbs(arg) {
			r, err := filepath.Rel(root, arg)
			if err != nil {
				return nil, err
			}
			rel = r
		}
		rel = filepath.ToSlash(filepath.Clean(rel))

		if info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel))); err == nil && !info.IsDir() {
			add(rel)
			continue
		}
		if !doublestar.ValidatePattern(rel) {
			return nil, errors.New(errors.ErrCodeFileNotTracked, fmt.Sprintf("invalid path or glob: %s", arg))
		}
		matches, err := doublestar.Glob(fsys, rel, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", arg, err)
		}
		for _, m := range matches {
			add(m)
		}
	}
	sort.Strings(out)
	return out, nil
}

// trackAll reads paths into the tracker
func trackAll(t *files.Tracker, paths []string) error {
	for _, p := range paths {
		if _, err := t.AccessFile(p, nil); err != nil {
			return err
		}
	}
	return nil
}
