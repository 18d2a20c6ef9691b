// Package session wires one planner, verification engine and file tracker to
// a shared event bus.
//
// A Session is the unit of ownership: nothing in taskforge is process-global,
// so two sessions never observe each other's plans, cache or tracked files.
// The session is also the planner's EditVerifier. Files reported by an edit
// task are re-tracked, verified, and a failed verification turns into a
// debug task appended to the plan.
package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/felixgeelhaar/taskforge/internal/config"
	"github.com/felixgeelhaar/taskforge/internal/domain"
	"github.com/felixgeelhaar/taskforge/internal/errors"
	"github.com/felixgeelhaar/taskforge/internal/events"
	"github.com/felixgeelhaar/taskforge/internal/exec"
	"github.com/felixgeelhaar/taskforge/internal/files"
	"github.com/felixgeelhaar/taskforge/internal/hooks"
	"github.com/felixgeelhaar/taskforge/internal/journal"
	"github.com/felixgeelhaar/taskforge/internal/log"
	"github.com/felixgeelhaar/taskforge/internal/metrics"
	"github.com/felixgeelhaar/taskforge/internal/plan"
	"github.com/felixgeelhaar/taskforge/internal/verify"
)

// DefaultMaxFixAttempts bounds how many debug tasks a single edit can spawn
const DefaultMaxFixAttempts = 2

// Context keys set on follow-up task specs
const (
	ContextFiles        = "files"
	ContextFixAttempt   = "fix_attempt"
	ContextFollowUpOf   = "follow_up_of"
	ContextVerification = "verification_result"
	ContextErrors       = "verification_errors"
)

// maxFollowUpErrors caps the rule errors copied into a follow-up task
const maxFollowUpErrors = 10

// Options are the optional collaborators of a Session
type Options struct {
	// Executor performs plan tasks. Nil runs task commands with an
	// exec.Executor rooted at the tracker root.
	Executor plan.Executor

	Logger *log.Logger

	// Registerer receives the session metrics. Nil disables metrics.
	Registerer prometheus.Registerer

	// MaxFixAttempts bounds the chain of debug tasks per edit
	// (0 = DefaultMaxFixAttempts, negative disables follow-ups)
	MaxFixAttempts int
}

// Session owns the components of one taskforge run
type Session struct {
	ID string

	Bus     *events.Bus
	Planner *plan.Planner
	Engine  *verify.Engine
	Tracker *files.Tracker
	Metrics *metrics.Metrics

	config      *config.Config
	logger      *log.Logger
	maxAttempts int

	hooks   *hooks.Dispatcher
	journal *journal.Writer
}

// New builds a session from cfg. A nil cfg uses config.Default().
func New(cfg *config.Config, opts Options) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := log.OrDiscard(opts.Logger).With("session_id", id)

	var m *metrics.Metrics
	if opts.Registerer != nil {
		m = metrics.NewMetrics(opts.Registerer)
	}
	bus := events.NewBus(logger)

	tracker := files.NewTracker(cfg.Tracker, files.Deps{
		Events:  bus,
		Metrics: m,
		Logger:  logger,
	})

	vcfg := cfg.Verification.Config
	if vcfg.WorkingDir == "" || vcfg.WorkingDir == "." {
		vcfg.WorkingDir = tracker.Root()
	}
	engine, err := verify.NewEngine(vcfg, verify.Deps{
		Events:  bus,
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Verification.ConsistencyRule {
		if err := engine.RegisterRule(verify.NewConsistencyRule(tracker, true)); err != nil {
			return nil, err
		}
	}
	for _, r := range cfg.Verification.Rules {
		if err := engine.RegisterRule(r.Rule()); err != nil {
			return nil, err
		}
	}

	s := &Session{
		ID:          id,
		Bus:         bus,
		Tracker:     tracker,
		Engine:      engine,
		Metrics:     m,
		config:      cfg,
		logger:      logger.WithComponent("session"),
		maxAttempts: opts.MaxFixAttempts,
	}
	if s.maxAttempts == 0 {
		s.maxAttempts = DefaultMaxFixAttempts
	}
	executor := opts.Executor
	if executor == nil {
		executor = exec.New(cfg.Executor, tracker.Root(), logger)
	}
	s.Planner = plan.NewPlanner(cfg.Planner, plan.Deps{
		Executor: executor,
		Verifier: s,
		Events:   bus,
		Metrics:  m,
		Logger:   logger,
	})

	if err := s.attachObservers(); err != nil {
		return nil, err
	}

	s.logger.Debug("session created",
		"root", tracker.Root(), "rules", len(engine.Rules()), "strategy", vcfg.Strategy)
	return s, nil
}

// attachObservers subscribes the journal and the configured hooks to the bus
func (s *Session) attachObservers() error {
	cfg := s.config
	if cfg.Journal.Enabled {
		jcfg := cfg.Journal
		if !filepath.IsAbs(jcfg.Dir) {
			jcfg.Dir = filepath.Join(s.Tracker.Root(), jcfg.Dir)
		}
		w, err := journal.Open(jcfg, s.ID, s.logger)
		if err != nil {
			return err
		}
		s.journal = w
		s.Bus.SubscribeAll(w.Handle)
	}

	if len(cfg.Hooks) > 0 {
		reg := hooks.NewRegistry(s.Tracker.Root())
		for _, h := range cfg.Hooks {
			if err := reg.Register(h); err != nil {
				return errors.Wrap(errors.ErrCodeConfigInvalid, "invalid hook", err)
			}
		}
		s.hooks = hooks.NewDispatcher(reg, s.logger)
		s.Bus.SubscribeAll(s.hooks.Handle)
	}
	return nil
}

// Close waits for queued hooks until ctx is done and closes the journal
func (s *Session) Close(ctx context.Context) error {
	var errs []error
	if s.hooks != nil {
		errs = append(errs, s.hooks.Close(ctx))
	}
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
	}
	return stderrors.Join(errs...)
}

// HookResults returns the hook executions of this session
func (s *Session) HookResults() []hooks.ExecutionResult {
	if s.hooks == nil {
		return nil
	}
	return s.hooks.Results()
}

// JournalPath returns the journal file, or "" when the journal is off
func (s *Session) JournalPath() string {
	if s.journal == nil {
		return ""
	}
	return s.journal.Path()
}

// Config returns the configuration the session was built from
func (s *Session) Config() *config.Config {
	return s.config
}

// Run creates a plan for goal and executes it
func (s *Session) Run(ctx context.Context, goal string, specs []plan.TaskSpec) (*plan.Plan, bool, error) {
	p, err := s.Planner.CreatePlan(goal, specs)
	if err != nil {
		return nil, false, err
	}
	ok, err := s.Planner.ExecutePlan(ctx, p.ID)
	final, getErr := s.Planner.GetPlan(p.ID)
	if getErr != nil {
		return nil, false, getErr
	}
	return final, ok, err
}

// Watch tracks the files already under the root, then feeds on-disk
// changes into the tracker until ctx is done. onChange may be nil.
func (s *Session) Watch(ctx context.Context, onChange func(files.WatchEvent)) error {
	w, err := files.NewWatcher(s.Tracker, s.config.Watcher)
	if err != nil {
		return err
	}
	defer w.Close()
	w.OnChange = onChange

	n, err := w.TrackExisting()
	if err != nil {
		return err
	}
	s.logger.Info("watching", "root", s.Tracker.Root(), "files", n)
	return w.Run(ctx)
}

// VerifyTask implements plan.EditVerifier. The files named by the task
// result are re-read into the tracker, linked as modified together and run
// through the engine. It returns nil when the task reported no files.
func (s *Session) VerifyTask(ctx context.Context, planID string, task *plan.TaskNode) (*plan.VerificationOutcome, error) {
	out := ParseEditOutput(task.Result)
	if len(out.Files) == 0 {
		out.Files = contextFiles(task.Context)
	}
	if len(out.Files) == 0 {
		s.logger.Debug("edit task reported no files", "plan_id", planID, "task_id", task.ID)
		return nil, nil
	}

	paths := s.track(task, out)
	if len(paths) > 1 {
		s.Tracker.RecordCoModification(paths)
	}

	editID := planID + ":" + task.ID
	result, err := s.Engine.VerifyEdit(ctx, verify.EditResult{Success: out.Success, Files: paths}, paths, editID)
	if err != nil {
		return nil, err
	}

	outcome := &plan.VerificationOutcome{
		Passed:   result.Passed,
		ResultID: result.ID,
		Summary:  result.Summary(),
	}
	if !result.Passed && result.Status != verify.StatusSkipped {
		if spec, ok := s.followUp(task, result, paths); ok {
			outcome.FollowUps = []plan.TaskSpec{spec}
		}
	}

	s.logger.Info("edit verified",
		"plan_id", planID, "task_id", task.ID, "files", len(paths),
		"passed", result.Passed, "result_id", result.ID)
	return outcome, nil
}

// track feeds the edited files to the tracker and returns their normalized
// paths. Files that vanished are dropped from the tracker.
func (s *Session) track(task *plan.TaskNode, out EditOutput) []string {
	paths := make([]string, 0, len(out.Files))
	seen := make(map[string]bool, len(out.Files))
	for _, f := range out.Files {
		norm := s.Tracker.Normalize(f)
		if seen[norm] {
			continue
		}
		seen[norm] = true

		var content []byte
		if c, ok := out.Contents[f]; ok {
			content = []byte(c)
		}
		_, err := s.Tracker.ModifyFile(norm, content, task.Description, out.LinesChanged[f])
		switch {
		case err == nil:
			paths = append(paths, norm)
		case isNotExist(err):
			if _, tracked := s.Tracker.GetFile(norm); tracked {
				if err := s.Tracker.DeleteFile(norm); err != nil {
					s.logger.WithError(err).Warn("could not untrack deleted file", "path", norm)
				}
			}
		default:
			s.logger.WithError(err).Warn("could not track edited file", "task_id", task.ID, "path", norm)
			paths = append(paths, norm)
		}
	}
	return paths
}

// followUp builds the debug task that fixes a failed verification
func (s *Session) followUp(task *plan.TaskNode, result *verify.Result, paths []string) (plan.TaskSpec, bool) {
	if s.maxAttempts < 0 {
		return plan.TaskSpec{}, false
	}
	attempt := fixAttempt(task.Context) + 1
	if attempt > s.maxAttempts {
		s.logger.Warn("fix attempts exhausted", "task_id", task.ID, "attempts", attempt-1)
		return plan.TaskSpec{}, false
	}

	var errs []string
	for _, id := range result.FailedRules {
		for _, e := range result.RuleResults[id].Errors {
			if len(errs) == maxFollowUpErrors {
				break
			}
			errs = append(errs, id+": "+e)
		}
	}

	return plan.TaskSpec{
		Description:  fmt.Sprintf("Fix %s after %s", strings.Join(result.FailedRules, ", "), task.ID),
		Type:         domain.TaskTypeDebug,
		Dependencies: []string{task.ID},
		Context: map[string]any{
			ContextFiles:        paths,
			ContextFixAttempt:   attempt,
			ContextFollowUpOf:   task.ID,
			ContextVerification: result.ID,
			ContextErrors:       errs,
		},
	}, true
}

func fixAttempt(ctx map[string]any) int {
	switch v := ctx[ContextFixAttempt].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func contextFiles(ctx map[string]any) []string {
	return stringList(ctx[ContextFiles])
}

func isNotExist(err error) bool {
	return errors.HasCode(err, errors.ErrCodeFileReadFailed) && stderrors.Is(err, fs.ErrNotExist)
}
