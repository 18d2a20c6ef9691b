// Package verify runs registered verification rules against the files
// touched by an edit.
//
// Rules are kept in registration order. Each run selects the enabled rules
// whose file patterns match, schedules them with the configured Strategy and
// records the outcome in the engine's history. Rule results are cached by
// (rule id, file set, edit id) so an identical re-run never calls a
// validator twice.
package verify

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/taskforge/internal/errors"
	"github.com/felixgeelhaar/taskforge/internal/events"
	"github.com/felixgeelhaar/taskforge/internal/log"
	"github.com/felixgeelhaar/taskforge/internal/metrics"
	"github.com/felixgeelhaar/taskforge/internal/telemetry"
)

// Config controls scheduling, retries and caching
type Config struct {
	Strategy              Strategy          `yaml:"strategy"`
	StopOnCriticalFailure bool              `yaml:"stop_on_critical_failure"`
	CacheEnabled          bool              `yaml:"cache_enabled"`
	CacheTTL              time.Duration     `yaml:"cache_ttl"`
	DefaultTimeout        time.Duration     `yaml:"default_timeout"`
	RetryDelay            time.Duration     `yaml:"retry_delay"`
	RetryJitter           bool              `yaml:"retry_jitter"`
	MaxConcurrency        int               `yaml:"max_concurrency"`
	HistoryLimit          int               `yaml:"history_limit"`
	WorkingDir            string            `yaml:"working_dir"`
	Env                   map[string]string `yaml:"env,omitempty"`

	// SkipBaselineRules leaves the registry empty on construction
	SkipBaselineRules bool `yaml:"skip_baseline_rules"`
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		Strategy:              StrategyCriticalFirst,
		StopOnCriticalFailure: true,
		CacheEnabled:          true,
		CacheTTL:              10 * time.Minute,
		DefaultTimeout:        30 * time.Second,
		RetryDelay:            500 * time.Millisecond,
		MaxConcurrency:        4,
		HistoryLimit:          100,
		WorkingDir:            ".",
	}
}

// Deps are the optional collaborators of an Engine
type Deps struct {
	Events  events.Publisher
	Metrics *metrics.Metrics
	Logger  *log.Logger
}

type registeredRule struct {
	Rule
	patterns []*regexp.Regexp
}

// Engine owns the rule registry, the result cache and the run history
type Engine struct {
	mu      sync.RWMutex
	rules   map[string]*registeredRule
	order   []string
	history map[string]*Result
	runs    []string

	config  Config
	cache   *Cache
	events  events.Publisher
	metrics *metrics.Metrics
	logger  *log.Logger

	// sleep is replaced in tests
	sleep func(d time.Duration) <-chan time.Time
}

// NewEngine creates an engine. Unless SkipBaselineRules is set, the
// syntax-check, type-check and lint rules are registered.
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategySequential
	}
	if err := cfg.Strategy.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStrategyUnknown, "invalid verification config", err)
	}

	pub := deps.Events
	if pub == nil {
		pub = events.Nop{}
	}
	e := &Engine{
		rules:   make(map[string]*registeredRule),
		history: make(map[string]*Result),
		config:  cfg,
		cache:   NewCache(cfg.CacheTTL),
		events:  pub,
		metrics: deps.Metrics,
		logger:  log.OrDiscard(deps.Logger).WithComponent("verify"),
		sleep:   time.After,
	}

	if !cfg.SkipBaselineRules {
		for _, r := range BaselineRules() {
			if err := e.RegisterRule(r); err != nil {
				return nil, err
			}
		}
	}
	return e, nil
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.config
}

// Cache returns the engine's shared cache
func (e *Engine) Cache() *Cache {
	return e.cache
}

// RegisterRule adds a rule, or replaces a rule with the same id in place
func (e *Engine) RegisterRule(rule Rule) error {
	if rule.ID == "" {
		return errors.New(errors.ErrCodeRuleInvalid, "rule id is required")
	}
	if rule.Type == "" {
		rule.Type = RuleTypeCustom
	}
	if err := rule.Type.Validate(); err != nil {
		return errors.Wrap(errors.ErrCodeRuleInvalid, fmt.Sprintf("rule %s is invalid", rule.ID), err)
	}
	if rule.Retries < 0 {
		return errors.New(errors.ErrCodeRuleInvalid, fmt.Sprintf("rule %s has negative retries", rule.ID))
	}
	if rule.Name == "" {
		rule.Name = rule.ID
	}

	reg := &registeredRule{Rule: rule}
	reg.Patterns = slices.Clone(rule.Patterns)
	for _, p := range rule.Patterns {
		re, err := globToRegexp(p)
		if err != nil {
			return errors.Wrap(errors.ErrCodeRuleInvalid, fmt.Sprintf("rule %s has invalid pattern %q", rule.ID, p), err)
		}
		reg.patterns = append(reg.patterns, re)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[rule.ID]; !exists {
		e.order = append(e.order, rule.ID)
	}
	e.rules[rule.ID] = reg
	e.logger.Debug("rule registered", "rule_id", rule.ID, "critical", rule.Critical, "enabled", rule.Enabled)
	return nil
}

// UnregisterRule removes a rule
func (e *Engine) UnregisterRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.rules[id]; !ok {
		return errors.NewRuleNotFoundError(id)
	}
	delete(e.rules, id)
	e.order = slices.DeleteFunc(e.order, func(v string) bool { return v == id })
	return nil
}

// SetRuleEnabled toggles a rule
func (e *Engine) SetRuleEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rules[id]
	if !ok {
		return errors.NewRuleNotFoundError(id)
	}
	r.Enabled = enabled
	return nil
}

// SetValidator swaps the validator of a registered rule
func (e *Engine) SetValidator(id string, v Validator) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rules[id]
	if !ok {
		return errors.NewRuleNotFoundError(id)
	}
	r.Validator = v
	return nil
}

// Rules returns the registered rules in registration order
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Rule, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.rules[id].Rule)
	}
	return out
}

// applicable returns copies of the enabled rules matching files, in
// registration order
func (e *Engine) applicable(files []string) []*registeredRule {
	return e.enabledRules(func(r *registeredRule) bool {
		return matchesAny(r.patterns, files)
	})
}

// enabledRules returns copies of the enabled rules in registration order,
// restricted to those keep accepts when keep is non-nil
func (e *Engine) enabledRules(keep func(*registeredRule) bool) []*registeredRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*registeredRule
	for _, id := range e.order {
		r := e.rules[id]
		if !r.Enabled || (keep != nil && !keep(r)) {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	return out
}

// GetResult returns a past verification result by id
func (e *Engine) GetResult(id string) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.history[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeResultNotFound, fmt.Sprintf("verification result not found: %s", id))
	}
	return r, nil
}

// History returns past results, oldest first
func (e *Engine) History() []*Result {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Result, 0, len(e.runs))
	for _, id := range e.runs {
		out = append(out, e.history[id])
	}
	return out
}

// ClearCache drops every cached rule result
func (e *Engine) ClearCache() {
	e.cache.Clear()
	e.logger.Debug("verification cache cleared")
}

func (e *Engine) remember(r *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history[r.ID] = r
	e.runs = append(e.runs, r.ID)
	if e.config.HistoryLimit > 0 && len(e.runs) > e.config.HistoryLimit {
		oldest := e.runs[0]
		e.runs = e.runs[1:]
		delete(e.history, oldest)
	}
}

// Verify runs every applicable rule against files. The returned error is
// non-nil only when ctx ended before all rules ran; the partial result is
// still returned and recorded.
func (e *Engine) Verify(ctx context.Context, files []string, editID string) (*Result, error) {
	rules := e.applicable(files)
	run := e.newResult(files, editID)

	ctx, span := telemetry.StartVerificationSpan(ctx, string(e.config.Strategy), len(files))
	defer span.End()

	e.logger.Info("verification started",
		"result_id", run.ID, "files", len(files), "rules", len(rules), "strategy", e.config.Strategy)
	e.events.Publish(events.New(events.VerificationStarted, run.ID, map[string]any{
		"edit_id":  editID,
		"files":    files,
		"rules":    ruleIDs(rules),
		"strategy": string(e.config.Strategy),
	}))

	run.Status = StatusRunning
	s := &scheduler{engine: e, files: files, editID: editID, results: make(map[string]*RuleResult, len(rules))}
	switch e.config.Strategy {
	case StrategyParallel:
		s.runParallel(ctx, rules)
	case StrategyCriticalFirst:
		s.runCriticalFirst(ctx, rules)
	case StrategyFailFast:
		s.runFailFast(ctx, rules)
	default:
		s.runSequential(ctx, rules)
	}

	e.finish(run, rules, s.results)
	e.metrics.RecordVerification(string(e.config.Strategy), string(run.Status))
	if run.Passed {
		telemetry.RecordSuccess(span)
	} else {
		telemetry.RecordError(span, fmt.Errorf("verification failed: %v", run.FailedRules))
	}

	if err := ctx.Err(); err != nil {
		return run, err
	}
	return run, nil
}

// VerifyEdit verifies the files of a successful edit. A failed edit yields a
// skipped result with every enabled rule skipped, whether or not it
// matches the edit's files.
func (e *Engine) VerifyEdit(ctx context.Context, edit EditResult, files []string, editID string) (*Result, error) {
	if len(files) == 0 {
		files = edit.Files
	}
	if edit.Success {
		return e.Verify(ctx, files, editID)
	}

	rules := e.enabledRules(nil)
	run := e.newResult(files, editID)
	e.events.Publish(events.New(events.VerificationStarted, run.ID, map[string]any{
		"edit_id":  editID,
		"files":    files,
		"rules":    ruleIDs(rules),
		"strategy": string(e.config.Strategy),
	}))

	results := make(map[string]*RuleResult, len(rules))
	for _, r := range rules {
		results[r.ID] = skipped(r.ID, "edit did not succeed")
	}
	e.aggregate(run, rules, results)
	run.Status = StatusSkipped
	run.Passed = false
	e.complete(run)
	e.logger.Info("verification skipped for failed edit", "result_id", run.ID, "edit_id", editID)
	e.metrics.RecordVerification(string(e.config.Strategy), string(run.Status))
	return run, nil
}

func (e *Engine) newResult(files []string, editID string) *Result {
	return &Result{
		ID:          uuid.NewString(),
		EditID:      editID,
		Files:       slices.Clone(files),
		Strategy:    e.config.Strategy,
		Status:      StatusPending,
		RuleResults: make(map[string]*RuleResult),
		StartedAt:   time.Now(),
	}
}

// finish aggregates rule results into run, stores it and publishes
// verification.completed
func (e *Engine) finish(run *Result, rules []*registeredRule, results map[string]*RuleResult) {
	e.aggregate(run, rules, results)
	e.complete(run)
}

// aggregate sorts rule results into run and derives its status. Rules that
// never ran are recorded as skipped.
func (e *Engine) aggregate(run *Result, rules []*registeredRule, results map[string]*RuleResult) {
	run.Passed = true
	anyRan := false
	for _, r := range rules {
		res, ok := results[r.ID]
		if !ok {
			res = skipped(r.ID, "not run")
		}
		run.RuleResults[r.ID] = res
		switch res.Status {
		case StatusPassed:
			anyRan = true
			run.PassedRules = append(run.PassedRules, r.ID)
		case StatusFailed:
			anyRan = true
			run.FailedRules = append(run.FailedRules, r.ID)
			if r.Critical {
				run.Passed = false
			}
		default:
			run.SkippedRules = append(run.SkippedRules, r.ID)
		}
	}

	switch {
	case !run.Passed:
		run.Status = StatusFailed
	case !anyRan && len(rules) > 0:
		run.Status = StatusSkipped
		run.Passed = false
	default:
		run.Status = StatusPassed
	}
}

func (e *Engine) complete(run *Result) {
	run.CompletedAt = time.Now()
	run.Duration = run.CompletedAt.Sub(run.StartedAt)

	e.remember(run)

	e.logger.Info("verification completed",
		"result_id", run.ID,
		"status", run.Status,
		"passed", run.Passed,
		"failed_rules", run.FailedRules,
		"skipped_rules", run.SkippedRules,
		"duration", run.Duration,
	)
	e.events.Publish(events.New(events.VerificationCompleted, run.ID, map[string]any{
		"edit_id":       run.EditID,
		"passed":        run.Passed,
		"status":        string(run.Status),
		"failed_rules":  run.FailedRules,
		"passed_rules":  run.PassedRules,
		"skipped_rules": run.SkippedRules,
		"duration_ms":   run.Duration.Milliseconds(),
	}))
}

func skipped(ruleID, reason string) *RuleResult {
	return &RuleResult{RuleID: ruleID, Status: StatusSkipped, Message: reason}
}

func ruleIDs(rules []*registeredRule) []string {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	return ids
}
