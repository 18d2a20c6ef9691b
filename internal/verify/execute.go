package verify

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/taskforge/internal/errors"
	"github.com/felixgeelhaar/taskforge/internal/events"
	"github.com/felixgeelhaar/taskforge/internal/telemetry"
)

// scheduler runs the rules of one verification call
type scheduler struct {
	engine *Engine
	files  []string
	editID string

	mu      sync.Mutex
	results map[string]*RuleResult
}

func (s *scheduler) record(r *RuleResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.RuleID] = r
}

// skipRest marks every rule from rules without a result as skipped
func (s *scheduler) skipRest(rules []*registeredRule, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rules {
		if _, done := s.results[r.ID]; !done {
			s.results[r.ID] = skipped(r.ID, reason)
		}
	}
}

func (s *scheduler) runSequential(ctx context.Context, rules []*registeredRule) {
	for _, r := range rules {
		if ctx.Err() != nil {
			break
		}
		s.record(s.engine.executeRule(ctx, r, s.files, s.editID))
	}
}

func (s *scheduler) runParallel(ctx context.Context, rules []*registeredRule) {
	var g errgroup.Group
	if n := s.engine.config.MaxConcurrency; n > 0 {
		g.SetLimit(n)
	}
	for _, r := range rules {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			s.record(s.engine.executeRule(ctx, r, s.files, s.editID))
			return nil
		})
	}
	_ = g.Wait()
}

// runCriticalFirst runs critical rules one by one, then the non-critical
// rules concurrently. With StopOnCriticalFailure the first critical failure
// skips everything that has not run.
func (s *scheduler) runCriticalFirst(ctx context.Context, rules []*registeredRule) {
	var critical, rest []*registeredRule
	for _, r := range rules {
		if r.Critical {
			critical = append(critical, r)
		} else {
			rest = append(rest, r)
		}
	}

	for _, r := range critical {
		if ctx.Err() != nil {
			return
		}
		res := s.engine.executeRule(ctx, r, s.files, s.editID)
		s.record(res)
		if !res.Passed && s.engine.config.StopOnCriticalFailure {
			s.engine.logger.Warn("critical rule failed, skipping remaining rules", "rule_id", r.ID)
			s.skipRest(rules, fmt.Sprintf("critical rule %s failed", r.ID))
			return
		}
	}

	s.runParallel(ctx, rest)
}

// runFailFast stops at the first failing rule, critical or not
func (s *scheduler) runFailFast(ctx context.Context, rules []*registeredRule) {
	for _, r := range rules {
		if ctx.Err() != nil {
			return
		}
		res := s.engine.executeRule(ctx, r, s.files, s.editID)
		s.record(res)
		if !res.Passed {
			s.skipRest(rules, fmt.Sprintf("rule %s failed", r.ID))
			return
		}
	}
}

// executeRule returns the cached result for the run key or invokes the
// validator with timeout and linear-backoff retries.
func (e *Engine) executeRule(ctx context.Context, rule *registeredRule, files []string, editID string) *RuleResult {
	key := CacheKey(rule.ID, files, editID)
	if e.config.CacheEnabled {
		if cached, ok := e.cache.Get(key); ok {
			e.metrics.RecordCache(true)
			cached.Cached = true
			e.logger.Debug("rule cache hit", "rule_id", rule.ID)
			e.publishRule(cached)
			return cached
		}
		e.metrics.RecordCache(false)
	}

	ctx, span := telemetry.StartRuleSpan(ctx, rule.ID, rule.Critical)
	defer span.End()

	e.events.Publish(events.New(events.RuleStarted, rule.ID, map[string]any{
		"rule_id":  rule.ID,
		"critical": rule.Critical,
		"files":    len(files),
	}))

	vc := &VerificationContext{
		Files:      filterFiles(rule.patterns, files),
		EditID:     editID,
		WorkingDir: e.config.WorkingDir,
		Env:        e.config.Env,
		Cache:      e.cache,
	}

	start := time.Now()
	var (
		res     *RuleResult
		lastErr error
	)
	attempts := rule.Retries + 1
	attempt := 1
	for ; attempt <= attempts; attempt++ {
		if attempt > 1 && !e.wait(ctx, attempt-1) {
			lastErr = ctx.Err()
			break
		}
		res, lastErr = e.invoke(ctx, rule, vc)
		if lastErr == nil && res.Passed {
			break
		}
		if lastErr != nil {
			e.logger.WithError(lastErr).Debug("rule attempt errored", "rule_id", rule.ID, "attempt", attempt)
		}
		if ctx.Err() != nil {
			break
		}
	}
	if attempt > attempts {
		attempt = attempts
	}

	if lastErr != nil {
		res = Fail(lastErr.Error())
		telemetry.RecordError(span, lastErr)
	} else {
		res = res.clone()
		if res.Passed {
			res.Status = StatusPassed
			telemetry.RecordSuccess(span)
		} else {
			res.Status = StatusFailed
			telemetry.RecordError(span, fmt.Errorf("rule %s failed", rule.ID))
		}
	}
	res.RuleID = rule.ID
	res.Attempts = attempt
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}

	// Only passing results are cached
	if e.config.CacheEnabled && lastErr == nil && res.Passed {
		e.cache.Put(key, res)
	}

	e.metrics.RecordRule(rule.ID, res.Passed, res.Duration)
	e.publishRule(res)
	return res
}

func (e *Engine) publishRule(res *RuleResult) {
	eventType := events.RuleCompleted
	if !res.Passed {
		eventType = events.RuleFailed
	}
	e.events.Publish(events.New(eventType, res.RuleID, map[string]any{
		"rule_id":     res.RuleID,
		"passed":      res.Passed,
		"message":     res.Message,
		"cached":      res.Cached,
		"attempts":    res.Attempts,
		"duration_ms": res.Duration.Milliseconds(),
	}))
}

// invoke runs a single validator attempt under the rule timeout
func (e *Engine) invoke(ctx context.Context, rule *registeredRule, vc *VerificationContext) (*RuleResult, error) {
	validator := rule.Validator
	if validator == nil && rule.Command != "" {
		validator = CommandValidator(rule.Command)
	}
	if validator == nil {
		return nil, errors.New(errors.ErrCodeNoValidator, fmt.Sprintf("rule %s has neither a validator nor a command", rule.ID))
	}

	timeout := rule.Timeout
	if timeout <= 0 {
		timeout = e.config.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		res *RuleResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("validator panicked: %v", r)}
			}
		}()
		res, err := validator(ctx, vc)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil && out.res == nil {
			return nil, fmt.Errorf("validator returned no result")
		}
		return out.res, out.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrap(errors.ErrCodeRuleTimeout,
				fmt.Sprintf("rule %s timed out after %s", rule.ID, timeout), ctx.Err())
		}
		return nil, ctx.Err()
	}
}

// wait sleeps for the linear backoff of the given retry number
func (e *Engine) wait(ctx context.Context, retry int) bool {
	delay := e.config.RetryDelay * time.Duration(retry)
	if e.config.RetryJitter && e.config.RetryDelay > 1 {
		delay += rand.N(e.config.RetryDelay / 2)
	}
	if delay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-e.sleep(delay):
		return true
	}
}
