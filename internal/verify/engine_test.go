package verify

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/taskforge/internal/errors"
	"github.com/felixgeelhaar/taskforge/internal/events"
	"github.com/felixgeelhaar/taskforge/internal/metrics"
)

func testConfig(strategy Strategy) Config {
	cfg := DefaultConfig()
	cfg.Strategy = strategy
	cfg.SkipBaselineRules = true
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, rules ...Rule) (*Engine, *events.Recorder) {
	t.Helper()
	rec := events.NewRecorder()
	e, err := NewEngine(cfg, Deps{Events: rec})
	require.NoError(t, err)
	for _, r := range rules {
		require.NoError(t, e.RegisterRule(r))
	}
	return e, rec
}

// counter wraps a validator and counts its invocations
type counter struct {
	calls atomic.Int32
}

func (c *counter) validator(pass bool) Validator {
	return func(context.Context, *VerificationContext) (*RuleResult, error) {
		c.calls.Add(1)
		if pass {
			return Pass("ok"), nil
		}
		return Fail("nope", "something is wrong"), nil
	}
}

func rule(id string, critical bool, v Validator) Rule {
	return Rule{ID: id, Critical: critical, Enabled: true, Validator: v}
}

func TestVerify_CriticalFirstNonCriticalFailureStillPasses(t *testing.T) {
	var c counter
	e, _ := newTestEngine(t, testConfig(StrategyCriticalFirst),
		rule("critical-syntax", true, c.validator(true)),
		rule("lint", false, c.validator(false)),
	)

	res, err := e.Verify(context.Background(), []string{"a.ts"}, "")
	require.NoError(t, err)

	assert.True(t, res.Passed)
	assert.Equal(t, StatusPassed, res.Status)
	assert.Equal(t, []string{"lint"}, res.FailedRules)
	assert.Equal(t, []string{"critical-syntax"}, res.PassedRules)
	assert.Equal(t, "passed with non-critical failures: [lint]", res.Summary())
}

func TestVerify_CacheHitSkipsValidator(t *testing.T) {
	var c counter
	e, rec := newTestEngine(t, testConfig(StrategySequential), rule("r", true, c.validator(true)))
	ctx := context.Background()

	first, err := e.Verify(ctx, []string{"b.ts", "a.ts"}, "edit-1")
	require.NoError(t, err)
	second, err := e.Verify(ctx, []string{"a.ts", "b.ts"}, "edit-1")
	require.NoError(t, err)

	assert.Equal(t, int32(1), c.calls.Load())
	assert.False(t, first.RuleResults["r"].Cached)
	assert.True(t, second.RuleResults["r"].Cached)
	assert.True(t, second.Passed)
	assert.Len(t, rec.OfType(events.RuleStarted), 1)

	_, err = e.Verify(ctx, []string{"a.ts", "b.ts"}, "edit-2")
	require.NoError(t, err)
	assert.Equal(t, int32(2), c.calls.Load())

	e.ClearCache()
	_, err = e.Verify(ctx, []string{"a.ts", "b.ts"}, "edit-1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), c.calls.Load())
}

func TestVerify_CacheDisabled(t *testing.T) {
	var c counter
	cfg := testConfig(StrategySequential)
	cfg.CacheEnabled = false
	e, _ := newTestEngine(t, cfg, rule("r", true, c.validator(true)))

	for i := 0; i < 3; i++ {
		_, err := e.Verify(context.Background(), []string{"a.ts"}, "")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), c.calls.Load())
}

func TestVerify_CacheMetrics(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	e, err := NewEngine(testConfig(StrategySequential), Deps{Metrics: m})
	require.NoError(t, err)
	var c counter
	require.NoError(t, e.RegisterRule(rule("r", true, c.validator(true))))

	for i := 0; i < 3; i++ {
		_, err := e.Verify(context.Background(), []string{"a.ts"}, "")
		require.NoError(t, err)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses))
}

func TestVerify_CriticalFirstOrderingAndStop(t *testing.T) {
	var mu sync.Mutex
	var order []string
	track := func(id string, pass bool) Validator {
		return func(context.Context, *VerificationContext) (*RuleResult, error) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			if pass {
				return Pass(""), nil
			}
			return Fail("failed"), nil
		}
	}

	t.Run("critical rules run before non-critical ones", func(t *testing.T) {
		order = nil
		e, _ := newTestEngine(t, testConfig(StrategyCriticalFirst),
			rule("n1", false, track("n1", true)),
			rule("c1", true, track("c1", true)),
			rule("n2", false, track("n2", true)),
			rule("c2", true, track("c2", true)),
		)
		res, err := e.Verify(context.Background(), []string{"x"}, "")
		require.NoError(t, err)
		assert.True(t, res.Passed)
		require.Len(t, order, 4)
		assert.Equal(t, []string{"c1", "c2"}, order[:2])
	})

	t.Run("critical failure skips the rest", func(t *testing.T) {
		order = nil
		e, _ := newTestEngine(t, testConfig(StrategyCriticalFirst),
			rule("c1", true, track("c1", false)),
			rule("c2", true, track("c2", true)),
			rule("n1", false, track("n1", true)),
		)
		res, err := e.Verify(context.Background(), []string{"x"}, "")
		require.NoError(t, err)
		assert.False(t, res.Passed)
		assert.Equal(t, StatusFailed, res.Status)
		assert.Equal(t, []string{"c1"}, order)
		assert.Equal(t, []string{"c1"}, res.FailedRules)
		assert.Equal(t, []string{"c2", "n1"}, res.SkippedRules)
		assert.Equal(t, StatusSkipped, res.RuleResults["n1"].Status)
	})

	t.Run("without stop every rule runs", func(t *testing.T) {
		order = nil
		cfg := testConfig(StrategyCriticalFirst)
		cfg.StopOnCriticalFailure = false
		e, _ := newTestEngine(t, cfg,
			rule("c1", true, track("c1", false)),
			rule("n1", false, track("n1", true)),
		)
		res, err := e.Verify(context.Background(), []string{"x"}, "")
		require.NoError(t, err)
		assert.False(t, res.Passed)
		assert.Equal(t, []string{"c1", "n1"}, order)
		assert.Equal(t, []string{"n1"}, res.PassedRules)
	})
}

func TestVerify_FailFast(t *testing.T) {
	var a, b, c counter
	e, _ := newTestEngine(t, testConfig(StrategyFailFast),
		rule("a", false, a.validator(true)),
		rule("b", false, b.validator(false)),
		rule("c", true, c.validator(true)),
	)

	res, err := e.Verify(context.Background(), []string{"x"}, "")
	require.NoError(t, err)

	assert.Equal(t, int32(0), c.calls.Load())
	assert.Equal(t, []string{"a"}, res.PassedRules)
	assert.Equal(t, []string{"b"}, res.FailedRules)
	assert.Equal(t, []string{"c"}, res.SkippedRules)
	// only critical failures invalidate the run
	assert.True(t, res.Passed)
}

func TestVerify_ParallelRespectsConcurrencyLimit(t *testing.T) {
	cfg := testConfig(StrategyParallel)
	cfg.MaxConcurrency = 2

	var running, peak atomic.Int32
	slow := func(context.Context, *VerificationContext) (*RuleResult, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return Pass(""), nil
	}

	var rules []Rule
	for i := 0; i < 6; i++ {
		rules = append(rules, rule(fmt.Sprintf("r%d", i), i%2 == 0, slow))
	}
	e, _ := newTestEngine(t, cfg, rules...)

	res, err := e.Verify(context.Background(), []string{"x"}, "")
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Len(t, res.PassedRules, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestVerify_RuleTimeout(t *testing.T) {
	blocking := func(ctx context.Context, _ *VerificationContext) (*RuleResult, error) {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil, ctx.Err()
	}
	r := rule("slow", true, blocking)
	r.Timeout = 20 * time.Millisecond
	e, _ := newTestEngine(t, testConfig(StrategySequential), r)

	res, err := e.Verify(context.Background(), []string{"x"}, "")
	require.NoError(t, err)

	assert.False(t, res.Passed)
	rr := res.RuleResults["slow"]
	assert.Equal(t, StatusFailed, rr.Status)
	assert.Contains(t, rr.Message, "timed out")
	assert.Equal(t, 1, rr.Attempts)
}

func TestVerify_LinearRetryBackoff(t *testing.T) {
	var c counter
	r := rule("flaky", true, c.validator(false))
	r.Retries = 3
	cfg := testConfig(StrategySequential)
	cfg.RetryDelay = 100 * time.Millisecond
	e, rec := newTestEngine(t, cfg, r)

	var delays []time.Duration
	e.sleep = func(d time.Duration) <-chan time.Time {
		delays = append(delays, d)
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}

	res, err := e.Verify(context.Background(), []string{"x"}, "")
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}, delays)
	assert.Equal(t, int32(4), c.calls.Load())
	assert.Equal(t, 4, res.RuleResults["flaky"].Attempts)
	assert.Equal(t, []string{"something is wrong"}, res.RuleResults["flaky"].Errors)
	assert.Len(t, rec.OfType(events.RuleFailed), 1)
}

func TestVerify_RetrySucceeds(t *testing.T) {
	var calls atomic.Int32
	v := func(context.Context, *VerificationContext) (*RuleResult, error) {
		if calls.Add(1) == 1 {
			return nil, stderrors.New("transient")
		}
		return Pass("recovered"), nil
	}
	r := rule("r", true, v)
	r.Retries = 2
	e, _ := newTestEngine(t, testConfig(StrategySequential), r)

	res, err := e.Verify(context.Background(), []string{"x"}, "")
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 2, res.RuleResults["r"].Attempts)
	assert.Equal(t, "recovered", res.RuleResults["r"].Message)
}

func TestVerify_ErrorsAreNotCached(t *testing.T) {
	var calls atomic.Int32
	v := func(context.Context, *VerificationContext) (*RuleResult, error) {
		calls.Add(1)
		return nil, stderrors.New("boom")
	}
	e, _ := newTestEngine(t, testConfig(StrategySequential), rule("r", true, v))

	res, err := e.Verify(context.Background(), []string{"x"}, "")
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, "boom", res.RuleResults["r"].Message)

	_, err = e.Verify(context.Background(), []string{"x"}, "")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestVerify_FailedResultsAreNotCached(t *testing.T) {
	var calls atomic.Int32
	flaky := func(context.Context, *VerificationContext) (*RuleResult, error) {
		if calls.Add(1) == 1 {
			return Fail("flaky", "first run fails"), nil
		}
		return Pass("ok"), nil
	}
	cfg := testConfig(StrategySequential)
	e, _ := newTestEngine(t, cfg, rule("r", true, flaky))
	ctx := context.Background()

	first, err := e.Verify(ctx, []string{"a.ts"}, "edit-1")
	require.NoError(t, err)
	assert.False(t, first.Passed)

	second, err := e.Verify(ctx, []string{"a.ts"}, "edit-1")
	require.NoError(t, err)
	assert.True(t, second.Passed)
	assert.False(t, second.RuleResults["r"].Cached)
	assert.Equal(t, int32(2), calls.Load())

	third, err := e.Verify(ctx, []string{"a.ts"}, "edit-1")
	require.NoError(t, err)
	assert.True(t, third.RuleResults["r"].Cached)
	assert.Equal(t, int32(2), calls.Load())
}

func TestVerify_PanickingValidator(t *testing.T) {
	v := func(context.Context, *VerificationContext) (*RuleResult, error) {
		panic("kaboom")
	}
	e, _ := newTestEngine(t, testConfig(StrategySequential), rule("r", false, v))

	res, err := e.Verify(context.Background(), []string{"x"}, "")
	require.NoError(t, err)
	assert.Contains(t, res.RuleResults["r"].Message, "validator panicked: kaboom")
}

func TestVerify_RuleWithoutValidator(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(StrategySequential), Rule{ID: "empty", Enabled: true, Critical: true})

	res, err := e.Verify(context.Background(), []string{"x"}, "")
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Contains(t, res.RuleResults["empty"].Message, string(errors.ErrCodeNoValidator))
}

func TestVerify_CancelledContext(t *testing.T) {
	var c counter
	e, _ := newTestEngine(t, testConfig(StrategySequential), rule("r", true, c.validator(true)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := e.Verify(ctx, []string{"x"}, "")

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, []string{"r"}, res.SkippedRules)
	assert.Equal(t, int32(0), c.calls.Load())
}

func TestVerify_PatternsSelectRulesAndFiles(t *testing.T) {
	var seen []string
	tsOnly := Rule{
		ID:       "ts",
		Enabled:  true,
		Patterns: []string{"*.ts"},
		Validator: func(_ context.Context, vc *VerificationContext) (*RuleResult, error) {
			seen = vc.Files
			return Pass(""), nil
		},
	}
	var py counter
	pyOnly := rule("py", false, py.validator(true))
	pyOnly.Patterns = []string{"*.py"}
	e, _ := newTestEngine(t, testConfig(StrategySequential), tsOnly, pyOnly)

	res, err := e.Verify(context.Background(), []string{"src/a.ts", "README.md"}, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"ts"}, res.PassedRules)
	assert.NotContains(t, res.RuleResults, "py")
	assert.Equal(t, []string{"src/a.ts"}, seen)
	assert.Equal(t, int32(0), py.calls.Load())
}

func TestVerify_DisabledRuleIgnored(t *testing.T) {
	var c counter
	e, _ := newTestEngine(t, testConfig(StrategySequential), rule("r", true, c.validator(false)))
	require.NoError(t, e.SetRuleEnabled("r", false))

	res, err := e.Verify(context.Background(), []string{"x"}, "")
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Empty(t, res.RuleResults)
	assert.Equal(t, int32(0), c.calls.Load())
}

func TestVerifyEdit(t *testing.T) {
	var c counter
	e, rec := newTestEngine(t, testConfig(StrategySequential),
		rule("a", true, c.validator(true)),
		rule("b", false, c.validator(true)),
	)

	res, err := e.VerifyEdit(context.Background(), EditResult{Success: false, Files: []string{"x.ts"}}, nil, "edit-9")
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.False(t, res.Passed)
	assert.Equal(t, []string{"a", "b"}, res.SkippedRules)
	assert.Equal(t, []string{"x.ts"}, res.Files)
	assert.Equal(t, int32(0), c.calls.Load())
	assert.Len(t, rec.OfType(events.VerificationCompleted), 1)

	res, err = e.VerifyEdit(context.Background(), EditResult{Success: true, Files: []string{"x.ts"}}, nil, "edit-9")
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, int32(2), c.calls.Load())
}

func TestVerifyEdit_FailedEditSkipsNonMatchingRules(t *testing.T) {
	var c counter
	tsOnly := rule("ts-lint", true, c.validator(true))
	tsOnly.Patterns = []string{"*.ts"}
	e, rec := newTestEngine(t, testConfig(StrategyCriticalFirst), tsOnly)

	res, err := e.VerifyEdit(context.Background(), EditResult{Success: false, Files: []string{"main.py"}}, nil, "edit-3")
	require.NoError(t, err)

	assert.Equal(t, StatusSkipped, res.Status)
	assert.False(t, res.Passed)
	assert.Equal(t, []string{"ts-lint"}, res.SkippedRules)
	assert.Equal(t, StatusSkipped, res.RuleResults["ts-lint"].Status)
	assert.Equal(t, int32(0), c.calls.Load())

	completed := rec.OfType(events.VerificationCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, false, completed[0].Data["passed"])
	assert.Equal(t, string(StatusSkipped), completed[0].Data["status"])
}

func TestVerifyEdit_FailedEditWithoutRules(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(StrategySequential))

	res, err := e.VerifyEdit(context.Background(), EditResult{Success: false, Files: []string{"a.ts"}}, nil, "")
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.False(t, res.Passed)
	assert.Empty(t, res.SkippedRules)
}

func TestVerify_PublishesEvents(t *testing.T) {
	var c counter
	e, rec := newTestEngine(t, testConfig(StrategySequential),
		rule("ok", true, c.validator(true)),
		rule("bad", false, c.validator(false)),
	)

	_, err := e.Verify(context.Background(), []string{"x"}, "")
	require.NoError(t, err)

	assert.Equal(t, []events.EventType{
		events.VerificationStarted,
		events.RuleStarted,
		events.RuleCompleted,
		events.RuleStarted,
		events.RuleFailed,
		events.VerificationCompleted,
	}, rec.Types())
}

func TestHistory(t *testing.T) {
	cfg := testConfig(StrategySequential)
	cfg.HistoryLimit = 2
	var c counter
	e, _ := newTestEngine(t, cfg, rule("r", true, c.validator(true)))

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := e.Verify(context.Background(), []string{fmt.Sprintf("f%d", i)}, "")
		require.NoError(t, err)
		ids = append(ids, res.ID)
	}

	history := e.History()
	require.Len(t, history, 2)
	assert.Equal(t, ids[1], history[0].ID)

	got, err := e.GetResult(ids[2])
	require.NoError(t, err)
	assert.Equal(t, ids[2], got.ID)

	_, err = e.GetResult(ids[0])
	assert.True(t, errors.HasCode(err, errors.ErrCodeResultNotFound))
}

func TestRegisterRule(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(StrategySequential))

	tests := []struct {
		name string
		rule Rule
		code errors.ErrorCode
	}{
		{"missing id", Rule{}, errors.ErrCodeRuleInvalid},
		{"unknown type", Rule{ID: "x", Type: "magic"}, errors.ErrCodeRuleInvalid},
		{"negative retries", Rule{ID: "x", Retries: -1}, errors.ErrCodeRuleInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.RegisterRule(tt.rule)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
		})
	}

	require.NoError(t, e.RegisterRule(Rule{ID: "x", Enabled: true}))
	require.NoError(t, e.RegisterRule(Rule{ID: "y", Enabled: true}))
	require.NoError(t, e.RegisterRule(Rule{ID: "x", Name: "replaced", Enabled: true}))
	rules := e.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "replaced", rules[0].Name)
	assert.Equal(t, RuleTypeCustom, rules[1].Type)

	require.NoError(t, e.UnregisterRule("x"))
	assert.True(t, errors.HasCode(e.UnregisterRule("x"), errors.ErrCodeRuleNotFound))
	assert.True(t, errors.HasCode(e.SetValidator("x", nil), errors.ErrCodeRuleNotFound))
}

func TestNewEngine(t *testing.T) {
	e, err := NewEngine(DefaultConfig(), Deps{})
	require.NoError(t, err)
	var ids []string
	for _, r := range e.Rules() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{RuleSyntaxCheck, RuleTypeCheck, RuleLint}, ids)

	cfg := DefaultConfig()
	cfg.Strategy = "random"
	_, err = NewEngine(cfg, Deps{})
	assert.True(t, errors.HasCode(err, errors.ErrCodeStrategyUnknown))
}
