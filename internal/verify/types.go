package verify

import (
	"context"
	"fmt"
	"time"
)

// RuleType classifies a verification rule
type RuleType string

const (
	RuleTypeSyntax      RuleType = "syntax"
	RuleTypeType        RuleType = "type"
	RuleTypeLint        RuleType = "lint"
	RuleTypeTest        RuleType = "test"
	RuleTypeSecurity    RuleType = "security"
	RuleTypePerformance RuleType = "performance"
	RuleTypeCustom      RuleType = "custom"
)

// Validate checks that the rule type is known
func (t RuleType) Validate() error {
	switch t {
	case RuleTypeSyntax, RuleTypeType, RuleTypeLint, RuleTypeTest,
		RuleTypeSecurity, RuleTypePerformance, RuleTypeCustom:
		return nil
	}
	return fmt.Errorf("unknown rule type %q", string(t))
}

// Status is the state of a verification run or a single rule
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Strategy decides how applicable rules are scheduled
type Strategy string

const (
	StrategySequential    Strategy = "sequential"
	StrategyParallel      Strategy = "parallel"
	StrategyCriticalFirst Strategy = "critical-first"
	StrategyFailFast      Strategy = "fail-fast"
)

// Validate checks that the strategy is known
func (s Strategy) Validate() error {
	switch s {
	case StrategySequential, StrategyParallel, StrategyCriticalFirst, StrategyFailFast:
		return nil
	}
	return fmt.Errorf("unknown verification strategy %q", string(s))
}

// Validator checks a set of files. A returned error counts as a failed
// attempt and is retried like a failing result.
type Validator func(ctx context.Context, vc *VerificationContext) (*RuleResult, error)

// Rule is a registered verification rule
type Rule struct {
	ID       string        `yaml:"id"`
	Name     string        `yaml:"name"`
	Type     RuleType      `yaml:"type"`
	Critical bool          `yaml:"critical"`
	Enabled  bool          `yaml:"enabled"`
	Timeout  time.Duration `yaml:"timeout"`
	Retries  int           `yaml:"retries"`

	// Patterns restrict the rule to matching files; empty means all files
	Patterns []string `yaml:"patterns"`

	// Command is run through the shell when Validator is nil
	Command string `yaml:"command"`

	Validator Validator `yaml:"-"`
}

// VerificationContext is what a validator sees
type VerificationContext struct {
	Files      []string
	EditID     string
	WorkingDir string
	Env        map[string]string
	Cache      *Cache
}

// RuleResult is the outcome of one rule in one run
type RuleResult struct {
	RuleID   string         `json:"rule_id"`
	Status   Status         `json:"status"`
	Passed   bool           `json:"passed"`
	Message  string         `json:"message,omitempty"`
	Errors   []string       `json:"errors,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
	Duration time.Duration  `json:"duration"`
	Attempts int            `json:"attempts"`
	Cached   bool           `json:"cached,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Pass returns a passing result with an optional message
func Pass(message string) *RuleResult {
	return &RuleResult{Passed: true, Status: StatusPassed, Message: message}
}

// Fail returns a failing result carrying the given errors
func Fail(message string, errs ...string) *RuleResult {
	return &RuleResult{Passed: false, Status: StatusFailed, Message: message, Errors: errs}
}

func (r *RuleResult) clone() *RuleResult {
	c := *r
	c.Errors = append([]string(nil), r.Errors...)
	c.Warnings = append([]string(nil), r.Warnings...)
	return &c
}

// Result is the outcome of one verification run
type Result struct {
	ID           string                 `json:"id"`
	EditID       string                 `json:"edit_id,omitempty"`
	Files        []string               `json:"files"`
	Strategy     Strategy               `json:"strategy"`
	Status       Status                 `json:"status"`
	Passed       bool                   `json:"passed"`
	RuleResults  map[string]*RuleResult `json:"rule_results"`
	Duration     time.Duration          `json:"duration"`
	StartedAt    time.Time              `json:"started_at"`
	CompletedAt  time.Time              `json:"completed_at"`
	FailedRules  []string               `json:"failed_rules"`
	PassedRules  []string               `json:"passed_rules"`
	SkippedRules []string               `json:"skipped_rules"`
}

// Summary renders a one-line description of the result
func (r *Result) Summary() string {
	switch r.Status {
	case StatusSkipped:
		return "verification skipped"
	case StatusPassed:
		if len(r.FailedRules) > 0 {
			return fmt.Sprintf("passed with non-critical failures: %v", r.FailedRules)
		}
		return fmt.Sprintf("all %d rules passed", len(r.PassedRules))
	default:
		return fmt.Sprintf("failed rules: %v", r.FailedRules)
	}
}

// EditResult is the part of an upstream edit the engine looks at
type EditResult struct {
	Success bool
	Files   []string
}
