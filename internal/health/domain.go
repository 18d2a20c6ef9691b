package health

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/taskforge/internal/files"
	"github.com/felixgeelhaar/taskforge/internal/plan"
	"github.com/felixgeelhaar/taskforge/internal/verify"
)

// maxListed caps the paths or ids listed in a result detail
const maxListed = 20

// NewTrackerChecker is degraded while any tracked file has consistency
// errors
func NewTrackerChecker(t *files.Tracker) Checker {
	return NewCheckerFunc("file-consistency", func(ctx context.Context) *Result {
		tracked := t.ListFiles()
		var inconsistent []string
		for _, meta := range tracked {
			if ctx.Err() != nil {
				return Unhealthy("consistency check timed out")
			}
			report, err := t.CheckConsistency(meta.Path)
			if err != nil {
				continue
			}
			if !report.Passed {
				inconsistent = append(inconsistent, meta.Path)
			}
		}

		if len(inconsistent) == 0 {
			return Healthy(fmt.Sprintf("%d file(s) tracked", len(tracked))).
				WithDetail("tracked", len(tracked))
		}
		return Degraded(fmt.Sprintf("%d of %d file(s) inconsistent", len(inconsistent), len(tracked))).
			WithDetail("tracked", len(tracked)).
			WithDetail("inconsistent", truncate(inconsistent))
	})
}

// NewVerificationChecker reports the outcome of the latest verification run
func NewVerificationChecker(e *verify.Engine) Checker {
	return NewCheckerFunc("verification", func(_ context.Context) *Result {
		history := e.History()
		if len(history) == 0 {
			return Healthy("no verification run yet")
		}
		last := history[len(history)-1]
		if last.Status == verify.StatusFailed {
			return Degraded(last.Summary()).
				WithDetail("result_id", last.ID).
				WithDetail("failed_rules", last.FailedRules)
		}
		return Healthy(last.Summary()).WithDetail("result_id", last.ID)
	})
}

// NewPlanChecker is degraded while any plan has failed
func NewPlanChecker(p *plan.Planner) Checker {
	return NewCheckerFunc("plans", func(_ context.Context) *Result {
		var failed, executing []string
		plans := p.ListPlans()
		for _, pl := range plans {
			switch pl.Status {
			case plan.PlanFailed:
				failed = append(failed, pl.ID)
			case plan.PlanExecuting:
				executing = append(executing, pl.ID)
			}
		}
		if len(failed) > 0 {
			return Degraded(fmt.Sprintf("%d of %d plan(s) failed", len(failed), len(plans))).
				WithDetail("failed", truncate(failed))
		}
		return Healthy(fmt.Sprintf("%d plan(s), %d executing", len(plans), len(executing)))
	})
}

func truncate(list []string) []string {
	if len(list) > maxListed {
		return list[:maxListed]
	}
	return list
}
