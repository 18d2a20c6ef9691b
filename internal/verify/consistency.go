package verify

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/taskforge/internal/errors"
	"github.com/felixgeelhaar/taskforge/internal/files"
)

// RuleConsistency is the id of the rule built by NewConsistencyRule
const RuleConsistency = "consistency"

// ConsistencySource answers per-file consistency checks. *files.Tracker
// implements it.
type ConsistencySource interface {
	CheckConsistency(path string) (*files.ConsistencyReport, error)
}

// NewConsistencyRule builds a rule that fails when any tracked file in the
// run has unresolved imports or sits on an import cycle. Untracked files are
// reported as warnings.
func NewConsistencyRule(source ConsistencySource, critical bool) Rule {
	return Rule{
		ID:        RuleConsistency,
		Name:      "Import consistency",
		Type:      RuleTypeCustom,
		Critical:  critical,
		Enabled:   true,
		Validator: ConsistencyValidator(source),
	}
}

// ConsistencyValidator checks every file of the run against source
func ConsistencyValidator(source ConsistencySource) Validator {
	return func(ctx context.Context, vc *VerificationContext) (*RuleResult, error) {
		var errs, warnings []string
		checked, failed := 0, 0
		for _, path := range vc.Files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			report, err := source.CheckConsistency(path)
			if errors.HasCode(err, errors.ErrCodeFileNotTracked) {
				warnings = append(warnings, fmt.Sprintf("%s: not tracked, skipped", path))
				continue
			}
			if err != nil {
				return nil, err
			}
			checked++

			detail := report.Warnings
			if !report.Passed {
				failed++
				errs = append(errs, prefixed(path, detail)...)
			} else {
				warnings = append(warnings, prefixed(path, detail)...)
			}
		}

		res := &RuleResult{
			Passed:   failed == 0,
			Errors:   errs,
			Warnings: warnings,
			Metadata: map[string]any{"checked": checked, "inconsistent": failed},
		}
		if res.Passed {
			res.Message = fmt.Sprintf("%d file(s) consistent", checked)
		} else {
			res.Message = fmt.Sprintf("%d of %d file(s) inconsistent", failed, checked)
		}
		return res, nil
	}
}

func prefixed(path string, lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = path + ": " + l
	}
	return out
}
