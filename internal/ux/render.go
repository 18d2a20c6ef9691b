package ux

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/taskforge/internal/files"
	"github.com/felixgeelhaar/taskforge/internal/plan"
	"github.com/felixgeelhaar/taskforge/internal/verify"
)

// Renderer is implemented by values the text formatter can draw with styles
type Renderer interface {
	Render(s Styles) string
}

func taskIcon(s Styles, status plan.TaskStatus) string {
	switch status {
	case plan.TaskCompleted:
		return s.Success.Render("✓")
	case plan.TaskFailed:
		return s.Error.Render("✗")
	case plan.TaskBlocked:
		return s.Warning.Render("⊘")
	case plan.TaskInProgress:
		return s.Key.Render("▶")
	case plan.TaskSkipped:
		return s.Muted.Render("-")
	default:
		return s.Muted.Render("○")
	}
}

// PlanView renders a plan grouped by execution wave
type PlanView struct {
	Plan *plan.Plan `json:"plan" yaml:"plan"`

	// Waves defaults to plan.ExecutionOrder
	Waves [][]string `json:"waves" yaml:"waves"`
}

// Render implements Renderer
func (v PlanView) Render(s Styles) string {
	p := v.Plan
	waves := v.Waves
	if waves == nil {
		waves = plan.ExecutionOrder(p)
	}

	var b strings.Builder
	b.WriteString(s.Title.Render(p.Goal))
	b.WriteString("\n")
	b.WriteString(s.Muted.Render(fmt.Sprintf("plan %s [%s]", p.ID, p.Status)))
	b.WriteString("\n")

	for i, wave := range waves {
		b.WriteString("\n")
		b.WriteString(s.Header.Render(fmt.Sprintf("Wave %d", i+1)))
		b.WriteString("\n")
		for _, id := range wave {
			t := p.Task(id)
			if t == nil {
				continue
			}
			fmt.Fprintf(&b, "  %s %-10s %-10s %s", taskIcon(s, t.Status), t.ID, t.Type, t.Description)
			if len(t.Dependencies) > 0 {
				b.WriteString(s.Muted.Render(" <- " + strings.Join(t.Dependencies, ", ")))
			}
			if t.Error != "" {
				b.WriteString("\n      ")
				b.WriteString(s.Error.Render(t.Error))
			}
			b.WriteString("\n")
		}
	}

	pr := p.Progress
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %d/%d completed, %d failed, %d blocked, %d skipped (%.1f%%)\n",
		s.Key.Render("Progress:"), pr.Completed, pr.Total, pr.Failed, pr.Blocked, pr.Skipped, pr.Percent)
	fmt.Fprintf(&b, "%s complexity %d, %d tokens, %s\n",
		s.Key.Render("Estimates:"), p.Estimates.Complexity, p.Estimates.Tokens, p.Estimates.Duration)
	if n := len(p.Adaptations); n > 0 {
		fmt.Fprintf(&b, "%s %d\n", s.Key.Render("Adaptations:"), n)
	}
	return b.String()
}

// VerificationView renders one verification result
type VerificationView struct {
	Result *verify.Result `json:"result" yaml:"result"`
}

// Render implements Renderer
func (v VerificationView) Render(s Styles) string {
	r := v.Result
	var b strings.Builder

	verdict := s.Success.Render("PASSED")
	switch {
	case r.Status == verify.StatusSkipped:
		verdict = s.Warning.Render("SKIPPED")
	case !r.Passed:
		verdict = s.Error.Render("FAILED")
	}
	fmt.Fprintf(&b, "%s %s %s\n", s.Title.Render("Verification"), verdict,
		s.Muted.Render(fmt.Sprintf("(%s, %d file(s), %s)", r.Strategy, len(r.Files), r.Duration.Round(time.Millisecond))))

	ids := make([]string, 0, len(r.RuleResults))
	for id := range r.RuleResults {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rr := r.RuleResults[id]
		var icon string
		switch rr.Status {
		case verify.StatusPassed:
			icon = s.Success.Render("✓")
		case verify.StatusFailed:
			icon = s.Error.Render("✗")
		default:
			icon = s.Muted.Render("-")
		}
		fmt.Fprintf(&b, "  %s %s", icon, id)
		if rr.Message != "" {
			b.WriteString(" " + s.Muted.Render(rr.Message))
		}
		if rr.Cached {
			b.WriteString(" " + s.Muted.Render("(cached)"))
		}
		b.WriteString("\n")
		for _, e := range rr.Errors {
			b.WriteString("      " + s.Error.Render(e) + "\n")
		}
		for _, w := range rr.Warnings {
			b.WriteString("      " + s.Warning.Render(w) + "\n")
		}
	}
	b.WriteString(r.Summary())
	b.WriteString("\n")
	return b.String()
}

// ConsistencyView renders consistency reports for several files
type ConsistencyView struct {
	Reports []*files.ConsistencyReport `json:"reports" yaml:"reports"`
}

// Passed reports whether every file is consistent
func (v ConsistencyView) Passed() bool {
	for _, r := range v.Reports {
		if !r.Passed {
			return false
		}
	}
	return true
}

// Render implements Renderer
func (v ConsistencyView) Render(s Styles) string {
	var b strings.Builder
	passed := 0
	for _, r := range v.Reports {
		if r.Passed {
			passed++
			fmt.Fprintf(&b, "%s %s\n", s.Success.Render("✓"), r.Path)
		} else {
			fmt.Fprintf(&b, "%s %s\n", s.Error.Render("✗"), r.Path)
		}
		for _, e := range r.Errors {
			b.WriteString("    " + s.Error.Render("error: "+e) + "\n")
		}
		for _, w := range r.Warnings {
			b.WriteString("    " + s.Warning.Render("warning: "+w) + "\n")
		}
		for _, h := range r.Suggestions {
			b.WriteString("    " + s.Muted.Render("hint: "+h) + "\n")
		}
	}
	fmt.Fprintf(&b, "%d of %d file(s) consistent\n", passed, len(v.Reports))
	return b.String()
}

// RelatedView renders the neighbourhood of one file
type RelatedView struct {
	Path          string                   `json:"path" yaml:"path"`
	Related       []string                 `json:"related" yaml:"related"`
	Relationships []files.FileRelationship `json:"relationships,omitempty" yaml:"relationships,omitempty"`
}

// Render implements Renderer
func (v RelatedView) Render(s Styles) string {
	var b strings.Builder
	b.WriteString(s.Title.Render(v.Path))
	b.WriteString("\n")
	if len(v.Related) == 0 {
		b.WriteString(s.Muted.Render("  no related files") + "\n")
	}
	for _, p := range v.Related {
		b.WriteString("  " + p + "\n")
	}
	if len(v.Relationships) > 0 {
		b.WriteString(s.Header.Render("Relationships") + "\n")
		for _, rel := range v.Relationships {
			fmt.Fprintf(&b, "  %s %s %s %s\n", rel.From, s.Muted.Render("-"+string(rel.Type)+"->"), rel.To,
				s.Muted.Render(fmt.Sprintf("(%.1f)", rel.Strength)))
		}
	}
	return b.String()
}
