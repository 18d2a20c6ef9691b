package plan

import (
	"strings"
	"time"

	"github.com/felixgeelhaar/taskforge/internal/domain"
)

const (
	tokensPerComplexity   = 1500
	durationPerComplexity = 2 * time.Minute
)

// estimateComplexity provides a rough complexity estimate (1-10) for specs
// that do not carry one.
func estimateComplexity(spec TaskSpec) domain.Complexity {
	complexity := 1

	// Dependencies add integration work
	complexity += len(spec.Dependencies)

	// Long descriptions usually mean more work
	complexity += len(strings.Fields(spec.Description)) / 15

	// Edit-type tasks are heavier than research or docs
	if spec.Type.IsEdit() {
		complexity += 2
	}

	return domain.Complexity(complexity).Clamp()
}

// applyEstimates fills zero estimates on a node from its complexity
func applyEstimates(node *TaskNode, spec TaskSpec) {
	node.Complexity = spec.Complexity
	if node.Complexity == 0 {
		node.Complexity = estimateComplexity(spec)
	}
	node.EstimatedTokens = spec.EstimatedTokens
	if node.EstimatedTokens == 0 {
		node.EstimatedTokens = int(node.Complexity) * tokensPerComplexity
	}
	node.EstimatedDuration = spec.EstimatedDuration
	if node.EstimatedDuration == 0 {
		node.EstimatedDuration = time.Duration(node.Complexity) * durationPerComplexity
	}
}

// sumEstimates recomputes the aggregate estimates of a plan
func sumEstimates(p *Plan) Estimates {
	var e Estimates
	for _, t := range p.Tasks {
		e.Complexity += int(t.Complexity)
		e.Tokens += t.EstimatedTokens
		e.Duration += t.EstimatedDuration
	}
	return e
}
