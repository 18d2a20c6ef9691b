package domain

import "fmt"

// Complexity is an estimated task difficulty on a 1–10 scale.
type Complexity int

const (
	MinComplexity Complexity = 1
	MaxComplexity Complexity = 10
)

// Validate checks that the complexity lies within [1, 10]
func (c Complexity) Validate() error {
	if c < MinComplexity || c > MaxComplexity {
		return fmt.Errorf("complexity %d out of range [%d, %d]", int(c), MinComplexity, MaxComplexity)
	}
	return nil
}

// Clamp returns c limited to [1, 10]; zero means "unknown" and maps to 1.
func (c Complexity) Clamp() Complexity {
	if c < MinComplexity {
		return MinComplexity
	}
	if c > MaxComplexity {
		return MaxComplexity
	}
	return c
}
