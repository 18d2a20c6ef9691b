// Package health reports whether a long-running taskforge process is live
// and whether the plans, verifications and tracked files it owns are in a
// good state.
//
//	probes := health.NewProbeManager(version.GetInfo().Version)
//	probes.AddChecker(health.NewTrackerChecker(s.Tracker))
//	probes.AddChecker(health.NewVerificationChecker(s.Engine))
//	result := probes.CheckReadiness(ctx)
package health

import (
	"context"
	"time"
)

// Checker is one named health check
type Checker interface {
	// Name is lowercase with hyphens, e.g. "file-consistency"
	Name() string

	// Check must respect the context deadline
	Check(ctx context.Context) *Result
}

// Status represents the health check status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// Result is the outcome of one check
type Result struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Latency time.Duration  `json:"latency"`
}

// NewResult creates a result with the given status and message
func NewResult(status Status, message string) *Result {
	return &Result{
		Status:  status,
		Message: message,
		Details: make(map[string]any),
	}
}

// WithDetail adds a detail and returns the result for chaining
func (r *Result) WithDetail(key string, value any) *Result {
	r.Details[key] = value
	return r
}

// Healthy creates a healthy result
func Healthy(message string) *Result {
	return NewResult(StatusHealthy, message)
}

// Degraded creates a degraded result
func Degraded(message string) *Result {
	return NewResult(StatusDegraded, message)
}

// Unhealthy creates an unhealthy result
func Unhealthy(message string) *Result {
	return NewResult(StatusUnhealthy, message)
}

// CheckerFunc adapts a function to the Checker interface
type CheckerFunc struct {
	name string
	fn   func(ctx context.Context) *Result
}

// NewCheckerFunc creates a named checker from fn
func NewCheckerFunc(name string, fn func(ctx context.Context) *Result) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

// Name implements Checker
func (c *CheckerFunc) Name() string {
	return c.name
}

// Check implements Checker
func (c *CheckerFunc) Check(ctx context.Context) *Result {
	return c.fn(ctx)
}
