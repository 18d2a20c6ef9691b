package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for taskforge. Every Record method is
// safe to call on a nil receiver so components can run without metrics.
type Metrics struct {
	// Planner metrics
	PlansCreated   *prometheus.CounterVec
	PlanExecutions *prometheus.CounterVec
	PlanDuration   *prometheus.HistogramVec
	PlanTaskCount  prometheus.Histogram
	PlanAdaptions  prometheus.Counter

	// Task execution metrics
	TaskExecutions *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec
	TaskRetries    *prometheus.CounterVec
	TasksBlocked   prometheus.Counter

	// Verification metrics
	VerificationRuns *prometheus.CounterVec
	RuleExecutions   *prometheus.CounterVec
	RuleDuration     *prometheus.HistogramVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter

	// File tracking metrics
	FilesTracked       prometheus.Gauge
	FileAnalyses       *prometheus.CounterVec
	ConsistencyIssues  *prometheus.CounterVec
	RelationshipsFound *prometheus.CounterVec

	// Errors by structured error code
	Errors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		PlansCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_plans_created_total",
				Help: "Total number of plan creation attempts",
			},
			[]string{"success"},
		),
		PlanExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_plan_executions_total",
				Help: "Total number of plan executions by final status",
			},
			[]string{"status"},
		),
		PlanDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskforge_plan_duration_seconds",
				Help:    "Plan execution duration in seconds",
				Buckets: []float64{1, 5, 30, 60, 300, 900, 1800},
			},
			[]string{"status"},
		),
		PlanTaskCount: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskforge_plan_task_count",
				Help:    "Number of tasks per created plan",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
			},
		),
		PlanAdaptions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "taskforge_plan_adaptations_total",
				Help: "Total number of plan adaptations",
			},
		),

		TaskExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_task_executions_total",
				Help: "Total number of finished task executions",
			},
			[]string{"type", "status"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskforge_task_duration_seconds",
				Help:    "Task execution duration in seconds, retries included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		TaskRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_task_retries_total",
				Help: "Total number of task retry attempts",
			},
			[]string{"type"},
		),
		TasksBlocked: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "taskforge_tasks_blocked_total",
				Help: "Total number of tasks blocked by a failed dependency",
			},
		),

		VerificationRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_verification_runs_total",
				Help: "Total number of verification runs",
			},
			[]string{"strategy", "status"},
		),
		RuleExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_rule_executions_total",
				Help: "Total number of verification rule executions",
			},
			[]string{"rule", "passed"},
		),
		RuleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskforge_rule_duration_seconds",
				Help:    "Verification rule duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"rule"},
		),
		CacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "taskforge_verification_cache_hits_total",
				Help: "Total number of verification cache hits",
			},
		),
		CacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "taskforge_verification_cache_misses_total",
				Help: "Total number of verification cache misses",
			},
		),

		FilesTracked: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskforge_files_tracked",
				Help: "Number of files currently tracked",
			},
		),
		FileAnalyses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_file_analyses_total",
				Help: "Total number of file symbol analyses",
			},
			[]string{"language"},
		),
		ConsistencyIssues: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_consistency_issues_total",
				Help: "Total number of consistency issues found",
			},
			[]string{"severity"},
		),
		RelationshipsFound: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_relationships_discovered_total",
				Help: "Total number of file relationships discovered",
			},
			[]string{"type"},
		),

		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_errors_total",
				Help: "Total number of errors by error code",
			},
			[]string{"error_code", "component"},
		),
	}
}

// RecordPlanCreated records a plan creation attempt
func (m *Metrics) RecordPlanCreated(success bool, taskCount int) {
	if m == nil {
		return
	}
	m.PlansCreated.WithLabelValues(strconv.FormatBool(success)).Inc()
	if success {
		m.PlanTaskCount.Observe(float64(taskCount))
	}
}

// RecordPlanExecution records a finished plan execution
func (m *Metrics) RecordPlanExecution(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.PlanExecutions.WithLabelValues(status).Inc()
	m.PlanDuration.WithLabelValues(status).Observe(d.Seconds())
}

// RecordPlanAdapted records a plan adaptation
func (m *Metrics) RecordPlanAdapted() {
	if m == nil {
		return
	}
	m.PlanAdaptions.Inc()
}

// RecordTask records a finished task execution
func (m *Metrics) RecordTask(taskType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.TaskExecutions.WithLabelValues(taskType, status).Inc()
	m.TaskDuration.WithLabelValues(taskType).Observe(d.Seconds())
}

// RecordTaskRetry records one retry attempt
func (m *Metrics) RecordTaskRetry(taskType string) {
	if m == nil {
		return
	}
	m.TaskRetries.WithLabelValues(taskType).Inc()
}

// RecordTasksBlocked records tasks blocked by a failed dependency
func (m *Metrics) RecordTasksBlocked(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TasksBlocked.Add(float64(n))
}

// RecordVerification records a finished verification run
func (m *Metrics) RecordVerification(strategy, status string) {
	if m == nil {
		return
	}
	m.VerificationRuns.WithLabelValues(strategy, status).Inc()
}

// RecordRule records a single rule execution
func (m *Metrics) RecordRule(ruleID string, passed bool, d time.Duration) {
	if m == nil {
		return
	}
	m.RuleExecutions.WithLabelValues(ruleID, strconv.FormatBool(passed)).Inc()
	m.RuleDuration.WithLabelValues(ruleID).Observe(d.Seconds())
}

// RecordCache records a verification cache lookup
func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

// SetFilesTracked sets the tracked file gauge
func (m *Metrics) SetFilesTracked(n int) {
	if m == nil {
		return
	}
	m.FilesTracked.Set(float64(n))
}

// RecordFileAnalysis records a symbol extraction pass
func (m *Metrics) RecordFileAnalysis(language string) {
	if m == nil {
		return
	}
	m.FileAnalyses.WithLabelValues(language).Inc()
}

// RecordConsistencyIssues records warnings and errors from a consistency check
func (m *Metrics) RecordConsistencyIssues(warnings, errs int) {
	if m == nil {
		return
	}
	if warnings > 0 {
		m.ConsistencyIssues.WithLabelValues("warning").Add(float64(warnings))
	}
	if errs > 0 {
		m.ConsistencyIssues.WithLabelValues("error").Add(float64(errs))
	}
}

// RecordRelationship records a discovered relationship
func (m *Metrics) RecordRelationship(relType string) {
	if m == nil {
		return
	}
	m.RelationshipsFound.WithLabelValues(relType).Inc()
}

// RecordError records an error by code and component
func (m *Metrics) RecordError(code, component string) {
	if m == nil || code == "" {
		return
	}
	m.Errors.WithLabelValues(code, component).Inc()
}
