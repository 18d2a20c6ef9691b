package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/taskforge/internal/errors"
	"github.com/felixgeelhaar/taskforge/internal/verify"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, verify.StrategyCriticalFirst, cfg.Verification.Strategy)
	assert.True(t, cfg.Verification.ConsistencyRule)
	assert.Equal(t, 100, cfg.Planner.MaxTasks)
}

func TestParse_OverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
planner:
  max_concurrency: 2
  retry_delay: 250ms
  retry_jitter: true
verification:
  strategy: fail-fast
  cache_ttl: 1m
  rules:
    - id: unit-tests
      type: test
      command: go test ./...
      critical: true
      timeout: 2m
      patterns: ["*.go"]
tracker:
  go_module: example.com/app
log:
  level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Planner.MaxConcurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Planner.RetryDelay)
	assert.True(t, cfg.Planner.RetryJitter)
	assert.Equal(t, 100, cfg.Planner.MaxTasks, "unset keys keep defaults")

	assert.Equal(t, verify.StrategyFailFast, cfg.Verification.Strategy)
	assert.Equal(t, time.Minute, cfg.Verification.CacheTTL)
	assert.True(t, cfg.Verification.CacheEnabled)
	require.Len(t, cfg.Verification.Rules, 1)

	rule := cfg.Verification.Rules[0].Rule()
	assert.Equal(t, "unit-tests", rule.ID)
	assert.Equal(t, verify.RuleTypeTest, rule.Type)
	assert.Equal(t, "go test ./...", rule.Command)
	assert.True(t, rule.Critical)
	assert.True(t, rule.Enabled)
	assert.Equal(t, 2*time.Minute, rule.Timeout)
	assert.Equal(t, []string{"*.go"}, rule.Patterns)

	assert.Equal(t, "example.com/app", cfg.Tracker.GoModule)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "planner: [", "failed to parse config"},
		{"bad strategy", "verification:\n  strategy: random\n", "unknown verification strategy"},
		{"zero tasks", "planner:\n  max_tasks: 0\n", "planner.max_tasks must be positive"},
		{"rule without command", "verification:\n  rules:\n    - id: x\n", "needs a command"},
		{"duplicate rule", "verification:\n  rules:\n    - {id: x, command: a}\n    - {id: x, command: b}\n", "duplicate id"},
		{"bad rule type", "verification:\n  rules:\n    - {id: x, command: a, type: magic}\n", "unknown rule type"},
		{"negative executor timeout", "executor:\n  timeout: -1s\n", "executor.timeout must not be negative"},
		{"hook without events", "hooks:\n  - {name: n, type: script, command: true}\n", "needs at least one event"},
		{"hook type", "hooks:\n  - {name: n, type: pigeon, events: ['*']}\n", "type must be script or webhook"},
		{"duplicate hook", "hooks:\n  - {name: n, type: script, command: a, events: ['*']}\n  - {name: n, type: script, command: b, events: ['*']}\n", "duplicate name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeConfigInvalid, errors.CodeOf(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigNotFound))

	cfg, err := LoadOrDefault(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(dir, DefaultPath)
	require.NoError(t, os.WriteFile(path, []byte("tracker:\n  max_related_depth: 4\n"), 0o644))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Tracker.MaxRelatedDepth)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Verification.Rules = []CommandRule{{ID: "lint", Command: "make lint", Timeout: time.Minute}}

	data, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "retry_delay: 1s")

	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg.Planner, back.Planner)
	assert.Equal(t, cfg.Verification.Rules, back.Verification.Rules)
	assert.Equal(t, cfg.Verification.Strategy, back.Verification.Strategy)
	assert.Equal(t, cfg.Verification.CacheTTL, back.Verification.CacheTTL)
	assert.Equal(t, cfg.Tracker, back.Tracker)
}

func TestLogConfigLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.Logger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
