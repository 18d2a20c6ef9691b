package plan

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/taskforge/internal/domain"
)

func TestLoadFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	content := `goal: add retry support to the HTTP client
tasks:
  - id: research
    description: read the client code
    type: research
  - id: implement
    description: wrap calls in a retry loop
    type: implement
    depends_on: [research]
    complexity: 5
    estimated_duration: 15m
    max_retries: 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "add retry support to the HTTP client", f.Goal)
	require.Len(t, f.Tasks, 2)
	assert.Equal(t, domain.TaskTypeImplement, f.Tasks[1].Type)
	assert.Equal(t, []string{"research"}, f.Tasks[1].Dependencies)
	assert.Equal(t, 15*time.Minute, f.Tasks[1].EstimatedDuration)
	require.NotNil(t, f.Tasks[1].MaxRetries)
	assert.Equal(t, 1, *f.Tasks[1].MaxRetries)

	p := NewPlanner(testConfig(), Deps{})
	created, err := p.CreatePlan(f.Goal, f.Tasks)
	require.NoError(t, err)
	assert.Equal(t, 1, created.Tasks["implement"].MaxRetries)
}

func TestLoadFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")
	content := `{"goal": "document the API", "tasks": [{"description": "write docs", "type": "document"}]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	f, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, f.Tasks, 1)
	assert.Equal(t, domain.TaskTypeDocument, f.Tasks[0].Type)
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "read plan file")

	noGoal := filepath.Join(dir, "nogoal.yaml")
	require.NoError(t, os.WriteFile(noGoal, []byte("tasks: []\n"), 0600))
	_, err = LoadFile(noGoal)
	assert.ErrorContains(t, err, "no goal")

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte("{"), 0600))
	_, err = LoadFile(broken)
	assert.ErrorContains(t, err, "unmarshal plan")
}

func TestSavePlan(t *testing.T) {
	p := NewPlanner(testConfig(), Deps{})
	created, err := p.CreatePlan("save me", abcSpecs())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, SavePlan(created, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"goal": "save me"`)
	assert.Contains(t, string(data), `"status": "planning"`)
}
