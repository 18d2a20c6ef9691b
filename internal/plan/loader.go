package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the on-disk form of a goal and its task specs
type File struct {
	Goal  string     `json:"goal" yaml:"goal"`
	Tasks []TaskSpec `json:"tasks" yaml:"tasks"`
}

// LoadFile reads task specs from a YAML or JSON file, chosen by extension.
// The graph itself is validated by CreatePlan.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("unmarshal plan: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("unmarshal plan: %w", err)
		}
	}

	if strings.TrimSpace(f.Goal) == "" {
		return nil, fmt.Errorf("plan file %s has no goal", path)
	}
	return &f, nil
}

// SavePlan writes a plan snapshot to a JSON file
func SavePlan(p *Plan, path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write plan file: %w", err)
	}

	return nil
}
