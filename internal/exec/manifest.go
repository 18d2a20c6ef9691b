package exec

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// CreateManifest creates a run manifest for audit purposes
func CreateManifest(step Step, result *Result) *RunManifest {
	return &RunManifest{
		Timestamp:    time.Now(),
		PlanID:       step.PlanID,
		StepID:       step.ID,
		Shell:        step.Shell,
		Command:      step.Command,
		Env:          step.Env,
		ExitCode:     result.ExitCode,
		Duration:     result.Duration.String(),
		OutputHashes: make(map[string]string),
	}
}

// SaveManifest writes a run manifest to disk and returns its path
func SaveManifest(manifest *RunManifest, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create manifest directory: %w", err)
	}

	name := manifest.StepID
	if manifest.PlanID != "" {
		name = manifest.PlanID + "_" + name
	}
	filename := fmt.Sprintf("%s_%s.json",
		manifest.Timestamp.Format("20060102_150405"),
		strings.ReplaceAll(name, string(filepath.Separator), "_"))
	path := filepath.Join(dir, filename)

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}

	return path, nil
}

// HashFile computes the blake3 hash of a file
func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// AddOutputHash records the hash of a file the step produced. Missing
// files are recorded with an empty hash.
func (m *RunManifest) AddOutputHash(name, path string) error {
	hash, err := HashFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m.OutputHashes[name] = ""
			return nil
		}
		return err
	}
	m.OutputHashes[name] = hash
	return nil
}
