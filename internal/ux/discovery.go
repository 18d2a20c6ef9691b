package ux

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DiscoverConfigFile searches for filename starting at dir and walking up to
// the git root or filesystem root. The git root is also checked explicitly
// for worktrees that keep .git outside the tree. When nothing is found the
// path in dir is returned with found set to false.
func DiscoverConfigFile(dir, filename string) (path string, found bool, err error) {
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return "", false, err
		}
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return "", false, err
	}
	start := dir

	for {
		configPath := filepath.Join(dir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, true, nil
		}

		// Stop at git root
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		// Move up one directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	if gitRoot, err := getGitRoot(start); err == nil {
		configPath := filepath.Join(gitRoot, filename)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, true, nil
		}
	}

	return filepath.Join(start, filename), false, nil
}

// getGitRoot returns the git repository root directory of dir
func getGitRoot(dir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}
