package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/taskforge/internal/config"
	"github.com/felixgeelhaar/taskforge/internal/errors"
)

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show, locate and initialize the configuration",
		Long: `Settings are read from .taskforge.yaml, searched from the project root
upwards to the git root. Keys missing from the file keep their defaults.`,
	}
	configCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration as YAML",
			Args:  cobra.NoArgs,
			RunE:  runConfigShow,
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one value, addressed with dots (e.g. planner.max_retries)",
			Args:  cobra.ExactArgs(1),
			RunE:  runConfigGet,
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the configuration file in use",
			Args:  cobra.NoArgs,
			RunE:  runConfigPath,
		},
		newConfigInitCommand(),
	)
	return configCmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}
	cfg, err := cmdCtx.LoadConfig()
	if err != nil {
		return err
	}
	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = cmdCtx.Stdout.Write(data)
	return err
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}
	cfg, err := cmdCtx.LoadConfig()
	if err != nil {
		return err
	}
	value, err := getNestedValue(cfg, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmdCtx.Stdout, value)
	return nil
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return fmt.Errorf("failed to create command context: %w", err)
	}
	path, found, err := cmdCtx.ResolveConfigPath()
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintf(cmdCtx.Stdout, "%s (not found, using defaults)\n", path)
		return nil
	}
	fmt.Fprintln(cmdCtx.Stdout, path)
	return nil
}

func newConfigInitCommand() *cobra.Command {
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to .taskforge.yaml in the root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return fmt.Errorf("failed to create command context: %w", err)
			}
			dir := cmdCtx.Root
			if dir == "" {
				dir = "."
			}
			path := filepath.Join(dir, config.DefaultPath)
			if _, err := os.Stat(path); err == nil && !force {
				return errors.New(errors.ErrCodeConfigInvalid, path+" already exists").
					WithSuggestion("Pass --force to overwrite it")
			}

			cfg := config.Default()
			// The file lives in the root, so the tracker root stays relative
			cfg.Tracker.Root = "."
			data, err := cfg.Marshal()
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Fprintf(cmdCtx.Stdout, "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return initCmd
}

// getNestedValue looks up a dotted key in the YAML form of cfg, so keys
// match the names used in the file
func getNestedValue(cfg *config.Config, key string) (string, error) {
	data, err := cfg.Marshal()
	if err != nil {
		return "", err
	}
	var node any
	if err := yaml.Unmarshal(data, &node); err != nil {
		return "", err
	}

	for _, part := range strings.Split(key, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return "", unknownKey(key)
		}
		if node, ok = m[part]; !ok {
			return "", unknownKey(key)
		}
	}

	switch v := node.(type) {
	case map[string]any, []any:
		out, err := yaml.Marshal(v)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(out), "\n"), nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(v), nil
	}
}

func unknownKey(key string) error {
	return errors.New(errors.ErrCodeConfigInvalid, "unknown config key: "+key).
		WithSuggestion("Run 'taskforge config show' to list the available keys")
}
