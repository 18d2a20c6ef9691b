package cmd

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskforge/internal/config"
	"github.com/felixgeelhaar/taskforge/internal/health"
	"github.com/felixgeelhaar/taskforge/internal/log"
	"github.com/felixgeelhaar/taskforge/internal/server"
	"github.com/felixgeelhaar/taskforge/internal/session"
	"github.com/felixgeelhaar/taskforge/internal/ux"
	"github.com/felixgeelhaar/taskforge/internal/version"
)

// CommandContext holds the persistent flags of one command invocation.
// Commands build it in RunE instead of reading package globals, so several
// command trees can run in the same process.
type CommandContext struct {
	ConfigPath string
	Root       string
	Format     string
	NoColor    bool
	LogLevel   string
	Quiet      bool

	Stdout io.Writer
	Stderr io.Writer
}

// NewCommandContext extracts the persistent flags from cmd
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	flags := cmd.Flags()

	configPath, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}
	root, err := flags.GetString("root")
	if err != nil {
		return nil, err
	}
	format, err := flags.GetString("format")
	if err != nil {
		return nil, err
	}
	noColor, err := flags.GetBool("no-color")
	if err != nil {
		return nil, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return nil, err
	}
	quiet, err := flags.GetBool("quiet")
	if err != nil {
		return nil, err
	}

	return &CommandContext{
		ConfigPath: configPath,
		Root:       root,
		Format:     format,
		NoColor:    noColor || os.Getenv("NO_COLOR") != "",
		LogLevel:   logLevel,
		Quiet:      quiet,
		Stdout:     cmd.OutOrStdout(),
		Stderr:     cmd.ErrOrStderr(),
	}, nil
}

// ResolveConfigPath returns the config file to read and whether it exists.
// An explicit --config must exist; otherwise .taskforge.yaml is searched
// from the root directory upwards.
func (c *CommandContext) ResolveConfigPath() (string, bool, error) {
	if c.ConfigPath != "" {
		_, err := os.Stat(c.ConfigPath)
		return c.ConfigPath, err == nil, nil
	}
	return ux.DiscoverConfigFile(c.Root, config.DefaultPath)
}

// LoadConfig reads the configuration and applies the flag overrides.
// A relative tracker root in a config file is resolved against the file's
// directory.
func (c *CommandContext) LoadConfig() (*config.Config, error) {
	path, found, err := c.ResolveConfigPath()
	if err != nil {
		return nil, err
	}

	cfg := config.Default()
	if found || c.ConfigPath != "" {
		// Load reports a missing explicit file with a suggestion
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
		if !filepath.IsAbs(cfg.Tracker.Root) {
			cfg.Tracker.Root = filepath.Join(filepath.Dir(path), cfg.Tracker.Root)
		}
	}

	if c.Root != "" {
		cfg.Tracker.Root = c.Root
	}
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	return cfg, nil
}

// Logger builds the process logger. Logs go to stderr so that stdout only
// carries command output.
func (c *CommandContext) Logger(cfg *config.Config) *log.Logger {
	return cfg.Log.Logger(c.Stderr)
}

// Printer returns the output printer selected by --format
func (c *CommandContext) Printer() (*ux.Printer, error) {
	return ux.NewPrinter(c.Stdout, c.Format, c.NoColor)
}

// Render writes v with the selected printer
func (c *CommandContext) Render(v any) error {
	p, err := c.Printer()
	if err != nil {
		return err
	}
	return p.Print(v)
}

// NewSession builds a session from cfg. When metrics are enabled the
// session registers its collectors on a fresh registry, returned for the
// metrics endpoint.
func (c *CommandContext) NewSession(cfg *config.Config, logger *log.Logger, maxFixAttempts int) (*session.Session, *prometheus.Registry, error) {
	var reg *prometheus.Registry
	opts := session.Options{
		Logger:         logger,
		MaxFixAttempts: maxFixAttempts,
	}
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		opts.Registerer = reg
	}
	s, err := session.New(cfg, opts)
	if err != nil {
		return nil, nil, err
	}
	return s, reg, nil
}

// hookDrainTimeout bounds how long a finished command waits for hooks
const hookDrainTimeout = 30 * time.Second

// CloseSession waits for queued hooks and closes the journal of s
func (c *CommandContext) CloseSession(s *session.Session, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), hookDrainTimeout)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		logger.Warn("failed to close session", "error", err)
	}
	if path := s.JournalPath(); path != "" {
		logger.Info("journal written", "path", path)
	}
}

// StartServer serves health probes for s, and /metrics when reg is set,
// until ctx is done. It does nothing when metrics are disabled. The
// returned function waits for the server to stop.
func (c *CommandContext) StartServer(ctx context.Context, cfg *config.Config, s *session.Session, reg *prometheus.Registry, logger *log.Logger) func() {
	if !cfg.Metrics.Enabled {
		return func() {}
	}

	probes := health.NewProbeManager(version.GetInfo().Short())
	probes.AddChecker(health.NewPlanChecker(s.Planner))
	probes.AddChecker(health.NewVerificationChecker(s.Engine))
	probes.AddChecker(health.NewTrackerChecker(s.Tracker))

	var gatherer prometheus.Gatherer
	if reg != nil {
		gatherer = reg
	}
	srv := server.NewServer(probes, gatherer, server.Config{Address: cfg.Metrics.Addr}, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Run(ctx); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	return func() { <-done }
}
