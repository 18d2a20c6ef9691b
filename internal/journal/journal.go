// Package journal appends every bus event of a session to a JSON Lines file,
// so a run can be inspected after the process exits.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/taskforge/internal/events"
	"github.com/felixgeelhaar/taskforge/internal/log"
)

// FormatVersion is written in the header line of every journal file
const FormatVersion = "taskforge/v1"

// Config controls where the journal is written and how it rotates
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Dir holds the journal files. Relative paths are resolved against the
	// tracker root.
	Dir string `yaml:"dir"`

	// MaxFileSize is the size in bytes after which the file is rotated
	MaxFileSize int64 `yaml:"max_file_size"`

	// MaxFiles is the number of rotated files kept per session
	MaxFiles int `yaml:"max_files"`
}

// DefaultConfig returns a disabled journal under .taskforge/journal
func DefaultConfig() Config {
	return Config{
		Dir:         filepath.Join(".taskforge", "journal"),
		MaxFileSize: 10 * 1024 * 1024,
		MaxFiles:    5,
	}
}

// Header is the first line of a journal file
type Header struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`
}

// Writer appends events to the journal of one session
type Writer struct {
	mu        sync.Mutex
	file      *os.File
	size      int64
	rotations int

	dir       string
	sessionID string
	config    Config
	logger    *log.Logger
}

// Open creates the journal file for sessionID in cfg.Dir
func Open(cfg Config, sessionID string, logger *log.Logger) (*Writer, error) {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultConfig().MaxFileSize
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = DefaultConfig().MaxFiles
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	w := &Writer{
		dir:       cfg.Dir,
		sessionID: sessionID,
		config:    cfg,
		logger:    log.OrDiscard(logger).WithComponent("journal"),
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

// Path returns the file currently written
func (w *Writer) Path() string {
	return filepath.Join(w.dir, fmt.Sprintf("journal_%s.jsonl", w.sessionID))
}

func (w *Writer) openFile() error {
	f, err := os.OpenFile(w.Path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	w.file = f
	w.size = 0

	line, err := json.Marshal(Header{SessionID: w.sessionID, StartedAt: time.Now(), Version: FormatVersion})
	if err != nil {
		return err
	}
	return w.writeLine(line)
}

func (w *Writer) writeLine(line []byte) error {
	n, err := w.file.Write(append(line, '\n'))
	w.size += int64(n)
	return err
}

// Handle appends e. It is meant to be subscribed with Bus.SubscribeAll;
// write failures are logged, never returned to the publisher.
func (w *Writer) Handle(e events.Event) {
	line, err := json.Marshal(e)
	if err != nil {
		w.logger.Warn("failed to encode event", "type", e.Type, "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return
	}
	if w.size+int64(len(line)) >= w.config.MaxFileSize {
		if err := w.rotate(); err != nil {
			w.logger.Warn("journal rotation failed", "error", err)
			return
		}
	}
	if err := w.writeLine(line); err != nil {
		w.logger.Warn("failed to write event", "type", e.Type, "error", err)
	}
}

// rotate must be called with w.mu held
func (w *Writer) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	w.rotations++
	rotated := filepath.Join(w.dir, fmt.Sprintf("journal_%s.%d.jsonl", w.sessionID, w.rotations))
	if err := os.Rename(w.Path(), rotated); err != nil {
		return err
	}
	if err := w.cleanup(); err != nil {
		w.logger.Warn("failed to remove old journal files", "error", err)
	}
	return w.openFile()
}

// cleanup keeps the newest MaxFiles rotated files
func (w *Writer) cleanup() error {
	rotated, err := Rotated(w.dir, w.sessionID)
	if err != nil {
		return err
	}
	for len(rotated) > w.config.MaxFiles {
		if err := os.Remove(rotated[0]); err != nil {
			return err
		}
		rotated = rotated[1:]
	}
	return nil
}

// Close syncs and closes the journal. Later events are dropped.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Rotated lists the rotated files of a session, oldest first
func Rotated(dir, sessionID string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, fmt.Sprintf("journal_%s.*.jsonl", sessionID)))
	if err != nil {
		return nil, err
	}
	seq := func(p string) int {
		base := strings.TrimSuffix(filepath.Base(p), ".jsonl")
		n, _ := strconv.Atoi(base[strings.LastIndex(base, ".")+1:])
		return n
	}
	sort.Slice(matches, func(i, j int) bool { return seq(matches[i]) < seq(matches[j]) })
	return matches, nil
}

// ReadFile parses a journal file. The header line is returned separately.
func ReadFile(path string) (*Header, []events.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var header *Header
	var out []events.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for n := 1; scanner.Scan(); n++ {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if n == 1 {
			var h Header
			if err := json.Unmarshal(line, &h); err == nil && h.Version != "" {
				header = &h
				continue
			}
		}
		var e events.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, nil, fmt.Errorf("%s:%d: %w", path, n, err)
		}
		out = append(out, e)
	}
	return header, out, scanner.Err()
}
