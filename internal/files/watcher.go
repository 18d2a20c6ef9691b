package files

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/felixgeelhaar/taskforge/internal/errors"
	"github.com/felixgeelhaar/taskforge/internal/log"
)

// WatcherConfig configures a Watcher
type WatcherConfig struct {
	// Patterns select files to track, as doublestar globs relative to the
	// tracker root. Empty means every file with a known language.
	Patterns []string `yaml:"patterns,omitempty"`

	// Ignore excludes matching paths
	Ignore []string `yaml:"ignore"`

	// Debounce is how long changes accumulate before they are applied
	Debounce time.Duration `yaml:"debounce"`
}

// DefaultWatcherConfig returns the default watcher configuration
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Ignore:   []string{"**/node_modules/**", "**/vendor/**", "**/.git/**"},
		Debounce: 200 * time.Millisecond,
	}
}

// WatchOperation is the kind of change applied to the tracker
type WatchOperation string

const (
	OpModify WatchOperation = "modify"
	OpDelete WatchOperation = "delete"
)

// WatchEvent reports a change the watcher applied
type WatchEvent struct {
	Path      string
	Operation WatchOperation
	Err       error
}

// Watcher feeds on-disk changes under the tracker root into the tracker
type Watcher struct {
	tracker *Tracker
	config  WatcherConfig
	fsw     *fsnotify.Watcher
	logger  *log.Logger

	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op

	// OnChange, when set, is called after each applied change
	OnChange func(WatchEvent)
}

// NewWatcher creates a watcher for the tracker's root directory
func NewWatcher(tracker *Tracker, cfg WatcherConfig) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileWatchFailed, "failed to create file watcher", err)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultWatcherConfig().Debounce
	}
	return &Watcher{
		tracker: tracker,
		config:  cfg,
		fsw:     fsw,
		logger:  tracker.logger.With("subcomponent", "watcher"),
		pending: make(map[string]fsnotify.Op),
	}, nil
}

// Matches reports whether a normalized path is selected by the watcher
func (w *Watcher) Matches(rel string) bool {
	return w.config.Matches(rel)
}

// Matches reports whether a root-relative slash path is selected
func (c WatcherConfig) Matches(rel string) bool {
	for _, pattern := range c.Ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return false
		}
	}
	if len(c.Patterns) == 0 {
		return DetectLanguage(rel) != LanguageUnknown
	}
	for _, pattern := range c.Patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// ignoresDir reports whether a root-relative directory is never descended
func (c WatcherConfig) ignoresDir(rel string) bool {
	if strings.HasPrefix(path.Base(rel), ".") {
		return true
	}
	for _, pattern := range c.Ignore {
		if ok, _ := doublestar.Match(pattern, rel+"/"); ok {
			return true
		}
	}
	return false
}

// Scan returns the root-relative paths of existing files selected by cfg,
// in lexical order
func Scan(root string, cfg WatcherConfig) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if cfg.ignoresDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && cfg.Matches(rel) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "failed to scan "+root, err)
	}
	return out, nil
}

// TrackExisting records every selected file already on disk. Files that
// cannot be read are logged and skipped.
func (w *Watcher) TrackExisting() (int, error) {
	paths, err := Scan(w.tracker.Root(), w.config)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rel := range paths {
		if _, err := w.tracker.AccessFile(rel, nil); err != nil {
			w.logger.WithError(err).Warn("failed to track file", "path", rel)
			continue
		}
		n++
	}
	w.logger.Debug("tracked existing files", "count", n)
	return n, nil
}

// Run watches until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	if err := w.addRecursive(w.tracker.Root()); err != nil {
		return errors.Wrap(errors.ErrCodeFileWatchFailed, "failed to watch "+w.tracker.Root(), err)
	}
	w.logger.Info("file watcher started", "root", w.tracker.Root(), "debounce", w.config.Debounce)

	ticker := time.NewTicker(w.config.Debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.LogError("watcher error", err)

		case <-ticker.C:
			w.Flush()
		}
	}
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && w.skipDir(p) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			w.logger.Warn("failed to watch directory", "path", p, "error", err)
		}
		return nil
	})
}

func (w *Watcher) skipDir(p string) bool {
	return w.config.ignoresDir(w.tracker.Normalize(p))
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !w.skipDir(event.Name) {
				_ = w.addRecursive(event.Name)
			}
			return
		}
	}
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return
	}
	if !w.Matches(w.tracker.Normalize(event.Name)) {
		return
	}

	w.pendingMu.Lock()
	w.pending[event.Name] = event.Op
	w.pendingMu.Unlock()
}

// Flush applies accumulated changes to the tracker
func (w *Watcher) Flush() {
	w.pendingMu.Lock()
	batch := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	for p, op := range batch {
		rel := w.tracker.Normalize(p)
		ev := WatchEvent{Path: rel, Operation: OpModify}

		_, statErr := os.Stat(p)
		if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) || os.IsNotExist(statErr) {
			ev.Operation = OpDelete
			if _, tracked := w.tracker.GetFile(rel); tracked {
				ev.Err = w.tracker.DeleteFile(rel)
			}
		} else {
			_, ev.Err = w.tracker.ModifyFile(rel, nil, "changed on disk", 0)
		}

		if ev.Err != nil {
			w.logger.WithError(ev.Err).Warn("failed to apply change", "path", rel)
		}
		if w.OnChange != nil {
			w.OnChange(ev)
		}
	}
}

// Close releases the underlying fsnotify watcher
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Enqueue records a change as if fsnotify had reported it
func (w *Watcher) Enqueue(p string, op fsnotify.Op) {
	w.handle(fsnotify.Event{Name: p, Op: op})
}
