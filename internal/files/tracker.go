// Package files tracks per-file metadata and the import graph between the
// files an agent touches.
//
// The Tracker keeps one FileMetadata per normalized path. Content is hashed
// on every access and symbols are re-extracted only when the hash changes.
// Imports are resolved against the set of tracked files, so adding or
// removing a file re-resolves every other file's imports.
package files

import (
	"encoding/hex"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/felixgeelhaar/taskforge/internal/errors"
	"github.com/felixgeelhaar/taskforge/internal/events"
	"github.com/felixgeelhaar/taskforge/internal/log"
	"github.com/felixgeelhaar/taskforge/internal/metrics"
)

// Config controls path resolution and post-edit checks
type Config struct {
	// Root is the directory paths are normalized against
	Root string `yaml:"root"`

	// AutoConsistencyCheck runs CheckConsistency after every ModifyFile
	AutoConsistencyCheck bool `yaml:"auto_consistency_check"`

	// MaxRelatedDepth is the default depth for GetRelatedFiles
	MaxRelatedDepth int `yaml:"max_related_depth"`

	// GoModule resolves module-qualified Go imports to directories
	GoModule string `yaml:"go_module"`
}

// DefaultConfig returns the default tracker configuration
func DefaultConfig() Config {
	return Config{
		Root:                 ".",
		AutoConsistencyCheck: true,
		MaxRelatedDepth:      2,
	}
}

// Deps are the optional collaborators of a Tracker
type Deps struct {
	Analyzers *Registry
	Events    events.Publisher
	Metrics   *metrics.Metrics
	Logger    *log.Logger
}

type relKey struct {
	from, to string
	typ      RelationshipType
}

// Tracker owns the file metadata map and the relationship index
type Tracker struct {
	mu     sync.RWMutex
	config Config
	root   string
	files  map[string]*FileMetadata
	rels   map[relKey]*FileRelationship

	// queued holds events raised under mu, published by flush
	queued []events.Event

	analyzers *Registry
	events    events.Publisher
	metrics   *metrics.Metrics
	logger    *log.Logger

	now func() time.Time
}

// NewTracker creates a tracker rooted at cfg.Root
func NewTracker(cfg Config, deps Deps) *Tracker {
	root := cfg.Root
	if root == "" {
		root = "."
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	if cfg.MaxRelatedDepth <= 0 {
		cfg.MaxRelatedDepth = DefaultConfig().MaxRelatedDepth
	}

	analyzers := deps.Analyzers
	if analyzers == nil {
		analyzers = DefaultRegistry(cfg.GoModule)
	}
	pub := deps.Events
	if pub == nil {
		pub = events.Nop{}
	}

	return &Tracker{
		config:    cfg,
		root:      root,
		files:     make(map[string]*FileMetadata),
		rels:      make(map[relKey]*FileRelationship),
		analyzers: analyzers,
		events:    pub,
		metrics:   deps.Metrics,
		logger:    log.OrDiscard(deps.Logger).WithComponent("files"),
		now:       time.Now,
	}
}

// Config returns the tracker configuration
func (t *Tracker) Config() Config {
	return t.config
}

// Root returns the absolute root directory
func (t *Tracker) Root() string {
	return t.root
}

// Normalize maps an absolute or relative path to the tracker's key form:
// slash-separated and relative to Root when the path lies inside it.
func (t *Tracker) Normalize(p string) string {
	if filepath.IsAbs(p) {
		if rel, err := filepath.Rel(t.root, p); err == nil && !strings.HasPrefix(rel, "..") {
			p = rel
		}
	}
	return path.Clean(filepath.ToSlash(p))
}

func (t *Tracker) absPath(norm string) string {
	if path.IsAbs(norm) {
		return filepath.FromSlash(norm)
	}
	return filepath.Join(t.root, filepath.FromSlash(norm))
}

// AccessFile records an access to path. When content is nil the file is
// read from disk. First sight builds metadata and resolves imports; later
// accesses only re-analyze when the content hash changed.
func (t *Tracker) AccessFile(p string, content []byte) (*FileMetadata, error) {
	norm := t.Normalize(p)
	if content == nil {
		data, err := os.ReadFile(t.absPath(norm))
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "failed to read "+norm, err)
		}
		content = data
	}

	t.mu.Lock()
	meta, created, changed := t.accessLocked(norm, content)
	out := meta.Clone()
	count := len(t.files)
	t.mu.Unlock()
	t.flush()

	if created {
		t.metrics.SetFilesTracked(count)
	}
	t.events.Publish(events.New(events.FileAccessed, norm, map[string]any{
		"new":      created,
		"changed":  changed,
		"language": string(out.Language),
	}))
	return out, nil
}

// accessLocked must be called with t.mu held
func (t *Tracker) accessLocked(norm string, content []byte) (meta *FileMetadata, created, changed bool) {
	now := t.now()
	meta, ok := t.files[norm]
	if !ok {
		meta = &FileMetadata{
			Path:     norm,
			AbsPath:  t.absPath(norm),
			Language: DetectLanguage(norm),
		}
		t.files[norm] = meta
		created = true
	}
	meta.AccessCount++
	meta.LastAccessed = now

	hash := contentHash(content)
	if created || hash != meta.Hash {
		t.analyze(meta, content, hash)
		t.updateRelationships(norm)
		changed = true
	}
	if created {
		// a new file may satisfy imports that were dangling elsewhere
		t.reresolveOthers(norm)
	}
	return meta, created, changed
}

// ModifyFile records an edit: the access, a last-edit stamp and, when
// enabled, a consistency check whose outcome is published.
func (t *Tracker) ModifyFile(p string, content []byte, description string, linesChanged int) (*FileMetadata, error) {
	meta, err := t.AccessFile(p, content)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	m, ok := t.files[meta.Path]
	if !ok {
		t.mu.Unlock()
		return nil, errors.NewFileNotTrackedError(meta.Path)
	}
	m.LastEdit = &EditRecord{
		Timestamp:    t.now(),
		Description:  description,
		LinesChanged: linesChanged,
	}
	out := m.Clone()
	t.mu.Unlock()

	t.events.Publish(events.New(events.FileModified, out.Path, map[string]any{
		"description":   description,
		"lines_changed": linesChanged,
	}))
	t.logger.Debug("file modified", "path", out.Path, "lines_changed", linesChanged)

	if t.config.AutoConsistencyCheck {
		if report, err := t.CheckConsistency(out.Path); err == nil {
			t.publishReport(report)
		}
	}
	return out, nil
}

func (t *Tracker) publishReport(report *ConsistencyReport) {
	data := map[string]any{
		"passed":      report.Passed,
		"warnings":    report.Warnings,
		"errors":      report.Errors,
		"suggestions": report.Suggestions,
	}
	switch {
	case !report.Passed:
		t.events.Publish(events.New(events.ConsistencyError, report.Path, data))
		t.logger.Warn("consistency check failed", "path", report.Path, "errors", report.Errors)
	case len(report.Warnings) > 0:
		t.events.Publish(events.New(events.ConsistencyWarning, report.Path, data))
	}
}

// DeleteFile forgets path and prunes it from every other file's dependency
// and dependent sets.
func (t *Tracker) DeleteFile(p string) error {
	norm := t.Normalize(p)

	t.mu.Lock()
	meta, ok := t.files[norm]
	if !ok {
		t.mu.Unlock()
		return errors.NewFileNotTrackedError(norm)
	}
	delete(t.files, norm)

	for _, dep := range meta.Dependencies {
		if d, ok := t.files[dep]; ok {
			d.Dependents = removeString(d.Dependents, norm)
		}
	}
	for key := range t.rels {
		if key.from == norm || key.to == norm {
			delete(t.rels, key)
		}
	}
	// former dependents may now resolve to another candidate, or dangle
	for _, dependent := range meta.Dependents {
		if _, ok := t.files[dependent]; ok {
			t.updateRelationships(dependent)
		}
	}
	count := len(t.files)
	t.mu.Unlock()
	t.flush()

	t.metrics.SetFilesTracked(count)
	t.events.Publish(events.New(events.FileDeleted, norm, nil))
	return nil
}

// analyze must be called with t.mu held
func (t *Tracker) analyze(meta *FileMetadata, content []byte, hash string) {
	meta.Hash = hash
	meta.Size = int64(len(content))
	meta.LastModified = t.now()
	meta.AnalysisCount++

	var syms Symbols
	if a, ok := t.analyzers.For(meta.Language); ok {
		syms = a.Extract(string(content))
	}
	meta.Imports = syms.Imports
	meta.Exports = syms.Exports
	meta.Functions = syms.Functions
	meta.Classes = syms.Classes
	meta.Types = syms.Types

	t.metrics.RecordFileAnalysis(string(meta.Language))
}

// resolve maps one import of from to tracked paths. local is false for
// external imports the analyzer does not resolve at all.
func (t *Tracker) resolve(from *FileMetadata, spec string) (targets []string, local bool) {
	a, ok := t.analyzers.For(from.Language)
	if !ok {
		return nil, false
	}
	candidates := a.Candidates(from.Path, spec)
	if candidates == nil {
		return nil, false
	}

	for _, c := range candidates {
		if dir, isDir := strings.CutSuffix(c, "/"); isDir {
			dir = path.Clean(dir)
			for p, m := range t.files {
				if p != from.Path && path.Dir(p) == dir && m.Language == from.Language {
					targets = append(targets, p)
				}
			}
			if len(targets) > 0 {
				sort.Strings(targets)
				return targets, true
			}
			continue
		}
		if c == from.Path {
			continue
		}
		if _, ok := t.files[c]; ok {
			return []string{c}, true
		}
	}
	return nil, true
}

// updateRelationships rebuilds the outgoing import edges of norm.
// Must be called with t.mu held.
func (t *Tracker) updateRelationships(norm string) {
	meta := t.files[norm]

	previous := make(map[string]bool, len(meta.Dependencies))
	for _, dep := range meta.Dependencies {
		previous[dep] = true
		if d, ok := t.files[dep]; ok {
			d.Dependents = removeString(d.Dependents, norm)
		}
	}
	for key := range t.rels {
		if key.from == norm && key.typ == RelImports {
			delete(t.rels, key)
		}
	}

	var deps []string
	for _, spec := range meta.Imports {
		targets, _ := t.resolve(meta, spec)
		for _, target := range targets {
			if !slices.Contains(deps, target) {
				deps = append(deps, target)
			}
			d := t.files[target]
			if !slices.Contains(d.Dependents, norm) {
				d.Dependents = append(d.Dependents, norm)
				sort.Strings(d.Dependents)
			}

			key := relKey{from: norm, to: target, typ: RelImports}
			if _, exists := t.rels[key]; exists {
				continue
			}
			t.rels[key] = &FileRelationship{
				From:     norm,
				To:       target,
				Type:     RelImports,
				Strength: 1.0,
				Metadata: map[string]string{"import": spec},
			}
			if !previous[target] {
				t.discovered(norm, target, RelImports)
			}
		}
	}
	sort.Strings(deps)
	meta.Dependencies = deps
}

// reresolveOthers must be called with t.mu held
func (t *Tracker) reresolveOthers(except string) {
	for p, m := range t.files {
		if p != except && len(m.Imports) > 0 {
			t.updateRelationships(p)
		}
	}
}

// discovered must be called with t.mu held
func (t *Tracker) discovered(from, to string, typ RelationshipType) {
	t.metrics.RecordRelationship(string(typ))
	t.queued = append(t.queued, events.New(events.RelationshipDiscovered, from, map[string]any{
		"from": from,
		"to":   to,
		"type": string(typ),
	}))
}

// flush publishes queued events outside the lock
func (t *Tracker) flush() {
	t.mu.Lock()
	queued := t.queued
	t.queued = nil
	t.mu.Unlock()
	for _, e := range queued {
		t.events.Publish(e)
	}
}

// RecordCoModification links files edited together. Repeated co-edits
// strengthen the edge.
func (t *Tracker) RecordCoModification(paths []string) {
	norms := make([]string, 0, len(paths))
	for _, p := range paths {
		n := t.Normalize(p)
		if !slices.Contains(norms, n) {
			norms = append(norms, n)
		}
	}

	t.mu.Lock()
	for i, a := range norms {
		if _, ok := t.files[a]; !ok {
			continue
		}
		for _, b := range norms[i+1:] {
			if _, ok := t.files[b]; !ok {
				continue
			}
			t.strengthen(a, b)
			t.strengthen(b, a)
		}
	}
	t.mu.Unlock()
	t.flush()
}

// strengthen must be called with t.mu held
func (t *Tracker) strengthen(from, to string) {
	key := relKey{from: from, to: to, typ: RelModifiedTogether}
	if r, ok := t.rels[key]; ok {
		r.Strength = min(1.0, r.Strength+0.1)
		return
	}
	t.rels[key] = &FileRelationship{From: from, To: to, Type: RelModifiedTogether, Strength: 0.5}
	t.discovered(from, to, RelModifiedTogether)
}

// GetFile returns a copy of the metadata for path
func (t *Tracker) GetFile(p string) (*FileMetadata, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.files[t.Normalize(p)]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// ListFiles returns every tracked file sorted by path
func (t *Tracker) ListFiles() []*FileMetadata {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*FileMetadata, 0, len(t.files))
	for _, m := range t.files {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Relationships returns every edge touching path
func (t *Tracker) Relationships(p string) []FileRelationship {
	norm := t.Normalize(p)
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []FileRelationship
	for key, r := range t.rels {
		if key.from == norm || key.to == norm {
			c := *r
			if r.Metadata != nil {
				c.Metadata = make(map[string]string, len(r.Metadata))
				for k, v := range r.Metadata {
					c.Metadata[k] = v
				}
			}
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		if out[i].To != out[j].To {
			return out[i].To < out[j].To
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// FindFilesBySymbol returns files that declare or export name
func (t *Tracker) FindFilesBySymbol(name string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for p, m := range t.files {
		if m.HasSymbol(name) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// SetSummary attaches a generated summary to a tracked file
func (t *Tracker) SetSummary(p, summary string) error {
	norm := t.Normalize(p)
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.files[norm]
	if !ok {
		return errors.NewFileNotTrackedError(norm)
	}
	m.Summary = summary
	return nil
}

// Stats summarizes tracked files and relationships
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Stats{
		Files:         len(t.files),
		ByLanguage:    make(map[Language]int),
		Relationships: make(map[RelationshipType]int),
	}
	for _, m := range t.files {
		s.ByLanguage[m.Language]++
		s.Dependencies += len(m.Dependencies)
	}
	for key := range t.rels {
		s.Relationships[key.typ]++
	}
	return s
}

func contentHash(content []byte) string {
	h := blake3.New()
	_, _ = h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

func removeString(list []string, v string) []string {
	return slices.DeleteFunc(list, func(s string) bool { return s == v })
}
