package files

import (
	"slices"
	"time"
)

// RelationshipType classifies a directed edge between two files
type RelationshipType string

const (
	RelImports          RelationshipType = "imports"
	RelExportsTo        RelationshipType = "exports_to"
	RelSimilarTo        RelationshipType = "similar_to"
	RelModifiedTogether RelationshipType = "modified_together"
	RelRelatedFeature   RelationshipType = "related_feature"
)

// EditRecord describes the last recorded modification of a file
type EditRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Description  string    `json:"description"`
	LinesChanged int       `json:"lines_changed"`
}

// FileMetadata is everything the tracker knows about one file.
// Dependencies and Dependents hold normalized paths and are back-references
// only: removing a file prunes it from both sides.
type FileMetadata struct {
	Path          string    `json:"path"`
	AbsPath       string    `json:"abs_path"`
	Hash          string    `json:"hash"`
	Language      Language  `json:"language"`
	Size          int64     `json:"size"`
	LastModified  time.Time `json:"last_modified"`
	LastAccessed  time.Time `json:"last_accessed"`
	AccessCount   int       `json:"access_count"`
	AnalysisCount int       `json:"analysis_count"`

	Imports   []string `json:"imports,omitempty"`
	Exports   []string `json:"exports,omitempty"`
	Functions []string `json:"functions,omitempty"`
	Classes   []string `json:"classes,omitempty"`
	Types     []string `json:"types,omitempty"`

	Dependencies []string `json:"dependencies,omitempty"`
	Dependents   []string `json:"dependents,omitempty"`

	Summary  string      `json:"summary,omitempty"`
	LastEdit *EditRecord `json:"last_edit,omitempty"`
}

// Clone returns a deep copy safe to hand to callers
func (m *FileMetadata) Clone() *FileMetadata {
	c := *m
	c.Imports = slices.Clone(m.Imports)
	c.Exports = slices.Clone(m.Exports)
	c.Functions = slices.Clone(m.Functions)
	c.Classes = slices.Clone(m.Classes)
	c.Types = slices.Clone(m.Types)
	c.Dependencies = slices.Clone(m.Dependencies)
	c.Dependents = slices.Clone(m.Dependents)
	if m.LastEdit != nil {
		edit := *m.LastEdit
		c.LastEdit = &edit
	}
	return &c
}

// HasSymbol reports whether name is declared or exported by the file
func (m *FileMetadata) HasSymbol(name string) bool {
	for _, list := range [][]string{m.Exports, m.Functions, m.Classes, m.Types} {
		if slices.Contains(list, name) {
			return true
		}
	}
	return false
}

// FileRelationship is a directed edge in the relationship index
type FileRelationship struct {
	From     string            `json:"from"`
	To       string            `json:"to"`
	Type     RelationshipType  `json:"type"`
	Strength float64           `json:"strength"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ConsistencyReport is the outcome of CheckConsistency. Passed is false when
// Errors is non-empty; Warnings carry the per-issue detail.
type ConsistencyReport struct {
	Path        string   `json:"path"`
	Passed      bool     `json:"passed"`
	Warnings    []string `json:"warnings,omitempty"`
	Errors      []string `json:"errors,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Stats summarizes the tracker state
type Stats struct {
	Files         int                      `json:"files"`
	ByLanguage    map[Language]int         `json:"by_language"`
	Relationships map[RelationshipType]int `json:"relationships"`
	Dependencies  int                      `json:"dependencies"`
}
