package files

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScriptAnalyzer_Extract(t *testing.T) {
	src := `import { b } from './b';
import React from 'react';
import './styles.css';
const util = require('../lib/util');
export function foo() {}
export const bar = () => 1;
export class Baz {}
export interface Opts { a: string }
export type ID = string;
export default Baz;
`
	syms := NewScriptAnalyzer().Extract(src)

	assert.Equal(t, []string{"./b", "react", "./styles.css", "../lib/util"}, syms.Imports)
	assert.Equal(t, []string{"Baz", "ID", "Opts", "bar", "default", "foo"}, syms.Exports)
	assert.Equal(t, []string{"bar", "foo"}, syms.Functions)
	assert.Equal(t, []string{"Baz"}, syms.Classes)
	assert.Equal(t, []string{"ID", "Opts"}, syms.Types)
}

func TestScriptAnalyzer_ExportList(t *testing.T) {
	syms := NewScriptAnalyzer().Extract("const a = 1, b = 2;\nexport { a, b as c };\nexport * from './d';\n")

	assert.Equal(t, []string{"a", "c"}, syms.Exports)
	assert.Equal(t, []string{"./d"}, syms.Imports)
}

func TestScriptAnalyzer_Candidates(t *testing.T) {
	a := NewScriptAnalyzer()

	got := a.Candidates("src/a.ts", "./b")
	assert.Equal(t, "src/b", got[0])
	assert.Contains(t, got, "src/b.ts")
	assert.Contains(t, got, "src/b/index.ts")

	assert.Equal(t, []string{"lib/x.js", "lib/x.ts", "lib/x.tsx"}, a.Candidates("src/a.ts", "../lib/x.js"))
	assert.Nil(t, a.Candidates("src/a.ts", "react"))
}

func TestPythonAnalyzer_Extract(t *testing.T) {
	src := `import os, sys as system
from . import helpers
from .models import User
from ..core.base import Base
from typing import TypeVar

T = TypeVar("T")

class Service:
    def run(self):
        pass

def make_service():
    return Service()

def _private():
    pass
`
	syms := NewPythonAnalyzer().Extract(src)

	assert.Equal(t, []string{".helpers", ".models", "..core.base", "typing", "os", "sys"}, syms.Imports)
	assert.Equal(t, []string{"Service", "make_service"}, syms.Exports)
	assert.Equal(t, []string{"_private", "make_service", "run"}, syms.Functions)
	assert.Equal(t, []string{"Service"}, syms.Classes)
	assert.Equal(t, []string{"T"}, syms.Types)
}

func TestPythonAnalyzer_DunderAll(t *testing.T) {
	syms := NewPythonAnalyzer().Extract("__all__ = ['public', \"other\"]\n\ndef public():\n    pass\n\ndef hidden():\n    pass\n")
	assert.Equal(t, []string{"other", "public"}, syms.Exports)
}

func TestPythonAnalyzer_Candidates(t *testing.T) {
	a := NewPythonAnalyzer()

	assert.Equal(t, []string{"pkg/sub/models.py", "pkg/sub/models/__init__.py"}, a.Candidates("pkg/sub/mod.py", ".models"))
	assert.Equal(t, []string{"pkg/core/base.py", "pkg/core/base/__init__.py"}, a.Candidates("pkg/sub/mod.py", "..core.base"))
	assert.Equal(t, []string{"pkg/sub/__init__.py"}, a.Candidates("pkg/sub/mod.py", "."))
	assert.Nil(t, a.Candidates("pkg/sub/mod.py", "os"))
}

func TestGoAnalyzer_Extract(t *testing.T) {
	src := `package service

import (
	"context"
	"fmt"

	"example.com/app/internal/store"
	log "example.com/app/internal/log"
)

type Service struct{}

type handler interface{}

const MaxItems = 10

func New() *Service { return &Service{} }

func (s *Service) Run(ctx context.Context) error { return nil }

func helper() {}
`
	syms := NewGoAnalyzer("example.com/app").Extract(src)

	assert.Equal(t, []string{"context", "fmt", "example.com/app/internal/store", "example.com/app/internal/log"}, syms.Imports)
	assert.Equal(t, []string{"MaxItems", "New", "Service"}, syms.Exports)
	assert.Equal(t, []string{"New", "Run", "helper"}, syms.Functions)
	assert.Equal(t, []string{"Service"}, syms.Classes)
	assert.Equal(t, []string{"Service", "handler"}, syms.Types)
}

func TestGoAnalyzer_Candidates(t *testing.T) {
	a := NewGoAnalyzer("example.com/app")

	assert.Equal(t, []string{"internal/store/"}, a.Candidates("internal/service/s.go", "example.com/app/internal/store"))
	assert.Equal(t, []string{"./"}, a.Candidates("internal/service/s.go", "example.com/app"))
	assert.Nil(t, a.Candidates("internal/service/s.go", "fmt"))
	assert.Nil(t, NewGoAnalyzer("").Candidates("a.go", "example.com/app/x"))
}

func TestExtract_NeverFailsOnGarbage(t *testing.T) {
	garbage := "}{ import from ' \x00 def class ( export"
	for _, a := range []Analyzer{NewScriptAnalyzer(), NewPythonAnalyzer(), NewGoAnalyzer("x")} {
		assert.NotPanics(t, func() { a.Extract(garbage) }, a.Name())
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry("")

	a, ok := r.For(LanguageTypeScript)
	assert.True(t, ok)
	assert.Equal(t, "script", a.Name())

	_, ok = r.For(LanguageRust)
	assert.False(t, ok)

	assert.Equal(t, []Language{LanguageGo, LanguageJavaScript, LanguagePython, LanguageTypeScript}, r.Languages())
}

func TestDetectLanguage(t *testing.T) {
	tests := map[string]Language{
		"a.ts":        LanguageTypeScript,
		"b.JSX":       LanguageJavaScript,
		"pkg/mod.py":  LanguagePython,
		"main.go":     LanguageGo,
		"README.md":   LanguageUnknown,
		"lib/core.rs": LanguageRust,
	}
	for path, want := range tests {
		assert.Equal(t, want, DetectLanguage(path), path)
	}
	assert.True(t, LanguageGo.HasStaticTypes())
	assert.False(t, LanguagePython.HasStaticTypes())
}
