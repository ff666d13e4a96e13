// Copyright 2025 recursum Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package codegen

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/exp/maps"
)

// Orchestrator drives full-tree generation: recurrence headers,
// dispatchers, bindings, and pytest suites, laid out the way the
// build expects them under OutputDir. Modules are processed in name
// order and every failure is collected rather than aborting the run,
// so one bad definition surfaces alongside the rest of the report.
type Orchestrator struct {
	OutputDir string
	// Catalog groups recurrences under the module name their
	// generated files are grouped by.
	Catalog map[string][]*Recurrence
	// Layered names recurrences emitted with the layered generator
	// instead of the per-value one.
	Layered map[string]bool
	// Optimization is the per-value body rewrite level.
	Optimization OptLevel
	// WithTests also emits pytest suites.
	WithTests bool
	// Log receives progress lines; defaults to stderr.
	Log io.Writer
}

// NewOrchestrator builds an orchestrator with CSE enabled writing
// under outputDir.
func NewOrchestrator(outputDir string, catalog map[string][]*Recurrence) *Orchestrator {
	return &Orchestrator{
		OutputDir:    outputDir,
		Catalog:      catalog,
		Layered:      map[string]bool{},
		Optimization: OptCSE,
		Log:          os.Stderr,
	}
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.Log != nil {
		fmt.Fprintf(o.Log, format+"\n", args...)
	}
}

// Run generates everything. It returns the multierr aggregate of all
// per-file failures.
func (o *Orchestrator) Run() error {
	return multierr.Combine(
		o.GenerateHeaders(),
		o.GenerateDispatchers(),
		o.GenerateBindings(),
		o.generateTestsIfWanted(),
	)
}

func (o *Orchestrator) generateTestsIfWanted() error {
	if !o.WithTests {
		return nil
	}
	return o.GenerateTests()
}

// modules returns the catalog's module names sorted.
func (o *Orchestrator) modules() []string {
	names := maps.Keys(o.Catalog)
	slices.Sort(names)
	return names
}

func (o *Orchestrator) writeFile(dir, name, content string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	o.logf("  %s", name)
	return nil
}

// GenerateHeaders emits one recurrence header per definition under
// src/generated.
func (o *Orchestrator) GenerateHeaders() error {
	dir := filepath.Join(o.OutputDir, "src", "generated")
	o.logf("Generating C++ recurrence headers...")
	var errs error
	count := 0
	for _, module := range o.modules() {
		for _, rec := range o.Catalog[module] {
			code, err := o.headerFor(rec)
			if err != nil {
				errs = multierr.Append(errs, errors.Wrapf(err, "recurrence %s", rec.Name))
				continue
			}
			name := strings.ToLower(rec.Name) + "_coeff.hpp"
			if err := o.writeFile(dir, name, code); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			count++
		}
	}
	o.logf("Generated %d header files", count)
	return errs
}

func (o *Orchestrator) headerFor(rec *Recurrence) (string, error) {
	if o.Layered[rec.Name] {
		g := NewLayeredGenerator(rec)
		code, err := g.Generate()
		if err == nil && g.BoundDefaulted {
			o.logf("Warning: %s has no auxiliary bound, layer size defaults to 1", rec.Name)
		}
		return code, err
	}
	return NewGenerator(rec, o.Optimization).Generate()
}

// GenerateDispatchers emits the runtime switch headers under
// src/generated/dispatchers.
func (o *Orchestrator) GenerateDispatchers() error {
	dir := filepath.Join(o.OutputDir, "src", "generated", "dispatchers")
	o.logf("Generating runtime dispatchers...")
	var errs error
	count := 0
	for _, module := range o.modules() {
		for _, rec := range o.Catalog[module] {
			code, err := NewDispatcherGenerator(rec).Generate()
			if err != nil {
				errs = multierr.Append(errs, errors.Wrapf(err, "recurrence %s", rec.Name))
				continue
			}
			name := strings.ToLower(rec.Name) + "_dispatcher.hpp"
			if err := o.writeFile(dir, name, code); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			count++
		}
	}
	o.logf("Generated %d dispatcher files", count)
	return errs
}

// GenerateBindings emits a single combined pybind11 translation unit
// under src/bindings.
func (o *Orchestrator) GenerateBindings() error {
	dir := filepath.Join(o.OutputDir, "src", "bindings")
	o.logf("Generating pybind11 bindings...")
	var all []*Recurrence
	for _, module := range o.modules() {
		all = append(all, o.Catalog[module]...)
	}
	code, err := NewBindingGenerator(all, "recursum").Generate()
	if err != nil {
		return errors.Wrap(err, "bindings")
	}
	if err := o.writeFile(dir, "recursum_bindings.cpp", code); err != nil {
		return err
	}
	o.logf("Generated 1 combined binding file (%d recurrences)", len(all))
	return nil
}

// GenerateTests emits the pytest suites under tests/generated.
func (o *Orchestrator) GenerateTests() error {
	dir := filepath.Join(o.OutputDir, "tests", "generated")
	o.logf("Generating pytest tests...")
	var errs error
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	// Package marker so pytest collects the directory.
	if err := os.WriteFile(filepath.Join(dir, "__init__.py"), nil, 0o644); err != nil {
		return errors.Wrap(err, "write package marker")
	}
	count := 0
	for _, module := range o.modules() {
		for _, rec := range o.Catalog[module] {
			code, err := NewTestGenerator(rec, module).Generate()
			if err != nil {
				errs = multierr.Append(errs, errors.Wrapf(err, "recurrence %s", rec.Name))
				continue
			}
			name := "test_" + strings.ToLower(rec.Name) + ".py"
			if err := o.writeFile(dir, name, code); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			count++
		}
	}
	o.logf("Generated %d test files", count)
	return errs
}
