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

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/recursum/recursum/recurrences"
)

func TestFilterCatalog(t *testing.T) {
	catalog, err := recurrences.All()
	if err != nil {
		t.Fatal(err)
	}

	got, err := filterCatalog(catalog, []string{"Legendre", "CoulombR"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got["orthogonal"]) != 1 || got["orthogonal"][0].Name != "Legendre" {
		t.Errorf("orthogonal filter = %v", got["orthogonal"])
	}
	if len(got["mcmd"]) != 1 || got["mcmd"][0].Name != "CoulombR" {
		t.Errorf("mcmd filter = %v", got["mcmd"])
	}

	_, err = filterCatalog(catalog, []string{"Legendre", "Zernike", "Airy"})
	if err == nil || !strings.Contains(err.Error(), "unknown recurrences: Airy, Zernike") {
		t.Errorf("filterCatalog error = %v, want sorted unknown names", err)
	}
}

func TestOrchestratorOptValidation(t *testing.T) {
	opts := &generateOpts{optLevel: "aggressive"}
	_, err := opts.orchestrator()
	if err == nil || !strings.Contains(err.Error(), "unknown optimization level") {
		t.Fatalf("orchestrator() error = %v", err)
	}
}

func TestGenerateCommand(t *testing.T) {
	dir := t.TempDir()
	cmd := rootCmd()
	cmd.SetArgs([]string{"generate", "-o", dir, "--only", "Legendre", "--tests=false"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "src", "generated", "legendre_coeff.hpp")); err != nil {
		t.Errorf("header not generated: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "src", "generated", "dispatchers", "legendre_dispatcher.hpp")); err != nil {
		t.Errorf("dispatcher not generated: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "tests")); !os.IsNotExist(err) {
		t.Errorf("tests emitted despite --tests=false: %v", err)
	}
}
