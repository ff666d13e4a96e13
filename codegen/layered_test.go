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
	"strings"
	"testing"
)

func generateLayered(t *testing.T, rec *Recurrence) string {
	t.Helper()
	out, err := NewLayeredGenerator(rec).Generate()
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestLayeredHermiteE(t *testing.T) {
	header := generateLayered(t, hermiteE())

	wantContains(t, header,
		// Primary template does nothing for invalid layers.
		"template<int nA, int nB, typename Enable = void>\nstruct HermiteECoeffLayer {",
		"static constexpr int N_VALUES = 0;",
		// Pinned base layer writes its single slot.
		"struct HermiteECoeffLayer<0, 0, void> {",
		"static constexpr int N_VALUES = 1;",
		"out[0] = Vec8d(1);",
		// Layer size follows the aux bound from the validity range.
		"static constexpr int N_VALUES = (nA + nB) + 1;",
		// The previous layer is computed once into a padded buffer.
		"Vec8d prev[N_VALUES + 1] = {};  // Zero-init, sized for shifted access",
		"HermiteECoeffLayer<nA - 1, nB>::compute(prev, PA, PB, aAB);",
		// The aux == 0 rule unrolls ahead of the loop with folded shifts.
		"// t = 0 special case",
		"out[0] = PA * prev[0] + Vec8d(1) * prev[1];",
		"// General case: t = 1 to N_VALUES-1",
		"for (int t = 1; t < N_VALUES; ++t) {",
		"out[t] = aAB * prev[t - 1] + PA * prev[t] + Vec8d(t + 1) * prev[t + 1];",
		// Per-value accessor shim on top of the layer.
		"// API compatibility: single-value accessor",
		"Vec8d layer[(nA + nB) + 1] = {};",
		"HermiteECoeffLayer<nA, nB>::compute(layer, PA, PB, aAB);",
		"return layer[t];",
	)

	// One specialization per spatial branch.
	if n := strings.Count(header, "typename std::enable_if<"); n != 3 {
		t.Errorf("got %d rule layer specializations, want 3\n%s", n, header)
	}
}

func TestLayeredCoulombR(t *testing.T) {
	header := generateLayered(t, coulombR())

	wantContains(t, header,
		// Declared bound plus headroom sizes every layer.
		"static constexpr int N_VALUES = (t + u + v) + 4;",
		// The base layer copies the tabulated values.
		"struct CoulombRCoeffLayer<0, 0, 0, void> {",
		"static constexpr int N_VALUES = 4;",
		"// Base layer is the tabulated values themselves",
		"for (int N = 0; N < N_VALUES; ++N) {",
		"out[N] = Boys[N];",
		// Two distinct previous layers get numbered buffers.
		"Vec8d prev_0[N_VALUES + 1] = {};",
		"CoulombRCoeffLayer<t - 1, u, v>::compute(prev_0, PCx, PCy, PCz, Boys);",
		"Vec8d prev_1[N_VALUES + 1] = {};",
		"CoulombRCoeffLayer<t - 2, u, v>::compute(prev_1, PCx, PCy, PCz, Boys);",
		// The whole range loops from zero, reading one order up.
		"// General case: N = 0 to N_VALUES-1",
		"out[N] = PCx * prev_0[N + 1] + Vec8d(t - 1) * prev_1[N + 1];",
	)

	// The Boys table rides through as a pointer everywhere.
	if !strings.Contains(header, "const Vec8d* Boys") {
		t.Errorf("Boys not passed as a table pointer:\n%s", header)
	}
}

func TestLayeredCrossReference(t *testing.T) {
	e := New("E", []string{"i", "t"}, []string{"PA", "aAB"}).
		Aux("t").
		Validity("i >= 0", "t >= 0", "t <= i").
		Base(At{"i": 0, "t": 0}, "1.0").
		Rule("i > 0 && t == 0", "PA * E[i-1, t] + (t + 1) * E[i-1, t+1]", "", "t=0").
		Rule("i > 0 && t > 0", "aAB * E[i-1, t-1] + PA * E[i-1, t] + (t + 1) * E[i-1, t+1]", "", "t>0")
	d := New("EDeriv", []string{"i", "t"}, []string{"PA", "aAB"}).
		Symbol("D").
		CrossRef("E", e).
		Aux("t").
		Validity("i >= 0", "t >= 0", "t <= i").
		Base(At{"i": 0, "t": 0}, "0.0").
		Rule("i > 0 && t == 0",
			"PA * D[i-1, t] + (t + 1) * D[i-1, t+1] + (0.5) * E[i-1, t]", "", "deriv t=0").
		Rule("i > 0 && t > 0",
			"aAB * D[i-1, t-1] + PA * D[i-1, t] + (t + 1) * D[i-1, t+1] + (0.5) * E[i-1, t]", "", "deriv t>0")
	if err := d.Err(); err != nil {
		t.Fatal(err)
	}
	header := generateLayered(t, d)

	wantContains(t, header,
		// The referenced recurrence's layer is materialized alongside
		// this recurrence's own previous layer.
		"// Compute E layer once: (i - 1)",
		"Vec8d e_layer[N_VALUES + 1] = {};",
		"ECoeffLayer<i - 1>::compute(e_layer, PA, aAB);",
		"// Compute previous layer once: (i - 1)",
		"EDerivCoeffLayer<i - 1>::compute(prev, PA, aAB);",
		// Cross terms read the materialized buffer inside the loop.
		"out[t] = aAB * prev[t - 1] + PA * prev[t] + Vec8d(t + 1) * prev[t + 1] + Vec8d(0.5) * e_layer[t];",
	)
}

func TestLayeredNeedsAuxIndex(t *testing.T) {
	_, err := NewLayeredGenerator(legendre()).Generate()
	if err == nil || !strings.Contains(err.Error(), "auxiliary index") {
		t.Fatalf("Generate() error = %v, want missing auxiliary index", err)
	}
}

func TestLayeredBoundDefaulted(t *testing.T) {
	rec := New("Unbounded", []string{"i", "t"}, []string{"x"}).
		Aux("t").
		Validity("i >= 0", "t >= 0").
		Base(At{"i": 0, "t": 0}, "1.0").
		Rule("i > 0", "x * E[i-1, t]", "", "step")
	g := NewLayeredGenerator(rec)
	header, err := g.Generate()
	if err != nil {
		t.Fatal(err)
	}
	if !g.BoundDefaulted {
		t.Error("BoundDefaulted = false, want true without an aux bound")
	}
	if !strings.Contains(header, "static constexpr int N_VALUES = 1;") {
		t.Errorf("defaulted layer size missing:\n%s", header)
	}
}
