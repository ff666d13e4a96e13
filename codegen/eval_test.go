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
	"math"
	"strings"
	"testing"
)

func approx(t *testing.T, got, want float64, context string) {
	t.Helper()
	if math.Abs(got-want) > 1e-12*math.Max(1, math.Abs(want)) {
		t.Errorf("%s = %v, want %v", context, got, want)
	}
}

func fibonacci() *Recurrence {
	return New("Fibonacci", []string{"n"}, nil).
		Validity("n >= 0").
		Base(At{"n": 0}, "0.0").
		Base(At{"n": 1}, "1.0").
		Rule("n > 1", "E[n-1] + E[n-2]", "", "Two-term")
}

func legendre() *Recurrence {
	return New("Legendre", []string{"n"}, []string{"x"}).
		Validity("n >= 0").
		Base(At{"n": 0}, "1.0").
		Base(At{"n": 1}, "x").
		Rule("n > 1", "(2*n-1) * x * E[n-1] + (-(n-1)) * E[n-2]", "1/n", "Three-term")
}

func hermiteE() *Recurrence {
	return New("HermiteE", []string{"nA", "nB", "t"}, []string{"PA", "PB", "aAB"}).
		Aux("t").
		Validity("nA >= 0", "nB >= 0", "t >= 0", "t <= nA + nB").
		Base(At{"nA": 0, "nB": 0, "t": 0}, "1.0").
		Rule("nA > 0 && nB == 0 && t == 0",
			"PA * E[nA-1, 0, t] + (t + 1) * E[nA-1, 0, t+1]", "", "A-side t=0").
		Rule("nA > 0 && nB == 0 && t > 0",
			"aAB * E[nA-1, 0, t-1] + PA * E[nA-1, 0, t] + (t + 1) * E[nA-1, 0, t+1]", "", "A-side t>0").
		Rule("nA == 0 && nB > 0 && t == 0",
			"PB * E[0, nB-1, t] + (t + 1) * E[0, nB-1, t+1]", "", "B-side t=0").
		Rule("nA == 0 && nB > 0 && t > 0",
			"aAB * E[0, nB-1, t-1] + PB * E[0, nB-1, t] + (t + 1) * E[0, nB-1, t+1]", "", "B-side t>0").
		Rule("nA > 0 && nB > 0 && t == 0",
			"PA * E[nA-1, nB, t] + (t + 1) * E[nA-1, nB, t+1]", "", "General t=0").
		Rule("nA > 0 && nB > 0 && t > 0",
			"aAB * E[nA-1, nB, t-1] + PA * E[nA-1, nB, t] + (t + 1) * E[nA-1, nB, t+1]", "", "General t>0")
}

func coulombR() *Recurrence {
	return New("CoulombR", []string{"t", "u", "v", "N"},
		[]string{"PCx", "PCy", "PCz", "Boys"}).
		ArrayVar("Boys").
		Aux("N").
		AuxBound("t + u + v").
		Headroom(3).
		Validity("t >= 0", "u >= 0", "v >= 0", "N >= 0").
		Base(At{"t": 0, "u": 0, "v": 0}, "Boys[N]").
		Rule("t > 0",
			"PCx * E[t-1, u, v, N+1] + (t - 1) * E[t-2, u, v, N+1]", "", "X-recurrence").
		Rule("t == 0 && u > 0",
			"PCy * E[0, u-1, v, N+1] + (u - 1) * E[0, u-2, v, N+1]", "", "Y-recurrence").
		Rule("t == 0 && u == 0 && v > 0",
			"PCz * E[0, 0, v-1, N+1] + (v - 1) * E[0, 0, v-2, N+1]", "", "Z-recurrence")
}

func TestEvalFibonacci(t *testing.T) {
	ev := NewEvaluator(fibonacci())
	want := []float64{0, 1, 1, 2, 3, 5, 8, 13, 21, 34, 55}
	for n, w := range want {
		got, err := ev.Eval([]int{n}, EvalEnv{})
		if err != nil {
			t.Fatalf("Eval(%d): %v", n, err)
		}
		approx(t, got, w, "fib")
	}
}

func TestEvalLegendre(t *testing.T) {
	ev := NewEvaluator(legendre())
	env := EvalEnv{Vars: map[string]float64{"x": 0.5}}
	// P2(0.5) = (3x^2 - 1)/2, P3(0.5) = (5x^3 - 3x)/2.
	tests := []struct {
		n    int
		want float64
	}{
		{0, 1},
		{1, 0.5},
		{2, -0.125},
		{3, -0.4375},
	}
	for _, tt := range tests {
		got, err := ev.Eval([]int{tt.n}, env)
		if err != nil {
			t.Fatalf("Eval(%d): %v", tt.n, err)
		}
		approx(t, got, tt.want, "P_n(0.5)")
	}
}

func TestEvalZeroOutsideDomain(t *testing.T) {
	ev := NewEvaluator(legendre())
	env := EvalEnv{Vars: map[string]float64{"x": 0.5}}
	got, err := ev.Eval([]int{-1}, env)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("Eval(-1) = %v, want 0 outside the domain", got)
	}
}

func TestEvalHermiteE(t *testing.T) {
	ev := NewEvaluator(hermiteE())
	env := EvalEnv{Vars: map[string]float64{"PA": 0.3, "PB": -0.2, "aAB": 0.25}}

	eval := func(nA, nB, tt int) float64 {
		v, err := ev.Eval([]int{nA, nB, tt}, env)
		if err != nil {
			t.Fatalf("Eval(%d,%d,%d): %v", nA, nB, tt, err)
		}
		return v
	}

	approx(t, eval(0, 0, 0), 1, "E^{0,0}_0")
	approx(t, eval(1, 0, 0), 0.3, "E^{1,0}_0")
	approx(t, eval(1, 0, 1), 0.25, "E^{1,0}_1")
	approx(t, eval(0, 1, 0), -0.2, "E^{0,1}_0")
	// E^{1,1}_0 = PA*E^{0,1}_0 + E^{0,1}_1.
	approx(t, eval(1, 1, 0), 0.3*-0.2+0.25, "E^{1,1}_0")
	// E^{1,1}_1 = aAB*E^{0,1}_0 + PA*E^{0,1}_1.
	approx(t, eval(1, 1, 1), 0.25*-0.2+0.3*0.25, "E^{1,1}_1")
	// E^{1,1}_2 = aAB*E^{0,1}_1.
	approx(t, eval(1, 1, 2), 0.25*0.25, "E^{1,1}_2")
	// Outside t <= nA + nB.
	approx(t, eval(1, 1, 3), 0, "E^{1,1}_3")
}

// The layered sweep must agree with direct per-value recursion over
// the whole auxiliary range.
func TestEvalLayerMatchesPerValue(t *testing.T) {
	ev := NewEvaluator(hermiteE())
	env := EvalEnv{Vars: map[string]float64{"PA": 0.3, "PB": -0.2, "aAB": 0.25}}

	for _, layer := range [][]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}, {2, 1}, {2, 2}, {3, 3}} {
		got, err := ev.EvalLayer(layer, env)
		if err != nil {
			t.Fatalf("EvalLayer(%v): %v", layer, err)
		}
		wantLen := layer[0] + layer[1] + 1
		if len(got) != wantLen {
			t.Fatalf("EvalLayer(%v) returned %d values, want %d", layer, len(got), wantLen)
		}
		for tt, v := range got {
			direct, err := ev.Eval([]int{layer[0], layer[1], tt}, env)
			if err != nil {
				t.Fatal(err)
			}
			approx(t, v, direct, "layered vs per-value")
		}
	}
}

func TestEvalLayerCoulombR(t *testing.T) {
	ev := NewEvaluator(coulombR())
	env := EvalEnv{
		Vars:   map[string]float64{"PCx": 0.7, "PCy": -0.3, "PCz": 0.1},
		Arrays: map[string][]float64{"Boys": {1.0, 0.5, 0.3, 0.2, 0.15, 0.12, 0.1, 0.09, 0.08, 0.07}},
	}

	// Base layer is the Boys table itself, headroom included.
	base, err := ev.EvalLayer([]int{0, 0, 0}, env)
	if err != nil {
		t.Fatal(err)
	}
	if len(base) != 4 {
		t.Fatalf("base layer has %d values, want 4", len(base))
	}
	for n, v := range base {
		approx(t, v, env.Arrays["Boys"][n], "base layer")
	}

	// R^{(N)}_{100} = PCx * Boys[N+1]: the reduction raises the
	// auxiliary order, which only works because deeper layers carry
	// headroom.
	layer, err := ev.EvalLayer([]int{1, 0, 0}, env)
	if err != nil {
		t.Fatal(err)
	}
	if len(layer) != 5 {
		t.Fatalf("layer (1,0,0) has %d values, want 5", len(layer))
	}
	for n := 0; n < 3; n++ {
		approx(t, layer[n], 0.7*env.Arrays["Boys"][n+1], "R^{(N)}_{100}")
	}
	// Slots past the stored base range read the zero padding.
	approx(t, layer[3], 0, "R^{(3)}_{100} past base storage")
	approx(t, layer[4], 0, "R^{(4)}_{100} past base storage")

	// R^{(N)}_{200} = PCx*R^{(N+1)}_{100} + R^{(N+1)}_{000}.
	layer, err = ev.EvalLayer([]int{2, 0, 0}, env)
	if err != nil {
		t.Fatal(err)
	}
	if len(layer) != 6 {
		t.Fatalf("layer (2,0,0) has %d values, want 6", len(layer))
	}
	for n := 0; n < 2; n++ {
		want := 0.7*0.7*env.Arrays["Boys"][n+2] + env.Arrays["Boys"][n+1]
		approx(t, layer[n], want, "R^{(N)}_{200}")
	}
	// The deeper lookup truncates first; only the direct term survives.
	approx(t, layer[2], env.Arrays["Boys"][3], "R^{(2)}_{200} truncated tail")

	// Per-value recursion agrees within the declared bound.
	direct, err := ev.Eval([]int{1, 0, 0, 1}, env)
	if err != nil {
		t.Fatal(err)
	}
	approx(t, direct, 0.7*env.Arrays["Boys"][2], "R^{(1)}_{100}")
}

func TestEvalCrossReference(t *testing.T) {
	e := New("E", []string{"i", "t"}, []string{"c", "K"}).
		Validity("i >= 0", "t >= 0", "t <= i").
		Base(At{"i": 0, "t": 0}, "K").
		Rule("i > 0 && t == 0", "c * E[i-1, t] + (t + 1.0) * E[i-1, t+1]", "", "t=0").
		Rule("i > 0 && t > 0", "c * E[i-1, t] + (t + 1.0) * E[i-1, t+1]", "", "t>0")
	d := New("D", []string{"i", "t"}, []string{"c", "K"}).
		Symbol("D").
		CrossRef("E", e).
		Validity("i >= 0", "t >= 0", "t <= i").
		Base(At{"i": 0, "t": 0}, "2.0 * K").
		Rule("i > 0 && t == 0", "c * D[i-1, t] + E[i-1, t]", "", "step")
	if err := e.Err(); err != nil {
		t.Fatal(err)
	}
	if err := d.Err(); err != nil {
		t.Fatal(err)
	}

	env := EvalEnv{Vars: map[string]float64{"c": 0.5, "K": 3.0}}

	// Without the reference registered, evaluation must fail loudly.
	lone := NewEvaluator(d)
	if _, err := lone.Eval([]int{1, 0}, env); err == nil || !strings.Contains(err.Error(), "unresolved reference") {
		t.Fatalf("Eval without Ref: error = %v, want unresolved reference", err)
	}

	ev := NewEvaluator(d).Ref("E", NewEvaluator(e))
	got, err := ev.Eval([]int{1, 0}, env)
	if err != nil {
		t.Fatal(err)
	}
	// D^{1}_0 = c*D^{0}_0 + E^{0}_0 = 0.5*6 + 3.
	approx(t, got, 0.5*6+3, "cross-referenced step")
}

func TestEvalArityMismatch(t *testing.T) {
	ev := NewEvaluator(legendre())
	if _, err := ev.Eval([]int{1, 2}, EvalEnv{}); err == nil {
		t.Fatal("Eval with wrong index count: want error")
	}
}

func TestEvalUnboundIdentifier(t *testing.T) {
	ev := NewEvaluator(legendre())
	if _, err := ev.Eval([]int{2}, EvalEnv{}); err == nil {
		t.Fatal("Eval with unbound runtime variable: want error")
	}
}

func TestEvalArith(t *testing.T) {
	lookup := func(name string) (float64, error) {
		vars := map[string]float64{"a": 2, "b": 3, "p": 5}
		v, ok := vars[name]
		if !ok {
			return 0, errUnbound(name)
		}
		return v, nil
	}
	tests := []struct {
		expr string
		want float64
	}{
		{"2*3 - 1", 5},
		{"-(a)", -2},
		{"(0.5 / p)", 0.1},
		{"-(b / (a + b))", -0.6},
		{"2.0 * a * (b - a)", 4},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := evalArith(tt.expr, lookup)
			if err != nil {
				t.Fatalf("evalArith(%q): %v", tt.expr, err)
			}
			approx(t, got, tt.want, tt.expr)
		})
	}

	if _, err := evalArith("2 +", lookup); err == nil {
		t.Error("evalArith on malformed input: want error")
	}
}

func errUnbound(name string) error {
	return &unboundError{name: name}
}

type unboundError struct{ name string }

func (e *unboundError) Error() string { return "unbound " + e.name }

func TestEvalIntText(t *testing.T) {
	v, err := evalIntText("2*n - 1", map[string]int{"n": 4})
	if err != nil {
		t.Fatal(err)
	}
	if v != 7 {
		t.Errorf("evalIntText = %d, want 7", v)
	}
	if _, err := evalIntText("n / 2", map[string]int{"n": 3}); err == nil {
		t.Error("non-integral result: want error")
	}
}

func TestReplaceIdent(t *testing.T) {
	tests := []struct {
		text, name, with, want string
	}{
		{"t + 1", "t", "0", "0 + 1"},
		{"P_tau - t", "t", "3", "P_tau - 3"},
		{"tt + t", "t", "9", "tt + 9"},
	}
	for _, tt := range tests {
		if got := replaceIdent(tt.text, tt.name, tt.with); got != tt.want {
			t.Errorf("replaceIdent(%q, %q, %q) = %q, want %q",
				tt.text, tt.name, tt.with, got, tt.want)
		}
	}
}
