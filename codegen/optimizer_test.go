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
	"testing"
)

func mustParse(t *testing.T, p *Parser, s string) *Sum {
	t.Helper()
	sum, err := p.ParseExpression(s)
	if err != nil {
		t.Fatalf("ParseExpression(%q): %v", s, err)
	}
	return sum
}

func TestShouldApplyCSE(t *testing.T) {
	p := NewParser([]string{"i", "j", "t"}, []string{"x"})
	tests := []struct {
		name string
		expr string
		want bool
	}{
		{name: "single call", expr: "x * E[i-1, j, t]", want: false},
		{name: "two distinct calls", expr: "x * E[i-1, j, t] + x * E[i, j-1, t]", want: false},
		{name: "duplicate call", expr: "x * E[i-1, j, t] + E[i-1, j, t]", want: true},
		{
			name: "three distinct calls",
			expr: "x * E[i-1, j, t-1] + x * E[i-1, j, t] + x * E[i-1, j, t+1]",
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldApplyCSE(mustParse(t, p, tt.expr)); got != tt.want {
				t.Errorf("ShouldApplyCSE(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestOptimizeCachesUniqueCalls(t *testing.T) {
	p := NewParser([]string{"i", "j", "t"}, []string{"x", "y"})
	expr := mustParse(t, p, "x * E[i-1, j, t] + y * E[i-1, j, t+1] + E[i-1, j, t]")

	opt := NewOptimizer().Optimize(expr)
	if len(opt.Intermediates) != 2 {
		t.Fatalf("got %d intermediates, want 2 (duplicate call shares one)", len(opt.Intermediates))
	}
	if opt.Intermediates[0].Name != "e_0" || opt.Intermediates[1].Name != "e_1" {
		t.Errorf("intermediate names = %q, %q", opt.Intermediates[0].Name, opt.Intermediates[1].Name)
	}
	flat, ok := opt.Result.(*FlatSum)
	if !ok {
		t.Fatalf("Result = %T, want *FlatSum", opt.Result)
	}
	// The bare duplicate term collapses to its cached variable.
	if cached, ok := flat.Exprs[2].(*CachedVar); !ok || cached.Name != "e_0" {
		t.Errorf("third term = %#v, want CachedVar e_0", flat.Exprs[2])
	}
}

func TestOptimizeBelowThreshold(t *testing.T) {
	p := NewParser([]string{"n"}, []string{"x"})
	expr := mustParse(t, p, "x * E[n-1]")
	opt := NewOptimizer().Optimize(expr)
	if len(opt.Intermediates) != 0 {
		t.Errorf("got %d intermediates, want none below threshold", len(opt.Intermediates))
	}
	if opt.Result != Expr(expr) {
		t.Error("below threshold the expression must pass through unchanged")
	}
}

func TestCallSignatureDistinguishesTargets(t *testing.T) {
	self := &RecursiveCall{Shifts: []int{-1, 0}}
	cross := &RecursiveCall{Target: "E", Shifts: []int{-1, 0}}
	if callSignature(self) == callSignature(cross) {
		t.Error("self and cross-reference calls must have distinct signatures")
	}
}

func TestCountOpsAndCost(t *testing.T) {
	p := NewParser([]string{"n"}, []string{"x"})
	expr := mustParse(t, p, "(2*n-1) * x * E[n-1] + (-(n-1)) * E[n-2]")

	c := CountOps(expr)
	if c.Call != 2 {
		t.Errorf("Call = %d, want 2", c.Call)
	}
	if c.Add != 1 {
		t.Errorf("Add = %d, want 1", c.Add)
	}
	// One coefficient-times-call product per term; coefficient
	// internals are not walked.
	if c.Mul != 2 {
		t.Errorf("Mul = %d, want 2", c.Mul)
	}

	if cost := EstimateCost(expr); cost != 1+2*2+50*2 {
		t.Errorf("EstimateCost = %v, want %v", cost, 1+2*2+50*2)
	}
}

// inlineCached substitutes intermediate definitions back into an
// optimized expression so the result can be evaluated directly.
func inlineCached(e Expr, defs map[string]Expr) Expr {
	switch e := e.(type) {
	case *CachedVar:
		return defs[e.Name]
	case *BinOp:
		return &BinOp{Op: e.Op, Left: inlineCached(e.Left, defs), Right: inlineCached(e.Right, defs)}
	case *FlatSum:
		out := &FlatSum{Exprs: make([]Expr, len(e.Exprs))}
		for i, x := range e.Exprs {
			out.Exprs[i] = inlineCached(x, defs)
		}
		return out
	case *ScaledExpr:
		return &ScaledExpr{Inner: inlineCached(e.Inner, defs), Scale: e.Scale, IsDivision: e.IsDivision}
	case *BranchAverage:
		out := &BranchAverage{Branches: make([]Expr, len(e.Branches)), Scale: e.Scale}
		for i, b := range e.Branches {
			out.Branches[i] = inlineCached(b, defs)
		}
		return out
	default:
		return e
	}
}

func TestOptimizeValueEquivalence(t *testing.T) {
	p := NewParser([]string{"nA", "nB", "t"}, []string{"PA", "PB", "aAB"})
	expr := mustParse(t, p,
		"aAB * E[nA-1, nB, t-1] + PA * E[nA-1, nB, t] + (t + 1) * E[nA-1, nB, t+1] + E[nA-1, nB, t]")

	ev := NewEvaluator(hermiteE())
	env := EvalEnv{Vars: map[string]float64{"PA": 0.3, "PB": -0.2, "aAB": 0.25}}
	idxEnv := map[string]int{"nA": 1, "nB": 1, "t": 1}

	run := &evalRun{env: env, memo: map[memoKey]float64{}}
	want, err := ev.evalExpr(run, expr, idxEnv)
	if err != nil {
		t.Fatal(err)
	}

	opt := NewOptimizer().Optimize(expr)
	if len(opt.Intermediates) == 0 {
		t.Fatal("expected call caching to fire")
	}
	defs := make(map[string]Expr, len(opt.Intermediates))
	for _, in := range opt.Intermediates {
		defs[in.Name] = in.Expr
	}
	got, err := ev.evalExpr(run, inlineCached(opt.Result, defs), idxEnv)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("optimized value = %v, unoptimized = %v", got, want)
	}
}
