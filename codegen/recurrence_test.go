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

func TestBuilderRecordsFirstError(t *testing.T) {
	tests := []struct {
		name    string
		build   func() *Recurrence
		wantErr string
	}{
		{
			name: "aux must be last index",
			build: func() *Recurrence {
				return New("R", []string{"n", "m"}, nil).Aux("n")
			},
			wantErr: "must be the last declared index",
		},
		{
			name: "max bound for unknown index",
			build: func() *Recurrence {
				return New("R", []string{"n"}, nil).Max(At{"q": 5})
			},
			wantErr: "unknown index",
		},
		{
			name: "negative headroom",
			build: func() *Recurrence {
				return New("R", []string{"n"}, nil).Headroom(-1)
			},
			wantErr: "non-negative",
		},
		{
			name: "array var must be declared",
			build: func() *Recurrence {
				return New("R", []string{"n"}, []string{"x"}).ArrayVar("Boys")
			},
			wantErr: "not a declared runtime variable",
		},
		{
			name: "base case with unknown index",
			build: func() *Recurrence {
				return New("R", []string{"n"}, nil).Base(At{"q": 0}, "1.0")
			},
			wantErr: "unknown index",
		},
		{
			name: "malformed rule constraint",
			build: func() *Recurrence {
				return New("R", []string{"n"}, nil).Rule("n", "E[n-1]", "", "")
			},
			wantErr: "no comparison operator",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build().Err()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Err() = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

// A later builder error must not mask the first one.
func TestBuilderKeepsFirstError(t *testing.T) {
	rec := New("R", []string{"n"}, nil).
		Headroom(-1).
		Max(At{"q": 5})
	err := rec.Err()
	if err == nil || !strings.Contains(err.Error(), "non-negative") {
		t.Fatalf("Err() = %v, want the headroom error", err)
	}
}

func TestSortedRulesPriority(t *testing.T) {
	rec := New("R", []string{"n", "m"}, []string{"x"}).
		Validity("n >= 0", "m >= 0").
		Base(At{"n": 0, "m": 0}, "1.0").
		Rule("n > 0", "x * E[n-1, m]", "", "general").
		Rule("n == 0", "x * E[n, m-1]", "", "edge").
		Rule("n > 0 && m > 0", "x * E[n-1, m-1]", "", "mixed")
	if err := rec.Err(); err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, rule := range rec.SortedRules() {
		got = append(got, rule.Name)
	}
	// Equality guards first, then total guard count, then declaration
	// order.
	want := []string{"edge", "mixed", "general"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SortedRules() order = %v, want %v", got, want)
		}
	}
	// Declaration order must be untouched.
	if rec.Rules[0].Name != "general" {
		t.Errorf("Rules[0] = %q, declaration order was mutated", rec.Rules[0].Name)
	}
}

func TestSortedRulesStableTiebreak(t *testing.T) {
	rec := New("R", []string{"n"}, []string{"x"}).
		Rule("n > 0", "x * E[n-1]", "", "first").
		Rule("n > 1", "x * E[n-1]", "", "second")
	if err := rec.Err(); err != nil {
		t.Fatal(err)
	}
	sorted := rec.SortedRules()
	if sorted[0].Name != "first" || sorted[1].Name != "second" {
		t.Errorf("equal-priority rules reordered: %q, %q", sorted[0].Name, sorted[1].Name)
	}
}

func TestStructNames(t *testing.T) {
	rec := New("Legendre", []string{"n"}, []string{"x"})
	if got := rec.StructName(); got != "LegendreCoeff" {
		t.Errorf("StructName() = %q", got)
	}
	if got := rec.LayerStructName(); got != "LegendreCoeffLayer" {
		t.Errorf("LayerStructName() = %q", got)
	}
}

func TestScaledRule(t *testing.T) {
	rec := New("Legendre", []string{"n"}, []string{"x"}).
		Rule("n > 1", "(2*n-1) * x * E[n-1] + (-(n-1)) * E[n-2]", "1/n", "Three-term")
	if err := rec.Err(); err != nil {
		t.Fatal(err)
	}
	scaled, ok := rec.Rules[0].Expression.(*ScaledExpr)
	if !ok {
		t.Fatalf("Expression = %T, want *ScaledExpr", rec.Rules[0].Expression)
	}
	if !scaled.IsDivision {
		t.Error("scale 1/n should mark division")
	}
}
