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
	"slices"
	"strings"
)

// At fixes index values for a base case, e.g. At{"n": 0}.
type At map[string]int

// BaseCase pins the recurrence to a concrete value at fixed indices.
type BaseCase struct {
	IndexValues At
	Value       Expr
}

// Rule is one guarded reduction step of a recurrence.
type Rule struct {
	Constraints ConstraintSet
	Expression  Expr
	Scale       Expr
	Name        string
}

// PriorityKey orders rules for specialization: more equality guards
// first, then more total guards, declaration order breaking ties.
func (r *Rule) PriorityKey() (eqCount, total int) {
	return r.Constraints.EqualityCount(), r.Constraints.Len()
}

// Recurrence is the fluent definition of a recurrence relation.
// Builder methods record the first error they hit and turn the rest
// of the chain into no-ops; Err surfaces it.
//
//	rec := New("Legendre", []string{"n"}, []string{"x"}).
//		Validity("n >= 0").
//		Base(At{"n": 0}, "1.0").
//		Base(At{"n": 1}, "x").
//		Rule("n > 1", "(2*n-1) * x * E[n-1] + (-(n-1)) * E[n-2]", "1/n", "three-term")
type Recurrence struct {
	Name        string
	Indices     []string
	RuntimeVars []string
	VecType     string
	Namespace   string
	MaxIndices  At
	SciPyRef    string

	// AuxIndex names the auxiliary index swept by layered generation.
	// It must be the last declared index.
	AuxIndex string

	// AuxUpperBound sizes each layer when the auxiliary range is not a
	// domain constraint. Recurrences like the Coulomb auxiliary
	// integrals are well defined for any auxiliary order, but a layer
	// at spatial indices (t, u, v) only ever needs orders up to
	// t + u + v; this expression declares that bound without zeroing
	// values beyond it.
	AuxUpperBound string

	// LayerHeadroom widens every layer by this many extra auxiliary
	// values. Needed when rules shift the auxiliary index upward and
	// out-of-range reads are not zero, so deeper layers must
	// over-compute to feed the layers above them.
	LayerHeadroom int

	// ArrayVars marks runtime parameters that are pointers to
	// tabulated values rather than single vectors.
	ArrayVars map[string]bool

	// CrossRefs maps a DSL symbol used in rule text to the struct
	// name it renders as, for rules referencing other recurrences.
	CrossRefs map[string]string

	BaseCases []BaseCase
	Rules     []*Rule
	Domain    ConstraintSet

	selfSymbol string
	err        error
}

// New starts a recurrence definition. Indices are compile-time
// template parameters; runtimeVars are vector-valued arguments.
func New(name string, indices, runtimeVars []string) *Recurrence {
	rec := &Recurrence{
		Name:        name,
		Indices:     indices,
		RuntimeVars: runtimeVars,
		VecType:     "Vec8d",
		MaxIndices:  At{},
		ArrayVars:   map[string]bool{},
		CrossRefs:   map[string]string{},
		selfSymbol:  "E",
	}
	for _, idx := range indices {
		rec.MaxIndices[idx] = 20
	}
	return rec
}

// Err returns the first error recorded by a builder method.
func (r *Recurrence) Err() error { return r.err }

func (r *Recurrence) fail(err error) *Recurrence {
	if r.err == nil {
		r.err = fmt.Errorf("recurrence %s: %w", r.Name, err)
	}
	return r
}

// Symbol renames the DSL symbol that refers to this recurrence inside
// its own rules. The default is E.
func (r *Recurrence) Symbol(name string) *Recurrence {
	r.selfSymbol = name
	return r
}

// CrossRef registers another recurrence under the DSL symbol its
// rules use, so references render against that recurrence's struct.
func (r *Recurrence) CrossRef(symbol string, other *Recurrence) *Recurrence {
	r.CrossRefs[symbol] = other.StructName()
	return r
}

// ArrayVar declares a runtime parameter as a tabulated array, indexed
// in rule text as name[expr].
func (r *Recurrence) ArrayVar(name string) *Recurrence {
	if r.err != nil {
		return r
	}
	if !slices.Contains(r.RuntimeVars, name) {
		return r.fail(fmt.Errorf("array variable %q is not a declared runtime variable", name))
	}
	r.ArrayVars[name] = true
	return r
}

// Aux declares the auxiliary index for layered generation. It must be
// the last declared index so layers are contiguous in the output
// buffer.
func (r *Recurrence) Aux(name string) *Recurrence {
	if r.err != nil {
		return r
	}
	if len(r.Indices) == 0 || r.Indices[len(r.Indices)-1] != name {
		return r.fail(fmt.Errorf("auxiliary index %q must be the last declared index", name))
	}
	r.AuxIndex = name
	return r
}

// AuxBound declares the auxiliary upper bound used for layer sizing,
// as an expression over the layer indices. Unlike a validity
// constraint it does not zero values above the bound.
func (r *Recurrence) AuxBound(expr string) *Recurrence {
	if r.err != nil {
		return r
	}
	if strings.TrimSpace(expr) == "" {
		return r.fail(fmt.Errorf("auxiliary bound expression is empty"))
	}
	r.AuxUpperBound = expr
	return r
}

// Headroom sets how many extra auxiliary values every layer
// computes beyond its own bound.
func (r *Recurrence) Headroom(n int) *Recurrence {
	if r.err != nil {
		return r
	}
	if n < 0 {
		return r.fail(fmt.Errorf("layer headroom must be non-negative, got %d", n))
	}
	r.LayerHeadroom = n
	return r
}

// Max overrides the dispatcher bound for the given indices.
func (r *Recurrence) Max(bounds At) *Recurrence {
	if r.err != nil {
		return r
	}
	for idx, v := range bounds {
		if _, ok := r.MaxIndices[idx]; !ok {
			return r.fail(fmt.Errorf("max bound for unknown index %q", idx))
		}
		r.MaxIndices[idx] = v
	}
	return r
}

// Vec overrides the vector type used in generated code.
func (r *Recurrence) Vec(t string) *Recurrence {
	r.VecType = t
	return r
}

// InNamespace wraps generated code in the given namespace.
func (r *Recurrence) InNamespace(ns string) *Recurrence {
	r.Namespace = ns
	return r
}

// SciPy records the reference function used by generated validation
// tests, e.g. "scipy.special.eval_legendre".
func (r *Recurrence) SciPy(ref string) *Recurrence {
	r.SciPyRef = ref
	return r
}

// Validity sets the constraints outside of which the recurrence is
// identically zero.
func (r *Recurrence) Validity(constraints ...string) *Recurrence {
	if r.err != nil {
		return r
	}
	set, err := ParseConstraintSet(constraints)
	if err != nil {
		return r.fail(err)
	}
	r.Domain = set
	return r
}

// Base adds a base case at fixed index values. The value may be a
// number, a runtime variable, or an array lookup like "Boys[N]".
func (r *Recurrence) Base(at At, value string) *Recurrence {
	if r.err != nil {
		return r
	}
	for idx := range at {
		if !slices.Contains(r.Indices, idx) {
			return r.fail(fmt.Errorf("base case fixes unknown index %q", idx))
		}
	}
	expr := r.parser().ParseValue(value)
	r.BaseCases = append(r.BaseCases, BaseCase{IndexValues: at, Value: expr})
	return r
}

// Rule adds a recurrence rule. Guards in constraints are joined with
// &&. An empty scale adds no scaling; "1/d" scales by division. The
// name is a human label carried into generated comments.
func (r *Recurrence) Rule(constraints, expression, scale, name string) *Recurrence {
	if r.err != nil {
		return r
	}
	set, err := ParseConstraintSet(splitGuards(constraints))
	if err != nil {
		return r.fail(err)
	}
	p := r.parser()
	expr, err := p.ParseExpression(expression)
	if err != nil {
		return r.fail(err)
	}
	rule := &Rule{Constraints: set, Expression: expr, Name: name}
	if scale != "" {
		rule.Scale = p.ParseScale(scale)
		rule.Expression = &ScaledExpr{
			Inner:      expr,
			Scale:      rule.Scale,
			IsDivision: strings.HasPrefix(strings.TrimSpace(scale), "1/"),
		}
	}
	r.Rules = append(r.Rules, rule)
	return r
}

// BranchAverage adds a rule whose body averages several equivalent
// reductions, which spreads rounding error across branches.
func (r *Recurrence) BranchAverage(constraints string, branches []string, name string) *Recurrence {
	if r.err != nil {
		return r
	}
	if len(branches) == 0 {
		return r.fail(fmt.Errorf("branch average needs at least one branch"))
	}
	set, err := ParseConstraintSet(splitGuards(constraints))
	if err != nil {
		return r.fail(err)
	}
	p := r.parser()
	exprs := make([]Expr, len(branches))
	for i, b := range branches {
		sum, err := p.ParseExpression(b)
		if err != nil {
			return r.fail(err)
		}
		exprs[i] = sum
	}
	var expr Expr
	if len(exprs) == 1 {
		expr = exprs[0]
	} else {
		expr = &BranchAverage{Branches: exprs, Scale: &Const{Value: 1.0 / float64(len(exprs))}}
	}
	r.Rules = append(r.Rules, &Rule{Constraints: set, Expression: expr, Name: name})
	return r
}

// StructName is the name of the generated per-value struct.
func (r *Recurrence) StructName() string {
	return r.Name + "Coeff"
}

// LayerStructName is the name of the generated layered struct.
func (r *Recurrence) LayerStructName() string {
	return r.Name + "CoeffLayer"
}

// Context builds the render context for this recurrence.
func (r *Recurrence) Context() *RenderContext {
	return &RenderContext{
		StructName:  r.StructName(),
		Indices:     r.Indices,
		RuntimeVars: r.RuntimeVars,
		VecType:     r.VecType,
		ArrayVars:   r.ArrayVars,
		CrossRefs:   r.CrossRefs,
	}
}

// SortedRules returns the rules in specialization order: equality
// guard count descending, then total guard count descending, with
// declaration order as the stable tiebreak.
func (r *Recurrence) SortedRules() []*Rule {
	sorted := slices.Clone(r.Rules)
	slices.SortStableFunc(sorted, func(a, b *Rule) int {
		aEq, aTotal := a.PriorityKey()
		bEq, bTotal := b.PriorityKey()
		if aEq != bEq {
			return bEq - aEq
		}
		return bTotal - aTotal
	})
	return sorted
}

func (r *Recurrence) parser() *Parser {
	return &Parser{
		Indices:     r.Indices,
		RuntimeVars: r.RuntimeVars,
		ArrayVars:   r.ArrayVars,
		SelfSymbol:  r.selfSymbol,
	}
}

// splitGuards splits a constraint string on && into individual
// guards.
func splitGuards(s string) []string {
	var out []string
	for _, part := range strings.Split(s, "&&") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
