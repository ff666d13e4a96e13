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
	"math"
	"strconv"
	"strings"
)

// EvalEnv binds runtime values for reference evaluation: scalar
// variables by name, and tabulated arrays for ArrayVar parameters.
type EvalEnv struct {
	Vars   map[string]float64
	Arrays map[string][]float64
}

// Evaluator computes recurrence values directly from the definition,
// by memoized recursion over the rules. It is the semantic reference
// the generators are checked against: same base cases, same rule
// priority, zero outside the domain.
type Evaluator struct {
	Rec  *Recurrence
	Refs map[string]*Evaluator
}

// NewEvaluator wraps a recurrence for reference evaluation.
func NewEvaluator(rec *Recurrence) *Evaluator {
	return &Evaluator{Rec: rec, Refs: map[string]*Evaluator{}}
}

// Ref registers the evaluator for a cross-referenced recurrence under
// the DSL symbol its rules use.
func (ev *Evaluator) Ref(symbol string, other *Evaluator) *Evaluator {
	ev.Refs[symbol] = other
	return ev
}

type memoKey struct {
	ev  *Evaluator
	key string
}

type evalRun struct {
	env  EvalEnv
	memo map[memoKey]float64
}

// Eval computes the recurrence at the given index values.
func (ev *Evaluator) Eval(indices []int, env EvalEnv) (float64, error) {
	if err := ev.Rec.Err(); err != nil {
		return 0, err
	}
	if len(indices) != len(ev.Rec.Indices) {
		return 0, fmt.Errorf("recurrence %s: got %d indices, want %d",
			ev.Rec.Name, len(indices), len(ev.Rec.Indices))
	}
	run := &evalRun{env: env, memo: map[memoKey]float64{}}
	return ev.value(run, indices)
}

func indexKey(indices []int) string {
	parts := make([]string, len(indices))
	for i, v := range indices {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (ev *Evaluator) value(run *evalRun, indices []int) (float64, error) {
	key := memoKey{ev: ev, key: indexKey(indices)}
	if v, ok := run.memo[key]; ok {
		return v, nil
	}
	idxEnv := make(map[string]int, len(indices))
	for i, name := range ev.Rec.Indices {
		idxEnv[name] = indices[i]
	}

	v, err := ev.compute(run, indices, idxEnv)
	if err != nil {
		return 0, err
	}
	run.memo[key] = v
	return v, nil
}

func (ev *Evaluator) compute(run *evalRun, indices []int, idxEnv map[string]int) (float64, error) {
	for _, bc := range ev.Rec.BaseCases {
		if matchesBase(bc, idxEnv) {
			return ev.evalExpr(run, bc.Value, idxEnv)
		}
	}
	for _, c := range ev.Rec.Domain.Constraints {
		ok, err := evalConstraint(c, idxEnv)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
	}
	for _, rule := range ev.Rec.SortedRules() {
		ok, err := constraintsHold(rule.Constraints, idxEnv)
		if err != nil {
			return 0, err
		}
		if ok {
			return ev.evalExpr(run, rule.Expression, idxEnv)
		}
	}
	return 0, nil
}

func matchesBase(bc BaseCase, idxEnv map[string]int) bool {
	for name, want := range bc.IndexValues {
		if idxEnv[name] != want {
			return false
		}
	}
	return len(bc.IndexValues) > 0
}

func constraintsHold(set ConstraintSet, idxEnv map[string]int) (bool, error) {
	for _, c := range set.Constraints {
		ok, err := evalConstraint(c, idxEnv)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func evalConstraint(c Constraint, idxEnv map[string]int) (bool, error) {
	l, err := evalIntText(c.Left, idxEnv)
	if err != nil {
		return false, fmt.Errorf("constraint %q: %w", c.Render(), err)
	}
	r, err := evalIntText(c.Right, idxEnv)
	if err != nil {
		return false, fmt.Errorf("constraint %q: %w", c.Render(), err)
	}
	switch c.Op {
	case OpEQ:
		return l == r, nil
	case OpNE:
		return l != r, nil
	case OpGE:
		return l >= r, nil
	case OpLE:
		return l <= r, nil
	case OpGT:
		return l > r, nil
	case OpLT:
		return l < r, nil
	}
	return false, fmt.Errorf("constraint %q: unknown operator", c.Render())
}

func (ev *Evaluator) evalExpr(run *evalRun, e Expr, idxEnv map[string]int) (float64, error) {
	return ev.evalWith(run, e, idxEnv, func(call *RecursiveCall) (float64, error) {
		target := ev
		if call.Target != "" {
			target = ev.Refs[call.Target]
			if target == nil {
				return 0, fmt.Errorf("recurrence %s: unresolved reference %q", ev.Rec.Name, call.Target)
			}
		}
		shifted := make([]int, len(call.Shifts))
		for i, s := range call.Shifts {
			shifted[i] = idxEnv[ev.Rec.Indices[i]] + s
		}
		return target.value(run, shifted)
	})
}

// evalWith evaluates an expression, delegating recursive calls to
// callFn so per-value and layered evaluation share one walker.
func (ev *Evaluator) evalWith(run *evalRun, e Expr, idxEnv map[string]int,
	callFn func(*RecursiveCall) (float64, error)) (float64, error) {
	lookup := func(name string) (float64, error) {
		if v, ok := idxEnv[name]; ok {
			return float64(v), nil
		}
		if v, ok := run.env.Vars[name]; ok {
			return v, nil
		}
		return 0, fmt.Errorf("unbound identifier %q", name)
	}
	switch e := e.(type) {
	case *Const:
		if e.Literal != "" {
			v, err := strconv.ParseFloat(e.Literal, 64)
			if err != nil {
				return 0, fmt.Errorf("literal %q is not evaluable", e.Literal)
			}
			return v, nil
		}
		return e.Value, nil
	case *Var:
		return evalArith(e.Name, lookup)
	case *IndexExpr:
		return evalArith(e.Text, lookup)
	case *ArrayRef:
		arr, ok := run.env.Arrays[e.Array]
		if !ok {
			return 0, fmt.Errorf("unbound array %q", e.Array)
		}
		idx, err := evalIntText(e.Index, idxEnv)
		if err != nil {
			return 0, err
		}
		if idx < 0 || idx >= len(arr) {
			return 0, fmt.Errorf("array %s index %d out of range [0,%d)", e.Array, idx, len(arr))
		}
		return arr[idx], nil
	case *RecursiveCall:
		return callFn(e)
	case *BinOp:
		l, err := ev.evalWith(run, e.Left, idxEnv, callFn)
		if err != nil {
			return 0, err
		}
		r, err := ev.evalWith(run, e.Right, idxEnv, callFn)
		if err != nil {
			return 0, err
		}
		return applyOp(e.Op, l, r)
	case *Term:
		c, err := ev.evalWith(run, e.Coeff, idxEnv, callFn)
		if err != nil {
			return 0, err
		}
		v, err := callFn(e.Call)
		if err != nil {
			return 0, err
		}
		return c * v, nil
	case *Sum:
		total := 0.0
		for _, t := range e.Terms {
			v, err := ev.evalWith(run, t, idxEnv, callFn)
			if err != nil {
				return 0, err
			}
			total += v
		}
		return total, nil
	case *ScaledExpr:
		inner, err := ev.evalWith(run, e.Inner, idxEnv, callFn)
		if err != nil {
			return 0, err
		}
		scale, err := ev.evalWith(run, e.Scale, idxEnv, callFn)
		if err != nil {
			return 0, err
		}
		if e.IsDivision {
			if scale == 0 {
				return 0, fmt.Errorf("division by zero scale")
			}
			return inner / scale, nil
		}
		return inner * scale, nil
	case *BranchAverage:
		total := 0.0
		for _, b := range e.Branches {
			v, err := ev.evalWith(run, b, idxEnv, callFn)
			if err != nil {
				return 0, err
			}
			total += v
		}
		scale, err := ev.evalWith(run, e.Scale, idxEnv, callFn)
		if err != nil {
			return 0, err
		}
		return total * scale, nil
	case *FlatSum:
		total := 0.0
		for _, x := range e.Exprs {
			v, err := ev.evalWith(run, x, idxEnv, callFn)
			if err != nil {
				return 0, err
			}
			total += v
		}
		return total, nil
	default:
		return 0, fmt.Errorf("expression variant %T is not evaluable", e)
	}
}

func applyOp(op string, l, r float64) (float64, error) {
	switch op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		if r == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return l / r, nil
	}
	return 0, fmt.Errorf("unknown operator %q", op)
}

// EvalLayer evaluates the layered algorithm in Go: the whole
// auxiliary range for the given layer indices, previous layers built
// once into zero-padded buffers exactly as the generated code does.
func (ev *Evaluator) EvalLayer(layer []int, env EvalEnv) ([]float64, error) {
	if err := ev.Rec.Err(); err != nil {
		return nil, err
	}
	if ev.Rec.AuxIndex == "" {
		return nil, fmt.Errorf("recurrence %s: layered evaluation needs an auxiliary index", ev.Rec.Name)
	}
	if len(layer) != len(ev.Rec.Indices)-1 {
		return nil, fmt.Errorf("recurrence %s: got %d layer indices, want %d",
			ev.Rec.Name, len(layer), len(ev.Rec.Indices)-1)
	}
	run := &evalRun{env: env, memo: map[memoKey]float64{}}
	return ev.layerValues(run, layer)
}

func (ev *Evaluator) layerValues(run *evalRun, layer []int) ([]float64, error) {
	g := NewLayeredGenerator(ev.Rec)
	g.prepare()

	idxEnv := make(map[string]int, len(layer))
	for i, name := range g.layerIndices {
		idxEnv[name] = layer[i]
	}
	n, err := ev.layerSize(g, idxEnv)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)

	// Base-case layer.
	for _, bc := range ev.Rec.BaseCases {
		if !layerMatches(bc, g.layerIndices, idxEnv) {
			continue
		}
		if ref, ok := bc.Value.(*ArrayRef); ok && strings.TrimSpace(ref.Index) == g.aux {
			arr := run.env.Arrays[ref.Array]
			for i := range out {
				if i < len(arr) {
					out[i] = arr[i]
				}
			}
			return out, nil
		}
		slot := bc.IndexValues[g.aux]
		v, err := ev.evalExpr(run, bc.Value, idxEnv)
		if err != nil {
			return nil, err
		}
		if slot >= 0 && slot < len(out) {
			out[slot] = v
		}
		return out, nil
	}

	// Domain check on layer indices; outside stays zero.
	for _, c := range ev.Rec.Domain.Constraints {
		if containsIdent(c.Render(), g.aux) {
			continue
		}
		ok, err := evalConstraint(c, idxEnv)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
	}

	zeroRule, generalRule := ev.splitAuxRules(g, idxEnv)
	ruleForPrev := generalRule
	if ruleForPrev == nil {
		ruleForPrev = zeroRule
	}
	if ruleForPrev == nil {
		return out, nil
	}

	prev, err := ev.prevBuffers(run, g, ruleForPrev, layer, n)
	if err != nil {
		return nil, err
	}
	auxSlot := len(ev.Rec.Indices) - 1
	callFn := func(env map[string]int) func(*RecursiveCall) (float64, error) {
		return func(call *RecursiveCall) (float64, error) {
			if call.Target != "" {
				target := ev.Refs[call.Target]
				if target == nil {
					return 0, fmt.Errorf("recurrence %s: unresolved reference %q", ev.Rec.Name, call.Target)
				}
				shifted := make([]int, len(call.Shifts))
				for i, s := range call.Shifts {
					shifted[i] = env[ev.Rec.Indices[i]] + s
				}
				return target.value(run, shifted)
			}
			buf := prev[g.spatialTArgs(call)]
			at := env[g.aux] + call.Shifts[auxSlot]
			if at < 0 || at >= len(buf) {
				return 0, nil
			}
			return buf[at], nil
		}
	}

	start := 0
	if zeroRule != nil {
		env := cloneIdxEnv(idxEnv)
		env[g.aux] = 0
		v, err := ev.evalWith(run, zeroRule.Expression, env, callFn(env))
		if err != nil {
			return nil, err
		}
		out[0] = v
		start = 1
	}
	if generalRule != nil {
		for aux := start; aux < n; aux++ {
			env := cloneIdxEnv(idxEnv)
			env[g.aux] = aux
			v, err := ev.evalWith(run, generalRule.Expression, env, callFn(env))
			if err != nil {
				return nil, err
			}
			out[aux] = v
		}
	}
	return out, nil
}

func (ev *Evaluator) layerSize(g *LayeredGenerator, idxEnv map[string]int) (int, error) {
	if g.auxBound == "" {
		return 1 + ev.Rec.LayerHeadroom, nil
	}
	bound, err := evalIntText(g.auxBound, idxEnv)
	if err != nil {
		return 0, err
	}
	n := bound + 1 + ev.Rec.LayerHeadroom
	if n < 0 {
		n = 0
	}
	return n, nil
}

func layerMatches(bc BaseCase, layerIndices []string, idxEnv map[string]int) bool {
	for _, idx := range layerIndices {
		v, ok := bc.IndexValues[idx]
		if !ok || idxEnv[idx] != v {
			return false
		}
	}
	return true
}

// splitAuxRules mirrors the generated layer body: pick the rule
// guarded by aux == 0 for the first slot and the first remaining rule
// whose layer constraints hold for the loop.
func (ev *Evaluator) splitAuxRules(g *LayeredGenerator, idxEnv map[string]int) (zeroRule, generalRule *Rule) {
	for _, rule := range ev.Rec.Rules {
		hold := true
		for _, c := range rule.Constraints.Constraints {
			if containsIdent(c.Render(), g.aux) {
				continue
			}
			ok, err := evalConstraint(c, idxEnv)
			if err != nil || !ok {
				hold = false
				break
			}
		}
		if !hold {
			continue
		}
		auxC := g.auxConstraint(rule)
		if auxC != nil && auxC.Op == OpEQ && strings.TrimSpace(auxC.Right) == "0" {
			if zeroRule == nil {
				zeroRule = rule
			}
		} else if generalRule == nil {
			generalRule = rule
		}
	}
	return zeroRule, generalRule
}

// prevBuffers builds one zero-padded buffer per distinct previous
// layer the rule reads, sized like the generated code sizes them.
func (ev *Evaluator) prevBuffers(run *evalRun, g *LayeredGenerator, rule *Rule,
	layer []int, n int) (map[string][]float64, error) {
	prev := map[string][]float64{}
	size := n + g.maxAuxShift
	for _, call := range CollectCalls(rule.Expression) {
		if call.Target != "" {
			continue
		}
		sig := g.spatialTArgs(call)
		if _, ok := prev[sig]; ok {
			continue
		}
		shifted := make([]int, len(layer))
		valid := true
		for i := range layer {
			shifted[i] = layer[i] + call.Shifts[i]
			if shifted[i] < 0 {
				valid = false
			}
		}
		buf := make([]float64, size)
		if valid {
			vals, err := ev.layerValues(run, shifted)
			if err != nil {
				return nil, err
			}
			copy(buf, vals)
		}
		prev[sig] = buf
	}
	return prev, nil
}

func cloneIdxEnv(env map[string]int) map[string]int {
	out := make(map[string]int, len(env)+1)
	for k, v := range env {
		out[k] = v
	}
	return out
}

// replaceIdent substitutes whole-identifier occurrences of name in
// text.
func replaceIdent(text, name, with string) string {
	var b strings.Builder
	for i := 0; i < len(text); {
		j := strings.Index(text[i:], name)
		if j < 0 {
			b.WriteString(text[i:])
			break
		}
		start := i + j
		end := start + len(name)
		before := start == 0 || !isIdentByte(text[start-1])
		after := end == len(text) || !isIdentByte(text[end])
		b.WriteString(text[i:start])
		if before && after {
			b.WriteString(with)
		} else {
			b.WriteString(text[start:end])
		}
		i = end
	}
	return b.String()
}

// evalIntText evaluates integer index arithmetic like "2*n - 1" with
// the given index bindings.
func evalIntText(text string, vars map[string]int) (int, error) {
	v, err := evalArith(text, func(name string) (float64, error) {
		if vars != nil {
			if iv, ok := vars[name]; ok {
				return float64(iv), nil
			}
		}
		return 0, fmt.Errorf("unbound identifier %q", name)
	})
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) {
		return 0, fmt.Errorf("expression %q is not integral (got %v)", text, v)
	}
	return int(v), nil
}

// evalConstText evaluates pure numeric arithmetic with no
// identifiers.
func evalConstText(text string) (float64, error) {
	return evalArith(text, func(name string) (float64, error) {
		return 0, fmt.Errorf("unexpected identifier %q in constant", name)
	})
}

// evalArith is a small recursive-descent evaluator over + - * /,
// unary minus, parentheses, numbers, and identifiers resolved through
// lookup.
func evalArith(text string, lookup func(string) (float64, error)) (float64, error) {
	p := &arithParser{src: text, lookup: lookup}
	v, err := p.expr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return 0, fmt.Errorf("trailing input at %q", p.src[p.pos:])
	}
	return v, nil
}

type arithParser struct {
	src    string
	pos    int
	lookup func(string) (float64, error)
}

func (p *arithParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *arithParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *arithParser) expr() (float64, error) {
	v, err := p.term()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			r, err := p.term()
			if err != nil {
				return 0, err
			}
			v += r
		case '-':
			p.pos++
			r, err := p.term()
			if err != nil {
				return 0, err
			}
			v -= r
		default:
			return v, nil
		}
	}
}

func (p *arithParser) term() (float64, error) {
	v, err := p.unary()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			r, err := p.unary()
			if err != nil {
				return 0, err
			}
			v *= r
		case '/':
			p.pos++
			r, err := p.unary()
			if err != nil {
				return 0, err
			}
			if r == 0 {
				return 0, fmt.Errorf("division by zero in %q", p.src)
			}
			v /= r
		default:
			return v, nil
		}
	}
}

func (p *arithParser) unary() (float64, error) {
	if p.peek() == '-' {
		p.pos++
		v, err := p.unary()
		return -v, err
	}
	return p.primary()
}

func (p *arithParser) primary() (float64, error) {
	c := p.peek()
	switch {
	case c == '(':
		p.pos++
		v, err := p.expr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing ) in %q", p.src)
		}
		p.pos++
		return v, nil
	case c >= '0' && c <= '9' || c == '.':
		start := p.pos
		for p.pos < len(p.src) {
			b := p.src[p.pos]
			if b >= '0' && b <= '9' || b == '.' {
				p.pos++
				continue
			}
			break
		}
		return strconv.ParseFloat(p.src[start:p.pos], 64)
	case isIdentByte(c):
		start := p.pos
		for p.pos < len(p.src) && isIdentByte(p.src[p.pos]) {
			p.pos++
		}
		return p.lookup(p.src[start:p.pos])
	}
	return 0, fmt.Errorf("unexpected character %q in %q", string(c), p.src)
}
