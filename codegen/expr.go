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
	"strconv"
	"strings"
)

// Expr is the sealed expression interface for recurrence rule bodies.
// Every renderer that walks an Expr does so with an exhaustive type
// switch; a new variant that a renderer does not handle panics there,
// which is the intended failure mode.
type Expr interface {
	isExpr()
}

// Const is a numeric literal, or a raw source literal when Literal is
// non-empty (escape hatch for named constants like M_PI).
type Const struct {
	Value   float64
	Literal string
}

// Var references a runtime (non-index) parameter and renders verbatim.
// Compound coefficient text such as "(P_tau - A_tau)" keeps its
// parentheses in Name so precedence survives rendering.
type Var struct {
	Name string
}

// IndexExpr is integer arithmetic over compile-time index names,
// e.g. "2*n-1". It renders lifted into the vector type so the target
// compiler evaluates it as a compile-time integer.
type IndexExpr struct {
	Text string
}

// ArrayRef is an indexed lookup into a runtime array parameter, the
// tabulated-function pattern (e.g. Boys[N]).
type ArrayRef struct {
	Array string
	Index string
}

// RecursiveCall references the recurrence evaluated at shifted index
// values. Shifts is slot-indexed: Shifts[i] applies to the i-th
// declared index. Target is the DSL accessor of a cross-referenced
// recurrence, empty for self-reference.
type RecursiveCall struct {
	Target string
	Shifts []int
}

// BinOp is binary arithmetic between two sub-expressions.
// Op is one of "+", "-", "*", "/".
type BinOp struct {
	Op    string
	Left  Expr
	Right Expr
}

// Term is a coefficient multiplying exactly one recursive call.
// A coefficient of literal 1 renders as the call alone.
type Term struct {
	Coeff Expr
	Call  *RecursiveCall
}

// Sum is an ordered list of terms combined by addition. An empty sum
// renders as the zero constant.
type Sum struct {
	Terms []*Term
}

// ScaledExpr is Inner divided by (or multiplied by) Scale, used for
// normalized recurrences such as the 1/n factor in Legendre's.
type ScaledExpr struct {
	Inner      Expr
	Scale      Expr
	IsDivision bool
}

// BranchAverage holds N equivalent reduction branches whose sum is
// scaled by 1/N. Produced directly by Recurrence.BranchAverage so
// renderers never have to pattern-match the shape out of generic
// BinOp/Sum trees.
type BranchAverage struct {
	Branches []Expr
	Scale    Expr
}

// CachedVar references a CSE intermediate by name. Only the optimizer
// produces these.
type CachedVar struct {
	Name string
}

// FlatSum is a sum of arbitrary expressions, produced when the
// optimizer rewrites a Sum whose terms now reference intermediates.
type FlatSum struct {
	Exprs []Expr
}

func (*Const) isExpr()         {}
func (*Var) isExpr()           {}
func (*IndexExpr) isExpr()     {}
func (*ArrayRef) isExpr()      {}
func (*RecursiveCall) isExpr() {}
func (*BinOp) isExpr()         {}
func (*Term) isExpr()          {}
func (*Sum) isExpr()           {}
func (*ScaledExpr) isExpr()    {}
func (*BranchAverage) isExpr() {}
func (*CachedVar) isExpr()     {}
func (*FlatSum) isExpr()       {}

// IsOne reports whether the constant is the literal value 1, which
// elides the multiplication when rendering a Term.
func (c *Const) IsOne() bool {
	return c.Literal == "" && c.Value == 1
}

// FormatNumber renders a float the way generated code expects:
// integral values without a decimal point, everything else in the
// shortest round-trip form.
func FormatNumber(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// RenderContext carries the naming and type information every
// renderer needs. ArrayVars marks runtime parameters passed as
// pointers to tabulated values rather than single vectors.
type RenderContext struct {
	StructName  string
	Indices     []string
	RuntimeVars []string
	VecType     string
	ArrayVars   map[string]bool
	CrossRefs   map[string]string
}

// structFor resolves the rendered struct name of a call target.
// Unregistered cross-references get the "<ident>Coeff" convention.
func (ctx *RenderContext) structFor(target string) string {
	if target == "" {
		return ctx.StructName
	}
	if name, ok := ctx.CrossRefs[target]; ok {
		return name
	}
	return target + "Coeff"
}

// shiftedIndex renders one template argument of a recursive call.
func shiftedIndex(name string, shift int) string {
	switch {
	case shift == 0:
		return name
	case shift > 0:
		return fmt.Sprintf("%s + %d", name, shift)
	default:
		return fmt.Sprintf("%s - %d", name, -shift)
	}
}

// Render converts an expression to target-language source text.
func (ctx *RenderContext) Render(e Expr) string {
	switch e := e.(type) {
	case *Const:
		if e.Literal != "" {
			return e.Literal
		}
		return fmt.Sprintf("%s(%s)", ctx.VecType, FormatNumber(e.Value))
	case *Var:
		return e.Name
	case *IndexExpr:
		return fmt.Sprintf("%s(%s)", ctx.VecType, e.Text)
	case *ArrayRef:
		return fmt.Sprintf("%s[%s]", e.Array, e.Index)
	case *RecursiveCall:
		args := make([]string, len(ctx.Indices))
		for i, idx := range ctx.Indices {
			args[i] = shiftedIndex(idx, e.Shifts[i])
		}
		return fmt.Sprintf("%s<%s>::compute(%s)",
			ctx.structFor(e.Target), strings.Join(args, ", "), strings.Join(ctx.RuntimeVars, ", "))
	case *BinOp:
		left := ctx.Render(e.Left)
		right := ctx.Render(e.Right)
		if _, ok := e.Left.(*BinOp); ok {
			left = "(" + left + ")"
		}
		if _, ok := e.Right.(*BinOp); ok {
			right = "(" + right + ")"
		}
		return fmt.Sprintf("%s %s %s", left, e.Op, right)
	case *Term:
		call := ctx.Render(e.Call)
		if c, ok := e.Coeff.(*Const); ok && c.IsOne() {
			return call
		}
		return fmt.Sprintf("%s * %s", ctx.Render(e.Coeff), call)
	case *Sum:
		if len(e.Terms) == 0 {
			return fmt.Sprintf("%s(0.0)", ctx.VecType)
		}
		parts := make([]string, len(e.Terms))
		for i, t := range e.Terms {
			parts[i] = ctx.Render(t)
		}
		return strings.Join(parts, " + ")
	case *ScaledExpr:
		op := "*"
		if e.IsDivision {
			op = "/"
		}
		return fmt.Sprintf("(%s) %s (%s)", ctx.Render(e.Inner), op, ctx.Render(e.Scale))
	case *BranchAverage:
		parts := make([]string, len(e.Branches))
		for i, b := range e.Branches {
			parts[i] = ctx.Render(b)
		}
		return fmt.Sprintf("(%s) * %s", strings.Join(parts, " + "), ctx.Render(e.Scale))
	case *CachedVar:
		return e.Name
	case *FlatSum:
		if len(e.Exprs) == 0 {
			return fmt.Sprintf("%s(0.0)", ctx.VecType)
		}
		parts := make([]string, len(e.Exprs))
		for i, x := range e.Exprs {
			parts[i] = ctx.Render(x)
		}
		return strings.Join(parts, " + ")
	default:
		panic(fmt.Sprintf("codegen: Render: unhandled expression variant %T", e))
	}
}

// CollectCalls returns every RecursiveCall in the expression in
// depth-first order.
func CollectCalls(e Expr) []*RecursiveCall {
	var calls []*RecursiveCall
	var walk func(Expr)
	walk = func(e Expr) {
		switch e := e.(type) {
		case *Const, *Var, *IndexExpr, *ArrayRef, *CachedVar:
		case *RecursiveCall:
			calls = append(calls, e)
		case *BinOp:
			walk(e.Left)
			walk(e.Right)
		case *Term:
			walk(e.Coeff)
			walk(e.Call)
		case *Sum:
			for _, t := range e.Terms {
				walk(t)
			}
		case *ScaledExpr:
			walk(e.Inner)
			walk(e.Scale)
		case *BranchAverage:
			for _, b := range e.Branches {
				walk(b)
			}
			walk(e.Scale)
		case *FlatSum:
			for _, x := range e.Exprs {
				walk(x)
			}
		default:
			panic(fmt.Sprintf("codegen: CollectCalls: unhandled expression variant %T", e))
		}
	}
	walk(e)
	return calls
}

// UsesVar reports whether the expression references the named runtime
// variable. Used to mark unused parameters in generated signatures.
func UsesVar(e Expr, name string) bool {
	switch e := e.(type) {
	case *Const:
		return false
	case *Var:
		return containsIdent(e.Name, name)
	case *IndexExpr:
		return containsIdent(e.Text, name)
	case *ArrayRef:
		return e.Array == name
	case *RecursiveCall:
		// Rendered calls forward every runtime variable to the
		// callee, so a body with any call uses them all.
		return true
	case *BinOp:
		return UsesVar(e.Left, name) || UsesVar(e.Right, name)
	case *Term:
		return UsesVar(e.Coeff, name) || UsesVar(e.Call, name)
	case *Sum:
		for _, t := range e.Terms {
			if UsesVar(t, name) {
				return true
			}
		}
		return false
	case *ScaledExpr:
		return UsesVar(e.Inner, name) || UsesVar(e.Scale, name)
	case *BranchAverage:
		for _, b := range e.Branches {
			if UsesVar(b, name) {
				return true
			}
		}
		return UsesVar(e.Scale, name)
	case *CachedVar:
		return e.Name == name
	case *FlatSum:
		for _, x := range e.Exprs {
			if UsesVar(x, name) {
				return true
			}
		}
		return false
	default:
		panic(fmt.Sprintf("codegen: UsesVar: unhandled expression variant %T", e))
	}
}

// containsIdent reports whether text contains name as a whole
// identifier token, not merely as a substring of a longer identifier.
func containsIdent(text, name string) bool {
	for i := 0; i+len(name) <= len(text); i++ {
		j := strings.Index(text[i:], name)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(name)
		before := start == 0 || !isIdentByte(text[start-1])
		after := end == len(text) || !isIdentByte(text[end])
		if before && after {
			return true
		}
		i = start
	}
	return false
}

func isIdentByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
