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

// Intermediate is one CSE-extracted declaration: name = expr,
// emitted before the result expression.
type Intermediate struct {
	Name string
	Expr Expr
}

// OptimizedExpr is an expression after CSE: intermediates in
// declaration order, then the result referencing them by CachedVar.
type OptimizedExpr struct {
	Intermediates []Intermediate
	Result        Expr
}

// Optimizer rewrites rule bodies before emission. CSE caches each
// unique recursive call in a local so template instantiation
// evaluates it once.
type Optimizer struct {
	EnableCSE bool
	// Threshold is the minimum number of calls in a body before
	// call caching kicks in.
	Threshold int
}

// NewOptimizer returns an optimizer with CSE enabled at the default
// threshold of two calls.
func NewOptimizer() *Optimizer {
	return &Optimizer{EnableCSE: true, Threshold: 2}
}

// Optimize applies the enabled rewrites to a rule body.
func (o *Optimizer) Optimize(expr Expr) OptimizedExpr {
	calls := CollectCalls(expr)
	if !o.EnableCSE || len(calls) < o.Threshold {
		return OptimizedExpr{Result: expr}
	}
	return o.cacheCalls(expr, calls)
}

// cacheCalls extracts each unique call into an e_N intermediate and
// rewrites the body to reference the intermediates.
func (o *Optimizer) cacheCalls(expr Expr, calls []*RecursiveCall) OptimizedExpr {
	var opt OptimizedExpr
	callVar := map[string]string{}
	for _, call := range calls {
		sig := callSignature(call)
		if _, ok := callVar[sig]; ok {
			continue
		}
		name := "e_" + strconv.Itoa(len(opt.Intermediates))
		callVar[sig] = name
		opt.Intermediates = append(opt.Intermediates, Intermediate{Name: name, Expr: call})
	}
	opt.Result = replaceCalls(expr, callVar)
	return opt
}

// callSignature identifies a call by its target and slot shifts.
func callSignature(call *RecursiveCall) string {
	var b strings.Builder
	b.WriteString(call.Target)
	for _, s := range call.Shifts {
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(s))
	}
	return b.String()
}

// replaceCalls substitutes CachedVar references for every call that
// has an intermediate. Leaf variants pass through unchanged.
func replaceCalls(expr Expr, callVar map[string]string) Expr {
	switch e := expr.(type) {
	case *Const, *Var, *IndexExpr, *ArrayRef, *CachedVar:
		return e
	case *RecursiveCall:
		return &CachedVar{Name: callVar[callSignature(e)]}
	case *Term:
		cached := &CachedVar{Name: callVar[callSignature(e.Call)]}
		if c, ok := e.Coeff.(*Const); ok && c.IsOne() {
			return cached
		}
		return &BinOp{Op: "*", Left: e.Coeff, Right: cached}
	case *Sum:
		out := &FlatSum{Exprs: make([]Expr, len(e.Terms))}
		for i, t := range e.Terms {
			out.Exprs[i] = replaceCalls(t, callVar)
		}
		return out
	case *ScaledExpr:
		return &ScaledExpr{
			Inner:      replaceCalls(e.Inner, callVar),
			Scale:      e.Scale,
			IsDivision: e.IsDivision,
		}
	case *BinOp:
		return &BinOp{
			Op:    e.Op,
			Left:  replaceCalls(e.Left, callVar),
			Right: replaceCalls(e.Right, callVar),
		}
	case *BranchAverage:
		out := &BranchAverage{Branches: make([]Expr, len(e.Branches)), Scale: e.Scale}
		for i, b := range e.Branches {
			out.Branches[i] = replaceCalls(b, callVar)
		}
		return out
	case *FlatSum:
		out := &FlatSum{Exprs: make([]Expr, len(e.Exprs))}
		for i, x := range e.Exprs {
			out.Exprs[i] = replaceCalls(x, callVar)
		}
		return out
	default:
		panic(fmt.Sprintf("codegen: replaceCalls: unhandled expression variant %T", e))
	}
}

// OpCounts tallies the arithmetic in an expression.
type OpCounts struct {
	Add  int
	Mul  int
	Div  int
	Call int
}

// CountOps counts the operations an expression performs when
// evaluated naively, before any caching.
func CountOps(expr Expr) OpCounts {
	var c OpCounts
	var walk func(Expr)
	walk = func(e Expr) {
		switch e := e.(type) {
		case *Const, *Var, *IndexExpr, *ArrayRef, *CachedVar:
		case *RecursiveCall:
			c.Call++
		case *BinOp:
			switch e.Op {
			case "+", "-":
				c.Add++
			case "*":
				c.Mul++
			case "/":
				c.Div++
			}
			walk(e.Left)
			walk(e.Right)
		case *Term:
			if coeff, ok := e.Coeff.(*Const); !ok || !coeff.IsOne() {
				c.Mul++
			}
			c.Call++
		case *Sum:
			if len(e.Terms) > 1 {
				c.Add += len(e.Terms) - 1
			}
			for _, t := range e.Terms {
				walk(t)
			}
		case *ScaledExpr:
			if e.IsDivision {
				c.Div++
			} else {
				c.Mul++
			}
			walk(e.Inner)
		case *BranchAverage:
			if len(e.Branches) > 1 {
				c.Add += len(e.Branches) - 1
			}
			c.Mul++
			for _, b := range e.Branches {
				walk(b)
			}
		case *FlatSum:
			if len(e.Exprs) > 1 {
				c.Add += len(e.Exprs) - 1
			}
			for _, x := range e.Exprs {
				walk(x)
			}
		default:
			panic(fmt.Sprintf("codegen: CountOps: unhandled expression variant %T", e))
		}
	}
	walk(expr)
	return c
}

// EstimateCost weighs the operation counts with approximate relative
// costs; recursive calls dominate because each one re-instantiates
// the template.
func EstimateCost(expr Expr) float64 {
	c := CountOps(expr)
	return float64(c.Add) + 2*float64(c.Mul) + 10*float64(c.Div) + 50*float64(c.Call)
}

// ShouldApplyCSE reports whether call caching pays off: a duplicated
// call always does, and three or more distinct calls still save on
// instantiation depth.
func ShouldApplyCSE(expr Expr) bool {
	calls := CollectCalls(expr)
	if len(calls) < 2 {
		return false
	}
	seen := map[string]bool{}
	for _, call := range calls {
		sig := callSignature(call)
		if seen[sig] {
			return true
		}
		seen[sig] = true
	}
	return len(calls) >= 3
}
