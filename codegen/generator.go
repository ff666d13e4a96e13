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

// OptLevel selects how aggressively generated bodies are rewritten.
type OptLevel string

const (
	// OptNone emits bodies exactly as written.
	OptNone OptLevel = "none"
	// OptCSE caches repeated recursive calls in locals.
	OptCSE OptLevel = "cse"
	// OptFull is CSE plus future strength reductions.
	OptFull OptLevel = "full"
)

// forceInlinePrologue defines the portable force-inline macro every
// generated header relies on.
const forceInlinePrologue = `// Portable force-inline macro for performance-critical compute methods
// This ensures template instantiations are fully inlined at compile time
#ifndef RECURSUM_FORCEINLINE
  #ifdef _MSC_VER
    #define RECURSUM_FORCEINLINE __forceinline
  #elif defined(__GNUC__) || defined(__clang__)
    #define RECURSUM_FORCEINLINE inline __attribute__((always_inline))
  #else
    #define RECURSUM_FORCEINLINE inline
  #endif
#endif`

// Generator emits a per-value C++ header: one struct specialization
// per base case and per rule, guarded by SFINAE, with a zero-valued
// primary template catching everything outside the domain.
type Generator struct {
	Rec *Recurrence
	Opt *Optimizer
	ctx *RenderContext
}

// NewGenerator builds a per-value generator at the given optimization
// level.
func NewGenerator(rec *Recurrence, level OptLevel) *Generator {
	g := &Generator{Rec: rec, ctx: rec.Context()}
	if level != OptNone {
		g.Opt = NewOptimizer()
	}
	return g
}

// Generate returns the complete header text.
func (g *Generator) Generate() (string, error) {
	if err := g.Rec.Err(); err != nil {
		return "", err
	}
	parts := []string{g.header(), g.primaryTemplate()}
	for _, bc := range g.Rec.BaseCases {
		parts = append(parts, g.baseCase(bc))
	}
	for _, rule := range g.Rec.SortedRules() {
		parts = append(parts, g.rule(rule))
	}
	if footer := g.footer(); footer != "" {
		parts = append(parts, footer)
	}
	return strings.Join(parts, "\n\n") + "\n", nil
}

func (g *Generator) header() string {
	var b strings.Builder
	b.WriteString("#pragma once\n\n")
	b.WriteString("#include <type_traits>\n")
	b.WriteString("#include <recursum/vectorclass.h>\n\n")
	b.WriteString(forceInlinePrologue)
	if g.Rec.Namespace != "" {
		fmt.Fprintf(&b, "\n\nnamespace %s {", g.Rec.Namespace)
	}
	return b.String()
}

func (g *Generator) footer() string {
	if g.Rec.Namespace == "" {
		return ""
	}
	return fmt.Sprintf("} // namespace %s", g.Rec.Namespace)
}

// paramList renders the compute signature, commenting out names the
// body never reads.
func (g *Generator) paramList(used func(string) bool) string {
	params := make([]string, len(g.Rec.RuntimeVars))
	for i, v := range g.Rec.RuntimeVars {
		t := g.Rec.VecType
		if g.Rec.ArrayVars[v] {
			t = "const " + g.Rec.VecType + "*"
		}
		if used != nil && used(v) {
			params[i] = fmt.Sprintf("%s %s", t, v)
		} else {
			params[i] = fmt.Sprintf("%s /*%s*/", t, v)
		}
	}
	return strings.Join(params, ", ")
}

func (g *Generator) primaryTemplate() string {
	tparams := make([]string, len(g.Rec.Indices))
	for i, idx := range g.Rec.Indices {
		tparams[i] = "int " + idx
	}
	return fmt.Sprintf(`template<%s, typename Enable = void>
struct %s {
    static RECURSUM_FORCEINLINE %s compute(%s) {
        return %s(0.0);
    }
};`, strings.Join(tparams, ", "), g.Rec.StructName(), g.Rec.VecType,
		g.paramList(nil), g.Rec.VecType)
}

// baseCase emits a full specialization when every index is pinned,
// and a partial specialization over the free indices otherwise
// (Boys-style bases pin the spatial indices but leave the auxiliary
// order free).
func (g *Generator) baseCase(bc BaseCase) string {
	targs := make([]string, len(g.Rec.Indices))
	var free []string
	for i, idx := range g.Rec.Indices {
		if v, ok := bc.IndexValues[idx]; ok {
			targs[i] = strconv.Itoa(v)
		} else {
			targs[i] = idx
			free = append(free, "int "+idx)
		}
	}
	tmpl := "template<>"
	if len(free) > 0 {
		tmpl = "template<" + strings.Join(free, ", ") + ">"
	}
	params := g.paramList(func(v string) bool { return UsesVar(bc.Value, v) })
	return fmt.Sprintf(`%s
struct %s<%s, void> {
    static RECURSUM_FORCEINLINE %s compute(%s) {
        return %s;
    }
};`, tmpl, g.Rec.StructName(), strings.Join(targs, ", "), g.Rec.VecType,
		params, g.ctx.Render(bc.Value))
}

func (g *Generator) rule(rule *Rule) string {
	tparams := make([]string, len(g.Rec.Indices))
	for i, idx := range g.Rec.Indices {
		tparams[i] = "int " + idx
	}
	sfinae := rule.Constraints.Render()
	if g.Rec.Domain.Len() > 0 {
		sfinae += " && " + g.Rec.Domain.Render()
	}
	comment := ""
	if rule.Name != "" {
		comment = "        // " + rule.Name + "\n"
	}
	return fmt.Sprintf(`template<%s>
struct %s<
    %s,
    typename std::enable_if<%s>::type
> {
    static RECURSUM_FORCEINLINE %s compute(%s) {
%s%s
    }
};`, strings.Join(tparams, ", "), g.Rec.StructName(),
		strings.Join(g.Rec.Indices, ", "), sfinae, g.Rec.VecType,
		g.paramList(func(v string) bool { return UsesVar(rule.Expression, v) }),
		comment, g.body(rule))
}

// body picks an emission strategy by expression shape: CSE when it
// pays, inline returns for short bodies, per-term temporaries for
// long sums, and labeled blocks for branch averages.
func (g *Generator) body(rule *Rule) string {
	expr := rule.Expression
	calls := CollectCalls(expr)

	if g.Opt != nil && ShouldApplyCSE(expr) {
		return g.optimizedBody(expr)
	}
	if avg, ok := expr.(*BranchAverage); ok {
		return g.branchBody(avg)
	}
	if len(calls) <= 3 {
		return "        return " + g.ctx.Render(expr) + ";"
	}

	switch e := expr.(type) {
	case *Sum:
		var lines []string
		for i, term := range e.Terms {
			lines = append(lines, fmt.Sprintf("        %s t%d = %s;",
				g.Rec.VecType, i+1, g.ctx.Render(term)))
		}
		lines = append(lines, "        return "+tempSum("t", len(e.Terms))+";")
		return strings.Join(lines, "\n")
	case *ScaledExpr:
		inner, ok := e.Inner.(*Sum)
		if !ok {
			break
		}
		var lines []string
		for i, term := range inner.Terms {
			lines = append(lines, fmt.Sprintf("        %s t%d = %s;",
				g.Rec.VecType, i+1, g.ctx.Render(term)))
		}
		op := "*"
		if e.IsDivision {
			op = "/"
		}
		lines = append(lines, fmt.Sprintf("        return (%s) %s %s;",
			tempSum("t", len(inner.Terms)), op, g.ctx.Render(e.Scale)))
		return strings.Join(lines, "\n")
	}
	return "        return " + g.ctx.Render(expr) + ";"
}

// branchBody emits one labeled temporary block per branch, then the
// averaged return.
func (g *Generator) branchBody(avg *BranchAverage) string {
	var lines []string
	var sums []string
	for i, branch := range avg.Branches {
		prefix := string(rune('a' + i))
		label := string(rune('A' + i))
		lines = append(lines, fmt.Sprintf("        // Branch %s", label))
		sum, ok := branch.(*Sum)
		if !ok {
			name := prefix + "1"
			lines = append(lines, fmt.Sprintf("        %s %s = %s;",
				g.Rec.VecType, name, g.ctx.Render(branch)))
			sums = append(sums, name)
			continue
		}
		for j, term := range sum.Terms {
			lines = append(lines, fmt.Sprintf("        %s %s%d = %s;",
				g.Rec.VecType, prefix, j+1, g.ctx.Render(term)))
		}
		sums = append(sums, tempSum(prefix, len(sum.Terms)))
	}
	lines = append(lines, fmt.Sprintf("        return (%s) * %s;",
		strings.Join(sums, " + "), g.ctx.Render(avg.Scale)))
	return strings.Join(lines, "\n")
}

func (g *Generator) optimizedBody(expr Expr) string {
	opt := g.Opt.Optimize(expr)
	var lines []string
	if len(opt.Intermediates) > 0 {
		lines = append(lines, "        // CSE: Cache recursive calls")
	}
	for _, in := range opt.Intermediates {
		lines = append(lines, fmt.Sprintf("        %s %s = %s;",
			g.Rec.VecType, in.Name, g.ctx.Render(in.Expr)))
	}
	if scaled, ok := opt.Result.(*ScaledExpr); ok {
		op := "*"
		if scaled.IsDivision {
			op = "/"
		}
		lines = append(lines, fmt.Sprintf("        return (%s) %s %s;",
			g.ctx.Render(scaled.Inner), op, g.ctx.Render(scaled.Scale)))
	} else {
		lines = append(lines, "        return "+g.ctx.Render(opt.Result)+";")
	}
	return strings.Join(lines, "\n")
}

// tempSum joins prefix1..prefixN with plus signs.
func tempSum(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = prefix + strconv.Itoa(i+1)
	}
	return strings.Join(parts, " + ")
}
