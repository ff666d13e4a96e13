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
	"sort"
	"strconv"
	"strings"
)

// LayeredGenerator emits a header whose structs compute every
// auxiliary-index value of a layer in one call, writing into a
// caller-provided buffer. Each previous layer is computed once and
// read through a local array, which is the whole point: the repeated
// sub-layer work a per-value instantiation redoes disappears.
//
// The auxiliary index must be declared with Recurrence.Aux. The layer
// size comes from an explicit AuxBound declaration or a validity
// constraint of the form aux <= bound; BoundDefaulted reports when
// neither was found.
type LayeredGenerator struct {
	Rec *Recurrence
	ctx *RenderContext

	// BoundDefaulted is set after Generate when no aux upper bound
	// was found and the layer size fell back to a single value.
	BoundDefaulted bool

	layerIndices []string
	aux          string
	auxBound     string
	maxAuxShift  int
}

// NewLayeredGenerator builds a layered generator for rec.
func NewLayeredGenerator(rec *Recurrence) *LayeredGenerator {
	return &LayeredGenerator{Rec: rec, ctx: rec.Context()}
}

// Generate returns the complete layered header text.
func (g *LayeredGenerator) Generate() (string, error) {
	if err := g.Rec.Err(); err != nil {
		return "", err
	}
	if g.Rec.AuxIndex == "" {
		return "", fmt.Errorf("recurrence %s: layered generation needs an auxiliary index, declare one with Aux", g.Rec.Name)
	}
	g.prepare()

	parts := []string{
		g.header(),
		g.primaryTemplate(),
	}
	parts = append(parts, g.baseCases()...)
	parts = append(parts, g.ruleLayers()...)
	parts = append(parts, g.accessorTemplate())
	if g.Rec.Namespace != "" {
		parts = append(parts, fmt.Sprintf("} // namespace %s", g.Rec.Namespace))
	}
	return strings.Join(parts, "\n\n") + "\n", nil
}

// prepare caches the index split and aux-range facts the emitters
// share.
func (g *LayeredGenerator) prepare() {
	g.aux = g.Rec.AuxIndex
	g.layerIndices = g.Rec.Indices[:len(g.Rec.Indices)-1]
	g.auxBound = g.findAuxBound()
	g.maxAuxShift = g.findMaxAuxShift()
}

func (g *LayeredGenerator) header() string {
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

// nValuesExpr is the layer size: one more than the aux upper bound,
// plus any headroom requested for recurrences whose deeper layers
// must over-compute to feed shifted reads.
func (g *LayeredGenerator) nValuesExpr() string {
	if g.auxBound == "" {
		g.BoundDefaulted = true
		if g.Rec.LayerHeadroom > 0 {
			return strconv.Itoa(1 + g.Rec.LayerHeadroom)
		}
		return "1"
	}
	expr := fmt.Sprintf("(%s) + %d", g.auxBound, 1+g.Rec.LayerHeadroom)
	return expr
}

// findAuxBound prefers an explicit AuxBound declaration and falls
// back to scanning validity constraints for aux <= bound.
func (g *LayeredGenerator) findAuxBound() string {
	if g.Rec.AuxUpperBound != "" {
		return strings.TrimSpace(g.Rec.AuxUpperBound)
	}
	for _, c := range g.Rec.Domain.Constraints {
		if c.Op == OpLE && strings.TrimSpace(c.Left) == g.aux {
			return strings.TrimSpace(c.Right)
		}
	}
	return ""
}

// findMaxAuxShift returns the largest upward shift of the auxiliary
// index across all calls; buffers get that much slack.
func (g *LayeredGenerator) findMaxAuxShift() int {
	auxSlot := len(g.Rec.Indices) - 1
	max := 0
	for _, rule := range g.Rec.Rules {
		for _, call := range CollectCalls(rule.Expression) {
			if s := call.Shifts[auxSlot]; s > max {
				max = s
			}
		}
	}
	return max
}

func (g *LayeredGenerator) layerTParams() string {
	if len(g.layerIndices) == 0 {
		return "int dummy_idx"
	}
	parts := make([]string, len(g.layerIndices))
	for i, idx := range g.layerIndices {
		parts[i] = "int " + idx
	}
	return strings.Join(parts, ", ")
}

func (g *LayeredGenerator) layerTArgs() string {
	if len(g.layerIndices) == 0 {
		return "dummy_idx"
	}
	return strings.Join(g.layerIndices, ", ")
}

// signature renders the runtime parameter list, optionally commenting
// out every name for the do-nothing primary template.
func (g *LayeredGenerator) signature(unused bool) string {
	parts := make([]string, len(g.Rec.RuntimeVars))
	for i, v := range g.Rec.RuntimeVars {
		t := g.Rec.VecType
		if g.Rec.ArrayVars[v] {
			t = "const " + g.Rec.VecType + "*"
		}
		if unused {
			parts[i] = fmt.Sprintf("%s /*%s*/", t, v)
		} else {
			parts[i] = fmt.Sprintf("%s %s", t, v)
		}
	}
	return strings.Join(parts, ", ")
}

func (g *LayeredGenerator) primaryTemplate() string {
	return fmt.Sprintf(`template<%s, typename Enable = void>
struct %s {
    static constexpr int N_VALUES = 0;

    static RECURSUM_FORCEINLINE void compute(%s* out, %s) {
        // Invalid indices: do nothing
    }
};`, g.layerTParams(), g.Rec.LayerStructName(), g.Rec.VecType, g.signature(true))
}

// baseCases emits one layer specialization per base case that pins
// every layer index.
func (g *LayeredGenerator) baseCases() []string {
	var parts []string
	for _, bc := range g.Rec.BaseCases {
		targs := make([]string, 0, len(g.layerIndices))
		layerValues := map[string]int{}
		complete := true
		for _, idx := range g.layerIndices {
			v, ok := bc.IndexValues[idx]
			if !ok {
				complete = false
				break
			}
			targs = append(targs, strconv.Itoa(v))
			layerValues[idx] = v
		}
		if !complete {
			continue
		}
		if len(targs) == 0 {
			targs = append(targs, "0")
		}

		nValues := g.baseNValues(bc, layerValues)
		params := g.baseParams(bc)
		body := g.baseBody(bc)

		parts = append(parts, fmt.Sprintf(`template<>
struct %s<%s, void> {
    static constexpr int N_VALUES = %s;

    static RECURSUM_FORCEINLINE void compute(%s* out, %s) {
%s
    }
};`, g.Rec.LayerStructName(), strings.Join(targs, ", "), nValues,
			g.Rec.VecType, params, body))
	}
	return parts
}

// baseNValues evaluates the layer size at the base case's concrete
// index values.
func (g *LayeredGenerator) baseNValues(bc BaseCase, layerValues map[string]int) string {
	if g.auxBound != "" {
		if v, err := evalIntText(g.auxBound, layerValues); err == nil {
			return strconv.Itoa(v + 1 + g.Rec.LayerHeadroom)
		}
	}
	if v, ok := bc.IndexValues[g.aux]; ok {
		return strconv.Itoa(v + 1 + g.Rec.LayerHeadroom)
	}
	return strconv.Itoa(1 + g.Rec.LayerHeadroom)
}

func (g *LayeredGenerator) baseParams(bc BaseCase) string {
	parts := make([]string, len(g.Rec.RuntimeVars))
	for i, v := range g.Rec.RuntimeVars {
		t := g.Rec.VecType
		if g.Rec.ArrayVars[v] {
			t = "const " + g.Rec.VecType + "*"
		}
		if UsesVar(bc.Value, v) {
			parts[i] = fmt.Sprintf("%s %s", t, v)
		} else {
			parts[i] = fmt.Sprintf("%s /*%s*/", t, v)
		}
	}
	return strings.Join(parts, ", ")
}

// baseBody fills the output buffer. A value tabulated over the
// auxiliary index copies the whole table; anything else writes the
// one pinned slot.
func (g *LayeredGenerator) baseBody(bc BaseCase) string {
	if ref, ok := bc.Value.(*ArrayRef); ok && strings.TrimSpace(ref.Index) == g.aux {
		return fmt.Sprintf(`        // Base layer is the tabulated values themselves
        for (int %s = 0; %s < N_VALUES; ++%s) {
            out[%s] = %s[%s];
        }`, g.aux, g.aux, g.aux, g.aux, ref.Array, g.aux)
	}
	slot := 0
	if v, ok := bc.IndexValues[g.aux]; ok {
		slot = v
	}
	return fmt.Sprintf("        out[%d] = %s;", slot, g.ctx.Render(bc.Value))
}

// ruleLayers groups rules by their layer-index constraints and emits
// one layer specialization per group.
func (g *LayeredGenerator) ruleLayers() []string {
	groups := map[string][]*Rule{}
	var order []string
	for _, rule := range g.Rec.Rules {
		key := g.layerKey(rule)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rule)
	}
	var parts []string
	for _, key := range order {
		if code := g.layerTemplate(key, groups[key]); code != "" {
			parts = append(parts, code)
		}
	}
	return parts
}

// layerKey canonicalizes the constraints that mention layer indices.
func (g *LayeredGenerator) layerKey(rule *Rule) string {
	var cs []string
	for _, c := range rule.Constraints.Constraints {
		text := c.Render()
		for _, idx := range g.layerIndices {
			if containsIdent(text, idx) {
				cs = append(cs, "("+text+")")
				break
			}
		}
	}
	sort.Strings(cs)
	if len(cs) == 0 {
		return "default"
	}
	return strings.Join(cs, " && ")
}

func (g *LayeredGenerator) layerTemplate(layerKey string, rules []*Rule) string {
	if len(rules) == 0 {
		return ""
	}
	sfinae := ""
	if layerKey != "default" {
		sfinae = layerKey
	}
	var validityParts []string
	for _, c := range g.Rec.Domain.Constraints {
		if !containsIdent(c.Render(), g.aux) {
			validityParts = append(validityParts, "("+c.Render()+")")
		}
	}
	if len(validityParts) > 0 {
		validity := strings.Join(validityParts, " && ")
		if sfinae != "" {
			sfinae = fmt.Sprintf("(%s) && (%s)", sfinae, validity)
		} else {
			sfinae = validity
		}
	}
	if sfinae == "" {
		sfinae = "true"
	}

	return fmt.Sprintf(`template<%s>
struct %s<
    %s,
    typename std::enable_if<%s>::type
> {
    static constexpr int N_VALUES = %s;

    static RECURSUM_FORCEINLINE void compute(%s* out, %s) {
%s
    }
};`, g.layerTParams(), g.Rec.LayerStructName(), g.layerTArgs(), sfinae,
		g.nValuesExpr(), g.Rec.VecType, g.signature(false), g.layerBody(rules))
}

// layerBody splits the rule group into the aux == 0 unrolled head and
// the general loop, computing each previous layer exactly once first.
func (g *LayeredGenerator) layerBody(rules []*Rule) string {
	var zeroRule, generalRule *Rule
	for _, rule := range rules {
		auxC := g.auxConstraint(rule)
		switch {
		case auxC != nil && auxC.Op == OpEQ && strings.TrimSpace(auxC.Right) == "0":
			zeroRule = rule
		default:
			if generalRule == nil {
				generalRule = rule
			}
		}
	}
	ruleForPrev := generalRule
	if ruleForPrev == nil {
		ruleForPrev = zeroRule
	}

	var lines []string
	prevNames := g.emitPrevLayers(&lines, ruleForPrev)

	if generalRule != nil {
		hoisted, rewritten := g.hoistCommon(generalRule.Expression)
		for _, h := range hoisted {
			lines = append(lines, fmt.Sprintf("        %s %s = %s;",
				g.Rec.VecType, h.Name, g.ctx.Render(h.Expr)))
		}
		if len(hoisted) > 0 {
			lines = append(lines, "")
		}
		generalRule = &Rule{Constraints: generalRule.Constraints, Expression: rewritten, Name: generalRule.Name}
	}

	if zeroRule != nil {
		zero := 0
		lines = append(lines, fmt.Sprintf("        // %s = 0 special case", g.aux))
		lines = append(lines, fmt.Sprintf("        out[0] = %s;",
			g.convert(zeroRule.Expression, &zero, prevNames)))
		lines = append(lines, "")
	}
	if generalRule != nil {
		start := "0"
		if zeroRule != nil {
			start = "1"
		}
		lines = append(lines, fmt.Sprintf("        // General case: %s = %s to N_VALUES-1", g.aux, start))
		lines = append(lines, fmt.Sprintf("        for (int %s = %s; %s < N_VALUES; ++%s) {",
			g.aux, start, g.aux, g.aux))
		lines = append(lines, fmt.Sprintf("            out[%s] = %s;",
			g.aux, g.convert(generalRule.Expression, nil, prevNames)))
		lines = append(lines, "        }")
	}
	return strings.Join(lines, "\n")
}

// emitPrevLayers declares and fills one buffer per distinct layer the
// rule reads: previous layers of this recurrence and, for
// cross-references, layers of the referenced recurrence. The buffers
// are zero-initialized and sized with slack for upward aux shifts, so
// shifted reads past a layer's range see the out-of-domain zero.
//
// Cross-referenced recurrences must share this recurrence's runtime
// parameter list, since their layer compute is called with the same
// arguments.
func (g *LayeredGenerator) emitPrevLayers(lines *[]string, rule *Rule) map[string]string {
	prevNames := map[string]string{}
	if rule == nil {
		return prevNames
	}
	var keys []string
	seen := map[string]bool{}
	for _, call := range CollectCalls(rule.Expression) {
		key := call.Target + "|" + g.spatialTArgs(call)
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return prevNames
	}
	sort.Strings(keys)

	size := "N_VALUES"
	if g.maxAuxShift > 0 {
		size = fmt.Sprintf("N_VALUES + %d", g.maxAuxShift)
	}
	args := strings.Join(g.Rec.RuntimeVars, ", ")
	counts := map[string]int{}
	for _, key := range keys {
		counts[strings.SplitN(key, "|", 2)[0]]++
	}
	numbered := map[string]int{}
	for _, key := range keys {
		parts := strings.SplitN(key, "|", 2)
		target, sig := parts[0], parts[1]

		base := "prev"
		layerStruct := g.Rec.LayerStructName()
		if target != "" {
			base = strings.ToLower(target) + "_layer"
			layerStruct = g.ctx.structFor(target) + "Layer"
		}
		name := base
		if counts[target] > 1 {
			name = base + "_" + strconv.Itoa(numbered[target])
			numbered[target]++
		}
		prevNames[key] = name

		label := "previous layer"
		if target != "" {
			label = target + " layer"
		}
		*lines = append(*lines, fmt.Sprintf("        // Compute %s once: (%s)", label, sig))
		*lines = append(*lines, fmt.Sprintf("        %s %s[%s] = {};  // Zero-init, sized for shifted access",
			g.Rec.VecType, name, size))
		*lines = append(*lines, fmt.Sprintf("        %s<%s>::compute(%s, %s);",
			layerStruct, sig, name, args))
	}
	*lines = append(*lines, "")
	return prevNames
}

// spatialTArgs renders a call's layer-index template arguments.
func (g *LayeredGenerator) spatialTArgs(call *RecursiveCall) string {
	parts := make([]string, len(g.layerIndices))
	for i, idx := range g.layerIndices {
		parts[i] = shiftedIndex(idx, call.Shifts[i])
	}
	if len(parts) == 0 {
		return "dummy_idx"
	}
	return strings.Join(parts, ", ")
}

// auxConstraint returns the rule's constraint on the auxiliary index,
// if any.
func (g *LayeredGenerator) auxConstraint(rule *Rule) *Constraint {
	for i := range rule.Constraints.Constraints {
		c := &rule.Constraints.Constraints[i]
		if containsIdent(c.Render(), g.aux) {
			return c
		}
	}
	return nil
}

// hoistCommon lifts coefficient subexpressions that divide by a
// runtime variable out of the loop, since they are loop-invariant and
// the division is the most expensive operation in the body.
func (g *LayeredGenerator) hoistCommon(expr Expr) ([]Intermediate, Expr) {
	var hoisted []Intermediate
	byText := map[string]string{}
	rewrite := func(coeff Expr) Expr {
		text, invariant := g.invariantDivision(coeff)
		if !invariant {
			return coeff
		}
		name, ok := byText[text]
		if !ok {
			name = g.hoistName(coeff, len(byText))
			byText[text] = name
			hoisted = append(hoisted, Intermediate{Name: name, Expr: coeff})
		}
		return &CachedVar{Name: name}
	}

	var walk func(Expr) Expr
	walk = func(e Expr) Expr {
		switch e := e.(type) {
		case *Term:
			return &Term{Coeff: rewrite(e.Coeff), Call: e.Call}
		case *Sum:
			out := &Sum{Terms: make([]*Term, len(e.Terms))}
			for i, t := range e.Terms {
				out.Terms[i] = walk(t).(*Term)
			}
			return out
		case *ScaledExpr:
			return &ScaledExpr{Inner: walk(e.Inner), Scale: e.Scale, IsDivision: e.IsDivision}
		case *BranchAverage:
			out := &BranchAverage{Branches: make([]Expr, len(e.Branches)), Scale: e.Scale}
			for i, b := range e.Branches {
				out.Branches[i] = walk(b)
			}
			return out
		case *BinOp:
			return &BinOp{Op: e.Op, Left: walk(e.Left), Right: walk(e.Right)}
		default:
			return e
		}
	}
	return hoisted, walk(expr)
}

// invariantDivision reports whether coeff divides by a runtime
// variable without referencing the auxiliary index, and returns its
// canonical text.
func (g *LayeredGenerator) invariantDivision(coeff Expr) (string, bool) {
	text := g.ctx.Render(coeff)
	if containsIdent(text, g.aux) {
		return "", false
	}
	for _, v := range g.Rec.RuntimeVars {
		if strings.Contains(text, "/ "+v) || strings.Contains(text, "/"+v) {
			return text, true
		}
	}
	return "", false
}

// hoistName picks inv2<v> for the common half-over-variable pattern
// and a numbered fallback otherwise.
func (g *LayeredGenerator) hoistName(coeff Expr, n int) string {
	text := g.ctx.Render(coeff)
	if strings.Contains(text, "0.5") {
		for _, v := range g.Rec.RuntimeVars {
			if strings.Contains(text, "/ "+v) || strings.Contains(text, "/"+v) {
				return "inv2" + v
			}
		}
	}
	return "c_" + strconv.Itoa(n)
}

// convert rewrites a rule body for the layer loop: calls become layer
// buffer reads, and a concrete auxValue folds aux arithmetic to
// literals.
func (g *LayeredGenerator) convert(expr Expr, auxValue *int, prevNames map[string]string) string {
	auxSlot := len(g.Rec.Indices) - 1
	switch e := expr.(type) {
	case *RecursiveCall:
		name := prevNames[e.Target+"|"+g.spatialTArgs(e)]
		if name == "" {
			name = "prev"
		}
		shift := e.Shifts[auxSlot]
		if auxValue != nil {
			return fmt.Sprintf("%s[%d]", name, *auxValue+shift)
		}
		return fmt.Sprintf("%s[%s]", name, shiftedIndex(g.aux, shift))
	case *Const:
		return g.ctx.Render(e)
	case *Var:
		return e.Name
	case *CachedVar:
		return e.Name
	case *ArrayRef:
		idx := strings.TrimSpace(e.Index)
		if auxValue != nil && containsIdent(idx, g.aux) {
			idx = g.substAux(idx, *auxValue)
		}
		return fmt.Sprintf("%s[%s]", e.Array, idx)
	case *IndexExpr:
		text := e.Text
		if auxValue != nil && containsIdent(text, g.aux) {
			text = g.substAux(text, *auxValue)
		}
		return fmt.Sprintf("%s(%s)", g.Rec.VecType, text)
	case *BinOp:
		left := g.convert(e.Left, auxValue, prevNames)
		right := g.convert(e.Right, auxValue, prevNames)
		if _, ok := e.Left.(*BinOp); ok {
			left = "(" + left + ")"
		}
		if _, ok := e.Right.(*BinOp); ok {
			right = "(" + right + ")"
		}
		return fmt.Sprintf("%s %s %s", left, e.Op, right)
	case *Term:
		call := g.convert(e.Call, auxValue, prevNames)
		if c, ok := e.Coeff.(*Const); ok && c.IsOne() {
			return call
		}
		return fmt.Sprintf("%s * %s", g.convert(e.Coeff, auxValue, prevNames), call)
	case *Sum:
		if len(e.Terms) == 0 {
			return fmt.Sprintf("%s(0.0)", g.Rec.VecType)
		}
		parts := make([]string, len(e.Terms))
		for i, t := range e.Terms {
			parts[i] = g.convert(t, auxValue, prevNames)
		}
		return strings.Join(parts, " + ")
	case *ScaledExpr:
		op := "*"
		if e.IsDivision {
			op = "/"
		}
		return fmt.Sprintf("(%s) %s (%s)",
			g.convert(e.Inner, auxValue, prevNames), op,
			g.convert(e.Scale, auxValue, prevNames))
	case *BranchAverage:
		parts := make([]string, len(e.Branches))
		for i, b := range e.Branches {
			parts[i] = g.convert(b, auxValue, prevNames)
		}
		return fmt.Sprintf("(%s) * %s",
			strings.Join(parts, " + "), g.convert(e.Scale, auxValue, prevNames))
	case *FlatSum:
		parts := make([]string, len(e.Exprs))
		for i, x := range e.Exprs {
			parts[i] = g.convert(x, auxValue, prevNames)
		}
		return strings.Join(parts, " + ")
	default:
		return g.ctx.Render(expr)
	}
}

// substAux replaces the auxiliary index with a literal and folds the
// arithmetic when it evaluates to a plain integer.
func (g *LayeredGenerator) substAux(text string, value int) string {
	replaced := replaceIdent(text, g.aux, strconv.Itoa(value))
	if v, err := evalIntText(replaced, nil); err == nil {
		return strconv.Itoa(v)
	}
	return replaced
}

// accessorTemplate emits the per-value compatibility shim: build the
// layer locally, return the requested slot.
func (g *LayeredGenerator) accessorTemplate() string {
	tparams := make([]string, len(g.Rec.Indices))
	for i, idx := range g.Rec.Indices {
		tparams[i] = "int " + idx
	}
	targs := g.layerTArgs()
	if len(g.layerIndices) == 0 {
		targs = "0"
	}
	return fmt.Sprintf(`// API compatibility: single-value accessor
template<%s>
struct %s {
    static RECURSUM_FORCEINLINE %s compute(%s) {
        %s layer[%s] = {};
        %s<%s>::compute(layer, %s);
        return layer[%s];
    }
};`, strings.Join(tparams, ", "), g.Rec.StructName(), g.Rec.VecType,
		g.signature(false), g.Rec.VecType, g.nValuesExpr(),
		g.Rec.LayerStructName(), targs, strings.Join(g.Rec.RuntimeVars, ", "), g.aux)
}
