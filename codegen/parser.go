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
	"log"
	"regexp"
	"strconv"
	"strings"
)

// Parser turns einsum-style recurrence notation into expression trees:
//
//	E[n-1,m]             recurrence at shifted indices
//	(2*n-1) * x * E[n-1] coefficient chain times a call
//	term + term          sum of terms
//	Q[i-1,j]             cross-reference to another recurrence
//
// SelfSymbol names the recurrence being defined (conventionally E);
// any other identifier followed by [...] is a cross-reference unless
// it is a declared array variable.
type Parser struct {
	Indices     []string
	RuntimeVars []string
	ArrayVars   map[string]bool
	SelfSymbol  string
}

// NewParser builds a parser with the conventional self symbol E.
func NewParser(indices, runtimeVars []string) *Parser {
	return &Parser{
		Indices:     indices,
		RuntimeVars: runtimeVars,
		SelfSymbol:  "E",
	}
}

var callPattern = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\[([^\]]+)\]`)

var shiftPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*([+-])\s*(\d+)$`)

// ParseExpression parses a sum of terms, splitting on + at bracket
// depth zero only.
func (p *Parser) ParseExpression(s string) (*Sum, error) {
	sum := &Sum{}
	depth := 0
	start := 0
	flush := func(end int) error {
		part := strings.TrimSpace(s[start:end])
		if part == "" {
			return nil
		}
		t, err := p.ParseTerm(part)
		if err != nil {
			return err
		}
		sum.Terms = append(sum.Terms, t)
		return nil
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case '+':
			if depth == 0 {
				if err := flush(i); err != nil {
					return nil, err
				}
				start = i + 1
			}
		}
	}
	if err := flush(len(s)); err != nil {
		return nil, err
	}
	return sum, nil
}

// ParseTerm parses one coefficient-times-call term. The call may be a
// self-reference or a cross-reference; array lookups like Boys[N] are
// never treated as calls. The call ends the term: text after its
// closing bracket is an error, not a trailing coefficient.
func (p *Parser) ParseTerm(s string) (*Term, error) {
	s = strings.TrimSpace(s)
	loc := p.findCall(s)
	if loc == nil {
		return nil, fmt.Errorf("term %q: no recurrence reference", s)
	}
	if trailing := strings.TrimSpace(s[loc[1]:]); trailing != "" {
		return nil, fmt.Errorf("term %q: unexpected text %q after call", s, trailing)
	}
	target := s[loc[2]:loc[3]]
	if target == p.SelfSymbol {
		target = ""
	}
	shifts, err := p.ParseShifts(s[loc[4]:loc[5]])
	if err != nil {
		return nil, fmt.Errorf("term %q: %w", s, err)
	}
	call := &RecursiveCall{Target: target, Shifts: shifts}

	coeffPart := strings.TrimSpace(s[:loc[0]])
	coeffPart = strings.TrimSuffix(coeffPart, "*")
	coeffPart = strings.TrimSpace(coeffPart)
	if coeffPart == "" || coeffPart == "1" {
		return &Term{Coeff: &Const{Value: 1}, Call: call}, nil
	}

	parts := splitByMult(coeffPart)
	coeff := p.ParseCoefficient(parts[0])
	for _, part := range parts[1:] {
		coeff = &BinOp{Op: "*", Left: coeff, Right: p.ParseCoefficient(part)}
	}
	return &Term{Coeff: coeff, Call: call}, nil
}

// findCall locates the first ident[...] occurrence that is a
// recurrence reference rather than an array lookup. Returns the
// submatch indices, or nil.
func (p *Parser) findCall(s string) []int {
	off := 0
	for {
		loc := callPattern.FindStringSubmatchIndex(s[off:])
		if loc == nil {
			return nil
		}
		for i := range loc {
			loc[i] += off
		}
		if !p.ArrayVars[s[loc[2]:loc[3]]] {
			return loc
		}
		off = loc[1]
	}
}

// ParseShifts converts a bracket body like "i-1, j, t+1" into
// slot-indexed shift amounts. Slots beyond the listed entries stay
// zero; every listed entry must be a declared index with an optional
// integer offset. A bare integer entry names the value the rule's
// guard pins that index to and carries a zero shift.
func (p *Parser) ParseShifts(s string) ([]int, error) {
	shifts := make([]int, len(p.Indices))
	slot := make(map[string]int, len(p.Indices))
	for i, idx := range p.Indices {
		slot[idx] = i
	}
	parts := strings.Split(s, ",")
	if len(parts) > len(p.Indices) {
		return nil, fmt.Errorf("reference lists %d indices, recurrence has %d", len(parts), len(p.Indices))
	}
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" || part == p.Indices[i] {
			continue
		}
		if _, err := strconv.Atoi(part); err == nil {
			continue
		}
		m := shiftPattern.FindStringSubmatch(part)
		if m == nil {
			if _, ok := slot[part]; ok {
				continue
			}
			return nil, fmt.Errorf("index entry %q: want <index> or <index>±<int>", part)
		}
		n, ok := slot[m[1]]
		if !ok {
			return nil, fmt.Errorf("index entry %q: unknown index %q", part, m[1])
		}
		amount, err := strconv.Atoi(m[3])
		if err != nil {
			return nil, fmt.Errorf("index entry %q: %w", part, err)
		}
		if m[2] == "-" {
			amount = -amount
		}
		shifts[n] = amount
		continue
	}
	return shifts, nil
}

// ParseCoefficient classifies a coefficient factor. Classification is
// ordered: parenthesized groups, declared runtime variables, declared
// indices, numeric constants, index-bearing text, then plain variables
// for anything left over. Unknown identifiers are tolerated so rules
// can reference parameters declared later.
func (p *Parser) ParseCoefficient(s string) Expr {
	s = strings.TrimSpace(s)
	if s == "" || s == "1" {
		return &Const{Value: 1}
	}

	if strings.Contains(s, "*") && !strings.HasPrefix(s, "(") {
		if parts := splitByMult(s); len(parts) > 1 {
			coeff := p.ParseCoefficient(parts[0])
			for _, part := range parts[1:] {
				coeff = &BinOp{Op: "*", Left: coeff, Right: p.ParseCoefficient(part)}
			}
			return coeff
		}
	}

	if m := callPattern.FindStringSubmatch(s); m != nil && m[0] == s && p.ArrayVars[m[1]] {
		return &ArrayRef{Array: m[1], Index: strings.TrimSpace(m[2])}
	}

	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		inner := strings.TrimSpace(s[1 : len(s)-1])
		hasIdx := p.containsAnyIdent(inner, p.Indices)
		hasVar := p.containsAnyIdent(inner, p.RuntimeVars)
		switch {
		case hasIdx:
			return &IndexExpr{Text: inner}
		case hasVar:
			// Compound runtime text keeps its parentheses so
			// operator precedence survives rendering.
			return &Var{Name: s}
		}
		if v, err := evalConstText(inner); err == nil {
			return &Const{Value: v}
		}
		return &IndexExpr{Text: inner}
	}

	for _, v := range p.RuntimeVars {
		if s == v {
			return &Var{Name: s}
		}
	}
	for _, idx := range p.Indices {
		if s == idx {
			return &IndexExpr{Text: s}
		}
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return &Const{Value: v}
	}
	if p.containsAnyIdent(s, p.Indices) {
		return &IndexExpr{Text: s}
	}
	log.Printf("codegen: unknown identifier %q treated as a runtime variable", s)
	return &Var{Name: s}
}

// ParseScale handles the 1/d notation used for normalized recurrences
// and falls back to coefficient parsing otherwise.
func (p *Parser) ParseScale(s string) Expr {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "1/") {
		d := strings.TrimSpace(s[2:])
		if strings.HasPrefix(d, "(") && strings.HasSuffix(d, ")") {
			d = strings.TrimSpace(d[1 : len(d)-1])
		}
		if p.containsAnyIdent(d, p.Indices) {
			return &IndexExpr{Text: d}
		}
		if v, err := strconv.ParseFloat(d, 64); err == nil {
			return &Const{Value: v}
		}
		return &Var{Name: d}
	}
	return p.ParseCoefficient(s)
}

// ParseValue parses a base-case value: an array lookup, a numeric
// constant, or a runtime expression.
func (p *Parser) ParseValue(s string) Expr {
	s = strings.TrimSpace(s)
	if m := callPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		return &ArrayRef{Array: m[1], Index: strings.TrimSpace(m[2])}
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return &Const{Value: v}
	}
	return p.ParseCoefficient(s)
}

func (p *Parser) containsAnyIdent(text string, names []string) bool {
	for _, n := range names {
		if containsIdent(text, n) {
			return true
		}
	}
	return false
}

// splitByMult splits on * at parenthesis depth zero.
func splitByMult(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case '*':
			if depth == 0 {
				if part := strings.TrimSpace(s[start:i]); part != "" {
					parts = append(parts, part)
				}
				start = i + 1
			}
		}
	}
	if part := strings.TrimSpace(s[start:]); part != "" {
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return []string{"1"}
	}
	return parts
}
