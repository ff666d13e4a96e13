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
	"strings"
)

// ConstraintOp is a comparison operator in a rule guard.
type ConstraintOp string

const (
	OpEQ ConstraintOp = "=="
	OpNE ConstraintOp = "!="
	OpGE ConstraintOp = ">="
	OpLE ConstraintOp = "<="
	OpGT ConstraintOp = ">"
	OpLT ConstraintOp = "<"
)

// constraintOps is ordered so multi-character operators match before
// their single-character prefixes.
var constraintOps = []ConstraintOp{OpEQ, OpNE, OpGE, OpLE, OpGT, OpLT}

// Constraint is a single comparison between an index expression and an
// integer bound, e.g. n >= 1.
type Constraint struct {
	Left  string
	Op    ConstraintOp
	Right string
}

// ParseConstraint splits a textual guard like "n >= 1" at its
// operator. Whitespace around the operands is trimmed.
func ParseConstraint(text string) (Constraint, error) {
	for _, op := range constraintOps {
		if i := strings.Index(text, string(op)); i >= 0 {
			left := strings.TrimSpace(text[:i])
			right := strings.TrimSpace(text[i+len(op):])
			if left == "" || right == "" {
				return Constraint{}, fmt.Errorf("constraint %q: missing operand", text)
			}
			return Constraint{Left: left, Op: op, Right: right}, nil
		}
	}
	return Constraint{}, fmt.Errorf("constraint %q: no comparison operator", text)
}

// Render emits the constraint as a boolean source expression.
func (c Constraint) Render() string {
	return fmt.Sprintf("%s %s %s", c.Left, c.Op, c.Right)
}

// IsEquality reports whether the constraint pins its operand to a
// single value, which drives rule priority.
func (c Constraint) IsEquality() bool {
	return c.Op == OpEQ
}

// ConstraintSet is the conjunction of a rule's guards.
type ConstraintSet struct {
	Constraints []Constraint
}

// ParseConstraintSet parses each guard string and collects them.
func ParseConstraintSet(texts []string) (ConstraintSet, error) {
	set := ConstraintSet{Constraints: make([]Constraint, 0, len(texts))}
	for _, t := range texts {
		c, err := ParseConstraint(t)
		if err != nil {
			return ConstraintSet{}, err
		}
		set.Constraints = append(set.Constraints, c)
	}
	return set, nil
}

// Render joins the constraints with logical AND. An empty set renders
// as the always-true guard.
func (s ConstraintSet) Render() string {
	if len(s.Constraints) == 0 {
		return "true"
	}
	parts := make([]string, len(s.Constraints))
	for i, c := range s.Constraints {
		parts[i] = "(" + c.Render() + ")"
	}
	return strings.Join(parts, " && ")
}

// EqualityCount returns the number of equality guards in the set.
func (s ConstraintSet) EqualityCount() int {
	n := 0
	for _, c := range s.Constraints {
		if c.IsEquality() {
			n++
		}
	}
	return n
}

// Len returns the total number of guards.
func (s ConstraintSet) Len() int {
	return len(s.Constraints)
}
