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

// DispatcherGenerator emits dispatch_<Name>, a function mapping
// runtime integer indices onto the template instantiations through
// nested switches. Out-of-bounds indices return the zero vector
// before the switch is entered.
type DispatcherGenerator struct {
	Rec *Recurrence
}

// NewDispatcherGenerator builds a dispatcher generator for rec.
func NewDispatcherGenerator(rec *Recurrence) *DispatcherGenerator {
	return &DispatcherGenerator{Rec: rec}
}

// FuncName is the name of the generated dispatch function.
func (d *DispatcherGenerator) FuncName() string {
	return "dispatch_" + d.Rec.Name
}

// Generate returns the complete dispatcher header text.
func (d *DispatcherGenerator) Generate() (string, error) {
	if err := d.Rec.Err(); err != nil {
		return "", err
	}
	rec := d.Rec

	var params []string
	for _, idx := range rec.Indices {
		params = append(params, "int "+idx)
	}
	for _, v := range rec.RuntimeVars {
		t := rec.VecType
		if rec.ArrayVars[v] {
			t = "const " + rec.VecType + "*"
		}
		params = append(params, fmt.Sprintf("%s %s", t, v))
	}

	var bounds []string
	for _, idx := range rec.Indices {
		bounds = append(bounds, fmt.Sprintf("%s < 0 || %s > %d", idx, idx, rec.MaxIndices[idx]))
	}

	var b strings.Builder
	b.WriteString("#pragma once\n")
	fmt.Fprintf(&b, "#include %q\n\n", strings.ToLower(rec.Name)+"_coeff.hpp")
	if rec.Namespace != "" {
		fmt.Fprintf(&b, "namespace %s {\n\n", rec.Namespace)
	}
	fmt.Fprintf(&b, "inline %s %s(\n    %s\n) {\n", rec.VecType, d.FuncName(), strings.Join(params, ",\n    "))
	fmt.Fprintf(&b, "    if (%s) {\n        return %s(0.0);\n    }\n\n",
		strings.Join(bounds, " ||\n        "), rec.VecType)
	d.nestedSwitch(&b, 0, nil)
	b.WriteString("}\n")
	if rec.Namespace != "" {
		fmt.Fprintf(&b, "\n} // namespace %s\n", rec.Namespace)
	}
	return b.String(), nil
}

// nestedSwitch writes the switch over index depth, one nesting level
// per index, bottoming out in a compute call with the accumulated
// literal template arguments.
func (d *DispatcherGenerator) nestedSwitch(b *strings.Builder, depth int, chosen []string) {
	rec := d.Rec
	idx := rec.Indices[depth]
	indent := strings.Repeat("    ", depth+1)
	fmt.Fprintf(b, "%sswitch(%s) {\n", indent, idx)
	for i := 0; i <= rec.MaxIndices[idx]; i++ {
		args := make([]string, len(chosen), len(chosen)+1)
		copy(args, chosen)
		args = append(args, fmt.Sprintf("%d", i))
		if depth == len(rec.Indices)-1 {
			fmt.Fprintf(b, "%s    case %d: return %s<%s>::compute(%s);\n",
				indent, i, rec.StructName(), strings.Join(args, ", "),
				strings.Join(rec.RuntimeVars, ", "))
			continue
		}
		fmt.Fprintf(b, "%s    case %d:\n", indent, i)
		d.nestedSwitch(b, depth+1, args)
	}
	fmt.Fprintf(b, "%s    default: return %s(0.0);\n", indent, rec.VecType)
	fmt.Fprintf(b, "%s}\n", indent)
}
