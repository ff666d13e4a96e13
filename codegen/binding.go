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

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// BindingGenerator emits the pybind11 glue for one catalog module:
// a numpy-aware wrapper per recurrence plus the PYBIND11_MODULE
// definition. Wrappers process input arrays in vector-width chunks
// through the dispatcher, with a partial load for the tail.
type BindingGenerator struct {
	Recs   []*Recurrence
	Module string
}

// NewBindingGenerator builds a binding generator for the recurrences
// exposed by the named Python module.
func NewBindingGenerator(recs []*Recurrence, module string) *BindingGenerator {
	return &BindingGenerator{Recs: recs, Module: module}
}

// Generate returns the complete binding translation unit.
func (bg *BindingGenerator) Generate() (string, error) {
	for _, rec := range bg.Recs {
		if err := rec.Err(); err != nil {
			return "", err
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "// Auto-generated pybind11 bindings for %s\n", bg.Module)
	b.WriteString("#include <pybind11/pybind11.h>\n")
	b.WriteString("#include <pybind11/numpy.h>\n")
	b.WriteString("#include <pybind11/stl.h>\n")
	b.WriteString("#include <vector>\n")
	for _, rec := range bg.Recs {
		fmt.Fprintf(&b, "#include \"dispatchers/%s_dispatcher.hpp\"\n", strings.ToLower(rec.Name))
	}
	b.WriteString("\nnamespace py = pybind11;\n")
	for _, rec := range bg.Recs {
		b.WriteString("\n")
		bg.wrapper(&b, rec)
	}
	b.WriteString("\n")
	bg.moduleDef(&b)
	return b.String(), nil
}

func (bg *BindingGenerator) wrapper(b *strings.Builder, rec *Recurrence) {
	funcName := strings.ToLower(rec.Name)
	dispatcher := "dispatch_" + rec.Name
	ns := ""
	if rec.Namespace != "" {
		ns = rec.Namespace + "::"
	}
	idxArgs := strings.Join(rec.Indices, ", ")

	var idxParams []string
	for _, idx := range rec.Indices {
		idxParams = append(idxParams, "int "+idx)
	}

	if len(rec.RuntimeVars) == 0 {
		fmt.Fprintf(b, `py::array_t<double> %s_wrapper(%s) {
    py::array_t<double> result(1);
    auto buf = result.request();
    double* ptr = static_cast<double*>(buf.ptr);

    %s vec_result = %s%s(%s);
    ptr[0] = vec_result[0];  // Extract first element only

    return result;
}
`, funcName, strings.Join(idxParams, ", "), rec.VecType, ns, dispatcher, idxArgs)
		return
	}

	primary := rec.RuntimeVars[0]
	others := rec.RuntimeVars[1:]
	params := idxParams
	for _, v := range rec.RuntimeVars {
		params = append(params, fmt.Sprintf("py::array_t<double> %s", v))
	}

	fmt.Fprintf(b, "py::array_t<double> %s_wrapper(\n    %s\n) {\n",
		funcName, strings.Join(params, ",\n    "))
	fmt.Fprintf(b, `    auto buf = %s.request();
    if (buf.ndim != 1) {
        throw std::runtime_error("Input must be 1D array");
    }

    size_t arr_size = buf.shape[0];
    py::array_t<double> result(arr_size);
    auto result_buf = result.request();
    double* result_ptr = static_cast<double*>(result_buf.ptr);
    double* input_ptr = static_cast<double*>(buf.ptr);

`, primary)
	for _, v := range others {
		if rec.ArrayVars[v] {
			fmt.Fprintf(b, `    // Widen %s table to vector lanes
    auto %s_buf = %s.request();
    double* %s_ptr = static_cast<double*>(%s_buf.ptr);
    std::vector<%s> %s_table(%s_buf.shape[0]);
    for (size_t i = 0; i < %s_table.size(); ++i) {
        %s_table[i] = %s(%s_ptr[i]);
    }
`, v, v, v, v, v, rec.VecType, v, v, v, v, rec.VecType, v)
			continue
		}
		fmt.Fprintf(b, `    // Load %s parameter pointers
    auto %s_buf = %s.request();
    double* %s_ptr = static_cast<double*>(%s_buf.ptr);
    bool %s_is_scalar = (%s_buf.size == 1);
`, v, v, v, v, v, v, v)
	}

	call := bg.dispatchCall(rec, ns, dispatcher, idxArgs, others)
	fmt.Fprintf(b, `
    // Process in %s-width chunks
    size_t vec_idx = 0;
    for (; vec_idx + 8 <= arr_size; vec_idx += 8) {
        %s vec_input;
        vec_input.load(input_ptr + vec_idx);

%s
        result_vec.store(result_ptr + vec_idx);
    }

    // Handle remaining elements
    if (vec_idx < arr_size) {
        %s vec_input;
        vec_input.load_partial(static_cast<int>(arr_size - vec_idx), input_ptr + vec_idx);

%s
        result_vec.store_partial(static_cast<int>(arr_size - vec_idx), result_ptr + vec_idx);
    }

    return result;
}
`, rec.VecType, rec.VecType, call, rec.VecType, call)
}

func (bg *BindingGenerator) dispatchCall(rec *Recurrence, ns, dispatcher, idxArgs string, others []string) string {
	const indent = "        "
	var lines []string
	args := []string{"vec_input"}
	for _, v := range others {
		if rec.ArrayVars[v] {
			args = append(args, v+"_table.data()")
			continue
		}
		lines = append(lines, indent+rec.VecType+" vec_"+v+";")
		lines = append(lines, indent+"if ("+v+"_is_scalar) {")
		lines = append(lines, indent+"    vec_"+v+" = "+rec.VecType+"("+v+"_ptr[0]);")
		lines = append(lines, indent+"} else {")
		lines = append(lines, indent+"    vec_"+v+".load("+v+"_ptr + vec_idx);")
		lines = append(lines, indent+"}")
		args = append(args, "vec_"+v)
	}
	lines = append(lines, fmt.Sprintf("%s%s result_vec = %s%s(%s, %s);",
		indent, rec.VecType, ns, dispatcher, idxArgs, strings.Join(args, ", ")))
	return strings.Join(lines, "\n")
}

func (bg *BindingGenerator) moduleDef(b *strings.Builder) {
	title := cases.Title(language.English).String(bg.Module)
	fmt.Fprintf(b, "PYBIND11_MODULE(_%s, m) {\n", bg.Module)
	fmt.Fprintf(b, "    m.doc() = \"Recursum %s recurrence relations\";\n\n", title)
	for _, rec := range bg.Recs {
		funcName := strings.ToLower(rec.Name)
		var args []string
		for _, idx := range rec.Indices {
			args = append(args, fmt.Sprintf("py::arg(%q)", idx))
		}
		for _, v := range rec.RuntimeVars {
			args = append(args, fmt.Sprintf("py::arg(%q)", v))
		}
		if len(args) > 0 {
			fmt.Fprintf(b, "    m.def(%q, &%s_wrapper, %q,\n          %s);\n",
				funcName, funcName, rec.Name, strings.Join(args, ", "))
		} else {
			fmt.Fprintf(b, "    m.def(%q, &%s_wrapper, %q);\n", funcName, funcName, rec.Name)
		}
	}
	b.WriteString("}\n")
}
