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

// TestGenerator emits a pytest module validating one recurrence: a
// SciPy comparison suite when a reference function was declared with
// Recurrence.SciPy, otherwise a consistency skeleton.
type TestGenerator struct {
	Rec *Recurrence
	// Module is the Python extension module exposing the recurrence.
	Module string
}

// NewTestGenerator builds a test generator for rec in the named
// module.
func NewTestGenerator(rec *Recurrence, module string) *TestGenerator {
	return &TestGenerator{Rec: rec, Module: module}
}

// Generate returns the complete pytest module text.
func (t *TestGenerator) Generate() (string, error) {
	if err := t.Rec.Err(); err != nil {
		return "", err
	}
	if t.Rec.SciPyRef != "" {
		return t.scipyComparison(), nil
	}
	return t.consistency(), nil
}

func (t *TestGenerator) scipyComparison() string {
	rec := t.Rec
	name := strings.ToLower(rec.Name)
	varsList := pyList(rec.RuntimeVars)

	return fmt.Sprintf(`"""Auto-generated tests for %[1]s."""
import pytest
import numpy as np
from numpy.testing import assert_allclose

try:
    import recursum._%[2]s as recursum_module
    RECURSUM_AVAILABLE = True
except ImportError:
    RECURSUM_AVAILABLE = False
    recursum_module = None

try:
    import scipy.special
    SCIPY_AVAILABLE = True
except ImportError:
    SCIPY_AVAILABLE = False


@pytest.fixture
def test_points():
    """Generate test points."""
    return np.linspace(%[3]s)


@pytest.mark.skipif(not RECURSUM_AVAILABLE or not SCIPY_AVAILABLE,
                   reason="Recursum C++ extension or SciPy not available")
@pytest.mark.parametrize("n", %[4]s)
def test_%[5]s_vs_scipy(n, test_points):
    """Compare %[1]s against %[6]s."""
    scipy_ref = %[6]s
    params = [test_points for _ in %[7]s]
    result = recursum_module.%[5]s(n, *params)
    reference = scipy_ref(n, test_points)
    assert_allclose(result, reference, rtol=1e-12, atol=1e-14,
                    err_msg=f"Mismatch at n={n}")


@pytest.mark.skipif(not RECURSUM_AVAILABLE,
                   reason="Recursum C++ extension not available")
def test_%[5]s_vectorization(test_points):
    """Vector-width chunking must not change shapes or values."""
    sizes = [7, 8, 15, 16, 32, 100]
    for size in sizes:
        x = test_points[:size]
        params = [x for _ in %[7]s]
        result = recursum_module.%[5]s(5, *params)
        assert len(result) == size, f"Expected size {size}, got {len(result)}"


@pytest.mark.skipif(not RECURSUM_AVAILABLE,
                   reason="Recursum C++ extension not available")
def test_%[5]s_boundary_cases():
    """Base case, maximum index, and out-of-range zero fill."""
    x = np.array([1.0, 2.0, 3.0])
    params = [x for _ in %[7]s]

    result_0 = recursum_module.%[5]s(0, *params)
    assert result_0.shape == x.shape

    max_n = %[8]d
    result_max = recursum_module.%[5]s(max_n, *params)
    assert result_max.shape == x.shape

    result_oor = recursum_module.%[5]s(max_n + 1, *params)
    assert_allclose(result_oor, 0.0)
`, rec.Name, t.Module, t.testRange(), t.testOrders(), name, rec.SciPyRef,
		varsList, rec.MaxIndices[rec.Indices[0]])
}

func (t *TestGenerator) consistency() string {
	rec := t.Rec
	name := strings.ToLower(rec.Name)
	return fmt.Sprintf(`"""Auto-generated consistency tests for %[1]s."""
import pytest
import numpy as np
from numpy.testing import assert_allclose

try:
    import recursum._%[2]s as recursum_module
    RECURSUM_AVAILABLE = True
except ImportError:
    RECURSUM_AVAILABLE = False
    recursum_module = None


@pytest.mark.skipif(not RECURSUM_AVAILABLE,
                   reason="Recursum C++ extension not available")
def test_%[3]s_callable():
    """Smoke test: the binding is importable and callable."""
    assert hasattr(recursum_module, "%[3]s")


@pytest.mark.skipif(not RECURSUM_AVAILABLE,
                   reason="Recursum C++ extension not available")
def test_%[3]s_out_of_range_is_zero():
    """Indices outside the dispatch bounds return zeros."""
    x = np.array([0.5, 1.0, 1.5])
    params = [x for _ in %[4]s]
    result = recursum_module.%[3]s(*([-1] * %[5]d), *params)
    assert_allclose(result, 0.0)
`, rec.Name, t.Module, name, pyList(rec.RuntimeVars), len(rec.Indices))
}

// testRange picks a numeric domain suiting the family: Chebyshev and
// Legendre live on [-1, 1], Bessel-like families avoid zero.
func (t *TestGenerator) testRange() string {
	name := t.Rec.Name
	switch {
	case strings.Contains(name, "Bessel"):
		return "0.1, 10.0, 100"
	case strings.Contains(name, "Legendre"), strings.Contains(name, "Chebyshev"):
		return "-1.0, 1.0, 50"
	default:
		return "-5.0, 5.0, 100"
	}
}

func (t *TestGenerator) testOrders() string {
	max := t.Rec.MaxIndices[t.Rec.Indices[0]]
	hi := max
	if hi > 15 {
		hi = 15
	}
	return fmt.Sprintf("[0, 1, 2, 5, %d, %d]", max/2, hi)
}

func pyList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
