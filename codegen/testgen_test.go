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
	"strings"
	"testing"
)

func TestTestGeneratorSciPyComparison(t *testing.T) {
	rec := legendre().
		SciPy("scipy.special.eval_legendre").
		Max(At{"n": 10})
	out, err := NewTestGenerator(rec, "orthogonal").Generate()
	if err != nil {
		t.Fatal(err)
	}

	wantContains(t, out,
		"import recursum._orthogonal as recursum_module",
		"import scipy.special",
		// Legendre's natural domain.
		"np.linspace(-1.0, 1.0, 50)",
		`@pytest.mark.parametrize("n", [0, 1, 2, 5, 5, 10])`,
		"def test_legendre_vs_scipy(n, test_points):",
		"scipy_ref = scipy.special.eval_legendre",
		"assert_allclose(result, reference, rtol=1e-12, atol=1e-14,",
		"def test_legendre_vectorization(test_points):",
		"max_n = 10",
		"result_oor = recursum_module.legendre(max_n + 1, *params)",
	)
}

func TestTestGeneratorConsistency(t *testing.T) {
	out, err := NewTestGenerator(hermiteE(), "mcmd").Generate()
	if err != nil {
		t.Fatal(err)
	}

	// No reference function declared, so only consistency checks.
	wantContains(t, out,
		"import recursum._mcmd as recursum_module",
		"def test_hermitee_callable():",
		"def test_hermitee_out_of_range_is_zero():",
		"*([-1] * 3)",
	)
	if strings.Contains(out, "scipy") {
		t.Errorf("consistency suite must not import scipy:\n%s", out)
	}
}

func TestTestGeneratorRangeSelection(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"ChebyshevT", "-1.0, 1.0, 50"},
		{"BesselJ", "0.1, 10.0, 100"},
		{"HermiteH", "-5.0, 5.0, 100"},
	}
	for _, tt := range tests {
		rec := New(tt.name, []string{"n"}, []string{"x"}).
			Validity("n >= 0").
			Base(At{"n": 0}, "1.0").
			SciPy("scipy.special.ref")
		out, err := NewTestGenerator(rec, "orthogonal").Generate()
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out, "np.linspace("+tt.want+")") {
			t.Errorf("%s: test range not %q:\n%s", tt.name, tt.want, out)
		}
	}
}
