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

// Package recurrences is the built-in definition catalog: classical
// orthogonal polynomials and the McMurchie-Davidson coefficient
// families used in Gaussian integral evaluation.
package recurrences

import "github.com/recursum/recursum/codegen"

// Hermite is the two-center Hermite coefficient E^{nA,nB}_N with a
// two-branch averaged reduction for mixed angular momenta.
func Hermite() *codegen.Recurrence {
	return codegen.New("Hermite", []string{"nA", "nB", "N"}, []string{"PA", "PB", "aAB"}).
		InNamespace("hermite").
		Max(codegen.At{"nA": 3, "nB": 3, "N": 6}).
		Validity("nA >= 0", "nB >= 0", "N >= 0", "N <= nA + nB").
		Base(codegen.At{"nA": 0, "nB": 0, "N": 0}, "1.0").
		Rule("nA == 0 && nB > 0",
			"aAB * E[nA, nB-1, N-1] + PB * E[nA, nB-1, N] + (N+1) * E[nA, nB-1, N+1]",
			"", "B-side reduction").
		Rule("nB == 0 && nA > 0",
			"aAB * E[nA-1, nB, N-1] + PA * E[nA-1, nB, N] + (N+1) * E[nA-1, nB, N+1]",
			"", "A-side reduction").
		BranchAverage("nA > 0 && nB > 0",
			[]string{
				"aAB * E[nA, nB-1, N-1] + PB * E[nA, nB-1, N] + (N+1) * E[nA, nB-1, N+1]",
				"aAB * E[nA-1, nB, N-1] + PA * E[nA-1, nB, N] + (N+1) * E[nA-1, nB, N+1]",
			},
			"Two-branch average")
}

// Legendre is P_n(x), DLMF 18.9.
func Legendre() *codegen.Recurrence {
	return codegen.New("Legendre", []string{"n"}, []string{"x"}).
		InNamespace("legendre").
		Max(codegen.At{"n": 15}).
		SciPy("scipy.special.eval_legendre").
		Validity("n >= 0").
		Base(codegen.At{"n": 0}, "1.0").
		Base(codegen.At{"n": 1}, "x").
		Rule("n > 1", "(2*n-1) * x * E[n-1] + (-(n-1)) * E[n-2]", "1/n", "Three-term recurrence")
}

// ChebyshevT is the first-kind Chebyshev polynomial T_n(x), DLMF 18.3.
func ChebyshevT() *codegen.Recurrence {
	return codegen.New("ChebyshevT", []string{"n"}, []string{"x"}).
		InNamespace("chebyshev").
		Max(codegen.At{"n": 15}).
		SciPy("scipy.special.eval_chebyt").
		Validity("n >= 0").
		Base(codegen.At{"n": 0}, "1.0").
		Base(codegen.At{"n": 1}, "x").
		Rule("n > 1", "(2) * x * E[n-1] + (-1) * E[n-2]", "", "Three-term")
}

// ChebyshevU is the second-kind Chebyshev polynomial U_n(x), DLMF
// 18.3. two_x is the precomputed doubled argument.
func ChebyshevU() *codegen.Recurrence {
	return codegen.New("ChebyshevU", []string{"n"}, []string{"x", "two_x"}).
		InNamespace("chebyshev").
		Max(codegen.At{"n": 15}).
		SciPy("scipy.special.eval_chebyu").
		Validity("n >= 0").
		Base(codegen.At{"n": 0}, "1.0").
		Base(codegen.At{"n": 1}, "two_x").
		Rule("n > 1", "two_x * E[n-1] + (-1) * E[n-2]", "", "Three-term")
}

// HermiteHe is the probabilist's Hermite polynomial He_n(x), DLMF
// 18.3.
func HermiteHe() *codegen.Recurrence {
	return codegen.New("HermiteHe", []string{"n"}, []string{"x"}).
		InNamespace("hermite_poly").
		Max(codegen.At{"n": 15}).
		SciPy("scipy.special.eval_hermite").
		Validity("n >= 0").
		Base(codegen.At{"n": 0}, "1.0").
		Base(codegen.At{"n": 1}, "x").
		Rule("n > 1", "x * E[n-1] + (-(n-1)) * E[n-2]", "", "Three-term")
}

// HermiteH is the physicist's Hermite polynomial H_n(x), DLMF 18.3.
func HermiteH() *codegen.Recurrence {
	return codegen.New("HermiteH", []string{"n"}, []string{"x", "two_x"}).
		InNamespace("hermite_poly").
		Max(codegen.At{"n": 15}).
		Validity("n >= 0").
		Base(codegen.At{"n": 0}, "1.0").
		Base(codegen.At{"n": 1}, "two_x").
		Rule("n > 1", "two_x * E[n-1] + (-2*(n-1)) * E[n-2]", "", "Three-term")
}

// Laguerre is L_n(x), DLMF 18.3. one_minus_x is 1 - x precomputed for
// the n = 1 base case.
func Laguerre() *codegen.Recurrence {
	return codegen.New("Laguerre", []string{"n"}, []string{"x", "one_minus_x"}).
		InNamespace("laguerre").
		Max(codegen.At{"n": 15}).
		SciPy("scipy.special.eval_laguerre").
		Validity("n >= 0").
		Base(codegen.At{"n": 0}, "1.0").
		Base(codegen.At{"n": 1}, "one_minus_x").
		Rule("n > 1", "(2*n-1-x) * E[n-1] + (-(n-1)) * E[n-2]", "1/n", "Three-term")
}

// AssocLegendre is the associated Legendre function P_l^m(x), DLMF
// 14.7. sqrt1mx2 is sqrt(1 - x^2) precomputed by the caller.
func AssocLegendre() *codegen.Recurrence {
	return codegen.New("AssocLegendre", []string{"l", "m"}, []string{"x", "sqrt1mx2"}).
		InNamespace("legendre").
		Max(codegen.At{"l": 10, "m": 10}).
		Validity("l >= 0", "m >= 0", "l >= m").
		Base(codegen.At{"l": 0, "m": 0}, "1.0").
		Rule("l == m && m > 0", "(-(2*m-1)) * sqrt1mx2 * E[l-1, m-1]", "", "Diagonal").
		Rule("l == m + 1", "(2*m+1) * x * E[l-1, m]", "", "First off-diagonal").
		Rule("l > m + 1", "(2*l-1) * x * E[l-1, m] + (-(l+m-1)) * E[l-2, m]",
			"1/(l-m)", "General")
}
