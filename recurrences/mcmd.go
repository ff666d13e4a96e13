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

package recurrences

import "github.com/recursum/recursum/codegen"

// HermiteE is the Hermite expansion coefficient E^{nA,nB}_t(PA, PB,
// aAB) of the McMurchie-Davidson scheme, following Helgaker-Taylor
// 1992 Eq. 7:
//
//	E^{i+1,j}_t = aAB E^{i,j}_{t-1} + PA E^{i,j}_t + (t+1) E^{i,j}_{t+1}
//
// At t = 0 the t-1 term drops but the E^{i,j}_1 term stays. Mixed
// angular momenta reduce through increment-i only; summing both
// reduction paths double-counts.
func HermiteE() *codegen.Recurrence {
	return codegen.New("HermiteE", []string{"nA", "nB", "t"}, []string{"PA", "PB", "aAB"}).
		InNamespace("mcmd_hermite").
		Max(codegen.At{"nA": 3, "nB": 3, "t": 6}).
		Aux("t").
		Validity("nA >= 0", "nB >= 0", "t >= 0", "t <= nA + nB").
		Base(codegen.At{"nA": 0, "nB": 0, "t": 0}, "1.0").
		Rule("nA > 0 && nB == 0 && t == 0",
			"PA * E[nA-1, 0, t] + (t + 1) * E[nA-1, 0, t+1]",
			"", "A-side t=0 (includes E_{t+1})").
		Rule("nA > 0 && nB == 0 && t > 0",
			"aAB * E[nA-1, 0, t-1] + PA * E[nA-1, 0, t] + (t + 1) * E[nA-1, 0, t+1]",
			"", "A-side t>0").
		Rule("nA == 0 && nB > 0 && t == 0",
			"PB * E[0, nB-1, t] + (t + 1) * E[0, nB-1, t+1]",
			"", "B-side t=0 (includes E_{t+1})").
		Rule("nA == 0 && nB > 0 && t > 0",
			"aAB * E[0, nB-1, t-1] + PB * E[0, nB-1, t] + (t + 1) * E[0, nB-1, t+1]",
			"", "B-side t>0").
		Rule("nA > 0 && nB > 0 && t == 0",
			"PA * E[nA-1, nB, t] + (t + 1) * E[nA-1, nB, t+1]",
			"", "General t=0 (increment-i only, includes E_{t+1})").
		Rule("nA > 0 && nB > 0 && t > 0",
			"aAB * E[nA-1, nB, t-1] + PA * E[nA-1, nB, t] + (t + 1) * E[nA-1, nB, t+1]",
			"", "General t>0 (increment-i only)")
}

// CoulombR is the Hermite Coulomb auxiliary integral
// R^{(N)}_{t,u,v}(PC, Boys) used in electron repulsion integrals. The
// base layer is the tabulated Boys function itself; each spatial
// reduction raises the auxiliary order by one, so layers carry
// headroom rather than a zero cutoff. McMurchie & Davidson, J. Comput.
// Phys. 26 (1978) 218.
func CoulombR() *codegen.Recurrence {
	return codegen.New("CoulombR", []string{"t", "u", "v", "N"},
		[]string{"PCx", "PCy", "PCz", "Boys"}).
		InNamespace("mcmd_coulomb").
		Max(codegen.At{"t": 6, "u": 6, "v": 6, "N": 6}).
		ArrayVar("Boys").
		Aux("N").
		AuxBound("t + u + v").
		Headroom(3).
		Validity("t >= 0", "u >= 0", "v >= 0", "N >= 0").
		Base(codegen.At{"t": 0, "u": 0, "v": 0}, "Boys[N]").
		Rule("t > 0",
			"PCx * E[t-1, u, v, N+1] + (t - 1) * E[t-2, u, v, N+1]",
			"", "X-recurrence").
		Rule("t == 0 && u > 0",
			"PCy * E[0, u-1, v, N+1] + (u - 1) * E[0, u-2, v, N+1]",
			"", "Y-recurrence").
		Rule("t == 0 && u == 0 && v > 0",
			"PCz * E[0, 0, v-1, N+1] + (v - 1) * E[0, 0, v-2, N+1]",
			"", "Z-recurrence")
}

// mcmdVars is the runtime parameter list shared by the E coefficient
// family. K_ab is the precomputed Gaussian prefactor
// exp(-a*b/(a+b) * Delta^2); keeping it a parameter leaves the
// recurrences themselves free of transcendental calls. ECoeff and
// EDeriv must agree on this list because EDeriv's generated code calls
// into ECoeff with its own arguments.
var mcmdVars = []string{"a", "b", "p", "P_tau", "A_tau", "B_tau", "K_ab"}

// ECoeff is the standard Gaussian overlap expansion coefficient
// E^{i,j}_t over one Cartesian component tau. Required by EDeriv;
// normalization is applied externally.
func ECoeff() *codegen.Recurrence {
	return codegen.New("E", []string{"i", "j", "t"}, mcmdVars).
		InNamespace("mcmd").
		Max(codegen.At{"i": 3, "j": 3, "t": 6}).
		Aux("t").
		Validity("i >= 0", "j >= 0", "t >= 0", "t <= i + j").
		Base(codegen.At{"i": 0, "j": 0, "t": 0}, "K_ab").
		Rule("i > 0 && t == 0",
			"(P_tau - A_tau) * E[i-1, j, t] + (t + 1.0) * E[i-1, j, t+1]",
			"", "Increment i, t=0").
		Rule("i > 0 && t > 0",
			"(0.5 / p) * E[i-1, j, t-1] + (P_tau - A_tau) * E[i-1, j, t] + (t + 1.0) * E[i-1, j, t+1]",
			"", "Increment i").
		Rule("i == 0 && j > 0 && t == 0",
			"(P_tau - B_tau) * E[i, j-1, t] + (t + 1.0) * E[i, j-1, t+1]",
			"", "Increment j, t=0").
		Rule("i == 0 && j > 0 && t > 0",
			"(0.5 / p) * E[i, j-1, t-1] + (P_tau - B_tau) * E[i, j-1, t] + (t + 1.0) * E[i, j-1, t+1]",
			"", "Increment j")
}

// EDeriv is the derivative of ECoeff with respect to the center
// separation Delta_tau = A_tau - B_tau, TeraChem SI Eqs. S4-S7. Its
// rules reference both itself and the non-derivative ECoeff, wired
// through CrossRef so generated code resolves E[...] to the ECoeff
// structs.
func EDeriv(e *codegen.Recurrence) *codegen.Recurrence {
	return codegen.New("E_deriv", []string{"i", "j", "t"}, mcmdVars).
		InNamespace("mcmd").
		Max(codegen.At{"i": 3, "j": 3, "t": 7}).
		Symbol("E_deriv").
		CrossRef("E", e).
		Aux("t").
		Validity("i >= 0", "j >= 0", "t >= 0", "t <= i + j").
		Base(codegen.At{"i": 0, "j": 0, "t": 0}, "2.0 * a * (P_tau - A_tau) * K_ab").
		Rule("i > 0 && t == 0",
			"(-(b / (a + b))) * E[i-1, j, t] + "+
				"(P_tau - A_tau) * E_deriv[i-1, j, t] + (t + 1.0) * E_deriv[i-1, j, t+1]",
			"", "Increment i, t=0 (Eq S4)").
		Rule("i > 0 && t > 0",
			"(0.5 / p) * E_deriv[i-1, j, t-1] + (-(b / (a + b))) * E[i-1, j, t] + "+
				"(P_tau - A_tau) * E_deriv[i-1, j, t] + (t + 1.0) * E_deriv[i-1, j, t+1]",
			"", "Increment i (Eq S4)").
		Rule("i == 0 && j > 0 && t == 0",
			"(a / (a + b)) * E[i, j-1, t] + "+
				"(P_tau - B_tau) * E_deriv[i, j-1, t] + (t + 1.0) * E_deriv[i, j-1, t+1]",
			"", "Increment j, t=0 (Eq S5)").
		Rule("i == 0 && j > 0 && t > 0",
			"(0.5 / p) * E_deriv[i, j-1, t-1] + (a / (a + b)) * E[i, j-1, t] + "+
				"(P_tau - B_tau) * E_deriv[i, j-1, t] + (t + 1.0) * E_deriv[i, j-1, t+1]",
			"", "Increment j (Eq S5)")
}
