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

import (
	"go.uber.org/multierr"

	"github.com/recursum/recursum/codegen"
)

// All builds the full catalog, grouped the way generated files are
// grouped on disk. Definition errors across the catalog are combined
// into one.
func All() (map[string][]*codegen.Recurrence, error) {
	e := ECoeff()
	catalog := map[string][]*codegen.Recurrence{
		"orthogonal": {
			Hermite(),
			Legendre(),
			ChebyshevT(),
			ChebyshevU(),
			HermiteHe(),
			HermiteH(),
			Laguerre(),
			AssocLegendre(),
		},
		"mcmd": {
			HermiteE(),
			CoulombR(),
			e,
			EDeriv(e),
		},
	}
	var err error
	for _, group := range catalog {
		for _, rec := range group {
			err = multierr.Append(err, rec.Err())
		}
	}
	return catalog, err
}

// LayeredNames lists the recurrences that declare an auxiliary index,
// which the orchestrator emits with the layered generator.
func LayeredNames(catalog map[string][]*codegen.Recurrence) map[string]bool {
	layered := map[string]bool{}
	for _, group := range catalog {
		for _, rec := range group {
			if rec.AuxIndex != "" {
				layered[rec.Name] = true
			}
		}
	}
	return layered
}
