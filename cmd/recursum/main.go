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

// recursum compiles recurrence relation definitions into C++ template
// metaprogramming headers, SIMD dispatchers, Python bindings, and
// validation test suites.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"

	"github.com/recursum/recursum/codegen"
	"github.com/recursum/recursum/recurrences"
	"github.com/recursum/recursum/watch"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "recursum",
		Short:         "Compile recurrence relations to C++ template metaprogramming headers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(generateCmd(), listCmd(), watchCmd())
	return root
}

type generateOpts struct {
	outputDir string
	optLevel  string
	withTests bool
	only      []string
}

func (o *generateOpts) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.outputDir, "output", "o", "output", "output directory")
	cmd.Flags().StringVar(&o.optLevel, "opt", string(codegen.OptCSE),
		"optimization level: none, cse, or full")
	cmd.Flags().BoolVar(&o.withTests, "tests", true, "also emit pytest validation suites")
	cmd.Flags().StringSliceVar(&o.only, "only", nil, "restrict to the named recurrences")
}

// orchestrator builds a ready-to-run orchestrator from the flags.
func (o *generateOpts) orchestrator() (*codegen.Orchestrator, error) {
	switch codegen.OptLevel(o.optLevel) {
	case codegen.OptNone, codegen.OptCSE, codegen.OptFull:
	default:
		return nil, fmt.Errorf("unknown optimization level %q", o.optLevel)
	}
	catalog, err := recurrences.All()
	if err != nil {
		return nil, err
	}
	if len(o.only) > 0 {
		catalog, err = filterCatalog(catalog, o.only)
		if err != nil {
			return nil, err
		}
	}
	orch := codegen.NewOrchestrator(o.outputDir, catalog)
	orch.Layered = recurrences.LayeredNames(catalog)
	orch.Optimization = codegen.OptLevel(o.optLevel)
	orch.WithTests = o.withTests
	return orch, nil
}

func filterCatalog(catalog map[string][]*codegen.Recurrence, only []string) (map[string][]*codegen.Recurrence, error) {
	want := map[string]bool{}
	for _, name := range only {
		want[name] = true
	}
	out := map[string][]*codegen.Recurrence{}
	for module, recs := range catalog {
		for _, rec := range recs {
			if want[rec.Name] {
				out[module] = append(out[module], rec)
				delete(want, rec.Name)
			}
		}
	}
	if len(want) > 0 {
		missing := maps.Keys(want)
		slices.Sort(missing)
		return nil, fmt.Errorf("unknown recurrences: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func generateCmd() *cobra.Command {
	opts := &generateOpts{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate headers, dispatchers, bindings, and tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := opts.orchestrator()
			if err != nil {
				return err
			}
			if err := orch.Run(); err != nil {
				return err
			}
			fmt.Printf("Generated into %s\n", opts.outputDir)
			return nil
		},
	}
	opts.register(cmd)
	return cmd
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the recurrence catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := recurrences.All()
			if err != nil {
				return err
			}
			layered := recurrences.LayeredNames(catalog)
			modules := maps.Keys(catalog)
			slices.Sort(modules)
			for _, module := range modules {
				fmt.Printf("%s:\n", module)
				for _, rec := range catalog[module] {
					mode := "per-value"
					if layered[rec.Name] {
						mode = "layered"
					}
					fmt.Printf("  %-14s [%s]  %s, %d rules\n",
						rec.Name, strings.Join(rec.Indices, ", "), mode, len(rec.Rules))
				}
			}
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	opts := &generateOpts{}
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Regenerate whenever watched paths change",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := opts.orchestrator()
			if err != nil {
				return err
			}
			paths := args
			if len(paths) == 0 {
				paths = []string{"."}
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := watch.New(paths, orch.Run)
			w.Debounce = debounce
			err = w.Run(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
	opts.register(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce,
		"quiet period before regenerating")
	return cmd
}
