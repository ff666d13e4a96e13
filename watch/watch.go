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

// Package watch reruns a rebuild function when watched files change.
// Bursts of filesystem events collapse into one rebuild: every event
// resets a debounce timer and the rebuild runs only when the timer
// fires.
package watch

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// DefaultDebounce is the quiet period required before a rebuild.
const DefaultDebounce = 250 * time.Millisecond

// Watcher triggers OnChange after changes under Paths settle.
type Watcher struct {
	Paths    []string
	Debounce time.Duration
	Log      io.Writer

	// OnChange runs after each settled burst of events. A failed
	// rebuild is logged and watching continues.
	OnChange func() error
}

// New builds a watcher over paths with the default debounce interval.
func New(paths []string, onChange func() error) *Watcher {
	return &Watcher{
		Paths:    paths,
		Debounce: DefaultDebounce,
		Log:      os.Stderr,
		OnChange: onChange,
	}
}

// Run watches until the context is cancelled. The first rebuild runs
// immediately so the outputs start in sync with the inputs.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating filesystem watcher")
	}
	defer fw.Close()

	for _, p := range w.Paths {
		if err := fw.Add(p); err != nil {
			return errors.Wrapf(err, "watching %s", p)
		}
	}

	w.rebuild()

	timer := time.NewTimer(w.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename) {
				continue
			}
			timer.Reset(w.Debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(w.Log, "watch error: %v\n", err)
		case <-timer.C:
			w.rebuild()
		}
	}
}

func (w *Watcher) rebuild() {
	if err := w.OnChange(); err != nil {
		fmt.Fprintf(w.Log, "rebuild failed: %v\n", err)
		return
	}
	fmt.Fprintf(w.Log, "rebuilt at %s\n", time.Now().Format(time.TimeOnly))
}
