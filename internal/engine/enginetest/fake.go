// Package enginetest provides an in-memory engine for tests.
package enginetest

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"sync"
	"time"

	"github.com/jmylchreest/audex/internal/engine"
)

// ExecFunc handles one Exec call against the fake's filesystem.
type ExecFunc func(ctx context.Context, fsys *Files, args []string) error

// Files is the fake engine's filesystem.
type Files struct {
	mu    sync.Mutex
	files map[string][]byte
}

// Get returns a copy of name's contents.
func (f *Files) Get(name string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[name]
	return slices.Clone(data), ok
}

// Put stores data under name.
func (f *Files) Put(name string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files == nil {
		f.files = make(map[string][]byte)
	}
	f.files[name] = slices.Clone(data)
}

// Names returns the stored file names, sorted.
func (f *Files) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.files))
	for name := range f.files {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (f *Files) remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[name]; !ok {
		return false
	}
	delete(f.files, name)
	return true
}

// Engine is a scriptable in-memory engine.Engine.
type Engine struct {
	engine.LogStream
	Files Files

	// OnExec handles Exec. When nil, Exec succeeds and writes nothing.
	OnExec ExecFunc
	// WriteErr, if set, is returned by every WriteFile.
	WriteErr error
	// WriteDelay stalls every WriteFile, honouring ctx.
	WriteDelay time.Duration

	mu    sync.Mutex
	execs [][]string
}

// New returns an empty fake engine that handles Exec with fn.
func New(fn ExecFunc) *Engine {
	return &Engine{OnExec: fn}
}

// WriteFile implements engine.Engine.
func (e *Engine) WriteFile(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.WriteDelay > 0 {
		t := time.NewTimer(e.WriteDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if e.WriteErr != nil {
		return e.WriteErr
	}
	e.Files.Put(name, data)
	return nil
}

// Exec implements engine.Engine.
func (e *Engine) Exec(ctx context.Context, args []string) error {
	e.mu.Lock()
	e.execs = append(e.execs, slices.Clone(args))
	e.mu.Unlock()
	if e.OnExec == nil {
		return nil
	}
	return e.OnExec(ctx, &e.Files, args)
}

// ReadFile implements engine.Engine.
func (e *Engine) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := e.Files.Get(name)
	if !ok {
		return nil, fmt.Errorf("reading %s: %w", name, fs.ErrNotExist)
	}
	return data, nil
}

// DeleteFile implements engine.Engine.
func (e *Engine) DeleteFile(_ context.Context, name string) error {
	if !e.Files.remove(name) {
		return fmt.Errorf("deleting %s: %w", name, fs.ErrNotExist)
	}
	return nil
}

// Execs returns the argv of every Exec call so far.
func (e *Engine) Execs() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.execs)
}

// Info implements engine.Describer.
func (e *Engine) Info() engine.Info {
	return engine.Info{Name: "fake", Version: "test", Isolated: true}
}

// WriteOutput returns an ExecFunc that writes size bytes to the last argument
// as if it were the output file.
func WriteOutput(size int) ExecFunc {
	return func(_ context.Context, fsys *Files, args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("no arguments")
		}
		fsys.Put(args[len(args)-1], make([]byte, size))
		return nil
	}
}
