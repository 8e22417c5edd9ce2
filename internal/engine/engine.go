// Package engine brings up the external codec engine and defines the narrow
// capability interface the extraction pipeline drives it through.
package engine

import (
	"context"
	"errors"
	"sync"
)

// ErrOutOfMemory is returned by Exec when the host signals memory pressure.
var ErrOutOfMemory = errors.New("engine out of memory")

// Engine is a codec engine with a private, sandboxed filesystem.
//
// The filesystem is a single namespace shared by every caller, so callers
// must serialise jobs that use it.
type Engine interface {
	// WriteFile stores data under name in the engine filesystem.
	WriteFile(ctx context.Context, name string, data []byte) error
	// Exec runs one engine command with the given argv.
	Exec(ctx context.Context, args []string) error
	// ReadFile returns the contents of name.
	ReadFile(ctx context.Context, name string) ([]byte, error)
	// DeleteFile removes name. Implementations return an error wrapping
	// fs.ErrNotExist when the file is absent.
	DeleteFile(ctx context.Context, name string) error
	// OnLog registers fn for every log line the engine emits.
	OnLog(fn LogFunc) (unsubscribe func())
}

// LogFunc receives one engine log line.
type LogFunc func(line string)

// Info describes a loaded engine for diagnostics.
type Info struct {
	Name     string            `json:"name"`
	Version  string            `json:"version"`
	Mirror   string            `json:"mirror,omitempty"`
	Isolated bool              `json:"isolated"`
	Details  map[string]string `json:"details,omitempty"`
}

// Describer is implemented by engines that can describe themselves.
type Describer interface {
	Info() Info
}

// LogStream is a registry of log listeners that engine implementations embed
// to satisfy OnLog.
type LogStream struct {
	mu     sync.RWMutex
	nextID uint64
	fns    map[uint64]LogFunc
}

// OnLog registers fn and returns a func that removes it.
func (s *LogStream) OnLog(fn LogFunc) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	if s.fns == nil {
		s.fns = make(map[uint64]LogFunc)
	}
	s.nextID++
	id := s.nextID
	s.fns[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

// Emit delivers line to every registered listener.
func (s *LogStream) Emit(line string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fn := range s.fns {
		fn(line)
	}
}

// Listeners returns the number of registered listeners.
func (s *LogStream) Listeners() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fns)
}
