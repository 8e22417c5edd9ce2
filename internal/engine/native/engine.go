package native

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jmylchreest/audex/internal/engine"
	"github.com/jmylchreest/audex/internal/ffmpeg"
	"github.com/jmylchreest/audex/internal/observability"
	"github.com/jmylchreest/audex/internal/storage"
)

// oomMarkers are stderr fragments ffmpeg prints when allocation fails.
var oomMarkers = []string{
	"Cannot allocate memory",
	"Out of memory",
	"out of memory",
}

// Engine is an engine.Engine backed by an installed ffmpeg binary. Its
// filesystem is a sandbox directory used as ffmpeg's working directory.
type Engine struct {
	engine.LogStream

	binary      string
	fsys        *storage.Sandbox
	memoryLimit uint64
	version     ffmpeg.VersionInfo
	mirror      string
	logger      *slog.Logger
}

var _ engine.Engine = (*Engine)(nil)

// WriteFile implements engine.Engine.
func (e *Engine) WriteFile(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkName(name); err != nil {
		return err
	}
	return e.fsys.WriteFile(name, data)
}

// ReadFile implements engine.Engine.
func (e *Engine) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkName(name); err != nil {
		return nil, err
	}
	return e.fsys.ReadFile(name)
}

// DeleteFile implements engine.Engine.
func (e *Engine) DeleteFile(_ context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	return e.fsys.Remove(name)
}

// Exec implements engine.Engine. It runs ffmpeg in the engine directory,
// forwarding every stderr line to log listeners.
func (e *Engine) Exec(ctx context.Context, args []string) error {
	argv := append([]string{"-hide_banner", "-nostdin", "-y"}, args...)
	cmd := ffmpeg.NewCommand(e.binary, argv)
	cmd.Dir = e.fsys.BaseDir()
	cmd.OnStderr = e.Emit
	cmd.MemoryLimit = e.memoryLimit

	e.logger.Debug("executing engine command", slog.String("args", strings.Join(args, " ")))
	err := cmd.Run(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, ffmpeg.ErrMemoryLimit) || mentionsOOM(cmd.StderrLines()) {
		return fmt.Errorf("%w: %w", engine.ErrOutOfMemory, err)
	}
	return err
}

// Info implements engine.Describer.
func (e *Engine) Info() engine.Info {
	details := map[string]string{
		"binary":  e.binary,
		"workdir": e.fsys.BaseDir(),
	}
	if e.memoryLimit > 0 {
		details["memory_limit"] = strconv.FormatUint(e.memoryLimit, 10)
	}
	if e.version.Compiler != "" {
		details["compiler"] = e.version.Compiler
	}
	return engine.Info{
		Name:     "ffmpeg",
		Version:  e.version.Full,
		Mirror:   observability.SanitizeURL(e.mirror),
		Isolated: true,
		Details:  details,
	}
}

// Version returns the probed ffmpeg version.
func (e *Engine) Version() ffmpeg.VersionInfo {
	return e.version
}

// checkName allows only plain file names, keeping every job file directly in
// the engine directory.
func checkName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid engine file name %q", name)
	}
	return nil
}

func mentionsOOM(lines []string) bool {
	for _, line := range lines {
		for _, marker := range oomMarkers {
			if strings.Contains(line, marker) {
				return true
			}
		}
	}
	return false
}
