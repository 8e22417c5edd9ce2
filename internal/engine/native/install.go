package native

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/jmylchreest/audex/internal/engine"
	"github.com/jmylchreest/audex/internal/ffmpeg"
	"github.com/jmylchreest/audex/internal/observability"
	"github.com/jmylchreest/audex/internal/storage"
)

// Sandbox subdirectories used by the engine.
const (
	BinDir  = "bin"
	WorkDir = "vfs"
)

// ErrChecksumMismatch is returned when the binary does not match the manifest digest.
var ErrChecksumMismatch = errors.New("engine binary checksum mismatch")

// Options configures engine installation.
type Options struct {
	Sandbox *storage.Sandbox
	// MemoryLimit is the RSS ceiling for one Exec, in bytes. Zero disables it.
	MemoryLimit uint64
	// MaxBinarySize caps the decompressed binary. Zero disables the cap.
	MaxBinarySize int64
	// RequiredLibraries must appear as --enable-<lib> in the build configuration.
	RequiredLibraries []string
	// ProbeTimeout bounds the -version probe. Defaults to 15s.
	ProbeTimeout time.Duration
	Logger       *slog.Logger

	// probe replaces ffmpeg.ProbeVersion in tests.
	probe func(ctx context.Context, binary string) (ffmpeg.VersionInfo, error)
}

// NewInitializer returns an engine.Initializer that installs the fetched
// binary into the sandbox and verifies it runs.
func NewInitializer(opts Options) engine.Initializer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 15 * time.Second
	}
	if opts.probe == nil {
		opts.probe = ffmpeg.ProbeVersion
	}
	return opts.install
}

func (o Options) install(ctx context.Context, artifacts engine.Artifacts) (engine.Engine, error) {
	logger := observability.WithComponent(o.Logger, "engine_installer")

	manifest, err := ParseManifest(artifacts.Manifest)
	if err != nil {
		return nil, err
	}

	binary, err := Decompress(artifacts.Binary, manifest.Binary.Compression, o.MaxBinarySize)
	if err != nil {
		return nil, err
	}
	if want := manifest.Binary.SHA256; want != "" {
		sum := sha256.Sum256(binary)
		if got := hex.EncodeToString(sum[:]); got != want {
			return nil, fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, got, want)
		}
	}
	if want := manifest.Binary.Size; want > 0 && int64(len(binary)) != want {
		return nil, fmt.Errorf("engine binary is %d bytes, manifest says %d", len(binary), want)
	}

	name := manifest.Name
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	relPath := BinDir + "/" + name
	if err := o.Sandbox.AtomicWrite(relPath, binary); err != nil {
		return nil, fmt.Errorf("installing engine binary: %w", err)
	}
	if err := o.Sandbox.Chmod(relPath, 0o755); err != nil { //nolint:gosec // must be executable
		return nil, err
	}
	binPath, err := o.Sandbox.ResolvePath(relPath)
	if err != nil {
		return nil, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, o.ProbeTimeout)
	defer cancel()
	version, err := o.probe(probeCtx, binPath)
	if err != nil {
		return nil, fmt.Errorf("probing engine binary: %w", err)
	}
	if err := o.checkVersion(manifest, version); err != nil {
		return nil, err
	}

	if err := o.Sandbox.MkdirAll(WorkDir); err != nil {
		return nil, err
	}
	workdir, err := o.Sandbox.SubSandbox(WorkDir)
	if err != nil {
		return nil, err
	}
	// Leftovers from a previous process would collide with job names.
	if n, err := workdir.Clear("."); err != nil {
		logger.Warn("failed to clear engine work directory", slog.String("error", err.Error()))
	} else if n > 0 {
		logger.Info("cleared stale engine files", slog.Int("count", n))
	}

	logger.Info("engine installed",
		slog.String("version", version.Full),
		slog.String("binary", binPath),
		slog.Int("size", len(binary)),
	)

	return &Engine{
		binary:      binPath,
		fsys:        workdir,
		memoryLimit: o.MemoryLimit,
		version:     version,
		mirror:      artifacts.Mirror,
		logger:      observability.WithComponent(o.Logger, "engine"),
	}, nil
}

func (o Options) checkVersion(m *Manifest, v ffmpeg.VersionInfo) error {
	major, minor, err := m.MinVersion()
	if err != nil {
		return err
	}
	if !v.SupportsMinVersion(major, minor) {
		return fmt.Errorf("engine version %s is older than required %d.%d", v.Full, major, minor)
	}
	libs := append(append([]string(nil), m.Requires.Libraries...), o.RequiredLibraries...)
	for _, lib := range libs {
		if !v.HasLibrary(lib) {
			return fmt.Errorf("engine build lacks %s", lib)
		}
	}
	return nil
}
