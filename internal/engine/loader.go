package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/audex/internal/observability"
	"github.com/jmylchreest/audex/internal/progress"
)

// Progress bands of the loading stage.
const (
	downloadPercentMax  = 90
	initializingPercent = 95
	readyPercent        = 100
)

// State is the lifecycle state of a Loader.
type State int

// Loader states.
const (
	StateUninitialized State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Artifacts are the two files fetched from a mirror.
type Artifacts struct {
	Mirror   string
	Manifest []byte
	Binary   []byte
}

// Fetcher downloads a single artifact. onProgress receives bytes received so
// far and the expected total, or -1 when the total is unknown. A missing
// artifact must be reported as an error wrapping ErrArtifactNotFound.
type Fetcher interface {
	Fetch(ctx context.Context, url string, onProgress func(received, total int64)) ([]byte, error)
}

// Initializer turns fetched artifacts into a ready engine.
type Initializer func(ctx context.Context, artifacts Artifacts) (Engine, error)

// LoaderConfig configures mirror selection and timeouts.
type LoaderConfig struct {
	// Mirrors are base URLs tried in order. {os} and {arch} are substituted.
	Mirrors      []string
	ManifestName string
	BinaryName   string
	// MirrorTimeout bounds one mirror's download; LoadTimeout bounds the whole load.
	MirrorTimeout time.Duration
	LoadTimeout   time.Duration
	// Size estimates used when a mirror omits Content-Length.
	EstimatedManifestSize int64
	EstimatedBinarySize   int64
}

// Loader brings up exactly one engine and hands it to every caller.
//
// Concurrent callers during a load share the in-flight attempt. A failed load
// leaves the loader uninitialized so the next call starts over.
type Loader struct {
	cfg        LoaderConfig
	fetcher    Fetcher
	initialize Initializer
	logger     *slog.Logger
	broadcast  *progress.Broadcaster

	mu       sync.Mutex
	engine   Engine
	mirror   string
	inflight *loadCall

	// progressMu serialises listener delivery from the two download goroutines.
	progressMu  sync.Mutex
	highPercent int
}

type loadCall struct {
	done   chan struct{}
	engine Engine
	err    error
}

// NewLoader creates a loader.
func NewLoader(cfg LoaderConfig, fetcher Fetcher, initialize Initializer, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithComponent(logger, "engine_loader")
	return &Loader{
		cfg:        cfg,
		fetcher:    fetcher,
		initialize: initialize,
		logger:     logger,
		broadcast:  progress.NewBroadcaster(logger),
	}
}

// Get returns the loaded engine, loading it first if necessary. onProgress
// receives loading-stage events from the moment it is registered until the
// load finishes.
//
// The load itself runs under the loader's own deadline, so cancelling ctx only
// stops this caller from waiting.
func (l *Loader) Get(ctx context.Context, onProgress progress.Func) (Engine, error) {
	l.mu.Lock()
	if l.engine != nil {
		eng := l.engine
		l.mu.Unlock()
		return eng, nil
	}

	unsubscribe := l.broadcast.Subscribe(onProgress)
	call := l.inflight
	if call == nil {
		call = &loadCall{done: make(chan struct{})}
		l.inflight = call
		go l.run(call)
	}
	l.mu.Unlock()

	select {
	case <-call.done:
		unsubscribe()
		return call.engine, call.err
	case <-ctx.Done():
		unsubscribe()
		return nil, ctx.Err()
	}
}

// Preload starts a load if none has happened and waits for it.
func (l *Loader) Preload(ctx context.Context) error {
	_, err := l.Get(ctx, nil)
	return err
}

// Loaded reports whether an engine is ready.
func (l *Loader) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine != nil
}

// State returns the loader's lifecycle state.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.engine != nil:
		return StateReady
	case l.inflight != nil:
		return StateLoading
	default:
		return StateUninitialized
	}
}

// Mirror returns the mirror the engine was loaded from, or "" if not loaded.
func (l *Loader) Mirror() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mirror
}

func (l *Loader) run(call *loadCall) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.LoadTimeout)
	defer cancel()

	var err error
	done := observability.TimedOperationWithError(ctx, l.logger, "load_engine", &err)
	eng, mirror, err := l.load(ctx)
	done()

	l.mu.Lock()
	// Cleared under the lock so a retry that starts right after cannot lose its listeners.
	l.broadcast.Clear()
	if err == nil {
		l.engine = eng
		l.mirror = mirror
	}
	l.inflight = nil
	l.mu.Unlock()

	call.engine, call.err = eng, err
	close(call.done)
}

func (l *Loader) load(ctx context.Context) (Engine, string, error) {
	l.progressMu.Lock()
	l.highPercent = 0
	l.progressMu.Unlock()

	var failures []MirrorFailure
	total := len(l.cfg.Mirrors)

	for i, raw := range l.cfg.Mirrors {
		if ctx.Err() != nil {
			break
		}
		base := ResolveMirror(raw)
		logger := l.logger.With(slog.String("mirror", observability.SanitizeURL(base)))

		l.notify(0, fmt.Sprintf("Downloading engine (mirror %d/%d)", i+1, total))

		eng, kind, err := l.tryMirror(ctx, base)
		if err == nil {
			l.notify(readyPercent, "Engine ready")
			logger.Info("engine loaded", slog.Int("attempt", i+1))
			return eng, base, nil
		}
		failures = append(failures, MirrorFailure{Mirror: base, Kind: kind, Err: err})
		logger.Warn("engine mirror failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		l.notify(0, fmt.Sprintf("Mirror %d/%d failed (%s)", i+1, total, kind))
	}

	return nil, "", newLoadError(failures, ctx.Err() != nil)
}

// tryMirror downloads from base under the per-mirror timeout, then
// initializes under the load context. Only the download counts against
// MirrorTimeout.
func (l *Loader) tryMirror(ctx context.Context, base string) (Engine, FailureKind, error) {
	mirrorCtx, cancel := context.WithTimeout(ctx, l.cfg.MirrorTimeout)
	artifacts, err := l.fetchMirror(mirrorCtx, base)
	kind := classifyFailure(mirrorCtx, err)
	cancel()
	if err != nil {
		return nil, kind, err
	}

	l.notify(initializingPercent, "Initializing engine")
	eng, err := l.initialize(ctx, artifacts)
	if err != nil {
		return nil, classifyFailure(ctx, err), fmt.Errorf("initializing engine: %w", err)
	}
	return eng, "", nil
}

// fetchMirror downloads both artifacts in parallel. The first failure cancels the other.
func (l *Loader) fetchMirror(ctx context.Context, base string) (Artifacts, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	meter := newDownloadMeter(l.cfg.EstimatedManifestSize, l.cfg.EstimatedBinarySize, func(pct int) {
		l.notify(pct, fmt.Sprintf("Downloading engine (%d%%)", pct))
	})

	var (
		wg       sync.WaitGroup
		data     [2][]byte
		errOnce  sync.Once
		firstErr error
	)
	names := [2]string{l.cfg.ManifestName, l.cfg.BinaryName}
	for i, name := range names {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			body, err := l.fetcher.Fetch(ctx, url, func(received, total int64) {
				meter.update(i, received, total)
			})
			if err != nil {
				// Only the first failure counts; the other fetch sees our cancel.
				errOnce.Do(func() {
					firstErr = fmt.Errorf("fetching %s: %w", names[i], err)
					cancel()
				})
				return
			}
			data[i] = body
		}(i, ArtifactURL(base, name))
	}
	wg.Wait()

	if firstErr != nil {
		return Artifacts{}, firstErr
	}
	return Artifacts{Mirror: base, Manifest: data[0], Binary: data[1]}, nil
}

// notify broadcasts a loading-stage event. Percent never drops below what
// listeners have already seen during this load.
func (l *Loader) notify(percent int, message string) {
	l.progressMu.Lock()
	defer l.progressMu.Unlock()
	if percent < l.highPercent {
		percent = l.highPercent
	}
	l.highPercent = percent
	l.broadcast.Notify(progress.Event{Stage: progress.StageLoading, Percent: percent, Message: message})
}

// downloadMeter combines the byte progress of both artifacts into one
// percentage in [0, downloadPercentMax].
type downloadMeter struct {
	mu        sync.Mutex
	received  [2]int64
	total     [2]int64
	estimates [2]int64
	last      int
	report    func(int)
}

func newDownloadMeter(manifestEstimate, binaryEstimate int64, report func(int)) *downloadMeter {
	return &downloadMeter{
		estimates: [2]int64{manifestEstimate, binaryEstimate},
		total:     [2]int64{manifestEstimate, binaryEstimate},
		last:      -1,
		report:    report,
	}
}

func (m *downloadMeter) update(i int, received, total int64) {
	m.mu.Lock()
	m.received[i] = received
	switch {
	case total > 0:
		m.total[i] = total
	case received > m.estimates[i]:
		// Past the estimate with no length header; assume we are nearly done.
		m.total[i] = received + received/10
	}

	var sumReceived, sumTotal int64
	for j := range m.received {
		sumReceived += m.received[j]
		sumTotal += m.total[j]
	}
	pct := 0
	if sumTotal > 0 {
		pct = int(sumReceived * downloadPercentMax / sumTotal)
	}
	if pct > downloadPercentMax {
		pct = downloadPercentMax
	}
	changed := pct > m.last
	if changed {
		m.last = pct
	}
	m.mu.Unlock()

	if changed {
		m.report(pct)
	}
}

// ResolveMirror substitutes {os} and {arch} in a mirror URL.
func ResolveMirror(raw string) string {
	return strings.NewReplacer("{os}", runtime.GOOS, "{arch}", runtime.GOARCH).Replace(raw)
}

// ArtifactURL joins a mirror base URL and an artifact name.
func ArtifactURL(base, name string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(name, "/")
}
