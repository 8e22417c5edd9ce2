// Package extract turns large media files into small audio files using a
// shared codec engine: copy the audio stream when possible, otherwise
// re-encode it to low-bitrate mono MP3.
package extract

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/audex/internal/diagnostics"
	"github.com/jmylchreest/audex/internal/engine"
	"github.com/jmylchreest/audex/internal/observability"
	"github.com/jmylchreest/audex/internal/progress"
)

// EngineProvider hands out the shared engine. *engine.Loader implements it.
type EngineProvider interface {
	Get(ctx context.Context, onProgress progress.Func) (engine.Engine, error)
	Preload(ctx context.Context) error
	Loaded() bool
}

// SupportFunc returns nil when extraction can run on this host, or an error
// describing why it cannot.
type SupportFunc func(ctx context.Context) error

// EnvironmentFunc collects host and engine facts for diagnostics.
type EnvironmentFunc func(ctx context.Context, eng engine.Engine) diagnostics.Environment

// Service runs extraction jobs one at a time against a shared engine.
type Service struct {
	policy      Policy
	engines     EngineProvider
	queue       *Queue
	support     SupportFunc
	environment EnvironmentFunc
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSupportCheck sets the capability check run before every job.
func WithSupportCheck(fn SupportFunc) Option {
	return func(s *Service) {
		if fn != nil {
			s.support = fn
		}
	}
}

// WithEnvironment overrides how diagnostics describe the host.
func WithEnvironment(fn EnvironmentFunc) Option {
	return func(s *Service) {
		if fn != nil {
			s.environment = fn
		}
	}
}

// WithClock overrides the time source used for stage timings.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a service and starts its job queue.
func NewService(policy Policy, engines EngineProvider, opts ...Option) *Service {
	s := &Service{
		policy:      policy,
		engines:     engines,
		support:     func(context.Context) error { return nil },
		environment: diagnostics.CollectEnvironment,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = observability.WithComponent(s.logger, "extract")
	s.queue = NewQueue(s.logger)
	return s
}

// ExtractAudio extracts the audio track of src. Jobs run strictly one after
// another in submission order; ExtractAudio blocks until this one is done.
//
// Failures are *Error values whose Kind names the failure.
func (s *Service) ExtractAudio(ctx context.Context, src Source, opts Options) (*Result, error) {
	if src == nil {
		return nil, errors.New("extract: nil source")
	}
	if err := s.support(ctx); err != nil {
		s.logger.Warn("extraction not supported", slog.String("error", err.Error()))
		return nil, newError(KindUnsupported, "", err)
	}
	if opts.JobID == "" {
		opts.JobID = ulid.Make().String()
	}

	var res *Result
	err := s.queue.Submit(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.newJob(src, opts).run(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// PreloadEngine starts loading the engine ahead of the first job.
func (s *Service) PreloadEngine(ctx context.Context) error {
	return s.engines.Preload(ctx)
}

// IsEngineLoaded reports whether the engine is ready.
func (s *Service) IsEngineLoaded() bool {
	return s.engines.Loaded()
}

// ShouldExtractAudio reports whether src is large enough to be worth extracting.
func (s *Service) ShouldExtractAudio(src Source) bool {
	return src != nil && s.policy.ShouldExtract(src.Size())
}

// IsExtractionSupported reports whether this host can run extractions.
func (s *Service) IsExtractionSupported(ctx context.Context) bool {
	return s.support(ctx) == nil
}

// CheckSupport returns why this host cannot run extractions, or nil.
func (s *Service) CheckSupport(ctx context.Context) error {
	return s.support(ctx)
}

// Policy returns the service's policy.
func (s *Service) Policy() Policy {
	return s.policy
}

// QueueDepth returns the number of jobs waiting behind the running one.
func (s *Service) QueueDepth() int {
	return s.queue.Len()
}

// Busy reports whether a job is running.
func (s *Service) Busy() bool {
	return s.queue.Busy()
}

// Close rejects waiting jobs and waits for the running one.
func (s *Service) Close() {
	s.queue.Close()
}

// FormatDiagnosticsReport renders a report as plain text.
func FormatDiagnosticsReport(r *diagnostics.Report) string {
	return diagnostics.Format(r)
}
