package extract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmylchreest/audex/internal/diagnostics"
	"github.com/jmylchreest/audex/internal/engine"
	"github.com/jmylchreest/audex/internal/ffmpeg"
	"github.com/jmylchreest/audex/internal/observability"
	"github.com/jmylchreest/audex/internal/progress"
)

// Overall progress bands per stage, in percent. Loading reports on its own 0-100 scale.
const (
	readingEnd     = 20
	writingEnd     = 30
	copyEnd        = 60
	reencodeEnd    = 90
	finalizingEnd  = 100
	cleanupTimeout = 10 * time.Second
)

// stageClock hands out consecutive, non-overlapping intervals so that the
// stage timings add up to the total.
type stageClock struct {
	now  func() time.Time
	last time.Time
}

func (c *stageClock) lap() time.Duration {
	t := c.now()
	d := t.Sub(c.last)
	c.last = t
	if d < 0 {
		return 0
	}
	return d
}

// job is one run of the pipeline. It is only touched by the queue's consumer.
type job struct {
	s       *Service
	id      string
	src     Source
	opts    Options
	logger  *slog.Logger
	tracker *progress.Tracker
	clock   stageClock
	timings Timings

	eng       engine.Engine
	collector *diagnostics.Collector
	stage     progress.Stage

	inputName    string
	copyName     string
	reencodeName string
	cleaned      bool

	copyAttempted bool
	copySucceeded bool
	mode          Mode
	outputSize    int
}

func (s *Service) newJob(src Source, opts Options) *job {
	ext := inputExtension(src.Name())
	prefix := "job-" + strings.ToLower(opts.JobID)
	return &job{
		s:            s,
		id:           opts.JobID,
		src:          src,
		opts:         opts,
		logger:       observability.WithJob(s.logger, opts.JobID),
		tracker:      progress.NewTracker(opts.OnProgress),
		clock:        stageClock{now: s.now, last: s.now()},
		inputName:    prefix + "-input" + ext,
		copyName:     prefix + "-output" + ModeCopy.Extension(),
		reencodeName: prefix + "-output" + ModeReencode.Extension(),
	}
}

func (j *job) run(ctx context.Context) (*Result, error) {
	j.logger.Info("extraction started",
		slog.String("file", j.src.Name()),
		slog.Int64("size", j.src.Size()),
		slog.String("type", j.src.Type()),
	)

	// Loading is bounded by the loader's own timeouts, not the job's.
	j.stage = progress.StageLoading
	eng, err := j.s.engines.Get(ctx, func(ev progress.Event) { j.tracker.Forward(ev) })
	j.timings.EngineLoad += j.clock.lap()
	if err != nil {
		return nil, j.fail(ctx, loadError(err))
	}
	j.eng = eng
	if stage, pct := j.tracker.Last(); stage != progress.StageLoading || pct < 100 {
		j.tracker.Report(progress.StageLoading, 100, "Engine ready")
	}

	if j.opts.EnableDiagnostics {
		j.collector = diagnostics.NewCollector(j.s.policy.DiagnosticsLines)
		detach := j.collector.Attach(eng)
		defer detach()
	}

	timeout := j.opts.Timeout
	if timeout <= 0 {
		timeout = j.s.policy.Timeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer j.cleanup()

	data, err := j.read(jobCtx)
	if err != nil {
		return nil, j.fail(jobCtx, err)
	}
	if err := j.write(jobCtx, data); err != nil {
		return nil, j.fail(jobCtx, err)
	}

	output, err := j.tryCopy(jobCtx)
	if err != nil {
		return nil, j.fail(jobCtx, err)
	}
	if output == nil {
		if output, err = j.reencode(jobCtx); err != nil {
			return nil, j.fail(jobCtx, err)
		}
	}

	return j.finalize(jobCtx, output)
}

// enter moves to stage, failing if the job's time budget is already spent.
func (j *job) enter(ctx context.Context, stage progress.Stage) error {
	j.stage = stage
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return newError(KindExtractionTimeout, stage, err)
		}
		return err
	}
	return nil
}

func (j *job) read(ctx context.Context) ([]byte, error) {
	if err := j.enter(ctx, progress.StageReading); err != nil {
		return nil, err
	}
	j.tracker.Report(progress.StageReading, 0, "Reading file")
	data, err := ReadWithProgress(ctx, j.src, j.s.policy.ChunkSize, func(pct int) {
		j.tracker.Report(progress.StageReading, pct*readingEnd/100, fmt.Sprintf("Reading file (%d%%)", pct))
	})
	j.timings.FileRead += j.clock.lap()
	return data, err
}

func (j *job) write(ctx context.Context, data []byte) error {
	if err := j.enter(ctx, progress.StageWriting); err != nil {
		return err
	}
	j.tracker.Report(progress.StageWriting, readingEnd, "Preparing file")
	err := j.eng.WriteFile(ctx, j.inputName, data)
	j.timings.FileWrite += j.clock.lap()
	if err != nil {
		return fmt.Errorf("writing input to engine: %w", err)
	}
	j.tracker.Report(progress.StageWriting, writingEnd, "File ready")
	return nil
}

// tryCopy remuxes the audio stream as-is. A nil result with a nil error
// means the copy did not work and re-encoding should be tried.
func (j *job) tryCopy(ctx context.Context) ([]byte, error) {
	if err := j.enter(ctx, progress.StageCopyAttempt); err != nil {
		return nil, err
	}
	j.tracker.Report(progress.StageCopyAttempt, writingEnd, "Extracting audio")
	j.copyAttempted = true

	args := ffmpeg.NewCommandBuilder().
		Input(j.inputName).
		NoVideo().
		AudioCodec("copy").
		Output(j.copyName).
		Args()
	err := j.eng.Exec(ctx, args)
	j.timings.CopyAttempt += j.clock.lap()
	if err != nil {
		if fatal := fatalEngineError(ctx, err); fatal != nil {
			return nil, fatal
		}
		j.logger.Info("audio copy failed, re-encoding", slog.String("error", err.Error()))
		return nil, nil
	}

	data, err := j.eng.ReadFile(ctx, j.copyName)
	j.timings.OutputRead += j.clock.lap()
	if err != nil {
		if fatal := fatalEngineError(ctx, err); fatal != nil {
			return nil, fatal
		}
		j.logger.Info("audio copy produced no output, re-encoding", slog.String("error", err.Error()))
		return nil, nil
	}
	if int64(len(data)) <= j.s.policy.MinOutputBytes {
		j.logger.Info("audio copy output too small, re-encoding", slog.Int("size", len(data)))
		return nil, nil
	}

	j.copySucceeded = true
	j.mode = ModeCopy
	j.tracker.Report(progress.StageCopyAttempt, copyEnd, "Audio extracted")
	return data, nil
}

func (j *job) reencode(ctx context.Context) ([]byte, error) {
	if err := j.enter(ctx, progress.StageReencode); err != nil {
		return nil, err
	}
	j.tracker.Report(progress.StageReencode, copyEnd, "Re-encoding audio")

	p := j.s.policy
	args := ffmpeg.NewCommandBuilder().
		Input(j.inputName).
		NoVideo().
		AudioCodec(p.ReencodeCodec).
		AudioBitrate(p.ReencodeBitrate).
		AudioSampleRate(p.ReencodeSampleRate).
		AudioChannels(p.ReencodeChannels).
		Output(j.reencodeName).
		Args()
	err := j.eng.Exec(ctx, args)
	j.timings.Reencode += j.clock.lap()
	if err != nil {
		if fatal := fatalEngineError(ctx, err); fatal != nil {
			return nil, fatal
		}
		return nil, newError(KindInvalidOutput, progress.StageReencode, fmt.Errorf("re-encode failed: %w", err))
	}

	data, err := j.eng.ReadFile(ctx, j.reencodeName)
	j.timings.OutputRead += j.clock.lap()
	if err != nil {
		if fatal := fatalEngineError(ctx, err); fatal != nil {
			return nil, fatal
		}
		return nil, newError(KindInvalidOutput, progress.StageReencode, fmt.Errorf("reading re-encoded output: %w", err))
	}
	if int64(len(data)) < p.MinOutputBytes {
		return nil, newError(KindInvalidOutput, progress.StageReencode,
			fmt.Errorf("re-encoded output is %d bytes, need at least %d", len(data), p.MinOutputBytes))
	}

	j.mode = ModeReencode
	j.tracker.Report(progress.StageReencode, reencodeEnd, "Audio re-encoded")
	return data, nil
}

func (j *job) finalize(ctx context.Context, output []byte) (*Result, error) {
	if err := j.enter(ctx, progress.StageFinalizing); err != nil {
		return nil, j.fail(ctx, err)
	}
	j.tracker.Report(progress.StageFinalizing, reencodeEnd, "Finalizing")
	j.cleanup()
	j.outputSize = len(output)
	j.timings.OutputRead += j.clock.lap()
	j.timings.Total = j.timings.Sum()

	res := &Result{
		JobID: j.id,
		Output: File{
			Name: OutputName(j.src.Name(), j.mode),
			Type: j.mode.MIMEType(),
			Data: output,
		},
		OriginalFilename: j.src.Name(),
		Mode:             j.mode,
		Timings:          j.timings,
	}
	if j.collector != nil {
		res.Diagnostics = j.report(ctx, nil)
	}

	j.logger.Info("extraction completed",
		slog.String("mode", string(j.mode)),
		slog.Int("output_size", len(output)),
		slog.Duration("total", j.timings.Total),
	)
	j.tracker.Report(progress.StageFinalizing, finalizingEnd, "Done")
	return res, nil
}

// inputExtension keeps a short alphanumeric extension from name so the
// engine can sniff the container. Anything else could be read as a protocol
// or option by ffmpeg and is dropped.
func inputExtension(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" || len(ext) > 8 {
		return ""
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return "." + ext
}

// fail classifies err, stamps the stage and attaches diagnostics.
func (j *job) fail(ctx context.Context, err error) error {
	j.timings.Total = j.timings.Sum()

	var e *Error
	if !errors.As(err, &e) {
		if kind, ok := classify(ctx, err); ok {
			e = newError(kind, j.stage, err)
		} else {
			e = &Error{Kind: KindUnknown, Stage: j.stage, Err: err}
		}
	}
	if e.Stage == "" {
		e.Stage = j.stage
	}
	if j.collector != nil && e.Diagnostics == nil {
		e.Diagnostics = j.report(ctx, e)
	}

	j.logger.Warn("extraction failed",
		slog.String("stage", string(e.Stage)),
		slog.String("kind", string(e.Kind)),
		slog.String("error", e.Err.Error()),
	)
	return e
}

func (j *job) report(ctx context.Context, failure *Error) *diagnostics.Report {
	r := &diagnostics.Report{
		GeneratedAt: j.s.now(),
		Environment: j.s.environment(context.WithoutCancel(ctx), j.eng),
		File: diagnostics.FileInfo{
			Name: j.src.Name(),
			Size: j.src.Size(),
			Type: j.src.Type(),
		},
		Extraction: diagnostics.ExtractionInfo{
			Mode:          string(j.mode),
			CopyAttempted: j.copyAttempted,
			CopySucceeded: j.copySucceeded,
			OutputSize:    j.outputSize,
		},
		Timings:      j.timings,
		Logs:         j.collector.Lines(),
		DroppedLines: j.collector.Dropped(),
	}
	if failure != nil {
		r.Extraction.Error = failure.Error()
	}
	return r
}

// cleanup deletes the job's engine files. Failures are logged and ignored.
func (j *job) cleanup() {
	if j.cleaned || j.eng == nil {
		return
	}
	j.cleaned = true

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	for _, name := range []string{j.inputName, j.copyName, j.reencodeName} {
		if err := j.eng.DeleteFile(ctx, name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			j.logger.Warn("failed to delete engine file",
				slog.String("file", name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// fatalEngineError returns a classified error for failures that must not
// fall through to the next strategy.
func fatalEngineError(ctx context.Context, err error) error {
	if kind, ok := classify(ctx, err); ok {
		return newError(kind, "", err)
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return err
	}
	return nil
}

// loadError classifies a loader failure. Errors outside the load taxonomy,
// such as the caller giving up, stay unclassified.
func loadError(err error) *Error {
	switch {
	case errors.Is(err, engine.ErrLoadTimeout):
		return newError(KindLoadTimeout, progress.StageLoading, err)
	case errors.Is(err, engine.ErrLoadNotFound):
		return newError(KindLoadNotFound, progress.StageLoading, err)
	case errors.Is(err, engine.ErrLoadFailed):
		return newError(KindLoadFailed, progress.StageLoading, err)
	default:
		return &Error{Kind: KindUnknown, Stage: progress.StageLoading, Err: err}
	}
}

// OutputName derives the output file name: <basename>_audio.<ext>.
func OutputName(original string, mode Mode) string {
	base := filepath.Base(original)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "output"
	}
	return base + "_audio" + mode.Extension()
}
