package extract_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/audex/internal/diagnostics"
	"github.com/jmylchreest/audex/internal/engine"
	"github.com/jmylchreest/audex/internal/engine/enginetest"
	"github.com/jmylchreest/audex/internal/extract"
	"github.com/jmylchreest/audex/internal/observability"
	"github.com/jmylchreest/audex/internal/progress"
)

// staticProvider hands out a fixed engine, emitting loading progress on the
// first call only.
type staticProvider struct {
	eng    engine.Engine
	err    error
	gets   atomic.Int32
	loaded atomic.Bool
}

func (p *staticProvider) Get(_ context.Context, onProgress progress.Func) (engine.Engine, error) {
	p.gets.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	if !p.loaded.Swap(true) && onProgress != nil {
		onProgress(progress.Event{Stage: progress.StageLoading, Percent: 50, Message: "Downloading engine"})
		onProgress(progress.Event{Stage: progress.StageLoading, Percent: 100, Message: "Engine ready"})
	}
	return p.eng, nil
}

func (p *staticProvider) Preload(ctx context.Context) error {
	_, err := p.Get(ctx, nil)
	return err
}

func (p *staticProvider) Loaded() bool { return p.loaded.Load() }

func newService(t *testing.T, engines extract.EngineProvider, opts ...extract.Option) *extract.Service {
	t.Helper()
	opts = append([]extract.Option{
		extract.WithLogger(observability.Discard()),
		extract.WithEnvironment(func(context.Context, engine.Engine) diagnostics.Environment {
			return diagnostics.Environment{OS: "linux", Arch: "amd64", EngineName: "fake"}
		}),
	}, opts...)
	s := extract.NewService(extract.DefaultPolicy(), engines, opts...)
	t.Cleanup(s.Close)
	return s
}

func videoSource(name string, size int) extract.Source {
	return extract.NewSource(name, bytes.NewReader(make([]byte, size)), int64(size), "")
}

func isCopy(args []string) bool {
	return slices.Contains(args, "copy")
}

// copyFails fails the stream copy and re-encodes to size bytes.
func copyFails(size int) enginetest.ExecFunc {
	write := enginetest.WriteOutput(size)
	return func(ctx context.Context, fsys *enginetest.Files, args []string) error {
		if isCopy(args) {
			return errors.New("codec not supported in container")
		}
		return write(ctx, fsys, args)
	}
}

func TestExtractAudio_CopySucceeds(t *testing.T) {
	eng := enginetest.New(enginetest.WriteOutput(5000))
	s := newService(t, &staticProvider{eng: eng})

	res, err := s.ExtractAudio(context.Background(), videoSource("video.mp4", 40<<20), extract.Options{JobID: "j1"})
	require.NoError(t, err)

	assert.Equal(t, extract.ModeCopy, res.Mode)
	assert.Equal(t, "video_audio.m4a", res.Output.Name)
	assert.Equal(t, "audio/mp4", res.Output.Type)
	assert.Len(t, res.Output.Data, 5000)
	assert.Equal(t, "video.mp4", res.OriginalFilename)
	assert.Equal(t, "j1", res.JobID)
	assert.Nil(t, res.Diagnostics)

	execs := eng.Execs()
	require.Len(t, execs, 1)
	assert.Equal(t, []string{"-i", "job-j1-input.mp4", "-vn", "-acodec", "copy", "job-j1-output.m4a"}, execs[0])
	assert.Empty(t, eng.Files.Names(), "job files are deleted")
}

func TestExtractAudio_FallsBackToReencode(t *testing.T) {
	eng := enginetest.New(copyFails(4000))
	s := newService(t, &staticProvider{eng: eng})

	res, err := s.ExtractAudio(context.Background(), videoSource("video.mp4", 40<<20), extract.Options{JobID: "j2"})
	require.NoError(t, err)

	assert.Equal(t, extract.ModeReencode, res.Mode)
	assert.Equal(t, "video_audio.mp3", res.Output.Name)
	assert.Equal(t, "audio/mpeg", res.Output.Type)

	execs := eng.Execs()
	require.Len(t, execs, 2)
	assert.Equal(t, []string{
		"-i", "job-j2-input.mp4", "-vn",
		"-acodec", "libmp3lame", "-b:a", "64k", "-ar", "16000", "-ac", "1",
		"job-j2-output.mp3",
	}, execs[1])
	assert.Empty(t, eng.Files.Names())
}

func TestExtractAudio_TinyCopyOutputIsReencoded(t *testing.T) {
	eng := enginetest.New(func(ctx context.Context, fsys *enginetest.Files, args []string) error {
		if isCopy(args) {
			return enginetest.WriteOutput(1000)(ctx, fsys, args)
		}
		return enginetest.WriteOutput(1001)(ctx, fsys, args)
	})
	s := newService(t, &staticProvider{eng: eng})

	res, err := s.ExtractAudio(context.Background(), videoSource("talk.mov", 1024), extract.Options{})
	require.NoError(t, err)
	assert.Equal(t, extract.ModeReencode, res.Mode)
	assert.Len(t, res.Output.Data, 1001)
	assert.NotEmpty(t, res.JobID)
}

func TestExtractAudio_ReencodeAtFloorIsAccepted(t *testing.T) {
	eng := enginetest.New(copyFails(extract.DefaultMinOutputBytes))
	s := newService(t, &staticProvider{eng: eng})

	res, err := s.ExtractAudio(context.Background(), videoSource("talk.webm", 2048), extract.Options{})
	require.NoError(t, err)
	assert.Equal(t, extract.ModeReencode, res.Mode)
	assert.Len(t, res.Output.Data, extract.DefaultMinOutputBytes)
}

func TestExtractAudio_InputNameExtension(t *testing.T) {
	tests := []struct {
		file string
		want string
	}{
		{"clip.MKV", "job-x-input.mkv"},
		{"weird.a:b", "job-x-input"},
		{"file.m-4a", "job-x-input"},
		{"archive.verylongext", "job-x-input"},
		{"noextension", "job-x-input"},
		{"dir.d/track", "job-x-input"},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			eng := enginetest.New(enginetest.WriteOutput(2000))
			s := newService(t, &staticProvider{eng: eng})

			_, err := s.ExtractAudio(context.Background(), videoSource(tt.file, 1024), extract.Options{JobID: "x"})
			require.NoError(t, err)
			execs := eng.Execs()
			require.NotEmpty(t, execs)
			assert.Equal(t, tt.want, execs[0][1])
		})
	}
}

func TestExtractAudio_InvalidOutput(t *testing.T) {
	tests := map[string]enginetest.ExecFunc{
		"re-encode fails": func(context.Context, *enginetest.Files, []string) error {
			return errors.New("no audio stream")
		},
		"re-encode output too small": enginetest.WriteOutput(999),
	}
	for name, exec := range tests {
		t.Run(name, func(t *testing.T) {
			eng := enginetest.New(exec)
			s := newService(t, &staticProvider{eng: eng})

			_, err := s.ExtractAudio(context.Background(), videoSource("video.mp4", 2048), extract.Options{})
			require.Error(t, err)
			assert.ErrorIs(t, err, extract.ErrExtractionInvalidOutput)
			assert.Equal(t, extract.KindInvalidOutput, extract.KindOf(err))

			var e *extract.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, progress.StageReencode, e.Stage)
			assert.Len(t, eng.Execs(), 2)
			assert.Empty(t, eng.Files.Names())
		})
	}
}

func TestExtractAudio_OutOfMemoryIsFatal(t *testing.T) {
	eng := enginetest.New(func(context.Context, *enginetest.Files, []string) error {
		return fmt.Errorf("exit status 1: %w", engine.ErrOutOfMemory)
	})
	s := newService(t, &staticProvider{eng: eng})

	_, err := s.ExtractAudio(context.Background(), videoSource("video.mp4", 2048), extract.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, extract.ErrExtractionMemory)
	assert.Equal(t, extract.KindExtractionMemory, extract.KindOf(err))
	assert.Len(t, eng.Execs(), 1, "no re-encode after running out of memory")
}

func TestExtractAudio_ProgressIsMonotonic(t *testing.T) {
	eng := enginetest.New(copyFails(2000))
	s := newService(t, &staticProvider{eng: eng})

	var events []progress.Event
	_, err := s.ExtractAudio(context.Background(), videoSource("video.mp4", 40<<20), extract.Options{
		OnProgress: func(ev progress.Event) { events = append(events, ev) },
	})
	require.NoError(t, err)
	require.NotEmpty(t, events)

	var stages []progress.Stage
	for i, ev := range events {
		assert.GreaterOrEqual(t, ev.Percent, 0)
		assert.LessOrEqual(t, ev.Percent, 100)
		if i > 0 {
			prev := events[i-1]
			require.GreaterOrEqual(t, ev.Stage.Order(), prev.Stage.Order(), "stage went backwards at %d", i)
			if ev.Stage == prev.Stage {
				require.GreaterOrEqual(t, ev.Percent, prev.Percent)
			}
		}
		if len(stages) == 0 || stages[len(stages)-1] != ev.Stage {
			stages = append(stages, ev.Stage)
		}
	}
	assert.Equal(t, []progress.Stage{
		progress.StageLoading,
		progress.StageReading,
		progress.StageWriting,
		progress.StageCopyAttempt,
		progress.StageReencode,
		progress.StageFinalizing,
	}, stages)

	last := events[len(events)-1]
	assert.Equal(t, progress.StageFinalizing, last.Stage)
	assert.Equal(t, 100, last.Percent)
}

func TestExtractAudio_LoadedEngineStillReportsLoading(t *testing.T) {
	eng := enginetest.New(enginetest.WriteOutput(2000))
	provider := &staticProvider{eng: eng}
	require.NoError(t, provider.Preload(context.Background()))
	s := newService(t, provider)

	var first progress.Event
	_, err := s.ExtractAudio(context.Background(), videoSource("video.mp4", 100), extract.Options{
		OnProgress: func(ev progress.Event) {
			if first.Stage == "" {
				first = ev
			}
		},
	})
	require.NoError(t, err)
	assert.Equal(t, progress.StageLoading, first.Stage)
	assert.Equal(t, 100, first.Percent)
	assert.True(t, s.IsEngineLoaded())
}

func TestExtractAudio_EngineNotFoundOnAnyMirror(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	initialized := false
	loader := engine.NewLoader(engine.LoaderConfig{
		Mirrors:       []string{srv.URL + "/a", srv.URL + "/b"},
		ManifestName:  "manifest.yaml",
		BinaryName:    "ffmpeg.xz",
		MirrorTimeout: time.Second,
		LoadTimeout:   5 * time.Second,
	}, engine.NewHTTPFetcher(nil), func(context.Context, engine.Artifacts) (engine.Engine, error) {
		initialized = true
		return enginetest.New(nil), nil
	}, observability.Discard())
	s := newService(t, loader)

	var stages []progress.Stage
	_, err := s.ExtractAudio(context.Background(), videoSource("video.mp4", 100), extract.Options{
		OnProgress: func(ev progress.Event) { stages = append(stages, ev.Stage) },
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, extract.ErrLoadNotFound)
	assert.Equal(t, extract.KindLoadNotFound, extract.KindOf(err))
	assert.False(t, initialized)
	assert.NotContains(t, stages, progress.StageReading)
	assert.False(t, s.IsEngineLoaded())
}

func TestExtractAudio_TimeoutThenNextJobSucceeds(t *testing.T) {
	eng := enginetest.New(enginetest.WriteOutput(2000))
	eng.WriteDelay = time.Second
	s := newService(t, &staticProvider{eng: eng})

	_, err := s.ExtractAudio(context.Background(), videoSource("video.mp4", 100), extract.Options{
		Timeout: 20 * time.Millisecond,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, extract.ErrExtractionTimeout)
	var e *extract.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, extract.KindExtractionTimeout, e.Kind)
	assert.Equal(t, progress.StageWriting, e.Stage)
	assert.Empty(t, eng.Execs())

	eng.WriteDelay = 0
	res, err := s.ExtractAudio(context.Background(), videoSource("video.mp4", 100), extract.Options{})
	require.NoError(t, err)
	assert.Equal(t, extract.ModeCopy, res.Mode)
}

func TestExtractAudio_Unsupported(t *testing.T) {
	provider := &staticProvider{eng: enginetest.New(nil)}
	s := newService(t, provider, extract.WithSupportCheck(func(context.Context) error {
		return errors.New("platform plan9/386 has no engine build")
	}))

	assert.False(t, s.IsExtractionSupported(context.Background()))
	_, err := s.ExtractAudio(context.Background(), videoSource("video.mp4", 100), extract.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, extract.ErrUnsupportedEnvironment)
	assert.Equal(t, extract.KindUnsupported, extract.KindOf(err))
	assert.Zero(t, provider.gets.Load(), "engine is never requested")
}

func TestExtractAudio_Diagnostics(t *testing.T) {
	var eng *enginetest.Engine
	eng = enginetest.New(func(ctx context.Context, fsys *enginetest.Files, args []string) error {
		eng.Emit("Stream #0:1: Audio: aac (LC), 44100 Hz, stereo")
		return enginetest.WriteOutput(3000)(ctx, fsys, args)
	})
	s := newService(t, &staticProvider{eng: eng})

	res, err := s.ExtractAudio(context.Background(), videoSource("video.mp4", 100), extract.Options{EnableDiagnostics: true})
	require.NoError(t, err)
	require.NotNil(t, res.Diagnostics)

	r := res.Diagnostics
	assert.Equal(t, []string{"Stream #0:1: Audio: aac (LC), 44100 Hz, stereo"}, r.Logs)
	assert.Equal(t, "video.mp4", r.File.Name)
	assert.Equal(t, "copy", r.Extraction.Mode)
	assert.True(t, r.Extraction.CopyAttempted)
	assert.True(t, r.Extraction.CopySucceeded)
	assert.Equal(t, 3000, r.Extraction.OutputSize)
	assert.Equal(t, "fake", r.Environment.EngineName)
	assert.Zero(t, eng.Listeners(), "collector detached after the job")

	text := extract.FormatDiagnosticsReport(r)
	assert.Contains(t, text, "video.mp4")
	assert.Contains(t, text, "44100 Hz")
}

func TestExtractAudio_DiagnosticsOnFailure(t *testing.T) {
	var eng *enginetest.Engine
	eng = enginetest.New(func(context.Context, *enginetest.Files, []string) error {
		eng.Emit("Output file #0 does not contain any stream")
		return errors.New("exit status 1")
	})
	s := newService(t, &staticProvider{eng: eng})

	_, err := s.ExtractAudio(context.Background(), videoSource("video.mp4", 100), extract.Options{EnableDiagnostics: true})
	var e *extract.Error
	require.ErrorAs(t, err, &e)
	require.NotNil(t, e.Diagnostics)
	assert.Len(t, e.Diagnostics.Logs, 2)
	assert.True(t, e.Diagnostics.Extraction.CopyAttempted)
	assert.False(t, e.Diagnostics.Extraction.CopySucceeded)
	assert.NotEmpty(t, e.Diagnostics.Extraction.Error)
}

func TestExtractAudio_TimingsAddUp(t *testing.T) {
	var ticks atomic.Int64
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		return base.Add(time.Duration(ticks.Add(1)) * time.Millisecond)
	}

	eng := enginetest.New(copyFails(2000))
	s := newService(t, &staticProvider{eng: eng}, extract.WithClock(clock))

	res, err := s.ExtractAudio(context.Background(), videoSource("video.mp4", 100), extract.Options{})
	require.NoError(t, err)

	tm := res.Timings
	assert.Equal(t, tm.Sum(), tm.Total)
	assert.Positive(t, tm.FileRead)
	assert.Positive(t, tm.FileWrite)
	assert.Positive(t, tm.CopyAttempt)
	assert.Positive(t, tm.Reencode)
	assert.Positive(t, tm.OutputRead)
}

func TestExtractAudio_ConcurrentCallersAreSerialised(t *testing.T) {
	var active, peak atomic.Int32
	eng := enginetest.New(func(ctx context.Context, fsys *enginetest.Files, args []string) error {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		return enginetest.WriteOutput(2000)(ctx, fsys, args)
	})
	s := newService(t, &staticProvider{eng: eng})

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.ExtractAudio(context.Background(), videoSource(fmt.Sprintf("v%d.mp4", i), 256), extract.Options{})
			if assert.NoError(t, err) {
				assert.Equal(t, fmt.Sprintf("v%d_audio.m4a", i), res.Output.Name)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Len(t, eng.Execs(), 4)
	assert.Empty(t, eng.Files.Names())
}

func TestService_ShouldExtractAudio(t *testing.T) {
	s := newService(t, &staticProvider{eng: enginetest.New(nil)})

	assert.False(t, s.ShouldExtractAudio(videoSource("small.mp4", 1024)))
	assert.False(t, s.ShouldExtractAudio(videoSource("edge.mp4", extract.DefaultSizeThreshold)))
	assert.True(t, s.ShouldExtractAudio(videoSource("big.mp4", extract.DefaultSizeThreshold+1)))
	assert.True(t, extract.ShouldExtractAudio(40<<20))
	assert.False(t, extract.ShouldExtractAudio(0))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want extract.Kind
	}{
		{"nil", nil, extract.KindUnknown},
		{"plain", errors.New("x"), extract.KindUnknown},
		{"load timeout", fmt.Errorf("wrapped: %w", engine.ErrLoadTimeout), extract.KindLoadTimeout},
		{"memory", extract.ErrExtractionMemory, extract.KindExtractionMemory},
		{"typed", &extract.Error{Kind: extract.KindUnsupported, Err: errors.New("x")}, extract.KindUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extract.KindOf(tt.err))
		})
	}
}

func TestError_Message(t *testing.T) {
	err := &extract.Error{Kind: extract.KindExtractionTimeout, Stage: progress.StageReencode, Err: extract.ErrExtractionTimeout}
	assert.Equal(t, "reencode stage: extraction timed out", err.Error())
	assert.NotEmpty(t, extract.KindExtractionTimeout.Message())
	assert.NotEqual(t, extract.KindUnknown.Message(), extract.KindLoadNotFound.Message())
}

func TestOutputName(t *testing.T) {
	tests := []struct {
		in   string
		mode extract.Mode
		want string
	}{
		{"video.mp4", extract.ModeCopy, "video_audio.m4a"},
		{"my.talk.mkv", extract.ModeReencode, "my.talk_audio.mp3"},
		{"/tmp/clips/noext", extract.ModeCopy, "noext_audio.m4a"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, extract.OutputName(tt.in, tt.mode))
		})
	}
}
