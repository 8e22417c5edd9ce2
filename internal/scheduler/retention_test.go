package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/audex/internal/observability"
)

type fakePruner struct {
	purgeCutoff  time.Time
	uploadCutoff time.Time
	purged       int
	removed      []string
	purgeErr     error
	uploadErr    error
}

func (f *fakePruner) PurgeFinishedBefore(_ context.Context, cutoff time.Time) (int, error) {
	f.purgeCutoff = cutoff
	return f.purged, f.purgeErr
}

func (f *fakePruner) RemoveOrphanedUploads(_ context.Context, cutoff time.Time) ([]string, error) {
	f.uploadCutoff = cutoff
	return f.removed, f.uploadErr
}

func TestRetention_Prune(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	pruner := &fakePruner{purged: 4, removed: []string{"a.mp4", "b.mkv"}}
	r := NewRetention(pruner, 7*24*time.Hour).
		WithLogger(observability.Discard()).
		WithClock(func() time.Time { return now })

	res, err := r.Prune(context.Background())
	require.NoError(t, err)

	want := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, want, res.Cutoff)
	assert.Equal(t, want, pruner.purgeCutoff)
	assert.Equal(t, want, pruner.uploadCutoff)
	assert.Equal(t, 4, res.RecordsPurged)
	assert.Equal(t, 2, res.UploadsRemoved)
}

func TestRetention_ErrorsDoNotStopTheOtherStep(t *testing.T) {
	purgeErr := errors.New("database locked")
	pruner := &fakePruner{purgeErr: purgeErr, removed: []string{"x.mp4"}}
	r := NewRetention(pruner, time.Hour).WithLogger(observability.Discard())

	res, err := r.Prune(context.Background())
	assert.ErrorIs(t, err, purgeErr)
	assert.Equal(t, 1, res.UploadsRemoved)
	assert.False(t, pruner.uploadCutoff.IsZero(), "uploads still cleaned")
}

func TestRetention_ScheduledRun(t *testing.T) {
	pruner := &fakePruner{}
	r := NewRetention(pruner, time.Hour).WithLogger(observability.Discard())
	s := newTestScheduler()

	require.NoError(t, s.RunNow(context.Background(), RetentionTaskName, r.Run))
	assert.False(t, pruner.purgeCutoff.IsZero())
}

func TestRetention_LogsThroughTaskLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	pruner := &fakePruner{purged: 2}
	r := NewRetention(pruner, time.Hour)
	s := NewScheduler().WithLogger(logger)

	require.NoError(t, s.RunNow(context.Background(), RetentionTaskName, r.Run))
	assert.Contains(t, buf.String(), "retention pass removed expired data")
	assert.Contains(t, buf.String(), `"operation":"retention"`)
}
