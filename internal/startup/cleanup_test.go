package startup

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/audex/internal/observability"
	"github.com/jmylchreest/audex/internal/storage"
)

type fakeRecoverer struct {
	failed     int
	failErr    error
	removed    []string
	removeErr  error
	cutoff     time.Time
	failCalled bool
}

func (f *fakeRecoverer) FailUnfinished(context.Context) (int, error) {
	f.failCalled = true
	return f.failed, f.failErr
}

func (f *fakeRecoverer) RemoveOrphanedUploads(_ context.Context, cutoff time.Time) ([]string, error) {
	f.cutoff = cutoff
	return f.removed, f.removeErr
}

func TestRecoverExtractions(t *testing.T) {
	t.Run("fails unfinished jobs and clears leftovers", func(t *testing.T) {
		work, err := storage.NewSandbox(t.TempDir())
		require.NoError(t, err)
		require.NoError(t, work.WriteFile("job-01abc-input.mp4", []byte("x")))
		require.NoError(t, work.WriteFile("job-01abc-output.m4a", []byte("y")))

		rec := &fakeRecoverer{failed: 2, removed: []string{"01abc.mp4"}}
		before := time.Now()
		report, err := RecoverExtractions(context.Background(), observability.Discard(), rec, work)
		require.NoError(t, err)

		assert.Equal(t, RecoveryReport{JobsFailed: 2, UploadsRemoved: 1, WorkFilesRemoved: 2}, report)
		assert.False(t, rec.cutoff.Before(before), "every unreferenced upload is removed at startup")

		entries, err := os.ReadDir(work.BaseDir())
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("nil work dir is skipped", func(t *testing.T) {
		report, err := RecoverExtractions(context.Background(), observability.Discard(), &fakeRecoverer{}, nil)
		require.NoError(t, err)
		assert.Zero(t, report.WorkFilesRemoved)
	})

	t.Run("continues after errors", func(t *testing.T) {
		dbErr := errors.New("database is locked")
		rec := &fakeRecoverer{failErr: dbErr, removed: []string{"a.mp4"}}

		report, err := RecoverExtractions(context.Background(), observability.Discard(), rec, nil)
		assert.ErrorIs(t, err, dbErr)
		assert.True(t, rec.failCalled)
		assert.Equal(t, 1, report.UploadsRemoved)
	})
}
