package extract_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/audex/internal/extract"
	"github.com/jmylchreest/audex/internal/observability"
)

func TestMIMEType(t *testing.T) {
	tests := map[string]string{
		"movie.MP4":   "video/mp4",
		"movie.mkv":   "video/x-matroska",
		"movie.mov":   "video/quicktime",
		"noextension": "application/octet-stream",
	}
	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, want, extract.MIMEType(name))
		})
	}
}

func TestQueue_RunsInSubmissionOrder(t *testing.T) {
	q := extract.NewQueue(observability.Discard())
	defer q.Close()

	gate := make(chan struct{})
	var (
		mu     sync.Mutex
		order  []int
		active atomic.Int32
		peak   atomic.Int32
		wg     sync.WaitGroup
	)
	job := func(i int) func(context.Context) error {
		return func(context.Context) error {
			if n := active.Add(1); n > peak.Load() {
				peak.Store(n)
			}
			defer active.Add(-1)
			if i == 0 {
				<-gate
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}
	}

	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, q.Submit(context.Background(), job(i)))
		}()
		if i == 0 {
			require.Eventually(t, q.Busy, time.Second, time.Millisecond)
		} else {
			require.Eventually(t, func() bool { return q.Len() == i }, time.Second, time.Millisecond)
		}
	}
	close(gate)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_ReturnsJobError(t *testing.T) {
	q := extract.NewQueue(observability.Discard())
	defer q.Close()

	boom := errors.New("boom")
	err := q.Submit(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestQueue_PanicDoesNotStopLaterJobs(t *testing.T) {
	q := extract.NewQueue(observability.Discard())
	defer q.Close()

	err := q.Submit(context.Background(), func(context.Context) error { panic("kaboom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	ran := false
	require.NoError(t, q.Submit(context.Background(), func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestQueue_Close(t *testing.T) {
	q := extract.NewQueue(observability.Discard())

	started := make(chan struct{})
	release := make(chan struct{})
	running := make(chan error, 1)
	go func() {
		running <- q.Submit(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	pending := make(chan error, 1)
	go func() {
		pending <- q.Submit(context.Background(), func(context.Context) error {
			t.Error("pending job ran after close")
			return nil
		})
	}()
	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, time.Millisecond)

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()

	assert.ErrorIs(t, <-pending, extract.ErrQueueClosed)
	select {
	case <-closed:
		t.Fatal("Close returned before the running job finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-closed
	assert.NoError(t, <-running)
	assert.ErrorIs(t, q.Submit(context.Background(), func(context.Context) error { return nil }), extract.ErrQueueClosed)
	q.Close()
}
