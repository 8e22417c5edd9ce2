package extract_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/audex/internal/extract"
)

func TestReadWithProgress(t *testing.T) {
	t.Run("reports after each chunk", func(t *testing.T) {
		data := bytes.Repeat([]byte("abcde"), 5)
		src := extract.NewSource("clip.mp4", bytes.NewReader(data), int64(len(data)), "")

		var reports []int
		got, err := extract.ReadWithProgress(context.Background(), src, 10, func(p int) {
			reports = append(reports, p)
		})
		require.NoError(t, err)
		assert.Equal(t, data, got)
		assert.Equal(t, []int{40, 80, 100}, reports)
	})

	t.Run("exact multiple of chunk size", func(t *testing.T) {
		data := make([]byte, 30)
		src := extract.NewSource("clip.mp4", bytes.NewReader(data), 30, "")

		var reports []int
		_, err := extract.ReadWithProgress(context.Background(), src, 10, func(p int) {
			reports = append(reports, p)
		})
		require.NoError(t, err)
		assert.Equal(t, []int{33, 66, 100}, reports)
	})

	t.Run("empty source", func(t *testing.T) {
		src := extract.NewSource("empty.mp4", bytes.NewReader(nil), 0, "")

		var reports []int
		got, err := extract.ReadWithProgress(context.Background(), src, 10, func(p int) {
			reports = append(reports, p)
		})
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Equal(t, []int{100}, reports)
	})

	t.Run("cancelled between chunks", func(t *testing.T) {
		data := make([]byte, 100)
		src := extract.NewSource("clip.mp4", bytes.NewReader(data), 100, "")
		ctx, cancel := context.WithCancel(context.Background())

		calls := 0
		_, err := extract.ReadWithProgress(ctx, src, 10, func(int) {
			calls++
			cancel()
		})
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("default chunk size", func(t *testing.T) {
		size := 25<<20 + 1
		src := extract.NewSource("lecture.mp4", bytes.NewReader(make([]byte, size)), int64(size), "")

		var reports []int
		got, err := extract.ReadWithProgress(context.Background(), src, extract.DefaultChunkSize, func(p int) {
			reports = append(reports, p)
		})
		require.NoError(t, err)
		assert.Len(t, got, size)
		assert.Equal(t, []int{39, 79, 100}, reports)
	})

	t.Run("non-positive chunk size falls back to the default", func(t *testing.T) {
		size := 10<<20 + 1
		src := extract.NewSource("clip.mp4", bytes.NewReader(make([]byte, size)), int64(size), "")

		var reports []int
		_, err := extract.ReadWithProgress(context.Background(), src, 0, func(p int) {
			reports = append(reports, p)
		})
		require.NoError(t, err)
		assert.Equal(t, []int{99, 100}, reports)
	})

	t.Run("short source", func(t *testing.T) {
		src := extract.NewSource("clip.mp4", bytes.NewReader(make([]byte, 5)), 20, "")
		_, err := extract.ReadWithProgress(context.Background(), src, 10, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "clip.mp4")
	})
}
