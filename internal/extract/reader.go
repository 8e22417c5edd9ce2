package extract

import (
	"context"
	"fmt"
	"io"
)

// DefaultChunkSize is the read size used by ReadWithProgress.
const DefaultChunkSize = 10 * 1024 * 1024

// ReadWithProgress reads src sequentially in chunkSize pieces and returns its
// contents. After each chunk onProgress receives floor(read*100/size); the
// final call always reports 100. ctx is checked between chunks.
//
// An empty source returns an empty buffer after a single 100 report.
func ReadWithProgress(ctx context.Context, src Source, chunkSize int64, onProgress func(percent int)) ([]byte, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	report := func(p int) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	size := src.Size()
	if size <= 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report(100)
		return []byte{}, nil
	}

	section := io.NewSectionReader(src, 0, size)
	chunks := make([][]byte, 0, (size+chunkSize-1)/chunkSize)
	var read int64
	for read < size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk := make([]byte, min(chunkSize, size-read))
		n, err := io.ReadFull(section, chunk)
		if err != nil {
			return nil, fmt.Errorf("reading %s at offset %d: %w", src.Name(), read+int64(n), err)
		}
		chunks = append(chunks, chunk)
		read += int64(n)
		report(int(read * 100 / size))
	}

	out := make([]byte, 0, size)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out, nil
}
