package native

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

var (
	xzMagic    = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}
	gzipMagic  = []byte{0x1F, 0x8B}
	bzip2Magic = []byte("BZh")
)

// DetectCompression identifies the payload format from its leading bytes.
// Brotli has no magic number, so it is only used when named explicitly.
func DetectCompression(data []byte) string {
	switch {
	case bytes.HasPrefix(data, xzMagic):
		return CompressionXZ
	case bytes.HasPrefix(data, gzipMagic):
		return CompressionGzip
	case bytes.HasPrefix(data, bzip2Magic):
		return CompressionBzip2
	default:
		return CompressionNone
	}
}

// Decompress unpacks data in the given format, refusing output larger than maxSize
// when maxSize is positive.
func Decompress(data []byte, compression string, maxSize int64) ([]byte, error) {
	if compression == CompressionAuto {
		compression = DetectCompression(data)
	}

	var r io.Reader
	switch compression {
	case CompressionNone:
		r = bytes.NewReader(data)
	case CompressionXZ:
		xr, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("opening xz stream: %w", err)
		}
		r = xr
	case CompressionGzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer gr.Close()
		r = gr
	case CompressionBzip2:
		br, err := bzip2.NewReader(bytes.NewReader(data), nil)
		if err != nil {
			return nil, fmt.Errorf("opening bzip2 stream: %w", err)
		}
		defer br.Close()
		r = br
	case CompressionBrotli:
		r = brotli.NewReader(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}

	if maxSize > 0 {
		r = io.LimitReader(r, maxSize+1)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing %s payload: %w", compression, err)
	}
	if maxSize > 0 && int64(len(out)) > maxSize {
		return nil, fmt.Errorf("decompressed payload exceeds %d bytes", maxSize)
	}
	return out, nil
}
