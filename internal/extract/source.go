package extract

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// Source is a byte-bearing input with a name, size and MIME type.
type Source interface {
	io.ReaderAt
	Name() string
	Size() int64
	Type() string
}

// videoTypes covers containers mime.TypeByExtension often misses.
var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".ts":   "video/mp2t",
	".mpg":  "video/mpeg",
	".mpeg": "video/mpeg",
	".3gp":  "video/3gpp",
}

// MIMEType derives a MIME type from a file name's extension.
func MIMEType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := videoTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

type readerSource struct {
	io.ReaderAt
	name     string
	size     int64
	mimeType string
}

func (s *readerSource) Name() string { return s.name }
func (s *readerSource) Size() int64  { return s.size }
func (s *readerSource) Type() string { return s.mimeType }

// NewSource wraps r. An empty mimeType is derived from name.
func NewSource(name string, r io.ReaderAt, size int64, mimeType string) Source {
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = MIMEType(name)
	}
	return &readerSource{ReaderAt: r, name: name, size: size, mimeType: mimeType}
}

// FileSource is a Source backed by an open file.
type FileSource struct {
	Source
	file *os.File
}

// OpenFile opens path as a Source. Close it when done.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}
	name := filepath.Base(path)
	return &FileSource{
		Source: NewSource(name, f, info.Size(), ""),
		file:   f,
	}, nil
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	return s.file.Close()
}
