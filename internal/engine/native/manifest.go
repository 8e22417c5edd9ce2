// Package native runs a downloaded ffmpeg binary as the codec engine. Its
// filesystem is a directory inside the storage sandbox.
package native

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Compression formats understood for the binary artifact.
const (
	CompressionAuto   = ""
	CompressionNone   = "none"
	CompressionXZ     = "xz"
	CompressionGzip   = "gzip"
	CompressionBzip2  = "bzip2"
	CompressionBrotli = "br"
)

// ErrInvalidManifest is returned for manifests that cannot be used.
var ErrInvalidManifest = errors.New("invalid engine manifest")

// Manifest describes the binary artifact hosted next to it on a mirror.
type Manifest struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Binary  struct {
		// Compression is one of none, xz, gzip, bzip2 or br. Empty sniffs magic bytes.
		Compression string `yaml:"compression"`
		// SHA256 is the hex digest of the decompressed binary.
		SHA256 string `yaml:"sha256"`
		// Size is the decompressed size in bytes, if known.
		Size int64 `yaml:"size"`
	} `yaml:"binary"`
	Requires struct {
		MinVersion string   `yaml:"min_version"`
		Libraries  []string `yaml:"libraries"`
	} `yaml:"requires"`
}

// ParseManifest decodes and validates a manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if m.Name == "" {
		m.Name = "ffmpeg"
	}
	m.Binary.Compression = strings.ToLower(strings.TrimSpace(m.Binary.Compression))
	switch m.Binary.Compression {
	case CompressionAuto, CompressionNone, CompressionXZ, CompressionGzip, CompressionBzip2, CompressionBrotli:
	default:
		return nil, fmt.Errorf("%w: unknown compression %q", ErrInvalidManifest, m.Binary.Compression)
	}
	m.Binary.SHA256 = strings.ToLower(strings.TrimSpace(m.Binary.SHA256))
	if m.Binary.SHA256 != "" && len(m.Binary.SHA256) != 64 {
		return nil, fmt.Errorf("%w: sha256 must be 64 hex characters", ErrInvalidManifest)
	}
	if m.Binary.Size < 0 {
		return nil, fmt.Errorf("%w: negative size", ErrInvalidManifest)
	}
	return &m, nil
}

// MinVersion parses requires.min_version as major.minor. Empty means 0.0.
func (m *Manifest) MinVersion() (major, minor int, err error) {
	v := strings.TrimPrefix(strings.TrimSpace(m.Requires.MinVersion), "n")
	if v == "" {
		return 0, 0, nil
	}
	if _, err := fmt.Sscanf(v, "%d.%d", &major, &minor); err != nil {
		if _, err := fmt.Sscanf(v, "%d", &major); err != nil {
			return 0, 0, fmt.Errorf("%w: min_version %q", ErrInvalidManifest, m.Requires.MinVersion)
		}
	}
	return major, minor, nil
}
