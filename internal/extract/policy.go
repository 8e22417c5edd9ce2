package extract

import (
	"time"

	"github.com/jmylchreest/audex/internal/config"
)

// Policy defaults. The re-encode profile targets speech transcription.
const (
	DefaultSizeThreshold      = 25 * 1024 * 1024
	DefaultMinOutputBytes     = 1000
	DefaultTimeout            = 5 * time.Minute
	DefaultReencodeCodec      = "libmp3lame"
	DefaultReencodeBitrate    = "64k"
	DefaultReencodeSampleRate = 16000
	DefaultReencodeChannels   = 1
)

// Policy holds the tunable constants of the extraction pipeline.
type Policy struct {
	ChunkSize          int64
	SizeThreshold      int64
	MinOutputBytes     int64
	Timeout            time.Duration
	ReencodeCodec      string
	ReencodeBitrate    string
	ReencodeSampleRate int
	ReencodeChannels   int
	DiagnosticsLines   int
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	return Policy{
		ChunkSize:          DefaultChunkSize,
		SizeThreshold:      DefaultSizeThreshold,
		MinOutputBytes:     DefaultMinOutputBytes,
		Timeout:            DefaultTimeout,
		ReencodeCodec:      DefaultReencodeCodec,
		ReencodeBitrate:    DefaultReencodeBitrate,
		ReencodeSampleRate: DefaultReencodeSampleRate,
		ReencodeChannels:   DefaultReencodeChannels,
		DiagnosticsLines:   200,
	}
}

// PolicyFromConfig builds a policy from configuration, keeping defaults for
// unset values.
func PolicyFromConfig(c config.ExtractionConfig) Policy {
	p := DefaultPolicy()
	if v := c.ChunkSize.Bytes(); v > 0 {
		p.ChunkSize = v
	}
	if v := c.SizeThreshold.Bytes(); v > 0 {
		p.SizeThreshold = v
	}
	if c.MinOutputBytes > 0 {
		p.MinOutputBytes = c.MinOutputBytes
	}
	if c.Timeout > 0 {
		p.Timeout = c.Timeout
	}
	if c.ReencodeCodec != "" {
		p.ReencodeCodec = c.ReencodeCodec
	}
	if c.ReencodeBitrate != "" {
		p.ReencodeBitrate = c.ReencodeBitrate
	}
	if c.ReencodeSampleRate > 0 {
		p.ReencodeSampleRate = c.ReencodeSampleRate
	}
	if c.ReencodeChannels > 0 {
		p.ReencodeChannels = c.ReencodeChannels
	}
	if c.DiagnosticsLines > 0 {
		p.DiagnosticsLines = c.DiagnosticsLines
	}
	return p
}

// ShouldExtract reports whether a file of size bytes is worth extracting.
func (p Policy) ShouldExtract(size int64) bool {
	return size > p.SizeThreshold
}

// ShouldExtractAudio applies the default size threshold.
func ShouldExtractAudio(size int64) bool {
	return size > DefaultSizeThreshold
}
