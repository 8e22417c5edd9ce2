package extract

import (
	"time"

	"github.com/jmylchreest/audex/internal/diagnostics"
	"github.com/jmylchreest/audex/internal/progress"
)

// Mode is how the audio was produced.
type Mode string

// Extraction modes.
const (
	ModeCopy     Mode = "copy"
	ModeReencode Mode = "reencode"
)

// Extension returns the output file extension for the mode.
func (m Mode) Extension() string {
	if m == ModeCopy {
		return ".m4a"
	}
	return ".mp3"
}

// MIMEType returns the output MIME type for the mode.
func (m Mode) MIMEType() string {
	if m == ModeCopy {
		return "audio/mp4"
	}
	return "audio/mpeg"
}

// Timings are the per-stage durations of one extraction.
type Timings = diagnostics.Timings

// Options configure one extraction.
type Options struct {
	// OnProgress receives monotonic progress events.
	OnProgress progress.Func
	// EnableDiagnostics captures engine logs and attaches a report.
	EnableDiagnostics bool
	// Timeout bounds read, write, processing and read-back. Zero uses the policy default.
	Timeout time.Duration
	// JobID names the job in logs and engine file names. Generated when empty.
	JobID string
}

// File is the extracted audio.
type File struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data []byte `json:"-"`
}

// Result is a successful extraction.
type Result struct {
	JobID            string              `json:"job_id"`
	Output           File                `json:"output"`
	OriginalFilename string              `json:"original_filename"`
	Mode             Mode                `json:"mode"`
	Timings          Timings             `json:"timings"`
	Diagnostics      *diagnostics.Report `json:"diagnostics,omitempty"`
}
