package diagnostics

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmylchreest/audex/pkg/format"
)

// FileInfo describes the input file.
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// ExtractionInfo describes what the pipeline did.
type ExtractionInfo struct {
	Mode          string `json:"mode,omitempty"`
	CopyAttempted bool   `json:"copy_attempted"`
	CopySucceeded bool   `json:"copy_succeeded"`
	OutputSize    int    `json:"output_size,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Report is the support report for one extraction.
type Report struct {
	GeneratedAt  time.Time      `json:"generated_at"`
	Environment  Environment    `json:"environment"`
	File         FileInfo       `json:"file"`
	Extraction   ExtractionInfo `json:"extraction"`
	Timings      Timings        `json:"timings"`
	Logs         []string       `json:"logs"`
	DroppedLines int            `json:"dropped_lines,omitempty"`
}

// Format renders a report as plain text.
func Format(r *Report) string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&b, "  %-18s %s\n", label+":", value)
	}

	b.WriteString("=== Audio Extraction Diagnostics ===\n")
	if !r.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "Generated: %s\n", r.GeneratedAt.UTC().Format(time.RFC3339))
	}

	b.WriteString("\nEnvironment\n")
	env := r.Environment
	line("Platform", env.OS+"/"+env.Arch)
	if env.Platform != "" {
		line("OS", strings.TrimSpace(env.Platform+" "+env.KernelVersion))
	}
	if env.CPUModel != "" {
		line("CPU", env.CPUModel)
	}
	line("Logical CPUs", fmt.Sprintf("%d (concurrency %d)", env.LogicalCPUs, env.Concurrency))
	if env.TotalMemory > 0 {
		line("Memory", fmt.Sprintf("%s available of %s",
			format.Bytes(int64(env.AvailableMemory)), format.Bytes(int64(env.TotalMemory)))) //nolint:gosec // memory sizes fit in int64
	}
	line("Go", env.GoVersion)
	if env.EngineName != "" {
		line("Engine", strings.TrimSpace(env.EngineName+" "+env.EngineVersion))
	}
	if env.EngineMirror != "" {
		line("Engine mirror", env.EngineMirror)
	}
	line("Isolated", yesNo(env.Isolated))

	b.WriteString("\nFile\n")
	line("Name", r.File.Name)
	line("Size", fmt.Sprintf("%s (%s bytes)", format.Bytes(r.File.Size), format.Number(r.File.Size)))
	line("Type", orUnknown(r.File.Type))

	b.WriteString("\nExtraction\n")
	line("Mode", orUnknown(r.Extraction.Mode))
	line("Copy attempted", yesNo(r.Extraction.CopyAttempted))
	line("Copy succeeded", yesNo(r.Extraction.CopySucceeded))
	if r.Extraction.OutputSize > 0 {
		line("Output size", format.Bytes(int64(r.Extraction.OutputSize)))
	}
	if r.Extraction.Error != "" {
		line("Error", r.Extraction.Error)
	}

	b.WriteString("\nTimings\n")
	t := r.Timings
	line("Engine load", format.Duration(t.EngineLoad))
	line("File read", format.Duration(t.FileRead))
	line("File write", format.Duration(t.FileWrite))
	line("Copy attempt", format.Duration(t.CopyAttempt))
	line("Re-encode", format.Duration(t.Reencode))
	line("Output read", format.Duration(t.OutputRead))
	line("Total", format.Duration(t.Total))

	fmt.Fprintf(&b, "\nEngine log (%d lines", len(r.Logs))
	if r.DroppedLines > 0 {
		fmt.Fprintf(&b, ", %d earlier lines dropped", r.DroppedLines)
	}
	b.WriteString(")\n")
	for _, l := range r.Logs {
		b.WriteString("  | ")
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
