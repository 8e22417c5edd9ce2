package diagnostics

import "time"

// Timings are the wall-clock durations of each extraction stage.
type Timings struct {
	EngineLoad  time.Duration `json:"engine_load"`
	FileRead    time.Duration `json:"file_read"`
	FileWrite   time.Duration `json:"file_write"`
	CopyAttempt time.Duration `json:"copy_attempt"`
	Reencode    time.Duration `json:"reencode"`
	OutputRead  time.Duration `json:"output_read"`
	Total       time.Duration `json:"total"`
}

// Sum adds up the individual stages.
func (t Timings) Sum() time.Duration {
	return t.EngineLoad + t.FileRead + t.FileWrite + t.CopyAttempt + t.Reencode + t.OutputRead
}
