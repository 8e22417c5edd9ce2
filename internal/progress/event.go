// Package progress carries extraction progress from the engine loader and
// the extraction pipeline to whoever is listening.
package progress

import "time"

// Stage is one step of an extraction job.
type Stage string

// Extraction stages in the order a job passes through them.
const (
	StageLoading     Stage = "loading"
	StageReading     Stage = "reading"
	StageWriting     Stage = "writing"
	StageCopyAttempt Stage = "copy-attempt"
	StageReencode    Stage = "reencode"
	StageFinalizing  Stage = "finalizing"
)

var stageOrder = map[Stage]int{
	StageLoading:     0,
	StageReading:     1,
	StageWriting:     2,
	StageCopyAttempt: 3,
	StageReencode:    4,
	StageFinalizing:  5,
}

// Order returns the position of the stage in a job, or -1 for an unknown stage.
func (s Stage) Order() int {
	if o, ok := stageOrder[s]; ok {
		return o
	}
	return -1
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s.Order() >= 0
}

// Event is a single progress report.
type Event struct {
	Stage   Stage         `json:"stage"`
	Percent int           `json:"percent"`
	Message string        `json:"message"`
	Elapsed time.Duration `json:"elapsed"`
}

// Func receives progress events.
type Func func(Event)
