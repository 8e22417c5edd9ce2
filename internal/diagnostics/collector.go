// Package diagnostics captures engine logs for a single extraction and
// assembles them with environment and timing facts into a support report.
package diagnostics

import (
	"sync"

	"github.com/jmylchreest/audex/internal/engine"
)

// DefaultMaxLines is the default log ring size.
const DefaultMaxLines = 200

// Collector keeps the most recent engine log lines in a ring buffer.
type Collector struct {
	mu      sync.Mutex
	lines   []string
	next    int
	full    bool
	dropped int
}

// NewCollector creates a collector holding up to maxLines lines.
// Non-positive values use DefaultMaxLines.
func NewCollector(maxLines int) *Collector {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Collector{lines: make([]string, maxLines)}
}

// Add records one line, evicting the oldest when full.
func (c *Collector) Add(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		c.dropped++
	}
	c.lines[c.next] = line
	c.next = (c.next + 1) % len(c.lines)
	if c.next == 0 {
		c.full = true
	}
}

// Attach subscribes the collector to eng's log stream. Call the returned
// func to stop collecting.
func (c *Collector) Attach(eng engine.Engine) (detach func()) {
	return eng.OnLog(c.Add)
}

// Lines returns the retained lines, oldest first.
func (c *Collector) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.full {
		return append([]string(nil), c.lines[:c.next]...)
	}
	out := make([]string, 0, len(c.lines))
	out = append(out, c.lines[c.next:]...)
	return append(out, c.lines[:c.next]...)
}

// Dropped returns how many lines were evicted.
func (c *Collector) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
