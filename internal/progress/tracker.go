package progress

import (
	"sync"
	"time"
)

// Tracker forwards a single job's events to a callback while keeping the
// stream monotonic: stages never go backwards and percent never decreases
// within a stage. Events that would break either rule are dropped.
type Tracker struct {
	mu      sync.Mutex
	fn      Func
	start   time.Time
	now     func() time.Time
	stage   Stage
	percent int
	seen    bool
}

// NewTracker wraps fn. A nil fn yields a tracker that only records state.
func NewTracker(fn Func) *Tracker {
	return &Tracker{fn: fn, start: time.Now(), now: time.Now}
}

// Report emits an event for stage at percent.
func (t *Tracker) Report(stage Stage, percent int, message string) {
	t.Forward(Event{Stage: stage, Percent: percent, Message: message})
}

// Forward emits ev after clamping its percent and stamping the elapsed time.
// It returns false when the event was dropped.
func (t *Tracker) Forward(ev Event) bool {
	ev.Percent = clamp(ev.Percent)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen {
		order, current := ev.Stage.Order(), t.stage.Order()
		if order < current || (order == current && ev.Percent < t.percent) {
			return false
		}
	}
	t.seen = true
	t.stage = ev.Stage
	t.percent = ev.Percent
	ev.Elapsed = t.now().Sub(t.start)
	// Delivery happens under the lock so concurrent reporters cannot reorder events.
	t.deliver(ev)
	return true
}

func (t *Tracker) deliver(ev Event) {
	if t.fn == nil {
		return
	}
	defer func() { _ = recover() }() // a broken callback must not fail the job
	t.fn(ev)
}

// Last returns the most recent accepted stage and percent.
func (t *Tracker) Last() (Stage, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage, t.percent
}

func clamp(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
