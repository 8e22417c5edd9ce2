package ffmpeg

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const defaultSampleInterval = 250 * time.Millisecond

// ProcessMonitor samples a process's resident memory and calls onExceed
// once when it goes over limit.
type ProcessMonitor struct {
	pid      int32
	limit    uint64
	interval time.Duration
	onExceed func()

	peak     atomic.Uint64
	exceeded atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewProcessMonitor creates a monitor for pid. A zero interval uses 250ms.
func NewProcessMonitor(pid int, limit uint64, interval time.Duration, onExceed func()) *ProcessMonitor {
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessMonitor{
		pid:      int32(pid), //nolint:gosec // pids fit in int32
		limit:    limit,
		interval: interval,
		onExceed: onExceed,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins sampling in the background.
func (pm *ProcessMonitor) Start() {
	pm.wg.Add(1)
	go pm.loop()
}

// Stop stops sampling and waits for the sampler to exit.
func (pm *ProcessMonitor) Stop() {
	pm.cancel()
	pm.wg.Wait()
}

// PeakRSS returns the highest RSS seen, in bytes.
func (pm *ProcessMonitor) PeakRSS() uint64 {
	return pm.peak.Load()
}

// Exceeded reports whether the limit was crossed.
func (pm *ProcessMonitor) Exceeded() bool {
	return pm.exceeded.Load()
}

func (pm *ProcessMonitor) loop() {
	defer pm.wg.Done()

	proc, err := process.NewProcessWithContext(pm.ctx, pm.pid)
	if err != nil {
		// Already gone.
		return
	}

	ticker := time.NewTicker(pm.interval)
	defer ticker.Stop()

	for {
		pm.sample(proc)
		select {
		case <-pm.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (pm *ProcessMonitor) sample(proc *process.Process) {
	info, err := proc.MemoryInfoWithContext(pm.ctx)
	if err != nil || info == nil {
		return
	}
	pm.Observe(info.RSS)
}

// Observe records an RSS sample. It is exported so callers that measure
// memory themselves can feed the monitor.
func (pm *ProcessMonitor) Observe(rss uint64) {
	for {
		cur := pm.peak.Load()
		if rss <= cur || pm.peak.CompareAndSwap(cur, rss) {
			break
		}
	}
	if pm.limit > 0 && rss > pm.limit {
		pm.once.Do(func() {
			pm.exceeded.Store(true)
			if pm.onExceed != nil {
				pm.onExceed()
			}
		})
	}
}
