package progress

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrJobNotFound is returned when the hub has no record of a job.
var ErrJobNotFound = errors.New("job not found")

// JobState is the lifecycle state of a tracked job.
type JobState string

// Job states.
const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// IsTerminal reports whether the job has finished.
func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// SSE event types.
const (
	EventTypeProgress  = "progress"
	EventTypeCompleted = "completed"
	EventTypeError     = "error"
)

// Snapshot is the externally visible state of a job.
type Snapshot struct {
	JobID       string     `json:"job_id"`
	Filename    string     `json:"filename"`
	State       JobState   `json:"state"`
	Stage       Stage      `json:"stage,omitempty"`
	Percent     int        `json:"percent"`
	Message     string     `json:"message"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Update is delivered to hub subscribers whenever a job changes.
type Update struct {
	EventType string    `json:"event_type"`
	Job       Snapshot  `json:"job"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber receives updates for one job, or all jobs when JobID is empty.
type Subscriber struct {
	ID     string
	JobID  string
	Events chan *Update
}

// Hub keeps the latest snapshot of every running job and streams changes to
// subscribers. It backs the SSE endpoint; the extraction core does not depend on it.
type Hub struct {
	mu          sync.RWMutex
	jobs        map[string]*Snapshot
	subscribers map[string]*Subscriber
	logger      *slog.Logger

	staleDuration time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// NewHub creates a hub. Finished jobs are forgotten after staleDuration once Start is called.
func NewHub(logger *slog.Logger, staleDuration time.Duration) *Hub {
	if staleDuration <= 0 {
		staleDuration = 5 * time.Minute
	}
	return &Hub{
		jobs:          make(map[string]*Snapshot),
		subscribers:   make(map[string]*Subscriber),
		logger:        logger.With(slog.String("component", "progress_hub")),
		staleDuration: staleDuration,
		stopCleanup:   make(chan struct{}),
	}
}

// Start begins background cleanup of finished jobs.
func (h *Hub) Start() {
	h.cleanupTicker = time.NewTicker(time.Minute)
	go h.cleanupLoop()
}

// Stop halts the background cleanup.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		if h.cleanupTicker != nil {
			h.cleanupTicker.Stop()
		}
		close(h.stopCleanup)
	})
}

func (h *Hub) cleanupLoop() {
	for {
		select {
		case <-h.cleanupTicker.C:
			h.cleanupStale(time.Now())
		case <-h.stopCleanup:
			return
		}
	}
}

func (h *Hub) cleanupStale(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := now.Add(-h.staleDuration)
	removed := 0
	for id, job := range h.jobs {
		if job.State.IsTerminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(h.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		h.logger.Debug("cleaned up finished jobs", slog.Int("count", removed))
	}
	return removed
}

// Track registers a pending job and returns a handle used to report on it.
func (h *Hub) Track(jobID, filename string) *JobHandle {
	now := time.Now()
	h.mu.Lock()
	job := &Snapshot{
		JobID:     jobID,
		Filename:  filename,
		State:     JobPending,
		Message:   "Queued",
		StartedAt: now,
		UpdatedAt: now,
	}
	h.jobs[jobID] = job
	h.broadcastLocked(job)
	h.mu.Unlock()

	return &JobHandle{hub: h, jobID: jobID}
}

// Get returns the snapshot of a job.
func (h *Hub) Get(jobID string) (Snapshot, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	job, ok := h.jobs[jobID]
	if !ok {
		return Snapshot{}, ErrJobNotFound
	}
	return *job, nil
}

// List returns all known jobs, oldest first.
func (h *Hub) List() []Snapshot {
	h.mu.RLock()
	out := make([]Snapshot, 0, len(h.jobs))
	for _, job := range h.jobs {
		out = append(out, *job)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// Subscribe creates a subscriber. An empty jobID subscribes to every job.
func (h *Hub) Subscribe(jobID string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscriber{
		ID:     ulid.Make().String(),
		JobID:  jobID,
		Events: make(chan *Update, 100),
	}
	h.subscribers[sub.ID] = sub
	h.logger.Debug("subscriber added", slog.String("subscriber_id", sub.ID))
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subscribers[subscriberID]; ok {
		close(sub.Events)
		delete(h.subscribers, subscriberID)
		h.logger.Debug("subscriber removed", slog.String("subscriber_id", subscriberID))
	}
}

func (h *Hub) update(jobID string, fn func(*Snapshot)) {
	h.mu.Lock()
	defer h.mu.Unlock()

	job, ok := h.jobs[jobID]
	if !ok {
		return
	}
	fn(job)
	job.UpdatedAt = time.Now()
	h.broadcastLocked(job)
}

// broadcastLocked must be called with h.mu held.
func (h *Hub) broadcastLocked(job *Snapshot) {
	update := &Update{
		EventType: EventTypeFor(job.State),
		Job:       *job,
		Timestamp: time.Now(),
	}

	for _, sub := range h.subscribers {
		if sub.JobID != "" && sub.JobID != job.JobID {
			continue
		}
		select {
		case sub.Events <- update:
		default:
			h.logger.Warn("subscriber event channel full, dropping event",
				slog.String("subscriber_id", sub.ID),
				slog.String("job_id", job.JobID),
			)
		}
	}
}

// EventTypeFor returns the SSE event type announcing a job in state.
func EventTypeFor(state JobState) string {
	switch state {
	case JobCompleted:
		return EventTypeCompleted
	case JobFailed:
		return EventTypeError
	default:
		return EventTypeProgress
	}
}

// JobHandle reports on a single tracked job.
type JobHandle struct {
	hub   *Hub
	jobID string
}

// JobID returns the tracked job's ID.
func (j *JobHandle) JobID() string {
	return j.jobID
}

// Progress records ev as the job's latest progress. It has the signature of
// Func so it can be passed straight to the extraction service.
func (j *JobHandle) Progress(ev Event) {
	j.hub.update(j.jobID, func(job *Snapshot) {
		job.State = JobRunning
		job.Stage = ev.Stage
		job.Percent = ev.Percent
		job.Message = ev.Message
	})
}

// Complete marks the job as finished successfully.
func (j *JobHandle) Complete(message string) {
	j.hub.update(j.jobID, func(job *Snapshot) {
		now := time.Now()
		job.State = JobCompleted
		job.Percent = 100
		job.Message = message
		job.CompletedAt = &now
	})
}

// Fail marks the job as failed.
func (j *JobHandle) Fail(err error) {
	j.hub.update(j.jobID, func(job *Snapshot) {
		now := time.Now()
		job.State = JobFailed
		job.Error = err.Error()
		job.Message = "Extraction failed: " + err.Error()
		job.CompletedAt = &now
	})
}
