// Package scheduler runs recurring maintenance tasks for audex on cron
// schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/audex/internal/observability"
	"github.com/jmylchreest/audex/pkg/format"
)

// ErrAlreadyStarted is returned by Start on a running scheduler.
var ErrAlreadyStarted = errors.New("scheduler already started")

// TaskFunc is a scheduled unit of work.
type TaskFunc func(ctx context.Context) error

// Scheduler runs named tasks on 6-field cron expressions
// (seconds minutes hours day-of-month month day-of-week).
type Scheduler struct {
	mu sync.RWMutex

	cron   *cron.Cron
	parser cron.Parser
	tasks  map[string]registered
	logger *slog.Logger

	// taskTimeout bounds a single run of a task.
	taskTimeout time.Duration

	// Running state
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type registered struct {
	id   cron.EntryID
	expr string
}

// TaskInfo describes a registered task.
type TaskInfo struct {
	Name        string    `json:"name"`
	Schedule    string    `json:"schedule"`
	Description string    `json:"description"`
	Next        time.Time `json:"next,omitempty"`
	Prev        time.Time `json:"prev,omitempty"`
}

// NewScheduler creates a scheduler.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron:        cron.New(cron.WithParser(parser)),
		parser:      parser,
		tasks:       make(map[string]registered),
		logger:      slog.Default(),
		taskTimeout: 30 * time.Minute,
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// WithTaskTimeout bounds each task run.
func (s *Scheduler) WithTaskTimeout(d time.Duration) *Scheduler {
	if d > 0 {
		s.taskTimeout = d
	}
	return s
}

// Add registers task under name. Runs of one task never overlap; a run due
// while the previous one is still going is skipped.
func (s *Scheduler) Add(name, expr string, task TaskFunc) error {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q for %s: %w", expr, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %s already registered", name)
	}

	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		s.run(name, task)
	}))
	s.tasks[name] = registered{id: s.cron.Schedule(schedule, job), expr: expr}

	s.logger.Info("scheduled task",
		slog.String("task", name),
		slog.String("schedule", expr),
		slog.String("description", format.CronDescription(expr)),
		slog.Time("next", schedule.Next(time.Now())),
	)
	return nil
}

// RunNow runs a registered task synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string, task TaskFunc) error {
	ctx, cancel := context.WithTimeout(ctx, s.taskTimeout)
	defer cancel()
	return s.execute(ctx, name, task)
}

func (s *Scheduler) run(name string, task TaskFunc) {
	s.mu.RLock()
	parent := s.ctx
	s.mu.RUnlock()
	if parent == nil {
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(parent, s.taskTimeout)
	defer cancel()
	_ = s.execute(ctx, name, task)
}

func (s *Scheduler) execute(ctx context.Context, name string, task TaskFunc) error {
	logger := observability.WithOperation(s.logger, name)
	ctx = observability.ContextWithLogger(ctx, logger)

	start := time.Now()
	err := task(ctx)
	duration := time.Since(start)
	if err != nil {
		observability.WithError(logger, err).Error("scheduled task failed",
			slog.Duration("duration", duration),
		)
		return err
	}
	logger.Debug("scheduled task finished", slog.Duration("duration", duration))
	return nil
}

// Start begins running tasks on their schedules.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()

	s.logger.Info("scheduler started", slog.Int("tasks", len(s.tasks)))
	return nil
}

// Stop stops scheduling and waits for running tasks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// Tasks returns the registered tasks with their next run times.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []TaskInfo
	for name, task := range s.tasks {
		entry := s.cron.Entry(task.id)
		out = append(out, TaskInfo{
			Name:        name,
			Schedule:    task.expr,
			Description: format.CronDescription(task.expr),
			Next:        entry.Next,
			Prev:        entry.Prev,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ParseCron validates a cron expression and returns the next run time.
func (s *Scheduler) ParseCron(expr string) (time.Time, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(time.Now()), nil
}

// ValidateCron validates a cron expression.
func (s *Scheduler) ValidateCron(expr string) error {
	_, err := s.parser.Parse(expr)
	return err
}
