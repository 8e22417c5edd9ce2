package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jmylchreest/audex/internal/observability"
	"github.com/jmylchreest/audex/pkg/format"
)

// RetentionTaskName names the retention task in logs and listings.
const RetentionTaskName = "retention"

// Pruner deletes expired job history. *service.ExtractionService implements it.
type Pruner interface {
	PurgeFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
	RemoveOrphanedUploads(ctx context.Context, cutoff time.Time) ([]string, error)
}

// RetentionResult summarises one retention run.
type RetentionResult struct {
	Cutoff         time.Time
	RecordsPurged  int
	UploadsRemoved int
}

// Retention removes finished extractions and orphaned uploads older than a
// maximum age.
type Retention struct {
	pruner Pruner
	maxAge time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewRetention creates a retention task keeping history for maxAge.
func NewRetention(pruner Pruner, maxAge time.Duration) *Retention {
	return &Retention{
		pruner: pruner,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// WithLogger sets a fixed logger. Without one, passes log to the logger
// carried by their context, which the scheduler tags with the task name.
func (r *Retention) WithLogger(logger *slog.Logger) *Retention {
	r.logger = logger
	return r
}

// WithClock replaces the time source (for testing).
func (r *Retention) WithClock(now func() time.Time) *Retention {
	r.now = now
	return r
}

// Run performs one retention pass. Both steps run even if the first fails.
func (r *Retention) Run(ctx context.Context) error {
	_, err := r.Prune(ctx)
	return err
}

// Prune performs one retention pass and reports what it removed.
func (r *Retention) Prune(ctx context.Context) (RetentionResult, error) {
	res := RetentionResult{Cutoff: r.now().Add(-r.maxAge)}

	purged, purgeErr := r.pruner.PurgeFinishedBefore(ctx, res.Cutoff)
	res.RecordsPurged = purged

	removed, uploadErr := r.pruner.RemoveOrphanedUploads(ctx, res.Cutoff)
	res.UploadsRemoved = len(removed)

	logger := r.logger
	if logger == nil {
		logger = observability.LoggerFromContext(ctx)
	}
	if res.RecordsPurged > 0 || res.UploadsRemoved > 0 {
		logger.Info("retention pass removed expired data",
			slog.Int("records", res.RecordsPurged),
			slog.Int("uploads", res.UploadsRemoved),
			slog.String("max_age", format.Duration(r.maxAge)),
		)
	} else {
		logger.Debug("retention pass found nothing to remove")
	}
	return res, errors.Join(purgeErr, uploadErr)
}
