// Package startup provides utilities for application startup tasks.
package startup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/audex/internal/storage"
)

// Recoverer repairs job state left by a previous process.
// *service.ExtractionService implements it.
type Recoverer interface {
	FailUnfinished(ctx context.Context) (int, error)
	RemoveOrphanedUploads(ctx context.Context, cutoff time.Time) ([]string, error)
}

// RecoveryReport summarises what RecoverExtractions changed.
type RecoveryReport struct {
	JobsFailed       int
	UploadsRemoved   int
	WorkFilesRemoved int
}

// RecoverExtractions runs before any job is accepted. Records left pending or
// running are marked failed, since their in-memory pipeline is gone; every
// unreferenced upload is removed; and the engine work directory is emptied of
// job files. workDir may be nil when the engine has no local sandbox.
//
// Each step runs even if an earlier one fails; the errors are joined.
func RecoverExtractions(ctx context.Context, logger *slog.Logger, rec Recoverer, workDir *storage.Sandbox) (RecoveryReport, error) {
	var report RecoveryReport
	var errs []error

	failed, err := rec.FailUnfinished(ctx)
	if err != nil {
		logger.Error("failed to recover unfinished extractions", slog.String("error", err.Error()))
		errs = append(errs, fmt.Errorf("failing unfinished extractions: %w", err))
	}
	report.JobsFailed = failed
	if failed > 0 {
		logger.Warn("marked interrupted extractions as failed", slog.Int("count", failed))
	}

	removed, err := rec.RemoveOrphanedUploads(ctx, time.Now())
	if err != nil {
		logger.Error("failed to remove orphaned uploads", slog.String("error", err.Error()))
		errs = append(errs, fmt.Errorf("removing orphaned uploads: %w", err))
	}
	report.UploadsRemoved = len(removed)
	for _, name := range removed {
		logger.Debug("removed orphaned upload", slog.String("file", name))
	}

	if workDir != nil {
		n, err := workDir.Clear("")
		if err != nil {
			logger.Error("failed to clear engine work directory",
				slog.String("path", workDir.BaseDir()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("clearing engine work directory: %w", err))
		}
		report.WorkFilesRemoved = n
	}

	logger.Info("startup recovery complete",
		slog.Int("jobs_failed", report.JobsFailed),
		slog.Int("uploads_removed", report.UploadsRemoved),
		slog.Int("work_files_removed", report.WorkFilesRemoved),
	)
	return report, errors.Join(errs...)
}
