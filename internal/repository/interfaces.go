// Package repository defines data access interfaces for audex entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/audex/internal/models"
)

// ExtractionFilter narrows a List query.
type ExtractionFilter struct {
	Status models.ExtractionStatus
	Offset int
	Limit  int
}

// ExtractionRepository defines operations for extraction record persistence.
type ExtractionRepository interface {
	// Create creates a new record.
	Create(ctx context.Context, record *models.ExtractionRecord) error
	// GetByID retrieves a record by ID, returning models.ErrExtractionNotFound when absent.
	GetByID(ctx context.Context, id models.ULID) (*models.ExtractionRecord, error)
	// List returns records newest first, with the total matching count.
	List(ctx context.Context, filter ExtractionFilter) ([]*models.ExtractionRecord, int64, error)
	// Update saves every field of record.
	Update(ctx context.Context, record *models.ExtractionRecord) error
	// UpdateProgress stores the latest progress without touching other fields.
	UpdateProgress(ctx context.Context, id models.ULID, stage string, percent int, message string) error
	// Delete permanently deletes a record.
	Delete(ctx context.Context, id models.ULID) error
	// GetFinishedBefore returns terminal records that completed before the cutoff.
	GetFinishedBefore(ctx context.Context, before time.Time) ([]*models.ExtractionRecord, error)
	// GetUnfinished returns records left pending or running.
	GetUnfinished(ctx context.Context) ([]*models.ExtractionRecord, error)
	// CountByStatus returns the number of records per status.
	CountByStatus(ctx context.Context) (map[models.ExtractionStatus]int64, error)
}
