package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmylchreest/audex/internal/models"
	"gorm.io/gorm"
)

const defaultListLimit = 50

// extractionRepo implements ExtractionRepository using GORM.
type extractionRepo struct {
	db *gorm.DB
}

// NewExtractionRepository creates a new ExtractionRepository.
func NewExtractionRepository(db *gorm.DB) *extractionRepo {
	return &extractionRepo{db: db}
}

// Create creates a new record.
func (r *extractionRepo) Create(ctx context.Context, record *models.ExtractionRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("creating extraction record: %w", err)
	}
	return nil
}

// GetByID retrieves a record by ID.
func (r *extractionRepo) GetByID(ctx context.Context, id models.ULID) (*models.ExtractionRecord, error) {
	var record models.ExtractionRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("extraction %s: %w", id, models.ErrExtractionNotFound)
		}
		return nil, fmt.Errorf("getting extraction by ID: %w", err)
	}
	return &record, nil
}

// List returns records newest first.
func (r *extractionRepo) List(ctx context.Context, filter ExtractionFilter) ([]*models.ExtractionRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.ExtractionRecord{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting extractions: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	var records []*models.ExtractionRecord
	if err := query.Order("created_at DESC, id DESC").Offset(filter.Offset).Limit(limit).Find(&records).Error; err != nil {
		return nil, 0, fmt.Errorf("listing extractions: %w", err)
	}
	return records, total, nil
}

// Update saves every field of record.
func (r *extractionRepo) Update(ctx context.Context, record *models.ExtractionRecord) error {
	if err := r.db.WithContext(ctx).Save(record).Error; err != nil {
		return fmt.Errorf("updating extraction record: %w", err)
	}
	return nil
}

// UpdateProgress stores the latest progress. UpdateColumns skips hooks and
// leaves updated_at alone.
func (r *extractionRepo) UpdateProgress(ctx context.Context, id models.ULID, stage string, percent int, message string) error {
	result := r.db.WithContext(ctx).Model(&models.ExtractionRecord{}).Where("id = ?", id).
		UpdateColumns(map[string]any{
			"stage":   stage,
			"percent": percent,
			"message": message,
		})
	if result.Error != nil {
		return fmt.Errorf("updating extraction progress: %w", result.Error)
	}
	return nil
}

// Delete removes a record.
func (r *extractionRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.ExtractionRecord{}).Error; err != nil {
		return fmt.Errorf("deleting extraction record: %w", err)
	}
	return nil
}

// GetFinishedBefore returns terminal records that completed before the cutoff.
func (r *extractionRepo) GetFinishedBefore(ctx context.Context, before time.Time) ([]*models.ExtractionRecord, error) {
	var records []*models.ExtractionRecord
	if err := r.db.WithContext(ctx).
		Where("status IN (?, ?) AND completed_at < ?",
			models.ExtractionStatusCompleted, models.ExtractionStatusFailed, before).
		Order("completed_at ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("getting finished extractions: %w", err)
	}
	return records, nil
}

// GetUnfinished returns records left pending or running.
func (r *extractionRepo) GetUnfinished(ctx context.Context) ([]*models.ExtractionRecord, error) {
	var records []*models.ExtractionRecord
	if err := r.db.WithContext(ctx).
		Where("status IN (?, ?)", models.ExtractionStatusPending, models.ExtractionStatusRunning).
		Order("created_at ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("getting unfinished extractions: %w", err)
	}
	return records, nil
}

// CountByStatus returns the number of records per status.
func (r *extractionRepo) CountByStatus(ctx context.Context) (map[models.ExtractionStatus]int64, error) {
	var rows []struct {
		Status models.ExtractionStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&models.ExtractionRecord{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting extractions by status: %w", err)
	}

	counts := make(map[models.ExtractionStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// Ensure extractionRepo implements ExtractionRepository at compile time.
var _ ExtractionRepository = (*extractionRepo)(nil)
