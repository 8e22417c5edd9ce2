// Package migrations versions the audex schema. Each migration runs in its
// own transaction and is recorded in schema_migrations.
package migrations

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/audex/internal/observability"
)

// Migration is one schema change. Down may be nil for irreversible changes.
type Migration struct {
	Version     string
	Description string
	Up          func(tx *gorm.DB) error
	Down        func(tx *gorm.DB) error
}

// Record is the row kept for an applied migration.
type Record struct {
	ID          uint      `gorm:"primarykey"`
	Version     string    `gorm:"uniqueIndex;not null"`
	Description string    `gorm:"not null"`
	AppliedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for migration records.
func (Record) TableName() string {
	return "schema_migrations"
}

// Status describes one known migration.
type Status struct {
	Version     string     `json:"version"`
	Description string     `json:"description"`
	Applied     bool       `json:"applied"`
	AppliedAt   *time.Time `json:"applied_at,omitempty"`
}

// Migrator applies and rolls back a fixed, version-ordered set of migrations.
type Migrator struct {
	db         *gorm.DB
	logger     *slog.Logger
	migrations []Migration
}

// NewMigrator creates a migrator for the given migrations. A nil logger uses
// the default.
func NewMigrator(db *gorm.DB, logger *slog.Logger, migrations ...Migration) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	sorted := slices.Clone(migrations)
	slices.SortFunc(sorted, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return &Migrator{
		db:         db,
		logger:     observability.WithComponent(logger, "migrations"),
		migrations: sorted,
	}
}

// Up applies every pending migration in version order and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		logger := m.logger.With(slog.String("version", mig.Version))
		logger.InfoContext(ctx, "applying migration", slog.String("description", mig.Description))

		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := mig.Up(tx); err != nil {
				return err
			}
			return tx.Create(&Record{
				Version:     mig.Version,
				Description: mig.Description,
				AppliedAt:   time.Now().UTC(),
			}).Error
		})
		if err != nil {
			return count, fmt.Errorf("applying migration %s: %w", mig.Version, err)
		}
		count++
	}
	return count, nil
}

// Down rolls back the most recently applied migration. It returns the
// rolled-back version, or "" when nothing was applied.
func (m *Migrator) Down(ctx context.Context) (string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return "", err
	}

	var last Record
	err := m.db.WithContext(ctx).Order("version DESC").First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("finding last migration: %w", err)
	}

	idx := slices.IndexFunc(m.migrations, func(mig Migration) bool { return mig.Version == last.Version })
	if idx < 0 {
		return "", fmt.Errorf("migration %s is applied but unknown to this build", last.Version)
	}
	mig := m.migrations[idx]
	if mig.Down == nil {
		return "", fmt.Errorf("migration %s cannot be rolled back", mig.Version)
	}

	m.logger.InfoContext(ctx, "rolling back migration",
		slog.String("version", mig.Version),
		slog.String("description", mig.Description),
	)
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := mig.Down(tx); err != nil {
			return err
		}
		return tx.Where("version = ?", mig.Version).Delete(&Record{}).Error
	})
	if err != nil {
		return "", fmt.Errorf("rolling back migration %s: %w", mig.Version, err)
	}
	return mig.Version, nil
}

// Status reports every known migration and whether it has been applied.
func (m *Migrator) Status(ctx context.Context) ([]Status, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Status, 0, len(m.migrations))
	for _, mig := range m.migrations {
		s := Status{Version: mig.Version, Description: mig.Description}
		if rec, ok := applied[mig.Version]; ok {
			s.Applied = true
			s.AppliedAt = &rec.AppliedAt
		}
		out = append(out, s)
	}
	return out, nil
}

// Pending returns the migrations Up would apply.
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	var pending []Migration
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; !ok {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	if err := m.db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}
	return nil
}

// applied returns applied records keyed by version.
func (m *Migrator) applied(ctx context.Context) (map[string]Record, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	var records []Record
	if err := m.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	out := make(map[string]Record, len(records))
	for _, r := range records {
		out[r.Version] = r
	}
	return out, nil
}
