package migrations

import (
	"github.com/jmylchreest/audex/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns all registered migrations in order.
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002ExtractionIndexes(),
	}
}

func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create extraction records table",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.ExtractionRecord{})
		},
		Down: func(tx *gorm.DB) error {
			if tx.Migrator().HasTable(&models.ExtractionRecord{}) {
				return tx.Migrator().DropTable(&models.ExtractionRecord{})
			}
			return nil
		},
	}
}

// migration002ExtractionIndexes adds the index retention sweeps query by.
func migration002ExtractionIndexes() Migration {
	const name = "idx_extractions_status_completed"
	return Migration{
		Version:     "002",
		Description: "Index extraction records by status and completion time",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasIndex(&models.ExtractionRecord{}, name) {
				return nil
			}
			return tx.Exec("CREATE INDEX " + name + " ON extraction_records (status, completed_at)").Error
		},
		Down: func(tx *gorm.DB) error {
			if !tx.Migrator().HasIndex(&models.ExtractionRecord{}, name) {
				return nil
			}
			return tx.Migrator().DropIndex(&models.ExtractionRecord{}, name)
		},
	}
}
