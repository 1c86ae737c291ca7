package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/clipforge/internal/models"
)

const retentionIndex = "idx_export_jobs_state_finished"

// AllMigrations returns all registered migrations in order.
//   - 001: export_jobs table
//   - 002: composite index used by the retention sweep
func AllMigrations() []Migration {
	return []Migration{
		migration001ExportJobs(),
		migration002RetentionIndex(),
	}
}

func migration001ExportJobs() Migration {
	return Migration{
		Version:     "001",
		Description: "Create export_jobs table",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.ExportJob{})
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.ExportJob{})
		},
	}
}

func migration002RetentionIndex() Migration {
	return Migration{
		Version:     "002",
		Description: "Index export_jobs by state and finished_at",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasIndex(&models.ExportJob{}, retentionIndex) {
				return nil
			}
			return tx.Exec("CREATE INDEX " + retentionIndex + " ON export_jobs (state, finished_at)").Error
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropIndex(&models.ExportJob{}, retentionIndex)
		},
	}
}
