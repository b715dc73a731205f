package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/codecconf/internal/models"
)

// AllMigrations returns all registered migrations in order.
//   - 001: runs and case_results tables
//   - 002: composite indexes for case history and status listings
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002HistoryIndexes(),
	}
}

func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create runs and case_results tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.Run{}, &models.CaseResult{})
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.CaseResult{}, &models.Run{})
		},
	}
}

type index struct {
	model   any
	name    string
	table   string
	columns string
}

var historyIndexes = []index{
	{&models.CaseResult{}, "idx_case_results_history", "case_results", "case_name, created_at"},
	{&models.Run{}, "idx_runs_status_started", "runs", "status, started_at"},
}

func migration002HistoryIndexes() Migration {
	return Migration{
		Version:     "002",
		Description: "Add case history and run status indexes",
		Up: func(tx *gorm.DB) error {
			for _, idx := range historyIndexes {
				if tx.Migrator().HasIndex(idx.model, idx.name) {
					continue
				}
				if err := tx.Exec("CREATE INDEX " + idx.name + " ON " + idx.table + " (" + idx.columns + ")").Error; err != nil {
					return err
				}
			}
			return nil
		},
		Down: func(tx *gorm.DB) error {
			for _, idx := range historyIndexes {
				if !tx.Migrator().HasIndex(idx.model, idx.name) {
					continue
				}
				if err := tx.Migrator().DropIndex(idx.model, idx.name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
