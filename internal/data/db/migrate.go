package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/bookdraft-backend/internal/domain/drafting"
	"github.com/yungbote/bookdraft-backend/internal/domain/jobs"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		// =========================
		// Job queue
		// =========================
		&jobs.JobRun{},

		// =========================
		// Drafting ledger
		// =========================
		&drafting.GenerationRun{},
	); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}
