package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/bookdraft-backend/internal/data/repos/drafting"
	"github.com/yungbote/bookdraft-backend/internal/data/repos/jobs"
	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
)

type JobRunRepo = jobs.JobRunRepo
type GenerationRunRepo = drafting.GenerationRunRepo

type Repos struct {
	JobRun        JobRunRepo
	GenerationRun GenerationRunRepo
}

func New(db *gorm.DB, log *logger.Logger) Repos {
	return Repos{
		JobRun:        jobs.NewJobRunRepo(db, log),
		GenerationRun: drafting.NewGenerationRunRepo(db, log),
	}
}
