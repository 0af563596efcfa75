package section_draft

import (
	"github.com/yungbote/bookdraft-backend/internal/data/repos"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/draftcfg"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/steps"
	"github.com/yungbote/bookdraft-backend/internal/platform/llm"
	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
)

const (
	JobType = "section_draft"
	// EntityType scopes the single-writer check: one running tick per book version.
	EntityType = "book_version"
)

type Pipeline struct {
	log   *logger.Logger
	jobs  repos.JobRunRepo
	runs  steps.GenerationRunRecorder
	store steps.SkeletonStore
	ai    llm.Generator
	cfg   draftcfg.Config
}

func New(
	baseLog *logger.Logger,
	jobs repos.JobRunRepo,
	runs steps.GenerationRunRecorder,
	store steps.SkeletonStore,
	ai llm.Generator,
	cfg draftcfg.Config,
) *Pipeline {
	return &Pipeline{
		log:   baseLog.With("job", JobType),
		jobs:  jobs,
		runs:  runs,
		store: store,
		ai:    ai,
		cfg:   cfg,
	}
}

func (p *Pipeline) Type() string { return JobType }
