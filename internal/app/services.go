package app

import (
	"fmt"

	"github.com/yungbote/bookdraft-backend/internal/data/repos"
	"github.com/yungbote/bookdraft-backend/internal/jobs/pipeline/section_draft"
	jobrt "github.com/yungbote/bookdraft-backend/internal/jobs/runtime"
	"github.com/yungbote/bookdraft-backend/internal/jobs/worker"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/skeleton"
	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
	"github.com/yungbote/bookdraft-backend/internal/services"
)

type Services struct {
	Skeletons *skeleton.Store
	Notifier  *services.JobNotifier
	Registry  *jobrt.Registry
	Worker    *worker.Worker
}

func wireServices(log *logger.Logger, cfg Config, reposet repos.Repos, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	skeletons := skeleton.NewStore(log, clients.Blobs, cfg.Storage.Bucket)

	var pub services.Publisher
	if clients.Progress != nil {
		pub = clients.Progress
	}
	notifier := services.NewJobNotifier(log, pub)

	registry := jobrt.NewRegistry()
	draft := section_draft.New(log, reposet.JobRun, reposet.GenerationRun, skeletons, clients.LLM, cfg.Draft)
	if err := registry.Register(draft); err != nil {
		return Services{}, fmt.Errorf("register %s: %w", draft.Type(), err)
	}

	return Services{
		Skeletons: skeletons,
		Notifier:  notifier,
		Registry:  registry,
		Worker:    worker.NewWorker(cfg.Worker, log, reposet.JobRun, registry, notifier),
	}, nil
}
