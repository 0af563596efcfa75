package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/bookdraft-backend/internal/data/db"
	"github.com/yungbote/bookdraft-backend/internal/data/repos"
	"github.com/yungbote/bookdraft-backend/internal/observability"
	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
	"github.com/yungbote/bookdraft-backend/internal/temporalx/temporalworker"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	DB       *db.Service
	Repos    repos.Repos
	Clients  Clients
	Services Services

	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	shutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "bookdraft",
		Environment: cfg.Environment,
		Version:     cfg.Version,
		WorkerMode:  workerMode(cfg),
		TaskQueue:   cfg.Temporal.TaskQueue,
	})
	if observability.Enabled() {
		observability.Init(log)
	}

	dbs, err := db.Open(log, cfg.DB)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	reposet := wireRepos(dbs.DB(), log)

	clientset, err := wireClients(ctx, log, cfg)
	if err != nil {
		_ = dbs.Close()
		log.Sync()
		return nil, err
	}

	serviceset, err := wireServices(log, cfg, reposet, clientset)
	if err != nil {
		clientset.Close()
		_ = dbs.Close()
		log.Sync()
		return nil, err
	}

	return &App{
		Log:          log,
		Cfg:          cfg,
		DB:           dbs,
		Repos:        reposet,
		Clients:      clientset,
		Services:     serviceset,
		otelShutdown: shutdown,
	}, nil
}

// TemporalEnabled reports whether jobs are driven by Temporal workflows
// instead of the local poll loop.
func workerMode(cfg Config) string {
	if cfg.Temporal.Enabled() {
		return "temporal"
	}
	return "local"
}

func (a *App) TemporalEnabled() bool { return a != nil && a.Clients.Temporal != nil }

// RunWorker executes jobs until ctx is done. With Temporal configured the
// Temporal worker runs the tick activity; otherwise the local pool polls
// job_run directly.
func (a *App) RunWorker(ctx context.Context) error {
	if a == nil {
		return fmt.Errorf("app not initialized")
	}
	g, gctx := errgroup.WithContext(ctx)

	if m := observability.Current(); m != nil {
		m.StartServer(gctx, a.Log, a.Cfg.MetricsAddr)
		m.StartJobQueueCollector(gctx, a.Log, a.DB.DB())
	}

	if a.TemporalEnabled() {
		runner, err := temporalworker.NewRunner(a.Log, a.Cfg.Temporal, a.Clients.Temporal, a.Repos.JobRun, a.Services.Worker)
		if err != nil {
			return err
		}
		g.Go(func() error { return runner.Run(gctx) })
	} else {
		g.Go(func() error { return a.Services.Worker.Run(gctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) Close() {
	if a == nil {
		return
	}
	a.Clients.Close()
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
