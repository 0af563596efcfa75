package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yungbote/bookdraft-backend/internal/data/repos"
	types "github.com/yungbote/bookdraft-backend/internal/domain/jobs"
	"github.com/yungbote/bookdraft-backend/internal/jobs/runtime"
	"github.com/yungbote/bookdraft-backend/internal/observability"
	"github.com/yungbote/bookdraft-backend/internal/platform/dbctx"
	"github.com/yungbote/bookdraft-backend/internal/platform/envutil"
	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
)

type Config struct {
	Concurrency       int
	PollInterval      time.Duration
	StaleRunning      time.Duration
	RequeueDelay      time.Duration
	HeartbeatInterval time.Duration
}

func LoadConfig() Config {
	return Config{
		Concurrency:       envutil.IntRange("WORKER_CONCURRENCY", 4, 1, 64),
		PollInterval:      envutil.Duration("WORKER_POLL_INTERVAL", time.Second),
		StaleRunning:      envutil.Duration("WORKER_STALE_RUNNING", 30*time.Minute),
		RequeueDelay:      envutil.Duration("WORKER_REQUEUE_DELAY", 2*time.Second),
		HeartbeatInterval: envutil.Duration("WORKER_HEARTBEAT_INTERVAL", 30*time.Second),
	}
}

type Worker struct {
	cfg      Config
	log      *logger.Logger
	repo     repos.JobRunRepo
	registry *runtime.Registry
	notify   runtime.Notifier
}

func NewWorker(cfg Config, baseLog *logger.Logger, repo repos.JobRunRepo, registry *runtime.Registry, notify runtime.Notifier) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Worker{
		cfg:      cfg,
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		registry: registry,
		notify:   notify,
	}
}

// Run polls for runnable jobs with Concurrency loops and blocks until ctx is
// done and every loop has returned.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Starting job worker pool", "concurrency", w.cfg.Concurrency, "job_types", w.registry.Types())
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.runLoop(ctx, workerID)
		}(i + 1)
	}
	wg.Wait()
	return nil
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			// Drain while there is work so a yielded job with no delay is
			// picked up without waiting for the next tick.
			for ctx.Err() == nil {
				ran, err := w.RunOnce(ctx)
				if err != nil {
					w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
					break
				}
				if !ran {
					break
				}
			}
		}
	}
}

// RunOnce claims and runs at most one tick. ran is false when nothing was
// runnable.
func (w *Worker) RunOnce(ctx context.Context) (ran bool, err error) {
	job, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, w.cfg.StaleRunning)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.Execute(ctx, job)
	return true, nil
}

// Drain runs ticks until no job is runnable right now.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		ran, err := w.RunOnce(ctx)
		if err != nil {
			return n, err
		}
		if !ran {
			return n, nil
		}
		n++
	}
}

// Execute runs the handler for an already-claimed job. It is shared with the
// Temporal activity.
func (w *Worker) Execute(ctx context.Context, job *types.JobRun) {
	jc := runtime.NewContext(ctx, job, w.repo, w.notify)
	jc.RequeueDelay = w.cfg.RequeueDelay
	log := w.log.With("job_id", job.ID, "job_type", job.JobType)

	h, ok := w.registry.Get(job.JobType)
	if !ok {
		log.Warn("No handler registered for job_type")
		jc.Fail("dispatch", &missingHandlerError{JobType: job.JobType})
		return
	}

	stop := w.heartbeat(ctx, job)
	defer stop()

	start := time.Now()
	defer func() {
		observability.Current().ObserveTick(job.JobType, outcomeOf(jc.Job.Status), time.Since(start))
	}()

	defer func() {
		if r := recover(); r != nil {
			log.Error("Job handler panic", "panic", r)
			jc.Fail("panic", errFromRecover(r))
		}
	}()

	if runErr := h.Run(jc); runErr != nil && jc.Job.Status == types.StatusRunning {
		jc.Fail("run", runErr)
	}
}

// heartbeat keeps heartbeat_at fresh while a tick runs so the row is not
// reclaimed as stale.
func (w *Worker) heartbeat(ctx context.Context, job *types.JobRun) func() {
	if w.cfg.HeartbeatInterval <= 0 {
		return func() {}
	}
	hctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(w.cfg.HeartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-hctx.Done():
				return
			case <-t.C:
				if err := w.repo.Heartbeat(dbctx.Context{Ctx: hctx}, job.ID); err != nil {
					w.log.Debug("Heartbeat failed", "job_id", job.ID, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func outcomeOf(status string) string {
	switch status {
	case types.StatusSucceeded:
		return "done"
	case types.StatusQueued:
		return "yield"
	case types.StatusFailed:
		return "failed"
	default:
		return status
	}
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string { return "no handler registered for job_type=" + e.JobType }

func errFromRecover(v any) error { return &panicError{Val: v} }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
