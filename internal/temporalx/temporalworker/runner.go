package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/bookdraft-backend/internal/data/repos"
	"github.com/yungbote/bookdraft-backend/internal/platform/envutil"
	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
	"github.com/yungbote/bookdraft-backend/internal/temporalx"
	"github.com/yungbote/bookdraft-backend/internal/temporalx/jobrun"
)

type Runner struct {
	log  *logger.Logger
	cfg  temporalx.Config
	tc   temporalsdkclient.Client
	jobs repos.JobRunRepo
	exec jobrun.Executor
}

func NewRunner(log *logger.Logger, cfg temporalx.Config, tc temporalsdkclient.Client, jobs repos.JobRunRepo, exec jobrun.Executor) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if jobs == nil || exec == nil {
		return nil, fmt.Errorf("temporal worker missing deps")
	}
	return &Runner{log: log.With("component", "TemporalWorker"), cfg: cfg, tc: tc, jobs: jobs, exec: exec}, nil
}

// Run starts the Temporal worker, retrying start until
// TEMPORAL_WORKER_START_MAX_WAIT_SECONDS, and blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	maxWait := envutil.Seconds("TEMPORAL_WORKER_START_MAX_WAIT_SECONDS", 60*time.Second)
	deadline := time.Now().Add(maxWait)
	r.log.Info("Starting Temporal worker", "address", r.cfg.Address, "namespace", r.cfg.Namespace, "task_queue", r.cfg.TaskQueue)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		w := r.newWorker()
		startErr := w.Start()
		if startErr == nil {
			r.log.Info("Temporal worker started", "task_queue", r.cfg.TaskQueue, "attempts", attempt)
			<-ctx.Done()
			w.Stop()
			r.log.Info("Temporal worker stopped")
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		missingNamespace := errors.As(startErr, &nfe)
		if missingNamespace && r.cfg.AutoRegisterNamespace {
			if err := temporalx.EnsureNamespace(ctx, r.log, r.cfg); err != nil {
				r.log.Warn("Temporal namespace ensure failed", "namespace", r.cfg.Namespace, "error", err)
			}
		}
		if maxWait <= 0 || time.Now().After(deadline) {
			if missingNamespace {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", r.cfg.Namespace, startErr)
			}
			return startErr
		}
		r.log.Warn("Temporal worker failed to start; retrying", "attempt", attempt, "error", startErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(temporalx.Backoff(r.cfg.DialBackoff, r.cfg.DialBackoffMax, attempt)):
		}
	}
}

func (r *Runner) newWorker() worker.Worker {
	concurrency := envutil.IntRange("WORKER_CONCURRENCY", 4, 1, 64)
	w := worker.New(r.tc, r.cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})
	Register(w, &jobrun.Activities{Log: r.log, Jobs: r.jobs, Exec: r.exec})
	return w
}

// Register binds the job_run workflow and tick activity under their stable
// names.
func Register(reg worker.Registry, acts *jobrun.Activities) {
	reg.RegisterWorkflowWithOptions(jobrun.Workflow, workflow.RegisterOptions{Name: jobrun.WorkflowName})
	reg.RegisterActivityWithOptions(acts.Tick, activity.RegisterOptions{Name: jobrun.ActivityTick})
}

// StartJob starts (or attaches to) the workflow for a job row. The workflow
// id is the job id, so starting twice is a no-op.
func StartJob(ctx context.Context, tc temporalsdkclient.Client, cfg temporalx.Config, jobID string) error {
	_, err := tc.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:        jobID,
		TaskQueue: cfg.TaskQueue,
	}, jobrun.WorkflowName)
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		return nil
	}
	return err
}
