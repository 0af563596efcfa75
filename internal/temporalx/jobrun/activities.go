package jobrun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/yungbote/bookdraft-backend/internal/data/repos"
	types "github.com/yungbote/bookdraft-backend/internal/domain/jobs"
	"github.com/yungbote/bookdraft-backend/internal/platform/dbctx"
	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
)

// Executor runs one tick of an already-claimed job. The local worker
// implements it.
type Executor interface {
	Execute(ctx context.Context, job *types.JobRun)
}

type Activities struct {
	Log  *logger.Logger
	Jobs repos.JobRunRepo
	Exec Executor
	// HeartbeatEvery is the Temporal activity heartbeat period; zero means 10s.
	HeartbeatEvery time.Duration
}

// Tick runs the job once unless it is terminal. Waiting for available_at is
// the workflow's job, so a queued row is run as soon as it is ticked.
func (a *Activities) Tick(ctx context.Context, jobID string) (TickResult, error) {
	res := TickResult{JobID: strings.TrimSpace(jobID)}
	if a == nil || a.Jobs == nil || a.Exec == nil {
		return res, fmt.Errorf("jobrun: activity not configured")
	}
	id, err := uuid.Parse(res.JobID)
	if err != nil || id == uuid.Nil {
		return res, fmt.Errorf("jobrun: invalid job_id %q", res.JobID)
	}

	job, err := a.loadJob(ctx, id)
	if err != nil {
		return res, err
	}
	if job.Terminal() {
		return fill(res, job), nil
	}

	ok, err := a.Jobs.MarkRunning(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return res, fmt.Errorf("jobrun: mark running: %w", err)
	}
	if ok {
		if job, err = a.loadJob(ctx, id); err != nil {
			return res, err
		}
		stop := a.startHeartbeat(ctx)
		a.Exec.Execute(ctx, job)
		stop()
	}

	updated, err := a.loadJob(ctx, id)
	if err != nil {
		return res, err
	}
	if updated.Status == types.StatusRunning && ok && a.Log != nil {
		a.Log.Warn("Tick ended with job still running", "job_id", id, "job_type", updated.JobType, "stage", updated.Stage)
	}
	return fill(res, updated), nil
}

func fill(res TickResult, job *types.JobRun) TickResult {
	res.Status = job.Status
	res.Stage = job.Stage
	res.Progress = job.Progress
	res.Message = job.Message
	if job.Status == types.StatusFailed && job.Error != "" {
		res.Message = job.Error
	}
	if job.Status == types.StatusQueued && job.AvailableAt != nil {
		t := *job.AvailableAt
		res.WaitUntil = &t
	}
	return res
}

func (a *Activities) loadJob(ctx context.Context, id uuid.UUID) (*types.JobRun, error) {
	rows, err := a.Jobs.GetByIDs(dbctx.Context{Ctx: ctx}, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0] == nil {
		return nil, fmt.Errorf("jobrun: job %s not found", id)
	}
	return rows[0], nil
}

// startHeartbeat records Temporal activity heartbeats while the tick runs.
// The job row's own heartbeat is kept by the executor.
func (a *Activities) startHeartbeat(ctx context.Context) func() {
	every := a.HeartbeatEvery
	if every <= 0 {
		every = 10 * time.Second
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
