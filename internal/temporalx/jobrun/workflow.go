package jobrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"

	types "github.com/yungbote/bookdraft-backend/internal/domain/jobs"
)

const (
	defaultPollInterval  = 2 * time.Second
	maxWait              = 15 * time.Minute
	continueTickLimit    = 2000
	continueHistoryLimit = 15000
)

// Workflow drives one job_run row to a terminal status. The workflow id is the
// job id. Each activity call is one tick; a yielded job is slept on until its
// available_at and ticked again.
func Workflow(ctx workflow.Context) error {
	jobID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if jobID == "" {
		return fmt.Errorf("jobrun: missing job_id")
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		// Retries are the drafting engine's own yield/requeue; a failed
		// activity is an infrastructure error.
		RetryPolicy: nil,
	})

	ticks := 0
	for {
		ticks++
		var out TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, jobID).Get(ctx, &out); err != nil {
			return err
		}

		switch strings.ToLower(strings.TrimSpace(out.Status)) {
		case types.StatusSucceeded, types.StatusCanceled:
			return nil
		case types.StatusFailed:
			return fmt.Errorf("job failed (stage=%s): %s", strings.TrimSpace(out.Stage), strings.TrimSpace(out.Message))
		}

		if d := nextWait(ctx, out.WaitUntil); d > 0 {
			if err := workflow.Sleep(ctx, d); err != nil {
				return err
			}
		}
		if shouldContinueAsNew(ctx, ticks) {
			return workflow.NewContinueAsNewError(ctx, Workflow)
		}
	}
}

func nextWait(ctx workflow.Context, waitUntil *time.Time) time.Duration {
	if waitUntil == nil || waitUntil.IsZero() {
		return defaultPollInterval
	}
	d := waitUntil.Sub(workflow.Now(ctx))
	if d <= 0 {
		return 0
	}
	if d > maxWait {
		return maxWait
	}
	return d
}

func shouldContinueAsNew(ctx workflow.Context, ticks int) bool {
	if ticks >= continueTickLimit {
		return true
	}
	info := workflow.GetInfo(ctx)
	return info != nil && info.GetCurrentHistoryLength() >= continueHistoryLimit
}
