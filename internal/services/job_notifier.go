package services

import (
	"context"
	"time"

	types "github.com/yungbote/bookdraft-backend/internal/domain/jobs"
	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
)

// Publisher delivers a message to subscribers. The redis progress bus
// implements it.
type Publisher interface {
	Publish(ctx context.Context, msg types.Message) error
}

// JobNotifier turns job lifecycle transitions into progress messages. Every
// event is logged; with a publisher it is also published. Publish failures are
// logged and never reach the job.
type JobNotifier struct {
	log     *logger.Logger
	pub     Publisher
	timeout time.Duration
}

func NewJobNotifier(log *logger.Logger, pub Publisher) *JobNotifier {
	return &JobNotifier{log: log.With("service", "JobNotifier"), pub: pub, timeout: 2 * time.Second}
}

func channelFor(job *types.JobRun) string {
	if job.EntityType == "" || job.EntityID == "" {
		return job.ID.String()
	}
	return job.EntityType + ":" + job.EntityID
}

func (n *JobNotifier) emit(job *types.JobRun, ev types.Event, data map[string]any) {
	if n == nil || job == nil {
		return
	}
	data["job_id"] = job.ID
	data["job_type"] = job.JobType
	msg := types.Message{Channel: channelFor(job), Event: ev, Data: data}

	n.log.Debug("Job event", "event", ev, "channel", msg.Channel, "job_id", job.ID, "stage", data["stage"])
	if n.pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.pub.Publish(ctx, msg); err != nil {
		n.log.Warn("Failed to publish job event", "event", ev, "job_id", job.ID, "error", err)
	}
}

func (n *JobNotifier) JobProgress(job *types.JobRun, stage string, progress int, message string) {
	n.emit(job, types.EventJobProgress, map[string]any{
		"stage":    stage,
		"progress": progress,
		"message":  message,
	})
}

func (n *JobNotifier) JobYielded(job *types.JobRun, stage string, message string) {
	data := map[string]any{
		"stage":   stage,
		"message": message,
		"yields":  job.Yields,
	}
	if job.AvailableAt != nil {
		data["available_at"] = job.AvailableAt.UTC().Format(time.RFC3339)
	}
	n.emit(job, types.EventJobYielded, data)
}

func (n *JobNotifier) JobFailed(job *types.JobRun, stage string, errorMessage string) {
	n.emit(job, types.EventJobFailed, map[string]any{
		"stage": stage,
		"error": errorMessage,
	})
}

func (n *JobNotifier) JobDone(job *types.JobRun) {
	n.emit(job, types.EventJobDone, map[string]any{
		"stage":   job.Stage,
		"message": job.Message,
		"result":  job.Result,
	})
}
