package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/yungbote/bookdraft-backend/internal/domain/jobs"
	"github.com/yungbote/bookdraft-backend/internal/jobs/runtime"
	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
)

var _ runtime.Notifier = (*JobNotifier)(nil)

type capture struct {
	msgs []types.Message
	err  error
}

func (c *capture) Publish(_ context.Context, msg types.Message) error {
	c.msgs = append(c.msgs, msg)
	return c.err
}

func TestJobNotifierPublishesOnVersionChannel(t *testing.T) {
	pub := &capture{}
	n := NewJobNotifier(logger.NewNop(), pub)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := &types.JobRun{ID: uuid.New(), JobType: "section_draft", EntityType: "book_version", EntityID: "v1", Yields: 2, AvailableAt: &at}

	n.JobProgress(job, "draft", 20, "Drafting 3.1")
	n.JobYielded(job, "requeued", "timeout; retrying with 6000 tokens")
	n.JobFailed(job, "validate", "missing topic")

	require.Len(t, pub.msgs, 3)
	for _, m := range pub.msgs {
		assert.Equal(t, "book_version:v1", m.Channel)
		assert.Equal(t, job.ID, m.Data["job_id"])
	}
	assert.Equal(t, types.EventJobProgress, pub.msgs[0].Event)
	assert.Equal(t, 20, pub.msgs[0].Data["progress"])
	assert.Equal(t, "2026-03-01T12:00:00Z", pub.msgs[1].Data["available_at"])
	assert.Equal(t, "missing topic", pub.msgs[2].Data["error"])
}

func TestJobNotifierSwallowsPublishErrors(t *testing.T) {
	pub := &capture{err: errors.New("redis down")}
	n := NewJobNotifier(logger.NewNop(), pub)
	job := &types.JobRun{ID: uuid.New(), JobType: "section_draft"}

	assert.NotPanics(t, func() { n.JobDone(job) })
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, job.ID.String(), pub.msgs[0].Channel)

	assert.NotPanics(t, func() { NewJobNotifier(logger.NewNop(), nil).JobDone(job) })
}
