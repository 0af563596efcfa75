package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yungbote/bookdraft-backend/internal/data/repos/jobs"
	"github.com/yungbote/bookdraft-backend/internal/data/repos/testutil"
	types "github.com/yungbote/bookdraft-backend/internal/domain/jobs"
	"github.com/yungbote/bookdraft-backend/internal/jobs/runtime"
	"github.com/yungbote/bookdraft-backend/internal/platform/dbctx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

type countdown struct {
	calls atomic.Int32
	ticks int
}

func (c *countdown) Type() string { return "section_draft" }

// Run yields until it has been called ticks times, then succeeds.
func (c *countdown) Run(jc *runtime.Context) error {
	n := int(c.calls.Add(1))
	if n < c.ticks {
		return jc.Yield("draft", "again", map[string]any{"tick": n})
	}
	jc.Succeed("done", "finished", map[string]any{"ticks": n})
	return nil
}

type failing struct{ panics bool }

func (f failing) Type() string { return "broken" }

func (f failing) Run(*runtime.Context) error {
	if f.panics {
		panic("boom")
	}
	return errors.New("provider down")
}

func setup(t *testing.T, handlers ...runtime.Handler) (*Worker, jobs.JobRunRepo, func(jobType string) *types.JobRun) {
	t.Helper()
	db := testutil.DB(t)
	repo := jobs.NewJobRunRepo(db, testutil.Logger(t))
	reg := runtime.NewRegistry()
	for _, h := range handlers {
		require.NoError(t, reg.Register(h))
	}
	w := NewWorker(Config{Concurrency: 2, PollInterval: 10 * time.Millisecond, StaleRunning: time.Hour}, testutil.Logger(t), repo, reg, nil)
	seed := func(jobType string) *types.JobRun {
		return testutil.SeedJobRun(t, context.Background(), db, jobType, "v1", types.StatusQueued, time.Minute, map[string]any{"book_id": "b1"})
	}
	return w, repo, seed
}

func load(t *testing.T, repo jobs.JobRunRepo, id uuid.UUID) *types.JobRun {
	t.Helper()
	rows, err := repo.GetByIDs(dbctx.Context{Ctx: context.Background()}, []uuid.UUID{id})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0]
}

func TestDrainRunsYieldingJobToCompletion(t *testing.T) {
	h := &countdown{ticks: 3}
	w, repo, seed := setup(t, h)
	job := seed("section_draft")

	n, err := w.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	row := load(t, repo, job.ID)
	assert.Equal(t, types.StatusSucceeded, row.Status)
	assert.Equal(t, 2, row.Yields)
	assert.Equal(t, 3, row.Attempts)
	assert.JSONEq(t, `{"ticks":3}`, string(row.Result))
}

func TestHandlerErrorFailsTheJob(t *testing.T) {
	w, repo, seed := setup(t, failing{})
	job := seed("broken")
	_, err := w.Drain(context.Background())
	require.NoError(t, err)
	row := load(t, repo, job.ID)
	assert.Equal(t, types.StatusFailed, row.Status)
	assert.Equal(t, "run", row.Stage)
	assert.Equal(t, "provider down", row.Error)
}

func TestPanicFailsTheJob(t *testing.T) {
	w, repo, seed := setup(t, failing{panics: true})
	job := seed("broken")
	_, err := w.Drain(context.Background())
	require.NoError(t, err)
	row := load(t, repo, job.ID)
	assert.Equal(t, types.StatusFailed, row.Status)
	assert.Equal(t, "panic", row.Stage)
	assert.Equal(t, "panic: boom", row.Error)
}

func TestMissingHandlerFailsTheJob(t *testing.T) {
	w, repo, seed := setup(t)
	job := seed("unknown")
	_, err := w.Drain(context.Background())
	require.NoError(t, err)
	row := load(t, repo, job.ID)
	assert.Equal(t, types.StatusFailed, row.Status)
	assert.Equal(t, "dispatch", row.Stage)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := &countdown{ticks: 2}
	w, repo, seed := setup(t, h)
	job := seed("section_draft")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return load(t, repo, job.ID).Status == types.StatusSucceeded
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
