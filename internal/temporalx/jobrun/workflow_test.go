package jobrun

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/bookdraft-backend/internal/data/repos/jobs"
	"github.com/yungbote/bookdraft-backend/internal/data/repos/testutil"
	types "github.com/yungbote/bookdraft-backend/internal/domain/jobs"
	jobrt "github.com/yungbote/bookdraft-backend/internal/jobs/runtime"
	"github.com/yungbote/bookdraft-backend/internal/platform/dbctx"
)

// yieldingExec yields `yields` times with a short requeue delay, then succeeds.
type yieldingExec struct {
	repo   jobs.JobRunRepo
	yields int
	calls  int
}

func (e *yieldingExec) Execute(ctx context.Context, job *types.JobRun) {
	e.calls++
	jc := jobrt.NewContext(ctx, job, e.repo, nil)
	jc.RequeueDelay = time.Minute
	if e.calls <= e.yields {
		_ = jc.Yield("draft", "requeued", map[string]any{"tick": e.calls})
		return
	}
	jc.Succeed("done", "drafted", nil)
}

type failingExec struct{ repo jobs.JobRunRepo }

func (e failingExec) Execute(ctx context.Context, job *types.JobRun) {
	jobrt.NewContext(ctx, job, e.repo, nil).Fail("validate", errors.New("missing topic"))
}

type WorkflowSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(WorkflowSuite))
}

func (s *WorkflowSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.env.RegisterWorkflowWithOptions(Workflow, workflow.RegisterOptions{Name: WorkflowName})
}

func (s *WorkflowSuite) AfterTest(_, _ string) {
	s.env.AssertExpectations(s.T())
}

func (s *WorkflowSuite) seed() (jobs.JobRunRepo, *types.JobRun) {
	db := testutil.DB(s.T())
	repo := jobs.NewJobRunRepo(db, testutil.Logger(s.T()))
	job := testutil.SeedJobRun(s.T(), context.Background(), db, "section_draft", "v1", types.StatusQueued, time.Minute, map[string]any{"book_id": "b1"})
	s.env.SetStartWorkflowOptions(client.StartWorkflowOptions{ID: job.ID.String()})
	return repo, job
}

func (s *WorkflowSuite) reload(repo jobs.JobRunRepo, id uuid.UUID) *types.JobRun {
	rows, err := repo.GetByIDs(dbctx.Context{Ctx: context.Background()}, []uuid.UUID{id})
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	return rows[0]
}

func (s *WorkflowSuite) TestYieldedJobIsTickedUntilDone() {
	repo, job := s.seed()
	exec := &yieldingExec{repo: repo, yields: 2}
	acts := &Activities{Log: testutil.Logger(s.T()), Jobs: repo, Exec: exec}
	s.env.RegisterActivityWithOptions(acts.Tick, activity.RegisterOptions{Name: ActivityTick})

	s.env.ExecuteWorkflow(WorkflowName)

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
	s.GreaterOrEqual(exec.calls, 3)

	row := s.reload(repo, job.ID)
	s.Equal(types.StatusSucceeded, row.Status)
	s.Equal(2, row.Yields)
}

func (s *WorkflowSuite) TestFailedJobFailsWorkflow() {
	repo, job := s.seed()
	acts := &Activities{Log: testutil.Logger(s.T()), Jobs: repo, Exec: failingExec{repo: repo}}
	s.env.RegisterActivityWithOptions(acts.Tick, activity.RegisterOptions{Name: ActivityTick})

	s.env.ExecuteWorkflow(WorkflowName)

	s.True(s.env.IsWorkflowCompleted())
	err := s.env.GetWorkflowError()
	s.Require().Error(err)
	s.Contains(err.Error(), "missing topic")
	s.Equal(types.StatusFailed, s.reload(repo, job.ID).Status)
}

func (s *WorkflowSuite) TestWaitsForAvailableAt() {
	acts := &Activities{}
	s.env.RegisterActivityWithOptions(acts.Tick, activity.RegisterOptions{Name: ActivityTick})
	s.env.SetStartWorkflowOptions(client.StartWorkflowOptions{ID: "job-1"})

	start := s.env.Now()
	later := start.Add(5 * time.Minute)
	s.env.OnActivity(ActivityTick, mock.Anything, "job-1").
		Return(TickResult{JobID: "job-1", Status: types.StatusQueued, WaitUntil: &later}, nil).Once()
	s.env.OnActivity(ActivityTick, mock.Anything, "job-1").
		Return(TickResult{JobID: "job-1", Status: types.StatusSucceeded}, nil).Once()

	s.env.ExecuteWorkflow(WorkflowName)

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
	s.False(s.env.Now().Before(later), "workflow slept until available_at")
}

func (s *WorkflowSuite) TestTerminalJobIsNotExecuted() {
	repo, job := s.seed()
	s.Require().NoError(repo.UpdateFields(dbctx.Context{Ctx: context.Background()}, job.ID, map[string]interface{}{
		"status": types.StatusCanceled,
	}))
	exec := &yieldingExec{repo: repo}
	acts := &Activities{Jobs: repo, Exec: exec}
	s.env.RegisterActivityWithOptions(acts.Tick, activity.RegisterOptions{Name: ActivityTick})

	s.env.ExecuteWorkflow(WorkflowName)

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
	s.Zero(exec.calls)
}
