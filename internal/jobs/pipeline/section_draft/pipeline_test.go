package section_draft

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	draftrepo "github.com/yungbote/bookdraft-backend/internal/data/repos/drafting"
	"github.com/yungbote/bookdraft-backend/internal/data/repos/jobs"
	"github.com/yungbote/bookdraft-backend/internal/data/repos/testutil"
	types "github.com/yungbote/bookdraft-backend/internal/domain/jobs"
	jobrt "github.com/yungbote/bookdraft-backend/internal/jobs/runtime"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/attempt"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/draftcfg"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/skeleton"
	"github.com/yungbote/bookdraft-backend/internal/platform/dbctx"
	"github.com/yungbote/bookdraft-backend/internal/platform/gcp"
	"github.com/yungbote/bookdraft-backend/internal/platform/llm"
)

type scriptedGen struct {
	replies []map[string]any
	errs    []error
	calls   int
}

func (g *scriptedGen) Generate(_ context.Context, _ llm.Request) (map[string]any, error) {
	i := g.calls
	g.calls++
	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	if i < len(g.replies) {
		return g.replies[i], nil
	}
	return nil, fmt.Errorf("unexpected call %d", i)
}

type harness struct {
	db   *gorm.DB
	jobs jobs.JobRunRepo
	runs draftrepo.GenerationRunRepo
	gen  *scriptedGen
	p    *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	mem := gcp.NewMemoryStore()
	sk := skeleton.Skeleton{
		Meta: skeleton.Meta{BookID: "b1", VersionID: "v1", SchemaVersion: skeleton.SchemaVersion},
		Chapters: []skeleton.Chapter{{
			Title: "Zorg",
			Sections: []skeleton.Section{{ID: "3.1", Title: "3.1 Hygiëne", Blocks: skeleton.Blocks{
				&skeleton.Subparagraph{Title: "3.1.1 Handen wassen"},
				&skeleton.Subparagraph{Title: "3.1.2 Desinfecteren"},
			}}},
		}},
	}
	require.NoError(t, mem.UploadJSON(context.Background(), "skeletons", skeleton.SkeletonPath("b1", "v1"), sk, true))

	h := &harness{
		db:   db,
		jobs: jobs.NewJobRunRepo(db, log),
		runs: draftrepo.NewGenerationRunRepo(db, log),
		gen:  &scriptedGen{},
	}
	h.p = New(log, h.jobs, h.runs, skeleton.NewStore(log, mem, "skeletons"), h.gen, draftcfg.Defaults())
	return h
}

func payload() map[string]any {
	return map[string]any{
		"organization_id": "org",
		"book_id":         "b1",
		"book_version_id": "v1",
		"chapter_index":   0,
		"section_index":   0,
		"topic":           "Handhygiëne",
		"language":        "nl",
		"audience":        "foundation",
		"model":           "openai:gpt-test",
		"density_profile": "auto",
		"heading_density": "low",
	}
}

// claim seeds a queued job and claims it like the worker does.
func (h *harness) claim(t *testing.T, p map[string]any) *jobrt.Context {
	t.Helper()
	testutil.SeedJobRun(t, context.Background(), h.db, JobType, "v1", types.StatusQueued, time.Minute, p)
	job, err := h.jobs.ClaimNextRunnable(dbctx.Context{Ctx: context.Background()}, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, job)
	return jobrt.NewContext(context.Background(), job, h.jobs, nil)
}

func (h *harness) reload(t *testing.T, id uuid.UUID) *types.JobRun {
	t.Helper()
	rows, err := h.jobs.GetByIDs(dbctx.Context{Ctx: context.Background()}, []uuid.UUID{id})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0]
}

func para(term string) map[string]any {
	return map[string]any{
		"type":      "paragraph",
		"basisHtml": fmt.Sprintf("<p>Bij de zorg is <strong>%s</strong> een vast onderdeel van elke handeling.</p>", term),
	}
}

func sub(title string, terms ...string) map[string]any {
	blocks := make([]any, 0, len(terms))
	for _, term := range terms {
		blocks = append(blocks, para(term))
	}
	return map[string]any{"type": "subparagraph", "title": title, "blocks": blocks}
}

func TestRunSucceedsAndRecordsLedger(t *testing.T) {
	h := newHarness(t)
	h.gen.replies = []map[string]any{{
		"title": "3.1 Hygiëne",
		"blocks": []any{
			sub("3.1.1 Handen wassen", "zeep", "water"),
			sub("3.1.2 Desinfecteren", "handalcohol", "inwerktijd"),
		},
	}}
	jc := h.claim(t, payload())

	require.NoError(t, h.p.Run(jc))

	row := h.reload(t, jc.Job.ID)
	assert.Equal(t, types.StatusSucceeded, row.Status, row.Error)
	var res map[string]any
	require.NoError(t, json.Unmarshal(row.Result, &res))
	assert.Equal(t, "3.1", res["section_id"])
	assert.Equal(t, "section", res["mode"])

	runs, err := h.runs.ListBySection(dbctx.Context{Ctx: context.Background()}, "b1", "v1", "3.1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, jc.Job.ID, *runs[0].JobID)
}

func TestRunYieldsWithPatchedPayloadOnTimeout(t *testing.T) {
	h := newHarness(t)
	h.gen.errs = []error{&llm.TimeoutError{Provider: llm.ProviderOpenAI, Model: "gpt-test"}}
	jc := h.claim(t, payload())

	require.NoError(t, h.p.Run(jc))

	row := h.reload(t, jc.Job.ID)
	assert.Equal(t, types.StatusQueued, row.Status)
	assert.Equal(t, 1, row.Yields)
	var p map[string]any
	require.NoError(t, json.Unmarshal(row.Payload, &p))
	next := attempt.FromPayload(p)
	assert.Equal(t, 1, next.TimeoutAttempts)
	assert.Less(t, next.MaxTokens, draftcfg.Defaults().DefaultMaxTokens)
	assert.Equal(t, "Handhygiëne", p["topic"], "request fields survive the patch")
}

func TestRunWaitsWhileVersionIsBusy(t *testing.T) {
	h := newHarness(t)
	other := testutil.SeedJobRun(t, context.Background(), h.db, JobType, "v1", types.StatusRunning, time.Hour, payload())
	jc := h.claim(t, payload())
	require.NotEqual(t, other.ID, jc.Job.ID)

	require.NoError(t, h.p.Run(jc))

	row := h.reload(t, jc.Job.ID)
	assert.Equal(t, types.StatusQueued, row.Status)
	assert.Equal(t, "waiting", row.Stage)
	assert.Zero(t, h.gen.calls)
	var p map[string]any
	require.NoError(t, json.Unmarshal(row.Payload, &p))
	next := attempt.FromPayload(p)
	assert.Zero(t, next.DraftAttempts, "waiting does not spend attempts")
	assert.Zero(t, next.TimeoutAttempts)
	assert.Empty(t, next.MustFix)
}

func TestRunOlderOfTwoClaimedJobsProceeds(t *testing.T) {
	h := newHarness(t)
	h.gen.replies = []map[string]any{{
		"title": "3.1 Hygiëne",
		"blocks": []any{
			sub("3.1.1 Handen wassen", "zeep", "water"),
			sub("3.1.2 Desinfecteren", "handalcohol", "inwerktijd"),
		},
	}}
	ctx := context.Background()
	testutil.SeedJobRun(t, ctx, h.db, JobType, "v1", types.StatusQueued, 2*time.Minute, payload())
	testutil.SeedJobRun(t, ctx, h.db, JobType, "v1", types.StatusQueued, time.Minute, payload())
	first, err := h.jobs.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, time.Hour)
	require.NoError(t, err)
	second, err := h.jobs.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.NotNil(t, second)

	busy, err := h.jobs.HasEarlierRunningForEntity(dbctx.Context{Ctx: ctx}, second)
	require.NoError(t, err)
	assert.True(t, busy, "the newer runner defers")

	require.NoError(t, h.p.Run(jobrt.NewContext(ctx, first, h.jobs, nil)))
	row := h.reload(t, first.ID)
	assert.Equal(t, types.StatusSucceeded, row.Status, row.Error)
	assert.Equal(t, 1, h.gen.calls)
}

func TestRunFailsOnBadPayload(t *testing.T) {
	cases := map[string]func(p map[string]any){
		"missing topic":   func(p map[string]any) { delete(p, "topic") },
		"missing chapter": func(p map[string]any) { delete(p, "chapter_index") },
		"unknown model":   func(p map[string]any) { p["model"] = "mistral:large" },
		"bad language":    func(p map[string]any) { p["language"] = "de" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			p := payload()
			mutate(p)
			jc := h.claim(t, p)

			require.NoError(t, h.p.Run(jc))

			row := h.reload(t, jc.Job.ID)
			assert.Equal(t, types.StatusFailed, row.Status)
			assert.Equal(t, "validate", row.Stage)
			assert.Contains(t, row.Error, "config error")
			assert.Zero(t, h.gen.calls)
		})
	}
}
