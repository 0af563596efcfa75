package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/bookdraft-backend/internal/data/repos"
	types "github.com/yungbote/bookdraft-backend/internal/domain/jobs"
	"github.com/yungbote/bookdraft-backend/internal/jobs/pipeline/section_draft"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/skeleton"
	"github.com/yungbote/bookdraft-backend/internal/platform/dbctx"
	"github.com/yungbote/bookdraft-backend/internal/platform/llm"
	"github.com/yungbote/bookdraft-backend/internal/temporalx/temporalworker"
)

// SectionDraftRequest is everything a section_draft job needs on its first
// tick. Attempt counters start at zero and are carried in the payload after.
type SectionDraftRequest struct {
	OrganizationID    string
	BookID            string
	VersionID         string
	ChapterIndex      int
	SectionIndex      int
	Topic             string
	Language          string
	Audience          string
	Model             string
	UserInstructions  string
	DensityProfile    string
	HeadingDensity    string
	PraktijkTargets   []string
	VerdiepingTargets []string
	RequireImages     bool
}

func (r SectionDraftRequest) validate() error {
	var missing []string
	for _, f := range [][2]string{
		{"organization_id", r.OrganizationID},
		{"book_id", r.BookID},
		{"book_version_id", r.VersionID},
		{"topic", r.Topic},
	} {
		if strings.TrimSpace(f[1]) == "" {
			missing = append(missing, f[0])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("section_draft: missing %s", strings.Join(missing, ", "))
	}
	if r.ChapterIndex < 0 || r.SectionIndex < 0 {
		return fmt.Errorf("section_draft: chapter and section indices must be >= 0")
	}
	if _, err := llm.ParseModelSpec(r.Model); err != nil {
		return fmt.Errorf("section_draft: %w", err)
	}
	return nil
}

func (r SectionDraftRequest) payload() map[string]any {
	p := map[string]any{
		"organization_id": r.OrganizationID,
		"book_id":         r.BookID,
		"book_version_id": r.VersionID,
		"chapter_index":   r.ChapterIndex,
		"section_index":   r.SectionIndex,
		"topic":           r.Topic,
		"language":        r.Language,
		"audience":        r.Audience,
		"model":           r.Model,
		"require_images":  r.RequireImages,
	}
	if r.UserInstructions != "" {
		p["user_instructions"] = r.UserInstructions
	}
	if r.DensityProfile != "" {
		p["density_profile"] = r.DensityProfile
	}
	if r.HeadingDensity != "" {
		p["heading_density"] = r.HeadingDensity
	}
	if len(r.PraktijkTargets) > 0 {
		p["praktijk_targets"] = r.PraktijkTargets
	}
	if len(r.VerdiepingTargets) > 0 {
		p["verdieping_targets"] = r.VerdiepingTargets
	}
	return p
}

// EnqueueSectionDraft inserts a queued job row and, with Temporal enabled,
// starts its workflow.
func (a *App) EnqueueSectionDraft(ctx context.Context, req SectionDraftRequest) (*types.JobRun, error) {
	job, err := enqueueSectionDraft(ctx, a.Repos.JobRun, req)
	if err != nil {
		return nil, err
	}
	a.Log.Info("Section draft enqueued",
		"job_id", job.ID,
		"book_id", req.BookID,
		"version_id", req.VersionID,
		"chapter_index", req.ChapterIndex,
		"section_index", req.SectionIndex,
	)
	if a.TemporalEnabled() {
		if err := temporalworker.StartJob(ctx, a.Clients.Temporal, a.Cfg.Temporal, job.ID.String()); err != nil {
			return job, fmt.Errorf("start workflow for job %s: %w", job.ID, err)
		}
	}
	return job, nil
}

func enqueueSectionDraft(ctx context.Context, jobs repos.JobRunRepo, req SectionDraftRequest) (*types.JobRun, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(req.payload())
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	rows, err := jobs.Create(dbctx.Context{Ctx: ctx}, []*types.JobRun{{
		OrganizationID: req.OrganizationID,
		JobType:        section_draft.JobType,
		EntityType:     section_draft.EntityType,
		EntityID:       req.VersionID,
		Status:         types.StatusQueued,
		Stage:          types.StatusQueued,
		Payload:        datatypes.JSON(raw),
	}})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return rows[0], nil
}

// Drain runs local ticks until nothing is runnable. Yielded jobs become
// runnable again after the requeue delay, so callers loop until the job is
// terminal.
func (a *App) Drain(ctx context.Context) (int, error) {
	return a.Services.Worker.Drain(ctx)
}

func (a *App) Job(ctx context.Context, id uuid.UUID) (*types.JobRun, error) {
	rows, err := a.Repos.JobRun.GetByIDs(dbctx.Context{Ctx: ctx}, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return rows[0], nil
}

// CompileCanonical rebuilds canonical.json for a version from its stored
// skeleton.
func (a *App) CompileCanonical(ctx context.Context, bookID, versionID string) (string, error) {
	return compileCanonical(ctx, a.Services.Skeletons, bookID, versionID)
}

func compileCanonical(ctx context.Context, store *skeleton.Store, bookID, versionID string) (string, error) {
	sk, err := store.Load(ctx, bookID, versionID)
	if err != nil {
		return "", err
	}
	return store.SaveCanonical(ctx, sk)
}
