package section_draft

import (
	"context"
	"errors"
	"strings"

	jobrt "github.com/yungbote/bookdraft-backend/internal/jobs/runtime"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/attempt"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/steps"
	"github.com/yungbote/bookdraft-backend/internal/platform/dbctx"
	"github.com/yungbote/bookdraft-backend/internal/platform/llm"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}

	in, err := inputFrom(jc)
	if err != nil {
		jc.Fail("validate", err)
		return nil
	}

	busy, err := p.jobs.HasEarlierRunningForEntity(dbctx.Context{Ctx: jc.Ctx}, jc.Job)
	if err != nil {
		jc.Fail("lock", attempt.Terminal(attempt.ErrPersistence, "lock", err))
		return nil
	}
	if busy {
		out := attempt.Wait(in.Attempt, "Another section of this book version is being drafted; waiting")
		return jc.Yield("waiting", out.Message, out.Patch())
	}

	in.Report = jc.Progress
	out, err := steps.SectionDraft(jc.Ctx, steps.SectionDraftDeps{
		Log:    p.log,
		Store:  p.store,
		AI:     p.ai,
		Config: p.cfg,
		Runs:   p.runs,
	}, in)
	if err != nil {
		if errors.Is(err, context.Canceled) && jc.Ctx.Err() != nil {
			// Worker shutdown. The row stays running and is reclaimed once its
			// heartbeat goes stale.
			p.log.Warn("Tick interrupted by shutdown", "job_id", jc.Job.ID)
			return nil
		}
		stage := "draft"
		var te *attempt.TerminalError
		if errors.As(err, &te) && te.Stage != "" {
			stage = te.Stage
		}
		p.log.Warn("Section draft failed", "job_id", jc.Job.ID, "stage", stage, "kind", attempt.KindOf(err), "error", err)
		jc.Fail(stage, err)
		return nil
	}

	switch out.Kind {
	case attempt.KindDone:
		jc.Succeed("done", out.Message, out.Result)
		return nil
	case attempt.KindYield:
		return jc.Yield("requeued", out.Message, out.Patch())
	default:
		jc.Fail("draft", attempt.Configf("draft", "unknown outcome %q", out.Kind))
		return nil
	}
}

// inputFrom maps the job payload onto the tick input. Missing required fields
// are configuration errors.
func inputFrom(jc *jobrt.Context) (steps.SectionDraftInput, error) {
	in := steps.SectionDraftInput{
		JobID:             jc.Job.ID,
		OrganizationID:    jc.PayloadString("organization_id"),
		BookID:            jc.PayloadString("book_id"),
		VersionID:         jc.PayloadString("book_version_id"),
		Topic:             jc.PayloadString("topic"),
		Language:          strings.ToLower(jc.PayloadString("language")),
		Audience:          strings.ToLower(jc.PayloadString("audience")),
		UserInstructions:  jc.PayloadString("user_instructions"),
		DensityProfile:    jc.PayloadString("density_profile"),
		HeadingDensity:    jc.PayloadString("heading_density"),
		PraktijkTargets:   jc.PayloadStrings("praktijk_targets"),
		VerdiepingTargets: jc.PayloadStrings("verdieping_targets"),
		RequireImages:     jc.PayloadBool("require_images"),
		RequiredTitles:    jc.PayloadStrings("required_titles"),
		TopicHints:        jc.PayloadStrings("topic_hints"),
		Attempt:           attempt.FromPayload(jc.Payload()),
	}
	if in.OrganizationID == "" {
		return in, attempt.Configf("validate", "missing organization_id")
	}
	if in.Topic == "" {
		return in, attempt.Configf("validate", "missing topic")
	}
	var ok bool
	if in.ChapterIndex, ok = jc.PayloadInt("chapter_index"); !ok {
		return in, attempt.Configf("validate", "missing chapter_index")
	}
	if in.SectionIndex, ok = jc.PayloadInt("section_index"); !ok {
		return in, attempt.Configf("validate", "missing section_index")
	}
	model, err := llm.ParseModelSpec(jc.PayloadString("model"))
	if err != nil {
		return in, attempt.Terminal(attempt.ErrConfig, "validate", err)
	}
	in.Model = model
	return in, nil
}
