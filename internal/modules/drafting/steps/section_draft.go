package steps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/bookdraft-backend/internal/domain/drafting"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/attempt"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/prompts"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/repair"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/skeleton"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/validation"
	"github.com/yungbote/bookdraft-backend/internal/observability"
	"github.com/yungbote/bookdraft-backend/internal/platform/ctxutil"
	"github.com/yungbote/bookdraft-backend/internal/platform/llm"
)

// SectionDraft runs one tick for one section. Non-fatal results are returned
// as an Outcome (Done or Yield); anything that ends the unit is an error,
// usually an *attempt.TerminalError.
func SectionDraft(ctx context.Context, deps SectionDraftDeps, in SectionDraftInput) (attempt.Outcome, error) {
	if deps.Log == nil || deps.Store == nil || deps.AI == nil {
		return attempt.Outcome{}, attempt.Configf("validate", "section_draft: missing deps")
	}
	if err := in.validate(); err != nil {
		return attempt.Outcome{}, err
	}
	if err := deps.Config.Validate(); err != nil {
		return attempt.Outcome{}, attempt.Terminal(attempt.ErrConfig, "config", err)
	}

	ctx, span := otel.Tracer(observability.TracerDrafting).Start(ctx, "section_draft.tick")
	defer span.End()
	span.SetAttributes(observability.SectionAttributes(in.BookID, in.VersionID, in.ChapterIndex, in.SectionIndex)...)
	span.SetAttributes(
		attribute.Int("attempt.draft", in.Attempt.DraftAttempts),
		attribute.Int("attempt.timeout", in.Attempt.TimeoutAttempts),
	)

	out, err := sectionDraft(ctx, deps, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}
	span.SetAttributes(attribute.String("outcome", string(out.Kind)))
	return out, nil
}

func sectionDraft(ctx context.Context, deps SectionDraftDeps, in SectionDraftInput) (attempt.Outcome, error) {
	in.report("load", 5, "Loading skeleton")
	sk, err := deps.Store.Load(ctx, in.BookID, in.VersionID)
	if err != nil {
		var mm *skeleton.MetaMismatchError
		if errors.Is(err, skeleton.ErrSkeletonNotFound) || errors.As(err, &mm) {
			return attempt.Outcome{}, attempt.Terminal(attempt.ErrConfig, "load", err)
		}
		return attempt.Outcome{}, attempt.Terminal(attempt.ErrPersistence, "load", err)
	}
	ch, sec, err := sk.Section(in.ChapterIndex, in.SectionIndex)
	if err != nil {
		return attempt.Outcome{}, attempt.Terminal(attempt.ErrConfig, "load", err)
	}

	ctx = ctxutil.WithTraceData(ctx, &ctxutil.TraceData{
		JobID:     in.JobID.String(),
		BookID:    in.BookID,
		VersionID: in.VersionID,
		SectionID: sec.ID,
	})

	cfg := deps.Config
	t := &tick{
		deps:    deps,
		in:      in,
		log:     deps.Log.With(ctxutil.GetTraceData(ctx).KV()...),
		policy:  policyFrom(cfg),
		repairs: repair.New(deps.Log, deps.AI),
		sk:      sk,
		chapter: ch,
		section: sec,
		outline: skeleton.ResolveOutline(sec, in.RequiredTitles, cfg.LockedOutlineMax),
	}
	t.wide = t.outline.Wide(cfg.WideOutlineMin)
	t.density = cfg.Density(in.DensityProfile, t.wide)
	t.guidance = prompts.NewGuidance(t.density, cfg.Heading(in.HeadingDensity), t.wide, len(t.outline.Titles))

	if t.splitMode() {
		return t.splitDraft(ctx)
	}
	return t.wholeDraft(ctx)
}

func (t *tick) splitMode() bool {
	if !t.outline.Locked {
		return false
	}
	return len(t.outline.Titles) > t.deps.Config.SplitThreshold || t.in.Attempt.ForceSplit
}

func (t *tick) expectation() validation.Expectation {
	return validation.Expectation{
		Title:             t.section.Title,
		Outline:           t.outline,
		Density:           t.density,
		EmphasisFloor:     t.density.EmphasisFloor,
		PraktijkTargets:   t.in.PraktijkTargets,
		VerdiepingTargets: t.in.VerdiepingTargets,
		RequireImages:     t.in.RequireImages,
		Language:          t.in.Language,
		Policy:            t.deps.Config.FailurePolicy,
	}
}

// wholeDraft asks for the entire section in one call.
func (t *tick) wholeDraft(ctx context.Context) (attempt.Outcome, error) {
	in := t.in
	p := prompts.BuildSection(t.options(), t.guidance)
	budget := t.budget(0)
	note := runNote{mode: drafting.GenerationModeSection, prompt: p, maxTokens: budget, started: time.Now()}

	in.report("draft", 20, fmt.Sprintf("Drafting %s (%d subparagraphs)", t.section.Title, len(t.outline.Titles)))
	obj, err := t.generate(ctx, p, budget)
	if err != nil {
		note.status = statusFor(err)
		t.record(ctx, note)
		splitEligible := t.outline.Locked && len(t.outline.Titles) >= 2
		return t.onGenerateError("draft", err, budget, splitEligible)
	}

	d, err := skeleton.DecodeDraft(obj)
	if err != nil {
		f := validation.Failure{Rule: validation.RuleShape, Message: err.Error()}
		note.status, note.failures = drafting.GenerationStatusInvalid, []validation.Failure{f}
		t.record(ctx, note)
		return t.policy.OnValidationFailure(in.Attempt, "decode", validation.Hints(note.failures))
	}

	in.report("validate", 60, "Validating draft")
	res, err := t.repairs.Cycle(ctx, &d, t.expectation(), t.repairTarget(), t.deps.Config.RepairAttempts)
	note.repairs = res.Repairs
	if err != nil {
		return t.onRepairError(ctx, note, res, err, budget)
	}
	if len(res.Failures) > 0 {
		note.status, note.failures = drafting.GenerationStatusInvalid, res.Failures
		t.record(ctx, note)
		t.log.Info("Draft failed validation", "failures", len(res.Failures), "first", res.Failures[0].Error())
		return t.policy.OnValidationFailure(in.Attempt, "validate", validation.Hints(res.Failures))
	}

	if t.outline.Locked {
		pinTitles(d.Blocks, t.outline.Titles)
	}
	t.section.Blocks = d.Blocks
	in.report("persist", 85, "Saving section")
	key, err := t.persist(ctx, true)
	if err != nil {
		return attempt.Outcome{}, err
	}
	note.status = drafting.GenerationStatusOK
	t.record(ctx, note)

	msg := fmt.Sprintf("Drafted %s: %s", t.section.Title, summary(t.section))
	t.log.Info("Section drafted", "mode", "section", "repairs", res.Repairs)
	return attempt.Done(msg, t.result("section", key, res.Repairs)), nil
}

// pinTitles stores the required titles verbatim over the drafted ones, which
// validation only matched after whitespace normalization.
func pinTitles(blocks skeleton.Blocks, titles []string) {
	for i, sp := range skeleton.TopLevelSubparagraphs(blocks) {
		if i < len(titles) {
			sp.Title = titles[i]
		}
	}
}

// onRepairError: a repair timeout is handled like a draft timeout, anything
// else counts against the draft with the failures known at that point.
func (t *tick) onRepairError(ctx context.Context, note runNote, res repair.Result, err error, budget int) (attempt.Outcome, error) {
	note.status, note.failures = statusFor(err), res.Failures
	t.record(ctx, note)
	if errors.Is(err, context.Canceled) {
		return attempt.Outcome{}, err
	}
	if llm.IsTimeout(err) {
		return t.onGenerateError("repair", err, budget, false)
	}
	t.log.Warn("Repair failed", "error", err)
	hints := validation.Hints(res.Failures)
	if len(hints) == 0 {
		hints = []attempt.Hint{{Rule: "repair", Message: err.Error()}}
	}
	return t.policy.OnValidationFailure(t.in.Attempt, "repair", hints)
}

func (t *tick) result(mode, canonicalKey string, repairs int) map[string]any {
	return map[string]any{
		"book_id":        t.in.BookID,
		"version_id":     t.in.VersionID,
		"section_id":     t.section.ID,
		"section_title":  t.section.Title,
		"mode":           mode,
		"subparagraphs":  len(skeleton.TopLevelSubparagraphs(t.section.Blocks)),
		"paragraphs":     countMeaningful(t.section.Blocks),
		"terms":          len(skeleton.SectionTerms(t.section.Blocks)),
		"repairs":        repairs,
		"canonical_key":  canonicalKey,
		"draft_attempts": t.in.Attempt.DraftAttempts,
	}
}
