package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/bookdraft-backend/internal/domain/drafting"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/attempt"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/draftcfg"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/prompts"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/repair"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/skeleton"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/validation"
	"github.com/yungbote/bookdraft-backend/internal/observability"
	"github.com/yungbote/bookdraft-backend/internal/platform/llm"
	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
)

// SkeletonStore is the persistence the drafting tick needs.
type SkeletonStore interface {
	Load(ctx context.Context, bookID, versionID string) (*skeleton.Skeleton, error)
	Save(ctx context.Context, sk *skeleton.Skeleton) error
	SaveCanonical(ctx context.Context, sk *skeleton.Skeleton) (string, error)
}

// GenerationRunRecorder stores the attempt ledger. Failures to record are
// logged and never fail a tick.
type GenerationRunRecorder interface {
	Record(ctx context.Context, run *drafting.GenerationRun) error
}

type SectionDraftDeps struct {
	Log    *logger.Logger
	Store  SkeletonStore
	AI     llm.Generator
	Config draftcfg.Config
	Runs   GenerationRunRecorder
}

type SectionDraftInput struct {
	JobID          uuid.UUID
	OrganizationID string
	BookID         string
	VersionID      string
	ChapterIndex   int
	SectionIndex   int

	Topic            string
	Language         string
	Audience         string
	Model            llm.ModelSpec
	UserInstructions string
	DensityProfile   string
	HeadingDensity   string

	PraktijkTargets   []string
	VerdiepingTargets []string
	RequireImages     bool
	// RequiredTitles overrides the outline derived from the skeleton.
	RequiredTitles []string
	TopicHints     []string

	Attempt attempt.Context
	Report  func(stage string, pct int, message string)
}

func (in SectionDraftInput) report(stage string, pct int, msg string) {
	if in.Report != nil {
		in.Report(stage, pct, msg)
	}
}

func (in SectionDraftInput) validate() error {
	switch {
	case strings.TrimSpace(in.BookID) == "":
		return attempt.Configf("validate", "missing book_id")
	case strings.TrimSpace(in.VersionID) == "":
		return attempt.Configf("validate", "missing book_version_id")
	case in.ChapterIndex < 0 || in.SectionIndex < 0:
		return attempt.Configf("validate", "negative chapter/section index")
	case in.Model.Provider == "":
		return attempt.Configf("validate", "missing model")
	case in.Language != "nl" && in.Language != "en":
		return attempt.Configf("validate", "language must be nl or en, got %q", in.Language)
	case in.Audience != "foundation" && in.Audience != "advanced":
		return attempt.Configf("validate", "audience must be foundation or advanced, got %q", in.Audience)
	}
	return nil
}

// tick is the resolved state shared by the whole-section and split paths.
type tick struct {
	deps     SectionDraftDeps
	in       SectionDraftInput
	log      *logger.Logger
	policy   attempt.Policy
	repairs  *repair.Engine
	sk       *skeleton.Skeleton
	chapter  *skeleton.Chapter
	section  *skeleton.Section
	outline  skeleton.Outline
	wide     bool
	density  draftcfg.DensityRule
	guidance prompts.Guidance
}

func policyFrom(cfg draftcfg.Config) attempt.Policy {
	return attempt.Policy{
		MaxTimeoutAttempts:      cfg.MaxTimeoutAttempts,
		MaxDraftAttempts:        cfg.MaxDraftAttempts,
		DefaultMaxTokens:        cfg.DefaultMaxTokens,
		MinMaxTokens:            cfg.MinMaxTokens,
		TokenDecay:              cfg.TokenDecay,
		ForceSplitAfterTimeouts: cfg.ForceSplitAfterTimeouts,
	}
}

func (t *tick) options() prompts.Options {
	return prompts.Options{
		SectionTitle:      t.section.Title,
		SectionID:         t.section.ID,
		ChapterTitle:      t.chapter.Title,
		Topic:             t.in.Topic,
		RequiredTitles:    t.outline.Titles,
		TopicHints:        t.in.TopicHints,
		PraktijkTargets:   t.in.PraktijkTargets,
		VerdiepingTargets: t.in.VerdiepingTargets,
		Language:          t.in.Language,
		Audience:          t.in.Audience,
		Density:           t.in.DensityProfile,
		HeadingDensity:    t.in.HeadingDensity,
		RequireImages:     t.in.RequireImages,
		UserInstructions:  t.in.UserInstructions,
		MustFix:           t.in.Attempt.MustFix,
		Locked:            t.outline.Locked,
	}
}

func (t *tick) repairTarget() repair.Target {
	return repair.Target{Model: t.in.Model, Options: t.options(), MaxTokens: t.deps.Config.RepairMaxTokens}
}

// budget is the token budget for this attempt, capped at ceiling.
func (t *tick) budget(ceiling int) int {
	b := t.policy.Budget(t.in.Attempt)
	if ceiling > 0 && b > ceiling {
		b = ceiling
	}
	return b
}

func (t *tick) generate(ctx context.Context, p prompts.Prompt, maxTokens int) (map[string]any, error) {
	return t.deps.AI.Generate(ctx, llm.Request{
		Provider:   t.in.Model.Provider,
		Model:      t.in.Model.Model,
		System:     p.System,
		User:       p.User,
		MaxTokens:  maxTokens,
		SchemaName: p.SchemaName,
		Schema:     p.Schema,
	})
}

// onGenerateError maps a generation error to a requeue or a terminal error.
func (t *tick) onGenerateError(stage string, err error, budget int, splitEligible bool) (attempt.Outcome, error) {
	switch {
	case llm.IsTimeout(err):
		cur := t.in.Attempt
		cur.MaxTokens = budget
		return t.policy.OnTimeout(cur, stage, splitEligible)
	case errors.Is(err, llm.ErrProviderNotConfigured):
		return attempt.Outcome{}, attempt.Terminal(attempt.ErrConfig, stage, err)
	case errors.Is(err, llm.ErrNoJSON):
		return t.policy.OnValidationFailure(t.in.Attempt, stage, []attempt.Hint{{
			Rule:    string(validation.RuleShape),
			Message: "response was not a JSON object",
		}})
	default:
		return attempt.Outcome{}, attempt.Terminal(attempt.ErrProvider, stage, err)
	}
}

// persist assigns ids and image sources, renumbers figures and writes the
// skeleton. With canonical set the canonical document is recompiled too.
func (t *tick) persist(ctx context.Context, canonical bool) (string, error) {
	skeleton.EnsureParagraphIDs(t.section.ID, t.section.Blocks)
	if err := t.sk.ReconcileSection(t.in.ChapterIndex, t.in.SectionIndex); err != nil {
		return "", attempt.Terminal(attempt.ErrPersistence, "persist", err)
	}
	if err := t.deps.Store.Save(ctx, t.sk); err != nil {
		return "", attempt.Terminal(attempt.ErrPersistence, "persist", err)
	}
	if !canonical {
		return "", nil
	}
	key, err := t.deps.Store.SaveCanonical(ctx, t.sk)
	if err != nil {
		return "", attempt.Terminal(attempt.ErrPersistence, "canonical", err)
	}
	return key, nil
}

type runNote struct {
	mode      string
	nodeTitle string
	status    string
	prompt    prompts.Prompt
	maxTokens int
	repairs   int
	started   time.Time
	failures  []validation.Failure
}

func (t *tick) record(ctx context.Context, n runNote) {
	if t.deps.Runs == nil {
		return
	}
	run := &drafting.GenerationRun{
		BookID:            t.in.BookID,
		VersionID:         t.in.VersionID,
		SectionID:         t.section.ID,
		Mode:              n.mode,
		NodeTitle:         n.nodeTitle,
		Status:            n.status,
		Model:             t.in.Model.String(),
		PromptName:        string(n.prompt.Name),
		PromptFingerprint: n.prompt.Fingerprint(),
		DraftAttempt:      t.in.Attempt.DraftAttempts,
		TimeoutAttempt:    t.in.Attempt.TimeoutAttempts,
		MaxTokens:         n.maxTokens,
		Repairs:           n.repairs,
		LatencyMS:         int(time.Since(n.started).Milliseconds()),
	}
	if t.in.JobID != uuid.Nil {
		id := t.in.JobID
		run.JobID = &id
	}
	metrics := observability.Current()
	metrics.AddRepairs(n.mode, n.repairs)
	if len(n.failures) > 0 {
		run.FailureRule = string(n.failures[0].Rule)
		metrics.IncDraftFailure(n.mode, run.FailureRule)
		if raw, err := json.Marshal(validation.Hints(n.failures)); err == nil {
			run.ValidationErrors = raw
		}
	}
	if err := t.deps.Runs.Record(ctx, run); err != nil {
		t.log.Warn("Failed to record generation run", "error", err)
	}
}

func statusFor(err error) string {
	if llm.IsTimeout(err) {
		return drafting.GenerationStatusTimeout
	}
	return drafting.GenerationStatusError
}

func countMeaningful(blocks skeleton.Blocks) int { return validation.CountMeaningful(blocks) }

func summary(sec *skeleton.Section) string {
	return fmt.Sprintf("%d subparagraphs, %d paragraphs",
		len(skeleton.TopLevelSubparagraphs(sec.Blocks)), countMeaningful(sec.Blocks))
}
