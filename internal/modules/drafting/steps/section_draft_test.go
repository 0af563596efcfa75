package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/bookdraft-backend/internal/domain/drafting"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/attempt"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/draftcfg"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/skeleton"
	"github.com/yungbote/bookdraft-backend/internal/platform/gcp"
	"github.com/yungbote/bookdraft-backend/internal/platform/llm"
	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
)

const testBucket = "skeletons"

type fakeGen struct {
	replies []map[string]any
	errs    []error
	reqs    []llm.Request
}

func (f *fakeGen) Generate(_ context.Context, req llm.Request) (map[string]any, error) {
	i := len(f.reqs)
	f.reqs = append(f.reqs, req)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return nil, fmt.Errorf("unexpected call %d", i)
}

type runLog struct{ runs []*drafting.GenerationRun }

func (r *runLog) Record(_ context.Context, run *drafting.GenerationRun) error {
	r.runs = append(r.runs, run)
	return nil
}

type fixture struct {
	mem   *gcp.MemoryStore
	store *skeleton.Store
	gen   *fakeGen
	runs  *runLog
}

func newFixture(t *testing.T, titles ...string) *fixture {
	t.Helper()
	mem := gcp.NewMemoryStore()
	blocks := make(skeleton.Blocks, 0, len(titles))
	for _, title := range titles {
		blocks = append(blocks, &skeleton.Subparagraph{Title: title})
	}
	sk := skeleton.Skeleton{
		Meta: skeleton.Meta{BookID: "b1", VersionID: "v1", SchemaVersion: skeleton.SchemaVersion},
		Chapters: []skeleton.Chapter{{
			Title:    "Zorg",
			Sections: []skeleton.Section{{ID: "3.1", Title: "3.1 Hygiëne", Blocks: blocks}},
		}},
	}
	require.NoError(t, mem.UploadJSON(context.Background(), testBucket, skeleton.SkeletonPath("b1", "v1"), sk, true))
	return &fixture{
		mem:   mem,
		store: skeleton.NewStore(logger.NewNop(), mem, testBucket),
		gen:   &fakeGen{},
		runs:  &runLog{},
	}
}

func (f *fixture) deps() SectionDraftDeps {
	return SectionDraftDeps{
		Log:    logger.NewNop(),
		Store:  f.store,
		AI:     f.gen,
		Config: draftcfg.Defaults(),
		Runs:   f.runs,
	}
}

func (f *fixture) load(t *testing.T) *skeleton.Section {
	t.Helper()
	sk, err := f.store.Load(context.Background(), "b1", "v1")
	require.NoError(t, err)
	_, sec, err := sk.Section(0, 0)
	require.NoError(t, err)
	return sec
}

func input() SectionDraftInput {
	return SectionDraftInput{
		OrganizationID: "org",
		BookID:         "b1",
		VersionID:      "v1",
		Topic:          "Handhygiëne",
		Language:       "nl",
		Audience:       "foundation",
		Model:          llm.ModelSpec{Provider: llm.ProviderOpenAI, Model: "gpt-test"},
		DensityProfile: "auto",
		HeadingDensity: "low",
	}
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

func sectionReply(subs ...map[string]any) map[string]any {
	blocks := make([]any, 0, len(subs))
	for _, s := range subs {
		blocks = append(blocks, s)
	}
	return map[string]any{"title": "3.1 Hygiëne", "blocks": blocks}
}

func TestSectionDraftValidDraftCompletes(t *testing.T) {
	f := newFixture(t, "3.1.1 Handen wassen", "3.1.2 Desinfecteren")
	f.gen.replies = []map[string]any{sectionReply(
		sub("3.1.1 Handen wassen", "zeep", "water"),
		sub("3.1.2 Desinfecteren", "handalcohol", "inwerktijd"),
	)}

	out, err := SectionDraft(context.Background(), f.deps(), input())
	require.NoError(t, err)
	assert.Equal(t, attempt.KindDone, out.Kind)
	assert.Len(t, f.gen.reqs, 1)
	assert.Equal(t, 0, out.Result["repairs"])
	assert.Equal(t, "section", out.Result["mode"])
	assert.Equal(t, skeleton.CanonicalPath("b1", "v1"), out.Result["canonical_key"])

	sec := f.load(t)
	require.Len(t, sec.Blocks, 2)
	for _, p := range skeleton.Paragraphs(sec.Blocks) {
		assert.NotEmpty(t, p.ID)
	}

	raw, ok := f.mem.Raw(testBucket, skeleton.CanonicalPath("b1", "v1"))
	require.True(t, ok)
	var doc skeleton.CanonicalDocument
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "b1", doc.BookID)

	require.Len(t, f.runs.runs, 1)
	assert.Equal(t, drafting.GenerationStatusOK, f.runs.runs[0].Status)
	assert.Equal(t, drafting.GenerationModeSection, f.runs.runs[0].Mode)
}

func TestSectionDraftMissingSubparagraphYields(t *testing.T) {
	f := newFixture(t, "3.1.1 Handen wassen", "3.1.2 Desinfecteren")
	f.gen.replies = []map[string]any{sectionReply(sub("3.1.1 Handen wassen", "zeep", "water", "handdoek"))}
	writes := f.mem.Writes()

	out, err := SectionDraft(context.Background(), f.deps(), input())
	require.NoError(t, err)
	assert.Equal(t, attempt.KindYield, out.Kind)
	assert.Len(t, f.gen.reqs, 1, "outline failures are not repaired")
	assert.Equal(t, 1, out.Next.DraftAttempts)
	require.NotEmpty(t, out.Next.MustFix)
	assert.Equal(t, "outline", out.Next.MustFix[0].Rule)
	assert.Contains(t, out.Next.MustFix[0].Message, "got=1, expected=2")
	assert.Equal(t, writes, f.mem.Writes(), "nothing persisted on failure")

	patch := out.Patch()
	assert.Equal(t, 1, patch[attempt.KeyDraftAttempts])
}

func TestSectionDraftRetryCarriesMustFix(t *testing.T) {
	f := newFixture(t, "3.1.1 Handen wassen", "3.1.2 Desinfecteren")
	f.gen.replies = []map[string]any{sectionReply(
		sub("3.1.1 Handen wassen", "zeep", "water"),
		sub("3.1.2 Desinfecteren", "handalcohol", "inwerktijd"),
	)}
	in := input()
	in.Attempt = attempt.Context{DraftAttempts: 1, MustFix: []attempt.Hint{{Rule: "outline", Message: "outline mismatch: got=1, expected=2"}}}

	out, err := SectionDraft(context.Background(), f.deps(), in)
	require.NoError(t, err)
	assert.Equal(t, attempt.KindDone, out.Kind)
	require.Len(t, f.gen.reqs, 1)
	assert.Contains(t, f.gen.reqs[0].User, "MUST FIX")
}

func TestSectionDraftTimeoutReducesBudget(t *testing.T) {
	f := newFixture(t, "3.1.1 Handen wassen", "3.1.2 Desinfecteren")
	f.gen.errs = []error{&llm.TimeoutError{Provider: llm.ProviderOpenAI, Model: "gpt-test"}}

	out, err := SectionDraft(context.Background(), f.deps(), input())
	require.NoError(t, err)
	assert.Equal(t, attempt.KindYield, out.Kind)
	assert.Equal(t, 1, out.Next.TimeoutAttempts)
	assert.Equal(t, 6000, out.Next.MaxTokens)
	assert.Equal(t, 8000, f.gen.reqs[0].MaxTokens)
	require.Len(t, f.runs.runs, 1)
	assert.Equal(t, drafting.GenerationStatusTimeout, f.runs.runs[0].Status)

	in := input()
	in.Attempt = out.Next
	f.gen.errs = append(f.gen.errs, &llm.TimeoutError{Provider: llm.ProviderOpenAI})
	out, err = SectionDraft(context.Background(), f.deps(), in)
	require.NoError(t, err)
	assert.Equal(t, 6000, f.gen.reqs[1].MaxTokens)
	assert.Less(t, out.Next.MaxTokens, 6000)
}

func TestSectionDraftTimeoutCeilingIsTerminal(t *testing.T) {
	f := newFixture(t, "3.1.1 Handen wassen", "3.1.2 Desinfecteren")
	f.gen.errs = []error{&llm.TimeoutError{Provider: llm.ProviderOpenAI}}
	in := input()
	in.Attempt = attempt.Context{TimeoutAttempts: 6, MaxTokens: 1500}

	_, err := SectionDraft(context.Background(), f.deps(), in)
	require.Error(t, err)
	assert.Equal(t, attempt.ErrExhausted, attempt.KindOf(err))
}

func TestSectionDraftConfigErrors(t *testing.T) {
	f := newFixture(t, "3.1.1 Handen wassen")

	missing := input()
	missing.BookID = "other"
	_, err := SectionDraft(context.Background(), f.deps(), missing)
	assert.Equal(t, attempt.ErrConfig, attempt.KindOf(err))

	badIndex := input()
	badIndex.SectionIndex = 4
	_, err = SectionDraft(context.Background(), f.deps(), badIndex)
	assert.Equal(t, attempt.ErrConfig, attempt.KindOf(err))

	badLang := input()
	badLang.Language = "de"
	_, err = SectionDraft(context.Background(), f.deps(), badLang)
	assert.Equal(t, attempt.ErrConfig, attempt.KindOf(err))

	f.gen.errs = []error{fmt.Errorf("%w: %q", llm.ErrProviderNotConfigured, "anthropic")}
	_, err = SectionDraft(context.Background(), f.deps(), input())
	assert.Equal(t, attempt.ErrConfig, attempt.KindOf(err))

	require.Len(t, f.runs.runs, 1, "only the provider call reached the ledger")
	assert.Equal(t, drafting.GenerationStatusError, f.runs.runs[0].Status)
}

func TestSectionDraftMetaMismatchIsConfigError(t *testing.T) {
	f := newFixture(t, "3.1.1 Handen wassen")
	sk := skeleton.Skeleton{Meta: skeleton.Meta{BookID: "b2", VersionID: "v1"}}
	require.NoError(t, f.mem.UploadJSON(context.Background(), testBucket, skeleton.SkeletonPath("b1", "v1"), sk, true))

	_, err := SectionDraft(context.Background(), f.deps(), input())
	require.Error(t, err)
	assert.Equal(t, attempt.ErrConfig, attempt.KindOf(err))
	assert.Empty(t, f.gen.reqs)
}

var splitTitles = []string{
	"3.1.1 Handen wassen",
	"3.1.2 Desinfecteren",
	"3.1.3 Handschoenen",
	"3.1.4 Sieraden",
	"3.1.5 Nagels",
	"3.1.6 Wonden",
	"3.1.7 Voorlichting",
}

func TestSplitModeDraftsNodesInOrder(t *testing.T) {
	f := newFixture(t, splitTitles...)
	for i, title := range splitTitles {
		f.gen.replies = append(f.gen.replies, map[string]any{
			"title":  title,
			"blocks": []any{para(fmt.Sprintf("begrip%d", i))},
		})
	}

	in := input()
	for i, title := range splitTitles {
		out, err := SectionDraft(context.Background(), f.deps(), in)
		require.NoError(t, err)
		require.Equal(t, attempt.KindYield, out.Kind, "node %d", i)
		require.Len(t, f.gen.reqs, i+1)
		assert.Contains(t, f.gen.reqs[i].User, title)
		if i+1 < len(splitTitles) {
			assert.Equal(t, splitTitles[i+1], out.Next.NextTitle)
		} else {
			assert.Empty(t, out.Next.NextTitle)
		}
		assert.Equal(t, 0, out.Next.DraftAttempts)

		sec := f.load(t)
		assert.Equal(t, 1, countMeaningful(sec.Blocks[i].(*skeleton.Subparagraph).Blocks))
		in.Attempt = out.Next
	}

	out, err := SectionDraft(context.Background(), f.deps(), in)
	require.NoError(t, err)
	assert.Equal(t, attempt.KindDone, out.Kind)
	assert.Equal(t, "split", out.Result["mode"])
	assert.Len(t, f.gen.reqs, len(splitTitles), "final validation makes no LLM call")

	_, ok := f.mem.Raw(testBucket, skeleton.CanonicalPath("b1", "v1"))
	assert.True(t, ok)

	out, err = SectionDraft(context.Background(), f.deps(), input())
	require.NoError(t, err)
	assert.Equal(t, attempt.KindDone, out.Kind)
	assert.Len(t, f.gen.reqs, len(splitTitles), "a filled section needs no LLM call")
}

func TestSplitModeNodeFailureKeepsNextTitle(t *testing.T) {
	f := newFixture(t, splitTitles...)
	f.gen.replies = []map[string]any{{"title": splitTitles[0], "blocks": []any{}}}

	out, err := SectionDraft(context.Background(), f.deps(), input())
	require.NoError(t, err)
	assert.Equal(t, attempt.KindYield, out.Kind)
	assert.Equal(t, splitTitles[0], out.Next.NextTitle)
	assert.Equal(t, 1, out.Next.DraftAttempts)
	assert.Equal(t, 0, countMeaningful(f.load(t).Blocks))
}

func TestForceSplitAppliesToShortOutline(t *testing.T) {
	f := newFixture(t, "3.1.1 Handen wassen", "3.1.2 Desinfecteren")
	f.gen.replies = []map[string]any{{"title": "3.1.1 Handen wassen", "blocks": []any{para("zeep"), para("water")}}}
	in := input()
	in.Attempt = attempt.Context{ForceSplit: true, TimeoutAttempts: 3, MaxTokens: 4500}

	out, err := SectionDraft(context.Background(), f.deps(), in)
	require.NoError(t, err)
	assert.Equal(t, attempt.KindYield, out.Kind)
	assert.Equal(t, "3.1.2 Desinfecteren", out.Next.NextTitle)
	assert.Equal(t, 3000, f.gen.reqs[0].MaxTokens, "node budget is capped")
	require.Len(t, f.runs.runs, 1)
	assert.Equal(t, drafting.GenerationModeNode, f.runs.runs[0].Mode)
}

func TestSectionDraftPersistsRequiredTitlesVerbatim(t *testing.T) {
	f := newFixture(t, "3.1.1 Handen wassen", "3.1.2 Desinfecteren")
	f.gen.replies = []map[string]any{sectionReply(
		sub("3.1.1  Handen   wassen", "zeep", "water"),
		sub(" 3.1.2 Desinfecteren ", "handalcohol", "inwerktijd"),
	)}

	out, err := SectionDraft(context.Background(), f.deps(), input())
	require.NoError(t, err)
	require.Equal(t, attempt.KindDone, out.Kind)

	var got []string
	for _, sp := range skeleton.TopLevelSubparagraphs(f.load(t).Blocks) {
		got = append(got, sp.Title)
	}
	assert.Equal(t, []string{"3.1.1 Handen wassen", "3.1.2 Desinfecteren"}, got)
}

func TestSectionDraftMalformedJSONCountsAsDraftFailure(t *testing.T) {
	f := newFixture(t, "3.1.1 Handen wassen", "3.1.2 Desinfecteren")
	_, parseErr := llm.ParseModelOutput(llm.Output{Text: "Here is the section: {title: '3.1 Hygiëne', blocks: []}"})
	require.Error(t, parseErr)
	f.gen.errs = []error{parseErr}

	out, err := SectionDraft(context.Background(), f.deps(), input())
	require.NoError(t, err)
	assert.Equal(t, attempt.KindYield, out.Kind)
	assert.Equal(t, 1, out.Next.DraftAttempts)
	assert.Equal(t, 0, out.Next.TimeoutAttempts)
	require.NotEmpty(t, out.Next.MustFix)
	assert.Equal(t, "draft_shape", out.Next.MustFix[0].Rule)
}

// seedFilled stores a split-mode section whose nodes all carry one paragraph
// emphasizing term(i).
func seedFilled(t *testing.T, f *fixture, term func(i int) string) {
	t.Helper()
	blocks := make(skeleton.Blocks, 0, len(splitTitles))
	for i, title := range splitTitles {
		blocks = append(blocks, &skeleton.Subparagraph{Title: title, Blocks: skeleton.Blocks{
			&skeleton.Paragraph{BasisHTML: fmt.Sprintf("<p>Bij de zorg is <strong>%s</strong> een vast onderdeel van elke handeling.</p>", term(i))},
		}})
	}
	sk, err := f.store.Load(context.Background(), "b1", "v1")
	require.NoError(t, err)
	_, sec, err := sk.Section(0, 0)
	require.NoError(t, err)
	sec.Blocks = blocks
	require.NoError(t, f.store.Save(context.Background(), sk))
}

func TestSplitModeFinalFailureClearsLastNode(t *testing.T) {
	f := newFixture(t, splitTitles...)
	seedFilled(t, f, func(int) string { return "zeep" })

	out, err := SectionDraft(context.Background(), f.deps(), input())
	require.NoError(t, err)
	require.Equal(t, attempt.KindYield, out.Kind)
	assert.Empty(t, f.gen.reqs, "final validation makes no LLM call")
	last := splitTitles[len(splitTitles)-1]
	assert.Equal(t, last, out.Next.NextTitle)
	assert.Equal(t, 1, out.Next.FinalAttempts)
	assert.Equal(t, 1, out.Next.DraftAttempts)
	require.NotEmpty(t, out.Next.MustFix)
	assert.Equal(t, "emphasis", out.Next.MustFix[0].Rule)

	sec := f.load(t)
	require.Len(t, sec.Blocks, len(splitTitles))
	assert.Zero(t, countMeaningful(sec.Blocks[len(splitTitles)-1].(*skeleton.Subparagraph).Blocks))
	assert.Equal(t, 1, countMeaningful(sec.Blocks[0].(*skeleton.Subparagraph).Blocks))
	_, ok := f.mem.Raw(testBucket, skeleton.CanonicalPath("b1", "v1"))
	assert.False(t, ok, "no canonical for a failed section")

	require.Len(t, f.runs.runs, 1)
	assert.Equal(t, drafting.GenerationModeFinal, f.runs.runs[0].Mode)
	assert.Equal(t, drafting.GenerationStatusInvalid, f.runs.runs[0].Status)
}

func TestSplitModeFinalFailureClearsOffendingNode(t *testing.T) {
	f := newFixture(t, splitTitles...)
	seedFilled(t, f, func(i int) string { return fmt.Sprintf("begrip%d", i) })
	in := input()
	in.PraktijkTargets = []string{splitTitles[2]}

	out, err := SectionDraft(context.Background(), f.deps(), in)
	require.NoError(t, err)
	require.Equal(t, attempt.KindYield, out.Kind)
	assert.Equal(t, splitTitles[2], out.Next.NextTitle)

	sec := f.load(t)
	assert.Zero(t, countMeaningful(sec.Blocks[2].(*skeleton.Subparagraph).Blocks))
	assert.Equal(t, 1, countMeaningful(sec.Blocks[len(splitTitles)-1].(*skeleton.Subparagraph).Blocks))
}

func TestSplitModeFinalFailureCeilingIsTerminal(t *testing.T) {
	f := newFixture(t, splitTitles...)
	seedFilled(t, f, func(int) string { return "zeep" })
	in := input()
	in.Attempt = attempt.Context{FinalAttempts: 3}
	writes := f.mem.Writes()

	_, err := SectionDraft(context.Background(), f.deps(), in)
	require.Error(t, err)
	assert.Equal(t, attempt.ErrExhausted, attempt.KindOf(err))
	assert.Equal(t, writes, f.mem.Writes(), "nothing cleared once exhausted")
}
