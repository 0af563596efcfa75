package steps

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yungbote/bookdraft-backend/internal/domain/drafting"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/attempt"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/prompts"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/repair"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/skeleton"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/validation"
)

const previousDigestRunes = 600

// scaffold makes the section's top level exactly one subparagraph per
// outline title, in order, keeping content already drafted under a title.
func (t *tick) scaffold() []*skeleton.Subparagraph {
	existing := map[string]*skeleton.Subparagraph{}
	for _, sp := range skeleton.TopLevelSubparagraphs(t.section.Blocks) {
		key := skeleton.NormalizeTitle(sp.Title)
		if _, ok := existing[key]; !ok {
			existing[key] = sp
		}
	}
	nodes := make([]*skeleton.Subparagraph, 0, len(t.outline.Titles))
	blocks := make(skeleton.Blocks, 0, len(t.outline.Titles))
	for _, title := range t.outline.Titles {
		sp, ok := existing[title]
		if !ok {
			sp = &skeleton.Subparagraph{Title: title}
		}
		sp.Title = title
		nodes = append(nodes, sp)
		blocks = append(blocks, sp)
	}
	t.section.Blocks = blocks
	return nodes
}

// nextEmpty returns the index of the first node without a meaningful
// paragraph at or after from, or -1.
func nextEmpty(nodes []*skeleton.Subparagraph, from int) int {
	for i := from; i < len(nodes); i++ {
		if countMeaningful(nodes[i].Blocks) == 0 {
			return i
		}
	}
	return -1
}

func containsTitle(list []string, title string) bool {
	for _, s := range list {
		if skeleton.NormalizeTitle(s) == title {
			return true
		}
	}
	return false
}

func filterTitle(list []string, title string) []string {
	if containsTitle(list, title) {
		return []string{title}
	}
	return nil
}

// splitDraft drafts one top-level subparagraph per tick, in outline order.
// When every node has content the whole section is validated and compiled.
func (t *tick) splitDraft(ctx context.Context) (attempt.Outcome, error) {
	nodes := t.scaffold()
	i := nextEmpty(nodes, 0)
	if i < 0 {
		return t.finalizeSplit(ctx, nodes)
	}
	return t.draftNode(ctx, nodes, i)
}

func (t *tick) emphasisShare() int {
	n := len(t.outline.Titles)
	if n == 0 || t.density.EmphasisFloor <= 0 {
		return 0
	}
	return (t.density.EmphasisFloor + n - 1) / n
}

func (t *tick) draftNode(ctx context.Context, nodes []*skeleton.Subparagraph, i int) (attempt.Outcome, error) {
	in := t.in
	title := nodes[i].Title
	total := len(nodes)

	var previous string
	if i > 0 {
		previous = digest(nodes[i-1].Blocks)
	}
	earlier := make(skeleton.Blocks, 0, i)
	for _, n := range nodes[:i] {
		earlier = append(earlier, n)
	}
	node := prompts.NodeInput{
		Title:        title,
		Index:        i,
		Total:        total,
		Introduced:   skeleton.SectionTerms(earlier),
		Previous:     previous,
		Praktijk:     containsTitle(in.PraktijkTargets, title),
		Verdieping:   containsTitle(in.VerdiepingTargets, title),
		WantImage:    in.RequireImages && i == 0,
		EmphasisGoal: t.emphasisShare(),
	}
	p := prompts.BuildNode(t.options(), t.guidance, node)
	budget := t.budget(t.deps.Config.NodeMaxTokens)
	note := runNote{mode: drafting.GenerationModeNode, nodeTitle: title, prompt: p, maxTokens: budget, started: time.Now()}

	in.report("draft_node", progressPct(i, total), fmt.Sprintf("Drafting %s (%d/%d)", title, i+1, total))
	obj, err := t.generate(ctx, p, budget)
	if err != nil {
		note.status = statusFor(err)
		t.record(ctx, note)
		out, err := t.onGenerateError("node_draft", err, budget, false)
		return nodeOutcome(title, out, err)
	}

	nd, err := skeleton.DecodeDraft(obj)
	if err != nil {
		f := validation.Failure{Rule: validation.RuleShape, Locus: title, Message: err.Error()}
		note.status, note.failures = drafting.GenerationStatusInvalid, []validation.Failure{f}
		t.record(ctx, note)
		out, err := t.policy.OnValidationFailure(in.Attempt, "node_decode", validation.Hints(note.failures))
		return nodeOutcome(title, out, err)
	}

	drafted := &skeleton.Subparagraph{Title: nd.Title, Blocks: nd.Blocks}
	if deficit := t.density.MinPerSubparagraph - countMeaningful(drafted.Blocks); deficit > 0 {
		repair.PromoteListItems(drafted, deficit)
	}
	d := skeleton.Draft{Title: t.section.Title, Blocks: skeleton.Blocks{drafted}}
	exp := validation.Expectation{
		Outline:           skeleton.Outline{Titles: []string{title}, Locked: true},
		Density:           t.density,
		SkipTotal:         true,
		EmphasisFloor:     node.EmphasisGoal,
		PraktijkTargets:   filterTitle(in.PraktijkTargets, title),
		VerdiepingTargets: filterTitle(in.VerdiepingTargets, title),
		RequireImages:     node.WantImage,
		Language:          in.Language,
		Policy:            t.deps.Config.FailurePolicy,
	}

	res, err := t.repairs.Cycle(ctx, &d, exp, t.repairTarget(), t.deps.Config.RepairAttempts)
	note.repairs = res.Repairs
	if err != nil {
		out, err := t.onRepairError(ctx, note, res, err, budget)
		return nodeOutcome(title, out, err)
	}
	if len(res.Failures) > 0 {
		note.status, note.failures = drafting.GenerationStatusInvalid, res.Failures
		t.record(ctx, note)
		out, err := t.policy.OnValidationFailure(in.Attempt, "node_validate", validation.Hints(res.Failures))
		return nodeOutcome(title, out, err)
	}

	filled := d.Blocks[0].(*skeleton.Subparagraph)
	nodes[i].Blocks = filled.Blocks
	if _, err := t.persist(ctx, false); err != nil {
		return attempt.Outcome{}, err
	}
	note.status = drafting.GenerationStatusOK
	t.record(ctx, note)

	next := ""
	if j := nextEmpty(nodes, i+1); j >= 0 {
		next = nodes[j].Title
	}
	t.log.Info("Node drafted", "node", title, "index", i, "total", total, "repairs", res.Repairs)
	out := t.policy.OnNodeDone(t.in.Attempt, i+1, total, next)
	if next == "" {
		out.Message = fmt.Sprintf("Drafted %d/%d subparagraphs; finalizing section", i+1, total)
	}
	return out, nil
}

// nodeOutcome pins next_title to the node being retried.
func nodeOutcome(title string, out attempt.Outcome, err error) (attempt.Outcome, error) {
	if err != nil || out.Kind != attempt.KindYield {
		return out, err
	}
	out.Next.NextTitle = title
	return out, nil
}

// finalizeSplit validates the assembled section. On success the canonical
// document is compiled; on failure the offending node is cleared so the next
// tick redrafts it.
func (t *tick) finalizeSplit(ctx context.Context, nodes []*skeleton.Subparagraph) (attempt.Outcome, error) {
	in := t.in
	in.report("validate", 90, "Validating assembled section")
	note := runNote{mode: drafting.GenerationModeFinal, started: time.Now()}

	d := skeleton.Draft{Title: t.section.Title, Blocks: t.section.Blocks.Clone()}
	exp := t.expectation()
	validation.Normalize(&d, exp)
	failures := validation.Validate(d, exp)
	if len(failures) == 0 {
		t.section.Blocks = d.Blocks
		key, err := t.persist(ctx, true)
		if err != nil {
			return attempt.Outcome{}, err
		}
		note.status = drafting.GenerationStatusOK
		t.record(ctx, note)
		msg := fmt.Sprintf("Drafted %s in %d steps: %s", t.section.Title, len(nodes), summary(t.section))
		return attempt.Done(msg, t.result("split", key, 0)), nil
	}

	note.status, note.failures = drafting.GenerationStatusInvalid, failures
	t.record(ctx, note)
	out, err := t.policy.OnFinalFailure(in.Attempt, "final_validate", validation.Hints(failures))
	if err != nil {
		return attempt.Outcome{}, err
	}

	victim := len(nodes) - 1
	for k, n := range nodes {
		if n.Title == failures[0].Locus || n.Title == failures[0].Parent {
			victim = k
			break
		}
	}
	nodes[victim].Blocks = nil
	if _, err := t.persist(ctx, false); err != nil {
		return attempt.Outcome{}, err
	}
	out.Next.NextTitle = nodes[victim].Title
	t.log.Info("Final validation failed; node cleared", "node", nodes[victim].Title, "rule", failures[0].Rule)
	return out, nil
}

func progressPct(i, total int) int {
	if total <= 0 {
		return 20
	}
	return 10 + (80*i)/total
}

func digest(blocks skeleton.Blocks) string {
	var parts []string
	for _, p := range skeleton.Paragraphs(blocks) {
		if s := skeleton.StripHTML(p.BasisHTML); s != "" {
			parts = append(parts, s)
		}
	}
	s := strings.Join(parts, " ")
	if utf8.RuneCountInString(s) <= previousDigestRunes {
		return s
	}
	return string([]rune(s)[:previousDigestRunes]) + "..."
}
