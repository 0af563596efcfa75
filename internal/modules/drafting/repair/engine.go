package repair

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/prompts"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/skeleton"
	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/validation"
	"github.com/yungbote/bookdraft-backend/internal/platform/ctxutil"
	"github.com/yungbote/bookdraft-backend/internal/platform/llm"
	"github.com/yungbote/bookdraft-backend/internal/platform/logger"
)

// Target is what every repair call of one tick shares.
type Target struct {
	Model     llm.ModelSpec
	Options   prompts.Options
	MaxTokens int
}

// Engine runs the targeted repairs. Repairs only ever add content below an
// existing top-level subparagraph.
type Engine struct {
	log *logger.Logger
	gen llm.Generator
}

func New(log *logger.Logger, gen llm.Generator) *Engine {
	return &Engine{log: log.With("service", "RepairEngine"), gen: gen}
}

// Result summarizes one repair cycle.
type Result struct {
	Failures []validation.Failure
	Repairs  int
	Edits    int
}

// Cycle normalizes and validates d, then spends up to maxRepairs repair calls
// while every outstanding failure is repairable. The returned failures are
// those left after the last validation.
func (e *Engine) Cycle(ctx context.Context, d *skeleton.Draft, exp validation.Expectation, t Target, maxRepairs int) (Result, error) {
	var res Result
	res.Edits += validation.Normalize(d, exp)
	res.Failures = validation.Validate(*d, exp)

	for len(res.Failures) > 0 && res.Repairs < maxRepairs {
		if !allRepairable(res.Failures) {
			break
		}
		f, _ := validation.FirstRepairable(res.Failures)
		changed, err := e.Repair(ctx, d, f, t)
		res.Repairs++
		if err != nil {
			return res, err
		}
		if !changed {
			break
		}
		res.Edits += validation.Normalize(d, exp)
		res.Failures = validation.Validate(*d, exp)
	}
	return res, nil
}

func allRepairable(fs []validation.Failure) bool {
	for _, f := range fs {
		if !f.Repairable() {
			return false
		}
	}
	return true
}

// Repair issues one repair call for f and merges the answer into d.
func (e *Engine) Repair(ctx context.Context, d *skeleton.Draft, f validation.Failure, t Target) (bool, error) {
	log := e.log.With(ctxutil.GetTraceData(ctx).KV()...)
	var (
		changed bool
		err     error
	)
	switch f.Repair {
	case validation.RepairSparse:
		changed, err = e.sparse(ctx, d, f, t)
	case validation.RepairBox:
		changed, err = e.box(ctx, d, f, t)
	case validation.RepairMicroheading:
		changed, err = e.microheading(ctx, d, f, t)
	default:
		return false, nil
	}
	if err != nil {
		return false, err
	}
	log.Info("Repair applied", "kind", f.Repair, "locus", f.Locus, "changed", changed)
	return changed, nil
}

func (e *Engine) call(ctx context.Context, p prompts.Prompt, t Target) (map[string]any, error) {
	return e.gen.Generate(ctx, llm.Request{
		Provider:   t.Model.Provider,
		Model:      t.Model.Model,
		System:     p.System,
		User:       p.User,
		MaxTokens:  t.MaxTokens,
		SchemaName: p.SchemaName,
		Schema:     p.Schema,
	})
}

func (e *Engine) sparse(ctx context.Context, d *skeleton.Draft, f validation.Failure, t Target) (bool, error) {
	sp := skeleton.FindSubparagraph(d.Blocks, f.Locus)
	if sp == nil {
		return false, nil
	}
	need := f.Deficit()
	if need < 1 {
		need = 1
	}
	p := prompts.BuildRepairSparse(t.Options, prompts.RepairInput{Title: sp.Title, Count: need, Context: plainText(sp.Blocks)})
	obj, err := e.call(ctx, p, t)
	if err != nil {
		return false, fmt.Errorf("sparse repair %q: %w", sp.Title, err)
	}
	added := 0
	for _, html := range paragraphList(obj["paragraphs"]) {
		if !skeleton.IsMeaningful(html) {
			continue
		}
		sp.Blocks = append(sp.Blocks, &skeleton.Paragraph{BasisHTML: html})
		added++
	}
	return added > 0, nil
}

func (e *Engine) box(ctx context.Context, d *skeleton.Draft, f validation.Failure, t Target) (bool, error) {
	sp := skeleton.FindSubparagraph(d.Blocks, f.Locus)
	if sp == nil || f.Field == "" {
		return false, nil
	}
	p := prompts.BuildRepairBox(t.Options, prompts.RepairInput{Title: sp.Title, BoxField: string(f.Field), Context: plainText(sp.Blocks)})
	obj, err := e.call(ctx, p, t)
	if err != nil {
		return false, fmt.Errorf("box repair %q: %w", sp.Title, err)
	}
	boxHTML := strings.TrimSpace(str(obj["boxHtml"]))
	if skeleton.StripHTML(boxHTML) == "" {
		return false, nil
	}
	boxHTML = validation.EnsureLeadMarker(boxHTML, f.Field, t.Options.Language)

	for _, para := range skeleton.Paragraphs(sp.Blocks) {
		if skeleton.StripHTML(para.Box(f.Field)) == "" && skeleton.IsMeaningful(para.BasisHTML) {
			para.SetBox(f.Field, boxHTML)
			return true, nil
		}
	}
	intro := strings.TrimSpace(str(obj["introHtml"]))
	np := &skeleton.Paragraph{BasisHTML: intro}
	np.SetBox(f.Field, boxHTML)
	sp.Blocks = append(sp.Blocks, np)
	return true, nil
}

func (e *Engine) microheading(ctx context.Context, d *skeleton.Draft, f validation.Failure, t Target) (bool, error) {
	parent := skeleton.FindSubparagraph(d.Blocks, f.Parent)
	if parent == nil {
		return false, nil
	}
	mh := skeleton.FindSubparagraph(parent.Blocks, f.Locus)
	if mh == nil {
		return false, nil
	}
	p := prompts.BuildRepairMicroheading(t.Options, prompts.RepairInput{Title: mh.Title, Parent: parent.Title, Context: plainText(parent.Blocks)})
	obj, err := e.call(ctx, p, t)
	if err != nil {
		return false, fmt.Errorf("microheading repair %q: %w", mh.Title, err)
	}
	html := strings.TrimSpace(str(obj["basisHtml"]))
	if !skeleton.IsMeaningful(html) {
		return false, nil
	}
	mh.Blocks = append(mh.Blocks, &skeleton.Paragraph{BasisHTML: html})
	return true, nil
}

func plainText(blocks skeleton.Blocks) string {
	var parts []string
	for _, p := range skeleton.Paragraphs(blocks) {
		if s := skeleton.StripHTML(p.BasisHTML); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// paragraphList accepts ["<p>..</p>", ...] or [{"basisHtml": ".."}, ...].
func paragraphList(v any) []string {
	arr, _ := v.([]any)
	out := make([]string, 0, len(arr))
	for _, it := range arr {
		switch x := it.(type) {
		case string:
			out = append(out, strings.TrimSpace(x))
		case map[string]any:
			out = append(out, strings.TrimSpace(str(x["basisHtml"])))
		}
	}
	return out
}
