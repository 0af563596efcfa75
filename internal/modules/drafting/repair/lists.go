package repair

import (
	"html"
	"strings"

	"github.com/yungbote/bookdraft-backend/internal/modules/drafting/skeleton"
)

// PromoteListItems turns list and steps items with enough text into
// paragraphs, in place, until need paragraphs were added. Short items stay in
// their list. Microheadings are searched too. It returns the number of
// paragraphs created.
func PromoteListItems(sp *skeleton.Subparagraph, need int) int {
	if sp == nil || need <= 0 {
		return 0
	}
	added := promote(&sp.Blocks, need)
	if added < need {
		for _, mh := range skeleton.TopLevelSubparagraphs(sp.Blocks) {
			added += promote(&mh.Blocks, need-added)
			if added >= need {
				break
			}
		}
	}
	return added
}

func promote(blocks *skeleton.Blocks, need int) int {
	added := 0
	out := make(skeleton.Blocks, 0, len(*blocks))
	for _, b := range *blocks {
		if added >= need {
			out = append(out, b)
			continue
		}
		var (
			items  []string
			images []skeleton.Image
			rest   func([]string) skeleton.Block
		)
		switch v := b.(type) {
		case *skeleton.List:
			items, images = v.Items, v.Images
			rest = func(left []string) skeleton.Block {
				return &skeleton.List{ID: v.ID, Ordered: v.Ordered, Items: left}
			}
		case *skeleton.Steps:
			items, images = v.Items, v.Images
			rest = func(left []string) skeleton.Block {
				return &skeleton.Steps{ID: v.ID, Items: left}
			}
		default:
			out = append(out, b)
			continue
		}

		var (
			paras []skeleton.Block
			left  []string
		)
		for _, it := range items {
			if added < need && skeleton.IsMeaningful(it) {
				paras = append(paras, &skeleton.Paragraph{BasisHTML: itemHTML(it)})
				added++
				continue
			}
			left = append(left, it)
		}
		if len(paras) == 0 {
			out = append(out, b)
			continue
		}
		// Images follow the first paragraph made from the list.
		paras[0].(*skeleton.Paragraph).Images = images
		out = append(out, paras...)
		if len(left) > 0 {
			out = append(out, rest(left))
		}
	}
	*blocks = out
	return added
}

// itemHTML keeps inline markup and escapes bare text.
func itemHTML(item string) string {
	if strings.ContainsRune(item, '<') {
		return item
	}
	return html.EscapeString(item)
}
