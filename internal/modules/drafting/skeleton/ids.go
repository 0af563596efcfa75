package skeleton

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var paragraphIDNamespace = uuid.MustParse("6f1c3f8e-2a4b-5c1d-9e7f-0b3a6d2c4e81")

// EnsureParagraphIDs assigns ids to paragraphs that have none. Existing ids
// are kept; only a repeated id (second occurrence onwards) is re-derived.
// New ids are derived from the section, position and text so the same draft
// always produces the same ids.
func EnsureParagraphIDs(sectionID string, blocks Blocks) int {
	seen := map[string]bool{}
	assigned := 0
	Walk(blocks, func(b Block, path Path) bool {
		p, ok := b.(*Paragraph)
		if !ok {
			return true
		}
		if id := strings.TrimSpace(p.ID); id != "" && !seen[id] {
			seen[id] = true
			return true
		}
		seed := sectionID + "|" + path.String() + "|" + StripHTML(p.BasisHTML)
		id := paragraphID(seed)
		for salt := 1; seen[id]; salt++ {
			id = paragraphID(fmt.Sprintf("%s|%d", seed, salt))
		}
		p.ID = id
		seen[id] = true
		assigned++
		return true
	})
	return assigned
}

func paragraphID(seed string) string {
	return "p_" + uuid.NewSHA1(paragraphIDNamespace, []byte(seed)).String()
}
