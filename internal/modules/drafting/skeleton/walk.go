package skeleton

import (
	"strconv"
	"strings"
)

// Path locates a block inside a section: the index at each depth plus the
// titles of the enclosing subparagraphs.
type Path struct {
	Indexes []int
	Titles  []string
}

func (p Path) Depth() int { return len(p.Indexes) - 1 }

// Top is the title of the top-level subparagraph the block sits in, or "".
func (p Path) Top() string {
	if len(p.Titles) == 0 {
		return ""
	}
	return p.Titles[0]
}

// String renders the index path as "0-2-1", used in image paths and ids.
func (p Path) String() string {
	parts := make([]string, len(p.Indexes))
	for i, idx := range p.Indexes {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, "-")
}

func (p Path) child(idx int) Path {
	return Path{Indexes: append(append([]int(nil), p.Indexes...), idx), Titles: p.Titles}
}

// Visitor is called for every block in document order. Returning false skips
// the children of a subparagraph.
type Visitor func(b Block, path Path) bool

// Walk visits blocks depth-first in document order.
func Walk(blocks Blocks, visit Visitor) {
	walk(blocks, Path{}, visit)
}

func walk(blocks Blocks, parent Path, visit Visitor) {
	for i, b := range blocks {
		path := parent.child(i)
		if !visit(b, path) {
			continue
		}
		if sp, ok := b.(*Subparagraph); ok {
			inner := path
			inner.Titles = append(append([]string(nil), parent.Titles...), sp.Title)
			walk(sp.Blocks, inner, visit)
		}
	}
}

// Paragraphs returns every paragraph under blocks, recursively.
func Paragraphs(blocks Blocks) []*Paragraph {
	var out []*Paragraph
	Walk(blocks, func(b Block, _ Path) bool {
		if p, ok := b.(*Paragraph); ok {
			out = append(out, p)
		}
		return true
	})
	return out
}

// Images returns pointers to every image in document order.
func Images(blocks Blocks) []*Image {
	var out []*Image
	Walk(blocks, func(b Block, _ Path) bool {
		imgs := blockImages(b)
		for i := range imgs {
			out = append(out, &imgs[i])
		}
		return true
	})
	return out
}

func blockImages(b Block) []Image {
	switch v := b.(type) {
	case *Paragraph:
		return v.Images
	case *List:
		return v.Images
	case *Steps:
		return v.Images
	default:
		return nil
	}
}

// TopLevelSubparagraphs returns the direct subparagraph children of a
// section, in order.
func TopLevelSubparagraphs(blocks Blocks) []*Subparagraph {
	var out []*Subparagraph
	for _, b := range blocks {
		if sp, ok := b.(*Subparagraph); ok {
			out = append(out, sp)
		}
	}
	return out
}

// FindSubparagraph returns the top-level subparagraph with exactly title.
func FindSubparagraph(blocks Blocks, title string) *Subparagraph {
	for _, sp := range TopLevelSubparagraphs(blocks) {
		if sp.Title == title {
			return sp
		}
	}
	return nil
}
