package skeleton

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const SchemaVersion = 1

type Skeleton struct {
	Meta     Meta      `json:"meta"`
	Chapters []Chapter `json:"chapters"`
}

type Meta struct {
	BookID        string `json:"bookId"`
	VersionID     string `json:"versionId"`
	SchemaVersion int    `json:"schemaVersion"`
	PromptPack    string `json:"promptPack,omitempty"`
}

type Chapter struct {
	Number   int       `json:"number,omitempty"`
	Title    string    `json:"title"`
	Sections []Section `json:"sections"`
}

type Section struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Blocks Blocks `json:"blocks"`
}

type Kind string

const (
	KindParagraph    Kind = "paragraph"
	KindSubparagraph Kind = "subparagraph"
	KindList         Kind = "list"
	KindSteps        Kind = "steps"
)

// Block is the closed set of section content nodes: *Paragraph,
// *Subparagraph, *List and *Steps.
type Block interface {
	Kind() Kind
	isBlock()
}

type Image struct {
	Src             string `json:"src,omitempty"`
	Alt             string `json:"alt,omitempty"`
	Caption         string `json:"caption,omitempty"`
	FigureNumber    string `json:"figureNumber,omitempty"`
	Layout          string `json:"layout,omitempty"`
	SuggestedPrompt string `json:"suggestedPrompt,omitempty"`
}

type Paragraph struct {
	ID             string  `json:"id,omitempty"`
	BasisHTML      string  `json:"basisHtml"`
	PraktijkHTML   string  `json:"praktijkHtml,omitempty"`
	VerdiepingHTML string  `json:"verdiepingHtml,omitempty"`
	Images         []Image `json:"images,omitempty"`
}

type Subparagraph struct {
	ID     string `json:"id,omitempty"`
	Title  string `json:"title"`
	Blocks Blocks `json:"blocks"`
}

type List struct {
	ID      string   `json:"id,omitempty"`
	Ordered bool     `json:"ordered,omitempty"`
	Items   []string `json:"items"`
	Images  []Image  `json:"images,omitempty"`
}

type Steps struct {
	ID     string   `json:"id,omitempty"`
	Items  []string `json:"items"`
	Images []Image  `json:"images,omitempty"`
}

func (*Paragraph) Kind() Kind    { return KindParagraph }
func (*Subparagraph) Kind() Kind { return KindSubparagraph }
func (*List) Kind() Kind         { return KindList }
func (*Steps) Kind() Kind        { return KindSteps }

func (*Paragraph) isBlock()    {}
func (*Subparagraph) isBlock() {}
func (*List) isBlock()         {}
func (*Steps) isBlock()        {}

// Field names the two side boxes a paragraph can carry.
type BoxField string

const (
	BoxPraktijk   BoxField = "praktijkHtml"
	BoxVerdieping BoxField = "verdiepingHtml"
)

func (p *Paragraph) Box(f BoxField) string {
	if f == BoxVerdieping {
		return p.VerdiepingHTML
	}
	return p.PraktijkHTML
}

func (p *Paragraph) SetBox(f BoxField, html string) {
	if f == BoxVerdieping {
		p.VerdiepingHTML = html
		return
	}
	p.PraktijkHTML = html
}

// Blocks carries the discriminant-based JSON codec for a block list.
type Blocks []Block

func (bs Blocks) MarshalJSON() ([]byte, error) {
	if len(bs) == 0 {
		return []byte("[]"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, b := range bs {
		if i > 0 {
			buf.WriteByte(',')
		}
		raw, err := marshalBlock(b)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		buf.Write(raw)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func marshalBlock(b Block) ([]byte, error) {
	switch v := b.(type) {
	case *Paragraph:
		type alias Paragraph
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*alias
		}{KindParagraph, (*alias)(v)})
	case *Subparagraph:
		type alias Subparagraph
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*alias
		}{KindSubparagraph, (*alias)(v)})
	case *List:
		type alias List
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*alias
		}{KindList, (*alias)(v)})
	case *Steps:
		type alias Steps
		return json.Marshal(struct {
			Type Kind `json:"type"`
			*alias
		}{KindSteps, (*alias)(v)})
	default:
		return nil, fmt.Errorf("unknown block %T", b)
	}
}

func (bs *Blocks) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(Blocks, 0, len(raws))
	for i, raw := range raws {
		b, err := unmarshalBlock(raw)
		if err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
		out = append(out, b)
	}
	*bs = out
	return nil
}

func unmarshalBlock(raw json.RawMessage) (Block, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	var b Block
	switch head.Type {
	case KindParagraph:
		b = &Paragraph{}
	case KindSubparagraph:
		b = &Subparagraph{}
	case KindList:
		b = &List{}
	case KindSteps:
		b = &Steps{}
	default:
		return nil, fmt.Errorf("unknown block type %q", head.Type)
	}
	if err := json.Unmarshal(raw, b); err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return b, nil
}

// Clone deep-copies a block list.
func (bs Blocks) Clone() Blocks {
	if bs == nil {
		return nil
	}
	out := make(Blocks, 0, len(bs))
	for _, b := range bs {
		out = append(out, CloneBlock(b))
	}
	return out
}

func CloneBlock(b Block) Block {
	switch v := b.(type) {
	case *Paragraph:
		cp := *v
		cp.Images = append([]Image(nil), v.Images...)
		return &cp
	case *Subparagraph:
		cp := *v
		cp.Blocks = v.Blocks.Clone()
		return &cp
	case *List:
		cp := *v
		cp.Items = append([]string(nil), v.Items...)
		cp.Images = append([]Image(nil), v.Images...)
		return &cp
	case *Steps:
		cp := *v
		cp.Items = append([]string(nil), v.Items...)
		cp.Images = append([]Image(nil), v.Images...)
		return &cp
	default:
		return b
	}
}

// Section returns a pointer into the tree, or an error naming the bad index.
func (s *Skeleton) Section(chapterIndex, sectionIndex int) (*Chapter, *Section, error) {
	if chapterIndex < 0 || chapterIndex >= len(s.Chapters) {
		return nil, nil, fmt.Errorf("chapter index %d out of range (chapters=%d)", chapterIndex, len(s.Chapters))
	}
	ch := &s.Chapters[chapterIndex]
	if sectionIndex < 0 || sectionIndex >= len(ch.Sections) {
		return nil, nil, fmt.Errorf("section index %d out of range in chapter %d (sections=%d)", sectionIndex, chapterIndex, len(ch.Sections))
	}
	return ch, &ch.Sections[sectionIndex], nil
}

// ChapterNumber is the explicit number or the 1-based position.
func (s *Skeleton) ChapterNumber(chapterIndex int) int {
	if chapterIndex >= 0 && chapterIndex < len(s.Chapters) && s.Chapters[chapterIndex].Number > 0 {
		return s.Chapters[chapterIndex].Number
	}
	return chapterIndex + 1
}
