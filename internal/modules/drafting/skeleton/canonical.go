package skeleton

import (
	"encoding/json"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

const CanonicalSchemaVersion = 1

type CanonicalDocument struct {
	SchemaVersion int                `json:"schemaVersion"`
	BookID        string             `json:"bookId"`
	VersionID     string             `json:"versionId"`
	Chapters      []CanonicalChapter `json:"chapters"`
}

type CanonicalChapter struct {
	Number   int                `json:"number"`
	Title    string             `json:"title"`
	Sections []CanonicalSection `json:"sections"`
}

type CanonicalSection struct {
	ID     string           `json:"id"`
	Title  string           `json:"title"`
	Terms  []string         `json:"terms"`
	Blocks []CanonicalBlock `json:"blocks"`
}

type CanonicalBlock struct {
	Kind           string           `json:"kind"`
	ID             string           `json:"id,omitempty"`
	Level          int              `json:"level,omitempty"`
	Number         string           `json:"number,omitempty"`
	Text           string           `json:"text,omitempty"`
	HTML           string           `json:"html,omitempty"`
	PraktijkHTML   string           `json:"praktijkHtml,omitempty"`
	VerdiepingHTML string           `json:"verdiepingHtml,omitempty"`
	Ordered        bool             `json:"ordered,omitempty"`
	Items          []string         `json:"items,omitempty"`
	Images         []CanonicalImage `json:"images,omitempty"`
}

type CanonicalImage struct {
	Src          string `json:"src"`
	Alt          string `json:"alt,omitempty"`
	Caption      string `json:"caption,omitempty"`
	FigureNumber string `json:"figureNumber,omitempty"`
	Layout       string `json:"layout,omitempty"`
}

var headingNumberRe = regexp.MustCompile(`^\s*(\d+(?:\.\d+)+)\.?\s+`)

// Compile derives the render-ready document. It reads the skeleton only and
// depends on nothing else, so equal skeletons compile to equal bytes.
func Compile(sk *Skeleton) CanonicalDocument {
	doc := CanonicalDocument{
		SchemaVersion: CanonicalSchemaVersion,
		BookID:        sk.Meta.BookID,
		VersionID:     sk.Meta.VersionID,
		Chapters:      make([]CanonicalChapter, 0, len(sk.Chapters)),
	}
	for ci, ch := range sk.Chapters {
		cc := CanonicalChapter{
			Number:   sk.ChapterNumber(ci),
			Title:    strings.TrimSpace(ch.Title),
			Sections: make([]CanonicalSection, 0, len(ch.Sections)),
		}
		for _, sec := range ch.Sections {
			cc.Sections = append(cc.Sections, CanonicalSection{
				ID:     sec.ID,
				Title:  NormalizeTitle(sec.Title),
				Terms:  SectionTerms(sec.Blocks),
				Blocks: compileBlocks(sec.Blocks, 2, nil),
			})
		}
		doc.Chapters = append(doc.Chapters, cc)
	}
	return doc
}

// CompileJSON is Compile followed by encoding.
func CompileJSON(sk *Skeleton) ([]byte, error) {
	return json.Marshal(Compile(sk))
}

func compileBlocks(blocks Blocks, level int, out []CanonicalBlock) []CanonicalBlock {
	if out == nil {
		out = []CanonicalBlock{}
	}
	for _, b := range blocks {
		switch v := b.(type) {
		case *Subparagraph:
			title := NormalizeTitle(v.Title)
			hb := CanonicalBlock{Kind: "heading", ID: v.ID, Level: level, Text: title}
			if m := headingNumberRe.FindStringSubmatch(title); m != nil {
				hb.Number = m[1]
			}
			out = append(out, hb)
			out = compileBlocks(v.Blocks, level+1, out)
		case *Paragraph:
			out = append(out, CanonicalBlock{
				Kind:           "paragraph",
				ID:             v.ID,
				HTML:           SanitizeInline(v.BasisHTML),
				PraktijkHTML:   SanitizeInline(v.PraktijkHTML),
				VerdiepingHTML: SanitizeInline(v.VerdiepingHTML),
				Images:         compileImages(v.Images),
			})
		case *List:
			out = append(out, CanonicalBlock{
				Kind:    "list",
				ID:      v.ID,
				Ordered: v.Ordered,
				Items:   plainItems(v.Items),
				Images:  compileImages(v.Images),
			})
		case *Steps:
			out = append(out, CanonicalBlock{
				Kind:    "steps",
				ID:      v.ID,
				Ordered: true,
				Items:   plainItems(v.Items),
				Images:  compileImages(v.Images),
			})
		}
	}
	return out
}

func plainItems(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s := StripHTML(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func compileImages(imgs []Image) []CanonicalImage {
	if len(imgs) == 0 {
		return nil
	}
	out := make([]CanonicalImage, 0, len(imgs))
	for _, img := range imgs {
		out = append(out, CanonicalImage{
			Src:          img.Src,
			Alt:          strings.TrimSpace(img.Alt),
			Caption:      strings.TrimSpace(img.Caption),
			FigureNumber: img.FigureNumber,
			Layout:       img.Layout,
		})
	}
	return out
}

var allowedInline = map[string]bool{
	"strong": true, "b": true, "em": true, "i": true, "u": true,
	"sub": true, "sup": true, "br": true, "span": true,
}

// SanitizeInline keeps a small inline tag allowlist. Attributes are dropped
// except span class, which carries the box lead marker.
func SanitizeInline(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}
	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return strings.TrimSpace(sb.String())
		case html.TextToken:
			sb.WriteString(html.EscapeString(string(z.Text())))
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if !allowedInline[tok.Data] {
				continue
			}
			sb.WriteByte('<')
			sb.WriteString(tok.Data)
			if tok.Data == "span" {
				for _, a := range tok.Attr {
					if a.Key == "class" {
						sb.WriteString(` class="`)
						sb.WriteString(html.EscapeString(a.Val))
						sb.WriteByte('"')
					}
				}
			}
			if tok.Data == "br" {
				sb.WriteString("/>")
				continue
			}
			sb.WriteByte('>')
		case html.EndTagToken:
			name, _ := z.TagName()
			if tag := string(name); allowedInline[tag] && tag != "br" {
				sb.WriteString("</" + tag + ">")
			}
		}
	}
}
