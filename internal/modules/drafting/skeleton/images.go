package skeleton

import (
	"fmt"
	"strings"
)

// ImageSrc is the storage-relative path for the i-th image of the block at
// path. It depends only on position.
func ImageSrc(chapterNumber int, sectionID string, path Path, i int) string {
	sec := strings.ReplaceAll(strings.TrimSpace(sectionID), "/", "_")
	return fmt.Sprintf("images/ch%d/s%s/%s-%d.png", chapterNumber, sec, path.String(), i)
}

// AssignImageSources rewrites every image src in a section from its position.
func AssignImageSources(chapterNumber int, sec *Section) {
	Walk(sec.Blocks, func(b Block, path Path) bool {
		imgs := blockImages(b)
		for i := range imgs {
			imgs[i].Src = ImageSrc(chapterNumber, sec.ID, path, i)
		}
		return true
	})
}

// RenumberFigures numbers every image of a chapter "<chapter>.<k>" in
// document order, k starting at 1.
func RenumberFigures(chapterNumber int, ch *Chapter) int {
	k := 0
	for si := range ch.Sections {
		for _, img := range Images(ch.Sections[si].Blocks) {
			k++
			img.FigureNumber = fmt.Sprintf("%d.%d", chapterNumber, k)
		}
	}
	return k
}

// ReconcileSection runs the post-edit passes for one section: paragraph ids,
// image paths and the chapter-wide figure renumbering.
func (s *Skeleton) ReconcileSection(chapterIndex, sectionIndex int) error {
	ch, sec, err := s.Section(chapterIndex, sectionIndex)
	if err != nil {
		return err
	}
	num := s.ChapterNumber(chapterIndex)
	EnsureParagraphIDs(sec.ID, sec.Blocks)
	AssignImageSources(num, sec)
	RenumberFigures(num, ch)
	return nil
}
