package ner

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/raaihank/doc-sentinel/internal/model"
)

const (
	blockSeparator    = "\n"
	documentSeparator = "\n---\n"
)

// segment is one block's byte range inside the concatenated text
type segment struct {
	start   int
	end     int
	docID   string
	blockID string
}

// Concatenation is the text submitted to the NER job together with the
// offset table needed to map results back to blocks.
type Concatenation struct {
	Text     string
	segments []segment
}

// Concatenate joins block texts with "\n" and documents with "\n---\n",
// recording the cumulative offset of every block.
func Concatenate(docs []*model.Document) *Concatenation {
	var sb strings.Builder
	c := &Concatenation{}

	for di, doc := range docs {
		if di > 0 {
			sb.WriteString(documentSeparator)
		}
		for bi, block := range doc.Blocks {
			if bi > 0 {
				sb.WriteString(blockSeparator)
			}
			start := sb.Len()
			sb.WriteString(block.Text)
			c.segments = append(c.segments, segment{
				start:   start,
				end:     sb.Len(),
				docID:   doc.ID,
				blockID: block.ID,
			})
		}
	}

	c.Text = sb.String()
	return c
}

// Location is a span translated into block coordinates
type Location struct {
	DocumentID string
	BlockID    string
	Start      int
	Length     int
}

// Locate translates a global span into its owning block. Spans that fall on
// a separator, cross a block boundary or split a rune are rejected.
func (c *Concatenation) Locate(start, length int) (Location, bool) {
	if start < 0 || length <= 0 || start+length > len(c.Text) {
		return Location{}, false
	}

	// first segment whose end is past start
	i := sort.Search(len(c.segments), func(i int) bool {
		return c.segments[i].end > start
	})
	if i == len(c.segments) {
		return Location{}, false
	}

	seg := c.segments[i]
	end := start + length
	if start < seg.start || end > seg.end {
		return Location{}, false
	}
	if !utf8.RuneStart(c.Text[start]) || (end < len(c.Text) && !utf8.RuneStart(c.Text[end])) {
		return Location{}, false
	}

	return Location{
		DocumentID: seg.docID,
		BlockID:    seg.blockID,
		Start:      start - seg.start,
		Length:     length,
	}, true
}

// Blocks returns the number of blocks in the table
func (c *Concatenation) Blocks() int { return len(c.segments) }
