package redaction

import (
	"strings"

	"github.com/raaihank/doc-sentinel/internal/model"
)

// BuildMarkdown renders documents as one markdown section each. Headings
// become second-level titles; every other block is emitted verbatim.
func BuildMarkdown(docs []*model.Document) string {
	var sb strings.Builder
	for _, doc := range docs {
		sb.WriteString("# Document: ")
		sb.WriteString(doc.OriginalName)
		sb.WriteString("\n\n")
		for _, block := range doc.Blocks {
			if block.Kind == model.BlockHeading {
				sb.WriteString("## ")
			}
			sb.WriteString(block.Text)
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}
