package ingest

import (
	"strings"

	"github.com/raaihank/doc-sentinel/internal/model"
)

// loadLines adds one paragraph block per non-blank line. With headings
// set, lines starting with '#' become heading blocks without the marker.
func loadLines(doc *model.Document, data []byte, headings bool) {
	for _, line := range splitLines(string(data)) {
		if isBlank(line) {
			continue
		}
		if headings && strings.HasPrefix(line, "#") {
			if title := strings.TrimLeft(strings.TrimLeft(line, "#"), " \t"); !isBlank(title) {
				doc.AddBlock(model.BlockHeading, title)
			}
			continue
		}
		doc.AddBlock(model.BlockParagraph, line)
	}
}

func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
