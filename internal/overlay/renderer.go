// Package overlay computes original or redacted views of a block from its
// entity spans without touching the stored text.
package overlay

import (
	"fmt"
	"html"
	"strings"

	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/model"
	"go.uber.org/zap"
)

// Mode selects what a span shows
type Mode string

const (
	ModeOriginal Mode = "original"
	ModeRedacted Mode = "redacted"
)

// ParseMode accepts "original", "redacted" and the legacy alias "hidden"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "original":
		return ModeOriginal, nil
	case "redacted", "hidden":
		return ModeRedacted, nil
	default:
		return "", fmt.Errorf("unknown render mode: %s", s)
	}
}

// Segment is one piece of a rendered block. Entity is nil for literal gaps.
type Segment struct {
	Text   string           `json:"text"`
	Entity *model.PIIEntity `json:"entity,omitempty"`
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Placeholder is the masked form of a span in redacted mode
func Placeholder(token string) string {
	return "****" + token + "****"
}

// Renderer builds display output for blocks
type Renderer struct {
	logger *logger.Logger
}

// NewRenderer creates a renderer
func NewRenderer(log *logger.Logger) *Renderer {
	return &Renderer{logger: log.WithComponent("overlay")}
}

// Segments walks the block text left to right. Entities of other blocks and
// entities that do not fit the text are ignored; a span that starts before
// the previous kept span ends is skipped and logged as a conflict.
func (r *Renderer) Segments(block *model.Block, entities []*model.PIIEntity, mode Mode) []Segment {
	text := block.Text

	candidates := make([]*model.PIIEntity, 0, len(entities))
	for _, e := range entities {
		if e.BlockID != block.ID {
			continue
		}
		if err := e.Validate(text); err != nil {
			r.logger.Warn("Entity does not fit block text",
				append(logger.EntityFields(e.ID, string(e.Type), e.Token, e.BlockID, e.Start, e.Length), zap.Error(err))...)
			continue
		}
		candidates = append(candidates, e)
	}

	kept, conflicts := model.ResolveOverlaps(candidates)
	for _, c := range conflicts {
		r.logger.Warn("Overlapping entity skipped for rendering",
			logger.EntityFields(c.ID, string(c.Type), c.Token, c.BlockID, c.Start, c.Length)...)
	}

	segments := make([]Segment, 0, 2*len(kept)+1)
	idx := 0
	for _, e := range kept {
		if e.Start > idx {
			segments = append(segments, Segment{Text: text[idx:e.Start]})
		}
		shown := text[e.Start:e.End()]
		if mode == ModeRedacted {
			shown = Placeholder(e.Token)
		}
		segments = append(segments, Segment{Text: shown, Entity: e})
		idx = e.End()
	}
	if idx < len(text) {
		segments = append(segments, Segment{Text: text[idx:]})
	}
	return segments
}

// Text renders the block as plain text. In original mode the result equals
// block.Text.
func (r *Renderer) Text(block *model.Block, entities []*model.PIIEntity, mode Mode) string {
	var sb strings.Builder
	for _, s := range r.Segments(block, entities, mode) {
		sb.WriteString(s.Text)
	}
	return sb.String()
}

// HTML renders the block as an escaped fragment with one span per entity
func (r *Renderer) HTML(block *model.Block, entities []*model.PIIEntity, mode Mode) string {
	var sb strings.Builder
	for _, s := range r.Segments(block, entities, mode) {
		if s.Entity == nil {
			sb.WriteString(escaper.Replace(s.Text))
			continue
		}
		fmt.Fprintf(&sb, `<span class="pii pii-%s pii-%s" data-entity-id="%s">%s</span>`,
			s.Entity.Status,
			strings.ToLower(string(s.Entity.Type)),
			html.EscapeString(s.Entity.ID),
			escaper.Replace(s.Text),
		)
	}
	return sb.String()
}

// DocumentHTML renders a whole document: a title followed by one paragraph
// element per block.
func (r *Renderer) DocumentHTML(doc *model.Document, entities []*model.PIIEntity, mode Mode) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<h3>%s (%s)</h3>", escaper.Replace(doc.OriginalName), doc.Kind)
	for _, block := range doc.Blocks {
		fmt.Fprintf(&sb, `<p data-block-id="%s">`, html.EscapeString(block.ID))
		sb.WriteString(r.HTML(block, model.FilterByBlock(entities, block.ID), mode))
		sb.WriteString("</p>")
	}
	return sb.String()
}
