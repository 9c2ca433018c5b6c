package privacy

import (
	"regexp"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/model"
	"go.uber.org/zap"
)

var capitalizedToken = regexp.MustCompile(`\p{Lu}[^\s,.;]*`)

// HeuristicDetector flags capitalized tokens that follow context keywords
// such as "holder" or "titular" as PERSON candidates.
type HeuristicDetector struct {
	mu        sync.RWMutex
	keywords  []*regexp.Regexp
	lookahead int
	tokenBase int
	logger    *logger.Logger
}

// NewHeuristicDetector creates a heuristic detector. Keywords are matched
// case-insensitively as plain substrings.
func NewHeuristicDetector(keywords []string, lookahead, tokenBase int, log *logger.Logger) *HeuristicDetector {
	h := &HeuristicDetector{
		lookahead: lookahead,
		tokenBase: tokenBase,
		logger:    log.WithComponent("heuristic_detector"),
	}
	h.SetKeywords(keywords)
	return h
}

// SetKeywords swaps the vocabulary
func (h *HeuristicDetector) SetKeywords(keywords []string) {
	compiled := make([]*regexp.Regexp, 0, len(keywords))
	for _, kw := range normalizeKeywords(keywords) {
		compiled = append(compiled, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(kw)))
	}

	h.mu.Lock()
	h.keywords = compiled
	h.mu.Unlock()
}

func (h *HeuristicDetector) Name() string { return string(model.SourceHeuristic) }

// Detect scans every block. Each keyword occurrence opens a look-ahead
// window right after the keyword; scanning resumes after the keyword, not
// after the window.
func (h *HeuristicDetector) Detect(docs []*model.Document) []*model.PIIEntity {
	h.mu.RLock()
	keywords := h.keywords
	h.mu.RUnlock()

	counter := model.NewTokenCounter(h.tokenBase)
	entities := make([]*model.PIIEntity, 0)

	for _, doc := range docs {
		for _, block := range doc.Blocks {
			text := block.Text
			for _, kw := range keywords {
				for _, loc := range kw.FindAllStringIndex(text, -1) {
					start, end, ok := h.findCandidate(text, loc[1])
					if !ok {
						continue
					}
					entities = append(entities, &model.PIIEntity{
						ID:           uuid.NewString(),
						Token:        counter.Next(model.TypePerson),
						Type:         model.TypePerson,
						DocumentID:   doc.ID,
						BlockID:      block.ID,
						Start:        start,
						Length:       end - start,
						TextOriginal: text[start:end],
						Confidence:   heuristicConfidence,
						Source:       model.SourceHeuristic,
						Status:       model.StatusPending,
					})
				}
			}
		}
	}

	h.logger.Debug("Heuristic detection finished",
		zap.Int("documents", len(docs)),
		zap.Int("entities", len(entities)),
	)

	return entities
}

// findCandidate returns the first capitalized token inside the window of
// lookahead characters that starts at from. The token must start at a word
// boundary. Offsets are relative to text.
func (h *HeuristicDetector) findCandidate(text string, from int) (int, int, bool) {
	to := from
	for n := 0; n < h.lookahead && to < len(text); n++ {
		_, size := utf8.DecodeRuneInString(text[to:])
		to += size
	}
	if to <= from {
		return 0, 0, false
	}

	window := text[from:to]
	for _, loc := range capitalizedToken.FindAllStringIndex(window, -1) {
		start := from + loc[0]
		if !atWordBoundary(text, start) {
			continue
		}
		return start, from + loc[1], true
	}
	return 0, 0, false
}

// atWordBoundary reports whether the rune before i is not a word character
func atWordBoundary(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
}
