package ner

import (
	"math"
	"strings"

	"github.com/raaihank/doc-sentinel/internal/jobs"
)

// TokenPrediction is the best label for one token
type TokenPrediction struct {
	Label string
	Score float64
	Span  [2]int
}

// Softmax returns the arg max of logits and its probability
func Softmax(logits []float32) (int, float64) {
	if len(logits) == 0 {
		return -1, 0
	}
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v - logits[best]))
	}
	return best, 1 / sum
}

// DecodeBIO merges token predictions into entity spans over text. A span
// starts at a B- label, or at an I- label whose type differs from the open
// span, and its confidence is the mean token score.
func DecodeBIO(text string, preds []TokenPrediction) []jobs.NERSpan {
	var spans []jobs.NERSpan

	var (
		open   bool
		typ    string
		start  int
		end    int
		scores float64
		count  int
	)
	flush := func() {
		if open && end > start {
			spans = append(spans, jobs.NERSpan{
				Start:      start,
				Length:     end - start,
				Type:       typ,
				Text:       text[start:end],
				Confidence: scores / float64(count),
			})
		}
		open = false
	}

	for _, p := range preds {
		if p.Span[0] < 0 {
			continue
		}
		prefix, entType := splitLabel(p.Label)
		switch {
		case entType == "":
			flush()
		case prefix == "B" || !open || entType != typ:
			flush()
			open, typ = true, entType
			start, end = p.Span[0], p.Span[1]
			scores, count = p.Score, 1
		default:
			end = p.Span[1]
			scores += p.Score
			count++
		}
	}
	flush()
	return spans
}

// splitLabel splits "B-PER" into ("B", "PER"); "O" yields an empty type
func splitLabel(label string) (string, string) {
	label = strings.ToUpper(strings.TrimSpace(label))
	if label == "" || label == "O" {
		return "", ""
	}
	if len(label) > 2 && label[1] == '-' {
		return label[:1], label[2:]
	}
	return "I", label
}
