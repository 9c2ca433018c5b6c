package ner

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	tokenCLS = "[CLS]"
	tokenSEP = "[SEP]"
	tokenUNK = "[UNK]"
	tokenPAD = "[PAD]"

	maxWordPieceChars = 100
)

// Vocab maps WordPiece tokens to ids
type Vocab map[string]int64

// LoadVocab reads a BERT vocab.txt, one token per line
func LoadVocab(path string) (Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocab: %w", err)
	}
	defer f.Close()
	return ReadVocab(f)
}

// ReadVocab parses vocab.txt content
func ReadVocab(r io.Reader) (Vocab, error) {
	vocab := make(Vocab)
	scanner := bufio.NewScanner(r)
	var id int64
	for scanner.Scan() {
		vocab[strings.TrimRight(scanner.Text(), "\r")] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vocab: %w", err)
	}
	for _, special := range []string{tokenCLS, tokenSEP, tokenUNK, tokenPAD} {
		if _, ok := vocab[special]; !ok {
			return nil, fmt.Errorf("vocab is missing %s", special)
		}
	}
	return vocab, nil
}

// TokenizedInput is a model-ready sequence. Offsets holds the byte span of
// every token in the source text; special tokens have {-1, -1}.
type TokenizedInput struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	Offsets       [][2]int
}

// Tokenizer is a cased BERT WordPiece tokenizer that keeps byte offsets
type Tokenizer struct {
	vocab     Vocab
	maxLength int
}

// NewTokenizer creates a tokenizer producing at most maxLength tokens
func NewTokenizer(vocab Vocab, maxLength int) *Tokenizer {
	if maxLength < 3 {
		maxLength = 3
	}
	return &Tokenizer{vocab: vocab, maxLength: maxLength}
}

// Tokenize splits text on whitespace and punctuation, then into WordPiece
// sub-tokens. Text longer than the model window is split into several
// inputs at word boundaries.
func (t *Tokenizer) Tokenize(text string) []*TokenizedInput {
	limit := t.maxLength - 1
	var windows []*TokenizedInput

	in := t.newInput()
	for _, w := range splitWords(text) {
		pieces := t.wordPieces(text[w[0]:w[1]], w[0])
		if len(pieces) > limit-1 {
			pieces = pieces[:limit-1]
		}
		if len(in.InputIDs)+len(pieces) > limit {
			in.append(t.vocab[tokenSEP], [2]int{-1, -1})
			windows = append(windows, in)
			in = t.newInput()
		}
		for _, p := range pieces {
			in.append(p.id, p.span)
		}
	}

	if len(in.InputIDs) > 1 {
		in.append(t.vocab[tokenSEP], [2]int{-1, -1})
		windows = append(windows, in)
	}
	return windows
}

func (t *Tokenizer) newInput() *TokenizedInput {
	in := &TokenizedInput{}
	in.append(t.vocab[tokenCLS], [2]int{-1, -1})
	return in
}

func (in *TokenizedInput) append(id int64, span [2]int) {
	in.InputIDs = append(in.InputIDs, id)
	in.AttentionMask = append(in.AttentionMask, 1)
	in.TokenTypeIDs = append(in.TokenTypeIDs, 0)
	in.Offsets = append(in.Offsets, span)
}

type piece struct {
	id   int64
	span [2]int
}

// wordPieces runs greedy longest-match-first over one word
func (t *Tokenizer) wordPieces(word string, base int) []piece {
	if utf8.RuneCountInString(word) > maxWordPieceChars {
		return []piece{{id: t.vocab[tokenUNK], span: [2]int{base, base + len(word)}}}
	}

	var pieces []piece
	start := 0
	for start < len(word) {
		end := len(word)
		found := false
		for end > start {
			sub := word[start:end]
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := t.vocab[sub]; ok {
				pieces = append(pieces, piece{id: id, span: [2]int{base + start, base + end}})
				found = true
				break
			}
			_, size := utf8.DecodeLastRuneInString(word[start:end])
			end -= size
		}
		if !found {
			return []piece{{id: t.vocab[tokenUNK], span: [2]int{base, base + len(word)}}}
		}
		start = end
	}
	return pieces
}

// splitWords returns byte ranges of words; punctuation runes are words of
// their own
func splitWords(text string) [][2]int {
	var words [][2]int
	start := -1
	for i, r := range text {
		switch {
		case unicode.IsSpace(r):
			if start >= 0 {
				words = append(words, [2]int{start, i})
				start = -1
			}
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			if start >= 0 {
				words = append(words, [2]int{start, i})
				start = -1
			}
			words = append(words, [2]int{i, i + utf8.RuneLen(r)})
		default:
			if start < 0 {
				start = i
			}
		}
	}
	if start >= 0 {
		words = append(words, [2]int{start, len(text)})
	}
	return words
}
