package model

import "github.com/google/uuid"

// DocumentKind identifies the source format a document was ingested from
type DocumentKind string

const (
	KindPDF      DocumentKind = "pdf"
	KindDOCX     DocumentKind = "docx"
	KindPPTX     DocumentKind = "pptx"
	KindText     DocumentKind = "txt"
	KindMarkdown DocumentKind = "md"
	KindCSV      DocumentKind = "csv"
	KindJSON     DocumentKind = "json"
	KindParquet  DocumentKind = "parquet"
	KindImage    DocumentKind = "img"
	KindRawText  DocumentKind = "rawText"
)

// BlockKind is the structural role of a block inside its document
type BlockKind string

const (
	BlockParagraph BlockKind = "paragraph"
	BlockHeading   BlockKind = "heading"
	BlockTable     BlockKind = "table"
	BlockImageText BlockKind = "imageText"
)

// Block is the unit all entity offsets are computed against.
// Offsets are UTF-8 byte offsets into Text.
type Block struct {
	ID         string    `json:"blockId"`
	DocumentID string    `json:"docId"`
	Kind       BlockKind `json:"type"`
	Text       string    `json:"text"`
}

// Document owns an ordered sequence of blocks
type Document struct {
	ID           string       `json:"idDoc"`
	OriginalName string       `json:"originalName"`
	Kind         DocumentKind `json:"type"`
	Blocks       []*Block     `json:"blocks"`
}

// NewDocument creates an empty document with a fresh id
func NewDocument(originalName string, kind DocumentKind) *Document {
	return &Document{
		ID:           uuid.NewString(),
		OriginalName: originalName,
		Kind:         kind,
		Blocks:       make([]*Block, 0),
	}
}

// AddBlock appends a new block and returns it
func (d *Document) AddBlock(kind BlockKind, text string) *Block {
	block := &Block{
		ID:         uuid.NewString(),
		DocumentID: d.ID,
		Kind:       kind,
		Text:       text,
	}
	d.Blocks = append(d.Blocks, block)
	return block
}

// Block returns the block with the given id, or nil
func (d *Document) Block(id string) *Block {
	for _, b := range d.Blocks {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// Clone returns a deep copy. Redaction works on clones so the
// reviewed source text is never mutated.
func (d *Document) Clone() *Document {
	out := &Document{
		ID:           d.ID,
		OriginalName: d.OriginalName,
		Kind:         d.Kind,
		Blocks:       make([]*Block, len(d.Blocks)),
	}
	for i, b := range d.Blocks {
		cp := *b
		out.Blocks[i] = &cp
	}
	return out
}
