package ingest

import (
	"context"
	"fmt"

	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/model"
	"go.uber.org/zap"
)

// Loader builds documents from inputs. Inputs that fail to parse are
// skipped; they never fail a batch.
type Loader struct {
	ocr    OCR
	logger *logger.Logger
}

// NewLoader creates a loader. ocr may be nil, in which case images yield
// an empty imageText block.
func NewLoader(ocr OCR, log *logger.Logger) *Loader {
	return &Loader{
		ocr:    ocr,
		logger: log.WithComponent("ingest"),
	}
}

// LoadAll loads every input and the optional raw text, skipping failures
func (l *Loader) LoadAll(ctx context.Context, inputs []Input, rawText string) []*model.Document {
	docs := make([]*model.Document, 0, len(inputs)+1)

	for _, in := range inputs {
		doc, err := l.Load(ctx, in)
		if err != nil {
			l.logger.Warn("Skipping input",
				zap.String("name", in.Name),
				zap.Int("bytes", len(in.Data)),
				zap.Error(err))
			continue
		}
		docs = append(docs, doc)
	}

	if doc := RawText(rawText); doc != nil {
		docs = append(docs, doc)
	}

	l.logger.Info("Ingestion finished",
		zap.Int("inputs", len(inputs)),
		zap.Int("documents", len(docs)))
	return docs
}

// Load parses one input into a document
func (l *Loader) Load(ctx context.Context, in Input) (*model.Document, error) {
	format := DetectFormat(in.Name)
	if format == FormatUnknown {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, in.Name)
	}

	doc := model.NewDocument(in.Name, documentKind(format))

	var err error
	switch format {
	case FormatText:
		loadLines(doc, in.Data, false)
	case FormatMarkdown:
		loadLines(doc, in.Data, true)
	case FormatCSV:
		err = loadCSV(doc, in.Data)
	case FormatJSON:
		err = loadJSON(doc, in.Data)
	case FormatJSONL:
		err = loadJSONLines(doc, in.Data)
	case FormatParquet:
		err = loadParquet(doc, in.Data)
	case FormatDOCX:
		err = loadDOCX(doc, in.Data)
	case FormatPPTX:
		err = loadPPTX(doc, in.Data)
	case FormatImage:
		l.loadImage(ctx, doc, in)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", in.Name, err)
	}

	l.logger.Debug("Input loaded",
		zap.String("name", in.Name),
		zap.String("format", string(format)),
		zap.Int("blocks", len(doc.Blocks)))
	return doc, nil
}

// RawText wraps pasted text as a single-paragraph document. Blank text
// yields nil.
func RawText(text string) *model.Document {
	if isBlank(text) {
		return nil
	}
	doc := model.NewDocument(RawTextName, model.KindRawText)
	doc.AddBlock(model.BlockParagraph, text)
	return doc
}
