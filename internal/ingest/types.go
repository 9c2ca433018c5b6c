// Package ingest turns uploaded files and pasted text into documents made
// of plain-text blocks.
package ingest

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/raaihank/doc-sentinel/internal/model"
)

// ErrUnsupported is returned for inputs no loader handles
var ErrUnsupported = errors.New("unsupported input format")

// RawTextName is the originalName of documents built from pasted text
const RawTextName = "text_manual"

// Input is one uploaded file
type Input struct {
	Name string
	Data []byte
}

// Format is a recognized input format
type Format string

const (
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
	FormatJSONL    Format = "jsonl"
	FormatParquet  Format = "parquet"
	FormatDOCX     Format = "docx"
	FormatPPTX     Format = "pptx"
	FormatImage    Format = "img"
	FormatUnknown  Format = ""
)

// DetectFormat detects the input format from the file extension
func DetectFormat(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt":
		return FormatText
	case ".md", ".markdown":
		return FormatMarkdown
	case ".csv":
		return FormatCSV
	case ".json":
		return FormatJSON
	case ".jsonl", ".ndjson":
		return FormatJSONL
	case ".parquet":
		return FormatParquet
	case ".docx":
		return FormatDOCX
	case ".pptx":
		return FormatPPTX
	case ".jpg", ".jpeg", ".png":
		return FormatImage
	default:
		return FormatUnknown
	}
}

// documentKind maps a format to the document kind recorded on ingestion
func documentKind(f Format) model.DocumentKind {
	switch f {
	case FormatText:
		return model.KindText
	case FormatMarkdown:
		return model.KindMarkdown
	case FormatCSV:
		return model.KindCSV
	case FormatJSON, FormatJSONL:
		return model.KindJSON
	case FormatParquet:
		return model.KindParquet
	case FormatDOCX:
		return model.KindDOCX
	case FormatPPTX:
		return model.KindPPTX
	case FormatImage:
		return model.KindImage
	default:
		return ""
	}
}

func imageMimeType(name string) string {
	if strings.ToLower(filepath.Ext(name)) == ".png" {
		return "image/png"
	}
	return "image/jpeg"
}
