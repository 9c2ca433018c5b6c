package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/raaihank/doc-sentinel/internal/model"
)

var slidePath = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// loadDOCX adds one block per non-blank paragraph of word/document.xml.
// Paragraphs styled Title or Heading* become heading blocks.
func loadDOCX(doc *model.Document, data []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("invalid docx archive: %w", err)
	}

	body, err := readZipFile(zr, "word/document.xml")
	if err != nil {
		return err
	}

	dec := xml.NewDecoder(bytes.NewReader(body))
	var (
		text    strings.Builder
		inPara  bool
		inText  bool
		heading bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("invalid document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inPara, heading = true, false
				text.Reset()
			case "pStyle":
				heading = isHeadingStyle(attr(t, "val"))
			case "t":
				inText = true
			case "tab":
				if inPara {
					text.WriteByte('\t')
				}
			case "br":
				if inPara {
					text.WriteByte(' ')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if inPara && !isBlank(text.String()) {
					kind := model.BlockParagraph
					if heading {
						kind = model.BlockHeading
					}
					doc.AddBlock(kind, text.String())
				}
				inPara = false
			}
		case xml.CharData:
			if inPara && inText {
				text.Write(t)
			}
		}
	}
}

func isHeadingStyle(style string) bool {
	s := strings.ToLower(style)
	return s == "title" || strings.HasPrefix(s, "heading")
}

// loadPPTX adds one paragraph block per non-blank text run, slides in order
func loadPPTX(doc *model.Document, data []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("invalid pptx archive: %w", err)
	}

	type slide struct {
		n    int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		if m := slidePath.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{n: n, file: f})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	for _, s := range slides {
		body, err := readZip(s.file)
		if err != nil {
			return err
		}
		if err := addSlideRuns(doc, body); err != nil {
			return fmt.Errorf("slide %d: %w", s.n, err)
		}
	}
	return nil
}

func addSlideRuns(doc *model.Document, body []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var (
		run   strings.Builder
		inRun bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inRun = true
				run.Reset()
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inRun = false
				if text := strings.TrimSpace(run.String()); text != "" {
					doc.AddBlock(model.BlockParagraph, text)
				}
			}
		case xml.CharData:
			if inRun {
				run.Write(t)
			}
		}
	}
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return readZip(f)
		}
	}
	return nil, fmt.Errorf("archive has no %s", name)
}

func readZip(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
