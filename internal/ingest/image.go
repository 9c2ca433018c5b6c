package ingest

import (
	"context"
	"time"

	"github.com/raaihank/doc-sentinel/internal/jobs"
	"github.com/raaihank/doc-sentinel/internal/model"
	"go.uber.org/zap"
)

// OCR recognizes the text of an image
type OCR interface {
	Recognize(ctx context.Context, name, mimeType string, image []byte) (string, error)
}

// JobOCR runs OCR through the job protocol
type JobOCR struct {
	dispatcher *jobs.Dispatcher
	timeout    time.Duration
}

// NewJobOCR creates an OCR client backed by dispatcher
func NewJobOCR(dispatcher *jobs.Dispatcher, timeout time.Duration) *JobOCR {
	return &JobOCR{dispatcher: dispatcher, timeout: timeout}
}

func (o *JobOCR) Recognize(ctx context.Context, name, mimeType string, image []byte) (string, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	res, err := jobs.Run[jobs.OCRResult](ctx, o.dispatcher, jobs.KindOCR, jobs.OCRPayload{
		Name:     name,
		MimeType: mimeType,
		Image:    image,
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// loadImage adds a single imageText block. OCR being absent or failing
// leaves the block empty.
func (l *Loader) loadImage(ctx context.Context, doc *model.Document, in Input) {
	text := ""
	if l.ocr != nil {
		recognized, err := l.ocr.Recognize(ctx, in.Name, imageMimeType(in.Name), in.Data)
		if err != nil {
			l.logger.Warn("OCR failed, keeping empty image block",
				zap.String("name", in.Name),
				zap.Error(err))
		} else {
			text = recognized
		}
	}
	doc.AddBlock(model.BlockImageText, text)
}
