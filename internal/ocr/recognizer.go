package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/beihilfepay/beihilfepay/internal/models"
	"go.uber.org/zap"
)

// ErrRecognitionFailed aborts the pipeline; no partial text is usable
var ErrRecognitionFailed = errors.New("text recognition failed")

// ProgressFunc receives recognition progress in percent. Updates are
// advisory and never decrease within one call to Recognize.
type ProgressFunc func(percent int)

// PDFSource reads text layers and page images out of PDF payloads
type PDFSource interface {
	TextLayer(content []byte, maxPages int) (string, error)
	RenderPages(content []byte, maxPages int) ([]image.Image, error)
}

// Config configures the recognizer
type Config struct {
	Language       string
	TessdataPrefix string
	MaxPages       int
	// MinTextLayer is the number of characters a PDF text layer needs to be
	// used instead of rasterizing and recognizing the pages.
	MinTextLayer int
}

// DurationObserver records how long a recognition took
type DurationObserver interface {
	ObserveOCRDuration(source string, d time.Duration)
}

// Recognizer turns a document into RecognizedText
type Recognizer struct {
	engine   Engine
	pdf      PDFSource
	cfg      Config
	observer DurationObserver
	logger   *zap.Logger
}

// NewRecognizer creates a new recognizer
func NewRecognizer(engine Engine, pdf PDFSource, cfg Config, logger *zap.Logger) *Recognizer {
	if cfg.Language == "" {
		cfg.Language = "deu"
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 3
	}
	if cfg.MinTextLayer <= 0 {
		cfg.MinTextLayer = 20
	}
	return &Recognizer{
		engine: engine,
		pdf:    pdf,
		cfg:    cfg,
		logger: logger,
	}
}

// SetObserver attaches a duration observer (metrics)
func (r *Recognizer) SetObserver(o DurationObserver) {
	r.observer = o
}

// Recognize runs recognition to completion. progress may be nil.
func (r *Recognizer) Recognize(ctx context.Context, doc *models.Document, progress ProgressFunc) (*models.RecognizedText, error) {
	start := time.Now()
	tracker := newProgressTracker(progress)
	tracker.report(0)

	var (
		result *models.RecognizedText
		source string
		err    error
	)
	if doc.IsPDF() {
		source = "pdf"
		result, err = r.recognizePDF(ctx, doc, tracker)
	} else {
		source = "image"
		result, err = r.recognizeImages(ctx, [][]byte{doc.Content}, nil, tracker)
	}

	if r.observer != nil {
		r.observer.ObserveOCRDuration(source, time.Since(start))
	}

	if err != nil {
		r.logger.Error("Text recognition failed",
			zap.String("media_type", doc.MediaType),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrRecognitionFailed, err)
	}

	tracker.report(100)
	result.Progress = tracker.last

	r.logger.Info("Text recognized",
		zap.String("source", source),
		zap.Int("text_length", len(result.Text)),
		zap.Float64("confidence", result.Confidence),
		zap.Duration("duration", time.Since(start)))

	return result, nil
}

func (r *Recognizer) recognizePDF(ctx context.Context, doc *models.Document, tracker *progressTracker) (*models.RecognizedText, error) {
	if r.pdf == nil {
		return nil, fmt.Errorf("PDF input is not supported")
	}

	text, err := r.pdf.TextLayer(doc.Content, r.cfg.MaxPages)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(text)) >= r.cfg.MinTextLayer {
		r.logger.Debug("Using embedded PDF text layer", zap.Int("text_length", len(text)))
		return &models.RecognizedText{Text: text, Confidence: 1}, nil
	}
	tracker.report(10)

	pages, err := r.pdf.RenderPages(doc.Content, r.cfg.MaxPages)
	if err != nil {
		return nil, err
	}
	return r.recognizeImages(ctx, nil, pages, tracker)
}

// recognizeImages recognizes raw payloads or already decoded pages, in order
func (r *Recognizer) recognizeImages(ctx context.Context, raw [][]byte, pages []image.Image, tracker *progressTracker) (*models.RecognizedText, error) {
	total := len(raw) + len(pages)
	base := tracker.last

	var (
		texts []string
		conf  float64
	)
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var img image.Image
		if i < len(raw) {
			decoded, err := DecodeImage(raw[i])
			if err != nil {
				return nil, err
			}
			img = decoded
		} else {
			img = pages[i-len(raw)]
		}

		payload, err := EncodePNG(Preprocess(img))
		if err != nil {
			return nil, err
		}

		text, c, err := r.engine.Recognize(payload)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		texts = append(texts, strings.TrimSpace(text))
		conf += c

		tracker.report(base + (95-base)*(i+1)/total)
	}

	if total == 0 {
		return &models.RecognizedText{}, nil
	}
	return &models.RecognizedText{
		Text:       strings.Join(texts, "\n"),
		Confidence: conf / float64(total),
	}, nil
}

type progressTracker struct {
	fn   ProgressFunc
	last int
}

func newProgressTracker(fn ProgressFunc) *progressTracker {
	return &progressTracker{fn: fn, last: -1}
}

// report forwards p only if it moves progress forward
func (t *progressTracker) report(p int) {
	if p > 100 {
		p = 100
	}
	if p <= t.last {
		return
	}
	t.last = p
	if t.fn != nil {
		t.fn(p)
	}
}
