package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/beihilfepay/beihilfepay/internal/extraction"
	"github.com/beihilfepay/beihilfepay/internal/invoice"
	"github.com/beihilfepay/beihilfepay/internal/models"
	"github.com/beihilfepay/beihilfepay/internal/ocr"
	"go.uber.org/zap"
)

// ErrNoExtractor is returned when neither the engine nor text recognition
// is available for a document.
var ErrNoExtractor = errors.New("no extraction method available")

// Engine is the remote structured extraction engine
type Engine interface {
	ExtractDocument(ctx context.Context, doc *models.Document) (models.ExtractionResult, error)
	ExtractText(ctx context.Context, text string) (models.ExtractionResult, error)
}

// Recognizer runs text recognition over a document
type Recognizer interface {
	Recognize(ctx context.Context, doc *models.Document, progress ocr.ProgressFunc) (*models.RecognizedText, error)
}

// PageRenderer rasterizes the first PDF page for the vision engine
type PageRenderer interface {
	FirstPageJPEG(content []byte) ([]byte, error)
}

// Recorder receives run statistics (metrics)
type Recorder interface {
	RecordRun(strategy, method, outcome string)
	RecordEngineFailure(kind string)
}

// Outcome is the result of one pipeline run
type Outcome struct {
	RunID    uint64                  `json:"run_id"`
	Result   models.ExtractionResult `json:"result"`
	Method   string                  `json:"method"`
	Text     *models.RecognizedText  `json:"recognized_text,omitempty"`
	Warnings []string                `json:"warnings,omitempty"`
}

// Options configures a Pipeline. Engine and Recognizer may be nil when the
// corresponding stage is not configured.
type Options struct {
	Strategy   Strategy
	Engine     Engine
	Recognizer Recognizer
	Pages      PageRenderer
	Recorder   Recorder
	// TextLLM lets RunText ask the engine before the regex extractor
	TextLLM bool
}

// Pipeline runs acquisition output through recognition and extraction. It
// never writes to storage.
type Pipeline struct {
	strategy   Strategy
	engine     Engine
	recognizer Recognizer
	pages      PageRenderer
	recorder   Recorder
	textLLM    bool
	regex      *invoice.Extractor
	logger     *zap.Logger

	runs atomic.Uint64
}

// New creates a new pipeline
func New(opts Options, logger *zap.Logger) *Pipeline {
	if opts.Strategy == "" {
		opts.Strategy = StrategyVision
	}
	return &Pipeline{
		strategy:   opts.Strategy,
		engine:     opts.Engine,
		recognizer: opts.Recognizer,
		pages:      opts.Pages,
		recorder:   opts.Recorder,
		textLLM:    opts.TextLLM,
		regex:      invoice.NewExtractor(logger),
		logger:     logger,
	}
}

// Strategy returns the configured strategy
func (p *Pipeline) Strategy() Strategy {
	return p.strategy
}

// RunDocument extracts fields from doc with the configured strategy.
// progress receives recognition progress and may be nil.
func (p *Pipeline) RunDocument(ctx context.Context, doc *models.Document, progress ocr.ProgressFunc) (*Outcome, error) {
	return p.runDocument(ctx, p.runs.Add(1), doc, progress)
}

func (p *Pipeline) runDocument(ctx context.Context, runID uint64, doc *models.Document, progress ocr.ProgressFunc) (*Outcome, error) {
	strategy := p.effectiveStrategy()
	log := p.logger.With(
		zap.Uint64("run_id", runID),
		zap.String("strategy", strategy.String()),
		zap.String("media_type", doc.MediaType))

	log.Info("Extraction run started", zap.Int64("size", doc.Size))

	var (
		out *Outcome
		err error
	)
	switch strategy {
	case StrategyVision:
		out, err = p.runVision(ctx, doc)
	case StrategyOCROnly:
		out, err = p.runOCR(ctx, doc, progress, false)
	case StrategyOCRThenVision:
		out, err = p.runOCR(ctx, doc, progress, true)
	default:
		err = ErrNoExtractor
	}

	if err != nil {
		p.record(strategy, "", err)
		log.Warn("Extraction run failed", zap.Error(err))
		return nil, err
	}

	out.RunID = runID
	out.Result = out.Result.WithDefaults()
	p.record(strategy, out.Method, nil)

	log.Info("Extraction run finished",
		zap.String("method", out.Method),
		zap.Int("warnings", len(out.Warnings)))

	return out, nil
}

// effectiveStrategy degrades the configured strategy to what is available
func (p *Pipeline) effectiveStrategy() Strategy {
	switch {
	case p.strategy == StrategyVision && p.engine == nil && p.recognizer != nil:
		return StrategyOCROnly
	case p.strategy == StrategyOCRThenVision && p.engine == nil:
		return StrategyOCROnly
	case p.strategy.NeedsOCR() && p.recognizer == nil && p.engine != nil:
		return StrategyVision
	}
	return p.strategy
}

func (p *Pipeline) runVision(ctx context.Context, doc *models.Document) (*Outcome, error) {
	if p.engine == nil {
		return nil, ErrNoExtractor
	}

	image, err := p.visionInput(doc)
	if err != nil {
		return nil, err
	}

	result, err := p.engine.ExtractDocument(ctx, image)
	if err != nil {
		// only an image: nothing to fall back to
		return nil, err
	}
	return &Outcome{Result: result, Method: MethodVision}, nil
}

func (p *Pipeline) runOCR(ctx context.Context, doc *models.Document, progress ocr.ProgressFunc, withEngine bool) (*Outcome, error) {
	if p.recognizer == nil {
		return nil, ErrNoExtractor
	}

	text, err := p.recognizer.Recognize(ctx, doc, progress)
	if err != nil {
		return nil, err
	}

	fallback := p.regex.Extract(text.Text)
	out := &Outcome{Result: fallback, Method: MethodOCRRegex, Text: text}
	if !withEngine {
		return out, nil
	}

	image, err := p.visionInput(doc)
	if err == nil {
		var result models.ExtractionResult
		result, err = p.engine.ExtractDocument(ctx, image)
		if err == nil {
			result.Merge(fallback)
			out.Result = result
			out.Method = MethodOCRVision
			return out, nil
		}
	}

	p.logger.Warn("Engine failed, using regex result from recognized text", zap.Error(err))
	if p.recorder != nil {
		p.recorder.RecordEngineFailure(extraction.KindName(err))
	}
	out.Warnings = append(out.Warnings, extraction.UserMessage(err))
	return out, nil
}

// visionInput returns an image document; PDFs are rasterized to their
// first page.
func (p *Pipeline) visionInput(doc *models.Document) (*models.Document, error) {
	if !doc.IsPDF() {
		return doc, nil
	}
	if p.pages == nil {
		return nil, fmt.Errorf("PDF documents need a page renderer")
	}

	jpeg, err := p.pages.FirstPageJPEG(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("render first page: %w", err)
	}
	return &models.Document{
		Name:      doc.Name,
		Content:   jpeg,
		MediaType: models.MediaTypeJPEG,
		Size:      int64(len(jpeg)),
		Digest:    doc.Digest,
	}, nil
}

// RunText extracts fields from already available text. It never fails: an
// engine failure falls back to the regex extractor.
func (p *Pipeline) RunText(ctx context.Context, text string) *Outcome {
	runID := p.runs.Add(1)
	fallback := p.regex.Extract(text)
	out := &Outcome{
		RunID:  runID,
		Result: fallback,
		Method: MethodTextRegex,
		Text:   &models.RecognizedText{Text: text, Confidence: 1, Progress: 100},
	}

	if p.textLLM && p.engine != nil && p.strategy != StrategyOCROnly {
		result, err := p.engine.ExtractText(ctx, text)
		if err == nil {
			result.Merge(fallback)
			out.Result = result
			out.Method = MethodTextLLM
		} else {
			p.logger.Warn("Engine failed on text, using regex result", zap.Error(err))
			if p.recorder != nil {
				p.recorder.RecordEngineFailure(extraction.KindName(err))
			}
			out.Warnings = append(out.Warnings, extraction.UserMessage(err))
		}
	}

	out.Result = out.Result.WithDefaults()
	p.record("text", out.Method, nil)
	return out
}

func (p *Pipeline) record(strategy Strategy, method string, err error) {
	if p.recorder == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
		if method == "" {
			method = "none"
		}
		var failed *extraction.ExtractionFailed
		if errors.As(err, &failed) {
			p.recorder.RecordEngineFailure(extraction.KindName(err))
		}
	}
	p.recorder.RecordRun(strategy.String(), method, outcome)
}
