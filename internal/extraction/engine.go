package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/beihilfepay/beihilfepay/internal/models"
	"go.uber.org/zap"
)

// jsonObject locates the JSON object in a free-text answer. Greedy on
// purpose: from the first "{" to the last "}".
var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// Engine turns a document image or recognized text into an ExtractionResult
// using a language model.
type Engine struct {
	completer Completer
	logger    *zap.Logger
}

// NewEngine creates a new extraction engine
func NewEngine(completer Completer, logger *zap.Logger) *Engine {
	return &Engine{
		completer: completer,
		logger:    logger,
	}
}

// ExtractDocument sends the document image with the fixed instruction. The
// document must be an image; PDFs are rasterized by the caller.
func (e *Engine) ExtractDocument(ctx context.Context, doc *models.Document) (models.ExtractionResult, error) {
	e.logger.Info("Extracting invoice from document",
		zap.String("media_type", doc.MediaType),
		zap.Int64("size", doc.Size))

	return e.run(ctx, Request{
		Prompt: ImagePrompt(),
		Image:  &Image{MediaType: doc.MediaType, Data: doc.Base64()},
	})
}

// ExtractText sends already recognized text with the instruction
func (e *Engine) ExtractText(ctx context.Context, text string) (models.ExtractionResult, error) {
	e.logger.Info("Extracting invoice from text", zap.Int("text_length", len(text)))

	return e.run(ctx, Request{Prompt: TextPrompt(text)})
}

func (e *Engine) run(ctx context.Context, req Request) (models.ExtractionResult, error) {
	raw, err := e.completer.Complete(ctx, req)
	if err != nil {
		e.logger.Warn("Extraction request failed",
			zap.String("kind", KindName(err)),
			zap.Error(err))
		return models.ExtractionResult{}, err
	}

	result, err := ParseAnswer(raw)
	if err != nil {
		e.logger.Warn("Extraction answer could not be parsed",
			zap.Error(err),
			zap.Int("answer_length", len(raw)))
		return models.ExtractionResult{}, err
	}

	e.logger.Info("Invoice extracted",
		zap.Bool("provider_found", result.Provider != ""),
		zap.String("amount", result.Amount),
		zap.String("date", result.Date),
		zap.String("category", result.Category.String()))

	return result, nil
}

// ParseAnswer reads the four answer keys out of a model answer. Values may be
// strings or numbers; empty values and unknown categories stay unset.
func ParseAnswer(raw string) (models.ExtractionResult, error) {
	match := jsonObject.FindString(raw)
	if match == "" {
		return models.ExtractionResult{}, newFailure(ErrParseFailed, fmt.Errorf("no JSON object in answer"))
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(match)))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return models.ExtractionResult{}, newFailure(ErrParseFailed, fmt.Errorf("decode answer: %w", err))
	}
	if _, err := dec.Token(); err != io.EOF {
		return models.ExtractionResult{}, newFailure(ErrParseFailed, fmt.Errorf("trailing data after JSON object"))
	}

	result := models.ExtractionResult{
		Provider: stringValue(fields[keyProvider]),
		Amount:   stringValue(fields[keyAmount]),
		Date:     stringValue(fields[keyDate]),
	}
	if category, ok := models.ParseTreatmentCategory(stringValue(fields[keyCategory])); ok {
		result.Category = category
	}

	return result, nil
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}
