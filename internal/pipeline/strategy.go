package pipeline

import (
	"fmt"
	"strings"
)

// Strategy selects how a document is turned into an ExtractionResult
type Strategy string

const (
	// StrategyVision sends the document image straight to the engine
	StrategyVision Strategy = "vision"
	// StrategyOCROnly recognizes text locally and runs the regex extractor
	StrategyOCROnly Strategy = "ocr_only"
	// StrategyOCRThenVision recognizes text first, then asks the engine and
	// falls back to the regex extractor when the engine fails
	StrategyOCRThenVision Strategy = "ocr_then_vision"
)

// Extraction methods reported in Outcome.Method
const (
	MethodVision    = "vision"
	MethodOCRRegex  = "ocr_regex"
	MethodOCRVision = "ocr_vision"
	MethodTextRegex = "text_regex"
	MethodTextLLM   = "text_llm"
)

// ParseStrategy parses a configured strategy name. Both "ocr_only" and
// "ocrOnly" spellings are accepted.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "")) {
	case "", "vision":
		return StrategyVision, nil
	case "ocronly":
		return StrategyOCROnly, nil
	case "ocrthenvision":
		return StrategyOCRThenVision, nil
	}
	return "", fmt.Errorf("unknown extraction strategy %q", s)
}

// NeedsEngine reports whether the strategy calls the remote engine
func (s Strategy) NeedsEngine() bool {
	return s == StrategyVision || s == StrategyOCRThenVision
}

// NeedsOCR reports whether the strategy runs text recognition
func (s Strategy) NeedsOCR() bool {
	return s == StrategyOCROnly || s == StrategyOCRThenVision
}

func (s Strategy) String() string {
	return string(s)
}
