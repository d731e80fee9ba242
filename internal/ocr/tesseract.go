package ocr

import (
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Engine recognizes the text of one preprocessed image
type Engine interface {
	Recognize(image []byte) (text string, confidence float64, err error)
}

// TesseractEngine runs tesseract through gosseract. A new client is created
// per call because gosseract clients are not safe for concurrent use.
type TesseractEngine struct {
	language       string
	tessdataPrefix string
}

// NewTesseractEngine creates a tesseract engine for language (e.g. "deu")
func NewTesseractEngine(language, tessdataPrefix string) *TesseractEngine {
	return &TesseractEngine{
		language:       language,
		tessdataPrefix: tessdataPrefix,
	}
}

// Recognize returns the text and the mean word confidence (0..1)
func (e *TesseractEngine) Recognize(image []byte) (string, float64, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if e.tessdataPrefix != "" {
		client.TessdataPrefix = e.tessdataPrefix
	}
	if err := client.SetLanguage(e.language); err != nil {
		return "", 0, fmt.Errorf("set language %q: %w", e.language, err)
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", 0, fmt.Errorf("set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", 0, fmt.Errorf("ocr error: %w", err)
	}

	return text, meanConfidence(client), nil
}

func meanConfidence(client *gosseract.Client) float64 {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return sum / float64(len(boxes)) / 100
}
