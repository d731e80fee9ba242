package ocr

import (
	"fmt"
	"image"
	"strings"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

// PDFRenderer reads PDF documents with mupdf
type PDFRenderer struct {
	logger *zap.Logger
}

// NewPDFRenderer creates a new PDF renderer
func NewPDFRenderer(logger *zap.Logger) *PDFRenderer {
	return &PDFRenderer{logger: logger}
}

// TextLayer returns the embedded text of the first maxPages pages. Scanned
// PDFs have no text layer and yield an empty string.
func (r *PDFRenderer) TextLayer(content []byte, maxPages int) (string, error) {
	doc, err := fitz.NewFromMemory(content)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	var parts []string
	for n := 0; n < pageLimit(doc.NumPage(), maxPages); n++ {
		text, err := doc.Text(n)
		if err != nil {
			r.logger.Warn("Failed to read page text", zap.Int("page", n), zap.Error(err))
			continue
		}
		if t := strings.TrimSpace(text); t != "" {
			parts = append(parts, t)
		}
	}

	return strings.Join(parts, "\n"), nil
}

// RenderPages rasterizes the first maxPages pages
func (r *PDFRenderer) RenderPages(content []byte, maxPages int) ([]image.Image, error) {
	doc, err := fitz.NewFromMemory(content)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	r.logger.Debug("Rendering PDF", zap.Int("total_pages", pageCount))

	var images []image.Image
	for n := 0; n < pageLimit(pageCount, maxPages); n++ {
		img, err := doc.Image(n)
		if err != nil {
			r.logger.Warn("Failed to extract page as image", zap.Int("page", n), zap.Error(err))
			continue
		}
		images = append(images, img)
	}

	if len(images) == 0 {
		return nil, fmt.Errorf("no pages could be rendered")
	}
	return images, nil
}

// FirstPageJPEG renders the first page as JPEG for the vision service
func (r *PDFRenderer) FirstPageJPEG(content []byte) ([]byte, error) {
	pages, err := r.RenderPages(content, 1)
	if err != nil {
		return nil, err
	}
	return EncodeJPEG(pages[0])
}

func pageLimit(total, max int) int {
	if max > 0 && total > max {
		return max
	}
	return total
}
