package ocr

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// minHeight is the page height below which images are upscaled before
// recognition. Small phone crops recognize noticeably worse.
const (
	minHeight    = 800
	targetHeight = 1200
)

// DecodeImage decodes a JPEG or PNG payload, honoring EXIF orientation
func DecodeImage(content []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(content), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Preprocess converts img to grayscale and upscales small images
func Preprocess(img image.Image) image.Image {
	gray := imaging.Grayscale(img)
	if gray.Bounds().Dy() < minHeight {
		gray = imaging.Resize(gray, 0, targetHeight, imaging.Lanczos)
	}
	return gray
}

// EncodePNG encodes img losslessly for the recognition engine
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeJPEG encodes img the way the vision service receives page images
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
