package acquisition

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/beihilfepay/beihilfepay/internal/models"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

// Acquisition errors. ErrNoFile is a no-op for callers, not a failure.
var (
	ErrNoFile          = errors.New("no file selected")
	ErrUnsupportedType = errors.New("unsupported media type")
	ErrTooLarge        = errors.New("file too large")
	ErrInvalidPayload  = errors.New("invalid base64 payload")
)

// DefaultMaxBytes is the upload limit of the web form
const DefaultMaxBytes int64 = 10 << 20

// Acquirer validates incoming files and turns them into Documents
type Acquirer struct {
	maxBytes int64
	logger   *zap.Logger
}

// NewAcquirer creates a new acquirer. maxBytes <= 0 selects DefaultMaxBytes.
func NewAcquirer(maxBytes int64, logger *zap.Logger) *Acquirer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Acquirer{
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// MaxBytes returns the configured size limit
func (a *Acquirer) MaxBytes() int64 {
	return a.maxBytes
}

// Accept validates content and returns a Document. The declared media type
// is kept when it is acceptable; otherwise the sniffed type is used.
func (a *Acquirer) Accept(content []byte, name, declaredType string) (*models.Document, error) {
	if len(content) == 0 {
		return nil, ErrNoFile
	}
	if int64(len(content)) > a.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, len(content), a.maxBytes)
	}

	declared := cleanMediaType(declaredType)
	sniffed := cleanMediaType(mimetype.Detect(content).String())

	mediaType := declared
	if !isAccepted(mediaType) {
		mediaType = sniffed
	}
	if !isAccepted(mediaType) {
		a.logger.Warn("Rejected document",
			zap.String("name", name),
			zap.String("declared_type", declared),
			zap.String("sniffed_type", sniffed))
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, firstNonEmpty(declared, sniffed))
	}
	if declared != "" && declared != sniffed {
		a.logger.Debug("Declared media type differs from content",
			zap.String("declared_type", declared),
			zap.String("sniffed_type", sniffed))
	}

	sum := sha256.Sum256(content)
	doc := &models.Document{
		Name:      name,
		Content:   content,
		MediaType: mediaType,
		Size:      int64(len(content)),
		Digest:    hex.EncodeToString(sum[:]),
	}

	a.logger.Debug("Document accepted",
		zap.String("name", name),
		zap.String("media_type", doc.MediaType),
		zap.Int64("size", doc.Size))

	return doc, nil
}

// AcceptBase64 accepts a base64 payload as sent by the browser. A leading
// data URL header ("data:image/png;base64,") is stripped and its media type
// used when declaredType is empty.
func (a *Acquirer) AcceptBase64(payload, declaredType string) (*models.Document, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, ErrNoFile
	}

	if strings.HasPrefix(payload, "data:") {
		header, data, ok := strings.Cut(payload, ",")
		if !ok {
			return nil, ErrInvalidPayload
		}
		if declaredType == "" {
			declaredType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		}
		payload = data
	}

	content, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return a.Accept(content, "", declaredType)
}

func cleanMediaType(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(s)
	if err != nil {
		return strings.ToLower(s)
	}
	return mt
}

func isAccepted(mediaType string) bool {
	return mediaType == models.MediaTypePDF || strings.HasPrefix(mediaType, "image/")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
