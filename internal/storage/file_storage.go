package storage

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/beihilfepay/beihilfepay/internal/models"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

// ErrInvalidPath is returned for paths outside the storage directory
var ErrInvalidPath = errors.New("invalid storage path")

// StoredDocument references a saved document
type StoredDocument struct {
	// Path is relative to the storage directory, e.g. "<user>/1735689600000.jpg"
	Path string `json:"path"`
	// URL is the public reference persisted with the invoice
	URL string `json:"url"`
}

// DocumentStore stores uploaded invoice documents
type DocumentStore interface {
	Save(userID string, doc *models.Document) (*StoredDocument, error)
	Open(relPath string) (string, error)
	Delete(relPath string) error
}

// LocalFileStorage stores documents on the local filesystem
type LocalFileStorage struct {
	baseDir       string
	publicBaseURL string
	logger        *zap.Logger
	now           func() time.Time
}

// NewLocalFileStorage creates a new LocalFileStorage. publicBaseURL is the
// prefix under which stored files are served (e.g. "http://host/files").
func NewLocalFileStorage(baseDir, publicBaseURL string, logger *zap.Logger) *LocalFileStorage {
	return &LocalFileStorage{
		baseDir:       baseDir,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger,
		now:           time.Now,
	}
}

// Save writes doc to <userID>/<unix millis>.<ext>
func (s *LocalFileStorage) Save(userID string, doc *models.Document) (*StoredDocument, error) {
	folder := SanitizeFolderName(userID)
	if folder == "" {
		return nil, fmt.Errorf("%w: empty user folder", ErrInvalidPath)
	}

	ext := extensionFor(doc)
	stamp := s.now().UnixMilli()

	// Identical timestamps get a numeric suffix
	for attempt := 0; attempt < 100; attempt++ {
		name := fmt.Sprintf("%d%s", stamp, ext)
		if attempt > 0 {
			name = fmt.Sprintf("%d-%d%s", stamp, attempt, ext)
		}
		rel := path.Join(folder, name)

		err := s.writeNew(rel, doc.Content)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.logger.Info("Document stored",
			zap.String("path", rel),
			zap.Int64("size", doc.Size),
			zap.String("media_type", doc.MediaType))

		return &StoredDocument{Path: rel, URL: s.publicBaseURL + "/" + rel}, nil
	}

	return nil, fmt.Errorf("failed to find a free file name in %s", folder)
}

func (s *LocalFileStorage) writeNew(rel string, content []byte) error {
	fullPath, err := s.resolve(rel)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		s.logger.Error("Failed to create parent directories",
			zap.String("path", filepath.Dir(fullPath)),
			zap.Error(err))
		return fmt.Errorf("failed to create directories: %w", err)
	}

	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(fullPath)
		s.logger.Error("Failed to write file", zap.String("path", fullPath), zap.Error(err))
		return fmt.Errorf("failed to write file: %w", err)
	}
	return f.Close()
}

// Open returns the filesystem path of a stored document
func (s *LocalFileStorage) Open(relPath string) (string, error) {
	fullPath, err := s.resolve(relPath)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrInvalidPath, relPath)
	}
	return fullPath, nil
}

// Delete removes a stored document. A missing file is not an error.
func (s *LocalFileStorage) Delete(relPath string) error {
	fullPath, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Error("Failed to delete file", zap.String("path", fullPath), zap.Error(err))
		return fmt.Errorf("failed to delete file: %w", err)
	}

	s.logger.Info("Document deleted", zap.String("path", relPath))
	return nil
}

// resolve maps a relative path into baseDir and rejects traversal
func (s *LocalFileStorage) resolve(relPath string) (string, error) {
	relPath = strings.TrimPrefix(relPath, "/")
	if relPath == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(relPath))
	if err := s.ValidatePath(fullPath); err != nil {
		return "", err
	}
	return fullPath, nil
}

// ValidatePath checks that fullPath lies within baseDir
func (s *LocalFileStorage) ValidatePath(fullPath string) error {
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base path: %w", err)
	}

	// base + separator, so "/data_evil" does not pass for "/data"
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) && absPath != absBase {
		return fmt.Errorf("%w: path escapes base directory: %s", ErrInvalidPath, fullPath)
	}
	return nil
}

var unsafeFolderChars = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)

// SanitizeFolderName keeps only characters that are safe in a folder name
func SanitizeFolderName(name string) string {
	name = strings.ReplaceAll(name, "..", "")
	return unsafeFolderChars.ReplaceAllString(name, "")
}

func extensionFor(doc *models.Document) string {
	switch doc.MediaType {
	case models.MediaTypeJPEG:
		return ".jpg"
	case models.MediaTypePNG:
		return ".png"
	case models.MediaTypePDF:
		return ".pdf"
	}
	if m := mimetype.Lookup(doc.MediaType); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	if ext := strings.ToLower(filepath.Ext(doc.Name)); ext != "" {
		return ext
	}
	return ".bin"
}
