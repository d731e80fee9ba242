package http

import (
	"errors"
	"net/http"
	"os"

	"github.com/beihilfepay/beihilfepay/internal/acquisition"
	"github.com/beihilfepay/beihilfepay/internal/extraction"
	"github.com/beihilfepay/beihilfepay/internal/normalizer"
	"github.com/beihilfepay/beihilfepay/internal/ocr"
	"github.com/beihilfepay/beihilfepay/internal/pipeline"
	"github.com/beihilfepay/beihilfepay/internal/repository"
	"github.com/beihilfepay/beihilfepay/internal/storage"
	"github.com/beihilfepay/beihilfepay/internal/workflow"
	"github.com/gin-gonic/gin"
)

// German messages shown by the web frontend
const (
	msgInternal         = "Interner Serverfehler"
	msgNoFile           = "Bitte eine Rechnung auswählen."
	msgUnsupportedType  = "Dateityp nicht unterstützt. Erlaubt sind Bilder und PDF."
	msgTooLarge         = "Die Datei ist zu groß."
	msgInvalidPayload   = "Ungültige Anfrage."
	msgRecognition      = "Texterkennung fehlgeschlagen. Bitte die Felder manuell ausfüllen."
	msgNoExtractor      = "Keine Analysemethode konfiguriert."
	msgValidation       = "Bitte die markierten Felder korrigieren."
	msgNotFound         = "Rechnung nicht gefunden."
	msgInvalidID        = "Ungültige Rechnungs-ID."
	msgInvalidStatus    = "Ungültiger Status."
	msgStatusTransition = "Dieser Statuswechsel ist nicht erlaubt."
	msgConflict         = "Die Rechnung wurde zwischenzeitlich geändert. Bitte neu laden."
	msgFileNotFound     = "Datei nicht gefunden."
	msgFormNotFound     = "Formular nicht gefunden."
)

// errorResponse maps err to a status code and a user message
func errorResponse(err error) (int, string) {
	var failed *extraction.ExtractionFailed

	switch {
	case errors.Is(err, acquisition.ErrNoFile):
		return http.StatusBadRequest, msgNoFile
	case errors.Is(err, acquisition.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType, msgUnsupportedType
	case errors.Is(err, acquisition.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, msgTooLarge
	case errors.Is(err, acquisition.ErrInvalidPayload):
		return http.StatusBadRequest, msgInvalidPayload
	case errors.As(err, &failed):
		return extractionStatus(err), extraction.UserMessage(err)
	case errors.Is(err, ocr.ErrRecognitionFailed):
		return http.StatusUnprocessableEntity, msgRecognition
	case errors.Is(err, pipeline.ErrNoExtractor):
		return http.StatusServiceUnavailable, msgNoExtractor
	case errors.Is(err, normalizer.ErrValidation):
		return http.StatusUnprocessableEntity, msgValidation
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, msgNotFound
	case errors.Is(err, repository.ErrConflict):
		return http.StatusConflict, msgConflict
	case errors.Is(err, workflow.ErrInvalidTransition):
		return http.StatusConflict, msgStatusTransition
	case errors.Is(err, workflow.ErrInvalidState):
		return http.StatusBadRequest, msgInvalidStatus
	case errors.Is(err, storage.ErrInvalidPath), errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound, msgFileNotFound
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

func extractionStatus(err error) int {
	switch {
	case errors.Is(err, extraction.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, extraction.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

// fail writes the error envelope. Validation failures carry their fields.
func (h *Handlers) fail(c *gin.Context, err error) {
	status, msg := errorResponse(err)
	_ = c.Error(err)

	resp := Response{Success: false, Error: msg}
	var vf *normalizer.ValidationFailed
	if errors.As(err, &vf) {
		resp.Data = gin.H{"fields": vf.Fields}
	}

	c.JSON(status, resp)
}
