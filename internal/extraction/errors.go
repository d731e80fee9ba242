package extraction

import (
	"errors"
	"fmt"
	"net/http"
)

// Failure kinds. Every error returned by the engine wraps exactly one of them.
var (
	ErrUnauthorized = errors.New("credential problem")
	ErrRateLimited  = errors.New("rate limit reached, retry later")
	ErrServiceError = errors.New("service error, retry later")
	ErrParseFailed  = errors.New("response could not be parsed")
)

// ExtractionFailed is returned when the remote service call or the parsing of
// its answer fails. Kind is one of the package's sentinel errors.
type ExtractionFailed struct {
	Kind error
	Err  error
}

func (e *ExtractionFailed) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("extraction failed: %v", e.Kind)
	}
	return fmt.Sprintf("extraction failed: %v: %v", e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As
func (e *ExtractionFailed) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newFailure(kind, err error) *ExtractionFailed {
	return &ExtractionFailed{Kind: kind, Err: err}
}

// classifyStatus maps a non-2xx HTTP status to a failure kind
func classifyStatus(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return ErrServiceError
	}
}

// KindName returns a short label for the failure kind of err, suitable for
// logs and metric labels.
func KindName(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrServiceError):
		return "service_error"
	case errors.Is(err, ErrParseFailed):
		return "parse_failed"
	default:
		return "unknown"
	}
}

// UserMessage returns the German message shown to the user for err
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "API-Schlüssel ungültig oder fehlend. Bitte die Konfiguration prüfen."
	case errors.Is(err, ErrRateLimited):
		return "Zu viele Anfragen. Bitte in einem Moment erneut versuchen."
	case errors.Is(err, ErrParseFailed):
		return "Die Rechnung konnte nicht ausgelesen werden. Bitte die Felder manuell ausfüllen."
	default:
		return "Der Analysedienst ist momentan nicht erreichbar. Bitte später erneut versuchen."
	}
}
