package normalizer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/beihilfepay/beihilfepay/internal/models"
	"github.com/beihilfepay/beihilfepay/pkg/utils"
	"github.com/shopspring/decimal"
)

// ErrValidation is matched by every *ValidationFailed
var ErrValidation = errors.New("validation failed")

// Field names used in ValidationFailed.Fields
const (
	FieldProvider = "provider"
	FieldAmount   = "amount"
	FieldDate     = "date"
	FieldCategory = "treatment_category"
)

// ValidationFailed lists the invalid fields with a German message each
type ValidationFailed struct {
	Fields map[string]string
}

func (e *ValidationFailed) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrValidation) hold
func (e *ValidationFailed) Is(target error) bool {
	return target == ErrValidation
}

// Overrides are the values the user confirmed or typed in the form. A nil
// field keeps the extracted value.
type Overrides struct {
	Provider                  *string `json:"provider,omitempty"`
	Amount                    *string `json:"amount,omitempty"`
	Date                      *string `json:"date,omitempty"`
	Category                  *string `json:"treatment_category,omitempty"`
	ForwardToSubsidy          *bool   `json:"forward_to_subsidy,omitempty"`
	ForwardToPrivateInsurance *bool   `json:"forward_to_private_insurance,omitempty"`
}

// Normalize validates result merged with overrides and builds the record
// that is handed to persistence. The record has no ID or timestamps yet.
func Normalize(result models.ExtractionResult, o Overrides) (*models.InvoiceRecord, error) {
	provider := pick(result.Provider, o.Provider)
	amountText := pick(result.Amount, o.Amount)
	dateText := pick(result.Date, o.Date)
	categoryText := pick(string(result.Category), o.Category)

	fields := make(map[string]string)

	provider = utils.SanitizeString(provider)
	if provider == "" {
		fields[FieldProvider] = "Leistungserbringer fehlt"
	}

	amount, msg := ParseAmount(amountText)
	if msg != "" {
		fields[FieldAmount] = msg
	}

	date, msg := ParseDate(dateText)
	if msg != "" {
		fields[FieldDate] = msg
	}

	category := models.DefaultCategory
	if strings.TrimSpace(categoryText) != "" {
		c, ok := models.ParseTreatmentCategory(categoryText)
		if !ok {
			fields[FieldCategory] = "Unbekannte Art der Behandlung"
		} else {
			category = c
		}
	}

	if len(fields) > 0 {
		return nil, &ValidationFailed{Fields: fields}
	}

	return &models.InvoiceRecord{
		Provider:               provider,
		Amount:                 amount,
		Date:                   date,
		Category:               category,
		Status:                 models.StatusInProgress,
		SubsidyStatus:          models.RoutingFromFlag(flag(o.ForwardToSubsidy)),
		PrivateInsuranceStatus: models.RoutingFromFlag(flag(o.ForwardToPrivateInsurance)),
	}, nil
}

// ParseAmount parses a positive Euro amount; "87,50" and "87.50" are both
// accepted. The result is rounded to cents. A non-empty message describes
// why the value was rejected.
func ParseAmount(s string) (decimal.Decimal, string) {
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSuffix(s, "€"), "EUR"))
	if s == "" {
		return decimal.Zero, "Betrag fehlt"
	}

	if strings.Contains(s, ",") {
		// German notation, dots are thousands separators
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, "Betrag ist keine gültige Zahl"
	}
	if !d.IsPositive() {
		return decimal.Zero, "Betrag muss größer als 0 sein"
	}
	return d.Round(2), ""
}

// ParseDate parses an ISO calendar date (YYYY-MM-DD). Impossible dates such
// as 2025-02-30 are rejected.
func ParseDate(s string) (time.Time, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, "Rechnungsdatum fehlt"
	}
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		return time.Time{}, "Rechnungsdatum ist kein gültiges Datum (JJJJ-MM-TT)"
	}
	return t, ""
}

func pick(extracted string, override *string) string {
	if override != nil {
		return *override
	}
	return extracted
}

// routing flags default to forwarding
func flag(b *bool) bool {
	return b == nil || *b
}
