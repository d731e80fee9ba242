package models

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TreatmentCategory classifies the medical service an invoice covers
type TreatmentCategory string

const (
	CategoryOfficeVisit   TreatmentCategory = "office_visit"
	CategoryDental        TreatmentCategory = "dental"
	CategoryMedication    TreatmentCategory = "medication"
	CategoryHospital      TreatmentCategory = "hospital"
	CategoryPhysiotherapy TreatmentCategory = "physiotherapy"
	CategoryOther         TreatmentCategory = "other"
)

// DefaultCategory is used whenever nothing better is known
const DefaultCategory = CategoryOfficeVisit

// categoryLabels maps each category to the German label used by the
// extraction prompt and the stored records of the web frontend.
var categoryLabels = map[TreatmentCategory]string{
	CategoryOfficeVisit:   "arztbesuch",
	CategoryDental:        "zahnarzt",
	CategoryMedication:    "medikamente",
	CategoryHospital:      "krankenhaus",
	CategoryPhysiotherapy: "physiotherapie",
	CategoryOther:         "sonstiges",
}

// Categories returns all categories in display order
func Categories() []TreatmentCategory {
	return []TreatmentCategory{
		CategoryOfficeVisit,
		CategoryDental,
		CategoryMedication,
		CategoryHospital,
		CategoryPhysiotherapy,
		CategoryOther,
	}
}

// IsValid reports whether c is one of the known categories
func (c TreatmentCategory) IsValid() bool {
	_, ok := categoryLabels[c]
	return ok
}

// Label returns the German label (e.g. "zahnarzt")
func (c TreatmentCategory) Label() string {
	return categoryLabels[c]
}

func (c TreatmentCategory) String() string {
	return string(c)
}

// ParseTreatmentCategory accepts both the English identifiers and the
// German labels, case-insensitively.
func ParseTreatmentCategory(s string) (TreatmentCategory, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return "", false
	}
	for c, label := range categoryLabels {
		if v == string(c) || v == label {
			return c, true
		}
	}
	return "", false
}

// ProcessingStatus tracks an invoice through reimbursement
type ProcessingStatus string

const (
	StatusInProgress  ProcessingStatus = "in_progress"
	StatusSubmitted   ProcessingStatus = "submitted"
	StatusUnderReview ProcessingStatus = "under_review"
	StatusReimbursed  ProcessingStatus = "reimbursed"
)

// IsValid reports whether s is a known processing status
func (s ProcessingStatus) IsValid() bool {
	switch s {
	case StatusInProgress, StatusSubmitted, StatusUnderReview, StatusReimbursed:
		return true
	}
	return false
}

// RoutingStatus is the forwarding flag for one reimbursement channel
type RoutingStatus string

const (
	RoutingNotYetSubmitted RoutingStatus = "not_yet_submitted"
	RoutingSubmitted       RoutingStatus = "submitted"
)

// IsValid reports whether s is a known routing status
func (s RoutingStatus) IsValid() bool {
	return s == RoutingNotYetSubmitted || s == RoutingSubmitted
}

// RoutingFromFlag converts a forward checkbox into a routing status
func RoutingFromFlag(forward bool) RoutingStatus {
	if forward {
		return RoutingSubmitted
	}
	return RoutingNotYetSubmitted
}

// Document is a single acquired file. It lives only for one pipeline run.
type Document struct {
	Name      string `json:"name,omitempty"`
	Content   []byte `json:"-"`
	MediaType string `json:"media_type"`
	Size      int64  `json:"size"`
	Digest    string `json:"digest"` // hex sha256 of Content
}

// Base64 returns the payload in the encoding the vision service expects
func (d *Document) Base64() string {
	return base64.StdEncoding.EncodeToString(d.Content)
}

// IsPDF reports whether the document is a PDF
func (d *Document) IsPDF() bool {
	return d.MediaType == MediaTypePDF
}

// Accepted media types
const (
	MediaTypeJPEG = "image/jpeg"
	MediaTypePNG  = "image/png"
	MediaTypePDF  = "application/pdf"
)

// RecognizedText is the OCR output of one document
type RecognizedText struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"` // 0..1
	Progress   int     `json:"progress"`   // 0..100
}

// ExtractionResult holds candidate invoice fields. Every field is optional;
// an empty string means "not found".
type ExtractionResult struct {
	Provider string            `json:"provider"`
	Amount   string            `json:"amount"`
	Date     string            `json:"date"`
	Category TreatmentCategory `json:"treatment_category"`
}

// Merge copies the non-empty fields of next into empty fields of r.
// Fields already populated in r are never overwritten.
func (r *ExtractionResult) Merge(next ExtractionResult) {
	if r.Provider == "" {
		r.Provider = next.Provider
	}
	if r.Amount == "" {
		r.Amount = next.Amount
	}
	if r.Date == "" {
		r.Date = next.Date
	}
	if r.Category == "" {
		r.Category = next.Category
	}
}

// IsEmpty reports whether no field was found
func (r ExtractionResult) IsEmpty() bool {
	return r.Provider == "" && r.Amount == "" && r.Date == "" && r.Category == ""
}

// WithDefaults returns a copy with the default category applied
func (r ExtractionResult) WithDefaults() ExtractionResult {
	if r.Category == "" {
		r.Category = DefaultCategory
	}
	return r
}

// InvoiceRecord is the persisted invoice
type InvoiceRecord struct {
	ID                     int64             `json:"id"`
	UserID                 string            `json:"user_id"`
	Provider               string            `json:"provider"`
	Amount                 decimal.Decimal   `json:"amount"`
	Date                   time.Time         `json:"date"`
	Category               TreatmentCategory `json:"treatment_category"`
	Status                 ProcessingStatus  `json:"processing_status"`
	SubsidyStatus          RoutingStatus     `json:"subsidy_routing_status"`
	PrivateInsuranceStatus RoutingStatus     `json:"private_insurance_routing_status"`
	DocumentRef            string            `json:"document_ref,omitempty"`
	ExtractionMethod       string            `json:"extraction_method,omitempty"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

// DateString returns the invoice date as YYYY-MM-DD
func (r *InvoiceRecord) DateString() string {
	return r.Date.Format(DateLayout)
}

// IsOpen reports whether the invoice still awaits reimbursement
func (r *InvoiceRecord) IsOpen() bool {
	return r.Status != StatusReimbursed
}

// DateLayout is the ISO calendar date layout used throughout
const DateLayout = "2006-01-02"
