package invoice

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/beihilfepay/beihilfepay/internal/models"
	"go.uber.org/zap"
)

var (
	// Amount next to a Euro marker, in either order. Thousands separators
	// ("1.234,56 €") are accepted in the first alternative.
	amountPattern = regexp.MustCompile(
		`(\d{1,3}(?:\.\d{3})+,\d{2}|\d+[.,]\d{2})\s*(?:€|EUR)|(?:€|EUR)\s*(\d{1,3}(?:\.\d{3})+,\d{2}|\d+[.,]\d{2})`)

	// D[D].M[M].YYYY or D[D]/M[M]/YYYY
	datePattern = regexp.MustCompile(`(\d{1,2})\.(\d{1,2})\.(\d{4})|(\d{1,2})/(\d{1,2})/(\d{4})`)

	doctorPattern   = regexp.MustCompile(`Dr\. med\. [A-ZÄÖÜ][a-zäöüß]+ [A-ZÄÖÜ][a-zäöüß]+`)
	practicePattern = regexp.MustCompile(`Praxis [A-ZÄÖÜ][a-zäöüß]+`)
	pharmacyPattern = regexp.MustCompile(`Apotheke(?:[ \t]+(?:am|an|im|in|zum|zur|der|die|des|[A-ZÄÖÜ][\p{L}-]*)){1,3}`)
)

// pharmacyStopWords end a pharmacy name when OCR puts the receipt on one line
var pharmacyStopWords = map[string]bool{
	"Gesamt": true, "Summe": true, "Betrag": true, "Rechnung": true,
	"Quittung": true, "Kassenbon": true, "Beleg": true, "Datum": true,
	"EUR": true, "Bar": true, "Zwischensumme": true,
}

var pharmacyParticles = map[string]bool{
	"am": true, "an": true, "im": true, "in": true, "zum": true,
	"zur": true, "der": true, "die": true, "des": true,
}

// keywordRule maps lower-case keywords to a category. Rules are checked in
// slice order and the first hit wins.
type keywordRule struct {
	keywords []string
	category models.TreatmentCategory
}

var keywordRules = []keywordRule{
	{keywords: []string{"zahn"}, category: models.CategoryDental},
	{keywords: []string{"physiotherapie", "krankengymnastik"}, category: models.CategoryPhysiotherapy},
	{keywords: []string{"apotheke", "medikament"}, category: models.CategoryMedication},
}

// ExtractFromText extracts invoice fields from raw (OCR) text using local
// patterns. It never fails; fields without a match stay empty. The result
// depends only on text.
func ExtractFromText(text string) models.ExtractionResult {
	var result models.ExtractionResult

	result.Amount = extractAmount(text)
	result.Date = extractDate(text)

	if category, ok := scanCategory(text); ok {
		result.Category = category
	}

	provider, pharmacy := extractProvider(text)
	result.Provider = provider
	if pharmacy {
		result.Category = models.CategoryMedication
	}

	return result
}

// extractAmount returns the last Euro amount in document order, normalized
// to a decimal point.
func extractAmount(text string) string {
	matches := amountPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return ""
	}

	last := matches[len(matches)-1]
	raw := last[1]
	if raw == "" {
		raw = last[2]
	}
	return normalizeAmount(raw)
}

func normalizeAmount(raw string) string {
	// "1.234,56" -> "1234.56"; "12,00" -> "12.00"; "123.45" stays
	if strings.Contains(raw, ",") {
		raw = strings.ReplaceAll(raw, ".", "")
		raw = strings.ReplaceAll(raw, ",", ".")
	}
	return raw
}

// extractDate returns the first date in document order as YYYY-MM-DD
func extractDate(text string) string {
	m := datePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}

	day, month, year := m[1], m[2], m[3]
	if day == "" {
		day, month, year = m[4], m[5], m[6]
	}
	return fmt.Sprintf("%s-%s-%s", year, pad2(month), pad2(day))
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// extractProvider tries the doctor, practice and pharmacy patterns in that
// order. The second return value reports a pharmacy match.
func extractProvider(text string) (string, bool) {
	if m := doctorPattern.FindString(text); m != "" {
		return m, false
	}
	if m := practicePattern.FindString(text); m != "" {
		return m, false
	}
	if m := pharmacyPattern.FindString(text); m != "" {
		return trimPharmacyName(m), true
	}
	return "", false
}

// trimPharmacyName cuts the match at the first receipt keyword and drops
// dangling particles such as "am".
func trimPharmacyName(match string) string {
	words := strings.Fields(match)
	for i := 1; i < len(words); i++ {
		if pharmacyStopWords[words[i]] {
			words = words[:i]
			break
		}
	}
	for len(words) > 1 && pharmacyParticles[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

func scanCategory(text string) (models.TreatmentCategory, bool) {
	lower := strings.ToLower(text)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.category, true
			}
		}
	}
	return "", false
}

// Extractor wraps ExtractFromText with logging for use inside the pipeline
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor creates a new regex extractor
func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract runs the pattern extraction over text
func (e *Extractor) Extract(text string) models.ExtractionResult {
	result := ExtractFromText(text)

	e.logger.Debug("Regex extraction finished",
		zap.Int("text_length", len(text)),
		zap.Bool("provider_found", result.Provider != ""),
		zap.Bool("amount_found", result.Amount != ""),
		zap.Bool("date_found", result.Date != ""),
		zap.String("category", result.Category.String()))

	return result
}
