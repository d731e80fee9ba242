package extraction

import "strings"

// instruction is sent with every request. The answer keys are the German
// field names the parser maps back to ExtractionResult.
const instruction = `Du bist ein Experte für deutsche Arzt- und Zahnarzt-Rechnungen.

Analysiere das Bild dieser Rechnung und extrahiere folgende Informationen:

1. Leistungserbringer (z.B. "Dr. med. Schmidt" oder "Zahnarztpraxis Müller")
2. Gesamtbetrag in Euro (nur die Zahl, z.B. 111.58)
3. Rechnungsdatum im Format YYYY-MM-DD
4. Art der Behandlung (wähle aus: arztbesuch, zahnarzt, medikamente, krankenhaus, physiotherapie, sonstiges)

Antworte NUR mit einem JSON-Objekt in diesem exakten Format (ohne zusätzlichen Text):
{
  "leistungserbringer": "Name",
  "betrag": "123.45",
  "datum": "2025-01-15",
  "art": "zahnarzt"
}

Falls du Informationen nicht finden kannst, lasse das Feld leer ("").`

// Answer keys
const (
	keyProvider = "leistungserbringer"
	keyAmount   = "betrag"
	keyDate     = "datum"
	keyCategory = "art"
)

// ImagePrompt returns the instruction sent together with a document image
func ImagePrompt() string {
	return instruction
}

// TextPrompt returns the instruction for already recognized invoice text
func TextPrompt(text string) string {
	var b strings.Builder
	b.WriteString(strings.Replace(instruction, "das Bild dieser Rechnung", "den folgenden Text einer Rechnung", 1))
	b.WriteString("\n\nText der Rechnung:\n")
	b.WriteString(text)
	return b.String()
}
