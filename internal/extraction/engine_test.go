package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/beihilfepay/beihilfepay/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCompleter struct {
	answer string
	err    error
	calls  int
	last   Request
}

func (f *fakeCompleter) Complete(_ context.Context, req Request) (string, error) {
	f.calls++
	f.last = req
	return f.answer, f.err
}

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want models.ExtractionResult
	}{
		{
			name: "plain object",
			raw:  `{"leistungserbringer":"Dr. med. Schmidt","betrag":"111.58","datum":"2025-01-15","art":"zahnarzt"}`,
			want: models.ExtractionResult{Provider: "Dr. med. Schmidt", Amount: "111.58", Date: "2025-01-15", Category: models.CategoryDental},
		},
		{
			name: "object surrounded by prose",
			raw:  "Hier ist das Ergebnis:\n```json\n{\"leistungserbringer\": \"Praxis Müller\", \"betrag\": \"87.50\", \"datum\": \"2025-03-02\", \"art\": \"arztbesuch\"}\n```\nViel Erfolg!",
			want: models.ExtractionResult{Provider: "Praxis Müller", Amount: "87.50", Date: "2025-03-02", Category: models.CategoryOfficeVisit},
		},
		{
			name: "numeric amount",
			raw:  `{"leistungserbringer":"","betrag":45.1,"datum":"","art":""}`,
			want: models.ExtractionResult{Amount: "45.1"},
		},
		{
			name: "unknown category stays unset",
			raw:  `{"leistungserbringer":"Heilpraktiker Kraus","betrag":"60.00","datum":"2025-02-01","art":"heilpraktiker"}`,
			want: models.ExtractionResult{Provider: "Heilpraktiker Kraus", Amount: "60.00", Date: "2025-02-01"},
		},
		{
			name: "empty strings leave fields unset",
			raw:  `{"leistungserbringer":"","betrag":"","datum":"","art":""}`,
			want: models.ExtractionResult{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAnswer(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAnswer_Failures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no braces", "Ich kann diese Rechnung leider nicht lesen."},
		{"invalid json", `{"leistungserbringer": Praxis}`},
		{"greedy match spans two objects", `{"a":"1"} und {"b":"2"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAnswer(tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrParseFailed)

			var failed *ExtractionFailed
			assert.True(t, errors.As(err, &failed))
		})
	}
}

func TestEngine_ExtractDocument(t *testing.T) {
	fake := &fakeCompleter{answer: `{"leistungserbringer":"Apotheke am Markt","betrag":"8.95","datum":"2025-04-10","art":"medikamente"}`}
	engine := NewEngine(fake, zap.NewNop())

	doc := &models.Document{Content: []byte{0xff, 0xd8, 0xff}, MediaType: models.MediaTypeJPEG, Size: 3}
	got, err := engine.ExtractDocument(context.Background(), doc)

	require.NoError(t, err)
	assert.Equal(t, models.CategoryMedication, got.Category)
	assert.Equal(t, "8.95", got.Amount)
	require.NotNil(t, fake.last.Image)
	assert.Equal(t, models.MediaTypeJPEG, fake.last.Image.MediaType)
	assert.Equal(t, "/9j/", fake.last.Image.Data)
	assert.Equal(t, ImagePrompt(), fake.last.Prompt)
}

func TestEngine_ExtractText(t *testing.T) {
	fake := &fakeCompleter{answer: `{"leistungserbringer":"Praxis Müller","betrag":"87.50","datum":"2025-03-02","art":"arztbesuch"}`}
	engine := NewEngine(fake, zap.NewNop())

	got, err := engine.ExtractText(context.Background(), "Praxis Müller Gesamt 87,50 €")

	require.NoError(t, err)
	assert.Equal(t, "Praxis Müller", got.Provider)
	assert.Nil(t, fake.last.Image)
	assert.Contains(t, fake.last.Prompt, "Praxis Müller Gesamt 87,50 €")
	assert.Contains(t, fake.last.Prompt, "leistungserbringer")
}

func TestEngine_PropagatesCompleterFailure(t *testing.T) {
	fake := &fakeCompleter{err: newFailure(ErrRateLimited, errors.New("429"))}
	engine := NewEngine(fake, zap.NewNop())

	_, err := engine.ExtractText(context.Background(), "text")

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, "rate_limited", KindName(err))
	assert.Equal(t, 1, fake.calls)
}

func TestUserMessage(t *testing.T) {
	assert.Contains(t, UserMessage(newFailure(ErrUnauthorized, nil)), "API-Schlüssel")
	assert.Contains(t, UserMessage(newFailure(ErrRateLimited, nil)), "Zu viele Anfragen")
	assert.Contains(t, UserMessage(newFailure(ErrServiceError, nil)), "später")
	assert.Contains(t, UserMessage(newFailure(ErrParseFailed, nil)), "manuell")
}
