package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/beihilfepay/beihilfepay/internal/extraction"
	"github.com/beihilfepay/beihilfepay/internal/models"
	"github.com/beihilfepay/beihilfepay/internal/ocr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEngine struct {
	result models.ExtractionResult
	err    error
	docs   []*models.Document
	texts  []string
}

func (f *fakeEngine) ExtractDocument(ctx context.Context, doc *models.Document) (models.ExtractionResult, error) {
	f.docs = append(f.docs, doc)
	return f.result, f.err
}

func (f *fakeEngine) ExtractText(ctx context.Context, text string) (models.ExtractionResult, error) {
	f.texts = append(f.texts, text)
	return f.result, f.err
}

type fakeRecognizer struct {
	text string
	err  error
}

func (f *fakeRecognizer) Recognize(ctx context.Context, doc *models.Document, progress ocr.ProgressFunc) (*models.RecognizedText, error) {
	if f.err != nil {
		return nil, f.err
	}
	if progress != nil {
		progress(0)
		progress(100)
	}
	return &models.RecognizedText{Text: f.text, Confidence: 0.8, Progress: 100}, nil
}

type fakePages struct{}

func (fakePages) FirstPageJPEG(content []byte) ([]byte, error) {
	return []byte{0xff, 0xd8, 0xff, 0xe0}, nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	runs     []string
	failures []string
}

func (f *fakeRecorder) RecordRun(strategy, method, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, strategy+"/"+method+"/"+outcome)
}

func (f *fakeRecorder) RecordEngineFailure(kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, kind)
}

const ocrText = "Praxis Müller ... Rechnung vom 02.03.2025 ... Gesamt 87,50 €"

func imageDoc() *models.Document {
	return &models.Document{Content: []byte{0xff, 0xd8, 0xff}, MediaType: models.MediaTypeJPEG, Size: 3}
}

func parseFailure() error {
	_, err := extraction.ParseAnswer("Tut mir leid, das kann ich nicht lesen.")
	return err
}

func TestRunDocument_Vision(t *testing.T) {
	engine := &fakeEngine{result: models.ExtractionResult{Provider: "Dr. med. Schmidt", Amount: "111.58", Date: "2025-01-15", Category: models.CategoryDental}}
	rec := &fakeRecorder{}
	p := New(Options{Strategy: StrategyVision, Engine: engine, Recorder: rec}, zap.NewNop())

	out, err := p.RunDocument(context.Background(), imageDoc(), nil)

	require.NoError(t, err)
	assert.Equal(t, MethodVision, out.Method)
	assert.Equal(t, models.CategoryDental, out.Result.Category)
	assert.Nil(t, out.Text)
	assert.Equal(t, []string{"vision/vision/success"}, rec.runs)
}

func TestRunDocument_VisionFailureHasNoFallback(t *testing.T) {
	engine := &fakeEngine{err: &extraction.ExtractionFailed{Kind: extraction.ErrRateLimited}}
	rec := &fakeRecorder{}
	p := New(Options{Strategy: StrategyVision, Engine: engine, Recorder: rec}, zap.NewNop())

	out, err := p.RunDocument(context.Background(), imageDoc(), nil)

	assert.Nil(t, out)
	assert.ErrorIs(t, err, extraction.ErrRateLimited)
	assert.Equal(t, []string{"rate_limited"}, rec.failures)
	assert.Equal(t, []string{"vision/none/failure"}, rec.runs)
}

func TestRunDocument_VisionMalformedAnswerSurfaces(t *testing.T) {
	engine := &fakeEngine{err: parseFailure()}
	p := New(Options{Strategy: StrategyVision, Engine: engine}, zap.NewNop())

	_, err := p.RunDocument(context.Background(), imageDoc(), nil)

	assert.ErrorIs(t, err, extraction.ErrParseFailed)
}

func TestRunDocument_VisionRasterizesPDF(t *testing.T) {
	engine := &fakeEngine{result: models.ExtractionResult{Provider: "Apotheke am Markt"}}
	p := New(Options{Strategy: StrategyVision, Engine: engine, Pages: fakePages{}}, zap.NewNop())

	doc := &models.Document{Content: []byte("%PDF-1.4"), MediaType: models.MediaTypePDF, Digest: "d"}
	_, err := p.RunDocument(context.Background(), doc, nil)

	require.NoError(t, err)
	require.Len(t, engine.docs, 1)
	assert.Equal(t, models.MediaTypeJPEG, engine.docs[0].MediaType)
	assert.Equal(t, "d", engine.docs[0].Digest)
}

func TestRunDocument_OCROnly_EndToEnd(t *testing.T) {
	p := New(Options{Strategy: StrategyOCROnly, Recognizer: &fakeRecognizer{text: ocrText}}, zap.NewNop())

	var progress []int
	out, err := p.RunDocument(context.Background(), imageDoc(), func(pct int) { progress = append(progress, pct) })

	require.NoError(t, err)
	assert.Equal(t, MethodOCRRegex, out.Method)
	assert.Equal(t, models.ExtractionResult{
		Provider: "Praxis Müller",
		Amount:   "87.50",
		Date:     "2025-03-02",
		Category: models.CategoryOfficeVisit,
	}, out.Result)
	assert.Equal(t, ocrText, out.Text.Text)
	assert.Equal(t, []int{0, 100}, progress)
}

func TestRunDocument_RecognitionFailureAborts(t *testing.T) {
	engine := &fakeEngine{}
	recognizer := &fakeRecognizer{err: ocr.ErrRecognitionFailed}
	p := New(Options{Strategy: StrategyOCRThenVision, Engine: engine, Recognizer: recognizer}, zap.NewNop())

	_, err := p.RunDocument(context.Background(), imageDoc(), nil)

	assert.ErrorIs(t, err, ocr.ErrRecognitionFailed)
	assert.Empty(t, engine.docs, "engine must not run after a recognition failure")
}

func TestRunDocument_OCRThenVision(t *testing.T) {
	t.Run("engine result wins, regex fills gaps", func(t *testing.T) {
		engine := &fakeEngine{result: models.ExtractionResult{Provider: "Dr. med. Thomas Müller", Category: models.CategoryHospital}}
		p := New(Options{Strategy: StrategyOCRThenVision, Engine: engine, Recognizer: &fakeRecognizer{text: ocrText}}, zap.NewNop())

		out, err := p.RunDocument(context.Background(), imageDoc(), nil)

		require.NoError(t, err)
		assert.Equal(t, MethodOCRVision, out.Method)
		assert.Equal(t, "Dr. med. Thomas Müller", out.Result.Provider)
		assert.Equal(t, "87.50", out.Result.Amount)
		assert.Equal(t, "2025-03-02", out.Result.Date)
		assert.Equal(t, models.CategoryHospital, out.Result.Category)
	})

	t.Run("engine failure falls back to regex", func(t *testing.T) {
		engine := &fakeEngine{err: &extraction.ExtractionFailed{Kind: extraction.ErrServiceError, Err: errors.New("502")}}
		rec := &fakeRecorder{}
		p := New(Options{Strategy: StrategyOCRThenVision, Engine: engine, Recognizer: &fakeRecognizer{text: ocrText}, Recorder: rec}, zap.NewNop())

		out, err := p.RunDocument(context.Background(), imageDoc(), nil)

		require.NoError(t, err)
		assert.Equal(t, MethodOCRRegex, out.Method)
		assert.Equal(t, "Praxis Müller", out.Result.Provider)
		require.Len(t, out.Warnings, 1)
		assert.Equal(t, []string{"service_error"}, rec.failures)
	})

	t.Run("malformed answer with text available yields regex result", func(t *testing.T) {
		engine := &fakeEngine{err: parseFailure()}
		p := New(Options{Strategy: StrategyOCRThenVision, Engine: engine, Recognizer: &fakeRecognizer{text: "keine Angaben"}}, zap.NewNop())

		out, err := p.RunDocument(context.Background(), imageDoc(), nil)

		require.NoError(t, err)
		assert.Equal(t, models.ExtractionResult{Category: models.CategoryOfficeVisit}, out.Result)
	})
}

func TestRunDocument_DegradesWithoutEngine(t *testing.T) {
	p := New(Options{Strategy: StrategyVision, Recognizer: &fakeRecognizer{text: ocrText}}, zap.NewNop())

	out, err := p.RunDocument(context.Background(), imageDoc(), nil)

	require.NoError(t, err)
	assert.Equal(t, MethodOCRRegex, out.Method)
}

func TestRunDocument_NothingConfigured(t *testing.T) {
	p := New(Options{Strategy: StrategyVision}, zap.NewNop())

	_, err := p.RunDocument(context.Background(), imageDoc(), nil)

	assert.ErrorIs(t, err, ErrNoExtractor)
}

func TestRunText(t *testing.T) {
	t.Run("regex only by default", func(t *testing.T) {
		engine := &fakeEngine{}
		p := New(Options{Strategy: StrategyVision, Engine: engine}, zap.NewNop())

		out := p.RunText(context.Background(), ocrText)

		assert.Equal(t, MethodTextRegex, out.Method)
		assert.Equal(t, "87.50", out.Result.Amount)
		assert.Empty(t, engine.texts)
	})

	t.Run("engine enrichment", func(t *testing.T) {
		engine := &fakeEngine{result: models.ExtractionResult{Category: models.CategoryPhysiotherapy}}
		p := New(Options{Strategy: StrategyVision, Engine: engine, TextLLM: true}, zap.NewNop())

		out := p.RunText(context.Background(), ocrText)

		assert.Equal(t, MethodTextLLM, out.Method)
		assert.Equal(t, models.CategoryPhysiotherapy, out.Result.Category)
		assert.Equal(t, "Praxis Müller", out.Result.Provider)
	})

	t.Run("engine failure never fails the run", func(t *testing.T) {
		engine := &fakeEngine{err: &extraction.ExtractionFailed{Kind: extraction.ErrUnauthorized}}
		p := New(Options{Strategy: StrategyVision, Engine: engine, TextLLM: true}, zap.NewNop())

		out := p.RunText(context.Background(), ocrText)

		assert.Equal(t, MethodTextRegex, out.Method)
		assert.Equal(t, "Praxis Müller", out.Result.Provider)
		assert.NotEmpty(t, out.Warnings)
	})

	t.Run("run ids increase", func(t *testing.T) {
		p := New(Options{}, zap.NewNop())
		first := p.RunText(context.Background(), "")
		second := p.RunText(context.Background(), "")
		assert.Greater(t, second.RunID, first.RunID)
	})
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", StrategyVision, false},
		{"vision", StrategyVision, false},
		{"ocr_only", StrategyOCROnly, false},
		{"ocrOnly", StrategyOCROnly, false},
		{"ocr_then_vision", StrategyOCRThenVision, false},
		{"ocrThenVision", StrategyOCRThenVision, false},
		{"magic", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStrategy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.True(t, StrategyOCRThenVision.NeedsEngine())
	assert.True(t, StrategyOCRThenVision.NeedsOCR())
	assert.False(t, StrategyVision.NeedsOCR())
	assert.False(t, StrategyOCROnly.NeedsEngine())
}
