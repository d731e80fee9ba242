// Command extract runs the extraction pipeline on a single invoice and
// prints the result as JSON. Nothing is stored.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/beihilfepay/beihilfepay/internal/acquisition"
	"github.com/beihilfepay/beihilfepay/internal/config"
	"github.com/beihilfepay/beihilfepay/internal/extraction"
	"github.com/beihilfepay/beihilfepay/internal/ocr"
	"github.com/beihilfepay/beihilfepay/internal/pipeline"
	"github.com/beihilfepay/beihilfepay/pkg/utils"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	file := flag.String("file", "", "invoice image or PDF to analyze")
	text := flag.String("text", "", "invoice text to analyze instead of a file")
	strategy := flag.String("strategy", "", "override pipeline.strategy (vision, ocr_only, ocr_then_vision)")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
	verbose := flag.Bool("verbose", false, "verbose logging on stderr")
	flag.Parse()

	if (*file == "") == (*text == "") {
		fmt.Fprintln(os.Stderr, "Usage: extract -file rechnung.jpg | -text \"...\" [-strategy ocr_only] [-config path]")
		os.Exit(2)
	}

	// Flags take precedence over the configuration file
	var overrides []config.Option
	if *strategy != "" {
		overrides = append(overrides, config.WithOverride("pipeline.strategy", *strategy))
		if s, err := pipeline.ParseStrategy(*strategy); err == nil && s.NeedsOCR() {
			overrides = append(overrides, config.WithOverride("ocr.enabled", true))
		}
	}

	logger, err := utils.NewCLILogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath, overrides...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	p, err := newPipeline(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	var out *pipeline.Outcome
	if *text != "" {
		out = p.RunText(ctx, *text)
	} else {
		out, err = analyzeFile(ctx, p, cfg, *file, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			var failed *extraction.ExtractionFailed
			if errors.As(err, &failed) {
				fmt.Fprintf(os.Stderr, "       %s\n", extraction.UserMessage(err))
			}
			os.Exit(1)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: failed to encode result: %v\n", err)
		os.Exit(1)
	}
}

func analyzeFile(ctx context.Context, p *pipeline.Pipeline, cfg *config.Config, path string, logger *zap.Logger) (*pipeline.Outcome, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	doc, err := acquisition.NewAcquirer(cfg.Storage.MaxUploadBytes, logger).Accept(content, path, "")
	if err != nil {
		return nil, err
	}

	return p.RunDocument(ctx, doc, func(percent int) {
		fmt.Fprintf(os.Stderr, "\rTexterkennung: %3d%%", percent)
		if percent >= 100 {
			fmt.Fprintln(os.Stderr)
		}
	})
}

func newPipeline(cfg *config.Config, logger *zap.Logger) (*pipeline.Pipeline, error) {
	pdf := ocr.NewPDFRenderer(logger)
	opts := pipeline.Options{
		Strategy: cfg.Strategy(),
		Pages:    pdf,
		TextLLM:  cfg.Extraction.TextLLM,
	}

	if cfg.EngineEnabled() {
		completer, err := extraction.NewCompleter(cfg.ExtractionOptions(), logger)
		if err != nil {
			return nil, err
		}
		opts.Engine = extraction.NewEngine(completer, logger)
	} else {
		logger.Warn("No extraction API key configured, using OCR and text rules only")
	}

	if cfg.OCR.Enabled {
		opts.Recognizer = ocr.NewRecognizer(
			ocr.NewTesseractEngine(cfg.OCR.Language, cfg.OCR.TessdataPrefix),
			pdf,
			cfg.OCROptions(),
			logger,
		)
	}

	return pipeline.New(opts, logger), nil
}
