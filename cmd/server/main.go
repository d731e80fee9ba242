package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/beihilfepay/beihilfepay/internal/acquisition"
	"github.com/beihilfepay/beihilfepay/internal/config"
	"github.com/beihilfepay/beihilfepay/internal/dashboard"
	"github.com/beihilfepay/beihilfepay/internal/export"
	"github.com/beihilfepay/beihilfepay/internal/extraction"
	httpapi "github.com/beihilfepay/beihilfepay/internal/interfaces/http"
	"github.com/beihilfepay/beihilfepay/internal/metrics"
	"github.com/beihilfepay/beihilfepay/internal/notify"
	"github.com/beihilfepay/beihilfepay/internal/ocr"
	"github.com/beihilfepay/beihilfepay/internal/pipeline"
	"github.com/beihilfepay/beihilfepay/internal/repository"
	"github.com/beihilfepay/beihilfepay/internal/settings"
	"github.com/beihilfepay/beihilfepay/internal/storage"
	"github.com/beihilfepay/beihilfepay/internal/submission"
	"github.com/beihilfepay/beihilfepay/migrations"
	"github.com/beihilfepay/beihilfepay/pkg/database"
	"github.com/beihilfepay/beihilfepay/pkg/utils"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(cfg.LoggerOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting BeihilfePay",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port),
		zap.String("strategy", cfg.Strategy().String()))

	// Initialize database
	db, err := database.New(cfg.DatabaseOptions(), logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := database.NewMigrator(db, logger).Run(ctx, migrations.FS); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Initialize repositories
	invoiceRepo := repository.NewInvoiceRepository(db.DB, logger)
	settingsRepo := repository.NewSettingsRepository(db.DB, logger)

	m := metrics.New()

	// Initialize extraction pipeline
	p, err := buildPipeline(cfg, m, logger)
	if err != nil {
		logger.Fatal("Failed to initialize extraction pipeline", zap.Error(err))
	}

	// Initialize services
	files := storage.NewLocalFileStorage(cfg.Storage.BaseDir, cfg.Storage.PublicBaseURL, logger)
	settingsService := settings.NewService(settingsRepo, logger)
	submissions := submission.NewService(
		db,
		invoiceRepo,
		files,
		notify.New(cfg.NotifyOptions(), logger),
		m,
		logger,
	)

	deps := httpapi.Dependencies{
		Pipeline:    p,
		Acquirer:    acquisition.NewAcquirer(cfg.Storage.MaxUploadBytes, logger),
		Dedup:       acquisition.NewOnce[*pipeline.Outcome](cfg.Pipeline.DedupTTL),
		Forms:       pipeline.NewForms(pipeline.DefaultMaxForms),
		Submissions: submissions,
		Invoices:    invoiceRepo,
		Dashboard:   dashboard.NewService(invoiceRepo, settingsService, logger),
		Settings:    settingsService,
		Exporter:    export.NewExporter(invoiceRepo, logger),
		Files:       files,
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = m
	}

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		MetricsPath:     cfg.Metrics.Path,
		UserID:          cfg.Server.UserID,
	}, deps, logger)

	// Blocks until SIGINT or SIGTERM
	if err := server.Start(ctx); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		return
	}

	logger.Info("Server exited successfully")
}

// buildPipeline wires only the stages the configuration enables. Unset
// stages stay nil interfaces so the pipeline can detect them.
func buildPipeline(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (*pipeline.Pipeline, error) {
	pdf := ocr.NewPDFRenderer(logger)
	opts := pipeline.Options{
		Strategy: cfg.Strategy(),
		Pages:    pdf,
		Recorder: m,
		TextLLM:  cfg.Extraction.TextLLM,
	}

	if cfg.EngineEnabled() {
		completer, err := extraction.NewCompleter(cfg.ExtractionOptions(), logger)
		if err != nil {
			return nil, err
		}
		opts.Engine = extraction.NewEngine(completer, logger)
	} else {
		logger.Warn("No extraction API key configured, remote extraction disabled")
	}

	if cfg.OCR.Enabled {
		recognizer := ocr.NewRecognizer(
			ocr.NewTesseractEngine(cfg.OCR.Language, cfg.OCR.TessdataPrefix),
			pdf,
			cfg.OCROptions(),
			logger,
		)
		recognizer.SetObserver(m)
		opts.Recognizer = recognizer
	}

	return pipeline.New(opts, logger), nil
}
