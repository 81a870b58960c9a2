package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/facesentry/facesentry/internal/analyze"
	"github.com/facesentry/facesentry/internal/capture"
	"github.com/facesentry/facesentry/internal/config"
	"github.com/facesentry/facesentry/internal/detect"
	"github.com/facesentry/facesentry/internal/extract"
	"github.com/facesentry/facesentry/internal/livescan"
	"github.com/facesentry/facesentry/internal/recognition"
	"github.com/facesentry/facesentry/internal/storage"
	"github.com/facesentry/facesentry/internal/storage/mariadb"
	"github.com/facesentry/facesentry/internal/storage/mock"
	"github.com/facesentry/facesentry/internal/storage/postgres"
	"github.com/facesentry/facesentry/internal/web"
	"github.com/facesentry/facesentry/internal/web/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recognition service",
	Long: `Start the FaceSentry API server.
The server exposes live scan control, the annotated camera stream,
upload analysis, and dashboard endpoints.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

// openRecordSink connects to PostgreSQL when configured, otherwise records
// are kept in memory only (development mode).
func openRecordSink(ctx context.Context, cfg *config.Config) (storage.RecordSink, storage.TemplateRepository, func(), error) {
	if cfg.Database.URL == "" {
		fmt.Println("DATABASE_URL not set, records are kept in memory only")
		return mock.NewSink(), nil, func() {}, nil
	}

	fmt.Println("Connecting to PostgreSQL database...")
	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("migrate record store: %w", err)
	}
	return postgres.NewRecordRepository(pool), postgres.NewTemplateRepository(pool), func() { pool.Close() }, nil
}

// openDirectory connects to the case database when configured.
func openDirectory(cfg *config.Config) (storage.IdentityDirectory, func(), error) {
	if cfg.CaseDB.DSN == "" {
		fmt.Println("CASE_DATABASE_DSN not set, identity resolution disabled")
		return nil, func() {}, nil
	}

	fmt.Println("Connecting to case database...")
	pool, err := mariadb.NewPool(&cfg.CaseDB)
	if err != nil {
		return nil, nil, err
	}
	return mariadb.NewDirectory(pool), func() { pool.Close() }, nil
}

// loadStore opens the template store file and, when it is empty and a
// template repository exists, rebuilds it from the database.
func loadStore(ctx context.Context, cfg *config.Config, repo storage.TemplateRepository) (*recognition.Store, error) {
	store, err := recognition.Open(cfg.Match.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open template store: %w", err)
	}

	if store.Len() == 0 && repo != nil {
		templates, err := repo.LoadAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("load templates from database: %w", err)
		}
		if len(templates) > 0 {
			store.Replace(templates)
			fmt.Printf("Template store rebuilt from database: %d identities\n", store.Len())
		}
	}

	fmt.Printf("Template store ready: %d identities, %d templates\n", store.Len(), store.TemplateCount())
	return store, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger()
	cfg := config.Load()
	ctx := context.Background()

	sink, templateRepo, closeSink, err := openRecordSink(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize record store: %w", err)
	}
	defer closeSink()

	directory, closeDirectory, err := openDirectory(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize case database: %w", err)
	}
	defer closeDirectory()
	if directory == nil {
		directory = mock.NewDirectory()
	}

	store, err := loadStore(ctx, cfg, templateRepo)
	if err != nil {
		return err
	}

	client := extract.NewClient(cfg.Extractor.URL, cfg.Extractor.Dim)
	extractor := extract.NewExtractor(client, cfg.Detector.ConfidenceFloor, cfg.Detector.MinBoxSize)
	matcher := recognition.NewMatcher(store, cfg.Match.Threshold, cfg.Match.TopK, cfg.Match.MinConfidence)
	detector := detect.New(cfg.Detector, client, log)
	analyzer := analyze.New(extractor, matcher, cfg.Curation.UploadMinHits)

	engine := livescan.NewEngine(livescan.EngineConfig{
		VotingWindow:  cfg.Voting.Window,
		VotingMinHits: cfg.Voting.MinHits,
		Cooldown:      time.Duration(cfg.LiveScan.CooldownSeconds) * time.Second,
		MinConfidence: cfg.Match.MinConfidence,
		MotionFloor:   cfg.LiveScan.MotionFloor,
	}, livescan.DefaultRiskTable(), directory, sink, log)

	var captureController handlers.CaptureController
	var loop *capture.Loop
	if cfg.LiveScan.CaptureURL != "" {
		factory := func(ctx context.Context) (capture.FrameSource, error) {
			return capture.OpenMJPEG(ctx, cfg.LiveScan.CaptureURL)
		}
		loop = capture.NewLoop(factory, detector, extractor, matcher, engine, cfg.LiveScan.MaxReadFailures, log)
		loop.SetInvestigator(cfg.LiveScan.InvestigatorID)
		captureController = loop
		fmt.Printf("Camera capture configured: %s\n", cfg.LiveScan.CaptureURL)
	} else {
		fmt.Println("CAPTURE_URL not set, live scan accepts client-submitted frames only")
	}

	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(host, port, web.Deps{
		Store:     store,
		Engine:    engine,
		Analyzer:  analyzer,
		Capture:   captureController,
		Sink:      sink,
		Directory: directory,
		Log:       log,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		if loop != nil {
			loop.Stop()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting FaceSentry API on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
