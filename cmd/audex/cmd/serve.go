package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/audex/internal/config"
	"github.com/jmylchreest/audex/internal/database"
	internalhttp "github.com/jmylchreest/audex/internal/http"
	"github.com/jmylchreest/audex/internal/http/handlers"
	"github.com/jmylchreest/audex/internal/observability"
	"github.com/jmylchreest/audex/internal/progress"
	"github.com/jmylchreest/audex/internal/repository"
	"github.com/jmylchreest/audex/internal/scheduler"
	"github.com/jmylchreest/audex/internal/service"
	"github.com/jmylchreest/audex/internal/startup"
	"github.com/jmylchreest/audex/internal/storage"
	"github.com/jmylchreest/audex/internal/version"
	"github.com/jmylchreest/audex/pkg/format"
)

// progressStaleAfter is how long finished jobs stay in the progress hub.
const progressStaleAfter = 30 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the audex server",
	Long: `Start the audex HTTP server and API.

The server provides:
- Upload endpoint that queues extraction jobs
- Job listing, audio download and diagnostics reports
- Server-sent progress events
- Engine status and preload endpoints
- Health check endpoint
- OpenAPI documentation at /docs`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8090, "Port to listen on")
	serveCmd.Flags().String("database", "audex.db", "Database DSN (file path for sqlite)")
	serveCmd.Flags().String("data-dir", "./data", "Base directory for the engine sandbox, uploads and outputs")
	serveCmd.Flags().Bool("preload", false, "Load the engine at startup instead of on the first job")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("storage.base_dir", serveCmd.Flags().Lookup("data-dir"))
	mustBindPFlag("engine.preload", serveCmd.Flags().Lookup("preload"))
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	uploads, err := storage.NewSandbox(cfg.Storage.UploadPath())
	if err != nil {
		return fmt.Errorf("initializing upload storage: %w", err)
	}
	outputs, err := storage.NewSandbox(cfg.Storage.OutputPath())
	if err != nil {
		return fmt.Errorf("initializing output storage: %w", err)
	}

	stack, err := newEngineStack(cfg, logger)
	if err != nil {
		return err
	}

	hub := progress.NewHub(logger, progressStaleAfter)
	hub.Start()
	defer hub.Stop()

	extractionService := service.NewExtractionService(
		repository.NewExtractionRepository(db.DB),
		stack.service,
		hub,
		uploads,
		outputs,
	).WithLogger(logger)
	// Deferred calls run in reverse: the job service drains before the queue closes.
	defer stack.Close()
	defer extractionService.Close()

	workDir, err := stack.workDir()
	if err != nil {
		return err
	}
	if _, err := startup.RecoverExtractions(ctx, logger, extractionService, workDir); err != nil {
		logger.Warn("startup recovery incomplete", slog.String("error", err.Error()))
	}

	if cfg.Retention.Enabled {
		sched, err := startRetention(ctx, cfg.Retention, extractionService, logger)
		if err != nil {
			return err
		}
		defer sched.Stop()
	}

	if cfg.Engine.Preload {
		go preloadEngine(ctx, stack, cfg.Engine.LoadTimeout, logger)
	}

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)
	registerHandlers(server, cfg, db, stack, hub, extractionService, logger)

	logger.Info("starting audex server",
		slog.String("address", cfg.Server.Address()),
		slog.String("version", version.Version),
		slog.String("data_dir", cfg.Storage.BaseDir),
		slog.String("size_threshold", format.Bytes(stack.service.Policy().SizeThreshold)),
	)

	return server.ListenAndServe(ctx)
}

func registerHandlers(
	server *internalhttp.Server,
	cfg *config.Config,
	db *database.DB,
	stack *engineStack,
	hub *progress.Hub,
	extractions *service.ExtractionService,
	logger *slog.Logger,
) {
	healthHandler := handlers.NewHealthHandler(version.Version).
		WithDB(db.DB).
		WithEngine(stack.service, stack.loader)
	healthHandler.Register(server.API())

	extractionHandler := handlers.NewExtractionHandler(extractions, cfg.Storage.MaxUploadSize.Bytes()).
		WithLogger(logger)
	extractionHandler.Register(server.API())
	extractionHandler.RegisterRoutes(server.Router())

	eventsHandler := handlers.NewEventsHandler(hub).WithLogger(logger)
	eventsHandler.RegisterRoutes(server.Router())

	engineHandler := handlers.NewEngineHandler(stack.service).
		WithLoader(stack.loader).
		WithPreloadTimeout(cfg.Engine.LoadTimeout)
	engineHandler.Register(server.API())
}

// startRetention schedules the retention task and runs it once immediately.
func startRetention(ctx context.Context, cfg config.RetentionConfig, pruner scheduler.Pruner, logger *slog.Logger) (*scheduler.Scheduler, error) {
	retention := scheduler.NewRetention(pruner, cfg.MaxAge.Duration())
	sched := scheduler.NewScheduler().WithLogger(logger)

	if err := sched.Add(scheduler.RetentionTaskName, cfg.Schedule, retention.Run); err != nil {
		return nil, fmt.Errorf("scheduling retention: %w", err)
	}
	if err := sched.RunNow(ctx, scheduler.RetentionTaskName, retention.Run); err != nil {
		logger.Warn("startup retention pass failed", slog.String("error", err.Error()))
	}
	if err := sched.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting scheduler: %w", err)
	}
	return sched, nil
}

func preloadEngine(ctx context.Context, stack *engineStack, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var err error
	done := observability.TimedOperationWithError(ctx, logger, "preload_engine", &err)
	defer done()
	err = stack.service.PreloadEngine(ctx)
}
