package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/clipforge/internal/database"
	"github.com/jmylchreest/clipforge/internal/encoder"
	internalhttp "github.com/jmylchreest/clipforge/internal/http"
	"github.com/jmylchreest/clipforge/internal/http/handlers"
	"github.com/jmylchreest/clipforge/internal/repository"
	"github.com/jmylchreest/clipforge/internal/scheduler"
	"github.com/jmylchreest/clipforge/internal/service"
	"github.com/jmylchreest/clipforge/internal/startup"
	"github.com/jmylchreest/clipforge/internal/storage"
	"github.com/jmylchreest/clipforge/internal/timeline"
	"github.com/jmylchreest/clipforge/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the clipforge server",
	Long: `Start the clipforge HTTP server and API.

The server provides:
- REST API for submitting, tracking, downloading and cancelling exports
- Capabilities report of the detected ffmpeg installation
- Health check endpoint
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind to (overrides server.host)")
	serveCmd.Flags().Int("port", 0, "port to listen on (overrides server.port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := appConfig
	logger := slog.Default()

	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}

	mode, err := encoder.ParseMode(cfg.Export.Backend)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("closing database", slog.String("error", err.Error()))
		}
	}()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	outputs, err := storage.NewOutputStore(cfg.Storage.OutputPath())
	if err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	p, err := newPipeline(ctx, cfg, mode, cfg.Storage.BaseDir, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	if _, err := startup.CleanupOrphanedStaging(logger, cfg.Storage.StagingPath(), encoder.StagingPrefix, startup.DefaultCleanupAge); err != nil {
		logger.Warn("failed to clean orphaned staging directories", slog.String("error", err.Error()))
	}

	exports := service.NewExportService(
		repository.NewExportJobRepository(db.DB),
		outputs,
		service.PipelineFactory(p.deps),
		service.ExportServiceConfig{
			Defaults:  jobOptions(cfg, mode),
			MaxWidth:  cfg.Export.MaxWidth,
			MaxHeight: cfg.Export.MaxHeight,
		},
	).WithLogger(logger)
	if _, err := exports.Recover(ctx); err != nil {
		return fmt.Errorf("recovering export history: %w", err)
	}

	retention := scheduler.NewRetention(exports, cfg.Storage.RetentionSchedule, cfg.Storage.OutputRetention.Duration()).
		WithLogger(logger)
	if err := retention.Start(ctx); err != nil {
		return err
	}
	defer retention.Stop()

	capabilities := service.NewCapabilitiesService(p.detector, mode, cfg.FFmpeg.HWAccelPriority, cfg.Export.FrameReady)

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)
	handlers.NewExportHandler(exports, int64(cfg.Server.MaxRequestSize)).
		WithDefaultQuality(timeline.Quality(cfg.Export.Quality)).
		Register(server.API())
	handlers.NewCapabilitiesHandler(capabilities).Register(server.API())
	handlers.NewHealthHandler(version.Version).
		WithDB(db).
		WithExports(exports).
		Register(server.API())

	logger.Info("starting clipforge",
		slog.String("version", version.Short()),
		slog.String("address", cfg.Server.Address()),
		slog.String("backend", string(mode)),
		slog.String("ffmpeg", p.info.Version),
		slog.String("storage", cfg.Storage.BaseDir),
	)

	serveErr := server.ListenAndServe(ctx)

	// The active export is cancelled and recorded as failed before the
	// database closes.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := exports.Shutdown(shutdownCtx); err != nil {
		logger.Warn("export did not stop in time", slog.String("error", err.Error()))
	}

	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	logger.Info("clipforge stopped")
	return nil
}
