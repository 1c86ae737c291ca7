package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jmylchreest/clipforge/internal/audiograph"
	"github.com/jmylchreest/clipforge/internal/compositor"
	"github.com/jmylchreest/clipforge/internal/config"
	"github.com/jmylchreest/clipforge/internal/encoder"
	"github.com/jmylchreest/clipforge/internal/export"
	"github.com/jmylchreest/clipforge/internal/ffmpeg"
	"github.com/jmylchreest/clipforge/internal/httpclient"
	"github.com/jmylchreest/clipforge/internal/media"
	"github.com/jmylchreest/clipforge/internal/raster"
	"github.com/jmylchreest/clipforge/internal/storage"
	"github.com/jmylchreest/clipforge/internal/version"
)

// pipeline holds the collaborators shared by every export of a process.
type pipeline struct {
	deps       export.Deps
	detector   *ffmpeg.BinaryDetector
	info       *ffmpeg.BinaryInfo
	typesetter *raster.Typesetter
}

// Close releases cached font faces.
func (p *pipeline) Close() error {
	return p.typesetter.Close()
}

// newDetector returns an ffmpeg detector for mode, skipping the hardware
// probe when only software encoding will ever be used.
func newDetector(cfg config.FFmpegConfig, mode encoder.Mode) *ffmpeg.BinaryDetector {
	// Explicit binary paths win over PATH lookup.
	if cfg.BinaryPath != "" {
		_ = os.Setenv(ffmpeg.EnvFFmpegBinary, cfg.BinaryPath)
	}
	if cfg.ProbePath != "" {
		_ = os.Setenv(ffmpeg.EnvFFprobeBinary, cfg.ProbePath)
	}

	d := ffmpeg.NewBinaryDetector()
	if mode == encoder.ModeSoftware {
		d = d.WithoutHWAccel()
	}
	return d
}

// newPipeline detects ffmpeg and builds the export dependencies. Relative
// asset paths resolve against baseDir.
func newPipeline(ctx context.Context, cfg *config.Config, mode encoder.Mode, baseDir string, logger *slog.Logger) (*pipeline, error) {
	detector := newDetector(cfg.FFmpeg, mode)
	info, err := detector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detecting ffmpeg: %w", err)
	}
	logger.Debug("ffmpeg detected",
		slog.String("version", info.Version),
		slog.String("ffmpeg_path", info.FFmpegPath),
		slog.String("ffprobe_path", info.FFprobePath),
		slog.Int("hw_accels", len(info.HWAccels)),
	)

	prober := ffmpeg.NewProber(info.FFprobePath).WithTimeout(cfg.FFmpeg.ProbeTimeout)
	strategy := media.SelectStrategy(cfg.Export.FrameReady, info)
	opener := media.NewFFmpegOpener(info.FFmpegPath, prober, strategy, cfg.Export.SeekSettle, logger)

	httpCfg := httpclient.DefaultConfig()
	httpCfg.UserAgent = version.UserAgent()
	httpCfg.Logger = logger
	assets := media.NewAssetLoader(httpclient.New(httpCfg), baseDir)

	// A configured font replaces both weights; bold falls back to the same face.
	typesetter, err := raster.NewTypesetter(cfg.Text.FontPath, cfg.Text.FontPath)
	if err != nil {
		return nil, fmt.Errorf("loading fonts: %w", err)
	}

	staging, err := storage.NewSandbox(cfg.Storage.StagingPath())
	if err != nil {
		_ = typesetter.Close()
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	selector := &encoder.Selector{
		FFmpegPath:   info.FFmpegPath,
		Staging:      staging,
		FrameFormat:  raster.ImageFormat(cfg.Export.FrameFormat),
		HWAccels:     info.HWAccels,
		Priority:     ffmpeg.ParseHWAccelPriority(cfg.FFmpeg.HWAccelPriority),
		LogTailLines: cfg.FFmpeg.LogTailLines,
		Logger:       logger,
	}

	return &pipeline{
		deps: export.Deps{
			Renderers: export.CompositorFactory(compositor.Options{
				Opener:     opener,
				Assets:     assets,
				Typesetter: typesetter,
				Logger:     logger,
			}),
			Audio:    audiograph.NewBuilder(prober, assets, logger),
			Backends: selector,
			Memory:   export.SystemMemory{},
			Logger:   logger,
		},
		detector:   detector,
		info:       info,
		typesetter: typesetter,
	}, nil
}

// jobOptions returns the per-job options configured for mode.
func jobOptions(cfg *config.Config, mode encoder.Mode) export.Options {
	return export.Options{
		Backend:       mode,
		MinFreeMemory: cfg.Export.MinFreeMemory.Bytes(),
	}
}
