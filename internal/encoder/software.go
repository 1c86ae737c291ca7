package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"path"
	"strconv"
	"time"

	"github.com/jmylchreest/clipforge/internal/audiograph"
	"github.com/jmylchreest/clipforge/internal/ffmpeg"
	"github.com/jmylchreest/clipforge/internal/observability"
	"github.com/jmylchreest/clipforge/internal/raster"
	"github.com/jmylchreest/clipforge/internal/storage"
)

const defaultLogTailLines = 20

// SoftwareConfig configures the software backend.
type SoftwareConfig struct {
	FFmpegPath string
	// Staging holds the frame sequence and the output container.
	Staging      *storage.Sandbox
	FrameFormat  raster.ImageFormat
	LogTailLines int
	Logger       *slog.Logger
}

// Software stages every frame as a numbered still and encodes the sequence
// with libx264 in one pass at the end.
type Software struct {
	cfg    SoftwareConfig
	logger *slog.Logger

	settings Settings
	preset   Preset
	dir      string
	frames   int
	buf      bytes.Buffer
	cmd      *ffmpeg.Command
}

// NewSoftware creates a software backend.
func NewSoftware(cfg SoftwareConfig) *Software {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.FrameFormat == "" {
		cfg.FrameFormat = raster.FormatJPEG
	}
	if cfg.LogTailLines <= 0 {
		cfg.LogTailLines = defaultLogTailLines
	}
	return &Software{
		cfg:    cfg,
		logger: observability.WithComponent(cfg.Logger, "encoder.software"),
	}
}

// Name implements Backend.
func (s *Software) Name() string { return NameSoftware }

// Configure creates the staging directory.
func (s *Software) Configure(_ context.Context, settings Settings) error {
	if err := checkSettings(settings); err != nil {
		return err
	}
	dir, err := s.cfg.Staging.MkdirTemp(StagingPrefix)
	if err != nil {
		return fmt.Errorf("creating frame staging directory: %w", err)
	}
	s.settings = settings
	s.preset = PresetFor(settings.Quality)
	s.dir = dir
	s.frames = 0

	s.logger.Debug("software encoder configured",
		slog.String("staging_dir", dir),
		slog.String("frame_format", string(s.cfg.FrameFormat)),
		slog.Int("width", settings.Width),
		slog.Int("height", settings.Height),
		slog.Float64("fps", settings.FPS),
	)
	return nil
}

func (s *Software) framePath(n int) string {
	return path.Join(s.dir, fmt.Sprintf("frame_%06d%s", n, s.cfg.FrameFormat.Extension()))
}

// SubmitFrame compresses frame and writes it as the next still.
func (s *Software) SubmitFrame(ctx context.Context, frame *image.RGBA) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.dir == "" {
		return fmt.Errorf("software encoder not configured")
	}
	if err := checkFrame(s.settings, frame); err != nil {
		return err
	}

	s.buf.Reset()
	if err := raster.Encode(&s.buf, frame, s.cfg.FrameFormat, s.preset.JPEGQuality); err != nil {
		return err
	}
	if err := s.cfg.Staging.WriteFile(s.framePath(s.frames), s.buf.Bytes()); err != nil {
		return fmt.Errorf("staging frame %d: %w", s.frames, err)
	}
	s.frames++
	return nil
}

// Command builds the batch encode pass. The frame rate is forced on both the
// image sequence and the output so input timestamps are never trusted.
func (s *Software) Command(graph *audiograph.Graph, output string) (*ffmpeg.Command, error) {
	pattern, err := s.cfg.Staging.ResolvePath(path.Join(s.dir, "frame_%06d"+s.cfg.FrameFormat.Extension()))
	if err != nil {
		return nil, err
	}
	rate := ffmpeg.FormatRate(s.settings.FPS)

	b := ffmpeg.NewCommandBuilder(s.cfg.FFmpegPath).
		HideBanner().
		NoStdin().
		Stats().
		Overwrite().
		InputArgs("-framerate", rate, "-start_number", "0").
		Input(pattern).
		Map("0:v")
	graph.Apply(b, 1)

	b.VideoCodec("libx264").
		VideoPreset(s.preset.Speed).
		OutputArgs("-crf", strconv.Itoa(s.preset.CRF), "-pix_fmt", "yuv420p").
		ConstantFrameRate(s.settings.FPS)
	if !graph.Empty() {
		b.AudioCodec("aac").AudioBitrate(s.preset.AudioBitrate)
	}
	b.FastStart().
		OutputArgs("-t", formatSeconds(s.settings.Duration())).
		Output(output)
	return b.Build(), nil
}

// Finalize runs the batch encode over the staged frames with the audio mix.
func (s *Software) Finalize(ctx context.Context, graph *audiograph.Graph, progress ProgressFunc) (string, error) {
	if s.frames == 0 {
		return "", fmt.Errorf("no frames submitted")
	}
	if s.frames != s.settings.FrameCount {
		s.logger.Warn("frame count mismatch",
			slog.Int("expected", s.settings.FrameCount),
			slog.Int("submitted", s.frames),
		)
	}

	output, err := s.cfg.Staging.ResolvePath(path.Join(s.dir, "output.mp4"))
	if err != nil {
		return "", err
	}
	cmd, err := s.Command(graph, output)
	if err != nil {
		return "", err
	}
	s.cmd = cmd

	s.logger.Info("running batch encode",
		slog.Int("frames", s.frames),
		slog.Int("audio_inputs", len(graph.Inputs())),
		slog.String("command", cmd.String()),
	)

	if err := runPass(ctx, cmd, s.settings.Duration(), func(f float64) {
		if progress != nil {
			progress(StageEncode, f)
		}
	}); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &ExecError{Stage: "batch encode", Err: err, LogTail: cmd.StderrTail(s.cfg.LogTailLines)}
	}
	logProcessStats(s.logger, "batch encode finished", cmd)
	if progress != nil {
		progress(StageEncode, 1)
	}
	return output, nil
}

// Close kills a running encode and removes the staging directory.
func (s *Software) Close() error {
	if s.cmd != nil {
		_ = s.cmd.Kill()
	}
	if s.dir == "" {
		return nil
	}
	dir := s.dir
	s.dir = ""
	return s.cfg.Staging.RemoveAll(dir)
}

// runPass runs cmd, mapping its reported output time onto [0,1] of total
// seconds.
func runPass(ctx context.Context, cmd *ffmpeg.Command, total float64, progress func(float64)) error {
	ch := make(chan ffmpeg.Progress, 8)
	done := make(chan error, 1)
	go func() {
		done <- cmd.RunWithProgress(ctx, ch)
	}()

	totalDur := time.Duration(total * float64(time.Second))
	for {
		select {
		case p := <-ch:
			if totalDur > 0 && progress != nil {
				progress(min(1, float64(p.Time)/float64(totalDur)))
			}
		case err := <-done:
			return err
		}
	}
}

// processStatsAttrs turns the resource usage of a finished ffmpeg pass into
// log attributes. It returns nil when the process was never monitored.
func processStatsAttrs(stats *ffmpeg.ProcessStats) []any {
	if stats == nil {
		return nil
	}
	return []any{
		slog.Int("pid", stats.PID),
		slog.Float64("cpu_percent", stats.CPUPercent),
		slog.Uint64("peak_memory_bytes", stats.PeakMemoryBytes),
		slog.Uint64("bytes_written", stats.BytesWritten),
		slog.Uint64("bytes_read", stats.BytesRead),
		slog.Duration("elapsed", stats.Duration),
	}
}

func logProcessStats(logger *slog.Logger, msg string, cmd *ffmpeg.Command) {
	if attrs := processStatsAttrs(cmd.ProcessStats()); attrs != nil {
		logger.Info(msg, attrs...)
	}
}

var _ Backend = (*Software)(nil)
