package encoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/clipforge/internal/audiograph"
	"github.com/jmylchreest/clipforge/internal/ffmpeg"
	"github.com/jmylchreest/clipforge/internal/observability"
	"github.com/jmylchreest/clipforge/internal/storage"
)

// HardwareConfig configures the hardware backend.
type HardwareConfig struct {
	FFmpegPath   string
	Accel        ffmpeg.HWAccelInfo
	Staging      *storage.Sandbox
	LogTailLines int
	Logger       *slog.Logger
}

// Hardware streams raw RGBA frames into a hardware H.264 encoder, muxes the
// elementary stream into a video-only fragmented MP4 and, when the export has
// audio, runs a second ffmpeg pass adding the mix.
type Hardware struct {
	cfg    HardwareConfig
	logger *slog.Logger

	settings Settings
	preset   Preset
	dir      string

	cmd    *ffmpeg.Command
	stdin  io.WriteCloser
	group  *errgroup.Group
	out    *os.File
	bw     *bufio.Writer
	muxer  *H264Muxer
	frames int

	muxCmd *ffmpeg.Command
}

// NewHardware creates a hardware backend for cfg.Accel.
func NewHardware(cfg HardwareConfig) *Hardware {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LogTailLines <= 0 {
		cfg.LogTailLines = defaultLogTailLines
	}
	return &Hardware{
		cfg: cfg,
		logger: observability.WithComponent(cfg.Logger, "encoder.hardware").With(
			slog.String("hwaccel", string(cfg.Accel.Type)),
			slog.String("video_encoder", cfg.Accel.Encoder),
		),
	}
}

// Name implements Backend.
func (h *Hardware) Name() string { return NameHardware }

// EncodeCommand builds the streaming encode: raw frames on stdin, Annex-B
// H.264 on stdout, no B-frames, one IDR per second.
func (h *Hardware) EncodeCommand() *ffmpeg.Command {
	s := h.settings
	gop := strconv.Itoa(KeyframeInterval(s.FPS))
	hwArgs, vf := h.cfg.Accel.EncoderArgs()

	b := ffmpeg.NewCommandBuilder(h.cfg.FFmpegPath).
		HideBanner().
		InputArgs(hwArgs...).
		InputArgs(
			"-f", "rawvideo",
			"-pix_fmt", "rgba",
			"-s", fmt.Sprintf("%dx%d", s.Width, s.Height),
			"-framerate", ffmpeg.FormatRate(s.FPS),
		).
		Input("pipe:0").
		VideoFilter(vf).
		VideoCodec(h.cfg.Accel.Encoder).
		VideoBitrate(h.preset.VideoBitrate).
		OutputArgs(
			"-bf", "0",
			"-g", gop,
			"-force_key_frames", "expr:eq(mod(n,"+gop+"),0)",
			"-fps_mode", "passthrough",
			"-an",
			"-f", "h264",
		).
		Output("pipe:1")
	return b.Build()
}

// Configure starts the encoder process and the reader feeding the muxer.
func (h *Hardware) Configure(ctx context.Context, settings Settings) error {
	if err := checkSettings(settings); err != nil {
		return err
	}
	if h.cfg.Accel.Encoder == "" {
		return errors.New("no hardware encoder selected")
	}
	dir, err := h.cfg.Staging.MkdirTemp(StagingPrefix)
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	h.settings = settings
	h.preset = PresetFor(settings.Quality)
	h.dir = dir

	out, err := h.cfg.Staging.Create(path.Join(dir, "video.mp4"))
	if err != nil {
		return fmt.Errorf("creating video container: %w", err)
	}
	h.out = out
	h.bw = bufio.NewWriterSize(out, 1<<20)
	h.muxer = NewH264Muxer(h.bw, settings.FPS, h.logger)

	h.cmd = h.EncodeCommand()
	h.logger.Info("starting hardware encoder", slog.String("command", h.cmd.String()))

	pipes, err := h.cmd.Start(ctx)
	if err != nil {
		return &ExecError{Stage: "hardware encoder start", Err: err}
	}
	h.stdin = pipes.Stdin

	g := &errgroup.Group{}
	g.Go(func() error {
		defer pipes.Stdout.Close()
		return h.readAccessUnits(pipes.Stdout)
	})
	h.group = g
	return nil
}

func (h *Hardware) readAccessUnits(r io.Reader) error {
	aur := NewAccessUnitReader(r)
	for {
		au, err := aur.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading encoder output: %w", err)
		}
		if err := h.muxer.WriteAccessUnit(au); err != nil {
			// unblock the encoder so Wait can reap it
			_, _ = io.Copy(io.Discard, r)
			return err
		}
	}
}

// SubmitFrame writes frame to the encoder. It blocks while the encoder is
// busy.
func (h *Hardware) SubmitFrame(ctx context.Context, frame *image.RGBA) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if h.stdin == nil {
		return errors.New("hardware encoder not configured")
	}
	if err := checkFrame(h.settings, frame); err != nil {
		return err
	}

	if err := writeRGBA(h.stdin, frame); err != nil {
		_ = h.cmd.Kill()
		_ = h.group.Wait()
		_ = h.cmd.Wait()
		h.stdin = nil
		return &ExecError{
			Stage:   "hardware encode",
			Err:     fmt.Errorf("writing frame %d: %w", h.frames, err),
			LogTail: h.cmd.StderrTail(h.cfg.LogTailLines),
		}
	}
	h.frames++
	return nil
}

// writeRGBA writes the pixel rows of img without padding.
func writeRGBA(w io.Writer, img *image.RGBA) error {
	b := img.Bounds()
	rowLen := b.Dx() * 4
	if img.Stride == rowLen && b.Min == (image.Point{}) {
		_, err := w.Write(img.Pix[:rowLen*b.Dy()])
		return err
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		if _, err := w.Write(img.Pix[off : off+rowLen]); err != nil {
			return err
		}
	}
	return nil
}

// Finalize drains the encoder, closes the container and adds the audio mix.
func (h *Hardware) Finalize(ctx context.Context, graph *audiograph.Graph, progress ProgressFunc) (string, error) {
	if h.stdin == nil {
		return "", errors.New("hardware encoder not configured")
	}
	report := func(stage Stage, f float64) {
		if progress != nil {
			progress(stage, f)
		}
	}

	_ = h.stdin.Close()
	h.stdin = nil
	readErr := h.group.Wait()
	waitErr := h.cmd.Wait()
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err := errors.Join(waitErr, readErr); err != nil {
		return "", &ExecError{Stage: "hardware encode", Err: err, LogTail: h.cmd.StderrTail(h.cfg.LogTailLines)}
	}
	logProcessStats(h.logger, "hardware encode finished", h.cmd)

	if err := h.closeContainer(); err != nil {
		return "", &ExecError{Stage: "video mux", Err: err}
	}
	if n := h.muxer.Samples(); n != h.frames {
		return "", &ExecError{
			Stage:   "hardware encode",
			Err:     fmt.Errorf("encoder produced %d of %d frames", n, h.frames),
			LogTail: h.cmd.StderrTail(h.cfg.LogTailLines),
		}
	}
	report(StageEncode, 1)

	video, err := h.cfg.Staging.ResolvePath(path.Join(h.dir, "video.mp4"))
	if err != nil {
		return "", err
	}
	if graph.Empty() {
		h.logger.Debug("no audio to mux, returning video-only container",
			slog.Int("frames", h.frames),
			slog.Int("sync_samples", h.muxer.SyncSamples()),
		)
		report(StageMux, 1)
		return video, nil
	}

	final, err := h.cfg.Staging.ResolvePath(path.Join(h.dir, "output.mp4"))
	if err != nil {
		return "", err
	}
	h.muxCmd = h.MuxCommand(video, graph, final)
	h.logger.Info("muxing audio", slog.String("command", h.muxCmd.String()))

	if err := runPass(ctx, h.muxCmd, h.settings.Duration(), func(f float64) { report(StageMux, f) }); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &AudioMuxError{Err: err, LogTail: h.muxCmd.StderrTail(h.cfg.LogTailLines)}
	}
	logProcessStats(h.logger, "audio mux finished", h.muxCmd)
	report(StageMux, 1)
	return final, nil
}

// MuxCommand builds the pass copying video and encoding the audio mix.
func (h *Hardware) MuxCommand(video string, graph *audiograph.Graph, output string) *ffmpeg.Command {
	b := ffmpeg.NewCommandBuilder(h.cfg.FFmpegPath).
		HideBanner().
		NoStdin().
		Stats().
		Overwrite().
		Input(video).
		Map("0:v")
	graph.Apply(b, 1)
	return b.VideoCodec("copy").
		AudioCodec("aac").
		AudioBitrate(h.preset.AudioBitrate).
		FastStart().
		OutputArgs("-t", formatSeconds(h.settings.Duration())).
		Output(output).
		Build()
}

func (h *Hardware) closeContainer() error {
	if h.out == nil {
		return nil
	}
	err := h.muxer.Close()
	if ferr := h.bw.Flush(); err == nil {
		err = ferr
	}
	if cerr := h.out.Close(); err == nil {
		err = cerr
	}
	h.out = nil
	return err
}

// Close stops any running process and removes staged files.
func (h *Hardware) Close() error {
	if h.stdin != nil {
		_ = h.stdin.Close()
		h.stdin = nil
		_ = h.cmd.Kill()
		_ = h.group.Wait()
		_ = h.cmd.Wait()
	}
	if h.muxCmd != nil {
		_ = h.muxCmd.Kill()
	}
	if h.out != nil {
		_ = h.out.Close()
		h.out = nil
	}
	if h.dir == "" {
		return nil
	}
	dir := h.dir
	h.dir = ""
	return h.cfg.Staging.RemoveAll(dir)
}

var _ Backend = (*Hardware)(nil)
