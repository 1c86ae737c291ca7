package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"strconv"

	"github.com/jmylchreest/clipforge/internal/ffmpeg"
)

// maxForwardGapSeconds is how far ahead a seek may land before the stream is
// restarted at the target instead of decoding through the gap.
const maxForwardGapSeconds = 5.0

// streamDecoder runs one ffmpeg process per source that emits raw RGBA frames
// resampled to the export grid (fps / rate in source time). A seek advances
// through the stream to the last frame at or before the target, so the frame
// returned always matches the requested time exactly. Backward seeks and
// long forward jumps restart the process at the target.
type streamDecoder struct {
	ffmpegPath string
	url        string
	logger     *slog.Logger
	runCtx     context.Context

	width, height int // intrinsic
	outW, outH    int // decoded

	step   float64 // source seconds between decoded frames
	origin float64 // source time of decoded frame 0

	cmd    *ffmpeg.Command
	stdout io.ReadCloser
	eof    bool

	cur    *image.RGBA
	spare  *image.RGBA
	curIdx int

	target float64
}

func newStreamDecoder(ctx context.Context, ffmpegPath string, req OpenRequest, width, height int, logger *slog.Logger) *streamDecoder {
	outW, outH := decodeSize(width, height, req.MaxWidth, req.MaxHeight)
	rate := req.Rate
	if rate <= 0 {
		rate = 1
	}
	return &streamDecoder{
		ffmpegPath: ffmpegPath,
		url:        req.URL,
		logger:     logger,
		runCtx:     ctx,
		width:      width,
		height:     height,
		outW:       outW,
		outH:       outH,
		step:       rate / req.FPS,
		origin:     req.gridOrigin(),
		target:     req.gridOrigin(),
		curIdx:     -1,
	}
}

func (d *streamDecoder) Size() (int, int) { return d.width, d.height }

func (d *streamDecoder) Seek(sourceTime float64) { d.target = max(0, sourceTime) }

func (d *streamDecoder) AwaitFrameReady(ctx context.Context) (*image.RGBA, error) {
	idx := frameIndex(d.target, d.origin, d.step)

	switch {
	case d.cmd == nil && !d.eof:
		if err := d.start(d.origin); err != nil {
			return nil, err
		}
	case d.target < d.origin-1e-6 || (d.cur != nil && idx < d.curIdx) || float64(idx-d.curIdx)*d.step > maxForwardGapSeconds:
		if err := d.restart(d.target); err != nil {
			return nil, err
		}
		idx = 0
	}

	for d.curIdx < idx && !d.eof {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := d.readFrame(); err != nil {
			return nil, err
		}
	}

	if d.cur == nil {
		return nil, fmt.Errorf("no frame decoded from %s at %.3fs", d.url, d.target)
	}
	return d.cur, nil
}

func (d *streamDecoder) restart(at float64) error {
	d.stop()
	d.origin = at
	d.cur, d.curIdx, d.eof = nil, -1, false
	return d.start(at)
}

func (d *streamDecoder) start(at float64) error {
	b := ffmpeg.NewCommandBuilder(d.ffmpegPath).
		HideBanner().
		NoStdin()
	if at > 0 {
		b.InputArgs("-ss", strconv.FormatFloat(at, 'f', 6, 64))
	}
	cmd := b.Input(d.url).
		VideoFilter("fps="+strconv.FormatFloat(1/d.step, 'f', 6, 64)).
		VideoFilter(fmt.Sprintf("scale=%d:%d:flags=bicubic", d.outW, d.outH)).
		OutputArgs("-an", "-sn", "-f", "rawvideo", "-pix_fmt", "rgba").
		Output("-").
		Build()

	pipes, err := cmd.Start(d.runCtx)
	if err != nil {
		return fmt.Errorf("starting decoder for %s: %w", d.url, err)
	}
	_ = pipes.Stdin.Close()

	d.cmd = cmd
	d.stdout = pipes.Stdout
	d.logger.Debug("video decoder started",
		slog.String("source_url", d.url),
		slog.Float64("origin", at),
		slog.Int("width", d.outW),
		slog.Int("height", d.outH),
	)
	return nil
}

func (d *streamDecoder) readFrame() error {
	if d.spare == nil {
		d.spare = image.NewRGBA(image.Rect(0, 0, d.outW, d.outH))
	}
	_, err := io.ReadFull(d.stdout, d.spare.Pix)
	if err == nil {
		d.cur, d.spare = d.spare, d.cur
		d.curIdx++
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		// Past the end of the source: hold the last frame.
		d.eof = true
		waitErr := d.cmd.Wait()
		if d.cur == nil {
			if waitErr != nil {
				return fmt.Errorf("decoding %s: %w (%v)", d.url, waitErr, d.cmd.StderrTail(3))
			}
			return fmt.Errorf("source %s has no frames at %.3fs", d.url, d.origin)
		}
		return nil
	}
	return fmt.Errorf("reading frame from %s: %w", d.url, err)
}

func (d *streamDecoder) stop() {
	if d.cmd == nil {
		return
	}
	if d.stdout != nil {
		_ = d.stdout.Close()
	}
	if !d.eof {
		_ = d.cmd.Kill()
		_ = d.cmd.Wait()
	}
	d.cmd, d.stdout = nil, nil
}

func (d *streamDecoder) Close() error {
	d.stop()
	d.cur, d.spare = nil, nil
	return nil
}
