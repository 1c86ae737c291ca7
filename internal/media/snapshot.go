package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/jmylchreest/clipforge/internal/ffmpeg"
)

// snapshotDecoder grabs a single frame per seek with an input-side seek.
// Completion of the grab stands in for a "seek completed" event, and a short
// settle delay follows before the frame is handed out.
type snapshotDecoder struct {
	ffmpegPath string
	url        string
	logger     *slog.Logger
	settle     time.Duration

	width, height int
	outW, outH    int

	frame    *image.RGBA
	frameAt  float64
	hasFrame bool

	target float64
}

func newSnapshotDecoder(ffmpegPath string, req OpenRequest, width, height int, settle time.Duration, logger *slog.Logger) *snapshotDecoder {
	outW, outH := decodeSize(width, height, req.MaxWidth, req.MaxHeight)
	return &snapshotDecoder{
		ffmpegPath: ffmpegPath,
		url:        req.URL,
		logger:     logger,
		settle:     settle,
		width:      width,
		height:     height,
		outW:       outW,
		outH:       outH,
		target:     req.StartTime,
	}
}

func (d *snapshotDecoder) Size() (int, int) { return d.width, d.height }

func (d *snapshotDecoder) Seek(sourceTime float64) { d.target = max(0, sourceTime) }

func (d *snapshotDecoder) AwaitFrameReady(ctx context.Context) (*image.RGBA, error) {
	if d.hasFrame && math.Abs(d.target-d.frameAt) < 1e-9 {
		return d.frame, nil
	}

	err := d.grab(ctx, d.target)
	if errors.Is(err, errNoFrame) && d.hasFrame {
		// Seek past the end: keep showing the last frame we had.
		return d.frame, nil
	}
	if err != nil {
		return nil, err
	}

	if d.settle > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.settle):
		}
	}
	return d.frame, nil
}

var errNoFrame = errors.New("no frame at seek position")

func (d *snapshotDecoder) grab(ctx context.Context, at float64) error {
	cmd := ffmpeg.NewCommandBuilder(d.ffmpegPath).
		HideBanner().
		NoStdin().
		InputArgs("-ss", strconv.FormatFloat(at, 'f', 6, 64)).
		Input(d.url).
		VideoFilter(fmt.Sprintf("scale=%d:%d:flags=bicubic", d.outW, d.outH)).
		OutputArgs("-an", "-sn", "-frames:v", "1", "-f", "rawvideo", "-pix_fmt", "rgba").
		Output("-").
		Build()

	pipes, err := cmd.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting frame grab for %s: %w", d.url, err)
	}
	_ = pipes.Stdin.Close()

	if d.frame == nil {
		d.frame = image.NewRGBA(image.Rect(0, 0, d.outW, d.outH))
	}
	buf := make([]byte, len(d.frame.Pix))
	_, readErr := io.ReadFull(pipes.Stdout, buf)
	_, _ = io.Copy(io.Discard, pipes.Stdout)
	waitErr := cmd.Wait()

	switch {
	case readErr == nil:
		copy(d.frame.Pix, buf)
		d.frameAt = at
		d.hasFrame = true
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case waitErr != nil:
		return fmt.Errorf("grabbing frame from %s at %.3fs: %w (%v)", d.url, at, waitErr, cmd.StderrTail(3))
	default:
		d.logger.Debug("frame grab returned no data", slog.String("source_url", d.url), slog.Float64("at", at))
		return errNoFrame
	}
}

func (d *snapshotDecoder) Close() error {
	d.frame = nil
	d.hasFrame = false
	return nil
}
