package media

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/clipforge/internal/ffmpeg"
	"github.com/jmylchreest/clipforge/internal/observability"
)

// SizeProber reports the intrinsic dimensions of a video source.
type SizeProber interface {
	VideoSize(ctx context.Context, url string) (int, int, error)
}

// FFmpegOpener opens ffmpeg-backed decoders using the strategy chosen at
// startup.
type FFmpegOpener struct {
	ffmpegPath string
	prober     SizeProber
	strategy   Strategy
	settle     time.Duration
	logger     *slog.Logger
}

// NewFFmpegOpener creates an opener. settle only applies to StrategyFast.
func NewFFmpegOpener(ffmpegPath string, prober SizeProber, strategy Strategy, settle time.Duration, logger *slog.Logger) *FFmpegOpener {
	if logger == nil {
		logger = slog.Default()
	}
	if strategy == StrategyAuto || strategy == "" {
		strategy = StrategyAccurate
	}
	return &FFmpegOpener{
		ffmpegPath: ffmpegPath,
		prober:     prober,
		strategy:   strategy,
		settle:     settle,
		logger:     observability.WithComponent(logger, "media"),
	}
}

// Strategy returns the frame-ready strategy in use.
func (o *FFmpegOpener) Strategy() Strategy {
	return o.strategy
}

// Open probes the source size and returns a decoder positioned at
// req.StartTime. The ffmpeg process of a streaming decoder lives until Close
// or until ctx is cancelled.
func (o *FFmpegOpener) Open(ctx context.Context, req OpenRequest) (Decoder, error) {
	if req.FPS <= 0 {
		return nil, fmt.Errorf("opening %s: fps must be positive", req.URL)
	}
	w, h, err := o.prober.VideoSize(ctx, req.URL)
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", req.URL, err)
	}

	if o.strategy == StrategyFast {
		return newSnapshotDecoder(o.ffmpegPath, req, w, h, o.settle, o.logger), nil
	}
	return newStreamDecoder(ctx, o.ffmpegPath, req, w, h, o.logger), nil
}

var _ SizeProber = (*ffmpeg.Prober)(nil)
