// Package media opens video sources for frame-accurate sampling and loads
// still or animated image assets. Decoded handles are owned by a
// ResourceSet for the lifetime of one export.
package media

import (
	"context"
	"image"
	"math"
	"strings"

	"github.com/jmylchreest/clipforge/internal/ffmpeg"
)

// Decoder is an open video source. Callers Seek to a source time and then
// block in AwaitFrameReady until the frame for that time is decoded. The
// returned image stays valid until the next AwaitFrameReady or Close.
// Decoders are not safe for concurrent use.
type Decoder interface {
	// Size returns the intrinsic (display) dimensions of the source.
	Size() (width, height int)
	// Seek sets the source time, in seconds, of the next frame.
	Seek(sourceTime float64)
	// AwaitFrameReady blocks until the frame at the sought time is available.
	AwaitFrameReady(ctx context.Context) (*image.RGBA, error)
	Close() error
}

// OpenRequest describes how a clip will sample its source.
type OpenRequest struct {
	URL string
	// StartTime is the source time at the clip's own start.
	StartTime float64
	// FirstFrameTime is the source time of the first export frame inside the
	// clip. Decoded frames are laid on a grid anchored here. Zero means the
	// clip starts on a frame boundary and StartTime is used.
	FirstFrameTime float64
	// Rate is the clip's playback rate; source time advances Rate seconds per
	// timeline second.
	Rate float64
	// FPS is the export frame rate.
	FPS float64
	// MaxWidth and MaxHeight bound the decoded frame size. Frames are never
	// upscaled.
	MaxWidth  int
	MaxHeight int
}

// Opener opens decoders.
type Opener interface {
	Open(ctx context.Context, req OpenRequest) (Decoder, error)
}

// Strategy selects how AwaitFrameReady obtains the frame for a seek.
type Strategy string

const (
	// StrategyAccurate streams decoded frames on the export's time grid and
	// advances to the exact frame for each seek.
	StrategyAccurate Strategy = "accurate"
	// StrategyFast runs a one-shot seek and grab per request, then waits a
	// short settle delay.
	StrategyFast Strategy = "fast"
	// StrategyAuto picks accurate when the ffmpeg build supports it.
	StrategyAuto Strategy = "auto"
)

// SelectStrategy resolves the configured strategy against detected ffmpeg
// capabilities. Detection happens once at startup, not per seek.
func SelectStrategy(requested string, info *ffmpeg.BinaryInfo) Strategy {
	switch Strategy(strings.ToLower(requested)) {
	case StrategyFast:
		return StrategyFast
	case StrategyAccurate, StrategyAuto, "":
		if info == nil || (info.HasFilter("fps") && info.HasFilter("scale")) {
			return StrategyAccurate
		}
		return StrategyFast
	default:
		return StrategyAccurate
	}
}

// gridOrigin returns the source time of decoded frame 0.
func (r OpenRequest) gridOrigin() float64 {
	return max(r.StartTime, r.FirstFrameTime)
}

// decodeSize fits w x h inside maxW x maxH without upscaling, rounding to
// even dimensions for the pixel converter.
func decodeSize(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	s := 1.0
	if maxW > 0 {
		s = math.Min(s, float64(maxW)/float64(w))
	}
	if maxH > 0 {
		s = math.Min(s, float64(maxH)/float64(h))
	}
	ow := max(2, int(math.Round(float64(w)*s/2))*2)
	oh := max(2, int(math.Round(float64(h)*s/2))*2)
	return ow, oh
}

// frameIndex returns the last grid frame at or before target, for a grid
// starting at origin with the given step. The small epsilon absorbs float
// error when target lies exactly on the grid.
func frameIndex(target, origin, step float64) int {
	if step <= 0 || target <= origin {
		return 0
	}
	return int(math.Floor((target-origin)/step + 1e-6))
}
