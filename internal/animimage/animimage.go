// Package animimage decodes animated raster images into fully composited
// frames with per-frame display durations.
package animimage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"math"

	// Static fallback decoders.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const (
	// MinDelayMs is the smallest delay honoured; anything below it is an
	// authoring defect and is replaced by DefaultDelayMs.
	MinDelayMs = 20
	// DefaultDelayMs replaces delays below MinDelayMs.
	DefaultDelayMs = 100
)

// ErrNoFrames is returned when a container decodes but holds no frames.
var ErrNoFrames = errors.New("animated image has no frames")

// DecodeError reports an image that could be decoded neither as an animation
// nor as a static image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Animation is a decoded image as a sequence of full-canvas frames. A static
// image is an Animation with one frame and zero total duration.
type Animation struct {
	Frames        []*image.RGBA
	Delays        []int
	TotalDuration int
	Width         int
	Height        int
}

// Static reports whether the animation has a single frame.
func (a *Animation) Static() bool {
	return len(a.Frames) <= 1 || a.TotalDuration <= 0
}

// FrameAt returns the frame to display at clip-relative time ms.
func (a *Animation) FrameAt(ms float64) *image.RGBA {
	if len(a.Frames) == 0 {
		return nil
	}
	if a.Static() {
		return a.Frames[0]
	}
	return a.Frames[FrameIndex(a.Delays, a.TotalDuration, ms)]
}

// Release drops the frame buffers.
func (a *Animation) Release() {
	a.Frames = nil
}

// FrameIndex selects the frame index for clip-relative time ms: the time is
// wrapped into the loop and the accumulated delays are walked until their sum
// exceeds it.
func FrameIndex(delays []int, total int, ms float64) int {
	if len(delays) == 0 || total <= 0 {
		return 0
	}

	loop := math.Mod(ms, float64(total))
	if loop < 0 || math.IsNaN(loop) {
		loop = 0
	}

	acc := 0.0
	for i, d := range delays {
		acc += float64(d)
		if acc > loop {
			return i
		}
	}
	return len(delays) - 1
}

// NormalizeDelay converts a GIF delay in hundredths of a second to
// milliseconds, substituting DefaultDelayMs for buggy short delays.
func NormalizeDelay(centis int) int {
	ms := centis * 10
	if ms < MinDelayMs {
		return DefaultDelayMs
	}
	return ms
}

// Decode decodes data as an animated GIF, falling back to a static single
// frame image (PNG, JPEG, WebP or the first GIF frame) when that fails.
func Decode(data []byte) (*Animation, error) {
	anim, err := DecodeGIF(data)
	if err == nil {
		return anim, nil
	}

	img, _, staticErr := image.Decode(bytes.NewReader(data))
	if staticErr != nil {
		return nil, &DecodeError{Err: errors.Join(err, staticErr)}
	}
	return FromImage(img), nil
}

// FromImage wraps a still image as a single-frame Animation.
func FromImage(img image.Image) *Animation {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return &Animation{
		Frames: []*image.RGBA{rgba},
		Delays: []int{0},
		Width:  b.Dx(),
		Height: b.Dy(),
	}
}

// DecodeGIF composites every frame of an animated GIF onto a full canvas,
// honouring each frame's disposal method.
func DecodeGIF(data []byte) (*Animation, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if len(g.Image) == 0 {
		return nil, ErrNoFrames
	}

	width, height := g.Config.Width, g.Config.Height
	if width == 0 || height == 0 {
		var union image.Rectangle
		for _, frame := range g.Image {
			union = union.Union(frame.Bounds())
		}
		width, height = union.Max.X, union.Max.Y
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	anim := &Animation{
		Frames: make([]*image.RGBA, 0, len(g.Image)),
		Delays: make([]int, 0, len(g.Image)),
		Width:  width,
		Height: height,
	}

	var (
		prevDisposal byte
		prevBounds   image.Rectangle
		restore      *image.RGBA
	)
	for i, frame := range g.Image {
		if i > 0 {
			switch prevDisposal {
			case gif.DisposalBackground:
				draw.Draw(canvas, prevBounds, image.Transparent, image.Point{}, draw.Src)
			case gif.DisposalPrevious:
				if restore != nil {
					draw.Draw(canvas, canvas.Bounds(), restore, image.Point{}, draw.Src)
				}
			}
		}

		disposal := byte(0)
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		if disposal == gif.DisposalPrevious {
			restore = cloneRGBA(canvas)
		}

		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		anim.Frames = append(anim.Frames, cloneRGBA(canvas))

		delay := DefaultDelayMs
		if i < len(g.Delay) {
			delay = NormalizeDelay(g.Delay[i])
		}
		anim.Delays = append(anim.Delays, delay)
		anim.TotalDuration += delay

		prevDisposal = disposal
		prevBounds = frame.Bounds()
	}

	if len(anim.Frames) == 1 {
		anim.TotalDuration = 0
	}
	return anim, nil
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}
