package compositor

import (
	"cmp"
	"context"
	"image"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/jmylchreest/clipforge/internal/keyframe"
	"github.com/jmylchreest/clipforge/internal/raster"
	"github.com/jmylchreest/clipforge/internal/timeline"
)

// RenderFrame paints timeline time t and returns the surface image. The
// returned image is reused and overwritten by the next call.
//
// Paint order is background, video layers (higher track order first, so the
// lowest order ends on top), stickers, then text.
func (c *Compositor) RenderFrame(ctx context.Context, t float64) (*image.RGBA, error) {
	if !c.loaded {
		return nil, ErrNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frames, err := c.videoFrames(ctx, t)
	if err != nil {
		return nil, err
	}

	c.paintBackground(frames)

	for _, vf := range frames {
		c.paintVideo(vf, t)
	}
	for _, s := range c.stickers {
		if s.clip.ActiveAt(t) {
			c.paintSticker(s, t)
		}
	}
	for _, tl := range c.texts {
		if tl.clip.ActiveAt(t) {
			c.paintText(tl, t)
		}
	}
	return c.surface.Snapshot(), nil
}

type videoFrame struct {
	layer *videoLayer
	img   *image.RGBA
	w, h  int
}

// videoFrames seeks every active video layer and waits for its frame, in
// paint order. A layer whose frame cannot be decoded is logged and skipped;
// only cancellation aborts the frame.
func (c *Compositor) videoFrames(ctx context.Context, t float64) ([]videoFrame, error) {
	active := make([]*videoLayer, 0, len(c.videos))
	for _, v := range c.videos {
		if v.clip.ActiveAt(t) {
			active = append(active, v)
		}
	}
	slices.SortStableFunc(active, func(a, b *videoLayer) int {
		return cmp.Compare(b.order, a.order)
	})

	frames := make([]videoFrame, 0, len(active))
	for _, v := range active {
		v.decoder.Seek(v.clip.SourceTime(t))
		img, err := v.decoder.AwaitFrameReady(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("skipping video layer",
				slog.String("clip_id", v.clip.ID),
				slog.Float64("time", t),
				slog.String("error", err.Error()),
			)
			continue
		}
		w, h := v.decoder.Size()
		if w <= 0 || h <= 0 {
			w, h = img.Bounds().Dx(), img.Bounds().Dy()
		}
		frames = append(frames, videoFrame{layer: v, img: img, w: w, h: h})
	}
	return frames, nil
}

func (c *Compositor) canvasSize() (float64, float64) {
	return float64(c.req.Width), float64(c.req.Height)
}

// paintBackground clears the surface. Blur backgrounds use the topmost
// video frame, which is the last one painted.
func (c *Compositor) paintBackground(frames []videoFrame) {
	c.surface.Clear(timeline.Black.NRGBA())

	bg := c.req.Background
	if bg == nil {
		return
	}

	switch bg.Kind {
	case timeline.BackgroundColor:
		c.surface.Clear(bg.Hex.NRGBA())
	case timeline.BackgroundImage:
		if c.background != nil {
			c.drawCover(c.background)
		}
	case timeline.BackgroundBlur:
		if len(frames) == 0 {
			return
		}
		top := frames[len(frames)-1]
		amount := bg.Amount
		if amount <= 0 {
			amount = 20
		}
		c.drawCover(raster.Blur(top.img, amount))
	default:
		c.logger.Debug("unknown background kind", slog.String("kind", string(bg.Kind)))
	}
}

func (c *Compositor) drawCover(img image.Image) {
	cw, ch := c.canvasSize()
	b := img.Bounds()
	w, h := raster.CoverFit(float64(b.Dx()), float64(b.Dy()), cw, ch)
	c.surface.DrawImage(img, raster.Rect{X: (cw - w) / 2, Y: (ch - h) / 2, W: w, H: h})
}

// layerTransform applies the shared layer transform: the layer is centered
// on its position (a percentage of the canvas) and rotated and scaled
// around that center.
func (c *Compositor) layerTransform(props keyframe.Properties, alpha float64) (cx, cy float64) {
	cw, ch := c.canvasSize()
	cx = props.Position.X / 100 * cw
	cy = props.Position.Y / 100 * ch

	c.surface.SetGlobalAlpha(alpha)
	c.surface.Translate(cx, cy)
	c.surface.Rotate(props.Rotation * math.Pi / 180)
	c.surface.Scale(props.Scale, props.Scale)
	c.surface.Translate(-cx, -cy)
	return cx, cy
}

func (c *Compositor) paintVideo(vf videoFrame, t float64) {
	clip := vf.layer.clip
	props := keyframe.ResolveAll(clip, t-clip.StartTime)
	alpha := props.Opacity * transitionAlpha(clip, t)
	if alpha <= 0 || props.Scale == 0 {
		return
	}

	cw, ch := c.canvasSize()
	w, h := raster.ContainFit(float64(vf.w), float64(vf.h), cw, ch)

	c.surface.Save()
	defer c.surface.Restore()
	cx, cy := c.layerTransform(props, alpha)
	c.surface.DrawImage(vf.img, raster.Rect{X: cx - w/2, Y: cy - h/2, W: w, H: h})
}

func (c *Compositor) paintSticker(s *stickerLayer, t float64) {
	clip := s.clip
	frame := s.anim.FrameAt((t - clip.StartTime) * 1000)
	if frame == nil {
		c.logger.Warn("skipping sticker layer", slog.String("clip_id", clip.ID), slog.String("error", "no frames"))
		return
	}
	props := keyframe.ResolveAll(clip, t-clip.StartTime)
	alpha := props.Opacity * transitionAlpha(clip, t)
	if alpha <= 0 || props.Scale == 0 {
		return
	}

	cw, ch := c.canvasSize()
	box := c.opts.StickerFraction * math.Min(cw, ch)
	b := frame.Bounds()
	w, h := raster.ContainFit(float64(b.Dx()), float64(b.Dy()), box, box)

	c.surface.Save()
	defer c.surface.Restore()
	cx, cy := c.layerTransform(props, alpha)
	c.surface.DrawImage(frame, raster.Rect{X: cx - w/2, Y: cy - h/2, W: w, H: h})
}

// transitionAlpha returns the opacity multiplier of fade and dissolve
// transitions at time t.
func transitionAlpha(clip *timeline.Clip, t float64) float64 {
	a := 1.0
	if tr := clip.TransitionIn; fadesOpacity(tr) {
		if local := t - clip.StartTime; local < tr.Duration {
			a *= math.Max(0, local/tr.Duration)
		}
	}
	if tr := clip.TransitionOut; fadesOpacity(tr) {
		if remaining := clip.EndTime() - t; remaining < tr.Duration {
			a *= math.Max(0, remaining/tr.Duration)
		}
	}
	return a
}

func fadesOpacity(tr *timeline.Transition) bool {
	if tr == nil || tr.Duration <= 0 {
		return false
	}
	switch strings.ToLower(tr.Kind) {
	case "fade", "dissolve":
		return true
	}
	return false
}
