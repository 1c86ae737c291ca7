// Package compositor paints the visual layers of an export request into a
// single reusable raster surface, one timeline instant at a time.
package compositor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/jmylchreest/clipforge/internal/animimage"
	"github.com/jmylchreest/clipforge/internal/media"
	"github.com/jmylchreest/clipforge/internal/observability"
	"github.com/jmylchreest/clipforge/internal/raster"
	"github.com/jmylchreest/clipforge/internal/timeline"
)

// ErrNotLoaded is returned by RenderFrame before LoadResources succeeded.
var ErrNotLoaded = errors.New("compositor resources not loaded")

// AssetLoader loads still and animated image assets.
type AssetLoader interface {
	LoadImage(ctx context.Context, ref string) (image.Image, error)
	LoadAnimation(ctx context.Context, ref string) (*animimage.Animation, error)
	ResolvePath(ref string) string
}

// LoadError reports a clip or background asset that could not be opened.
type LoadError struct {
	ClipID string
	Ref    string
	Err    error
}

func (e *LoadError) Error() string {
	if e.ClipID == "" {
		return fmt.Sprintf("loading background %s: %v", e.Ref, e.Err)
	}
	return fmt.Sprintf("loading clip %s (%s): %v", e.ClipID, e.Ref, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Options configures a Compositor.
type Options struct {
	Opener     media.Opener
	Assets     AssetLoader
	Typesetter *raster.Typesetter
	Logger     *slog.Logger
	// StickerFraction is the largest sticker dimension as a fraction of the
	// shorter canvas side. Zero uses DefaultStickerFraction.
	StickerFraction float64
}

// DefaultStickerFraction matches the preview, where a sticker at scale 1
// spans 30% of the shorter side of the canvas.
const DefaultStickerFraction = 0.3

type videoLayer struct {
	clip    *timeline.Clip
	order   int
	decoder media.Decoder
}

type stickerLayer struct {
	clip *timeline.Clip
	anim *animimage.Animation
}

type textLayer struct {
	clip *timeline.Clip
}

// Compositor renders frames for one export request. It owns its decoders
// and image buffers until Close and is not safe for concurrent use.
type Compositor struct {
	req    *timeline.ExportRequest
	opts   Options
	logger *slog.Logger

	surface   *raster.RGBASurface
	resources *media.ResourceSet

	videos     []*videoLayer
	stickers   []*stickerLayer
	texts      []*textLayer
	background image.Image

	loaded bool
}

// New creates a compositor for req. Nothing is opened until LoadResources.
func New(req *timeline.ExportRequest, opts Options) *Compositor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StickerFraction <= 0 {
		opts.StickerFraction = DefaultStickerFraction
	}
	return &Compositor{
		req:       req,
		opts:      opts,
		logger:    observability.WithComponent(opts.Logger, "compositor"),
		surface:   raster.NewRGBASurface(req.Width, req.Height),
		resources: media.NewResourceSet(),
	}
}

// LoadResources opens every decoder and decodes every image the request
// references. Any failure is fatal: everything opened so far is released and
// a *LoadError is returned.
func (c *Compositor) LoadResources(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			_ = c.resources.Release()
		}
	}()

	if bg := c.req.Background; bg != nil && bg.Kind == timeline.BackgroundImage {
		img, err := c.opts.Assets.LoadImage(ctx, bg.URL)
		if err != nil {
			return &LoadError{Ref: bg.URL, Err: err}
		}
		c.background = img
	}

	for _, clip := range c.req.SortedClips(timeline.ClipTypeVideo, timeline.ClipTypeSticker, timeline.ClipTypeText) {
		if err := ctx.Err(); err != nil {
			return err
		}
		track, ok := c.req.Track(clip)
		if !ok || !track.Visible {
			continue
		}

		switch clip.Type {
		case timeline.ClipTypeVideo:
			if err := c.loadVideo(ctx, clip, track); err != nil {
				return err
			}
		case timeline.ClipTypeSticker:
			if err := c.loadSticker(ctx, clip); err != nil {
				return err
			}
		case timeline.ClipTypeText:
			if clip.Text != nil {
				c.texts = append(c.texts, &textLayer{clip: clip})
			}
		}
	}

	c.loaded = true
	c.logger.Debug("compositor resources loaded",
		slog.Int("video_layers", len(c.videos)),
		slog.Int("sticker_layers", len(c.stickers)),
		slog.Int("text_layers", len(c.texts)),
	)
	return nil
}

func (c *Compositor) loadVideo(ctx context.Context, clip *timeline.Clip, track timeline.Track) error {
	if clip.Media == nil || clip.Media.SourceURL == "" {
		return &LoadError{ClipID: clip.ID, Err: errors.New("video clip has no source")}
	}
	dec, err := c.opts.Opener.Open(ctx, media.OpenRequest{
		URL:            c.opts.Assets.ResolvePath(clip.Media.SourceURL),
		StartTime:      clip.SourceStartTime,
		FirstFrameTime: clip.FirstFrameSourceTime(c.req.FPS),
		Rate:           clip.PlaybackRate(),
		FPS:            c.req.FPS,
		MaxWidth:       c.req.Width,
		MaxHeight:      c.req.Height,
	})
	if err != nil {
		return &LoadError{ClipID: clip.ID, Ref: clip.Media.SourceURL, Err: err}
	}
	c.resources.Add(dec)
	c.videos = append(c.videos, &videoLayer{clip: clip, order: track.Order, decoder: dec})
	return nil
}

func (c *Compositor) loadSticker(ctx context.Context, clip *timeline.Clip) error {
	if clip.Sticker == nil || clip.Sticker.AssetURL == "" {
		return &LoadError{ClipID: clip.ID, Err: errors.New("sticker clip has no asset")}
	}
	ref := clip.Sticker.AssetURL

	var anim *animimage.Animation
	if clip.Sticker.IsAnimated {
		a, err := c.opts.Assets.LoadAnimation(ctx, ref)
		if err != nil {
			return &LoadError{ClipID: clip.ID, Ref: ref, Err: err}
		}
		anim = a
	} else {
		img, err := c.opts.Assets.LoadImage(ctx, ref)
		if err != nil {
			return &LoadError{ClipID: clip.ID, Ref: ref, Err: err}
		}
		anim = animimage.FromImage(img)
	}
	c.resources.AddFunc(anim.Release)
	c.stickers = append(c.stickers, &stickerLayer{clip: clip, anim: anim})
	return nil
}

// Resources returns the number of held resources.
func (c *Compositor) Resources() int {
	return c.resources.Len()
}

// Close releases every decoder and image buffer. It is safe to call more
// than once.
func (c *Compositor) Close() error {
	c.loaded = false
	c.videos, c.stickers, c.texts, c.background = nil, nil, nil, nil
	return c.resources.Release()
}
