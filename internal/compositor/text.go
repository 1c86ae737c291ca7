package compositor

import (
	"image"
	"image/color"
	"log/slog"
	"math"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/text/unicode/norm"

	"github.com/jmylchreest/clipforge/internal/keyframe"
	"github.com/jmylchreest/clipforge/internal/raster"
	"github.com/jmylchreest/clipforge/internal/timeline"
)

const (
	lineHeightFactor = 1.2
	// backgroundPadding is the padding around text on a background box, as
	// a fraction of the font size.
	backgroundPadding = 0.25
)

var shadowColor = color.NRGBA{A: 160}

// WrapText splits s into lines. Explicit newlines always break; when
// maxWidth is positive, words are wrapped greedily so no line exceeds it
// unless a single word is wider on its own.
func WrapText(face font.Face, s string, maxWidth float64) []string {
	paragraphs := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	if maxWidth <= 0 {
		return paragraphs
	}

	lines := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		words := strings.Fields(p)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		line := words[0]
		for _, w := range words[1:] {
			candidate := line + " " + w
			if raster.Measure(face, candidate) <= maxWidth {
				line = candidate
				continue
			}
			lines = append(lines, line)
			line = w
		}
		lines = append(lines, line)
	}
	return lines
}

// renderTextBlock lays out and rasterises lines. The image center is the
// anchor of the box.
func renderTextBlock(face font.Face, lines []string, size float64, tp *timeline.TextPayload, fill timeline.Color) *image.RGBA {
	lineHeight := size * lineHeightFactor
	widths := make([]float64, len(lines))
	contentW := 0.0
	for i, l := range lines {
		widths[i] = raster.Measure(face, l)
		contentW = math.Max(contentW, widths[i])
	}
	contentH := float64(len(lines)) * lineHeight

	pad := 0.0
	shadow := 0.0
	if tp.BackgroundColor != nil {
		pad = math.Round(size * backgroundPadding)
	} else {
		shadow = math.Max(1, math.Round(size*0.05))
	}
	// symmetric margin keeps the box center on the image center
	margin := pad + shadow

	w := int(math.Ceil(contentW + 2*margin))
	h := int(math.Ceil(contentH + 2*margin))
	img := image.NewRGBA(image.Rect(0, 0, max(1, w), max(1, h)))

	if bg := tp.BackgroundColor; bg != nil {
		draw.Draw(img, img.Bounds(), image.NewUniform(bg.NRGBA()), image.Point{}, draw.Src)
	}

	ascent, descent := raster.Ascent(face), raster.Descent(face)
	halfLeading := (lineHeight - (ascent + descent)) / 2

	for i, l := range lines {
		if l == "" {
			continue
		}
		x := margin
		switch tp.TextAlign {
		case timeline.AlignRight:
			x += contentW - widths[i]
		case timeline.AlignLeft:
		default:
			x += (contentW - widths[i]) / 2
		}
		y := margin + float64(i)*lineHeight + halfLeading + ascent

		if shadow > 0 {
			raster.DrawString(img, face, l, x+shadow, y+shadow, shadowColor)
		}
		raster.DrawString(img, face, l, x, y, fill.NRGBA())
	}
	return img
}

// paintText draws a text clip. Glyphs are rasterised at the scaled font size
// and the block is then rotated around the clip position, which is the
// center of the rendered box whatever the alignment.
func (c *Compositor) paintText(tl *textLayer, t float64) {
	clip := tl.clip
	props := keyframe.ResolveAll(clip, t-clip.StartTime)
	alpha := props.Opacity * transitionAlpha(clip, t)
	size := props.FontSize * math.Abs(props.Scale)
	if alpha <= 0 || size <= 0 || strings.TrimSpace(clip.Text.Content) == "" {
		return
	}
	if c.opts.Typesetter == nil {
		c.logger.Warn("skipping text layer", slog.String("clip_id", clip.ID), slog.String("error", "no typesetter"))
		return
	}

	face, err := c.opts.Typesetter.Face(size, clip.Text.Bold())
	if err != nil {
		c.logger.Warn("skipping text layer", slog.String("clip_id", clip.ID), slog.String("error", err.Error()))
		return
	}

	maxWidth := clip.Text.MaxWidth * math.Abs(props.Scale)
	lines := WrapText(face, norm.NFC.String(clip.Text.Content), maxWidth)
	block := renderTextBlock(face, lines, size, clip.Text, props.Color)

	cw, ch := c.canvasSize()
	cx := props.Position.X / 100 * cw
	cy := props.Position.Y / 100 * ch
	b := block.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())

	c.surface.Save()
	defer c.surface.Restore()
	c.surface.SetGlobalAlpha(alpha)
	c.surface.Translate(cx, cy)
	c.surface.Rotate(props.Rotation * math.Pi / 180)
	if props.Scale < 0 {
		c.surface.Scale(-1, -1)
	}
	// pixel-aligned origin keeps unrotated text on the fast copy path
	x0 := math.Round(cx-w/2) - cx
	y0 := math.Round(cy-h/2) - cy
	c.surface.DrawImage(block, raster.Rect{X: x0, Y: y0, W: w, H: h})
}
