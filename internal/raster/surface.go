// Package raster provides the paint target used to composite export frames:
// an RGBA surface with a canvas-style transform stack and global alpha.
package raster

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Rect is a rectangle in user space (before the current transform).
type Rect struct {
	X, Y, W, H float64
}

// Surface is a paintable raster with a transform stack. Implementations are
// single-writer.
type Surface interface {
	Bounds() image.Rectangle
	Clear(c color.Color)
	Save()
	Restore()
	Translate(dx, dy float64)
	Rotate(radians float64)
	Scale(sx, sy float64)
	SetGlobalAlpha(a float64)
	DrawImage(src image.Image, dst Rect)
	FillRect(dst Rect, c color.Color)
	Snapshot() *image.RGBA
}

type state struct {
	m     f64.Aff3
	alpha float64
}

var identity = f64.Aff3{1, 0, 0, 0, 1, 0}

// RGBASurface is the in-memory Surface implementation.
type RGBASurface struct {
	img    *image.RGBA
	cur    state
	stack  []state
	interp draw.Interpolator
}

// NewRGBASurface allocates a width x height surface.
func NewRGBASurface(width, height int) *RGBASurface {
	return &RGBASurface{
		img:    image.NewRGBA(image.Rect(0, 0, width, height)),
		cur:    state{m: identity, alpha: 1},
		interp: draw.BiLinear,
	}
}

// Bounds returns the surface bounds.
func (s *RGBASurface) Bounds() image.Rectangle {
	return s.img.Bounds()
}

// Clear fills the whole surface with c and resets the transform stack.
func (s *RGBASurface) Clear(c color.Color) {
	draw.Draw(s.img, s.img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	s.cur = state{m: identity, alpha: 1}
	s.stack = s.stack[:0]
}

// Save pushes the current transform and alpha.
func (s *RGBASurface) Save() {
	s.stack = append(s.stack, s.cur)
}

// Restore pops the last saved state. Unbalanced calls are ignored.
func (s *RGBASurface) Restore() {
	if len(s.stack) == 0 {
		return
	}
	s.cur = s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
}

// Translate appends a translation to the current transform.
func (s *RGBASurface) Translate(dx, dy float64) {
	s.cur.m = mul(s.cur.m, f64.Aff3{1, 0, dx, 0, 1, dy})
}

// Rotate appends a clockwise rotation (in y-down space) to the transform.
func (s *RGBASurface) Rotate(radians float64) {
	sin, cos := math.Sincos(radians)
	s.cur.m = mul(s.cur.m, f64.Aff3{cos, -sin, 0, sin, cos, 0})
}

// Scale appends a scale to the current transform.
func (s *RGBASurface) Scale(sx, sy float64) {
	s.cur.m = mul(s.cur.m, f64.Aff3{sx, 0, 0, 0, sy, 0})
}

// SetGlobalAlpha sets the opacity applied to subsequent paints.
func (s *RGBASurface) SetGlobalAlpha(a float64) {
	s.cur.alpha = math.Max(0, math.Min(1, a))
}

// DrawImage paints src stretched into dst under the current transform.
func (s *RGBASurface) DrawImage(src image.Image, dst Rect) {
	sb := src.Bounds()
	if sb.Empty() || dst.W <= 0 || dst.H <= 0 || s.cur.alpha == 0 {
		return
	}

	m := mul(s.cur.m, f64.Aff3{
		dst.W / float64(sb.Dx()), 0, dst.X - float64(sb.Min.X)*dst.W/float64(sb.Dx()),
		0, dst.H / float64(sb.Dy()), dst.Y - float64(sb.Min.Y)*dst.H/float64(sb.Dy()),
	})

	if isTranslation(m) && s.cur.alpha == 1 {
		draw.Draw(s.img, sb.Add(image.Pt(int(m[2]), int(m[5]))), src, sb.Min, draw.Over)
		return
	}
	s.interp.Transform(s.img, m, src, sb, draw.Over, s.options())
}

// FillRect paints a solid rectangle under the current transform.
func (s *RGBASurface) FillRect(dst Rect, c color.Color) {
	if dst.W <= 0 || dst.H <= 0 || s.cur.alpha == 0 {
		return
	}
	m := mul(s.cur.m, f64.Aff3{dst.W, 0, dst.X, 0, dst.H, dst.Y})
	draw.NearestNeighbor.Transform(s.img, m, image.NewUniform(c), image.Rect(0, 0, 1, 1), draw.Over, s.options())
}

// Snapshot returns the backing image. It is overwritten by the next frame.
func (s *RGBASurface) Snapshot() *image.RGBA {
	return s.img
}

func (s *RGBASurface) options() *draw.Options {
	if s.cur.alpha >= 1 {
		return nil
	}
	return &draw.Options{SrcMask: image.NewUniform(color.Alpha{A: uint8(math.Round(s.cur.alpha * 255))})}
}

// isTranslation reports whether m is an integral translation.
func isTranslation(m f64.Aff3) bool {
	return m[0] == 1 && m[1] == 0 && m[3] == 0 && m[4] == 1 &&
		m[2] == math.Trunc(m[2]) && m[5] == math.Trunc(m[5])
}

// mul returns a*b, so b is applied to points first.
func mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3],
		a[0]*b[1] + a[1]*b[4],
		a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3],
		a[3]*b[1] + a[4]*b[4],
		a[3]*b[2] + a[4]*b[5] + a[5],
	}
}

var _ Surface = (*RGBASurface)(nil)
