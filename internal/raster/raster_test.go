package raster

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestSurface_ClearAndTranslatedDraw(t *testing.T) {
	s := NewRGBASurface(8, 8)
	s.Clear(color.Black)
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, s.Snapshot().RGBAAt(7, 7))

	s.Save()
	s.Translate(2, 3)
	s.DrawImage(solid(2, 2, color.RGBA{255, 0, 0, 255}), Rect{X: 0, Y: 0, W: 2, H: 2})
	s.Restore()

	img := s.Snapshot()
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, img.RGBAAt(2, 3))
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, img.RGBAAt(3, 4))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, img.RGBAAt(4, 4))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, img.RGBAAt(1, 3))
}

func TestSurface_GlobalAlpha(t *testing.T) {
	s := NewRGBASurface(4, 4)
	s.Clear(color.Black)
	s.SetGlobalAlpha(0.5)
	s.FillRect(Rect{W: 4, H: 4}, color.White)

	px := s.Snapshot().RGBAAt(1, 1)
	assert.InDelta(t, 128, int(px.R), 2)
	assert.Equal(t, uint8(255), px.A)

	s.SetGlobalAlpha(0)
	s.FillRect(Rect{W: 4, H: 4}, color.RGBA{0, 0, 255, 255})
	assert.Equal(t, px, s.Snapshot().RGBAAt(1, 1), "zero alpha paints nothing")
}

func TestSurface_ScaledDraw(t *testing.T) {
	s := NewRGBASurface(10, 10)
	s.Clear(color.Black)
	s.DrawImage(solid(1, 1, color.RGBA{0, 255, 0, 255}), Rect{X: 2, Y: 2, W: 6, H: 6})

	img := s.Snapshot()
	assert.Equal(t, uint8(255), img.RGBAAt(5, 5).G)
	assert.Equal(t, uint8(0), img.RGBAAt(0, 0).G)
	assert.Equal(t, uint8(0), img.RGBAAt(9, 9).G)
}

func TestSurface_RotateAroundCenter(t *testing.T) {
	s := NewRGBASurface(20, 20)
	s.Clear(color.Black)

	// A 16x2 bar centred on the canvas, rotated by 90 degrees, becomes vertical.
	s.Save()
	s.Translate(10, 10)
	s.Rotate(math.Pi / 2)
	s.Translate(-10, -10)
	s.FillRect(Rect{X: 2, Y: 9, W: 16, H: 2}, color.White)
	s.Restore()

	img := s.Snapshot()
	assert.Equal(t, uint8(255), img.RGBAAt(10, 3).R, "vertical bar covers top")
	assert.Equal(t, uint8(255), img.RGBAAt(10, 16).R, "vertical bar covers bottom")
	assert.Equal(t, uint8(0), img.RGBAAt(3, 10).R, "horizontal extent is gone")
}

func TestSurface_RestoreUnbalanced(t *testing.T) {
	s := NewRGBASurface(2, 2)
	assert.NotPanics(t, func() { s.Restore() })
}

func TestFit(t *testing.T) {
	w, h := ContainFit(1920, 1080, 1080, 1080)
	assert.InDelta(t, 1080, w, 1e-9)
	assert.InDelta(t, 607.5, h, 1e-9)

	w, h = CoverFit(1920, 1080, 1080, 1080)
	assert.InDelta(t, 1920, w, 1e-9)
	assert.InDelta(t, 1080, h, 1e-9)

	w, h = ContainFit(0, 0, 640, 360)
	assert.Equal(t, 640.0, w)
	assert.Equal(t, 360.0, h)
}

func TestBlur(t *testing.T) {
	src := solid(16, 8, color.RGBA{0, 0, 0, 255})
	for x := 8; x < 16; x++ {
		for y := 0; y < 8; y++ {
			src.SetRGBA(x, y, color.RGBA{255, 255, 255, 255})
		}
	}

	out := Blur(src, 6)
	assert.Equal(t, src.Bounds(), out.Bounds())
	edge := out.RGBAAt(8, 4).R
	assert.Greater(t, edge, uint8(0))
	assert.Less(t, edge, uint8(255), "hard edge is softened")

	same := Blur(src, 0)
	assert.Equal(t, src.Pix, same.Pix)
}

func TestEncode(t *testing.T) {
	img := solid(8, 8, color.RGBA{10, 200, 30, 255})

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, img, FormatJPEG, 90))
	decoded, err := jpeg.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())

	buf.Reset()
	require.NoError(t, Encode(&buf, img, FormatPNG, 0))
	assert.Equal(t, ".png", FormatPNG.Extension())
	assert.Equal(t, ".jpg", FormatJPEG.Extension())

	assert.Error(t, Encode(&buf, img, "bmp", 0))
}

func TestTypesetter(t *testing.T) {
	ts, err := NewTypesetter("", "")
	require.NoError(t, err)
	defer ts.Close()

	face, err := ts.Face(32, false)
	require.NoError(t, err)
	again, err := ts.Face(32, false)
	require.NoError(t, err)
	assert.Same(t, face, again, "faces are cached per size")

	short := Measure(face, "Hi")
	long := Measure(face, "Hello world")
	assert.Greater(t, short, 0.0)
	assert.Greater(t, long, short)
	assert.Greater(t, Ascent(face), 0.0)

	dst := image.NewRGBA(image.Rect(0, 0, 100, 50))
	DrawString(dst, face, "Hi", 5, Ascent(face), color.White)
	painted := false
	for i := 3; i < len(dst.Pix); i += 4 {
		if dst.Pix[i] > 0 {
			painted = true
			break
		}
	}
	assert.True(t, painted)

	_, err = NewTypesetter("/does/not/exist.ttf", "")
	assert.Error(t, err)
}
