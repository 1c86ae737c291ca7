package animimage

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	red   = color.RGBA{255, 0, 0, 255}
	green = color.RGBA{0, 255, 0, 255}
	blue  = color.RGBA{0, 0, 255, 255}
	pal   = color.Palette{color.RGBA{}, red, green, blue}
)

func patch(r image.Rectangle, idx uint8) *image.Paletted {
	p := image.NewPaletted(r, pal)
	for i := range p.Pix {
		p.Pix[i] = idx
	}
	return p
}

func encodeTestGIF(t *testing.T) []byte {
	t.Helper()
	g := &gif.GIF{
		Image: []*image.Paletted{
			patch(image.Rect(0, 0, 4, 4), 1),
			patch(image.Rect(2, 2, 4, 4), 2),
			patch(image.Rect(0, 0, 1, 1), 3),
		},
		Delay:    []int{1, 10, 10},
		Disposal: []byte{gif.DisposalNone, gif.DisposalBackground, gif.DisposalNone},
		Config:   image.Config{ColorModel: pal, Width: 4, Height: 4},
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, g))
	return buf.Bytes()
}

func TestDecodeGIF_DisposalAndFullFrames(t *testing.T) {
	anim, err := DecodeGIF(encodeTestGIF(t))
	require.NoError(t, err)

	require.Len(t, anim.Frames, 3)
	assert.Equal(t, 4, anim.Width)
	assert.Equal(t, 4, anim.Height)
	assert.Equal(t, []int{DefaultDelayMs, 100, 100}, anim.Delays, "10ms delay is replaced")
	assert.Equal(t, 300, anim.TotalDuration)

	for _, f := range anim.Frames {
		assert.Equal(t, image.Rect(0, 0, 4, 4), f.Bounds(), "every frame is a full canvas")
	}

	assert.Equal(t, red, anim.Frames[0].RGBAAt(3, 3))

	assert.Equal(t, green, anim.Frames[1].RGBAAt(3, 3))
	assert.Equal(t, red, anim.Frames[1].RGBAAt(0, 0))

	assert.Equal(t, blue, anim.Frames[2].RGBAAt(0, 0))
	assert.Equal(t, red, anim.Frames[2].RGBAAt(1, 1))
	assert.Equal(t, color.RGBA{}, anim.Frames[2].RGBAAt(3, 3), "background disposal clears the previous patch")
}

func TestFrameIndex(t *testing.T) {
	delays := []int{100, 100, 100}
	tests := []struct {
		ms   float64
		want int
	}{
		{0, 0},
		{99, 0},
		{100, 1},
		{250, 2},
		{299.9, 2},
		{300, 0},
		{650, 0},
		{-40, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FrameIndex(delays, 300, tt.ms), "ms=%g", tt.ms)
	}
	assert.Equal(t, 0, FrameIndex(nil, 0, 123))
}

func TestNormalizeDelay(t *testing.T) {
	assert.Equal(t, 100, NormalizeDelay(0))
	assert.Equal(t, 100, NormalizeDelay(1))
	assert.Equal(t, 20, NormalizeDelay(2))
	assert.Equal(t, 70, NormalizeDelay(7))
}

func TestDecode_StaticFallback(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(1, 1, blue)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	anim, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.True(t, anim.Static())
	assert.Equal(t, 3, anim.Width)
	assert.Equal(t, 2, anim.Height)
	assert.Same(t, anim.Frames[0], anim.FrameAt(12345))
	assert.Equal(t, blue, anim.FrameAt(0).RGBAAt(1, 1))
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode([]byte("not an image"))
	require.Error(t, err)
	var de *DecodeError
	assert.ErrorAs(t, err, &de)
}

func TestAnimation_FrameAt(t *testing.T) {
	anim, err := Decode(encodeTestGIF(t))
	require.NoError(t, err)
	assert.False(t, anim.Static())
	assert.Same(t, anim.Frames[2], anim.FrameAt(250))
	assert.Same(t, anim.Frames[0], anim.FrameAt(650))

	anim.Release()
	assert.Nil(t, anim.FrameAt(0))
}
