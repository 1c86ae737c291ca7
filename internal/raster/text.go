package raster

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

type faceKey struct {
	size float64
	bold bool
}

// Typesetter owns parsed fonts and caches sized faces.
type Typesetter struct {
	regular *opentype.Font
	bold    *opentype.Font

	mu    sync.Mutex
	faces map[faceKey]font.Face
}

// NewTypesetter loads the regular and bold fonts. Empty paths select the
// bundled Go fonts.
func NewTypesetter(regularPath, boldPath string) (*Typesetter, error) {
	regular, err := loadFont(regularPath, goregular.TTF)
	if err != nil {
		return nil, err
	}
	bold, err := loadFont(boldPath, gobold.TTF)
	if err != nil {
		return nil, err
	}
	return &Typesetter{regular: regular, bold: bold, faces: make(map[faceKey]font.Face)}, nil
}

func loadFont(path string, fallback []byte) (*opentype.Font, error) {
	data := fallback
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading font %s: %w", path, err)
		}
		data = b
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}
	return f, nil
}

// Face returns a face of the given pixel size.
func (t *Typesetter) Face(size float64, bold bool) (font.Face, error) {
	key := faceKey{size: math.Round(size*4) / 4, bold: bold}

	t.mu.Lock()
	defer t.mu.Unlock()

	if f, ok := t.faces[key]; ok {
		return f, nil
	}

	src := t.regular
	if bold {
		src = t.bold
	}
	face, err := opentype.NewFace(src, &opentype.FaceOptions{
		Size:    key.size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %gpx face: %w", key.size, err)
	}
	t.faces[key] = face
	return face, nil
}

// Close releases every cached face.
func (t *Typesetter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, f := range t.faces {
		_ = f.Close()
		delete(t.faces, k)
	}
	return nil
}

// Measure returns the advance width of s in pixels.
func Measure(face font.Face, s string) float64 {
	return fromFixed(font.MeasureString(face, s))
}

// Ascent returns the face ascent in pixels.
func Ascent(face font.Face) float64 {
	return fromFixed(face.Metrics().Ascent)
}

// Descent returns the face descent in pixels.
func Descent(face font.Face) float64 {
	return fromFixed(face.Metrics().Descent)
}

// DrawString draws s with its baseline origin at (x, y).
func DrawString(dst draw.Image, face font.Face, s string, x, y float64, c color.Color) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: toFixed(x), Y: toFixed(y)},
	}
	d.DrawString(s)
}

func fromFixed(v fixed.Int26_6) float64 {
	return float64(v) / 64
}

func toFixed(v float64) fixed.Int26_6 {
	return fixed.Int26_6(math.Round(v * 64))
}
