package raster

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// ContainFit returns the largest size with the source aspect ratio that fits
// inside the destination.
func ContainFit(srcW, srcH, dstW, dstH float64) (w, h float64) {
	if srcW <= 0 || srcH <= 0 {
		return dstW, dstH
	}
	s := math.Min(dstW/srcW, dstH/srcH)
	return srcW * s, srcH * s
}

// CoverFit returns the smallest size with the source aspect ratio that covers
// the destination.
func CoverFit(srcW, srcH, dstW, dstH float64) (w, h float64) {
	if srcW <= 0 || srcH <= 0 {
		return dstW, dstH
	}
	s := math.Max(dstW/srcW, dstH/srcH)
	return srcW * s, srcH * s
}

// Blur returns a blurred copy of src sized to the same bounds. Larger
// amounts blur more. The image is reduced by a factor derived from amount and
// then scaled back up with a smooth kernel.
func Blur(src image.Image, amount float64) *image.RGBA {
	b := src.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if amount <= 0 {
		draw.Draw(out, out.Bounds(), src, b.Min, draw.Src)
		return out
	}

	factor := 1 + amount/2
	sw := max(1, int(float64(b.Dx())/factor))
	sh := max(1, int(float64(b.Dy())/factor))
	small := image.NewRGBA(image.Rect(0, 0, sw, sh))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), src, b, draw.Src, nil)
	draw.CatmullRom.Scale(out, out.Bounds(), small, small.Bounds(), draw.Src, nil)
	return out
}
