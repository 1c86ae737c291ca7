package raster

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
)

// ImageFormat is a still image compression format for staged frames.
type ImageFormat string

// Supported frame formats.
const (
	FormatJPEG ImageFormat = "jpeg"
	FormatPNG  ImageFormat = "png"
)

// Extension returns the file extension for the format.
func (f ImageFormat) Extension() string {
	if f == FormatPNG {
		return ".png"
	}
	return ".jpg"
}

// Encode compresses img. Quality (1-100) only applies to JPEG.
func Encode(w io.Writer, img image.Image, format ImageFormat, quality int) error {
	switch format {
	case FormatPNG:
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		if err := enc.Encode(w, img); err != nil {
			return fmt.Errorf("encoding png frame: %w", err)
		}
	case FormatJPEG, "":
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: max(1, min(100, quality))}); err != nil {
			return fmt.Errorf("encoding jpeg frame: %w", err)
		}
	default:
		return fmt.Errorf("unsupported frame format %q", format)
	}
	return nil
}
