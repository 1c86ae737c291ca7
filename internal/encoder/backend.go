// Package encoder provides the export backends that turn composited frames
// into an MP4 container: a software backend that stages compressed stills for
// one batch ffmpeg pass, and a hardware backend that streams raw frames to a
// hardware H.264 encoder and muxes the result itself.
package encoder

import (
	"context"
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/jmylchreest/clipforge/internal/audiograph"
	"github.com/jmylchreest/clipforge/internal/timeline"
)

// Backend names.
const (
	NameSoftware = "software"
	NameHardware = "hardware"
)

// MIMEType is the content type of every container a backend produces.
const MIMEType = "video/mp4"

// Stage identifies the part of Finalize a progress value belongs to.
type Stage int

const (
	// StageEncode covers the video encode pass (software) or encoder drain
	// (hardware).
	StageEncode Stage = iota
	// StageMux covers adding the audio mix to the video.
	StageMux
)

func (s Stage) String() string {
	if s == StageMux {
		return "mux"
	}
	return "encode"
}

// ProgressFunc receives the progress of Finalize in [0,1].
type ProgressFunc func(stage Stage, fraction float64)

// StagingPrefix names the per-export frame directories created in staging.
const StagingPrefix = "export-"

// Settings describe the stream a backend is configured for.
type Settings struct {
	Width      int
	Height     int
	FPS        float64
	FrameCount int
	Quality    timeline.Quality
}

// Duration returns the exact output duration in seconds.
func (s Settings) Duration() float64 {
	if s.FPS <= 0 {
		return 0
	}
	return float64(s.FrameCount) / s.FPS
}

// SettingsFor derives backend settings from an export request.
func SettingsFor(req *timeline.ExportRequest) Settings {
	return Settings{
		Width:      req.Width,
		Height:     req.Height,
		FPS:        req.FPS,
		FrameCount: req.FrameCount(),
		Quality:    req.Quality,
	}
}

// Backend encodes frames submitted in presentation order.
//
// Configure is called once, then SubmitFrame once per frame, then Finalize,
// which returns the path of the finished container. Close must always be
// called and removes every staged file, including the container, so callers
// read the result before closing.
type Backend interface {
	Name() string
	Configure(ctx context.Context, s Settings) error
	SubmitFrame(ctx context.Context, frame *image.RGBA) error
	Finalize(ctx context.Context, graph *audiograph.Graph, progress ProgressFunc) (string, error)
	Close() error
}

// Preset holds the encoder parameters of a quality tier.
type Preset struct {
	CRF          int
	Speed        string
	VideoBitrate string
	AudioBitrate string
	JPEGQuality  int
}

var presets = map[timeline.Quality]Preset{
	timeline.QualityHigh:   {CRF: 18, Speed: "slow", VideoBitrate: "8M", AudioBitrate: "192k", JPEGQuality: 95},
	timeline.QualityMedium: {CRF: 23, Speed: "medium", VideoBitrate: "5M", AudioBitrate: "160k", JPEGQuality: 90},
	timeline.QualityLow:    {CRF: 28, Speed: "veryfast", VideoBitrate: "2500k", AudioBitrate: "128k", JPEGQuality: 80},
}

// PresetFor returns the preset of q; unknown tiers use medium.
func PresetFor(q timeline.Quality) Preset {
	if p, ok := presets[q]; ok {
		return p
	}
	return presets[timeline.QualityMedium]
}

// FrameTimestamp returns the presentation time of frame f in microseconds.
// Each timestamp is rounded independently so no error accumulates.
func FrameTimestamp(f int, fps float64) int64 {
	return int64(math.Round(float64(f) * 1_000_000 / fps))
}

// FrameDuration returns the nominal frame duration in microseconds.
func FrameDuration(fps float64) int64 {
	return int64(math.Round(1_000_000 / fps))
}

// KeyframeInterval returns the distance between sync frames: one per second.
func KeyframeInterval(fps float64) int {
	return max(1, int(math.Round(fps)))
}

// IsSyncFrame reports whether frame f must be a sync frame.
func IsSyncFrame(f int, fps float64) bool {
	return f%KeyframeInterval(fps) == 0
}

// ExecError is a failed encode pass, carrying the tail of ffmpeg's stderr.
type ExecError struct {
	Stage   string
	Err     error
	LogTail []string
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	if len(e.LogTail) > 0 {
		msg += ": " + e.LogTail[len(e.LogTail)-1]
	}
	return msg
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// AudioMuxError is a failed audio mux pass after the video encoded fine.
type AudioMuxError struct {
	Err     error
	LogTail []string
}

func (e *AudioMuxError) Error() string {
	msg := fmt.Sprintf("audio mux failed: %v", e.Err)
	if len(e.LogTail) > 0 {
		msg += ": " + e.LogTail[len(e.LogTail)-1]
	}
	return msg
}

func (e *AudioMuxError) Unwrap() error {
	return e.Err
}

// formatSeconds renders a duration for ffmpeg's -t.
func formatSeconds(v float64) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	return strings.TrimSuffix(strings.TrimRight(s, "0"), ".")
}

func checkSettings(s Settings) error {
	switch {
	case s.Width <= 0 || s.Height <= 0:
		return fmt.Errorf("invalid frame size %dx%d", s.Width, s.Height)
	case s.Width%2 != 0 || s.Height%2 != 0:
		return fmt.Errorf("frame size %dx%d must be even", s.Width, s.Height)
	case s.FPS <= 0:
		return fmt.Errorf("invalid frame rate %v", s.FPS)
	case s.FrameCount <= 0:
		return fmt.Errorf("invalid frame count %d", s.FrameCount)
	}
	return nil
}

func checkFrame(s Settings, frame *image.RGBA) error {
	if frame == nil {
		return fmt.Errorf("nil frame")
	}
	if b := frame.Bounds(); b.Dx() != s.Width || b.Dy() != s.Height {
		return fmt.Errorf("frame is %dx%d, want %dx%d", b.Dx(), b.Dy(), s.Width, s.Height)
	}
	return nil
}
