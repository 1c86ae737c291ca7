package service

import (
	"context"
	"fmt"

	"github.com/jmylchreest/clipforge/internal/encoder"
	"github.com/jmylchreest/clipforge/internal/ffmpeg"
	"github.com/jmylchreest/clipforge/internal/media"
)

// BinaryDetector finds the ffmpeg installation.
type BinaryDetector interface {
	Detect(ctx context.Context) (*ffmpeg.BinaryInfo, error)
}

// Capabilities summarises what this host can export with.
type Capabilities struct {
	FFmpegVersion string   `json:"ffmpeg_version"`
	FFmpegPath    string   `json:"ffmpeg_path"`
	FFprobePath   string   `json:"ffprobe_path,omitempty"`
	HWAccels      []string `json:"hw_accels"`
	// Backend is the backend an auto-mode export would use.
	Backend string `json:"backend"`
	// Encoder is the ffmpeg video encoder behind Backend.
	Encoder      string `json:"encoder"`
	FrameReady   string `json:"frame_ready"`
	AudioFilters bool   `json:"audio_filters"`
}

// CapabilitiesService reports the detected ffmpeg features and the backend
// choices they lead to.
type CapabilitiesService struct {
	detector   BinaryDetector
	mode       encoder.Mode
	priority   []ffmpeg.HWAccelType
	frameReady string
}

// NewCapabilitiesService creates a new CapabilitiesService.
func NewCapabilitiesService(detector BinaryDetector, mode encoder.Mode, priority []string, frameReady string) *CapabilitiesService {
	return &CapabilitiesService{
		detector:   detector,
		mode:       mode,
		priority:   ffmpeg.ParseHWAccelPriority(priority),
		frameReady: frameReady,
	}
}

// Get detects the installation and resolves the configured choices.
func (s *CapabilitiesService) Get(ctx context.Context) (*Capabilities, error) {
	info, err := s.detector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detecting ffmpeg: %w", err)
	}

	caps := &Capabilities{
		FFmpegVersion: info.Version,
		FFmpegPath:    info.FFmpegPath,
		FFprobePath:   info.FFprobePath,
		HWAccels:      []string{},
		Backend:       encoder.NameSoftware,
		Encoder:       "libx264",
		FrameReady:    string(media.SelectStrategy(s.frameReady, info)),
		AudioFilters:  info.HasAudioFilters(),
	}
	for _, a := range info.AvailableHWAccels() {
		caps.HWAccels = append(caps.HWAccels, string(a.Type))
	}

	if s.mode != encoder.ModeSoftware {
		if accel, err := ffmpeg.PickHWAccel(info.AvailableHWAccels(), s.priority); err == nil {
			caps.Backend = encoder.NameHardware
			caps.Encoder = accel.Encoder
		}
	}
	return caps, nil
}
