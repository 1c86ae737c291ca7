package encoder

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmylchreest/clipforge/internal/ffmpeg"
	"github.com/jmylchreest/clipforge/internal/raster"
	"github.com/jmylchreest/clipforge/internal/storage"
)

// Mode selects how a backend is chosen.
type Mode string

// Selection modes.
const (
	ModeAuto     Mode = "auto"
	ModeSoftware Mode = "software"
	ModeHardware Mode = "hardware"
)

// ParseMode parses a mode name; the empty string is auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeSoftware, ModeHardware:
		return m, nil
	default:
		return "", fmt.Errorf("unknown encoder backend %q (want auto, software or hardware)", s)
	}
}

// Selector creates backends for export jobs.
type Selector struct {
	FFmpegPath   string
	Staging      *storage.Sandbox
	FrameFormat  raster.ImageFormat
	HWAccels     []ffmpeg.HWAccelInfo
	Priority     []ffmpeg.HWAccelType
	LogTailLines int
	Logger       *slog.Logger
}

// Software returns a new software backend.
func (s *Selector) Software() Backend {
	return NewSoftware(SoftwareConfig{
		FFmpegPath:   s.FFmpegPath,
		Staging:      s.Staging,
		FrameFormat:  s.FrameFormat,
		LogTailLines: s.LogTailLines,
		Logger:       s.Logger,
	})
}

// Accel returns the hardware encoder that would be used, if any.
func (s *Selector) Accel() (ffmpeg.HWAccelInfo, bool) {
	accel, err := ffmpeg.PickHWAccel(s.HWAccels, s.Priority)
	return accel, err == nil
}

// Select returns a backend for mode. Auto prefers a usable hardware encoder
// in priority order and falls back to software; hardware fails when none is
// usable.
func (s *Selector) Select(mode Mode) (Backend, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch mode {
	case ModeSoftware:
		return s.Software(), nil
	case ModeHardware, ModeAuto, "":
	default:
		return nil, fmt.Errorf("unknown encoder backend %q", mode)
	}

	accel, err := ffmpeg.PickHWAccel(s.HWAccels, s.Priority)
	if err != nil {
		if mode == ModeHardware {
			return nil, err
		}
		logger.Debug("falling back to software encoder", slog.String("reason", err.Error()))
		return s.Software(), nil
	}

	logger.Debug("selected hardware encoder",
		slog.String("hwaccel", string(accel.Type)),
		slog.String("encoder", accel.Encoder),
		slog.String("device", accel.DeviceName),
	)
	return NewHardware(HardwareConfig{
		FFmpegPath:   s.FFmpegPath,
		Accel:        accel,
		Staging:      s.Staging,
		LogTailLines: s.LogTailLines,
		Logger:       s.Logger,
	}), nil
}
