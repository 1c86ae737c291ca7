package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"slices"
	"strings"
)

// HWAccelType represents a hardware acceleration type.
type HWAccelType string

const (
	HWAccelNone         HWAccelType = "none"
	HWAccelNVENC        HWAccelType = "cuda"         // NVIDIA NVENC
	HWAccelQSV          HWAccelType = "qsv"          // Intel Quick Sync
	HWAccelVAAPI        HWAccelType = "vaapi"        // VA-API (Linux)
	HWAccelVideoToolbox HWAccelType = "videotoolbox" // macOS
	HWAccelAMF          HWAccelType = "amf"          // AMD (Windows)
)

// DefaultHWAccelPriority is the order in which hardware H.264 encoders are tried.
var DefaultHWAccelPriority = []HWAccelType{
	HWAccelNVENC,
	HWAccelQSV,
	HWAccelVideoToolbox,
	HWAccelVAAPI,
	HWAccelAMF,
}

// HWAccelInfo describes a hardware H.264 encoder that passed a test encode.
type HWAccelInfo struct {
	Type       HWAccelType `json:"type"`
	Encoder    string      `json:"encoder"`
	Available  bool        `json:"available"`
	DeviceName string      `json:"device_name,omitempty"`
}

// EncoderArgs returns the input and output arguments needed to feed raw
// frames into this encoder.
func (h HWAccelInfo) EncoderArgs() (inputArgs []string, videoFilter string) {
	switch h.Type {
	case HWAccelVAAPI:
		return []string{"-vaapi_device", h.DeviceName}, "format=nv12,hwupload"
	case HWAccelQSV:
		return []string{"-init_hw_device", "qsv=hw", "-filter_hw_device", "hw"}, "format=nv12,hwupload=extra_hw_frames=64,format=qsv"
	default:
		return nil, "format=yuv420p"
	}
}

var hwEncoders = map[HWAccelType]string{
	HWAccelNVENC:        "h264_nvenc",
	HWAccelQSV:          "h264_qsv",
	HWAccelVAAPI:        "h264_vaapi",
	HWAccelVideoToolbox: "h264_videotoolbox",
	HWAccelAMF:          "h264_amf",
}

// HWAccelDetector probes which hardware H.264 encoders actually work.
type HWAccelDetector struct {
	ffmpegPath string
}

// NewHWAccelDetector creates a new hardware acceleration detector.
func NewHWAccelDetector(ffmpegPath string) *HWAccelDetector {
	return &HWAccelDetector{ffmpegPath: ffmpegPath}
}

// Detect test-encodes a tiny clip with every hardware H.264 encoder the
// binary was built with.
func (d *HWAccelDetector) Detect(ctx context.Context, encoders []string) []HWAccelInfo {
	var results []HWAccelInfo
	for _, accel := range DefaultHWAccelPriority {
		name := hwEncoders[accel]
		if !slices.Contains(encoders, name) {
			continue
		}
		info := HWAccelInfo{Type: accel, Encoder: name}
		info.Available, info.DeviceName = d.testAccel(ctx, accel)
		results = append(results, info)
	}
	return results
}

func (d *HWAccelDetector) testAccel(ctx context.Context, accel HWAccelType) (bool, string) {
	switch accel {
	case HWAccelVAAPI:
		if runtime.GOOS != "linux" {
			return false, ""
		}
		for _, device := range []string{"/dev/dri/renderD128", "/dev/dri/renderD129"} {
			info := HWAccelInfo{Type: accel, Encoder: hwEncoders[accel], DeviceName: device}
			if d.testEncode(ctx, info) {
				return true, device
			}
		}
		return false, ""
	case HWAccelVideoToolbox:
		if runtime.GOOS != "darwin" {
			return false, ""
		}
		return d.testEncode(ctx, HWAccelInfo{Type: accel, Encoder: hwEncoders[accel]}), "Apple VideoToolbox"
	case HWAccelAMF:
		if runtime.GOOS != "windows" {
			return false, ""
		}
		return d.testEncode(ctx, HWAccelInfo{Type: accel, Encoder: hwEncoders[accel]}), "AMD AMF"
	case HWAccelNVENC:
		out, err := exec.CommandContext(ctx, "nvidia-smi", "--query-gpu=name", "--format=csv,noheader").Output()
		if err != nil {
			return false, ""
		}
		device := strings.TrimSpace(strings.Split(string(out), "\n")[0])
		if device == "" {
			return false, ""
		}
		return d.testEncode(ctx, HWAccelInfo{Type: accel, Encoder: hwEncoders[accel]}), device
	default:
		return d.testEncode(ctx, HWAccelInfo{Type: accel, Encoder: hwEncoders[accel]}), string(accel)
	}
}

func (d *HWAccelDetector) testEncode(ctx context.Context, info HWAccelInfo) bool {
	inputArgs, vf := info.EncoderArgs()
	args := append([]string{"-hide_banner", "-loglevel", "error"}, inputArgs...)
	args = append(args,
		"-f", "lavfi", "-i", "color=c=black:s=320x240:d=0.1",
		"-vf", vf,
		"-c:v", info.Encoder,
		"-frames:v", "2",
		"-f", "null", "-")
	return exec.CommandContext(ctx, d.ffmpegPath, args...).Run() == nil
}

// PickHWAccel returns the first available encoder following priority. An
// empty priority uses DefaultHWAccelPriority.
func PickHWAccel(accels []HWAccelInfo, priority []HWAccelType) (HWAccelInfo, error) {
	if len(priority) == 0 {
		priority = DefaultHWAccelPriority
	}
	for _, prio := range priority {
		for _, a := range accels {
			if a.Type == prio && a.Available {
				return a, nil
			}
		}
	}
	return HWAccelInfo{}, fmt.Errorf("no usable hardware h264 encoder")
}

// ParseHWAccelPriority converts configured names into accelerator types,
// ignoring unknown entries.
func ParseHWAccelPriority(names []string) []HWAccelType {
	var out []HWAccelType
	for _, n := range names {
		t := HWAccelType(strings.ToLower(strings.TrimSpace(n)))
		if t == "nvenc" || t == "nvidia" {
			t = HWAccelNVENC
		}
		if _, ok := hwEncoders[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// AvailableHWAccels returns the accelerators that passed detection.
func (info *BinaryInfo) AvailableHWAccels() []HWAccelInfo {
	var available []HWAccelInfo
	for _, accel := range info.HWAccels {
		if accel.Available {
			available = append(available, accel)
		}
	}
	return available
}
