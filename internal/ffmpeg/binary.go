// Package ffmpeg provides FFmpeg/FFprobe binary detection and process wrappers.
package ffmpeg

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/clipforge/internal/util"
)

// Environment variables that override binary lookup.
const (
	EnvFFmpegBinary  = "CLIPFORGE_FFMPEG_BINARY"
	EnvFFprobeBinary = "CLIPFORGE_FFPROBE_BINARY"
)

// BinaryInfo contains information about the FFmpeg/FFprobe installation.
type BinaryInfo struct {
	FFmpegPath    string        `json:"ffmpeg_path"`
	FFprobePath   string        `json:"ffprobe_path"`
	Version       string        `json:"version"`
	MajorVersion  int           `json:"major_version"`
	MinorVersion  int           `json:"minor_version"`
	Configuration string        `json:"configuration,omitempty"`
	Encoders      []string      `json:"encoders,omitempty"`
	Decoders      []string      `json:"decoders,omitempty"`
	Filters       []string      `json:"filters,omitempty"`
	HWAccels      []HWAccelInfo `json:"hw_accels,omitempty"`
}

// BinaryDetector handles detection and caching of FFmpeg binaries.
type BinaryDetector struct {
	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration
	skipHWAccel  bool
}

// NewBinaryDetector creates a new binary detector.
func NewBinaryDetector() *BinaryDetector {
	return &BinaryDetector{
		cacheTTL: 5 * time.Minute,
	}
}

// WithCacheTTL sets the cache TTL for binary detection.
func (d *BinaryDetector) WithCacheTTL(ttl time.Duration) *BinaryDetector {
	d.cacheTTL = ttl
	return d
}

// WithoutHWAccel disables hardware encoder test encodes.
func (d *BinaryDetector) WithoutHWAccel() *BinaryDetector {
	d.skipHWAccel = true
	return d
}

// Detect detects FFmpeg and FFprobe binaries and their capabilities.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		return d.info, nil
	}

	info, err := d.detect(ctx)
	if err != nil {
		return nil, err
	}

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// Clear clears the cached binary information.
func (d *BinaryDetector) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info = nil
}

func (d *BinaryDetector) detect(ctx context.Context) (*BinaryInfo, error) {
	info := &BinaryInfo{}

	ffmpegPath, err := util.FindBinary("ffmpeg", EnvFFmpegBinary)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	info.FFmpegPath = ffmpegPath

	// ffprobe is optional; audio probing soft-fails without it.
	if ffprobePath, err := util.FindBinary("ffprobe", EnvFFprobeBinary); err == nil {
		info.FFprobePath = ffprobePath
	}

	out, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("getting ffmpeg version: %w", err)
	}
	version, err := parseVersion(string(out))
	if err != nil {
		return nil, err
	}
	info.Version = version.Full
	info.MajorVersion = version.Major
	info.MinorVersion = version.Minor
	info.Configuration = version.Configuration

	if out, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders").Output(); err == nil {
		info.Encoders = parseCodecList(string(out))
	}
	if out, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-decoders").Output(); err == nil {
		info.Decoders = parseCodecList(string(out))
	}
	if out, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-filters").Output(); err == nil {
		info.Filters = parseFilterList(string(out))
	}

	if !d.skipHWAccel {
		info.HWAccels = NewHWAccelDetector(ffmpegPath).Detect(ctx, info.Encoders)
	}

	return info, nil
}

type versionInfo struct {
	Full          string
	Major         int
	Minor         int
	Configuration string
}

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

func parseVersion(output string) (*versionInfo, error) {
	info := &versionInfo{}
	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.HasPrefix(line, "ffmpeg version"):
			parts := strings.Fields(line)
			if len(parts) >= 3 {
				info.Full = parts[2]
				if m := versionRegex.FindStringSubmatch(parts[2]); len(m) >= 3 {
					info.Major, _ = strconv.Atoi(m[1])
					info.Minor, _ = strconv.Atoi(m[2])
				}
			}
		case strings.HasPrefix(line, "configuration:"):
			info.Configuration = strings.TrimSpace(strings.TrimPrefix(line, "configuration:"))
		}
	}
	if info.Full == "" {
		return nil, fmt.Errorf("failed to parse ffmpeg version")
	}
	return info, nil
}

// parseCodecList reads "-encoders"/"-decoders" output, e.g.
// " V....D libx264   libx264 H.264 / AVC".
func parseCodecList(output string) []string {
	var names []string
	inList := false
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := strings.TrimLeft(sc.Text(), " ")
		if strings.HasPrefix(line, "------") {
			inList = true
			continue
		}
		if !inList || len(line) < 8 {
			continue
		}
		if line[0] != 'V' && line[0] != 'A' && line[0] != 'S' {
			continue
		}
		if parts := strings.Fields(line[6:]); len(parts) > 0 {
			names = append(names, parts[0])
		}
	}
	return names
}

// parseFilterList reads "-filters" output, e.g.
// " ... atempo            A->A       Adjust audio tempo.".
func parseFilterList(output string) []string {
	var names []string
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		parts := strings.Fields(sc.Text())
		if len(parts) < 3 || !strings.Contains(parts[2], "->") {
			continue
		}
		names = append(names, parts[1])
	}
	return names
}

// HasEncoder returns true if the encoder is available.
func (info *BinaryInfo) HasEncoder(name string) bool {
	return slices.Contains(info.Encoders, name)
}

// HasDecoder returns true if the decoder is available.
func (info *BinaryInfo) HasDecoder(name string) bool {
	return slices.Contains(info.Decoders, name)
}

// HasFilter returns true if the filter is available.
func (info *BinaryInfo) HasFilter(name string) bool {
	return slices.Contains(info.Filters, name)
}

// HasAudioFilters reports whether every filter the audio graph uses exists.
func (info *BinaryInfo) HasAudioFilters() bool {
	for _, f := range []string{"atrim", "asetpts", "atempo", "volume", "adelay", "amix", "afade"} {
		if !info.HasFilter(f) {
			return false
		}
	}
	return true
}

// JSON returns the binary info as JSON string.
func (info *BinaryInfo) JSON() string {
	data, _ := json.MarshalIndent(info, "", "  ")
	return string(data)
}

// SupportsMinVersion returns true if FFmpeg version meets minimum requirement.
func (info *BinaryInfo) SupportsMinVersion(major, minor int) bool {
	if info.MajorVersion != major {
		return info.MajorVersion > major
	}
	return info.MinorVersion >= minor
}
