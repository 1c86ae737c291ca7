package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not installed.
func skipIfNoFFmpeg(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	return path
}

// skipIfNoFFprobe skips the test if ffprobe is not installed.
func skipIfNoFFprobe(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffprobe")
	if err != nil {
		t.Skip("ffprobe not installed")
	}
	return path
}

func TestCommandBuilder_Build(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		HideBanner().
		Overwrite().
		InputArgs("-framerate", "30").
		Input("frames/frame_%06d.jpg").
		InputArgs("-ss", "1.5").
		Input("music.mp3").
		FilterComplex("[1:a]atrim=start=0:end=2[a0];[a0]amix=inputs=1:duration=longest:normalize=0[aout]").
		Map("0:v").
		Map("[aout]").
		VideoCodec("libx264").
		ConstantFrameRate(30).
		FastStart().
		Output("out.mp4").
		Build()

	want := []string{
		"-loglevel", "error",
		"-hide_banner",
		"-y",
		"-framerate", "30", "-i", "frames/frame_%06d.jpg",
		"-ss", "1.5", "-i", "music.mp3",
		"-filter_complex", "[1:a]atrim=start=0:end=2[a0];[a0]amix=inputs=1:duration=longest:normalize=0[aout]",
		"-map", "0:v",
		"-map", "[aout]",
		"-c:v", "libx264",
		"-r", "30", "-fps_mode", "cfr",
		"-movflags", "+faststart",
		"out.mp4",
	}
	assert.Equal(t, want, cmd.Args)
	assert.Equal(t, []string{"frames/frame_%06d.jpg", "music.mp3"}, cmd.Inputs)
	assert.Equal(t, "out.mp4", cmd.Output)
	assert.Equal(t, "error", cmd.LogLevel)
}

func TestCommandBuilder_VideoFiltersJoined(t *testing.T) {
	cmd := NewCommandBuilder("ffmpeg").
		LogLevel("warning").
		Input("in.mp4").
		VideoFilter("fps=30").
		VideoFilter("scale=640:-2").
		Output("-").
		Build()

	assert.Equal(t, []string{"-loglevel", "warning", "-i", "in.mp4", "-vf", "fps=30,scale=640:-2", "-"}, cmd.Args)
	assert.Equal(t, "ffmpeg -loglevel warning -i in.mp4 -vf fps=30,scale=640:-2 -", cmd.String())
}

func TestFormatRate(t *testing.T) {
	tests := map[float64]string{
		30:     "30",
		29.97:  "29.97",
		23.976: "23.976",
		60:     "60",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatRate(in))
	}
}

func TestParseProgress(t *testing.T) {
	tests := []struct {
		name string
		line string
		ok   bool
		want Progress
	}{
		{
			name: "full stats line",
			line: "frame=  120 fps= 59.8 q=23.0 size=     512kB time=00:00:04.00 bitrate=1048.6kbits/s speed=1.99x",
			ok:   true,
			want: Progress{Frame: 120, FPS: 59.8, TotalSize: 512, Time: 4 * time.Second, Bitrate: "1048.6kbits/s", Speed: 1.99},
		},
		{
			name: "partial line keeps earlier fields",
			line: "frame=  121 fps=60",
			ok:   true,
			want: Progress{Frame: 121, FPS: 60},
		},
		{
			name: "log line",
			line: "[libx264 @ 0x55] using cpu capabilities: MMX2 SSE2Fast",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseProgress(tt.line, Progress{})
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestScanLinesCR(t *testing.T) {
	sc := bufio.NewScanner(strings.NewReader("frame=1\rframe=2\rError opening output\nlast"))
	sc.Split(scanLinesCR)

	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	assert.Equal(t, []string{"frame=1", "frame=2", "Error opening output", "last"}, lines)
}

func TestCaptureStderr_RingBuffer(t *testing.T) {
	var b strings.Builder
	for i := range maxStderrLines + 20 {
		fmt.Fprintf(&b, "line %d\n", i)
		fmt.Fprintf(&b, "frame=%d fps=30\r", i)
	}

	cmd := NewCommandBuilder("ffmpeg").Output("-").Build()
	progressCh := make(chan Progress, 1)
	done := make(chan struct{})
	cmd.captureStderr(strings.NewReader(b.String()), progressCh, done)
	<-done

	lines := cmd.GetStderrLines()
	require.Len(t, lines, maxStderrLines)
	assert.Equal(t, "line 20", lines[0], "oldest lines are evicted")
	assert.Equal(t, fmt.Sprintf("line %d", maxStderrLines+19), lines[len(lines)-1])
	for _, l := range lines {
		assert.NotContains(t, l, "frame=", "progress lines are not kept")
	}

	assert.Equal(t, []string{"line 118", "line 119"}, cmd.StderrTail(2))

	select {
	case p := <-progressCh:
		assert.Equal(t, int64(0), p.Frame, "first progress update is delivered, later ones dropped while full")
	default:
		t.Fatal("expected a progress update")
	}
}

func TestCountingWrappers(t *testing.T) {
	mon := NewProcessMonitor(0)

	var sink strings.Builder
	w := NewCountingWriter(&sink, mon)
	_, err := w.Write([]byte("hello"))
	require.NoError(t, err)

	r := NewCountingReader(strings.NewReader("abc"), mon)
	buf := make([]byte, 8)
	n, _ := r.Read(buf)
	assert.Equal(t, 3, n)

	stats := mon.Stats()
	assert.Equal(t, uint64(5), stats.BytesWritten)
	assert.Equal(t, uint64(3), stats.BytesRead)

	// A nil monitor only forwards.
	_, err = NewCountingWriter(&sink, nil).Write([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "hellox", sink.String())
}

func TestParseFramerate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 29.97002997002997},
		{"25", 25},
		{"0/0", 0},
		{"", 0},
		{"bogus", 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, parseFramerate(tt.in), 1e-9, tt.in)
	}
}

func TestParseProbeOutput(t *testing.T) {
	raw := []byte(`{
		"format": {"filename": "clip.mp4", "nb_streams": 3, "duration": "12.500000"},
		"streams": [
			{"index": 0, "codec_type": "video", "codec_name": "mjpeg", "width": 300, "height": 300, "disposition": {"attached_pic": 1}},
			{"index": 1, "codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "avg_frame_rate": "30000/1001"},
			{"index": 2, "codec_type": "audio", "codec_name": "aac", "channels": 2, "sample_rate": "48000"}
		]
	}`)

	result, err := ParseProbeOutput(raw)
	require.NoError(t, err)

	vs := result.VideoStream()
	require.NotNil(t, vs)
	assert.Equal(t, 1, vs.Index, "cover art is skipped")
	assert.Equal(t, 1920, vs.Width)
	assert.InDelta(t, 29.97, vs.Framerate(), 0.01)

	as := result.AudioStream()
	require.NotNil(t, as)
	assert.Equal(t, "aac", as.CodecName)
	assert.Equal(t, 12500*time.Millisecond, result.Duration())

	silent, err := ParseProbeOutput([]byte(`{"format": {}, "streams": [{"codec_type": "video"}]}`))
	require.NoError(t, err)
	assert.Nil(t, silent.AudioStream())
	assert.Zero(t, silent.Duration())

	_, err = ParseProbeOutput([]byte("not json"))
	assert.Error(t, err)
}

func TestParseVersion(t *testing.T) {
	out := "ffmpeg version n7.1-3-gabc Copyright (c) 2000-2024\nbuilt with gcc 14\nconfiguration: --enable-gpl --enable-libx264\n"
	v, err := parseVersion(out)
	require.NoError(t, err)
	assert.Equal(t, "n7.1-3-gabc", v.Full)
	assert.Equal(t, 7, v.Major)
	assert.Equal(t, 1, v.Minor)
	assert.Equal(t, "--enable-gpl --enable-libx264", v.Configuration)

	_, err = parseVersion("garbage")
	assert.Error(t, err)
}

func TestParseCodecAndFilterLists(t *testing.T) {
	encoders := `Encoders:
 V..... = Video
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder
 A....D aac                  AAC (Advanced Audio Coding)
`
	assert.Equal(t, []string{"libx264", "h264_nvenc", "aac"}, parseCodecList(encoders))

	filters := `Filters:
  T.. = Timeline support
 ... abuffer           |->A       Buffer audio frames.
 TSC adelay            A->A       Delay one or more audio channels.
 ... amix              N->A       Audio mixing.
 ... atempo            A->A       Adjust audio tempo.
`
	assert.Equal(t, []string{"abuffer", "adelay", "amix", "atempo"}, parseFilterList(filters))
}

func TestBinaryInfo(t *testing.T) {
	info := &BinaryInfo{
		MajorVersion: 6,
		MinorVersion: 1,
		Encoders:     []string{"libx264", "aac"},
		Decoders:     []string{"h264"},
		Filters:      []string{"atrim", "asetpts", "atempo", "volume", "adelay", "amix", "afade"},
		HWAccels: []HWAccelInfo{
			{Type: HWAccelVAAPI, Encoder: "h264_vaapi", Available: true, DeviceName: "/dev/dri/renderD128"},
			{Type: HWAccelNVENC, Encoder: "h264_nvenc", Available: false},
		},
	}

	assert.True(t, info.HasEncoder("libx264"))
	assert.False(t, info.HasEncoder("libx265"))
	assert.True(t, info.HasDecoder("h264"))
	assert.True(t, info.HasAudioFilters())
	assert.True(t, info.SupportsMinVersion(6, 0))
	assert.True(t, info.SupportsMinVersion(5, 9))
	assert.False(t, info.SupportsMinVersion(6, 2))
	assert.False(t, info.SupportsMinVersion(7, 0))
	assert.Len(t, info.AvailableHWAccels(), 1)
	assert.Contains(t, info.JSON(), `"h264_vaapi"`)

	info.Filters = info.Filters[:3]
	assert.False(t, info.HasAudioFilters())
}

func TestPickHWAccel(t *testing.T) {
	accels := []HWAccelInfo{
		{Type: HWAccelVAAPI, Available: true},
		{Type: HWAccelQSV, Available: true},
		{Type: HWAccelNVENC, Available: false},
	}

	got, err := PickHWAccel(accels, nil)
	require.NoError(t, err)
	assert.Equal(t, HWAccelQSV, got.Type, "default priority prefers qsv over vaapi")

	got, err = PickHWAccel(accels, ParseHWAccelPriority([]string{"nvenc", "VAAPI", "bogus"}))
	require.NoError(t, err)
	assert.Equal(t, HWAccelVAAPI, got.Type, "unavailable nvenc is skipped")

	_, err = PickHWAccel(nil, nil)
	assert.Error(t, err)
}

func TestHWAccelInfo_EncoderArgs(t *testing.T) {
	in, vf := HWAccelInfo{Type: HWAccelVAAPI, DeviceName: "/dev/dri/renderD128"}.EncoderArgs()
	assert.Equal(t, []string{"-vaapi_device", "/dev/dri/renderD128"}, in)
	assert.Equal(t, "format=nv12,hwupload", vf)

	in, vf = HWAccelInfo{Type: HWAccelNVENC}.EncoderArgs()
	assert.Nil(t, in)
	assert.Equal(t, "format=yuv420p", vf)
}

func TestIntegration_BinaryDetector_Detect(t *testing.T) {
	skipIfNoFFmpeg(t)

	detector := NewBinaryDetector().WithoutHWAccel()
	info, err := detector.Detect(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, info.FFmpegPath)
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.Encoders)
	assert.True(t, info.HasFilter("amix"))

	again, err := detector.Detect(context.Background())
	require.NoError(t, err)
	assert.Same(t, info, again, "results are cached")

	detector.Clear()
	fresh, err := detector.Detect(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, info, fresh)
}

func TestIntegration_RunAndProbe(t *testing.T) {
	ffmpegPath := skipIfNoFFmpeg(t)
	ffprobePath := skipIfNoFFprobe(t)

	out := filepath.Join(t.TempDir(), "tone.mp4")
	cmd := NewCommandBuilder(ffmpegPath).
		HideBanner().
		Overwrite().
		InputArgs("-f", "lavfi").
		Input("color=c=blue:s=64x48:d=1").
		InputArgs("-f", "lavfi").
		Input("sine=frequency=440:duration=1").
		VideoCodec("mpeg4").
		ConstantFrameRate(10).
		Output(out).
		Build()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, cmd.Run(ctx))
	assert.Greater(t, cmd.Duration(), time.Duration(0))

	prober := NewProber(ffprobePath)
	hasAudio, err := prober.HasAudio(ctx, out)
	require.NoError(t, err)
	assert.True(t, hasAudio)

	w, h, err := prober.VideoSize(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, 64, w)
	assert.Equal(t, 48, h)
}

func TestIntegration_RunFailureKeepsStderr(t *testing.T) {
	ffmpegPath := skipIfNoFFmpeg(t)

	cmd := NewCommandBuilder(ffmpegPath).
		HideBanner().
		Input("/nonexistent/input.mp4").
		Output(filepath.Join(t.TempDir(), "out.mp4")).
		Build()

	err := cmd.Run(context.Background())
	require.Error(t, err)
	assert.NotEmpty(t, cmd.StderrTail(5))
}
