package timeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "width": 1281,
  "height": 720,
  "fps": 30,
  "quality": "high",
  "duration": 3,
  "tracks": {
    "t0": {"order": 0},
    "t1": {"order": 1, "visible": false, "muted": true}
  },
  "clips": {
    "v1": {"type": "video", "trackId": "t0", "startTime": 0, "duration": 3, "sourceUrl": "file:///a.mp4"},
    "txt": {"type": "text", "trackId": "t1", "startTime": 1, "duration": 1, "content": "hi",
            "keyframes": [{"property": "opacity", "time": 0, "value": 0}, {"property": "color", "time": 1, "value": "#ff0000"}]},
    "st": {"type": "sticker", "trackId": "t0", "startTime": 0, "duration": 1, "assetUrl": "file:///s.gif", "isAnimated": true,
           "keyframes": [{"property": "position", "time": 0.5, "value": {"x": 10, "y": 20}, "easing": "ease-in"}]}
  },
  "background": {"type": "color", "hex": "#112233"}
}`

func TestDecode_JSON(t *testing.T) {
	req, err := Decode(strings.NewReader(sampleJSON), FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, 1280, req.Width, "odd width rounds down")
	assert.Equal(t, 720, req.Height)
	assert.Equal(t, QualityHigh, req.Quality)
	assert.Equal(t, 90, req.FrameCount())

	assert.True(t, req.Tracks["t0"].Visible, "visible defaults to true")
	assert.False(t, req.Tracks["t1"].Visible)
	assert.Equal(t, "t1", req.Tracks["t1"].ID)

	video := req.Clips["v1"]
	assert.Equal(t, "v1", video.ID)
	require.NotNil(t, video.Media)
	assert.Equal(t, 1.0, video.Media.PlaybackRate)
	assert.Equal(t, 1.0, video.Media.Volume)
	assert.Equal(t, 1.0, video.Opacity)
	assert.Equal(t, Point2D{X: 50, Y: 50}, video.Position)

	text := req.Clips["txt"]
	require.NotNil(t, text.Text)
	assert.Equal(t, DefaultFontSize, text.Text.FontSize)
	assert.Equal(t, White, text.Text.Color)
	assert.Equal(t, AlignCenter, text.Text.TextAlign)
	require.Len(t, text.Keyframes, 2)
	assert.Equal(t, KindNumber, text.Keyframes[0].Value.Kind)
	assert.Equal(t, KindColor, text.Keyframes[1].Value.Kind)
	assert.Equal(t, Color{255, 0, 0, 255}, text.Keyframes[1].Value.Color)
	assert.NotEmpty(t, text.Keyframes[0].ID, "missing keyframe ids are generated")
	assert.Equal(t, EasingLinear, text.Keyframes[0].Easing)

	sticker := req.Clips["st"]
	require.NotNil(t, sticker.Sticker)
	assert.True(t, sticker.Sticker.IsAnimated)
	assert.Equal(t, KindPoint, sticker.Keyframes[0].Value.Kind)
	assert.Equal(t, Point2D{X: 10, Y: 20}, sticker.Keyframes[0].Value.Point)

	require.NotNil(t, req.Background)
	assert.Equal(t, Color{0x11, 0x22, 0x33, 255}, req.Background.Hex)
}

func TestDecode_YAML(t *testing.T) {
	doc := `
width: 640
height: 360
fps: 25
duration: 2
tracks:
  main: {order: 0}
clips:
  a:
    type: audio
    trackId: main
    startTime: 0
    duration: 2
    sourceUrl: file:///music.mp3
    volume: 0.5
    fadeIn: 0.25
`
	req, err := Decode(strings.NewReader(doc), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, QualityMedium, req.Quality)
	assert.Equal(t, 50, req.FrameCount())
	assert.Equal(t, 0.5, req.Clips["a"].Media.Volume)
	assert.Equal(t, 0.25, req.Clips["a"].Media.FadeIn)
	assert.True(t, req.HasAudioClips())
}

func TestDecodeWithOptions_DefaultQuality(t *testing.T) {
	doc := `{"width": 64, "height": 48, "fps": 10, "duration": 1, "tracks": {}, "clips": {}}`

	req, err := DecodeWithOptions(strings.NewReader(doc), FormatJSON, DecodeOptions{DefaultQuality: QualityLow})
	require.NoError(t, err)
	assert.Equal(t, QualityLow, req.Quality)

	// An explicit tier wins over the default.
	req, err = DecodeWithOptions(strings.NewReader(sampleJSON), FormatJSON, DecodeOptions{DefaultQuality: QualityLow})
	require.NoError(t, err)
	assert.Equal(t, QualityHigh, req.Quality)
}

func TestDecodeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request.yml")
	require.NoError(t, os.WriteFile(path, []byte("width: 64\nheight: 48\nfps: 10\nduration: 1\n"), 0o600))

	req, err := DecodeFile(path, DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 64, req.Width)
	assert.Equal(t, 10, req.FrameCount())

	_, err = DecodeFile(filepath.Join(t.TempDir(), "missing.json"), DecodeOptions{})
	assert.Error(t, err)
}

func TestClip_RoundTripKeepsFlatFields(t *testing.T) {
	req, err := Decode(strings.NewReader(sampleJSON), FormatJSON)
	require.NoError(t, err)

	c := req.Clips["st"]
	data, err := c.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"assetUrl":"file:///s.gif"`)
	assert.Contains(t, string(data), `"type":"sticker"`)
	assert.NotContains(t, string(data), `"sticker":`)
}

func TestValidate(t *testing.T) {
	base := func() *ExportRequest {
		return &ExportRequest{
			Width: 640, Height: 360, FPS: 30, Duration: 1, Quality: QualityLow,
			Tracks: map[string]Track{"t": {ID: "t", Visible: true}},
			Clips:  map[string]Clip{},
		}
	}

	tests := []struct {
		name    string
		mutate  func(r *ExportRequest)
		wantErr string
	}{
		{name: "valid", mutate: func(*ExportRequest) {}},
		{name: "odd width", mutate: func(r *ExportRequest) { r.Width = 641 }, wantErr: "even"},
		{name: "zero fps", mutate: func(r *ExportRequest) { r.FPS = 0 }, wantErr: "fps"},
		{name: "bad quality", mutate: func(r *ExportRequest) { r.Quality = "ultra" }, wantErr: "quality"},
		{name: "unknown track", mutate: func(r *ExportRequest) {
			r.Clips["c"] = Clip{ID: "c", TrackID: "nope", Type: ClipTypeText, Duration: 1, Text: &TextPayload{FontSize: 10}}
		}, wantErr: "unknown track"},
		{name: "duplicate keyframe time", mutate: func(r *ExportRequest) {
			r.Clips["c"] = Clip{ID: "c", TrackID: "t", Type: ClipTypeText, Duration: 1, Text: &TextPayload{FontSize: 10},
				Keyframes: []Keyframe{
					{ID: "a", Property: PropOpacity, Time: 0.5, Value: NumberValue(0)},
					{ID: "b", Property: PropOpacity, Time: 0.5, Value: NumberValue(1)},
				}}
		}, wantErr: "duplicate keyframe time"},
		{name: "bezier without points", mutate: func(r *ExportRequest) {
			r.Clips["c"] = Clip{ID: "c", TrackID: "t", Type: ClipTypeText, Duration: 1, Text: &TextPayload{FontSize: 10},
				Keyframes: []Keyframe{{ID: "a", Property: PropScale, Time: 0, Easing: EasingCubicBezier}}}
		}, wantErr: "cubic-bezier"},
		{name: "video without source", mutate: func(r *ExportRequest) {
			r.Clips["c"] = Clip{ID: "c", TrackID: "t", Type: ClipTypeVideo, Duration: 1, Media: &MediaPayload{}}
		}, wantErr: "sourceUrl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base()
			tt.mutate(r)
			err := r.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in   string
		want Color
	}{
		{"#fff", White},
		{"#000000", Black},
		{"#11223380", Color{0x11, 0x22, 0x33, 0x80}},
		{"rgb(10, 20, 30)", Color{10, 20, 30, 255}},
		{"rgba(10,20,30,0.5)", Color{10, 20, 30, 128}},
		{"Transparent", Transparent},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseColor(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseColor("#12345")
	assert.Error(t, err)
	_, err = ParseColor("hsl(0,0,0)")
	assert.Error(t, err)
}

func TestClip_FirstFrameSourceTime(t *testing.T) {
	tests := []struct {
		name            string
		start, srcStart float64
		rate, fps, want float64
	}{
		{"on the grid", 0.5, 2, 1, 30, 2},
		{"between frames", 0.51, 2, 1, 30, 2 + 16.0/30 - 0.51},
		{"between frames at double rate", 0.51, 2, 2, 30, 2 + (16.0/30-0.51)*2},
		{"at zero", 0, 1.25, 1, 24, 1.25},
		{"no fps", 0.51, 2, 1, 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Clip{StartTime: tt.start, SourceStartTime: tt.srcStart, Media: &MediaPayload{PlaybackRate: tt.rate}}
			assert.InDelta(t, tt.want, c.FirstFrameSourceTime(tt.fps), 1e-9)
		})
	}
}

func TestFrameCount(t *testing.T) {
	tests := []struct {
		duration, fps float64
		want          int
	}{
		{3.0, 30, 90},
		{0.1, 30, 3},
		{1.01, 30, 31},
		{2.5, 24, 60},
		{1, 29.97, 30},
	}
	for _, tt := range tests {
		r := ExportRequest{Duration: tt.duration, FPS: tt.fps}
		assert.Equal(t, tt.want, r.FrameCount(), "duration=%g fps=%g", tt.duration, tt.fps)
	}
}

func TestSortedClipsIsDeterministic(t *testing.T) {
	r := ExportRequest{Clips: map[string]Clip{
		"b": {ID: "b", StartTime: 1, Type: ClipTypeText},
		"a": {ID: "a", StartTime: 1, Type: ClipTypeText},
		"c": {ID: "c", StartTime: 0, Type: ClipTypeSticker},
	}}
	ids := func(cs []*Clip) []string {
		out := make([]string, len(cs))
		for i, c := range cs {
			out[i] = c.ID
		}
		return out
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids(r.SortedClips()))
	assert.Equal(t, []string{"a", "b"}, ids(r.SortedClips(ClipTypeText)))
}
