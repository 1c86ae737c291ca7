package audiograph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/clipforge/internal/ffmpeg"
	"github.com/jmylchreest/clipforge/internal/timeline"
)

type probeResult struct {
	ok  bool
	err error
}

type fakeProber struct {
	results map[string]probeResult
	calls   []string
}

func (p *fakeProber) HasAudio(_ context.Context, url string) (bool, error) {
	p.calls = append(p.calls, url)
	r, ok := p.results[url]
	if !ok {
		return true, nil
	}
	return r.ok, r.err
}

type prefixResolver string

func (r prefixResolver) ResolvePath(ref string) string { return string(r) + ref }

func mediaClip(id, track string, typ timeline.ClipType, url string, start, dur, sourceStart, rate, volume float64) timeline.Clip {
	return timeline.Clip{
		ID:              id,
		TrackID:         track,
		Type:            typ,
		StartTime:       start,
		Duration:        dur,
		SourceStartTime: sourceStart,
		Media:           &timeline.MediaPayload{SourceURL: url, PlaybackRate: rate, Volume: volume},
	}
}

func request(tracks []timeline.Track, clips ...timeline.Clip) *timeline.ExportRequest {
	req := &timeline.ExportRequest{
		Width: 640, Height: 360, FPS: 30, Duration: 20,
		Tracks: map[string]timeline.Track{},
		Clips:  map[string]timeline.Clip{},
	}
	for _, t := range tracks {
		req.Tracks[t.ID] = t
	}
	for _, c := range clips {
		req.Clips[c.ID] = c
	}
	return req
}

func stageStrings(c Chain) []string {
	out := make([]string, len(c.Stages))
	for i, s := range c.Stages {
		out[i] = s.String()
	}
	return out
}

func TestClipChain_Scenario(t *testing.T) {
	clip := mediaClip("c1", "t", timeline.ClipTypeVideo, "a.mp4", 10, 4, 2, 1, 0.8)

	chain := ClipChain(&clip, "a.mp4")
	assert.Equal(t, []string{
		"atrim=start=2:end=6",
		"asetpts=PTS-STARTPTS",
		"volume=0.8",
		"adelay=10000:all=1",
	}, stageStrings(chain))

	_, hasTempo := chain.Stage("atempo")
	assert.False(t, hasTempo)
}

func TestClipChain(t *testing.T) {
	tests := []struct {
		name string
		clip func() timeline.Clip
		want []string
	}{
		{
			name: "double speed",
			clip: func() timeline.Clip {
				return mediaClip("c", "t", timeline.ClipTypeVideo, "v.mp4", 0, 3, 1, 2, 1)
			},
			want: []string{"atrim=start=1:end=7", "asetpts=PTS-STARTPTS", "atempo=2", "volume=1"},
		},
		{
			name: "rate within tolerance has no tempo stage",
			clip: func() timeline.Clip {
				return mediaClip("c", "t", timeline.ClipTypeVideo, "v.mp4", 0, 2, 0, 1.005, 1)
			},
			want: []string{"atrim=start=0:end=2.01", "asetpts=PTS-STARTPTS", "volume=1"},
		},
		{
			name: "quadruple speed is chained",
			clip: func() timeline.Clip {
				return mediaClip("c", "t", timeline.ClipTypeVideo, "v.mp4", 0.5, 1, 0, 4, 0.5)
			},
			want: []string{"atrim=start=0:end=4", "asetpts=PTS-STARTPTS", "atempo=2", "atempo=2", "volume=0.5", "adelay=500:all=1"},
		},
		{
			name: "audio clip fades",
			clip: func() timeline.Clip {
				c := mediaClip("c", "t", timeline.ClipTypeAudio, "music.mp3", 1.25, 10, 0, 1, 1)
				c.Media.FadeIn = 1.5
				c.Media.FadeOut = 2
				return c
			},
			want: []string{
				"atrim=start=0:end=10",
				"asetpts=PTS-STARTPTS",
				"volume=1",
				"afade=t=in:st=0:d=1.5",
				"afade=t=out:st=8:d=2",
				"adelay=1250:all=1",
			},
		},
		{
			name: "video clips ignore fades",
			clip: func() timeline.Clip {
				c := mediaClip("c", "t", timeline.ClipTypeVideo, "v.mp4", 0, 10, 0, 1, 1)
				c.Media.FadeIn = 1
				return c
			},
			want: []string{"atrim=start=0:end=10", "asetpts=PTS-STARTPTS", "volume=1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clip := tt.clip()
			assert.Equal(t, tt.want, stageStrings(ClipChain(&clip, "src")))
		})
	}
}

func TestTempoFactors(t *testing.T) {
	tests := []struct {
		rate float64
		want []float64
	}{
		{1, nil},
		{0.995, nil},
		{1.5, []float64{1.5}},
		{0.5, []float64{0.5}},
		{3, []float64{2, 1.5}},
		{8, []float64{2, 2, 2}},
		{0.25, []float64{0.5, 0.5}},
		{0.2, []float64{0.5, 0.5, 0.8}},
		{0, nil},
	}
	for _, tt := range tests {
		got := TempoFactors(tt.rate)
		require.Len(t, got, len(tt.want), "rate %v", tt.rate)
		product := 1.0
		for i := range got {
			assert.InDelta(t, tt.want[i], got[i], 1e-9, "rate %v", tt.rate)
			assert.True(t, got[i] >= minTempo && got[i] <= maxTempo)
			product *= got[i]
		}
		if len(got) > 0 {
			assert.InDelta(t, tt.rate, product, 1e-9)
		}
	}
}

func TestBuild_MixesTwoClips(t *testing.T) {
	req := request(
		[]timeline.Track{{ID: "t", Visible: true}},
		mediaClip("a", "t", timeline.ClipTypeVideo, "a.mp4", 10, 4, 2, 1, 0.8),
		mediaClip("b", "t", timeline.ClipTypeAudio, "b.mp3", 0, 4, 2, 1, 0.8),
	)
	prober := &fakeProber{}
	g, err := NewBuilder(prober, prefixResolver("/media/"), nil).Build(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, g.Chains, 2)
	assert.Equal(t, []string{"/media/b.mp3", "/media/a.mp4"}, g.Inputs(), "ordered by start time")
	assert.Equal(t, []string{"/media/b.mp3", "/media/a.mp4"}, prober.calls)
	assert.Equal(t, "amix=inputs=2:duration=longest:normalize=0", g.MixStage().String())
	assert.Equal(t,
		"[1:a]atrim=start=2:end=6,asetpts=PTS-STARTPTS,volume=0.8[a0];"+
			"[2:a]atrim=start=2:end=6,asetpts=PTS-STARTPTS,volume=0.8,adelay=10000:all=1[a1];"+
			"[a0][a1]amix=inputs=2:duration=longest:normalize=0[aout]",
		g.FilterComplex(1))
}

func TestBuild_Exclusions(t *testing.T) {
	muted := mediaClip("muted", "t", timeline.ClipTypeAudio, "m.mp3", 0, 1, 0, 1, 1)
	muted.Muted = true
	text := timeline.Clip{ID: "text", TrackID: "t", Type: timeline.ClipTypeText, Duration: 1, Text: &timeline.TextPayload{Content: "hi"}}

	req := request(
		[]timeline.Track{
			{ID: "t", Visible: true},
			{ID: "quiet", Visible: true, Muted: true},
			{ID: "hidden", Visible: false},
		},
		muted,
		text,
		mediaClip("on-muted-track", "quiet", timeline.ClipTypeAudio, "q.mp3", 0, 1, 0, 1, 1),
		mediaClip("on-hidden-track", "hidden", timeline.ClipTypeVideo, "h.mp4", 0, 1, 0, 1, 1),
		mediaClip("silent", "t", timeline.ClipTypeVideo, "silent.mp4", 1, 1, 0, 1, 1),
		mediaClip("broken", "t", timeline.ClipTypeVideo, "broken.mp4", 2, 1, 0, 1, 1),
		mediaClip("keep", "t", timeline.ClipTypeAudio, "keep.mp3", 3, 1, 0, 1, 1),
	)
	prober := &fakeProber{results: map[string]probeResult{
		"silent.mp4": {ok: false},
		"broken.mp4": {err: errors.New("moov atom not found")},
	}}

	g, err := NewBuilder(prober, nil, nil).Build(context.Background(), req)
	require.NoError(t, err, "probe failures are soft")

	require.Len(t, g.Chains, 1)
	assert.Equal(t, "keep", g.Chains[0].ClipID)
	assert.Equal(t, []string{"silent.mp4", "broken.mp4", "keep.mp3"}, prober.calls, "ineligible clips are never probed")

	require.Len(t, g.Skipped, 2)
	assert.Equal(t, "silent", g.Skipped[0].ClipID)
	assert.NoError(t, g.Skipped[0].Err)
	assert.Contains(t, g.Skipped[0].Error(), "no audio stream")
	assert.Equal(t, "broken", g.Skipped[1].ClipID)
	assert.ErrorContains(t, g.Skipped[1], "moov atom")
}

func TestBuild_EmptyGraph(t *testing.T) {
	req := request(
		[]timeline.Track{{ID: "t", Visible: true}},
		mediaClip("silent", "t", timeline.ClipTypeVideo, "silent.mp4", 0, 1, 0, 1, 1),
	)
	g, err := NewBuilder(&fakeProber{results: map[string]probeResult{"silent.mp4": {}}}, nil, nil).Build(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, g.Empty())
	assert.Empty(t, g.FilterComplex(1))

	var nilGraph *Graph
	assert.True(t, nilGraph.Empty())

	b := ffmpeg.NewCommandBuilder("ffmpeg").Input("video.mp4")
	cmd := g.Apply(b, 1).Output("out.mp4").Build()
	assert.NotContains(t, cmd.String(), "-filter_complex")
}

func TestBuild_Cancelled(t *testing.T) {
	req := request(
		[]timeline.Track{{ID: "t", Visible: true}},
		mediaClip("a", "t", timeline.ClipTypeAudio, "a.mp3", 0, 1, 0, 1, 1),
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBuilder(&fakeProber{}, nil, nil).Build(ctx, req)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGraph_Apply(t *testing.T) {
	req := request(
		[]timeline.Track{{ID: "t", Visible: true}},
		mediaClip("a", "t", timeline.ClipTypeAudio, "a.mp3", 0, 1, 0, 1, 1),
	)
	g, err := NewBuilder(&fakeProber{}, nil, nil).Build(context.Background(), req)
	require.NoError(t, err)

	cmd := g.Apply(ffmpeg.NewCommandBuilder("ffmpeg").Input("video.mp4"), 1).
		Map("0:v").
		Output("out.mp4").
		Build()
	s := cmd.String()
	assert.Contains(t, s, "-i video.mp4 -i a.mp3")
	assert.Contains(t, s, "-filter_complex [1:a]atrim=start=0:end=1,asetpts=PTS-STARTPTS,volume=1[a0];[a0]amix=inputs=1:duration=longest:normalize=0[aout]")
	assert.Contains(t, s, "-map [aout]")
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "2", formatSeconds(2))
	assert.Equal(t, "0.1", formatSeconds(0.1))
	assert.Equal(t, "0.3", formatSeconds(0.1+0.2))
	assert.Equal(t, "12.345679", formatSeconds(12.3456789))
	assert.Equal(t, "0", formatSeconds(0))
}
