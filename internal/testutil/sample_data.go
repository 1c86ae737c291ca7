// Package testutil provides test utilities including sample data generation.
package testutil

import (
	"fmt"
	"math/rand"
	"slices"

	"github.com/jmylchreest/clipforge/internal/timeline"
)

// Sample asset references. They never resolve; tests that render must swap
// them for fixtures.
var (
	VideoSources = []string{
		"clips/intro.mp4",
		"clips/interview.mp4",
		"https://cdn.example.com/b-roll.mp4",
	}

	AudioSources = []string{
		"audio/theme.m4a",
		"https://cdn.example.com/voiceover.mp3",
	}

	StickerAssets = []string{
		"stickers/star.png",
		"stickers/confetti.gif",
		"stickers/wave.webp",
	}

	Captions = []string{
		"Hello world",
		"Chapter one",
		"Thanks for watching",
		"A much longer caption that should wrap across more than one line",
	}

	// easings excludes cubic-bezier so interpolated values never overshoot
	// their keyframes.
	easings = []timeline.EasingKind{
		timeline.EasingLinear,
		timeline.EasingEaseIn,
		timeline.EasingEaseOut,
		timeline.EasingEaseInOut,
	}
)

// SampleGenerator builds random but valid export requests. The same seed
// always yields the same requests.
type SampleGenerator struct {
	rng *rand.Rand
	seq int
}

// NewSampleGenerator creates a new sample generator with the given seed.
func NewSampleGenerator(seed int64) *SampleGenerator {
	return &SampleGenerator{rng: rand.New(rand.NewSource(seed))}
}

// Request returns a request with trackCount tracks and clipCount clips of
// mixed types. Every clip lies within the export duration.
func (g *SampleGenerator) Request(trackCount, clipCount int) *timeline.ExportRequest {
	req := &timeline.ExportRequest{
		Width:    pick(g.rng, []int{640, 1280, 1920}),
		Height:   pick(g.rng, []int{360, 720, 1080}),
		FPS:      pick(g.rng, []float64{24, 25, 30, 60}),
		Quality:  timeline.QualityMedium,
		Duration: float64(2 + g.rng.Intn(8)),
		Tracks:   make(map[string]timeline.Track, trackCount),
		Clips:    make(map[string]timeline.Clip, clipCount),
		Background: &timeline.Background{
			Kind: timeline.BackgroundColor,
			Hex:  g.Color(),
		},
	}

	trackIDs := make([]string, 0, trackCount)
	for i := range trackCount {
		id := fmt.Sprintf("track-%d", i+1)
		trackIDs = append(trackIDs, id)
		req.Tracks[id] = timeline.Track{ID: id, Order: i, Visible: true}
	}

	types := []timeline.ClipType{
		timeline.ClipTypeVideo,
		timeline.ClipTypeAudio,
		timeline.ClipTypeText,
		timeline.ClipTypeSticker,
	}
	for range clipCount {
		clip := g.Clip(types[g.rng.Intn(len(types))], req.Duration)
		clip.TrackID = trackIDs[g.rng.Intn(len(trackIDs))]
		req.Clips[clip.ID] = clip
	}
	return req
}

// Clip returns a clip of type typ placed within [0, total).
func (g *SampleGenerator) Clip(typ timeline.ClipType, total float64) timeline.Clip {
	g.seq++
	start := g.rng.Float64() * total / 2
	duration := 0.5 + g.rng.Float64()*(total-start-0.5)

	clip := timeline.Clip{
		ID:        fmt.Sprintf("clip-%d", g.seq),
		Type:      typ,
		StartTime: start,
		Duration:  duration,
		Position:  timeline.Point2D{X: g.rng.Float64(), Y: g.rng.Float64()},
		Scale:     0.5 + g.rng.Float64(),
		Rotation:  g.rng.Float64()*90 - 45,
		Opacity:   g.rng.Float64(),
	}

	switch typ {
	case timeline.ClipTypeVideo, timeline.ClipTypeAudio:
		sources := VideoSources
		if typ == timeline.ClipTypeAudio {
			sources = AudioSources
		}
		clip.Media = &timeline.MediaPayload{
			SourceURL:    pick(g.rng, sources),
			PlaybackRate: pick(g.rng, []float64{0.5, 1, 1, 1.5, 2}),
			Volume:       g.rng.Float64(),
		}
		clip.Keyframes = g.Keyframes(timeline.PropVolume, duration, 0, 1)
	case timeline.ClipTypeText:
		clip.Text = &timeline.TextPayload{
			Content:   pick(g.rng, Captions),
			FontSize:  float64(24 + g.rng.Intn(48)),
			Color:     g.Color(),
			TextAlign: pick(g.rng, []timeline.TextAlign{timeline.AlignLeft, timeline.AlignCenter, timeline.AlignRight}),
			MaxWidth:  0.8,
		}
		clip.Keyframes = g.Keyframes(timeline.PropFontSize, duration, 12, 96)
	case timeline.ClipTypeSticker:
		asset := pick(g.rng, StickerAssets)
		clip.Sticker = &timeline.StickerPayload{AssetURL: asset, IsAnimated: asset != StickerAssets[0]}
	}

	clip.Keyframes = append(clip.Keyframes, g.Keyframes(timeline.PropOpacity, duration, 0, 1)...)
	return clip
}

// Keyframes returns up to four number keyframes for prop at distinct times
// in [0, duration] with values in [lo, hi].
func (g *SampleGenerator) Keyframes(prop string, duration, lo, hi float64) []timeline.Keyframe {
	n := g.rng.Intn(5)
	times := make([]float64, 0, n)
	for len(times) < n {
		t := float64(g.rng.Intn(int(duration*10)+1)) / 10
		if !slices.Contains(times, t) {
			times = append(times, t)
		}
	}

	kfs := make([]timeline.Keyframe, 0, n)
	for i, t := range times {
		kfs = append(kfs, timeline.Keyframe{
			ID:       fmt.Sprintf("kf-%d-%s-%d", g.seq, prop, i),
			Property: prop,
			Time:     t,
			Value:    timeline.NumberValue(lo + g.rng.Float64()*(hi-lo)),
			Easing:   easings[g.rng.Intn(len(easings))],
		})
	}
	return kfs
}

// Color returns an opaque random color.
func (g *SampleGenerator) Color() timeline.Color {
	return timeline.Color{
		R: uint8(g.rng.Intn(256)),
		G: uint8(g.rng.Intn(256)),
		B: uint8(g.rng.Intn(256)),
		A: 255,
	}
}

func pick[T any](rng *rand.Rand, items []T) T {
	return items[rng.Intn(len(items))]
}
