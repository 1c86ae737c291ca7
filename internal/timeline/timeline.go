// Package timeline defines the immutable export snapshot of an editor
// timeline: tracks, clips, keyframes and the canvas background.
package timeline

import (
	"cmp"
	"math"
	"slices"
)

// ClipType discriminates the clip union.
type ClipType string

// Clip types.
const (
	ClipTypeVideo   ClipType = "video"
	ClipTypeAudio   ClipType = "audio"
	ClipTypeText    ClipType = "text"
	ClipTypeSticker ClipType = "sticker"
)

// Animatable property names as they appear in keyframes.
const (
	PropOpacity  = "opacity"
	PropScale    = "scale"
	PropRotation = "rotation"
	PropPosition = "position"
	PropVolume   = "volume"
	PropPan      = "pan"
	PropFontSize = "fontSize"
	PropColor    = "color"
)

// EasingKind selects the progress reparameterization between two keyframes.
type EasingKind string

// Easing kinds.
const (
	EasingLinear      EasingKind = "linear"
	EasingEaseIn      EasingKind = "ease-in"
	EasingEaseOut     EasingKind = "ease-out"
	EasingEaseInOut   EasingKind = "ease-in-out"
	EasingCubicBezier EasingKind = "cubic-bezier"
)

// Bezier holds the two control points of a CSS-style cubic-bezier easing.
type Bezier struct {
	X1 float64 `json:"x1" yaml:"x1"`
	Y1 float64 `json:"y1" yaml:"y1"`
	X2 float64 `json:"x2" yaml:"x2"`
	Y2 float64 `json:"y2" yaml:"y2"`
}

// Keyframe records a property value at a clip-relative time.
type Keyframe struct {
	ID       string     `json:"id"`
	Property string     `json:"property"`
	Time     float64    `json:"time"`
	Value    Value      `json:"value"`
	Easing   EasingKind `json:"easing,omitempty"`
	Bezier   *Bezier    `json:"bezier,omitempty"`
}

// Transition is an optional in/out effect on a clip.
type Transition struct {
	Kind     string  `json:"type"`
	Duration float64 `json:"duration"`
}

// MediaPayload carries the video/audio specific fields of a clip.
type MediaPayload struct {
	SourceURL    string  `json:"sourceUrl"`
	PlaybackRate float64 `json:"playbackRate"`
	Volume       float64 `json:"volume"`
	Pan          float64 `json:"pan"`
	FadeIn       float64 `json:"fadeIn"`
	FadeOut      float64 `json:"fadeOut"`
}

// TextAlign is the horizontal alignment of wrapped text lines.
type TextAlign string

// Text alignments.
const (
	AlignLeft   TextAlign = "left"
	AlignCenter TextAlign = "center"
	AlignRight  TextAlign = "right"
)

// TextPayload carries the text specific fields of a clip.
type TextPayload struct {
	Content         string    `json:"content"`
	FontFamily      string    `json:"fontFamily"`
	FontSize        float64   `json:"fontSize"`
	FontWeight      string    `json:"fontWeight"`
	Color           Color     `json:"color"`
	TextAlign       TextAlign `json:"textAlign"`
	MaxWidth        float64   `json:"maxWidth"`
	BackgroundColor *Color    `json:"backgroundColor,omitempty"`
}

// Bold reports whether the text uses a bold weight.
func (t *TextPayload) Bold() bool {
	switch t.FontWeight {
	case "bold", "bolder", "600", "700", "800", "900":
		return true
	}
	return false
}

// StickerPayload carries the sticker specific fields of a clip.
type StickerPayload struct {
	AssetURL   string `json:"assetUrl"`
	IsAnimated bool   `json:"isAnimated"`
}

// Clip is a tagged union over video, audio, text and sticker clips. Exactly
// one of Media, Text and Sticker is set, according to Type. On the wire the
// payload fields sit flat beside the common ones (see clipWire).
type Clip struct {
	ID              string      `json:"id"`
	TrackID         string      `json:"trackId"`
	Type            ClipType    `json:"type"`
	StartTime       float64     `json:"startTime"`
	Duration        float64     `json:"duration"`
	SourceStartTime float64     `json:"sourceStartTime"`
	Muted           bool        `json:"muted"`
	TransitionIn    *Transition `json:"transitionIn,omitempty"`
	TransitionOut   *Transition `json:"transitionOut,omitempty"`
	Keyframes       []Keyframe  `json:"keyframes,omitempty"`

	Position Point2D `json:"position"`
	Scale    float64 `json:"scale"`
	Rotation float64 `json:"rotation"`
	Opacity  float64 `json:"opacity"`

	Media   *MediaPayload   `json:"-"`
	Text    *TextPayload    `json:"-"`
	Sticker *StickerPayload `json:"-"`
}

// EndTime returns the exclusive end of the clip on the master timeline.
func (c *Clip) EndTime() float64 {
	return c.StartTime + c.Duration
}

// ActiveAt reports whether t lies in [StartTime, StartTime+Duration).
func (c *Clip) ActiveAt(t float64) bool {
	return t >= c.StartTime && t < c.EndTime()
}

// PlaybackRate returns the effective playback rate, 1 for non-media clips.
func (c *Clip) PlaybackRate() float64 {
	if c.Media == nil || c.Media.PlaybackRate <= 0 {
		return 1
	}
	return c.Media.PlaybackRate
}

// SourceTime maps a master timeline time to the media source time.
func (c *Clip) SourceTime(t float64) float64 {
	return c.SourceStartTime + (t-c.StartTime)*c.PlaybackRate()
}

// FirstFrameSourceTime returns the source time shown by the first export
// frame that falls inside the clip. A clip starting between frames is first
// sampled at the next frame boundary, not at its own start.
func (c *Clip) FirstFrameSourceTime(fps float64) float64 {
	if fps <= 0 {
		return c.SourceStartTime
	}
	first := math.Ceil(c.StartTime*fps-frameEpsilon) / fps
	return c.SourceTime(max(first, c.StartTime))
}

// HasAudio reports whether the clip type can carry an audio stream.
func (c *Clip) HasAudio() bool {
	return (c.Type == ClipTypeVideo || c.Type == ClipTypeAudio) && c.Media != nil
}

// Track groups clips and defines their paint order.
type Track struct {
	ID      string `json:"id"`
	Order   int    `json:"order"`
	Visible bool   `json:"visible"`
	Muted   bool   `json:"muted"`
}

// BackgroundKind discriminates the canvas background union.
type BackgroundKind string

// Background kinds.
const (
	BackgroundColor BackgroundKind = "color"
	BackgroundImage BackgroundKind = "image"
	BackgroundBlur  BackgroundKind = "blur"
)

// Background is the canvas base layer.
type Background struct {
	Kind   BackgroundKind `json:"type"`
	Hex    Color          `json:"hex"`
	URL    string         `json:"url,omitempty"`
	Amount float64        `json:"amount,omitempty"`
}

// Quality is the export quality tier.
type Quality string

// Quality tiers.
const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// Valid reports whether q is a known tier.
func (q Quality) Valid() bool {
	return q == QualityHigh || q == QualityMedium || q == QualityLow
}

// ExportRequest is the immutable input of one export job.
type ExportRequest struct {
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	FPS        float64          `json:"fps"`
	Quality    Quality          `json:"quality"`
	Duration   float64          `json:"duration"`
	Tracks     map[string]Track `json:"tracks"`
	Clips      map[string]Clip  `json:"clips"`
	Background *Background      `json:"background,omitempty"`
}

// frameEpsilon absorbs float error in duration*fps, e.g. 0.1*30.
const frameEpsilon = 1e-6

// FrameCount returns ceil(duration * fps).
func (r *ExportRequest) FrameCount() int {
	if r.FPS <= 0 || r.Duration <= 0 {
		return 0
	}
	return int(math.Ceil(r.Duration*r.FPS - frameEpsilon))
}

// FrameTime returns the timeline time of frame f.
func (r *ExportRequest) FrameTime(f int) float64 {
	return float64(f) / r.FPS
}

// Track returns the track a clip belongs to.
func (r *ExportRequest) Track(c *Clip) (Track, bool) {
	t, ok := r.Tracks[c.TrackID]
	return t, ok
}

// SortedClips returns the clips of the given types ordered by start time and
// then id, so map iteration order never leaks into rendering.
func (r *ExportRequest) SortedClips(types ...ClipType) []*Clip {
	out := make([]*Clip, 0, len(r.Clips))
	for id := range r.Clips {
		c := r.Clips[id]
		if len(types) > 0 && !slices.Contains(types, c.Type) {
			continue
		}
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *Clip) int {
		if n := cmp.Compare(a.StartTime, b.StartTime); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// HasAudioClips reports whether any audible clip sits on an audible track.
func (r *ExportRequest) HasAudioClips() bool {
	for _, c := range r.SortedClips(ClipTypeVideo, ClipTypeAudio) {
		if c.Muted || !c.HasAudio() {
			continue
		}
		if t, ok := r.Track(c); ok && t.Visible && !t.Muted {
			return true
		}
	}
	return false
}
