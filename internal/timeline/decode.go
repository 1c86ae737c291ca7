package timeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Defaults applied to fields the editor omits.
const (
	DefaultFontSize  = 48.0
	DefaultFontColor = "#ffffff"
	defaultPositionX = 50.0
	defaultPositionY = 50.0
)

// clipWire is the flat wire form of a Clip. Pointers distinguish "absent"
// from zero so defaults can be applied.
type clipWire struct {
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

	Position *Point2D `json:"position,omitempty"`
	Scale    *float64 `json:"scale,omitempty"`
	Rotation float64  `json:"rotation"`
	Opacity  *float64 `json:"opacity,omitempty"`

	// video / audio
	SourceURL    string   `json:"sourceUrl,omitempty"`
	PlaybackRate *float64 `json:"playbackRate,omitempty"`
	Volume       *float64 `json:"volume,omitempty"`
	Pan          float64  `json:"pan,omitempty"`
	FadeIn       float64  `json:"fadeIn,omitempty"`
	FadeOut      float64  `json:"fadeOut,omitempty"`

	// text
	Content         string    `json:"content,omitempty"`
	FontFamily      string    `json:"fontFamily,omitempty"`
	FontSize        *float64  `json:"fontSize,omitempty"`
	FontWeight      string    `json:"fontWeight,omitempty"`
	Color           *Color    `json:"color,omitempty"`
	TextAlign       TextAlign `json:"textAlign,omitempty"`
	MaxWidth        float64   `json:"maxWidth,omitempty"`
	BackgroundColor *Color    `json:"backgroundColor,omitempty"`

	// sticker
	AssetURL   string `json:"assetUrl,omitempty"`
	IsAnimated bool   `json:"isAnimated,omitempty"`
}

func orDefault(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// UnmarshalJSON decodes the flat wire form and applies defaults.
func (c *Clip) UnmarshalJSON(data []byte) error {
	var w clipWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := Clip{
		ID:              w.ID,
		TrackID:         w.TrackID,
		Type:            w.Type,
		StartTime:       w.StartTime,
		Duration:        w.Duration,
		SourceStartTime: w.SourceStartTime,
		Muted:           w.Muted,
		TransitionIn:    w.TransitionIn,
		TransitionOut:   w.TransitionOut,
		Keyframes:       w.Keyframes,
		Position:        Point2D{X: defaultPositionX, Y: defaultPositionY},
		Scale:           orDefault(w.Scale, 1),
		Rotation:        w.Rotation,
		Opacity:         orDefault(w.Opacity, 1),
	}
	if w.Position != nil {
		out.Position = *w.Position
	}

	switch w.Type {
	case ClipTypeVideo, ClipTypeAudio:
		out.Media = &MediaPayload{
			SourceURL:    w.SourceURL,
			PlaybackRate: orDefault(w.PlaybackRate, 1),
			Volume:       orDefault(w.Volume, 1),
			Pan:          w.Pan,
			FadeIn:       w.FadeIn,
			FadeOut:      w.FadeOut,
		}
	case ClipTypeText:
		color := White
		if w.Color != nil {
			color = *w.Color
		}
		align := w.TextAlign
		if align == "" {
			align = AlignCenter
		}
		out.Text = &TextPayload{
			Content:         w.Content,
			FontFamily:      w.FontFamily,
			FontSize:        orDefault(w.FontSize, DefaultFontSize),
			FontWeight:      w.FontWeight,
			Color:           color,
			TextAlign:       align,
			MaxWidth:        w.MaxWidth,
			BackgroundColor: w.BackgroundColor,
		}
	case ClipTypeSticker:
		out.Sticker = &StickerPayload{
			AssetURL:   w.AssetURL,
			IsAnimated: w.IsAnimated,
		}
	default:
		return fmt.Errorf("unknown clip type %q", w.Type)
	}

	*c = out
	return nil
}

// MarshalJSON encodes the clip in its flat wire form.
func (c Clip) MarshalJSON() ([]byte, error) {
	w := clipWire{
		ID:              c.ID,
		TrackID:         c.TrackID,
		Type:            c.Type,
		StartTime:       c.StartTime,
		Duration:        c.Duration,
		SourceStartTime: c.SourceStartTime,
		Muted:           c.Muted,
		TransitionIn:    c.TransitionIn,
		TransitionOut:   c.TransitionOut,
		Keyframes:       c.Keyframes,
		Position:        &c.Position,
		Scale:           &c.Scale,
		Rotation:        c.Rotation,
		Opacity:         &c.Opacity,
	}
	if m := c.Media; m != nil {
		w.SourceURL = m.SourceURL
		w.PlaybackRate = &m.PlaybackRate
		w.Volume = &m.Volume
		w.Pan = m.Pan
		w.FadeIn = m.FadeIn
		w.FadeOut = m.FadeOut
	}
	if t := c.Text; t != nil {
		w.Content = t.Content
		w.FontFamily = t.FontFamily
		w.FontSize = &t.FontSize
		w.FontWeight = t.FontWeight
		w.Color = &t.Color
		w.TextAlign = t.TextAlign
		w.MaxWidth = t.MaxWidth
		w.BackgroundColor = t.BackgroundColor
	}
	if s := c.Sticker; s != nil {
		w.AssetURL = s.AssetURL
		w.IsAnimated = s.IsAnimated
	}
	return json.Marshal(w)
}

// UnmarshalJSON defaults Visible to true when absent.
func (t *Track) UnmarshalJSON(data []byte) error {
	var w struct {
		ID      string `json:"id"`
		Order   int    `json:"order"`
		Visible *bool  `json:"visible"`
		Muted   bool   `json:"muted"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*t = Track{ID: w.ID, Order: w.Order, Visible: w.Visible == nil || *w.Visible, Muted: w.Muted}
	return nil
}

// Format is the encoding of a request document.
type Format string

// Supported document formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath guesses the document format from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// DecodeOptions adjust how request documents are decoded.
type DecodeOptions struct {
	// DefaultQuality applies when the document omits quality. Empty means
	// medium.
	DefaultQuality Quality
}

// Decode reads an ExportRequest, fills in missing ids, normalizes it and
// validates the result.
func Decode(r io.Reader, format Format) (*ExportRequest, error) {
	return DecodeWithOptions(r, format, DecodeOptions{})
}

// DecodeWithOptions is Decode with configurable defaults.
func DecodeWithOptions(r io.Reader, format Format, opts DecodeOptions) (*ExportRequest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading request: %w", err)
	}

	if format == FormatYAML {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, err
		}
	}

	var req ExportRequest
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}

	if req.Quality == "" {
		req.Quality = opts.DefaultQuality
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// DecodeFile reads an ExportRequest from a JSON or YAML file.
func DecodeFile(path string, opts DecodeOptions) (*ExportRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening request: %w", err)
	}
	defer f.Close()

	return DecodeWithOptions(f, FormatFromPath(path), opts)
}

// yamlToJSON re-encodes a YAML document as JSON so the JSON decoders above
// remain the single source of defaults.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding yaml request: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("converting yaml request: %w", err)
	}
	return out, nil
}

// Normalize assigns ids from map keys (or fresh UUIDs) and rounds odd
// dimensions down to even values for codec compatibility.
func (r *ExportRequest) Normalize() {
	r.Width -= r.Width % 2
	r.Height -= r.Height % 2
	if r.Quality == "" {
		r.Quality = QualityMedium
	}

	for key, t := range r.Tracks {
		if t.ID == "" {
			t.ID = key
			r.Tracks[key] = t
		}
	}

	for key, c := range r.Clips {
		if c.ID == "" {
			c.ID = key
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		for i := range c.Keyframes {
			if c.Keyframes[i].ID == "" {
				c.Keyframes[i].ID = uuid.NewString()
			}
			if c.Keyframes[i].Easing == "" {
				c.Keyframes[i].Easing = EasingLinear
			}
		}
		r.Clips[key] = c
	}
}
