package keyframe

import (
	"cmp"
	"math"
	"slices"

	"github.com/jmylchreest/clipforge/internal/timeline"
)

// Index groups a clip's keyframes by property, each group sorted by time.
type Index map[string][]timeline.Keyframe

// NewIndex builds an Index. The input slice is not modified.
func NewIndex(kfs []timeline.Keyframe) Index {
	idx := make(Index)
	for _, k := range kfs {
		idx[k.Property] = append(idx[k.Property], k)
	}
	for prop := range idx {
		slices.SortFunc(idx[prop], func(a, b timeline.Keyframe) int {
			return cmp.Compare(a.Time, b.Time)
		})
	}
	return idx
}

// Resolve evaluates property on clip at the clip-relative time t.
func Resolve(clip *timeline.Clip, property string, t float64) timeline.Value {
	return NewIndex(clip.Keyframes).Resolve(clip, property, t)
}

// Resolve evaluates property at clip-relative time t, falling back to the
// clip's static field when the property has no keyframes.
func (idx Index) Resolve(clip *timeline.Clip, property string, t float64) timeline.Value {
	kfs := idx[property]
	switch len(kfs) {
	case 0:
		v, _ := StaticValue(clip, property)
		return v
	case 1:
		return kfs[0].Value
	}

	first, last := kfs[0], kfs[len(kfs)-1]
	if t <= first.Time {
		return first.Value
	}
	if t >= last.Time {
		return last.Value
	}

	// first index with Time > t; k0 is the one before it
	i, _ := slices.BinarySearchFunc(kfs, t, func(k timeline.Keyframe, target float64) int {
		if k.Time <= target {
			return -1
		}
		return 1
	})
	k0, k1 := kfs[i-1], kfs[i]

	raw := (t - k0.Time) / (k1.Time - k0.Time)
	eased := Ease(k1.Easing, k1.Bezier, raw)
	return Interpolate(k0.Value, k1.Value, eased)
}

// Interpolate blends a towards b. Mismatched kinds hold a until progress
// reaches 1.
func Interpolate(a, b timeline.Value, p float64) timeline.Value {
	if a.Kind != b.Kind {
		if p >= 1 {
			return b
		}
		return a
	}

	switch a.Kind {
	case timeline.KindColor:
		return timeline.ColorValue(timeline.Color{
			R: lerpByte(a.Color.R, b.Color.R, p),
			G: lerpByte(a.Color.G, b.Color.G, p),
			B: lerpByte(a.Color.B, b.Color.B, p),
			A: lerpByte(a.Color.A, b.Color.A, p),
		})
	case timeline.KindPoint:
		return timeline.PointValue(timeline.Point2D{
			X: lerp(a.Point.X, b.Point.X, p),
			Y: lerp(a.Point.Y, b.Point.Y, p),
		})
	default:
		return timeline.NumberValue(lerp(a.Number, b.Number, p))
	}
}

func lerpByte(a, b uint8, p float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(255, lerp(float64(a), float64(b), p)))))
}

// StaticValue returns the clip's own field for property. The boolean is false
// when the clip type has no such field.
func StaticValue(clip *timeline.Clip, property string) (timeline.Value, bool) {
	switch property {
	case timeline.PropOpacity:
		return timeline.NumberValue(clip.Opacity), true
	case timeline.PropScale:
		return timeline.NumberValue(clip.Scale), true
	case timeline.PropRotation:
		return timeline.NumberValue(clip.Rotation), true
	case timeline.PropPosition:
		return timeline.PointValue(clip.Position), true
	case timeline.PropVolume:
		if clip.Media != nil {
			return timeline.NumberValue(clip.Media.Volume), true
		}
	case timeline.PropPan:
		if clip.Media != nil {
			return timeline.NumberValue(clip.Media.Pan), true
		}
	case timeline.PropFontSize:
		if clip.Text != nil {
			return timeline.NumberValue(clip.Text.FontSize), true
		}
	case timeline.PropColor:
		if clip.Text != nil {
			return timeline.ColorValue(clip.Text.Color), true
		}
	}
	return timeline.Value{}, false
}

// Properties is the full set of animatable values of a clip at one instant.
// Type-specific fields keep their zero value for clip types without them.
type Properties struct {
	Opacity  float64
	Scale    float64
	Rotation float64
	Position timeline.Point2D
	Volume   float64
	Pan      float64
	FontSize float64
	Color    timeline.Color
}

// ResolveAll evaluates every animatable property of clip at clip-relative
// time t in one pass over its keyframes.
func ResolveAll(clip *timeline.Clip, t float64) Properties {
	idx := NewIndex(clip.Keyframes)

	number := func(prop string) float64 {
		v := idx.Resolve(clip, prop, t)
		if v.Kind != timeline.KindNumber {
			s, _ := StaticValue(clip, prop)
			return s.Number
		}
		return v.Number
	}

	p := Properties{
		Opacity:  number(timeline.PropOpacity),
		Scale:    number(timeline.PropScale),
		Rotation: number(timeline.PropRotation),
		Position: clip.Position,
	}
	if v := idx.Resolve(clip, timeline.PropPosition, t); v.Kind == timeline.KindPoint {
		p.Position = v.Point
	}

	if clip.Media != nil {
		p.Volume = number(timeline.PropVolume)
		p.Pan = number(timeline.PropPan)
	}
	if clip.Text != nil {
		p.FontSize = number(timeline.PropFontSize)
		p.Color = clip.Text.Color
		if v := idx.Resolve(clip, timeline.PropColor, t); v.Kind == timeline.KindColor {
			p.Color = v.Color
		}
	}
	return p
}
