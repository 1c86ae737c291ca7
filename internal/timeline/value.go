package timeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"
)

// Point2D is a 2D point. Clip positions are expressed as a percentage of the
// canvas (0-100 on each axis).
type Point2D struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Color is a non-premultiplied sRGB color.
type Color struct {
	R, G, B, A uint8
}

// Common colors.
var (
	Black       = Color{0, 0, 0, 255}
	White       = Color{255, 255, 255, 255}
	Transparent = Color{}
)

// NRGBA converts the color to the standard library representation.
func (c Color) NRGBA() color.NRGBA {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}
}

// String returns the color as #rrggbb, or #rrggbbaa when not fully opaque.
func (c Color) String() string {
	if c.A == 255 {
		return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
	}
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

// MarshalJSON implements json.Marshaler.
func (c Color) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Color) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("color must be a string: %w", err)
	}
	parsed, err := ParseColor(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

var namedColors = map[string]Color{
	"black":       Black,
	"white":       White,
	"transparent": Transparent,
	"red":         {255, 0, 0, 255},
	"green":       {0, 128, 0, 255},
	"blue":        {0, 0, 255, 255},
	"yellow":      {255, 255, 0, 255},
}

// ParseColor parses #rgb, #rrggbb, #rrggbbaa, rgb(r,g,b), rgba(r,g,b,a) and a
// handful of named colors.
func ParseColor(s string) (Color, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[s]; ok {
		return c, nil
	}

	switch {
	case strings.HasPrefix(s, "#"):
		return parseHexColor(s[1:])
	case strings.HasPrefix(s, "rgba(") && strings.HasSuffix(s, ")"):
		return parseFuncColor(s[5:len(s)-1], true)
	case strings.HasPrefix(s, "rgb(") && strings.HasSuffix(s, ")"):
		return parseFuncColor(s[4:len(s)-1], false)
	}
	return Color{}, fmt.Errorf("unrecognised color %q", s)
}

func parseHexColor(h string) (Color, error) {
	switch len(h) {
	case 3:
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	case 6, 8:
	default:
		return Color{}, fmt.Errorf("invalid hex color #%s", h)
	}

	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("invalid hex color #%s: %w", h, err)
	}
	if len(h) == 6 {
		return Color{uint8(v >> 16), uint8(v >> 8), uint8(v), 255}, nil
	}
	return Color{uint8(v >> 24), uint8(v >> 16), uint8(v >> 8), uint8(v)}, nil
}

func parseFuncColor(args string, withAlpha bool) (Color, error) {
	parts := strings.Split(args, ",")
	want := 3
	if withAlpha {
		want = 4
	}
	if len(parts) != want {
		return Color{}, fmt.Errorf("expected %d color components, got %d", want, len(parts))
	}

	var ch [3]uint8
	for i := range 3 {
		n, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return Color{}, fmt.Errorf("invalid color component %q: %w", parts[i], err)
		}
		ch[i] = clampByte(n)
	}
	c := Color{ch[0], ch[1], ch[2], 255}
	if withAlpha {
		a, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err != nil {
			return Color{}, fmt.Errorf("invalid alpha %q: %w", parts[3], err)
		}
		c.A = clampByte(a * 255)
	}
	return c, nil
}

func clampByte(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(255, v))))
}

// ValueKind discriminates the payload of a Value.
type ValueKind int

// Value kinds.
const (
	KindNumber ValueKind = iota
	KindColor
	KindPoint
)

func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindColor:
		return "color"
	case KindPoint:
		return "point"
	default:
		return "unknown"
	}
}

// Value is an animatable property value: a number, a color or a point.
type Value struct {
	Kind   ValueKind
	Number float64
	Color  Color
	Point  Point2D
}

// NumberValue wraps a number.
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Number: n} }

// ColorValue wraps a color.
func ColorValue(c Color) Value { return Value{Kind: KindColor, Color: c} }

// PointValue wraps a point.
func PointValue(p Point2D) Value { return Value{Kind: KindPoint, Point: p} }

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindColor:
		return json.Marshal(v.Color.String())
	case KindPoint:
		return json.Marshal(v.Point)
	default:
		return json.Marshal(v.Number)
	}
}

// UnmarshalJSON accepts a number, a color string or an {x,y} object.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return errors.New("keyframe value is required")
	}

	switch trimmed[0] {
	case '"':
		var c Color
		if err := c.UnmarshalJSON(data); err != nil {
			return err
		}
		*v = ColorValue(c)
	case '{':
		var p Point2D
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decoding point value: %w", err)
		}
		*v = PointValue(p)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("decoding numeric value: %w", err)
		}
		*v = NumberValue(n)
	}
	return nil
}
