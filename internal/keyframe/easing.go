// Package keyframe evaluates animated clip properties at arbitrary times.
// Everything here is a pure function of its inputs.
package keyframe

import (
	"math"

	"github.com/jmylchreest/clipforge/internal/timeline"
)

// CSS reference curves for the named easings.
var (
	curveEaseIn    = timeline.Bezier{X1: 0.42, Y1: 0, X2: 1, Y2: 1}
	curveEaseOut   = timeline.Bezier{X1: 0, Y1: 0, X2: 0.58, Y2: 1}
	curveEaseInOut = timeline.Bezier{X1: 0.42, Y1: 0, X2: 0.58, Y2: 1}
)

const (
	newtonIterations = 8
	newtonEpsilon    = 1e-7
	bisectIterations = 50
)

// Ease maps raw progress in [0,1] to eased progress. Unknown kinds and a
// cubic-bezier without control points fall back to linear.
func Ease(kind timeline.EasingKind, bezier *timeline.Bezier, p float64) float64 {
	if p <= 0 {
		return 0
	}
	if p >= 1 {
		return 1
	}

	switch kind {
	case timeline.EasingEaseIn:
		return CubicBezier(curveEaseIn, p)
	case timeline.EasingEaseOut:
		return CubicBezier(curveEaseOut, p)
	case timeline.EasingEaseInOut:
		return CubicBezier(curveEaseInOut, p)
	case timeline.EasingCubicBezier:
		if bezier == nil {
			return p
		}
		return CubicBezier(*bezier, p)
	default:
		return p
	}
}

// CubicBezier evaluates a CSS cubic-bezier timing function at x. The curve
// parameter for x is found with Newton's method, falling back to bisection
// when the derivative is too flat to converge.
func CubicBezier(b timeline.Bezier, x float64) float64 {
	if b.X1 == b.Y1 && b.X2 == b.Y2 {
		return x
	}
	return bezierCoord(b.Y1, b.Y2, solveCurveX(b, x))
}

// bezierCoord evaluates one coordinate of a cubic bezier with fixed end
// points 0 and 1 by De Casteljau's construction.
func bezierCoord(p1, p2, t float64) float64 {
	a := lerp(0, p1, t)
	b := lerp(p1, p2, t)
	c := lerp(p2, 1, t)
	d := lerp(a, b, t)
	e := lerp(b, c, t)
	return lerp(d, e, t)
}

// bezierSlope is d/dt of bezierCoord.
func bezierSlope(p1, p2, t float64) float64 {
	mt := 1 - t
	return 3*mt*mt*p1 + 6*mt*t*(p2-p1) + 3*t*t*(1-p2)
}

func solveCurveX(b timeline.Bezier, x float64) float64 {
	t := x
	for range newtonIterations {
		dx := bezierCoord(b.X1, b.X2, t) - x
		if math.Abs(dx) < newtonEpsilon {
			return t
		}
		slope := bezierSlope(b.X1, b.X2, t)
		if math.Abs(slope) < 1e-6 {
			break
		}
		t -= dx / slope
		if t < 0 || t > 1 {
			break
		}
	}

	lo, hi := 0.0, 1.0
	t = x
	for range bisectIterations {
		v := bezierCoord(b.X1, b.X2, t)
		if math.Abs(v-x) < newtonEpsilon {
			return t
		}
		if v < x {
			lo = t
		} else {
			hi = t
		}
		t = (lo + hi) / 2
	}
	return t
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
