package timeline

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Limits for export requests.
const (
	MaxFPS       = 240
	MaxDimension = 7680
)

// ValidationError collects every problem found in a request.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid export request: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Validate checks the request invariants. It returns a *ValidationError.
func (r *ExportRequest) Validate() error {
	v := &ValidationError{}

	if r.Width <= 0 || r.Height <= 0 {
		v.add("width and height must be positive")
	}
	if r.Width%2 != 0 || r.Height%2 != 0 {
		v.add("width and height must be even")
	}
	if r.Width > MaxDimension || r.Height > MaxDimension {
		v.add("width and height must not exceed %d", MaxDimension)
	}
	if r.FPS <= 0 || r.FPS > MaxFPS {
		v.add("fps must be in (0, %d]", MaxFPS)
	}
	if r.Duration <= 0 {
		v.add("duration must be positive")
	}
	if r.Quality != "" && !r.Quality.Valid() {
		v.add("quality %q must be one of high, medium, low", r.Quality)
	}

	if bg := r.Background; bg != nil {
		switch bg.Kind {
		case BackgroundColor, BackgroundBlur:
		case BackgroundImage:
			if bg.URL == "" {
				v.add("image background requires a url")
			}
		default:
			v.add("unknown background type %q", bg.Kind)
		}
	}

	for _, c := range r.SortedClips() {
		r.validateClip(v, c)
	}

	if len(v.Problems) > 0 {
		return v
	}
	return nil
}

func (r *ExportRequest) validateClip(v *ValidationError, c *Clip) {
	if _, ok := r.Tracks[c.TrackID]; !ok {
		v.add("clip %s references unknown track %q", c.ID, c.TrackID)
	}
	if c.Duration <= 0 {
		v.add("clip %s must have a positive duration", c.ID)
	}
	if c.StartTime < 0 || c.SourceStartTime < 0 {
		v.add("clip %s has a negative start time", c.ID)
	}

	switch c.Type {
	case ClipTypeVideo, ClipTypeAudio:
		if c.Media == nil || c.Media.SourceURL == "" {
			v.add("clip %s requires a sourceUrl", c.ID)
		}
	case ClipTypeSticker:
		if c.Sticker == nil || c.Sticker.AssetURL == "" {
			v.add("clip %s requires an assetUrl", c.ID)
		}
	case ClipTypeText:
		if c.Text != nil && c.Text.FontSize <= 0 {
			v.add("clip %s must have a positive fontSize", c.ID)
		}
	}

	if err := ValidateKeyframes(c.Keyframes); err != nil {
		v.add("clip %s: %v", c.ID, err)
	}
}

// ValidateKeyframes checks that keyframe times are non-negative and unique per
// property and that easing parameters are well formed.
func ValidateKeyframes(kfs []Keyframe) error {
	seen := make(map[string][]float64)
	var errs []error
	for _, k := range kfs {
		if k.Property == "" {
			errs = append(errs, fmt.Errorf("keyframe %s has no property", k.ID))
			continue
		}
		if k.Time < 0 {
			errs = append(errs, fmt.Errorf("keyframe %s has negative time", k.ID))
		}
		if slices.Contains(seen[k.Property], k.Time) {
			errs = append(errs, fmt.Errorf("duplicate keyframe time %g for property %s", k.Time, k.Property))
		}
		seen[k.Property] = append(seen[k.Property], k.Time)

		switch k.Easing {
		case "", EasingLinear, EasingEaseIn, EasingEaseOut, EasingEaseInOut:
		case EasingCubicBezier:
			if k.Bezier == nil {
				errs = append(errs, fmt.Errorf("keyframe %s uses cubic-bezier without control points", k.ID))
			} else if k.Bezier.X1 < 0 || k.Bezier.X1 > 1 || k.Bezier.X2 < 0 || k.Bezier.X2 > 1 {
				errs = append(errs, fmt.Errorf("keyframe %s bezier x values must be in [0,1]", k.ID))
			}
		default:
			errs = append(errs, fmt.Errorf("keyframe %s has unknown easing %q", k.ID, k.Easing))
		}
	}
	return errors.Join(errs...)
}
