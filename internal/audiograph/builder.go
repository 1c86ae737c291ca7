package audiograph

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/jmylchreest/clipforge/internal/observability"
	"github.com/jmylchreest/clipforge/internal/timeline"
)

// Prober reports whether a source carries an audio stream.
type Prober interface {
	HasAudio(ctx context.Context, url string) (bool, error)
}

// PathResolver maps clip source references to ffmpeg inputs.
type PathResolver interface {
	ResolvePath(ref string) string
}

// ProbeSoftFailure records a clip excluded from the mix. It is reported and
// logged but never fails an export.
type ProbeSoftFailure struct {
	ClipID string
	URL    string
	// Err is nil when the probe succeeded but found no audio stream.
	Err error
}

func (e *ProbeSoftFailure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("clip %s: no audio stream in %s", e.ClipID, e.URL)
	}
	return fmt.Sprintf("clip %s: probing audio of %s: %v", e.ClipID, e.URL, e.Err)
}

func (e *ProbeSoftFailure) Unwrap() error {
	return e.Err
}

// Builder builds audio graphs.
type Builder struct {
	prober   Prober
	resolver PathResolver
	logger   *slog.Logger
}

// NewBuilder creates a Builder. resolver may be nil.
func NewBuilder(prober Prober, resolver PathResolver, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		prober:   prober,
		resolver: resolver,
		logger:   observability.WithComponent(logger, "audiograph"),
	}
}

// Audible returns the clips that may contribute audio: audio and video clips
// that are not muted, on a visible, unmuted track.
func Audible(req *timeline.ExportRequest) []*timeline.Clip {
	var out []*timeline.Clip
	for _, c := range req.SortedClips(timeline.ClipTypeAudio, timeline.ClipTypeVideo) {
		if c.Muted || !c.HasAudio() || c.Media.SourceURL == "" || c.Duration <= 0 {
			continue
		}
		track, ok := req.Track(c)
		if !ok || !track.Visible || track.Muted {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Build probes every audible clip of req and returns the mix graph. Clips
// whose probe fails or finds no audio are skipped and listed in
// Graph.Skipped. The only error returned is ctx's.
func (b *Builder) Build(ctx context.Context, req *timeline.ExportRequest) (*Graph, error) {
	g := &Graph{}
	for _, clip := range Audible(req) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		src := clip.Media.SourceURL
		if b.resolver != nil {
			src = b.resolver.ResolvePath(src)
		}

		ok, err := b.prober.HasAudio(ctx, src)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil || !ok {
			sf := &ProbeSoftFailure{ClipID: clip.ID, URL: clip.Media.SourceURL, Err: err}
			g.Skipped = append(g.Skipped, sf)
			b.logger.Warn("excluding clip from audio mix",
				slog.String("clip_id", clip.ID),
				slog.String("source_url", clip.Media.SourceURL),
				slog.String("reason", sf.Error()),
			)
			continue
		}

		g.Chains = append(g.Chains, ClipChain(clip, src))
	}

	b.logger.Debug("audio graph built",
		slog.Int("chains", len(g.Chains)),
		slog.Int("skipped", len(g.Skipped)),
	)
	return g, nil
}

// ClipChain builds the filter chain placing clip on the master timeline:
// trim the source span, reset timestamps, change tempo, set volume, apply
// fades (audio clips only) and delay to the clip start.
func ClipChain(clip *timeline.Clip, source string) Chain {
	rate := clip.PlaybackRate()
	start := clip.SourceStartTime
	end := start + clip.Duration*rate

	stages := []Stage{
		{Name: "atrim", Args: []string{"start=" + formatSeconds(start), "end=" + formatSeconds(end)}},
		{Name: "asetpts", Args: []string{"PTS-STARTPTS"}},
	}
	for _, f := range TempoFactors(rate) {
		stages = append(stages, Stage{Name: "atempo", Args: []string{strconv.FormatFloat(f, 'f', -1, 64)}})
	}
	stages = append(stages, Stage{Name: "volume", Args: []string{strconv.FormatFloat(clip.Media.Volume, 'f', -1, 64)}})

	if clip.Type == timeline.ClipTypeAudio {
		if in := clip.Media.FadeIn; in > 0 {
			stages = append(stages, Stage{Name: "afade", Args: []string{"t=in", "st=0", "d=" + formatSeconds(in)}})
		}
		if out := clip.Media.FadeOut; out > 0 {
			st := math.Max(0, clip.Duration-out)
			stages = append(stages, Stage{Name: "afade", Args: []string{"t=out", "st=" + formatSeconds(st), "d=" + formatSeconds(out)}})
		}
	}

	if ms := int64(math.Round(clip.StartTime * 1000)); ms > 0 {
		stages = append(stages, Stage{Name: "adelay", Args: []string{strconv.FormatInt(ms, 10), "all=1"}})
	}

	return Chain{ClipID: clip.ID, Source: source, Stages: stages}
}
