// Package audiograph turns the audible clips of an export request into an
// ffmpeg filter graph: one trim/tempo/volume/fade/delay chain per clip,
// mixed into a single output stream.
package audiograph

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jmylchreest/clipforge/internal/ffmpeg"
)

// OutputLabel is the pad carrying the mixed audio.
const OutputLabel = "[aout]"

// Tempo stages outside this range are split, since atempo rejects them.
const (
	minTempo = 0.5
	maxTempo = 2.0
	// tempoTolerance is how far from 1 a rate may be before a tempo stage is
	// added at all.
	tempoTolerance = 0.01
)

// Stage is one filter in a chain.
type Stage struct {
	Name string
	Args []string
}

func (s Stage) String() string {
	if len(s.Args) == 0 {
		return s.Name
	}
	return s.Name + "=" + strings.Join(s.Args, ":")
}

// Chain is the filter chain of one clip.
type Chain struct {
	ClipID string
	Source string
	Stages []Stage
}

// Stage returns the first stage with the given filter name.
func (c *Chain) Stage(name string) (Stage, bool) {
	for _, s := range c.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// Graph is the audio mix description. The zero Graph is empty.
type Graph struct {
	Chains []Chain
	// Skipped lists clips left out of the mix because their probe failed
	// or found no audio stream.
	Skipped []*ProbeSoftFailure
}

// Empty reports whether the graph mixes nothing. Empty graphs must not be
// passed to ffmpeg; the export carries no audio stream.
func (g *Graph) Empty() bool {
	return g == nil || len(g.Chains) == 0
}

// Inputs returns the source of every chain, in input order.
func (g *Graph) Inputs() []string {
	if g == nil {
		return nil
	}
	out := make([]string, len(g.Chains))
	for i, c := range g.Chains {
		out[i] = c.Source
	}
	return out
}

// MixStage returns the final amix stage.
func (g *Graph) MixStage() Stage {
	return Stage{Name: "amix", Args: []string{
		"inputs=" + strconv.Itoa(len(g.Chains)),
		"duration=longest",
		"normalize=0",
	}}
}

// FilterComplex renders the graph for -filter_complex. offset is the ffmpeg
// input index of the first chain's source.
func (g *Graph) FilterComplex(offset int) string {
	if g.Empty() {
		return ""
	}
	var sb strings.Builder
	for i, c := range g.Chains {
		fmt.Fprintf(&sb, "[%d:a]", offset+i)
		for j, s := range c.Stages {
			if j > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(s.String())
		}
		fmt.Fprintf(&sb, "[a%d];", i)
	}
	for i := range g.Chains {
		fmt.Fprintf(&sb, "[a%d]", i)
	}
	sb.WriteString(g.MixStage().String())
	sb.WriteString(OutputLabel)
	return sb.String()
}

// Apply adds the audio inputs, the filter graph and the output mapping to b.
// offset must equal the number of inputs already added to b.
func (g *Graph) Apply(b *ffmpeg.CommandBuilder, offset int) *ffmpeg.CommandBuilder {
	if g.Empty() {
		return b
	}
	for _, src := range g.Inputs() {
		b.Input(src)
	}
	return b.FilterComplex(g.FilterComplex(offset)).Map(OutputLabel)
}

// TempoFactors splits rate into atempo stages that each stay within the
// filter's accepted range and whose product is rate. Rates within
// tempoTolerance of 1 need no stage.
func TempoFactors(rate float64) []float64 {
	if rate <= 0 || math.Abs(rate-1) <= tempoTolerance {
		return nil
	}
	var out []float64
	for rate > maxTempo {
		out = append(out, maxTempo)
		rate /= maxTempo
	}
	for rate < minTempo {
		out = append(out, minTempo)
		rate /= minTempo
	}
	return append(out, rate)
}

// formatSeconds prints a time without trailing zeros.
func formatSeconds(v float64) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

var _ Prober = (*ffmpeg.Prober)(nil)
