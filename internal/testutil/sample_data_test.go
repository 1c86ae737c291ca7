package testutil

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/clipforge/internal/timeline"
)

func TestSampleGenerator_Deterministic(t *testing.T) {
	a := NewSampleGenerator(42).Request(3, 10)
	b := NewSampleGenerator(42).Request(3, 10)
	assert.Equal(t, a, b)

	c := NewSampleGenerator(43).Request(3, 10)
	assert.NotEqual(t, a, c)
}

func TestSampleGenerator_RequestsValidate(t *testing.T) {
	g := NewSampleGenerator(7)
	for i := range 25 {
		req := g.Request(1+i%4, 1+i)
		require.NoError(t, req.Validate())
		assert.Len(t, req.Clips, 1+i)

		for _, c := range req.Clips {
			assert.GreaterOrEqual(t, c.StartTime, 0.0)
			assert.LessOrEqual(t, c.EndTime(), req.Duration+1e-9)
			for _, k := range c.Keyframes {
				assert.LessOrEqual(t, k.Time, c.Duration+1e-9)
			}
		}
	}
}

func TestSampleGenerator_DecodesFromJSON(t *testing.T) {
	req := NewSampleGenerator(1).Request(2, 8)

	data, err := json.Marshal(req)
	require.NoError(t, err)

	decoded, err := timeline.Decode(bytes.NewReader(data), timeline.FormatJSON)
	require.NoError(t, err)
	assert.Len(t, decoded.Clips, len(req.Clips))
	assert.Equal(t, req.FrameCount(), decoded.FrameCount())
}

func TestSampleGenerator_ClipPayloads(t *testing.T) {
	g := NewSampleGenerator(3)
	tests := []struct {
		typ   timeline.ClipType
		check func(t *testing.T, c timeline.Clip)
	}{
		{timeline.ClipTypeVideo, func(t *testing.T, c timeline.Clip) { assert.NotNil(t, c.Media) }},
		{timeline.ClipTypeAudio, func(t *testing.T, c timeline.Clip) { assert.Contains(t, AudioSources, c.Media.SourceURL) }},
		{timeline.ClipTypeText, func(t *testing.T, c timeline.Clip) { assert.Positive(t, c.Text.FontSize) }},
		{timeline.ClipTypeSticker, func(t *testing.T, c timeline.Clip) { assert.Contains(t, StickerAssets, c.Sticker.AssetURL) }},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			c := g.Clip(tt.typ, 5)
			assert.Equal(t, tt.typ, c.Type)
			tt.check(t, c)
		})
	}
}
