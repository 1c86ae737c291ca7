package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/clipforge/internal/encoder"
	"github.com/jmylchreest/clipforge/internal/ffmpeg"
	"github.com/jmylchreest/clipforge/internal/service"
)

type stubDetector struct {
	info *ffmpeg.BinaryInfo
	err  error
}

func (s stubDetector) Detect(context.Context) (*ffmpeg.BinaryInfo, error) {
	return s.info, s.err
}

func TestCapabilitiesHandler_Get(t *testing.T) {
	info := &ffmpeg.BinaryInfo{
		FFmpegPath: "/usr/bin/ffmpeg",
		Version:    "7.0",
		Filters:    []string{"fps", "scale"},
		HWAccels: []ffmpeg.HWAccelInfo{
			{Type: ffmpeg.HWAccelQSV, Encoder: "h264_qsv", Available: true},
		},
	}
	svc := service.NewCapabilitiesService(stubDetector{info: info}, encoder.ModeAuto, []string{"qsv"}, "auto")

	_, api := humatest.New(t)
	NewCapabilitiesHandler(svc).Register(api)

	resp := api.Get("/api/v1/capabilities")
	require.Equal(t, http.StatusOK, resp.Code)

	body := decodeJSON[CapabilitiesResponse](t, resp.Body.Bytes())
	assert.Equal(t, "7.0", body.FFmpegVersion)
	assert.Equal(t, []string{"qsv"}, body.HWAccels)
	assert.Equal(t, encoder.NameHardware, body.Backend)
	assert.Equal(t, "h264_qsv", body.Encoder)
	assert.Equal(t, "accurate", body.FrameReady)
	assert.False(t, body.AudioFilters)
}

func TestCapabilitiesHandler_NoFFmpeg(t *testing.T) {
	svc := service.NewCapabilitiesService(stubDetector{err: errors.New("not found")}, encoder.ModeAuto, nil, "auto")

	_, api := humatest.New(t)
	NewCapabilitiesHandler(svc).Register(api)

	resp := api.Get("/api/v1/capabilities")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}
