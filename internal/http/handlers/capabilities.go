package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/clipforge/internal/service"
)

// CapabilitiesHandler reports the ffmpeg features export jobs can rely on.
type CapabilitiesHandler struct {
	capabilities *service.CapabilitiesService
}

// NewCapabilitiesHandler creates a new capabilities handler.
func NewCapabilitiesHandler(capabilities *service.CapabilitiesService) *CapabilitiesHandler {
	return &CapabilitiesHandler{capabilities: capabilities}
}

// Register registers the capabilities route with the API.
func (h *CapabilitiesHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getCapabilities",
		Method:      http.MethodGet,
		Path:        "/api/v1/capabilities",
		Summary:     "Get capabilities",
		Description: "Returns the ffmpeg version, usable hardware accelerators, chosen backend and frame-ready strategy",
		Tags:        []string{"System"},
		Errors:      []int{http.StatusServiceUnavailable},
	}, h.Get)
}

// GetCapabilitiesInput is the input for getting capabilities.
type GetCapabilitiesInput struct{}

// GetCapabilitiesOutput is the output for getting capabilities.
type GetCapabilitiesOutput struct {
	Body CapabilitiesResponse
}

// Get detects ffmpeg and reports the resulting choices.
func (h *CapabilitiesHandler) Get(ctx context.Context, _ *GetCapabilitiesInput) (*GetCapabilitiesOutput, error) {
	caps, err := h.capabilities.Get(ctx)
	if err != nil {
		return nil, huma.Error503ServiceUnavailable("ffmpeg is not available", err)
	}
	return &GetCapabilitiesOutput{Body: CapabilitiesFromService(caps)}, nil
}
