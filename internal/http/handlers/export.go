package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/clipforge/internal/encoder"
	"github.com/jmylchreest/clipforge/internal/export"
	"github.com/jmylchreest/clipforge/internal/models"
	"github.com/jmylchreest/clipforge/internal/observability"
	"github.com/jmylchreest/clipforge/internal/service"
	"github.com/jmylchreest/clipforge/internal/timeline"
)

// ExportHandler handles export job API endpoints.
type ExportHandler struct {
	exports        *service.ExportService
	maxBodyBytes   int64
	defaultQuality timeline.Quality
}

// NewExportHandler creates a new export handler. maxBodyBytes bounds
// submitted request documents; zero keeps huma's default.
func NewExportHandler(exports *service.ExportService, maxBodyBytes int64) *ExportHandler {
	return &ExportHandler{
		exports:      exports,
		maxBodyBytes: maxBodyBytes,
	}
}

// WithDefaultQuality sets the tier applied to requests that omit quality.
func (h *ExportHandler) WithDefaultQuality(q timeline.Quality) *ExportHandler {
	h.defaultQuality = q
	return h
}

// Register registers the export routes with the API.
func (h *ExportHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "createExport",
		Method:        http.MethodPost,
		Path:          "/api/v1/exports",
		Summary:       "Start export",
		Description:   "Validates a timeline export request and starts rendering it. Only one export runs at a time.",
		Tags:          []string{"Exports"},
		DefaultStatus: http.StatusAccepted,
		MaxBodyBytes:  h.maxBodyBytes,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "listExports",
		Method:      http.MethodGet,
		Path:        "/api/v1/exports",
		Summary:     "List exports",
		Description: "Returns export history, most recent first",
		Tags:        []string{"Exports"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getExport",
		Method:      http.MethodGet,
		Path:        "/api/v1/exports/{id}",
		Summary:     "Get export",
		Description: "Returns the state, progress and outcome of an export",
		Tags:        []string{"Exports"},
		Errors:      []int{http.StatusNotFound},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "getExportOutput",
		Method:      http.MethodGet,
		Path:        "/api/v1/exports/{id}/output",
		Summary:     "Download export output",
		Description: "Returns the rendered MP4 once the export is done",
		Tags:        []string{"Exports"},
		Errors:      []int{http.StatusNotFound},
	}, h.Output)

	huma.Register(api, huma.Operation{
		OperationID: "deleteExport",
		Method:      http.MethodDelete,
		Path:        "/api/v1/exports/{id}",
		Summary:     "Cancel or delete export",
		Description: "Cancels the export if it is running, otherwise deletes its record and output",
		Tags:        []string{"Exports"},
		Errors:      []int{http.StatusNotFound},
	}, h.Delete)
}

// CreateExportInput is the input for starting an export.
type CreateExportInput struct {
	Backend     string `query:"backend" enum:"auto,software,hardware," doc:"Encoder backend override"`
	ContentType string `header:"Content-Type" doc:"application/json or application/yaml"`
	RawBody     []byte `contentType:"application/octet-stream" doc:"Export request document as JSON or YAML, selected by Content-Type"`
}

// CreateExportOutput is the output for starting an export.
type CreateExportOutput struct {
	Location string `header:"Location"`
	Body     struct {
		ID    string `json:"id" doc:"Job ID (ULID)"`
		State string `json:"state"`
	}
}

// Create decodes the request document and starts an export.
func (h *ExportHandler) Create(ctx context.Context, input *CreateExportInput) (*CreateExportOutput, error) {
	mode, err := encoder.ParseMode(input.Backend)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}

	req, err := timeline.DecodeWithOptions(bytes.NewReader(input.RawBody), requestFormat(input.ContentType),
		timeline.DecodeOptions{DefaultQuality: h.defaultQuality})
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("invalid export request", err)
	}

	job, err := h.exports.Submit(ctx, req, service.SubmitOptions{Backend: mode})
	if err != nil {
		var invalid *export.InvalidRequestError
		switch {
		case errors.Is(err, service.ErrJobActive):
			return nil, huma.Error409Conflict(err.Error())
		case errors.As(err, &invalid):
			return nil, huma.Error422UnprocessableEntity("invalid export request", invalid.Err)
		default:
			observability.LoggerFromContext(ctx).ErrorContext(ctx, "submitting export failed", slog.String("error", err.Error()))
			return nil, huma.Error500InternalServerError("failed to start export", err)
		}
	}

	resp := &CreateExportOutput{Location: "/api/v1/exports/" + job.ID.String()}
	resp.Body.ID = job.ID.String()
	resp.Body.State = string(job.State)
	return resp, nil
}

// requestFormat maps a Content-Type header onto a document format.
func requestFormat(contentType string) timeline.Format {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return timeline.FormatJSON
	}
	switch mediaType {
	case "application/yaml", "application/x-yaml", "text/yaml":
		return timeline.FormatYAML
	default:
		return timeline.FormatJSON
	}
}

// ListExportsInput is the input for listing exports.
type ListExportsInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"1000" doc:"Maximum number of jobs returned"`
}

// ListExportsOutput is the output for listing exports.
type ListExportsOutput struct {
	Body struct {
		Exports []ExportJobResponse `json:"exports"`
	}
}

// List returns export history.
func (h *ExportHandler) List(ctx context.Context, input *ListExportsInput) (*ListExportsOutput, error) {
	jobs, err := h.exports.List(ctx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list exports", err)
	}

	resp := &ListExportsOutput{}
	resp.Body.Exports = make([]ExportJobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp.Body.Exports = append(resp.Body.Exports, ExportJobFromModel(j))
	}
	return resp, nil
}

// ExportIDInput identifies an export.
type ExportIDInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// GetExportOutput is the output for getting an export.
type GetExportOutput struct {
	Body ExportJobResponse
}

// GetByID returns an export by ID.
func (h *ExportHandler) GetByID(ctx context.Context, input *ExportIDInput) (*GetExportOutput, error) {
	id, err := parseExportID(input.ID)
	if err != nil {
		return nil, err
	}

	job, err := h.exports.Get(ctx, id)
	if err != nil {
		return nil, jobError(err, input.ID, "failed to get export")
	}
	return &GetExportOutput{Body: ExportJobFromModel(job)}, nil
}

// Output streams the rendered container of a finished export.
func (h *ExportHandler) Output(ctx context.Context, input *ExportIDInput) (*huma.StreamResponse, error) {
	id, err := parseExportID(input.ID)
	if err != nil {
		return nil, err
	}

	f, size, err := h.exports.Output(ctx, id)
	if err != nil {
		if errors.Is(err, service.ErrOutputUnavailable) {
			return nil, huma.Error404NotFound(fmt.Sprintf("export %s has no output", input.ID))
		}
		return nil, jobError(err, input.ID, "failed to open export output")
	}

	return &huma.StreamResponse{
		Body: func(hctx huma.Context) {
			defer f.Close()

			hctx.SetHeader("Content-Type", encoder.MIMEType)
			hctx.SetHeader("Content-Length", strconv.FormatInt(size, 10))
			hctx.SetHeader("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.mp4"`, input.ID))
			hctx.SetStatus(http.StatusOK)

			if _, err := io.Copy(hctx.BodyWriter(), f); err != nil {
				observability.LoggerFromContext(hctx.Context()).WarnContext(hctx.Context(), "streaming export output failed",
					slog.String("job_id", input.ID),
					slog.String("error", err.Error()),
				)
			}
		},
	}, nil
}

// DeleteExportOutput is the output for cancelling or deleting an export.
type DeleteExportOutput struct {
	Body struct {
		ID      string `json:"id"`
		Outcome string `json:"outcome" enum:"cancelled,removed" doc:"cancelled for a running export, removed otherwise"`
	}
}

// Delete cancels a running export or removes a finished one.
func (h *ExportHandler) Delete(ctx context.Context, input *ExportIDInput) (*DeleteExportOutput, error) {
	id, err := parseExportID(input.ID)
	if err != nil {
		return nil, err
	}

	outcome, err := h.exports.Delete(ctx, id)
	if err != nil {
		return nil, jobError(err, input.ID, "failed to delete export")
	}

	resp := &DeleteExportOutput{}
	resp.Body.ID = input.ID
	resp.Body.Outcome = string(outcome)
	return resp, nil
}

func parseExportID(raw string) (models.ULID, error) {
	id, err := models.ParseULID(raw)
	if err != nil {
		return models.ULID{}, huma.Error400BadRequest("invalid ID format", err)
	}
	return id, nil
}

func jobError(err error, id, msg string) error {
	if errors.Is(err, service.ErrJobNotFound) {
		return huma.Error404NotFound(fmt.Sprintf("export %s not found", id))
	}
	return huma.Error500InternalServerError(msg, err)
}
