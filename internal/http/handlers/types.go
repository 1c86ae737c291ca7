// Package handlers provides HTTP API handlers for clipforge.
package handlers

import (
	"time"

	"github.com/jmylchreest/clipforge/internal/models"
	"github.com/jmylchreest/clipforge/internal/service"
)

// ExportJobResponse represents an export job in API responses.
type ExportJobResponse struct {
	ID           string     `json:"id" doc:"Job ID (ULID)"`
	State        string     `json:"state" enum:"idle,loading_resources,rendering,encoding,muxing,done,failed"`
	Progress     float64    `json:"progress" minimum:"0" maximum:"1"`
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	FPS          float64    `json:"fps"`
	Quality      string     `json:"quality"`
	Duration     float64    `json:"duration" doc:"Timeline duration in seconds"`
	Clips        int        `json:"clips"`
	Backend      string     `json:"backend,omitempty"`
	Frames       int        `json:"frames"`
	FrameCount   int        `json:"frame_count"`
	ErrorKind    string     `json:"error_kind,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	LogTail      []string   `json:"log_tail,omitempty" doc:"Last encoder stderr lines of a failed encode"`
	OutputSize   int64      `json:"output_size,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ElapsedMS    int64      `json:"elapsed_ms,omitempty"`
}

// ExportJobFromModel converts a model to a response.
func ExportJobFromModel(j *models.ExportJob) ExportJobResponse {
	return ExportJobResponse{
		ID:           j.ID.String(),
		State:        string(j.State),
		Progress:     j.Progress,
		Width:        j.Width,
		Height:       j.Height,
		FPS:          j.FPS,
		Quality:      j.Quality,
		Duration:     j.Duration,
		Clips:        j.Clips,
		Backend:      j.Backend,
		Frames:       j.Frames,
		FrameCount:   j.FrameCount,
		ErrorKind:    j.ErrorKind,
		ErrorMessage: j.ErrorMessage,
		LogTail:      j.LogTailLines(),
		OutputSize:   j.OutputSize,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		FinishedAt:   j.FinishedAt,
		ElapsedMS:    j.Elapsed().Milliseconds(),
	}
}

// CapabilitiesResponse describes what the host can export with.
type CapabilitiesResponse struct {
	FFmpegVersion string   `json:"ffmpeg_version"`
	FFmpegPath    string   `json:"ffmpeg_path"`
	FFprobePath   string   `json:"ffprobe_path,omitempty"`
	HWAccels      []string `json:"hw_accels" doc:"Hardware accelerators usable for encoding"`
	Backend       string   `json:"backend" doc:"Backend an auto-mode export would use"`
	Encoder       string   `json:"encoder"`
	FrameReady    string   `json:"frame_ready" doc:"Frame-ready strategy for video decoding"`
	AudioFilters  bool     `json:"audio_filters"`
}

// CapabilitiesFromService converts service capabilities to a response.
func CapabilitiesFromService(c *service.Capabilities) CapabilitiesResponse {
	return CapabilitiesResponse{
		FFmpegVersion: c.FFmpegVersion,
		FFmpegPath:    c.FFmpegPath,
		FFprobePath:   c.FFprobePath,
		HWAccels:      c.HWAccels,
		Backend:       c.Backend,
		Encoder:       c.Encoder,
		FrameReady:    c.FrameReady,
		AudioFilters:  c.AudioFilters,
	}
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status        string         `json:"status" enum:"healthy,degraded"`
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	Uptime        string         `json:"uptime"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	Memory        MemoryInfo     `json:"memory"`
	Database      DatabaseHealth `json:"database"`
	Export        ExportHealth   `json:"export"`
}

// MemoryInfo reports system and process memory.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessMB         float64 `json:"process_mb"`
	ChildProcessMB    float64 `json:"child_process_mb" doc:"Resident memory of child processes such as ffmpeg"`
	ChildProcessCount int     `json:"child_process_count"`
}

// DatabaseHealth reports the history database.
type DatabaseHealth struct {
	Status            string  `json:"status" enum:"ok,error,unknown"`
	Driver            string  `json:"driver,omitempty"`
	ResponseTimeMS    float64 `json:"response_time_ms"`
	OpenConnections   int     `json:"open_connections"`
	ActiveConnections int     `json:"active_connections"`
}

// ExportHealth reports the export slot.
type ExportHealth struct {
	Active bool   `json:"active"`
	JobID  string `json:"job_id,omitempty"`
}
