package handlers

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/jmylchreest/clipforge/internal/database"
	"github.com/jmylchreest/clipforge/internal/models"
)

// ActiveExport reports the running export, if any.
type ActiveExport interface {
	Active() (models.ULID, bool)
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *database.DB
	exports   ActiveExport
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *database.DB) *HealthHandler {
	h.db = db
	return h
}

// WithExports sets the export service whose slot is reported.
func (h *HealthHandler) WithExports(exports ActiveExport) *HealthHandler {
	h.exports = exports
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns liveness plus memory, database and export slot status",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service. It always answers 200
// while the process is serving; a failing database only degrades the status.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	dbHealth := h.getDatabaseHealth(ctx)
	status := "healthy"
	if dbHealth.Status == "error" {
		status = "degraded"
	}

	var exportHealth ExportHealth
	if h.exports != nil {
		if id, ok := h.exports.Active(); ok {
			exportHealth = ExportHealth{Active: true, JobID: id.String()}
		}
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			Memory:        h.getMemoryInfo(ctx),
			Database:      dbHealth,
			Export:        exportHealth,
		},
	}, nil
}

func (h *HealthHandler) getMemoryInfo(ctx context.Context) MemoryInfo {
	info := MemoryInfo{}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		info.TotalMemoryMB = toMB(vm.Total)
		info.UsedMemoryMB = toMB(vm.Used)
		info.AvailableMemoryMB = toMB(vm.Available)
	}

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())) //nolint:gosec // pids fit in int32
	if err != nil {
		return info
	}
	if m, err := proc.MemoryInfoWithContext(ctx); err == nil && m != nil {
		info.ProcessMB = toMB(m.RSS)
	}

	// Children are the ffmpeg encoder and decoder processes of a running export.
	children, err := proc.ChildrenWithContext(ctx)
	if err == nil {
		info.ChildProcessCount = len(children)
		for _, child := range children {
			if m, err := child.MemoryInfoWithContext(ctx); err == nil && m != nil {
				info.ChildProcessMB += toMB(m.RSS)
			}
		}
	}

	return info
}

func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	if h.db == nil {
		return DatabaseHealth{Status: "unknown"}
	}

	health := DatabaseHealth{Status: "ok", Driver: h.db.Driver()}

	stats, err := h.db.PoolStats()
	if err != nil {
		health.Status = "error"
		return health
	}
	health.OpenConnections = stats.OpenConnections
	health.ActiveConnections = stats.InUse

	start := time.Now()
	err = h.db.Ping(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		health.Status = "error"
	}
	return health
}

func toMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
