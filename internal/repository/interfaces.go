// Package repository defines data access interfaces for clipforge entities.
// All database access goes through these interfaces.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/clipforge/internal/models"
)

// ExportJobRepository defines operations for export job history.
type ExportJobRepository interface {
	// Create inserts a new job record.
	Create(ctx context.Context, job *models.ExportJob) error
	// Update saves all fields of an existing job.
	Update(ctx context.Context, job *models.ExportJob) error
	// UpdateProgress writes only the state, progress and frame counter.
	UpdateProgress(ctx context.Context, id models.ULID, state models.ExportState, progress float64, frame int) error
	// GetByID retrieves a job by ID, returning nil if it does not exist.
	GetByID(ctx context.Context, id models.ULID) (*models.ExportJob, error)
	// List returns the most recent jobs first. limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]*models.ExportJob, error)
	// Delete removes a job record.
	Delete(ctx context.Context, id models.ULID) error
	// DeleteFinishedBefore removes terminal jobs that finished before the
	// given time and returns the removed records.
	DeleteFinishedBefore(ctx context.Context, before time.Time) ([]*models.ExportJob, error)
	// FailUnfinished marks every non-terminal job as failed. Jobs left
	// running by a previous process are closed out with it on startup.
	FailUnfinished(ctx context.Context, kind, message string) (int64, error)
}
