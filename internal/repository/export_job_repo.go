package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/clipforge/internal/models"
)

var terminalStates = []models.ExportState{models.ExportStateDone, models.ExportStateFailed}

// exportJobRepo implements ExportJobRepository using GORM.
type exportJobRepo struct {
	db *gorm.DB
}

// NewExportJobRepository creates a new ExportJobRepository.
func NewExportJobRepository(db *gorm.DB) *exportJobRepo {
	return &exportJobRepo{db: db}
}

// Create creates a new export job.
func (r *exportJobRepo) Create(ctx context.Context, job *models.ExportJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("creating export job: %w", err)
	}
	return nil
}

// Update updates an existing export job.
func (r *exportJobRepo) Update(ctx context.Context, job *models.ExportJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("updating export job: %w", err)
	}
	return nil
}

// UpdateProgress updates the progress columns of a job.
func (r *exportJobRepo) UpdateProgress(ctx context.Context, id models.ULID, state models.ExportState, progress float64, frame int) error {
	result := r.db.WithContext(ctx).
		Model(&models.ExportJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":    state,
			"progress": progress,
			"frames":   frame,
		})
	if result.Error != nil {
		return fmt.Errorf("updating export job progress: %w", result.Error)
	}
	return nil
}

// GetByID retrieves an export job by ID.
func (r *exportJobRepo) GetByID(ctx context.Context, id models.ULID) (*models.ExportJob, error) {
	var job models.ExportJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting export job by ID: %w", err)
	}
	return &job, nil
}

// List retrieves jobs, most recent first.
func (r *exportJobRepo) List(ctx context.Context, limit int) ([]*models.ExportJob, error) {
	var jobs []*models.ExportJob
	query := r.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("listing export jobs: %w", err)
	}
	return jobs, nil
}

// Delete deletes an export job by ID.
func (r *exportJobRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.ExportJob{}).Error; err != nil {
		return fmt.Errorf("deleting export job: %w", err)
	}
	return nil
}

// DeleteFinishedBefore deletes terminal jobs that finished before the cutoff.
func (r *exportJobRepo) DeleteFinishedBefore(ctx context.Context, before time.Time) ([]*models.ExportJob, error) {
	var removed []*models.ExportJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("state IN ? AND finished_at IS NOT NULL AND finished_at < ?", terminalStates, before).
			Find(&removed).Error; err != nil {
			return err
		}
		if len(removed) == 0 {
			return nil
		}
		ids := make([]models.ULID, len(removed))
		for i, job := range removed {
			ids[i] = job.ID
		}
		return tx.Where("id IN ?", ids).Delete(&models.ExportJob{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("deleting finished export jobs: %w", err)
	}
	return removed, nil
}

// FailUnfinished closes out jobs that never reached a terminal state.
func (r *exportJobRepo) FailUnfinished(ctx context.Context, kind, message string) (int64, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.ExportJob{}).
		Where("state NOT IN ?", terminalStates).
		Updates(map[string]any{
			"state":         models.ExportStateFailed,
			"error_kind":    kind,
			"error_message": message,
			"finished_at":   now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failing unfinished export jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
