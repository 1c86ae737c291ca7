// Package service coordinates export jobs with their persisted history and
// published outputs.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jmylchreest/clipforge/internal/encoder"
	"github.com/jmylchreest/clipforge/internal/export"
	"github.com/jmylchreest/clipforge/internal/models"
	"github.com/jmylchreest/clipforge/internal/observability"
	"github.com/jmylchreest/clipforge/internal/progress"
	"github.com/jmylchreest/clipforge/internal/repository"
	"github.com/jmylchreest/clipforge/internal/storage"
	"github.com/jmylchreest/clipforge/internal/timeline"
)

var (
	// ErrJobActive is returned when an export is submitted while another is
	// still running. Only one export runs at a time.
	ErrJobActive = errors.New("an export job is already active")
	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = errors.New("export job not found")
	// ErrOutputUnavailable is returned when a job has no downloadable output.
	ErrOutputUnavailable = errors.New("export output not available")
)

// KindInterrupted marks jobs that were running when the process exited.
const KindInterrupted = "interrupted"

// Runner is the part of an export job the service drives.
type Runner interface {
	Run(ctx context.Context, reporter progress.Reporter) (*export.Result, error)
	Status() export.Status
}

// JobFactory builds the runner for a newly submitted job.
type JobFactory func(id string, req *timeline.ExportRequest, opts export.Options) Runner

// PipelineFactory returns a JobFactory producing export jobs over deps.
func PipelineFactory(deps export.Deps) JobFactory {
	return func(id string, req *timeline.ExportRequest, opts export.Options) Runner {
		return export.NewJob(id, req, deps, opts)
	}
}

// ExportServiceConfig holds the service limits and defaults.
type ExportServiceConfig struct {
	// Defaults apply to every submitted job unless overridden.
	Defaults export.Options
	// MaxWidth and MaxHeight bound accepted requests; zero disables the check.
	MaxWidth  int
	MaxHeight int
	// ProgressInterval is the minimum time between progress writes.
	ProgressInterval time.Duration
}

// SubmitOptions override the service defaults for a single job.
type SubmitOptions struct {
	Backend encoder.Mode
}

// DeleteOutcome says what Delete did.
type DeleteOutcome string

const (
	// DeleteCancelled means the job was active and has been asked to stop.
	DeleteCancelled DeleteOutcome = "cancelled"
	// DeleteRemoved means the record and its output were removed.
	DeleteRemoved DeleteOutcome = "removed"
)

// PruneResult counts what a retention sweep removed.
type PruneResult struct {
	Records int
	Outputs int
}

type activeJob struct {
	id     models.ULID
	record *models.ExportJob
	runner Runner
	cancel context.CancelFunc
	done   chan struct{}
}

// ExportService runs at most one export at a time and records every run.
type ExportService struct {
	repo    repository.ExportJobRepository
	outputs *storage.OutputStore
	newJob  JobFactory
	cfg     ExportServiceConfig
	logger  *slog.Logger

	mu     sync.Mutex
	active *activeJob
	wg     sync.WaitGroup
}

// NewExportService creates a new ExportService.
func NewExportService(
	repo repository.ExportJobRepository,
	outputs *storage.OutputStore,
	newJob JobFactory,
	cfg ExportServiceConfig,
) *ExportService {
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = time.Second
	}
	return &ExportService{
		repo:    repo,
		outputs: outputs,
		newJob:  newJob,
		cfg:     cfg,
		logger:  slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *ExportService) WithLogger(logger *slog.Logger) *ExportService {
	s.logger = observability.WithComponent(logger, "export_service")
	return s
}

// Submit validates req, records a new job and starts it in the background.
// The returned record is a snapshot taken before the job starts.
func (s *ExportService) Submit(ctx context.Context, req *timeline.ExportRequest, opts SubmitOptions) (*models.ExportJob, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		return nil, ErrJobActive
	}

	record := &models.ExportJob{
		BaseModel:  models.BaseModel{ID: models.NewULID()},
		State:      models.ExportStateIdle,
		Width:      req.Width,
		Height:     req.Height,
		FPS:        req.FPS,
		Quality:    string(req.Quality),
		Duration:   req.Duration,
		Clips:      len(req.Clips),
		FrameCount: req.FrameCount(),
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("recording export job: %w", err)
	}

	jobOpts := s.cfg.Defaults
	if opts.Backend != "" {
		jobOpts.Backend = opts.Backend
	}

	// The job outlives the submitting request but keeps its values.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &activeJob{
		id:     record.ID,
		record: record,
		runner: s.newJob(record.ID.String(), req, jobOpts),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.active = a

	s.wg.Add(1)
	go s.run(jobCtx, a)

	s.logger.InfoContext(ctx, "export job submitted",
		slog.String("job_id", record.ID.String()),
		slog.Int("width", req.Width),
		slog.Int("height", req.Height),
		slog.Float64("fps", req.FPS),
		slog.Int("frames", record.FrameCount),
		slog.String("backend", string(jobOpts.Backend)),
	)

	snapshot := *record
	return &snapshot, nil
}

func (s *ExportService) validate(req *timeline.ExportRequest) error {
	if req == nil {
		return &export.InvalidRequestError{Err: errors.New("missing request")}
	}
	if err := req.Validate(); err != nil {
		return &export.InvalidRequestError{Err: err}
	}
	if s.cfg.MaxWidth > 0 && req.Width > s.cfg.MaxWidth {
		return &export.InvalidRequestError{Err: fmt.Errorf("width %d exceeds the configured maximum %d", req.Width, s.cfg.MaxWidth)}
	}
	if s.cfg.MaxHeight > 0 && req.Height > s.cfg.MaxHeight {
		return &export.InvalidRequestError{Err: fmt.Errorf("height %d exceeds the configured maximum %d", req.Height, s.cfg.MaxHeight)}
	}
	return nil
}

func (s *ExportService) run(ctx context.Context, a *activeJob) {
	defer s.wg.Done()
	defer close(a.done)
	defer a.cancel()

	logger := observability.WithJobID(s.logger, a.id.String())
	dbCtx := context.WithoutCancel(ctx)

	reporter := progress.Throttled(progress.Func(func(float64) {
		st := a.runner.Status()
		if err := s.repo.UpdateProgress(dbCtx, a.id, models.ExportState(st.State), st.Progress, st.Frame); err != nil {
			logger.Warn("failed to record export progress", slog.String("error", err.Error()))
		}
	}), s.cfg.ProgressInterval, 0.1)

	res, runErr := a.runner.Run(ctx, reporter)

	record := *a.record
	s.applyStatus(&record, a.runner.Status())

	if runErr == nil {
		if err := s.publish(&record, res); err != nil {
			runErr = err
			record.State = models.ExportStateFailed
			logger.Error("failed to publish export output", slog.String("error", err.Error()))
		}
	}
	if runErr != nil {
		record.State = models.ExportStateFailed
		record.ErrorKind = export.Kind(runErr)
		record.ErrorMessage = runErr.Error()
		record.SetLogTail(export.LogTail(runErr))
	}

	if err := s.repo.Update(dbCtx, &record); err != nil {
		logger.Error("failed to record export result", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()

	if runErr != nil {
		logger.Warn("export job failed",
			slog.String("kind", record.ErrorKind),
			slog.String("error", record.ErrorMessage),
		)
		return
	}
	logger.Info("export job finished",
		slog.String("backend", record.Backend),
		slog.Int("frames", record.Frames),
		slog.Int64("output_size", record.OutputSize),
		slog.Duration("elapsed", record.Elapsed()),
	)
}

func (s *ExportService) publish(record *models.ExportJob, res *export.Result) error {
	id := record.ID.String()
	size, err := s.outputs.Save(id, bytes.NewReader(res.Data))
	if err != nil {
		return fmt.Errorf("saving output: %w", err)
	}
	path, err := s.outputs.Path(id)
	if err != nil {
		return fmt.Errorf("resolving output path: %w", err)
	}
	record.OutputPath = path
	record.OutputSize = size
	record.Frames = res.Frames
	record.Backend = res.Backend
	return nil
}

func (s *ExportService) applyStatus(record *models.ExportJob, st export.Status) {
	record.State = models.ExportState(st.State)
	record.Progress = st.Progress
	record.Frames = st.Frame
	if st.FrameCount > 0 {
		record.FrameCount = st.FrameCount
	}
	if st.Backend != "" {
		record.Backend = st.Backend
	}
	if !st.StartedAt.IsZero() {
		started := st.StartedAt
		record.StartedAt = &started
	}
	if !st.FinishedAt.IsZero() {
		finished := st.FinishedAt
		record.FinishedAt = &finished
	}
}

// overlay replaces the persisted progress of the active job with its live
// status.
func (s *ExportService) overlay(record *models.ExportJob) {
	s.mu.Lock()
	a := s.active
	s.mu.Unlock()
	if a == nil || a.id != record.ID {
		return
	}
	st := a.runner.Status()
	if st.State.IsTerminal() {
		// Run has returned; the result is about to be written.
		return
	}
	s.applyStatus(record, st)
}

// Get returns the job with the given ID.
func (s *ExportService) Get(ctx context.Context, id models.ULID) (*models.ExportJob, error) {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrJobNotFound
	}
	s.overlay(record)
	return record, nil
}

// List returns the most recent jobs first.
func (s *ExportService) List(ctx context.Context, limit int) ([]*models.ExportJob, error) {
	records, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		s.overlay(r)
	}
	return records, nil
}

// Output opens the published container of a finished job. The caller closes
// the file.
func (s *ExportService) Output(ctx context.Context, id models.ULID) (*os.File, int64, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if record.State != models.ExportStateDone {
		return nil, 0, ErrOutputUnavailable
	}
	f, size, err := s.outputs.Open(id.String())
	if errors.Is(err, storage.ErrOutputNotFound) {
		return nil, 0, ErrOutputUnavailable
	}
	return f, size, err
}

// Delete cancels the job if it is active. Otherwise it removes the record
// and its output.
func (s *ExportService) Delete(ctx context.Context, id models.ULID) (DeleteOutcome, error) {
	s.mu.Lock()
	a := s.active
	s.mu.Unlock()
	if a != nil && a.id == id {
		a.cancel()
		s.logger.InfoContext(ctx, "export job cancellation requested", slog.String("job_id", id.String()))
		return DeleteCancelled, nil
	}

	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", ErrJobNotFound
	}
	if err := s.outputs.Delete(id.String()); err != nil {
		return "", fmt.Errorf("deleting output: %w", err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "export job removed", slog.String("job_id", id.String()))
	return DeleteRemoved, nil
}

// Active returns the ID of the running job, if any.
func (s *ExportService) Active() (models.ULID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return models.ULID{}, false
	}
	return s.active.id, true
}

// Wait blocks until no job is running or ctx ends.
func (s *ExportService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels the active job and waits for it to record its result.
func (s *ExportService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.active != nil {
		s.active.cancel()
	}
	s.mu.Unlock()
	return s.Wait(ctx)
}

// Recover marks jobs left unfinished by a previous process as failed.
func (s *ExportService) Recover(ctx context.Context) (int64, error) {
	n, err := s.repo.FailUnfinished(ctx, KindInterrupted, "export interrupted by process exit")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.WarnContext(ctx, "marked interrupted export jobs as failed", slog.Int64("count", n))
	}
	return n, nil
}

// Prune removes finished jobs and outputs older than before. Outputs with no
// surviving record are removed too.
func (s *ExportService) Prune(ctx context.Context, before time.Time) (PruneResult, error) {
	removed, err := s.repo.DeleteFinishedBefore(ctx, before)
	if err != nil {
		return PruneResult{}, err
	}

	var errs []error
	result := PruneResult{Records: len(removed)}
	for _, r := range removed {
		if r.OutputPath == "" {
			continue
		}
		if err := s.outputs.Delete(r.ID.String()); err != nil {
			errs = append(errs, err)
			continue
		}
		result.Outputs++
	}

	orphans, err := s.outputs.PruneOlderThan(before)
	if err != nil {
		errs = append(errs, err)
	}
	result.Outputs += len(orphans)

	return result, errors.Join(errs...)
}
