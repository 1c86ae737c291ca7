package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/clipforge/internal/config"
	"github.com/jmylchreest/clipforge/internal/database"
	"github.com/jmylchreest/clipforge/internal/encoder"
	"github.com/jmylchreest/clipforge/internal/export"
	"github.com/jmylchreest/clipforge/internal/progress"
	"github.com/jmylchreest/clipforge/internal/repository"
	"github.com/jmylchreest/clipforge/internal/service"
	"github.com/jmylchreest/clipforge/internal/storage"
	"github.com/jmylchreest/clipforge/internal/timeline"
)

const outputBytes = "ftyp-moov-mdat"

// blockingRunner stands in for an export job. It blocks until released or
// cancelled when block is set.
type blockingRunner struct {
	id      string
	block   bool
	fail    error
	release chan struct{}

	mu     sync.Mutex
	status export.Status
}

func (r *blockingRunner) set(state export.State, p float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = export.Status{ID: r.id, State: state, Progress: p, FrameCount: 10, StartedAt: time.Now()}
	if state.IsTerminal() {
		r.status.FinishedAt = time.Now()
	}
}

func (r *blockingRunner) Run(ctx context.Context, rep progress.Reporter) (*export.Result, error) {
	r.set(export.StateRendering, 0.5)
	rep.ReportProgress(0.5)
	if r.block {
		select {
		case <-r.release:
		case <-ctx.Done():
			r.set(export.StateFailed, 0.5)
			return nil, fmt.Errorf("%w: %w", export.ErrCancelled, ctx.Err())
		}
	}
	if r.fail != nil {
		r.set(export.StateFailed, 0.5)
		return nil, r.fail
	}
	r.set(export.StateDone, 1)
	return &export.Result{Data: []byte(outputBytes), MIMEType: encoder.MIMEType, Backend: encoder.NameSoftware, Frames: 10}, nil
}

func (r *blockingRunner) Status() export.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

type apiHarness struct {
	api     humatest.TestAPI
	exports *service.ExportService
	db      *database.DB

	mu      sync.Mutex
	block   bool
	fail    error
	runners []*blockingRunner
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	dir := t.TempDir()
	db, err := database.New(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      filepath.Join(dir, "history.db"),
		LogLevel: "silent",
	}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { _ = db.Close() })

	outputs, err := storage.NewOutputStore(filepath.Join(dir, "output"))
	require.NoError(t, err)

	h := &apiHarness{db: db}
	factory := func(id string, _ *timeline.ExportRequest, _ export.Options) service.Runner {
		h.mu.Lock()
		defer h.mu.Unlock()
		r := &blockingRunner{id: id, block: h.block, fail: h.fail, release: make(chan struct{})}
		h.runners = append(h.runners, r)
		return r
	}
	h.exports = service.NewExportService(repository.NewExportJobRepository(db.DB), outputs, factory, service.ExportServiceConfig{
		Defaults:         export.Options{Backend: encoder.ModeAuto},
		MaxWidth:         1920,
		MaxHeight:        1080,
		ProgressInterval: time.Millisecond,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.exports.Shutdown(ctx)
	})

	_, api := humatest.New(t)
	NewExportHandler(h.exports, 1<<20).Register(api)
	NewHealthHandler("1.2.3").WithDB(db).WithExports(h.exports).Register(api)
	h.api = api
	return h
}

func (h *apiHarness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.exports.Wait(ctx))
}

func (h *apiHarness) runner(i int) *blockingRunner {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runners[i]
}

func decodeJSON[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v), "body: %s", body)
	return v
}
