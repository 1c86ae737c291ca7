// Package export runs export jobs: it loads a request's resources, renders
// every frame in order, feeds an encoder backend and returns the finished
// MP4, releasing everything it acquired on every exit path.
package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jmylchreest/clipforge/internal/audiograph"
	"github.com/jmylchreest/clipforge/internal/compositor"
	"github.com/jmylchreest/clipforge/internal/encoder"
	"github.com/jmylchreest/clipforge/internal/observability"
	"github.com/jmylchreest/clipforge/internal/progress"
	"github.com/jmylchreest/clipforge/internal/timeline"
)

// State is the state of an export job.
type State string

// Job states.
const (
	StateIdle             State = "idle"
	StateLoadingResources State = "loading_resources"
	StateRendering        State = "rendering"
	StateEncoding         State = "encoding"
	StateMuxing           State = "muxing"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// IsTerminal reports whether s is done or failed.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

var transitions = map[State][]State{
	StateIdle:             {StateLoadingResources},
	StateLoadingResources: {StateRendering},
	StateRendering:        {StateEncoding},
	StateEncoding:         {StateMuxing},
	StateMuxing:           {StateDone},
}

// CanTransition reports whether a job may move from one state to another.
// Failed is reachable from every non-terminal state.
func CanTransition(from, to State) bool {
	if to == StateFailed {
		return !from.IsTerminal()
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Progress stage IDs.
const (
	stageLoad   = "load"
	stageRender = "render"
	stageEncode = "encode"
	stageMux    = "mux"
)

// Renderer produces the composited frame for an instant.
type Renderer interface {
	LoadResources(ctx context.Context) error
	RenderFrame(ctx context.Context, t float64) (*image.RGBA, error)
	Close() error
}

// RendererFactory creates the renderer for a request.
type RendererFactory func(req *timeline.ExportRequest) Renderer

// CompositorFactory returns a factory building compositors with opts.
func CompositorFactory(opts compositor.Options) RendererFactory {
	return func(req *timeline.ExportRequest) Renderer {
		return compositor.New(req, opts)
	}
}

// AudioBuilder builds the audio mix of a request.
type AudioBuilder interface {
	Build(ctx context.Context, req *timeline.ExportRequest) (*audiograph.Graph, error)
}

// BackendSelector creates encoder backends.
type BackendSelector interface {
	Select(mode encoder.Mode) (encoder.Backend, error)
	Software() encoder.Backend
}

// Deps are the collaborators of a job.
type Deps struct {
	Renderers RendererFactory
	Audio     AudioBuilder
	Backends  BackendSelector
	// Memory is optional; without it the pre-check is skipped.
	Memory MemoryProbe
	Logger *slog.Logger
}

// Options tune a job.
type Options struct {
	Backend encoder.Mode
	// MinFreeMemory is the memory that must remain free after the job's
	// estimated working set is allocated.
	MinFreeMemory uint64
}

// Result is a finished export.
type Result struct {
	Data         []byte
	MIMEType     string
	Backend      string
	Frames       int
	Elapsed      time.Duration
	AudioClips   int
	SkippedAudio []*audiograph.ProbeSoftFailure
}

// Status is a snapshot of a job.
type Status struct {
	ID         string
	State      State
	Progress   float64
	Frame      int
	FrameCount int
	Backend    string
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Job is one export of one request. It carries all mutable state of the
// export; nothing is shared between jobs.
type Job struct {
	id     string
	req    *timeline.ExportRequest
	deps   Deps
	opts   Options
	logger *slog.Logger

	mu         sync.RWMutex
	state      State
	progress   float64
	frame      int
	backend    string
	err        error
	started    time.Time
	finished   time.Time
	ran        bool
	onProgress progress.Reporter
}

// NewJob creates a job for req.
func NewJob(id string, req *timeline.ExportRequest, deps Deps, opts Options) *Job {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		id:     id,
		req:    req,
		deps:   deps,
		opts:   opts,
		logger: observability.WithJobID(observability.WithComponent(logger, "export"), id),
		state:  StateIdle,
	}
}

// ID returns the job ID.
func (j *Job) ID() string { return j.id }

// Status returns a snapshot of the job.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Status{
		ID:         j.id,
		State:      j.state,
		Progress:   j.progress,
		Frame:      j.frame,
		FrameCount: j.req.FrameCount(),
		Backend:    j.backend,
		Err:        j.err,
		StartedAt:  j.started,
		FinishedAt: j.finished,
	}
}

func (j *Job) transition(to State) {
	j.mu.Lock()
	from := j.state
	if !CanTransition(from, to) {
		j.mu.Unlock()
		j.logger.Error("invalid export state transition",
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		return
	}
	j.state = to
	j.mu.Unlock()

	j.logger.Debug("export state changed",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}

func (j *Job) currentState() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

func (j *Job) reportProgress(p float64) {
	j.mu.Lock()
	j.progress = p
	rep := j.onProgress
	j.mu.Unlock()
	if rep != nil {
		rep.ReportProgress(p)
	}
}

// Run executes the job. progress, which may be nil, receives monotonically
// non-decreasing values in [0,1]. Every resource is released before Run
// returns, whatever the outcome. Run may only be called once.
func (j *Job) Run(ctx context.Context, reporter progress.Reporter) (res *Result, err error) {
	j.mu.Lock()
	if j.ran {
		j.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	j.ran = true
	j.started = time.Now()
	j.onProgress = reporter
	j.mu.Unlock()

	var (
		renderer Renderer
		backend  encoder.Backend
	)
	defer func() {
		if cerr := j.cleanup(renderer, backend); cerr != nil {
			j.logger.Warn("export cleanup failed", slog.String("error", cerr.Error()))
		}
		j.mu.Lock()
		j.finished = time.Now()
		j.err = err
		j.mu.Unlock()
		if err != nil {
			j.transition(StateFailed)
			j.logger.Error("export failed",
				slog.String("kind", Kind(err)),
				slog.String("error", err.Error()),
			)
			res = nil
			return
		}
		j.transition(StateDone)
		j.logger.Info("export finished",
			slog.String("backend", res.Backend),
			slog.Int("frames", res.Frames),
			slog.Int("bytes", len(res.Data)),
			slog.Duration("elapsed", res.Elapsed),
		)
	}()

	if err := j.req.Validate(); err != nil {
		return nil, &InvalidRequestError{Err: err}
	}
	settings := encoder.SettingsFor(j.req)

	j.transition(StateLoadingResources)
	j.logger.Info("export started",
		slog.Int("width", settings.Width),
		slog.Int("height", settings.Height),
		slog.Float64("fps", settings.FPS),
		slog.Int("frames", settings.FrameCount),
		slog.String("quality", string(settings.Quality)),
	)

	if err := j.checkMemory(ctx); err != nil {
		return nil, err
	}

	backend, err = j.deps.Backends.Select(j.opts.Backend)
	if err != nil {
		return nil, &EncodeExecutionError{Backend: string(j.opts.Backend), Stage: "select", Err: err}
	}
	tracker := progress.NewTracker(j.stages(backend.Name()), progress.Func(j.reportProgress))
	_ = tracker.Start(stageLoad)

	renderer = j.deps.Renderers(j.req)
	if err := renderer.LoadResources(ctx); err != nil {
		return nil, loadError(ctx, err)
	}
	_ = tracker.Set(stageLoad, 0.5)

	graph, err := j.deps.Audio.Build(ctx, j.req)
	if err != nil {
		return nil, loadError(ctx, err)
	}
	_ = tracker.Set(stageLoad, 0.75)

	backend, err = j.configureBackend(ctx, backend, settings)
	if err != nil {
		return nil, err
	}
	j.mu.Lock()
	j.backend = backend.Name()
	j.mu.Unlock()

	// The backend may have fallen back to software; lay the encode and mux
	// bands out for the one that will run. The loading band is the same in
	// every layout, so progress stays monotonic across the swap.
	tracker = progress.NewTracker(j.stages(backend.Name()), progress.Func(j.reportProgress))
	_ = tracker.Complete(stageLoad)

	j.transition(StateRendering)
	_ = tracker.Start(stageRender)
	n := settings.FrameCount
	for f := 0; f < n; f++ {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}
		frame, err := renderer.RenderFrame(ctx, j.req.FrameTime(f))
		if err != nil {
			if ctx.Err() != nil || isContextErr(err) {
				return nil, cancelled(err)
			}
			return nil, fmt.Errorf("rendering frame %d: %w", f, err)
		}
		if err := backend.SubmitFrame(ctx, frame); err != nil {
			return nil, encodeError(ctx, backend.Name(), err)
		}

		j.mu.Lock()
		j.frame = f + 1
		j.mu.Unlock()
		_ = tracker.SetItems(stageRender, f+1, n)
	}

	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}
	j.transition(StateEncoding)
	_ = tracker.Start(stageEncode)

	out, err := backend.Finalize(ctx, graph, func(stage encoder.Stage, f float64) {
		switch stage {
		case encoder.StageMux:
			if j.currentState() == StateEncoding {
				j.transition(StateMuxing)
				_ = tracker.Start(stageMux)
			}
			_ = tracker.Set(stageMux, f)
		default:
			_ = tracker.Set(stageEncode, f)
		}
	})
	if err != nil {
		return nil, encodeError(ctx, backend.Name(), err)
	}
	if j.currentState() == StateEncoding {
		j.transition(StateMuxing)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("reading output: %w", err)
	}
	tracker.Done()

	return &Result{
		Data:         data,
		MIMEType:     encoder.MIMEType,
		Backend:      backend.Name(),
		Frames:       n,
		Elapsed:      time.Since(j.started),
		AudioClips:   len(graph.Chains),
		SkippedAudio: graph.Skipped,
	}, nil
}

// stages lays out the progress bands: loading 10%, rendering 70% and the
// final 20% split between encode and mux by what the backend does there.
func (j *Job) stages(backend string) []progress.StageInfo {
	encode, mux := 0.2, 0.0
	if backend == encoder.NameHardware && j.req.HasAudioClips() {
		encode, mux = 0.05, 0.15
	}
	return []progress.StageInfo{
		{ID: stageLoad, Name: "Loading resources", Weight: 0.1},
		{ID: stageRender, Name: "Rendering", Weight: 0.7},
		{ID: stageEncode, Name: "Encoding", Weight: encode},
		{ID: stageMux, Name: "Muxing", Weight: mux},
	}
}

func (j *Job) checkMemory(ctx context.Context) error {
	if j.deps.Memory == nil {
		return nil
	}
	avail, err := j.deps.Memory.Available(ctx)
	if err != nil {
		j.logger.Warn("skipping memory pre-check", slog.String("error", err.Error()))
		return nil
	}
	need := EstimateMemory(j.req) + j.opts.MinFreeMemory
	if avail < need {
		return &OutOfMemoryError{Required: need, Available: avail}
	}
	return nil
}

// configureBackend configures b; a hardware backend that fails to start in
// auto mode is replaced by the software backend.
func (j *Job) configureBackend(ctx context.Context, b encoder.Backend, s encoder.Settings) (encoder.Backend, error) {
	err := b.Configure(ctx, s)
	if err == nil {
		return b, nil
	}
	if ctx.Err() != nil {
		_ = b.Close()
		return nil, cancelled(ctx.Err())
	}
	if b.Name() == encoder.NameSoftware || (j.opts.Backend != encoder.ModeAuto && j.opts.Backend != "") {
		_ = b.Close()
		return nil, encodeError(ctx, b.Name(), err)
	}

	j.logger.Warn("hardware encoder unavailable, falling back to software",
		slog.String("error", err.Error()),
	)
	_ = b.Close()
	sw := j.deps.Backends.Software()
	if err := sw.Configure(ctx, s); err != nil {
		_ = sw.Close()
		return nil, encodeError(ctx, sw.Name(), err)
	}
	return sw, nil
}

// cleanup releases the renderer's decoders and buffers and the backend's
// processes and staged files.
func (j *Job) cleanup(r Renderer, b encoder.Backend) error {
	var errs []error
	if b != nil {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing encoder: %w", err))
		}
	}
	if r != nil {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("releasing resources: %w", err))
		}
	}
	return errors.Join(errs...)
}
