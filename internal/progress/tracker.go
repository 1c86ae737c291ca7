package progress

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrStageNotFound is returned for an unknown stage ID.
var ErrStageNotFound = errors.New("stage not found")

// Tracker maps per-stage progress onto fixed bands of [0,1]. Stage i owns
// the band after the bands of stages 0..i-1, sized by its weight, so the
// overall value never depends on how much work a stage turns out to have.
// The reported value never decreases.
type Tracker struct {
	mu       sync.Mutex
	stages   []StageInfo
	starts   []float64
	spans    []float64
	overall  float64
	reporter Reporter
	now      func() time.Time
}

// NewTracker creates a tracker over stages. A nil reporter discards updates.
func NewTracker(stages []StageInfo, reporter Reporter) *Tracker {
	if reporter == nil {
		reporter = NilReporter{}
	}
	t := &Tracker{
		stages:   make([]StageInfo, len(stages)),
		starts:   make([]float64, len(stages)),
		spans:    make([]float64, len(stages)),
		reporter: reporter,
		now:      time.Now,
	}
	copy(t.stages, stages)

	var total float64
	for _, s := range stages {
		total += math.Max(0, s.Weight)
	}
	var pos float64
	for i := range t.stages {
		t.stages[i].State = StatePending
		t.stages[i].Progress = 0
		if total > 0 {
			t.spans[i] = math.Max(0, t.stages[i].Weight) / total
		}
		t.starts[i] = pos
		pos += t.spans[i]
	}
	return t
}

func (t *Tracker) index(id string) (int, error) {
	for i := range t.stages {
		if t.stages[i].ID == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrStageNotFound, id)
}

// Band returns the [start, end) interval stage id occupies.
func (t *Tracker) Band(id string) (float64, float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, err := t.index(id)
	if err != nil {
		return 0, 0, err
	}
	return t.starts[i], t.starts[i] + t.spans[i], nil
}

// Start marks stage id as running and completes every earlier stage.
func (t *Tracker) Start(id string) error {
	return t.update(id, func(i int, s *StageInfo) {
		for j := 0; j < i; j++ {
			if t.stages[j].State == StatePending || t.stages[j].State == StateRunning {
				t.finish(j)
			}
		}
		now := t.now()
		s.State = StateRunning
		s.StartedAt = &now
	})
}

// Set records the completion fraction of stage id.
func (t *Tracker) Set(id string, fraction float64) error {
	return t.update(id, func(_ int, s *StageInfo) {
		if s.State == StatePending {
			now := t.now()
			s.State = StateRunning
			s.StartedAt = &now
		}
		s.Progress = math.Max(s.Progress, clamp01(fraction))
	})
}

// SetItems records item-level progress of stage id.
func (t *Tracker) SetItems(id string, current, total int) error {
	return t.update(id, func(_ int, s *StageInfo) {
		s.Current, s.Total = current, total
		if total > 0 {
			s.Progress = math.Max(s.Progress, clamp01(float64(current)/float64(total)))
		}
		if s.State == StatePending {
			now := t.now()
			s.State = StateRunning
			s.StartedAt = &now
		}
	})
}

// Complete marks stage id as finished.
func (t *Tracker) Complete(id string) error {
	return t.update(id, func(i int, _ *StageInfo) { t.finish(i) })
}

// Skip marks stage id as not needed; its band counts as done.
func (t *Tracker) Skip(id string) error {
	return t.update(id, func(_ int, s *StageInfo) {
		s.State = StateSkipped
		s.Progress = 1
	})
}

// Done completes every stage and reports 1.
func (t *Tracker) Done() {
	t.mu.Lock()
	for i := range t.stages {
		if t.stages[i].State != StateSkipped && t.stages[i].State != StateCompleted {
			t.finish(i)
		}
	}
	t.overall = 1
	t.mu.Unlock()
	t.reporter.ReportProgress(1)
}

// Overall returns the last reported value.
func (t *Tracker) Overall() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.overall
}

// Stages returns a copy of the stage list.
func (t *Tracker) Stages() []StageInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StageInfo, len(t.stages))
	copy(out, t.stages)
	return out
}

func (t *Tracker) finish(i int) {
	now := t.now()
	t.stages[i].State = StateCompleted
	t.stages[i].Progress = 1
	t.stages[i].CompletedAt = &now
}

func (t *Tracker) update(id string, fn func(int, *StageInfo)) error {
	t.mu.Lock()
	i, err := t.index(id)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	fn(i, &t.stages[i])

	var v float64
	for j := range t.stages {
		v += t.spans[j] * t.stages[j].Progress
	}
	v = clamp01(v)
	changed := v > t.overall
	if changed {
		t.overall = v
	}
	t.mu.Unlock()

	if changed {
		t.reporter.ReportProgress(v)
	}
	return nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}
