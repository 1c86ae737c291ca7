// Package progress tracks weighted, multi-stage progress and reports a single
// monotonic fraction for the whole operation.
package progress

import "time"

// State is the state of a stage.
type State string

const (
	// StatePending indicates the stage has not started.
	StatePending State = "pending"
	// StateRunning indicates the stage is in progress.
	StateRunning State = "running"
	// StateCompleted indicates the stage finished.
	StateCompleted State = "completed"
	// StateSkipped indicates the stage was not needed.
	StateSkipped State = "skipped"
)

// StageInfo describes a single stage within an operation.
type StageInfo struct {
	// ID is the unique identifier for the stage.
	ID string `json:"id"`
	// Name is the human-readable stage name.
	Name string `json:"name"`
	// Weight is the share of the overall band this stage owns. Weights are
	// normalised, so they need not sum to 1.
	Weight float64 `json:"weight"`
	// State is the current state of the stage.
	State State `json:"state"`
	// Progress is the completion within this stage (0.0 to 1.0).
	Progress float64 `json:"progress"`
	// Current is the number of items processed.
	Current int `json:"current"`
	// Total is the total number of items to process.
	Total int `json:"total"`
	// StartedAt is when the stage started.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the stage completed.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Reporter receives overall progress updates.
type Reporter interface {
	// ReportProgress reports overall progress in [0,1].
	ReportProgress(progress float64)
}

// Func adapts a function to Reporter.
type Func func(progress float64)

// ReportProgress calls f.
func (f Func) ReportProgress(progress float64) {
	if f != nil {
		f(progress)
	}
}

// NilReporter is a no-op Reporter for when progress tracking is disabled.
type NilReporter struct{}

// ReportProgress is a no-op for NilReporter.
func (NilReporter) ReportProgress(float64) {}

var (
	_ Reporter = Func(nil)
	_ Reporter = NilReporter{}
)
