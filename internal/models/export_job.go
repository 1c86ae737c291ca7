package models

import (
	"strings"
	"time"
)

// ExportState mirrors the export lifecycle. It is stored as a string so the
// history survives renames in the pipeline package.
type ExportState string

const (
	ExportStateIdle             ExportState = "idle"
	ExportStateLoadingResources ExportState = "loading_resources"
	ExportStateRendering        ExportState = "rendering"
	ExportStateEncoding         ExportState = "encoding"
	ExportStateMuxing           ExportState = "muxing"
	ExportStateDone             ExportState = "done"
	ExportStateFailed           ExportState = "failed"
)

// Valid reports whether s is one of the known states.
func (s ExportState) Valid() bool {
	switch s {
	case ExportStateIdle, ExportStateLoadingResources, ExportStateRendering,
		ExportStateEncoding, ExportStateMuxing, ExportStateDone, ExportStateFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions follow s.
func (s ExportState) IsTerminal() bool {
	return s == ExportStateDone || s == ExportStateFailed
}

// ExportJob is the persisted record of one export run.
type ExportJob struct {
	BaseModel

	State    ExportState `gorm:"not null;size:32;index" json:"state"`
	Progress float64     `gorm:"not null;default:0" json:"progress"`

	// Request summary.
	Width    int     `gorm:"not null" json:"width"`
	Height   int     `gorm:"not null" json:"height"`
	FPS      float64 `gorm:"column:fps;not null" json:"fps"`
	Quality  string  `gorm:"size:16" json:"quality"`
	Duration float64 `gorm:"not null" json:"duration"`
	Clips    int     `json:"clips"`

	Backend    string `gorm:"size:16" json:"backend,omitempty"`
	Frames     int    `json:"frames"`
	FrameCount int    `json:"frame_count"`

	// Failure details; empty on success.
	ErrorKind    string `gorm:"size:32" json:"error_kind,omitempty"`
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`
	LogTail      string `gorm:"type:text" json:"-"`

	OutputPath string `gorm:"size:1024" json:"-"`
	OutputSize int64  `json:"output_size,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `gorm:"index" json:"finished_at,omitempty"`
}

// TableName returns the table name for export jobs.
func (ExportJob) TableName() string {
	return "export_jobs"
}

// Validate checks the record before it is written.
func (j *ExportJob) Validate() error {
	if !j.State.Valid() {
		return ErrValidation{Field: "state", Message: ErrUnknownState.Error()}
	}
	if j.Progress < 0 || j.Progress > 1 {
		return ErrValidation{Field: "progress", Message: "must be between 0 and 1"}
	}
	return nil
}

// Elapsed returns the wall time of the run, or zero until it has finished.
func (j *ExportJob) Elapsed() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

// SetLogTail stores the encoder's last stderr lines.
func (j *ExportJob) SetLogTail(lines []string) {
	j.LogTail = strings.Join(lines, "\n")
}

// LogTailLines splits the stored stderr tail back into lines.
func (j *ExportJob) LogTailLines() []string {
	if j.LogTail == "" {
		return nil
	}
	return strings.Split(j.LogTail, "\n")
}
