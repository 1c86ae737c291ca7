package export

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/clipforge/internal/compositor"
	"github.com/jmylchreest/clipforge/internal/encoder"
)

// ErrCancelled is returned when the job's context ends before completion.
// The returned error also wraps the context's error.
var ErrCancelled = errors.New("export cancelled")

// ErrAlreadyRun is returned when Run is called on a job a second time.
var ErrAlreadyRun = errors.New("export job already run")

// Error kinds, as reported by Kind and stored in job history.
const (
	KindInvalidRequest = "invalid_request"
	KindResourceLoad   = "resource_load"
	KindOutOfMemory    = "out_of_memory"
	KindEncode         = "encode_execution"
	KindAudioMux       = "audio_mux"
	KindCancelled      = "cancelled"
	KindInternal       = "internal"
)

// ResourceLoadError reports a media asset that could not be fetched or
// decoded while loading.
type ResourceLoadError struct {
	ClipID string
	Ref    string
	Err    error
}

func (e *ResourceLoadError) Error() string {
	switch {
	case e.ClipID != "" && e.Ref != "":
		return fmt.Sprintf("loading %s for clip %s: %v", e.Ref, e.ClipID, e.Err)
	case e.ClipID != "":
		return fmt.Sprintf("loading clip %s: %v", e.ClipID, e.Err)
	case e.Ref != "":
		return fmt.Sprintf("loading %s: %v", e.Ref, e.Err)
	}
	return fmt.Sprintf("loading resources: %v", e.Err)
}

func (e *ResourceLoadError) Unwrap() error { return e.Err }

// OutOfMemoryError reports an export that ran out of memory or staging
// space. Required and Available are zero when the failure was detected while
// writing rather than by the pre-check.
type OutOfMemoryError struct {
	Required  uint64
	Available uint64
	Err       error
}

// Suggestion is the advice shown to users.
const Suggestion = "try a lower resolution or a shorter duration"

func (e *OutOfMemoryError) Error() string {
	if e.Required > 0 {
		return fmt.Sprintf("not enough memory for export: need about %s, %s available; %s",
			humanize.IBytes(e.Required), humanize.IBytes(e.Available), Suggestion)
	}
	return fmt.Sprintf("out of memory writing frames: %v; %s", e.Err, Suggestion)
}

func (e *OutOfMemoryError) Unwrap() error { return e.Err }

// EncodeExecutionError reports a failed encode pass. LogTail holds the last
// lines of the encoder's diagnostics.
type EncodeExecutionError struct {
	Backend string
	Stage   string
	LogTail []string
	Err     error
}

func (e *EncodeExecutionError) Error() string {
	msg := fmt.Sprintf("%s encoder: %v", e.Backend, e.Err)
	if e.Stage != "" {
		msg = fmt.Sprintf("%s encoder: %s: %v", e.Backend, e.Stage, e.Err)
	}
	return msg
}

func (e *EncodeExecutionError) Unwrap() error { return e.Err }

// AudioMuxError reports that the video encoded but adding the audio mix
// failed.
type AudioMuxError struct {
	LogTail []string
	Err     error
}

func (e *AudioMuxError) Error() string {
	return fmt.Sprintf("video encoded but audio could not be added: %v", e.Err)
}

func (e *AudioMuxError) Unwrap() error { return e.Err }

// Kind classifies err for reporting.
func Kind(err error) string {
	var (
		rl  *ResourceLoadError
		oom *OutOfMemoryError
		enc *EncodeExecutionError
		am  *AudioMuxError
		inv *InvalidRequestError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.As(err, &inv):
		return KindInvalidRequest
	case errors.As(err, &rl):
		return KindResourceLoad
	case errors.As(err, &oom):
		return KindOutOfMemory
	case errors.As(err, &am):
		return KindAudioMux
	case errors.As(err, &enc):
		return KindEncode
	}
	return KindInternal
}

// LogTail returns the encoder diagnostics carried by err, if any.
func LogTail(err error) []string {
	var enc *EncodeExecutionError
	if errors.As(err, &enc) {
		return enc.LogTail
	}
	var am *AudioMuxError
	if errors.As(err, &am) {
		return am.LogTail
	}
	return nil
}

// InvalidRequestError wraps a request validation failure.
type InvalidRequestError struct {
	Err error
}

func (e *InvalidRequestError) Error() string { return "invalid export request: " + e.Err.Error() }

func (e *InvalidRequestError) Unwrap() error { return e.Err }

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func isExhausted(err error) bool {
	return errors.Is(err, syscall.ENOMEM) || errors.Is(err, syscall.ENOSPC)
}

// loadError maps a compositor load failure onto the taxonomy.
func loadError(ctx context.Context, err error) error {
	if ctx.Err() != nil || isContextErr(err) {
		return cancelled(err)
	}
	var le *compositor.LoadError
	if errors.As(err, &le) {
		return &ResourceLoadError{ClipID: le.ClipID, Ref: le.Ref, Err: le.Err}
	}
	return &ResourceLoadError{Err: err}
}

// encodeError maps a backend failure onto the taxonomy.
func encodeError(ctx context.Context, backend string, err error) error {
	if ctx.Err() != nil || isContextErr(err) {
		return cancelled(err)
	}
	if isExhausted(err) {
		return &OutOfMemoryError{Err: err}
	}
	var am *encoder.AudioMuxError
	if errors.As(err, &am) {
		return &AudioMuxError{LogTail: am.LogTail, Err: am.Err}
	}
	var ee *encoder.ExecError
	if errors.As(err, &ee) {
		return &EncodeExecutionError{Backend: backend, Stage: ee.Stage, LogTail: ee.LogTail, Err: ee.Err}
	}
	return &EncodeExecutionError{Backend: backend, Err: err}
}
