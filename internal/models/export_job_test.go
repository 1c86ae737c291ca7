package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportState(t *testing.T) {
	tests := []struct {
		state    ExportState
		valid    bool
		terminal bool
	}{
		{ExportStateIdle, true, false},
		{ExportStateLoadingResources, true, false},
		{ExportStateRendering, true, false},
		{ExportStateEncoding, true, false},
		{ExportStateMuxing, true, false},
		{ExportStateDone, true, true},
		{ExportStateFailed, true, true},
		{"paused", false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.state.Valid())
			assert.Equal(t, tt.terminal, tt.state.IsTerminal())
		})
	}
}

func TestExportJob_Validate(t *testing.T) {
	tests := []struct {
		name    string
		job     ExportJob
		wantErr string
	}{
		{"valid", ExportJob{State: ExportStateRendering, Progress: 0.5}, ""},
		{"unknown state", ExportJob{State: "paused"}, "state"},
		{"progress above one", ExportJob{State: ExportStateDone, Progress: 1.2}, "progress"},
		{"negative progress", ExportJob{State: ExportStateIdle, Progress: -0.1}, "progress"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr ErrValidation
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantErr, verr.Field)
		})
	}
}

func TestExportJob_Elapsed(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(42 * time.Second)

	job := &ExportJob{StartedAt: &start}
	assert.Zero(t, job.Elapsed())

	job.FinishedAt = &end
	assert.Equal(t, 42*time.Second, job.Elapsed())
}

func TestExportJob_LogTail(t *testing.T) {
	job := &ExportJob{}
	assert.Nil(t, job.LogTailLines())

	job.SetLogTail([]string{"frame=  10", "Conversion failed!"})
	assert.Equal(t, "frame=  10\nConversion failed!", job.LogTail)
	assert.Equal(t, []string{"frame=  10", "Conversion failed!"}, job.LogTailLines())
}
