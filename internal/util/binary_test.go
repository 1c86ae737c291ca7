package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, mode os.FileMode) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"), mode))
	return p
}

func TestFindBinary(t *testing.T) {
	dir := t.TempDir()
	exe := writeFile(t, dir, "clipforge-fake-ffmpeg", 0o755)
	plain := writeFile(t, dir, "clipforge-not-exec", 0o644)

	tests := []struct {
		name      string
		binary    string
		env       string
		extraDirs []string
		want      string
		wantErr   bool
	}{
		{name: "env override wins over PATH", binary: "ls", env: exe, want: exe},
		{name: "extra dir searched before PATH", binary: "clipforge-fake-ffmpeg", extraDirs: []string{"", dir}, want: exe},
		{name: "missing env path falls through", binary: "clipforge-fake-ffmpeg", env: "/nonexistent/ffmpeg", extraDirs: []string{dir}, want: exe},
		{name: "non executable env path falls through", binary: "clipforge-fake-ffmpeg", env: plain, extraDirs: []string{dir}, want: exe},
		{name: "non executable file is not found", binary: "clipforge-not-exec", extraDirs: []string{dir}, wantErr: true},
		{name: "unknown binary", binary: "definitely-nonexistent-binary-12345", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CLIPFORGE_TEST_BINARY", tt.env)

			got, err := FindBinary(tt.binary, "CLIPFORGE_TEST_BINARY", tt.extraDirs...)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "not found")
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindBinary_PATH(t *testing.T) {
	dir := t.TempDir()
	exe := writeFile(t, dir, "clipforge-on-path", 0o755)
	t.Setenv("PATH", dir)

	got, err := FindBinary("clipforge-on-path", "")
	require.NoError(t, err)
	assert.Equal(t, exe, got)
}
