package urlutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		ref      string
		expected RefKind
	}{
		{"http", "http://example.com/a.png", RefRemote},
		{"https upper", "HTTPS://example.com/a.png", RefRemote},
		{"file", "file:///srv/media/a.mp4", RefFile},
		{"data", "data:image/png;base64,AAAA", RefData},
		{"rtmp", "rtmp://live.example.com/app", RefOther},
		{"absolute", "/srv/media/a.mp4", RefPath},
		{"relative", "media/a.mp4", RefPath},
		{"empty", "", RefPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.ref))
		})
	}
}

func TestIsRemoteURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected bool
	}{
		{"http", "http://example.com", true},
		{"https", "https://example.com", true},
		{"protocol-relative", "//example.com", false},
		{"file", "file:///path/to/file", false},
		{"relative", "/path/to/file", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRemoteURL(tt.url))
		})
	}
}

func TestFilePathFromURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{"triple slash", "file:///srv/media/clip.mp4", "/srv/media/clip.mp4", false},
		{"localhost", "file://localhost/srv/clip.mp4", "/srv/clip.mp4", false},
		{"escaped", "file:///srv/my%20clip.mp4", "/srv/my clip.mp4", false},
		{"remote host", "file://nas/share/clip.mp4", "", true},
		{"empty path", "file://", "", true},
		{"not file", "https://example.com/clip.mp4", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FilePathFromURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve(t *testing.T) {
	base := filepath.Join("/", "projects", "demo")

	tests := []struct {
		name     string
		ref      string
		baseDir  string
		expected string
	}{
		{"relative", "clips/a.mp4", base, filepath.Join(base, "clips/a.mp4")},
		{"relative without base", "clips/a.mp4", "", "clips/a.mp4"},
		{"absolute", "/srv/a.mp4", base, "/srv/a.mp4"},
		{"file url", "file:///srv/a.mp4", base, "/srv/a.mp4"},
		{"remote", "https://cdn.example.com/a.mp4?sig=1", base, "https://cdn.example.com/a.mp4?sig=1"},
		{"other scheme", "rtmp://live/app", base, "rtmp://live/app"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Resolve(tt.ref, tt.baseDir))
		})
	}
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/a.png", Redact("https://user:pw@cdn.example.com/a.png?sig=abc#x"))
	assert.Equal(t, "data:image/png;base64,...", Redact("data:image/png;base64,AAAABBBB"))
	assert.Equal(t, "clips/a.mp4", Redact("clips/a.mp4"))
}
