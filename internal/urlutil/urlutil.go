// Package urlutil classifies the media references found in export requests.
package urlutil

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// URL scheme constants.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeFile  = "file"
	SchemeData  = "data"
)

// RefKind says where a media reference points.
type RefKind int

const (
	// RefPath is a plain filesystem path, absolute or relative.
	RefPath RefKind = iota
	// RefRemote is an http or https URL.
	RefRemote
	// RefFile is a file:// URL.
	RefFile
	// RefData is an inline data: URI.
	RefData
	// RefOther is a URL with any other scheme, e.g. rtmp://. Only ffmpeg
	// can read these.
	RefOther
)

// Classify returns the kind of ref.
func Classify(ref string) RefKind {
	switch {
	case IsRemoteURL(ref):
		return RefRemote
	case IsFileURL(ref):
		return RefFile
	case IsDataURI(ref):
		return RefData
	case strings.Contains(ref, "://"):
		return RefOther
	}
	return RefPath
}

// IsRemoteURL reports whether u is an http or https URL.
func IsRemoteURL(u string) bool {
	lower := strings.ToLower(u)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// IsFileURL checks if a URL uses the file:// scheme.
func IsFileURL(u string) bool {
	return strings.HasPrefix(strings.ToLower(u), "file://")
}

// IsDataURI reports whether u is an inline data: URI.
func IsDataURI(u string) bool {
	return strings.HasPrefix(strings.ToLower(u), "data:")
}

// FilePathFromURL extracts the file path from a file:// URL.
// Both file:///path and file://localhost/path are accepted.
func FilePathFromURL(u string) (string, error) {
	if !IsFileURL(u) {
		return "", fmt.Errorf("not a file:// URL: %s", u)
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Host != "" && parsed.Host != "localhost" {
		return "", fmt.Errorf("file URL with remote host %q: %s", parsed.Host, u)
	}
	if parsed.Path == "" {
		return "", fmt.Errorf("empty path in file URL: %s", u)
	}
	return parsed.Path, nil
}

// Resolve maps ref to something ffmpeg or the filesystem can open. File URLs
// become paths, relative paths are joined to baseDir and everything else is
// returned unchanged.
func Resolve(ref, baseDir string) string {
	switch Classify(ref) {
	case RefFile:
		if p, err := FilePathFromURL(ref); err == nil {
			return p
		}
	case RefPath:
		if baseDir != "" && !filepath.IsAbs(ref) {
			return filepath.Join(baseDir, ref)
		}
	}
	return ref
}

// Redact returns u with its query and userinfo removed, for messages that
// may be shown to users. Non-URL references are returned unchanged.
func Redact(u string) string {
	switch Classify(u) {
	case RefPath:
		return u
	case RefData:
		meta, _, _ := strings.Cut(u, ",")
		return meta + ",..."
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	parsed.User = nil
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String()
}
