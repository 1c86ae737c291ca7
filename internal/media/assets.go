package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // decoders for still assets
	_ "image/png"
	"net/url"
	"os"
	"strings"

	_ "golang.org/x/image/webp"

	"github.com/jmylchreest/clipforge/internal/animimage"
	"github.com/jmylchreest/clipforge/internal/httpclient"
	"github.com/jmylchreest/clipforge/internal/urlutil"
)

// Fetcher downloads remote assets.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, string, error)
}

// AssetLoader reads image assets referenced by clips and backgrounds.
// Supported references: http(s) URLs, file:// URLs, data: URIs and plain
// filesystem paths (relative paths resolve against BaseDir).
type AssetLoader struct {
	fetcher Fetcher
	baseDir string
}

// NewAssetLoader creates a loader. A nil fetcher uses httpclient defaults.
func NewAssetLoader(fetcher Fetcher, baseDir string) *AssetLoader {
	if fetcher == nil {
		fetcher = httpclient.NewWithDefaults()
	}
	return &AssetLoader{fetcher: fetcher, baseDir: baseDir}
}

// Load returns the raw bytes behind ref.
func (l *AssetLoader) Load(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, errors.New("empty asset reference")
	}
	switch urlutil.Classify(ref) {
	case urlutil.RefRemote:
		data, _, err := l.fetcher.Fetch(ctx, ref)
		return data, err
	case urlutil.RefData:
		return decodeDataURI(ref)
	case urlutil.RefFile:
		path, err := urlutil.FilePathFromURL(ref)
		if err != nil {
			return nil, err
		}
		return os.ReadFile(path)
	case urlutil.RefOther:
		return nil, fmt.Errorf("unsupported asset scheme: %s", urlutil.Redact(ref))
	default:
		return os.ReadFile(l.ResolvePath(ref))
	}
}

// ResolvePath maps a local reference to a filesystem path. Remote and data
// references are returned unchanged, which also suits ffmpeg inputs.
func (l *AssetLoader) ResolvePath(ref string) string {
	return urlutil.Resolve(ref, l.baseDir)
}

// LoadImage loads and decodes a still image.
func (l *AssetLoader) LoadImage(ctx context.Context, ref string) (image.Image, error) {
	data, err := l.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image %s: %w", urlutil.Redact(ref), err)
	}
	return img, nil
}

// LoadAnimation loads an animated sticker. Containers that fail to decode as
// animations fall back to a single static frame.
func (l *AssetLoader) LoadAnimation(ctx context.Context, ref string) (*animimage.Animation, error) {
	data, err := l.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	return animimage.Decode(data)
}

func decodeDataURI(ref string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, errors.New("malformed data URI")
	}
	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decoding data URI: %w", err)
		}
		return data, nil
	}
	s, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding data URI: %w", err)
	}
	return []byte(s), nil
}
