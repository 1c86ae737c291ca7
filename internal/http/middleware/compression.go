package middleware

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// compressibleTypes lists the response types worth compressing. Rendered
// video is already compressed and is served as-is.
var compressibleTypes = []string{
	"application/json",
	"application/problem+json",
	"application/yaml",
	"text/html",
	"text/plain",
}

// Compress returns a compression middleware offering brotli alongside the
// gzip and deflate encoders chi provides.
func Compress(level int) func(http.Handler) http.Handler {
	c := chimiddleware.NewCompressor(level, compressibleTypes...)
	c.SetEncoder("br", func(w io.Writer, level int) io.Writer {
		return brotli.NewWriterLevel(w, brotliLevel(level))
	})
	return c.Handler
}

// brotliLevel maps a gzip-style level (1-9) onto brotli's 0-11 range.
func brotliLevel(level int) int {
	switch {
	case level <= 0:
		return brotli.DefaultCompression
	case level >= 9:
		return brotli.BestCompression
	default:
		return level
	}
}

// SkipCompressionForOutput wraps a compression middleware so rendered
// output downloads bypass it. Range requests on a compressed body break
// byte offsets.
func SkipCompressionForOutput(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/output") {
				next.ServeHTTP(w, r)
				return
			}
			compressedHandler.ServeHTTP(w, r)
		})
	}
}
