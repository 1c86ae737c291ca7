// Package startup provides utilities for application startup tasks.
package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultCleanupAge is the default maximum age for orphaned staging
// directories. A CLI export sharing the staging directory may still be
// writing younger ones.
const DefaultCleanupAge = 1 * time.Hour

// CleanupOrphanedStaging removes frame staging directories left behind by
// exports that never finished, e.g. after a crash or kill -9. Only
// directories named prefix* and last modified more than maxAge ago are
// removed.
//
// Returns the number of directories removed and any error encountered.
func CleanupOrphanedStaging(logger *slog.Logger, stagingDir, prefix string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(stagingDir)
	if os.IsNotExist(err) {
		logger.Debug("staging directory does not exist, skipping cleanup",
			slog.String("path", stagingDir),
		)
		return 0, nil
	}
	if err != nil {
		logger.Error("failed to read staging directory for cleanup",
			slog.String("path", stagingDir),
			slog.String("error", err.Error()),
		)
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}

		dirPath := filepath.Join(stagingDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to stat staging directory",
				slog.String("path", dirPath),
				slog.String("error", err.Error()),
			)
			continue
		}

		age := time.Since(info.ModTime()).Round(time.Second)
		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent staging directory",
				slog.String("path", dirPath),
				slog.Duration("age", age),
			)
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			logger.Warn("failed to remove orphaned staging directory",
				slog.String("path", dirPath),
				slog.String("error", err.Error()),
			)
			continue
		}

		logger.Info("removed orphaned staging directory",
			slog.String("path", dirPath),
			slog.Duration("age", age),
		)
		removed++
	}

	return removed, nil
}
