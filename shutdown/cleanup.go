package shutdown

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"trainwatch/core"
	"trainwatch/logging"
)

// CleanupTempFiles returns a cleanup step removing regular files matching any
// of patterns, such as the half-written artifacts left when a render or report
// write was cut short. Each pattern is a full path glob. Failures are logged
// and never fail shutdown.
func CleanupTempFiles(logger *logging.Logger, patterns ...string) core.ShutdownFunc {
	return func(ctx context.Context) error {
		var matches []string
		for _, pattern := range patterns {
			m, err := filepath.Glob(pattern)
			if err != nil {
				logger.Warn("Invalid temp file pattern", zap.String("pattern", pattern), zap.Error(err))
				continue
			}
			matches = append(matches, m...)
		}

		removed := 0
		for _, path := range matches {
			if ctx.Err() != nil {
				logger.Warn("Shutdown deadline reached during temp cleanup",
					zap.Int("removed", removed),
					zap.Int("remaining", len(matches)-removed),
				)
				return nil
			}
			info, err := os.Lstat(path)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			if err := os.Remove(path); err != nil {
				logger.Warn("Failed to remove temp file", zap.String("file", path), zap.Error(err))
				continue
			}
			removed++
		}

		if removed > 0 {
			logger.Info("Removed leftover temp files", zap.Int("count", removed))
		}
		return nil
	}
}
