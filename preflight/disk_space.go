package preflight

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultMinFreeBytes is the free space below which the disk step warns.
// darknet writes a full weights file to the backup directory every few
// hundred iterations.
const DefaultMinFreeBytes int64 = 2 << 30

// FreeSpace returns the bytes available to the current user on the
// filesystem holding path. A path that does not exist yet is resolved
// through its nearest existing parent.
func FreeSpace(path string) (int64, error) {
	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("cannot resolve %s: %w", path, err)
	}
	for {
		if _, err := os.Stat(abs); err == nil {
			break
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return 0, fmt.Errorf("no existing parent for %s", path)
		}
		abs = parent
	}

	_, free, err := getDiskSpace(abs)
	if err != nil {
		return 0, fmt.Errorf("failed to get disk space for %s: %w", abs, err)
	}
	return free, nil
}

// formatBytes renders a byte count with binary units.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
