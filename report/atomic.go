package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// tempMarker tags every temporary file this package creates. Cleanup globs
// only names carrying it, so unrelated files in the output directory survive.
const tempMarker = ".trainwatch-"

// tempPrefix is the hidden temp-file prefix for the artifact at path.
func tempPrefix(path string) string {
	return "." + filepath.Base(path) + tempMarker
}

// TempPattern returns the glob matching temp files left behind for the
// artifact at path if the process dies between create and rename.
func TempPattern(path string) string {
	return filepath.Join(filepath.Dir(path), tempPrefix(path)+"*")
}

// TempPatterns returns the temp-file glob of every artifact.
func (p Paths) TempPatterns() []string {
	var out []string
	for _, path := range []string{p.Report, p.ProgressImage, p.FinalImage} {
		if path != "" {
			out = append(out, TempPattern(path))
		}
	}
	return out
}

// writeFileAtomic writes into a temporary sibling of path and renames it
// into place, so readers never see a half-written artifact.
func writeFileAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix(path)+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err = os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
