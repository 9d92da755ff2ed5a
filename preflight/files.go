// Package preflight checks everything a training run needs before the
// trainer is launched, and gathers the dataset and model facts logged at
// startup.
package preflight

import (
	"fmt"
	"os"

	"trainwatch/core"
)

// Artifact is an input file the trainer reads.
type Artifact struct {
	Kind string // human-readable role, e.g. "model config"
	Path string
}

// RequiredArtifacts lists the input files a run needs, in check order.
func RequiredArtifacts(cfg *core.Config) []Artifact {
	return []Artifact{
		{Kind: "model config", Path: cfg.ModelConfigPath},
		{Kind: "dataset spec", Path: cfg.DataSpecPath},
		{Kind: "initial weights", Path: cfg.WeightsPath},
		{Kind: "class names", Path: cfg.ClassNamesPath},
		{Kind: "training list", Path: cfg.TrainListPath},
		{Kind: "validation list", Path: cfg.ValidListPath},
	}
}

// FileError describes why a required file cannot be used.
type FileError struct {
	Path    string
	Message string
}

func (e *FileError) Error() string {
	return e.Message
}

// CheckFileExists returns nil if path names an existing regular file,
// or a *FileError otherwise.
func CheckFileExists(path string) error {
	if path == "" {
		return &FileError{Path: path, Message: "file path cannot be empty"}
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &FileError{Path: path, Message: fmt.Sprintf("file not found: %s", path)}
		}
		return &FileError{Path: path, Message: fmt.Sprintf("error checking file %s: %v", path, err)}
	}
	if info.IsDir() {
		return &FileError{Path: path, Message: fmt.Sprintf("path is a directory, not a file: %s", path)}
	}
	return nil
}
