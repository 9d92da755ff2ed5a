package preflight

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// DatasetInfo holds the image counts of the training and validation lists.
type DatasetInfo struct {
	Train int
	Valid int
}

// Total returns the number of images across both lists.
func (d DatasetInfo) Total() int {
	return d.Train + d.Valid
}

// CountDataset counts the entries of both image lists. A line is one image;
// a final line without a newline still counts.
func CountDataset(trainPath, validPath string) (DatasetInfo, error) {
	train, err := countLinesInFile(trainPath)
	if err != nil {
		return DatasetInfo{}, err
	}
	valid, err := countLinesInFile(validPath)
	if err != nil {
		return DatasetInfo{}, err
	}
	return DatasetInfo{Train: train, Valid: valid}, nil
}

func countLinesInFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	n, err := countLines(f)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return n, nil
}

func countLines(r io.Reader) (int, error) {
	br := bufio.NewReader(r)
	count := 0
	pending := false
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			if pending {
				count++
			}
			return count, nil
		}
		if err != nil {
			return 0, err
		}
		if b == '\n' {
			count++
			pending = false
		} else {
			pending = true
		}
	}
}
