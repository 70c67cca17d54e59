// Package file reads keywords from a newline-delimited file.
package file

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// Source reads one keyword per line, skipping blanks and # comments.
type Source struct {
	path string
}

// New builds a Source over the given path.
func New(path string) *Source {
	return &Source{path: path}
}

// Keywords reads the file and returns the keyword list in file order.
func (s *Source) Keywords(ctx context.Context) ([]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open keyword file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	var kws []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		kws = append(kws, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read keyword file: %w", err)
	}
	return kws, nil
}
