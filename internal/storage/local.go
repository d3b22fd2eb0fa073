package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"medtext-backend/internal/pipeline"
)

type LocalSourceParams struct {
	Dir string
}

// LocalSource reads every .jsonl file under its directory, in lexical order
// so repeated loads of the same directory see the same note order.
type LocalSource struct {
	params LocalSourceParams
}

var _ Source = (*LocalSource)(nil)

func NewLocalSource(params LocalSourceParams) *LocalSource {
	return &LocalSource{params: params}
}

func (s *LocalSource) LoadNotes(ctx context.Context) ([]pipeline.Note, error) {
	var paths []string
	err := filepath.WalkDir(s.params.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", s.params.Dir, err)
	}
	sort.Strings(paths)

	var notes []pipeline.Note
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}

		fileNotes, err := decodeNotes(file, filepath.Base(path))
		file.Close()
		if err != nil {
			return nil, err
		}
		notes = append(notes, fileNotes...)
	}

	return notes, nil
}
