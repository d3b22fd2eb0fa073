package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"medtext-backend/internal/pipeline"
)

// jsonl files can hold whole notes on one line; the default bufio limit of
// 64KB is too small for long clinical narratives.
const maxLineBytes = 16 * 1024 * 1024

// decodeNotes reads one-JSON-object-per-line note records. Blank lines are
// skipped; a malformed line fails the whole load with its line number.
func decodeNotes(r io.Reader, name string) ([]pipeline.Note, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var notes []pipeline.Note
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var note pipeline.Note
		if err := json.Unmarshal(line, &note); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", name, lineNo, err)
		}
		if note.PatientId == "" || note.NoteId == "" {
			return nil, fmt.Errorf("%s line %d: note is missing its correlation identity", name, lineNo)
		}
		notes = append(notes, note)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}

	return notes, nil
}
