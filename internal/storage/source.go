// Package storage loads clinical notes for batch processing from their
// configured source: a local directory, an S3 prefix, or notes inlined in the
// request itself.
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"medtext-backend/internal/pipeline"
)

// Source yields the notes of one batch. Implementations validate correlation
// identities; the batch scheduler rejects duplicates.
type Source interface {
	LoadNotes(ctx context.Context) ([]pipeline.Note, error)
}

type sourceType string

const (
	LocalSourceType  sourceType = "local"
	S3SourceType     sourceType = "s3"
	InlineSourceType sourceType = "inline"
)

func ToSourceType(typeString string) (sourceType, error) {
	switch typeString {
	case string(LocalSourceType):
		return LocalSourceType, nil
	case string(S3SourceType):
		return S3SourceType, nil
	case string(InlineSourceType):
		return InlineSourceType, nil
	}
	return "", fmt.Errorf("unknown source type: %s", typeString)
}

// NewSource builds a Source from its persisted type and JSON params.
func NewSource(ctx context.Context, srcType sourceType, params []byte) (Source, error) {
	switch srcType {
	case LocalSourceType:
		var localParams LocalSourceParams
		if err := json.Unmarshal(params, &localParams); err != nil {
			return nil, err
		}
		return NewLocalSource(localParams), nil

	case S3SourceType:
		var s3Params S3SourceParams
		if err := json.Unmarshal(params, &s3Params); err != nil {
			return nil, err
		}
		return NewS3Source(ctx, s3Params)

	case InlineSourceType:
		var inlineParams InlineSourceParams
		if err := json.Unmarshal(params, &inlineParams); err != nil {
			return nil, err
		}
		return NewInlineSource(inlineParams), nil

	default:
		return nil, fmt.Errorf("unknown source type: %s", srcType)
	}
}

// InlineSourceParams carries notes submitted directly in an API request.
type InlineSourceParams struct {
	Notes []pipeline.Note
}

type InlineSource struct {
	params InlineSourceParams
}

var _ Source = (*InlineSource)(nil)

func NewInlineSource(params InlineSourceParams) *InlineSource {
	return &InlineSource{params: params}
}

func (s *InlineSource) LoadNotes(ctx context.Context) ([]pipeline.Note, error) {
	for i := range s.params.Notes {
		if err := validateNote(&s.params.Notes[i], i); err != nil {
			return nil, err
		}
	}
	return s.params.Notes, nil
}

func validateNote(note *pipeline.Note, index int) error {
	if note.PatientId == "" || note.NoteId == "" {
		return fmt.Errorf("note %d is missing its correlation identity", index)
	}
	return nil
}
