package stages

import (
	"medtext-backend/internal/pipeline"
)

// NoteFilter gates the whole note on the presence of at least one target
// term. A non-matching note is not dropped: it is flagged, its eventual
// inference input becomes empty, and the condition surfaces as a warning on
// the Result so batch callers still get one output per input.
type NoteFilter struct {
	matcher *keywordMatcher
}

func NewNoteFilter(words []string) (*NoteFilter, error) {
	matcher, err := newKeywordMatcher(words)
	if err != nil {
		return nil, err
	}
	return &NoteFilter{matcher: matcher}, nil
}

func (f *NoteFilter) Name() string {
	return "note_filter"
}

func (f *NoteFilter) Process(state *pipeline.NoteState) error {
	if f.matcher.matches(state.Text) {
		return nil
	}

	state.SetFlag(pipeline.FlagFiltered)
	return pipeline.Warningf(f.Name(), "note contains none of the target terms")
}
