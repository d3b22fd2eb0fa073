package stages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medtext-backend/internal/pipeline"
)

func newState(text string) *pipeline.NoteState {
	return pipeline.NewNoteState(pipeline.Note{PatientId: "P1", NoteId: "N1", Text: text})
}

func TestEncodingFixer(t *testing.T) {
	fixer := NewEncodingFixer()

	state := newState("patient\r\nstable\rtoday\x00\x07 café")
	require.NoError(t, fixer.Process(state))

	assert.Equal(t, "patient\nstable\ntoday café", state.Text)

	// Canonical text passes through unchanged.
	before := state.Text
	require.NoError(t, fixer.Process(state))
	assert.Equal(t, before, state.Text)

	// The default section tracks the rewritten text.
	require.Len(t, state.Sections, 1)
	assert.Equal(t, state.Text, state.Sections[0].Text)
	assert.Equal(t, len(state.Text), state.Sections[0].Span.End)
}

func TestPatternReplacerAppliesRulesInOrder(t *testing.T) {
	replacer, err := NewPatternReplacer([]ReplaceRule{
		{Pattern: `\bpt\b`, Target: "patient"},
		{Pattern: `patient(s?)`, Target: "subject$1"},
	})
	require.NoError(t, err)

	state := newState("pt seen today, patients stable")
	require.NoError(t, replacer.Process(state))
	assert.Equal(t, "subject seen today, subjects stable", state.Text)
}

func TestPatternReplacerRejectsBadPattern(t *testing.T) {
	_, err := NewPatternReplacer([]ReplaceRule{{Pattern: "(unclosed", Target: "x"}})
	assert.Error(t, err)

	_, err = NewPatternReplacer(nil)
	assert.Error(t, err)
}

func TestKeywordMatcherBoundaries(t *testing.T) {
	matcher, err := newKeywordMatcher([]string{"PE", "chest pain"})
	require.NoError(t, err)

	assert.True(t, matcher.matches("r/o PE."))
	assert.True(t, matcher.matches("c/o chest pain today"))
	assert.False(t, matcher.matches("wound is OPEN"))
	assert.False(t, matcher.matches("PEG tube placed"))
	// Case insensitive.
	assert.True(t, matcher.matches("possible pe noted"))
}

func TestWordMaskerPreservesLength(t *testing.T) {
	masker, err := NewWordMasker([]string{"John Doe", "MRN"}, '*')
	require.NoError(t, err)

	state := newState("John Doe, MRN 1234, JOHNSON pending")
	require.NoError(t, masker.Process(state))

	assert.Equal(t, "********, *** 1234, JOHNSON pending", state.Text)
	assert.True(t, state.HasFlag(pipeline.FlagMasked))
}

func TestWordMaskerNoMatchLeavesStateUntouched(t *testing.T) {
	masker, err := NewWordMasker([]string{"zzz"}, '*')
	require.NoError(t, err)

	state := newState("nothing to hide")
	require.NoError(t, masker.Process(state))
	assert.Equal(t, "nothing to hide", state.Text)
	assert.False(t, state.HasFlag(pipeline.FlagMasked))
}

func TestNoteFilterFlagsInsteadOfDropping(t *testing.T) {
	filter, err := NewNoteFilter([]string{"embolism", "PE"})
	require.NoError(t, err)

	state := newState("CT shows no embolism")
	require.NoError(t, filter.Process(state))
	assert.False(t, state.HasFlag(pipeline.FlagFiltered))

	state = newState("routine followup")
	err = filter.Process(state)
	var serr *pipeline.StageError
	require.ErrorAs(t, err, &serr)
	assert.True(t, serr.Recoverable)
	assert.True(t, state.HasFlag(pipeline.FlagFiltered))
}
