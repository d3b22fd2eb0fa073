package stages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medtext-backend/internal/pipeline"
)

func sectionNames(sections []pipeline.Section) []string {
	names := make([]string, len(sections))
	for i, s := range sections {
		names[i] = s.Name
	}
	return names
}

func TestSectionSplitterHeadersWithoutBlankLines(t *testing.T) {
	splitter := NewSectionSplitter("")

	state := newState("HISTORY: long standing cough\nPLAN: chest x-ray")
	require.NoError(t, splitter.Process(state))

	require.Len(t, state.Sections, 2)
	assert.Equal(t, []string{"HISTORY", "PLAN"}, sectionNames(state.Sections))
	assert.Equal(t, "HISTORY: long standing cough\n", state.Sections[0].Text)
	assert.Equal(t, "PLAN: chest x-ray", state.Sections[1].Text)
}

func TestSectionSplitterCoversEveryByte(t *testing.T) {
	splitter := NewSectionSplitter("\n\n")

	text := "free text preamble\n\nASSESSMENT: stable\nimproving\n\nMEDICATIONS: aspirin"
	state := newState(text)
	require.NoError(t, splitter.Process(state))

	require.Len(t, state.Sections, 3)
	assert.Equal(t, []string{pipeline.DefaultSectionName, "ASSESSMENT", "MEDICATIONS"}, sectionNames(state.Sections))

	// Spans index into the original working text.
	for _, section := range state.Sections {
		assert.Equal(t, section.Text, text[section.Span.Start:section.Span.End])
	}
}

func TestSectionSplitterEmptyText(t *testing.T) {
	splitter := NewSectionSplitter("")

	state := newState("   \n  ")
	err := splitter.Process(state)
	var serr *pipeline.StageError
	require.ErrorAs(t, err, &serr)
	assert.True(t, serr.Recoverable)
}

func splitSections(t *testing.T, text string) *pipeline.NoteState {
	t.Helper()
	state := newState(text)
	require.NoError(t, NewSectionSplitter("").Process(state))
	return state
}

func TestSectionFilterInclusionBlocks(t *testing.T) {
	filter, err := NewSectionFilter([]string{"ASSESSMENT", "HISTORY"}, []string{"MEDICATIONS"}, false)
	require.NoError(t, err)

	state := splitSections(t, "HISTORY: cough\nASSESSMENT: stable\nMEDICATIONS: aspirin\nPLAN: continue")
	require.NoError(t, filter.Process(state))

	// PLAN follows the closed MEDICATIONS block, so it is dropped too.
	assert.Equal(t, []string{"HISTORY", "ASSESSMENT"}, sectionNames(state.Sections))
	for _, section := range state.Sections {
		assert.True(t, section.Important)
	}
}

func TestSectionFilterPreservesRelativeOrder(t *testing.T) {
	filter, err := NewSectionFilter([]string{"PLAN", "HISTORY"}, nil, false)
	require.NoError(t, err)

	state := splitSections(t, "HISTORY: a\nMEDICATIONS: b\nPLAN: c")
	require.NoError(t, filter.Process(state))

	// Include keywords open a block: MEDICATIONS rides along with HISTORY.
	assert.Equal(t, []string{"HISTORY", "MEDICATIONS", "PLAN"}, sectionNames(state.Sections))
}

func TestSectionFilterExcludeOnlyDropsPerSection(t *testing.T) {
	filter, err := NewSectionFilter(nil, []string{"MEDICATIONS"}, false)
	require.NoError(t, err)

	state := splitSections(t, "HISTORY: cough\nMEDICATIONS: aspirin\nPLAN: chest x-ray")
	require.NoError(t, filter.Process(state))

	// Without an include list there are no blocks: only the matching section
	// goes, everything after it stays.
	assert.Equal(t, []string{"HISTORY", "PLAN"}, sectionNames(state.Sections))
}

func TestSectionFilterFallback(t *testing.T) {
	filter, err := NewSectionFilter([]string{"NOSUCH"}, nil, true)
	require.NoError(t, err)

	state := splitSections(t, "HISTORY: a\nPLAN: b")
	err = filter.Process(state)
	var serr *pipeline.StageError
	require.ErrorAs(t, err, &serr)
	assert.True(t, serr.Recoverable)

	require.Len(t, state.Sections, 2)
	for _, section := range state.Sections {
		assert.True(t, section.Important)
	}
}

func TestSectionFilterNoMatchWithoutFallback(t *testing.T) {
	filter, err := NewSectionFilter([]string{"NOSUCH"}, nil, false)
	require.NoError(t, err)

	state := splitSections(t, "HISTORY: a")
	err = filter.Process(state)
	var serr *pipeline.StageError
	require.ErrorAs(t, err, &serr)
	assert.True(t, serr.Recoverable)
	assert.Empty(t, state.Sections)
}
