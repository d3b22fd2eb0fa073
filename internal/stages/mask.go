package stages

import (
	"strings"
	"unicode/utf8"

	"medtext-backend/internal/pipeline"
)

// WordMasker replaces every occurrence of its configured terms with a run of
// the mask rune of the same length. Masking happens on the working text
// before any splitting, so downstream spans are unaffected.
type WordMasker struct {
	matcher  *keywordMatcher
	maskRune rune
}

func NewWordMasker(words []string, maskRune rune) (*WordMasker, error) {
	matcher, err := newKeywordMatcher(words)
	if err != nil {
		return nil, err
	}
	if maskRune == 0 {
		maskRune = '*'
	}
	return &WordMasker{matcher: matcher, maskRune: maskRune}, nil
}

func (w *WordMasker) Name() string {
	return "word_masker"
}

func (w *WordMasker) Process(state *pipeline.NoteState) error {
	matches := w.matcher.find(state.Text)
	if len(matches) == 0 {
		return nil
	}

	var b strings.Builder
	b.Grow(len(state.Text))
	prev := 0
	for _, m := range matches {
		b.WriteString(state.Text[prev:m[0]])
		b.WriteString(strings.Repeat(string(w.maskRune), utf8.RuneCountInString(state.Text[m[0]:m[1]])))
		prev = m[1]
	}
	b.WriteString(state.Text[prev:])

	state.Text = b.String()
	state.SetFlag(pipeline.FlagMasked)
	resetSections(state)
	return nil
}
