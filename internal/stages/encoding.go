// Package stages bundles the text transformations applied to a note before
// inference. Every stage implements pipeline.Stage and operates on the state
// it is handed; none keeps mutable state across invocations, so a single
// instance is safe to share across batch workers.
package stages

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"medtext-backend/internal/pipeline"
)

// Common mojibake sequences produced by decoding UTF-8 as Windows-1252.
// Longer sequences first so replacement is unambiguous.
var mojibakeReplacer = strings.NewReplacer(
	"â", "'",
	"â", "'",
	"â", `"`,
	"â", `"`,
	"â", "-",
	"â", "-",
	"â¦", "...",
	"Â ", " ",
)

// EncodingFixer canonicalizes the note text: valid UTF-8, NFC normalization,
// unix line endings, no stray control characters. Running it on already
// canonical text is a no-op.
type EncodingFixer struct{}

func NewEncodingFixer() *EncodingFixer {
	return &EncodingFixer{}
}

func (f *EncodingFixer) Name() string {
	return "encoding_fixer"
}

func (f *EncodingFixer) Process(state *pipeline.NoteState) error {
	text := strings.ToValidUTF8(state.Text, "�")
	text = mojibakeReplacer.Replace(text)
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)

	state.Text = text
	resetSections(state)
	return nil
}

// resetSections re-derives the single default section after a stage rewrote
// the working text before any splitting happened.
func resetSections(state *pipeline.NoteState) {
	if len(state.Sections) == 1 && state.Sections[0].Name == pipeline.DefaultSectionName {
		state.Sections[0].Text = state.Text
		state.Sections[0].Span = pipeline.Span{Start: 0, End: len(state.Text)}
	}
}
