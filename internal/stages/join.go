package stages

import (
	"strings"

	"medtext-backend/internal/pipeline"
)

// Joiner reassembles the filtered state into the normalized text handed to
// the inference adapter: within each retained section the flagged sentences
// are joined in order, then the non-empty sections are joined. Duplicate
// sentences are left out of the joined text but stay in the state.
type Joiner struct {
	sentenceDelimiter string
	sectionDelimiter  string
}

func NewJoiner(sentenceDelimiter, sectionDelimiter string) *Joiner {
	if sentenceDelimiter == "" {
		sentenceDelimiter = "\n"
	}
	if sectionDelimiter == "" {
		sectionDelimiter = "\n\n"
	}
	return &Joiner{sentenceDelimiter: sentenceDelimiter, sectionDelimiter: sectionDelimiter}
}

func (j *Joiner) Name() string {
	return "joiner"
}

func (j *Joiner) Process(state *pipeline.NoteState) error {
	if state.HasFlag(pipeline.FlagFiltered) {
		// Filtered notes keep an empty preprocessed text so inference sees
		// nothing for them.
		state.SetFlag(pipeline.FlagJoined)
		return nil
	}

	var sections []string

	for i := range state.Sections {
		section := &state.Sections[i]
		if !section.Important {
			continue
		}

		var kept []string
		for _, sentence := range section.Sentences {
			if sentence.Duplicate || !(sentence.Important || sentence.Expanded) {
				continue
			}
			kept = append(kept, sentence.Text)
		}

		if len(kept) > 0 {
			sections = append(sections, strings.Join(kept, j.sentenceDelimiter))
		}
	}

	state.Preprocessed = strings.Join(sections, j.sectionDelimiter)
	state.SetFlag(pipeline.FlagJoined)

	if state.Preprocessed == "" && !state.HasFlag(pipeline.FlagFiltered) {
		return pipeline.Warningf(j.Name(), "joining produced empty text")
	}
	return nil
}
