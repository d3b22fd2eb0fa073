package stages

import (
	"strings"

	"medtext-backend/internal/pipeline"
)

// Abbreviations that end with a period without ending a sentence.
var abbreviations = map[string]struct{}{
	"dr.":   {},
	"drs.":  {},
	"mr.":   {},
	"mrs.":  {},
	"ms.":   {},
	"st.":   {},
	"dept.": {},
	"vs.":   {},
	"no.":   {},
	"e.g.":  {},
	"i.e.":  {},
	"etc.":  {},
	"approx.": {},
}

// SentenceSegmenter partitions each section's text into sentence spans.
// Splitting is rule based: newline boundaries always split; terminal
// punctuation followed by whitespace splits unless it closes a known
// abbreviation or an initial. Empty sections yield zero sentences.
type SentenceSegmenter struct{}

func NewSentenceSegmenter() *SentenceSegmenter {
	return &SentenceSegmenter{}
}

func (s *SentenceSegmenter) Name() string {
	return "sentence_segmenter"
}

func (s *SentenceSegmenter) Process(state *pipeline.NoteState) error {
	for i := range state.Sections {
		section := &state.Sections[i]
		section.Sentences = segmentSection(section.Text, section.Span.Start)
	}
	return nil
}

func segmentSection(text string, sectionStart int) []pipeline.Sentence {
	var sentences []pipeline.Sentence

	for _, r := range sentenceRanges(text) {
		raw := text[r[0]:r[1]]
		stripped := strings.TrimSpace(raw)
		if stripped == "" {
			continue
		}

		leading := len(raw) - len(strings.TrimLeft(raw, " \t\n"))
		start := sectionStart + r[0] + leading
		// Sentences start important; a sentence filter narrows the set down.
		sentences = append(sentences, pipeline.Sentence{
			Text:      stripped,
			Span:      pipeline.Span{Start: start, End: start + len(stripped)},
			Important: true,
		})
	}
	return sentences
}

func sentenceRanges(text string) [][2]int {
	var ranges [][2]int
	start := 0

	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\n':
			ranges = append(ranges, [2]int{start, i})
			start = i + 1

		case '.', '!', '?':
			// Consume trailing punctuation runs and closing quotes.
			end := i + 1
			for end < len(text) && strings.ContainsRune(`.!?"'`, rune(text[end])) {
				end++
			}
			if end < len(text) && text[end] != ' ' && text[end] != '\t' && text[end] != '\n' {
				continue
			}
			if text[i] == '.' && !endsSentence(text[start:i+1]) {
				continue
			}
			ranges = append(ranges, [2]int{start, end})
			i = end - 1
			start = end
		}
	}

	if start < len(text) {
		ranges = append(ranges, [2]int{start, len(text)})
	}
	return ranges
}

// endsSentence reports whether the period at the end of the fragment closes
// a sentence rather than an abbreviation or initial.
func endsSentence(fragment string) bool {
	wordStart := len(fragment) - 1
	for wordStart > 0 && (isWordByte(fragment[wordStart-1]) || fragment[wordStart-1] == '.') {
		wordStart--
	}
	word := strings.ToLower(fragment[wordStart:])

	if _, ok := abbreviations[word]; ok {
		return false
	}
	// Single-letter initial like "J." in a name.
	if len(word) == 2 && word[0] >= 'a' && word[0] <= 'z' {
		return false
	}
	return true
}

// SentenceFilter keeps only sentences containing one of the target terms
// important; everything else, duplicates included, loses the flag. The
// sentence order is never changed; a filter that flags nothing degrades to a
// warning rather than a failure.
type SentenceFilter struct {
	matcher *keywordMatcher
}

func NewSentenceFilter(words []string) (*SentenceFilter, error) {
	matcher, err := newKeywordMatcher(words)
	if err != nil {
		return nil, err
	}
	return &SentenceFilter{matcher: matcher}, nil
}

func (f *SentenceFilter) Name() string {
	return "sentence_filter"
}

func (f *SentenceFilter) Process(state *pipeline.NoteState) error {
	flagged := 0
	for i := range state.Sections {
		for j := range state.Sections[i].Sentences {
			sentence := &state.Sections[i].Sentences[j]
			if sentence.Duplicate {
				sentence.Important = false
				continue
			}
			sentence.Important = f.matcher.matches(sentence.Text)
			if sentence.Important {
				flagged++
			}
		}
	}

	if flagged == 0 {
		return pipeline.Warningf(f.Name(), "no sentence matched the filter")
	}
	return nil
}

// SentenceExpander grows short important sentences by pulling in neighboring
// sentences until the combined length reaches the threshold. Expansion never
// crosses a section boundary.
type SentenceExpander struct {
	lengthThreshold int
}

func NewSentenceExpander(lengthThreshold int) *SentenceExpander {
	if lengthThreshold <= 0 {
		lengthThreshold = 50
	}
	return &SentenceExpander{lengthThreshold: lengthThreshold}
}

func (e *SentenceExpander) Name() string {
	return "sentence_expander"
}

func (e *SentenceExpander) Process(state *pipeline.NoteState) error {
	for i := range state.Sections {
		expandSection(state.Sections[i].Sentences, e.lengthThreshold)
	}
	return nil
}

func expandSection(sentences []pipeline.Sentence, threshold int) {
	for idx := range sentences {
		if !sentences[idx].Important {
			continue
		}

		if len(sentences[idx].Text) >= threshold {
			sentences[idx].Expanded = true
			continue
		}

		rangeStart, rangeEnd := idx, idx+1
		combined := len(sentences[idx].Text)

		for combined < threshold {
			if rangeStart > 0 {
				rangeStart--
				combined += len(sentences[rangeStart].Text)
			}
			if combined < threshold && rangeEnd < len(sentences) {
				combined += len(sentences[rangeEnd].Text)
				rangeEnd++
			}
			if rangeStart == 0 && rangeEnd == len(sentences) {
				break
			}
		}

		for i := rangeStart; i < rangeEnd; i++ {
			sentences[i].Expanded = true
		}
	}
}
