package stages

import (
	"fmt"
	"regexp"
	"strings"

	"medtext-backend/internal/pipeline"
)

// Header lines like "HISTORY:" or "Chief Complaint:" open a named section.
var headerRe = regexp.MustCompile(`(?m)^[A-Z][A-Za-z0-9 /\-]{0,60}:`)

// SectionSplitter partitions the working text into named contiguous spans.
// The text is first split on the configured delimiter, then each chunk is
// split again at recognized header lines. Text before the first header in a
// chunk goes into a default section; nothing is ever dropped.
type SectionSplitter struct {
	delimiter string
}

func NewSectionSplitter(delimiter string) *SectionSplitter {
	if delimiter == "" {
		delimiter = "\n\n"
	}
	return &SectionSplitter{delimiter: delimiter}
}

func (s *SectionSplitter) Name() string {
	return "section_splitter"
}

func (s *SectionSplitter) Process(state *pipeline.NoteState) error {
	if strings.TrimSpace(state.Text) == "" {
		return pipeline.Warningf(s.Name(), "note text is empty, nothing to split")
	}

	var sections []pipeline.Section
	offset := 0

	for _, chunk := range strings.Split(state.Text, s.delimiter) {
		sections = append(sections, splitChunk(chunk, offset)...)
		offset += len(chunk) + len(s.delimiter)
	}

	state.Sections = sections
	return nil
}

// splitChunk cuts one delimiter-separated chunk at header-line starts.
func splitChunk(chunk string, offset int) []pipeline.Section {
	headers := headerRe.FindAllStringIndex(chunk, -1)

	if len(headers) == 0 {
		return []pipeline.Section{sectionAt(pipeline.DefaultSectionName, chunk, offset, 0, len(chunk))}
	}

	var sections []pipeline.Section
	if headers[0][0] > 0 {
		sections = append(sections, sectionAt(pipeline.DefaultSectionName, chunk, offset, 0, headers[0][0]))
	}

	for i, h := range headers {
		end := len(chunk)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		name := strings.TrimSpace(strings.TrimSuffix(chunk[h[0]:h[1]], ":"))
		sections = append(sections, sectionAt(name, chunk, offset, h[0], end))
	}
	return sections
}

func sectionAt(name, chunk string, offset, start, end int) pipeline.Section {
	// Sections start important; a section filter narrows the set down.
	return pipeline.Section{
		Name:      name,
		Text:      chunk[start:end],
		Span:      pipeline.Span{Start: offset + start, End: offset + end},
		Important: true,
	}
}

// SectionFilter retains sections by header keyword. An include keyword opens
// an inclusion block that runs until an exclude keyword closes it, so
// unheaded continuation sections stay with the section that introduced them.
// With only an exclude list there are no blocks: each section is kept unless
// it matches an exclude keyword. Relative order of retained sections is
// always preserved. With fallback enabled, a filter that would retain nothing
// keeps every section instead.
type SectionFilter struct {
	include  *keywordMatcher
	exclude  *keywordMatcher
	fallback bool
}

func NewSectionFilter(include, exclude []string, fallback bool) (*SectionFilter, error) {
	f := &SectionFilter{fallback: fallback}
	var err error
	if len(include) > 0 {
		if f.include, err = newKeywordMatcher(include); err != nil {
			return nil, fmt.Errorf("include list: %w", err)
		}
	}
	if len(exclude) > 0 {
		if f.exclude, err = newKeywordMatcher(exclude); err != nil {
			return nil, fmt.Errorf("exclude list: %w", err)
		}
	}
	if f.include == nil && f.exclude == nil {
		return nil, fmt.Errorf("section filter requires an include or exclude list")
	}
	return f, nil
}

func (f *SectionFilter) Name() string {
	return "section_filter"
}

func (f *SectionFilter) Process(state *pipeline.NoteState) error {
	var retained []pipeline.Section
	inBlock := false

	for _, section := range state.Sections {
		header := strings.TrimSpace(section.Text)
		excluded := f.exclude != nil && f.exclude.matchesPrefix(header)

		var keep bool
		if f.include == nil {
			keep = !excluded
		} else {
			if f.include.matchesPrefix(header) {
				inBlock = true
			} else if excluded {
				inBlock = false
			}
			keep = inBlock && !excluded
		}

		if keep {
			section.Important = true
			retained = append(retained, section)
		}
	}

	if len(retained) == 0 {
		if f.fallback {
			for i := range state.Sections {
				state.Sections[i].Important = true
			}
			return pipeline.Warningf(f.Name(), "no section matched, falling back to all %d sections", len(state.Sections))
		}
		state.Sections = nil
		return pipeline.Warningf(f.Name(), "no section matched the filter")
	}

	state.Sections = retained
	return nil
}
