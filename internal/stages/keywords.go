package stages

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// keywordMatcher finds case-insensitive keyword occurrences that are not
// embedded in a longer alphanumeric run ("PE" matches in "r/o PE." but not in
// "OPEN"). Keywords may contain spaces.
type keywordMatcher struct {
	re *regexp.Regexp
}

func newKeywordMatcher(words []string) (*keywordMatcher, error) {
	if len(words) == 0 {
		return nil, fmt.Errorf("keyword list is empty")
	}

	escaped := make([]string, len(words))
	copy(escaped, words)
	// Longest first so the alternation prefers the longest keyword at a
	// given position.
	sort.Slice(escaped, func(i, j int) bool { return len(escaped[i]) > len(escaped[j]) })
	for i, w := range escaped {
		escaped[i] = regexp.QuoteMeta(w)
	}

	re, err := regexp.Compile("(?i)(?:" + strings.Join(escaped, "|") + ")")
	if err != nil {
		return nil, fmt.Errorf("compiling keyword pattern: %w", err)
	}
	return &keywordMatcher{re: re}, nil
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// find returns every boundary-respecting match as [start, end) byte ranges.
func (m *keywordMatcher) find(text string) [][2]int {
	var out [][2]int
	for _, loc := range m.re.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if start > 0 && isWordByte(text[start-1]) {
			continue
		}
		if end < len(text) && isWordByte(text[end]) {
			continue
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

func (m *keywordMatcher) matches(text string) bool {
	return len(m.find(text)) > 0
}

// matchesPrefix reports whether the text begins with one of the keywords,
// boundary-respecting. Used for section header matching.
func (m *keywordMatcher) matchesPrefix(text string) bool {
	loc := m.re.FindStringIndex(text)
	if loc == nil || loc[0] != 0 {
		return false
	}
	return loc[1] >= len(text) || !isWordByte(text[loc[1]])
}
