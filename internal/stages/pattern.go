package stages

import (
	"fmt"
	"regexp"

	"medtext-backend/internal/pipeline"
)

// ReplaceRule is one ordered substitution applied by the PatternReplacer.
type ReplaceRule struct {
	Pattern string
	Target  string
}

// PatternReplacer applies its rules in order against the working text.
// Rules are compiled once at construction; order matters because a rule may
// consume text a later rule would otherwise match.
type PatternReplacer struct {
	rules   []ReplaceRule
	regexes []*regexp.Regexp
}

func NewPatternReplacer(rules []ReplaceRule) (*PatternReplacer, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("pattern replacer requires at least one rule")
	}

	regexes := make([]*regexp.Regexp, len(rules))
	for i, rule := range rules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling pattern %q: %w", rule.Pattern, err)
		}
		regexes[i] = re
	}

	return &PatternReplacer{rules: rules, regexes: regexes}, nil
}

func (r *PatternReplacer) Name() string {
	return "pattern_replacer"
}

func (r *PatternReplacer) Process(state *pipeline.NoteState) error {
	text := state.Text
	for i, re := range r.regexes {
		text = re.ReplaceAllString(text, r.rules[i].Target)
	}
	state.Text = text
	resetSections(state)
	return nil
}
