package config

import "fmt"

// Override is a per-request partial configuration. A nil component leaves the
// base configuration untouched; a present one replaces the base component
// wholesale. Models and groups cannot be overridden per request.
type Override struct {
	EncodingFixer     *EncodingFixerConfig     `yaml:"encoding_fixer" json:"encoding_fixer,omitempty"`
	PatternReplacer   *PatternReplacerConfig   `yaml:"pattern_replacer" json:"pattern_replacer,omitempty"`
	WordMasker        *WordMaskerConfig        `yaml:"word_masker" json:"word_masker,omitempty"`
	NoteFilter        *NoteFilterConfig        `yaml:"note_filter" json:"note_filter,omitempty"`
	SectionSplitter   *SectionSplitterConfig   `yaml:"section_splitter" json:"section_splitter,omitempty"`
	SectionFilter     *SectionFilterConfig     `yaml:"section_filter" json:"section_filter,omitempty"`
	SentenceSegmenter *SentenceSegmenterConfig `yaml:"sentence_segmenter" json:"sentence_segmenter,omitempty"`
	DuplicateChecker  *DuplicateCheckerConfig  `yaml:"duplicate_checker" json:"duplicate_checker,omitempty"`
	SentenceFilter    *SentenceFilterConfig    `yaml:"sentence_filter" json:"sentence_filter,omitempty"`
	SentenceExpander  *SentenceExpanderConfig  `yaml:"sentence_expander" json:"sentence_expander,omitempty"`
	Joiner            *JoinerConfig            `yaml:"joiner" json:"joiner,omitempty"`
}

// Merge layers the override onto a copy of the base configuration. An
// excluded stage stays excluded regardless of what the override asks for.
func (c PipelineConfig) Merge(o Override) (PipelineConfig, error) {
	merged := c

	apply := func(name string, base Status, override *Status) error {
		if base == StatusExcluded {
			if *override == StatusEnabled {
				return fmt.Errorf("stage %s is excluded and cannot be enabled", name)
			}
			*override = StatusExcluded
		}
		if *override == "" {
			*override = base
		}
		return nil
	}

	if o.EncodingFixer != nil {
		merged.EncodingFixer = *o.EncodingFixer
		if err := apply("encoding_fixer", c.EncodingFixer.Status, &merged.EncodingFixer.Status); err != nil {
			return PipelineConfig{}, err
		}
	}
	if o.PatternReplacer != nil {
		merged.PatternReplacer = *o.PatternReplacer
		if err := apply("pattern_replacer", c.PatternReplacer.Status, &merged.PatternReplacer.Status); err != nil {
			return PipelineConfig{}, err
		}
	}
	if o.WordMasker != nil {
		merged.WordMasker = *o.WordMasker
		if merged.WordMasker.Mask == "" {
			merged.WordMasker.Mask = c.WordMasker.Mask
		}
		if err := apply("word_masker", c.WordMasker.Status, &merged.WordMasker.Status); err != nil {
			return PipelineConfig{}, err
		}
	}
	if o.NoteFilter != nil {
		merged.NoteFilter = *o.NoteFilter
		if err := apply("note_filter", c.NoteFilter.Status, &merged.NoteFilter.Status); err != nil {
			return PipelineConfig{}, err
		}
	}
	if o.SectionSplitter != nil {
		merged.SectionSplitter = *o.SectionSplitter
		if err := apply("section_splitter", c.SectionSplitter.Status, &merged.SectionSplitter.Status); err != nil {
			return PipelineConfig{}, err
		}
	}
	if o.SectionFilter != nil {
		merged.SectionFilter = *o.SectionFilter
		if err := apply("section_filter", c.SectionFilter.Status, &merged.SectionFilter.Status); err != nil {
			return PipelineConfig{}, err
		}
	}
	if o.SentenceSegmenter != nil {
		merged.SentenceSegmenter = *o.SentenceSegmenter
		if err := apply("sentence_segmenter", c.SentenceSegmenter.Status, &merged.SentenceSegmenter.Status); err != nil {
			return PipelineConfig{}, err
		}
	}
	if o.DuplicateChecker != nil {
		merged.DuplicateChecker = *o.DuplicateChecker
		if err := apply("duplicate_checker", c.DuplicateChecker.Status, &merged.DuplicateChecker.Status); err != nil {
			return PipelineConfig{}, err
		}
	}
	if o.SentenceFilter != nil {
		merged.SentenceFilter = *o.SentenceFilter
		if err := apply("sentence_filter", c.SentenceFilter.Status, &merged.SentenceFilter.Status); err != nil {
			return PipelineConfig{}, err
		}
	}
	if o.SentenceExpander != nil {
		merged.SentenceExpander = *o.SentenceExpander
		if err := apply("sentence_expander", c.SentenceExpander.Status, &merged.SentenceExpander.Status); err != nil {
			return PipelineConfig{}, err
		}
	}
	if o.Joiner != nil {
		merged.Joiner = *o.Joiner
		if err := apply("joiner", c.Joiner.Status, &merged.Joiner.Status); err != nil {
			return PipelineConfig{}, err
		}
	}

	return merged, nil
}
