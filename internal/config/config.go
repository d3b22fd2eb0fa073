// Package config holds the declarative pipeline configuration: which stages
// run, their parameters, and the models the terminal inference stage loads.
// Service-level settings (ports, broker URLs) stay in the binaries' env
// configs; this package only describes pipeline behavior.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"medtext-backend/internal/groups"
	"medtext-backend/internal/inference"
	"medtext-backend/internal/stages"
)

// Status controls whether a stage participates in the pipeline. Excluded is
// stronger than disabled: a disabled stage can be re-enabled by a request
// override, an excluded one cannot.
type Status string

const (
	StatusEnabled  Status = "enabled"
	StatusDisabled Status = "disabled"
	StatusExcluded Status = "excluded"
)

func (s Status) validate() error {
	switch s {
	case StatusEnabled, StatusDisabled, StatusExcluded, "":
		return nil
	}
	return fmt.Errorf("invalid status %q", s)
}

type EncodingFixerConfig struct {
	Status Status `yaml:"status" json:"status"`
}

type PatternReplacerConfig struct {
	Status Status               `yaml:"status" json:"status"`
	Rules  []stages.ReplaceRule `yaml:"rules" json:"rules"`
}

type WordMaskerConfig struct {
	Status Status   `yaml:"status" json:"status"`
	Words  []string `yaml:"words" json:"words"`
	Mask   string   `yaml:"mask" json:"mask"`
}

type NoteFilterConfig struct {
	Status Status   `yaml:"status" json:"status"`
	Words  []string `yaml:"words" json:"words"`
}

type SectionSplitterConfig struct {
	Status    Status `yaml:"status" json:"status"`
	Delimiter string `yaml:"delimiter" json:"delimiter"`
}

type SectionFilterConfig struct {
	Status   Status   `yaml:"status" json:"status"`
	Include  []string `yaml:"include" json:"include"`
	Exclude  []string `yaml:"exclude" json:"exclude"`
	Fallback bool     `yaml:"fallback" json:"fallback"`
}

type SentenceSegmenterConfig struct {
	Status Status `yaml:"status" json:"status"`
}

type DuplicateCheckerConfig struct {
	Status          Status  `yaml:"status" json:"status"`
	NumPerm         int     `yaml:"num_perm" json:"num_perm"`
	SimThreshold    float64 `yaml:"sim_threshold" json:"sim_threshold"`
	LengthThreshold int     `yaml:"length_threshold" json:"length_threshold"`
}

type SentenceFilterConfig struct {
	Status Status   `yaml:"status" json:"status"`
	Words  []string `yaml:"words" json:"words"`
}

type SentenceExpanderConfig struct {
	Status          Status `yaml:"status" json:"status"`
	LengthThreshold int    `yaml:"length_threshold" json:"length_threshold"`
}

type JoinerConfig struct {
	Status            Status `yaml:"status" json:"status"`
	SentenceDelimiter string `yaml:"sentence_delimiter" json:"sentence_delimiter"`
	SectionDelimiter  string `yaml:"section_delimiter" json:"section_delimiter"`
}

// PipelineConfig is the full declarative pipeline description. The stage
// order is fixed; configuration only tunes parameters and participation.
type PipelineConfig struct {
	EncodingFixer     EncodingFixerConfig     `yaml:"encoding_fixer" json:"encoding_fixer"`
	PatternReplacer   PatternReplacerConfig   `yaml:"pattern_replacer" json:"pattern_replacer"`
	WordMasker        WordMaskerConfig        `yaml:"word_masker" json:"word_masker"`
	NoteFilter        NoteFilterConfig        `yaml:"note_filter" json:"note_filter"`
	SectionSplitter   SectionSplitterConfig   `yaml:"section_splitter" json:"section_splitter"`
	SectionFilter     SectionFilterConfig     `yaml:"section_filter" json:"section_filter"`
	SentenceSegmenter SentenceSegmenterConfig `yaml:"sentence_segmenter" json:"sentence_segmenter"`
	DuplicateChecker  DuplicateCheckerConfig  `yaml:"duplicate_checker" json:"duplicate_checker"`
	SentenceFilter    SentenceFilterConfig    `yaml:"sentence_filter" json:"sentence_filter"`
	SentenceExpander  SentenceExpanderConfig  `yaml:"sentence_expander" json:"sentence_expander"`
	Joiner            JoinerConfig            `yaml:"joiner" json:"joiner"`

	Models           map[string]inference.ModelSpec `yaml:"models" json:"models"`
	InferenceTimeout time.Duration                  `yaml:"inference_timeout" json:"inference_timeout"`

	Groups []groups.Definition `yaml:"groups" json:"groups"`
}

// Default returns the configuration used when no file is supplied: the
// structural stages on, the keyword-driven stages off until the caller
// provides terms for them.
func Default() PipelineConfig {
	return PipelineConfig{
		EncodingFixer:     EncodingFixerConfig{Status: StatusEnabled},
		PatternReplacer:   PatternReplacerConfig{Status: StatusDisabled},
		WordMasker:        WordMaskerConfig{Status: StatusDisabled, Mask: "*"},
		NoteFilter:        NoteFilterConfig{Status: StatusDisabled},
		SectionSplitter:   SectionSplitterConfig{Status: StatusEnabled, Delimiter: "\n\n"},
		SectionFilter:     SectionFilterConfig{Status: StatusDisabled, Fallback: true},
		SentenceSegmenter: SentenceSegmenterConfig{Status: StatusEnabled},
		DuplicateChecker:  DuplicateCheckerConfig{Status: StatusDisabled},
		SentenceFilter:    SentenceFilterConfig{Status: StatusDisabled},
		SentenceExpander:  SentenceExpanderConfig{Status: StatusDisabled, LengthThreshold: 50},
		Joiner:            JoinerConfig{Status: StatusEnabled},
		InferenceTimeout:  inference.DefaultTimeout,
	}
}

// Load reads a YAML pipeline configuration layered over Default.
func Load(path string) (PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PipelineConfig{}, fmt.Errorf("reading pipeline config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (PipelineConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return PipelineConfig{}, fmt.Errorf("parsing pipeline config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return PipelineConfig{}, err
	}
	return cfg, nil
}

func (c *PipelineConfig) Validate() error {
	for name, status := range c.statuses() {
		if err := status.validate(); err != nil {
			return fmt.Errorf("stage %s: %w", name, err)
		}
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("pipeline config requires at least one model")
	}
	for name, spec := range c.Models {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("model %s: %w", name, err)
		}
	}
	return nil
}

func (c *PipelineConfig) statuses() map[string]Status {
	return map[string]Status{
		"encoding_fixer":     c.EncodingFixer.Status,
		"pattern_replacer":   c.PatternReplacer.Status,
		"word_masker":        c.WordMasker.Status,
		"note_filter":        c.NoteFilter.Status,
		"section_splitter":   c.SectionSplitter.Status,
		"section_filter":     c.SectionFilter.Status,
		"sentence_segmenter": c.SentenceSegmenter.Status,
		"duplicate_checker":  c.DuplicateChecker.Status,
		"sentence_filter":    c.SentenceFilter.Status,
		"sentence_expander":  c.SentenceExpander.Status,
		"joiner":             c.Joiner.Status,
	}
}

// StageEnabled reports whether the named stage participates in the pipeline.
func (c *PipelineConfig) StageEnabled(name string) bool {
	return c.statuses()[name] == StatusEnabled
}
