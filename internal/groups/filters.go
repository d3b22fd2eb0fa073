package groups

import (
	"strings"

	"medtext-backend/internal/inference"
)

// Predictions is the per-note model output a filter is evaluated against.
type Predictions = map[string]inference.Prediction

type Filter interface {
	Matches(preds Predictions) bool
}

type AndFilter struct {
	filters []Filter
}

func (f *AndFilter) Matches(preds Predictions) bool {
	for _, filter := range f.filters {
		if !filter.Matches(preds) {
			return false
		}
	}
	return true
}

type OrFilter struct {
	filters []Filter
}

func (f *OrFilter) Matches(preds Predictions) bool {
	for _, filter := range f.filters {
		if filter.Matches(preds) {
			return true
		}
	}
	return false
}

type NotFilter struct {
	filter Filter
}

func (f *NotFilter) Matches(preds Predictions) bool {
	return !f.filter.Matches(preds)
}

// LabelEqFilter matches when the named model produced exactly the label.
// A model missing from the predictions never matches.
type LabelEqFilter struct {
	model string
	label string
}

func (f *LabelEqFilter) Matches(preds Predictions) bool {
	pred, ok := preds[f.model]
	return ok && pred.Label == f.label
}

type LabelContainsFilter struct {
	model  string
	substr string
}

func (f *LabelContainsFilter) Matches(preds Predictions) bool {
	pred, ok := preds[f.model]
	return ok && strings.Contains(pred.Label, f.substr)
}

// ScoreFilter compares the named model's score against a bound. min and max
// are exclusive; equality uses a narrow band around the value since scores
// are rounded to two decimals upstream.
type ScoreFilter struct {
	model string
	min   float64
	max   float64
}

func (f *ScoreFilter) Matches(preds Predictions) bool {
	pred, ok := preds[f.model]
	return ok && pred.Score > f.min && pred.Score < f.max
}
