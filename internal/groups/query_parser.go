package groups

import (
	"fmt"
	"math"

	"github.com/alecthomas/participle/v2"
)

/*
Parser for the group predicate language evaluated against a note's model
predictions:

Query       := Expr
Expr        := OrExpr ( "OR" OrExpr )*
OrExpr      := AndExpr ( "AND" AndExpr )*
AndExpr     := Condition | "NOT" Condition
Condition   := Filter | "(" Expr ")"
Filter      := Label Op Value
Label       := "SCORE" <identifier> | <identifier>
Op          := "CONTAINS" | "<" | ">" | "="
Value       := <string> | <float> | <int>

The bare identifier names a model; its label is compared as a string. With
the SCORE prefix the model's score is compared numerically.
*/

var parser = participle.MustBuild[QueryExpr](
	participle.Unquote("String"),
	participle.Union[Value](StringValue{}, FloatValue{}, IntValue{}),
)

func ParseQuery(query string) (Filter, error) {
	q, err := parser.ParseString("", query)
	if err != nil {
		return nil, fmt.Errorf("error parsing query '%s': %w", query, err)
	}

	filter, err := q.ToFilter()
	if err != nil {
		return nil, fmt.Errorf("error converting query '%s' to filter: %w", query, err)
	}

	return filter, nil
}

type QueryExpr struct {
	Expr *Expr `@@`
}

func (q *QueryExpr) ToFilter() (Filter, error) {
	return q.Expr.ToFilter()
}

type Expr struct {
	Ors []*OrExpr `@@ ( "OR" @@ )*`
}

func (q *Expr) ToFilter() (Filter, error) {
	if len(q.Ors) == 0 {
		return nil, fmt.Errorf("empty OR expression")
	}

	if len(q.Ors) == 1 {
		return q.Ors[0].ToFilter()
	}

	var filters []Filter
	for _, cond := range q.Ors {
		f, err := cond.ToFilter()
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	return &OrFilter{filters: filters}, nil
}

type OrExpr struct {
	Ands []*Condition `@@ ( "AND" @@ )*`
}

func (o *OrExpr) ToFilter() (Filter, error) {
	if len(o.Ands) == 0 {
		return nil, fmt.Errorf("empty AND expression")
	}

	if len(o.Ands) == 1 {
		return o.Ands[0].ToFilter()
	}

	var filters []Filter
	for _, cond := range o.Ands {
		f, err := cond.ToFilter()
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	return &AndFilter{filters: filters}, nil
}

type Condition struct {
	Not     bool        `@"NOT"?`
	Filter  *FilterExpr ` @@`
	SubExpr *Expr       `| "(" @@ ")" `
}

func (c *Condition) ToFilter() (Filter, error) {
	var filter Filter
	var err error
	if c.Filter != nil {
		filter, err = c.Filter.ToFilter()
	} else if c.SubExpr != nil {
		filter, err = c.SubExpr.ToFilter()
	}

	if err != nil {
		return nil, err
	}

	if c.Not {
		filter = &NotFilter{filter: filter}
	}

	return filter, nil
}

type FilterExpr struct {
	Label Label  ` @@`
	Op    string `@("CONTAINS" | "<" | ">" | "=" )`
	Value Value  `@@`
}

func (f *FilterExpr) ToFilter() (Filter, error) {
	if f.Label.Score {
		v, ok := f.Value.asFloat()
		if !ok {
			return nil, fmt.Errorf("SCORE expr requires a numeric value to compare to")
		}

		switch f.Op {
		case "<":
			return &ScoreFilter{model: f.Label.Name, min: math.Inf(-1), max: v}, nil
		case ">":
			return &ScoreFilter{model: f.Label.Name, min: v, max: math.Inf(1)}, nil
		case "=":
			// Scores are rounded to two decimals, so a half-cent band is an
			// exact match.
			return &ScoreFilter{model: f.Label.Name, min: v - 0.005, max: v + 0.005}, nil
		default:
			return nil, fmt.Errorf("invalid operator %s used with SCORE", f.Op)
		}
	}

	s, ok := f.Value.(StringValue)
	if !ok {
		return nil, fmt.Errorf("comparing a model label requires a string value")
	}

	switch f.Op {
	case "CONTAINS":
		return &LabelContainsFilter{model: f.Label.Name, substr: s.Value}, nil
	case "=":
		return &LabelEqFilter{model: f.Label.Name, label: s.Value}, nil
	default:
		return nil, fmt.Errorf("invalid operator %s used with string value", f.Op)
	}
}

type Label struct {
	Score bool   `@"SCORE"?`
	Name  string `@Ident`
}

type Value interface {
	asFloat() (float64, bool)
}

type StringValue struct {
	Value string `@String`
}

func (s StringValue) asFloat() (float64, bool) { return 0, false }

type FloatValue struct {
	Value float64 `@Float`
}

func (f FloatValue) asFloat() (float64, bool) { return f.Value, true }

type IntValue struct {
	Value int `@Int`
}

func (i IntValue) asFloat() (float64, bool) { return float64(i.Value), true }
