// Package groups evaluates user-defined predicates over a note's model
// predictions to assign notes to named cohorts.
package groups

import (
	"fmt"

	"medtext-backend/internal/pipeline"
)

// Definition names one cohort and the query that admits notes into it.
type Definition struct {
	Name  string `json:"name" yaml:"name"`
	Query string `json:"query" yaml:"query"`
}

type compiledGroup struct {
	name   string
	filter Filter
}

// Grouper holds the compiled cohort definitions. It is immutable after
// construction and safe for concurrent use.
type Grouper struct {
	groups []compiledGroup
}

func NewGrouper(defs []Definition) (*Grouper, error) {
	seen := make(map[string]struct{}, len(defs))
	groups := make([]compiledGroup, 0, len(defs))

	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("group with empty name")
		}
		if _, ok := seen[def.Name]; ok {
			return nil, fmt.Errorf("duplicate group name %q", def.Name)
		}
		seen[def.Name] = struct{}{}

		filter, err := ParseQuery(def.Query)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", def.Name, err)
		}
		groups = append(groups, compiledGroup{name: def.Name, filter: filter})
	}

	return &Grouper{groups: groups}, nil
}

func (g *Grouper) GroupNames() []string {
	names := make([]string, len(g.groups))
	for i, group := range g.groups {
		names[i] = group.name
	}
	return names
}

// Assign returns the names of every group whose predicate admits the result,
// in definition order. A note can belong to any number of groups.
func (g *Grouper) Assign(result *pipeline.Result) []string {
	var names []string
	for _, group := range g.groups {
		if group.filter.Matches(result.Predictions) {
			names = append(names, group.name)
		}
	}
	return names
}

// AssignAll maps group name to the correlation keys of its members across a
// whole batch output.
func (g *Grouper) AssignAll(results []pipeline.Result) map[string][]pipeline.Key {
	members := make(map[string][]pipeline.Key, len(g.groups))
	for i := range results {
		for _, name := range g.Assign(&results[i]) {
			members[name] = append(members[name], results[i].Key())
		}
	}
	return members
}

// ByPatient partitions a batch's results by patient identity, preserving the
// output order within each patient.
func ByPatient(results []pipeline.Result) map[string][]pipeline.Result {
	byPatient := make(map[string][]pipeline.Result)
	for _, result := range results {
		byPatient[result.PatientId] = append(byPatient[result.PatientId], result)
	}
	return byPatient
}
