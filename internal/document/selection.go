package document

import (
	"github.com/hanpama/querygraph/internal/value"
)

// Argument is one named argument of a selection.
type Argument struct {
	Name  string
	Value value.Value
}

// Selection is one requested field: a name, an optional alias, its arguments
// in request order and its own nested selection set.
//
// Selections are treated as immutable once handed to the builder. The
// mutators below exist for the compactor, which owns the selections it
// rewrites.
type Selection struct {
	name      string
	alias     string
	arguments []Argument
	nested    []*Selection
}

func NewSelection(name, alias string, arguments []Argument, nested []*Selection) *Selection {
	return &Selection{name: name, alias: alias, arguments: arguments, nested: nested}
}

// WithName creates a bare selection without arguments or nested fields.
func WithName(name string) *Selection {
	return &Selection{name: name}
}

func (s *Selection) Name() string { return s.name }

func (s *Selection) Alias() string { return s.alias }

// ResponseName is the alias if present, otherwise the name.
func (s *Selection) ResponseName() string {
	if s.alias != "" {
		return s.alias
	}
	return s.name
}

// Arguments returns the argument list. Callers must not modify it.
func (s *Selection) Arguments() []Argument { return s.arguments }

// Argument looks up an argument by name.
func (s *Selection) Argument(name string) (value.Value, bool) {
	for _, a := range s.arguments {
		if a.Name == name {
			return a.Value, true
		}
	}
	return nil, false
}

// NestedSelections returns the selection set. Callers must not modify it.
func (s *Selection) NestedSelections() []*Selection { return s.nested }

// NestedSelectionNames lists the names of the nested selections in order.
func (s *Selection) NestedSelectionNames() []string {
	out := make([]string, len(s.nested))
	for i, n := range s.nested {
		out[i] = n.name
	}
	return out
}

func (s *Selection) ContainsNestedSelection(name string) bool {
	for _, n := range s.nested {
		if n.name == name {
			return true
		}
	}
	return false
}

func (s *Selection) SetAlias(alias string) { s.alias = alias }

func (s *Selection) PushArgument(name string, v value.Value) {
	s.arguments = append(s.arguments, Argument{Name: name, Value: v})
}

func (s *Selection) SetNestedSelections(nested []*Selection) {
	s.nested = append([]*Selection(nil), nested...)
}

func (s *Selection) PushNestedSelection(n *Selection) {
	s.nested = append(s.nested, n)
}

// Dedup returns a copy whose selection sets, at every depth, keep only the
// first selection for each response name.
func (s *Selection) Dedup() *Selection {
	out := &Selection{name: s.name, alias: s.alias, arguments: s.arguments}
	seen := make(map[string]struct{}, len(s.nested))
	for _, n := range s.nested {
		key := n.ResponseName()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out.nested = append(out.nested, n.Dedup())
	}
	return out
}
