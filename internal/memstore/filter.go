package memstore

import (
	"strings"

	"github.com/hanpama/querygraph/internal/qerr"
	"github.com/hanpama/querygraph/internal/query"
	"github.com/hanpama/querygraph/internal/value"
)

// Matches evaluates f against r. Missing fields read as null.
func Matches(f query.Filter, r query.Record) (bool, error) {
	switch f := f.(type) {
	case nil, query.Empty:
		return true, nil
	case query.And:
		for _, m := range f {
			ok, err := Matches(m, r)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case query.Or:
		for _, m := range f {
			ok, err := Matches(m, r)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case query.Not:
		ok, err := Matches(f.Filter, r)
		return !ok, err
	case query.Condition:
		return matchCondition(f, field(r, f.Field))
	}
	return false, qerr.Invariant("unknown filter %T", f)
}

func field(r query.Record, name string) value.Value {
	if v, ok := r[name]; ok && v != nil {
		return v
	}
	return value.Null{}
}

func matchCondition(c query.Condition, v value.Value) (bool, error) {
	switch c.Op {
	case query.OpEquals:
		return value.Equal(v, c.Value), nil
	case query.OpNotEquals:
		return !value.Equal(v, c.Value), nil
	case query.OpIn, query.OpNotIn:
		list, ok := value.AsList(c.Value)
		if !ok {
			return false, qerr.Input("%s on %s expects a list", c.Op, c.Field).OnField(c.Field)
		}
		found := false
		for _, e := range list {
			if value.Equal(v, e) {
				found = true
				break
			}
		}
		return found == (c.Op == query.OpIn), nil
	case query.OpLt, query.OpLte, query.OpGt, query.OpGte:
		if value.IsNull(v) || value.IsNull(c.Value) {
			return false, nil
		}
		cmp, ok := value.Compare(v, c.Value)
		if !ok {
			return false, qerr.Input("cannot compare %s (%s) with %s", c.Field, value.Kind(v), value.Kind(c.Value)).OnField(c.Field)
		}
		switch c.Op {
		case query.OpLt:
			return cmp < 0, nil
		case query.OpLte:
			return cmp <= 0, nil
		case query.OpGt:
			return cmp > 0, nil
		}
		return cmp >= 0, nil
	case query.OpContains, query.OpStartsWith, query.OpEndsWith:
		s, ok := v.(value.String)
		if !ok {
			return false, nil
		}
		needle, ok := c.Value.(value.String)
		if !ok {
			return false, qerr.Input("%s on %s expects a string", c.Op, c.Field).OnField(c.Field)
		}
		switch c.Op {
		case query.OpContains:
			return strings.Contains(string(s), string(needle)), nil
		case query.OpStartsWith:
			return strings.HasPrefix(string(s), string(needle)), nil
		}
		return strings.HasSuffix(string(s), string(needle)), nil
	}
	return false, qerr.Invariant("unknown filter condition %q", c.Op)
}
