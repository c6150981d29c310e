package builder

import (
	"strings"

	"github.com/hanpama/querygraph/internal/catalog"
	"github.com/hanpama/querygraph/internal/document"
	"github.com/hanpama/querygraph/internal/qerr"
	"github.com/hanpama/querygraph/internal/query"
	"github.com/hanpama/querygraph/internal/value"
)

// extractFilter turns a where argument into a filter over model's scalar
// fields. A missing or null argument matches everything.
func extractFilter(model *catalog.Model, where value.Value) (query.Filter, error) {
	if where == nil || value.IsNull(where) {
		return query.Empty{}, nil
	}
	obj, ok := value.AsObject(where)
	if !ok {
		return nil, qerr.Input("filter for model %s must be an object, got %s", model.Name, value.Kind(where)).OnModel(model.Name)
	}
	var conds []query.Filter
	for _, key := range obj.SortedKeys() {
		v := obj[key]
		switch key {
		case document.FilterAnd:
			members, err := extractFilters(model, v)
			if err != nil {
				return nil, err
			}
			conds = append(conds, query.Conjoin(members...))
			continue
		case document.FilterOr:
			members, err := extractFilters(model, v)
			if err != nil {
				return nil, err
			}
			conds = append(conds, query.Or(members))
			continue
		case document.FilterNOT:
			members, err := extractFilters(model, v)
			if err != nil {
				return nil, err
			}
			for _, m := range members {
				conds = append(conds, query.Not{Filter: m})
			}
			continue
		}

		if cu, ok := model.ResolveCompoundField(key); ok {
			f, err := compoundFilter(model, cu, v)
			if err != nil {
				return nil, err
			}
			conds = append(conds, f)
			continue
		}
		if sf, ok := model.ScalarField(key); ok {
			f, err := scalarFilter(model, sf.Name, v)
			if err != nil {
				return nil, err
			}
			conds = append(conds, f)
			continue
		}
		if _, ok := model.RelationField(key); ok {
			return nil, qerr.Input("filtering on relation %s.%s is not supported", model.Name, key).OnModel(model.Name).OnField(key)
		}
		return nil, qerr.Input("unknown filter field %s.%s", model.Name, key).OnModel(model.Name).OnField(key)
	}
	return query.Conjoin(conds...), nil
}

// extractFilters accepts a single filter object or a list of them.
func extractFilters(model *catalog.Model, v value.Value) ([]query.Filter, error) {
	items := value.CoerceList(v)
	out := make([]query.Filter, 0, len(items))
	for _, item := range items {
		f, err := extractFilter(model, item)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func compoundFilter(model *catalog.Model, cu *catalog.CompoundUnique, v value.Value) (query.Filter, error) {
	obj, ok := value.AsObject(v)
	if !ok {
		return nil, qerr.Input("compound key %s.%s must be an object, got %s", model.Name, cu.Name, value.Kind(v)).OnModel(model.Name).OnField(cu.Name)
	}
	conds := make([]query.Filter, 0, len(cu.Fields))
	for _, f := range cu.Fields {
		fv, ok := obj[f]
		if !ok {
			return nil, qerr.Input("compound key %s.%s is missing field %s", model.Name, cu.Name, f).OnModel(model.Name).OnField(cu.Name)
		}
		conds = append(conds, query.Equals(f, fv))
	}
	if len(obj) != len(cu.Fields) {
		return nil, qerr.Input("compound key %s.%s only accepts the fields %s", model.Name, cu.Name, strings.Join(cu.Fields, ", ")).OnModel(model.Name).OnField(cu.Name)
	}
	return query.Conjoin(conds...), nil
}

func scalarFilter(model *catalog.Model, field string, v value.Value) (query.Filter, error) {
	obj, ok := value.AsObject(v)
	if !ok || (isJSONField(model, field) && !isOperatorObject(obj)) {
		return query.Equals(field, v), nil
	}
	var conds []query.Filter
	for _, key := range obj.SortedKeys() {
		arg := obj[key]
		op, ok := query.ParseOp(key)
		if !ok {
			return nil, qerr.Input("unknown filter condition %q on %s.%s", key, model.Name, field).OnModel(model.Name).OnField(field)
		}
		switch op {
		case query.OpNotEquals:
			if _, nested := value.AsObject(arg); nested {
				inner, err := scalarFilter(model, field, arg)
				if err != nil {
					return nil, err
				}
				conds = append(conds, query.Not{Filter: inner})
				continue
			}
		case query.OpIn, query.OpNotIn:
			list, ok := value.AsList(arg)
			if !ok {
				return nil, qerr.Input("condition %s on %s.%s expects a list, got %s", key, model.Name, field, value.Kind(arg)).OnModel(model.Name).OnField(field)
			}
			arg = list
		}
		conds = append(conds, query.Condition{Field: field, Op: op, Value: arg})
	}
	return query.Conjoin(conds...), nil
}

func isJSONField(model *catalog.Model, field string) bool {
	sf, ok := model.ScalarField(field)
	return ok && sf.Type == catalog.TypeJSON
}

func isOperatorObject(obj value.Object) bool {
	if len(obj) == 0 {
		return false
	}
	for k := range obj {
		if _, ok := query.ParseOp(k); !ok {
			return false
		}
	}
	return true
}

// extractUniqueFilter is extractFilter for arguments that must identify at
// most one record: the filter has to pin a unique criterion by equality.
func extractUniqueFilter(model *catalog.Model, where value.Value) (query.Filter, error) {
	obj, ok := value.AsObject(where)
	if !ok {
		kind := "nothing"
		if where != nil {
			kind = value.Kind(where)
		}
		return nil, qerr.Input("unique filter for model %s must be an object, got %s", model.Name, kind).OnModel(model.Name)
	}
	if !document.PinsUniqueCriterion(model, obj) {
		return nil, qerr.Input("unique filter for model %s needs at least one of %s", model.Name, strings.Join(uniqueCriteria(model), ", ")).OnModel(model.Name)
	}
	return extractFilter(model, obj)
}

func uniqueCriteria(model *catalog.Model) []string {
	var out []string
	for _, f := range model.Fields {
		if model.IsUniqueCriterion(f.Name) {
			out = append(out, f.Name)
		}
	}
	if len(model.PrimaryKey) > 1 {
		out = append(out, strings.Join(model.PrimaryKey, "_"))
	}
	for _, cu := range model.CompoundUniques {
		out = append(out, cu.Name)
	}
	return out
}
