package builder

import (
	"github.com/hanpama/querygraph/internal/catalog"
	"github.com/hanpama/querygraph/internal/document"
	"github.com/hanpama/querygraph/internal/qerr"
	"github.com/hanpama/querygraph/internal/query"
	"github.com/hanpama/querygraph/internal/value"
)

const (
	argOrderBy = "orderBy"
	argSkip    = "skip"
	argTake    = "take"
)

// readSelection splits the nested selections of sel into scalar fields and
// related-record reads.
func readSelection(model *catalog.Model, sel *document.Selection) ([]query.SelectedField, []query.RelatedRecordsQuery, error) {
	var fields []query.SelectedField
	var nested []query.RelatedRecordsQuery
	for _, n := range sel.NestedSelections() {
		if sf, ok := model.ScalarField(n.Name()); ok {
			if len(n.Arguments()) > 0 {
				return nil, nil, qerr.Input("scalar field %s.%s takes no arguments", model.Name, sf.Name).OnModel(model.Name).OnField(sf.Name)
			}
			fields = append(fields, query.SelectedField{Name: sf.Name, Alias: n.Alias()})
			continue
		}
		if rf, ok := model.RelationField(n.Name()); ok {
			rq, err := relatedRead(rf, n)
			if err != nil {
				return nil, nil, err
			}
			nested = append(nested, rq)
			continue
		}
		return nil, nil, qerr.Input("field %q does not exist on model %s", n.Name(), model.Name).OnModel(model.Name).OnField(n.Name())
	}
	if len(fields) == 0 && len(nested) == 0 {
		return nil, nil, qerr.Input("selection of %s on model %s must not be empty", sel.Name(), model.Name).OnModel(model.Name)
	}
	return fields, nested, nil
}

func relatedRead(rf *catalog.RelationField, sel *document.Selection) (query.RelatedRecordsQuery, error) {
	related := rf.Related()
	allowed := []string{document.ArgWhere}
	if rf.IsList {
		allowed = append(allowed, argOrderBy, argSkip, argTake)
	}
	if err := checkArguments(related, sel, allowed...); err != nil {
		return query.RelatedRecordsQuery{}, err
	}
	where, _ := sel.Argument(document.ArgWhere)
	filter, err := extractFilter(related, where)
	if err != nil {
		return query.RelatedRecordsQuery{}, err
	}
	args, err := readArgs(related, sel)
	if err != nil {
		return query.RelatedRecordsQuery{}, err
	}
	fields, nested, err := readSelection(related, sel)
	if err != nil {
		return query.RelatedRecordsQuery{}, err
	}
	return query.RelatedRecordsQuery{
		Name:     sel.Name(),
		Alias:    sel.Alias(),
		Relation: rf,
		Filter:   filter,
		Args:     args,
		Fields:   fields,
		Nested:   nested,
	}, nil
}

func readArgs(model *catalog.Model, sel *document.Selection) (query.Args, error) {
	var args query.Args
	if v, ok := sel.Argument(argOrderBy); ok {
		for _, item := range value.CoerceList(v) {
			obj, ok := value.AsObject(item)
			if !ok {
				return query.Args{}, qerr.Input("orderBy on %s must be an object, got %s", model.Name, value.Kind(item)).OnModel(model.Name)
			}
			for _, field := range obj.SortedKeys() {
				if _, ok := model.ScalarField(field); !ok {
					return query.Args{}, qerr.Input("cannot order %s by unknown field %q", model.Name, field).OnModel(model.Name).OnField(field)
				}
				var dir string
				switch d := obj[field].(type) {
				case value.Enum:
					dir = string(d)
				case value.String:
					dir = string(d)
				}
				if dir != "asc" && dir != "desc" {
					return query.Args{}, qerr.Input("sort order for %s.%s must be asc or desc", model.Name, field).OnModel(model.Name).OnField(field)
				}
				args.OrderBy = append(args.OrderBy, query.OrderBy{Field: field, Descending: dir == "desc"})
			}
		}
	}
	var err error
	if args.Skip, err = nonNegative(model, sel, argSkip); err != nil {
		return query.Args{}, err
	}
	if args.Take, err = nonNegative(model, sel, argTake); err != nil {
		return query.Args{}, err
	}
	return args, nil
}

func nonNegative(model *catalog.Model, sel *document.Selection, name string) (*int, error) {
	v, ok := sel.Argument(name)
	if !ok || value.IsNull(v) {
		return nil, nil
	}
	n, ok := v.(value.Int)
	if !ok || n < 0 {
		return nil, qerr.Input("%s on %s must be a non-negative integer", name, sel.Name()).OnModel(model.Name)
	}
	i := int(n)
	return &i, nil
}
