package interpreter

import (
	"context"
	"fmt"

	"github.com/hanpama/querygraph/internal/qerr"
	"github.com/hanpama/querygraph/internal/query"
	"github.com/hanpama/querygraph/internal/value"
)

// shape renders rows as response objects holding the selected fields under
// their response names. Each nested relation read costs one storage read per
// nesting level, shared by all parent rows.
func (in *Interpreter) shape(ctx context.Context, conn Connector, rows []query.Record, fields []query.SelectedField, nested []query.RelatedRecordsQuery) ([]value.Object, error) {
	out := make([]value.Object, len(rows))
	for i, r := range rows {
		obj := make(value.Object, len(fields)+len(nested))
		for _, f := range fields {
			v, ok := r[f.Name]
			if !ok {
				return nil, qerr.Invariant("storage row has no field %q", f.Name).OnField(f.Name)
			}
			obj[f.ResponseName()] = v
		}
		out[i] = obj
	}
	for _, rq := range nested {
		if err := in.related(ctx, conn, rows, out, rq); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// related resolves rq for every parent row and stores the result in the
// parent's response object. Pagination applies per parent.
func (in *Interpreter) related(ctx context.Context, conn Connector, parents []query.Record, shaped []value.Object, rq query.RelatedRecordsQuery) error {
	rf := rq.Relation
	parentFields, childFields := rf.LinkFields()
	if len(parentFields) == 0 || len(parentFields) != len(childFields) {
		return qerr.Invariant("relation field %s has no link fields", rf.Name).OnRelation(rf.RelationName)
	}

	keys := make([]string, len(parents))
	seen := map[string]struct{}{}
	var scope query.Or
	for i, p := range parents {
		sel, err := query.Project(p, parentFields)
		if err != nil {
			return err
		}
		if sel.HasNull() {
			continue
		}
		k := value.Key(value.List(sel.Values()))
		keys[i] = k
		if _, dup := seen[k]; !dup {
			seen[k] = struct{}{}
			scope = append(scope, sel.Rename(childFields).Filter())
		}
	}

	var children []query.Record
	if len(scope) > 0 {
		q := query.ManyRecordsQuery{
			Name:         rq.Name,
			Model:        rf.Related(),
			Filter:       rq.Filter,
			ParentFilter: scope,
			Args:         query.Args{OrderBy: rq.Args.OrderBy},
			Fields:       rq.Fields,
		}
		res, err := conn.Execute(ctx, q)
		if err != nil {
			return fmt.Errorf("read %s.%s: %w", rf.Model().Name, rf.Name, err)
		}
		children = res.Rows
	}
	childShaped, err := in.shape(ctx, conn, children, rq.Fields, rq.Nested)
	if err != nil {
		return err
	}

	groups := map[string][]int{}
	for i, c := range children {
		sel, err := query.Project(c, childFields)
		if err != nil {
			return err
		}
		k := value.Key(value.List(sel.Values()))
		groups[k] = append(groups[k], i)
	}

	name := rq.ResponseName()
	for i := range parents {
		var matched []int
		if keys[i] != "" {
			matched = groups[keys[i]]
		}
		if !rf.IsList {
			if len(matched) == 0 {
				shaped[i][name] = value.Null{}
			} else {
				shaped[i][name] = childShaped[matched[0]]
			}
			continue
		}
		matched = paginate(matched, rq.Args)
		list := make(value.List, len(matched))
		for j, c := range matched {
			list[j] = childShaped[c]
		}
		shaped[i][name] = list
	}
	return nil
}

func paginate(idx []int, args query.Args) []int {
	if args.Skip != nil {
		if *args.Skip >= len(idx) {
			return nil
		}
		idx = idx[*args.Skip:]
	}
	if args.Take != nil && *args.Take < len(idx) {
		idx = idx[:*args.Take]
	}
	return idx
}
