package builder

import (
	"github.com/hanpama/querygraph/internal/catalog"
	"github.com/hanpama/querygraph/internal/document"
	"github.com/hanpama/querygraph/internal/graph"
	"github.com/hanpama/querygraph/internal/qerr"
	"github.com/hanpama/querygraph/internal/query"
	"github.com/hanpama/querygraph/internal/value"
)

// nestedWrites attaches every nested write below parent, in order.
func (b *build) nestedWrites(parent graph.NodeID, writes []nestedWrite) error {
	for _, w := range writes {
		var err error
		switch w.op {
		case nestedUpdate:
			err = b.nestedUpdate(parent, w.relation, w.payload)
		case nestedUpdateMany:
			err = b.nestedUpdateMany(parent, w.relation, w.payload)
		case nestedDeleteMany:
			err = b.nestedDeleteMany(parent, w.relation, w.payload)
		default:
			err = qerr.Invariant("unhandled nested operation %q", w.op)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// nestedUpdate updates one related record per item:
//
//	parent --ScopeByParent--> find children --SetLastSelector--> UpdateRecord
//
// For to-many relations every item is {where, data} and where must be
// unique. For to-one relations an item is either {where?, data} or the data
// itself.
func (b *build) nestedUpdate(parent graph.NodeID, rf *catalog.RelationField, payload value.Value) error {
	child := rf.Related()
	var items value.List
	if rf.IsList {
		items = value.CoerceList(payload)
	} else {
		if _, isList := value.AsList(payload); isList {
			return nestedInputError(rf, "a to-one update takes a single object")
		}
		items = value.List{payload}
	}

	for _, item := range items {
		obj, ok := value.AsObject(item)
		if !ok {
			return nestedInputError(rf, "update must be an object, got "+value.Kind(item))
		}
		filter := query.Filter(query.Empty{})
		var data value.Value
		var err error
		switch {
		case rf.IsList:
			where, hasWhere := obj[document.ArgWhere]
			d, hasData := obj[document.ArgData]
			if !hasWhere || !hasData || len(obj) != 2 {
				return nestedInputError(rf, "update on a to-many relation requires exactly where and data")
			}
			if filter, err = extractUniqueFilter(child, where); err != nil {
				return err
			}
			data = d
		case isEnvelope(child, obj):
			data = obj[document.ArgData]
			if where, ok := obj[document.ArgWhere]; ok {
				if filter, err = extractFilter(child, where); err != nil {
					return err
				}
			}
		default:
			data = obj
		}

		writes, nested, err := extractData(child, data)
		if err != nil {
			return err
		}
		find, err := b.findChildrenByParent(parent, rf, filter, writes)
		if err != nil {
			return err
		}
		update, err := b.query(query.UpdateRecord{Model: child, RecordFilter: query.EmptyRecordFilter(), Data: writes})
		if err != nil {
			return err
		}
		err = b.edge(find, update, graph.ProjectedData{
			Identifier: child.PrimaryIdentifier(),
			Transform:  graph.SetLastSelector{Model: child.Name, Relation: rf.RelationName},
		})
		if err != nil {
			return err
		}
		if err := b.insertEmulatedOnUpdate(find, update, child, writes, true); err != nil {
			return err
		}
		b.writes = append(b.writes, update)
		if err := b.nestedWrites(update, nested); err != nil {
			return err
		}
	}
	return nil
}

// isEnvelope reports whether a to-one update payload is {data} or
// {where, data} rather than the data itself. When the related model has a
// scalar field named data, the payload is always the data itself.
func isEnvelope(child *catalog.Model, obj value.Object) bool {
	if _, scalar := child.ScalarField(document.ArgData); scalar {
		return false
	}
	d, ok := obj[document.ArgData]
	if !ok {
		return false
	}
	if _, isObj := value.AsObject(d); !isObj {
		return false
	}
	for k := range obj {
		if k != document.ArgData && k != document.ArgWhere {
			return false
		}
	}
	return true
}

// nestedUpdateMany updates every related record matching each item's where:
//
//	parent --ScopeByParent--> find children --SetSelectors--> UpdateManyRecords
func (b *build) nestedUpdateMany(parent graph.NodeID, rf *catalog.RelationField, payload value.Value) error {
	child := rf.Related()
	for _, item := range value.CoerceList(payload) {
		obj, ok := value.AsObject(item)
		if !ok {
			return nestedInputError(rf, "updateMany must be an object, got "+value.Kind(item))
		}
		data, hasData := obj[document.ArgData]
		if !hasData {
			return nestedInputError(rf, "updateMany requires data")
		}
		for k := range obj {
			if k != document.ArgData && k != document.ArgWhere {
				return nestedInputError(rf, "updateMany only accepts where and data")
			}
		}
		filter, err := extractFilter(child, obj[document.ArgWhere])
		if err != nil {
			return err
		}
		writes, nested, err := extractData(child, data)
		if err != nil {
			return err
		}
		if len(nested) > 0 {
			return nestedInputError(rf, "updateMany does not support nested writes")
		}
		find, err := b.findChildrenByParent(parent, rf, filter, writes)
		if err != nil {
			return err
		}
		update, err := b.query(query.UpdateManyRecords{Model: child, RecordFilter: query.EmptyRecordFilter(), Data: writes})
		if err != nil {
			return err
		}
		err = b.edge(find, update, graph.ProjectedData{Identifier: child.PrimaryIdentifier(), Transform: graph.SetSelectors{}})
		if err != nil {
			return err
		}
		if err := b.insertEmulatedOnUpdate(find, update, child, writes, false); err != nil {
			return err
		}
		b.writes = append(b.writes, update)
	}
	return nil
}

// nestedDeleteMany deletes every related record matching each item's filter:
//
//	parent --ScopeByParent--> find children --SetSelectors--> DeleteManyRecords
func (b *build) nestedDeleteMany(parent graph.NodeID, rf *catalog.RelationField, payload value.Value) error {
	child := rf.Related()
	for _, item := range value.CoerceList(payload) {
		filter, err := extractFilter(child, item)
		if err != nil {
			return err
		}
		find, err := b.findChildrenByParent(parent, rf, filter, nil)
		if err != nil {
			return err
		}
		del, err := b.query(query.DeleteManyRecords{Model: child, RecordFilter: query.EmptyRecordFilter()})
		if err != nil {
			return err
		}
		err = b.edge(find, del, graph.ProjectedData{Identifier: child.PrimaryIdentifier(), Transform: graph.SetSelectors{}})
		if err != nil {
			return err
		}
		b.writes = append(b.writes, del)
	}
	return nil
}

// findChildrenByParent reads the records related to the parent's result
// through rf that also match filter. It selects the child's primary
// identifier plus the fields emulated referential actions need to observe
// before writes change them.
func (b *build) findChildrenByParent(parent graph.NodeID, rf *catalog.RelationField, filter query.Filter, writes query.WriteArgs) (graph.NodeID, error) {
	child := rf.Related()
	parentFields, childFields := rf.LinkFields()
	if len(parentFields) == 0 || len(parentFields) != len(childFields) {
		return 0, qerr.Invariant("relation %s.%s has no usable link fields", rf.Model().Name, rf.Name).OnRelation(rf.RelationName)
	}

	selected := append([]string(nil), child.PrimaryIdentifier()...)
	for _, dep := range b.emulatedDependents(child, writes) {
		for _, f := range dep.References {
			if !contains(selected, f) {
				selected = append(selected, f)
			}
		}
	}

	find, err := b.query(query.ManyRecordsQuery{
		Name:   "findChildrenByParent",
		Model:  child,
		Filter: filter,
		Fields: query.Fields(selected...),
	})
	if err != nil {
		return 0, err
	}
	err = b.edge(parent, find, graph.ProjectedData{
		Identifier: parentFields,
		Transform:  graph.ScopeByParent{ChildFields: childFields},
	})
	if err != nil {
		return 0, err
	}
	return find, nil
}

func nestedInputError(rf *catalog.RelationField, msg string) error {
	model := rf.Model().Name
	return qerr.Input("nested write on %s.%s: %s", model, rf.Name, msg).OnModel(model).OnRelation(rf.RelationName).OnField(rf.Name)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
