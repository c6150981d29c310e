package builder

import (
	"github.com/hanpama/querygraph/internal/catalog"
	"github.com/hanpama/querygraph/internal/qerr"
	"github.com/hanpama/querygraph/internal/query"
	"github.com/hanpama/querygraph/internal/value"
)

// Nested write operations accepted inside a relation field of a data payload.
const (
	nestedUpdate     = "update"
	nestedUpdateMany = "updateMany"
	nestedDeleteMany = "deleteMany"
)

// nestedOrder is the order in which nested operations on one relation are
// added to the graph.
var nestedOrder = []string{nestedUpdate, nestedUpdateMany, nestedDeleteMany}

type nestedWrite struct {
	relation *catalog.RelationField
	op       string
	payload  value.Value
}

// extractData splits a data payload into scalar writes and nested writes,
// the latter ordered by relation field name and then by nestedOrder.
func extractData(model *catalog.Model, data value.Value) (query.WriteArgs, []nestedWrite, error) {
	obj, ok := value.AsObject(data)
	if !ok {
		kind := "nothing"
		if data != nil {
			kind = value.Kind(data)
		}
		return nil, nil, qerr.Input("data for model %s must be an object, got %s", model.Name, kind).OnModel(model.Name)
	}
	var writes []query.FieldWrite
	var nested []nestedWrite
	for _, key := range obj.SortedKeys() {
		v := obj[key]
		if sf, ok := model.ScalarField(key); ok {
			fw, err := fieldWrite(model, sf, v)
			if err != nil {
				return nil, nil, err
			}
			writes = append(writes, fw)
			continue
		}
		if rf, ok := model.RelationField(key); ok {
			ops, err := nestedWrites(model, rf, v)
			if err != nil {
				return nil, nil, err
			}
			nested = append(nested, ops...)
			continue
		}
		return nil, nil, qerr.Input("unknown field %s.%s in data", model.Name, key).OnModel(model.Name).OnField(key)
	}
	return query.NewWriteArgs(writes...), nested, nil
}

func fieldWrite(model *catalog.Model, sf *catalog.ScalarField, v value.Value) (query.FieldWrite, error) {
	obj, isObj := value.AsObject(v)
	if !isObj || (sf.Type == catalog.TypeJSON && !isWriteOperation(obj)) {
		if sf.IsRequired && value.IsNull(v) {
			return query.FieldWrite{}, qerr.Input("required field %s.%s cannot be set to null", model.Name, sf.Name).OnModel(model.Name).OnField(sf.Name)
		}
		return query.FieldWrite{Field: sf.Name, Op: query.WriteSet, Value: v}, nil
	}
	if len(obj) != 1 {
		return query.FieldWrite{}, qerr.Input("update of %s.%s takes exactly one operation, got %d", model.Name, sf.Name, len(obj)).OnModel(model.Name).OnField(sf.Name)
	}
	for key, arg := range obj {
		op, ok := query.ParseWriteOp(key)
		if !ok {
			return query.FieldWrite{}, qerr.Input("unknown update operation %q on %s.%s", key, model.Name, sf.Name).OnModel(model.Name).OnField(sf.Name)
		}
		if op != query.WriteSet && sf.Type != catalog.TypeInt && sf.Type != catalog.TypeFloat {
			return query.FieldWrite{}, qerr.Input("%s is only available on numeric fields, %s.%s is %s", key, model.Name, sf.Name, sf.Type).OnModel(model.Name).OnField(sf.Name)
		}
		if op == query.WriteSet && sf.IsRequired && value.IsNull(arg) {
			return query.FieldWrite{}, qerr.Input("required field %s.%s cannot be set to null", model.Name, sf.Name).OnModel(model.Name).OnField(sf.Name)
		}
		return query.FieldWrite{Field: sf.Name, Op: op, Value: arg}, nil
	}
	return query.FieldWrite{}, qerr.Invariant("empty update operation on %s.%s", model.Name, sf.Name)
}

func isWriteOperation(obj value.Object) bool {
	for k := range obj {
		if _, ok := query.ParseWriteOp(k); !ok {
			return false
		}
	}
	return len(obj) == 1
}

func nestedWrites(model *catalog.Model, rf *catalog.RelationField, v value.Value) ([]nestedWrite, error) {
	obj, ok := value.AsObject(v)
	if !ok {
		return nil, qerr.Input("nested write on %s.%s must be an object, got %s", model.Name, rf.Name, value.Kind(v)).OnModel(model.Name).OnRelation(rf.RelationName).OnField(rf.Name)
	}
	for key := range obj {
		if key != nestedUpdate && key != nestedUpdateMany && key != nestedDeleteMany {
			return nil, qerr.Input("nested operation %q on %s.%s is not supported", key, model.Name, rf.Name).OnModel(model.Name).OnRelation(rf.RelationName).OnField(rf.Name)
		}
	}
	var out []nestedWrite
	for _, op := range nestedOrder {
		payload, ok := obj[op]
		if !ok {
			continue
		}
		if op != nestedUpdate && !rf.IsList {
			return nil, qerr.Input("nested %s is only available on to-many relations, %s.%s is to-one", op, model.Name, rf.Name).OnModel(model.Name).OnRelation(rf.RelationName).OnField(rf.Name)
		}
		out = append(out, nestedWrite{relation: rf, op: op, payload: payload})
	}
	return out, nil
}
