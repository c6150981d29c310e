package document

import (
	"github.com/hanpama/querygraph/internal/catalog"
	"github.com/hanpama/querygraph/internal/value"
)

// Operation is one top-level read or write. Read and Write are the only
// implementations.
type Operation interface {
	Selection() *Selection
	isOperation()
}

type Read struct{ Sel *Selection }

type Write struct{ Sel *Selection }

func (r Read) Selection() *Selection  { return r.Sel }
func (w Write) Selection() *Selection { return w.Sel }
func (Read) isOperation()             {}
func (Write) isOperation()            {}

// Name is the name of the operation's root field.
func Name(op Operation) string { return op.Selection().Name() }

// DedupSelections removes duplicate nested selections from op.
func DedupSelections(op Operation) Operation {
	switch o := op.(type) {
	case Read:
		return Read{Sel: o.Sel.Dedup()}
	case Write:
		return Write{Sel: o.Sel.Dedup()}
	}
	return op
}

// IsFindUnique reports whether op is a single-record lookup: a read of a
// findUnique root field whose only argument is a where object.
func IsFindUnique(op Operation, c *catalog.Catalog) bool {
	r, ok := op.(Read)
	if !ok {
		return false
	}
	field, ok := c.FindQueryField(r.Sel.Name())
	if !ok || field.Kind != catalog.FindUnique {
		return false
	}
	args := r.Sel.Arguments()
	if len(args) != 1 || args[0].Name != ArgWhere {
		return false
	}
	_, isObj := value.AsObject(args[0].Value)
	return isObj
}

// PinsUniqueCriterion reports whether where fixes one of model's unique
// criteria by equality, so that it matches at most one record.
func PinsUniqueCriterion(model *catalog.Model, where value.Object) bool {
	for key, v := range where {
		if !model.IsUniqueCriterion(key) {
			continue
		}
		if _, compound := model.ResolveCompoundField(key); compound {
			return true
		}
		obj, isObj := value.AsObject(v)
		if !isObj {
			return true
		}
		if _, eq := obj[FilterEquals]; eq {
			return true
		}
	}
	return false
}
