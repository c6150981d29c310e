package graph

import (
	"fmt"

	"github.com/hanpama/querygraph/internal/qerr"
	"github.com/hanpama/querygraph/internal/query"
)

// Transform finalizes a child node from the rows projected out of its
// parent's result. SetLastSelector, SetSelectors, ScopeByParent and
// SetCheckCount cover the builder's needs; Func is an escape hatch for
// callers that need something else.
type Transform interface {
	Apply(child Node, rows []query.SelectionResult) (Node, error)
	Name() string
}

// SetLastSelector targets the last matched record with a single-record
// update. No match is a RecordNotFound error naming Model and Relation.
type SetLastSelector struct {
	Model    string
	Relation string
}

func (SetLastSelector) Name() string { return "SetLastSelector" }

func (t SetLastSelector) Apply(child Node, rows []query.SelectionResult) (Node, error) {
	qn, ok := child.(QueryNode)
	if !ok {
		return nil, wrongTarget(t, child)
	}
	upd, ok := qn.Query.(query.UpdateRecord)
	if !ok {
		return nil, wrongTarget(t, child)
	}
	if len(rows) == 0 {
		msg := fmt.Sprintf("No '%s' record was found for a nested update on relation '%s'.", t.Model, t.Relation)
		return nil, qerr.RecordNotFound(t.Model, t.Relation, msg)
	}
	upd.RecordFilter = upd.RecordFilter.WithSelectors(rows[len(rows)-1:])
	return QueryNode{Query: upd}, nil
}

// SetSelectors restricts the child to every matched record. Zero matches
// leave a filter that selects nothing.
type SetSelectors struct{}

func (SetSelectors) Name() string { return "SetSelectors" }

func (t SetSelectors) Apply(child Node, rows []query.SelectionResult) (Node, error) {
	qn, ok := child.(QueryNode)
	if !ok {
		return nil, wrongTarget(t, child)
	}
	switch q := qn.Query.(type) {
	case query.UpdateRecord:
		q.RecordFilter = q.RecordFilter.WithSelectors(rows)
		return QueryNode{Query: q}, nil
	case query.UpdateManyRecords:
		q.RecordFilter = q.RecordFilter.WithSelectors(rows)
		return QueryNode{Query: q}, nil
	case query.DeleteManyRecords:
		q.RecordFilter = q.RecordFilter.WithSelectors(rows)
		return QueryNode{Query: q}, nil
	case query.RecordQuery:
		q.Filter = query.Conjoin(q.Filter, identifiedBy(rows))
		return QueryNode{Query: q}, nil
	case query.ManyRecordsQuery:
		q.Filter = query.Conjoin(q.Filter, identifiedBy(rows))
		return QueryNode{Query: q}, nil
	}
	return nil, wrongTarget(t, child)
}

func identifiedBy(rows []query.SelectionResult) query.Filter {
	return query.EmptyRecordFilter().WithSelectors(rows).AsFilter()
}

// ScopeByParent restricts the child to records whose ChildFields equal the
// projected parent fields of some parent row, positionally. With Last set
// only the last parent row counts, mirroring SetLastSelector.
type ScopeByParent struct {
	ChildFields []string
	Last        bool
}

func (ScopeByParent) Name() string { return "ScopeByParent" }

func (t ScopeByParent) Apply(child Node, rows []query.SelectionResult) (Node, error) {
	qn, ok := child.(QueryNode)
	if !ok {
		return nil, wrongTarget(t, child)
	}
	if t.Last && len(rows) > 0 {
		rows = rows[len(rows)-1:]
	}
	scope := query.Or{}
	for _, r := range rows {
		if len(r) != len(t.ChildFields) {
			return nil, qerr.Invariant("cannot scope %d child fields by %d parent fields", len(t.ChildFields), len(r))
		}
		if r.HasNull() {
			continue
		}
		scope = append(scope, r.Rename(t.ChildFields).Filter())
	}
	switch q := qn.Query.(type) {
	case query.ManyRecordsQuery:
		q.ParentFilter = scope
		return QueryNode{Query: q}, nil
	case query.UpdateManyRecords:
		q.RecordFilter.Filter = query.Conjoin(scope, q.RecordFilter.Filter)
		return QueryNode{Query: q}, nil
	case query.DeleteManyRecords:
		q.RecordFilter.Filter = query.Conjoin(scope, q.RecordFilter.Filter)
		return QueryNode{Query: q}, nil
	}
	return nil, wrongTarget(t, child)
}

// SetCheckCount stores the number of parent rows in a CheckEmpty flow.
type SetCheckCount struct{}

func (SetCheckCount) Name() string { return "SetCheckCount" }

func (t SetCheckCount) Apply(child Node, rows []query.SelectionResult) (Node, error) {
	fn, ok := child.(FlowNode)
	if !ok {
		return nil, wrongTarget(t, child)
	}
	check, ok := fn.Flow.(CheckEmpty)
	if !ok {
		return nil, wrongTarget(t, child)
	}
	check.Count = len(rows)
	return FlowNode{Flow: check}, nil
}

// Func wraps an arbitrary transformation. Fn must not retain state between
// calls.
type Func struct {
	Label string
	Fn    func(child Node, rows []query.SelectionResult) (Node, error)
}

func (f Func) Name() string {
	if f.Label == "" {
		return "Func"
	}
	return f.Label
}

func (f Func) Apply(child Node, rows []query.SelectionResult) (Node, error) {
	return f.Fn(child, rows)
}

func wrongTarget(t Transform, child Node) error {
	return qerr.Invariant("transform %s cannot apply to %s", t.Name(), describeNode(child))
}

func describeNode(n Node) string {
	switch n := n.(type) {
	case QueryNode:
		return query.Describe(n.Query)
	case FlowNode:
		if _, ok := n.Flow.(CheckEmpty); ok {
			return "CheckEmpty"
		}
		return "Flow"
	}
	return fmt.Sprintf("%T", n)
}
