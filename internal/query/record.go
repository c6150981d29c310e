package query

import (
	"github.com/hanpama/querygraph/internal/qerr"
	"github.com/hanpama/querygraph/internal/value"
)

// Record is one row as returned by storage: every scalar field of the model.
type Record = value.Object

// SelectionResult identifies a record by the values of a set of fields,
// usually the model's primary identifier.
type SelectionResult []value.Pair

// Project extracts fields from row in the given order.
func Project(row Record, fields []string) (SelectionResult, error) {
	out := make(SelectionResult, len(fields))
	for i, f := range fields {
		v, ok := row[f]
		if !ok {
			return nil, qerr.Invariant("record has no field %q to project", f).OnField(f)
		}
		out[i] = value.Pair{Key: f, Value: v}
	}
	return out, nil
}

func (s SelectionResult) Get(field string) (value.Value, bool) {
	for _, p := range s {
		if p.Key == field {
			return p.Value, true
		}
	}
	return nil, false
}

func (s SelectionResult) Fields() []string {
	out := make([]string, len(s))
	for i, p := range s {
		out[i] = p.Key
	}
	return out
}

func (s SelectionResult) Values() []value.Value {
	out := make([]value.Value, len(s))
	for i, p := range s {
		out[i] = p.Value
	}
	return out
}

// HasNull reports whether any projected value is null. A null link value
// never identifies a related record.
func (s SelectionResult) HasNull() bool {
	for _, p := range s {
		if value.IsNull(p.Value) {
			return true
		}
	}
	return false
}

// Filter matches exactly the records carrying these values.
func (s SelectionResult) Filter() Filter {
	conds := make([]Filter, len(s))
	for i, p := range s {
		conds[i] = Equals(p.Key, p.Value)
	}
	return Conjoin(conds...)
}

// Rename returns a copy with field names replaced positionally by names.
func (s SelectionResult) Rename(names []string) SelectionResult {
	out := make(SelectionResult, len(s))
	for i, p := range s {
		out[i] = value.Pair{Key: names[i], Value: p.Value}
	}
	return out
}

// RecordFilter selects the records a write applies to: those matching Filter
// and, when HasSelectors is set, identified by one of Selectors. With
// HasSelectors set and no selectors the filter matches nothing.
type RecordFilter struct {
	Filter       Filter
	Selectors    []SelectionResult
	HasSelectors bool
}

func NewRecordFilter(f Filter) RecordFilter {
	if f == nil {
		f = Empty{}
	}
	return RecordFilter{Filter: f}
}

// EmptyRecordFilter has neither a filter nor selectors. Graph edges fill it
// in before the write executes.
func EmptyRecordFilter() RecordFilter {
	return RecordFilter{Filter: Empty{}}
}

// WithSelectors returns a copy restricted to selectors.
func (r RecordFilter) WithSelectors(selectors []SelectionResult) RecordFilter {
	r.Selectors = append([]SelectionResult{}, selectors...)
	r.HasSelectors = true
	return r
}

// AsFilter folds the selectors into a single Filter.
func (r RecordFilter) AsFilter() Filter {
	if !r.HasSelectors {
		return Conjoin(r.Filter)
	}
	identified := make(Or, len(r.Selectors))
	for i, s := range r.Selectors {
		identified[i] = s.Filter()
	}
	return Conjoin(r.Filter, identified)
}

// Result is what a query node produces. Rows are records as stored; Count is
// the number of affected records for bulk writes. Response holds the shaped
// value returned to the client for reads.
type Result struct {
	Rows     []Record
	Count    int
	Response value.Value
}
