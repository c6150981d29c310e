package query

import (
	"github.com/hanpama/querygraph/internal/value"
)

// Filter is a predicate over the scalar fields of one record. Empty, And, Or,
// Not and Condition are the only implementations.
type Filter interface {
	isFilter()
}

// Empty matches every record.
type Empty struct{}

// And matches when every member matches. An empty And matches everything.
type And []Filter

// Or matches when at least one member matches. An empty Or matches nothing.
type Or []Filter

type Not struct {
	Filter Filter
}

// Condition compares a scalar field against a value.
type Condition struct {
	Field string
	Op    Op
	Value value.Value
}

func (Empty) isFilter()     {}
func (And) isFilter()       {}
func (Or) isFilter()        {}
func (Not) isFilter()       {}
func (Condition) isFilter() {}

type Op string

const (
	OpEquals     Op = "equals"
	OpNotEquals  Op = "not"
	OpIn         Op = "in"
	OpNotIn      Op = "notIn"
	OpLt         Op = "lt"
	OpLte        Op = "lte"
	OpGt         Op = "gt"
	OpGte        Op = "gte"
	OpContains   Op = "contains"
	OpStartsWith Op = "startsWith"
	OpEndsWith   Op = "endsWith"
)

var ops = map[string]Op{
	string(OpEquals):     OpEquals,
	string(OpNotEquals):  OpNotEquals,
	string(OpIn):         OpIn,
	string(OpNotIn):      OpNotIn,
	string(OpLt):         OpLt,
	string(OpLte):        OpLte,
	string(OpGt):         OpGt,
	string(OpGte):        OpGte,
	string(OpContains):   OpContains,
	string(OpStartsWith): OpStartsWith,
	string(OpEndsWith):   OpEndsWith,
}

// ParseOp resolves a filter key such as "gte" to its Op.
func ParseOp(s string) (Op, bool) {
	op, ok := ops[s]
	return op, ok
}

// Equals is shorthand for an equality Condition.
func Equals(field string, v value.Value) Filter {
	return Condition{Field: field, Op: OpEquals, Value: v}
}

// Conjoin combines filters with AND, dropping Empty members and unwrapping a
// single remaining member.
func Conjoin(filters ...Filter) Filter {
	var out And
	for _, f := range filters {
		switch f := f.(type) {
		case nil, Empty:
		case And:
			out = append(out, f...)
		default:
			out = append(out, f)
		}
	}
	switch len(out) {
	case 0:
		return Empty{}
	case 1:
		return out[0]
	}
	return out
}

// IsEmpty reports whether f places no constraint at all.
func IsEmpty(f Filter) bool {
	switch f := f.(type) {
	case nil, Empty:
		return true
	case And:
		for _, m := range f {
			if !IsEmpty(m) {
				return false
			}
		}
		return true
	}
	return false
}
