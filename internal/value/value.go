// Package value models parsed client-supplied argument values.
//
// Value is a sealed union: only the types in this package implement it, so a
// type switch over Null, String, Int, Float, Boolean, Bytes, DateTime, Enum,
// List and Object is exhaustive.
package value

import (
	"sort"
	"time"
)

type Value interface {
	value()
}

type Null struct{}

type String string

type Int int64

type Float float64

type Boolean bool

type Bytes []byte

type DateTime time.Time

// Enum carries the symbolic name of an enum member.
type Enum string

type List []Value

// Object maps argument names to values. Key order carries no meaning.
type Object map[string]Value

func (Null) value()     {}
func (String) value()   {}
func (Int) value()      {}
func (Float) value()    {}
func (Boolean) value()  {}
func (Bytes) value()    {}
func (DateTime) value() {}
func (Enum) value()     {}
func (List) value()     {}
func (Object) value()   {}

// Pair is a named value; argument lists are ordered slices of pairs.
type Pair struct {
	Key   string
	Value Value
}

// NewObject builds an Object from pairs. A repeated key keeps the last value.
func NewObject(pairs ...Pair) Object {
	o := make(Object, len(pairs))
	for _, p := range pairs {
		o[p.Key] = p.Value
	}
	return o
}

// SortedKeys returns the object's keys in lexical order.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Pairs returns the object's entries ordered by key.
func (o Object) Pairs() []Pair {
	out := make([]Pair, 0, len(o))
	for _, k := range o.SortedKeys() {
		out = append(out, Pair{Key: k, Value: o[k]})
	}
	return out
}

// IsNull reports whether v is absent or an explicit Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// AsObject returns v as an Object when it is one.
func AsObject(v Value) (Object, bool) {
	o, ok := v.(Object)
	return o, ok
}

// AsList returns v as a List. Non-list values are not coerced.
func AsList(v Value) (List, bool) {
	l, ok := v.(List)
	return l, ok
}

// CoerceList wraps a single value into a one-element list and returns lists
// unchanged. Null yields an empty list.
func CoerceList(v Value) List {
	switch t := v.(type) {
	case nil, Null:
		return List{}
	case List:
		return t
	default:
		return List{v}
	}
}

// Kind names the variant of v for diagnostics.
func Kind(v Value) string {
	switch v.(type) {
	case nil, Null:
		return "null"
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Boolean:
		return "boolean"
	case Bytes:
		return "bytes"
	case DateTime:
		return "datetime"
	case Enum:
		return "enum"
	case List:
		return "list"
	case Object:
		return "object"
	default:
		return "unknown"
	}
}
