package catalog

import (
	"fmt"
	"time"

	"github.com/hanpama/querygraph/internal/value"
)

// Coerce converts a client or fixture value into the stored representation
// of f: enum names given as strings, RFC 3339 date-times, integers for Float
// fields. Values already in that representation are returned unchanged.
func (c *Catalog) Coerce(f *ScalarField, v value.Value) (value.Value, error) {
	if f.IsList {
		if value.IsNull(v) {
			return value.Null{}, nil
		}
		list, ok := value.AsList(v)
		if !ok {
			return nil, fmt.Errorf("expected a list, got %s", value.Kind(v))
		}
		out := make(value.List, len(list))
		elem := *f
		elem.IsList = false
		for i, e := range list {
			ce, err := c.Coerce(&elem, e)
			if err != nil {
				return nil, err
			}
			out[i] = ce
		}
		return out, nil
	}
	switch t := v.(type) {
	case value.String:
		switch {
		case f.Type == TypeDateTime:
			ts, err := time.Parse(time.RFC3339Nano, string(t))
			if err != nil {
				return nil, fmt.Errorf("invalid DateTime %q", string(t))
			}
			return value.DateTime(ts), nil
		case c.IsEnum(f):
			return value.Enum(t), nil
		}
	case value.Enum:
		if f.Type == TypeString {
			return value.String(t), nil
		}
	case value.Int:
		if f.Type == TypeFloat {
			return value.Float(t), nil
		}
	}
	return v, nil
}

// IsEnum reports whether f holds values of a declared enum.
func (c *Catalog) IsEnum(f *ScalarField) bool {
	_, ok := c.Enum(string(f.Type))
	return ok
}
