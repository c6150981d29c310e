package value

import (
	"bytes"
	"encoding/base64"
	"strconv"
	"strings"
	"time"
)

// Key returns a canonical string encoding of v. Two values have the same key
// exactly when Equal reports true; object keys are sorted. Int and Float share
// a numeric encoding so 1 and 1.0 collapse to the same key.
func Key(v Value) string {
	var b strings.Builder
	writeKey(&b, v)
	return b.String()
}

func writeKey(b *strings.Builder, v Value) {
	switch t := v.(type) {
	case nil, Null:
		b.WriteString("n")
	case String:
		b.WriteString("s")
		b.WriteString(strconv.Quote(string(t)))
	case Int:
		b.WriteString("d")
		b.WriteString(strconv.FormatFloat(float64(t), 'g', -1, 64))
	case Float:
		b.WriteString("d")
		b.WriteString(strconv.FormatFloat(float64(t), 'g', -1, 64))
	case Boolean:
		if t {
			b.WriteString("t")
		} else {
			b.WriteString("f")
		}
	case Bytes:
		b.WriteString("b")
		b.WriteString(base64.StdEncoding.EncodeToString(t))
	case DateTime:
		b.WriteString("T")
		b.WriteString(time.Time(t).UTC().Format(time.RFC3339Nano))
	case Enum:
		b.WriteString("e")
		b.WriteString(strconv.Quote(string(t)))
	case List:
		b.WriteString("[")
		for i, e := range t {
			if i > 0 {
				b.WriteString(",")
			}
			writeKey(b, e)
		}
		b.WriteString("]")
	case Object:
		b.WriteString("{")
		for i, k := range t.SortedKeys() {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(strconv.Quote(k))
			b.WriteString(":")
			writeKey(b, t[k])
		}
		b.WriteString("}")
	}
}

// Equal reports structural equality.
func Equal(a, b Value) bool {
	return Key(a) == Key(b)
}

// Compare orders two scalar values of compatible kinds. ok is false when the
// values cannot be ordered against each other (mixed kinds, lists, objects,
// nulls).
func Compare(a, b Value) (cmp int, ok bool) {
	switch x := a.(type) {
	case Int, Float:
		fa, _ := number(x)
		fb, isNum := number(b)
		if !isNum {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	case String:
		y, ok := b.(String)
		if !ok {
			return 0, false
		}
		return strings.Compare(string(x), string(y)), true
	case Enum:
		y, ok := b.(Enum)
		if !ok {
			return 0, false
		}
		return strings.Compare(string(x), string(y)), true
	case Boolean:
		y, ok := b.(Boolean)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !bool(x):
			return -1, true
		}
		return 1, true
	case Bytes:
		y, ok := b.(Bytes)
		if !ok {
			return 0, false
		}
		return bytes.Compare(x, y), true
	case DateTime:
		y, ok := b.(DateTime)
		if !ok {
			return 0, false
		}
		return time.Time(x).Compare(time.Time(y)), true
	}
	return 0, false
}

func number(v Value) (float64, bool) {
	switch t := v.(type) {
	case Int:
		return float64(t), true
	case Float:
		return float64(t), true
	}
	return 0, false
}
