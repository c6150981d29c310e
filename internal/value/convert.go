package value

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// FromGo converts decoded JSON (or hand-built Go values) into a Value.
// Integral float64 values become Int since JSON has a single number type.
func FromGo(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Boolean(t), nil
	case int:
		return Int(t), nil
	case int32:
		return Int(t), nil
	case int64:
		return Int(t), nil
	case float32:
		return fromFloat(float64(t)), nil
	case float64:
		return fromFloat(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.String())
		}
		return Float(f), nil
	case []byte:
		return Bytes(t), nil
	case time.Time:
		return DateTime(t), nil
	case []any:
		out := make(List, len(t))
		for i, e := range t {
			ev, err := FromGo(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = ev
		}
		return out, nil
	case map[string]any:
		out := make(Object, len(t))
		for k, e := range t {
			ev, err := FromGo(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = ev
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported Go value of type %T", v)
	}
}

func fromFloat(f float64) Value {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return Int(int64(f))
	}
	return Float(f)
}

// ToGo converts v into JSON-safe Go values. Bytes are base64 encoded and
// DateTime values are rendered as RFC 3339 strings.
func ToGo(v Value) any {
	switch t := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(t)
	case Int:
		return int64(t)
	case Float:
		return float64(t)
	case Boolean:
		return bool(t)
	case Bytes:
		return base64.StdEncoding.EncodeToString(t)
	case DateTime:
		return time.Time(t).UTC().Format(time.RFC3339Nano)
	case Enum:
		return string(t)
	case List:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = ToGo(e)
		}
		return out
	case Object:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = ToGo(e)
		}
		return out
	}
	return nil
}

// ToProto converts v into a google.protobuf.Value.
func ToProto(v Value) (*structpb.Value, error) {
	switch t := v.(type) {
	case List:
		items := make([]*structpb.Value, len(t))
		for i, e := range t {
			pv, err := ToProto(e)
			if err != nil {
				return nil, err
			}
			items[i] = pv
		}
		return structpb.NewListValue(&structpb.ListValue{Values: items}), nil
	case Object:
		fields := make(map[string]*structpb.Value, len(t))
		for _, k := range t.SortedKeys() {
			pv, err := ToProto(t[k])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			fields[k] = pv
		}
		return structpb.NewStructValue(&structpb.Struct{Fields: fields}), nil
	}
	return structpb.NewValue(ToGo(v))
}

// FromProto converts a google.protobuf.Value into a Value.
func FromProto(pv *structpb.Value) (Value, error) {
	if pv == nil {
		return Null{}, nil
	}
	switch k := pv.GetKind().(type) {
	case *structpb.Value_NullValue:
		return Null{}, nil
	case *structpb.Value_StringValue:
		return String(k.StringValue), nil
	case *structpb.Value_BoolValue:
		return Boolean(k.BoolValue), nil
	case *structpb.Value_NumberValue:
		return fromFloat(k.NumberValue), nil
	case *structpb.Value_ListValue:
		vals := k.ListValue.GetValues()
		out := make(List, len(vals))
		for i, e := range vals {
			ev, err := FromProto(e)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	case *structpb.Value_StructValue:
		fields := k.StructValue.GetFields()
		keys := make([]string, 0, len(fields))
		for name := range fields {
			keys = append(keys, name)
		}
		sort.Strings(keys)
		out := make(Object, len(fields))
		for _, name := range keys {
			ev, err := FromProto(fields[name])
			if err != nil {
				return nil, err
			}
			out[name] = ev
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported protobuf value kind %T", pv.GetKind())
}
