package metrics

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cast"
)

// Value is the payload of a metric sample: either a single scalar or a set of named fields
type Value struct {
	scalar float64
	fields map[string]interface{}
}

// Scalar creates a scalar value
func Scalar(v float64) Value {
	return Value{scalar: v}
}

// Fields creates a map value. The map is copied.
func Fields(m map[string]interface{}) Value {
	fields := make(map[string]interface{}, len(m))
	for k, v := range m {
		fields[k] = v
	}
	return Value{fields: fields}
}

// NewValue converts a collector result into a Value.
// Numbers become scalars, string-keyed maps become field values.
func NewValue(raw interface{}) (Value, error) {
	switch v := raw.(type) {
	case Value:
		return v, nil
	case nil:
		return Value{}, fmt.Errorf("collector returned nil value")
	case map[string]float64:
		fields := make(map[string]interface{}, len(v))
		for k, f := range v {
			fields[k] = f
		}
		return Value{fields: fields}, nil
	case map[string]int:
		fields := make(map[string]interface{}, len(v))
		for k, n := range v {
			fields[k] = n
		}
		return Value{fields: fields}, nil
	}

	if isNumeric(raw) {
		f, err := cast.ToFloat64E(raw)
		if err != nil {
			return Value{}, fmt.Errorf("failed to convert value: %w", err)
		}
		return Scalar(f), nil
	}

	m, err := cast.ToStringMapE(raw)
	if err != nil {
		return Value{}, fmt.Errorf("unsupported metric value type %T", raw)
	}
	return Fields(m), nil
}

// IsMap reports whether the value carries named fields
func (v Value) IsMap() bool {
	return v.fields != nil
}

// Map returns a copy of the value's fields, or nil for scalars
func (v Value) Map() map[string]interface{} {
	if v.fields == nil {
		return nil
	}
	out := make(map[string]interface{}, len(v.fields))
	for k, f := range v.fields {
		out[k] = f
	}
	return out
}

// Field returns a numeric field of a map value
func (v Value) Field(key string) (float64, bool) {
	if v.fields == nil {
		return 0, false
	}
	raw, ok := v.fields[key]
	if !ok || !isNumeric(raw) {
		return 0, false
	}
	f, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Float extracts a scalar. Scalars return themselves; maps return their first
// numeric field in ascending key order, or 0 when none is numeric.
func (v Value) Float() float64 {
	if v.fields == nil {
		return v.scalar
	}
	keys := make([]string, 0, len(v.fields))
	for k := range v.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if f, ok := v.Field(k); ok {
			return f
		}
	}
	return 0
}

// Extract returns the field named by valueKey when set, otherwise Float().
// A missing or non-numeric selected field yields 0.
func (v Value) Extract(valueKey string) float64 {
	if valueKey == "" || v.fields == nil {
		return v.Float()
	}
	f, _ := v.Field(valueKey)
	return f
}

// String renders the value for log lines and notification bodies
func (v Value) String() string {
	if v.fields == nil {
		return fmt.Sprintf("%g", v.scalar)
	}
	data, _ := json.Marshal(v.fields)
	return string(data)
}

// MarshalJSON renders scalars as numbers and maps as objects
func (v Value) MarshalJSON() ([]byte, error) {
	if v.fields == nil {
		return json.Marshal(v.scalar)
	}
	return json.Marshal(v.fields)
}

// UnmarshalJSON accepts either a number or an object
func (v *Value) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*v = Scalar(f)
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("metric value must be a number or an object: %w", err)
	}
	*v = Fields(m)
	return nil
}

func isNumeric(raw interface{}) bool {
	switch raw.(type) {
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return true
	default:
		return false
	}
}
