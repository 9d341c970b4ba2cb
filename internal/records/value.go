package records

import (
	"bytes"
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ValueKind identifies what a field value holds.
type ValueKind int

const (
	// KindNull is an absent or explicit null value
	KindNull ValueKind = iota
	// KindScalar is a string, number or bool
	KindScalar
	// KindList is an ordered list of values (multi-valued fields such as owners)
	KindList
	// KindObject is a nested ordered mapping
	KindObject
)

// Value is one field value inside a section. The zero Value is null.
type Value struct {
	kind   ValueKind
	scalar interface{}
	list   []Value
	object *orderedmap.OrderedMap[string, Value]
}

// Fields is an insertion-ordered field name to value mapping.
type Fields = orderedmap.OrderedMap[string, Value]

// Field is a name/value pair used to build Fields literally.
type Field struct {
	Name  string
	Value Value
}

// F is shorthand for a Field.
func F(name string, value Value) Field {
	return Field{Name: name, Value: value}
}

// NewFields returns an empty ordered mapping.
func NewFields() *Fields {
	return orderedmap.New[string, Value]()
}

// FieldsFrom builds an ordered mapping from fields, in order.
func FieldsFrom(fields ...Field) *Fields {
	f := orderedmap.New[string, Value]()
	for _, field := range fields {
		f.Set(field.Name, field.Value)
	}
	return f
}

// EachField calls fn for every field in insertion order. A nil mapping has no fields.
func EachField(f *Fields, fn func(name string, v Value)) {
	if f == nil {
		return
	}
	for pair := f.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

// FieldNames returns the field names of f in order.
func FieldNames(f *Fields) []string {
	names := []string{}
	EachField(f, func(name string, _ Value) {
		names = append(names, name)
	})
	return names
}

// CloneFields deep-copies f.
func CloneFields(f *Fields) *Fields {
	if f == nil {
		return nil
	}
	out := orderedmap.New[string, Value]()
	EachField(f, func(name string, v Value) {
		out.Set(name, v.Clone())
	})
	return out
}

func fieldCount(f *Fields) int {
	if f == nil {
		return 0
	}
	return f.Len()
}

// Null returns the null value.
func Null() Value {
	return Value{}
}

// Scalar wraps a string, json.Number, number or bool. A nil scalar is null.
func Scalar(v interface{}) Value {
	if v == nil {
		return Value{}
	}
	return Value{kind: KindScalar, scalar: v}
}

// String wraps s.
func String(s string) Value {
	return Scalar(s)
}

// List wraps an ordered list of values.
func List(values ...Value) Value {
	return Value{kind: KindList, list: values}
}

// Strings wraps a list of strings.
func Strings(values ...string) Value {
	list := make([]Value, 0, len(values))
	for _, v := range values {
		list = append(list, String(v))
	}
	return List(list...)
}

// Object wraps a nested mapping. A nil mapping is null.
func Object(f *Fields) Value {
	if f == nil {
		return Value{}
	}
	return Value{kind: KindObject, object: f}
}

// Kind returns what v holds.
func (v Value) Kind() ValueKind {
	return v.kind
}

// IsNull reports whether v is null.
func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// ScalarValue returns the raw scalar, or nil when v is not a scalar.
func (v Value) ScalarValue() interface{} {
	if v.kind != KindScalar {
		return nil
	}
	return v.scalar
}

// StringValue returns the scalar as a string when it is one.
func (v Value) StringValue() (string, bool) {
	s, ok := v.ScalarValue().(string)
	return s, ok
}

// ListValues returns the list items, or nil when v is not a list.
func (v Value) ListValues() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.list
}

// ObjectFields returns the nested mapping, or nil when v is not an object.
func (v Value) ObjectFields() *Fields {
	if v.kind != KindObject {
		return nil
	}
	return v.object
}

// Clone deep-copies v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		list := make([]Value, len(v.list))
		for i, item := range v.list {
			list[i] = item.Clone()
		}
		return Value{kind: KindList, list: list}
	case KindObject:
		return Value{kind: KindObject, object: CloneFields(v.object)}
	default:
		return v
	}
}

// Equal reports deep equality, including field order of nested objects.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindScalar:
		return fmt.Sprint(v.scalar) == fmt.Sprint(other.scalar)
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindObject:
		return FieldsEqual(v.object, other.object)
	}
	return false
}

// FieldsEqual reports whether two mappings hold equal values in the same order.
func FieldsEqual(a, b *Fields) bool {
	if a == nil || b == nil {
		return fieldCount(a) == 0 && fieldCount(b) == 0
	}
	if a.Len() != b.Len() {
		return false
	}
	pb := b.Oldest()
	for pa := a.Oldest(); pa != nil; pa = pa.Next() {
		if pb == nil || pa.Key != pb.Key || !pa.Value.Equal(pb.Value) {
			return false
		}
		pb = pb.Next()
	}
	return true
}

// Interface converts v to plain Go values (string, json.Number, bool,
// []interface{}, map[string]interface{}) for callers that do not care about
// field order.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindScalar:
		return v.scalar
	case KindList:
		out := make([]interface{}, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, fieldCount(v.object))
		EachField(v.object, func(name string, item Value) {
			out[name] = item.Interface()
		})
		return out
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindScalar:
		return json.Marshal(v.scalar)
	case KindList:
		return json.Marshal(v.list)
	case KindObject:
		return v.object.MarshalJSON()
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler. Objects keep their key order.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}

	switch data[0] {
	case '[':
		var items []Value
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*v = List(items...)
	case '{':
		fields := NewFields()
		if err := fields.UnmarshalJSON(data); err != nil {
			return err
		}
		*v = Object(fields)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var scalar interface{}
		if err := dec.Decode(&scalar); err != nil {
			return err
		}
		*v = Scalar(scalar)
	}
	return nil
}
