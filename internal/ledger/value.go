package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Number
	String
	List
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case List:
		return "list"
	case Object:
		return "object"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Field is one key of an Object value. Objects keep their fields in
// document order.
type Field struct {
	Key   string
	Value Value
}

// Value is a JSON-like document as returned by an analysis agent.
// The zero Value is null.
type Value struct {
	kind   Kind
	b      bool
	num    float64
	str    string
	items  []Value
	fields []Field
}

func NullValue() Value               { return Value{} }
func BoolValue(b bool) Value         { return Value{kind: Bool, b: b} }
func NumberValue(n float64) Value    { return Value{kind: Number, num: n} }
func StringValue(s string) Value     { return Value{kind: String, str: s} }
func ListValue(items ...Value) Value { return Value{kind: List, items: items} }

// ObjectValue builds an object. A repeated key keeps its first position and
// its last value.
func ObjectValue(fields ...Field) Value {
	v := Value{kind: Object}
	for _, f := range fields {
		v.set(f.Key, f.Value)
	}
	return v
}

func (v Value) Kind() Kind { return v.kind }

// Str returns the string payload when v is a String.
func (v Value) Str() (string, bool) {
	if v.kind != String {
		return "", false
	}
	return v.str, true
}

// Num returns the number payload when v is a Number.
func (v Value) Num() (float64, bool) {
	if v.kind != Number {
		return 0, false
	}
	return v.num, true
}

// Items returns the elements of a List, nil otherwise.
func (v Value) Items() []Value {
	if v.kind != List {
		return nil
	}
	return v.items
}

// Fields returns the fields of an Object in document order, nil otherwise.
func (v Value) Fields() []Field {
	if v.kind != Object {
		return nil
	}
	return v.fields
}

// Len is the number of list elements or object fields.
func (v Value) Len() int {
	switch v.kind {
	case List:
		return len(v.items)
	case Object:
		return len(v.fields)
	default:
		return 0
	}
}

// Get looks up key on an Object.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != Object {
		return Value{}, false
	}
	for _, f := range v.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Has reports whether an Object carries key.
func (v Value) Has(key string) bool {
	_, ok := v.Get(key)
	return ok
}

func (v *Value) set(key string, val Value) {
	for i := range v.fields {
		if v.fields[i].Key == key {
			v.fields[i].Value = val
			return
		}
	}
	v.fields = append(v.fields, Field{Key: key, Value: val})
}

// Text renders v for embedding in lesson text: strings verbatim, everything
// else as compact JSON.
func (v Value) Text() string {
	if v.kind == String {
		return v.str
	}
	b, err := v.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(b)
}

// StringLeaves collects every string reachable from v, depth first.
func (v Value) StringLeaves() []string {
	var out []string
	var walk func(Value)
	walk = func(n Value) {
		switch n.kind {
		case String:
			out = append(out, n.str)
		case List:
			for _, item := range n.items {
				walk(item)
			}
		case Object:
			for _, f := range n.fields {
				walk(f.Value)
			}
		}
	}
	walk(v)
	return out
}

// FromAny converts decoded Go values (as produced by encoding/json into
// interface{}) into a Value. Map keys are sorted since Go maps carry no order.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Value{}
	case Value:
		return t
	case bool:
		return BoolValue(t)
	case string:
		return StringValue(t)
	case float64:
		return NumberValue(t)
	case float32:
		return NumberValue(float64(t))
	case int:
		return NumberValue(float64(t))
	case int64:
		return NumberValue(float64(t))
	case json.Number:
		f, _ := t.Float64()
		return NumberValue(f)
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = StringValue(s)
		}
		return ListValue(items...)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return ListValue(items...)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]Field, len(keys))
		for i, k := range keys {
			fields[i] = Field{Key: k, Value: FromAny(t[k])}
		}
		return ObjectValue(fields...)
	case map[string]string:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]Field, len(keys))
		for i, k := range keys {
			fields[i] = Field{Key: k, Value: StringValue(t[k])}
		}
		return ObjectValue(fields...)
	default:
		return StringValue(fmt.Sprint(t))
	}
}

// ParseValue decodes a single JSON document, keeping object key order.
func ParseValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(v.b))
	case Number:
		b, err := json.Marshal(v.num)
		if err != nil {
			return fmt.Errorf("encode number: %w", err)
		}
		buf.Write(b)
	case String:
		b, _ := json.Marshal(v.str)
		buf.Write(b)
	case List:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		for i, f := range v.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, _ := json.Marshal(f.Key)
			buf.Write(k)
			buf.WriteByte(':')
			if err := f.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("encode value: unknown kind %s", v.kind)
	}
	return nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}

	switch t := tok.(type) {
	case nil:
		return Value{}, nil
	case bool:
		return BoolValue(t), nil
	case string:
		return StringValue(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("parse number %q: %w", t.String(), err)
		}
		return NumberValue(f), nil
	case json.Delim:
		switch t {
		case '[':
			list := Value{kind: List}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				list.items = append(list.items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return list, nil
		case '{':
			obj := Value{kind: Object}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("object key is %T, not string", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				obj.set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return obj, nil
		}
	}
	return Value{}, fmt.Errorf("unexpected JSON token %v", tok)
}
