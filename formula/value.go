package formula

import (
	"fmt"
	"math"
	"strconv"

	"github.com/zond/juicerpg"

	goccy "github.com/goccy/go-json"
)

type Kind int

const (
	KindNil Kind = iota
	KindNumber
	KindString
	KindBool
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Namespace is an object value formulas can read members and entries of.
type Namespace interface {
	Member(name string) (Value, bool)
	Index(key Value) (Value, bool)
}

// Snapshotter is implemented by namespaces that can be serialized.
type Snapshotter interface {
	Snapshot() map[string]Value
}

// Value is the single runtime value type of formulas and game variables.
// The zero Value is Nil, which is also what a failed formula yields.
type Value struct {
	kind Kind
	num  float64
	str  string
	obj  Namespace
}

var Nil = Value{}

func Number(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

func Int(i int) Value {
	return Value{kind: KindNumber, num: float64(i)}
}

func String(s string) Value {
	return Value{kind: KindString, str: s}
}

func Bool(b bool) Value {
	if b {
		return Value{kind: KindBool, num: 1}
	}
	return Value{kind: KindBool}
}

func Object(ns Namespace) Value {
	if ns == nil {
		return Nil
	}
	return Value{kind: KindObject, obj: ns}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsNil() bool {
	return v.kind == KindNil
}

func (v Value) AsNumber() (float64, bool) {
	if v.kind == KindNumber {
		return v.num, true
	}
	return 0, false
}

func (v Value) AsString() (string, bool) {
	if v.kind == KindString {
		return v.str, true
	}
	return "", false
}

func (v Value) AsBool() (bool, bool) {
	if v.kind == KindBool {
		return v.num != 0, true
	}
	return false, false
}

func (v Value) AsObject() (Namespace, bool) {
	if v.kind == KindObject {
		return v.obj, true
	}
	return nil, false
}

// NumberOr returns the number held by v, converting numeric strings and bools, or def.
func (v Value) NumberOr(def float64) float64 {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindBool:
		return v.num
	case KindString:
		if f, err := strconv.ParseFloat(v.str, 64); err == nil {
			return f
		}
	}
	return def
}

func (v Value) StringOr(def string) string {
	if v.kind == KindNil {
		return def
	}
	return v.String()
}

func (v Value) BoolOr(def bool) bool {
	if v.kind == KindNil {
		return def
	}
	return v.Truthy()
}

// Truthy follows the usual scripting rules: nil, false, 0, NaN and "" are false.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNil:
		return false
	case KindNumber:
		return v.num != 0 && !math.IsNaN(v.num)
	case KindString:
		return v.str != ""
	case KindBool:
		return v.num != 0
	}
	return true
}

func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.num != 0)
	case KindObject:
		if s, ok := v.obj.(fmt.Stringer); ok {
			return s.String()
		}
		return "<object>"
	}
	return "<invalid>"
}

// Equal compares by kind and content. Objects never compare equal, since
// namespaces may be maps or funcs.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNil:
		return true
	case KindNumber, KindBool:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	}
	return false
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return []byte("null"), nil
		}
		return goccy.Marshal(v.num)
	case KindString:
		return goccy.Marshal(v.str)
	case KindBool:
		return goccy.Marshal(v.num != 0)
	case KindObject:
		if l, ok := v.obj.(List); ok {
			return goccy.Marshal([]Value(l))
		}
		if s, ok := v.obj.(Snapshotter); ok {
			return goccy.Marshal(s.Snapshot())
		}
	}
	return []byte("null"), nil
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var raw any
	if err := goccy.Unmarshal(b, &raw); err != nil {
		return juicerpg.WithStack(err)
	}
	converted, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = converted
	return nil
}

// FromAny converts decoded JSON scalars and maps into Values.
func FromAny(raw any) (Value, error) {
	switch r := raw.(type) {
	case nil:
		return Nil, nil
	case float64:
		return Number(r), nil
	case int:
		return Int(r), nil
	case int64:
		return Number(float64(r)), nil
	case string:
		return String(r), nil
	case bool:
		return Bool(r), nil
	case Value:
		return r, nil
	case map[string]any:
		members := Members{}
		for k, sub := range r {
			converted, err := FromAny(sub)
			if err != nil {
				return Nil, err
			}
			members[k] = converted
		}
		return Object(members), nil
	case []any:
		list := make(List, 0, len(r))
		for _, sub := range r {
			converted, err := FromAny(sub)
			if err != nil {
				return Nil, err
			}
			list = append(list, converted)
		}
		return Object(list), nil
	}
	return Nil, juicerpg.WithStack(fmt.Errorf("can't convert %T to a formula value", raw))
}

// Members is a plain read only namespace.
type Members map[string]Value

func (m Members) Member(name string) (Value, bool) {
	v, found := m[name]
	return v, found
}

func (m Members) Index(key Value) (Value, bool) {
	if s, ok := key.AsString(); ok {
		return m.Member(s)
	}
	return Nil, false
}

func (m Members) Snapshot() map[string]Value {
	return m
}

// List is a read only sequence, indexed from 0 and with a length member.
type List []Value

func (l List) Member(name string) (Value, bool) {
	if name == "length" {
		return Int(len(l)), true
	}
	return Nil, false
}

func (l List) Index(key Value) (Value, bool) {
	f, ok := key.AsNumber()
	if !ok || f != math.Trunc(f) || f < 0 || f >= float64(len(l)) {
		return Nil, false
	}
	return l[int(f)], true
}

// Lookup is a namespace only addressable by index, like variables[3].
type Lookup func(key Value) (Value, bool)

func (l Lookup) Member(string) (Value, bool) {
	return Nil, false
}

func (l Lookup) Index(key Value) (Value, bool) {
	return l(key)
}
