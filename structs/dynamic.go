package structs

import (
	"fmt"
	"strconv"

	"github.com/zond/juicerpg"
	"github.com/zond/juicerpg/formula"

	goccy "github.com/goccy/go-json"
)

type DynamicKind string

const (
	DynamicNumber    DynamicKind = "number"
	DynamicString    DynamicKind = "string"
	DynamicBool      DynamicKind = "bool"
	DynamicFormula   DynamicKind = "formula"
	DynamicDatabase  DynamicKind = "db"
	DynamicVariable  DynamicKind = "variable"
	DynamicSwitch    DynamicKind = "switch"
	DynamicParameter DynamicKind = "parameter"
)

const (
	maxParameterDepth = 8
)

// Resolver supplies what a DynamicValue needs to produce a concrete value.
type Resolver interface {
	Formula(src string) formula.Value
	Variable(id int) formula.Value
	Switch(id int) bool
	Parameter(name string) (DynamicValue, bool)
}

// DynamicValue is a literal or a lazily resolved reference.
type DynamicValue struct {
	Kind   DynamicKind
	Number float64
	Text   string
	Bool   bool
	ID     int
}

func NumberValue(f float64) DynamicValue {
	return DynamicValue{Kind: DynamicNumber, Number: f}
}

func StringValue(s string) DynamicValue {
	return DynamicValue{Kind: DynamicString, Text: s}
}

func BoolValue(b bool) DynamicValue {
	return DynamicValue{Kind: DynamicBool, Bool: b}
}

func FormulaValue(src string) DynamicValue {
	return DynamicValue{Kind: DynamicFormula, Text: src}
}

func VariableValue(id int) DynamicValue {
	return DynamicValue{Kind: DynamicVariable, ID: id}
}

func SwitchValue(id int) DynamicValue {
	return DynamicValue{Kind: DynamicSwitch, ID: id}
}

func DatabaseValue(id int) DynamicValue {
	return DynamicValue{Kind: DynamicDatabase, ID: id}
}

func ParameterValue(name string) DynamicValue {
	return DynamicValue{Kind: DynamicParameter, Text: name}
}

func (d DynamicValue) String() string {
	switch d.Kind {
	case DynamicNumber:
		return strconv.FormatFloat(d.Number, 'f', -1, 64)
	case DynamicString:
		return strconv.Quote(d.Text)
	case DynamicBool:
		return strconv.FormatBool(d.Bool)
	case DynamicFormula:
		return fmt.Sprintf("formula(%s)", d.Text)
	case DynamicParameter:
		return fmt.Sprintf("parameter(%s)", d.Text)
	case DynamicDatabase, DynamicVariable, DynamicSwitch:
		return fmt.Sprintf("%s(%d)", d.Kind, d.ID)
	}
	return "none"
}

// Resolve produces the concrete value. Failed formulas resolve to formula.Nil.
func (d DynamicValue) Resolve(r Resolver) formula.Value {
	return d.resolve(r, 0)
}

func (d DynamicValue) resolve(r Resolver, depth int) formula.Value {
	switch d.Kind {
	case DynamicNumber:
		return formula.Number(d.Number)
	case DynamicString:
		return formula.String(d.Text)
	case DynamicBool:
		return formula.Bool(d.Bool)
	case DynamicDatabase:
		return formula.Int(d.ID)
	case DynamicFormula:
		return r.Formula(d.Text)
	case DynamicVariable:
		return r.Variable(d.ID)
	case DynamicSwitch:
		return formula.Bool(r.Switch(d.ID))
	case DynamicParameter:
		if depth >= maxParameterDepth {
			return formula.Nil
		}
		param, found := r.Parameter(d.Text)
		if !found {
			return formula.Nil
		}
		return param.resolve(r, depth+1)
	}
	return formula.Nil
}

func (d DynamicValue) NumberOr(r Resolver, def float64) float64 {
	return d.Resolve(r).NumberOr(def)
}

func (d DynamicValue) StringOr(r Resolver, def string) string {
	return d.Resolve(r).StringOr(def)
}

func (d DynamicValue) BoolOr(r Resolver, def bool) bool {
	return d.Resolve(r).BoolOr(def)
}

// IntOr resolves to a truncated integer, typically an id.
func (d DynamicValue) IntOr(r Resolver, def int) int {
	return int(d.Resolve(r).NumberOr(float64(def)))
}

func (d DynamicValue) payload() any {
	switch d.Kind {
	case DynamicNumber:
		return d.Number
	case DynamicString, DynamicFormula, DynamicParameter:
		return d.Text
	case DynamicBool:
		return d.Bool
	}
	return d.ID
}

// MarshalJSON encodes d as the two element array [kind, payload].
func (d DynamicValue) MarshalJSON() ([]byte, error) {
	return goccy.Marshal([]any{d.Kind, d.payload()})
}

func (d *DynamicValue) UnmarshalJSON(b []byte) error {
	raw := []any{}
	if err := goccy.Unmarshal(b, &raw); err != nil {
		return juicerpg.WithStack(err)
	}
	if len(raw) != 2 {
		return juicerpg.WithStack(fmt.Errorf("dynamic value %s is not a [kind, payload] pair", b))
	}
	decoded, err := DecodeDynamic(raw[0], raw[1])
	if err != nil {
		return err
	}
	*d = decoded
	return nil
}

// DecodeDynamic builds a DynamicValue from a decoded kind and payload.
func DecodeDynamic(kind any, payload any) (DynamicValue, error) {
	k, ok := kind.(string)
	if !ok {
		return DynamicValue{}, juicerpg.WithStack(fmt.Errorf("dynamic value kind %v is not a string", kind))
	}
	d := DynamicValue{Kind: DynamicKind(k)}
	switch d.Kind {
	case DynamicNumber:
		f, ok := payload.(float64)
		if !ok {
			return DynamicValue{}, juicerpg.WithStack(fmt.Errorf("number payload %v is not a number", payload))
		}
		d.Number = f
	case DynamicString, DynamicFormula, DynamicParameter:
		s, ok := payload.(string)
		if !ok {
			return DynamicValue{}, juicerpg.WithStack(fmt.Errorf("%s payload %v is not a string", d.Kind, payload))
		}
		d.Text = s
	case DynamicBool:
		b, ok := payload.(bool)
		if !ok {
			return DynamicValue{}, juicerpg.WithStack(fmt.Errorf("bool payload %v is not a bool", payload))
		}
		d.Bool = b
	case DynamicDatabase, DynamicVariable, DynamicSwitch:
		f, ok := payload.(float64)
		if !ok || f != float64(int(f)) {
			return DynamicValue{}, juicerpg.WithStack(fmt.Errorf("%s payload %v is not an integer", d.Kind, payload))
		}
		d.ID = int(f)
	default:
		return DynamicValue{}, juicerpg.WithStack(fmt.Errorf("unknown dynamic value kind %q", k))
	}
	return d, nil
}
