package structs

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/zond/juicerpg/formula"

	goccy "github.com/goccy/go-json"
)

type testResolver struct {
	state  *GameState
	params map[string]DynamicValue
}

func (r *testResolver) Formula(src string) formula.Value {
	if src == "broken" {
		return formula.Nil
	}
	return formula.String("evaluated " + src)
}

func (r *testResolver) Variable(id int) formula.Value {
	return r.state.Variable(id)
}

func (r *testResolver) Switch(id int) bool {
	return r.state.Switch(id)
}

func (r *testResolver) Parameter(name string) (DynamicValue, bool) {
	d, found := r.params[name]
	return d, found
}

func TestDynamicResolve(t *testing.T) {
	state := NewGameState()
	state.SetVariable(3, formula.Number(12))
	state.SetSwitch(4, true)
	r := &testResolver{
		state: state,
		params: map[string]DynamicValue{
			"speed": NumberValue(2),
			"alias": ParameterValue("speed"),
			"loop":  ParameterValue("loop"),
		},
	}
	for _, tc := range []struct {
		d    DynamicValue
		want formula.Value
	}{
		{d: NumberValue(1.5), want: formula.Number(1.5)},
		{d: StringValue("x"), want: formula.String("x")},
		{d: BoolValue(true), want: formula.Bool(true)},
		{d: DatabaseValue(7), want: formula.Number(7)},
		{d: VariableValue(3), want: formula.Number(12)},
		{d: VariableValue(5), want: formula.Nil},
		{d: SwitchValue(4), want: formula.Bool(true)},
		{d: SwitchValue(5), want: formula.Bool(false)},
		{d: FormulaValue("1"), want: formula.String("evaluated 1")},
		{d: ParameterValue("alias"), want: formula.Number(2)},
		{d: ParameterValue("missing"), want: formula.Nil},
		{d: ParameterValue("loop"), want: formula.Nil},
	} {
		if got := tc.d.Resolve(r); !got.Equal(tc.want) {
			t.Errorf("%v: got %v, want %v", tc.d, got, tc.want)
		}
	}
	if got := FormulaValue("broken").NumberOr(r, 9); got != 9 {
		t.Errorf("got %v, want the fallback 9", got)
	}
	if got := VariableValue(3).IntOr(r, 0); got != 12 {
		t.Errorf("got %v, want 12", got)
	}
}

func TestDynamicJSON(t *testing.T) {
	b, err := goccy.Marshal([]DynamicValue{VariableValue(3), FormulaValue("a + 1"), BoolValue(false)})
	if err != nil {
		t.Fatal(err)
	}
	if want := `[["variable",3],["formula","a + 1"],["bool",false]]`; string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
	got := []DynamicValue{}
	if err := goccy.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(got, []DynamicValue{VariableValue(3), FormulaValue("a + 1"), BoolValue(false)}); diff != "" {
		t.Error(diff)
	}
	for _, bad := range []string{`["variable",1.5]`, `["nope",1]`, `["number"]`, `[1,2]`} {
		d := DynamicValue{}
		if err := goccy.Unmarshal([]byte(bad), &d); err == nil {
			t.Errorf("%s: wanted an error", bad)
		}
	}
}

func TestCursor(t *testing.T) {
	node := RawNode{}
	if err := goccy.Unmarshal([]byte(`{"command":["change_variable",3,"add","variable",4,"extra",true]}`), &node); err != nil {
		t.Fatal(err)
	}
	c, err := node.Cursor()
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Int(); got != 3 {
		t.Errorf("got %v, want 3", got)
	}
	if got := c.String(); got != "add" {
		t.Errorf("got %v, want add", got)
	}
	if got := c.Dynamic(); got != VariableValue(4) {
		t.Errorf("got %v, want variable(4)", got)
	}
	if got := c.String(); got != "extra" {
		t.Errorf("got %v, want extra", got)
	}
	if !c.More() {
		t.Errorf("wanted more parameters")
	}
	if err := c.Done(); err == nil || !strings.Contains(err.Error(), "trailing") {
		t.Errorf("got %v, want a trailing parameter error", err)
	}

	c = NewCursor("wait", []any{"soon"})
	if got := c.Float(); got != 0 {
		t.Errorf("got %v, want 0", got)
	}
	if got := c.String(); got != "" {
		t.Errorf("reads after a failure should return zero values, got %q", got)
	}
	if err := c.Done(); err == nil || !strings.Contains(err.Error(), "wait parameter 0") {
		t.Errorf("got %v, want the first failure", err)
	}

	c = NewCursor("wait", nil)
	c.Int()
	if c.Err() == nil {
		t.Errorf("wanted missing parameter error")
	}
}

func TestNodeNormalizes(t *testing.T) {
	c, err := Node("change_switch", 4, BoolValue(true)).Cursor()
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Int(); got != 4 {
		t.Errorf("got %v, want 4", got)
	}
	if got := c.Dynamic(); got != BoolValue(true) {
		t.Errorf("got %v, want bool(true)", got)
	}
	if err := c.Done(); err != nil {
		t.Error(err)
	}
	if _, err := (RawNode{Command: []any{3}}).Kind(); err == nil {
		t.Errorf("wanted an error for a numeric kind")
	}
}

func TestGameStateJSON(t *testing.T) {
	state := NewGameState()
	state.SetVariable(1, formula.String("hello"))
	state.SetVariable(2, formula.Number(3))
	state.SetSwitch(5, true)
	state.SetCurrency(1, 100)
	hero := NewMapObject(1, "Hero")
	hero.SetProperty("hp", formula.Number(40))
	hero.Reactions["interact"] = "greet"
	state.AddObject(hero)

	b, err := goccy.Marshal(state)
	if err != nil {
		t.Fatal(err)
	}
	got := NewGameState()
	if err := goccy.Unmarshal(b, got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(got.VariablesSnapshot(), state.VariablesSnapshot(), cmp.Comparer(formula.Value.Equal)); diff != "" {
		t.Errorf("variables: %v", diff)
	}
	if diff := cmp.Diff(got.SwitchesSnapshot(), state.SwitchesSnapshot()); diff != "" {
		t.Errorf("switches: %v", diff)
	}
	if diff := cmp.Diff(got.CurrenciesSnapshot(), state.CurrenciesSnapshot()); diff != "" {
		t.Errorf("currencies: %v", diff)
	}
	o, found := got.Object(1)
	if !found {
		t.Fatalf("object 1 missing after round trip")
	}
	if o.Name != "Hero" || !o.Property("hp").Equal(formula.Number(40)) {
		t.Errorf("got %+v, want Hero with 40 hp", o)
	}
	if name, _ := o.Reaction("interact"); name != "greet" {
		t.Errorf("got %q, want greet", name)
	}
}

func TestGameStateNullObject(t *testing.T) {
	state := NewGameState()
	state.SetVariable(1, formula.Number(2))
	err := goccy.Unmarshal([]byte(`{"variables": {"1": 5}, "objects": [{"id": 1, "name": "Hero"}, null]}`), state)
	if err == nil {
		t.Fatalf("wanted an error for a null object")
	}
	if !strings.Contains(err.Error(), "objects[1]") {
		t.Errorf("got %v, want the null index", err)
	}
	if got := state.Variable(1); !got.Equal(formula.Number(2)) {
		t.Errorf("got %v, want the state untouched", got)
	}
}

func TestGameStateNamespaces(t *testing.T) {
	state := NewGameState()
	state.SetVariable(3, formula.Number(7))
	state.SetCurrency(1, 50)
	hero := NewMapObject(2, "Hero")
	hero.SetProperty("hp", formula.Number(30))
	state.AddObject(hero)

	env := &formula.Env{Names: state.Namespaces()}
	for src, want := range map[string]formula.Value{
		"variables[3] * 2":        formula.Number(14),
		"variables[4]":            formula.Nil,
		"currencies[1] + 1":       formula.Number(51),
		"switches[9]":             formula.Bool(false),
		"objects[2].hp":           formula.Number(30),
		"objects[2].name":         formula.String("Hero"),
		"objects[2]['state']":     formula.Number(1),
		"objects[3]":              formula.Nil,
		"objects[2].hp > 20 && 1": formula.Number(1),
	} {
		prog, err := formula.Compile(src, false)
		if err != nil {
			t.Fatal(err)
		}
		got, err := prog.Run(env)
		if err != nil {
			t.Errorf("%q: %v", src, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("%q: got %v, want %v", src, got, want)
		}
	}
}

func TestClone(t *testing.T) {
	state := NewGameState()
	hero := NewMapObject(1, "Hero")
	state.AddObject(hero)
	clone := state.Clone()
	hero.SetStateID(2)
	state.SetVariable(1, formula.Number(1))
	if o, _ := clone.Object(1); o.StateID() != 1 {
		t.Errorf("clone shares objects with the original")
	}
	if !clone.Variable(1).IsNil() {
		t.Errorf("clone shares variables with the original")
	}
}

func TestManifest(t *testing.T) {
	m, err := ParseManifest([]byte(`{
		"id": 3,
		"name": "weather",
		"parameters": {"strength": ["number", 2]},
		"commands": [{"name": "rain", "parameters": ["duration"]}]
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Parameters["strength"]; got != NumberValue(2) {
		t.Errorf("got %v, want number 2", got)
	}
	for _, bad := range []string{
		`{"id": 3}`,
		`{"name": "x"}`,
		`{"id": 1, "name": "x", "commands": [{"name": "a"}, {"name": "a"}]}`,
	} {
		if _, err := ParseManifest([]byte(bad)); err == nil {
			t.Errorf("%s: wanted an error", bad)
		}
	}
}
