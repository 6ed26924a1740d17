package structs

import (
	"maps"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/zond/juicerpg"
	"github.com/zond/juicerpg/formula"

	goccy "github.com/goccy/go-json"
)

// GameState holds the mutable game-wide data reactions read and write.
// All fields are private and accessed via getters/setters that handle locking.
type GameState struct {
	mu         sync.RWMutex
	variables  map[int]formula.Value
	switches   map[int]bool
	currencies map[int]float64
	objects    map[int]*MapObject
}

func NewGameState() *GameState {
	return &GameState{
		variables:  map[int]formula.Value{},
		switches:   map[int]bool{},
		currencies: map[int]float64{},
		objects:    map[int]*MapObject{},
	}
}

// Variable returns the variable, or formula.Nil if it was never set.
func (g *GameState) Variable(id int) formula.Value {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.variables[id]
}

func (g *GameState) SetVariable(id int, v formula.Value) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v.IsNil() {
		delete(g.variables, id)
		return
	}
	g.variables[id] = v
}

func (g *GameState) Switch(id int) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.switches[id]
}

func (g *GameState) SetSwitch(id int, on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !on {
		delete(g.switches, id)
		return
	}
	g.switches[id] = true
}

func (g *GameState) Currency(id int) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.currencies[id]
}

func (g *GameState) SetCurrency(id int, amount float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.currencies[id] = amount
}

func (g *GameState) Object(id int) (*MapObject, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	o, found := g.objects[id]
	return o, found
}

// AddObject adds or replaces the object with the same id.
func (g *GameState) AddObject(o *MapObject) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.objects[o.ID] = o
}

func (g *GameState) ObjectIDs() []int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Sorted(maps.Keys(g.objects))
}

func (g *GameState) VariablesSnapshot() map[int]formula.Value {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return maps.Clone(g.variables)
}

func (g *GameState) SwitchesSnapshot() map[int]bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return maps.Clone(g.switches)
}

func (g *GameState) CurrenciesSnapshot() map[int]float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return maps.Clone(g.currencies)
}

// Clone returns a deep copy, used when saving while reactions keep running.
func (g *GameState) Clone() *GameState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	result := &GameState{
		variables:  maps.Clone(g.variables),
		switches:   maps.Clone(g.switches),
		currencies: maps.Clone(g.currencies),
		objects:    make(map[int]*MapObject, len(g.objects)),
	}
	for id, o := range g.objects {
		result.objects[id] = o.Clone()
	}
	return result
}

// Namespaces returns the formula module aliases backed by this state.
func (g *GameState) Namespaces() map[string]formula.Value {
	return map[string]formula.Value{
		"variables": formula.Object(formula.Lookup(func(key formula.Value) (formula.Value, bool) {
			id, ok := intKey(key)
			if !ok {
				return formula.Nil, false
			}
			v := g.Variable(id)
			return v, !v.IsNil()
		})),
		"switches": formula.Object(formula.Lookup(func(key formula.Value) (formula.Value, bool) {
			id, ok := intKey(key)
			if !ok {
				return formula.Nil, false
			}
			return formula.Bool(g.Switch(id)), true
		})),
		"currencies": formula.Object(formula.Lookup(func(key formula.Value) (formula.Value, bool) {
			id, ok := intKey(key)
			if !ok {
				return formula.Nil, false
			}
			return formula.Number(g.Currency(id)), true
		})),
		"objects": formula.Object(formula.Lookup(func(key formula.Value) (formula.Value, bool) {
			id, ok := intKey(key)
			if !ok {
				return formula.Nil, false
			}
			o, found := g.Object(id)
			if !found {
				return formula.Nil, false
			}
			return o.Value(), true
		})),
	}
}

func intKey(key formula.Value) (int, bool) {
	f, ok := key.AsNumber()
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// gameStateJSON is the serialization format of GameState.
type gameStateJSON struct {
	Variables  map[int]formula.Value `json:"variables,omitempty"`
	Switches   map[int]bool          `json:"switches,omitempty"`
	Currencies map[int]float64       `json:"currencies,omitempty"`
	Objects    []*MapObject          `json:"objects,omitempty"`
}

func (g *GameState) MarshalJSON() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	j := gameStateJSON{
		Variables:  g.variables,
		Switches:   g.switches,
		Currencies: g.currencies,
	}
	for _, id := range slices.Sorted(maps.Keys(g.objects)) {
		j.Objects = append(j.Objects, g.objects[id])
	}
	return goccy.Marshal(j)
}

func (g *GameState) UnmarshalJSON(data []byte) error {
	var j gameStateJSON
	if err := goccy.Unmarshal(data, &j); err != nil {
		return err
	}
	for i, o := range j.Objects {
		if o == nil {
			return juicerpg.WithStack(errors.Errorf("objects[%d] is null", i))
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.variables = j.Variables
	if g.variables == nil {
		g.variables = map[int]formula.Value{}
	}
	g.switches = j.Switches
	if g.switches == nil {
		g.switches = map[int]bool{}
	}
	g.currencies = j.Currencies
	if g.currencies == nil {
		g.currencies = map[int]float64{}
	}
	g.objects = make(map[int]*MapObject, len(j.Objects))
	for _, o := range j.Objects {
		if o.Properties == nil {
			o.Properties = map[string]formula.Value{}
		}
		g.objects[o.ID] = o
	}
	return nil
}
