package structs

import (
	"fmt"
	"maps"
	"sync"

	"github.com/zond/juicerpg/formula"
)

// MapObject is an object on the map that reactions act on.
type MapObject struct {
	mu sync.RWMutex

	ID         int                      `json:"id"`
	Name       string                   `json:"name"`
	State      int                      `json:"state"`
	Properties map[string]formula.Value `json:"properties,omitempty"`
	// Reactions maps triggers, like "interact" or "load", to reaction names.
	Reactions map[string]string `json:"reactions,omitempty"`
}

func NewMapObject(id int, name string) *MapObject {
	return &MapObject{
		ID:         id,
		Name:       name,
		State:      1,
		Properties: map[string]formula.Value{},
		Reactions:  map[string]string{},
	}
}

func (o *MapObject) Property(name string) formula.Value {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.Properties[name]
}

func (o *MapObject) SetProperty(name string, v formula.Value) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Properties == nil {
		o.Properties = map[string]formula.Value{}
	}
	if v.IsNil() {
		delete(o.Properties, name)
		return
	}
	o.Properties[name] = v
}

func (o *MapObject) StateID() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.State
}

func (o *MapObject) SetStateID(id int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.State = id
}

// Reaction returns the reaction bound to trigger.
func (o *MapObject) Reaction(trigger string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	name, found := o.Reactions[trigger]
	return name, found
}

func (o *MapObject) Clone() *MapObject {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return &MapObject{
		ID:         o.ID,
		Name:       o.Name,
		State:      o.State,
		Properties: maps.Clone(o.Properties),
		Reactions:  maps.Clone(o.Reactions),
	}
}

func (o *MapObject) String() string {
	return fmt.Sprintf("#%d %s", o.ID, o.Name)
}

// Value exposes o to formulas, e.g. user.name, user.state or user.hp.
func (o *MapObject) Value() formula.Value {
	return formula.Object(objectNamespace{o})
}

type objectNamespace struct {
	o *MapObject
}

func (n objectNamespace) Member(name string) (formula.Value, bool) {
	switch name {
	case "id":
		return formula.Int(n.o.ID), true
	case "name":
		return formula.String(n.o.Name), true
	case "state":
		return formula.Int(n.o.StateID()), true
	}
	v := n.o.Property(name)
	return v, !v.IsNil()
}

func (n objectNamespace) Index(key formula.Value) (formula.Value, bool) {
	if s, ok := key.AsString(); ok {
		return n.Member(s)
	}
	return formula.Nil, false
}

func (n objectNamespace) Snapshot() map[string]formula.Value {
	n.o.mu.RLock()
	defer n.o.mu.RUnlock()
	result := maps.Clone(n.o.Properties)
	if result == nil {
		result = map[string]formula.Value{}
	}
	result["id"] = formula.Int(n.o.ID)
	result["name"] = formula.String(n.o.Name)
	result["state"] = formula.Int(n.o.State)
	return result
}

func (n objectNamespace) String() string {
	return n.o.String()
}
