package interpreter

import (
	"fmt"
	"log"
	"maps"
	"slices"
	"time"

	"github.com/pkg/errors"
	"github.com/zond/juicerpg"
	"github.com/zond/juicerpg/formula"
	"github.com/zond/juicerpg/structs"
)

var (
	ErrProgramCounter  = errors.New("program counter out of bounds")
	ErrUnknownKind     = errors.New("unknown command kind")
	ErrDuplicateKind   = errors.New("command kind already registered")
	ErrUnknownReaction = errors.New("unknown reaction")
	ErrMissingObject   = errors.New("missing object")
	ErrDepth           = errors.New("reaction calls nested too deep")
)

const (
	DefaultStepBudget = 1000
	DefaultMaxDepth   = 16
)

// Patchable engine methods the built-in commands mutate state through.
const (
	TargetGame      = "Game"
	TargetMapObject = "MapObject"

	MethodSetVariable = "setVariable"
	MethodSetSwitch   = "setSwitch"
	MethodSetCurrency = "setCurrency"
	MethodSetProperty = "setProperty"
	MethodChangeState = "changeState"
)

// State is the execution state of one command invocation, created by
// Initialize and passed to every Update and OnKeyPressed until the command
// advances.
type State any

// Command is one compiled reaction command.
//
// Update returns how far to advance the program counter: 0 keeps the
// command running, 1 moves to the next command, N > 1 skips ahead and a
// negative N jumps back.
type Command interface {
	Kind() string
	Initialize() State
	Update(env *Env, st State) (int, error)
	OnKeyPressed(env *Env, st State, key string) bool
}

// Host is the running game the commands act on.
type Host interface {
	State() *structs.GameState
	Evaluate(src string, env *Env) formula.Value
	// Call runs a patchable engine method, including any plugin decorators.
	Call(target string, method string, args ...formula.Value) (formula.Value, error)
	Reaction(name string) (*Program, bool)
	PluginParameter(plugin string, name string) (structs.DynamicValue, bool)
	PluginCommand(env *Env, plugin string, command string, args []formula.Value) error
	Notify(env *Env, message string)
	Clock() time.Duration
	Logger() *log.Logger
}

// Env is the context a reaction runs in.
type Env struct {
	Host     Host
	Reaction string
	// Object is the acting object, used by commands addressing object 0.
	Object     *structs.MapObject
	Target     *structs.MapObject
	StateID    int
	Plugin     string
	Depth      int
	MaxDepth   int
	StepBudget int
	Additional map[string]formula.Value
}

func (e *Env) Formula(src string) formula.Value {
	return e.Host.Evaluate(src, e)
}

func (e *Env) Variable(id int) formula.Value {
	return e.Host.State().Variable(id)
}

func (e *Env) Switch(id int) bool {
	return e.Host.State().Switch(id)
}

func (e *Env) Parameter(name string) (structs.DynamicValue, bool) {
	if e.Plugin == "" {
		return structs.DynamicValue{}, false
	}
	return e.Host.PluginParameter(e.Plugin, name)
}

// Names returns the caller injected formula names: user, target and additional names.
func (e *Env) Names() map[string]formula.Value {
	result := maps.Clone(e.Additional)
	if result == nil {
		result = map[string]formula.Value{}
	}
	if e.Object != nil {
		result["user"] = e.Object.Value()
	}
	if e.Target != nil {
		result["target"] = e.Target.Value()
	}
	return result
}

// Origin names the running reaction in logs.
func (e *Env) Origin() string {
	if e.Plugin != "" {
		return fmt.Sprintf("%s[%s]", e.Reaction, e.Plugin)
	}
	return e.Reaction
}

// ObjectByID returns the acting object for id 0, otherwise the object with the id.
func (e *Env) ObjectByID(id int) (*structs.MapObject, error) {
	if id == 0 {
		if e.Object == nil {
			return nil, juicerpg.WithStack(errors.Wrap(ErrMissingObject, "no acting object"))
		}
		return e.Object, nil
	}
	o, found := e.Host.State().Object(id)
	if !found {
		return nil, juicerpg.WithStack(errors.Wrapf(ErrMissingObject, "object %d", id))
	}
	return o, nil
}

// WithPlugin returns a copy of e resolving parameters against plugin.
func (e *Env) WithPlugin(plugin string) *Env {
	cpy := *e
	cpy.Plugin = plugin
	return &cpy
}

func (e *Env) child(reaction string, object *structs.MapObject) *Env {
	cpy := *e
	cpy.Reaction = reaction
	cpy.Depth++
	cpy.Plugin = ""
	if object != nil {
		cpy.Object = object
		cpy.StateID = object.StateID()
	}
	return &cpy
}

func (e *Env) logf(format string, args ...any) {
	e.Host.Logger().Printf("%s: %s", e.Origin(), fmt.Sprintf(format, args...))
}

// Decoder builds a command from the positional parameters of a serialized command.
type Decoder func(c *structs.Cursor) (Command, error)

// Kinds is the table of decodable command kinds.
type Kinds struct {
	decoders map[string]Decoder
}

// NewKinds returns a table with all built-in kinds.
func NewKinds() *Kinds {
	k := &Kinds{decoders: map[string]Decoder{}}
	for kind, decoder := range builtinKinds {
		k.decoders[kind] = decoder
	}
	return k
}

func (k *Kinds) Register(kind string, decoder Decoder) error {
	if _, found := k.decoders[kind]; found || structural[kind] {
		return juicerpg.WithStack(errors.Wrapf(ErrDuplicateKind, "%q", kind))
	}
	k.decoders[kind] = decoder
	return nil
}

// Names returns all known kinds, sorted.
func (k *Kinds) Names() []string {
	result := slices.Collect(maps.Keys(k.decoders))
	for kind := range structural {
		result = append(result, kind)
	}
	slices.Sort(result)
	return result
}

func (k *Kinds) decode(kind string, c *structs.Cursor) (Command, error) {
	decoder, found := k.decoders[kind]
	if !found {
		return nil, juicerpg.WithStack(errors.Wrapf(ErrUnknownKind, "%q", kind))
	}
	cmd, err := decoder(c)
	if err != nil {
		return nil, juicerpg.WithStack(err)
	}
	if err := c.Done(); err != nil {
		return nil, juicerpg.WithStack(err)
	}
	return cmd, nil
}

// instant is embedded by commands that finish in a single update.
type instant struct{}

func (instant) Initialize() State {
	return nil
}

func (instant) OnKeyPressed(*Env, State, string) bool {
	return false
}
