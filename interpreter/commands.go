package interpreter

import (
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/zond/juicerpg"
	"github.com/zond/juicerpg/formula"
	"github.com/zond/juicerpg/structs"
)

var builtinKinds = map[string]Decoder{
	KindComment: func(c *structs.Cursor) (Command, error) {
		cmd := &Comment{}
		if c.More() {
			cmd.Text = c.String()
		}
		return cmd, c.Err()
	},
	KindChangeVariable: func(c *structs.Cursor) (Command, error) {
		cmd := &ChangeVariable{ID: c.Int(), Op: Op(c.String()), Value: c.Dynamic()}
		return cmd, validOp(c, cmd.Op)
	},
	KindChangeSwitch: func(c *structs.Cursor) (Command, error) {
		return &ChangeSwitch{ID: c.Int(), Value: c.Dynamic()}, c.Err()
	},
	KindChangeCurrency: func(c *structs.Cursor) (Command, error) {
		cmd := &ChangeCurrency{ID: c.Int(), Op: Op(c.String()), Value: c.Dynamic()}
		return cmd, validOp(c, cmd.Op)
	},
	KindChangeProperty: func(c *structs.Cursor) (Command, error) {
		cmd := &ChangeProperty{Object: c.Dynamic(), Name: c.String(), Op: Op(c.String()), Value: c.Dynamic()}
		return cmd, validOp(c, cmd.Op)
	},
	KindChangeState: func(c *structs.Cursor) (Command, error) {
		cmd := &ChangeState{Object: c.Dynamic(), Op: Op(c.String()), Value: c.Dynamic()}
		return cmd, validOp(c, cmd.Op)
	},
	KindWait: func(c *structs.Cursor) (Command, error) {
		return &Wait{Seconds: c.Dynamic()}, c.Err()
	},
	KindWaitUntil: func(c *structs.Cursor) (Command, error) {
		return &WaitUntil{Cond: c.Dynamic()}, c.Err()
	},
	KindWaitKey: func(c *structs.Cursor) (Command, error) {
		cmd := &WaitKey{}
		if c.More() {
			cmd.Key = c.String()
		}
		return cmd, c.Err()
	},
	KindCallReaction: func(c *structs.Cursor) (Command, error) {
		cmd := &CallReaction{Name: c.String()}
		if c.More() {
			cmd.Object = c.Dynamic()
		}
		return cmd, c.Err()
	},
	KindPlugin: func(c *structs.Cursor) (Command, error) {
		return &PluginCall{Plugin: c.String(), Command: c.String(), Args: c.Rest()}, c.Err()
	},
	KindLog: func(c *structs.Cursor) (Command, error) {
		return &Log{Values: c.Rest()}, c.Err()
	},
}

// Op is the operation a change command applies to the current value.
type Op string

const (
	OpSet Op = "set"
	OpAdd Op = "add"
	OpSub Op = "sub"
	OpMul Op = "mul"
	OpDiv Op = "div"
	OpMod Op = "mod"
)

func validOp(c *structs.Cursor, op Op) error {
	if err := c.Err(); err != nil {
		return err
	}
	switch op {
	case OpSet, OpAdd, OpSub, OpMul, OpDiv, OpMod:
		return nil
	}
	return errors.Errorf("unknown operation %q", op)
}

// Apply returns the result of applying op with operand to cur. Adding
// to or with a string concatenates.
func (op Op) Apply(cur formula.Value, operand formula.Value) (formula.Value, error) {
	if op == OpSet {
		return operand, nil
	}
	if op == OpAdd && (cur.Kind() == formula.KindString || operand.Kind() == formula.KindString) {
		return formula.String(cur.StringOr("") + operand.StringOr("")), nil
	}
	a := cur.NumberOr(0)
	b := operand.NumberOr(math.NaN())
	if math.IsNaN(b) {
		return formula.Nil, errors.Errorf("%s: operand %v is not a number", op, operand)
	}
	switch op {
	case OpAdd:
		return formula.Number(a + b), nil
	case OpSub:
		return formula.Number(a - b), nil
	case OpMul:
		return formula.Number(a * b), nil
	case OpDiv:
		if b == 0 {
			return formula.Nil, errors.Errorf("div: division by zero")
		}
		return formula.Number(a / b), nil
	case OpMod:
		if b == 0 {
			return formula.Nil, errors.Errorf("mod: modulo by zero")
		}
		return formula.Number(math.Mod(a, b)), nil
	}
	return formula.Nil, errors.Errorf("unknown operation %q", op)
}

type Comment struct {
	instant
	Text string
}

func (*Comment) Kind() string { return KindComment }

func (*Comment) Update(*Env, State) (int, error) {
	return 1, nil
}

// change applies op and stores the result through the patchable method.
// A failing operation is an authoring error: it is logged and the value is left alone.
func change(env *Env, cur formula.Value, op Op, operand structs.DynamicValue, store func(formula.Value) error) (int, error) {
	next, err := op.Apply(cur, operand.Resolve(env))
	if err != nil {
		env.logf("%v", err)
		return 1, nil
	}
	if err := store(next); err != nil {
		return 0, juicerpg.WithStack(err)
	}
	return 1, nil
}

type ChangeVariable struct {
	instant
	ID    int
	Op    Op
	Value structs.DynamicValue
}

func (*ChangeVariable) Kind() string { return KindChangeVariable }

func (c *ChangeVariable) Update(env *Env, _ State) (int, error) {
	return change(env, env.Host.State().Variable(c.ID), c.Op, c.Value, func(v formula.Value) error {
		_, err := env.Host.Call(TargetGame, MethodSetVariable, formula.Int(c.ID), v)
		return err
	})
}

type ChangeSwitch struct {
	instant
	ID    int
	Value structs.DynamicValue
}

func (*ChangeSwitch) Kind() string { return KindChangeSwitch }

func (c *ChangeSwitch) Update(env *Env, _ State) (int, error) {
	if _, err := env.Host.Call(TargetGame, MethodSetSwitch, formula.Int(c.ID), formula.Bool(c.Value.BoolOr(env, false))); err != nil {
		return 0, juicerpg.WithStack(err)
	}
	return 1, nil
}

type ChangeCurrency struct {
	instant
	ID    int
	Op    Op
	Value structs.DynamicValue
}

func (*ChangeCurrency) Kind() string { return KindChangeCurrency }

func (c *ChangeCurrency) Update(env *Env, _ State) (int, error) {
	cur := formula.Number(env.Host.State().Currency(c.ID))
	return change(env, cur, c.Op, c.Value, func(v formula.Value) error {
		_, err := env.Host.Call(TargetGame, MethodSetCurrency, formula.Int(c.ID), v)
		return err
	})
}

// ChangeProperty changes a named property of an object, 0 meaning the acting object.
type ChangeProperty struct {
	instant
	Object structs.DynamicValue
	Name   string
	Op     Op
	Value  structs.DynamicValue
}

func (*ChangeProperty) Kind() string { return KindChangeProperty }

func (c *ChangeProperty) Update(env *Env, _ State) (int, error) {
	o, err := env.ObjectByID(c.Object.IntOr(env, 0))
	if err != nil {
		return 0, err
	}
	return change(env, o.Property(c.Name), c.Op, c.Value, func(v formula.Value) error {
		_, err := env.Host.Call(TargetMapObject, MethodSetProperty, formula.Int(o.ID), formula.String(c.Name), v)
		return err
	})
}

type ChangeState struct {
	instant
	Object structs.DynamicValue
	Op     Op
	Value  structs.DynamicValue
}

func (*ChangeState) Kind() string { return KindChangeState }

func (c *ChangeState) Update(env *Env, _ State) (int, error) {
	o, err := env.ObjectByID(c.Object.IntOr(env, 0))
	if err != nil {
		return 0, err
	}
	return change(env, formula.Int(o.StateID()), c.Op, c.Value, func(v formula.Value) error {
		_, err := env.Host.Call(TargetMapObject, MethodChangeState, formula.Int(o.ID), v)
		return err
	})
}

type Wait struct {
	Seconds structs.DynamicValue
}

type waitState struct {
	started bool
	until   time.Duration
}

func (*Wait) Kind() string { return KindWait }

func (*Wait) Initialize() State {
	return &waitState{}
}

func (c *Wait) Update(env *Env, st State) (int, error) {
	s := st.(*waitState)
	if !s.started {
		s.started = true
		s.until = env.Host.Clock() + time.Duration(c.Seconds.NumberOr(env, 0)*float64(time.Second))
	}
	if env.Host.Clock() >= s.until {
		return 1, nil
	}
	return 0, nil
}

func (*Wait) OnKeyPressed(*Env, State, string) bool {
	return false
}

type WaitUntil struct {
	instant
	Cond structs.DynamicValue
}

func (*WaitUntil) Kind() string { return KindWaitUntil }

func (c *WaitUntil) Update(env *Env, _ State) (int, error) {
	if c.Cond.BoolOr(env, false) {
		return 1, nil
	}
	return 0, nil
}

// WaitKey waits for Key, or any key if Key is empty.
type WaitKey struct {
	Key string
}

type keyState struct {
	pressed bool
}

func (*WaitKey) Kind() string { return KindWaitKey }

func (*WaitKey) Initialize() State {
	return &keyState{}
}

func (c *WaitKey) Update(_ *Env, st State) (int, error) {
	if st.(*keyState).pressed {
		return 1, nil
	}
	return 0, nil
}

func (c *WaitKey) OnKeyPressed(_ *Env, st State, key string) bool {
	s := st.(*keyState)
	if s.pressed || (c.Key != "" && c.Key != key) {
		return false
	}
	s.pressed = true
	return true
}

// CallReaction runs another reaction to completion before continuing.
type CallReaction struct {
	Name   string
	Object structs.DynamicValue
}

type callState struct {
	child *Interpreter
}

func (*CallReaction) Kind() string { return KindCallReaction }

func (*CallReaction) Initialize() State {
	return &callState{}
}

func (c *CallReaction) Update(env *Env, st State) (int, error) {
	s := st.(*callState)
	if s.child == nil {
		prog, found := env.Host.Reaction(c.Name)
		if !found {
			return 0, juicerpg.WithStack(errors.Wrapf(ErrUnknownReaction, "%q", c.Name))
		}
		maxDepth := env.MaxDepth
		if maxDepth == 0 {
			maxDepth = DefaultMaxDepth
		}
		if env.Depth+1 > maxDepth {
			return 0, juicerpg.WithStack(errors.Wrapf(ErrDepth, "calling %q at depth %d", c.Name, env.Depth+1))
		}
		var object *structs.MapObject
		if c.Object.Kind != "" {
			o, err := env.ObjectByID(c.Object.IntOr(env, 0))
			if err != nil {
				return 0, err
			}
			object = o
		}
		s.child = New(prog, env.child(c.Name, object))
	}
	if err := s.child.Update(); err != nil {
		return 0, err
	}
	if s.child.Done() {
		return 1, nil
	}
	return 0, nil
}

func (*CallReaction) OnKeyPressed(_ *Env, st State, key string) bool {
	s := st.(*callState)
	if s.child == nil {
		return false
	}
	return s.child.KeyPressed(key)
}

// PluginCall runs a command registered by a plugin, with Args resolved
// against the parameters of that plugin.
type PluginCall struct {
	instant
	Plugin  string
	Command string
	Args    []structs.DynamicValue
}

func (*PluginCall) Kind() string { return KindPlugin }

func (c *PluginCall) Update(env *Env, _ State) (int, error) {
	penv := env.WithPlugin(c.Plugin)
	args := make([]formula.Value, len(c.Args))
	for i, arg := range c.Args {
		args[i] = arg.Resolve(penv)
	}
	if err := env.Host.PluginCommand(penv, c.Plugin, c.Command, args); err != nil {
		return 0, juicerpg.WithStack(err)
	}
	return 1, nil
}

type Log struct {
	instant
	Values []structs.DynamicValue
}

func (*Log) Kind() string { return KindLog }

func (c *Log) Update(env *Env, _ State) (int, error) {
	parts := make([]string, len(c.Values))
	for i, v := range c.Values {
		parts[i] = v.Resolve(env).String()
	}
	env.logf("%s", strings.Join(parts, " "))
	return 1, nil
}
