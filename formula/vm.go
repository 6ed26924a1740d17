package formula

import (
	"fmt"
	"math"
)

const (
	DefaultBudget = 10000
	maxStack      = 256
)

var (
	ErrBudget = fmt.Errorf("formula instruction budget exhausted")
)

// RuntimeError is a failure while running a compiled formula.
type RuntimeError struct {
	Pos int
	Op  Opcode
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error at %d (%s): %v", e.Pos, e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Builtin is a host function callable from formulas by name.
type Builtin func(args []Value) (Value, error)

// Env holds the names and functions a formula can see.
type Env struct {
	Names     map[string]Value
	Functions map[string]Builtin
	// Budget is the maximum number of instructions to run, DefaultBudget if zero.
	Budget int
}

// With returns a copy of e with additional names bound.
func (e *Env) With(names map[string]Value) *Env {
	result := &Env{
		Names:     make(map[string]Value, len(names)),
		Functions: nil,
	}
	if e != nil {
		for k, v := range e.Names {
			result.Names[k] = v
		}
		result.Functions = e.Functions
		result.Budget = e.Budget
	}
	for k, v := range names {
		result.Names[k] = v
	}
	return result
}

func (e *Env) lookup(name string) (Value, bool) {
	if e == nil {
		return Nil, false
	}
	v, found := e.Names[name]
	return v, found
}

func (e *Env) function(name string) (Builtin, bool) {
	if f, found := builtins[name]; found {
		return f, true
	}
	if e == nil {
		return nil, false
	}
	f, found := e.Functions[name]
	return f, found
}

// Run executes p against env. A panicking host function fails the run
// instead of the caller.
func (p *Program) Run(env *Env) (result Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = Nil, &RuntimeError{Pos: -1, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return p.run(env)
}

func (p *Program) run(env *Env) (Value, error) {
	budget := DefaultBudget
	if env != nil && env.Budget > 0 {
		budget = env.Budget
	}
	stack := make([]Value, 0, 16)
	locals := make([]Value, p.locals)
	pop := func() Value {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}
	pc := 0
	for pc < len(p.code) {
		if budget--; budget < 0 {
			return Nil, &RuntimeError{Pos: p.code[pc].pos, Op: p.code[pc].op, Err: ErrBudget}
		}
		ins := p.code[pc]
		pc++
		fail := func(format string, args ...any) (Value, error) {
			return Nil, &RuntimeError{Pos: ins.pos, Op: ins.op, Err: fmt.Errorf(format, args...)}
		}
		if len(stack) >= maxStack {
			return fail("stack overflow")
		}
		switch ins.op {
		case OpConst:
			stack = append(stack, p.consts[ins.a])
		case OpLoadLocal:
			stack = append(stack, locals[ins.a])
		case OpStoreLocal:
			locals[ins.a] = pop()
		case OpLoadName:
			v, found := env.lookup(p.names[ins.a])
			if !found {
				return fail("%q is not defined", p.names[ins.a])
			}
			stack = append(stack, v)
		case OpMember:
			x := pop()
			ns, ok := x.AsObject()
			if !ok {
				return fail("can't read %q of %s", p.names[ins.a], x.Kind())
			}
			v, _ := ns.Member(p.names[ins.a])
			stack = append(stack, v)
		case OpIndex:
			key := pop()
			x := pop()
			switch x.Kind() {
			case KindObject:
				v, _ := x.obj.Index(key)
				stack = append(stack, v)
			case KindString:
				f, ok := key.AsNumber()
				if !ok {
					return fail("can't index string with %s", key.Kind())
				}
				runes := []rune(x.str)
				i := int(f)
				if i < 0 || i >= len(runes) || float64(i) != f {
					stack = append(stack, Nil)
				} else {
					stack = append(stack, String(string(runes[i])))
				}
			default:
				return fail("can't index %s", x.Kind())
			}
		case OpCall:
			name := p.names[ins.a]
			f, found := env.function(name)
			if !found {
				return fail("unknown function %q", name)
			}
			args := make([]Value, ins.b)
			copy(args, stack[len(stack)-ins.b:])
			stack = stack[:len(stack)-ins.b]
			v, err := f(args)
			if err != nil {
				return fail("%s: %v", name, err)
			}
			stack = append(stack, v)
		case OpNeg, OpPos:
			x := pop()
			f, ok := x.AsNumber()
			if !ok {
				return fail("can't apply %s to %s", ins.op, x.Kind())
			}
			if ins.op == OpNeg {
				f = -f
			}
			stack = append(stack, Number(f))
		case OpNot:
			stack = append(stack, Bool(!pop().Truthy()))
		case OpAdd:
			r := pop()
			l := pop()
			if l.Kind() == KindString || r.Kind() == KindString {
				stack = append(stack, String(l.String()+r.String()))
				continue
			}
			lf, rf, ok := numbers(l, r)
			if !ok {
				return fail("can't add %s and %s", l.Kind(), r.Kind())
			}
			stack = append(stack, Number(lf+rf))
		case OpSub, OpMul, OpDiv, OpMod, OpPow:
			r := pop()
			l := pop()
			lf, rf, ok := numbers(l, r)
			if !ok {
				return fail("can't %s %s and %s", ins.op, l.Kind(), r.Kind())
			}
			var res float64
			switch ins.op {
			case OpSub:
				res = lf - rf
			case OpMul:
				res = lf * rf
			case OpDiv:
				if rf == 0 {
					return fail("division by zero")
				}
				res = lf / rf
			case OpMod:
				if rf == 0 {
					return fail("modulo by zero")
				}
				res = math.Mod(lf, rf)
			case OpPow:
				res = math.Pow(lf, rf)
			}
			stack = append(stack, Number(res))
		case OpEq:
			r := pop()
			l := pop()
			stack = append(stack, Bool(l.Equal(r)))
		case OpNe:
			r := pop()
			l := pop()
			stack = append(stack, Bool(!l.Equal(r)))
		case OpLt, OpLe, OpGt, OpGe:
			r := pop()
			l := pop()
			cmp, ok := compare(l, r)
			if !ok {
				return fail("can't compare %s and %s", l.Kind(), r.Kind())
			}
			var res bool
			switch ins.op {
			case OpLt:
				res = cmp < 0
			case OpLe:
				res = cmp <= 0
			case OpGt:
				res = cmp > 0
			case OpGe:
				res = cmp >= 0
			}
			stack = append(stack, Bool(res))
		case OpJump:
			pc = ins.a
		case OpJumpIfFalse:
			if !pop().Truthy() {
				pc = ins.a
			}
		case OpJumpIfFalseKeep:
			if !stack[len(stack)-1].Truthy() {
				pc = ins.a
			}
		case OpJumpIfTrueKeep:
			if stack[len(stack)-1].Truthy() {
				pc = ins.a
			}
		case OpPop:
			pop()
		case OpReturn:
			return pop(), nil
		default:
			return fail("unknown opcode")
		}
	}
	return Nil, nil
}

func numbers(l, r Value) (float64, float64, bool) {
	lf, lok := l.AsNumber()
	rf, rok := r.AsNumber()
	return lf, rf, lok && rok
}

func compare(l, r Value) (int, bool) {
	if lf, rf, ok := numbers(l, r); ok {
		switch {
		case lf < rf:
			return -1, true
		case lf > rf:
			return 1, true
		}
		return 0, true
	}
	ls, lok := l.AsString()
	rs, rok := r.AsString()
	if lok && rok {
		switch {
		case ls < rs:
			return -1, true
		case ls > rs:
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
