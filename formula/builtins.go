package formula

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"unicode/utf8"
)

var builtins = map[string]Builtin{
	"abs":      numeric1(math.Abs),
	"floor":    numeric1(math.Floor),
	"ceil":     numeric1(math.Ceil),
	"round":    numeric1(math.Round),
	"sqrt":     numeric1(math.Sqrt),
	"int":      numeric1(math.Trunc),
	"min":      minMax(func(a, b float64) bool { return a < b }),
	"max":      minMax(func(a, b float64) bool { return a > b }),
	"pow":      pow,
	"clamp":    clamp,
	"random":   random,
	"num":      num,
	"str":      str,
	"len":      length,
	"lower":    strings1(strings.ToLower),
	"upper":    strings1(strings.ToUpper),
	"contains": contains,
}

// IsBuiltin reports whether name is one of the fixed formula functions.
func IsBuiltin(name string) bool {
	_, found := builtins[name]
	return found
}

func arity(args []Value, n int) error {
	if len(args) != n {
		return fmt.Errorf("takes %d arguments, got %d", n, len(args))
	}
	return nil
}

func number(v Value) (float64, error) {
	f, ok := v.AsNumber()
	if !ok {
		return 0, fmt.Errorf("want number, got %s", v.Kind())
	}
	return f, nil
}

func numeric1(f func(float64) float64) Builtin {
	return func(args []Value) (Value, error) {
		if err := arity(args, 1); err != nil {
			return Nil, err
		}
		x, err := number(args[0])
		if err != nil {
			return Nil, err
		}
		return Number(f(x)), nil
	}
}

func minMax(better func(a, b float64) bool) Builtin {
	return func(args []Value) (Value, error) {
		if len(args) == 0 {
			return Nil, fmt.Errorf("takes at least 1 argument")
		}
		best, err := number(args[0])
		if err != nil {
			return Nil, err
		}
		for _, arg := range args[1:] {
			x, err := number(arg)
			if err != nil {
				return Nil, err
			}
			if better(x, best) {
				best = x
			}
		}
		return Number(best), nil
	}
}

func pow(args []Value) (Value, error) {
	if err := arity(args, 2); err != nil {
		return Nil, err
	}
	x, err := number(args[0])
	if err != nil {
		return Nil, err
	}
	y, err := number(args[1])
	if err != nil {
		return Nil, err
	}
	return Number(math.Pow(x, y)), nil
}

func clamp(args []Value) (Value, error) {
	if err := arity(args, 3); err != nil {
		return Nil, err
	}
	fs := make([]float64, 3)
	for i := range args {
		f, err := number(args[i])
		if err != nil {
			return Nil, err
		}
		fs[i] = f
	}
	return Number(math.Max(fs[1], math.Min(fs[2], fs[0]))), nil
}

// bound reads an argument of random, which must fit rand.IntN.
func bound(v Value) (float64, error) {
	f, err := number(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("%v is out of range", f)
	}
	return math.Floor(f), nil
}

// random(max) gives an integer in [0, max), random(min, max) one in [min, max].
func random(args []Value) (Value, error) {
	switch len(args) {
	case 0:
		return Number(rand.Float64()), nil
	case 1:
		max, err := bound(args[0])
		if err != nil {
			return Nil, err
		}
		if max < 1 {
			return Number(0), nil
		}
		return Number(float64(rand.IntN(int(max)))), nil
	case 2:
		min, err := bound(args[0])
		if err != nil {
			return Nil, err
		}
		max, err := bound(args[1])
		if err != nil {
			return Nil, err
		}
		if max < min {
			min, max = max, min
		}
		return Number(min + float64(rand.IntN(int(max-min)+1))), nil
	}
	return Nil, fmt.Errorf("takes at most 2 arguments, got %d", len(args))
}

func num(args []Value) (Value, error) {
	if err := arity(args, 1); err != nil {
		return Nil, err
	}
	f := args[0].NumberOr(math.NaN())
	if math.IsNaN(f) {
		return Nil, nil
	}
	return Number(f), nil
}

func str(args []Value) (Value, error) {
	if err := arity(args, 1); err != nil {
		return Nil, err
	}
	return String(args[0].String()), nil
}

func length(args []Value) (Value, error) {
	if err := arity(args, 1); err != nil {
		return Nil, err
	}
	if obj, ok := args[0].AsObject(); ok {
		if l, ok := obj.(List); ok {
			return Int(len(l)), nil
		}
	}
	s, ok := args[0].AsString()
	if !ok {
		return Nil, fmt.Errorf("want string or list, got %s", args[0].Kind())
	}
	return Int(utf8.RuneCountInString(s)), nil
}

func strings1(f func(string) string) Builtin {
	return func(args []Value) (Value, error) {
		if err := arity(args, 1); err != nil {
			return Nil, err
		}
		s, ok := args[0].AsString()
		if !ok {
			return Nil, fmt.Errorf("want string, got %s", args[0].Kind())
		}
		return String(f(s)), nil
	}
}

func contains(args []Value) (Value, error) {
	if err := arity(args, 2); err != nil {
		return Nil, err
	}
	if obj, ok := args[0].AsObject(); ok {
		if l, ok := obj.(List); ok {
			for _, v := range l {
				if v.Equal(args[1]) {
					return Bool(true), nil
				}
			}
			return Bool(false), nil
		}
	}
	s, ok := args[0].AsString()
	if !ok {
		return Nil, fmt.Errorf("want string or list, got %s", args[0].Kind())
	}
	return Bool(strings.Contains(s, args[1].String())), nil
}
