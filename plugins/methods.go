package plugins

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/zond/juicerpg"
	"github.com/zond/juicerpg/formula"
)

var (
	ErrUnknownMethod = errors.New("unknown method")
	ErrMethodExists  = errors.New("method already defined")
)

// Func implements a patchable method.
type Func func(call *Call) (formula.Value, error)

// Call is one invocation of a patchable method, as seen by one implementation.
type Call struct {
	Target string
	Method string
	Static bool
	Args   []formula.Value
	// Previous is the result of the decorated implementation, for LoadBefore decorators.
	Previous formula.Value
	super    Func
}

// Super calls the decorated implementation with args, or with the
// arguments of this call if none are given.
func (c *Call) Super(args ...formula.Value) (formula.Value, error) {
	if c.super == nil {
		return formula.Nil, nil
	}
	next := c.with(nil, formula.Nil)
	if len(args) > 0 {
		next.Args = args
	}
	return c.super(next)
}

// Arg returns argument i, or formula.Nil.
func (c *Call) Arg(i int) formula.Value {
	if i < 0 || i >= len(c.Args) {
		return formula.Nil
	}
	return c.Args[i]
}

func (c *Call) with(super Func, previous formula.Value) *Call {
	cpy := *c
	cpy.super = super
	cpy.Previous = previous
	return &cpy
}

type InjectOptions struct {
	Static bool
	// Overwrite replaces the previous implementation, which then only runs through Call.Super.
	Overwrite bool
	// LoadBefore runs the previous implementation first and exposes its result as Call.Previous.
	LoadBefore bool
	// Plugin names the injecting plugin.
	Plugin string
}

func (o InjectOptions) String() string {
	switch {
	case o.Overwrite:
		return "overwrite"
	case o.LoadBefore:
		return "after"
	}
	return "before"
}

type slotKey struct {
	target string
	method string
	static bool
}

func (k slotKey) String() string {
	if k.static {
		return fmt.Sprintf("%s.%s", k.target, k.method)
	}
	return fmt.Sprintf("%s#%s", k.target, k.method)
}

type decorator struct {
	impl Func
	opts InjectOptions
}

type slot struct {
	base       Func
	definedBy  string
	decorators []decorator
	chain      Func
}

func (s *slot) compose() {
	chain := s.base
	for _, d := range s.decorators {
		chain = wrap(d, chain)
	}
	s.chain = chain
}

func wrap(d decorator, previous Func) Func {
	switch {
	case d.opts.Overwrite:
		return func(c *Call) (formula.Value, error) {
			return d.impl(c.with(previous, formula.Nil))
		}
	case d.opts.LoadBefore:
		return func(c *Call) (formula.Value, error) {
			result, err := previous(c.with(nil, formula.Nil))
			if err != nil {
				return formula.Nil, err
			}
			return d.impl(c.with(previous, result))
		}
	}
	return func(c *Call) (formula.Value, error) {
		if _, err := d.impl(c.with(previous, formula.Nil)); err != nil {
			return formula.Nil, err
		}
		return previous(c.with(nil, formula.Nil))
	}
}

// Methods is the table of patchable engine methods. The engine defines the
// base implementations, and plugins decorate them in registration order.
type Methods struct {
	mu    sync.RWMutex
	slots map[slotKey]*slot
}

func NewMethods() *Methods {
	return &Methods{
		slots: map[slotKey]*slot{},
	}
}

// Define adds a new method. definedBy names the plugin, or is empty for the engine.
func (m *Methods) Define(target string, method string, static bool, definedBy string, impl Func) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := slotKey{target: target, method: method, static: static}
	if _, found := m.slots[key]; found {
		return juicerpg.WithStack(errors.Wrapf(ErrMethodExists, "%v", key))
	}
	s := &slot{base: impl, definedBy: definedBy}
	s.compose()
	m.slots[key] = s
	return nil
}

// Inject decorates an existing method.
func (m *Methods) Inject(target string, method string, impl Func, opts InjectOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := slotKey{target: target, method: method, static: opts.Static}
	s, found := m.slots[key]
	if !found {
		return juicerpg.WithStack(errors.Wrapf(ErrUnknownMethod, "%v", key))
	}
	s.decorators = append(s.decorators, decorator{impl: impl, opts: opts})
	s.compose()
	return nil
}

func (m *Methods) call(key slotKey, args []formula.Value) (formula.Value, error) {
	m.mu.RLock()
	s, found := m.slots[key]
	var chain Func
	if found {
		chain = s.chain
	}
	m.mu.RUnlock()
	if !found {
		return formula.Nil, juicerpg.WithStack(errors.Wrapf(ErrUnknownMethod, "%v", key))
	}
	return chain(&Call{
		Target: key.target,
		Method: key.method,
		Static: key.static,
		Args:   args,
	})
}

// Call runs an instance method with all its decorators.
func (m *Methods) Call(target string, method string, args ...formula.Value) (formula.Value, error) {
	return m.call(slotKey{target: target, method: method}, args)
}

func (m *Methods) CallStatic(target string, method string, args ...formula.Value) (formula.Value, error) {
	return m.call(slotKey{target: target, method: method, static: true}, args)
}

func (m *Methods) Has(target string, method string, static bool) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, found := m.slots[slotKey{target: target, method: method, static: static}]
	return found
}

// SlotInfo describes a method for listings.
type SlotInfo struct {
	Name       string
	DefinedBy  string
	Decorators []string
}

func (m *Methods) Slots() []SlotInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]SlotInfo, 0, len(m.slots))
	for key, s := range m.slots {
		info := SlotInfo{Name: key.String(), DefinedBy: s.definedBy}
		for _, d := range s.decorators {
			info.Decorators = append(info.Decorators, fmt.Sprintf("%s(%v)", d.opts.Plugin, d.opts))
		}
		result = append(result, info)
	}
	slices.SortFunc(result, func(a, b SlotInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result
}
