package structs

import (
	"fmt"
)

// Cursor decodes the positional parameters of one serialized command.
// The first failure is kept and every later read returns a zero value.
type Cursor struct {
	kind   string
	params []any
	pos    int
	err    error
}

func NewCursor(kind string, params []any) *Cursor {
	return &Cursor{kind: kind, params: params}
}

func (c *Cursor) Err() error {
	return c.err
}

func (c *Cursor) Pos() int {
	return c.pos
}

// More reports whether unread parameters remain.
func (c *Cursor) More() bool {
	return c.err == nil && c.pos < len(c.params)
}

func (c *Cursor) fail(format string, args ...any) {
	if c.err == nil {
		c.err = fmt.Errorf("%s parameter %d: %s", c.kind, c.pos, fmt.Sprintf(format, args...))
	}
}

func (c *Cursor) next() (any, bool) {
	if c.err != nil {
		return nil, false
	}
	if c.pos >= len(c.params) {
		c.fail("missing")
		return nil, false
	}
	v := c.params[c.pos]
	c.pos++
	return v, true
}

func (c *Cursor) Float() float64 {
	v, ok := c.next()
	if !ok {
		return 0
	}
	f, ok := v.(float64)
	if !ok {
		c.pos--
		c.fail("want number, got %T", v)
		return 0
	}
	return f
}

func (c *Cursor) Int() int {
	v, ok := c.next()
	if !ok {
		return 0
	}
	f, ok := v.(float64)
	if !ok || f != float64(int(f)) {
		c.pos--
		c.fail("want integer, got %v", v)
		return 0
	}
	return int(f)
}

func (c *Cursor) String() string {
	v, ok := c.next()
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		c.pos--
		c.fail("want string, got %T", v)
		return ""
	}
	return s
}

func (c *Cursor) Bool() bool {
	v, ok := c.next()
	if !ok {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		c.pos--
		c.fail("want bool, got %T", v)
		return false
	}
	return b
}

// Dynamic reads a DynamicValue spread over two positions: kind then payload.
func (c *Cursor) Dynamic() DynamicValue {
	kind, ok := c.next()
	if !ok {
		return DynamicValue{}
	}
	payload, ok := c.next()
	if !ok {
		return DynamicValue{}
	}
	d, err := DecodeDynamic(kind, payload)
	if err != nil {
		c.pos -= 2
		c.fail("%v", err)
		return DynamicValue{}
	}
	return d
}

// OptionalInt reads an integer if any parameters remain, else returns def.
func (c *Cursor) OptionalInt(def int) int {
	if !c.More() {
		return def
	}
	return c.Int()
}

// Rest reads all remaining dynamic values.
func (c *Cursor) Rest() []DynamicValue {
	result := []DynamicValue{}
	for c.More() {
		d := c.Dynamic()
		if c.err != nil {
			return nil
		}
		result = append(result, d)
	}
	return result
}

// Done fails the cursor if unread parameters remain, and returns the first failure.
func (c *Cursor) Done() error {
	if c.err == nil && c.pos < len(c.params) {
		c.fail("%d unexpected trailing parameters", len(c.params)-c.pos)
	}
	return c.err
}
