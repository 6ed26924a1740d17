package formula

import (
	"fmt"
	"strings"
)

// Opcode is one of the enumerated operations a Program may perform.
type Opcode uint8

const (
	OpConst Opcode = iota
	OpLoadLocal
	OpStoreLocal
	OpLoadName
	OpMember
	OpIndex
	OpCall
	OpNeg
	OpPos
	OpNot
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpJump
	OpJumpIfFalse
	OpJumpIfFalseKeep
	OpJumpIfTrueKeep
	OpPop
	OpReturn
)

var opNames = [...]string{
	OpConst:           "const",
	OpLoadLocal:       "load_local",
	OpStoreLocal:      "store_local",
	OpLoadName:        "load_name",
	OpMember:          "member",
	OpIndex:           "index",
	OpCall:            "call",
	OpNeg:             "neg",
	OpPos:             "pos",
	OpNot:             "not",
	OpAdd:             "add",
	OpSub:             "sub",
	OpMul:             "mul",
	OpDiv:             "div",
	OpMod:             "mod",
	OpPow:             "pow",
	OpEq:              "eq",
	OpNe:              "ne",
	OpLt:              "lt",
	OpLe:              "le",
	OpGt:              "gt",
	OpGe:              "ge",
	OpJump:            "jump",
	OpJumpIfFalse:     "jump_if_false",
	OpJumpIfFalseKeep: "jump_if_false_keep",
	OpJumpIfTrueKeep:  "jump_if_true_keep",
	OpPop:             "pop",
	OpReturn:          "return",
}

func (o Opcode) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Opcode(%d)", int(o))
}

type instruction struct {
	op  Opcode
	a   int
	b   int
	pos int
}

// Program is a compiled formula. Programs are immutable and safe for concurrent use.
type Program struct {
	Source string
	code   []instruction
	consts []Value
	names  []string
	locals int
}

// Disassemble renders the program one instruction per line.
func (p *Program) Disassemble() string {
	buf := &strings.Builder{}
	for i, ins := range p.code {
		fmt.Fprintf(buf, "%03d %s", i, ins.op)
		switch ins.op {
		case OpConst:
			fmt.Fprintf(buf, " %v", p.consts[ins.a])
		case OpLoadName, OpMember:
			fmt.Fprintf(buf, " %s", p.names[ins.a])
		case OpCall:
			fmt.Fprintf(buf, " %s/%d", p.names[ins.a], ins.b)
		case OpLoadLocal, OpStoreLocal, OpJump, OpJumpIfFalse, OpJumpIfFalseKeep, OpJumpIfTrueKeep:
			fmt.Fprintf(buf, " %d", ins.a)
		}
		buf.WriteString("\n")
	}
	return buf.String()
}

var binaryOps = map[string]Opcode{
	"+":  OpAdd,
	"-":  OpSub,
	"*":  OpMul,
	"/":  OpDiv,
	"%":  OpMod,
	"**": OpPow,
	"==": OpEq,
	"!=": OpNe,
	"<":  OpLt,
	"<=": OpLe,
	">":  OpGt,
	">=": OpGe,
}

type compiler struct {
	prog   *Program
	locals map[string]int
	names  map[string]int
	consts map[Value]int
}

// Compile parses and compiles src. Unless noReturn is set the value of the
// last expression statement is returned when no explicit return is reached.
func Compile(src string, noReturn bool) (*Program, error) {
	stmts, err := parse(src)
	if err != nil {
		return nil, err
	}
	c := &compiler{
		prog:   &Program{Source: src},
		locals: map[string]int{},
		names:  map[string]int{},
		consts: map[Value]int{},
	}
	for i, stmt := range stmts {
		last := i == len(stmts)-1
		switch stmt.kind {
		case stmtLet:
			if err := c.expr(stmt.x); err != nil {
				return nil, err
			}
			slot, found := c.locals[stmt.name]
			if !found {
				slot = len(c.locals)
				c.locals[stmt.name] = slot
			}
			c.emit(OpStoreLocal, slot, 0, stmt.x.position())
		case stmtReturn:
			if err := c.expr(stmt.x); err != nil {
				return nil, err
			}
			c.emit(OpReturn, 0, 0, stmt.x.position())
		case stmtExpr:
			if err := c.expr(stmt.x); err != nil {
				return nil, err
			}
			if last && !noReturn {
				c.emit(OpReturn, 0, 0, stmt.x.position())
			} else {
				c.emit(OpPop, 0, 0, stmt.x.position())
			}
		}
	}
	c.emit(OpConst, c.constant(Nil), 0, len(src))
	c.emit(OpReturn, 0, 0, len(src))
	c.prog.locals = len(c.locals)
	return c.prog, nil
}

func (c *compiler) emit(op Opcode, a, b, pos int) int {
	c.prog.code = append(c.prog.code, instruction{op: op, a: a, b: b, pos: pos})
	return len(c.prog.code) - 1
}

func (c *compiler) patch(at int) {
	c.prog.code[at].a = len(c.prog.code)
}

func (c *compiler) constant(v Value) int {
	if v.kind == KindObject {
		c.prog.consts = append(c.prog.consts, v)
		return len(c.prog.consts) - 1
	}
	if idx, found := c.consts[v]; found {
		return idx
	}
	c.prog.consts = append(c.prog.consts, v)
	c.consts[v] = len(c.prog.consts) - 1
	return len(c.prog.consts) - 1
}

func (c *compiler) name(n string) int {
	if idx, found := c.names[n]; found {
		return idx
	}
	c.prog.names = append(c.prog.names, n)
	c.names[n] = len(c.prog.names) - 1
	return len(c.prog.names) - 1
}

func (c *compiler) expr(n node) error {
	switch x := n.(type) {
	case *literalNode:
		c.emit(OpConst, c.constant(x.value), 0, x.at)
	case *identNode:
		if slot, found := c.locals[x.name]; found {
			c.emit(OpLoadLocal, slot, 0, x.at)
		} else {
			c.emit(OpLoadName, c.name(x.name), 0, x.at)
		}
	case *unaryNode:
		if err := c.expr(x.x); err != nil {
			return err
		}
		switch x.op {
		case "-":
			c.emit(OpNeg, 0, 0, x.at)
		case "+":
			c.emit(OpPos, 0, 0, x.at)
		case "!":
			c.emit(OpNot, 0, 0, x.at)
		}
	case *binaryNode:
		if x.op == "&&" || x.op == "||" {
			if err := c.expr(x.l); err != nil {
				return err
			}
			op := OpJumpIfFalseKeep
			if x.op == "||" {
				op = OpJumpIfTrueKeep
			}
			jump := c.emit(op, 0, 0, x.at)
			c.emit(OpPop, 0, 0, x.at)
			if err := c.expr(x.r); err != nil {
				return err
			}
			c.patch(jump)
			return nil
		}
		op, found := binaryOps[x.op]
		if !found {
			return &SyntaxError{Pos: x.at, Msg: fmt.Sprintf("unknown operator %q", x.op)}
		}
		if err := c.expr(x.l); err != nil {
			return err
		}
		if err := c.expr(x.r); err != nil {
			return err
		}
		c.emit(op, 0, 0, x.at)
	case *conditionalNode:
		if err := c.expr(x.cond); err != nil {
			return err
		}
		toElse := c.emit(OpJumpIfFalse, 0, 0, x.at)
		if err := c.expr(x.then); err != nil {
			return err
		}
		toEnd := c.emit(OpJump, 0, 0, x.at)
		c.patch(toElse)
		if err := c.expr(x.els); err != nil {
			return err
		}
		c.patch(toEnd)
	case *memberNode:
		if err := c.expr(x.x); err != nil {
			return err
		}
		c.emit(OpMember, c.name(x.name), 0, x.at)
	case *indexNode:
		if err := c.expr(x.x); err != nil {
			return err
		}
		if err := c.expr(x.key); err != nil {
			return err
		}
		c.emit(OpIndex, 0, 0, x.at)
	case *callNode:
		for _, arg := range x.args {
			if err := c.expr(arg); err != nil {
				return err
			}
		}
		c.emit(OpCall, c.name(x.name), len(x.args), x.at)
	default:
		return &SyntaxError{Pos: n.position(), Msg: fmt.Sprintf("can't compile %T", n)}
	}
	return nil
}
