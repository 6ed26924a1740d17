package interpreter

import (
	"github.com/pkg/errors"
	"github.com/zond/juicerpg"
	"github.com/zond/juicerpg/structs"
)

// Program is a reaction flattened in pre-order into a list of commands.
type Program struct {
	Name     string
	Commands []Command
	nodeSkip []int
	labels   map[string]int
}

func (p *Program) Len() int {
	return len(p.Commands)
}

// NodeSkip returns how far the command at i advances when its condition
// fails, or 1 for commands without a condition.
func (p *Program) NodeSkip(i int) int {
	return p.nodeSkip[i]
}

// Label returns the index of the named label.
func (p *Program) Label(name string) (int, bool) {
	idx, found := p.labels[name]
	return idx, found
}

// jumper is implemented by commands with static jump offsets.
type jumper interface {
	offsets() []int
}

type loopFrame struct {
	start  int
	breaks []*BreakLoop
	at     []int
}

type pendingJump struct {
	cmd *JumpToLabel
	idx int
}

type compiler struct {
	kinds *Kinds
	prog  *Program
	loops []*loopFrame
	jumps []pendingJump
	stops []pendingStop
}

type pendingStop struct {
	cmd *StopReaction
	idx int
}

// Compile flattens the command tree of r and resolves all static jumps.
func Compile(r *structs.Reaction, kinds *Kinds) (*Program, error) {
	c := &compiler{
		kinds: kinds,
		prog: &Program{
			Name:   r.Name,
			labels: map[string]int{},
		},
	}
	if err := c.block(r.Commands); err != nil {
		return nil, juicerpg.WithStack(errors.Wrapf(err, "compiling %q", r.Name))
	}
	end := len(c.prog.Commands)
	for _, j := range c.jumps {
		target, found := c.prog.labels[j.cmd.Label]
		if !found {
			return nil, juicerpg.WithStack(errors.Errorf("compiling %q: jump to unknown label %q", r.Name, j.cmd.Label))
		}
		j.cmd.Offset = target - j.idx
	}
	for _, s := range c.stops {
		s.cmd.Offset = end - s.idx
	}
	if err := c.prog.validate(); err != nil {
		return nil, juicerpg.WithStack(errors.Wrapf(err, "compiling %q", r.Name))
	}
	return c.prog, nil
}

func (p *Program) validate() error {
	for idx, cmd := range p.Commands {
		j, ok := cmd.(jumper)
		if !ok {
			continue
		}
		for _, offset := range j.offsets() {
			if offset == 0 || idx+offset < 0 || idx+offset > len(p.Commands) {
				return errors.Wrapf(ErrProgramCounter, "%s at %d jumps %d", cmd.Kind(), idx, offset)
			}
		}
	}
	return nil
}

func (c *compiler) emit(cmd Command, skip int) int {
	c.prog.Commands = append(c.prog.Commands, cmd)
	c.prog.nodeSkip = append(c.prog.nodeSkip, skip)
	return len(c.prog.Commands) - 1
}

func (c *compiler) here() int {
	return len(c.prog.Commands)
}

func kindOf(n structs.RawNode) string {
	kind, _ := n.Kind()
	return kind
}

func (c *compiler) block(nodes []structs.RawNode) error {
	for i, node := range nodes {
		if err := c.node(nodes, i, node); err != nil {
			return errors.Wrapf(err, "command %d", i)
		}
	}
	return nil
}

func noChildren(kind string, node structs.RawNode) error {
	if len(node.Children) > 0 {
		return errors.Errorf("%s takes no children", kind)
	}
	return nil
}

func (c *compiler) node(siblings []structs.RawNode, i int, node structs.RawNode) error {
	kind, err := node.Kind()
	if err != nil {
		return err
	}
	cur, err := node.Cursor()
	if err != nil {
		return err
	}
	switch kind {
	case KindIf:
		cmd := &If{Cond: cur.Dynamic()}
		if err := cur.Done(); err != nil {
			return err
		}
		idx := c.emit(cmd, 0)
		if err := c.block(node.Children); err != nil {
			return err
		}
		cmd.Skip = c.here() - idx
		if i+1 < len(siblings) && kindOf(siblings[i+1]) == KindElse {
			cmd.Skip++
		}
		c.prog.nodeSkip[idx] = cmd.Skip
	case KindElse:
		if i == 0 || kindOf(siblings[i-1]) != KindIf {
			return errors.Errorf("else without if")
		}
		if err := cur.Done(); err != nil {
			return err
		}
		cmd := &Else{}
		idx := c.emit(cmd, 0)
		if err := c.block(node.Children); err != nil {
			return err
		}
		cmd.Skip = c.here() - idx
		c.prog.nodeSkip[idx] = cmd.Skip
	case KindWhile:
		cmd := &While{Cond: cur.Dynamic()}
		if err := cur.Done(); err != nil {
			return err
		}
		idx := c.emit(cmd, 0)
		frame := &loopFrame{start: idx}
		c.loops = append(c.loops, frame)
		if err := c.block(node.Children); err != nil {
			return err
		}
		c.loops = c.loops[:len(c.loops)-1]
		end := &EndWhile{}
		endIdx := c.emit(end, 1)
		end.Back = idx - endIdx
		cmd.Skip = c.here() - idx
		c.prog.nodeSkip[idx] = cmd.Skip
		for n, b := range frame.breaks {
			b.Offset = c.here() - frame.at[n]
		}
	case KindBreakLoop, KindContinueLoop:
		if err := cur.Done(); err != nil {
			return err
		}
		if err := noChildren(kind, node); err != nil {
			return err
		}
		if len(c.loops) == 0 {
			return errors.Errorf("%s outside while", kind)
		}
		frame := c.loops[len(c.loops)-1]
		if kind == KindBreakLoop {
			cmd := &BreakLoop{}
			frame.breaks = append(frame.breaks, cmd)
			frame.at = append(frame.at, c.emit(cmd, 1))
		} else {
			cmd := &ContinueLoop{}
			cmd.Offset = frame.start - c.emit(cmd, 1)
		}
	case KindLabel:
		cmd := &Label{Name: cur.String()}
		if err := cur.Done(); err != nil {
			return err
		}
		if err := noChildren(kind, node); err != nil {
			return err
		}
		if _, found := c.prog.labels[cmd.Name]; found {
			return errors.Errorf("duplicate label %q", cmd.Name)
		}
		c.prog.labels[cmd.Name] = c.emit(cmd, 1)
	case KindJumpToLabel:
		cmd := &JumpToLabel{Label: cur.String()}
		if err := cur.Done(); err != nil {
			return err
		}
		if err := noChildren(kind, node); err != nil {
			return err
		}
		c.jumps = append(c.jumps, pendingJump{cmd: cmd, idx: c.emit(cmd, 1)})
	case KindStopReaction:
		if err := cur.Done(); err != nil {
			return err
		}
		if err := noChildren(kind, node); err != nil {
			return err
		}
		cmd := &StopReaction{}
		c.stops = append(c.stops, pendingStop{cmd: cmd, idx: c.emit(cmd, 1)})
	case KindChoice:
		return c.choice(node, cur)
	case KindOption:
		return errors.Errorf("option outside choice")
	case KindEndWhile:
		return errors.Errorf("%s can't be used directly", kind)
	default:
		if err := noChildren(kind, node); err != nil {
			return err
		}
		cmd, err := c.kinds.decode(kind, cur)
		if err != nil {
			return err
		}
		c.emit(cmd, 1)
	}
	return nil
}

func (c *compiler) choice(node structs.RawNode, cur *structs.Cursor) error {
	if err := cur.Done(); err != nil {
		return err
	}
	if len(node.Children) == 0 {
		return errors.Errorf("choice without options")
	}
	cmd := &Choice{}
	idx := c.emit(cmd, 1)
	options := []*Option{}
	at := []int{}
	for n, child := range node.Children {
		if kind := kindOf(child); kind != KindOption {
			return errors.Errorf("choice child %d is %q, not an option", n, kind)
		}
		optCur, err := child.Cursor()
		if err != nil {
			return err
		}
		opt := &Option{Text: optCur.Dynamic()}
		if err := optCur.Done(); err != nil {
			return errors.Wrapf(err, "option %d", n)
		}
		optIdx := c.emit(opt, 0)
		cmd.Texts = append(cmd.Texts, opt.Text)
		cmd.Targets = append(cmd.Targets, optIdx+1-idx)
		options = append(options, opt)
		at = append(at, optIdx)
		if err := c.block(child.Children); err != nil {
			return errors.Wrapf(err, "option %d", n)
		}
	}
	end := c.here()
	for n, opt := range options {
		opt.Skip = end - at[n]
		c.prog.nodeSkip[at[n]] = opt.Skip
	}
	cmd.Cancel = end - idx
	return nil
}
