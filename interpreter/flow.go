package interpreter

import (
	"strconv"
	"strings"

	"github.com/zond/juicerpg/structs"
)

const (
	KindComment        = "comment"
	KindChangeVariable = "change_variable"
	KindChangeSwitch   = "change_switch"
	KindChangeCurrency = "change_currency"
	KindChangeProperty = "change_property"
	KindChangeState    = "change_state"
	KindIf             = "if"
	KindElse           = "else"
	KindWhile          = "while"
	KindEndWhile       = "end_while"
	KindBreakLoop      = "break_loop"
	KindContinueLoop   = "continue_loop"
	KindLabel          = "label"
	KindJumpToLabel    = "jump_to_label"
	KindWait           = "wait"
	KindWaitUntil      = "wait_until"
	KindWaitKey        = "wait_key"
	KindChoice         = "choice"
	KindOption         = "option"
	KindCallReaction   = "call_reaction"
	KindPlugin         = "plugin"
	KindStopReaction   = "stop_reaction"
	KindLog            = "log"
)

// structural kinds are compiled by the compiler itself, since they have
// children or jump offsets.
var structural = map[string]bool{
	KindIf:           true,
	KindElse:         true,
	KindWhile:        true,
	KindEndWhile:     true,
	KindBreakLoop:    true,
	KindContinueLoop: true,
	KindLabel:        true,
	KindJumpToLabel:  true,
	KindChoice:       true,
	KindOption:       true,
	KindStopReaction: true,
}

// If runs its body when Cond holds, and otherwise skips it and any else command following it.
type If struct {
	instant
	Cond structs.DynamicValue
	Skip int
}

func (*If) Kind() string { return KindIf }

func (c *If) Update(env *Env, _ State) (int, error) {
	if c.Cond.BoolOr(env, false) {
		return 1, nil
	}
	return c.Skip, nil
}

func (c *If) offsets() []int { return []int{c.Skip} }

// Else is reached when the if body completes, and skips the else body.
type Else struct {
	instant
	Skip int
}

func (*Else) Kind() string { return KindElse }

func (c *Else) Update(*Env, State) (int, error) {
	return c.Skip, nil
}

func (c *Else) offsets() []int { return []int{c.Skip} }

type While struct {
	instant
	Cond structs.DynamicValue
	Skip int
}

func (*While) Kind() string { return KindWhile }

func (c *While) Update(env *Env, _ State) (int, error) {
	if c.Cond.BoolOr(env, false) {
		return 1, nil
	}
	return c.Skip, nil
}

func (c *While) offsets() []int { return []int{c.Skip} }

// EndWhile closes a while body and jumps back to the condition.
type EndWhile struct {
	instant
	Back int
}

func (*EndWhile) Kind() string { return KindEndWhile }

func (c *EndWhile) Update(*Env, State) (int, error) {
	return c.Back, nil
}

func (c *EndWhile) offsets() []int { return []int{c.Back} }

type BreakLoop struct {
	instant
	Offset int
}

func (*BreakLoop) Kind() string { return KindBreakLoop }

func (c *BreakLoop) Update(*Env, State) (int, error) {
	return c.Offset, nil
}

func (c *BreakLoop) offsets() []int { return []int{c.Offset} }

type ContinueLoop struct {
	instant
	Offset int
}

func (*ContinueLoop) Kind() string { return KindContinueLoop }

func (c *ContinueLoop) Update(*Env, State) (int, error) {
	return c.Offset, nil
}

func (c *ContinueLoop) offsets() []int { return []int{c.Offset} }

type Label struct {
	instant
	Name string
}

func (*Label) Kind() string { return KindLabel }

func (*Label) Update(*Env, State) (int, error) {
	return 1, nil
}

type JumpToLabel struct {
	instant
	Label  string
	Offset int
}

func (*JumpToLabel) Kind() string { return KindJumpToLabel }

func (c *JumpToLabel) Update(*Env, State) (int, error) {
	return c.Offset, nil
}

func (c *JumpToLabel) offsets() []int { return []int{c.Offset} }

// StopReaction moves the program counter to the end of the reaction.
type StopReaction struct {
	instant
	Offset int
}

func (*StopReaction) Kind() string { return KindStopReaction }

func (c *StopReaction) Update(*Env, State) (int, error) {
	return c.Offset, nil
}

func (c *StopReaction) offsets() []int { return []int{c.Offset} }

// Choice shows its options and waits for a key: "1" picks the first option
// and so on, "escape" skips all of them.
type Choice struct {
	Texts   []structs.DynamicValue
	Targets []int
	Cancel  int
}

type choiceState struct {
	shown    bool
	selected int
}

func (*Choice) Kind() string { return KindChoice }

func (*Choice) Initialize() State {
	return &choiceState{selected: -1}
}

func (c *Choice) Update(env *Env, st State) (int, error) {
	s := st.(*choiceState)
	if !s.shown {
		lines := make([]string, len(c.Texts))
		for i, text := range c.Texts {
			lines[i] = strconv.Itoa(i+1) + ") " + text.StringOr(env, "")
		}
		env.Host.Notify(env, strings.Join(lines, "\n"))
		s.shown = true
	}
	switch {
	case s.selected >= len(c.Targets):
		return c.Cancel, nil
	case s.selected >= 0:
		return c.Targets[s.selected], nil
	}
	return 0, nil
}

func (c *Choice) OnKeyPressed(_ *Env, st State, key string) bool {
	s := st.(*choiceState)
	if s.selected >= 0 {
		return false
	}
	if key == "escape" {
		s.selected = len(c.Targets)
		return true
	}
	n, err := strconv.Atoi(key)
	if err != nil || n < 1 || n > len(c.Targets) {
		return false
	}
	s.selected = n - 1
	return true
}

func (c *Choice) offsets() []int {
	return append([]int{c.Cancel}, c.Targets...)
}

// Option starts the body of one choice, and skips to the end of the choice
// when the body of the previous option completes.
type Option struct {
	instant
	Text structs.DynamicValue
	Skip int
}

func (*Option) Kind() string { return KindOption }

func (c *Option) Update(*Env, State) (int, error) {
	return c.Skip, nil
}

func (c *Option) offsets() []int { return []int{c.Skip} }
