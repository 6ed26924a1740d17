package interpreter

import (
	"github.com/pkg/errors"
	"github.com/zond/juicerpg"
	"github.com/zond/juicerpg/structs"
)

// Interpreter runs one reaction program, one command at a time.
type Interpreter struct {
	program     *Program
	env         *Env
	pc          int
	state       State
	initialized bool
	done        bool
	err         error
}

func New(program *Program, env *Env) *Interpreter {
	return &Interpreter{
		program: program,
		env:     env,
	}
}

func (i *Interpreter) PC() int {
	return i.pc
}

// Done reports whether the reaction has finished, either by running past
// its last command or by failing.
func (i *Interpreter) Done() bool {
	return i.done
}

func (i *Interpreter) Err() error {
	return i.err
}

func (i *Interpreter) Env() *Env {
	return i.env
}

// Running describes the reaction well enough to restart it.
func (i *Interpreter) Running() structs.RunningReaction {
	result := structs.RunningReaction{
		Reaction: i.program.Name,
		State:    i.env.StateID,
	}
	if i.env.Object != nil {
		result.Object = i.env.Object.ID
	}
	return result
}

func (i *Interpreter) fail(err error) error {
	i.done = true
	i.err = err
	return err
}

// Update runs commands until one needs to wait, the reaction ends or the
// step budget is spent.
func (i *Interpreter) Update() error {
	if i.done {
		return i.err
	}
	budget := i.env.StepBudget
	if budget <= 0 {
		budget = DefaultStepBudget
	}
	for step := 0; step < budget; step++ {
		if i.pc >= len(i.program.Commands) {
			i.done = true
			return nil
		}
		cmd := i.program.Commands[i.pc]
		if !i.initialized {
			i.state = cmd.Initialize()
			i.initialized = true
		}
		advance, err := cmd.Update(i.env, i.state)
		if err != nil {
			return i.fail(juicerpg.WithStack(errors.Wrapf(err, "%s: %s at %d", i.program.Name, cmd.Kind(), i.pc)))
		}
		if advance == 0 {
			return nil
		}
		if err := i.jump(advance); err != nil {
			return i.fail(err)
		}
	}
	return nil
}

func (i *Interpreter) jump(advance int) error {
	next := i.pc + advance
	if next < 0 || next > len(i.program.Commands) {
		return juicerpg.WithStack(errors.Wrapf(ErrProgramCounter, "%s: %d + %d outside [0, %d]", i.program.Name, i.pc, advance, len(i.program.Commands)))
	}
	i.pc = next
	i.state = nil
	i.initialized = false
	if i.pc == len(i.program.Commands) {
		i.done = true
	}
	return nil
}

// KeyPressed offers key to the current command and reports whether it was consumed.
func (i *Interpreter) KeyPressed(key string) bool {
	if i.done || !i.initialized {
		return false
	}
	return i.program.Commands[i.pc].OnKeyPressed(i.env, i.state, key)
}
