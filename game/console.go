package game

import (
	"context"
	"fmt"
	"io"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/buildkite/shellwords"
	"github.com/gliderlabs/ssh"
	"github.com/pkg/errors"
	"github.com/rodaine/table"
	"github.com/zond/juicerpg"
	"github.com/zond/juicerpg/formula"
	"github.com/zond/juicerpg/interpreter"
	"github.com/zond/juicerpg/lang"
	"golang.org/x/term"
)

var (
	whitespacePattern = regexp.MustCompile(`\s+`)

	errQuit = errors.New("quit")
)

// console is one connection to the developer console of a session.
type console struct {
	ctx     context.Context
	session *Session
	out     io.Writer
}

type command struct {
	names map[string]bool
	usage string
	f     func(*console, string) error
}

type commands []command

func (c commands) attempt(con *console, name string, line string) (bool, error) {
	for _, cmd := range c {
		if cmd.names[name] {
			if err := cmd.f(con, line); err != nil {
				return true, juicerpg.WithStack(err)
			}
			return true, nil
		}
	}
	return false, nil
}

func m(s ...string) map[string]bool {
	result := map[string]bool{}
	for _, k := range s {
		result[k] = true
	}
	return result
}

// rest returns line without its first n words.
func rest(line string, n int) string {
	parts := whitespacePattern.Split(strings.TrimSpace(line), n+1)
	if len(parts) <= n {
		return ""
	}
	return strings.TrimSpace(parts[n])
}

func (c *console) split(line string) ([]string, error) {
	parts, err := shellwords.SplitPosix(line)
	if err != nil {
		return nil, juicerpg.WithStack(err)
	}
	return parts, nil
}

func (c *console) ints(parts []string) ([]int, error) {
	result := make([]int, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, juicerpg.WithStack(errors.Wrapf(err, "%q isn't a number", part))
		}
		result[i] = n
	}
	return result, nil
}

func (c *console) commands() commands {
	return []command{
		{
			names: m("/eval", "/e"),
			usage: "/eval <formula>",
			f: func(c *console, s string) error {
				src := rest(s, 1)
				if src == "" {
					fmt.Fprintln(c.out, "usage: /eval <formula>")
					return nil
				}
				var v formula.Value
				var err error
				c.session.Do(func() {
					v, err = c.session.EvaluateStrict(src)
				})
				if err != nil {
					fmt.Fprintf(c.out, "Error: %v\n", err)
					return nil
				}
				fmt.Fprintln(c.out, v)
				return nil
			},
		},
		{
			names: m("/vars"),
			usage: "/vars",
			f: func(c *console, s string) error {
				t := table.New("Kind", "ID", "Value").WithWriter(c.out)
				c.session.Do(func() {
					state := c.session.State()
					variables := state.VariablesSnapshot()
					for _, id := range slices.Sorted(maps.Keys(variables)) {
						t.AddRow("variable", id, variables[id])
					}
					switches := state.SwitchesSnapshot()
					for _, id := range slices.Sorted(maps.Keys(switches)) {
						t.AddRow("switch", id, switches[id])
					}
					currencies := state.CurrenciesSnapshot()
					for _, id := range slices.Sorted(maps.Keys(currencies)) {
						t.AddRow("currency", id, currencies[id])
					}
				})
				t.Print()
				return nil
			},
		},
		{
			names: m("/objects"),
			usage: "/objects",
			f: func(c *console, s string) error {
				t := table.New("ID", "Name", "State", "Reactions").WithWriter(c.out)
				c.session.Do(func() {
					state := c.session.State()
					for _, id := range state.ObjectIDs() {
						o, found := state.Object(id)
						if !found {
							continue
						}
						triggers := slices.Sorted(maps.Keys(o.Reactions))
						t.AddRow(o.ID, o.Name, o.StateID(), strings.Join(triggers, ","))
					}
				})
				t.Print()
				return nil
			},
		},
		{
			names: m("/set"),
			usage: "/set <variable> <formula>",
			f: func(c *console, s string) error {
				parts := whitespacePattern.Split(strings.TrimSpace(s), -1)
				src := rest(s, 2)
				if len(parts) < 3 || src == "" {
					fmt.Fprintln(c.out, "usage: /set <variable> <formula>")
					return nil
				}
				ids, err := c.ints(parts[1:2])
				if err != nil {
					return err
				}
				c.session.Do(func() {
					var v formula.Value
					if v, err = c.session.EvaluateStrict(src); err == nil {
						_, err = c.session.Call(interpreter.TargetGame, interpreter.MethodSetVariable, formula.Int(ids[0]), v)
					}
				})
				return err
			},
		},
		{
			names: m("/switch"),
			usage: "/switch <switch> <on|off>",
			f: func(c *console, s string) error {
				parts, err := c.split(s)
				if err != nil {
					return err
				}
				if len(parts) != 3 || (parts[2] != "on" && parts[2] != "off") {
					fmt.Fprintln(c.out, "usage: /switch <switch> <on|off>")
					return nil
				}
				ids, err := c.ints(parts[1:2])
				if err != nil {
					return err
				}
				c.session.Do(func() {
					_, err = c.session.Call(interpreter.TargetGame, interpreter.MethodSetSwitch, formula.Int(ids[0]), formula.Bool(parts[2] == "on"))
				})
				return err
			},
		},
		{
			names: m("/run"),
			usage: "/run <reaction> [object] [state]",
			f: func(c *console, s string) error {
				parts, err := c.split(s)
				if err != nil {
					return err
				}
				if len(parts) < 2 || len(parts) > 4 {
					fmt.Fprintln(c.out, "usage: /run <reaction> [object] [state]")
					return nil
				}
				ids, err := c.ints(parts[2:])
				if err != nil {
					return err
				}
				c.session.Do(func() {
					object, stateID := 0, 0
					if len(ids) > 0 {
						object = ids[0]
						if o, found := c.session.State().Object(object); found {
							stateID = o.StateID()
						}
					}
					if len(ids) > 1 {
						stateID = ids[1]
					}
					_, err = c.session.Start(parts[1], object, stateID)
				})
				return err
			},
		},
		{
			names: m("/trigger"),
			usage: "/trigger <object> <trigger>",
			f: func(c *console, s string) error {
				parts, err := c.split(s)
				if err != nil {
					return err
				}
				if len(parts) != 3 {
					fmt.Fprintln(c.out, "usage: /trigger <object> <trigger>")
					return nil
				}
				ids, err := c.ints(parts[1:2])
				if err != nil {
					return err
				}
				c.session.Do(func() {
					_, err = c.session.Trigger(ids[0], parts[2])
				})
				return err
			},
		},
		{
			names: m("/key"),
			usage: "/key <key>",
			f: func(c *console, s string) error {
				key := rest(s, 1)
				if key == "" {
					fmt.Fprintln(c.out, "usage: /key <key>")
					return nil
				}
				c.key(key)
				return nil
			},
		},
		{
			names: m("/running"),
			usage: "/running",
			f: func(c *console, s string) error {
				t := table.New("Reaction", "Object", "State", "PC").WithWriter(c.out)
				var scheduled, failed int
				c.session.Do(func() {
					failed = int(c.session.Failures())
					for _, it := range c.session.Running() {
						r := it.Running()
						t.AddRow(r.Reaction, r.Object, r.State, it.PC())
					}
					for _, sch := range c.session.Scheduled() {
						t.AddRow(sch.Reaction, sch.Object, sch.State, fmt.Sprintf("at frame %d", sch.Frame))
						scheduled++
					}
				})
				t.Print()
				fmt.Fprintf(c.out, "%s scheduled, %s failed so far.\n", lang.Card(scheduled, "reaction"), lang.Card(failed, "reaction"))
				return nil
			},
		},
		{
			names: m("/plugins"),
			usage: "/plugins",
			f: func(c *console, s string) error {
				t := table.New("ID", "Name", "Version", "Commands", "Enabled", "Error").WithWriter(c.out)
				if c.session.store == nil {
					for _, p := range c.session.Registry().Plugins() {
						t.AddRow(p.ID(), p.Name(), p.Manifest.Version, strings.Join(p.Commands(), ","), true, "")
					}
					t.Print()
					return nil
				}
				entries, err := c.session.store.Catalog.List(c.ctx)
				if err != nil {
					return err
				}
				for _, e := range entries {
					cmds := ""
					if p, found := c.session.Registry().Get(e.Name); found {
						cmds = strings.Join(p.Commands(), ",")
					}
					t.AddRow(e.ID, e.Name, e.Version, cmds, e.Enabled, e.LastError)
				}
				t.Print()
				return nil
			},
		},
		{
			names: m("/enable", "/disable"),
			usage: "/enable|/disable <plugin>",
			f: func(c *console, s string) error {
				parts, err := c.split(s)
				if err != nil {
					return err
				}
				if len(parts) != 2 {
					fmt.Fprintf(c.out, "usage: %s <plugin>\n", parts[0])
					return nil
				}
				if c.session.store == nil {
					return juicerpg.WithStack(ErrNoStorage)
				}
				enabled := parts[0] == "/enable"
				if err := c.session.store.Catalog.SetEnabled(c.ctx, parts[1], enabled); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "%q will be %s from the next start.\n", parts[1], map[bool]string{true: "loaded", false: "skipped"}[enabled])
				return nil
			},
		},
		{
			names: m("/methods"),
			usage: "/methods",
			f: func(c *console, s string) error {
				t := table.New("Method", "Defined By", "Decorators").WithWriter(c.out)
				for _, slot := range c.session.Registry().Methods.Slots() {
					definedBy := slot.DefinedBy
					if definedBy == "" {
						definedBy = "engine"
					}
					t.AddRow(slot.Name, definedBy, strings.Join(slot.Decorators, ", "))
				}
				t.Print()
				return nil
			},
		},
		{
			names: m("/save", "/load"),
			usage: "/save|/load <slot>",
			f: func(c *console, s string) error {
				parts, err := c.split(s)
				if err != nil {
					return err
				}
				if len(parts) != 2 {
					fmt.Fprintf(c.out, "usage: %s <slot>\n", parts[0])
					return nil
				}
				c.session.Do(func() {
					if parts[0] == "/save" {
						err = c.session.Save(parts[1])
					} else {
						err = c.session.Load(parts[1])
					}
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "%s %q\n", map[string]string{"/save": "Saved", "/load": "Loaded"}[parts[0]], parts[1])
				return nil
			},
		},
		{
			names: m("/slots"),
			usage: "/slots",
			f: func(c *console, s string) error {
				if c.session.store == nil {
					return juicerpg.WithStack(ErrNoStorage)
				}
				infos, err := c.session.store.Saves.List()
				if err != nil {
					return err
				}
				t := table.New("Slot", "Frame", "Clock", "Running", "Saved At").WithWriter(c.out)
				for _, info := range infos {
					t.AddRow(info.Slot, info.Frame, info.Clock, info.Running, info.SavedAt.Format(time.RFC3339))
				}
				t.Print()
				return nil
			},
		},
		{
			names: m("/debug", "/undebug"),
			usage: "/debug|/undebug <plugin>",
			f: func(c *console, s string) error {
				parts, err := c.split(s)
				if err != nil {
					return err
				}
				if len(parts) != 2 {
					fmt.Fprintf(c.out, "usage: %s <plugin>\n", parts[0])
					return nil
				}
				sb := c.session.Switchboard()
				if parts[0] == "/undebug" {
					sb.Detach(parts[1], c.out)
					return nil
				}
				if !c.session.Registry().Has(parts[1]) {
					fmt.Fprintf(c.out, "No plugin %q loaded.\n", parts[1])
					return nil
				}
				for _, msg := range sb.GetBuffered(parts[1]) {
					if _, err := c.out.Write(msg); err != nil {
						return juicerpg.WithStack(err)
					}
				}
				sb.Attach(parts[1], c.out)
				return nil
			},
		},
		{
			names: m("/stats"),
			usage: "/stats [reset]",
			f: func(c *console, s string) error {
				parts, err := c.split(s)
				if err != nil {
					return err
				}
				if len(parts) > 1 {
					if parts[1] != "reset" {
						fmt.Fprintln(c.out, "usage: /stats [reset]")
						return nil
					}
					c.session.Stats().Reset()
					fmt.Fprintln(c.out, "Statistics reset.")
					return nil
				}
				t := table.New("Source", "Runs", "Avg", "Max", "Slow", "Errors", "Runs/s", "Last Error").WithWriter(c.out)
				for _, src := range c.session.Stats().Top(20) {
					t.AddRow(src.Source, src.Executions, src.AvgTime, src.MaxTime, src.SlowCount, src.Errors, fmt.Sprintf("%.1f", src.ExecRate), src.LastError)
				}
				t.Print()
				if recent := c.session.Stats().RecentErrors(5); len(recent) > 0 {
					fmt.Fprintln(c.out, "Recent errors:")
					t := table.New("Time", "Source", "Error").WithWriter(c.out)
					for _, r := range recent {
						t.AddRow(r.Timestamp.Format(time.RFC3339), r.Source, r.Message)
					}
					t.Print()
				}
				return nil
			},
		},
		{
			names: m("/quit", "/exit"),
			usage: "/quit",
			f: func(c *console, s string) error {
				return errQuit
			},
		},
	}
}

func (c *console) help(cmds commands) {
	usages := make([]string, 0, len(cmds)+1)
	for _, cmd := range cmds {
		usages = append(usages, cmd.usage)
	}
	usages = append(usages, "/help")
	fmt.Fprintf(c.out, "Commands: %s.\n", lang.Enumerator{}.Do(usages...))
	fmt.Fprintln(c.out, "Anything else is sent as a key press to the running reactions.")
}

func (c *console) key(key string) {
	consumed := false
	c.session.Do(func() {
		consumed = c.session.KeyPressed(key)
	})
	if !consumed {
		fmt.Fprintf(c.out, "No reaction waits for %q.\n", key)
	}
}

// handle runs one line of console input.
func (c *console) handle(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		c.key(line)
		return nil
	}
	name := whitespacePattern.Split(line, 2)[0]
	cmds := c.commands()
	if name == "/help" {
		c.help(cmds)
		return nil
	}
	found, err := cmds.attempt(c, name, line)
	if errors.Is(err, errQuit) {
		return errQuit
	}
	if err != nil {
		fmt.Fprintln(c.out, err)
	} else if !found {
		fmt.Fprintf(c.out, "Unknown command: %q\n", name)
	}
	return nil
}

// HandleSession runs a console on an SSH session until it disconnects.
func (s *Session) HandleSession(sess ssh.Session) {
	t := term.NewTerminal(sess, "> ")
	c := &console{
		ctx:     sess.Context(),
		session: s,
		out:     t,
	}
	s.output.Push(t)
	defer s.output.Drop(t)
	defer s.switchboard.DetachAll(t)

	var title string
	var frame uint64
	s.Do(func() {
		title, frame = s.Project().Title, s.Frame()
	})
	if title == "" {
		title = "untitled"
	}
	fmt.Fprintf(t, "Connected to %q at frame %d. Type /help for commands.\n", title, frame)
	for {
		line, err := t.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Printf("reading console: %v", err)
			}
			return
		}
		if err := c.handle(line); errors.Is(err, errQuit) {
			return
		}
	}
}
