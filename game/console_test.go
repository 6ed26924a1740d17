package game

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/zond/juicerpg/formula"
	"github.com/zond/juicerpg/plugins"
	"github.com/zond/juicerpg/structs"
)

func withConsole(t *testing.T, s *Session, f func(c *console, out *bytes.Buffer)) {
	t.Helper()
	out := &bytes.Buffer{}
	f(&console{ctx: context.Background(), session: s, out: out}, out)
}

func TestRest(t *testing.T) {
	for _, tt := range []struct {
		line string
		n    int
		want string
	}{
		{line: "/eval 1 +  2", n: 1, want: "1 +  2"},
		{line: "/set 3  \"a b\"", n: 2, want: "\"a b\""},
		{line: "/set 3", n: 2, want: ""},
		{line: "/eval", n: 1, want: ""},
	} {
		if got := rest(tt.line, tt.n); got != tt.want {
			t.Errorf("rest(%q, %d) = %q, want %q", tt.line, tt.n, got, tt.want)
		}
	}
}

func TestConsoleCommands(t *testing.T) {
	WithSession(t, nil, func(s *Session, logs *bytes.Buffer) {
		addReaction(t, s, "count", addVar(1, 1), waitKey())
		withConsole(t, s, func(c *console, out *bytes.Buffer) {
			for _, tt := range []struct {
				line string
				want string
			}{
				{line: "/eval 1 + 2", want: "3\n"},
				{line: "/eval", want: "usage: /eval <formula>\n"},
				{line: `/set 4 "hi" + "!"`, want: ""},
				{line: "/switch 2 on", want: ""},
				{line: "/switch 2 maybe", want: "usage: /switch <switch> <on|off>\n"},
				{line: "/set x 1", want: "isn't a number"},
				{line: "/nope", want: "Unknown command: \"/nope\"\n"},
				{line: "/slots", want: "session has no storage"},
				{line: "/run count 1", want: ""},
				{line: "enter", want: "No reaction waits for \"enter\".\n"},
				{line: "", want: ""},
			} {
				out.Reset()
				if err := c.handle(tt.line); err != nil {
					t.Errorf("%q: %v", tt.line, err)
				}
				if tt.want == "" && out.Len() != 0 {
					t.Errorf("%q: got %q, want no output", tt.line, out.String())
				} else if !strings.Contains(out.String(), tt.want) {
					t.Errorf("%q: got %q, want %q", tt.line, out.String(), tt.want)
				}
			}
			if got := s.State().Variable(4); !got.Equal(formula.String("hi!")) {
				t.Errorf("got %v, want hi!", got)
			}
			if !s.State().Switch(2) {
				t.Errorf("switch 2 is off")
			}
			if diff := runningNames(s); len(diff) != 1 || diff[0] != "count" {
				t.Errorf("got %v, want count running", diff)
			}

			s.Tick(frame)
			out.Reset()
			if err := c.handle("/key enter"); err != nil {
				t.Fatal(err)
			}
			if out.Len() != 0 {
				t.Errorf("got %q, want the key consumed silently", out.String())
			}
			if err := c.handle("/quit"); err != errQuit {
				t.Errorf("got %v, want errQuit", err)
			}
		})
	})
}

func TestConsoleTables(t *testing.T) {
	WithSession(t, nil, func(s *Session, logs *bytes.Buffer) {
		s.State().SetVariable(7, formula.Int(70))
		s.State().SetCurrency(1, 12.5)
		addReaction(t, s, "count", waitKey())
		if _, err := s.Start("count", 1, 1); err != nil {
			t.Fatal(err)
		}
		s.Schedule(5, "count", 0, 0)
		p := plugins.NewPlugin(&structs.Manifest{ID: 3, Name: "weather", Version: "1.2"})
		if err := p.RegisterCommand("rain", nil); err != nil {
			t.Fatal(err)
		}
		if err := s.Registry().Register(p); err != nil {
			t.Fatal(err)
		}
		withConsole(t, s, func(c *console, out *bytes.Buffer) {
			for _, tt := range []struct {
				line string
				want []string
			}{
				{line: "/vars", want: []string{"variable", "70", "currency", "12.5"}},
				{line: "/objects", want: []string{"ID", "Name"}},
				{line: "/running", want: []string{"count", "at frame 5", "a reaction scheduled, no reactions failed so far."}},
				{line: "/plugins", want: []string{"weather", "1.2", "rain"}},
				{line: "/methods", want: []string{"Game#setVariable", "Game.variable", "engine"}},
				{line: "/help", want: []string{"/eval <formula>", "and /help."}},
			} {
				out.Reset()
				if err := c.handle(tt.line); err != nil {
					t.Errorf("%q: %v", tt.line, err)
				}
				for _, want := range tt.want {
					if !strings.Contains(out.String(), want) {
						t.Errorf("%q: got %q, want %q", tt.line, out.String(), want)
					}
				}
			}
		})
	})
}

func TestConsoleDebug(t *testing.T) {
	WithSession(t, nil, func(s *Session, logs *bytes.Buffer) {
		if err := s.Registry().Register(plugins.NewPlugin(&structs.Manifest{ID: 1, Name: "weather"})); err != nil {
			t.Fatal(err)
		}
		w := s.Switchboard().Writer("weather")
		w.Write([]byte("old\n"))
		withConsole(t, s, func(c *console, out *bytes.Buffer) {
			if err := c.handle("/debug shop"); err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(out.String(), `No plugin "shop" loaded.`) {
				t.Errorf("got %q, want the missing plugin", out.String())
			}
			out.Reset()
			if err := c.handle("/debug weather"); err != nil {
				t.Fatal(err)
			}
			w.Write([]byte("new\n"))
			if got := out.String(); got != "old\nnew\n" {
				t.Errorf("got %q, want the buffered and the new output", got)
			}
			if err := c.handle("/undebug weather"); err != nil {
				t.Fatal(err)
			}
			w.Write([]byte("gone\n"))
			if strings.Contains(out.String(), "gone") {
				t.Errorf("got %q after detaching", out.String())
			}
		})
	})
}
