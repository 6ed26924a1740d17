package game

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/bxcodec/faker/v4"
	"github.com/google/go-cmp/cmp"
	"github.com/zond/juicerpg/formula"
	"github.com/zond/juicerpg/interpreter"
	"github.com/zond/juicerpg/plugins"
	"github.com/zond/juicerpg/storage"
	"github.com/zond/juicerpg/structs"
)

const frame = time.Second / 60

func WithSession(t testing.TB, store *storage.Storage, f func(s *Session, logs *bytes.Buffer)) {
	t.Helper()
	logs := &bytes.Buffer{}
	s, err := New(DefaultConfig(), store, log.New(logs, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	s.State().AddObject(structs.NewMapObject(1, faker.FirstName()))
	f(s, logs)
}

func WithStoredSession(t testing.TB, f func(s *Session, logs *bytes.Buffer)) {
	t.Helper()
	store, err := storage.New(context.Background(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	WithSession(t, store, f)
}

func addReaction(t testing.TB, s *Session, name string, nodes ...structs.RawNode) {
	t.Helper()
	if err := s.AddReaction(&structs.Reaction{Name: name, Commands: nodes}); err != nil {
		t.Fatal(err)
	}
}

func addVar(id int, n float64) structs.RawNode {
	return structs.Node(interpreter.KindChangeVariable, id, "add", structs.NumberValue(n))
}

func waitKey() structs.RawNode {
	return structs.Node(interpreter.KindWaitKey)
}

func runningNames(s *Session) []string {
	result := []string{}
	for _, it := range s.Running() {
		result = append(result, it.Running().Reaction)
	}
	return result
}

func TestTick(t *testing.T) {
	WithSession(t, nil, func(s *Session, logs *bytes.Buffer) {
		addReaction(t, s, "count", addVar(1, 1), waitKey(), addVar(1, 10))
		addReaction(t, s, "broken", structs.Node(interpreter.KindChangeProperty, structs.NumberValue(99), "hp", "set", structs.NumberValue(1)))
		if _, err := s.Start("count", 1, 1); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Start("broken", 0, 0); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Start("missing", 0, 0); !errors.Is(err, interpreter.ErrUnknownReaction) {
			t.Errorf("got %v, want ErrUnknownReaction", err)
		}
		if _, err := s.Start("count", 42, 0); !errors.Is(err, interpreter.ErrMissingObject) {
			t.Errorf("got %v, want ErrMissingObject", err)
		}

		s.Tick(frame)
		if got := s.State().Variable(1); !got.Equal(formula.Int(1)) {
			t.Errorf("got %v, want 1", got)
		}
		if diff := cmp.Diff(runningNames(s), []string{"count"}); diff != "" {
			t.Errorf("running: %v", diff)
		}
		if s.Failures() != 1 {
			t.Errorf("got %v failures, want 1", s.Failures())
		}
		if recent := s.Stats().RecentErrors(1); len(recent) != 1 || recent[0].Source != "broken" {
			t.Errorf("got %+v, want the broken reaction recorded", recent)
		}
		if !strings.Contains(logs.String(), "broken@0/0 failed") {
			t.Errorf("logs %q lack the failure", logs.String())
		}

		if !s.KeyPressed("enter") {
			t.Errorf("the waiting reaction didn't consume the key")
		}
		if s.KeyPressed("enter") {
			t.Errorf("the key was consumed twice")
		}
		s.Tick(frame)
		if got := s.State().Variable(1); !got.Equal(formula.Int(11)) {
			t.Errorf("got %v, want 11", got)
		}
		if len(s.Running()) != 0 {
			t.Errorf("got %v, want nothing running", runningNames(s))
		}
		if s.Frame() != 2 || s.Clock() != 2*frame {
			t.Errorf("got frame %v at %v, want 2 at %v", s.Frame(), s.Clock(), 2*frame)
		}
	})
}

func TestTrigger(t *testing.T) {
	WithSession(t, nil, func(s *Session, logs *bytes.Buffer) {
		addReaction(t, s, "talk", addVar(3, 1))
		hero, _ := s.State().Object(1)
		hero.Reactions["interact"] = "talk"
		hero.SetStateID(2)
		it, err := s.Trigger(1, "interact")
		if err != nil {
			t.Fatal(err)
		}
		if got := it.Running(); got != (structs.RunningReaction{Reaction: "talk", Object: 1, State: 2}) {
			t.Errorf("got %v, want talk on 1 in state 2", got)
		}
		if _, err := s.Trigger(1, "touch"); !errors.Is(err, interpreter.ErrUnknownReaction) {
			t.Errorf("got %v, want ErrUnknownReaction", err)
		}
	})
}

func TestSchedule(t *testing.T) {
	WithSession(t, nil, func(s *Session, logs *bytes.Buffer) {
		addReaction(t, s, "first", waitKey())
		addReaction(t, s, "second", waitKey())
		addReaction(t, s, "early", waitKey())
		s.Schedule(2, "second", 0, 0)
		s.Schedule(2, "first", 0, 0)
		s.Schedule(1, "early", 0, 0)
		s.Schedule(3, "missing", 0, 0)

		sorted := []string{}
		for _, sch := range s.Scheduled() {
			sorted = append(sorted, sch.Reaction)
		}
		if diff := cmp.Diff(sorted, []string{"early", "second", "first", "missing"}); diff != "" {
			t.Errorf("scheduled: %v", diff)
		}

		s.Tick(frame)
		if diff := cmp.Diff(runningNames(s), []string{"early"}); diff != "" {
			t.Errorf("running: %v", diff)
		}
		s.Tick(frame)
		if diff := cmp.Diff(runningNames(s), []string{"early", "second", "first"}); diff != "" {
			t.Errorf("running: %v", diff)
		}
		s.Tick(frame)
		if !strings.Contains(logs.String(), "starting scheduled missing@0/0") {
			t.Errorf("logs %q lack the failed start", logs.String())
		}
		if len(s.Scheduled()) != 0 {
			t.Errorf("got %v, want nothing scheduled", s.Scheduled())
		}
	})
}

func TestDecoratedBuiltins(t *testing.T) {
	WithSession(t, nil, func(s *Session, logs *bytes.Buffer) {
		if err := s.Registry().Methods.Inject(interpreter.TargetGame, interpreter.MethodSetVariable, func(c *plugins.Call) (formula.Value, error) {
			return c.Super(c.Arg(0), formula.Number(c.Arg(1).NumberOr(0)*2))
		}, plugins.InjectOptions{Overwrite: true, Plugin: "double"}); err != nil {
			t.Fatal(err)
		}
		addReaction(t, s, "set", addVar(1, 5), structs.Node(interpreter.KindChangeSwitch, 4, structs.BoolValue(true)))
		if _, err := s.Start("set", 0, 0); err != nil {
			t.Fatal(err)
		}
		s.Tick(frame)
		if got := s.State().Variable(1); !got.Equal(formula.Int(10)) {
			t.Errorf("got %v, want the doubled 10", got)
		}
		if got, err := s.CallStatic(interpreter.TargetGame, methodSwitch, formula.Int(4)); err != nil || !got.Equal(formula.Bool(true)) {
			t.Errorf("got %v, %v, want switch 4 on", got, err)
		}
		if got, err := s.CallStatic(interpreter.TargetMapObject, methodProperty, formula.Int(5), formula.String("hp")); !errors.Is(err, interpreter.ErrMissingObject) {
			t.Errorf("got %v, %v, want ErrMissingObject", got, err)
		}
	})
}

func TestEvaluate(t *testing.T) {
	WithSession(t, nil, func(s *Session, logs *bytes.Buffer) {
		s.State().SetVariable(2, formula.Int(20))
		s.Tick(frame)
		for _, tt := range []struct {
			src  string
			want formula.Value
		}{
			{src: "variables[2] + 1", want: formula.Int(21)},
			{src: "frame", want: formula.Int(1)},
			{src: "math.pi > 3", want: formula.Bool(true)},
		} {
			got, err := s.EvaluateStrict(tt.src)
			if err != nil {
				t.Errorf("%q: %v", tt.src, err)
			} else if !got.Equal(tt.want) {
				t.Errorf("%q: got %v, want %v", tt.src, got, tt.want)
			}
		}
		hero, _ := s.State().Object(1)
		env := &interpreter.Env{Host: s, Reaction: "test", Object: hero}
		if got := s.Evaluate("user.id", env); !got.Equal(formula.Int(1)) {
			t.Errorf("got %v, want the acting object id", got)
		}
	})
}

var projectFS = fstest.MapFS{
	"game.json": &fstest.MapFile{Data: []byte(`{
  "title": "Test Quest",
  "start": "intro",
  "player": 1,
  "state": {
    "variables": {"1": 3},
    "objects": [{"id": 1, "name": "Hero", "state": 2}]
  }
}`)},
	"reactions/intro.json": &fstest.MapFile{Data: []byte(`{
  "name": "intro",
  "commands": [
    {"command": ["change_variable", 1, "add", "number", 4]},
    {"command": ["plugin", "greeter", "hello", "string", "world"]},
    {"command": ["wait_key"]}
  ]
}`)},
	"plugins/greeter/details.json": &fstest.MapFile{Data: []byte(`{"id": 1, "name": "greeter", "commands": [{"name": "hello"}]}`)},
	"plugins/greeter/code.js": &fstest.MapFile{Data: []byte(`registerCommand("hello", (msg) => {
  log("hello", msg.args[0]);
  notify("greetings from " + msg.reaction);
  state.greeted = (state.greeted || 0) + 1;
});`)},
}

func TestLoadProject(t *testing.T) {
	ctx := context.Background()
	WithStoredSession(t, func(s *Session, logs *bytes.Buffer) {
		out := &bytes.Buffer{}
		s.Output().Push(out)
		if err := s.LoadProjectFS(ctx, projectFS); err != nil {
			t.Fatal(err)
		}
		if got := s.Project().Title; got != "Test Quest" {
			t.Errorf("got %q, want Test Quest", got)
		}
		running := s.Running()
		if len(running) != 1 || running[0].Running() != (structs.RunningReaction{Reaction: "intro", Object: 1, State: 2}) {
			t.Fatalf("got %v, want intro running on the player", runningNames(s))
		}
		s.Tick(frame)
		if got := s.State().Variable(1); !got.Equal(formula.Int(7)) {
			t.Errorf("got %v, want 7", got)
		}
		if got := out.String(); got != "greetings from intro\n" {
			t.Errorf("got %q, want the greeting", got)
		}
		buffered := s.Switchboard().GetBuffered("greeter")
		if len(buffered) != 1 || string(buffered[0]) != "hello world\n" {
			t.Errorf("got %q, want the plugin log", buffered)
		}
		if top := s.Stats().Top(0); len(top) != 1 || top[0].Source != "greeter.hello" || top[0].Executions != 1 {
			t.Errorf("got %+v, want one greeter.hello run", top)
		}
		entry, err := s.store.Catalog.Get(ctx, "greeter")
		if err != nil {
			t.Fatal(err)
		}
		if !entry.Enabled || entry.LastError != "" {
			t.Errorf("got %+v, want greeter loaded", entry)
		}
	})
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	WithStoredSession(t, func(s *Session, logs *bytes.Buffer) {
		if err := s.LoadProjectFS(ctx, projectFS); err != nil {
			t.Fatal(err)
		}
		s.Schedule(10, "intro", 1, 2)
		s.Tick(frame)
		if err := s.Save("one"); err != nil {
			t.Fatal(err)
		}

		s.State().SetVariable(1, formula.String("changed"))
		s.Tick(frame)
		s.KeyPressed("enter")
		s.Tick(frame)
		if len(s.Running()) != 0 {
			t.Fatalf("got %v, want intro done", runningNames(s))
		}
		greeter, _ := s.Registry().Get("greeter")
		greeter.SetState(`{"greeted":5}`)

		if err := s.Load("one"); err != nil {
			t.Fatal(err)
		}
		if got := s.State().Variable(1); !got.Equal(formula.Int(7)) {
			t.Errorf("got %v, want the saved 7", got)
		}
		if s.Frame() != 1 {
			t.Errorf("got frame %v, want 1", s.Frame())
		}
		if got := greeter.State(); got != `{"greeted":1}` {
			t.Errorf("got %q, want the saved plugin state", got)
		}
		running := s.Running()
		if len(running) != 1 || running[0].PC() != 0 {
			t.Errorf("got %v, want intro restarted", runningNames(s))
		}
		if diff := cmp.Diff(s.Scheduled(), []structs.ScheduledReaction{{RunningReaction: structs.RunningReaction{Reaction: "intro", Object: 1, State: 2}, Frame: 10}}); diff != "" {
			t.Errorf("scheduled: %v", diff)
		}
		if err := s.Load("missing"); err == nil {
			t.Errorf("wanted an error for a missing slot")
		}
	})
}

func TestWithoutStorage(t *testing.T) {
	WithSession(t, nil, func(s *Session, logs *bytes.Buffer) {
		if err := s.Save("one"); !errors.Is(err, ErrNoStorage) {
			t.Errorf("got %v, want ErrNoStorage", err)
		}
		if err := s.Load("one"); !errors.Is(err, ErrNoStorage) {
			t.Errorf("got %v, want ErrNoStorage", err)
		}
	})
}

func TestRun(t *testing.T) {
	WithSession(t, nil, func(s *Session, logs *bytes.Buffer) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error)
		go func() {
			done <- s.Run(ctx)
		}()
		deadline := time.Now().Add(5 * time.Second)
		for {
			var f uint64
			s.Do(func() {
				f = s.Frame()
			})
			if f >= 2 {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("only %v frames ran", f)
			}
			time.Sleep(10 * time.Millisecond)
		}
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, want context.Canceled", err)
		}
	})
}
