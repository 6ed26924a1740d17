package js

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"rogchap.com/v8go"
)

func TestCallKeepsState(t *testing.T) {
	ctx := context.Background()
	result := ""
	target := Target{
		Source: `
addCallback("rain", (arg) => {
  setResult(state.drops + parameters.strength + arg.extra);
  state.drops += 1;
  return {drops: state.drops};
});
addCallback("snow", (arg) => {});
`,
		Origin:  "TestCallKeepsState",
		State:   `{"drops": 4}`,
		Globals: map[string]string{"parameters": `{"strength": 10}`},
		Callbacks: Callbacks{
			"setResult": func(rc *RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
				result = info.Args()[0].String()
				return nil
			},
		},
	}
	res, err := target.Call(ctx, "rain", `{"extra": 1}`, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if result != "15" {
		t.Errorf("got %q, want 15", result)
	}
	if want := `{"drops":5}`; res.State != want {
		t.Errorf("got %q, want %q", res.State, want)
	}
	if want := `{"drops":5}`; res.Value != want {
		t.Errorf("got %q, want %q", res.Value, want)
	}
	if diff := cmp.Diff(res.Callbacks, []string{"rain", "snow"}); diff != "" {
		t.Errorf("callbacks: %v", diff)
	}

	target.State = res.State
	if res, err = target.Call(ctx, "rain", `{"extra": 0}`, time.Second); err != nil {
		t.Fatal(err)
	}
	if result != "15" {
		t.Errorf("got %q, want 15 from the carried state", result)
	}
	if res, err = target.Call(ctx, "snow", "", time.Second); err != nil {
		t.Fatal(err)
	}
	if res.Value != "null" {
		t.Errorf("got %q, want null for an undefined return", res.Value)
	}
}

func TestRun(t *testing.T) {
	res, err := Target{
		Source: `addCallback("a", () => 1); state.loaded = true;`,
		Origin: "TestRun",
	}.Run(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != `{"loaded":true}` {
		t.Errorf("got %q, want the state set by the source", res.State)
	}
	if diff := cmp.Diff(res.Callbacks, []string{"a"}); diff != "" {
		t.Errorf("callbacks: %v", diff)
	}
}

func TestFreshContexts(t *testing.T) {
	ctx := context.Background()
	if _, err := (Target{Source: `leaked = 1;`, Origin: "first"}).Run(ctx, time.Second); err != nil {
		t.Fatal(err)
	}
	res, err := Target{
		Source: `addCallback("check", () => typeof leaked);`,
		Origin: "second",
	}.Call(ctx, "check", "", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != `"undefined"` {
		t.Errorf("got %s, want globals from other targets to be invisible", res.Value)
	}
}

func TestErrors(t *testing.T) {
	ctx := context.Background()
	console := &bytes.Buffer{}
	target := Target{
		Source:  `addCallback("boom", () => { throw "kaboom"; });`,
		Origin:  "TestErrors",
		Console: console,
	}
	if _, err := target.Call(ctx, "missing", "", time.Second); !errors.Is(err, ErrMissingCallback) {
		t.Errorf("got %v, want ErrMissingCallback", err)
	}
	if _, err := target.Call(ctx, "boom", "", time.Second); err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("got %v, want the thrown error", err)
	}
	if !strings.Contains(console.String(), `error in "TestErrors"`) {
		t.Errorf("console %q lacks the error", console.String())
	}
	if _, err := (Target{Source: `syntax error here`, Origin: "bad"}).Run(ctx, time.Second); err == nil {
		t.Errorf("wanted a syntax error")
	}
}

func TestTimeout(t *testing.T) {
	start := time.Now()
	_, err := Target{
		Source: `addCallback("spin", () => { while (true) {} });`,
		Origin: "TestTimeout",
	}.Call(context.Background(), "spin", "", 100*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("got %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
	// The machine must still be usable after being terminated.
	for i := 0; i < 8; i++ {
		if _, err := (Target{Source: `1;`, Origin: "after"}).Run(context.Background(), time.Second); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLog(t *testing.T) {
	console := &bytes.Buffer{}
	if _, err := (Target{
		Source:  `log("hello", {a: 1}, 2);`,
		Origin:  "TestLog",
		Console: console,
	}).Run(context.Background(), time.Second); err != nil {
		t.Fatal(err)
	}
	if got, want := console.String(), "hello {\"a\":1} 2\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNestedCalls(t *testing.T) {
	ctx := context.Background()
	inner := Target{
		Source: `addCallback("double", (arg) => arg.n * 2);`,
		Origin: "inner",
	}
	outer := Target{
		Source: `addCallback("run", (arg) => callInner(arg.n) + 1);`,
		Origin: "outer",
		Callbacks: Callbacks{
			"callInner": func(rc *RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
				res, err := inner.Call(ctx, "double", `{"n": `+info.Args()[0].String()+`}`, time.Second)
				if err != nil {
					return rc.Throw("%v", err)
				}
				v, err := rc.Parse(res.Value)
				if err != nil {
					return rc.Throw("%v", err)
				}
				return v
			},
		},
	}
	// More nested calls than pooled machines.
	for i := 0; i < 3; i++ {
		res, err := outer.Call(ctx, "run", `{"n": 20}`, time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if res.Value != "41" {
			t.Errorf("got %q, want 41", res.Value)
		}
	}
}

func BenchmarkCall(b *testing.B) {
	ctx := context.Background()
	target := Target{
		Source: `
addCallback("test", (arg) => {
  state.b += 1;
  return state.b + arg.c;
});
`,
		Origin: "BenchmarkCall",
		State:  `{"b": 4}`,
	}
	for i := 0; i < b.N; i++ {
		if _, err := target.Call(ctx, "test", `{"c": 15}`, time.Second); err != nil {
			b.Fatal(err)
		}
	}
}
