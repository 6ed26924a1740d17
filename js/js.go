package js

import (
	"context"
	"fmt"
	"io"
	"log"
	"runtime"
	"slices"
	"time"

	"github.com/pkg/errors"
	"github.com/zond/juicerpg"
	"rogchap.com/v8go"
)

const (
	stateName = "state"
)

var (
	ErrTimeout         = errors.New("timeout")
	ErrMissingCallback = errors.New("missing callback")
)

var (
	machines chan *machine
)

func init() {
	machines = make(chan *machine, runtime.NumCPU())
	for i := 0; i < runtime.NumCPU(); i++ {
		machines <- newMachine()
	}
}

type machine struct {
	iso *v8go.Isolate
}

func newMachine() *machine {
	return &machine{
		iso: v8go.NewIsolate(),
	}
}

// acquire takes a pooled machine, or creates one when a callback into Go
// runs more code while all pooled machines are busy.
func acquire() *machine {
	select {
	case m := <-machines:
		return m
	default:
		return newMachine()
	}
}

func release(m *machine) {
	select {
	case machines <- m:
	default:
		m.iso.Dispose()
	}
}

type Callbacks map[string]func(rc *RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value

// Target is a piece of code to run in a fresh context.
type Target struct {
	Source string
	Origin string
	// State is the JSON of the global `state`, which survives between calls
	// by being returned in the Result.
	State string
	// Globals are JSON values set as read only globals before the source runs.
	Globals   map[string]string
	Callbacks Callbacks
	Console   io.Writer
}

type Result struct {
	State     string
	Callbacks []string
	Value     string
}

type RunContext struct {
	m         *machine
	vctx      *v8go.Context
	t         *Target
	callbacks map[string]*v8go.Function
}

func (rc *RunContext) Context() *v8go.Context {
	return rc.vctx
}

func (rc *RunContext) Origin() string {
	return rc.t.Origin
}

func (rc *RunContext) log(format string, args ...any) {
	if rc.t.Console != nil {
		log.New(rc.t.Console, "", 0).Printf(format, args...)
	}
}

func (rc *RunContext) String(s string) *v8go.Value {
	res, err := v8go.NewValue(rc.m.iso, s)
	if err != nil {
		res, _ = v8go.NewValue(rc.m.iso, "unable to generate string")
	}
	return res
}

func (rc *RunContext) Throw(format string, args ...any) *v8go.Value {
	return rc.m.iso.ThrowException(rc.String(fmt.Sprintf(format, args...)))
}

// JSON stringifies v, returning "null" for undefined or unserializable values.
func (rc *RunContext) JSON(v *v8go.Value) string {
	if v == nil || v.IsUndefined() || v.IsNull() || v.IsFunction() {
		return "null"
	}
	s, err := v8go.JSONStringify(rc.vctx, v)
	if err != nil || s == "" {
		return "null"
	}
	return s
}

// Parse turns JSON into a value in this context.
func (rc *RunContext) Parse(js string) (*v8go.Value, error) {
	if js == "" {
		js = "null"
	}
	v, err := v8go.JSONParse(rc.vctx, js)
	if err != nil {
		return nil, juicerpg.WithStack(err)
	}
	return v, nil
}

func addJSCallback(rc *RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
	args := info.Args()
	if len(args) == 2 && args[0].IsString() && args[1].IsFunction() {
		fun, err := args[1].AsFunction()
		if err != nil {
			return rc.Throw("trying to cast %v to *v8go.Function: %v", args[1], err)
		}
		rc.callbacks[args[0].String()] = fun
		return nil
	}
	return rc.Throw("addCallback takes [string, function] arguments")
}

func removeJSCallback(rc *RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
	args := info.Args()
	if len(args) == 1 && args[0].IsString() {
		delete(rc.callbacks, args[0].String())
		return nil
	}
	return rc.Throw("removeCallback takes [string] arguments")
}

func logFunc(w io.Writer) func(*RunContext, *v8go.FunctionCallbackInfo) *v8go.Value {
	return func(rc *RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		anyArgs := []any{}
		for _, arg := range info.Args() {
			stringArg := arg.String()
			if stringArg == "[object Object]" {
				stringArg = rc.JSON(arg)
			}
			anyArgs = append(anyArgs, stringArg)
		}
		log.New(w, "", 0).Println(anyArgs...)
		return nil
	}
}

func (rc *RunContext) addCallback(
	name string,
	f func(*RunContext, *v8go.FunctionCallbackInfo) *v8go.Value,
) error {
	return juicerpg.WithStack(
		rc.vctx.Global().Set(
			name,
			v8go.NewFunctionTemplate(
				rc.m.iso,
				func(info *v8go.FunctionCallbackInfo) *v8go.Value {
					return f(rc, info)
				},
			).GetFunction(rc.vctx),
		),
	)
}

func (rc *RunContext) prepareV8Context(timeout *time.Duration) error {
	for name, fun := range rc.t.Callbacks {
		if err := rc.addCallback(name, fun); err != nil {
			return juicerpg.WithStack(err)
		}
	}
	for _, cb := range []struct {
		name string
		fun  func(*RunContext, *v8go.FunctionCallbackInfo) *v8go.Value
	}{
		{
			name: "addCallback",
			fun:  addJSCallback,
		},
		{
			name: "removeCallback",
			fun:  removeJSCallback,
		},
	} {
		if err := rc.addCallback(cb.name, cb.fun); err != nil {
			return juicerpg.WithStack(err)
		}
	}
	if rc.t.Console != nil {
		if err := rc.addCallback("log", logFunc(rc.t.Console)); err != nil {
			return juicerpg.WithStack(err)
		}
	}

	startTime := time.Now()
	defer func() {
		*timeout -= time.Since(startTime)
	}()
	for name, valueJSON := range rc.t.Globals {
		value, err := rc.Parse(valueJSON)
		if err != nil {
			return errors.Wrapf(err, "global %q", name)
		}
		if err := rc.vctx.Global().Set(name, value); err != nil {
			return juicerpg.WithStack(err)
		}
	}
	stateJSON := rc.t.State
	if stateJSON == "" {
		stateJSON = "{}"
	}
	stateValue, err := rc.Parse(stateJSON)
	if err != nil {
		return errors.Wrap(err, "state")
	}
	if err := rc.vctx.Global().Set(stateName, stateValue); err != nil {
		return juicerpg.WithStack(err)
	}
	return nil
}

type result struct {
	value *v8go.Value
	err   error
}

func (rc *RunContext) withTimeout(ctx context.Context, f func() (*v8go.Value, error), timeout *time.Duration) (*v8go.Value, error) {
	if *timeout <= 0 {
		return nil, juicerpg.WithStack(ErrTimeout)
	}
	results := make(chan result, 1)
	go func() {
		t := time.Now()
		val, err := f()
		*timeout -= time.Since(t)
		results <- result{value: val, err: err}
	}()

	timer := time.NewTimer(*timeout)
	defer timer.Stop()
	select {
	case res := <-results:
		if res.err != nil {
			rc.log("-- error in %q --\n%v\n", rc.t.Origin, res.err)
		}
		return res.value, juicerpg.WithStack(res.err)
	case <-timer.C:
		rc.m.iso.TerminateExecution()
		<-results
		return nil, juicerpg.WithStack(ErrTimeout)
	case <-ctx.Done():
		rc.m.iso.TerminateExecution()
		<-results
		return nil, juicerpg.WithStack(ctx.Err())
	}
}

// Run runs the source and reports the callbacks it registered.
func (t Target) Run(ctx context.Context, timeout time.Duration) (*Result, error) {
	return t.Call(ctx, "", "", timeout)
}

// Call runs the source, then the named callback with the JSON message as
// argument. An empty callbackName only runs the source.
func (t Target) Call(ctx context.Context, callbackName string, message string, timeout time.Duration) (*Result, error) {
	m := acquire()
	defer release(m)

	vctx := v8go.NewContext(m.iso)
	defer vctx.Close()

	rc := &RunContext{
		m:         m,
		vctx:      vctx,
		t:         &t,
		callbacks: map[string]*v8go.Function{},
	}

	if err := rc.prepareV8Context(&timeout); err != nil {
		return nil, juicerpg.WithStack(err)
	}

	if _, err := rc.withTimeout(ctx, func() (*v8go.Value, error) {
		return rc.vctx.RunScript(t.Source, t.Origin)
	}, &timeout); err != nil {
		return nil, juicerpg.WithStack(err)
	}

	if callbackName == "" {
		return rc.collectResult(nil)
	}
	jsCB, found := rc.callbacks[callbackName]
	if !found {
		return nil, juicerpg.WithStack(errors.Wrapf(ErrMissingCallback, "%q in %q", callbackName, t.Origin))
	}

	arg, err := rc.Parse(message)
	if err != nil {
		return nil, juicerpg.WithStack(err)
	}
	val, err := rc.withTimeout(ctx, func() (*v8go.Value, error) {
		return jsCB.Call(rc.vctx.Global(), arg)
	}, &timeout)
	if err != nil {
		return nil, juicerpg.WithStack(err)
	}
	return rc.collectResult(val)
}

func (rc *RunContext) collectResult(value *v8go.Value) (*Result, error) {
	result := &Result{
		Value: rc.JSON(value),
	}
	stateValue, err := rc.vctx.Global().Get(stateName)
	if err != nil {
		return nil, juicerpg.WithStack(err)
	}
	result.State = rc.JSON(stateValue)
	for name := range rc.callbacks {
		result.Callbacks = append(result.Callbacks, name)
	}
	slices.Sort(result.Callbacks)
	return result, nil
}
