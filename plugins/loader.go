package plugins

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log"
	"path"
	"slices"
	"time"

	"github.com/pkg/errors"
	"github.com/zond/juicerpg"
	"github.com/zond/juicerpg/formula"
	"github.com/zond/juicerpg/interpreter"
	"github.com/zond/juicerpg/js"
	"github.com/zond/juicerpg/js/imports"
	"github.com/zond/juicerpg/structs"
	"rogchap.com/v8go"

	goccy "github.com/goccy/go-json"
)

const (
	DefaultTimeout = time.Second

	manifestFile = "details.json"
	codeFile     = "code.js"
)

var (
	ErrDisabled = errors.New("plugin disabled")
)

// prelude turns the function based registration API into named callbacks,
// since plugin code runs in a fresh context for every call.
const prelude = `const registerCommand = (name, fn) => {
  addCallback("command:" + name, fn);
  _registerCommand(name);
};
let _hooks = 0;
const inject = (target, method, fn, opts) => {
  const name = "hook:" + (_hooks++);
  addCallback(name, fn);
  _inject(target, method, name, opts || {});
};
const define = (target, method, fn, opts) => {
  const name = "hook:" + (_hooks++);
  addCallback(name, fn);
  _define(target, method, name, opts || {});
};
`

// Catalog records the plugins seen and decides which are enabled.
type Catalog interface {
	// Enabled returns true for plugins the catalog hasn't seen.
	Enabled(ctx context.Context, name string) (bool, error)
	Record(ctx context.Context, entry structs.CatalogEntry) error
}

// Loader loads plugin directories into a Registry.
type Loader struct {
	Registry *Registry
	// Catalog is optional.
	Catalog Catalog
	// Resolver resolves plugin parameters outside reactions, for example
	// while a decorator runs. Only constants resolve if nil.
	Resolver structs.Resolver
	Timeout  time.Duration
	Logger   *log.Logger
	// Console returns the writer for the log output of a plugin.
	Console func(plugin string) io.Writer
}

func (l *Loader) logger() *log.Logger {
	if l.Logger == nil {
		return log.Default()
	}
	return l.Logger
}

func (l *Loader) timeout() time.Duration {
	if l.Timeout <= 0 {
		return DefaultTimeout
	}
	return l.Timeout
}

type manifestDir struct {
	dir      string
	manifest *structs.Manifest
}

func readManifest(fsys fs.FS, dir string) (*structs.Manifest, error) {
	b, err := fs.ReadFile(fsys, path.Join(dir, manifestFile))
	if err != nil {
		return nil, juicerpg.WithStack(err)
	}
	m, err := structs.ParseManifest(b)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path.Join(dir, manifestFile))
	}
	return m, nil
}

// LoadDir loads every directory of fsys containing a details.json, in
// plugin id order. Plugins failing to load are logged and skipped.
func (l *Loader) LoadDir(ctx context.Context, fsys fs.FS) ([]*Plugin, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, juicerpg.WithStack(err)
	}
	found := []manifestDir{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m, err := readManifest(fsys, entry.Name())
		if errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			l.logger().Printf("skipping plugin directory %q: %v", entry.Name(), err)
			continue
		}
		found = append(found, manifestDir{dir: entry.Name(), manifest: m})
	}
	slices.SortStableFunc(found, func(a, b manifestDir) int {
		return a.manifest.ID - b.manifest.ID
	})

	resolver := imports.NewResolver(fsys)
	result := []*Plugin{}
	for _, f := range found {
		p, err := l.load(ctx, fsys, resolver, f.dir, f.manifest)
		if errors.Is(err, ErrDisabled) {
			l.logger().Printf("plugin %q is disabled", f.manifest.Name)
			continue
		} else if err != nil {
			l.logger().Printf("loading plugin %q: %v", f.manifest.Name, err)
			continue
		}
		result = append(result, p)
	}
	return result, nil
}

// Load loads the plugin in dir of fsys. Imports in its code resolve
// against the root of fsys.
func (l *Loader) Load(ctx context.Context, fsys fs.FS, dir string) (*Plugin, error) {
	m, err := readManifest(fsys, dir)
	if err != nil {
		return nil, err
	}
	return l.load(ctx, fsys, imports.NewResolver(fsys), dir, m)
}

func (l *Loader) load(ctx context.Context, fsys fs.FS, resolver *imports.Resolver, dir string, m *structs.Manifest) (*Plugin, error) {
	if l.Catalog != nil {
		enabled, err := l.Catalog.Enabled(ctx, m.Name)
		if err != nil {
			return nil, err
		}
		if !enabled {
			return nil, juicerpg.WithStack(errors.Wrapf(ErrDisabled, "%q", m.Name))
		}
	}
	p, err := l.loadEnabled(ctx, fsys, resolver, dir, m)
	if l.Catalog != nil {
		entry := structs.CatalogEntry{
			Name:     m.Name,
			ID:       m.ID,
			Version:  m.Version,
			Enabled:  true,
			LoadedAt: time.Now(),
		}
		if err != nil {
			entry.LastError = err.Error()
		}
		if recErr := l.Catalog.Record(ctx, entry); recErr != nil {
			l.logger().Printf("recording plugin %q: %v", m.Name, recErr)
		}
	}
	return p, err
}

type pendingMethod struct {
	target   string
	method   string
	callback string
	opts     InjectOptions
}

// registration collects what plugin code registers while it loads.
type registration struct {
	commands []string
	defines  []pendingMethod
	injects  []pendingMethod
}

type jsOptions struct {
	Static     bool  `json:"static"`
	Overwrite  bool  `json:"overwrite"`
	LoadBefore *bool `json:"loadBefore"`
}

func (reg *registration) method(rc *js.RunContext, info *v8go.FunctionCallbackInfo, plugin string) (pendingMethod, *v8go.Value) {
	args := info.Args()
	if len(args) != 4 || !args[0].IsString() || !args[1].IsString() || !args[2].IsString() {
		return pendingMethod{}, rc.Throw("takes [string, string, function, object] arguments")
	}
	opts := jsOptions{}
	if err := goccy.Unmarshal([]byte(rc.JSON(args[3])), &opts); err != nil {
		return pendingMethod{}, rc.Throw("parsing options: %v", err)
	}
	pending := pendingMethod{
		target:   args[0].String(),
		method:   args[1].String(),
		callback: args[2].String(),
		opts: InjectOptions{
			Static:     opts.Static,
			Overwrite:  opts.Overwrite,
			LoadBefore: opts.LoadBefore == nil || *opts.LoadBefore,
			Plugin:     plugin,
		},
	}
	return pending, nil
}

func (reg *registration) callbacks(plugin string) js.Callbacks {
	return js.Callbacks{
		"_registerCommand": func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
			args := info.Args()
			if len(args) != 1 || !args[0].IsString() {
				return rc.Throw("takes [string] arguments")
			}
			reg.commands = append(reg.commands, args[0].String())
			return nil
		},
		"_inject": func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
			pending, thrown := reg.method(rc, info, plugin)
			if thrown != nil {
				return thrown
			}
			reg.injects = append(reg.injects, pending)
			return nil
		},
		"_define": func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
			pending, thrown := reg.method(rc, info, plugin)
			if thrown != nil {
				return thrown
			}
			reg.defines = append(reg.defines, pending)
			return nil
		},
	}
}

func ignoreRegistration() js.Callbacks {
	ignore := func(*js.RunContext, *v8go.FunctionCallbackInfo) *v8go.Value {
		return nil
	}
	return js.Callbacks{
		"_registerCommand": ignore,
		"_inject":          ignore,
		"_define":          ignore,
	}
}

// check verifies that the registration can be applied without side effects.
func (reg *registration) check(methods *Methods) error {
	defined := map[slotKey]bool{}
	for _, d := range reg.defines {
		key := slotKey{target: d.target, method: d.method, static: d.opts.Static}
		if defined[key] || methods.Has(d.target, d.method, d.opts.Static) {
			return juicerpg.WithStack(errors.Wrapf(ErrMethodExists, "%v", key))
		}
		defined[key] = true
	}
	for _, i := range reg.injects {
		key := slotKey{target: i.target, method: i.method, static: i.opts.Static}
		if !defined[key] && !methods.Has(i.target, i.method, i.opts.Static) {
			return juicerpg.WithStack(errors.Wrapf(ErrUnknownMethod, "%v", key))
		}
	}
	return nil
}

func (l *Loader) loadEnabled(ctx context.Context, fsys fs.FS, resolver *imports.Resolver, dir string, m *structs.Manifest) (*Plugin, error) {
	p := NewPlugin(m)
	p.Dir = dir
	if l.Console != nil {
		p.Console = l.Console(m.Name)
	} else {
		p.Console = l.logger().Writer()
	}

	reg := &registration{}
	codePath := path.Join(dir, codeFile)
	if _, err := fs.Stat(fsys, codePath); err == nil {
		res, err := resolver.Resolve(codePath)
		if err != nil {
			return nil, err
		}
		p.source = prelude + res.Source
		callbacks := l.callbacks(p, l.resolver(p), nil)
		for name, cb := range reg.callbacks(m.Name) {
			callbacks[name] = cb
		}
		result, err := l.target(p, l.resolver(p), callbacks).Run(ctx, l.timeout())
		if err != nil {
			return nil, errors.Wrapf(err, "running %s", codePath)
		}
		p.SetState(result.State)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, juicerpg.WithStack(err)
	}

	if err := reg.check(l.Registry.Methods); err != nil {
		return nil, err
	}
	for _, name := range reg.commands {
		if err := p.RegisterCommand(name, l.command(p, "command:"+name)); err != nil {
			return nil, err
		}
	}
	for _, declared := range m.Commands {
		if _, found := p.Command(declared.Name); !found {
			l.logger().Printf("plugin %q declares command %q but never registers it", m.Name, declared.Name)
		}
	}
	if err := l.Registry.Register(p); err != nil {
		return nil, err
	}
	for _, d := range reg.defines {
		if err := l.Registry.Methods.Define(d.target, d.method, d.opts.Static, m.Name, l.decorator(p, d.callback)); err != nil {
			return nil, err
		}
	}
	for _, i := range reg.injects {
		if err := l.Registry.Methods.Inject(i.target, i.method, l.decorator(p, i.callback), i.opts); err != nil {
			return nil, err
		}
	}
	return p, nil
}

type staticResolver struct{}

func (staticResolver) Formula(string) formula.Value {
	return formula.Nil
}

func (staticResolver) Variable(int) formula.Value {
	return formula.Nil
}

func (staticResolver) Switch(int) bool {
	return false
}

func (staticResolver) Parameter(string) (structs.DynamicValue, bool) {
	return structs.DynamicValue{}, false
}

// pluginResolver resolves parameters against one plugin.
type pluginResolver struct {
	structs.Resolver
	p *Plugin
}

func (r pluginResolver) Parameter(name string) (structs.DynamicValue, bool) {
	return r.p.Parameter(name)
}

func (l *Loader) resolver(p *Plugin) structs.Resolver {
	var base structs.Resolver = staticResolver{}
	if l.Resolver != nil {
		base = l.Resolver
	}
	return pluginResolver{Resolver: base, p: p}
}

func toJSON(v any) string {
	b, err := goccy.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func fromJSON(s string) (formula.Value, error) {
	var raw any
	if err := goccy.Unmarshal([]byte(s), &raw); err != nil {
		return formula.Nil, juicerpg.WithStack(err)
	}
	return formula.FromAny(raw)
}

func toJS(rc *js.RunContext, v formula.Value) *v8go.Value {
	res, err := rc.Parse(toJSON(v))
	if err != nil {
		return rc.Throw("%v", err)
	}
	return res
}

func fromJS(rc *js.RunContext, values []*v8go.Value) ([]formula.Value, error) {
	result := make([]formula.Value, 0, len(values))
	for _, v := range values {
		converted, err := fromJSON(rc.JSON(v))
		if err != nil {
			return nil, err
		}
		result = append(result, converted)
	}
	return result, nil
}

func parameters(p *Plugin, r structs.Resolver) string {
	values := map[string]formula.Value{}
	for name, d := range p.Manifest.Parameters {
		values[name] = d.Resolve(r)
	}
	return toJSON(values)
}

// callbacks returns the functions available to plugin code. env is nil
// outside reactions.
func (l *Loader) callbacks(p *Plugin, r structs.Resolver, env *interpreter.Env) js.Callbacks {
	result := ignoreRegistration()
	result["call"] = l.call(false)
	result["callStatic"] = l.call(true)
	result["parameter"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsString() {
			return rc.Throw("parameter takes [string] arguments")
		}
		d, found := r.Parameter(args[0].String())
		if !found {
			return nil
		}
		return toJS(rc, d.Resolve(r))
	}
	result["evaluate"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 || !args[0].IsString() {
			return rc.Throw("evaluate takes [string] arguments")
		}
		return toJS(rc, r.Formula(args[0].String()))
	}
	result["notify"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) != 1 {
			return rc.Throw("notify takes [string] arguments")
		}
		if env != nil {
			env.Host.Notify(env, args[0].String())
		} else {
			fmt.Fprintln(p.Console, args[0].String())
		}
		return nil
	}
	return result
}

// call returns the JS function calling a patchable method: call(target, method, ...args).
func (l *Loader) call(static bool) func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
	name := "call"
	if static {
		name = "callStatic"
	}
	return func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
		args := info.Args()
		if len(args) < 2 || !args[0].IsString() || !args[1].IsString() {
			return rc.Throw("%s takes [string, string, ...any] arguments", name)
		}
		values, err := fromJS(rc, args[2:])
		if err != nil {
			return rc.Throw("%v", err)
		}
		call := l.Registry.Methods.Call
		if static {
			call = l.Registry.Methods.CallStatic
		}
		v, err := call(args[0].String(), args[1].String(), values...)
		if err != nil {
			return rc.Throw("%v", err)
		}
		return toJS(rc, v)
	}
}

func (l *Loader) target(p *Plugin, r structs.Resolver, callbacks js.Callbacks) js.Target {
	return js.Target{
		Source: p.source,
		Origin: p.Name(),
		State:  p.State(),
		Globals: map[string]string{
			"parameters": parameters(p, r),
		},
		Callbacks: callbacks,
		Console:   p.Console,
	}
}

func (l *Loader) run(p *Plugin, r structs.Resolver, callbacks js.Callbacks, callback string, message string) (formula.Value, error) {
	res, err := l.target(p, r, callbacks).Call(context.Background(), callback, message, l.timeout())
	if err != nil {
		return formula.Nil, err
	}
	p.SetState(res.State)
	return fromJSON(res.Value)
}

type commandMessage struct {
	Args     []formula.Value `json:"args"`
	Reaction string          `json:"reaction"`
	Object   int             `json:"object"`
}

// command runs a registered JS command with a message like
// {"args": [...], "reaction": "name", "object": 3}.
func (l *Loader) command(p *Plugin, callback string) CommandFunc {
	return func(ctx *CommandContext, args []formula.Value) error {
		env := ctx.Env.WithPlugin(p.Name())
		msg := commandMessage{
			Args:     args,
			Reaction: env.Reaction,
		}
		if env.Object != nil {
			msg.Object = env.Object.ID
		}
		_, err := l.run(p, env, l.callbacks(p, env, env), callback, toJSON(msg))
		return err
	}
}

type decoratorMessage struct {
	Target   string          `json:"target"`
	Method   string          `json:"method"`
	Static   bool            `json:"static"`
	Args     []formula.Value `json:"args"`
	Previous formula.Value   `json:"previous"`
}

// decorator runs a JS method implementation. The code can reach the
// decorated implementation through callSuper(...args).
func (l *Loader) decorator(p *Plugin, callback string) Func {
	return func(c *Call) (formula.Value, error) {
		r := l.resolver(p)
		callbacks := l.callbacks(p, r, nil)
		callbacks["callSuper"] = func(rc *js.RunContext, info *v8go.FunctionCallbackInfo) *v8go.Value {
			args, err := fromJS(rc, info.Args())
			if err != nil {
				return rc.Throw("%v", err)
			}
			v, err := c.Super(args...)
			if err != nil {
				return rc.Throw("%v", err)
			}
			return toJS(rc, v)
		}
		return l.run(p, r, callbacks, callback, toJSON(decoratorMessage{
			Target:   c.Target,
			Method:   c.Method,
			Static:   c.Static,
			Args:     c.Args,
			Previous: c.Previous,
		}))
	}
}
