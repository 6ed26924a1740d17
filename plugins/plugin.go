package plugins

import (
	"io"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/zond/juicerpg"
	"github.com/zond/juicerpg/formula"
	"github.com/zond/juicerpg/interpreter"
	"github.com/zond/juicerpg/structs"
)

var (
	ErrDuplicatePlugin  = errors.New("plugin already registered")
	ErrDuplicateCommand = errors.New("command already registered")
	ErrUnknownPlugin    = errors.New("unknown plugin")
	ErrUnknownCommand   = errors.New("unknown plugin command")
)

// CommandContext is what a plugin command runs with.
type CommandContext struct {
	Env    *interpreter.Env
	Plugin *Plugin
}

type CommandFunc func(ctx *CommandContext, args []formula.Value) error

// Plugin is a loaded plugin. There is no way to unregister one.
type Plugin struct {
	Manifest *structs.Manifest
	Dir      string
	LoadedAt time.Time
	// Console receives the log output of the plugin code.
	Console io.Writer

	mu       sync.RWMutex
	commands map[string]CommandFunc
	state    string
	source   string
}

func NewPlugin(manifest *structs.Manifest) *Plugin {
	return &Plugin{
		Manifest: manifest,
		LoadedAt: time.Now(),
		Console:  io.Discard,
		commands: map[string]CommandFunc{},
		state:    "{}",
	}
}

func (p *Plugin) Name() string {
	return p.Manifest.Name
}

func (p *Plugin) ID() int {
	return p.Manifest.ID
}

// Parameter returns a declared parameter of the plugin.
func (p *Plugin) Parameter(name string) (structs.DynamicValue, bool) {
	d, found := p.Manifest.Parameters[name]
	return d, found
}

func (p *Plugin) RegisterCommand(name string, f CommandFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, found := p.commands[name]; found {
		return juicerpg.WithStack(errors.Wrapf(ErrDuplicateCommand, "%s.%s", p.Name(), name))
	}
	p.commands[name] = f
	return nil
}

func (p *Plugin) Command(name string) (CommandFunc, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	f, found := p.commands[name]
	return f, found
}

func (p *Plugin) Commands() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make([]string, 0, len(p.commands))
	for name := range p.commands {
		result = append(result, name)
	}
	slices.Sort(result)
	return result
}

// State returns the JSON state of the plugin code.
func (p *Plugin) State() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Plugin) SetState(state string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
}

// Registry holds the plugins of a session and the methods they patch.
type Registry struct {
	Methods *Methods
	plugins *juicerpg.SyncMap[string, *Plugin]
	ids     *juicerpg.SyncMap[int, string]
}

func NewRegistry(methods *Methods) *Registry {
	return &Registry{
		Methods: methods,
		plugins: juicerpg.NewSyncMap[string, *Plugin](),
		ids:     juicerpg.NewSyncMap[int, string](),
	}
}

// Register adds p. A name or id that is already taken is ErrDuplicatePlugin,
// and the registered plugin is left as it was.
func (r *Registry) Register(p *Plugin) error {
	if !r.plugins.SetIfMissing(p.Name(), p) {
		return juicerpg.WithStack(errors.Wrapf(ErrDuplicatePlugin, "name %q", p.Name()))
	}
	if !r.ids.SetIfMissing(p.ID(), p.Name()) {
		r.plugins.Del(p.Name())
		return juicerpg.WithStack(errors.Wrapf(ErrDuplicatePlugin, "id %d of %q is used by %q", p.ID(), p.Name(), r.ids.Get(p.ID())))
	}
	return nil
}

func (r *Registry) Get(name string) (*Plugin, bool) {
	return r.plugins.GetHas(name)
}

func (r *Registry) Has(name string) bool {
	return r.plugins.Has(name)
}

func (r *Registry) ByID(id int) (*Plugin, bool) {
	name, found := r.ids.GetHas(id)
	if !found {
		return nil, false
	}
	return r.plugins.GetHas(name)
}

// Plugins returns all plugins ordered by id.
func (r *Registry) Plugins() []*Plugin {
	return r.plugins.SortedValues(func(a, b *Plugin) bool {
		return a.ID() < b.ID()
	})
}

func (r *Registry) Command(plugin string, command string) (*Plugin, CommandFunc, error) {
	p, found := r.plugins.GetHas(plugin)
	if !found {
		return nil, nil, juicerpg.WithStack(errors.Wrapf(ErrUnknownPlugin, "%q", plugin))
	}
	f, found := p.Command(command)
	if !found {
		return nil, nil, juicerpg.WithStack(errors.Wrapf(ErrUnknownCommand, "%s.%s", plugin, command))
	}
	return p, f, nil
}

// Run runs a plugin command.
func (r *Registry) Run(env *interpreter.Env, plugin string, command string, args []formula.Value) error {
	p, f, err := r.Command(plugin, command)
	if err != nil {
		return err
	}
	return f(&CommandContext{Env: env, Plugin: p}, args)
}

// States returns the JSON state of every plugin, for saving.
func (r *Registry) States() map[string]string {
	result := map[string]string{}
	for p := range r.plugins.Values() {
		result[p.Name()] = p.State()
	}
	return result
}

// SetStates restores plugin states, ignoring unknown plugins.
func (r *Registry) SetStates(states map[string]string) {
	for name, state := range states {
		if p, found := r.plugins.GetHas(name); found {
			p.SetState(state)
		}
	}
}
