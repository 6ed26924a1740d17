package game

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log"
	"maps"
	"math"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/zond/juicerpg"
	"github.com/zond/juicerpg/formula"
	"github.com/zond/juicerpg/heap"
	"github.com/zond/juicerpg/interpreter"
	"github.com/zond/juicerpg/plugins"
	"github.com/zond/juicerpg/storage"
	"github.com/zond/juicerpg/structs"
)

const (
	projectFile  = "game.json"
	reactionsDir = "reactions"
	pluginsDir   = "plugins"
)

var (
	ErrNoStorage = errors.New("session has no storage")
)

// Static getters defined next to the built-in setters, so plugins can
// decorate reads too.
const (
	methodVariable = "variable"
	methodSwitch   = "switch"
	methodCurrency = "currency"
	methodProperty = "property"
)

type scheduled struct {
	structs.ScheduledReaction
	seq uint64
}

// Session is a running game: the game state, the compiled reactions, the
// loaded plugins and the reactions running on them.
//
// A Session is not safe for concurrent use. While Run is running, other
// goroutines must go through Do.
type Session struct {
	config      Config
	store       *storage.Storage
	logger      *log.Logger
	formulas    *formula.Interpreter
	kinds       *interpreter.Kinds
	registry    *plugins.Registry
	output      *Fanout
	switchboard *Switchboard
	stats       *Stats

	mu        sync.Mutex
	project   *structs.Project
	state     *structs.GameState
	reactions map[string]*interpreter.Program
	running   []*interpreter.Interpreter
	scheduled *heap.Heap[scheduled]
	seq       uint64
	frame     uint64
	clock     time.Duration
	failures  uint64
}

// New returns an empty session. store is optional, without it the session
// can't save and loads every plugin.
func New(cfg Config, store *storage.Storage, logger *log.Logger) (*Session, error) {
	if logger == nil {
		logger = log.Default()
	}
	s := &Session{
		config: cfg,
		store:  store,
		logger: logger,
		formulas: formula.NewInterpreter(formula.InterpreterConfig{
			CacheSize: cfg.FormulaCacheSize,
			CacheTTL:  cfg.FormulaCacheTTL,
			Budget:    cfg.FormulaBudget,
			Logger:    logger,
		}),
		kinds:       interpreter.NewKinds(),
		output:      &Fanout{},
		switchboard: NewSwitchboard(),
		stats:       NewStats(),
		project:     &structs.Project{},
		state:       structs.NewGameState(),
		reactions:   map[string]*interpreter.Program{},
		scheduled: heap.New(func(a, b scheduled) bool {
			if a.Frame != b.Frame {
				return a.Frame < b.Frame
			}
			return a.seq < b.seq
		}),
	}
	methods := plugins.NewMethods()
	if err := s.defineMethods(methods); err != nil {
		return nil, err
	}
	s.registry = plugins.NewRegistry(methods)
	return s, nil
}

func intArg(c *plugins.Call, i int) int {
	return int(c.Arg(i).NumberOr(0))
}

func (s *Session) object(id int) (*structs.MapObject, error) {
	o, found := s.state.Object(id)
	if !found {
		return nil, juicerpg.WithStack(errors.Wrapf(interpreter.ErrMissingObject, "object %d", id))
	}
	return o, nil
}

// defineMethods defines the engine methods that reactions mutate state
// through, and that plugins can decorate.
func (s *Session) defineMethods(m *plugins.Methods) error {
	for _, def := range []struct {
		target string
		method string
		static bool
		f      plugins.Func
	}{
		{interpreter.TargetGame, interpreter.MethodSetVariable, false, func(c *plugins.Call) (formula.Value, error) {
			s.state.SetVariable(intArg(c, 0), c.Arg(1))
			return formula.Nil, nil
		}},
		{interpreter.TargetGame, interpreter.MethodSetSwitch, false, func(c *plugins.Call) (formula.Value, error) {
			s.state.SetSwitch(intArg(c, 0), c.Arg(1).Truthy())
			return formula.Nil, nil
		}},
		{interpreter.TargetGame, interpreter.MethodSetCurrency, false, func(c *plugins.Call) (formula.Value, error) {
			s.state.SetCurrency(intArg(c, 0), c.Arg(1).NumberOr(0))
			return formula.Nil, nil
		}},
		{interpreter.TargetMapObject, interpreter.MethodSetProperty, false, func(c *plugins.Call) (formula.Value, error) {
			o, err := s.object(intArg(c, 0))
			if err != nil {
				return formula.Nil, err
			}
			o.SetProperty(c.Arg(1).StringOr(""), c.Arg(2))
			return formula.Nil, nil
		}},
		{interpreter.TargetMapObject, interpreter.MethodChangeState, false, func(c *plugins.Call) (formula.Value, error) {
			o, err := s.object(intArg(c, 0))
			if err != nil {
				return formula.Nil, err
			}
			o.SetStateID(intArg(c, 1))
			return formula.Nil, nil
		}},
		{interpreter.TargetGame, methodVariable, true, func(c *plugins.Call) (formula.Value, error) {
			return s.state.Variable(intArg(c, 0)), nil
		}},
		{interpreter.TargetGame, methodSwitch, true, func(c *plugins.Call) (formula.Value, error) {
			return formula.Bool(s.state.Switch(intArg(c, 0))), nil
		}},
		{interpreter.TargetGame, methodCurrency, true, func(c *plugins.Call) (formula.Value, error) {
			return formula.Number(s.state.Currency(intArg(c, 0))), nil
		}},
		{interpreter.TargetMapObject, methodProperty, true, func(c *plugins.Call) (formula.Value, error) {
			o, err := s.object(intArg(c, 0))
			if err != nil {
				return formula.Nil, err
			}
			return o.Property(c.Arg(1).StringOr("")), nil
		}},
	} {
		if err := m.Define(def.target, def.method, def.static, "", def.f); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) State() *structs.GameState {
	return s.state
}

func (s *Session) formulaEnv(env *interpreter.Env) *formula.Env {
	names := s.state.Namespaces()
	names["math"] = formula.Object(formula.Members{
		"pi": formula.Number(math.Pi),
		"e":  formula.Number(math.E),
	})
	names["frame"] = formula.Number(float64(s.frame))
	names["seconds"] = formula.Number(s.clock.Seconds())
	if env != nil {
		maps.Copy(names, env.Names())
	}
	return &formula.Env{Names: names}
}

func (s *Session) Evaluate(src string, env *interpreter.Env) formula.Value {
	origin := "session"
	if env != nil {
		origin = env.Origin()
	}
	return s.formulas.Evaluate(src, s.formulaEnv(env), formula.Options{Origin: origin})
}

// EvaluateStrict evaluates src outside any reaction, returning failures
// instead of logging them.
func (s *Session) EvaluateStrict(src string) (formula.Value, error) {
	return s.formulas.EvaluateStrict(src, s.formulaEnv(nil), formula.Options{Origin: "console"})
}

func (s *Session) Call(target string, method string, args ...formula.Value) (formula.Value, error) {
	return s.registry.Methods.Call(target, method, args...)
}

func (s *Session) CallStatic(target string, method string, args ...formula.Value) (formula.Value, error) {
	return s.registry.Methods.CallStatic(target, method, args...)
}

func (s *Session) Reaction(name string) (*interpreter.Program, bool) {
	p, found := s.reactions[name]
	return p, found
}

func (s *Session) PluginParameter(plugin string, name string) (structs.DynamicValue, bool) {
	p, found := s.registry.Get(plugin)
	if !found {
		return structs.DynamicValue{}, false
	}
	return p.Parameter(name)
}

func (s *Session) PluginCommand(env *interpreter.Env, plugin string, command string, args []formula.Value) error {
	start := time.Now()
	err := s.registry.Run(env, plugin, command, args)
	s.stats.RecordExecution(plugin+"."+command, time.Since(start), err)
	return err
}

// Notify shows message on every attached console.
func (s *Session) Notify(env *interpreter.Env, message string) {
	if _, err := fmt.Fprintln(s.output, message); err != nil {
		s.logger.Printf("notifying %q: %v", message, err)
	}
}

func (s *Session) Clock() time.Duration {
	return s.clock
}

func (s *Session) Frame() uint64 {
	return s.frame
}

func (s *Session) Logger() *log.Logger {
	return s.logger
}

func (s *Session) Registry() *plugins.Registry {
	return s.registry
}

func (s *Session) Project() *structs.Project {
	return s.project
}

// Failures returns the number of reactions that failed since the session started.
func (s *Session) Failures() uint64 {
	return s.failures
}

// Output is where notifications go. Push consoles to it to see them.
func (s *Session) Output() *Fanout {
	return s.output
}

func (s *Session) Switchboard() *Switchboard {
	return s.switchboard
}

func (s *Session) Stats() *Stats {
	return s.stats
}

// rootEnv is the environment of formulas and plugin parameters evaluated
// outside reactions.
func (s *Session) rootEnv() *interpreter.Env {
	return &interpreter.Env{
		Host:       s,
		Reaction:   "session",
		MaxDepth:   s.config.MaxDepth,
		StepBudget: s.config.StepBudget,
	}
}

// AddReaction compiles r and makes it available under its name, replacing
// any previous reaction with the name.
func (s *Session) AddReaction(r *structs.Reaction) error {
	prog, err := interpreter.Compile(r, s.kinds)
	if err != nil {
		return err
	}
	s.reactions[r.Name] = prog
	return nil
}

// Start starts reaction name acting on object objectID, or on no object if
// objectID is 0. The reaction runs its first commands on the next Tick.
func (s *Session) Start(name string, objectID int, stateID int) (*interpreter.Interpreter, error) {
	prog, found := s.reactions[name]
	if !found {
		return nil, juicerpg.WithStack(errors.Wrapf(interpreter.ErrUnknownReaction, "%q", name))
	}
	env := s.rootEnv()
	env.Reaction = name
	env.StateID = stateID
	if objectID != 0 {
		o, err := s.object(objectID)
		if err != nil {
			return nil, err
		}
		env.Object = o
	}
	it := interpreter.New(prog, env)
	s.running = append(s.running, it)
	return it, nil
}

// Trigger starts the reaction objectID has for trigger, in the current
// state of the object.
func (s *Session) Trigger(objectID int, trigger string) (*interpreter.Interpreter, error) {
	o, err := s.object(objectID)
	if err != nil {
		return nil, err
	}
	name, found := o.Reaction(trigger)
	if !found {
		return nil, juicerpg.WithStack(errors.Wrapf(interpreter.ErrUnknownReaction, "%v has no %q reaction", o, trigger))
	}
	return s.Start(name, objectID, o.StateID())
}

// Schedule starts reaction name when the session reaches frame. Reactions
// scheduled for the same frame start in the order they were scheduled.
func (s *Session) Schedule(frame uint64, name string, objectID int, stateID int) {
	s.seq++
	s.scheduled.Push(scheduled{
		ScheduledReaction: structs.ScheduledReaction{
			RunningReaction: structs.RunningReaction{
				Reaction: name,
				Object:   objectID,
				State:    stateID,
			},
			Frame: frame,
		},
		seq: s.seq,
	})
}

// Running returns the running reactions in the order they update.
func (s *Session) Running() []*interpreter.Interpreter {
	return append([]*interpreter.Interpreter{}, s.running...)
}

// Scheduled returns the scheduled reactions in the order they will start.
func (s *Session) Scheduled() []structs.ScheduledReaction {
	result := []structs.ScheduledReaction{}
	for _, sch := range s.scheduled.Sorted() {
		result = append(result, sch.ScheduledReaction)
	}
	return result
}

// Tick advances the session one frame: due scheduled reactions start, and
// every running reaction updates once, in start order. Failing reactions are
// logged and dropped without affecting the others.
func (s *Session) Tick(dt time.Duration) {
	s.frame++
	s.clock += dt
	for _, due := range s.scheduled.PopWhile(func(sch scheduled) bool {
		return sch.Frame <= s.frame
	}) {
		if _, err := s.Start(due.Reaction, due.Object, due.State); err != nil {
			s.logger.Printf("starting scheduled %v: %v", due.RunningReaction, err)
		}
	}
	running := s.running
	s.running = nil
	kept := make([]*interpreter.Interpreter, 0, len(running))
	for _, it := range running {
		if err := it.Update(); err != nil {
			s.failures++
			s.stats.RecordError(it.Running().Reaction, err)
			s.logger.Printf("%v failed: %v", it.Running(), err)
			s.logger.Print(juicerpg.StackTrace(err))
		}
		if !it.Done() {
			kept = append(kept, it)
		}
	}
	// Reactions started while updating go last.
	s.running = append(kept, s.running...)
}

// KeyPressed offers key to the running reactions in start order, until one
// consumes it.
func (s *Session) KeyPressed(key string) bool {
	for _, it := range s.running {
		if it.KeyPressed(key) {
			return true
		}
	}
	return false
}

// Do runs f without any concurrent Tick.
func (s *Session) Do(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f()
}

// Run ticks the session at the configured frame rate until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.frameInterval())
	defer ticker.Stop()
	last := time.Now()
	lastRates := last
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.Do(func() {
				s.Tick(now.Sub(last))
			})
			last = now
			if now.Sub(lastRates) >= time.Second {
				s.stats.UpdateRates(now)
				lastRates = now
			}
		}
	}
}

// LoadProject loads game.json, reactions/*.json and plugins/ from dir, and
// starts the start reaction of the project if it has one.
func (s *Session) LoadProject(ctx context.Context, dir string) error {
	return s.LoadProjectFS(ctx, os.DirFS(dir))
}

func (s *Session) LoadProjectFS(ctx context.Context, fsys fs.FS) error {
	b, err := fs.ReadFile(fsys, projectFile)
	if err != nil {
		return juicerpg.WithStack(err)
	}
	project, err := structs.ParseProject(b)
	if err != nil {
		return errors.Wrapf(err, "parsing %s", projectFile)
	}
	s.project = project
	s.state = project.State

	if err := s.loadPlugins(ctx, fsys); err != nil {
		return err
	}

	paths, err := fs.Glob(fsys, path.Join(reactionsDir, "*.json"))
	if err != nil {
		return juicerpg.WithStack(err)
	}
	for _, p := range paths {
		b, err := fs.ReadFile(fsys, p)
		if err != nil {
			return juicerpg.WithStack(err)
		}
		r, err := structs.ParseReaction(b)
		if err != nil {
			return errors.Wrapf(err, "parsing %s", p)
		}
		if err := s.AddReaction(r); err != nil {
			return err
		}
	}

	if project.Start != "" {
		stateID := 0
		if o, found := s.state.Object(project.Player); found {
			stateID = o.StateID()
		}
		if _, err := s.Start(project.Start, project.Player, stateID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) loadPlugins(ctx context.Context, fsys fs.FS) error {
	sub, err := fs.Sub(fsys, pluginsDir)
	if err != nil {
		return juicerpg.WithStack(err)
	}
	if _, err := fs.Stat(sub, "."); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	loader := &plugins.Loader{
		Registry: s.registry,
		Resolver: s.rootEnv(),
		Timeout:  s.config.PluginTimeout,
		Logger:   s.logger,
		Console: func(plugin string) io.Writer {
			return s.switchboard.Writer(plugin)
		},
	}
	if s.store != nil {
		loader.Catalog = s.store.Catalog
	}
	loaded, err := loader.LoadDir(ctx, sub)
	if err != nil {
		return err
	}
	s.logger.Printf("loaded %d plugins", len(loaded))
	return nil
}

// Save stores the session in slot.
func (s *Session) Save(slot string) error {
	if s.store == nil {
		return juicerpg.WithStack(ErrNoStorage)
	}
	if err := validateSlot(slot); err != nil {
		return juicerpg.WithStack(err)
	}
	save := &structs.Save{
		Slot:         slot,
		Frame:        s.frame,
		Clock:        s.clock,
		State:        s.state.Clone(),
		Scheduled:    s.Scheduled(),
		PluginStates: s.registry.States(),
	}
	for _, it := range s.running {
		save.Running = append(save.Running, it.Running())
	}
	return s.store.Saves.Put(save)
}

// Load replaces the session state with the save in slot. Running reactions
// restart from their first command.
func (s *Session) Load(slot string) error {
	if s.store == nil {
		return juicerpg.WithStack(ErrNoStorage)
	}
	save, err := s.store.Saves.Get(slot)
	if err != nil {
		return err
	}
	s.state = save.State
	if s.state == nil {
		s.state = structs.NewGameState()
	}
	s.frame = save.Frame
	s.clock = save.Clock
	s.registry.SetStates(save.PluginStates)
	s.running = nil
	s.scheduled.Clear()
	for _, sch := range save.Scheduled {
		s.Schedule(sch.Frame, sch.Reaction, sch.Object, sch.State)
	}
	for _, r := range save.Running {
		if _, err := s.Start(r.Reaction, r.Object, r.State); err != nil {
			s.logger.Printf("restarting %v from %q: %v", r, slot, err)
		}
	}
	return nil
}
