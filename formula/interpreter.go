package formula

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/zond/juicerpg"

	cache "github.com/go-pkgz/expirable-cache/v3"
)

const (
	DefaultCacheSize = 1024
	DefaultCacheTTL  = 10 * time.Minute
)

type InterpreterConfig struct {
	CacheSize int
	CacheTTL  time.Duration
	// Budget is the per evaluation instruction budget.
	Budget int
	// Logger receives failed evaluations, log.Default() if nil.
	Logger *log.Logger
}

// Options control a single evaluation.
type Options struct {
	// NoReturn suppresses the implicit return of the last expression.
	NoReturn bool
	// Default is returned for empty formulas.
	Default Value
	// Origin names the formula in failure logs.
	Origin string
}

// Interpreter compiles and caches formulas and applies the failure policy:
// a formula that fails to compile or run is logged and evaluates to Nil.
type Interpreter struct {
	programs cache.Cache[string, *Program]
	budget   int
	logger   *log.Logger
	failures atomic.Int64
	onFail   func(origin string, err error)
}

func NewInterpreter(cfg InterpreterConfig) *Interpreter {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Interpreter{
		programs: cache.NewCache[string, *Program]().WithMaxKeys(cfg.CacheSize).WithLRU().WithTTL(cfg.CacheTTL),
		budget:   cfg.Budget,
		logger:   cfg.Logger,
	}
}

// OnFailure registers a hook called after every failed evaluation.
func (i *Interpreter) OnFailure(f func(origin string, err error)) {
	i.onFail = f
}

func cacheKey(src string, noReturn bool) string {
	if noReturn {
		return "n:" + src
	}
	return "r:" + src
}

// Compile returns the cached program for src, compiling it if needed.
func (i *Interpreter) Compile(src string, noReturn bool) (*Program, error) {
	key := cacheKey(src, noReturn)
	if prog, found := i.programs.Get(key); found {
		return prog, nil
	}
	prog, err := Compile(src, noReturn)
	if err != nil {
		return nil, juicerpg.WithStack(err)
	}
	i.programs.Set(key, prog, 0)
	return prog, nil
}

// EvaluateStrict evaluates src and returns any failure to the caller.
func (i *Interpreter) EvaluateStrict(src string, env *Env, opts Options) (Value, error) {
	if src == "" {
		return opts.Default, nil
	}
	prog, err := i.Compile(src, opts.NoReturn)
	if err != nil {
		return Nil, err
	}
	if i.budget > 0 && (env == nil || env.Budget == 0) {
		env = env.With(nil)
		env.Budget = i.budget
	}
	v, err := prog.Run(env)
	if err != nil {
		return Nil, juicerpg.WithStack(err)
	}
	return v, nil
}

// Evaluate evaluates src, returning opts.Default for an empty formula and Nil if it fails.
func (i *Interpreter) Evaluate(src string, env *Env, opts Options) Value {
	v, err := i.EvaluateStrict(src, env, opts)
	if err != nil {
		i.failures.Add(1)
		origin := opts.Origin
		if origin == "" {
			origin = "formula"
		}
		i.logger.Printf("%s: evaluating %q: %v", origin, src, err)
		if i.onFail != nil {
			i.onFail(origin, err)
		}
		return Nil
	}
	return v
}

// Failures returns the number of failed evaluations so far.
func (i *Interpreter) Failures() int64 {
	return i.failures.Load()
}

// Cached returns the number of cached programs.
func (i *Interpreter) Cached() int {
	return i.programs.Len()
}
