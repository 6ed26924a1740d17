package game

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/zond/juicerpg"
	"github.com/zond/juicerpg/formula"
	"github.com/zond/juicerpg/interpreter"
	"github.com/zond/juicerpg/plugins"
)

type Config struct {
	// ProjectDir holds game.json, reactions/ and plugins/.
	ProjectDir string `env:"PROJECT_DIR"`
	// StateDir holds the save slots and the plugin catalogue.
	StateDir    string `env:"STATE_DIR"`
	ConsoleAddr string `env:"CONSOLE_ADDR"`
	HostKeyPath string `env:"HOST_KEY_PATH"`
	FPS         int    `env:"FPS"`

	StepBudget       int           `env:"STEP_BUDGET"`
	MaxDepth         int           `env:"MAX_DEPTH"`
	FormulaCacheSize int           `env:"FORMULA_CACHE_SIZE"`
	FormulaCacheTTL  time.Duration `env:"FORMULA_CACHE_TTL"`
	FormulaBudget    int           `env:"FORMULA_BUDGET"`
	PluginTimeout    time.Duration `env:"PLUGIN_TIMEOUT"`

	LogFile       string `env:"LOG_FILE"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS"`
}

func DefaultConfig() Config {
	return Config{
		ProjectDir:       ".",
		StateDir:         "state",
		ConsoleAddr:      "127.0.0.1:15000",
		HostKeyPath:      "state/host_key.pem",
		FPS:              60,
		StepBudget:       interpreter.DefaultStepBudget,
		MaxDepth:         interpreter.DefaultMaxDepth,
		FormulaCacheSize: formula.DefaultCacheSize,
		FormulaCacheTTL:  formula.DefaultCacheTTL,
		FormulaBudget:    formula.DefaultBudget,
		PluginTimeout:    plugins.DefaultTimeout,
		LogMaxSizeMB:     100,
		LogMaxBackups:    3,
	}
}

// ConfigFromEnv returns DefaultConfig overridden by JUICERPG_ prefixed
// environment variables.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "JUICERPG_"}); err != nil {
		return Config{}, juicerpg.WithStack(err)
	}
	return cfg, nil
}

func (c Config) frameInterval() time.Duration {
	fps := c.FPS
	if fps <= 0 {
		fps = 60
	}
	return time.Second / time.Duration(fps)
}
