// Package config loads the tracejit TOML configuration.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"tracejit/pkg/abi"
	"tracejit/pkg/jit"
)

// ModeEnv forces interpretation when set to "interpreter".
const ModeEnv = "TRACEJIT_MODE"

// ExecutionMode determines how traces run
type ExecutionMode int

const (
	ModeJIT ExecutionMode = iota
	ModeInterpreter
)

type Config struct {
	JIT      JITConfig      `toml:"jit"`
	Stencils StencilsConfig `toml:"stencils"`
	Log      LogConfig      `toml:"log"`
}

type JITConfig struct {
	Enabled          bool   `toml:"enabled"`
	MaxCodeSize      int    `toml:"max_code_size"`
	ElideFallthrough bool   `toml:"elide_fallthrough"`
	Convention       string `toml:"convention"`
}

type StencilsConfig struct {
	// StorePath is a pebble directory holding prebuilt stencil tables.
	// Empty means generate in process.
	StorePath string `toml:"store_path"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

func Default() Config {
	return Config{
		JIT: JITConfig{
			Enabled:          true,
			MaxCodeSize:      jit.DefaultMaxCodeSize,
			ElideFallthrough: true,
			Convention:       "auto",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a TOML document over the defaults.
func Parse(doc string) (Config, error) {
	cfg := Default()
	if _, err := toml.Decode(doc, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.JIT.MaxCodeSize <= 0 {
		return errors.Newf("jit.max_code_size must be positive, got %d", c.JIT.MaxCodeSize)
	}
	if _, err := abi.ParseConvention(c.JIT.Convention); err != nil {
		return errors.Wrap(err, "jit.convention")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	return nil
}

// Mode combines the config with the TRACEJIT_MODE override.
func (c Config) Mode() ExecutionMode {
	if os.Getenv(ModeEnv) == "interpreter" || !c.JIT.Enabled {
		return ModeInterpreter
	}
	return ModeJIT
}

// JITSettings converts to the JIT's own configuration.
func (c Config) JITSettings() jit.Config {
	return jit.Config{
		MaxCodeSize:      c.JIT.MaxCodeSize,
		ElideFallthrough: c.JIT.ElideFallthrough,
		Convention:       c.JIT.Convention,
	}
}

// LogLevel is the parsed log level; Validate has already checked it.
func (c Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
