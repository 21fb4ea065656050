package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "ASMFORGE_"

// DefaultFile is the configuration file looked up in the working directory.
const DefaultFile = "asmforge.toml"

// Loader resolves a Config from its sources.
type Loader struct {
	// Path is the TOML file. A missing file is not an error.
	Path string

	// DotEnv lists .env files loaded before the environment is read.
	// Missing files are skipped.
	DotEnv []string

	// LookupEnv reads the environment. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load resolves the configuration from path and ".env" with the
// process environment.
func Load(path string) (Config, error) {
	l := Loader{Path: path, DotEnv: []string{".env"}}
	return l.Load()
}

// Load builds the configuration and validates it.
func (l Loader) Load() (Config, error) {
	cfg := Default()

	for _, file := range l.DotEnv {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, &ParseError{Path: file, Message: err.Error(), Err: err}
		}
	}

	if l.Path != "" {
		data, err := os.ReadFile(l.Path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("reading config file %s: %w", l.Path, err)
		default:
			if err := decodeTOML(l.Path, data, &cfg); err != nil {
				return Config{}, err
			}
		}
	}

	lookup := l.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeTOML overlays data onto cfg. Unknown keys are rejected.
func decodeTOML(path string, data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		perr := &ParseError{Path: path, Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
		}
		return perr
	}
	return nil
}

// Encode renders cfg as TOML.
func Encode(cfg Config) ([]byte, error) {
	return toml.Marshal(cfg)
}

// envBinding maps one environment variable onto a setting.
type envBinding struct {
	name string
	set  func(c *Config, v string) error
}

var envBindings = []envBinding{
	{"DIALECT", func(c *Config, v string) error { c.Toolchain.Dialect = v; return nil }},
	{"ARCH", func(c *Config, v string) error { c.Toolchain.Architecture = v; return nil }},
	{"FORMAT", func(c *Config, v string) error { c.Toolchain.Format = v; return nil }},
	{"LINKER", func(c *Config, v string) error { c.Toolchain.Linker = v; return nil }},
	{"INCLUDE_PATH", func(c *Config, v string) error {
		c.Toolchain.IncludePaths = splitList(v, string(os.PathListSeparator))
		return nil
	}},
	{"LINKER_FLAGS", func(c *Config, v string) error { c.Toolchain.LinkerFlags = strings.Fields(v); return nil }},
	{"NASM", assemblerBinding("nasm")},
	{"GAS", assemblerBinding("gas")},
	{"LLVM_MC", assemblerBinding("llvm")},
	{"ARMASM", assemblerBinding("armasm")},
	{"WATCH_DELAY", durationBinding(func(c *Config) *Duration { return &c.Toolchain.WatchDelay })},
	{"GDB", func(c *Config, v string) error { c.Debug.GDBPath = v; return nil }},
	{"GDB_TIMEOUT", durationBinding(func(c *Config) *Duration { return &c.Debug.CommandTimeout })},
	{"GDB_SETTLE_DELAY", durationBinding(func(c *Config) *Duration { return &c.Debug.SettleDelay })},
	{"GDB_COMMAND_DELAY", durationBinding(func(c *Config) *Duration { return &c.Debug.CommandDelay })},
	{"GDB_STOP_TIMEOUT", durationBinding(func(c *Config) *Duration { return &c.Debug.StopTimeout })},
	{"GDB_WAIT_FOR_PROMPT", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Debug.WaitForPrompt = b
		return nil
	}},
	{"LAUNCH_FILE", func(c *Config, v string) error { c.Debug.LaunchFile = v; return nil }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = strings.ToLower(v); return nil }},
	{"LOG_ENCODING", func(c *Config, v string) error { c.Log.Encoding = strings.ToLower(v); return nil }},
	{"LOG_FILE", func(c *Config, v string) error { c.Log.File = v; return nil }},
}

func assemblerBinding(dialect string) func(*Config, string) error {
	return func(c *Config, v string) error {
		if c.Toolchain.Assemblers == nil {
			c.Toolchain.Assemblers = make(map[string]string)
		}
		c.Toolchain.Assemblers[dialect] = v
		return nil
	}
}

func durationBinding(field func(*Config) *Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = Duration(d)
		return nil
	}
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		name := EnvPrefix + b.name
		v, ok := lookup(name)
		if !ok {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidValue, name, v, err)
		}
	}
	return nil
}

func splitList(v, sep string) []string {
	var out []string
	for _, p := range strings.Split(v, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
