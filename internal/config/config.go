package config

import (
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/dshills/asmforge/internal/integration/toolchain"
)

// Duration is a time.Duration that reads and writes as "500ms" style text.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete asmforge configuration.
type Config struct {
	Toolchain ToolchainConfig `toml:"toolchain"`
	Debug     DebugConfig     `toml:"debug"`
	Log       LogConfig       `toml:"log"`
}

// ToolchainConfig holds assembler and linker defaults.
type ToolchainConfig struct {
	// Dialect is used when a source file's dialect is not given or detected.
	Dialect string `toml:"dialect"`

	// Architecture overrides the dialect's default target when set.
	Architecture string `toml:"architecture"`
	Format       string `toml:"format"`

	// Assemblers overrides the executable per dialect.
	Assemblers map[string]string `toml:"assemblers"`

	IncludePaths []string          `toml:"include_paths"`
	Defines      map[string]string `toml:"defines"`
	Flags        []string          `toml:"flags"`

	Linker      string   `toml:"linker"`
	LinkerFlags []string `toml:"linker_flags"`

	// Listing requests a listing file next to the source.
	Listing bool `toml:"listing"`

	// WatchDelay debounces rebuilds in watch mode.
	WatchDelay Duration `toml:"watch_delay"`
}

// DebugConfig holds debugger settings.
type DebugConfig struct {
	GDBPath        string   `toml:"gdb_path"`
	CommandTimeout Duration `toml:"command_timeout"`
	SettleDelay    Duration `toml:"settle_delay"`
	CommandDelay   Duration `toml:"command_delay"`
	StopTimeout    Duration `toml:"stop_timeout"`
	WaitForPrompt  bool     `toml:"wait_for_prompt"`

	// LaunchFile is the launch.json-style file the CLI reads.
	LaunchFile string `toml:"launch_file"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is a zap level name: debug, info, warn or error.
	Level string `toml:"level"`
	// Encoding is "console" or "json".
	Encoding string `toml:"encoding"`
	// File receives log output instead of stderr when set.
	File string `toml:"file"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Toolchain: ToolchainConfig{
			Dialect:    string(toolchain.DialectNASM),
			Format:     string(toolchain.FormatELF64),
			Linker:     toolchain.DefaultLinker,
			WatchDelay: Duration(toolchain.DefaultWatchDelay),
		},
		Debug: DebugConfig{
			GDBPath:        "gdb",
			CommandTimeout: Duration(10 * time.Second),
			SettleDelay:    Duration(500 * time.Millisecond),
			CommandDelay:   Duration(100 * time.Millisecond),
			StopTimeout:    Duration(2 * time.Second),
			LaunchFile:     ".asmforge/launch.json",
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// Validate checks that every setting is within its domain.
func (c Config) Validate() error {
	if _, err := toolchain.ParseDialect(c.Toolchain.Dialect); err != nil {
		return fmt.Errorf("%w: toolchain.dialect: %v", ErrInvalidValue, err)
	}
	if _, err := toolchain.ParseFormat(c.Toolchain.Format); err != nil {
		return fmt.Errorf("%w: toolchain.format: %v", ErrInvalidValue, err)
	}
	for name := range c.Toolchain.Assemblers {
		if _, err := toolchain.ParseDialect(name); err != nil {
			return fmt.Errorf("%w: toolchain.assemblers: %v", ErrInvalidValue, err)
		}
	}

	durations := map[string]Duration{
		"toolchain.watch_delay": c.Toolchain.WatchDelay,
		"debug.command_timeout": c.Debug.CommandTimeout,
		"debug.settle_delay":    c.Debug.SettleDelay,
		"debug.command_delay":   c.Debug.CommandDelay,
		"debug.stop_timeout":    c.Debug.StopTimeout,
	}
	for name, d := range durations {
		if d < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidValue, name)
		}
	}
	if c.Debug.CommandTimeout == 0 {
		return fmt.Errorf("%w: debug.command_timeout must be positive", ErrInvalidValue)
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalidValue, err)
	}
	switch c.Log.Encoding {
	case "console", "json":
	default:
		return fmt.Errorf("%w: log.encoding %q", ErrInvalidValue, c.Log.Encoding)
	}
	return nil
}

// AssemblerConfig returns the assembler settings for dialect d.
func (c Config) AssemblerConfig(d toolchain.Dialect) toolchain.AssemblerConfig {
	cfg := toolchain.DefaultAssemblerConfig(d)
	if exe := c.Toolchain.Assemblers[string(d)]; exe != "" {
		cfg.Executable = exe
	}
	if c.Toolchain.Architecture != "" {
		cfg.Architecture = toolchain.Architecture(c.Toolchain.Architecture)
	}
	if f, err := toolchain.ParseFormat(c.Toolchain.Format); err == nil {
		cfg.Format = f
	}
	cfg.IncludePaths = append(cfg.IncludePaths, c.Toolchain.IncludePaths...)
	cfg.Flags = append(cfg.Flags, c.Toolchain.Flags...)
	if len(c.Toolchain.Defines) > 0 {
		if cfg.Defines == nil {
			cfg.Defines = make(map[string]string, len(c.Toolchain.Defines))
		}
		for k, v := range c.Toolchain.Defines {
			cfg.Defines[k] = v
		}
	}
	return cfg
}
