package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/dshills/asmforge/internal/config"
	"github.com/dshills/asmforge/internal/integration"
)

// CLI is the root command.
type CLI struct {
	Config   string `short:"c" type:"path" default:"asmforge.toml" help:"Configuration file"`
	LogLevel string `name:"log-level" help:"Override the configured log level"`
	Verbose  bool   `short:"v" help:"Shorthand for --log-level=debug"`

	Build  BuildCmd  `cmd:"" help:"Assemble a source file"`
	Link   LinkCmd   `cmd:"" help:"Link object files into an executable"`
	Check  CheckCmd  `cmd:"" help:"Report which assemblers are installed"`
	Detect DetectCmd `cmd:"" help:"Guess the dialect of a source file"`
	MI     MICmd     `cmd:"" name:"mi" help:"Parse GDB/MI output read from stdin"`
	Debug  DebugCmd  `cmd:"" help:"Start an interactive GDB session"`
	Launch LaunchCmd `cmd:"" help:"Manage launch configurations"`
}

// ParserOptions are the kong options the asmforge binary parses with.
func ParserOptions() []kong.Option {
	return []kong.Option{
		kong.Name("asmforge"),
		kong.Description("Assemble, link and debug assembly programs (nasm, GNU as, llvm-mc, armasm) with GDB"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
	}
}

// ApplyLogOverrides copies the logging flags into cfg.
func (c *CLI) ApplyLogOverrides(cfg *config.Config) {
	switch {
	case c.Verbose:
		cfg.Log.Level = "debug"
	case c.LogLevel != "":
		cfg.Log.Level = c.LogLevel
	}
}

// Globals is shared by every command's Run method.
type Globals struct {
	Config config.Config
	Logger *zap.Logger

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Table renders bordered tables. Plain lines are printed otherwise,
	// which keeps piped output greppable.
	Table bool

	managerOpts []integration.ManagerOption
}

// NewGlobals wires the process's standard streams.
func NewGlobals(cfg config.Config, logger *zap.Logger) *Globals {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Globals{
		Config: cfg,
		Logger: logger,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Table:  term.IsTerminal(int(os.Stdout.Fd())),
	}
}

func (g *Globals) newManager() *integration.Manager {
	opts := []integration.ManagerOption{
		integration.WithConfig(g.Config),
		integration.WithLogger(g.Logger),
	}
	return integration.NewManager(append(opts, g.managerOpts...)...)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
