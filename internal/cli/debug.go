package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/asmforge/internal/config"
	"github.com/dshills/asmforge/internal/integration"
	"github.com/dshills/asmforge/internal/integration/gdb"
	"github.com/dshills/asmforge/internal/integration/gdb/mi"
)

// DebugCmd runs an interactive GDB session on stdin.
type DebugCmd struct {
	Program string   `arg:"" optional:"" help:"Program to launch"`
	Arg     []string `help:"Program argument (repeatable)"`
	Name    string   `short:"n" help:"Launch configuration to use from the launch file"`
	File    string   `help:"Launch file (default from config)"`
	Attach  int      `help:"Attach to a running process ID"`
	Remote  string   `help:"Connect to a gdbserver at host:port"`
	Break   []string `short:"b" help:"Breakpoint FILE:LINE or *ADDRESS set once the target is loaded (repeatable)"`
	Wait    bool     `help:"Wait for the remote stub to accept connections before starting"`
}

// Run executes the debug command.
func (c *DebugCmd) Run(g *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	lc, err := c.launchConfig(g)
	if err != nil {
		return err
	}

	mgr := g.newManager()
	defer mgr.Close()

	if c.Wait {
		fmt.Fprintln(g.Stderr, "Waiting for target...")
		if err := mgr.WaitForTarget(ctx, lc, integration.DefaultRetryConfig()); err != nil {
			return err
		}
	}

	s, err := mgr.StartDebug(ctx, lc)
	if err != nil {
		return err
	}

	var out sync.Mutex
	printf := func(format string, args ...any) {
		out.Lock()
		defer out.Unlock()
		fmt.Fprintf(g.Stdout, format, args...)
	}

	events := make(chan struct{})
	go func() {
		defer close(events)
		for ev := range s.Events() {
			printf("%s", describeEvent(ev))
		}
	}()

	r := &repl{session: s, printf: printf}
	if !breakpointsBeforeLoad(lc) {
		for _, loc := range c.Break {
			if err := r.exec(ctx, "b "+loc); err != nil {
				printf("error: %v\n", err)
			}
		}
	}

	err = r.run(ctx, g.Stdin, s.Done())
	stopCtx, stopCancel := context.WithTimeout(context.Background(), mgr.DebugOptions().StopTimeout+time.Second)
	defer stopCancel()
	if stopErr := s.Stop(stopCtx); stopErr != nil {
		g.Logger.Warn("stop debugger", zap.Error(stopErr))
	}
	<-events
	return err
}

// breakpointsBeforeLoad reports whether lc runs the program during
// startup, so breakpoints must be registered as pending setup commands.
func breakpointsBeforeLoad(lc gdb.LaunchConfig) bool {
	return lc.Request == gdb.RequestLaunch && lc.Program != "" && lc.Remote == nil && lc.Emulator == nil
}

func (c *DebugCmd) launchConfig(g *Globals) (gdb.LaunchConfig, error) {
	var lc gdb.LaunchConfig
	switch {
	case c.Name != "":
		wd, err := os.Getwd()
		if err != nil {
			return lc, err
		}
		path := c.File
		if path == "" {
			path = g.Config.Debug.LaunchFile
		}
		configs, err := config.ReadLaunchFile(path, config.VariableContext{WorkspaceFolder: wd, File: c.Program})
		if err != nil {
			return lc, err
		}
		if lc, err = config.FindLaunch(configs, c.Name); err != nil {
			return lc, err
		}
	case c.Attach > 0:
		lc = gdb.LaunchConfig{Name: "attach", Request: gdb.RequestAttach, ProcessID: c.Attach}
	case c.Program != "" || c.Remote != "":
		lc = gdb.LaunchConfig{Name: filepath.Base(c.Program), Request: gdb.RequestLaunch, Program: c.Program, Args: c.Arg}
	default:
		return lc, errors.New("nothing to debug: give a program, --attach, --remote or --name")
	}

	if c.Remote != "" {
		host, portStr, err := net.SplitHostPort(c.Remote)
		if err != nil {
			return lc, fmt.Errorf("invalid --remote %q: %w", c.Remote, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return lc, fmt.Errorf("invalid --remote port %q", portStr)
		}
		lc.Remote = &gdb.RemoteTarget{Host: host, Port: port}
	}

	if breakpointsBeforeLoad(lc) && len(c.Break) > 0 {
		lc.SetupCommands = append(lc.SetupCommands, "set breakpoint pending on")
		for _, loc := range c.Break {
			lc.SetupCommands = append(lc.SetupCommands, "break "+loc)
		}
	}
	return lc, nil
}

// debugSession is the part of *gdb.Session the REPL drives.
type debugSession interface {
	Continue(ctx context.Context) error
	StepIn(ctx context.Context) error
	StepOver(ctx context.Context) error
	StepOut(ctx context.Context) error
	StepInstruction(ctx context.Context) error
	Interrupt(ctx context.Context) error
	SetBreakpoint(ctx context.Context, file string, line int) (*gdb.Breakpoint, error)
	SetAddressBreakpoint(ctx context.Context, address string) (*gdb.Breakpoint, error)
	RemoveBreakpoint(ctx context.Context, id string) error
	Breakpoints() []gdb.Breakpoint
	StackFrames(ctx context.Context) ([]gdb.StackFrame, error)
	Registers(ctx context.Context) ([]gdb.RegisterValue, error)
	ReadMemory(ctx context.Context, address string, length int) (gdb.MemoryRead, error)
	SendTracked(ctx context.Context, command string, args ...mi.Arg) (*mi.Record, error)
}

const replHelp = `commands:
  c, continue          resume execution
  s, step              step into
  n, next              step over
  si, stepi            step one instruction
  finish               run until the current function returns
  interrupt            pause the target
  b FILE:LINE | *ADDR  set a breakpoint
  d ID                 delete a breakpoint
  info b               list breakpoints
  bt                   backtrace
  regs                 registers
  x ADDR LEN           read LEN bytes of memory at ADDR
  mi COMMAND           send a raw MI command and print the result
  q, quit              end the session
`

var errQuit = errors.New("quit")

type repl struct {
	session debugSession
	printf  func(format string, args ...any)
}

// run reads commands from in until EOF, quit, cancellation or the end of
// the session.
func (r *repl) run(ctx context.Context, in io.Reader, done <-chan struct{}) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := r.exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				r.printf("error: %v\n", err)
			}
		}
	}
}

func (r *repl) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "c", "continue":
		return r.session.Continue(ctx)
	case "s", "step":
		return r.session.StepIn(ctx)
	case "n", "next":
		return r.session.StepOver(ctx)
	case "si", "stepi":
		return r.session.StepInstruction(ctx)
	case "finish":
		return r.session.StepOut(ctx)
	case "interrupt":
		return r.session.Interrupt(ctx)
	case "b", "break":
		if len(args) != 1 {
			return errors.New("usage: b FILE:LINE | *ADDR")
		}
		return r.setBreakpoint(ctx, args[0])
	case "d", "delete":
		if len(args) != 1 {
			return errors.New("usage: d ID")
		}
		return r.session.RemoveBreakpoint(ctx, args[0])
	case "info":
		if len(args) == 1 && (args[0] == "b" || args[0] == "breakpoints") {
			r.listBreakpoints()
			return nil
		}
		return errors.New("usage: info b")
	case "bt", "backtrace":
		return r.backtrace(ctx)
	case "regs", "registers":
		return r.registers(ctx)
	case "x":
		return r.memory(ctx, args)
	case "mi":
		if len(args) == 0 {
			return errors.New("usage: mi COMMAND")
		}
		rec, err := r.session.SendTracked(ctx, strings.TrimPrefix(strings.Join(args, " "), "-"))
		if err != nil {
			return err
		}
		r.printf("%s\n", rec)
		return nil
	case "help", "?":
		r.printf("%s", replHelp)
		return nil
	case "q", "quit", "exit":
		return errQuit
	}
	return fmt.Errorf("unknown command %q (try help)", cmd)
}

func (r *repl) setBreakpoint(ctx context.Context, loc string) error {
	var (
		bp  *gdb.Breakpoint
		err error
	)
	if addr, ok := strings.CutPrefix(loc, "*"); ok {
		bp, err = r.session.SetAddressBreakpoint(ctx, addr)
	} else {
		file, line, perr := parseLocation(loc)
		if perr != nil {
			return perr
		}
		bp, err = r.session.SetBreakpoint(ctx, file, line)
	}
	if err != nil {
		return err
	}
	if bp == nil {
		return fmt.Errorf("breakpoint at %s was not accepted", loc)
	}
	r.printf("Breakpoint %s at %s\n", bp.ID, breakpointLocation(*bp))
	return nil
}

// parseLocation splits FILE:LINE at the last colon so Windows drive
// letters survive.
func parseLocation(loc string) (string, int, error) {
	i := strings.LastIndexByte(loc, ':')
	if i <= 0 {
		return "", 0, fmt.Errorf("invalid location %q, want FILE:LINE", loc)
	}
	line, err := strconv.Atoi(loc[i+1:])
	if err != nil || line <= 0 {
		return "", 0, fmt.Errorf("invalid line in %q", loc)
	}
	return loc[:i], line, nil
}

func breakpointLocation(bp gdb.Breakpoint) string {
	if bp.File != "" {
		return fmt.Sprintf("%s:%d", bp.File, bp.Line)
	}
	return bp.Address
}

func (r *repl) listBreakpoints() {
	bps := r.session.Breakpoints()
	if len(bps) == 0 {
		r.printf("No breakpoints.\n")
		return
	}
	for _, bp := range bps {
		enabled := "y"
		if !bp.Enabled {
			enabled = "n"
		}
		r.printf("%s\t%s\t%s\t%s\thits=%d\n", bp.ID, bp.Kind, enabled, breakpointLocation(bp), bp.HitCount)
	}
}

func (r *repl) backtrace(ctx context.Context) error {
	frames, err := r.session.StackFrames(ctx)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		r.printf("No stack.\n")
		return nil
	}
	for _, f := range frames {
		fn := f.Func
		if fn == "" {
			fn = "??"
		}
		r.printf("#%d  %s in %s at %s\n", f.Level, f.Address, fn, f.Location())
	}
	return nil
}

func (r *repl) registers(ctx context.Context) error {
	regs, err := r.session.Registers(ctx)
	if err != nil {
		return err
	}
	for _, reg := range regs {
		name := reg.Name
		if name == "" {
			name = "r" + reg.Number
		}
		r.printf("%-8s %s\n", name, reg.Value)
	}
	return nil
}

func (r *repl) memory(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: x ADDR LEN")
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid length %q", args[1])
	}
	m, err := r.session.ReadMemory(ctx, args[0], n)
	if err != nil {
		return err
	}
	if m.Error != "" {
		return errors.New(m.Error)
	}
	data, err := m.Bytes()
	if err != nil {
		return fmt.Errorf("decode memory: %w", err)
	}
	r.printf("%s", hexDump(m.Address, data))
	return nil
}

// hexDump formats data sixteen bytes per row, labelling each row with
// its offset from base.
func hexDump(base string, data []byte) string {
	var b strings.Builder
	for off := 0; off < len(data); off += 16 {
		end := min(off+16, len(data))
		fmt.Fprintf(&b, "%s+%04x:", base, off)
		for _, c := range data[off:end] {
			fmt.Fprintf(&b, " %02x", c)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func describeEvent(ev gdb.Event) string {
	switch e := ev.(type) {
	case gdb.StoppedEvent:
		msg := "Stopped"
		if e.Reason != "" {
			msg += ": " + e.Reason
		}
		if e.BreakpointID != "" {
			msg += " (breakpoint " + e.BreakpointID + ")"
		}
		if e.Frame != nil {
			msg += " at " + e.Frame.Location()
			if e.Frame.Func != "" {
				msg += " in " + e.Frame.Func
			}
		}
		return msg + "\n"
	case gdb.RunningEvent:
		return "Running\n"
	case gdb.OutputEvent:
		if strings.HasSuffix(e.Text, "\n") {
			return e.Text
		}
		return e.Text + "\n"
	case gdb.ExitedEvent:
		return fmt.Sprintf("Debugger exited (code %d)\n", e.Code)
	}
	return ""
}
