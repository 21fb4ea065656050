package gdb

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/dshills/asmforge/internal/integration/gdb/mi"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateReady
	StateRunning
	StateStopped
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// active reports whether commands may be sent in this state.
func (s State) active() bool {
	return s >= StateStarting && s < StateTerminated
}

// Request selects how the debugger obtains its inferior.
type Request string

const (
	RequestLaunch Request = "launch"
	RequestAttach Request = "attach"
)

// RemoteTarget is a gdbserver or stub reachable over TCP.
type RemoteTarget struct {
	Host string
	Port int
}

func (r RemoteTarget) String() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// DefaultEmulatorPort is QEMU's default gdbstub port.
const DefaultEmulatorPort = 1234

// EmulatorConfig describes a QEMU instance started alongside the
// debugger. The session connects to its gdbstub on localhost.
type EmulatorConfig struct {
	Machine string
	CPU     string
	Kernel  string
	Args    []string
	Port    int
}

// LaunchConfig is the input to Session.Start.
type LaunchConfig struct {
	Name    string
	Request Request

	// Launch
	Program string
	Args    []string
	Cwd     string

	// Attach
	ProcessID int

	Remote   *RemoteTarget
	Emulator *EmulatorConfig

	// GDBPath overrides the session's debugger executable.
	GDBPath string
	GDBArgs []string

	Architecture string

	// SetupCommands run before the program is loaded, PostLoadCommands
	// after. Both are CLI commands sent without tokens.
	SetupCommands    []string
	PostLoadCommands []string
}

// BreakpointKind distinguishes source from address breakpoints.
type BreakpointKind string

const (
	BreakpointLine    BreakpointKind = "line"
	BreakpointAddress BreakpointKind = "address"
)

// Breakpoint is a breakpoint known to the session.
type Breakpoint struct {
	ID      string
	Kind    BreakpointKind
	Type    string
	File    string
	Line    int
	Address string
	Enabled bool

	// HitCount counts stops attributed to this breakpoint.
	HitCount int
}

func breakpointFromTuple(t mi.Tuple, kind BreakpointKind) Breakpoint {
	bp := Breakpoint{
		ID:       t.Const("number"),
		Kind:     kind,
		Type:     t.Const("type"),
		File:     t.Const("file"),
		Line:     atoi(t.Const("line")),
		Address:  t.Const("addr"),
		Enabled:  t.Const("enabled") == "y",
		HitCount: atoi(t.Const("times")),
	}
	if bp.Type == "" {
		bp.Type = "breakpoint"
	}
	return bp
}

// StackFrame is one frame of a backtrace.
type StackFrame struct {
	Level    int
	Address  string
	Func     string
	File     string
	Line     int
	FullName string
}

func frameFromTuple(t mi.Tuple) StackFrame {
	return StackFrame{
		Level:    atoi(t.Const("level")),
		Address:  t.Const("addr"),
		Func:     t.Const("func"),
		File:     t.Const("file"),
		Line:     atoi(t.Const("line")),
		FullName: t.Const("fullname"),
	}
}

// Location formats the frame as file:line, or the address when there
// is no source information.
func (f StackFrame) Location() string {
	if f.File != "" {
		return fmt.Sprintf("%s:%d", f.File, f.Line)
	}
	return f.Address
}

// RegisterValue is the value of one register.
type RegisterValue struct {
	Number string
	Name   string
	Value  string
}

// MemoryRead is the result of reading target memory. Error is set when
// GDB could not read the range.
type MemoryRead struct {
	Address  string
	Contents string
	Error    string
}

// Bytes decodes the hex contents.
func (m MemoryRead) Bytes() ([]byte, error) {
	return hex.DecodeString(strings.TrimSpace(m.Contents))
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
