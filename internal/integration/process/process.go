package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// State represents the state of a process.
type State int

const (
	// StateCreated indicates the process has been created but not started.
	StateCreated State = iota
	// StateRunning indicates the process is currently running.
	StateRunning
	// StateExited indicates the process has exited on its own.
	StateExited
	// StateKilled indicates the process was terminated by a signal.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Spec describes an external tool invocation: assembler, linker, or
// debugger.
type Spec struct {
	// Name labels the process in logs. Defaults to Path.
	Name string

	// Path is the executable, resolved through PATH when it has no
	// separator.
	Path string

	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env holds extra KEY=VALUE pairs appended to the parent environment.
	Env []string
}

// Command builds the exec.Cmd described by s.
func (s Spec) Command() *exec.Cmd {
	cmd := exec.Command(s.Path, s.Args...)
	cmd.Dir = s.Dir
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	return cmd
}

func (s Spec) displayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Path
}

// Process is a supervised child process.
//
// Standard streams that were not wired by the caller are exposed through
// Stdin, Stdout and Stderr. Stdout and Stderr reach EOF only after the
// process has exited and all of its output was delivered, so readers
// never lose trailing output. Both must be drained, or the child blocks
// on a full pipe.
type Process struct {
	ID      string
	Name    string
	Cmd     *exec.Cmd
	Started time.Time

	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	writers []*io.PipeWriter

	done     chan struct{}
	state    atomic.Int32
	exitCode atomic.Int32

	mu      sync.RWMutex
	exitErr error

	waitOnce sync.Once
}

// NewProcess creates a new Process wrapping the given command.
//
// The command should not be started before calling NewProcess.
// Use Supervisor.Spawn or Supervisor.StartWithID to start it.
func NewProcess(id, name string, cmd *exec.Cmd) *Process {
	p := &Process{
		ID:   id,
		Name: name,
		Cmd:  cmd,
		done: make(chan struct{}),
	}
	p.state.Store(int32(StateCreated))
	p.exitCode.Store(-1)
	return p
}

// Stdin returns the write side of the child's standard input, or nil
// when the caller wired it.
func (p *Process) Stdin() io.WriteCloser { return p.stdin }

// Stdout returns the child's standard output, or nil when the caller
// wired it.
func (p *Process) Stdout() io.Reader { return p.stdout }

// Stderr returns the child's standard error, or nil when the caller
// wired it.
func (p *Process) Stderr() io.Reader { return p.stderr }

// State returns the current process state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// ExitCode returns the exit code, or -1 if the process has not exited
// or was killed by a signal.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// ExitError returns the error reported by Wait, if any.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Done returns a channel that is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning returns true if the process is currently running.
func (p *Process) IsRunning() bool {
	return p.State() == StateRunning
}

// HasExited returns true if the process has exited or was killed.
func (p *Process) HasExited() bool {
	state := p.State()
	return state == StateExited || state == StateKilled
}

// PID returns the OS process ID, or -1 if not started.
func (p *Process) PID() int {
	if p.Cmd.Process == nil {
		return -1
	}
	return p.Cmd.Process.Pid
}

// Signal sends a signal to the process.
func (p *Process) Signal(sig os.Signal) error {
	if !p.IsRunning() || p.Cmd.Process == nil {
		return ErrProcessNotStarted
	}
	return p.Cmd.Process.Signal(sig)
}

// Kill sends SIGKILL to the process.
func (p *Process) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

// Terminate sends SIGTERM to the process.
func (p *Process) Terminate() error {
	return p.Signal(syscall.SIGTERM)
}

// pipe wires any standard stream the caller left nil. Output streams go
// through io.Pipe so they can be closed after Wait has copied
// everything.
func (p *Process) pipe() error {
	if p.Cmd.Stdin == nil {
		w, err := p.Cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("create stdin pipe: %w", err)
		}
		p.stdin = w
	}
	if p.Cmd.Stdout == nil {
		r, w := io.Pipe()
		p.Cmd.Stdout = w
		p.stdout = r
		p.writers = append(p.writers, w)
	}
	if p.Cmd.Stderr == nil {
		r, w := io.Pipe()
		p.Cmd.Stderr = w
		p.stderr = r
		p.writers = append(p.writers, w)
	}
	return nil
}

// start starts the process and begins tracking it.
func (p *Process) start() error {
	if p.State() != StateCreated {
		return ErrProcessAlreadyStarted
	}

	if err := p.Cmd.Start(); err != nil {
		p.closeWriters()
		if p.stdin != nil {
			_ = p.stdin.Close()
		}
		return fmt.Errorf("start %s: %w", p.Name, err)
	}

	p.Started = time.Now()
	p.state.Store(int32(StateRunning))

	go p.waitLoop()
	return nil
}

func (p *Process) waitLoop() {
	p.waitOnce.Do(func() {
		err := p.Cmd.Wait()
		p.closeWriters()

		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()

		exitCode := 0
		state := StateExited
		if err != nil {
			exitCode = -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitCode()
				if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
					state = StateKilled
				}
			}
		}

		p.exitCode.Store(int32(exitCode))
		p.state.Store(int32(state))
		close(p.done)
	})
}

func (p *Process) closeWriters() {
	for _, w := range p.writers {
		_ = w.Close()
	}
}

// Close releases the stream handles. It does not kill the process.
func (p *Process) Close() error {
	var errs []error
	if p.stdin != nil {
		if err := p.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, fmt.Errorf("close stdin: %w", err))
		}
	}
	for _, r := range []io.ReadCloser{p.stdout, p.stderr} {
		if r != nil {
			_ = r.Close()
		}
	}
	return errors.Join(errs...)
}

// Runtime returns how long the process has been running.
func (p *Process) Runtime() time.Duration {
	if p.Started.IsZero() {
		return 0
	}
	return time.Since(p.Started)
}
