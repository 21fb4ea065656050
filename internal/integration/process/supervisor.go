package process

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Supervisor tracks the child processes spawned by the build and debug
// services and tears them down on shutdown.
//
// Supervisor is safe for concurrent use.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Process

	closed atomic.Bool

	// maxProcesses limits concurrent processes (0 = unlimited)
	maxProcesses int

	onProcessExit func(p *Process)
	logger        *zap.Logger
}

// SupervisorOption configures a Supervisor instance.
type SupervisorOption func(*Supervisor)

// WithMaxProcesses sets the maximum number of concurrent processes.
// A value of 0 (default) means unlimited.
func WithMaxProcesses(max int) SupervisorOption {
	return func(s *Supervisor) {
		s.maxProcesses = max
	}
}

// WithProcessExitCallback sets a callback for when processes exit.
func WithProcessExitCallback(fn func(p *Process)) SupervisorOption {
	return func(s *Supervisor) {
		s.onProcessExit = fn
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger *zap.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSupervisor creates a new process supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		processes: make(map[string]*Process),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn starts the process described by spec with all three standard
// streams piped. The context only guards the start itself; the child
// outlives it.
func (s *Supervisor) Spawn(ctx context.Context, spec Spec) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.StartWithID(uuid.New().String(), spec.displayName(), spec.Command())
}

// Start starts cmd under a generated ID. Streams the caller left nil
// are piped.
func (s *Supervisor) Start(name string, cmd *exec.Cmd) (*Process, error) {
	return s.StartWithID(uuid.New().String(), name, cmd)
}

// StartWithID starts cmd under a caller-chosen ID.
func (s *Supervisor) StartWithID(id, name string, cmd *exec.Cmd) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}
	if s.maxProcesses > 0 && len(s.processes) >= s.maxProcesses {
		return nil, fmt.Errorf("process limit reached: %d", s.maxProcesses)
	}
	if _, exists := s.processes[id]; exists {
		return nil, fmt.Errorf("process ID already exists: %s", id)
	}

	proc := NewProcess(id, name, cmd)
	if err := proc.pipe(); err != nil {
		return nil, err
	}
	if err := proc.start(); err != nil {
		s.logger.Debug("process failed to start",
			zap.String("name", name), zap.String("path", cmd.Path), zap.Error(err))
		return nil, err
	}

	s.processes[id] = proc
	s.logger.Debug("process started",
		zap.String("id", id), zap.String("name", name), zap.Int("pid", proc.PID()),
		zap.Strings("args", cmd.Args))

	go s.monitorProcess(proc)
	return proc, nil
}

func (s *Supervisor) monitorProcess(proc *Process) {
	<-proc.Done()

	s.logger.Debug("process exited",
		zap.String("id", proc.ID), zap.String("name", proc.Name),
		zap.Int("exit_code", proc.ExitCode()), zap.Stringer("state", proc.State()),
		zap.Duration("runtime", proc.Runtime()))

	if s.onProcessExit != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("process exit callback panicked",
						zap.String("id", proc.ID), zap.Any("panic", r))
				}
			}()
			s.onProcessExit(proc)
		}()
	}

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()
}

// Get returns a process by ID, or nil.
func (s *Supervisor) Get(id string) *Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processes[id]
}

// List returns all managed processes.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		result = append(result, p)
	}
	return result
}

// Count returns the number of managed processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// Kill kills a process by ID.
func (s *Supervisor) Kill(id string) error {
	proc := s.Get(id)
	if proc == nil {
		return ErrProcessNotFound
	}
	if !proc.IsRunning() {
		return nil
	}
	return proc.Kill()
}

// Shutdown sends SIGTERM to every process, waits up to timeout, then
// kills the rest. It blocks until all processes are gone.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	if s.closed.Swap(true) {
		return
	}

	procs := s.List()
	if len(procs) == 0 {
		return
	}
	s.logger.Debug("shutting down processes", zap.Int("count", len(procs)))

	for _, p := range procs {
		if p.IsRunning() {
			_ = p.Terminate()
		}
	}

	done := make(chan struct{})
	go func() {
		for _, p := range procs {
			<-p.Done()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		for _, p := range procs {
			if p.IsRunning() {
				_ = p.Kill()
			}
			// Unblock output copying when nobody drains the pipes.
			_ = p.Close()
		}
		<-done
	}

	s.waitForCleanup()
}

// waitForCleanup waits for monitor goroutines to drop exited processes.
func (s *Supervisor) waitForCleanup() {
	for s.Count() > 0 {
		time.Sleep(time.Millisecond)
	}
}

// IsShuttingDown returns true once Shutdown has been called.
func (s *Supervisor) IsShuttingDown() bool {
	return s.closed.Load()
}
