package gdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/asmforge/internal/integration/gdb/mi"
	"github.com/dshills/asmforge/internal/integration/process"
)

// Defaults for Options.
const (
	DefaultGDBPath        = "gdb"
	DefaultCommandTimeout = 10 * time.Second
	DefaultSettleDelay    = 500 * time.Millisecond
	DefaultCommandDelay   = 100 * time.Millisecond
	DefaultStopTimeout    = 2 * time.Second
)

// Debugger is a running GDB subprocess.
type Debugger interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	Done() <-chan struct{}
	ExitCode() int
	Kill() error
}

// SpawnFunc starts the debugger described by spec.
type SpawnFunc func(ctx context.Context, spec process.Spec) (Debugger, error)

// SupervisorSpawner spawns debuggers under sup.
func SupervisorSpawner(sup *process.Supervisor) SpawnFunc {
	return func(ctx context.Context, spec process.Spec) (Debugger, error) {
		p, err := sup.Spawn(ctx, spec)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Options tunes session timing.
type Options struct {
	// GDBPath is used when the launch config does not name one.
	GDBPath string

	// CommandTimeout bounds every tracked command.
	CommandTimeout time.Duration

	// SettleDelay is how long Start waits after spawning before it
	// sends anything. With WaitForPrompt set, Start instead waits for
	// the first (gdb) prompt, for at most ten settle delays.
	SettleDelay   time.Duration
	WaitForPrompt bool

	// CommandDelay separates consecutive setup and post-load commands.
	CommandDelay time.Duration

	// StopTimeout is how long Stop waits for -gdb-exit before killing.
	StopTimeout time.Duration
}

// DefaultOptions returns the standard timings.
func DefaultOptions() Options {
	return Options{
		GDBPath:        DefaultGDBPath,
		CommandTimeout: DefaultCommandTimeout,
		SettleDelay:    DefaultSettleDelay,
		CommandDelay:   DefaultCommandDelay,
		StopTimeout:    DefaultStopTimeout,
	}
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithOptions replaces the session timings.
func WithOptions(o Options) SessionOption {
	return func(s *Session) {
		s.opts = o
	}
}

// WithClock sets the clock used for timeouts and delays.
func WithClock(c clock.Clock) SessionOption {
	return func(s *Session) {
		s.clock = c
	}
}

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) SessionOption {
	return func(s *Session) {
		s.logger = l
	}
}

type pendingCommand struct {
	command string
	done    chan *mi.Record
	timer   *clock.Timer
}

// Session drives one GDB subprocess over the MI protocol.
//
// Every tracked command gets a fresh token and resolves exactly once:
// with GDB's result record, with a synthetic "Timeout" error record, or
// with an error record when the debugger exits. Asynchronous output is
// delivered in arrival order on Events.
type Session struct {
	id     string
	spawn  SpawnFunc
	opts   Options
	clock  clock.Clock
	logger *zap.Logger

	mu          sync.Mutex
	state       State
	proc        Debugger
	nextToken   uint64
	pending     map[uint64]*pendingCommand
	breakpoints map[string]*Breakpoint
	regNames    []string

	writeMu sync.Mutex

	events     *eventQueue
	prompt     chan struct{}
	promptOnce sync.Once
	terminated chan struct{}
}

// NewSession creates an idle session that starts debuggers with spawn.
func NewSession(spawn SpawnFunc, opts ...SessionOption) *Session {
	s := &Session{
		id:          uuid.NewString(),
		spawn:       spawn,
		opts:        DefaultOptions(),
		clock:       clock.New(),
		logger:      zap.NewNop(),
		nextToken:   1,
		pending:     make(map[uint64]*pendingCommand),
		breakpoints: make(map[string]*Breakpoint),
		events:      newEventQueue(),
		prompt:      make(chan struct{}),
		terminated:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session", s.id))
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsActive reports whether the debugger is running and accepting
// commands.
func (s *Session) IsActive() bool {
	return s.State().active()
}

// Events returns the session's event stream. It is closed after the
// ExitedEvent. Consumers should drain it.
func (s *Session) Events() <-chan Event {
	return s.events.out
}

// Done is closed once the debugger has exited.
func (s *Session) Done() <-chan struct{} {
	return s.terminated
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	if prev != StateTerminated {
		s.state = st
	}
	s.mu.Unlock()
	if prev != st {
		s.logger.Debug("state change", zap.Stringer("from", prev), zap.Stringer("to", st))
	}
}

// Start spawns GDB in MI mode, runs the setup commands, connects to the
// inferior the config names and runs the post-load commands.
//
// Errors from the startup commands themselves are reported as output
// events; Start fails only when the debugger cannot be spawned, the
// context ends, or the debugger exits during startup. A failed spawn
// leaves the session idle. Any later failure kills the debugger and
// leaves the session terminated.
func (s *Session) Start(ctx context.Context, cfg LaunchConfig) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSessionStarted
	}
	s.state = StateStarting
	s.mu.Unlock()

	path := cfg.GDBPath
	if path == "" {
		path = s.opts.GDBPath
	}
	if path == "" {
		path = DefaultGDBPath
	}
	spec := process.Spec{
		Name: "gdb",
		Path: path,
		Args: append([]string{"-i=mi"}, cfg.GDBArgs...),
		Dir:  cfg.Cwd,
	}

	proc, err := s.spawn(ctx, spec)
	if err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return fmt.Errorf("start gdb: %w", err)
	}

	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()
	s.events.start()
	s.logger.Info("debugger started", zap.String("path", path), zap.String("config", cfg.Name))

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		s.readStdout(proc.Stdout())
	}()
	go func() {
		defer readers.Done()
		s.readStderr(proc.Stderr())
	}()
	go func() {
		readers.Wait()
		<-proc.Done()
		s.finish(proc.ExitCode())
	}()

	if err := s.startup(ctx, cfg); err != nil {
		s.abort(proc, err)
		return err
	}

	s.mu.Lock()
	if s.state == StateStarting {
		s.state = StateReady
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) startup(ctx context.Context, cfg LaunchConfig) error {
	if err := s.settle(ctx); err != nil {
		return err
	}
	if err := s.sendScript(ctx, cfg.SetupCommands); err != nil {
		return err
	}
	if err := s.connect(ctx, cfg); err != nil {
		return err
	}
	return s.sendScript(ctx, cfg.PostLoadCommands)
}

// abort kills a debugger whose startup failed and waits, up to the stop
// timeout, for the session to terminate.
func (s *Session) abort(proc Debugger, cause error) {
	s.logger.Warn("startup failed, killing debugger", zap.Error(cause))
	if err := proc.Kill(); err != nil {
		s.logger.Debug("kill", zap.Error(err))
	}
	wait := s.opts.StopTimeout
	if wait <= 0 {
		wait = DefaultStopTimeout
	}
	timer := s.clock.Timer(wait)
	defer timer.Stop()
	select {
	case <-s.terminated:
	case <-timer.C:
		s.logger.Warn("debugger did not exit after kill")
	}
}

func (s *Session) settle(ctx context.Context) error {
	if !s.opts.WaitForPrompt {
		return s.sleep(ctx, s.opts.SettleDelay)
	}
	limit := s.opts.SettleDelay * 10
	if limit <= 0 {
		limit = DefaultSettleDelay * 10
	}
	timer := s.clock.Timer(limit)
	defer timer.Stop()
	select {
	case <-s.prompt:
		return nil
	case <-timer.C:
		s.logger.Debug("no prompt before settle limit", zap.Duration("limit", limit))
		return nil
	case <-s.terminated:
		return ErrSessionNotActive
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := s.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-s.terminated:
		return ErrSessionNotActive
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) sendScript(ctx context.Context, commands []string) error {
	for _, cmd := range commands {
		if err := s.SendRaw(cmd); err != nil {
			return err
		}
		if err := s.sleep(ctx, s.opts.CommandDelay); err != nil {
			return err
		}
	}
	return nil
}

// connect issues the startup command for the config: launch a program,
// attach to a process, or connect to a remote or emulator stub. A launch
// with both a program and a stub loads the program's symbols and connects
// instead of running it locally.
func (s *Session) connect(ctx context.Context, cfg LaunchConfig) error {
	var steps []string
	stub := stubAddress(cfg)
	switch {
	case cfg.Request == RequestLaunch && cfg.Program != "":
		steps = append(steps, "file-exec-and-symbols "+mi.QuoteArg(cfg.Program))
		if stub != "" {
			steps = append(steps, "target-select remote "+stub)
			break
		}
		if len(cfg.Args) > 0 {
			quoted := make([]string, len(cfg.Args))
			for i, a := range cfg.Args {
				quoted[i] = mi.QuoteArg(a)
			}
			steps = append(steps, "exec-arguments "+strings.Join(quoted, " "))
		}
		steps = append(steps, "exec-run")
	case cfg.Request == RequestAttach && cfg.ProcessID > 0:
		steps = append(steps, "target-attach "+strconv.Itoa(cfg.ProcessID))
	case stub != "":
		steps = append(steps, "target-select remote "+stub)
	}

	for _, cmd := range steps {
		rec, err := s.SendTracked(ctx, cmd)
		if err != nil {
			return err
		}
		if rec.IsError() {
			msg := fmt.Sprintf("[GDB] %s failed: %s", cmd, rec.Message())
			s.logger.Warn("startup command failed", zap.String("command", cmd), zap.String("msg", rec.Message()))
			s.events.push(OutputEvent{Category: OutputDebugger, Text: msg})
			return nil
		}
	}
	return nil
}

// stubAddress returns the gdbstub to connect to, or "" for a local
// target.
func stubAddress(cfg LaunchConfig) string {
	switch {
	case cfg.Remote != nil:
		return cfg.Remote.String()
	case cfg.Emulator != nil:
		port := cfg.Emulator.Port
		if port == 0 {
			port = DefaultEmulatorPort
		}
		return fmt.Sprintf("localhost:%d", port)
	}
	return ""
}

// SendTracked sends an MI command with a fresh token and waits for its
// result. Error, timeout and exit outcomes are returned as error-class
// records; the error return is for an inactive session, a failed write
// or a cancelled context. A cancelled command keeps its slot until it
// resolves or times out.
func (s *Session) SendTracked(ctx context.Context, command string, args ...mi.Arg) (*mi.Record, error) {
	s.mu.Lock()
	if !s.state.active() || s.proc == nil {
		s.mu.Unlock()
		return nil, ErrSessionNotActive
	}
	token := s.nextToken
	s.nextToken++
	p := &pendingCommand{
		command: command,
		done:    make(chan *mi.Record, 1),
	}
	s.pending[token] = p
	p.timer = s.clock.AfterFunc(s.opts.CommandTimeout, func() {
		if s.resolve(token, mi.ErrorRecord(token, "Timeout")) {
			s.logger.Warn("command timed out", zap.Uint64("token", token), zap.String("command", command))
		}
	})
	proc := s.proc
	s.mu.Unlock()

	line := mi.FormatCommand(token, command, args...)
	s.logger.Debug("send", zap.String("line", line))
	if err := s.write(proc, line); err != nil {
		if s.take(token) != nil {
			p.timer.Stop()
		}
		return nil, fmt.Errorf("write %q: %w", command, err)
	}

	select {
	case rec := <-p.done:
		return rec, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendRaw writes a CLI or MI command without a token and does not wait.
func (s *Session) SendRaw(command string) error {
	s.mu.Lock()
	proc := s.proc
	active := s.state.active()
	s.mu.Unlock()
	if !active || proc == nil {
		return ErrSessionNotActive
	}
	s.logger.Debug("send raw", zap.String("line", command))
	return s.write(proc, command)
}

func (s *Session) write(proc Debugger, line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := io.WriteString(proc.Stdin(), line+"\n")
	return err
}

// take removes and returns the pending slot for token.
func (s *Session) take(token uint64) *pendingCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[token]
	if !ok {
		return nil
	}
	delete(s.pending, token)
	return p
}

// resolve completes the slot for token with rec. It reports false when
// the slot was already resolved.
func (s *Session) resolve(token uint64, rec *mi.Record) bool {
	p := s.take(token)
	if p == nil {
		return false
	}
	p.timer.Stop()
	p.done <- rec
	return true
}

func (s *Session) readStdout(r io.Reader) {
	var lb lineBuffer
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		for _, line := range lb.Push(buf[:n]) {
			s.handleLine(line)
		}
		if err != nil {
			if tail := lb.Flush(); tail != "" {
				s.handleLine(tail)
			}
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("stdout read", zap.Error(err))
			}
			return
		}
	}
}

func (s *Session) readStderr(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.events.push(OutputEvent{Category: OutputStderr, Text: "[GDB Error] " + string(buf[:n])})
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) handleLine(line string) {
	rec := mi.ParseLine(line)
	if rec == nil {
		if strings.TrimSpace(line) == mi.Prompt {
			s.promptOnce.Do(func() { close(s.prompt) })
		}
		return
	}

	switch {
	case rec.Kind == mi.KindConsole:
		s.events.push(OutputEvent{Category: OutputConsole, Text: rec.Text()})
	case rec.Kind == mi.KindResult && rec.HasToken:
		if !s.resolve(rec.Token, rec) {
			s.logger.Debug("result without pending command", zap.Uint64("token", rec.Token))
		}
	case rec.Kind == mi.KindExec:
		s.handleExec(rec)
	default:
		s.events.push(OutputEvent{Category: OutputDebugger, Text: "[GDB] " + strings.TrimRight(line, "\r")})
	}
}

func (s *Session) handleExec(rec *mi.Record) {
	switch rec.Class {
	case mi.ClassStopped:
		ev := StoppedEvent{
			Reason:       rec.Data.Const("reason"),
			ThreadID:     1,
			BreakpointID: rec.Data.Const("bkptno"),
			Record:       rec,
		}
		if tid, err := strconv.Atoi(rec.Data.Const("thread-id")); err == nil {
			ev.ThreadID = tid
		}
		if frame, ok := rec.Data.Tuple("frame"); ok {
			f := frameFromTuple(frame)
			ev.Frame = &f
		}
		s.mu.Lock()
		if bp, ok := s.breakpoints[ev.BreakpointID]; ok {
			bp.HitCount++
		}
		s.mu.Unlock()
		s.setState(StateStopped)
		s.events.push(ev)
	case mi.ClassRunning:
		s.setState(StateRunning)
		s.events.push(RunningEvent{ThreadID: rec.Data.Const("thread-id")})
	default:
		s.logger.Debug("ignored exec record", zap.String("class", rec.Class))
	}
}

// finish runs once the debugger has exited and its output is drained.
func (s *Session) finish(code int) {
	s.mu.Lock()
	s.state = StateTerminated
	pending := s.pending
	s.pending = make(map[uint64]*pendingCommand)
	s.mu.Unlock()

	for token, p := range pending {
		p.timer.Stop()
		p.done <- mi.ErrorRecord(token, "GDB exited")
	}
	close(s.terminated)
	s.logger.Info("debugger exited", zap.Int("code", code))
	s.events.push(ExitedEvent{Code: code})
	s.events.close()
}

// Stop asks GDB to exit and kills it after the stop timeout. Pending
// commands resolve with error records. Stopping an idle or terminated
// session is a no-op.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	proc := s.proc
	state := s.state
	s.mu.Unlock()
	if proc == nil || state == StateTerminated {
		return nil
	}

	if err := s.write(proc, "-gdb-exit"); err != nil {
		s.logger.Debug("gdb-exit", zap.Error(err))
	}

	timer := s.clock.Timer(s.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-s.terminated:
		return nil
	case <-timer.C:
		s.logger.Warn("debugger did not exit, killing")
	case <-ctx.Done():
	}
	if err := proc.Kill(); err != nil {
		s.logger.Debug("kill", zap.Error(err))
	}
	_ = proc.Stdin().Close()

	select {
	case <-s.terminated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
