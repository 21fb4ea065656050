package integration

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/asmforge/internal/config"
	"github.com/dshills/asmforge/internal/integration/gdb"
	"github.com/dshills/asmforge/internal/integration/process"
	"github.com/dshills/asmforge/internal/integration/toolchain"
)

// mockEventBus implements EventPublisher for testing.
type mockEventBus struct {
	mu     sync.Mutex
	events []mockEvent
}

type mockEvent struct {
	Type string
	Data map[string]any
}

func (m *mockEventBus) Publish(eventType string, data map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, mockEvent{Type: eventType, Data: data})
}

func (m *mockEventBus) Find(eventType string) (mockEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.Type == eventType {
			return e, true
		}
	}
	return mockEvent{}, false
}

// scriptedRunner answers runs by executable path.
type scriptedRunner struct {
	mu      sync.Mutex
	calls   []process.Spec
	results map[string]process.Result
}

func (r *scriptedRunner) Run(_ context.Context, spec process.Spec) (process.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, spec)
	res, ok := r.results[spec.Path]
	if !ok {
		return process.Result{ExitCode: -1}, &exec.Error{Name: spec.Path, Err: exec.ErrNotFound}
	}
	return res, nil
}

func (r *scriptedRunner) last() process.Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func TestManagerBuildPublishesEvents(t *testing.T) {
	bus := &mockEventBus{}
	runner := &scriptedRunner{results: map[string]process.Result{
		"nasm": {ExitCode: 1, Stderr: "hello.asm:3: error: invalid combination of opcode and operands\n"},
	}}
	m := NewManager(WithRunner(runner), WithEventBus(bus))
	defer m.Close()

	cfg := m.BuildConfig("/src/hello.asm", toolchain.DialectNASM)
	res, err := m.Build(context.Background(), cfg)
	require.NoError(t, err)

	assert.False(t, res.Success)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, 3, res.Diagnostics[0].Line)

	started, ok := bus.Find(TopicBuildStarted)
	require.True(t, ok)
	assert.Equal(t, "nasm", started.Data["dialect"])

	done, ok := bus.Find(TopicBuildCompleted)
	require.True(t, ok)
	assert.Equal(t, false, done.Data["success"])
	assert.Equal(t, 1, done.Data["errors"])
	assert.Contains(t, done.Data, "timestamp")
}

func TestManagerUsesConfiguredExecutables(t *testing.T) {
	cfg := config.Default()
	cfg.Toolchain.Assemblers = map[string]string{"gas": "x86_64-elf-as"}
	cfg.Toolchain.Linker = "ld.lld"
	cfg.Toolchain.LinkerFlags = []string{"-static"}

	runner := &scriptedRunner{results: map[string]process.Result{
		"x86_64-elf-as": {},
		"ld.lld":        {},
	}}
	m := NewManager(WithConfig(cfg), WithRunner(runner))
	defer m.Close()

	res, err := m.Build(context.Background(), m.BuildConfig("/src/a.s", toolchain.DialectGAS))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "x86_64-elf-as", runner.last().Path)

	res, err = m.Link(context.Background(), []string{"/src/a.o"}, "/src/a", []string{"-nostdlib"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	spec := runner.last()
	assert.Equal(t, "ld.lld", spec.Path)
	assert.Equal(t, []string{"-o", "/src/a", "-static", "-nostdlib", "/src/a.o"}, spec.Args)
}

func TestManagerResolveDialect(t *testing.T) {
	dir := t.TempDir()
	gas := filepath.Join(dir, "gas.s")
	require.NoError(t, os.WriteFile(gas, []byte(".section .text\n.globl _start\n_start:\n    movq $60, %rax\n    syscall\n"), 0o644))
	plain := filepath.Join(dir, "plain.asm")
	require.NoError(t, os.WriteFile(plain, []byte("; nothing here\n"), 0o644))

	cfg := config.Default()
	cfg.Toolchain.Dialect = "llvm"
	m := NewManager(WithConfig(cfg))
	defer m.Close()

	d, err := m.ResolveDialect(gas, "auto")
	require.NoError(t, err)
	assert.Equal(t, toolchain.DialectGAS, d)

	d, err = m.ResolveDialect(plain, "")
	require.NoError(t, err)
	assert.Equal(t, toolchain.DialectLLVM, d, "falls back to the configured dialect")

	d, err = m.ResolveDialect(gas, "armasm")
	require.NoError(t, err)
	assert.Equal(t, toolchain.DialectARM, d)

	_, err = m.ResolveDialect(gas, "masm")
	assert.ErrorIs(t, err, toolchain.ErrUnknownDialect)
}

func TestManagerCheck(t *testing.T) {
	bus := &mockEventBus{}
	runner := &scriptedRunner{results: map[string]process.Result{
		"nasm": {Stdout: "NASM version 2.16.01 compiled on Jan  1 2024\n"},
	}}
	m := NewManager(WithRunner(runner), WithEventBus(bus))
	defer m.Close()

	results := m.Check(context.Background())
	require.Len(t, results, len(toolchain.Dialects))
	for i, r := range results {
		assert.Equal(t, toolchain.Dialects[i], r.Dialect)
		if r.Dialect == toolchain.DialectNASM {
			assert.True(t, r.Available)
			assert.Equal(t, "2.16.01", r.Version)
		} else {
			assert.False(t, r.Available, r.Dialect)
		}
	}

	ev, ok := bus.Find(TopicToolchainChecked)
	require.True(t, ok)
	assert.Equal(t, 1, ev.Data["available"])
}

// fakeGDBScript answers every tokenized command with ^done and exits on
// -gdb-exit.
const fakeGDBScript = `#!/bin/sh
echo '(gdb)'
while IFS= read -r line; do
  case "$line" in
    -gdb-exit|*[0-9]-gdb-exit) exit 0 ;;
  esac
  tok=${line%%-*}
  case "$tok" in
    ''|*[!0-9]*) ;;
    *) echo "${tok}^done" ;;
  esac
done
`

func fakeGDB(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "fake-gdb")
	require.NoError(t, os.WriteFile(path, []byte(fakeGDBScript), 0o755))
	return path
}

func TestManagerDebugSessionLifecycle(t *testing.T) {
	cfg := config.Default()
	cfg.Debug.GDBPath = fakeGDB(t)
	cfg.Debug.SettleDelay = 0
	cfg.Debug.CommandDelay = 0
	cfg.Debug.WaitForPrompt = true

	bus := &mockEventBus{}
	m := NewManager(WithConfig(cfg), WithEventBus(bus))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := m.StartDebug(ctx, gdb.LaunchConfig{Name: "attach", Request: gdb.RequestAttach, ProcessID: 99})
	require.NoError(t, err)
	go func() {
		for range s.Events() {
		}
	}()

	assert.Equal(t, gdb.StateReady, s.State())
	got, err := m.Session(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Len(t, m.Sessions(), 1)
	assert.Equal(t, 1, m.Health().Sessions)

	rec, err := s.SendTracked(ctx, "gdb-version")
	require.NoError(t, err)
	assert.True(t, rec.IsDone())
	assert.Equal(t, uint64(2), rec.Token, "target-attach used token 1")

	started, ok := bus.Find(TopicDebugStarted)
	require.True(t, ok)
	assert.Equal(t, s.ID(), started.Data["session"])

	require.NoError(t, m.Close())
	assert.Equal(t, gdb.StateTerminated, s.State())
	require.Eventually(t, func() bool {
		_, ok := bus.Find(TopicDebugStopped)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(m.Sessions()) == 0 }, 2*time.Second, 10*time.Millisecond)

	_, err = m.Session(s.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerStartDebugSpawnFailure(t *testing.T) {
	boom := errors.New("no gdb")
	m := NewManager(WithSpawner(func(context.Context, process.Spec) (gdb.Debugger, error) {
		return nil, boom
	}))
	defer m.Close()

	_, err := m.StartDebug(context.Background(), gdb.LaunchConfig{})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, m.Sessions())
}

func TestManagerWaitForTarget(t *testing.T) {
	d := &flakyDialer{failures: 1, addrs: make(chan string, 4)}
	m := NewManager(WithDialer(d))
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.WaitForTarget(ctx, gdb.LaunchConfig{}, fastRetry(3)))
	assert.Equal(t, int32(0), d.calls.Load())

	lc := gdb.LaunchConfig{Emulator: &gdb.EmulatorConfig{Machine: "virt"}}
	require.NoError(t, m.WaitForTarget(ctx, lc, fastRetry(3)))
	assert.Equal(t, "localhost:1234", <-d.addrs)

	lc = gdb.LaunchConfig{Remote: &gdb.RemoteTarget{Host: "10.0.0.2", Port: 3333}}
	require.NoError(t, m.WaitForTarget(ctx, lc, fastRetry(3)))
	addr := <-d.addrs
	for len(d.addrs) > 0 {
		addr = <-d.addrs
	}
	assert.Equal(t, "10.0.0.2:3333", addr)
}

func TestManagerClosed(t *testing.T) {
	bus := &mockEventBus{}
	m := NewManager(WithEventBus(bus))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())

	select {
	case <-m.ShutdownChan():
	default:
		t.Error("shutdown channel not closed")
	}

	ctx := context.Background()
	_, err := m.Build(ctx, toolchain.BuildConfig{Source: "a.asm"})
	assert.ErrorIs(t, err, ErrManagerClosed)
	_, err = m.Link(ctx, []string{"a.o"}, "a", nil)
	assert.ErrorIs(t, err, ErrManagerClosed)
	_, err = m.StartDebug(ctx, gdb.LaunchConfig{})
	assert.ErrorIs(t, err, ErrManagerClosed)
	assert.ErrorIs(t, m.Watch(ctx, toolchain.BuildConfig{}, nil), ErrManagerClosed)

	_, ok := bus.Find(TopicManagerStopped)
	assert.True(t, ok)
	assert.Equal(t, StatusDegraded, m.Health().Status)
}

func TestManagerDebugOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Debug.CommandTimeout = config.Duration(3 * time.Second)
	cfg.Debug.WaitForPrompt = true
	m := NewManager(WithConfig(cfg))
	defer m.Close()

	opts := m.DebugOptions()
	assert.Equal(t, 3*time.Second, opts.CommandTimeout)
	assert.Equal(t, 500*time.Millisecond, opts.SettleDelay)
	assert.True(t, opts.WaitForPrompt)
	assert.Equal(t, "gdb", opts.GDBPath)
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusHealthy, "healthy"},
		{StatusDegraded, "degraded"},
		{StatusUnhealthy, "unhealthy"},
		{Status(99), "unknown(99)"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}
