package gdb

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/dshills/asmforge/internal/integration/process"
)

// responder answers one command line. token is empty for raw commands.
type responder func(f *fakeGDB, token, command string)

// fakeGDB is an in-memory debugger driven by a responder.
type fakeGDB struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	respond    responder
	ignoreExit bool
	done       chan struct{}
	once       sync.Once
	outMu      sync.Mutex
	mu         sync.Mutex
	code       int
	received   []string
}

func newFakeGDB(respond responder) *fakeGDB {
	f := &fakeGDB{respond: respond, done: make(chan struct{})}
	f.stdinR, f.stdinW = io.Pipe()
	f.stdoutR, f.stdoutW = io.Pipe()
	f.stderrR, f.stderrW = io.Pipe()
	go f.serve()
	return f
}

func (f *fakeGDB) Stdin() io.WriteCloser { return f.stdinW }
func (f *fakeGDB) Stdout() io.Reader     { return f.stdoutR }
func (f *fakeGDB) Stderr() io.Reader     { return f.stderrR }
func (f *fakeGDB) Done() <-chan struct{} { return f.done }

func (f *fakeGDB) ExitCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code
}

func (f *fakeGDB) Kill() error {
	f.exit(-1)
	return nil
}

func (f *fakeGDB) setIgnoreExit(v bool) {
	f.mu.Lock()
	f.ignoreExit = v
	f.mu.Unlock()
}

func (f *fakeGDB) serve() {
	sc := bufio.NewScanner(f.stdinR)
	for sc.Scan() {
		line := sc.Text()
		f.mu.Lock()
		f.received = append(f.received, line)
		ignoreExit := f.ignoreExit
		f.mu.Unlock()

		if line == "-gdb-exit" {
			if !ignoreExit {
				f.exit(0)
				return
			}
			continue
		}
		token, command := splitCommand(line)
		if f.respond != nil {
			f.respond(f, token, command)
		}
	}
}

// splitCommand splits "12-exec-run" into "12" and "exec-run".
func splitCommand(line string) (string, string) {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && line[i] == '-' {
		return line[:i], line[i+1:]
	}
	return "", line
}

func (f *fakeGDB) send(lines ...string) {
	f.outMu.Lock()
	defer f.outMu.Unlock()
	for _, l := range lines {
		if _, err := io.WriteString(f.stdoutW, l+"\n"); err != nil {
			return
		}
	}
}

func (f *fakeGDB) sendStderr(s string) {
	_, _ = io.WriteString(f.stderrW, s)
}

func (f *fakeGDB) exit(code int) {
	f.once.Do(func() {
		f.mu.Lock()
		f.code = code
		f.mu.Unlock()
		f.outMu.Lock()
		_ = f.stdoutW.Close()
		f.outMu.Unlock()
		_ = f.stderrW.Close()
		_ = f.stdinR.Close()
		close(f.done)
	})
}

func (f *fakeGDB) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

// commands returns received commands with their tokens stripped.
func (f *fakeGDB) commands() []string {
	var out []string
	for _, l := range f.lines() {
		_, cmd := splitCommand(l)
		out = append(out, cmd)
	}
	return out
}

func (f *fakeGDB) hasCommand(prefix string) bool {
	for _, c := range f.commands() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// answer builds a responder from command prefix to result body. The
// reply is "<token>^<body>"; commands without a match get ^done.
func answer(bodies map[string]string) responder {
	return func(f *fakeGDB, token, command string) {
		if token == "" {
			return
		}
		for prefix, body := range bodies {
			if strings.HasPrefix(command, prefix) {
				if body == "" {
					return
				}
				f.send(token + "^" + body)
				return
			}
		}
		f.send(token + "^done")
	}
}

// eventRecorder drains a session's events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	closed chan struct{}
}

func recordEvents(s *Session) *eventRecorder {
	r := &eventRecorder{closed: make(chan struct{})}
	go func() {
		defer close(r.closed)
		for ev := range s.Events() {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) waitFor(t *testing.T, match func(Event) bool) Event {
	t.Helper()
	var found Event
	require.Eventually(t, func() bool {
		for _, ev := range r.snapshot() {
			if match(ev) {
				found = ev
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return found
}

type testSession struct {
	*Session
	fake   *fakeGDB
	clock  *clock.Mock
	events *eventRecorder
	spec   process.Spec
}

func testOptions() Options {
	return Options{
		GDBPath:        DefaultGDBPath,
		CommandTimeout: DefaultCommandTimeout,
		StopTimeout:    DefaultStopTimeout,
	}
}

func newTestSession(t *testing.T, respond responder, opts ...SessionOption) *testSession {
	t.Helper()
	ts := &testSession{
		fake:  newFakeGDB(respond),
		clock: clock.NewMock(),
	}
	spawn := func(_ context.Context, spec process.Spec) (Debugger, error) {
		ts.spec = spec
		return ts.fake, nil
	}
	all := append([]SessionOption{WithOptions(testOptions()), WithClock(ts.clock)}, opts...)
	ts.Session = NewSession(spawn, all...)
	ts.events = recordEvents(ts.Session)
	t.Cleanup(func() { ts.fake.exit(0) })
	return ts
}

func (ts *testSession) start(t *testing.T, cfg LaunchConfig) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ts.Start(ctx, cfg))
}
