package process

import (
	"errors"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestNewProcess(t *testing.T) {
	proc := NewProcess("test-id", "test-process", exec.Command("echo", "hello"))

	if proc.ID != "test-id" {
		t.Errorf("expected ID 'test-id', got %q", proc.ID)
	}
	if proc.State() != StateCreated {
		t.Errorf("expected state StateCreated, got %v", proc.State())
	}
	if proc.ExitCode() != -1 {
		t.Errorf("expected exit code -1, got %d", proc.ExitCode())
	}
	if proc.PID() != -1 {
		t.Errorf("expected PID -1 before start, got %d", proc.PID())
	}
	if proc.IsRunning() || proc.HasExited() {
		t.Error("expected neither running nor exited before start")
	}
}

func TestProcess_StartTwice(t *testing.T) {
	proc := NewProcess("id", "true", exec.Command("true"))
	if err := proc.start(); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	<-proc.Done()

	if err := proc.start(); !errors.Is(err, ErrProcessAlreadyStarted) {
		t.Errorf("expected ErrProcessAlreadyStarted, got %v", err)
	}
}

func TestProcess_ExitCode(t *testing.T) {
	tests := []struct {
		name     string
		cmd      *exec.Cmd
		wantCode int
		state    State
	}{
		{"success", exec.Command("true"), 0, StateExited},
		{"failure", exec.Command("false"), 1, StateExited},
		{"explicit", exec.Command("sh", "-c", "exit 42"), 42, StateExited},
		{"signaled", exec.Command("sh", "-c", "kill -9 $$"), -1, StateKilled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := NewProcess("id", tt.name, tt.cmd)
			if err := proc.start(); err != nil {
				t.Fatalf("failed to start: %v", err)
			}
			<-proc.Done()

			if proc.ExitCode() != tt.wantCode {
				t.Errorf("expected exit code %d, got %d", tt.wantCode, proc.ExitCode())
			}
			if proc.State() != tt.state {
				t.Errorf("expected state %v, got %v", tt.state, proc.State())
			}
		})
	}
}

func TestProcess_PipesDeliverTrailingOutput(t *testing.T) {
	cmd := exec.Command("sh", "-c", "echo out; echo err 1>&2; echo last")
	proc := NewProcess("id", "sh", cmd)
	if err := proc.pipe(); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	if err := proc.start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	errCh := make(chan string, 1)
	go func() {
		b, _ := io.ReadAll(proc.Stderr())
		errCh <- string(b)
	}()
	out, err := io.ReadAll(proc.Stdout())
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}

	if string(out) != "out\nlast\n" {
		t.Errorf("unexpected stdout %q", out)
	}
	if got := <-errCh; got != "err\n" {
		t.Errorf("unexpected stderr %q", got)
	}

	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestProcess_Stdin(t *testing.T) {
	proc := NewProcess("id", "cat", exec.Command("cat"))
	if err := proc.pipe(); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	if err := proc.start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	go func() {
		_, _ = io.WriteString(proc.Stdin(), "1-exec-run\n")
		_ = proc.Stdin().Close()
	}()
	go func() { _, _ = io.Copy(io.Discard, proc.Stderr()) }()

	out, _ := io.ReadAll(proc.Stdout())
	if strings.TrimSpace(string(out)) != "1-exec-run" {
		t.Errorf("expected echoed command, got %q", out)
	}
}

func TestProcess_Kill(t *testing.T) {
	proc := NewProcess("id", "sleep", exec.Command("sleep", "10"))
	if err := proc.start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := proc.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process not killed")
	}
	if proc.State() != StateKilled {
		t.Errorf("expected StateKilled, got %v", proc.State())
	}
}

func TestProcess_SignalBeforeStart(t *testing.T) {
	proc := NewProcess("id", "sleep", exec.Command("sleep", "1"))
	if err := proc.Kill(); !errors.Is(err, ErrProcessNotStarted) {
		t.Errorf("expected ErrProcessNotStarted, got %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateCreated, "created"},
		{StateRunning, "running"},
		{StateExited, "exited"},
		{StateKilled, "killed"},
		{State(99), "unknown(99)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestSpec_Command(t *testing.T) {
	spec := Spec{Path: "nasm", Args: []string{"-v"}, Dir: "/tmp", Env: []string{"A=1"}}
	cmd := spec.Command()

	if cmd.Dir != "/tmp" {
		t.Errorf("expected dir /tmp, got %q", cmd.Dir)
	}
	if len(cmd.Args) != 2 || cmd.Args[1] != "-v" {
		t.Errorf("unexpected args %v", cmd.Args)
	}
	if cmd.Env[len(cmd.Env)-1] != "A=1" {
		t.Errorf("expected extra env appended, got %v", cmd.Env)
	}
	if spec.displayName() != "nasm" {
		t.Errorf("expected display name to default to path, got %q", spec.displayName())
	}
}
