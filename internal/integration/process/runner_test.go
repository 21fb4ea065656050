package process

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunner_Run(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)
	r := NewRunner(s)

	res, err := r.Run(context.Background(), Spec{
		Path: "sh",
		Args: []string{"-c", "echo assembled; echo 'x.asm:1: warning: w' 1>&2; exit 3"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", res.ExitCode)
	}
	if res.Stdout != "assembled\n" {
		t.Errorf("unexpected stdout %q", res.Stdout)
	}
	if res.Stderr != "x.asm:1: warning: w\n" {
		t.Errorf("unexpected stderr %q", res.Stderr)
	}
	if res.Duration <= 0 {
		t.Error("expected positive duration")
	}
}

func TestRunner_WorkingDirectory(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	dir := t.TempDir()
	res, err := NewRunner(s).Run(context.Background(), Spec{Path: "pwd", Dir: dir})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stdout == "" {
		t.Error("expected pwd output")
	}
}

func TestRunner_StdinIsEmpty(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	res, err := NewRunner(s).Run(context.Background(), Spec{Path: "cat"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 0 || res.Stdout != "" {
		t.Errorf("expected cat to see EOF immediately, got %+v", res)
	}
}

func TestRunner_SpawnFailure(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	res, err := NewRunner(s).Run(context.Background(), Spec{Path: "no-such-assembler-xyz"})
	if err == nil {
		t.Fatal("expected spawn error")
	}
	if res.ExitCode != -1 {
		t.Errorf("expected exit code -1, got %d", res.ExitCode)
	}
}

func TestRunner_Cancel(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewRunner(s).Run(ctx, Spec{Path: "sleep", Args: []string{"10"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancelled run did not return promptly")
	}
}
