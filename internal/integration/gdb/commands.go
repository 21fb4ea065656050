package gdb

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/dshills/asmforge/internal/integration/gdb/mi"
)

// Continue resumes the inferior. It does not wait for the next stop.
func (s *Session) Continue(ctx context.Context) error {
	return s.execute(ctx, "exec-continue")
}

// StepIn steps one source line, entering calls.
func (s *Session) StepIn(ctx context.Context) error {
	return s.execute(ctx, "exec-step")
}

// StepOver steps one source line over calls.
func (s *Session) StepOver(ctx context.Context) error {
	return s.execute(ctx, "exec-next")
}

// StepOut runs until the current function returns.
func (s *Session) StepOut(ctx context.Context) error {
	return s.execute(ctx, "exec-finish")
}

// StepInstruction steps one machine instruction.
func (s *Session) StepInstruction(ctx context.Context) error {
	return s.execute(ctx, "exec-step-instruction")
}

// Interrupt halts a running inferior.
func (s *Session) Interrupt(ctx context.Context) error {
	return s.execute(ctx, "exec-interrupt")
}

func (s *Session) execute(ctx context.Context, command string) error {
	rec, err := s.SendTracked(ctx, command)
	if err != nil {
		return err
	}
	if rec.IsError() {
		return &CommandError{Command: command, Message: rec.Message()}
	}
	return nil
}

// SetBreakpoint inserts a breakpoint at file:line. It returns nil
// without an error when GDB refuses the location.
func (s *Session) SetBreakpoint(ctx context.Context, file string, line int) (*Breakpoint, error) {
	return s.insertBreakpoint(ctx, mi.QuoteArg(fmt.Sprintf("%s:%d", file, line)), BreakpointLine)
}

// SetAddressBreakpoint inserts a breakpoint at an instruction address.
func (s *Session) SetAddressBreakpoint(ctx context.Context, address string) (*Breakpoint, error) {
	return s.insertBreakpoint(ctx, "*"+address, BreakpointAddress)
}

func (s *Session) insertBreakpoint(ctx context.Context, location string, kind BreakpointKind) (*Breakpoint, error) {
	rec, err := s.SendTracked(ctx, "break-insert "+location)
	if err != nil {
		return nil, err
	}
	t, ok := rec.Data.Tuple("bkpt")
	if !rec.IsDone() || !ok {
		s.logger.Debug("breakpoint not set", zap.String("location", location), zap.String("msg", rec.Message()))
		return nil, nil
	}

	bp := breakpointFromTuple(t, kind)
	s.mu.Lock()
	stored := bp
	s.breakpoints[bp.ID] = &stored
	s.mu.Unlock()
	return &bp, nil
}

// RemoveBreakpoint deletes the breakpoint with the given number. GDB's
// answer is not checked.
func (s *Session) RemoveBreakpoint(ctx context.Context, id string) error {
	if _, err := s.SendTracked(ctx, "break-delete "+id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.breakpoints, id)
	s.mu.Unlock()
	return nil
}

// Breakpoints returns the breakpoints set through this session,
// ordered by number.
func (s *Session) Breakpoints() []Breakpoint {
	s.mu.Lock()
	out := make([]Breakpoint, 0, len(s.breakpoints))
	for _, bp := range s.breakpoints {
		out = append(out, *bp)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, errA := strconv.Atoi(out[i].ID)
		b, errB := strconv.Atoi(out[j].ID)
		if errA != nil || errB != nil {
			return out[i].ID < out[j].ID
		}
		return a < b
	})
	return out
}

// StackFrames returns the current backtrace, innermost first. An
// unusable answer yields an empty slice.
func (s *Session) StackFrames(ctx context.Context) ([]StackFrame, error) {
	rec, err := s.SendTracked(ctx, "stack-list-frames")
	if err != nil {
		return nil, err
	}
	stack, _ := rec.Data.List("stack")
	frames := make([]StackFrame, 0, len(stack))
	for _, v := range stack {
		if t, ok := mi.Unwrap(v).(mi.Tuple); ok {
			frames = append(frames, frameFromTuple(t))
		}
	}
	return frames, nil
}

// Registers returns all register values in hex, named where GDB
// reports a name for the register number.
func (s *Session) Registers(ctx context.Context) ([]RegisterValue, error) {
	names, err := s.registerNames(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := s.SendTracked(ctx, "data-list-register-values x")
	if err != nil {
		return nil, err
	}
	values, _ := rec.Data.List("register-values")
	regs := make([]RegisterValue, 0, len(values))
	for _, v := range values {
		t, ok := mi.Unwrap(v).(mi.Tuple)
		if !ok {
			continue
		}
		r := RegisterValue{Number: t.Const("number"), Value: t.Const("value")}
		if n, err := strconv.Atoi(r.Number); err == nil && n >= 0 && n < len(names) {
			r.Name = names[n]
		}
		regs = append(regs, r)
	}
	return regs, nil
}

// registerNames fetches and caches the register name table. A failed
// lookup is not cached.
func (s *Session) registerNames(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	names := s.regNames
	s.mu.Unlock()
	if names != nil {
		return names, nil
	}

	rec, err := s.SendTracked(ctx, "data-list-register-names")
	if err != nil {
		return nil, err
	}
	list, ok := rec.Data.List("register-names")
	if !rec.IsDone() || !ok {
		return nil, nil
	}
	names = make([]string, len(list))
	for i, v := range list {
		if c, ok := v.(mi.Const); ok {
			names[i] = string(c)
		}
	}
	s.mu.Lock()
	s.regNames = names
	s.mu.Unlock()
	return names, nil
}

// ReadMemory reads length bytes at address. A range GDB cannot read is
// reported in MemoryRead.Error rather than as an error.
func (s *Session) ReadMemory(ctx context.Context, address string, length int) (MemoryRead, error) {
	if length < 0 {
		return MemoryRead{}, ErrInvalidLength
	}
	rec, err := s.SendTracked(ctx, fmt.Sprintf("data-read-memory-bytes %s %d", address, length))
	if err != nil {
		return MemoryRead{}, err
	}

	if memory, ok := rec.Data.List("memory"); ok && len(memory) > 0 {
		if t, ok := mi.Unwrap(memory[0]).(mi.Tuple); ok {
			begin := t.Const("begin")
			if begin == "" {
				begin = address
			}
			return MemoryRead{Address: begin, Contents: t.Const("contents")}, nil
		}
	}

	failed := MemoryRead{Address: address, Error: "Failed to read memory"}
	if msg := rec.Message(); msg != "" {
		failed.Error += ": " + msg
	}
	return failed, nil
}
