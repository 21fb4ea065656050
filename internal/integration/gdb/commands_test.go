package gdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionExecutionControl(t *testing.T) {
	tests := []struct {
		name    string
		call    func(*Session, context.Context) error
		command string
	}{
		{"continue", (*Session).Continue, "exec-continue"},
		{"step in", (*Session).StepIn, "exec-step"},
		{"step over", (*Session).StepOver, "exec-next"},
		{"step out", (*Session).StepOut, "exec-finish"},
		{"step instruction", (*Session).StepInstruction, "exec-step-instruction"},
		{"interrupt", (*Session).Interrupt, "exec-interrupt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestSession(t, answer(map[string]string{"exec-": "running"}))
			ts.start(t, LaunchConfig{})

			require.NoError(t, tt.call(ts.Session, context.Background()))
			assert.Equal(t, []string{"1-" + tt.command}, ts.fake.lines())
		})
	}
}

func TestSessionExecutionError(t *testing.T) {
	ts := newTestSession(t, answer(map[string]string{
		"exec-continue": `error,msg="The program is not being run."`,
	}))
	ts.start(t, LaunchConfig{})

	err := ts.Continue(context.Background())
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "exec-continue", cmdErr.Command)
	assert.Equal(t, "The program is not being run.", cmdErr.Message)
	assert.Equal(t, "gdb exec-continue: The program is not being run.", err.Error())
}

const bkptDone = `done,bkpt={number="1",type="breakpoint",disp="keep",enabled="y",addr="0x0000000000401005",func="_start",file="hello.asm",fullname="/src/hello.asm",line="7",thread-groups=["i1"],times="0"}`

func TestSessionSetBreakpoint(t *testing.T) {
	ts := newTestSession(t, answer(map[string]string{"break-insert": bkptDone}))
	ts.start(t, LaunchConfig{})

	bp, err := ts.SetBreakpoint(context.Background(), "hello.asm", 7)
	require.NoError(t, err)
	require.NotNil(t, bp)
	assert.Equal(t, Breakpoint{
		ID:      "1",
		Kind:    BreakpointLine,
		Type:    "breakpoint",
		File:    "hello.asm",
		Line:    7,
		Address: "0x0000000000401005",
		Enabled: true,
	}, *bp)
	assert.Equal(t, []string{"1-break-insert hello.asm:7"}, ts.fake.lines())

	ts.fake.send(stoppedAtStart)
	require.Eventually(t, func() bool {
		bps := ts.Breakpoints()
		return len(bps) == 1 && bps[0].HitCount == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSessionSetBreakpointQuotesPath(t *testing.T) {
	ts := newTestSession(t, answer(map[string]string{"break-insert": bkptDone}))
	ts.start(t, LaunchConfig{})

	_, err := ts.SetBreakpoint(context.Background(), "my src/hello.asm", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{`1-break-insert "my src/hello.asm:3"`}, ts.fake.lines())
}

func TestSessionSetBreakpointRefused(t *testing.T) {
	ts := newTestSession(t, answer(map[string]string{
		"break-insert": `error,msg="No source file named nope.asm."`,
	}))
	ts.start(t, LaunchConfig{})

	bp, err := ts.SetBreakpoint(context.Background(), "nope.asm", 1)
	require.NoError(t, err)
	assert.Nil(t, bp)
	assert.Empty(t, ts.Breakpoints())
}

func TestSessionAddressBreakpoint(t *testing.T) {
	ts := newTestSession(t, answer(map[string]string{
		"break-insert": `done,bkpt={number="2",type="breakpoint",enabled="n",addr="0x401000"}`,
	}))
	ts.start(t, LaunchConfig{})

	bp, err := ts.SetAddressBreakpoint(context.Background(), "0x401000")
	require.NoError(t, err)
	require.NotNil(t, bp)
	assert.Equal(t, BreakpointAddress, bp.Kind)
	assert.Equal(t, "0x401000", bp.Address)
	assert.False(t, bp.Enabled)
	assert.Equal(t, []string{"1-break-insert *0x401000"}, ts.fake.lines())
}

func TestSessionRemoveBreakpoint(t *testing.T) {
	ts := newTestSession(t, answer(map[string]string{"break-insert": bkptDone}))
	ts.start(t, LaunchConfig{})
	ctx := context.Background()

	_, err := ts.SetBreakpoint(ctx, "hello.asm", 7)
	require.NoError(t, err)
	require.Len(t, ts.Breakpoints(), 1)

	require.NoError(t, ts.RemoveBreakpoint(ctx, "1"))
	assert.Empty(t, ts.Breakpoints())
	assert.Equal(t, "2-break-delete 1", ts.fake.lines()[1])
}

func TestSessionStackFrames(t *testing.T) {
	ts := newTestSession(t, answer(map[string]string{
		"stack-list-frames": `done,stack=[frame={level="0",addr="0x401010",func="print",file="lib.asm",fullname="/src/lib.asm",line="12"},frame={level="1",addr="0x401005",func="_start",file="hello.asm",line="7"}]`,
	}))
	ts.start(t, LaunchConfig{})

	frames, err := ts.StackFrames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []StackFrame{
		{Level: 0, Address: "0x401010", Func: "print", File: "lib.asm", Line: 12, FullName: "/src/lib.asm"},
		{Level: 1, Address: "0x401005", Func: "_start", File: "hello.asm", Line: 7},
	}, frames)
}

func TestSessionStackFramesNoStack(t *testing.T) {
	ts := newTestSession(t, answer(map[string]string{
		"stack-list-frames": `error,msg="No stack."`,
	}))
	ts.start(t, LaunchConfig{})

	frames, err := ts.StackFrames(context.Background())
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestSessionRegisters(t *testing.T) {
	ts := newTestSession(t, answer(map[string]string{
		"data-list-register-names":  `done,register-names=["rax","rbx",""]`,
		"data-list-register-values": `done,register-values=[{number="0",value="0x3c"},{number="1",value="0x0"},{number="2",value="0x1"}]`,
	}))
	ts.start(t, LaunchConfig{})
	ctx := context.Background()

	regs, err := ts.Registers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []RegisterValue{
		{Number: "0", Name: "rax", Value: "0x3c"},
		{Number: "1", Name: "rbx", Value: "0x0"},
		{Number: "2", Value: "0x1"},
	}, regs)

	_, err = ts.Registers(ctx)
	require.NoError(t, err)

	var nameLookups int
	for _, c := range ts.fake.commands() {
		if c == "data-list-register-names" {
			nameLookups++
		}
	}
	assert.Equal(t, 1, nameLookups)
	assert.Contains(t, ts.fake.commands(), "data-list-register-values x")
}

func TestSessionReadMemory(t *testing.T) {
	ts := newTestSession(t, answer(map[string]string{
		"data-read-memory-bytes 0x402000": `done,memory=[{begin="0x0000000000402000",offset="0x0000000000000000",end="0x0000000000402004",contents="48656c6c"}]`,
		"data-read-memory-bytes 0x0":      `error,msg="Unable to read memory."`,
		"data-read-memory-bytes $rsp":     `done,memory=[{contents="0100"}]`,
	}))
	ts.start(t, LaunchConfig{})
	ctx := context.Background()

	mem, err := ts.ReadMemory(ctx, "0x402000", 4)
	require.NoError(t, err)
	assert.Equal(t, "0x0000000000402000", mem.Address)
	assert.Equal(t, "48656c6c", mem.Contents)
	assert.Empty(t, mem.Error)
	b, err := mem.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("Hell"), b)
	assert.Equal(t, "1-data-read-memory-bytes 0x402000 4", ts.fake.lines()[0])

	mem, err = ts.ReadMemory(ctx, "0x0", 16)
	require.NoError(t, err)
	assert.Equal(t, "0x0", mem.Address)
	assert.Empty(t, mem.Contents)
	assert.Equal(t, "Failed to read memory: Unable to read memory.", mem.Error)

	mem, err = ts.ReadMemory(ctx, "$rsp", 2)
	require.NoError(t, err)
	assert.Equal(t, "$rsp", mem.Address)
	assert.Equal(t, "0100", mem.Contents)
	assert.Empty(t, mem.Error)

	_, err = ts.ReadMemory(ctx, "0x0", -1)
	assert.ErrorIs(t, err, ErrInvalidLength)
}
