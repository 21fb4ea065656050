// Package mi implements the subset of the GDB Machine Interface line
// protocol needed to drive a debugger session.
//
// # Records
//
// Every line GDB writes in MI mode is either a prompt, a result record,
// an async record, or a stream record:
//
//	^done,bkpt={number="1",type="breakpoint",addr="0x08048564"}
//	*stopped,reason="breakpoint-hit",bkptno="1",thread-id="1"
//	~"Breakpoint 1 at 0x401000: file main.asm, line 10.\n"
//	(gdb)
//
// ParseLine turns one such line into a *Record. The prompt yields nil.
// Stream records always carry their text under the "text" key.
//
// # Values
//
// Record payloads are trees of Value: Const (a string leaf), List, and
// Tuple. All leaves are strings; callers interpret addresses, numbers,
// and flags themselves:
//
//	rec := mi.ParseLine(`^done,bkpt={number="1",line="10"}`)
//	bkpt, _ := rec.Data.Tuple("bkpt")
//	fmt.Println(bkpt.Const("number")) // 1
//
// # Commands
//
// FormatCommand produces the wire form of a tokenized command:
//
//	mi.FormatCommand(7, "break-insert main.asm:10") // 7-break-insert main.asm:10
//
// # Leniency
//
// The parser never fails. Truncated or malformed fragments degrade to
// partial records. ParseLineStrict reports when that happened.
package mi
