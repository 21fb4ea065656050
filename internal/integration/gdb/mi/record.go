package mi

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the record type selected by a line's prefix character.
type Kind int

const (
	// KindResult is a "^" record answering a command.
	KindResult Kind = iota
	// KindExec is a "*" async record about execution state.
	KindExec
	// KindStatus is a "+" async progress record.
	KindStatus
	// KindNotify is a "=" async notification.
	KindNotify
	// KindConsole is a "~" stream record with CLI console output.
	KindConsole
	// KindTarget is a "@" stream record with target program output.
	KindTarget
	// KindLog is a "&" stream record with GDB's internal log.
	KindLog
)

var kindNames = [...]string{
	KindResult:  "result",
	KindExec:    "exec",
	KindStatus:  "status",
	KindNotify:  "notify",
	KindConsole: "console",
	KindTarget:  "target",
	KindLog:     "log",
}

var kindPrefixes = [...]byte{
	KindResult:  '^',
	KindExec:    '*',
	KindStatus:  '+',
	KindNotify:  '=',
	KindConsole: '~',
	KindTarget:  '@',
	KindLog:     '&',
}

// String returns the lowercase kind name.
func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// IsStream reports whether records of this kind carry free text.
func (k Kind) IsStream() bool {
	return k == KindConsole || k == KindTarget || k == KindLog
}

func kindForPrefix(c byte) (Kind, bool) {
	for k, p := range kindPrefixes {
		if p == c {
			return Kind(k), true
		}
	}
	return 0, false
}

// Well-known record classes.
const (
	ClassDone      = "done"
	ClassRunning   = "running"
	ClassConnected = "connected"
	ClassError     = "error"
	ClassExit      = "exit"
	ClassStopped   = "stopped"
	ClassOutput    = "output"
	ClassUnknown   = "unknown"
)

// Record is one parsed line of MI output.
type Record struct {
	Kind  Kind
	Class string

	// Token echoes the number of the command this record answers.
	// Only meaningful when HasToken is set.
	Token    uint64
	HasToken bool

	Data Tuple

	// Raw is the line exactly as received.
	Raw string
}

// Text returns the payload of a stream record.
func (r *Record) Text() string {
	return r.Data.Const("text")
}

// Message returns the "msg" field carried by error records.
func (r *Record) Message() string {
	return r.Data.Const("msg")
}

// IsError reports whether r is an error-class record.
func (r *Record) IsError() bool {
	return r != nil && r.Class == ClassError
}

// IsDone reports whether r is a successful result record.
func (r *Record) IsDone() bool {
	return r != nil && r.Kind == KindResult && r.Class == ClassDone
}

// Equal compares two records ignoring Raw.
func (r *Record) Equal(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.Kind == other.Kind &&
		r.Class == other.Class &&
		r.HasToken == other.HasToken &&
		r.Token == other.Token &&
		Equal(r.Data, other.Data)
}

// ErrorRecord builds a synthetic error-class result record, used when a
// command cannot be answered by the debugger itself.
func ErrorRecord(token uint64, msg string) *Record {
	return &Record{
		Kind:     KindResult,
		Class:    ClassError,
		Token:    token,
		HasToken: true,
		Data:     Tuple{{Name: "msg", Value: Const(msg)}},
	}
}

// String renders the record back to MI syntax.
func (r *Record) String() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	if r.HasToken {
		b.WriteString(strconv.FormatUint(r.Token, 10))
	}
	b.WriteByte(kindPrefixes[r.Kind])
	if r.Kind.IsStream() {
		b.WriteString(quote(r.Text()))
		return b.String()
	}
	b.WriteString(r.Class)
	if len(r.Data) > 0 {
		b.WriteByte(',')
		r.Data.writeFields(&b)
	}
	return b.String()
}
