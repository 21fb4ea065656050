package mi

import (
	"strconv"
	"strings"
)

// Arg is a "--name value" option appended to a command.
type Arg struct {
	Name  string
	Value string
}

// FormatCommand renders a tokenized MI command without the trailing
// newline. The command may already contain positional parameters.
func FormatCommand(token uint64, command string, args ...Arg) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(token, 10))
	b.WriteByte('-')
	b.WriteString(command)
	for _, a := range args {
		b.WriteString(" --")
		b.WriteString(a.Name)
		b.WriteByte(' ')
		b.WriteString(QuoteArg(a.Value))
	}
	return b.String()
}

// QuoteArg returns s unchanged unless it contains a space or a double
// quote, in which case it is quoted as a C string.
func QuoteArg(s string) string {
	if strings.ContainsAny(s, ` "`) {
		return quote(s)
	}
	return s
}

func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\', '"':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
