package mi

import (
	"fmt"
	"strconv"
	"strings"
)

// Prompt is the line GDB prints when it is ready for input.
const Prompt = "(gdb)"

// ParseLine parses one line of MI output. It returns nil for blank lines
// and the prompt. Malformed input never fails: lines with an unknown
// prefix become console records, and broken values are truncated.
func ParseLine(line string) *Record {
	rec, _ := parseLine(line)
	return rec
}

// ParseLineStrict is ParseLine but returns ErrIncomplete, along with the
// partial record, when any part of the payload had to be dropped.
func ParseLineStrict(line string) (*Record, error) {
	rec, complete := parseLine(line)
	if !complete {
		return rec, fmt.Errorf("%w: %q", ErrIncomplete, line)
	}
	return rec, nil
}

func parseLine(line string) (*Record, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || trimmed == Prompt {
		return nil, true
	}

	rec := &Record{Raw: line}

	digits := 0
	for digits < len(trimmed) && isDigit(trimmed[digits]) {
		digits++
	}
	if digits > 0 {
		if tok, err := strconv.ParseUint(trimmed[:digits], 10, 64); err == nil {
			rec.Token = tok
			rec.HasToken = true
		}
	}
	rest := trimmed[digits:]

	rec.Kind = KindConsole
	if rest != "" {
		if k, ok := kindForPrefix(rest[0]); ok {
			rec.Kind = k
			rest = rest[1:]
		}
	}

	if rec.Kind.IsStream() {
		rec.Class = ClassOutput
		text := rest
		complete := true
		if strings.HasPrefix(rest, `"`) {
			p := &parser{s: rest}
			text = p.cstring()
			complete = !p.dropped
		}
		rec.Data = Tuple{{Name: "text", Value: Const(text)}}
		return rec, complete
	}

	class := identifier(rest)
	if class == "" {
		rec.Class = ClassUnknown
		rec.Data = Tuple{}
		return rec, rest == ""
	}
	rec.Class = class

	p := &parser{s: rest[len(class):]}
	rec.Data = p.results()
	return rec, !p.dropped
}

// parser is a single-lookahead recursive descent parser over the
// payload of a result or async record.
type parser struct {
	s       string
	pos     int
	dropped bool
}

func (p *parser) eof() bool  { return p.pos >= len(p.s) }
func (p *parser) peek() byte { return p.s[p.pos] }

func (p *parser) skipSeparators() {
	for !p.eof() && (p.peek() == ',' || p.peek() == ' ') {
		p.pos++
	}
}

// results parses the top-level name=value sequence.
func (p *parser) results() Tuple {
	t := Tuple{}
	p.skipSeparators()
	for !p.eof() {
		name, ok := p.key()
		if !ok {
			p.dropped = true
			break
		}
		v, _ := p.value()
		t.Set(name, v)
		p.skipSeparators()
	}
	return t
}

// key consumes "name=" and returns name. The position is left untouched
// when the input does not start with a key.
func (p *parser) key() (string, bool) {
	name := identifier(p.s[p.pos:])
	if name == "" || !isKeyStart(name[0]) {
		return "", false
	}
	i := p.pos + len(name)
	for i < len(p.s) && p.s[i] == ' ' {
		i++
	}
	if i >= len(p.s) || p.s[i] != '=' {
		return "", false
	}
	p.pos = i + 1
	return name, true
}

// value parses one value. The boolean is false when nothing could be
// consumed.
func (p *parser) value() (Value, bool) {
	if p.eof() {
		p.dropped = true
		return Const(""), false
	}
	switch p.peek() {
	case '"':
		return Const(p.cstring()), true
	case '[':
		return p.list(), true
	case '{':
		return p.tuple(), true
	}

	start := p.pos
	for !p.eof() && !strings.ContainsRune(",}]", rune(p.peek())) {
		p.pos++
	}
	if p.pos == start {
		p.dropped = true
		return Const(""), false
	}
	return Const(strings.TrimSpace(p.s[start:p.pos])), true
}

func (p *parser) list() List {
	p.pos++ // [
	l := List{}
	for !p.eof() && p.peek() != ']' {
		p.skipSeparators()
		if p.eof() || p.peek() == ']' {
			break
		}
		if name, ok := p.key(); ok {
			v, _ := p.value()
			l = append(l, Tuple{{Name: name, Value: v}})
			continue
		}
		v, ok := p.value()
		if !ok {
			break
		}
		l = append(l, v)
	}
	p.close(']')
	return l
}

func (p *parser) tuple() Tuple {
	p.pos++ // {
	t := Tuple{}
	for !p.eof() && p.peek() != '}' {
		p.skipSeparators()
		if p.eof() || p.peek() == '}' {
			break
		}
		name, ok := p.key()
		if !ok {
			p.dropped = true
			break
		}
		v, _ := p.value()
		t.Set(name, v)
	}
	p.close('}')
	return t
}

func (p *parser) close(c byte) {
	if !p.eof() && p.peek() == c {
		p.pos++
		return
	}
	p.dropped = true
}

// cstring consumes a double-quoted string starting at the current
// position and returns it unescaped.
func (p *parser) cstring() string {
	p.pos++ // opening quote
	var b strings.Builder
	for !p.eof() {
		c := p.peek()
		switch {
		case c == '\\' && p.pos+1 < len(p.s):
			b.WriteByte(unescape(p.s[p.pos+1]))
			p.pos += 2
		case c == '"':
			p.pos++
			return b.String()
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	p.dropped = true
	return b.String()
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return c
	}
}

// identifier returns the leading run of letters, digits, '_' and '-'
// that starts with a letter or underscore.
func identifier(s string) string {
	if s == "" || !isKeyStart(s[0]) {
		return ""
	}
	i := 1
	for i < len(s) && (isKeyStart(s[i]) || isDigit(s[i]) || s[i] == '-') {
		i++
	}
	return s[:i]
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isKeyStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
