package gdb

import "bytes"

// lineBuffer reassembles newline-terminated lines from arbitrary reads.
type lineBuffer struct {
	buf []byte
}

// Push appends p and returns every line it completed, without the
// newline. The unterminated tail is kept for the next call.
func (b *lineBuffer) Push(p []byte) []string {
	b.buf = append(b.buf, p...)

	var lines []string
	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(b.buf[:i]))
		b.buf = b.buf[i+1:]
	}
	if len(b.buf) == 0 {
		b.buf = nil
	}
	return lines
}

// Flush returns and clears the unterminated tail.
func (b *lineBuffer) Flush() string {
	s := string(b.buf)
	b.buf = nil
	return s
}
