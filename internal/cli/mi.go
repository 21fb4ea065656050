package cli

import (
	"bufio"
	"fmt"
	"strconv"

	"github.com/dshills/asmforge/internal/integration/gdb/mi"
)

// MICmd decodes GDB/MI output, one record per line, and prints what the
// codec made of it.
type MICmd struct {
	Strict bool `help:"Report records whose payload had to be truncated"`
}

// Run executes the mi command.
func (c *MICmd) Run(g *Globals) error {
	sc := bufio.NewScanner(g.Stdin)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	incomplete := 0
	for sc.Scan() {
		line := sc.Text()
		var rec *mi.Record
		if c.Strict {
			var err error
			rec, err = mi.ParseLineStrict(line)
			if err != nil {
				incomplete++
				fmt.Fprintf(g.Stderr, "incomplete: %v\n", err)
			}
		} else {
			rec = mi.ParseLine(line)
		}
		if rec == nil {
			continue
		}
		fmt.Fprintln(g.Stdout, describeRecord(rec))
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if incomplete > 0 {
		return ErrFailed
	}
	return nil
}

func describeRecord(rec *mi.Record) string {
	token := "-"
	if rec.HasToken {
		token = strconv.FormatUint(rec.Token, 10)
	}
	if rec.Kind.IsStream() {
		return fmt.Sprintf("%s\t%s\t%q", rec.Kind, token, rec.Text())
	}
	return fmt.Sprintf("%s\t%s\t%s\t%s", rec.Kind, token, rec.Class, rec.Data)
}
