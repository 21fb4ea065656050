package toolchain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// Severity is the importance of a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityHint    Severity = "hint"
)

// Diagnostic is one assembler or linker message.
type Diagnostic struct {
	File string

	// Line is 1-based.
	Line int

	// Column is 1-based, 0 when the tool did not report one.
	Column int

	Message  string
	Severity Severity
	Code     string
	Dialect  Dialect

	// Raw is the output line the diagnostic was parsed from.
	Raw string
}

// String formats the diagnostic the way compilers print them.
func (d Diagnostic) String() string {
	loc := fmt.Sprintf("%s:%d", d.File, d.Line)
	if d.Column > 0 {
		loc += fmt.Sprintf(":%d", d.Column)
	}
	msg := d.Message
	if d.Code != "" {
		msg = d.Code + ": " + msg
	}
	return fmt.Sprintf("%s: %s: %s", loc, d.Severity, msg)
}

// HasErrors reports whether any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	return lo.SomeBy(diags, func(d Diagnostic) bool { return d.Severity == SeverityError })
}

// CountBySeverity counts diagnostics of severity s.
func CountBySeverity(diags []Diagnostic, s Severity) int {
	return lo.CountBy(diags, func(d Diagnostic) bool { return d.Severity == s })
}

// Pattern is one regular expression of a matcher, with the capture group
// index of each field. A zero index means the pattern has no such group.
type Pattern struct {
	Expr     string
	File     int
	Line     int
	Column   int
	Severity int
	Code     int
	Message  int

	// DefaultSeverity applies when there is no severity group or its
	// text is not recognized.
	DefaultSeverity Severity
}

// MatcherDefinition is the ordered pattern list of one dialect.
// Patterns are tried most specific first.
type MatcherDefinition struct {
	Dialect  Dialect
	Patterns []Pattern
}

// Matcher is a compiled MatcherDefinition.
type Matcher struct {
	def      MatcherDefinition
	patterns []*compiledPattern
}

type compiledPattern struct {
	regex   *regexp.Regexp
	pattern Pattern
}

// Compile compiles a matcher definition.
func Compile(def MatcherDefinition) (*Matcher, error) {
	m := &Matcher{
		def:      def,
		patterns: make([]*compiledPattern, 0, len(def.Patterns)),
	}
	for i, p := range def.Patterns {
		re, err := regexp.Compile(p.Expr)
		if err != nil {
			return nil, fmt.Errorf("%s pattern %d: %w", def.Dialect, i, err)
		}
		m.patterns = append(m.patterns, &compiledPattern{regex: re, pattern: p})
	}
	return m, nil
}

// Match tries each pattern in order against a trimmed line. The first
// match wins.
func (m *Matcher) Match(line, defaultFile string) (Diagnostic, bool) {
	for _, p := range m.patterns {
		groups := p.regex.FindStringSubmatch(line)
		if groups == nil {
			continue
		}
		group := func(i int) string {
			if i > 0 && i < len(groups) {
				return groups[i]
			}
			return ""
		}

		d := Diagnostic{
			File:     defaultFile,
			Line:     1,
			Message:  strings.TrimSpace(group(p.pattern.Message)),
			Severity: normalizeSeverity(group(p.pattern.Severity), p.pattern.DefaultSeverity),
			Code:     group(p.pattern.Code),
			Dialect:  m.def.Dialect,
			Raw:      line,
		}
		if f := group(p.pattern.File); f != "" {
			d.File = f
		}
		if n, err := strconv.Atoi(group(p.pattern.Line)); err == nil && n > 0 {
			d.Line = n
		}
		if n, err := strconv.Atoi(group(p.pattern.Column)); err == nil {
			d.Column = n
		}
		return d, true
	}
	return Diagnostic{}, false
}

// Parse converts tool output to diagnostics. Lines that match no
// pattern are skipped.
func (m *Matcher) Parse(output, defaultFile string) []Diagnostic {
	var diags []Diagnostic
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if d, ok := m.Match(line, defaultFile); ok {
			diags = append(diags, d)
		}
	}
	return diags
}

func normalizeSeverity(text string, fallback Severity) Severity {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "error"), strings.Contains(lower, "fatal"):
		return SeverityError
	case strings.Contains(lower, "warning"):
		return SeverityWarning
	case strings.Contains(lower, "note"), strings.Contains(lower, "info"):
		return SeverityInfo
	case fallback != "":
		return fallback
	default:
		return SeverityError
	}
}

// MatcherRegistry holds one matcher per dialect.
type MatcherRegistry struct {
	mu       sync.RWMutex
	matchers map[Dialect]*Matcher
}

// NewMatcherRegistry creates a registry preloaded with the built-in
// matchers.
func NewMatcherRegistry() *MatcherRegistry {
	r := &MatcherRegistry{matchers: make(map[Dialect]*Matcher)}
	for _, def := range builtinMatchers {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
	return r
}

// Register compiles def and replaces the dialect's matcher.
func (r *MatcherRegistry) Register(def MatcherDefinition) error {
	m, err := Compile(def)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.matchers[def.Dialect] = m
	r.mu.Unlock()
	return nil
}

// Matcher returns the matcher for d, or nil.
func (r *MatcherRegistry) Matcher(d Dialect) *Matcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.matchers[d]
}

// Parse parses output with the matcher registered for d.
func (r *MatcherRegistry) Parse(output string, d Dialect, defaultFile string) []Diagnostic {
	m := r.Matcher(d)
	if m == nil {
		return nil
	}
	return m.Parse(output, defaultFile)
}

var defaultRegistry = NewMatcherRegistry()

// Parse parses assembler output with the built-in matcher for d.
func Parse(output string, d Dialect, defaultFile string) []Diagnostic {
	return defaultRegistry.Parse(output, d, defaultFile)
}

var builtinMatchers = []MatcherDefinition{
	{
		Dialect: DialectNASM,
		Patterns: []Pattern{
			// file:line:column: severity: message
			{Expr: `(?i)^(.+?):(\d+):(\d+):\s*(error|warning|fatal):\s*(.+)$`, File: 1, Line: 2, Column: 3, Severity: 4, Message: 5, DefaultSeverity: SeverityError},
			// file:line: severity: message
			{Expr: `(?i)^(.+?):(\d+):\s*(error|warning|fatal):\s*(.+)$`, File: 1, Line: 2, Severity: 3, Message: 4, DefaultSeverity: SeverityError},
		},
	},
	{
		Dialect: DialectGAS,
		Patterns: []Pattern{
			{Expr: `(?i)^(.+?):(\d+):(\d+):\s*(Error|Warning):\s*(.+)$`, File: 1, Line: 2, Column: 3, Severity: 4, Message: 5, DefaultSeverity: SeverityError},
			{Expr: `(?i)^(.+?):(\d+):\s*(Error|Warning):\s*(.+)$`, File: 1, Line: 2, Severity: 3, Message: 4, DefaultSeverity: SeverityError},
			// file:line: message
			{Expr: `^(.+?):(\d+):\s*(.+)$`, File: 1, Line: 2, Message: 3, DefaultSeverity: SeverityError},
		},
	},
	{
		Dialect: DialectLLVM,
		Patterns: []Pattern{
			{Expr: `(?i)^(.+?):(\d+):(\d+):\s*(error|warning|note):\s*(.+)$`, File: 1, Line: 2, Column: 3, Severity: 4, Message: 5, DefaultSeverity: SeverityError},
			// <stdin>:line: severity: message
			{Expr: `^<stdin>:(\d+):\s*(error|warning|note):\s*(.+)$`, Line: 1, Severity: 2, Message: 3, DefaultSeverity: SeverityError},
		},
	},
	{
		Dialect: DialectARM,
		Patterns: []Pattern{
			// "file", line N: Error: A1234E: message
			{Expr: `"(.+?)",\s*line\s*(\d+):\s*(Error|Warning):\s*(A\d+[EW]):\s*(.+)$`, File: 1, Line: 2, Severity: 3, Code: 4, Message: 5, DefaultSeverity: SeverityError},
			{Expr: `(?i)^(.+?):(\d+):\s*(error|warning):\s*(.+)$`, File: 1, Line: 2, Severity: 3, Message: 4, DefaultSeverity: SeverityError},
		},
	},
}
