package toolchain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_NASM(t *testing.T) {
	diags := Parse("test.asm:10: error: invalid combination of opcode and operands", DialectNASM, "test.asm")
	require.Len(t, diags, 1)

	d := diags[0]
	assert.Equal(t, "test.asm", d.File)
	assert.Equal(t, 10, d.Line)
	assert.Equal(t, 0, d.Column)
	assert.Equal(t, SeverityError, d.Severity)
	assert.Contains(t, d.Message, "invalid combination")
	assert.Equal(t, DialectNASM, d.Dialect)
	assert.Equal(t, "test.asm:10: error: invalid combination of opcode and operands", d.Raw)
}

func TestParse_NASMMixedBlock(t *testing.T) {
	out := `test.asm:3: error: symbol 'foo' undefined
test.asm:7: warning: label alone on a line without a colon might be in error [-w+label-orphan]

test.asm:12: fatal: unable to open include file 'x.inc'`

	diags := Parse(out, DialectNASM, "test.asm")
	require.Len(t, diags, 3)
	assert.Equal(t, 2, CountBySeverity(diags, SeverityError))
	assert.Equal(t, 1, CountBySeverity(diags, SeverityWarning))
	assert.Equal(t, []int{3, 7, 12}, []int{diags[0].Line, diags[1].Line, diags[2].Line})
	assert.True(t, HasErrors(diags))
}

func TestParse_NASMColumnFirst(t *testing.T) {
	diags := Parse("src/boot.asm:4:9: warning: byte data exceeds bounds", DialectNASM, "x.asm")
	require.Len(t, diags, 1)
	assert.Equal(t, "src/boot.asm", diags[0].File)
	assert.Equal(t, 4, diags[0].Line)
	assert.Equal(t, 9, diags[0].Column)
	assert.Equal(t, SeverityWarning, diags[0].Severity)
}

func TestParse_GAS(t *testing.T) {
	out := `hello.s: Assembler messages:
hello.s:5: Error: no such instruction: 'movq %rax,%rbx,%rcx'
hello.s:9: Warning: .space repeat count is zero, ignored
hello.s:11: junk at end of line, first unrecognized character is ','`

	diags := Parse(out, DialectGAS, "hello.s")
	require.Len(t, diags, 3)
	assert.Equal(t, SeverityError, diags[0].Severity)
	assert.Equal(t, "no such instruction: 'movq %rax,%rbx,%rcx'", diags[0].Message)
	assert.Equal(t, SeverityWarning, diags[1].Severity)
	assert.Equal(t, 11, diags[2].Line)
	assert.Equal(t, SeverityError, diags[2].Severity)
}

func TestParse_LLVM(t *testing.T) {
	diags := Parse("test.s:15:8: error: unknown token in expression", DialectLLVM, "test.s")
	require.Len(t, diags, 1)
	assert.Equal(t, 15, diags[0].Line)
	assert.Equal(t, 8, diags[0].Column)
	assert.Equal(t, SeverityError, diags[0].Severity)

	diags = Parse("<stdin>:3: note: while in macro instantiation", DialectLLVM, "main.s")
	require.Len(t, diags, 1)
	assert.Equal(t, "main.s", diags[0].File)
	assert.Equal(t, 3, diags[0].Line)
	assert.Equal(t, SeverityInfo, diags[0].Severity)
}

func TestParse_ARM(t *testing.T) {
	diags := Parse(`"boot.s", line 42: Error: A1163E: Unknown opcode FOO , expecting opcode or Macro`, DialectARM, "x.s")
	require.Len(t, diags, 1)
	d := diags[0]
	assert.Equal(t, "boot.s", d.File)
	assert.Equal(t, 42, d.Line)
	assert.Equal(t, "A1163E", d.Code)
	assert.Equal(t, SeverityError, d.Severity)
	assert.Equal(t, "boot.s:42: error: A1163E: Unknown opcode FOO , expecting opcode or Macro", d.String())

	diags = Parse("main.s:3: WARNING: deprecated", DialectARM, "main.s")
	require.Len(t, diags, 1)
	assert.Equal(t, SeverityWarning, diags[0].Severity)
}

func TestParse_SkipsNoise(t *testing.T) {
	assert.Empty(t, Parse("\n\n   \nnasm: fatal: no input file specified\n", DialectGAS, "a.s"))
	assert.Empty(t, Parse("anything", Dialect("z80"), "a.s"))
}

func TestNormalizeSeverity(t *testing.T) {
	tests := []struct {
		text     string
		fallback Severity
		want     Severity
	}{
		{"Error", SeverityWarning, SeverityError},
		{"FATAL", SeverityWarning, SeverityError},
		{"warning", SeverityError, SeverityWarning},
		{"note", SeverityError, SeverityInfo},
		{"Info", SeverityError, SeverityInfo},
		{"remark", SeverityHint, SeverityHint},
		{"", "", SeverityError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeSeverity(tt.text, tt.fallback), tt.text)
	}
}

func TestMatcherRegistry_Register(t *testing.T) {
	r := NewMatcherRegistry()
	err := r.Register(MatcherDefinition{
		Dialect: DialectNASM,
		Patterns: []Pattern{
			{Expr: `^L(\d+) (.+)$`, Line: 1, Message: 2, DefaultSeverity: SeverityHint},
		},
	})
	require.NoError(t, err)

	diags := r.Parse("L7 consider using xor", DialectNASM, "a.asm")
	require.Len(t, diags, 1)
	assert.Equal(t, "a.asm", diags[0].File)
	assert.Equal(t, 7, diags[0].Line)
	assert.Equal(t, SeverityHint, diags[0].Severity)

	// The package-level registry is unaffected.
	assert.Empty(t, Parse("L7 consider using xor", DialectNASM, "a.asm"))

	err = r.Register(MatcherDefinition{Dialect: DialectGAS, Patterns: []Pattern{{Expr: `(`}}})
	assert.Error(t, err)
}

func TestMatcher_DefaultLine(t *testing.T) {
	m, err := Compile(MatcherDefinition{
		Dialect:  DialectGAS,
		Patterns: []Pattern{{Expr: `^fatal: (.+)$`, Message: 1}},
	})
	require.NoError(t, err)

	d, ok := m.Match("fatal: out of memory", "x.s")
	require.True(t, ok)
	assert.Equal(t, 1, d.Line)
	assert.Equal(t, "x.s", d.File)
	assert.Equal(t, SeverityError, d.Severity)
}
