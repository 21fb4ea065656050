package toolchain

import (
	"fmt"
	"math"
	"regexp"
)

// Indicator is one syntax feature that suggests a dialect.
type Indicator struct {
	Name    string
	Pattern string
	Weight  int
}

// IndicatorTable maps each dialect to its indicators.
type IndicatorTable map[Dialect][]Indicator

// DefaultIndicators is the built-in scoring table.
var DefaultIndicators = IndicatorTable{
	DialectNASM: {
		{Name: "section directive", Pattern: `(?i)\bsection\s+\.\w+`, Weight: 2},
		{Name: "data declaration", Pattern: `(?i)\bdb\s+|dw\s+|dd\s+|dq\s+`, Weight: 2},
		{Name: "reservation", Pattern: `(?i)\bresb\s+|resw\s+|resd\s+|resq\s+`, Weight: 2},
		{Name: "equ", Pattern: `(?i)\bequ\s+`, Weight: 1},
		{Name: "%include", Pattern: `(?i)%include\s+`, Weight: 2},
		{Name: "%define/%macro", Pattern: `(?i)%define\s+|%macro\s+`, Weight: 2},
	},
	DialectGAS: {
		{Name: "dot directive line", Pattern: `(?m)^\s*\.\w+\s`, Weight: 2},
		{Name: "data directive", Pattern: `(?i)\.\s*(byte|short|long|quad|ascii|asciz)`, Weight: 2},
		{Name: "symbol directive", Pattern: `(?i)\.\s*(global|globl|extern)`, Weight: 1},
		{Name: "% register", Pattern: `%\w+`, Weight: 1},
		{Name: "$ immediate", Pattern: `\$\d+`, Weight: 1},
	},
	DialectLLVM: {
		{Name: "function labels", Pattern: `(?i)\.Lfunc_begin|\.Lfunc_end`, Weight: 3},
		{Name: "cfi directive", Pattern: `(?i)\.cfi_\w+`, Weight: 1},
	},
	DialectARM: {
		{Name: "AREA/ENTRY/END", Pattern: `(?im)\bAREA\s+|ENTRY\s+|END\s*$`, Weight: 3},
		{Name: "DCB/DCD/DCW", Pattern: `(?i)\bDCB\s+|DCD\s+|DCW\s+`, Weight: 2},
	},
}

// noEvidenceConfidence is the raw confidence when nothing matched,
// before the usual scaling.
const noEvidenceConfidence = 0.25

// Detection is the result of dialect detection.
type Detection struct {
	Dialect    Dialect
	Confidence float64
	Scores     map[Dialect]int

	// Matched names the indicators that fired for the winning dialect.
	Matched []string
}

type compiledIndicator struct {
	Indicator
	re *regexp.Regexp
}

// Detector scores source text against an indicator table.
type Detector struct {
	order      []Dialect
	indicators map[Dialect][]compiledIndicator
}

// NewDetector compiles table. Dialects are ranked in the order given by
// Dialects; ties go to the earlier one.
func NewDetector(table IndicatorTable) (*Detector, error) {
	d := &Detector{
		order:      Dialects,
		indicators: make(map[Dialect][]compiledIndicator, len(table)),
	}
	for dialect, inds := range table {
		for _, ind := range inds {
			re, err := regexp.Compile(ind.Pattern)
			if err != nil {
				return nil, fmt.Errorf("indicator %q for %s: %w", ind.Name, dialect, err)
			}
			d.indicators[dialect] = append(d.indicators[dialect], compiledIndicator{Indicator: ind, re: re})
		}
	}
	return d, nil
}

// Detect guesses the dialect of source. Each indicator counts once, no
// matter how often it matches. Confidence is the winner's share of the
// total score scaled by 1.5 and capped at 1.
func (d *Detector) Detect(source string) Detection {
	res := Detection{
		Dialect: d.order[0],
		Scores:  make(map[Dialect]int, len(d.order)),
	}
	matched := make(map[Dialect][]string, len(d.order))

	total := 0
	for _, dialect := range d.order {
		for _, ind := range d.indicators[dialect] {
			if ind.re.MatchString(source) {
				res.Scores[dialect] += ind.Weight
				matched[dialect] = append(matched[dialect], ind.Name)
			}
		}
		total += res.Scores[dialect]
	}

	best := res.Scores[res.Dialect]
	for _, dialect := range d.order[1:] {
		if res.Scores[dialect] > best {
			best = res.Scores[dialect]
			res.Dialect = dialect
		}
	}
	res.Matched = matched[res.Dialect]

	raw := noEvidenceConfidence
	if total > 0 {
		raw = float64(best) / float64(total)
	}
	res.Confidence = math.Min(raw*1.5, 1)
	return res
}

var defaultDetector = mustDetector(DefaultIndicators)

func mustDetector(table IndicatorTable) *Detector {
	d, err := NewDetector(table)
	if err != nil {
		panic(err)
	}
	return d
}

// DetectDialect guesses the dialect of source with the built-in table.
func DetectDialect(source string) Detection {
	return defaultDetector.Detect(source)
}
