package indexer

import (
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"sort"
	"strings"
)

// BoundaryDetector reports the indices of lines that start a top-level
// construct. Reported indices must be zero-indentation lines.
type BoundaryDetector interface {
	Boundaries(lines []string) []int
}

// PatternDetector matches top-level definitions with a regular expression.
// Comment or decorator lines matched by attach directly above a definition
// are pulled into its block.
type PatternDetector struct {
	start  *regexp.Regexp
	attach *regexp.Regexp
}

// NewPatternDetector compiles a detector. attach may be empty.
func NewPatternDetector(start, attach string) *PatternDetector {
	d := &PatternDetector{start: regexp.MustCompile(start)}
	if attach != "" {
		d.attach = regexp.MustCompile(attach)
	}
	return d
}

// Boundaries implements BoundaryDetector
func (d *PatternDetector) Boundaries(lines []string) []int {
	var out []int
	for i, line := range lines {
		if !isTopLevel(line) || !d.start.MatchString(line) {
			continue
		}
		out = append(out, d.pullAttached(lines, i))
	}
	return out
}

func (d *PatternDetector) pullAttached(lines []string, i int) int {
	if d.attach == nil {
		return i
	}
	for i > 0 && d.attach.MatchString(lines[i-1]) {
		i--
	}
	return i
}

func isTopLevel(line string) bool {
	return line != "" && line[0] != ' ' && line[0] != '\t'
}

// GoDetector uses the Go parser to find top-level declarations, doc
// comments included. Files that do not parse fall back to a pattern match.
type GoDetector struct {
	fallback *PatternDetector
}

// NewGoDetector creates a Go detector
func NewGoDetector() *GoDetector {
	return &GoDetector{
		fallback: NewPatternDetector(`^(func|type|var|const)\b`, `^//`),
	}
}

// Boundaries implements BoundaryDetector
func (d *GoDetector) Boundaries(lines []string) []int {
	src := strings.Join(lines, "\n")

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", src, parser.ParseComments)
	if err != nil {
		return d.fallback.Boundaries(lines)
	}

	var out []int
	for _, decl := range file.Decls {
		pos := decl.Pos()
		switch dd := decl.(type) {
		case *ast.FuncDecl:
			if dd.Doc != nil {
				pos = dd.Doc.Pos()
			}
		case *ast.GenDecl:
			if dd.Tok == token.IMPORT {
				continue
			}
			if dd.Doc != nil {
				pos = dd.Doc.Pos()
			}
		}

		idx := fset.Position(pos).Line - 1
		if idx >= 0 && idx < len(lines) && isTopLevel(lines[idx]) {
			out = append(out, idx)
		}
	}
	return out
}

// Detectors maps a lower-case file extension to its boundary detector.
type Detectors map[string]BoundaryDetector

// For returns the detector registered for ext, or nil.
func (d Detectors) For(ext string) BoundaryDetector {
	return d[strings.ToLower(ext)]
}

// Register adds or replaces the detector for the given extensions.
func (d Detectors) Register(det BoundaryDetector, exts ...string) {
	for _, ext := range exts {
		d[strings.ToLower(ext)] = det
	}
}

// Extensions returns the registered extensions in sorted order.
func (d Detectors) Extensions() []string {
	exts := make([]string, 0, len(d))
	for ext := range d {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// DefaultDetectors returns the built-in registry. Extensions without an
// entry are packed line by line.
func DefaultDetectors() Detectors {
	const slashComments = `^(//|/\*|\s+\*|\*/)`

	d := Detectors{}
	d.Register(NewGoDetector(), ".go")
	d.Register(NewPatternDetector(
		`^(async\s+def|def|class)\s+`,
		`^(@|#)`,
	), ".py")
	d.Register(NewPatternDetector(
		`^(export\s+(default\s+)?)?(declare\s+)?(abstract\s+)?(async\s+)?(function\*?|class|interface|type|enum|const|let|var)\s`,
		slashComments+`|^@`,
	), ".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx")
	d.Register(NewPatternDetector(
		`^(pub(\([^)]*\))?\s+)?(async\s+)?(unsafe\s+)?(fn|struct|enum|impl|trait|mod|type|const|static|macro_rules!)[\s<]`,
		slashComments+`|^#\[`,
	), ".rs")
	d.Register(NewPatternDetector(
		`^((public|private|protected|internal|abstract|final|sealed|static|data|open|partial)\s+)*(class|interface|enum|record|object|fun|namespace|struct)\s`,
		slashComments+`|^(@|\[)`,
	), ".java", ".kt", ".cs")
	d.Register(NewPatternDetector(
		`^(def|class|module)\s`,
		`^#`,
	), ".rb")
	d.Register(NewPatternDetector(
		`^((abstract|final)\s+)?(function|class|interface|trait|enum)\s`,
		slashComments+`|^#\[`,
	), ".php")
	d.Register(NewPatternDetector(
		`^(function\s+[\w-]+|[\w-]+\s*\(\)\s*\{?)`,
		`^#[^!]`,
	), ".sh", ".bash")
	return d
}
