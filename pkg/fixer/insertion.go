package fixer

import (
	"regexp"
	"slices"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/nwiizo/instrument-rs-sub000/pkg/ast"
	"github.com/nwiizo/instrument-rs-sub000/pkg/detector"
)

const useInstrument = "use tracing::instrument;"

var (
	// Imports that already bring the instrument macro into scope.
	importsInstrument = regexp.MustCompile(`(?m)^\s*(pub\s+)?use\s+tracing::(instrument|\*)\s*;|use\s+tracing::\{[^}]*(\binstrument\b|\*)`)
	fnLine            = regexp.MustCompile(`^\s*(pub(\([^)]*\))?\s+)?((const|async|unsafe|default)\s+)*(extern\s+("[^"]*"\s+)?)?fn\s+[A-Za-z_]`)
)

// insertion adds text as a new line before lines[line]. Lines are
// 0-based indices into the original file.
type insertion struct {
	line  int
	text  string
	isUse bool
}

// planner locates insertion points in one file. The syntax tree is used
// when the file parses; otherwise planning falls back to a line scan.
type planner struct {
	path  string
	text  string
	lines []string
	eol   string
	file  *ast.SourceFile
}

func newPlanner(path string, content []byte) *planner {
	p := &planner{
		path:  path,
		text:  string(content),
		lines: strings.Split(string(content), "\n"),
	}
	if strings.Contains(p.text, "\r\n") {
		p.eol = "\r"
	}
	if f, err := ast.Parse(path, content); err == nil {
		p.file = f
	}
	return p
}

func (p *planner) close() {
	if p.file != nil {
		p.file.Close()
	}
}

// plan returns the insertion for gap, or a skip reason.
func (p *planner) plan(gap detector.Gap) (insertion, string) {
	attr := extractAttribute(gap.SuggestedFix)
	if attr == "" {
		return insertion{}, ReasonNoFix
	}
	target := gap.Location.StartLine - 1
	if target < 0 || target >= len(p.lines) {
		return insertion{}, ReasonNoFunction
	}

	top, ok := p.boundaryFromTree(target)
	if !ok {
		if !fnLine.MatchString(p.lines[target]) {
			return insertion{}, ReasonNoFunction
		}
		top = p.boundaryFromLines(target)
	}
	return insertion{line: top, text: indentation(p.lines[target]) + attr + p.eol}, ""
}

// boundaryFromTree finds the function item starting on row and walks back
// over its outer attributes and doc comments.
func (p *planner) boundaryFromTree(row int) (int, bool) {
	if p.file == nil {
		return 0, false
	}
	var fn *sitter.Node
	ast.Inspect(p.file.Root(), func(n *sitter.Node) bool {
		if fn != nil {
			return false
		}
		if int(n.StartPoint().Row) > row || int(n.EndPoint().Row) < row {
			return false
		}
		if (n.Type() == "function_item" || n.Type() == "function_signature_item") && int(n.StartPoint().Row) == row {
			fn = n
			return false
		}
		return true
	})
	if fn == nil {
		return 0, false
	}

	top := row
	for prev := fn.PrevSibling(); prev != nil; prev = prev.PrevSibling() {
		start, end := int(prev.StartPoint().Row), endRow(prev)
		if end < top-1 || !p.ownLine(start, int(prev.StartPoint().Column)) {
			break
		}
		if !isOuterDecoration(prev, p.file.Content) {
			break
		}
		top = start
	}
	return top, true
}

// boundaryFromLines scans upward from the fn line past attribute and doc
// comment lines. Multi-line attributes are crossed by bracket balance.
func (p *planner) boundaryFromLines(row int) int {
	top := row
	depth := 0
	for i := row - 1; i >= 0; i-- {
		t := strings.TrimSpace(p.lines[i])
		depth += strings.Count(t, "]") - strings.Count(t, "[")
		switch {
		case depth > 0:
			top = i
		case strings.HasPrefix(t, "#[") || strings.HasPrefix(t, "///"):
			top = i
			depth = 0
		default:
			return top
		}
	}
	return top
}

func (p *planner) ownLine(row, col int) bool {
	if row >= len(p.lines) || col > len(p.lines[row]) {
		return false
	}
	return strings.TrimSpace(p.lines[row][:col]) == ""
}

// endRow is the last row holding text of n. Line comments may end at
// column 0 of the following row.
func endRow(n *sitter.Node) int {
	end := n.EndPoint()
	if end.Column == 0 && end.Row > n.StartPoint().Row {
		return int(end.Row) - 1
	}
	return int(end.Row)
}

func isOuterDecoration(n *sitter.Node, content []byte) bool {
	switch n.Type() {
	case "attribute_item":
		return true
	case "line_comment":
		text := ast.NodeText(n, content)
		return strings.HasPrefix(text, "///") && !strings.HasPrefix(text, "////")
	case "block_comment":
		text := ast.NodeText(n, content)
		return strings.HasPrefix(text, "/**") && !strings.HasPrefix(text, "/***")
	}
	return false
}

// useDirective returns the insertion that imports the instrument macro,
// or false when the file already imports it.
func (p *planner) useDirective() (insertion, bool) {
	if importsInstrument.MatchString(p.text) {
		return insertion{}, false
	}
	return insertion{line: p.useLine(), text: useInstrument + p.eol, isUse: true}, true
}

// useLine places the import after the last top-level use declaration, or
// else after the crate's inner attributes and inner doc comments.
func (p *planner) useLine() int {
	if p.file == nil {
		return p.useLineFromText()
	}
	root := p.file.Root()
	last := -1
	for i := 0; i < int(root.NamedChildCount()); i++ {
		if n := root.NamedChild(i); n.Type() == "use_declaration" {
			last = endRow(n)
		}
	}
	if last >= 0 {
		return last + 1
	}

	line := 0
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		text := ast.NodeText(n, p.file.Content)
		inner := n.Type() == "inner_attribute_item" ||
			(n.Type() == "line_comment" && strings.HasPrefix(text, "//!")) ||
			(n.Type() == "block_comment" && strings.HasPrefix(text, "/*!"))
		if !inner {
			break
		}
		line = endRow(n) + 1
	}
	return line
}

func (p *planner) useLineFromText() int {
	last := -1
	header := 0
	inHeader := true
	for i, l := range p.lines {
		t := strings.TrimSpace(l)
		if strings.HasPrefix(t, "use ") || strings.HasPrefix(t, "pub use ") {
			if strings.HasSuffix(t, ";") {
				last = i
			}
			continue
		}
		if inHeader {
			if strings.HasPrefix(t, "#![") || strings.HasPrefix(t, "//!") {
				header = i + 1
			} else if t != "" {
				inHeader = false
			}
		}
	}
	if last >= 0 {
		return last + 1
	}
	return header
}

// extractAttribute returns the first attribute line of a suggested fix.
func extractAttribute(fix string) string {
	for _, l := range strings.Split(fix, "\n") {
		if t := strings.TrimSpace(l); strings.HasPrefix(t, "#[") {
			return t
		}
	}
	return ""
}

func indentation(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

// sortForApply orders insertions by line descending so that each insert
// leaves the indices of those still to come intact. On a shared line the
// use directive goes last, which puts it first in the output.
func sortForApply(inserts []insertion) []insertion {
	out := slices.Clone(inserts)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].line != out[j].line {
			return out[i].line > out[j].line
		}
		return !out[i].isUse && out[j].isUse
	})
	return out
}

// apply returns the original lines with inserts applied, joined back
// into file content.
func apply(lines []string, inserts []insertion) []byte {
	out := slices.Clone(lines)
	for _, ins := range sortForApply(inserts) {
		out = slices.Insert(out, ins.line, ins.text)
	}
	return []byte(strings.Join(out, "\n"))
}
