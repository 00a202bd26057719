package detector

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/nwiizo/instrument-rs-sub000/pkg/ast"
	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

var (
	spanMacros = []string{
		"tracing::span!", "span!(", "info_span!", "debug_span!",
		"trace_span!", "warn_span!", "error_span!",
	}
	logMacros = []string{
		"tracing::info!", "tracing::debug!", "tracing::warn!", "tracing::error!", "tracing::trace!",
		"log::info!", "log::debug!", "log::warn!", "log::error!", "log::trace!",
		"info!(", "debug!(", "warn!(", "error!(", "trace!(",
	}
	metricsMacros = []string{
		"counter!", "gauge!", "histogram!",
		"metrics::counter", "metrics::gauge", "metrics::histogram", "prometheus::",
	}
	sensitiveWords = []string{"password", "token", "secret", "key", "credential"}
	largeFields    = []string{"request", "response", "body"}
)

var (
	instrumentName = regexp.MustCompile(`\bname\s*=\s*"([^"]*)"`)
	stringLiteral  = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
)

// FindExisting scans every file for existing instrumentation.
func FindExisting(files []*ast.SourceFile) []Existing {
	var out []Existing
	for _, f := range files {
		out = append(out, ScanFile(f)...)
	}
	return out
}

// ScanFile finds instrumentation attributes, span macros, log macros and
// metrics calls in file, line by line. Attribute macros are attached to
// the function they annotate and manual spans to the function enclosing
// them.
func ScanFile(file *ast.SourceFile) []Existing {
	fns := functionSpans(file)
	lines := file.Lines()

	var out []Existing
	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" || strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "use ") {
			continue
		}
		lineNo := i + 1
		loc := types.Location{
			File:        file.Path,
			StartLine:   lineNo,
			StartColumn: len(lines[i]) - len(strings.TrimLeft(lines[i], " \t")) + 1,
			EndLine:     lineNo,
			EndColumn:   len(lines[i]) + 1,
		}

		if strings.HasPrefix(trimmed, "#[instrument") || strings.HasPrefix(trimmed, "#[tracing::instrument") {
			attr, last := joinAttribute(lines, i)
			loc.EndLine = last + 1
			loc.EndColumn = len(lines[last]) + 1
			fn := nextFunction(fns, loc.EndLine)
			name := fn
			if m := instrumentName.FindStringSubmatch(attr); m != nil {
				name = m[1]
			}
			out = append(out, Existing{
				Location:  loc,
				Function:  fn,
				Kind:      ExistingAttributeMacro,
				SpanName:  name,
				Attribute: attr,
				Quality:   AssessQuality(attr),
			})
			i = last
			continue
		}

		if containsAny(trimmed, spanMacros) {
			e := Existing{
				Location: loc,
				Function: enclosingFunction(fns, lineNo),
				Kind:     ExistingManualSpan,
				Quality:  perfect(),
			}
			if m := stringLiteral.FindStringSubmatch(trimmed); m != nil {
				e.SpanName = m[1]
			}
			out = append(out, e)
		}
		if containsAny(trimmed, logMacros) {
			out = append(out, Existing{Location: loc, Kind: ExistingLogMacro, Quality: perfect()})
		}
		if containsAny(trimmed, metricsMacros) {
			out = append(out, Existing{Location: loc, Kind: ExistingMetrics, Quality: perfect()})
		}
	}
	return out
}

func perfect() Quality {
	return Quality{Score: 1, Issues: []QualityIssue{}}
}

// joinAttribute returns the attribute starting at lines[start], joined
// onto one line, and the index of the line it ends on.
func joinAttribute(lines []string, start int) (string, int) {
	var b strings.Builder
	depth := 0
	inString := false
	for i := start; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if i > start {
			b.WriteByte(' ')
		}
		b.WriteString(line)
		for j := 0; j < len(line); j++ {
			switch c := line[j]; {
			case inString && c == '\\':
				j++
			case c == '"':
				inString = !inString
			case inString:
			case c == '[':
				depth++
			case c == ']':
				depth--
			}
		}
		if depth <= 0 {
			return b.String(), i
		}
	}
	return b.String(), len(lines) - 1
}

// AssessQuality grades an instrumentation attribute. The score starts at
// 1 and loses 0.2 for large fields recorded without skip, 0.3 for each
// sensitive word recorded without skip and 0.1 when errors are not
// recorded. It never drops below 0.
func AssessQuality(attr string) Quality {
	q := perfect()
	lower := strings.ToLower(attr)
	keys := AttributeKeys(attr)
	skips := strings.Contains(lower, "skip")

	if !skips && containsAny(lower, largeFields) {
		q.Issues = append(q.Issues, QualityIssue{
			Kind:    IssueMissingSkip,
			Message: "Large fields should use skip or skip_all",
		})
		q.Score -= 0.2
	}
	if !skips {
		for _, word := range sensitiveWords {
			if strings.Contains(lower, word) {
				q.Issues = append(q.Issues, QualityIssue{
					Kind:    IssueSensitiveData,
					Message: fmt.Sprintf("Sensitive field '%s' should be skipped or redacted", word),
				})
				q.Score -= 0.3
			}
		}
	}
	if !keys["err"] {
		q.Issues = append(q.Issues, QualityIssue{
			Kind:    IssueNoErrorHandling,
			Message: "Consider adding err to record returned errors",
		})
		q.Score -= 0.1
	}
	q.Score = math.Max(0, q.Score)
	return q
}

// AttributeKeys returns the top-level argument names of an attribute such
// as `#[instrument(name = "x", skip(self), err)]`: name, skip and err.
func AttributeKeys(attr string) map[string]bool {
	keys := make(map[string]bool)
	open := strings.IndexByte(attr, '(')
	if open < 0 {
		return keys
	}
	args := attr[open+1:]
	if end := strings.LastIndexByte(args, ')'); end >= 0 {
		args = args[:end]
	}

	depth := 0
	inString := false
	partStart := 0
	add := func(part string) {
		part = strings.TrimSpace(part)
		if i := strings.IndexAny(part, "=("); i >= 0 {
			part = strings.TrimSpace(part[:i])
		}
		if part != "" {
			keys[part] = true
		}
	}
	for i := 0; i < len(args); i++ {
		switch c := args[i]; {
		case inString && c == '\\':
			i++
		case c == '"':
			inString = !inString
		case inString:
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == ',' && depth == 0:
			add(args[partStart:i])
			partStart = i + 1
		}
	}
	add(args[partStart:])
	return keys
}

type fnSpan struct {
	name       string
	start, end int
}

// functionSpans lists the file's functions in source order.
func functionSpans(file *ast.SourceFile) []fnSpan {
	root := file.Root()
	if root == nil {
		return nil
	}
	var out []fnSpan
	ast.Inspect(root, func(n *sitter.Node) bool {
		if n.Type() == "function_item" {
			loc := ast.LocationOf(n, file.Path)
			out = append(out, fnSpan{
				name:  ast.NodeText(n.ChildByFieldName("name"), file.Content),
				start: loc.StartLine,
				end:   loc.EndLine,
			})
		}
		return true
	})
	return out
}

// nextFunction returns the first function starting after line.
func nextFunction(fns []fnSpan, line int) string {
	for _, fn := range fns {
		if fn.start > line {
			return fn.name
		}
	}
	return ""
}

// enclosingFunction returns the innermost function containing line.
func enclosingFunction(fns []fnSpan, line int) string {
	name := ""
	for _, fn := range fns {
		if fn.start > line {
			break
		}
		if line <= fn.end {
			name = fn.name
		}
	}
	return name
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
