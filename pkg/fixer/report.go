package fixer

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/sourcegraph/go-diff/diff"
)

const (
	diffContext  = 2
	patchContext = 3
)

var (
	greenStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	yellowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	redStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

// lineDiff renders a short preview of one insertion: two lines of
// context, the new line marked with "+", then the next two lines.
func lineDiff(lines []string, at int, text string) string {
	var b strings.Builder
	for i := max(0, at-diffContext); i < at && i < len(lines); i++ {
		fmt.Fprintf(&b, "  %s\n", strings.TrimSuffix(lines[i], "\r"))
	}
	fmt.Fprintf(&b, "+ %s\n", strings.TrimSuffix(text, "\r"))
	for i := at; i < at+diffContext && i < len(lines); i++ {
		fmt.Fprintf(&b, "  %s\n", strings.TrimSuffix(lines[i], "\r"))
	}
	return b.String()
}

// patch builds a unified diff for the file with inserts applied. Nearby
// insertions share a hunk.
func patch(name string, lines []string, inserts []insertion) (string, error) {
	if len(inserts) == 0 {
		return "", nil
	}
	n := len(lines)
	if n > 0 && lines[n-1] == "" {
		n--
	}

	sorted := make([]insertion, len(inserts))
	copy(sorted, inserts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].line != sorted[j].line {
			return sorted[i].line < sorted[j].line
		}
		return sorted[i].isUse && !sorted[j].isUse
	})

	var groups [][]insertion
	for _, ins := range sorted {
		if k := len(groups); k > 0 && ins.line-groups[k-1][len(groups[k-1])-1].line <= 2*patchContext {
			groups[k-1] = append(groups[k-1], ins)
			continue
		}
		groups = append(groups, []insertion{ins})
	}

	fd := &diff.FileDiff{OrigName: "a/" + name, NewName: "b/" + name}
	added := 0
	for _, g := range groups {
		start := max(0, g[0].line-patchContext)
		end := min(n, g[len(g)-1].line+patchContext)

		var body bytes.Buffer
		next := 0
		for i := start; i <= end; i++ {
			for next < len(g) && g[next].line == i {
				fmt.Fprintf(&body, "+%s\n", g[next].text)
				next++
			}
			if i < end {
				fmt.Fprintf(&body, " %s\n", lines[i])
			}
		}

		h := &diff.Hunk{
			OrigStartLine: int32(start + 1),
			OrigLines:     int32(end - start),
			NewStartLine:  int32(start + 1 + added),
			NewLines:      int32(end - start + len(g)),
			Body:          body.Bytes(),
		}
		if h.OrigLines == 0 {
			h.OrigStartLine = int32(start)
		}
		fd.Hunks = append(fd.Hunks, h)
		added += len(g)
	}

	out, err := diff.PrintFileDiff(fd)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Patch concatenates the per-file patches of a result.
func (r *Result) Patch() string {
	var b strings.Builder
	for _, f := range r.Files {
		b.WriteString(f.Patch)
	}
	return b.String()
}

// WriteReport writes a human-readable summary of the result. Colors are
// applied only when color is set.
func (r *Result) WriteReport(w io.Writer, color bool) error {
	paint := func(s lipgloss.Style, text string) string {
		if !color {
			return text
		}
		return s.Render(text)
	}

	var b strings.Builder
	b.WriteString("Instrumentation Fix Report\n")
	b.WriteString("==========================\n\n")
	fmt.Fprintf(&b, "Total gaps: %d\n", r.TotalGaps)
	if r.DryRun {
		fmt.Fprintf(&b, "Would apply: %d\n", r.Applied)
	} else {
		b.WriteString(paint(greenStyle, fmt.Sprintf("Applied: %d", r.Applied)) + "\n")
	}
	if r.Skipped > 0 {
		b.WriteString(paint(yellowStyle, fmt.Sprintf("Skipped: %d", r.Skipped)) + "\n")
	}
	if r.Failed > 0 {
		b.WriteString(paint(redStyle, fmt.Sprintf("Failed: %d", r.Failed)) + "\n")
	}
	b.WriteString("\n")

	for _, f := range r.Files {
		fmt.Fprintf(&b, "File: %s\n", f.Path)
		for _, a := range f.Attempts {
			fmt.Fprintf(&b, "  %s %s at line %d\n", statusLabel(a, paint), a.Gap.Function, a.Gap.Location.StartLine)
			if a.Diff == "" || (a.Status != StatusApplied && a.Status != StatusDryRun) {
				continue
			}
			for _, line := range strings.Split(strings.TrimSuffix(a.Diff, "\n"), "\n") {
				style := dimStyle
				if strings.HasPrefix(line, "+") {
					style = greenStyle
				}
				fmt.Fprintf(&b, "    %s\n", paint(style, line))
			}
		}
		if f.Backup != "" {
			fmt.Fprintf(&b, "\nBackup created: %s\n", f.Backup)
		}
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func statusLabel(a Attempt, paint func(lipgloss.Style, string) string) string {
	switch a.Status {
	case StatusApplied:
		return paint(greenStyle, "[APPLIED]")
	case StatusDryRun:
		return paint(yellowStyle, "[DRY-RUN]")
	case StatusSkipped:
		return paint(dimStyle, fmt.Sprintf("[SKIPPED: %s]", a.Reason))
	case StatusFailed:
		return paint(redStyle, fmt.Sprintf("[FAILED: %s]", a.Reason))
	}
	return "[" + strings.ToUpper(string(a.Status)) + "]"
}
