package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nwiizo/instrument-rs-sub000/pkg/analyzer"
	"github.com/nwiizo/instrument-rs-sub000/pkg/detector"
	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	sectionStyle = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)

	priorityStyles = map[detector.Priority]lipgloss.Style{
		detector.PriorityCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		detector.PriorityHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		detector.PriorityMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		detector.PriorityLow:      lipgloss.NewStyle().Faint(true),
	}
	severityStyles = map[detector.Severity]lipgloss.Style{
		detector.SeverityCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		detector.SeverityMajor:    lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		detector.SeverityMinor:    lipgloss.NewStyle().Faint(true),
	}
	violationStyles = map[detector.ViolationSeverity]lipgloss.Style{
		detector.ViolationError:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		detector.ViolationWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		detector.ViolationInfo:    lipgloss.NewStyle().Faint(true),
	}
)

// treeNode is one line of the tree report.
type treeNode struct {
	label    string
	children []*treeNode
}

func (n *treeNode) add(label string) *treeNode {
	child := &treeNode{label: label}
	n.children = append(n.children, child)
	return child
}

// painter applies styles only when color is enabled.
type painter bool

func (p painter) paint(s lipgloss.Style, text string) string {
	if !p {
		return text
	}
	return s.Render(text)
}

// WriteTree renders res as an indented tree with sections for endpoints,
// points by priority, existing instrumentation, gaps, rule violations,
// failures and a summary.
func WriteTree(w io.Writer, res *analyzer.Result, opts Options) error {
	p := painter(opts.Color)

	title := "Instrumentation Analysis"
	if res.Metadata.Framework != "" {
		title += " (" + res.Metadata.Framework + ")"
	}
	root := &treeNode{label: p.paint(titleStyle, title)}

	section := func(name string, count int) *treeNode {
		return root.add(p.paint(sectionStyle, fmt.Sprintf("%s (%d)", name, count)))
	}

	eps := section("Endpoints", len(res.Endpoints))
	for _, ep := range res.Endpoints {
		eps.add(fmt.Sprintf("%s %s -> %s %s", ep.Method, ep.Path, ep.Handler, p.paint(dimStyle, at(ep.Location))))
	}

	points := section("Instrumentation Points", len(res.Points))
	for _, prio := range []detector.Priority{
		detector.PriorityCritical, detector.PriorityHigh, detector.PriorityMedium, detector.PriorityLow,
	} {
		var group *treeNode
		for _, pt := range res.Points {
			if pt.Priority != prio {
				continue
			}
			if group == nil {
				group = points.add(p.paint(priorityStyles[prio], prio.String()))
			}
			n := group.add(fmt.Sprintf("%s [%s] %s", pt.Function, pt.Kind.Name(), p.paint(dimStyle, at(pt.Location))))
			n.add("span: " + pt.SpanName)
			if pt.Reason != "" {
				n.add("reason: " + pt.Reason)
			}
		}
	}

	existing := section("Existing Instrumentation", len(res.Existing))
	for _, e := range res.Existing {
		label := string(e.Kind)
		if e.SpanName != "" {
			label += " " + e.SpanName
		} else if e.Function != "" {
			label += " in " + e.Function
		}
		n := existing.add(fmt.Sprintf("%s %s quality=%.2f", label, p.paint(dimStyle, at(e.Location)), e.Quality.Score))
		for _, issue := range e.Quality.Issues {
			n.add(string(issue.Kind) + ": " + issue.Message)
		}
	}

	gaps := section("Gaps", len(res.Gaps))
	for _, g := range res.Gaps {
		n := gaps.add(fmt.Sprintf("%s %s %s",
			p.paint(severityStyles[g.Severity], "["+string(g.Severity)+"]"), g.Function, p.paint(dimStyle, at(g.Location))))
		n.add(g.Description)
		n.add("fix: " + g.SuggestedFix)
	}

	violations := section("Rule Violations", len(res.Violations))
	for _, v := range res.Violations {
		n := violations.add(fmt.Sprintf("%s %s %s",
			p.paint(violationStyles[v.Severity], "["+string(v.Severity)+"]"), v.Message, p.paint(dimStyle, at(v.Location))))
		n.add(string(v.Kind) + ": " + v.Suggestion)
	}

	if len(res.Failures) > 0 {
		failures := section("Failures", len(res.Failures))
		for _, f := range res.Failures {
			failures.add(fmt.Sprintf("%s (%s): %s", f.Path, f.Kind, f.Message))
		}
	}

	s := res.Stats
	summary := root.add(p.paint(sectionStyle, "Summary"))
	summary.add(fmt.Sprintf("Files: %d", s.TotalFiles))
	summary.add(fmt.Sprintf("Functions: %d", s.TotalFunctions))
	summary.add(fmt.Sprintf("Lines: %d", s.TotalLines))
	summary.add(fmt.Sprintf("Call graph: %d nodes, %d edges, %d cycles",
		res.GraphStats.TotalNodes, res.GraphStats.TotalEdges, res.GraphStats.CycleCount))
	summary.add(fmt.Sprintf("Coverage: %.1f%%", s.CoveragePercent))
	for _, line := range res.Metadata.Project {
		summary.add(line)
	}

	var b strings.Builder
	b.WriteString(root.label + "\n")
	printTree(&b, root.children, "")
	_, err := io.WriteString(w, b.String())
	return err
}

func printTree(b *strings.Builder, nodes []*treeNode, prefix string) {
	for i, n := range nodes {
		connector, indent := "├── ", "│   "
		if i == len(nodes)-1 {
			connector, indent = "└── ", "    "
		}
		b.WriteString(prefix + connector + n.label + "\n")
		printTree(b, n.children, prefix+indent)
	}
}

func at(loc types.Location) string {
	return fmt.Sprintf("(%s:%d)", loc.File, loc.StartLine)
}
