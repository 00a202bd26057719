package detector

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nwiizo/instrument-rs-sub000/pkg/callgraph"
)

// Connectivity above which an uncovered point is at least Major.
const (
	majorCallers = 3
	majorCallees = 5
)

// IsCovered reports whether any existing instrumentation sits on the
// point's line or names the point's function in the same file.
func IsCovered(point Point, existing []Existing) bool {
	for _, e := range existing {
		if e.Location.File != point.Location.File {
			continue
		}
		if e.Location.StartLine == point.Location.StartLine {
			return true
		}
		if e.Function != "" && e.Function == point.Function {
			return true
		}
	}
	return false
}

// FindGaps returns a gap for every point not covered by existing
// instrumentation, stably sorted Critical, Major, Minor.
func FindGaps(points []Point, existing []Existing, graph *callgraph.Graph) []Gap {
	var gaps []Gap
	for _, p := range points {
		if IsCovered(p, existing) {
			continue
		}
		gaps = append(gaps, Gap{
			Location:     p.Location,
			Function:     p.Function,
			Kind:         p.Kind,
			Description:  fmt.Sprintf("%s '%s' has no instrumentation", p.Kind.Name(), p.Function),
			SuggestedFix: SuggestedFix(p),
			Severity:     gapSeverity(p, graph),
		})
	}
	sort.SliceStable(gaps, func(i, j int) bool {
		return gaps[i].Severity.Rank() > gaps[j].Severity.Rank()
	})
	return gaps
}

func gapSeverity(p Point, graph *callgraph.Graph) Severity {
	switch p.Kind {
	case KindEndpoint, KindExternalApiCall:
		return SeverityCritical
	}
	if graph != nil && p.ID != "" {
		if len(graph.Callers(p.ID)) > majorCallers || len(graph.Callees(p.ID)) > majorCallees {
			return SeverityMajor
		}
	}
	switch p.Kind {
	case KindDatabaseCall, KindBusinessLogic:
		return SeverityMajor
	}
	return SeverityMinor
}

// SuggestedFix renders the attribute line that instruments the point.
// Sensitive fields are left out.
func SuggestedFix(p Point) string {
	args := []string{fmt.Sprintf("name = %q", p.SpanName)}
	for _, f := range p.Fields {
		if f.IsSensitive {
			continue
		}
		args = append(args, fmt.Sprintf("%s = %%%s", f.Name, f.Expression))
	}
	switch p.Kind {
	case KindEndpoint:
		args = append(args, "skip_all")
	case KindDatabaseCall:
		args = append(args, "skip(self)")
	case KindExternalApiCall:
		args = append(args, "skip(client)")
	}
	args = append(args, "err")
	return "#[instrument(" + strings.Join(args, ", ") + ")]"
}

// Coverage is the percentage of points covered by existing
// instrumentation. No points means full coverage.
func Coverage(points []Point, existing []Existing) float64 {
	if len(points) == 0 {
		return 100
	}
	covered := 0
	for _, p := range points {
		if IsCovered(p, existing) {
			covered++
		}
	}
	return float64(covered) / float64(len(points)) * 100
}
