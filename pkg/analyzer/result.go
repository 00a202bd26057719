package analyzer

import (
	"encoding/json"
	"io"

	"github.com/nwiizo/instrument-rs-sub000/pkg/callgraph"
	"github.com/nwiizo/instrument-rs-sub000/pkg/detector"
	"github.com/nwiizo/instrument-rs-sub000/pkg/framework"
	"github.com/nwiizo/instrument-rs-sub000/pkg/patterns"
	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// Metadata identifies a run. It carries no timestamps so that the same
// input always serializes to the same bytes.
type Metadata struct {
	ToolVersion string   `json:"tool_version"`
	AnalysisID  string   `json:"analysis_id"`
	Root        string   `json:"root"`
	Framework   string   `json:"framework"`
	Project     []string `json:"project_context"`
}

// Stats are the headline numbers of a run.
type Stats struct {
	TotalFiles            int     `json:"total_files"`
	TotalFunctions        int     `json:"total_functions"`
	TotalLines            int     `json:"total_lines"`
	EndpointsCount        int     `json:"endpoints_count"`
	InstrumentationPoints int     `json:"instrumentation_points"`
	ExistingCount         int     `json:"existing_count"`
	GapsCount             int     `json:"gaps_count"`
	RuleViolationsCount   int     `json:"rule_violations_count"`
	CoveragePercent       float64 `json:"coverage_percent"`
}

// FunctionSummary is one analyzed function with its classification.
type FunctionSummary struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	FullPath   string             `json:"full_path"`
	Kind       callgraph.NodeKind `json:"node_kind"`
	Location   types.Location     `json:"location"`
	IsAsync    bool               `json:"is_async"`
	Category   patterns.Category  `json:"category"`
	Confidence float64            `json:"confidence"`
	Cyclomatic int                `json:"cyclomatic"`
	Callers    int                `json:"callers"`
	Callees    int                `json:"callees"`
}

// Result is the complete output of one analysis run. Graph is kept for
// renderers and is not serialized; GraphStats summarizes it.
type Result struct {
	Metadata   Metadata              `json:"metadata"`
	Stats      Stats                 `json:"stats"`
	Endpoints  []framework.Endpoint  `json:"endpoints"`
	Points     []detector.Point      `json:"instrumentation_points"`
	Existing   []detector.Existing   `json:"existing_instrumentation"`
	Gaps       []detector.Gap        `json:"gaps"`
	Violations []detector.Violation  `json:"rule_violations"`
	Functions  []FunctionSummary     `json:"functions"`
	GraphStats callgraph.Stats       `json:"call_graph"`
	Failures   []types.Failure       `json:"failures"`
	Graph      *callgraph.Graph      `json:"-"`
	Files      []*types.FileAnalysis `json:"-"`
}

// Coverage is the share of points with existing instrumentation, in
// percent.
func (r *Result) Coverage() float64 {
	return r.Stats.CoveragePercent
}

// WriteJSON writes the result as indented JSON followed by a newline.
func (r *Result) WriteJSON(w io.Writer) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// emptySlices replaces nil slices so JSON output always has arrays.
func (r *Result) emptySlices() {
	if r.Endpoints == nil {
		r.Endpoints = []framework.Endpoint{}
	}
	if r.Points == nil {
		r.Points = []detector.Point{}
	}
	if r.Existing == nil {
		r.Existing = []detector.Existing{}
	}
	if r.Gaps == nil {
		r.Gaps = []detector.Gap{}
	}
	if r.Violations == nil {
		r.Violations = []detector.Violation{}
	}
	if r.Functions == nil {
		r.Functions = []FunctionSummary{}
	}
	if r.Failures == nil {
		r.Failures = []types.Failure{}
	}
	if r.Metadata.Project == nil {
		r.Metadata.Project = []string{}
	}
}
