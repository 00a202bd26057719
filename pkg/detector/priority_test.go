package detector

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwiizo/instrument-rs-sub000/pkg/callgraph"
	"github.com/nwiizo/instrument-rs-sub000/pkg/framework"
	"github.com/nwiizo/instrument-rs-sub000/pkg/patterns"
	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

func function(file, module, name string, line int) types.FunctionInfo {
	return types.FunctionInfo{
		Name:       name,
		FullPath:   module + "::" + name,
		ModulePath: []string{module},
		Location:   types.Location{File: file, StartLine: line, EndLine: line + 3},
		Complexity: types.ComplexityMetrics{Cyclomatic: 1},
	}
}

func matched(c patterns.Category, confidence float64) *patterns.MatchResult {
	return &patterns.MatchResult{
		Category:   c,
		Confidence: confidence,
		Matches:    []patterns.MatchDetail{{Pattern: "x", Weight: confidence, Category: c}},
	}
}

// hubGraph has util::hub called from six functions.
func hubGraph(t *testing.T) *callgraph.Graph {
	t.Helper()
	g := callgraph.New()
	g.AddNode(&callgraph.FunctionNode{
		ID:       "util::hub",
		Name:     "hub",
		File:     "src/util.rs",
		Kind:     callgraph.NodeInternal,
		Location: &types.Location{File: "src/util.rs", StartLine: 20},
	})
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("caller::c%d", i)
		g.AddNode(&callgraph.FunctionNode{ID: id, Name: fmt.Sprintf("c%d", i), Kind: callgraph.NodeInternal})
		require.NoError(t, g.AddEdge(callgraph.CallEdge{From: id, To: "util::hub", Kind: callgraph.CallDirect}))
	}
	return g
}

func TestPrioritizer_Prioritize(t *testing.T) {
	endpoints := []framework.Endpoint{{
		Method:    "GET",
		Path:      "/users",
		Handler:   "list_users",
		Location:  types.Location{File: "src/api.rs", StartLine: 3},
		Framework: framework.Axum,
	}}
	test := function("src/db.rs", "db", "test_fetch", 40)
	test.IsTest = true
	functions := []Classified{
		{function("src/handlers.rs", "handlers", "list_users", 10), matched(patterns.BusinessLogic, 0.7)},
		{function("src/db.rs", "db", "fetch_user", 5), matched(patterns.Database, 0.9)},
		{function("src/cache.rs", "cache", "load_cache", 8), matched(patterns.Cache, 0.5)},
		{function("src/jobs.rs", "jobs", "cleanup_job", 2), patterns.NewMatchResult()},
		{function("src/util.rs", "util", "helper", 30), patterns.NewMatchResult()},
		{function("src/fmt.rs", "fmt", "format_name", 1), matched(patterns.Example, 0.6)},
		{test, matched(patterns.UnitTest, 1)},
	}

	points := NewPrioritizer(hubGraph(t), WithThreshold(0.5)).Prioritize(endpoints, functions)

	type summary struct {
		Function string
		Kind     Kind
		Priority Priority
		SpanName string
	}
	var got []summary
	for _, p := range points {
		got = append(got, summary{p.Function, p.Kind, p.Priority, p.SpanName})
	}
	assert.Equal(t, []summary{
		{"list_users", KindEndpoint, PriorityCritical, "get_users"},
		{"fetch_user", KindDatabaseCall, PriorityHigh, "db.fetch_user"},
		{"load_cache", KindCacheOperation, PriorityMedium, "cache.load_cache"},
		{"cleanup_job", KindBackgroundJob, PriorityMedium, "job.cleanup_job"},
		{"hub", KindBusinessLogic, PriorityMedium, "hub"},
	}, got)

	endpoint := points[0]
	assert.Equal(t, "src/handlers.rs", endpoint.Location.File)
	assert.Equal(t, 10, endpoint.Location.StartLine)
	assert.Equal(t, "handlers::list_users", endpoint.ID)
	assert.Equal(t, "GET endpoint handler", endpoint.Reason)
	assert.Equal(t, []Field{{Name: "method", Expression: "method"}, {Name: "path", Expression: "path"}}, endpoint.Fields)
	require.NotNil(t, endpoint.Score)

	assert.Equal(t, "Matched Database pattern with 90% confidence", points[1].Reason)
	assert.Equal(t, "High connectivity: 6 callers, 0 callees", points[4].Reason)
}

func TestPrioritizer_Options(t *testing.T) {
	test := function("src/lib.rs", "lib", "test_fetch", 4)
	test.IsTest = true
	functions := []Classified{
		{test, matched(patterns.UnitTest, 1)},
		{function("src/lib.rs", "lib", "format_name", 9), matched(patterns.Example, 0.6)},
	}

	assert.Empty(t, NewPrioritizer(nil, WithThreshold(0.5)).Prioritize(nil, functions))

	points := NewPrioritizer(nil, WithThreshold(0), WithTests(true)).Prioritize(nil, functions)
	require.Len(t, points, 2)
	for _, p := range points {
		assert.Equal(t, PriorityLow, p.Priority)
		assert.Equal(t, KindBusinessLogic, p.Kind)
	}
}

func TestPrioritizer_ConfidenceBoost(t *testing.T) {
	functions := []Classified{
		{function("src/lib.rs", "lib", "checkout", 1), matched(patterns.BusinessLogic, 0.99)},
		{function("src/lib.rs", "lib", "apply_discount", 9), matched(patterns.BusinessLogic, 0.6)},
	}
	points := NewPrioritizer(nil).Prioritize(nil, functions)
	require.Len(t, points, 2)
	assert.Equal(t, PriorityHigh, points[0].Priority)
	assert.Equal(t, PriorityMedium, points[1].Priority)
}

func TestPrioritizer_ScoreRaisesPriority(t *testing.T) {
	fn := function("src/pay.rs", "pay", "process_payment", 3)
	fn.IsPublic = true
	fn.ErrorHandling.ResultReturns = 1
	fn.Complexity.Cyclomatic = 12

	points := NewPrioritizer(nil).Prioritize(nil, []Classified{{fn, matched(patterns.BusinessLogic, 0.5)}})
	require.Len(t, points, 1)
	require.NotNil(t, points[0].Score)
	assert.Greater(t, points[0].Score.Overall, 60.0)
	assert.GreaterOrEqual(t, points[0].Priority, PriorityHigh)
	assert.Contains(t, points[0].Reason, "instrumentation score")
}

func TestSanitizePath(t *testing.T) {
	tests := map[string]string{
		"/users":             "users",
		"/users/:id":         "users_id",
		"/api/{org}/members": "api_org_members",
		"/":                  "",
		"/health-check":      "health_check",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizePath(in), in)
	}
}

func TestPriority_Text(t *testing.T) {
	b, err := PriorityHigh.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "High", string(b))

	var p Priority
	require.NoError(t, p.UnmarshalText([]byte("critical")))
	assert.Equal(t, PriorityCritical, p)
	assert.Error(t, p.UnmarshalText([]byte("urgent")))
	assert.Equal(t, 0.75, PriorityHigh.Normalized())
}
