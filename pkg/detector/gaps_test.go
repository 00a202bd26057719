package detector

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwiizo/instrument-rs-sub000/pkg/ast"
	"github.com/nwiizo/instrument-rs-sub000/pkg/callgraph"
	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

func point(file, fn, id string, line int, kind Kind) Point {
	return Point{
		Location: types.Location{File: file, StartLine: line},
		Function: fn,
		ID:       id,
		Kind:     kind,
		Priority: PriorityHigh,
		SpanName: SpanName(kind, fn),
		Fields:   suggestedFields(kind),
	}
}

func TestFindGaps(t *testing.T) {
	g := callgraph.New()
	g.AddNode(&callgraph.FunctionNode{ID: "cache::load_cache", Name: "load_cache"})
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("c%d", i)
		g.AddNode(&callgraph.FunctionNode{ID: id, Name: id})
		require.NoError(t, g.AddEdge(callgraph.CallEdge{From: id, To: "cache::load_cache"}))
	}

	points := []Point{
		point("src/handlers.rs", "list_users", "handlers::list_users", 10, KindEndpoint),
		point("src/db.rs", "fetch_user", "db::fetch_user", 5, KindDatabaseCall),
		point("src/cache.rs", "load_cache", "cache::load_cache", 8, KindCacheOperation),
		point("src/cache.rs", "warm_cache", "cache::warm_cache", 20, KindCacheOperation),
		point("src/client.rs", "call_api", "client::call_api", 3, KindExternalApiCall),
	}
	existing := []Existing{
		{Location: types.Location{File: "src/handlers.rs", StartLine: 9}, Function: "list_users", Kind: ExistingAttributeMacro},
		// Same function name in another file does not count.
		{Location: types.Location{File: "src/other.rs", StartLine: 5}, Function: "fetch_user", Kind: ExistingAttributeMacro},
	}

	gaps := FindGaps(points, existing, g)

	type summary struct {
		Function string
		Severity Severity
	}
	var got []summary
	for _, gap := range gaps {
		got = append(got, summary{gap.Function, gap.Severity})
	}
	assert.Equal(t, []summary{
		{"call_api", SeverityCritical},
		{"fetch_user", SeverityMajor},
		{"load_cache", SeverityMajor},
		{"warm_cache", SeverityMinor},
	}, got)
	assert.Equal(t, "External API Call 'call_api' has no instrumentation", gaps[0].Description)
	assert.Equal(t, `#[instrument(name = "http.call_api", url = %url, method = %method, skip(client), err)]`, gaps[0].SuggestedFix)

	assert.InDelta(t, 20.0, Coverage(points, existing), 1e-9)
	assert.InDelta(t, float64(len(points)-len(gaps))/float64(len(points))*100, Coverage(points, existing), 1e-9)
	assert.Equal(t, 100.0, Coverage(nil, existing))
}

func TestIsCovered_SameLine(t *testing.T) {
	p := point("src/lib.rs", "run", "", 12, KindBusinessLogic)
	assert.True(t, IsCovered(p, []Existing{{Location: types.Location{File: "src/lib.rs", StartLine: 12}, Kind: ExistingManualSpan}}))
	assert.False(t, IsCovered(p, []Existing{{Location: types.Location{File: "src/lib.rs", StartLine: 13}, Kind: ExistingLogMacro}}))
}

func TestSuggestedFix(t *testing.T) {
	tests := []struct {
		name  string
		point Point
		want  string
	}{
		{
			name:  "endpoint",
			point: Point{Kind: KindEndpoint, SpanName: "get_users", Fields: []Field{{Name: "method", Expression: "method"}, {Name: "path", Expression: "path"}}},
			want:  `#[instrument(name = "get_users", method = %method, path = %path, skip_all, err)]`,
		},
		{
			name:  "database",
			point: point("", "fetch_user", "", 1, KindDatabaseCall),
			want:  `#[instrument(name = "db.fetch_user", query = %query, table = %table, skip(self), err)]`,
		},
		{
			name: "sensitive fields omitted",
			point: Point{Kind: KindExternalApiCall, SpanName: "http.login", Fields: []Field{
				{Name: "url", Expression: "url"},
				{Name: "token", Expression: "creds.token", IsSensitive: true},
			}},
			want: `#[instrument(name = "http.login", url = %url, skip(client), err)]`,
		},
		{
			name:  "business logic",
			point: point("", "checkout", "", 1, KindBusinessLogic),
			want:  `#[instrument(name = "checkout", err)]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fix := SuggestedFix(tt.point)
			assert.Equal(t, tt.want, fix)

			src := fix + "\nasync fn handler(client: Client) -> Result<(), Error> {\n    Ok(())\n}\n"
			f, err := ast.Parse("fix.rs", []byte(src))
			require.NoError(t, err, "suggested fix should parse")
			f.Close()
		})
	}
}
