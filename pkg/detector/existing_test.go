package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwiizo/instrument-rs-sub000/pkg/ast"
)

const instrumentedSource = `use tracing::{info, instrument};

#[instrument(name = "db.fetch_user", skip(pool), err)]
pub async fn fetch_user(pool: &Pool, id: u64) -> Result<User, Error> {
    info!("fetching {}", id);
    counter!("fetch_total", 1);
    todo!()
}

// #[instrument] in a comment is ignored
#[tracing::instrument(
    fields(password = %password)
)]
fn login(password: &str) {
    let span = info_span!("login_attempt");
}
`

func parse(t *testing.T, path, src string) *ast.SourceFile {
	t.Helper()
	f, err := ast.Parse(path, []byte(src))
	require.NoError(t, err)
	t.Cleanup(f.Close)
	return f
}

func TestScanFile(t *testing.T) {
	found := ScanFile(parse(t, "src/users.rs", instrumentedSource))
	require.Len(t, found, 5)

	type hit struct {
		Kind     ExistingKind
		Line     int
		Function string
		SpanName string
	}
	var got []hit
	for _, e := range found {
		assert.Equal(t, "src/users.rs", e.Location.File)
		got = append(got, hit{e.Kind, e.Location.StartLine, e.Function, e.SpanName})
	}
	assert.Equal(t, []hit{
		{ExistingAttributeMacro, 3, "fetch_user", "db.fetch_user"},
		{ExistingLogMacro, 5, "", ""},
		{ExistingMetrics, 6, "", ""},
		{ExistingAttributeMacro, 11, "login", "login"},
		{ExistingManualSpan, 15, "login", "login_attempt"},
	}, got)

	assert.Equal(t, 13, found[3].Location.EndLine)
	assert.Equal(t, "#[tracing::instrument( fields(password = %password) )]", found[3].Attribute)

	assert.Equal(t, 1.0, found[0].Quality.Score)
	assert.Empty(t, found[0].Quality.Issues)
	assert.InDelta(t, 0.6, found[3].Quality.Score, 1e-9)
}

func TestAssessQuality(t *testing.T) {
	tests := []struct {
		name   string
		attr   string
		score  float64
		issues []IssueKind
	}{
		{
			name:  "complete",
			attr:  `#[instrument(skip_all, err)]`,
			score: 1,
		},
		{
			name:   "bare",
			attr:   `#[instrument]`,
			score:  0.9,
			issues: []IssueKind{IssueNoErrorHandling},
		},
		{
			name:   "request recorded",
			attr:   `#[instrument(fields(body = ?request), err)]`,
			score:  0.8,
			issues: []IssueKind{IssueMissingSkip},
		},
		{
			name:   "secrets recorded",
			attr:   `#[instrument(fields(token, secret))]`,
			score:  0.3,
			issues: []IssueKind{IssueSensitiveData, IssueSensitiveData, IssueNoErrorHandling},
		},
		{
			name:   "floor at zero",
			attr:   `#[instrument(fields(password, token, secret, api_key, request))]`,
			score:  0,
			issues: []IssueKind{IssueMissingSkip, IssueSensitiveData, IssueSensitiveData, IssueSensitiveData, IssueSensitiveData, IssueNoErrorHandling},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := AssessQuality(tt.attr)
			assert.InDelta(t, tt.score, q.Score, 1e-9)
			var kinds []IssueKind
			for _, issue := range q.Issues {
				kinds = append(kinds, issue.Kind)
			}
			assert.Equal(t, tt.issues, kinds)
		})
	}
}

func TestAttributeKeys(t *testing.T) {
	tests := []struct {
		attr string
		want []string
	}{
		{`#[instrument]`, nil},
		{`#[instrument(err)]`, []string{"err"}},
		{`#[instrument(name = "a,b", skip(self, pool), err(Debug))]`, []string{"name", "skip", "err"}},
		{`#[instrument(fields(user.id = %id), level = "debug")]`, []string{"fields", "level"}},
	}
	for _, tt := range tests {
		t.Run(tt.attr, func(t *testing.T) {
			keys := AttributeKeys(tt.attr)
			assert.Len(t, keys, len(tt.want))
			for _, k := range tt.want {
				assert.True(t, keys[k], "missing key %q", k)
			}
		})
	}
}

func TestFindExisting_MultipleFiles(t *testing.T) {
	a := parse(t, "src/a.rs", "#[instrument]\nfn a() {}\n")
	b := parse(t, "src/b.rs", "fn b() {\n    tracing::warn!(\"slow\");\n}\n")

	found := FindExisting([]*ast.SourceFile{a, b})
	require.Len(t, found, 2)
	assert.Equal(t, "a", found[0].Function)
	assert.Equal(t, ExistingLogMacro, found[1].Kind)
	assert.Equal(t, "src/b.rs", found[1].Location.File)
	assert.Equal(t, 5, found[1].Location.StartColumn)
}
