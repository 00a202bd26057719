package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

type project struct {
	db, http, cache bool
}

func (p project) HasDatabase() bool   { return p.db }
func (p project) HasHTTPClient() bool { return p.http }
func (p project) HasCache() bool      { return p.cache }

func TestMatcher_AnalyzeFunction(t *testing.T) {
	m := MustNewMatcher(nil)

	tests := []struct {
		name       string
		fn         types.FunctionInfo
		want       Category
		matches    int
		confidence float64
	}{
		{
			name: "unit test",
			fn: types.FunctionInfo{
				Name:       "test_addition",
				Attributes: []string{"test"},
				BodyText:   "{ assert_eq!(2 + 2, 4); }",
			},
			want:       UnitTest,
			matches:    3,
			confidence: (0.9 + 1.0 + 0.9) / 3,
		},
		{
			name: "property test",
			fn: types.FunctionInfo{
				Name:       "prop_reverse",
				Attributes: []string{"quickcheck"},
				BodyText:   "{ xs == xs }",
			},
			want:       PropertyTest,
			matches:    1,
			confidence: 0.9,
		},
		{
			name: "database body",
			fn: types.FunctionInfo{
				Name:     "load",
				BodyText: `{ sqlx::query_as!(User, "select * from users").fetch_all(&pool).await }`,
			},
			want: Database,
		},
		{
			name:       "nothing to see",
			fn:         types.FunctionInfo{Name: "compute", BodyText: "{ 1 + 1 }"},
			want:       Unknown,
			matches:    0,
			confidence: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := m.AnalyzeFunction(tt.fn)
			assert.Equal(t, tt.want, r.Category)
			assert.Equal(t, tt.fn.Name, r.FunctionName)
			if tt.want == Database {
				assert.NotEmpty(t, r.Matches)
				return
			}
			assert.Len(t, r.Matches, tt.matches)
			assert.InDelta(t, tt.confidence, r.Confidence, 1e-9)
		})
	}
}

func TestMatcher_AnalyzeSource(t *testing.T) {
	m := MustNewMatcher(nil)

	r := m.AnalyzeSource(`let m = mock! { }; let x = sqlx::query("SELECT 1");`)
	assert.Equal(t, []string{"mockall", "sql", "sqlx"}, r.Frameworks)
	assert.Equal(t, Database, r.Category)
	assert.InDelta(t, 1.0, r.CategoryScores[Database], 1e-9)
	assert.InDelta(t, 0.8/1.6, r.CategoryScores[Mock], 1e-9)

	// One match per literal occurrence.
	r = m.AnalyzeSource("assert!(a); assert!(b);")
	assert.Len(t, r.Matches, 2)
	assert.Equal(t, UnitTest, r.Category)

	r = m.AnalyzeSource("let x = 1;")
	assert.Empty(t, r.Matches)
	assert.Equal(t, Unknown, r.Category)
	assert.Zero(t, r.Confidence)
}

func TestMatcher_IsTestCode(t *testing.T) {
	m := MustNewMatcher(nil)
	assert.True(t, m.IsTestCode("#[cfg(test)]\nmod tests {\n    #[test]\n    fn it_works() { assert_eq!(1, 1); }\n}"))
	assert.False(t, m.IsTestCode("pub fn serve() { start(); }"))
	assert.False(t, m.IsTestCode(`sqlx::query("select 1")`), "database code is not test code")
}

func TestMatcher_Register(t *testing.T) {
	m := MustNewMatcher(nil)
	require.NoError(t, m.Register("events", Simple("produce_event", 0.8)))

	r := m.AnalyzeSource("produce_event(order)")
	assert.Contains(t, r.Frameworks, "events")
	assert.NotEqual(t, Unknown, r.Category, "a match must yield a category")

	err := m.Register(BucketAssertions, Regex("(", 0.5))
	assert.ErrorIs(t, err, types.ErrConfig)
}

func TestNewMatcher_InvalidRegex(t *testing.T) {
	set := NewPatternSet()
	set.AddPattern(BucketFunctionNames, Regex("[unterminated", 0.5))
	_, err := NewMatcher(set)
	assert.ErrorIs(t, err, types.ErrConfig)
}

func TestPatternSet_Merge(t *testing.T) {
	base := NewPatternSet()
	base.AddPattern(BucketAssertions, Simple("check!", 0.5))

	extra := NewPatternSet()
	extra.AddPattern(BucketAssertions, Simple("verify!", 0.5))
	extra.AddPattern("snapshot", Simple("insta::assert_snapshot", 0.9))

	base.Merge(extra)
	assert.Len(t, base.Assertions, 2)
	assert.Equal(t, []string{"snapshot"}, base.FrameworkNames())
}

func TestMatchResult_CategoryCompleteness(t *testing.T) {
	// Any non-empty match list must settle on a known category, even with
	// zero weights or patterns the table does not recognise.
	buckets := []string{
		BucketFunctionNames, BucketAttributes, BucketAssertions,
		BucketErrorHandling, BucketModules, BucketImports, "custom",
	}
	for _, bucket := range buckets {
		t.Run(bucket, func(t *testing.T) {
			r := NewMatchResult()
			r.AddMatch(bucket, Simple("zzz", 0), "zzz")
			r.Finalize()
			assert.NotEqual(t, Unknown, r.Category)
		})
	}
}

func TestMatchResult_TopCategories(t *testing.T) {
	r := NewMatchResult()
	r.AddMatch("custom", Simple("a", 0.5).As(Cache), "a")
	r.AddMatch("custom", Simple("b", 0.5).As(Database), "b")
	r.AddMatch("custom", Simple("c", 0.2).As(Auth), "c")
	r.Finalize()

	// Equal scores fall back to precedence order.
	assert.Equal(t, Database, r.Category)
	assert.Equal(t, []Category{Database, Cache}, r.TopCategories(2))
}

func TestClassifyName(t *testing.T) {
	tests := []struct {
		name       string
		fn         string
		project    ProjectContext
		want       Category
		confidence float64
	}{
		{"naive get is http", "get_user", nil, HttpClient, 0.85},
		{"get without http dependency", "get_user", project{}, Unknown, 0},
		{"fetch with database", "fetch_orders", project{db: true}, Database, 0.9},
		{"fetch without database", "fetch_orders", project{}, BusinessLogic, 0.7},
		{"cache accessor", "get_cached_user", project{cache: true}, Cache, 0.8},
		{"http client call", "send_request", project{http: true}, HttpClient, 0.85},
		{"validation", "validate_input", nil, ErrorHandling, 0.8},
		{"business", "process_payment", nil, BusinessLogic, 0.7},
		{"broad db name", "database_stats", project{db: true}, Database, 0.7},
		{"no signal", "compute", nil, Unknown, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, confidence, ok := ClassifyName(tt.fn, tt.project)
			if got != tt.want {
				t.Errorf("ClassifyName(%q) = %s, want %s", tt.fn, got, tt.want)
			}
			if ok != (tt.want != Unknown) {
				t.Errorf("ClassifyName(%q) ok = %v", tt.fn, ok)
			}
			if confidence != tt.confidence {
				t.Errorf("ClassifyName(%q) confidence = %v, want %v", tt.fn, confidence, tt.confidence)
			}
		})
	}
}

func TestMatcher_NameClassification(t *testing.T) {
	fetch := types.FunctionInfo{Name: "fetch", BodyText: "{ pool.get(id) }"}

	off := MustNewMatcher(nil)
	assert.Equal(t, Unknown, off.AnalyzeFunction(fetch).Category)

	naive := MustNewMatcher(nil, WithNameClassification(nil))
	assert.Equal(t, Database, naive.AnalyzeFunction(fetch).Category)

	biased := MustNewMatcher(nil, WithNameClassification(project{}))
	assert.Equal(t, Unknown, biased.AnalyzeFunction(fetch).Category)
}

func TestMatcher_AnalyzeHandler(t *testing.T) {
	m := MustNewMatcher(nil, WithNameClassification(nil))
	r := m.AnalyzeHandler(types.FunctionInfo{
		Name:       "list_users",
		Attributes: []string{`route_get("/users")`},
		BodyText:   "{ db::fetch(id).await }",
	})
	assert.Equal(t, BusinessLogic, r.Category)
	assert.InDelta(t, handlerConfidence, r.Confidence, 1e-9)
}
