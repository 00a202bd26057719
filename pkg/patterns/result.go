package patterns

import (
	"sort"
	"strings"
)

// MatchDetail is a single pattern hit.
type MatchDetail struct {
	Pattern     string   `json:"pattern"`
	Bucket      string   `json:"bucket"`
	Weight      float64  `json:"weight"`
	MatchedText string   `json:"matched_text"`
	Category    Category `json:"category,omitempty"`
}

// MatchResult is the outcome of matching one function or text blob.
type MatchResult struct {
	File           string               `json:"file,omitempty"`
	FunctionName   string               `json:"function_name,omitempty"`
	Line           int                  `json:"line,omitempty"`
	Confidence     float64              `json:"confidence"`
	CategoryScores map[Category]float64 `json:"category_scores"`
	Category       Category             `json:"category"`
	Matches        []MatchDetail        `json:"matches"`
	Frameworks     []string             `json:"frameworks"`
}

// NewMatchResult returns an empty result categorised as Unknown.
func NewMatchResult() *MatchResult {
	return &MatchResult{
		CategoryScores: make(map[Category]float64),
		Category:       Unknown,
	}
}

// AddMatch records a hit of pattern p from bucket.
func (r *MatchResult) AddMatch(bucket string, p Pattern, matched string) {
	r.Matches = append(r.Matches, MatchDetail{
		Pattern:     p.Text,
		Bucket:      bucket,
		Weight:      p.Weight,
		MatchedText: matched,
		Category:    p.Category,
	})
}

// categoryRule maps substrings of a matched pattern's text to a category.
type categoryRule struct {
	substrings []string
	category   Category
}

var categoryTable = []categoryRule{
	{[]string{"#[test]", "test_", "_test", "mod tests", "tokio::test", "async_std::test", "rstest", "#[test_case"}, UnitTest},
	{[]string{"quickcheck", "proptest", "prop_assert"}, PropertyTest},
	{[]string{"bench", "criterion"}, Benchmark},
	{[]string{"mock", "stub", "automock"}, Mock},
	{[]string{"helper", "fixture", "setup", "teardown"}, TestUtility},
	{[]string{"example", "doc("}, Example},
	{[]string{"fuzz", "arbitrary"}, Fuzz},
	{[]string{"sqlx", "diesel", "sea_orm", ".fetch_", "query_as"}, Database},
	{[]string{"reqwest", "hyper::"}, HttpClient},
	{[]string{"tonic::", "grpc"}, ExternalService},
	{[]string{"redis", "moka", "cache"}, Cache},
	{[]string{"kafka", "lapin", "amqp"}, MessageQueue},
	{[]string{"jsonwebtoken", "bcrypt", "password"}, Auth},
	{[]string{"map_err", "is_err", "catch_unwind", "Err(", "ok_or"}, ErrorHandling},
}

// bucketDefaults is the category a match scores toward when neither the
// pattern nor the table names one, so any match yields a known category.
var bucketDefaults = map[string]Category{
	BucketFunctionNames: UnitTest,
	BucketAttributes:    UnitTest,
	BucketAssertions:    UnitTest,
	BucketErrorHandling: ErrorHandling,
	BucketModules:       UnitTest,
	BucketImports:       TestUtility,
}

// categoriesFor returns every category a match scores toward.
func categoriesFor(m MatchDetail) []Category {
	if m.Category != "" {
		return []Category{m.Category}
	}
	var out []Category
	for _, rule := range categoryTable {
		for _, s := range rule.substrings {
			if strings.Contains(m.Pattern, s) {
				out = append(out, rule.category)
				break
			}
		}
	}
	if len(out) > 0 {
		return out
	}
	if c, ok := bucketDefaults[m.Bucket]; ok {
		return []Category{c}
	}
	return []Category{BusinessLogic}
}

// Finalize computes confidence, normalised category scores, the dominant
// category and the sorted framework list. It is safe to call repeatedly.
func (r *MatchResult) Finalize() {
	total := 0.0
	for _, m := range r.Matches {
		total += m.Weight
	}
	n := len(r.Matches)
	if n < 1 {
		n = 1
	}
	r.Confidence = clamp01(total / float64(n))

	scores := make(map[Category]float64)
	for _, m := range r.Matches {
		for _, c := range categoriesFor(m) {
			scores[c] += m.Weight
		}
	}
	r.CategoryScores = normalize(scores)
	r.Category = dominant(r.CategoryScores)

	sort.Strings(r.Frameworks)
	r.Frameworks = dedupe(r.Frameworks)
}

// IsConfident reports whether the confidence reaches threshold.
func (r *MatchResult) IsConfident(threshold float64) bool {
	return r.Confidence >= threshold
}

// TopCategories returns up to n categories by descending score.
func (r *MatchResult) TopCategories(n int) []Category {
	cats := make([]Category, 0, len(r.CategoryScores))
	for c := range r.CategoryScores {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		si, sj := r.CategoryScores[cats[i]], r.CategoryScores[cats[j]]
		if si != sj {
			return si > sj
		}
		return categoryRank(cats[i]) < categoryRank(cats[j])
	})
	if n >= 0 && len(cats) > n {
		cats = cats[:n]
	}
	return cats
}

func normalize(scores map[Category]float64) map[Category]float64 {
	top := 0.0
	for _, s := range scores {
		if s > top {
			top = s
		}
	}
	if top <= 0 {
		return scores
	}
	for c, s := range scores {
		scores[c] = s / top
	}
	return scores
}

func dominant(scores map[Category]float64) Category {
	best, bestScore := Unknown, -1.0
	for c, s := range scores {
		if s > bestScore || (s == bestScore && categoryRank(c) < categoryRank(best)) {
			best, bestScore = c, s
		}
	}
	return best
}

func dedupe(sorted []string) []string {
	if len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, s := range sorted[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
