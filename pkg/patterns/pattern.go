package patterns

import "sort"

// Bucket names for the fixed pattern groups of a PatternSet. Any other
// bucket name given to AddPattern is a framework tag.
const (
	BucketFunctionNames = "function_names"
	BucketAttributes    = "attributes"
	BucketAssertions    = "assertions"
	BucketErrorHandling = "error_handling"
	BucketModules       = "modules"
	BucketImports       = "imports"
)

// Pattern is a literal or regular-expression pattern with a weight in
// [0, 1].
type Pattern struct {
	Text        string   `json:"pattern" yaml:"pattern"`
	Weight      float64  `json:"weight" yaml:"weight"`
	IsRegex     bool     `json:"is_regex" yaml:"is_regex"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Category    Category `json:"category,omitempty" yaml:"category,omitempty"`
}

// Simple returns a literal pattern.
func Simple(text string, weight float64) Pattern {
	return Pattern{Text: text, Weight: weight}
}

// Regex returns a regular-expression pattern.
func Regex(text string, weight float64) Pattern {
	return Pattern{Text: text, Weight: weight, IsRegex: true}
}

// Describe returns a copy of p with a description.
func (p Pattern) Describe(description string) Pattern {
	p.Description = description
	return p
}

// As returns a copy of p that always scores toward category.
func (p Pattern) As(category Category) Pattern {
	p.Category = category
	return p
}

// PatternSet groups patterns by the text section they are matched against.
type PatternSet struct {
	FunctionNames []Pattern            `json:"function_names" yaml:"function_names"`
	Attributes    []Pattern            `json:"attributes" yaml:"attributes"`
	Assertions    []Pattern            `json:"assertions" yaml:"assertions"`
	ErrorHandling []Pattern            `json:"error_handling" yaml:"error_handling"`
	Modules       []Pattern            `json:"modules" yaml:"modules"`
	Imports       []Pattern            `json:"imports" yaml:"imports"`
	Frameworks    map[string][]Pattern `json:"frameworks" yaml:"frameworks"`
}

// NewPatternSet returns an empty set.
func NewPatternSet() *PatternSet {
	return &PatternSet{Frameworks: make(map[string][]Pattern)}
}

// AddPattern appends p to bucket. Unknown bucket names register p under a
// framework tag of that name.
func (s *PatternSet) AddPattern(bucket string, p Pattern) {
	switch bucket {
	case BucketFunctionNames:
		s.FunctionNames = append(s.FunctionNames, p)
	case BucketAttributes:
		s.Attributes = append(s.Attributes, p)
	case BucketAssertions:
		s.Assertions = append(s.Assertions, p)
	case BucketErrorHandling:
		s.ErrorHandling = append(s.ErrorHandling, p)
	case BucketModules:
		s.Modules = append(s.Modules, p)
	case BucketImports:
		s.Imports = append(s.Imports, p)
	default:
		if s.Frameworks == nil {
			s.Frameworks = make(map[string][]Pattern)
		}
		s.Frameworks[bucket] = append(s.Frameworks[bucket], p)
	}
}

// Merge appends every pattern of other to s.
func (s *PatternSet) Merge(other *PatternSet) {
	s.FunctionNames = append(s.FunctionNames, other.FunctionNames...)
	s.Attributes = append(s.Attributes, other.Attributes...)
	s.Assertions = append(s.Assertions, other.Assertions...)
	s.ErrorHandling = append(s.ErrorHandling, other.ErrorHandling...)
	s.Modules = append(s.Modules, other.Modules...)
	s.Imports = append(s.Imports, other.Imports...)
	for _, name := range other.FrameworkNames() {
		for _, p := range other.Frameworks[name] {
			s.AddPattern(name, p)
		}
	}
}

// FrameworkNames returns the framework tags in sorted order.
func (s *PatternSet) FrameworkNames() []string {
	names := make([]string, 0, len(s.Frameworks))
	for name := range s.Frameworks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// all returns every pattern in the set.
func (s *PatternSet) all() []Pattern {
	var out []Pattern
	for _, bucket := range [][]Pattern{
		s.FunctionNames, s.Attributes, s.Assertions,
		s.ErrorHandling, s.Modules, s.Imports,
	} {
		out = append(out, bucket...)
	}
	for _, name := range s.FrameworkNames() {
		out = append(out, s.Frameworks[name]...)
	}
	return out
}

// DefaultPatternSet returns the built-in patterns: test idioms, assertion
// and error-handling idioms, and framework buckets for mocking, BDD,
// property testing, benchmarking, database, HTTP, cache and messaging
// crates.
func DefaultPatternSet() *PatternSet {
	s := NewPatternSet()

	s.FunctionNames = []Pattern{
		Simple("test_", 0.9).Describe("functions starting with test_"),
		Simple("should_", 0.8).Describe("BDD-style should_ functions"),
		Simple("it_", 0.8).Describe("BDD-style it_ functions"),
		Simple("when_", 0.7).Describe("BDD-style when_ functions"),
		Simple("given_", 0.7).Describe("BDD-style given_ functions"),
		Regex(`_test$`, 0.8).Describe("functions ending with _test"),
		Regex(`_should_\w+`, 0.7).Describe("functions with a _should_ infix"),
		Regex(`^(setup|teardown)`, 0.7).Describe("fixture setup and teardown").As(TestUtility),
		Regex(`^bench_`, 0.8).Describe("benchmark functions").As(Benchmark),
		Regex(`^fuzz_`, 0.8).Describe("fuzz targets").As(Fuzz),
	}

	s.Attributes = []Pattern{
		Simple("#[test]", 1.0).Describe("standard test attribute"),
		Simple("#[cfg(test)]", 0.9).Describe("test configuration attribute"),
		Simple("#[tokio::test", 1.0).Describe("tokio async test attribute"),
		Simple("#[async_std::test]", 1.0).Describe("async-std test attribute"),
		Simple("#[quickcheck]", 0.9).Describe("QuickCheck property test"),
		Simple("#[proptest]", 0.9).Describe("Proptest property test"),
		Simple("#[rstest]", 0.9).Describe("rstest parameterized test"),
		Simple("#[test_case", 0.9).Describe("test-case crate attribute"),
		Simple("#[should_panic", 0.8).Describe("panic test attribute"),
		Simple("#[ignore]", 0.6).Describe("ignored test attribute"),
		Simple("#[bench]", 0.9).Describe("nightly benchmark attribute"),
	}

	s.Assertions = []Pattern{
		Simple("assert!", 0.9).Describe("basic assertion"),
		Simple("assert_eq!", 0.9).Describe("equality assertion"),
		Simple("assert_ne!", 0.9).Describe("inequality assertion"),
		Simple("debug_assert!", 0.7).Describe("debug assertion"),
		Simple("assert_matches!", 0.8).Describe("pattern matching assertion"),
		Simple("assert_approx_eq!", 0.8).Describe("approximate equality assertion"),
	}

	s.ErrorHandling = []Pattern{
		Simple("should_panic", 0.9).Describe("panic expectation").As(UnitTest),
		Simple("catch_unwind", 0.7).Describe("panic catching"),
		Simple(".map_err(", 0.7).Describe("error conversion"),
		Regex(`Err\(.+\)`, 0.6).Describe("error variant"),
		Simple(".is_err()", 0.7).Describe("error checking"),
		Simple(".ok_or(", 0.6).Describe("option to result conversion"),
	}

	s.Modules = []Pattern{
		Simple("mod tests", 1.0).Describe("standard test module"),
		Regex(`mod \w+_tests`, 0.8).Describe("named test module"),
	}

	s.Imports = []Pattern{
		Simple("use super::*", 0.7).Describe("parent module import"),
		Regex(`use .+test`, 0.6).Describe("test-related import"),
		Simple("use mockall::", 0.8).Describe("mockall import").As(Mock),
		Simple("use proptest::", 0.8).Describe("proptest import").As(PropertyTest),
		Simple("use quickcheck::", 0.8).Describe("quickcheck import").As(PropertyTest),
	}

	s.Frameworks["mockall"] = []Pattern{
		Simple("mock!", 0.8).Describe("mockall mock macro"),
		Simple("automock", 0.8).Describe("mockall automock attribute"),
		Simple("predicate::", 0.7).Describe("mockall predicate usage").As(Mock),
	}
	s.Frameworks["cucumber"] = []Pattern{
		Simple("given!", 0.8).As(IntegrationTest),
		Simple("then!", 0.8).As(IntegrationTest),
		Simple("#[given", 0.8).As(IntegrationTest),
		Simple("#[then", 0.8).As(IntegrationTest),
	}
	s.Frameworks["proptest"] = []Pattern{
		Simple("proptest!", 0.9).Describe("proptest macro"),
		Simple("prop_assert", 0.8).Describe("proptest assertion").As(PropertyTest),
	}
	s.Frameworks["criterion"] = []Pattern{
		Simple("criterion_group!", 0.9).As(Benchmark),
		Simple("Criterion", 0.7).As(Benchmark),
	}
	s.Frameworks["sqlx"] = []Pattern{
		Simple("sqlx::query", 0.9).Describe("sqlx query builder"),
		Simple("query_as!", 0.9).Describe("sqlx typed query").As(Database),
		Simple(".fetch_one(", 0.8).As(Database),
		Simple(".fetch_all(", 0.8).As(Database),
		Simple(".fetch_optional(", 0.8).As(Database),
	}
	s.Frameworks["diesel"] = []Pattern{
		Simple("diesel::", 0.9).As(Database),
		Simple(".load::<", 0.8).As(Database),
		Simple(".get_result(", 0.8).As(Database),
	}
	s.Frameworks["sea-orm"] = []Pattern{
		Simple("sea_orm::", 0.9).As(Database),
		Simple("ActiveModel", 0.7).As(Database),
	}
	s.Frameworks["sql"] = []Pattern{
		Regex(`(?i)\b(SELECT|INSERT INTO|UPDATE|DELETE FROM)\b`, 0.7).Describe("raw SQL").As(Database),
	}
	s.Frameworks["reqwest"] = []Pattern{
		Simple("reqwest::", 0.9).As(HttpClient),
		Simple(".send().await", 0.8).As(HttpClient),
	}
	s.Frameworks["hyper"] = []Pattern{
		Simple("hyper::Client", 0.9).As(HttpClient),
	}
	s.Frameworks["tonic"] = []Pattern{
		Simple("tonic::Request", 0.8).As(ExternalService),
		Simple("Client::connect", 0.8).As(ExternalService),
	}
	s.Frameworks["redis"] = []Pattern{
		Simple("redis::", 0.9).As(Cache),
		Simple("get_async_connection", 0.8).As(Cache),
	}
	s.Frameworks["moka"] = []Pattern{
		Simple("moka::", 0.9).As(Cache),
	}
	s.Frameworks["rdkafka"] = []Pattern{
		Simple("rdkafka::", 0.9).As(MessageQueue),
		Simple("FutureProducer", 0.8).As(MessageQueue),
	}
	s.Frameworks["lapin"] = []Pattern{
		Simple("lapin::", 0.9).As(MessageQueue),
		Simple("basic_publish", 0.8).As(MessageQueue),
	}
	s.Frameworks["auth"] = []Pattern{
		Simple("jsonwebtoken::", 0.9).As(Auth),
		Simple("bcrypt::", 0.9).As(Auth),
		Simple("verify_password", 0.8).As(Auth),
	}

	return s
}
