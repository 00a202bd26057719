package patterns

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// DefaultConfidenceThreshold is the confidence IsTestCode requires.
const DefaultConfidenceThreshold = 0.5

// Option configures a Matcher.
type Option func(*Matcher)

// WithConfidenceThreshold sets the threshold used by IsTestCode.
func WithConfidenceThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.threshold = clamp01(threshold)
	}
}

// WithNameClassification adds a name-based match to every analysed
// function. A nil project context classifies names naively; a non-nil one
// only biases ambiguous names toward categories whose dependencies are
// present.
func WithNameClassification(project ProjectContext) Option {
	return func(m *Matcher) {
		m.classifyNames = true
		m.project = project
	}
}

// Matcher applies a PatternSet to functions and raw text. Regexes are
// compiled once, when the matcher is built or a pattern is registered. A
// Matcher is safe for concurrent use once Register calls have finished.
type Matcher struct {
	set           *PatternSet
	compiled      map[string]*regexp.Regexp
	threshold     float64
	classifyNames bool
	project       ProjectContext
}

// NewMatcher compiles set. A nil set selects DefaultPatternSet. An invalid
// regex is reported as a configuration error.
func NewMatcher(set *PatternSet, opts ...Option) (*Matcher, error) {
	if set == nil {
		set = DefaultPatternSet()
	}
	m := &Matcher{
		set:       set,
		compiled:  make(map[string]*regexp.Regexp),
		threshold: DefaultConfidenceThreshold,
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, p := range set.all() {
		if err := m.compile(p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustNewMatcher is like NewMatcher but panics on an invalid pattern.
func MustNewMatcher(set *PatternSet, opts ...Option) *Matcher {
	m, err := NewMatcher(set, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Matcher) compile(p Pattern) error {
	if !p.IsRegex {
		return nil
	}
	if _, ok := m.compiled[p.Text]; ok {
		return nil
	}
	re, err := regexp.Compile(p.Text)
	if err != nil {
		return fmt.Errorf("%w: pattern %q: %v", types.ErrConfig, p.Text, err)
	}
	m.compiled[p.Text] = re
	return nil
}

// Register adds p to bucket and compiles it. Unknown bucket names create a
// framework tag.
func (m *Matcher) Register(bucket string, p Pattern) error {
	if err := m.compile(p); err != nil {
		return err
	}
	m.set.AddPattern(bucket, p)
	return nil
}

// PatternSet returns the patterns in use.
func (m *Matcher) PatternSet() *PatternSet {
	return m.set
}

// AnalyzeFunction matches fn's name, attributes and body text.
func (m *Matcher) AnalyzeFunction(fn types.FunctionInfo) *MatchResult {
	r := NewMatchResult()
	r.File = fn.Location.File
	r.FunctionName = fn.Name
	r.Line = fn.Location.StartLine

	m.match(r, BucketFunctionNames, fn.Name, m.set.FunctionNames)
	for _, attr := range fn.Attributes {
		m.match(r, BucketAttributes, "#["+attr+"]", m.set.Attributes)
	}
	m.match(r, BucketAssertions, fn.BodyText, m.set.Assertions)
	m.match(r, BucketErrorHandling, fn.BodyText, m.set.ErrorHandling)
	m.matchFrameworks(r, fn.BodyText)

	if m.classifyNames {
		if c, confidence, ok := ClassifyName(fn.Name, m.project); ok {
			r.Matches = append(r.Matches, MatchDetail{
				Pattern:     "name:" + string(c),
				Bucket:      BucketNameClassifier,
				Weight:      confidence,
				MatchedText: fn.Name,
				Category:    c,
			})
		}
	}

	r.Finalize()
	return r
}

// AnalyzeHandler is AnalyzeFunction for a request handler. A handler that
// matches nothing is classified as business logic.
func (m *Matcher) AnalyzeHandler(fn types.FunctionInfo) *MatchResult {
	r := m.AnalyzeFunction(fn)
	if len(r.Matches) == 0 {
		r.Matches = append(r.Matches, MatchDetail{
			Pattern:     "handler",
			Bucket:      BucketNameClassifier,
			Weight:      handlerConfidence,
			MatchedText: fn.Name,
			Category:    BusinessLogic,
		})
		r.Finalize()
	}
	return r
}

// AnalyzeSource matches every bucket against text.
func (m *Matcher) AnalyzeSource(text string) *MatchResult {
	r := NewMatchResult()
	m.match(r, BucketFunctionNames, text, m.set.FunctionNames)
	m.match(r, BucketAttributes, text, m.set.Attributes)
	m.match(r, BucketAssertions, text, m.set.Assertions)
	m.match(r, BucketErrorHandling, text, m.set.ErrorHandling)
	m.match(r, BucketModules, text, m.set.Modules)
	m.match(r, BucketImports, text, m.set.Imports)
	m.matchFrameworks(r, text)
	r.Finalize()
	return r
}

// IsTestCode reports whether text looks like test code with at least the
// configured confidence.
func (m *Matcher) IsTestCode(text string) bool {
	r := m.AnalyzeSource(text)
	return r.IsConfident(m.threshold) && r.Category.IsTest()
}

func (m *Matcher) matchFrameworks(r *MatchResult, text string) {
	for _, name := range m.set.FrameworkNames() {
		before := len(r.Matches)
		m.match(r, name, text, m.set.Frameworks[name])
		if len(r.Matches) > before {
			r.Frameworks = append(r.Frameworks, name)
		}
	}
}

func (m *Matcher) match(r *MatchResult, bucket, text string, patterns []Pattern) {
	if text == "" {
		return
	}
	for _, p := range patterns {
		if p.IsRegex {
			re, ok := m.compiled[p.Text]
			if !ok {
				continue
			}
			for _, hit := range re.FindAllString(text, -1) {
				r.AddMatch(bucket, p, hit)
			}
			continue
		}
		if p.Text == "" {
			continue
		}
		for i := strings.Count(text, p.Text); i > 0; i-- {
			r.AddMatch(bucket, p, p.Text)
		}
	}
}
