// Package scoring rates how much a function would benefit from
// instrumentation. Four factors are combined: business criticality, error
// handling, external calls and complexity. The weighted result maps to a
// priority band.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// Factor is one input to the overall score.
type Factor string

const (
	BusinessCriticality Factor = "business_criticality"
	ErrorHandling       Factor = "error_handling"
	ExternalCalls       Factor = "external_calls"
	Complexity          Factor = "complexity"
)

// Factors lists every factor in reporting order.
var Factors = []Factor{BusinessCriticality, ErrorHandling, ExternalCalls, Complexity}

// Name returns the human-readable factor name.
func (f Factor) Name() string {
	switch f {
	case BusinessCriticality:
		return "Business Criticality"
	case ErrorHandling:
		return "Error Handling"
	case ExternalCalls:
		return "External Calls"
	case Complexity:
		return "Complexity"
	}
	return string(f)
}

// DefaultWeights returns the default factor weights.
func DefaultWeights() map[Factor]float64 {
	return map[Factor]float64{
		BusinessCriticality: 0.35,
		ErrorHandling:       0.25,
		ExternalCalls:       0.25,
		Complexity:          0.15,
	}
}

// DefaultCriticalPatterns are name substrings that mark business-critical
// code.
var DefaultCriticalPatterns = []string{
	"payment", "auth", "security", "transaction", "order", "user_data",
}

// Priority is the discretised overall score.
type Priority string

const (
	Critical Priority = "critical"
	High     Priority = "high"
	Medium   Priority = "medium"
	Low      Priority = "low"
	Minimal  Priority = "minimal"
)

// PriorityFromScore maps an overall score in [0, 100] to its band. The
// fractional part is dropped before comparing against the thresholds.
func PriorityFromScore(score float64) Priority {
	s := math.Floor(score)
	switch {
	case s >= 80:
		return Critical
	case s >= 60:
		return High
	case s >= 40:
		return Medium
	case s >= 20:
		return Low
	}
	return Minimal
}

// Rank orders priorities from Critical (0) to Minimal (4).
func (p Priority) Rank() int {
	switch p {
	case Critical:
		return 0
	case High:
		return 1
	case Medium:
		return 2
	case Low:
		return 3
	}
	return 4
}

// Description explains what a priority band means.
func (p Priority) Description() string {
	switch p {
	case Critical:
		return "Critical instrumentation required - high business impact"
	case High:
		return "High priority - significant risk or complexity"
	case Medium:
		return "Medium priority - moderate complexity or external dependencies"
	case Low:
		return "Low priority - simple logic with minimal external impact"
	}
	return "Minimal priority - trivial code with no significant impact"
}

// Score is the result of scoring one function.
type Score struct {
	Overall      float64            `json:"overall"`
	FactorScores map[Factor]float64 `json:"factor_scores"`
	Priority     Priority           `json:"priority"`
	Reasoning    []string           `json:"reasoning,omitempty"`
}

// Input is everything the scorer needs to know about a function.
type Input struct {
	Name              string
	Complexity        int
	HasErrorHandling  bool
	ExternalCallCount int
	IsPublic          bool
}

// InputFromFunction builds an Input from walker output.
func InputFromFunction(fn types.FunctionInfo, externalCalls int) Input {
	return Input{
		Name:              fn.Name,
		Complexity:        fn.Complexity.Cyclomatic,
		HasErrorHandling:  fn.ErrorHandling.HasErrorHandling(),
		ExternalCallCount: externalCalls,
		IsPublic:          fn.IsPublic,
	}
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithWeights overrides factor weights. Factors missing from weights keep
// their current value.
func WithWeights(weights map[Factor]float64) Option {
	return func(s *Scorer) {
		for f, w := range weights {
			s.weights[f] = w
		}
	}
}

// WithCriticalPatterns appends name substrings that mark critical code.
func WithCriticalPatterns(patterns ...string) Option {
	return func(s *Scorer) {
		for _, p := range patterns {
			s.critical = append(s.critical, strings.ToLower(p))
		}
	}
}

// Scorer computes instrumentation scores. It holds no mutable state after
// construction.
type Scorer struct {
	weights  map[Factor]float64
	critical []string
}

// New returns a Scorer with default weights and critical patterns.
func New(opts ...Option) *Scorer {
	s := &Scorer{
		weights:  DefaultWeights(),
		critical: append([]string(nil), DefaultCriticalPatterns...),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Weights returns a copy of the factor weights.
func (s *Scorer) Weights() map[Factor]float64 {
	out := make(map[Factor]float64, len(s.weights))
	for f, w := range s.weights {
		out[f] = w
	}
	return out
}

// Score rates one function.
func (s *Scorer) Score(in Input) Score {
	factors := make(map[Factor]float64, len(Factors))
	var reasoning []string

	crit := s.businessCriticality(in.Name, in.IsPublic)
	factors[BusinessCriticality] = crit
	if crit > 70 {
		reasoning = append(reasoning, fmt.Sprintf("High business criticality detected (score: %.1f)", crit))
	}

	factors[ErrorHandling] = errorHandlingScore(in.HasErrorHandling, in.Complexity)
	if !in.HasErrorHandling && in.Complexity > 10 {
		reasoning = append(reasoning, "Complex function without error handling")
	}

	factors[ExternalCalls] = externalCallScore(in.ExternalCallCount)
	if in.ExternalCallCount > 0 {
		reasoning = append(reasoning, fmt.Sprintf("%d external call(s) detected", in.ExternalCallCount))
	}

	factors[Complexity] = complexityScore(in.Complexity)
	if in.Complexity > 20 {
		reasoning = append(reasoning, fmt.Sprintf("High complexity (%d)", in.Complexity))
	}

	overall := s.combine(factors)
	return Score{
		Overall:      overall,
		FactorScores: factors,
		Priority:     PriorityFromScore(overall),
		Reasoning:    reasoning,
	}
}

func (s *Scorer) combine(factors map[Factor]float64) float64 {
	var sum, total float64
	for _, f := range Factors {
		w := s.weights[f]
		sum += factors[f] * w
		total += w
	}
	if total <= 0 {
		return 0
	}
	return sum / total
}

func (s *Scorer) businessCriticality(name string, public bool) float64 {
	lower := strings.ToLower(name)
	score := 0.0
	for _, p := range s.critical {
		if strings.Contains(lower, p) {
			score = 80
			break
		}
	}
	if public {
		score += 20
	}
	if strings.Contains(lower, "validate") || strings.Contains(lower, "verify") {
		score += 30
	}
	if strings.Contains(lower, "process") || strings.Contains(lower, "handle") {
		score += 20
	}
	return math.Min(score, 100)
}

func errorHandlingScore(handled bool, complexity int) float64 {
	if handled {
		return 70 + math.Min(float64(complexity), 30)
	}
	switch {
	case complexity <= 5:
		return 20
	case complexity <= 10:
		return 10
	}
	return 0
}

func externalCallScore(n int) float64 {
	switch {
	case n <= 0:
		return 0
	case n == 1:
		return 40
	case n == 2:
		return 60
	case n == 3:
		return 80
	}
	return 100
}

func complexityScore(cyclomatic int) float64 {
	switch {
	case cyclomatic <= 5:
		return 10
	case cyclomatic <= 10:
		return 30
	case cyclomatic <= 20:
		return 60
	case cyclomatic <= 30:
		return 80
	}
	return 100
}

// Ranked pairs a function id with its score.
type Ranked struct {
	ID    string `json:"id"`
	Score Score  `json:"score"`
}

// Rank sorts scored functions by descending overall score, ties by id.
func Rank(scores map[string]Score) []Ranked {
	out := make([]Ranked, 0, len(scores))
	for id, sc := range scores {
		out = append(out, Ranked{ID: id, Score: sc})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score.Overall != out[j].Score.Overall {
			return out[i].Score.Overall > out[j].Score.Overall
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AtLeast filters ranked scores to those with priority floor or higher.
func AtLeast(ranked []Ranked, floor Priority) []Ranked {
	var out []Ranked
	for _, r := range ranked {
		if r.Score.Priority.Rank() <= floor.Rank() {
			out = append(out, r)
		}
	}
	return out
}

// Summary counts scored functions per priority.
type Summary struct {
	Total      int              `json:"total"`
	ByPriority map[Priority]int `json:"by_priority"`
	Average    float64          `json:"average"`
}

// Summarize aggregates ranked scores.
func Summarize(ranked []Ranked) Summary {
	s := Summary{Total: len(ranked), ByPriority: make(map[Priority]int)}
	var sum float64
	for _, r := range ranked {
		s.ByPriority[r.Score.Priority]++
		sum += r.Score.Overall
	}
	if len(ranked) > 0 {
		s.Average = sum / float64(len(ranked))
	}
	return s
}
