// Package detector turns classified functions into instrumentation
// recommendations. It finds the tracing, logging and metrics calls already
// in the source, ranks the places that still need a span, reports the gaps
// between the two and checks span names against naming rules.
package detector

import (
	"fmt"
	"strings"

	"github.com/nwiizo/instrument-rs-sub000/pkg/scoring"
	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// Kind is the kind of code a point instruments.
type Kind string

const (
	KindEndpoint        Kind = "Endpoint"
	KindDatabaseCall    Kind = "DatabaseCall"
	KindExternalApiCall Kind = "ExternalApiCall"
	KindCacheOperation  Kind = "CacheOperation"
	KindBusinessLogic   Kind = "BusinessLogic"
	KindErrorBoundary   Kind = "ErrorBoundary"
	KindBackgroundJob   Kind = "BackgroundJob"
	KindMessageQueue    Kind = "MessageQueue"
)

var kindNames = map[Kind]string{
	KindEndpoint:        "HTTP/gRPC Endpoint",
	KindDatabaseCall:    "Database Call",
	KindExternalApiCall: "External API Call",
	KindCacheOperation:  "Cache Operation",
	KindBusinessLogic:   "Business Logic",
	KindErrorBoundary:   "Error Boundary",
	KindBackgroundJob:   "Background Job",
	KindMessageQueue:    "Message Queue",
}

// Name returns the human-readable kind name.
func (k Kind) Name() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return string(k)
}

// spanPrefix is prepended to the function name in suggested span names.
func (k Kind) spanPrefix() string {
	switch k {
	case KindDatabaseCall:
		return "db."
	case KindExternalApiCall:
		return "http."
	case KindCacheOperation:
		return "cache."
	case KindMessageQueue:
		return "mq."
	case KindErrorBoundary:
		return "error."
	case KindBackgroundJob:
		return "job."
	}
	return ""
}

// Priority orders points; higher is more important.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "Low",
	PriorityMedium:   "Medium",
	PriorityHigh:     "High",
	PriorityCritical: "Critical",
}

func (p Priority) String() string {
	if n, ok := priorityNames[p]; ok {
		return n
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// Normalized maps the priority onto [0,1] for threshold filtering.
func (p Priority) Normalized() float64 {
	return float64(p) / float64(PriorityCritical)
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(text []byte) error {
	for v, n := range priorityNames {
		if strings.EqualFold(n, string(text)) {
			*p = v
			return nil
		}
	}
	return fmt.Errorf("%w: unknown priority %q", types.ErrConfig, text)
}

// priorityFromScore converts a scorer band into a point priority.
func priorityFromScore(p scoring.Priority) Priority {
	switch p {
	case scoring.Critical:
		return PriorityCritical
	case scoring.High:
		return PriorityHigh
	case scoring.Medium:
		return PriorityMedium
	}
	return PriorityLow
}

// Field is a value a suggested span should record. Expression is inlined
// verbatim into the generated attribute.
type Field struct {
	Name        string `json:"name"`
	Expression  string `json:"expression"`
	IsSensitive bool   `json:"is_sensitive"`
}

// Point is a recommended instrumentation site. Function is the short
// function name and ID its call graph id when known.
type Point struct {
	Location types.Location `json:"location"`
	Function string         `json:"function"`
	ID       string         `json:"id,omitempty"`
	Kind     Kind           `json:"kind"`
	Priority Priority       `json:"priority"`
	Reason   string         `json:"reason"`
	SpanName string         `json:"suggested_span_name"`
	Fields   []Field        `json:"suggested_fields"`
	Score    *scoring.Score `json:"score,omitempty"`
}

// ExistingKind classifies instrumentation already present in the source.
type ExistingKind string

const (
	ExistingAttributeMacro ExistingKind = "AttributeMacro"
	ExistingManualSpan     ExistingKind = "ManualSpan"
	ExistingLogMacro       ExistingKind = "LogMacro"
	ExistingMetrics        ExistingKind = "Metrics"
)

// IssueKind classifies a quality problem with existing instrumentation.
type IssueKind string

const (
	IssueMissingFields   IssueKind = "MissingFields"
	IssuePoorNaming      IssueKind = "PoorNaming"
	IssueNoErrorHandling IssueKind = "NoErrorHandling"
	IssueSensitiveData   IssueKind = "SensitiveData"
	IssueMissingSkip     IssueKind = "MissingSkip"
)

// QualityIssue is one problem found in an instrumentation attribute.
type QualityIssue struct {
	Kind    IssueKind `json:"kind"`
	Message string    `json:"message"`
}

// Quality grades existing instrumentation. Score is in [0,1].
type Quality struct {
	Score  float64        `json:"score"`
	Issues []QualityIssue `json:"issues"`
}

// Existing is instrumentation found in the source. Attribute holds the
// full attribute text of attribute macros.
type Existing struct {
	Location  types.Location `json:"location"`
	Function  string         `json:"function,omitempty"`
	Kind      ExistingKind   `json:"kind"`
	SpanName  string         `json:"span_name,omitempty"`
	Attribute string         `json:"attribute,omitempty"`
	Quality   Quality        `json:"quality"`
}

// Severity ranks gaps.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityMajor    Severity = "Major"
	SeverityMinor    Severity = "Minor"
)

// Rank orders severities; Critical ranks highest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityMajor:
		return 2
	case SeverityMinor:
		return 1
	}
	return 0
}

// ParseSeverity accepts a severity name in any case.
func ParseSeverity(s string) (Severity, error) {
	for _, sev := range []Severity{SeverityCritical, SeverityMajor, SeverityMinor} {
		if strings.EqualFold(string(sev), s) {
			return sev, nil
		}
	}
	return "", fmt.Errorf("%w: unknown severity %q", types.ErrConfig, s)
}

// Gap is a recommended point with no instrumentation covering it.
type Gap struct {
	Location     types.Location `json:"location"`
	Function     string         `json:"function"`
	Kind         Kind           `json:"kind"`
	Description  string         `json:"description"`
	SuggestedFix string         `json:"suggested_fix"`
	Severity     Severity       `json:"severity"`
}

// ViolationKind classifies a rule violation.
type ViolationKind string

const (
	ViolationNamingConvention ViolationKind = "NamingConvention"
	ViolationMissingAttribute ViolationKind = "MissingAttribute"
	ViolationForbiddenPattern ViolationKind = "ForbiddenPattern"
)

// ViolationSeverity ranks rule violations.
type ViolationSeverity string

const (
	ViolationError   ViolationSeverity = "Error"
	ViolationWarning ViolationSeverity = "Warning"
	ViolationInfo    ViolationSeverity = "Info"
)

func (s ViolationSeverity) rank() int {
	switch s {
	case ViolationError:
		return 0
	case ViolationWarning:
		return 1
	}
	return 2
}

// Violation is a span that breaks a configured rule.
type Violation struct {
	Location   types.Location    `json:"location"`
	Function   string            `json:"function,omitempty"`
	Kind       ViolationKind     `json:"kind"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion"`
	Severity   ViolationSeverity `json:"severity"`
}
