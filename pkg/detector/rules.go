package detector

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// Rule keys used in NamingRules.RequiredAttributes.
const (
	RuleEndpoint = "endpoint"
	RuleDatabase = "database"
	RuleExternal = "external"
	RuleCache    = "cache"
)

// NamingRules configures span naming checks. Prefixes apply per kind of
// span; an empty prefix disables the check for that kind.
type NamingRules struct {
	EndpointPrefix     string              `yaml:"endpoint_prefix" mapstructure:"endpoint_prefix" json:"endpoint_prefix,omitempty"`
	DatabasePrefix     string              `yaml:"database_prefix" mapstructure:"database_prefix" json:"database_prefix,omitempty"`
	CachePrefix        string              `yaml:"cache_prefix" mapstructure:"cache_prefix" json:"cache_prefix,omitempty"`
	ExternalPrefix     string              `yaml:"external_prefix" mapstructure:"external_prefix" json:"external_prefix,omitempty"`
	RequiredAttributes map[string][]string `yaml:"required_attributes" mapstructure:"required_attributes" json:"required_attributes,omitempty"`
	ForbiddenPatterns  []string            `yaml:"forbidden_patterns" mapstructure:"forbidden_patterns" json:"forbidden_patterns,omitempty"`
}

// DefaultNamingRules forbids credentials in span names and requires
// error recording on endpoints.
func DefaultNamingRules() NamingRules {
	return NamingRules{
		RequiredAttributes: map[string][]string{RuleEndpoint: {"err"}},
		ForbiddenPatterns:  []string{"password", "secret", "token"},
	}
}

// RuleChecker checks existing and suggested spans against NamingRules.
type RuleChecker struct {
	rules     NamingRules
	forbidden []*regexp.Regexp
}

// NewRuleChecker compiles the forbidden patterns. An invalid pattern is a
// configuration error.
func NewRuleChecker(rules NamingRules) (*RuleChecker, error) {
	c := &RuleChecker{rules: rules}
	for _, p := range rules.ForbiddenPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: forbidden pattern %q: %v", types.ErrConfig, p, err)
		}
		c.forbidden = append(c.forbidden, re)
	}
	return c, nil
}

// Check evaluates existing spans and suggested points. The result is
// stably sorted Error, Warning, Info.
func (c *RuleChecker) Check(existing []Existing, points []Point) []Violation {
	out := append(c.CheckExisting(existing, points), c.CheckPoints(points)...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.rank() < out[j].Severity.rank()
	})
	return out
}

// CheckExisting evaluates spans found in the source. The kind of a span
// is taken from the point it covers, or guessed from its name.
func (c *RuleChecker) CheckExisting(existing []Existing, points []Point) []Violation {
	var out []Violation
	for _, e := range existing {
		if e.SpanName == "" || (e.Kind != ExistingAttributeMacro && e.Kind != ExistingManualSpan) {
			continue
		}
		for _, re := range c.forbidden {
			if re.MatchString(e.SpanName) {
				out = append(out, Violation{
					Location:   e.Location,
					Function:   e.Function,
					Kind:       ViolationForbiddenPattern,
					Message:    fmt.Sprintf("Span name '%s' matches forbidden pattern '%s'", e.SpanName, re.String()),
					Suggestion: "Remove or obfuscate sensitive information from span name",
					Severity:   ViolationError,
				})
			}
		}

		rule := ruleForExisting(e, points)
		if prefix := c.prefix(rule); prefix != "" && !strings.HasPrefix(e.SpanName, prefix) {
			out = append(out, Violation{
				Location:   e.Location,
				Function:   e.Function,
				Kind:       ViolationNamingConvention,
				Message:    fmt.Sprintf("Span name '%s' should start with prefix '%s'", e.SpanName, prefix),
				Suggestion: fmt.Sprintf("Rename span to '%s%s'", prefix, e.SpanName),
				Severity:   ViolationWarning,
			})
		}
		if e.Kind == ExistingAttributeMacro {
			out = append(out, c.missingAttributes(rule, e.Attribute, e.Location, e.Function, ViolationWarning)...)
		}
	}
	return out
}

// CheckPoints evaluates the spans suggested for points.
func (c *RuleChecker) CheckPoints(points []Point) []Violation {
	var out []Violation
	for _, p := range points {
		for _, re := range c.forbidden {
			if re.MatchString(p.SpanName) {
				out = append(out, Violation{
					Location:   p.Location,
					Function:   p.Function,
					Kind:       ViolationForbiddenPattern,
					Message:    fmt.Sprintf("Suggested span name '%s' matches forbidden pattern '%s'", p.SpanName, re.String()),
					Suggestion: "Adjust pattern detection to avoid sensitive names",
					Severity:   ViolationWarning,
				})
			}
		}

		rule := ruleForKind(p.Kind)
		if prefix := c.prefix(rule); prefix != "" && !strings.HasPrefix(p.SpanName, prefix) {
			out = append(out, Violation{
				Location:   p.Location,
				Function:   p.Function,
				Kind:       ViolationNamingConvention,
				Message:    fmt.Sprintf("Span name '%s' for %s should start with prefix '%s'", p.SpanName, p.Kind, prefix),
				Suggestion: fmt.Sprintf("Use '%s%s'", prefix, p.SpanName),
				Severity:   ViolationInfo,
			})
		}
		out = append(out, c.missingAttributes(rule, SuggestedFix(p), p.Location, p.Function, ViolationInfo)...)
	}
	return out
}

func (c *RuleChecker) missingAttributes(rule, attr string, loc types.Location, fn string, sev ViolationSeverity) []Violation {
	required := c.rules.RequiredAttributes[rule]
	if len(required) == 0 {
		return nil
	}
	keys := AttributeKeys(attr)
	var out []Violation
	for _, want := range required {
		if keys[want] {
			continue
		}
		out = append(out, Violation{
			Location:   loc,
			Function:   fn,
			Kind:       ViolationMissingAttribute,
			Message:    fmt.Sprintf("Span for %s is missing required attribute '%s'", rule, want),
			Suggestion: fmt.Sprintf("Add '%s' to the instrument attribute", want),
			Severity:   sev,
		})
	}
	return out
}

func (c *RuleChecker) prefix(rule string) string {
	switch rule {
	case RuleEndpoint:
		return c.rules.EndpointPrefix
	case RuleDatabase:
		return c.rules.DatabasePrefix
	case RuleExternal:
		return c.rules.ExternalPrefix
	case RuleCache:
		return c.rules.CachePrefix
	}
	return ""
}

func ruleForKind(k Kind) string {
	switch k {
	case KindEndpoint:
		return RuleEndpoint
	case KindDatabaseCall:
		return RuleDatabase
	case KindExternalApiCall:
		return RuleExternal
	case KindCacheOperation:
		return RuleCache
	}
	return ""
}

var endpointNamePrefixes = []string{"get_", "post_", "put_", "delete_", "patch_", "head_", "options_", "grpc_"}

// ruleForExisting picks the rule set for an existing span: the kind of
// the point it covers when there is one, otherwise a guess from the name.
func ruleForExisting(e Existing, points []Point) string {
	for _, p := range points {
		if p.Location.File != e.Location.File {
			continue
		}
		if (e.Function != "" && p.Function == e.Function) || p.Location.StartLine == e.Location.StartLine {
			return ruleForKind(p.Kind)
		}
	}

	name := strings.ToLower(e.SpanName)
	switch {
	case containsAny(name, []string{"db", "sql", "query"}):
		return RuleDatabase
	case containsAny(name, []string{"cache", "redis"}):
		return RuleCache
	case containsAny(name, []string{"api", "http", "grpc"}):
		return RuleEndpoint
	case containsAny(name, []string{"external", "client"}):
		return RuleExternal
	}
	for _, p := range endpointNamePrefixes {
		if strings.HasPrefix(name, p) {
			return RuleEndpoint
		}
	}
	return ""
}
