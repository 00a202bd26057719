package detector

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nwiizo/instrument-rs-sub000/pkg/callgraph"
	"github.com/nwiizo/instrument-rs-sub000/pkg/framework"
	"github.com/nwiizo/instrument-rs-sub000/pkg/patterns"
	"github.com/nwiizo/instrument-rs-sub000/pkg/scoring"
	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// Connectivity limits above which a function is recommended for its
// position in the call graph alone.
const (
	connectivityCallers = 5
	connectivityCallees = 10
	highCallers         = 10
)

var backgroundJobWords = []string{"job", "worker", "cron", "schedule"}

// Classified is a function together with its pattern match result.
type Classified struct {
	Function types.FunctionInfo
	Match    *patterns.MatchResult
}

// Prioritizer ranks functions as instrumentation points.
type Prioritizer struct {
	graph        *callgraph.Graph
	scorer       *scoring.Scorer
	threshold    float64
	includeTests bool
}

// PrioritizerOption configures a Prioritizer.
type PrioritizerOption func(*Prioritizer)

// WithThreshold drops points whose normalized priority is below t.
func WithThreshold(t float64) PrioritizerOption {
	return func(p *Prioritizer) {
		p.threshold = t
	}
}

// WithTests keeps test functions as candidates.
func WithTests(include bool) PrioritizerOption {
	return func(p *Prioritizer) {
		p.includeTests = include
	}
}

// WithScorer replaces the default scorer.
func WithScorer(s *scoring.Scorer) PrioritizerOption {
	return func(p *Prioritizer) {
		if s != nil {
			p.scorer = s
		}
	}
}

// NewPrioritizer creates a prioritizer over graph. A nil graph disables
// the connectivity rules.
func NewPrioritizer(graph *callgraph.Graph, opts ...PrioritizerOption) *Prioritizer {
	if graph == nil {
		graph = callgraph.New()
	}
	p := &Prioritizer{graph: graph, scorer: scoring.New()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prioritize builds the recommended points. Every endpoint becomes a
// Critical point at its handler's definition when the handler is among
// functions. Classified functions follow, then functions with high call
// graph connectivity. Each function yields at most one point. The result
// is stably sorted by priority, highest first.
func (p *Prioritizer) Prioritize(endpoints []framework.Endpoint, functions []Classified) []Point {
	var points []Point
	seen := make(map[string]bool)
	key := func(file, fn string) string { return file + "\x00" + fn }

	for _, ep := range endpoints {
		point := endpointPoint(ep)
		if c, ok := findHandler(functions, ep); ok {
			point.Location = c.Function.Location
			point.ID = c.Function.FullPath
			score := p.score(c.Function)
			point.Score = &score
		}
		if seen[key(point.Location.File, point.Function)] {
			continue
		}
		seen[key(point.Location.File, point.Function)] = true
		points = append(points, point)
	}

	for _, c := range functions {
		fn := c.Function
		if seen[key(fn.Location.File, fn.Name)] || (!p.includeTests && p.isTest(c)) {
			continue
		}
		point, ok := p.patternPoint(c)
		if !ok || point.Priority.Normalized() < p.threshold {
			continue
		}
		seen[key(fn.Location.File, fn.Name)] = true
		points = append(points, point)
	}

	for _, node := range p.graph.Nodes() {
		if node.Kind == callgraph.NodeExternal || node.Location == nil {
			continue
		}
		if node.Kind == callgraph.NodeTest && !p.includeTests {
			continue
		}
		if seen[key(node.File, node.Name)] {
			continue
		}
		point, ok := p.connectivityPoint(node)
		if !ok || point.Priority.Normalized() < p.threshold {
			continue
		}
		seen[key(node.File, node.Name)] = true
		points = append(points, point)
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Priority > points[j].Priority
	})
	return points
}

func (p *Prioritizer) isTest(c Classified) bool {
	return c.Function.IsTest || (c.Match != nil && c.Match.Category.IsTest())
}

func endpointPoint(ep framework.Endpoint) Point {
	return Point{
		Location: ep.Location,
		Function: ep.Handler,
		Kind:     KindEndpoint,
		Priority: PriorityCritical,
		Reason:   fmt.Sprintf("%s endpoint handler", ep.Method),
		SpanName: strings.ToLower(ep.Method) + "_" + SanitizePath(ep.Path),
		Fields: []Field{
			{Name: "method", Expression: "method"},
			{Name: "path", Expression: "path"},
		},
	}
}

// findHandler looks up the function handling ep, preferring one in the
// same file as the route.
func findHandler(functions []Classified, ep framework.Endpoint) (Classified, bool) {
	var fallback *Classified
	for i := range functions {
		fn := functions[i].Function
		if fn.Name != ep.Handler {
			continue
		}
		if fn.Location.File == ep.Location.File {
			return functions[i], true
		}
		if fallback == nil {
			fallback = &functions[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Classified{}, false
}

// patternPoint turns a classified function into a point. Functions that
// matched no pattern qualify only as background jobs.
func (p *Prioritizer) patternPoint(c Classified) (Point, bool) {
	fn := c.Function
	matched := c.Match != nil && len(c.Match.Matches) > 0
	isJob := containsAny(strings.ToLower(fn.Name), backgroundJobWords)
	if !matched && !isJob {
		return Point{}, false
	}

	var kind Kind
	var priority Priority
	var reason string
	if matched {
		kind = kindForCategory(c.Match.Category)
		priority = p.categoryPriority(c.Match, fn.FullPath)
		reason = fmt.Sprintf("Matched %s pattern with %.0f%% confidence",
			c.Match.Category.Name(), c.Match.Confidence*100)
	}
	if isJob && (kind == "" || kind == KindBusinessLogic) {
		kind = KindBackgroundJob
		priority = max(priority, PriorityMedium)
		if reason == "" {
			reason = "Background job or scheduled task"
		}
	}

	score := p.score(fn)
	if sp := priorityFromScore(score.Priority); sp > priority {
		priority = sp
		reason += fmt.Sprintf("; instrumentation score %.0f", score.Overall)
	}

	return Point{
		Location: fn.Location,
		Function: fn.Name,
		ID:       fn.FullPath,
		Kind:     kind,
		Priority: priority,
		Reason:   reason,
		SpanName: SpanName(kind, fn.Name),
		Fields:   suggestedFields(kind),
		Score:    &score,
	}, true
}

func (p *Prioritizer) connectivityPoint(node *callgraph.FunctionNode) (Point, bool) {
	callers := len(p.graph.Callers(node.ID))
	callees := len(p.graph.Callees(node.ID))
	if callers <= connectivityCallers && callees <= connectivityCallees {
		return Point{}, false
	}
	priority := PriorityMedium
	if callers > highCallers {
		priority = PriorityHigh
	}
	return Point{
		Location: *node.Location,
		Function: node.Name,
		ID:       node.ID,
		Kind:     KindBusinessLogic,
		Priority: priority,
		Reason:   fmt.Sprintf("High connectivity: %d callers, %d callees", callers, callees),
		SpanName: node.Name,
		Fields:   []Field{},
	}, true
}

// categoryPriority is the base priority of a category, raised from
// Medium to High for heavily called or confidently matched functions.
func (p *Prioritizer) categoryPriority(m *patterns.MatchResult, id string) Priority {
	var base Priority
	switch m.Category {
	case patterns.Database, patterns.HttpClient, patterns.ExternalService,
		patterns.ErrorHandling, patterns.Auth:
		base = PriorityHigh
	case patterns.BusinessLogic, patterns.Cache, patterns.MessageQueue:
		base = PriorityMedium
	default:
		base = PriorityLow
	}
	if base == PriorityMedium && (len(p.graph.Callers(id)) > connectivityCallers || m.Confidence > 0.95) {
		return PriorityHigh
	}
	return base
}

// score runs the scorer over fn, counting calls that leave the tree.
func (p *Prioritizer) score(fn types.FunctionInfo) scoring.Score {
	external := 0
	for _, callee := range p.graph.Callees(fn.FullPath) {
		if n, ok := p.graph.Node(callee); ok && n.Kind == callgraph.NodeExternal {
			external++
		}
	}
	return p.scorer.Score(scoring.InputFromFunction(fn, external))
}

func kindForCategory(c patterns.Category) Kind {
	switch c {
	case patterns.Database:
		return KindDatabaseCall
	case patterns.HttpClient, patterns.ExternalService:
		return KindExternalApiCall
	case patterns.Cache:
		return KindCacheOperation
	case patterns.MessageQueue:
		return KindMessageQueue
	case patterns.ErrorHandling:
		return KindErrorBoundary
	}
	return KindBusinessLogic
}

func suggestedFields(kind Kind) []Field {
	switch kind {
	case KindDatabaseCall:
		return []Field{{Name: "query", Expression: "query"}, {Name: "table", Expression: "table"}}
	case KindExternalApiCall:
		return []Field{{Name: "url", Expression: "url"}, {Name: "method", Expression: "method"}}
	case KindCacheOperation:
		return []Field{{Name: "key", Expression: "key"}, {Name: "operation", Expression: "op"}}
	case KindErrorBoundary:
		return []Field{{Name: "error", Expression: "err"}}
	}
	return []Field{}
}

// SpanName suggests a span name for a function of the given kind, e.g.
// db.fetch_user.
func SpanName(kind Kind, function string) string {
	return kind.spanPrefix() + function
}

// SanitizePath turns a route path into a span name fragment:
// /users/:id becomes users_id.
func SanitizePath(path string) string {
	r := strings.NewReplacer("/", "_", ":", "", "{", "", "}", "", "<", "", ">", "", "-", "_")
	return strings.Trim(r.Replace(path), "_")
}
