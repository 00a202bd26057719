// Package analyzer runs the whole analysis pipeline over a Rust project:
// it enumerates and parses the sources, builds the call graph, finds
// endpoints, classifies functions, and reconciles recommended
// instrumentation points with what the code already has.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nwiizo/instrument-rs-sub000/internal/log"
	"github.com/nwiizo/instrument-rs-sub000/internal/scanner"
	"github.com/nwiizo/instrument-rs-sub000/pkg/ast"
	"github.com/nwiizo/instrument-rs-sub000/pkg/cache"
	"github.com/nwiizo/instrument-rs-sub000/pkg/callgraph"
	"github.com/nwiizo/instrument-rs-sub000/pkg/deps"
	"github.com/nwiizo/instrument-rs-sub000/pkg/detector"
	"github.com/nwiizo/instrument-rs-sub000/pkg/framework"
	"github.com/nwiizo/instrument-rs-sub000/pkg/patterns"
	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// Version is the tool version recorded in result metadata.
var Version = "0.3.0"

const tracerName = "instrument/analyzer"

// analysisNamespace seeds the deterministic analysis ids.
var analysisNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/nwiizo/instrument-rs"))

// Config selects what the pipeline reports.
type Config struct {
	Threshold       float64              `json:"threshold"`
	MaxDepth        int                  `json:"max_depth"`
	IncludeTests    bool                 `json:"include_tests"`
	Framework       string               `json:"framework"`
	ExcludePatterns []string             `json:"exclude_patterns"`
	SourceDirs      []string             `json:"source_dirs"`
	Workers         int                  `json:"-"`
	NamingRules     detector.NamingRules `json:"naming_rules"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Threshold:       0.5,
		MaxDepth:        10,
		Framework:       framework.Auto,
		ExcludePatterns: append([]string(nil), scanner.DefaultExcludes...),
		NamingRules:     detector.DefaultNamingRules(),
	}
}

// ProgressFunc is called once per source file as it is parsed. It may be
// called from several goroutines at once.
type ProgressFunc func(done, total int)

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger used for warnings about individual files.
func WithLogger(l log.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithCache reuses walker output for files whose content is unchanged.
func WithCache(c *cache.WalkCache) Option {
	return func(a *Analyzer) { a.cache = c }
}

// WithTracerProvider sets where pipeline spans are sent. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *Analyzer) {
		if tp != nil {
			a.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithProgress registers a per-file progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(a *Analyzer) { a.progress = fn }
}

// WithRegistry replaces the framework detector registry.
func WithRegistry(r *framework.Registry) Option {
	return func(a *Analyzer) {
		if r != nil {
			a.registry = r
		}
	}
}

// Analyzer runs the pipeline. It may be reused for several runs, which is
// how watch mode works; runs must not overlap.
type Analyzer struct {
	cfg      Config
	scanner  *scanner.Scanner
	rules    *detector.RuleChecker
	registry *framework.Registry
	cache    *cache.WalkCache
	logger   log.Logger
	tracer   trace.Tracer
	progress ProgressFunc
	metrics  *metrics
}

// New validates cfg and creates an Analyzer. Invalid exclude globs or
// forbidden patterns are configuration errors.
func New(cfg Config, opts ...Option) (*Analyzer, error) {
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("%w: threshold %v is outside [0,1]", types.ErrConfig, cfg.Threshold)
	}

	scanOpts := scanner.DefaultOptions()
	scanOpts.SourceDirs = cfg.SourceDirs
	scanOpts.ExcludePatterns = cfg.ExcludePatterns
	sc, err := scanner.New(scanOpts)
	if err != nil {
		return nil, err
	}
	rules, err := detector.NewRuleChecker(cfg.NamingRules)
	if err != nil {
		return nil, err
	}

	a := &Analyzer{
		cfg:      cfg,
		scanner:  sc,
		rules:    rules,
		registry: framework.Default(),
		logger:   log.Default(),
		tracer:   otel.GetTracerProvider().Tracer(tracerName),
		metrics:  newMetrics(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Config returns the configuration the analyzer was created with.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// parsed is the private result of reading, parsing and walking one file.
type parsed struct {
	file     *ast.SourceFile
	analysis *types.FileAnalysis
	err      error
}

// Analyze runs the pipeline over root, a project directory or a single
// file. Files that cannot be read or parsed are recorded in the result's
// failures and do not stop the run.
func (a *Analyzer) Analyze(ctx context.Context, root string) (*Result, error) {
	ctx, span := a.tracer.Start(ctx, "analyzer.Analyze", trace.WithAttributes(
		attribute.String("root", root),
		attribute.String("framework.requested", a.cfg.Framework),
	))
	defer span.End()

	res, err := a.analyze(ctx, root)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("files", res.Stats.TotalFiles),
		attribute.Int("gaps", res.Stats.GapsCount),
		attribute.Float64("coverage_percent", res.Stats.CoveragePercent),
	)
	a.metrics.observe(res)
	return res, nil
}

func (a *Analyzer) analyze(ctx context.Context, root string) (*Result, error) {
	projectRoot := root
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		projectRoot = filepath.Dir(root)
	}

	var infos []scanner.FileInfo
	err := a.stage(ctx, "scan", func(ctx context.Context, span trace.Span) error {
		var err error
		infos, err = a.scanner.Scan(root)
		span.SetAttributes(attribute.Int("files", len(infos)))
		return err
	})
	if err != nil {
		return nil, err
	}

	var files []parsed
	err = a.stage(ctx, "parse", func(ctx context.Context, span trace.Span) error {
		var err error
		files, err = a.parseAll(ctx, infos)
		return err
	})
	defer func() {
		for _, p := range files {
			if p.file != nil {
				p.file.Close()
			}
		}
	}()
	if err != nil {
		return nil, err
	}

	res := &Result{
		Metadata: Metadata{ToolVersion: Version, Root: filepath.ToSlash(projectRoot)},
	}
	var sources []*ast.SourceFile
	for i, p := range files {
		if p.err != nil {
			res.Failures = append(res.Failures, types.NewFailure(infos[i].Path, p.err))
			a.logger.Warn("skipping file", "path", infos[i].Path, "error", p.err)
			continue
		}
		sources = append(sources, p.file)
		res.Files = append(res.Files, p.analysis)
	}

	project, err := deps.Analyze(projectRoot)
	if err != nil {
		a.logger.Warn("could not read manifest", "error", err)
		project = deps.NewProjectContext()
	}
	res.Metadata.Project = project.Summary()

	var graph *callgraph.Graph
	err = a.stage(ctx, "callgraph", func(ctx context.Context, span trace.Span) error {
		b := callgraph.NewBuilder(
			callgraph.WithWorkers(a.cfg.Workers),
			callgraph.WithExternalRoots(project.All()...),
		)
		b.Index(res.Files)
		for i, f := range sources {
			b.ResolveSource(f, res.Files[i].ModulePath)
		}
		graph = b.Graph()
		res.GraphStats = graph.Stats()
		span.SetAttributes(
			attribute.Int("nodes", res.GraphStats.TotalNodes),
			attribute.Int("edges", res.GraphStats.TotalEdges),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Graph = graph

	err = a.stage(ctx, "endpoints", func(ctx context.Context, span trace.Span) error {
		name := a.cfg.Framework
		if name == "" || name == framework.Auto {
			name = a.registry.Detect(project, sources)
		}
		res.Metadata.Framework = name
		var err error
		res.Endpoints, err = a.registry.Endpoints(name, sources)
		span.SetAttributes(
			attribute.String("framework", name),
			attribute.Int("endpoints", len(res.Endpoints)),
		)
		return err
	})
	if err != nil {
		return nil, err
	}

	var classified []detector.Classified
	err = a.stage(ctx, "classify", func(ctx context.Context, span trace.Span) error {
		var err error
		classified, err = a.classify(res, project)
		span.SetAttributes(attribute.Int("functions", len(classified)))
		return err
	})
	if err != nil {
		return nil, err
	}

	err = a.stage(ctx, "detect", func(ctx context.Context, span trace.Span) error {
		res.Existing = detector.FindExisting(sources)
		res.Points = detector.NewPrioritizer(graph,
			detector.WithThreshold(a.cfg.Threshold),
			detector.WithTests(a.cfg.IncludeTests),
		).Prioritize(res.Endpoints, classified)
		res.Gaps = detector.FindGaps(res.Points, res.Existing, graph)
		res.Violations = a.rules.Check(res.Existing, res.Points)
		span.SetAttributes(
			attribute.Int("points", len(res.Points)),
			attribute.Int("existing", len(res.Existing)),
			attribute.Int("gaps", len(res.Gaps)),
			attribute.Int("violations", len(res.Violations)),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.Functions = summarize(classified, graph)
	res.Stats = stats(res)
	res.Metadata.AnalysisID = a.analysisID(res.Files)
	sort.SliceStable(res.Failures, func(i, j int) bool { return res.Failures[i].Path < res.Failures[j].Path })
	res.emptySlices()

	if a.cache != nil {
		if err := a.cache.Flush(); err != nil {
			a.logger.Warn("could not save walk cache", "error", err)
		}
	}
	return res, nil
}

// stage runs fn inside a child span and records its duration.
func (a *Analyzer) stage(ctx context.Context, name string, fn func(context.Context, trace.Span) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := a.tracer.Start(ctx, "analyzer."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx, span)
	a.metrics.stageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// parseAll reads, parses and walks every file concurrently. Results keep
// the scan order; a failing file carries its error instead of aborting.
func (a *Analyzer) parseAll(ctx context.Context, infos []scanner.FileInfo) ([]parsed, error) {
	out := make([]parsed, len(infos))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	workers := a.cfg.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	g.SetLimit(workers)
	for i, fi := range infos {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = a.parseOne(fi)
			if a.progress != nil {
				a.progress(int(done.Add(1)), len(infos))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

func (a *Analyzer) parseOne(fi scanner.FileInfo) parsed {
	content, err := os.ReadFile(fi.FullPath)
	if err != nil {
		return parsed{err: types.NewIoError("read", fi.Path, err)}
	}
	file, err := ast.Parse(fi.Path, content)
	if err != nil {
		return parsed{err: err}
	}

	if a.cache != nil {
		if fa, ok := a.cache.Get(fi.Path, file.Hash); ok {
			a.metrics.cacheLookups.WithLabelValues("hit").Inc()
			return parsed{file: file, analysis: fa}
		}
		a.metrics.cacheLookups.WithLabelValues("miss").Inc()
	}
	fa := ast.Walk(file, ast.DefaultOptions())
	if a.cache != nil {
		a.cache.Put(fa)
	}
	return parsed{file: file, analysis: fa}
}

// classify runs the pattern matcher over every function. Functions that
// handle an endpoint, or look like handlers to a framework detector, are
// matched as handlers.
func (a *Analyzer) classify(res *Result, project *deps.ProjectContext) ([]detector.Classified, error) {
	var opts []patterns.Option
	if len(project.All()) > 0 {
		opts = append(opts, patterns.WithNameClassification(project))
	}
	matcher, err := patterns.NewMatcher(patterns.DefaultPatternSet(), opts...)
	if err != nil {
		return nil, err
	}

	handlers := make(map[string]bool, len(res.Endpoints))
	for _, ep := range res.Endpoints {
		handlers[ep.Location.File+"\x00"+ep.Handler] = true
	}

	var out []detector.Classified
	for _, fa := range res.Files {
		for _, fn := range fa.Functions {
			var m *patterns.MatchResult
			if handlers[fn.Location.File+"\x00"+fn.Name] || a.registry.IsHandler(fn) {
				m = matcher.AnalyzeHandler(fn)
			} else {
				m = matcher.AnalyzeFunction(fn)
			}
			out = append(out, detector.Classified{Function: fn, Match: m})
		}
	}
	return out, nil
}

func summarize(classified []detector.Classified, graph *callgraph.Graph) []FunctionSummary {
	out := make([]FunctionSummary, 0, len(classified))
	for _, c := range classified {
		fn := c.Function
		s := FunctionSummary{
			ID:         fn.ID,
			Name:       fn.Name,
			FullPath:   fn.FullPath,
			Kind:       callgraph.NodeInternal,
			Location:   fn.Location,
			IsAsync:    fn.IsAsync,
			Category:   c.Match.Category,
			Confidence: c.Match.Confidence,
			Cyclomatic: fn.Complexity.Cyclomatic,
		}
		if node, ok := graph.Node(fn.FullPath); ok {
			s.Kind = node.Kind
			s.Callers = len(graph.Callers(fn.FullPath))
			s.Callees = len(graph.Callees(fn.FullPath))
		}
		out = append(out, s)
	}
	return out
}

func stats(res *Result) Stats {
	s := Stats{
		TotalFiles:            len(res.Files),
		EndpointsCount:        len(res.Endpoints),
		InstrumentationPoints: len(res.Points),
		ExistingCount:         len(res.Existing),
		GapsCount:             len(res.Gaps),
		RuleViolationsCount:   len(res.Violations),
		CoveragePercent:       detector.Coverage(res.Points, res.Existing),
	}
	for _, fa := range res.Files {
		s.TotalFunctions += len(fa.Functions)
		s.TotalLines += fa.TotalLines
	}
	return s
}

// analysisID derives a stable id from the analyzed content and the
// configuration, so identical inputs get identical ids.
func (a *Analyzer) analysisID(files []*types.FileAnalysis) string {
	keys := make([]string, 0, len(files))
	for _, fa := range files {
		keys = append(keys, fa.Path+":"+fa.Hash)
	}
	sort.Strings(keys)

	cfg, _ := json.Marshal(a.cfg)
	data := strings.Join(keys, "\n") + "\n" + string(cfg)
	return uuid.NewSHA1(analysisNamespace, []byte(data)).String()
}
