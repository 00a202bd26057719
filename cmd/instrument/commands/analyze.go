package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/nwiizo/instrument-rs-sub000/internal/config"
	"github.com/nwiizo/instrument-rs-sub000/internal/log"
	"github.com/nwiizo/instrument-rs-sub000/internal/watch"
	"github.com/nwiizo/instrument-rs-sub000/pkg/analyzer"
	"github.com/nwiizo/instrument-rs-sub000/pkg/cache"
	"github.com/nwiizo/instrument-rs-sub000/pkg/report"
)

// analyzeOptions are the flags of the analyze command. Zero values defer
// to the configuration file.
type analyzeOptions struct {
	format       string
	output       string
	threshold    float64
	framework    string
	includeTests bool
	maxDepth     int
	watch        bool
	metricsFile  string
	traceFile    string
	noCache      bool
}

func newAnalyzeCmd(g *globals) *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze [path]",
		Short: "Analyze a project and print an instrumentation report",
		Long: `Scans the Rust sources under path, builds the call graph, detects HTTP and
gRPC endpoints and existing tracing, and reports which functions should be
instrumented, which are already covered, and which naming rules are broken.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, g, opts, pathArg(args))
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.format, "format", "f", "", "output format: tree, json, mermaid or dot")
	f.StringVarP(&opts.output, "output", "o", "", "write the report to this file instead of stdout")
	f.Float64Var(&opts.threshold, "threshold", 0, "minimum normalized priority for a recommended point (0-1)")
	f.StringVar(&opts.framework, "framework", "", "endpoint framework: auto, axum, actix-web, rocket, tonic")
	f.BoolVar(&opts.includeTests, "include-tests", false, "include test functions")
	f.IntVar(&opts.maxDepth, "max-depth", 0, "maximum call depth followed in diagrams")
	f.BoolVarP(&opts.watch, "watch", "w", false, "re-run the analysis when sources change")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics for the run to this file")
	f.StringVar(&opts.traceFile, "trace-file", "", "write pipeline trace spans to this file")
	f.BoolVar(&opts.noCache, "no-cache", false, "do not read or write the walk cache")
	return cmd
}

// applyFlags copies explicitly set flags over the configuration.
func (o *analyzeOptions) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	changed := func(name string) bool {
		fl := flags.Lookup(name)
		return fl != nil && fl.Changed
	}
	if changed("format") {
		cfg.Output.Format = o.format
	}
	if changed("threshold") {
		cfg.Analysis.Threshold = o.threshold
	}
	if changed("framework") {
		cfg.Analysis.Framework = o.framework
	}
	if changed("include-tests") {
		cfg.Analysis.IncludeTests = o.includeTests
	}
	if changed("max-depth") {
		cfg.Analysis.MaxDepth = o.maxDepth
	}
}

// session is one configured analyzer plus the resources it holds.
type session struct {
	dir      string
	cfg      *config.Config
	analyzer *analyzer.Analyzer
	logger   *log.DefaultLogger
	bar      *progress
	closers  []func(context.Context) error
}

func (s *session) close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.logger.Warn("shutdown failed", "error", err)
		}
	}
}

// newSession loads configuration for path, applies overrides and builds
// the analyzer with its cache, tracing and progress reporting.
func newSession(cmd *cobra.Command, g *globals, opts *analyzeOptions, path string) (*session, error) {
	dir, err := projectDir(path)
	if err != nil {
		return nil, err
	}
	cfg, err := g.loadConfig(dir)
	if err != nil {
		return nil, err
	}
	if opts != nil {
		opts.applyFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	s := &session{dir: dir, cfg: cfg, logger: g.logger}
	if s.logger == nil {
		s.logger = log.Default()
	}
	aopts := []analyzer.Option{analyzer.WithLogger(s.logger)}

	if cacheDir := cfg.CachePath(dir); cacheDir != "" && (opts == nil || !opts.noCache) {
		wc, err := cache.Open(cacheDir, cache.DefaultSize)
		if err != nil {
			s.logger.Warn("walk cache unusable, continuing without it", "dir", cacheDir, "error", err)
		} else {
			aopts = append(aopts, analyzer.WithCache(wc))
		}
	}

	if opts != nil && opts.traceFile != "" {
		tp, shutdown, err := fileTracer(opts.traceFile)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, shutdown)
		aopts = append(aopts, analyzer.WithTracerProvider(tp))
	}

	quietFormat := cfg.Output.Format == string(report.FormatJSON)
	if !g.quiet && !quietFormat && log.IsTerminal(os.Stderr) {
		s.bar = &progress{}
		aopts = append(aopts, analyzer.WithProgress(s.bar.update))
	}

	a, err := analyzer.New(cfg.AnalyzerConfig(), aopts...)
	if err != nil {
		s.close(cmd.Context())
		return nil, err
	}
	s.analyzer = a
	return s, nil
}

func (s *session) analyze(ctx context.Context, path string) (*analyzer.Result, error) {
	res, err := s.analyzer.Analyze(ctx, path)
	s.bar.finish()
	if err != nil {
		return nil, err
	}
	s.logger.Debug("analysis finished",
		"files", res.Stats.TotalFiles,
		"points", res.Stats.InstrumentationPoints,
		"gaps", res.Stats.GapsCount,
		"failures", len(res.Failures))
	return res, nil
}

// fileTracer exports pipeline spans as JSON to path.
func fileTracer(path string) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating trace file: %w", err)
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(f), stdouttrace.WithPrettyPrint())
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	shutdown := func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		return err
	}
	return tp, shutdown, nil
}

// progress draws a bar on stderr once the file count is known.
type progress struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func (p *progress) update(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("Parsing files"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}
	_ = p.bar.Set(done)
}

func (p *progress) finish() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}

// useColor resolves the color setting for a report written to w.
func useColor(setting string, w io.Writer) bool {
	switch setting {
	case "always":
		return true
	case "never":
		return false
	}
	return log.IsTerminal(w) && os.Getenv("NO_COLOR") == ""
}

func runAnalyze(cmd *cobra.Command, g *globals, opts *analyzeOptions, path string) error {
	s, err := newSession(cmd, g, opts, path)
	if err != nil {
		return err
	}
	defer s.close(context.Background())

	format, err := report.ParseFormat(s.cfg.Output.Format)
	if err != nil {
		return err
	}

	run := func(ctx context.Context) error {
		res, err := s.analyze(ctx, path)
		if err != nil {
			return err
		}
		if err := writeReport(cmd, s.cfg, opts.output, res, format); err != nil {
			return err
		}
		if opts.metricsFile != "" {
			if err := s.analyzer.WriteMetrics(opts.metricsFile); err != nil {
				return err
			}
		}
		return nil
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := run(ctx); err != nil {
		return err
	}
	if !opts.watch {
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	w, err := watch.New(s.dir,
		watch.WithExcludes(s.cfg.Analysis.ExcludePatterns),
		watch.WithLogger(s.logger))
	if err != nil {
		return err
	}
	s.logger.Info("watching for changes", "dir", s.dir)
	return w.Run(ctx, func(ctx context.Context, changed []string) {
		s.logger.Info("change detected, re-analyzing", "files", len(changed))
		if err := run(ctx); err != nil {
			s.logger.Error("analysis failed", "error", err)
		}
	})
}

func writeReport(cmd *cobra.Command, cfg *config.Config, output string, res *analyzer.Result, format report.Format) error {
	var w io.Writer = cmd.OutOrStdout()
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	ropts := report.Options{
		Color:    useColor(cfg.Output.Color, w),
		MaxDepth: cfg.Analysis.MaxDepth,
	}
	if err := report.Write(w, res, format, ropts); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
