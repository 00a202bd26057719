package analyzer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/nwiizo/instrument-rs-sub000/pkg/cache"
	"github.com/nwiizo/instrument-rs-sub000/pkg/detector"
	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

const shopManifest = `[package]
name = "shop"
version = "0.1.0"
edition = "2021"

[dependencies]
axum = "0.7"
sqlx = { version = "0.7", features = ["postgres"] }
tokio = { version = "1", features = ["full"] }
tracing = "0.1"
`

const shopMain = `use axum::{routing::get, Router};
use tracing::instrument;

mod db;

#[tokio::main]
async fn main() {
    let app = Router::new()
        .route("/users", get(list_users).post(create_user));
    serve(app).await;
}

async fn list_users() -> Result<String, String> {
    let users = db::fetch_users().await?;
    Ok(users.join(","))
}

#[instrument(name = "create_user", err)]
async fn create_user() -> Result<String, String> {
    db::insert_user("bob").await?;
    Ok("created".to_string())
}
`

const shopDB = `pub async fn fetch_users() -> Result<Vec<String>, String> {
    let rows = sqlx::query("SELECT name FROM users").fetch_all(&pool()).await;
    rows.map_err(|e| e.to_string())
}

pub async fn insert_user(name: &str) -> Result<(), String> {
    sqlx::query("INSERT INTO users (name) VALUES ($1)").bind(name).execute(&pool()).await;
    Ok(())
}
`

func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"Cargo.toml":    shopManifest,
		"src/main.rs":   shopMain,
		"src/db.rs":     shopDB,
		"src/broken.rs": "fn broken( {\n",
		"target/gen.rs": "fn generated() {}\n",
	}
	for path, content := range files {
		full := filepath.Join(root, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

func newAnalyzer(t *testing.T, cfg Config, opts ...Option) *Analyzer {
	t.Helper()
	a, err := New(cfg, opts...)
	require.NoError(t, err)
	return a
}

func findPoint(points []detector.Point, function string) (detector.Point, bool) {
	for _, p := range points {
		if p.Function == function {
			return p, true
		}
	}
	return detector.Point{}, false
}

func TestAnalyze_Pipeline(t *testing.T) {
	root := writeProject(t)
	res, err := newAnalyzer(t, DefaultConfig()).Analyze(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, Version, res.Metadata.ToolVersion)
	assert.Equal(t, "axum", res.Metadata.Framework)
	assert.NotEmpty(t, res.Metadata.Project)
	_, err = uuid.Parse(res.Metadata.AnalysisID)
	assert.NoError(t, err)

	assert.Equal(t, 2, res.Stats.TotalFiles, "broken.rs fails, target/ is excluded")
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "src/broken.rs", res.Failures[0].Path)
	assert.Equal(t, "parse", res.Failures[0].Kind)

	require.Len(t, res.Endpoints, 2)
	assert.Equal(t, "GET", res.Endpoints[0].Method)
	assert.Equal(t, "list_users", res.Endpoints[0].Handler)
	assert.Equal(t, "POST", res.Endpoints[1].Method)
	assert.Equal(t, "create_user", res.Endpoints[1].Handler)
	assert.Equal(t, 2, res.Stats.EndpointsCount)

	list, ok := findPoint(res.Points, "list_users")
	require.True(t, ok)
	assert.Equal(t, detector.KindEndpoint, list.Kind)
	assert.Equal(t, detector.PriorityCritical, list.Priority)
	assert.Equal(t, "src/main.rs", list.Location.File)
	assert.Equal(t, 13, list.Location.StartLine, "point sits on the handler definition")
	assert.Equal(t, "get_users", list.SpanName)

	var attr *detector.Existing
	for i := range res.Existing {
		if res.Existing[i].Kind == detector.ExistingAttributeMacro {
			attr = &res.Existing[i]
		}
	}
	require.NotNil(t, attr)
	assert.Equal(t, "create_user", attr.Function)
	assert.Equal(t, "create_user", attr.SpanName)

	var gapFunctions []string
	for _, g := range res.Gaps {
		gapFunctions = append(gapFunctions, g.Function)
	}
	assert.Contains(t, gapFunctions, "list_users")
	assert.NotContains(t, gapFunctions, "create_user")
	assert.Equal(t, detector.SeverityCritical, res.Gaps[0].Severity)

	assert.Equal(t, len(res.Gaps), res.Stats.GapsCount)
	assert.Equal(t, len(res.Points), res.Stats.InstrumentationPoints)
	assert.InDelta(t, detector.Coverage(res.Points, res.Existing), res.Coverage(), 1e-9)
	assert.Less(t, res.Coverage(), 100.0)

	assert.NotNil(t, res.Graph)
	assert.True(t, res.Graph.HasNode("list_users"))
	assert.True(t, res.Graph.HasNode("db::fetch_users"))
	_, ok = res.Graph.Edge("list_users", "db::fetch_users")
	assert.True(t, ok, "cross-module call is resolved")
	assert.Equal(t, res.Graph.Stats(), res.GraphStats)

	total := 0
	for _, fa := range res.Files {
		total += len(fa.Functions)
	}
	assert.Equal(t, total, res.Stats.TotalFunctions)
	assert.Len(t, res.Functions, total)
}

func TestAnalyze_Deterministic(t *testing.T) {
	root := writeProject(t)

	cfg := DefaultConfig()
	cfg.Workers = 4
	var outputs [2]bytes.Buffer
	for i := range outputs {
		res, err := newAnalyzer(t, cfg).Analyze(context.Background(), root)
		require.NoError(t, err)
		require.NoError(t, res.WriteJSON(&outputs[i]))
	}
	assert.Equal(t, outputs[0].String(), outputs[1].String())
	assert.NotContains(t, outputs[0].String(), "body_text")
}

func TestAnalyze_AnalysisIDTracksInput(t *testing.T) {
	root := writeProject(t)
	run := func(cfg Config) string {
		res, err := newAnalyzer(t, cfg).Analyze(context.Background(), root)
		require.NoError(t, err)
		return res.Metadata.AnalysisID
	}

	first := run(DefaultConfig())
	assert.Equal(t, first, run(DefaultConfig()))

	cfg := DefaultConfig()
	cfg.Threshold = 0.75
	assert.NotEqual(t, first, run(cfg), "config is part of the id")

	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "db.rs"), []byte(shopDB+"\npub fn extra() {}\n"), 0o644))
	assert.NotEqual(t, first, run(DefaultConfig()), "content is part of the id")
}

func TestAnalyze_SingleFile(t *testing.T) {
	root := writeProject(t)
	res, err := newAnalyzer(t, DefaultConfig()).Analyze(context.Background(), filepath.Join(root, "src", "db.rs"))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stats.TotalFiles)
	assert.Equal(t, "db.rs", res.Files[0].Path)
	assert.Equal(t, filepath.ToSlash(filepath.Join(root, "src")), res.Metadata.Root)
	assert.Empty(t, res.Failures)
}

func TestAnalyze_Cache(t *testing.T) {
	root := writeProject(t)
	c, err := cache.New(0)
	require.NoError(t, err)
	a := newAnalyzer(t, DefaultConfig(), WithCache(c))

	first, err := a.Analyze(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, cache.Stats{Length: 2, Hits: 0, Misses: 2}, c.Stats())

	second, err := a.Analyze(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Stats().Hits)

	var a1, a2 bytes.Buffer
	require.NoError(t, first.WriteJSON(&a1))
	require.NoError(t, second.WriteJSON(&a2))
	assert.Equal(t, a1.String(), a2.String(), "cached walks give the same result")
}

func TestAnalyze_Spans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	root := writeProject(t)
	_, err := newAnalyzer(t, DefaultConfig(), WithTracerProvider(tp)).Analyze(context.Background(), root)
	require.NoError(t, err)

	names := make(map[string]tracetest.SpanStub)
	for _, s := range exporter.GetSpans() {
		names[s.Name] = s
	}
	for _, want := range []string{
		"analyzer.Analyze", "analyzer.scan", "analyzer.parse", "analyzer.callgraph",
		"analyzer.endpoints", "analyzer.classify", "analyzer.detect",
	} {
		assert.Contains(t, names, want)
	}

	rootSpan := names["analyzer.Analyze"]
	attrs := make(map[string]string)
	for _, a := range rootSpan.Attributes {
		attrs[string(a.Key)] = a.Value.Emit()
	}
	assert.Equal(t, "2", attrs["files"])

	endpoints := names["analyzer.endpoints"]
	assert.Equal(t, rootSpan.SpanContext.SpanID(), endpoints.Parent.SpanID())
}

func TestAnalyze_Metrics(t *testing.T) {
	root := writeProject(t)
	a := newAnalyzer(t, DefaultConfig())
	_, err := a.Analyze(context.Background(), root)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "instrument.prom")
	require.NoError(t, a.WriteMetrics(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	text := string(data)
	assert.Contains(t, text, "instrument_analysis_runs_total 1")
	assert.Contains(t, text, "instrument_analysis_files 2")
	assert.Contains(t, text, "instrument_analysis_endpoints 2")
	assert.Contains(t, text, `instrument_analysis_file_failures_total{kind="parse"} 1`)
	assert.Contains(t, text, `instrument_analysis_stage_duration_seconds_count{stage="parse"} 1`)
}

func TestAnalyze_Progress(t *testing.T) {
	root := writeProject(t)
	var mu sync.Mutex
	var calls, maxDone, lastTotal int
	progress := func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		maxDone = max(maxDone, done)
		lastTotal = total
	}
	_, err := newAnalyzer(t, DefaultConfig(), WithProgress(progress)).Analyze(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 3, calls, "one call per scanned file, failures included")
	assert.Equal(t, 3, maxDone)
	assert.Equal(t, 3, lastTotal)
}

func TestAnalyze_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newAnalyzer(t, DefaultConfig()).Analyze(ctx, writeProject(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyze_MissingRoot(t *testing.T) {
	_, err := newAnalyzer(t, DefaultConfig()).Analyze(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, types.ErrIo)
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"threshold above one", func(c *Config) { c.Threshold = 1.5 }},
		{"negative threshold", func(c *Config) { c.Threshold = -0.1 }},
		{"bad exclude glob", func(c *Config) { c.ExcludePatterns = []string{"[target"} }},
		{"bad forbidden pattern", func(c *Config) { c.NamingRules.ForbiddenPatterns = []string{"(pass"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			_, err := New(cfg)
			assert.True(t, errors.Is(err, types.ErrConfig), "got %v", err)
		})
	}
}

func TestAnalyze_UnknownFramework(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Framework = "rails"
	_, err := newAnalyzer(t, cfg).Analyze(context.Background(), writeProject(t))
	assert.ErrorIs(t, err, types.ErrConfig)
}
