// Package deps inspects a crate's Cargo.toml and reports which kinds of
// infrastructure library it depends on: databases, HTTP clients, caches,
// web frameworks and observability.
package deps

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// ManifestName is the file Analyze reads in each crate directory.
const ManifestName = "Cargo.toml"

// Kind groups recognised crates.
type Kind string

const (
	KindDatabase      Kind = "database"
	KindHTTPClient    Kind = "http_client"
	KindCache         Kind = "cache"
	KindFramework     Kind = "framework"
	KindObservability Kind = "observability"
)

// crateKinds maps a dependency name to its kind and the canonical crate it
// stands for. Companion crates collapse onto their parent.
var crateKinds = map[string]struct {
	kind  Kind
	crate string
}{
	"sqlx":           {KindDatabase, "sqlx"},
	"diesel":         {KindDatabase, "diesel"},
	"sea-orm":        {KindDatabase, "sea-orm"},
	"tokio-postgres": {KindDatabase, "tokio-postgres"},
	"rusqlite":       {KindDatabase, "rusqlite"},
	"mongodb":        {KindDatabase, "mongodb"},

	"reqwest": {KindHTTPClient, "reqwest"},
	"hyper":   {KindHTTPClient, "hyper"},
	"ureq":    {KindHTTPClient, "ureq"},
	"surf":    {KindHTTPClient, "surf"},

	"redis":    {KindCache, "redis"},
	"memcache": {KindCache, "memcache"},
	"moka":     {KindCache, "moka"},
	"cached":   {KindCache, "cached"},

	"axum":      {KindFramework, "axum"},
	"actix-web": {KindFramework, "actix-web"},
	"rocket":    {KindFramework, "rocket"},
	"tonic":     {KindFramework, "tonic"},
	"warp":      {KindFramework, "warp"},
	"poem":      {KindFramework, "poem"},

	"tracing":                     {KindObservability, "tracing"},
	"tracing-subscriber":          {KindObservability, "tracing"},
	"tracing-opentelemetry":       {KindObservability, "tracing"},
	"opentelemetry":               {KindObservability, "opentelemetry"},
	"opentelemetry-jaeger":        {KindObservability, "opentelemetry"},
	"opentelemetry-otlp":          {KindObservability, "opentelemetry"},
	"log":                         {KindObservability, "log"},
	"env_logger":                  {KindObservability, "log"},
	"pretty_env_logger":           {KindObservability, "log"},
	"metrics":                     {KindObservability, "metrics"},
	"metrics-exporter-prometheus": {KindObservability, "metrics"},
	"prometheus":                  {KindObservability, "prometheus"},
	"prometheus-client":           {KindObservability, "prometheus"},
}

// ProjectContext is the set of recognised dependencies of a crate or
// workspace. The zero value is an empty context.
type ProjectContext struct {
	crates map[Kind]map[string]bool
	all    map[string]bool
}

// NewProjectContext returns a context holding the given dependency names.
func NewProjectContext(names ...string) *ProjectContext {
	p := &ProjectContext{}
	for _, n := range names {
		p.Add(n)
	}
	return p
}

// Add records a dependency by crate name.
func (p *ProjectContext) Add(name string) {
	if p.all == nil {
		p.all = make(map[string]bool)
		p.crates = make(map[Kind]map[string]bool)
	}
	p.all[name] = true
	info, ok := crateKinds[name]
	if !ok {
		return
	}
	if p.crates[info.kind] == nil {
		p.crates[info.kind] = make(map[string]bool)
	}
	p.crates[info.kind][info.crate] = true
}

func (p *ProjectContext) has(k Kind) bool {
	return p != nil && len(p.crates[k]) > 0
}

func (p *ProjectContext) HasDatabase() bool      { return p.has(KindDatabase) }
func (p *ProjectContext) HasHTTPClient() bool    { return p.has(KindHTTPClient) }
func (p *ProjectContext) HasCache() bool         { return p.has(KindCache) }
func (p *ProjectContext) HasFramework() bool     { return p.has(KindFramework) }
func (p *ProjectContext) HasObservability() bool { return p.has(KindObservability) }

// HasTracing reports whether the tracing crate family is present.
func (p *ProjectContext) HasTracing() bool {
	return p.Has(KindObservability, "tracing")
}

// Has reports whether crate of kind k is present.
func (p *ProjectContext) Has(k Kind, crate string) bool {
	return p != nil && p.crates[k][crate]
}

// Crates returns the canonical crate names of kind k, sorted.
func (p *ProjectContext) Crates(k Kind) []string {
	if p == nil {
		return nil
	}
	return sortedKeys(p.crates[k])
}

// All returns every dependency name seen, sorted.
func (p *ProjectContext) All() []string {
	if p == nil {
		return nil
	}
	return sortedKeys(p.all)
}

// Summary describes the recognised dependencies, one line per kind.
func (p *ProjectContext) Summary() []string {
	labels := []struct {
		kind  Kind
		label string
	}{
		{KindFramework, "Frameworks"},
		{KindDatabase, "Databases"},
		{KindHTTPClient, "HTTP Clients"},
		{KindCache, "Caches"},
		{KindObservability, "Observability"},
	}
	var out []string
	for _, l := range labels {
		if crates := p.Crates(l.kind); len(crates) > 0 {
			out = append(out, fmt.Sprintf("%s: %s", l.label, strings.Join(crates, ", ")))
		}
	}
	if len(out) == 0 {
		return []string{"No recognized infrastructure dependencies"}
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type manifest struct {
	Dependencies    map[string]any `toml:"dependencies"`
	DevDependencies map[string]any `toml:"dev-dependencies"`
	Workspace       struct {
		Members      []string       `toml:"members"`
		Dependencies map[string]any `toml:"dependencies"`
	} `toml:"workspace"`
}

// Analyze reads the manifest in root, then the manifests of any workspace
// members. A missing root manifest yields an empty context.
func Analyze(root string) (*ProjectContext, error) {
	p := NewProjectContext()
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		root = filepath.Dir(root)
	}

	m, err := readManifest(filepath.Join(root, ManifestName))
	if err != nil {
		return nil, err
	}
	if m == nil {
		return p, nil
	}
	p.addAll(m)

	for _, member := range m.Workspace.Members {
		dirs, err := filepath.Glob(filepath.Join(root, member))
		if err != nil {
			return nil, fmt.Errorf("%w: workspace member %q: %v", types.ErrConfig, member, err)
		}
		for _, dir := range dirs {
			mm, err := readManifest(filepath.Join(dir, ManifestName))
			if err != nil {
				return nil, err
			}
			if mm != nil {
				p.addAll(mm)
			}
		}
	}
	return p, nil
}

func (p *ProjectContext) addAll(m *manifest) {
	for _, section := range []map[string]any{m.Dependencies, m.DevDependencies, m.Workspace.Dependencies} {
		for key, spec := range section {
			p.Add(crateName(key, spec))
		}
	}
}

// crateName honours `alias = { package = "real-name" }` renames.
func crateName(key string, spec any) string {
	if table, ok := spec.(map[string]any); ok {
		if pkg, ok := table["package"].(string); ok && pkg != "" {
			return pkg
		}
	}
	return key
}

// readManifest parses path. A missing file returns nil without error.
func readManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewIoError("read", path, err)
	}
	var m manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, &types.ParseError{Path: path, Message: err.Error()}
	}
	return &m, nil
}
