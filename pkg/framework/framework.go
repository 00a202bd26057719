// Package framework finds request handlers in Rust web and RPC services.
// Each supported framework provides a Detector; detectors register
// themselves into a Registry at init time and callers select them by name
// or let the registry pick one from the manifest and source.
package framework

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/nwiizo/instrument-rs-sub000/pkg/ast"
	"github.com/nwiizo/instrument-rs-sub000/pkg/deps"
	"github.com/nwiizo/instrument-rs-sub000/pkg/types"
)

// Framework names accepted by Registry.Endpoints.
const (
	Auto            = "auto"
	Unknown         = "unknown"
	Axum            = "axum"
	Actix           = "actix-web"
	Rocket          = "rocket"
	Tonic           = "tonic"
	RouteAttributes = "route-attributes"
)

// MethodGRPC is the method recorded for RPC service endpoints.
const MethodGRPC = "gRPC"

// Endpoint is one HTTP route or RPC method and the function handling it.
type Endpoint struct {
	Method    string         `json:"method"`
	Path      string         `json:"path"`
	Handler   string         `json:"handler"`
	Location  types.Location `json:"location"`
	Framework string         `json:"framework"`
}

// Detector recognises one framework.
type Detector interface {
	// Name is the framework tag, e.g. "axum".
	Name() string
	// DetectFromManifest reports whether the project depends on the framework.
	DetectFromManifest(project *deps.ProjectContext) bool
	// DetectFromSource reports whether source text uses the framework.
	DetectFromSource(text string) bool
	// ExtractEndpoints returns the endpoints declared in file.
	ExtractEndpoints(file *ast.SourceFile) []Endpoint
}

// HandlerDetector is implemented by detectors that can tell a handler
// function from its signature alone.
type HandlerDetector interface {
	IsHandler(fn types.FunctionInfo) bool
}

// Registry holds detectors in registration order.
type Registry struct {
	mu        sync.RWMutex
	detectors []Detector
	byName    map[string]Detector
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Detector)}
}

var defaultRegistry = NewRegistry()

// Default returns the registry built-in detectors register into.
func Default() *Registry {
	return defaultRegistry
}

// Register adds d to the default registry.
func Register(d Detector) {
	defaultRegistry.Register(d)
}

// Register adds d, replacing any detector with the same name.
func (r *Registry) Register(d Detector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[d.Name()]; ok {
		for i, existing := range r.detectors {
			if existing.Name() == d.Name() {
				r.detectors[i] = d
			}
		}
	} else {
		r.detectors = append(r.detectors, d)
	}
	r.byName[d.Name()] = d
}

// Get returns the detector registered under name.
func (r *Registry) Get(name string) (Detector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Names lists registered detectors in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.detectors))
	for i, d := range r.detectors {
		names[i] = d.Name()
	}
	return names
}

func (r *Registry) list() []Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Detector(nil), r.detectors...)
}

// Detect picks the project's framework. The manifest is consulted first,
// then the source of each file. It returns Unknown when nothing matches.
func (r *Registry) Detect(project *deps.ProjectContext, files []*ast.SourceFile) string {
	detectors := r.list()
	for _, d := range detectors {
		if d.DetectFromManifest(project) {
			return d.Name()
		}
	}
	for _, f := range files {
		text := f.Text()
		for _, d := range detectors {
			if d.DetectFromSource(text) {
				return d.Name()
			}
		}
	}
	return Unknown
}

// Endpoints extracts endpoints from files using the named framework's
// detector plus the framework-neutral route attributes. Auto, Unknown or
// an empty name runs every detector. Duplicate endpoints found by more
// than one detector are reported once.
func (r *Registry) Endpoints(name string, files []*ast.SourceFile) ([]Endpoint, error) {
	var detectors []Detector
	switch name {
	case "", Auto, Unknown:
		detectors = r.list()
	default:
		d, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown framework %q", types.ErrConfig, name)
		}
		detectors = []Detector{d}
		if ra, ok := r.Get(RouteAttributes); ok && name != RouteAttributes {
			detectors = append(detectors, ra)
		}
	}

	type key struct {
		method, path, handler, file string
		line                        int
	}
	seen := make(map[key]bool)
	var out []Endpoint
	for _, f := range files {
		var batch []Endpoint
		for _, d := range detectors {
			for _, ep := range d.ExtractEndpoints(f) {
				k := key{ep.Method, ep.Path, ep.Handler, ep.Location.File, ep.Location.StartLine}
				if seen[k] {
					continue
				}
				seen[k] = true
				batch = append(batch, ep)
			}
		}
		sort.SliceStable(batch, func(i, j int) bool {
			a, b := batch[i].Location, batch[j].Location
			if a.StartLine != b.StartLine {
				return a.StartLine < b.StartLine
			}
			return a.StartColumn < b.StartColumn
		})
		out = append(out, batch...)
	}
	return out, nil
}

// IsHandler reports whether any registered detector recognises fn as a
// request handler from its signature.
func (r *Registry) IsHandler(fn types.FunctionInfo) bool {
	for _, d := range r.list() {
		if hd, ok := d.(HandlerDetector); ok && hd.IsHandler(fn) {
			return true
		}
	}
	return false
}

var httpMethods = map[string]bool{
	"get": true, "post": true, "put": true, "delete": true,
	"patch": true, "head": true, "options": true, "trace": true,
}

var quoted = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)

// firstString returns the contents of the first string literal in text.
func firstString(text string) (string, bool) {
	m := quoted.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func lastSegment(path string) string {
	if idx := strings.LastIndex(path, "::"); idx >= 0 {
		return path[idx+2:]
	}
	return path
}

func init() {
	Register(axumDetector{})
	Register(newAttributeDetector(Actix, "actix-web", []string{"actix_web"}, "actix_web::"))
	Register(newAttributeDetector(Rocket, "rocket", []string{"#[rocket::", "rocket::"}, "rocket::"))
	Register(tonicDetector{})
	Register(routeAttributeDetector{})
}
