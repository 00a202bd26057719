package framework

import (
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/nwiizo/instrument-rs-sub000/pkg/ast"
	"github.com/nwiizo/instrument-rs-sub000/pkg/deps"
)

// attributeDetector finds handlers declared with method attributes such
// as `#[get("/users")]`, optionally written with a crate prefix.
type attributeDetector struct {
	name    string
	crate   string
	markers []string
	prefix  string
}

func newAttributeDetector(name, crate string, markers []string, prefix string) attributeDetector {
	return attributeDetector{name: name, crate: crate, markers: markers, prefix: prefix}
}

func (d attributeDetector) Name() string { return d.name }

func (d attributeDetector) DetectFromManifest(project *deps.ProjectContext) bool {
	return project.Has(deps.KindFramework, d.crate)
}

func (d attributeDetector) DetectFromSource(text string) bool {
	for _, m := range d.markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

var routeMethodArg = regexp.MustCompile(`method\s*=\s*"([A-Za-z]+)"`)

func (d attributeDetector) method(attr string) (string, bool) {
	path := strings.TrimPrefix(ast.AttributePath(attr), d.prefix)
	if httpMethods[path] {
		return strings.ToUpper(path), true
	}
	// actix: #[route("/", method = "GET")]
	if path == "route" {
		if m := routeMethodArg.FindStringSubmatch(attr); m != nil {
			return strings.ToUpper(m[1]), true
		}
	}
	return "", false
}

func (d attributeDetector) ExtractEndpoints(file *ast.SourceFile) []Endpoint {
	return attributeEndpoints(file, d.name, d.method)
}

// routeAttributeDetector finds `#[route_get("/users")]` style attributes,
// which carry the method in the attribute name.
type routeAttributeDetector struct{}

func (routeAttributeDetector) Name() string { return RouteAttributes }

func (routeAttributeDetector) DetectFromManifest(*deps.ProjectContext) bool { return false }

func (routeAttributeDetector) DetectFromSource(text string) bool {
	return strings.Contains(text, "#[route_")
}

func (routeAttributeDetector) ExtractEndpoints(file *ast.SourceFile) []Endpoint {
	return attributeEndpoints(file, RouteAttributes, func(attr string) (string, bool) {
		path := lastSegment(ast.AttributePath(attr))
		method, ok := strings.CutPrefix(path, "route_")
		if !ok || !httpMethods[method] {
			return "", false
		}
		return strings.ToUpper(method), true
	})
}

// attributeEndpoints reports each function carrying an attribute that
// methodOf recognises. The route path is the attribute's first string.
func attributeEndpoints(file *ast.SourceFile, framework string, methodOf func(string) (string, bool)) []Endpoint {
	var out []Endpoint
	ast.Inspect(file.Root(), func(n *sitter.Node) bool {
		if n.Type() != "function_item" {
			return true
		}
		name := ast.NodeText(n.ChildByFieldName("name"), file.Content)
		for _, attr := range ast.Attributes(n, file.Content) {
			method, ok := methodOf(attr)
			if !ok {
				continue
			}
			path, ok := firstString(attr)
			if !ok {
				continue
			}
			out = append(out, Endpoint{
				Method:    method,
				Path:      path,
				Handler:   name,
				Location:  ast.LocationOf(n, file.Path),
				Framework: framework,
			})
		}
		return true
	})
	return out
}
